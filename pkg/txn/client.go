package txn

import (
	"github.com/cuemby/gaiadb/pkg/alloc"
	"github.com/cuemby/gaiadb/pkg/arena"
	"github.com/cuemby/gaiadb/pkg/txnlog"
	"github.com/cuemby/gaiadb/pkg/types"
)

// Txn is the client-side handle for one transaction: a private locator
// view, a local log, and a stack allocator that carves its own regions from
// the shared data arena (§4.3 "Mutation (client)").
type Txn struct {
	beginTS   types.Timestamp
	locators  *arena.LocatorTable
	dataArena *arena.DataArena
	idIndex   *arena.IDIndex
	counters  *arena.Counters
	log       *txnlog.Log
	stack     *alloc.StackAllocator

	relationships *RelationshipSchema
}

// NewTxn wires a client-side transaction handle around its snapshot's
// private locator view. Callers obtain beginTS and the committed logs from
// Coordinator.Begin (or the session protocol's BEGIN_TXN reply and its
// log-fd stream in a real deployment), construct a Txn, and replay the logs
// into its view with ReplayLog before mutating.
func NewTxn(beginTS types.Timestamp, locators *arena.LocatorTable, dataArena *arena.DataArena, idIndex *arena.IDIndex, counters *arena.Counters) (*Txn, error) {
	log, err := txnlog.New()
	if err != nil {
		return nil, err
	}
	stack, err := alloc.NewStackAllocator(dataArena)
	if err != nil {
		return nil, err
	}
	return &Txn{
		beginTS:   beginTS,
		locators:  locators,
		dataArena: dataArena,
		idIndex:   idIndex,
		counters:  counters,
		log:       log,
		stack:     stack,
	}, nil
}

// ReplayLog applies a committed predecessor's log into this transaction's
// private locator view (§4.3 step 5 of Begin).
func (t *Txn) ReplayLog(records []txnlog.Record) {
	for _, r := range records {
		_ = t.locators.Set(r.Locator, r.NewOffset)
	}
}

// BeginTS returns the transaction's snapshot timestamp.
func (t *Txn) BeginTS() types.Timestamp { return t.beginTS }

// SetRelationships installs the relationship schema this transaction
// enforces required/cardinality rules against. A nil schema (the default)
// enforces nothing.
func (t *Txn) SetRelationships(schema *RelationshipSchema) {
	t.relationships = schema
}

// Create allocates a new object, assigns it a fresh GaiaID and Locator,
// inserts it into the shared id index immediately (safe: id-index is
// additive-only), and records a CREATE in the local log.
func (t *Txn) Create(typeID types.TypeID, payload []byte) (types.GaiaID, types.Locator, error) {
	if len(payload) > types.MaxPayloadSize {
		return 0, 0, types.NewResourceError("payload_size", nil)
	}
	id := t.counters.NextID()
	locator := t.counters.NextLocator()

	hdr := types.ObjectHeader{ID: id, Type: typeID, PayloadSize: uint16(len(payload))}
	size := uint32(types.HeaderSize + len(payload))
	offset, err := t.stack.Allocate(uint32(locator), 0, size)
	if err != nil {
		return 0, 0, err
	}
	if _, err := t.dataArena.WriteObject(offset, hdr, payload); err != nil {
		return 0, 0, err
	}
	if err := t.idIndex.Insert(id, locator); err != nil {
		return 0, 0, err
	}
	if err := t.locators.Set(locator, offset); err != nil {
		return 0, 0, err
	}
	if err := t.log.Append(txnlog.Record{Locator: locator, NewOffset: offset, Op: types.OpCreate}); err != nil {
		return 0, 0, err
	}
	return id, locator, nil
}

// Update allocates a new version of locator's object and redirects the
// locator to it, per §3 ("every update allocates a new object and
// redirects the locator").
func (t *Txn) Update(locator types.Locator, typeID types.TypeID, id types.GaiaID, payload []byte) error {
	if len(payload) > types.MaxPayloadSize {
		return types.NewResourceError("payload_size", nil)
	}
	oldOffset := t.locators.Get(locator)
	hdr := types.ObjectHeader{ID: id, Type: typeID, PayloadSize: uint16(len(payload))}
	size := uint32(types.HeaderSize + len(payload))
	offset, err := t.stack.Allocate(uint32(locator), oldOffset, size)
	if err != nil {
		return err
	}
	if _, err := t.dataArena.WriteObject(offset, hdr, payload); err != nil {
		return err
	}
	if err := t.idIndex.Update(id, locator); err != nil {
		return err
	}
	if err := t.locators.Set(locator, offset); err != nil {
		return err
	}
	return t.log.Append(txnlog.Record{Locator: locator, OldOffset: oldOffset, NewOffset: offset, Op: types.OpUpdate})
}

// Delete zeroes locator's private entry and the shared id-index entry for
// id, and records a REMOVE. If locator's type declares a required
// relationship and its ParentOffset slot still names a live parent, the
// delete is rejected referentially (§3 SUPPLEMENT) rather than silently
// orphaning the relationship's required side.
func (t *Txn) Delete(locator types.Locator, id types.GaiaID) error {
	oldOffset := t.locators.Get(locator)
	if oldOffset != 0 {
		if err := t.checkRequiredParentLive(locator, oldOffset, id); err != nil {
			return err
		}
	}
	if err := t.idIndex.Delete(id); err != nil {
		return err
	}
	if err := t.locators.Set(locator, 0); err != nil {
		return err
	}
	// Tombstone oldOffset's allocation record if this transaction's own
	// stack allocator made it (an earlier create/update of locator within
	// this same txn). A no-match here just means the object predates this
	// transaction and lives in shared arena space this allocator never
	// touched — nothing to tombstone, and not an error (§4.7).
	_ = t.stack.Deallocate(uint32(locator), oldOffset)
	return t.log.Append(txnlog.Record{Locator: locator, OldOffset: oldOffset, DeletedID: id, Op: types.OpRemove})
}

// Clone copies an existing object's type and payload into a new object
// with id newID under a freshly allocated locator, and records a CLONE for
// that new locator in the local log. The source object and its locator are
// not modified, so the CLONE record conflicts only with writes to the new
// locator.
func (t *Txn) Clone(srcLocator types.Locator, newID types.GaiaID) (types.Locator, error) {
	_, payload, err := t.dataArena.ReadObject(t.locators.Get(srcLocator))
	if err != nil {
		return 0, err
	}
	srcHdr, _, err := t.dataArena.ReadObject(t.locators.Get(srcLocator))
	if err != nil {
		return 0, err
	}
	locator := t.counters.NextLocator()
	size := uint32(types.HeaderSize + len(payload))
	offset, err := t.stack.Allocate(uint32(locator), 0, size)
	if err != nil {
		return 0, err
	}
	hdr := types.ObjectHeader{ID: newID, Type: srcHdr.Type, PayloadSize: uint16(len(payload))}
	if _, err := t.dataArena.WriteObject(offset, hdr, payload); err != nil {
		return 0, err
	}
	if err := t.idIndex.Insert(newID, locator); err != nil {
		return 0, err
	}
	if err := t.locators.Set(locator, offset); err != nil {
		return 0, err
	}
	if err := t.log.Append(txnlog.Record{Locator: locator, NewOffset: offset, Op: types.OpClone}); err != nil {
		return 0, err
	}
	return locator, nil
}

// Read returns locator's current object header, references, and data as
// visible in this transaction's private snapshot.
func (t *Txn) Read(locator types.Locator) (types.ObjectHeader, []types.Locator, []byte, error) {
	offset := t.locators.Get(locator)
	if offset == 0 {
		return types.ObjectHeader{}, nil, nil, types.NewReferentialError("not_found", 0)
	}
	hdr, stored, err := t.dataArena.ReadObject(offset)
	if err != nil {
		return types.ObjectHeader{}, nil, nil, err
	}
	refs, data := splitReferences(hdr.NumReferences, stored)
	return hdr, refs, data, nil
}

// AddReference appends target to locator's reference list, allocating a new
// version of the object (§4.3 "add-reference"). Fails referentially if
// target does not currently name a live object in this snapshot — the same
// check a required relationship's "reject the parent-side reference to a
// locator that is not alive" rule needs, since a parent-offset slot is
// itself just an entry in this reference list (§3 SUPPLEMENT).
func (t *Txn) AddReference(locator, target types.Locator) error {
	hdr, refs, data, err := t.Read(locator)
	if err != nil {
		return err
	}
	if t.locators.Get(target) == 0 {
		return types.NewReferentialError("dangling_reference", hdr.ID)
	}
	if containsLocator(refs, target) {
		return nil
	}
	return t.rewriteReferences(locator, hdr, append(refs, target), data, types.OpAddReference)
}

// RemoveReference removes target from locator's reference list, allocating
// a new version of the object (§4.3 "remove-reference").
func (t *Txn) RemoveReference(locator, target types.Locator) error {
	hdr, refs, data, err := t.Read(locator)
	if err != nil {
		return err
	}
	kept := refs[:0:0]
	for _, r := range refs {
		if r != target {
			kept = append(kept, r)
		}
	}
	return t.rewriteReferences(locator, hdr, kept, data, types.OpRemoveReference)
}

// checkRequiredParentLive enforces the required+cardinality-one rule's
// delete-side half: a child whose relationship is required cannot be
// deleted while its ParentOffset slot still names a live parent.
func (t *Txn) checkRequiredParentLive(locator types.Locator, offset uint64, id types.GaiaID) error {
	if t.relationships == nil {
		return nil
	}
	hdr, stored, err := t.dataArena.ReadObject(offset)
	if err != nil {
		return err
	}
	rel, ok := t.relationships.lookup(hdr.Type)
	if !ok || !rel.Required || rel.Cardinality != types.CardinalityOne {
		return nil
	}
	refs, _ := splitReferences(hdr.NumReferences, stored)
	if int(rel.ParentOffset) >= len(refs) {
		return nil
	}
	parent := refs[rel.ParentOffset]
	if parent != types.InvalidLocator && t.locators.Get(parent) != 0 {
		return types.NewReferentialError("required_parent_reference_live", id)
	}
	return nil
}

func (t *Txn) rewriteReferences(locator types.Locator, hdr types.ObjectHeader, refs []types.Locator, data []byte, op types.Op) error {
	stored := joinReferences(refs, data)
	if len(stored) > types.MaxPayloadSize {
		return types.NewResourceError("payload_size", nil)
	}
	oldOffset := t.locators.Get(locator)
	newHdr := types.ObjectHeader{ID: hdr.ID, Type: hdr.Type, PayloadSize: uint16(len(stored)), NumReferences: uint16(len(refs))}
	size := uint32(types.HeaderSize + len(stored))
	offset, err := t.stack.Allocate(uint32(locator), oldOffset, size)
	if err != nil {
		return err
	}
	if _, err := t.dataArena.WriteObject(offset, newHdr, stored); err != nil {
		return err
	}
	if err := t.idIndex.Update(hdr.ID, locator); err != nil {
		return err
	}
	if err := t.locators.Set(locator, offset); err != nil {
		return err
	}
	return t.log.Append(txnlog.Record{Locator: locator, OldOffset: oldOffset, NewOffset: offset, Op: op})
}

// PrepareCommit seals the local log and returns it for submission to the
// server (§4.3 "Commit (client → server)" step 1).
func (t *Txn) PrepareCommit() (*txnlog.Log, error) {
	if err := t.log.Seal(); err != nil {
		return nil, err
	}
	return t.log, nil
}

// Close releases the transaction's private locator view.
func (t *Txn) Close() error {
	return t.locators.Close()
}
