/*
Package catalog names the boundary between the core store and the
out-of-scope schema layer (flatbuffer-style reflection, relationship
cardinality declarations, generated type wrappers). The core only ever
needs two things from a catalog: a per-type id sequence and a way to
iterate the locators currently tracked for a type, which TypeCursor
captures.
*/
package catalog

import (
	"sync"

	"github.com/cuemby/gaiadb/pkg/types"
)

// TypeCursor lets a schema-layer consumer enumerate and allocate ids within
// a single type's namespace, without the core knowing anything about the
// type's shape.
type TypeCursor interface {
	// TypeID is the cursor's type.
	TypeID() types.TypeID

	// NextID allocates the next id within this type's namespace.
	NextID() types.GaiaID

	// Locators returns every live locator currently recorded for this
	// type, in no particular order.
	Locators() []types.Locator
}

// Registry is a minimal in-memory catalog: a per-type id sequence and a
// type-to-locators index, maintained by the caller (pkg/server wires
// Registry.Track into the trigger dispatch so it stays current without the
// core depending on it).
type Registry struct {
	mu       sync.Mutex
	cursors  map[types.TypeID]*memCursor
}

// NewRegistry creates an empty catalog registry.
func NewRegistry() *Registry {
	return &Registry{cursors: make(map[types.TypeID]*memCursor)}
}

// Cursor returns (creating if absent) the TypeCursor for typeID.
func (r *Registry) Cursor(typeID types.TypeID) TypeCursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[typeID]
	if !ok {
		c = &memCursor{typeID: typeID, locators: make(map[types.Locator]struct{})}
		r.cursors[typeID] = c
	}
	return c
}

// Track records that locator now holds a live object of typeID, or removes
// it if live is false. Call sites are expected to drive this from a
// TriggerFunc (pkg/txn) keyed off the decided transaction's records.
func (r *Registry) Track(typeID types.TypeID, locator types.Locator, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[typeID]
	if !ok {
		c = &memCursor{typeID: typeID, locators: make(map[types.Locator]struct{})}
		r.cursors[typeID] = c
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if live {
		c.locators[locator] = struct{}{}
	} else {
		delete(c.locators, locator)
	}
}

type memCursor struct {
	typeID   types.TypeID
	mu       sync.Mutex
	nextID   uint64
	locators map[types.Locator]struct{}
}

func (c *memCursor) TypeID() types.TypeID { return c.typeID }

func (c *memCursor) NextID() types.GaiaID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return types.GaiaID(c.nextID)
}

func (c *memCursor) Locators() []types.Locator {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Locator, 0, len(c.locators))
	for l := range c.locators {
		out = append(out, l)
	}
	return out
}
