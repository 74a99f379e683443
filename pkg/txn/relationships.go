package txn

import (
	"sync"

	"github.com/cuemby/gaiadb/pkg/types"
)

// RelationshipSchema holds the relationship metadata a client has been
// compiled or configured against, keyed by the child side's TypeID. A real
// Gaia deployment generates this from the catalog at schema-build time and
// links it into client code; this implementation accepts it via explicit
// registration since no catalog/DDL layer exists yet (§3 SUPPLEMENT).
type RelationshipSchema struct {
	mu   sync.RWMutex
	byID map[types.TypeID]types.Relationship
}

// NewRelationshipSchema returns an empty schema. A nil *RelationshipSchema
// is also valid and enforces nothing, so transactions for types with no
// declared relationship behave exactly as before this feature existed.
func NewRelationshipSchema() *RelationshipSchema {
	return &RelationshipSchema{byID: make(map[types.TypeID]types.Relationship)}
}

// Register declares childType's relationship to its parent.
func (s *RelationshipSchema) Register(childType types.TypeID, rel types.Relationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[childType] = rel
}

func (s *RelationshipSchema) lookup(childType types.TypeID) (types.Relationship, bool) {
	if s == nil {
		return types.Relationship{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, ok := s.byID[childType]
	return rel, ok
}
