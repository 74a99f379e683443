package txn

import (
	"encoding/binary"

	"github.com/cuemby/gaiadb/pkg/types"
)

// splitReferences separates an object's stored payload into its leading
// numReferences 8-byte reference locators and its trailing data, per §3's
// object layout ("num_references 8-byte references and a payload of
// payload_size − num_references·8 bytes").
func splitReferences(numReferences uint16, stored []byte) ([]types.Locator, []byte) {
	n := int(numReferences)
	refs := make([]types.Locator, n)
	for i := 0; i < n; i++ {
		refs[i] = types.Locator(binary.LittleEndian.Uint64(stored[i*8 : i*8+8]))
	}
	return refs, stored[n*8:]
}

// joinReferences is splitReferences's inverse: it re-encodes refs and data
// into the single stored-payload byte slice WriteObject expects.
func joinReferences(refs []types.Locator, data []byte) []byte {
	out := make([]byte, len(refs)*8+len(data))
	for i, r := range refs {
		binary.LittleEndian.PutUint64(out[i*8:i*8+8], uint64(r))
	}
	copy(out[len(refs)*8:], data)
	return out
}

func containsLocator(refs []types.Locator, target types.Locator) bool {
	for _, r := range refs {
		if r == target {
			return true
		}
	}
	return false
}
