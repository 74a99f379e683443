package protocol

import (
	"encoding/binary"

	"github.com/cuemby/gaiadb/pkg/types"
)

// Kind discriminates a message's role (§6: "0 = request, 1 = reply").
type Kind uint8

const (
	KindRequest Kind = iota
	KindReply
	KindError
)

// Discriminant identifies the shape of a message's payload (§6 offset 2).
type Discriminant uint16

const (
	DiscNone Discriminant = iota
	DiscTableScan
	DiscTxnInfo
	DiscMemoryInfo
)

// MaxDatagramSize is the spec's per-datagram payload ceiling (§4.5, §6).
const MaxDatagramSize = 4096

// HeaderSize is the fixed header preceding every message body: kind(1) +
// event(1) + discriminant(2), little-endian. No length field follows:
// SEQPACKET already preserves datagram boundaries, so the payload is simply
// whatever remains in the datagram (spec.md §6's "length-prefix-free
// framing").
const HeaderSize = 4

// Header precedes every message body.
type Header struct {
	Kind         Kind
	Event        Event
	Discriminant Discriminant
}

// Encode writes the header followed by data into a single datagram buffer.
func Encode(h Header, data []byte) ([]byte, error) {
	if HeaderSize+len(data) > MaxDatagramSize {
		return nil, types.NewProtocolError("datagram_too_large", nil)
	}
	buf := make([]byte, HeaderSize+len(data))
	buf[0] = byte(h.Kind)
	buf[1] = byte(h.Event)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.Discriminant))
	copy(buf[HeaderSize:], data)
	return buf, nil
}

// Decode splits a received datagram into its header and payload. The
// datagram's own length (from recvmsg) bounds the payload; there is no
// separate length field to validate.
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, types.NewProtocolError("short_datagram", nil)
	}
	h := Header{
		Kind:         Kind(buf[0]),
		Event:        Event(buf[1]),
		Discriminant: Discriminant(binary.LittleEndian.Uint16(buf[2:4])),
	}
	return h, buf[HeaderSize:], nil
}
