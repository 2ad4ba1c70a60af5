package engine

import (
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/golang/snappy"
)

// PersistenceId names a durable slot a value or list is saved under. Reserved
// for engine use: persistence ids collide at graph-build time exactly like
// any other reserved-namespace construction error.
type PersistenceId string

// Backend is the host-provided persistence bridge (§6.4): fire-and-forget
// save, best-effort load. Concrete backends (in-memory, sqlite) live in
// engine/persist; this interface is the contract the root package depends
// on, kept dependency-free of any storage driver.
type Backend interface {
	Save(id PersistenceId, blob []byte)
	Load(id PersistenceId) ([]byte, bool)
}

// blobVersion is the current versioned-blob format version (§6.4). Bumping
// it is a breaking change: DecodeValue on an unknown version degrades to the
// literal initial and logs a warning, never fails hard.
const blobVersion uint16 = 1

// collectionEnvelopeTag is the reserved "__collection__" name of §6.4. The
// wire format does not use it: a collection payload is marked by the high
// bit of its item-count header instead.
var collectionEnvelopeTag = InternReserved("__collection__")

// snappyThreshold is the payload size above which blobs are snappy-
// compressed before the version header is attached. Small blobs (the
// common case: a counter, a flag) aren't worth the block overhead.
const snappyThreshold = 256

// EncodeValue serializes v into the §6.4 versioned-blob wire format:
// [version: u16][compressed: u8][payload]. A list payload carries the
// collection flag in its count header so DecodeValue can tell it from a
// scalar one without out-of-band type information.
func EncodeValue(v Value, listItems []ListItem) []byte {
	var payload []byte
	if listItems != nil {
		payload = encodeCollection(listItems)
	} else {
		payload = encodeScalar(v)
	}

	if len(payload) > snappyThreshold {
		payload = snappy.Encode(nil, payload)
		return frameBlob(blobVersion, true, payload)
	}
	return frameBlob(blobVersion, false, payload)
}

func frameBlob(version uint16, compressed bool, payload []byte) []byte {
	out := make([]byte, 2+1+len(payload))
	binary.BigEndian.PutUint16(out[0:2], version)
	if compressed {
		out[2] = 1
	}
	copy(out[3:], payload)
	return out
}

// DecodeValue parses a versioned blob back into a Value (scalar case) or a
// list-item slice (collection case). An unknown version returns
// (Value{}, nil, false) so the caller degrades to the literal initial per
// §6.4/§7 "decode failure on restore".
func DecodeValue(blob []byte, logger *slog.Logger) (Value, []ListItem, bool) {
	if len(blob) < 3 {
		return Value{}, nil, false
	}
	version := binary.BigEndian.Uint16(blob[0:2])
	if version != blobVersion {
		if logger != nil {
			logger.Warn("persistence blob has unknown version, using literal initial", "version", version)
		}
		return Value{}, nil, false
	}
	compressed := blob[2] == 1
	payload := blob[3:]
	if compressed {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			if logger != nil {
				logger.Warn("persistence blob failed to decompress, using literal initial", "error", err)
			}
			return Value{}, nil, false
		}
		payload = decoded
	}

	if items, ok := decodeCollection(payload); ok {
		return Value{}, items, true
	}
	v, ok := decodeScalar(payload)
	return v, nil, ok
}

// encodeScalar/decodeScalar implement a small self-describing tag+payload
// format for the Value kinds that round-trip (§8 "round-trip law:
// decode(encode(v)) == v for every persistable value shape"): Unit, Bool,
// Number, and Text. Any other kind (Tagged, Object, and the rest) is
// encoded as Unit, so it does not survive a round trip.
func encodeScalar(v Value) []byte {
	switch v.Kind() {
	case KindUnit:
		return []byte{0}
	case KindBool:
		if v.AsBool() {
			return []byte{1, 1}
		}
		return []byte{1, 0}
	case KindNumber:
		buf := make([]byte, 9)
		buf[0] = 2
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.AsNumber()))
		return buf
	case KindText:
		text := v.AsText()
		buf := make([]byte, 5+len(text))
		buf[0] = 3
		binary.BigEndian.PutUint32(buf[1:5], uint32(len(text)))
		copy(buf[5:], text)
		return buf
	default:
		return []byte{0}
	}
}

func decodeScalar(payload []byte) (Value, bool) {
	if len(payload) == 0 {
		return Value{}, false
	}
	switch payload[0] {
	case 0:
		return Unit(), true
	case 1:
		if len(payload) < 2 {
			return Value{}, false
		}
		return Bool(payload[1] != 0), true
	case 2:
		if len(payload) < 9 {
			return Value{}, false
		}
		return Number(math.Float64frombits(binary.BigEndian.Uint64(payload[1:9]))), true
	case 3:
		if len(payload) < 5 {
			return Value{}, false
		}
		n := binary.BigEndian.Uint32(payload[1:5])
		if len(payload) < int(5+n) {
			return Value{}, false
		}
		return Text(string(payload[5 : 5+n])), true
	default:
		return Value{}, false
	}
}

// encodeCollection/decodeCollection implement the "__collection__" envelope
// for lists: a count followed by (ItemId, scalar payload) pairs.
func encodeCollection(items []ListItem) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(items)))
	buf[0] |= 0x80 // high bit distinguishes a collection envelope from a scalar tag byte
	for _, it := range items {
		idBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(idBuf, uint64(it.ID))
		buf = append(buf, idBuf...)
		scalar := encodeScalar(it.Value)
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(scalar)))
		buf = append(buf, lenBuf...)
		buf = append(buf, scalar...)
	}
	return buf
}

func decodeCollection(payload []byte) ([]ListItem, bool) {
	if len(payload) < 4 || payload[0]&0x80 == 0 {
		return nil, false
	}
	header := make([]byte, 4)
	copy(header, payload[0:4])
	header[0] &^= 0x80
	count := binary.BigEndian.Uint32(header)

	items := make([]ListItem, 0, count)
	pos := 4
	for i := uint32(0); i < count; i++ {
		if pos+8+4 > len(payload) {
			return nil, false
		}
		id := ItemId(binary.BigEndian.Uint64(payload[pos : pos+8]))
		pos += 8
		n := binary.BigEndian.Uint32(payload[pos : pos+4])
		pos += 4
		if pos+int(n) > len(payload) {
			return nil, false
		}
		v, ok := decodeScalar(payload[pos : pos+int(n)])
		if !ok {
			return nil, false
		}
		pos += int(n)
		items = append(items, ListItem{ID: id, Value: v})
	}
	return items, true
}
