package cache

import (
	"bytes"
	"fmt"
	"io"
)

// maxEntries/maxFieldLen bound the sidecar metadata blob the same way the
// teacher's indexmeta package bounds its key-value list: a single
// length-prefixed byte, so the format is self-describing without a schema.
const (
	maxEntries  = 16
	maxFieldLen = 255
)

// entryMeta is the small sidecar record written next to each cached object:
// enough to let a cache hit be trusted without re-verifying against the CDN
// (Get checks the recorded size against the data file).
type entryMeta struct {
	ContentKey  []byte
	EncodingKey []byte
	Size        uint64
}

// marshalMeta serializes an entryMeta as a sequence of length-prefixed
// fields: contentKey, encodingKey, then an 8-byte big-endian size — a count
// byte followed by (len, bytes) pairs, for this cache's fixed three-field
// record.
func marshalMeta(m entryMeta) ([]byte, error) {
	fields := [][]byte{m.ContentKey, m.EncodingKey, sizeBytes(m.Size)}
	if len(fields) > maxEntries {
		return nil, fmt.Errorf("cache meta: %d fields exceeds max %d", len(fields), maxEntries)
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(len(fields)))
	for i, f := range fields {
		if len(f) > maxFieldLen {
			return nil, fmt.Errorf("cache meta: field %d size %d exceeds max %d", i, len(f), maxFieldLen)
		}
		buf.WriteByte(byte(len(f)))
		buf.Write(f)
	}
	return buf.Bytes(), nil
}

func sizeBytes(n uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return b
}

func sizeFromBytes(b []byte) uint64 {
	var n uint64
	for _, c := range b {
		n = n<<8 | uint64(c)
	}
	return n
}

// unmarshalMeta parses the wire shape marshalMeta produces.
func unmarshalMeta(b []byte) (entryMeta, error) {
	r := bytes.NewReader(b)
	count, err := r.ReadByte()
	if err != nil {
		return entryMeta{}, fmt.Errorf("cache meta: reading field count: %w", err)
	}
	if count != 3 {
		return entryMeta{}, fmt.Errorf("cache meta: expected 3 fields, got %d", count)
	}
	fields := make([][]byte, count)
	for i := range fields {
		n, err := r.ReadByte()
		if err != nil {
			return entryMeta{}, fmt.Errorf("cache meta: reading field %d length: %w", i, err)
		}
		field := make([]byte, n)
		if _, err := io.ReadFull(r, field); err != nil {
			return entryMeta{}, fmt.Errorf("cache meta: reading field %d: %w", i, err)
		}
		fields[i] = field
	}
	return entryMeta{
		ContentKey:  fields[0],
		EncodingKey: fields[1],
		Size:        sizeFromBytes(fields[2]),
	}, nil
}
