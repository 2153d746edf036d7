// Package roottable parses the root table: the file-id/filename to
// content-key mapping that is the first link in the CAS resolution chain.
package roottable

import (
	"encoding/binary"
	"fmt"

	"github.com/rpcpool/castool/cashash"
	"github.com/rpcpool/castool/caserr"
)

const stage = "root-table"

// nameHashSkipFlag is the content-flags bit that, in variant A blocks, means
// "this block's name-hash array was omitted".
const nameHashSkipFlag = 0x10000000

type record struct {
	fileDataID uint32
	contentKey cashash.ContentKey128
	nameHash   uint64
	hasName    bool
}

// Root is the parsed root table: file-id and name-hash indexes over a shared
// record set.
type Root struct {
	records []record
	byFdid  map[uint32]int
	byName  map[uint64]int
}

// ByFileDataID resolves a numeric file id to its content key.
func (r *Root) ByFileDataID(fdid uint32) (cashash.ContentKey128, error) {
	idx, ok := r.byFdid[fdid]
	if !ok {
		return cashash.ContentKey128{}, caserr.Missf(stage, "no root entry for file id %d", fdid)
	}
	return r.records[idx].contentKey, nil
}

// ByName resolves a filename (hashed per cashash.NameHash) to its content key.
func (r *Root) ByName(name string) (cashash.ContentKey128, error) {
	h := cashash.NameHash(name)
	idx, ok := r.byName[h]
	if !ok {
		return cashash.ContentKey128{}, caserr.Missf(stage, "no root entry for name %q", name)
	}
	return r.records[idx].contentKey, nil
}

// Parse builds a Root from the raw bytes of a root-table blob, handling both
// the "TSFM"-prefixed layout and the headerless interleaved layout.
func Parse(data []byte) (*Root, error) {
	r := &cursor{b: data}

	var interleaved bool
	var canSkip bool

	if len(data) >= 4 && string(data[0:4]) == "TSFM" {
		if _, err := r.take(4); err != nil {
			return nil, caserr.Format(stage, err)
		}
		totalFileCount, err := r.u32le()
		if err != nil {
			return nil, caserr.Format(stage, err)
		}
		namedFileCount, err := r.u32le()
		if err != nil {
			return nil, caserr.Format(stage, err)
		}
		interleaved = false
		canSkip = totalFileCount != namedFileCount
	} else {
		interleaved = true
		canSkip = false
	}

	var all []record
	for r.remaining() > 0 {
		numRecords, err := r.u32le()
		if err != nil {
			return nil, caserr.Format(stage, err)
		}
		contentFlags, err := r.u32le()
		if err != nil {
			return nil, caserr.Format(stage, err)
		}
		if _, err := r.u32le(); err != nil { // locale flags, unused
			return nil, caserr.Format(stage, err)
		}

		fdids := make([]uint32, numRecords)
		fdid := int64(-1)
		for i := range fdids {
			delta, err := r.i32le()
			if err != nil {
				return nil, caserr.Format(stage, err)
			}
			fdid = fdid + int64(delta) + 1
			if fdid < 0 {
				return nil, caserr.Formatf(stage, "negative file id after delta decode")
			}
			fdids[i] = uint32(fdid)
		}

		contentKeys := make([]cashash.ContentKey128, numRecords)
		nameHashes := make([]uint64, numRecords)
		hasNames := make([]bool, numRecords)

		if interleaved {
			for i := range contentKeys {
				k, err := r.key128be()
				if err != nil {
					return nil, caserr.Format(stage, err)
				}
				h, err := r.u64le()
				if err != nil {
					return nil, caserr.Format(stage, err)
				}
				contentKeys[i] = k
				nameHashes[i] = h
				hasNames[i] = true
			}
		} else {
			for i := range contentKeys {
				k, err := r.key128be()
				if err != nil {
					return nil, caserr.Format(stage, err)
				}
				contentKeys[i] = k
			}
			skip := canSkip && contentFlags&nameHashSkipFlag != 0
			if !skip {
				for i := range nameHashes {
					h, err := r.u64le()
					if err != nil {
						return nil, caserr.Format(stage, err)
					}
					nameHashes[i] = h
					hasNames[i] = true
				}
			}
		}

		for i := range fdids {
			all = append(all, record{
				fileDataID: fdids[i],
				contentKey: contentKeys[i],
				nameHash:   nameHashes[i],
				hasName:    hasNames[i],
			})
		}
	}

	byFdid := make(map[uint32]int, len(all))
	byName := make(map[uint64]int, len(all))
	for i, rec := range all {
		byFdid[rec.fileDataID] = i // last-writer-wins across blocks, by design
		if rec.hasName {
			byName[rec.nameHash] = i
		}
	}

	return &Root{records: all, byFdid: byFdid, byName: byName}, nil
}

// cursor is a minimal little-endian cursor, mirroring encoding.reader's
// big-endian one; the root table mixes little-endian headers/deltas/name
// hashes with big-endian content keys, so it needs its own helpers.
type cursor struct {
	b []byte
}

func (c *cursor) remaining() int { return len(c.b) }

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || n > len(c.b) {
		return nil, fmt.Errorf("truncated: need %d bytes, have %d", n, len(c.b))
	}
	out := c.b[:n]
	c.b = c.b[n:]
	return out, nil
}

func (c *cursor) u32le() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) i32le() (int32, error) {
	v, err := c.u32le()
	return int32(v), err
}

func (c *cursor) u64le() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) key128be() (cashash.ContentKey128, error) {
	b, err := c.take(16)
	if err != nil {
		return cashash.ContentKey128{}, err
	}
	var k cashash.ContentKey128
	copy(k[:], b)
	return k, nil
}
