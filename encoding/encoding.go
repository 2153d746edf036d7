// Package encoding parses the encoding table: the content-key to
// encoding-key(s) mapping that is the second link in the CAS resolution
// chain.
package encoding

import (
	"encoding/binary"
	"fmt"

	"github.com/rpcpool/castool/cashash"
	"github.com/rpcpool/castool/caserr"
)

const stage = "encoding-table"

// Entry is one content-key's encoding record: the ordered, non-empty list of
// encoding keys (the first is canonical) and the uncompressed file size.
type Entry struct {
	EncodingKeys []cashash.ContentKey128
	FileSize     uint64
}

// Encoding is the parsed content-key -> encoding record mapping, plus the
// espec string table it references.
type Encoding struct {
	especs []string
	cmap   map[cashash.ContentKey128]Entry
	emap   map[cashash.ContentKey128]especRecord
}

type especRecord struct {
	specIndex uint32
	fileSize  uint64
}

// CanonicalEncodingKey returns the first (canonical) encoding key for a
// content key, per spec: c_to_e.
func (e *Encoding) CanonicalEncodingKey(c cashash.ContentKey128) (cashash.ContentKey128, error) {
	entry, ok := e.cmap[c]
	if !ok {
		return cashash.ContentKey128{}, caserr.Missf(stage, "no encoding key for content key %x", c)
	}
	if len(entry.EncodingKeys) == 0 {
		return cashash.ContentKey128{}, caserr.Missf(stage, "missing encoding key for content key %x", c)
	}
	return entry.EncodingKeys[0], nil
}

// Espec returns the encoding-spec string for an encoding key, if known.
func (e *Encoding) Espec(ekey cashash.ContentKey128) (string, bool) {
	rec, ok := e.emap[ekey]
	if !ok || int(rec.specIndex) >= len(e.especs) {
		return "", false
	}
	return e.especs[rec.specIndex], true
}

// espec table separator is NUL; some historical client variants used ASCII
// '0' (0x30) instead, but NUL is the correct interpretation for this format.
const especSeparator = 0x00

// Parse builds an Encoding from the raw bytes of an encoding-table blob.
func Parse(data []byte) (*Encoding, error) {
	r := &reader{b: data}

	magic, err := r.take(2)
	if err != nil {
		return nil, caserr.Format(stage, err)
	}
	if string(magic) != "EN" {
		return nil, caserr.Formatf(stage, "bad magic %q", magic)
	}
	version, err := r.byte()
	if err != nil || version != 1 {
		return nil, caserr.Formatf(stage, "unsupported version %d", version)
	}
	ckeyHashSize, err := r.byte()
	if err != nil || ckeyHashSize != 16 {
		return nil, caserr.Formatf(stage, "unsupported ckey hash size %d", ckeyHashSize)
	}
	ekeyHashSize, err := r.byte()
	if err != nil || ekeyHashSize != 16 {
		return nil, caserr.Formatf(stage, "unsupported ekey hash size %d", ekeyHashSize)
	}
	cpagekb, err := r.u16be()
	if err != nil {
		return nil, caserr.Format(stage, err)
	}
	epagekb, err := r.u16be()
	if err != nil {
		return nil, caserr.Format(stage, err)
	}
	ccount, err := r.u32be()
	if err != nil {
		return nil, caserr.Format(stage, err)
	}
	ecount, err := r.u32be()
	if err != nil {
		return nil, caserr.Format(stage, err)
	}
	zero, err := r.byte()
	if err != nil || zero != 0 {
		return nil, caserr.Formatf(stage, "expected zero byte, got %d", zero)
	}
	especSize, err := r.u32be()
	if err != nil {
		return nil, caserr.Format(stage, err)
	}
	especBytes, err := r.take(int(especSize))
	if err != nil {
		return nil, caserr.Format(stage, err)
	}
	especs := splitEspecs(especBytes)

	cmap := make(map[cashash.ContentKey128]Entry, ccount)
	type pageDir struct {
		firstKey cashash.ContentKey128
		hash     cashash.ContentKey128
	}
	cdirs := make([]pageDir, ccount)
	for i := range cdirs {
		fk, err := r.key128()
		if err != nil {
			return nil, caserr.Format(stage, err)
		}
		h, err := r.key128()
		if err != nil {
			return nil, caserr.Format(stage, err)
		}
		cdirs[i] = pageDir{firstKey: fk, hash: h}
	}
	for _, dir := range cdirs {
		pagesize := int(cpagekb) * 1024
		page, err := r.take(pagesize)
		if err != nil {
			return nil, caserr.Format(stage, err)
		}
		if cashash.ContentHash(page) != dir.hash {
			return nil, caserr.Integrityf(stage, "content page checksum mismatch")
		}
		if err := parseCPage(page, dir.firstKey, cmap); err != nil {
			return nil, err
		}
	}

	emap := make(map[cashash.ContentKey128]especRecord, ecount)
	edirs := make([]pageDir, ecount)
	for i := range edirs {
		fk, err := r.key128()
		if err != nil {
			return nil, caserr.Format(stage, err)
		}
		h, err := r.key128()
		if err != nil {
			return nil, caserr.Format(stage, err)
		}
		edirs[i] = pageDir{firstKey: fk, hash: h}
	}
	for _, dir := range edirs {
		pagesize := int(epagekb) * 1024
		page, err := r.take(pagesize)
		if err != nil {
			return nil, caserr.Format(stage, err)
		}
		if cashash.ContentHash(page) != dir.hash {
			return nil, caserr.Integrityf(stage, "encoding page checksum mismatch")
		}
		if err := parseEPage(page, dir.firstKey, emap); err != nil {
			return nil, err
		}
	}

	return &Encoding{especs: especs, cmap: cmap, emap: emap}, nil
}

func splitEspecs(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == especSeparator {
			out = append(out, string(b[start:i]))
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, string(b[start:]))
	}
	return out
}

func parseCPage(page []byte, firstKey cashash.ContentKey128, cmap map[cashash.ContentKey128]Entry) error {
	r := &reader{b: page}
	first := true
	for {
		if r.remaining() == 0 {
			break
		}
		keyCount, err := r.byte()
		if err != nil {
			return caserr.Format(stage, err)
		}
		if keyCount == 0 {
			break
		}
		fileSize, err := r.u40be()
		if err != nil {
			return caserr.Format(stage, err)
		}
		ckey, err := r.key128()
		if err != nil {
			return caserr.Format(stage, err)
		}
		if first {
			if ckey != firstKey {
				return caserr.Formatf(stage, "first entry content-key mismatch in page")
			}
			first = false
		}
		ekeys := make([]cashash.ContentKey128, keyCount)
		for i := range ekeys {
			k, err := r.key128()
			if err != nil {
				return caserr.Format(stage, err)
			}
			ekeys[i] = k
		}
		cmap[ckey] = Entry{EncodingKeys: ekeys, FileSize: fileSize}
	}
	return nil
}

// epageEntrySize is one E-page entry's wire size: encoding key (16) +
// specIndex (4, u32be) + fileSize (5, u40be).
const epageEntrySize = 16 + 4 + 5

func parseEPage(page []byte, firstKey cashash.ContentKey128, emap map[cashash.ContentKey128]especRecord) error {
	r := &reader{b: page}
	first := true
	for r.remaining() >= epageEntrySize {
		ekey, err := r.key128()
		if err != nil {
			return caserr.Format(stage, err)
		}
		if first {
			if ekey != firstKey {
				return caserr.Formatf(stage, "first entry encoding-key mismatch in page")
			}
			first = false
		}
		specIndex, err := r.u32be()
		if err != nil {
			return caserr.Format(stage, err)
		}
		fileSize, err := r.u40be()
		if err != nil {
			return caserr.Format(stage, err)
		}
		emap[ekey] = especRecord{specIndex: specIndex, fileSize: fileSize}
	}
	return nil
}

// reader is a minimal big-endian cursor over a byte slice.
type reader struct {
	b []byte
}

func (r *reader) remaining() int { return len(r.b) }

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > len(r.b) {
		return nil, fmt.Errorf("truncated: need %d bytes, have %d", n, len(r.b))
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16be() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32be() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// u40be reads a 40-bit big-endian integer (one byte high-order + a u32).
func (r *reader) u40be() (uint64, error) {
	b, err := r.take(5)
	if err != nil {
		return 0, err
	}
	return uint64(b[0])<<32 | uint64(binary.BigEndian.Uint32(b[1:5])), nil
}

func (r *reader) key128() (cashash.ContentKey128, error) {
	b, err := r.take(16)
	if err != nil {
		return cashash.ContentKey128{}, err
	}
	var k cashash.ContentKey128
	copy(k[:], b)
	return k, nil
}
