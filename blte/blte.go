// Package blte decodes the BLTE chunked container format used to wrap every
// compressed object in the CAS: a small header describing one or more
// chunks, each independently checksummed and independently compressed.
package blte

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/rpcpool/castool/cashash"
	"github.com/rpcpool/castool/caserr"
)

const stage = "BLTE"

const (
	tagLiteral = 'N'
	tagZlib    = 'Z'
)

// Decode validates and decompresses a BLTE container, verifying that the
// container hashes to expected (the encoding key of the object: the whole
// data when unframed, the header alone when framed) and that every chunk's
// declared checksum and uncompressed size match what was actually produced.
func Decode(expected cashash.ContentKey128, data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, caserr.Formatf(stage, "truncated header: %d bytes", len(data))
	}
	if string(data[0:4]) != "BLTE" {
		return nil, caserr.Formatf(stage, "bad magic %q", data[0:4])
	}
	headerSize := binary.BigEndian.Uint32(data[4:8])

	if headerSize == 0 {
		if cashash.ContentHash(data) != expected {
			return nil, caserr.Integrityf(stage, "unframed container checksum mismatch")
		}
		return decodeChunk(data[8:], -1)
	}

	if uint32(len(data)) < headerSize {
		return nil, caserr.Formatf(stage, "truncated header: need %d bytes, have %d", headerSize, len(data))
	}
	if cashash.ContentHash(data[:headerSize]) != expected {
		return nil, caserr.Integrityf(stage, "header checksum mismatch")
	}

	p := data[8:headerSize]
	if len(p) < 4 {
		return nil, caserr.Formatf(stage, "truncated chunk table header")
	}
	if p[0] != 0x0f {
		return nil, caserr.Formatf(stage, "bad flag byte 0x%02x", p[0])
	}
	chunkCount := uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
	p = p[4:]

	if headerSize != chunkCount*24+12 {
		return nil, caserr.Formatf(stage, "header size %d inconsistent with chunk count %d", headerSize, chunkCount)
	}

	type chunkInfo struct {
		compressedSize   uint32
		uncompressedSize uint32
		checksum         cashash.ContentKey128
	}
	chunks := make([]chunkInfo, chunkCount)
	var totalUncompressed uint64
	for i := range chunks {
		if len(p) < 24 {
			return nil, caserr.Formatf(stage, "truncated chunk descriptor %d", i)
		}
		ci := chunkInfo{
			compressedSize:   binary.BigEndian.Uint32(p[0:4]),
			uncompressedSize: binary.BigEndian.Uint32(p[4:8]),
		}
		copy(ci.checksum[:], p[8:24])
		chunks[i] = ci
		totalUncompressed += uint64(ci.uncompressedSize)
		p = p[24:]
	}

	body := data[headerSize:]
	out := make([]byte, 0, totalUncompressed)
	for i, ci := range chunks {
		if uint32(len(body)) < ci.compressedSize {
			return nil, caserr.Formatf(stage, "truncated chunk %d body", i)
		}
		chunk := body[:ci.compressedSize]
		if cashash.ContentHash(chunk) != ci.checksum {
			return nil, caserr.Integrityf(stage, "chunk %d checksum mismatch", i)
		}
		decoded, err := decodeChunk(chunk, int(ci.uncompressedSize))
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != ci.uncompressedSize {
			return nil, caserr.Formatf(stage, "chunk %d: declared uncompressed size %d, got %d", i, ci.uncompressedSize, len(decoded))
		}
		out = append(out, decoded...)
		body = body[ci.compressedSize:]
	}
	if len(body) != 0 {
		return nil, caserr.Formatf(stage, "trailing BLTE data: %d bytes", len(body))
	}
	return out, nil
}

// decodeChunk decodes one chunk's compressed form by its leading encoding
// tag. expectedSize is the declared uncompressed size, or -1 when unknown
// (the unframed single-chunk path); decodeChunk does not read it, and Decode
// checks the decoded length against the declared size itself.
func decodeChunk(data []byte, expectedSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, caserr.Formatf(stage, "empty chunk")
	}
	switch data[0] {
	case tagLiteral:
		out := make([]byte, len(data)-1)
		copy(out, data[1:])
		return out, nil
	case tagZlib:
		r, err := zlib.NewReader(bytes.NewReader(data[1:]))
		if err != nil {
			return nil, caserr.Decompression(stage, err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, caserr.Decompression(stage, err)
		}
		return out, nil
	default:
		return nil, caserr.Formatf(stage, "unsupported encoding tag 0x%02x", data[0])
	}
}
