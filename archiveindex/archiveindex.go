// Package archiveindex parses per-archive index files: the fixed 4096-byte
// block format, with a footer and table-of-contents, that maps encoding keys
// to their (archive, offset, length) location.
package archiveindex

import (
	"encoding/binary"

	"github.com/rpcpool/castool/cashash"
	"github.com/rpcpool/castool/caserr"
)

const stage = "archive-index"

const (
	blockSize     = 4096
	blockOverhead = blockSize + 24 // block bytes + 16-byte TOC last-key + 8-byte TOC hash
	footerSize    = 28
	entrySize     = 16 + 4 + 4 // encoding key + size + offset
)

// Location is where one encoding key's bytes live: a physical archive, plus
// the byte range within it.
type Location struct {
	Archive cashash.ContentKey128
	Offset  uint32
	Length  uint32
}

// Index is the union of one archive's entries: encoding key -> Location.
type Index map[cashash.ContentKey128]Location

// Parse validates and parses the index file for the archive identified by
// archiveKey (the index file is itself content-addressed by that key: the
// footer's content hash must equal it).
func Parse(archiveKey cashash.ContentKey128, data []byte) (Index, error) {
	if len(data) < footerSize {
		return nil, caserr.Formatf(stage, "truncated: %d bytes, need at least %d", len(data), footerSize)
	}
	nonFooterSize := len(data) - footerSize
	if nonFooterSize%blockOverhead != 0 {
		return nil, caserr.Formatf(stage, "non-integer block count: %d bytes of body", nonFooterSize)
	}
	numBlocks := nonFooterSize / blockOverhead

	footer := data[nonFooterSize:]
	if cashash.ContentHash(footer) != archiveKey {
		return nil, caserr.Integrityf(stage, "footer does not content-address the supplied archive key")
	}

	tocHashShort := binary.BigEndian.Uint64(footer[0:8])
	version := footer[8]
	zero1 := footer[9]
	zero2 := footer[10]
	blockSizeKB := footer[11]
	offsetBytes := footer[12]
	sizeBytes := footer[13]
	keySize := footer[14]
	checksumSize := footer[15]
	numElements := binary.LittleEndian.Uint32(footer[16:20])
	footerHashShort := binary.BigEndian.Uint64(footer[20:28])

	if version != 1 || zero1 != 0 || zero2 != 0 || blockSizeKB != 4 ||
		offsetBytes != 4 || sizeBytes != 4 || keySize != 16 || checksumSize != 8 {
		return nil, caserr.Formatf(stage, "unexpected footer field values")
	}

	footerToCheck := make([]byte, 20)
	copy(footerToCheck, footer[8:20])
	if cashash.ContentHash(footerToCheck).High64() != footerHashShort {
		return nil, caserr.Integrityf(stage, "footer self-checksum mismatch")
	}

	tocSize := numBlocks * 24
	toc := data[nonFooterSize-tocSize : nonFooterSize]
	if cashash.ContentHash(toc).High64() != tocHashShort {
		return nil, caserr.Integrityf(stage, "TOC checksum mismatch")
	}
	lastKeys := toc[:16*numBlocks]
	blockHashes := toc[16*numBlocks:]

	blocksData := data[:nonFooterSize-tocSize]

	index := make(Index, numElements)
	for i := 0; i < numBlocks; i++ {
		block := blocksData[i*blockSize : (i+1)*blockSize]
		var lastKey cashash.ContentKey128
		copy(lastKey[:], lastKeys[i*16:(i+1)*16])
		blockHashShort := binary.BigEndian.Uint64(blockHashes[i*8 : (i+1)*8])

		if cashash.ContentHash(block).High64() != blockHashShort {
			return nil, caserr.Integrityf(stage, "block %d checksum mismatch", i)
		}

		found := false
		p := block
		for len(p) >= entrySize {
			var ekey cashash.ContentKey128
			copy(ekey[:], p[:16])
			size := binary.BigEndian.Uint32(p[16:20])
			offset := binary.BigEndian.Uint32(p[20:24])
			p = p[entrySize:]

			if _, exists := index[ekey]; exists {
				return nil, caserr.Formatf(stage, "duplicate encoding key in archive index")
			}
			index[ekey] = Location{Archive: archiveKey, Offset: offset, Length: size}

			if ekey == lastKey {
				found = true
				break
			}
		}
		if !found {
			return nil, caserr.Formatf(stage, "block %d: last-key sentinel not observed", i)
		}
	}

	if uint32(len(index)) != numElements {
		return nil, caserr.Formatf(stage, "element count mismatch: footer says %d, parsed %d", numElements, len(index))
	}
	return index, nil
}

// Merge combines per-archive indices into a single map. Collisions across
// archives are fatal: encoding keys are globally unique.
func Merge(indices ...Index) (Index, error) {
	total := 0
	for _, idx := range indices {
		total += len(idx)
	}
	merged := make(Index, total)
	for _, idx := range indices {
		for k, v := range idx {
			if _, exists := merged[k]; exists {
				return nil, caserr.Formatf(stage, "duplicate encoding key across archive indices")
			}
			merged[k] = v
		}
	}
	return merged, nil
}
