// Package datatable extracts the row-id -> list-of-strings view out of a
// data-table blob, for the narrow subset of the format the CAS tooling
// needs: single-section tables with relative string-table pointers. Full
// bitpacked field decoding (pallet/common data, copy tables, offset maps) is
// out of scope — see spec Non-goals.
package datatable

import (
	"encoding/binary"

	"github.com/rpcpool/castool/caserr"
)

const stage = "data-table"

const requiredFlags = 4

// recognizedMagics are the data-table container variants this package has
// been observed to need: "WDC3" and "WDC5" share the same section-string
// extraction semantics even though their fixed headers differ in length.
var recognizedMagics = map[string]headerLayout{
	"WDC3": {fixedSize: 72},
	"WDC5": {fixedSize: 4 + 132 + 68}, // magic + unused padding block + the WDC3-equivalent tail
}

type headerLayout struct {
	fixedSize int
}

// Strings is the row-id -> ordered list of strings mapping built from one
// data-table section.
type Strings map[uint32][]string

// Parse extracts Strings from a data-table blob whose single section uses
// flags==4 (relative string-table pointers) and whose record size is a
// multiple of 4.
func Parse(data []byte) (Strings, error) {
	if len(data) < 4 {
		return nil, caserr.Formatf(stage, "truncated header")
	}
	magic := string(data[0:4])
	layout, ok := recognizedMagics[magic]
	if !ok {
		return nil, caserr.Formatf(stage, "unrecognized magic %q", magic)
	}

	h, err := parseHeader(data, magic, layout)
	if err != nil {
		return nil, err
	}
	if h.flags != requiredFlags {
		return nil, caserr.Formatf(stage, "unsupported flags %d", h.flags)
	}
	if h.sectionCount != 1 {
		return nil, caserr.Formatf(stage, "unsupported section count %d", h.sectionCount)
	}

	rest := data[h.headerEnd:]
	sh, rest, err := parseSectionHeader(rest)
	if err != nil {
		return nil, err
	}

	recordSize := int(h.recordSize)
	if recordSize%4 != 0 {
		return nil, caserr.Formatf(stage, "unsupported record size %d", recordSize)
	}

	recordsBytes := int(sh.recordCount) * recordSize
	if len(rest) < recordsBytes {
		return nil, caserr.Formatf(stage, "truncated records")
	}
	records := rest[:recordsBytes]
	rest = rest[recordsBytes:]

	if len(rest) < int(sh.stringTableSize) {
		return nil, caserr.Formatf(stage, "truncated string table")
	}
	stringTable := rest[:sh.stringTableSize]
	rest = rest[sh.stringTableSize:]

	idListBytes := int(sh.idListSize)
	if len(rest) < idListBytes {
		return nil, caserr.Formatf(stage, "truncated id list")
	}
	idListRaw := rest[:idListBytes]

	numRecords := int(sh.recordCount)
	idCount := idListBytes / 4
	if idCount != numRecords {
		return nil, caserr.Formatf(stage, "id list length %d does not match record count %d", idCount, numRecords)
	}

	out := make(Strings, numRecords)
	for k := 0; k < numRecords; k++ {
		rowID := binary.LittleEndian.Uint32(idListRaw[k*4 : k*4+4])
		rec := records[k*recordSize : (k+1)*recordSize]
		var strs []string
		for o := 0; o < recordSize; o += 4 {
			v := int(binary.LittleEndian.Uint32(rec[o : o+4]))
			ptr := v - (numRecords-k)*recordSize + o
			s, err := readCString(stringTable, ptr)
			if err != nil {
				return nil, err
			}
			strs = append(strs, s)
		}
		out[rowID] = strs
	}
	return out, nil
}

func readCString(table []byte, at int) (string, error) {
	if at < 0 || at > len(table) {
		return "", caserr.Formatf(stage, "string pointer %d out of range (table size %d)", at, len(table))
	}
	end := at
	for end < len(table) && table[end] != 0 {
		end++
	}
	return string(table[at:end]), nil
}

type parsedHeader struct {
	recordSize   uint32
	flags        uint16
	sectionCount uint32
	headerEnd    int
}

// parseHeader reads only the fields Parse actually needs. WDC3 and WDC5
// headers agree on field meaning but not on layout (WDC5 inserts a padding
// block after the magic), so each magic gets its own field offsets.
func parseHeader(data []byte, magic string, layout headerLayout) (parsedHeader, error) {
	if len(data) < layout.fixedSize {
		return parsedHeader{}, caserr.Formatf(stage, "truncated %s header", magic)
	}
	switch magic {
	case "WDC3":
		return parsedHeader{
			recordSize:   binary.LittleEndian.Uint32(data[12:16]),
			flags:        binary.LittleEndian.Uint16(data[40:42]),
			sectionCount: binary.LittleEndian.Uint32(data[68:72]),
			headerEnd:    layout.fixedSize,
		}, nil
	case "WDC5":
		base := 4 + 132 // magic + unused block, matching the original's field layout
		return parsedHeader{
			recordSize:   binary.LittleEndian.Uint32(data[base+8 : base+12]),
			flags:        binary.LittleEndian.Uint16(data[base+36 : base+38]),
			sectionCount: binary.LittleEndian.Uint32(data[base+64 : base+68]),
			headerEnd:    layout.fixedSize,
		}, nil
	default:
		return parsedHeader{}, caserr.Formatf(stage, "unrecognized magic %q", magic)
	}
}

type sectionHeader struct {
	recordCount     uint32
	stringTableSize uint32
	idListSize      uint32
}

func parseSectionHeader(data []byte) (sectionHeader, []byte, error) {
	// tact_key_hash(8) + file_offset(4) + record_count(4) + string_table_size(4)
	// + offset_records_end(4) + id_list_size(4) + relationship_data_size(4)
	// + offset_map_id_count(4) + copy_table_count(4) = 40 bytes
	const size = 40
	if len(data) < size {
		return sectionHeader{}, nil, caserr.Formatf(stage, "truncated section header")
	}
	sh := sectionHeader{
		recordCount:     binary.LittleEndian.Uint32(data[12:16]),
		stringTableSize: binary.LittleEndian.Uint32(data[16:20]),
		idListSize:      binary.LittleEndian.Uint32(data[24:28]),
	}
	return sh, data[size:], nil
}
