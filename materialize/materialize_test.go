package materialize_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/castool/cashash"
	"github.com/rpcpool/castool/fetch"
	"github.com/rpcpool/castool/materialize"
	"github.com/rpcpool/castool/productconfig"
)

const hostPrefix = "http://host-a/tpr/test/"

// fakeFetcher serves canned responses keyed by the CDN-relative path
// fetch.Orchestrator requests, slicing by range when asked.
type fakeFetcher struct {
	byPath map[string][]byte
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, rng *fetch.ByteRange) ([]byte, error) {
	path := strings.TrimPrefix(url, hostPrefix)
	data, ok := f.byPath[path]
	if !ok {
		return nil, fmt.Errorf("no fixture for path %q", path)
	}
	if rng == nil {
		return data, nil
	}
	return data[rng.Start : rng.End+1], nil
}

func objectPath(tag, hexHash, suffix string) string {
	return fmt.Sprintf("%s/%s/%s/%s%s", tag, hexHash[0:2], hexHash[2:4], hexHash, suffix)
}

func hexOf(k cashash.ContentKey128) string {
	return fmt.Sprintf("%032x", k)
}

func keyFrom(b byte) cashash.ContentKey128 {
	var k cashash.ContentKey128
	for i := range k {
		k[i] = b
	}
	return k
}

func unframedBLTE(content []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("BLTE")
	binary.Write(&buf, binary.BigEndian, uint32(0))
	buf.WriteByte('N')
	buf.Write(content)
	return buf.Bytes()
}

type encRecord struct {
	ckey, ekey cashash.ContentKey128
}

// buildEncodingTable packs recs into one content page and one encoding page,
// matching the directory/page layout encoding.Parse expects.
func buildEncodingTable(recs []encRecord) []byte {
	var cpageRec bytes.Buffer
	for _, rec := range recs {
		cpageRec.WriteByte(1) // one encoding key
		cpageRec.WriteByte(0) // file size high byte
		var sz32 [4]byte
		binary.BigEndian.PutUint32(sz32[:], 0)
		cpageRec.Write(sz32[:])
		cpageRec.Write(rec.ckey[:])
		cpageRec.Write(rec.ekey[:])
	}
	cpage := make([]byte, 1024)
	copy(cpage, cpageRec.Bytes())
	cpageHash := cashash.ContentHash(cpage)

	var epageRec bytes.Buffer
	for _, rec := range recs {
		epageRec.Write(rec.ekey[:])
		var idx32 [4]byte
		binary.BigEndian.PutUint32(idx32[:], 0)
		epageRec.Write(idx32[:])
		var sz32 [4]byte
		binary.BigEndian.PutUint32(sz32[:], 0)
		epageRec.WriteByte(0)
		epageRec.Write(sz32[:])
	}
	epage := make([]byte, 1024)
	copy(epage, epageRec.Bytes())
	epageHash := cashash.ContentHash(epage)

	especTable := []byte("none")

	var buf bytes.Buffer
	buf.WriteString("EN")
	buf.WriteByte(1)
	buf.WriteByte(16)
	buf.WriteByte(16)
	binary.Write(&buf, binary.BigEndian, uint16(1))
	binary.Write(&buf, binary.BigEndian, uint16(1))
	binary.Write(&buf, binary.BigEndian, uint32(1))
	binary.Write(&buf, binary.BigEndian, uint32(1))
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, uint32(len(especTable)))
	buf.Write(especTable)
	buf.Write(recs[0].ckey[:])
	buf.Write(cpageHash[:])
	buf.Write(cpage)
	buf.Write(recs[0].ekey[:])
	buf.Write(epageHash[:])
	buf.Write(epage)
	return buf.Bytes()
}

// buildRootTable builds a headerless-interleaved root table with the given
// records.
func buildRootTable(fdids []uint32, ckeys []cashash.ContentKey128, names []string) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(fdids)))
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // content flags, unused for interleaved
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // locale flags, unused

	prev := int64(-1)
	for _, fdid := range fdids {
		delta := int64(fdid) - prev - 1
		binary.Write(&buf, binary.LittleEndian, int32(delta))
		prev = int64(fdid)
	}
	for i := range ckeys {
		buf.Write(ckeys[i][:])
		binary.Write(&buf, binary.LittleEndian, cashash.NameHash(names[i]))
	}
	return buf.Bytes()
}

// buildArchive builds a single-block archive index over two entries, plus
// the concatenated archive data blob the entries' offsets point into.
func buildArchive(ekey1 cashash.ContentKey128, data1 []byte, ekey2 cashash.ContentKey128, data2 []byte) (archiveKey cashash.ContentKey128, indexBytes, blob []byte) {
	blob = append(append([]byte{}, data1...), data2...)

	const blockSize = 4096
	block := make([]byte, blockSize)
	p := block
	writeEntry := func(e cashash.ContentKey128, size, off uint32) {
		copy(p[:16], e[:])
		binary.BigEndian.PutUint32(p[16:20], size)
		binary.BigEndian.PutUint32(p[20:24], off)
		p = p[24:]
	}
	writeEntry(ekey1, uint32(len(data1)), 0)
	writeEntry(ekey2, uint32(len(data2)), uint32(len(data1)))
	blockHash := cashash.ContentHash(block)

	toc := make([]byte, 24)
	copy(toc[0:16], ekey2[:])
	binary.BigEndian.PutUint64(toc[16:24], blockHash.High64())
	tocHash := cashash.ContentHash(toc)

	footer := make([]byte, 28)
	binary.BigEndian.PutUint64(footer[0:8], tocHash.High64())
	footer[8] = 1
	footer[9] = 0
	footer[10] = 0
	footer[11] = 4
	footer[12] = 4
	footer[13] = 4
	footer[14] = 16
	footer[15] = 8
	binary.LittleEndian.PutUint32(footer[16:20], 2)

	footerToCheck := make([]byte, 20)
	copy(footerToCheck, footer[8:20])
	binary.BigEndian.PutUint64(footer[20:28], cashash.ContentHash(footerToCheck).High64())

	indexBytes = append(append(append([]byte{}, block...), toc...), footer...)
	archiveKey = cashash.ContentHash(footer)
	return archiveKey, indexBytes, blob
}

// buildDataTable constructs a minimal single-section WDC3 blob with one
// relative-string-pointer field per record, mirroring datatable.Parse's
// expected wire format. Each row holds exactly one string value.
func buildDataTable(rowIDs []uint32, values []string) []byte {
	numRecords := uint32(len(rowIDs))
	const recordSize = uint32(4)

	var stringTable bytes.Buffer
	stringTable.WriteByte(0)
	offsets := make([]int, len(values))
	for i, v := range values {
		offsets[i] = stringTable.Len()
		stringTable.WriteString(v)
		stringTable.WriteByte(0)
	}

	var records bytes.Buffer
	for k, off := range offsets {
		v := uint32(off) + (numRecords-uint32(k))*recordSize
		binary.Write(&records, binary.LittleEndian, v)
	}

	var buf bytes.Buffer
	buf.WriteString("WDC3")
	binary.Write(&buf, binary.LittleEndian, numRecords)                   // record_count
	binary.Write(&buf, binary.LittleEndian, uint32(1))                    // field_count
	binary.Write(&buf, binary.LittleEndian, recordSize)                   // record_size
	binary.Write(&buf, binary.LittleEndian, uint32(stringTable.Len()))    // string_table_size
	binary.Write(&buf, binary.LittleEndian, uint32(0))                    // table_hash
	binary.Write(&buf, binary.LittleEndian, uint32(0))                    // layout_hash
	binary.Write(&buf, binary.LittleEndian, uint32(0))                    // min_id
	binary.Write(&buf, binary.LittleEndian, uint32(0))                    // max_id
	binary.Write(&buf, binary.LittleEndian, uint32(0))                    // locale
	binary.Write(&buf, binary.LittleEndian, uint16(4))                    // flags
	binary.Write(&buf, binary.LittleEndian, uint16(0))                    // id_index
	binary.Write(&buf, binary.LittleEndian, uint32(1))                    // total_field_count
	binary.Write(&buf, binary.LittleEndian, uint32(0))                    // bitpacked_data_offset
	binary.Write(&buf, binary.LittleEndian, uint32(0))                    // lookup_column_count
	binary.Write(&buf, binary.LittleEndian, uint32(0))                    // field_storage_info_size
	binary.Write(&buf, binary.LittleEndian, uint32(0))                    // common_data_size
	binary.Write(&buf, binary.LittleEndian, uint32(0))                    // pallet_data_size
	binary.Write(&buf, binary.LittleEndian, uint32(1))                    // section_count

	binary.Write(&buf, binary.LittleEndian, uint64(0))                       // tact_key_hash
	binary.Write(&buf, binary.LittleEndian, uint32(0))                       // file_offset
	binary.Write(&buf, binary.LittleEndian, numRecords)                      // record_count
	binary.Write(&buf, binary.LittleEndian, uint32(stringTable.Len()))       // string_table_size
	binary.Write(&buf, binary.LittleEndian, uint32(0))                       // offset_records_end
	binary.Write(&buf, binary.LittleEndian, uint32(len(rowIDs)*4))           // id_list_size
	binary.Write(&buf, binary.LittleEndian, uint32(0))                       // relationship_data_size
	binary.Write(&buf, binary.LittleEndian, uint32(0))                       // offset_map_id_count
	binary.Write(&buf, binary.LittleEndian, uint32(0))                       // copy_table_count

	buf.Write(records.Bytes())
	buf.Write(stringTable.Bytes())
	for _, id := range rowIDs {
		binary.Write(&buf, binary.LittleEndian, id)
	}
	return buf.Bytes()
}

type fakeEndpoint struct {
	versions, cdns []productconfig.Row
}

func (e *fakeEndpoint) Versions(ctx context.Context, product string) ([]productconfig.Row, error) {
	return e.versions, nil
}

func (e *fakeEndpoint) CDNs(ctx context.Context, product string) ([]productconfig.Row, error) {
	return e.cdns, nil
}

func TestRunWalksClosureEndToEnd(t *testing.T) {
	tocPath := "Interface\\AddOns\\TestAddon\\TestAddon.toc"
	fooPath := "Interface\\AddOns\\TestAddon\\Foo.lua"

	tocContent := []byte("Foo.lua\n")
	fooContent := []byte("-- hi\n")

	tocCKey := cashash.ContentHash(tocContent)
	fooCKey := cashash.ContentHash(fooContent)

	tocBLTE := unframedBLTE(tocContent)
	fooBLTE := unframedBLTE(fooContent)
	tocEKey := cashash.ContentHash(tocBLTE)
	fooEKey := cashash.ContentHash(fooBLTE)

	archiveKey, indexBytes, blob := buildArchive(tocEKey, tocBLTE, fooEKey, fooBLTE)

	rootCKey := keyFrom(0x77)
	rootTableBytes := buildRootTable(
		[]uint32{1, 2},
		[]cashash.ContentKey128{tocCKey, fooCKey},
		[]string{tocPath, fooPath},
	)
	rootBLTE := unframedBLTE(rootTableBytes)
	rootEKey := cashash.ContentHash(rootBLTE)

	addonDirTableBytes := buildDataTable([]uint32{0}, []string{"Interface\\AddOns\\TestAddon"})
	addonDirBLTE := unframedBLTE(addonDirTableBytes)
	addonDirEKey := cashash.ContentHash(addonDirBLTE)

	nameFallbackTableBytes := buildDataTable([]uint32{2}, []string{"interface\\addons\\testaddon\\foo.lua"})
	nameFallbackBLTE := unframedBLTE(nameFallbackTableBytes)
	nameFallbackEKey := cashash.ContentHash(nameFallbackBLTE)

	encodingTableBytes := buildEncodingTable([]encRecord{
		{ckey: rootCKey, ekey: rootEKey},
		{ckey: tocCKey, ekey: tocEKey},
		{ckey: fooCKey, ekey: fooEKey},
	})
	encodingBLTE := unframedBLTE(encodingTableBytes)
	encodingTableKey := cashash.ContentHash(encodingBLTE)

	buildHash := keyFrom(0x01)
	cdnHash := keyFrom(0x02)

	buildConfigText := fmt.Sprintf(
		"root = %s\nencoding = deadbeef %s\naddondirs = %s\nnamefallback = %s\n",
		hexOf(rootCKey), hexOf(encodingTableKey), hexOf(addonDirEKey), hexOf(nameFallbackEKey),
	)
	cdnConfigText := fmt.Sprintf("archives = %s\n", hexOf(archiveKey))

	byPath := map[string][]byte{
		objectPath("config", hexOf(buildHash), ""):      []byte(buildConfigText),
		objectPath("config", hexOf(cdnHash), ""):        []byte(cdnConfigText),
		objectPath("data", hexOf(encodingTableKey), ""):  encodingBLTE,
		objectPath("data", hexOf(rootEKey), ""):          rootBLTE,
		objectPath("data", hexOf(addonDirEKey), ""):      addonDirBLTE,
		objectPath("data", hexOf(nameFallbackEKey), ""):  nameFallbackBLTE,
		objectPath("data", hexOf(archiveKey), ".index"):  indexBytes,
		objectPath("data", hexOf(archiveKey), ""):        blob,
	}

	endpoint := &fakeEndpoint{
		versions: []productconfig.Row{{"Region": "us", "BuildConfig": hexOf(buildHash), "CDNConfig": hexOf(cdnHash)}},
		cdns:     []productconfig.Row{{"Name": "us", "Hosts": "host-a", "Path": "tpr/test"}},
	}
	fetcher := &fakeFetcher{byPath: byPath}

	req := materialize.Request{
		Product:    "testproduct",
		Region:     "us",
		ProductTag: "Mainline",
	}

	files, err := materialize.Run(context.Background(), endpoint, func(hosts []string) *fetch.Orchestrator {
		return fetch.New(fetcher, hosts)
	}, req)
	require.NoError(t, err)
	require.Len(t, files, 2)

	byPathResult := make(map[string][]byte, len(files))
	for _, f := range files {
		byPathResult[f.Path] = f.Bytes
	}
	require.Equal(t, tocContent, byPathResult[tocPath])
	require.Equal(t, fooContent, byPathResult[fooPath])
}
