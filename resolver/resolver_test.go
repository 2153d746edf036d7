package resolver

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/castool/archiveindex"
	"github.com/rpcpool/castool/cashash"
	"github.com/rpcpool/castool/encoding"
	"github.com/rpcpool/castool/roottable"
)

func key(b byte) cashash.ContentKey128 {
	var k cashash.ContentKey128
	for i := range k {
		k[i] = b
	}
	return k
}

func buildMinimalRoot(t *testing.T, fdid uint32, name string, ckey cashash.ContentKey128) *roottable.Root {
	t.Helper()
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // num_records
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // content flags
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // locale flags
	binary.Write(&buf, binary.LittleEndian, int32(int64(fdid)))
	buf.Write(ckey[:])
	binary.Write(&buf, binary.LittleEndian, cashash.NameHash(name))
	r, err := roottable.Parse(buf.Bytes())
	require.NoError(t, err)
	return r
}

func TestResolverByIDAndByName(t *testing.T) {
	ckey := key(0x01)
	ekey := key(0x02)
	archiveKey := key(0x03)

	root := buildMinimalRoot(t, 7, "foo.txt", ckey)

	enc, err := encoding.Parse(buildEncodingBlob(t, ckey, ekey))
	require.NoError(t, err)

	archives := archiveindex.Index{
		ekey: archiveindex.Location{Archive: archiveKey, Offset: 10, Length: 20},
	}

	res := New(root, enc, archives)

	locByID, err := res.ByID(7)
	require.NoError(t, err)
	require.Equal(t, Locator{
		Archive: archiveKey, Offset: 10, Length: 20,
		ExpectedContentKey: ckey, EncodingKey: ekey,
	}, locByID)

	locByName, err := res.ByName("foo.txt")
	require.NoError(t, err)
	require.Equal(t, locByID, locByName)
}

func TestResolverMissingFileID(t *testing.T) {
	root := buildMinimalRoot(t, 7, "foo.txt", key(0x01))
	enc, err := encoding.Parse(buildEncodingBlob(t, key(0x01), key(0x02)))
	require.NoError(t, err)
	res := New(root, enc, archiveindex.Index{})

	_, err = res.ByID(999)
	require.Error(t, err)
}

// buildEncodingBlob constructs a minimal one-entry encoding table.
func buildEncodingBlob(t *testing.T, ckey, ekey cashash.ContentKey128) []byte {
	t.Helper()
	var rec bytes.Buffer
	rec.WriteByte(1) // key_count
	rec.WriteByte(0) // file size high byte
	binary.Write(&rec, binary.BigEndian, uint32(0))
	rec.Write(ckey[:])
	rec.Write(ekey[:])
	cpage := make([]byte, 1024)
	copy(cpage, rec.Bytes())
	cpageHash := cashash.ContentHash(cpage)

	var buf bytes.Buffer
	buf.WriteString("EN")
	buf.WriteByte(1)
	buf.WriteByte(16)
	buf.WriteByte(16)
	binary.Write(&buf, binary.BigEndian, uint16(1)) // cpagekb
	binary.Write(&buf, binary.BigEndian, uint16(1)) // epagekb
	binary.Write(&buf, binary.BigEndian, uint32(1)) // ccount
	binary.Write(&buf, binary.BigEndian, uint32(0)) // ecount
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, uint32(0)) // espec size
	buf.Write(ckey[:])
	buf.Write(cpageHash[:])
	buf.Write(cpage)
	return buf.Bytes()
}
