package cashash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentHash(t *testing.T) {
	h := ContentHash([]byte("hello"))
	// md5("hello") = 5d41402abc4b2a76b9719d911017c592
	require.Equal(t, "5d41402abc4b2a76b9719d911017c592", hex(h[:]))
}

func TestNameHashSwapsHalves(t *testing.T) {
	name := `Interface\FrameXML\FrameXML.toc`
	got := NameHash(name)

	hi, lo := lookup3(normalizeForHash(name))
	direct := (uint64(hi) << 32) | uint64(lo)
	swapped := (uint64(lo) << 32) | uint64(hi)

	require.Equal(t, swapped, got)
	require.NotEqual(t, direct, got, "swap step must change the value for a nonzero hash")
}

func TestNameHashStableUnderSeparatorNormalization(t *testing.T) {
	require.Equal(t,
		NameHash(`Interface\FrameXML\FrameXML.toc`),
		NameHash(`Interface/FrameXML/FrameXML.toc`),
	)
	require.Equal(t,
		NameHash(`interface\framexml\framexml.toc`),
		NameHash(`INTERFACE\FRAMEXML\FRAMEXML.TOC`),
	)
}

func hex(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}
