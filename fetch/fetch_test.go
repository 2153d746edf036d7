package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/castool/cashash"
	"github.com/rpcpool/castool/resolver"
)

type fakeFetcher struct {
	failFirstNCallsPerURL int
	calls                 map[string]int
	responses             map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, rng *ByteRange) ([]byte, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[url]++
	if f.calls[url] <= f.failFirstNCallsPerURL {
		return nil, errors.New("simulated transport failure")
	}
	data, ok := f.responses[url]
	if !ok {
		return nil, errors.New("no such object")
	}
	if rng != nil {
		return data[rng.Start : rng.End+1], nil
	}
	return data, nil
}

func buildUnframedBLTE(t *testing.T, payload []byte) ([]byte, cashash.ContentKey128) {
	t.Helper()
	body := append([]byte("BLTE\x00\x00\x00\x00"), payload...)
	return body, cashash.ContentHash(body)
}

func TestFetchContentSucceedsOnFirstHost(t *testing.T) {
	payload := []byte("addon data")
	blob, ekey := buildUnframedBLTE(t, payload)
	ckey := cashash.ContentHash(payload)

	var archiveKey cashash.ContentKey128
	archiveKey[0] = 0xaa
	hexHash := hexString(archiveKey)
	fullURL := "http://host-a/data/" + hexHash[0:2] + "/" + hexHash[2:4] + "/" + hexHash

	ff := &fakeFetcher{responses: map[string][]byte{fullURL: blob}}
	o := New(ff, []string{"http://host-a"})

	loc := resolver.Locator{
		Archive:            archiveKey,
		Offset:             0,
		Length:             uint32(len(blob)),
		ExpectedContentKey: ckey,
		EncodingKey:        ekey,
	}

	out, err := o.FetchContent(context.Background(), loc)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestFetchContentFallsBackToSecondHost(t *testing.T) {
	payload := []byte("more data")
	blob, ekey := buildUnframedBLTE(t, payload)
	ckey := cashash.ContentHash(payload)

	var archiveKey cashash.ContentKey128
	archiveKey[0] = 0xbb
	hexHash := hexString(archiveKey)
	pathSuffix := hexHash[0:2] + "/" + hexHash[2:4] + "/" + hexHash
	urlA := "http://host-a/data/" + pathSuffix
	urlB := "http://host-b/data/" + pathSuffix

	ff := &fakeFetcher{
		responses: map[string][]byte{urlB: blob}, // host A has nothing; host B does
	}
	o := New(ff, []string{"http://host-a", "http://host-b"})

	loc := resolver.Locator{
		Archive: archiveKey, Offset: 0, Length: uint32(len(blob)),
		ExpectedContentKey: ckey, EncodingKey: ekey,
	}

	out, err := o.FetchContent(context.Background(), loc)
	require.NoError(t, err)
	require.Equal(t, payload, out)
	require.Equal(t, 1, ff.calls[urlA])
}

func hexString(k cashash.ContentKey128) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range k {
		out[i*2] = digits[b>>4]
		out[i*2+1] = digits[b&0xf]
	}
	return string(out)
}
