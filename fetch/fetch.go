// Package fetch drives the concurrent, checksum-verifying, multi-host
// content fetch: resolve, range-fetch the encoded bytes, BLTE-decode, verify
// against the content key.
package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/semaphore"

	"github.com/rpcpool/castool/blte"
	"github.com/rpcpool/castool/cashash"
	"github.com/rpcpool/castool/caserr"
	"github.com/rpcpool/castool/resolver"
)

var log = logging.Logger("fetch")

const stage = "fetch"

// MaxRounds bounds how many times the full host list is retried before a
// fetch is declared terminal.
const MaxRounds = 9

// MaxInFlight is the process-wide cap on concurrent HTTP requests.
const MaxInFlight = 5

// ByteRange is an inclusive byte range for a ranged fetch.
type ByteRange struct {
	Start, End int64
}

// ByteFetcher is the external transport capability this package consumes.
// Errors must be distinguishable between transport (network/status) and
// malformed-response failures — callers should wrap the former with
// caserr.Transport.
type ByteFetcher interface {
	Fetch(ctx context.Context, url string, rng *ByteRange) ([]byte, error)
}

// Orchestrator resolves content keys to bytes across a multi-host CDN
// fleet, bounding in-flight requests and retrying transport failures across
// hosts before giving up.
type Orchestrator struct {
	fetcher ByteFetcher
	hosts   []string
	sem     *semaphore.Weighted
}

// New builds an Orchestrator. hosts is the ordered CDN host-prefix list
// (e.g. "http://host/tpr/wow"); every attempt round tries them in this
// order.
func New(fetcher ByteFetcher, hosts []string) *Orchestrator {
	return &Orchestrator{
		fetcher: fetcher,
		hosts:   hosts,
		sem:     semaphore.NewWeighted(MaxInFlight),
	}
}

// objectPath builds the CDN object path for tag T and hex hash H:
// T/H[0:2]/H[2:4]/H, with an optional suffix (e.g. ".index").
func objectPath(tag, hexHash, suffix string) string {
	return fmt.Sprintf("%s/%s/%s/%s%s", tag, hexHash[0:2], hexHash[2:4], hexHash, suffix)
}

// FetchContent resolves loc (a Locator already produced by a resolver) into
// verified, decoded bytes: a ranged fetch for the archive blob, BLTE decode
// using the encoding key, then a content-key integrity check.
func (o *Orchestrator) FetchContent(ctx context.Context, loc resolver.Locator) ([]byte, error) {
	hexHash := fmt.Sprintf("%032x", loc.Archive)
	path := objectPath("data", hexHash, "")

	rng := &ByteRange{Start: int64(loc.Offset), End: int64(loc.Offset) + int64(loc.Length) - 1}
	raw, err := o.fetchRanged(ctx, path, rng)
	if err != nil {
		return nil, err
	}
	if uint32(len(raw)) != loc.Length {
		return nil, caserr.Formatf(stage, "short read: wanted %d bytes, got %d", loc.Length, len(raw))
	}

	decoded, err := blte.Decode(loc.EncodingKey, raw)
	if err != nil {
		return nil, err
	}
	if cashash.ContentHash(decoded) != loc.ExpectedContentKey {
		return nil, caserr.Integrityf(stage, "decoded content does not hash to the expected content key")
	}
	log.Debugw("fetched content", "bytes", humanize.Bytes(uint64(len(decoded))))
	return decoded, nil
}

// FetchIndex fetches and returns the raw bytes of one archive's ".index"
// file, content-addressed by archiveKey.
func (o *Orchestrator) FetchIndex(ctx context.Context, archiveKey cashash.ContentKey128) ([]byte, error) {
	hexHash := fmt.Sprintf("%032x", archiveKey)
	path := objectPath("data", hexHash, ".index")
	return o.fetchRanged(ctx, path, nil)
}

// FetchConfigFile fetches a build-config or CDN-config text blob,
// content-addressed by its hex hash under the "config" tag.
func (o *Orchestrator) FetchConfigFile(ctx context.Context, hexHash string) ([]byte, error) {
	path := objectPath("config", hexHash, "")
	return o.fetchRanged(ctx, path, nil)
}

// FetchLoose fetches and BLTE-decodes a whole, unarchived "data" object by
// its encoding key — the shape the encoding and root tables themselves are
// always distributed in, since bootstrapping the resolution chain cannot
// depend on an archive index that the encoding table itself is needed to
// locate.
func (o *Orchestrator) FetchLoose(ctx context.Context, encodingKey cashash.ContentKey128) ([]byte, error) {
	hexHash := fmt.Sprintf("%032x", encodingKey)
	path := objectPath("data", hexHash, "")
	raw, err := o.fetchRanged(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return blte.Decode(encodingKey, raw)
}

// fetchRanged performs the bounded-concurrency, multi-host, multi-round
// fetch of one path, honoring rng if supplied. The concurrency permit is
// held only for the duration of one host attempt, not across the whole
// multi-round retry, so a slow or stuck fetch cannot pin a permit idle
// through backoff sleeps and unrelated hosts.
func (o *Orchestrator) fetchRanged(ctx context.Context, path string, rng *ByteRange) ([]byte, error) {
	var result []byte
	round := 0
	op := func() error {
		round++
		var lastErr error
		for _, host := range o.hosts {
			url := strings.TrimRight(host, "/") + "/" + path
			data, err := o.attempt(ctx, url, rng)
			if err == nil {
				result = data
				return nil
			}
			log.Warnw("fetch attempt failed", "url", url, "round", round, "err", err)
			lastErr = err
		}
		return fmt.Errorf("round %d: all hosts failed: %w", round, lastErr)
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(MaxRounds-1))
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, caserr.Transport(stage, fmt.Errorf("%s: %w", path, err))
	}
	return result, nil
}

// attempt performs one bounded-concurrency fetch against a single host,
// acquiring and releasing its permit around just this request.
func (o *Orchestrator) attempt(ctx context.Context, url string, rng *ByteRange) ([]byte, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, caserr.Transport(stage, err)
	}
	defer o.sem.Release(1)
	return o.fetcher.Fetch(ctx, url, rng)
}
