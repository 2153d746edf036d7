// Package materialize drives one end-to-end product-materialization pass:
// resolve a product's config hashes and CDN host list, fetch and parse the
// encoding/root/archive-index trio, then walk the addon closure through the
// fetch orchestrator.
package materialize

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/castool/archiveindex"
	"github.com/rpcpool/castool/caserr"
	"github.com/rpcpool/castool/cashash"
	"github.com/rpcpool/castool/closure"
	"github.com/rpcpool/castool/datatable"
	"github.com/rpcpool/castool/encoding"
	"github.com/rpcpool/castool/fetch"
	"github.com/rpcpool/castool/productconfig"
	"github.com/rpcpool/castool/resolver"
	"github.com/rpcpool/castool/roottable"
)

var log = logging.Logger("materialize")

const stage = "materialize"

// Request parameterizes one pass: the product slug, the preferred CDN
// region row selector (conventionally "us"), and the product tag used to
// probe tagged ".toc" variants. The closure walk's seed — addon
// directories and the name-to-file-id fallback table — is not supplied by
// the caller: it is derived from the product's own data tables during
// Bootstrap.
type Request struct {
	Product    string
	Region     string
	ProductTag string
	Cache      diskCache
}

// Run executes one full pass and returns the resolved addon closure.
// newOrchestrator builds the fetch.Orchestrator once the CDN host list is
// known — the host list itself comes from the product endpoint, which the
// orchestrator depends on but does not discover itself.
func Run(ctx context.Context, endpoint productconfig.ProductEndpoint, newOrchestrator func(hosts []string) *fetch.Orchestrator, req Request) ([]closure.File, error) {
	boot, err := Bootstrap(ctx, endpoint, newOrchestrator, req.Product, req.Region)
	if err != nil {
		return nil, err
	}
	content := &resolvedContent{resolver: boot.Resolver, orch: boot.Orchestrator, cache: req.Cache}

	return closure.Walk(ctx, content, boot.AddonDirs, req.ProductTag, boot.NameFallback)
}

// Bootstrapped is the result of resolving a product's config and core
// tables: a ready-to-use Resolver, the Orchestrator it was built against,
// and the closure-walk seed (addon directories and name-to-file-id
// fallback table) derived from the product's own data tables.
type Bootstrapped struct {
	Resolver     *resolver.Resolver
	Orchestrator *fetch.Orchestrator
	AddonDirs    []string
	NameFallback map[string]uint32
}

// Bootstrap resolves a product's config, fetches and parses its encoding,
// root, and archive-index trio, and derives the closure-walk seed from the
// product's addon-directory and name-fallback data tables. Callers that
// only need to look up individual Locators (rather than walk the full
// addon closure) can use this directly and ignore the seed fields.
func Bootstrap(ctx context.Context, endpoint productconfig.ProductEndpoint, newOrchestrator func(hosts []string) *fetch.Orchestrator, product, region string) (*Bootstrapped, error) {
	buildHash, cdnHash, err := productVersionHashes(ctx, endpoint, product, region)
	if err != nil {
		return nil, err
	}
	hosts, err := cdnHosts(ctx, endpoint, product, region)
	if err != nil {
		return nil, err
	}
	log.Infow("resolved product config", "product", product, "hosts", hosts)
	orch := newOrchestrator(hosts)

	buildConfigRaw, err := orch.FetchConfigFile(ctx, buildHash)
	if err != nil {
		return nil, err
	}
	cdnConfigRaw, err := orch.FetchConfigFile(ctx, cdnHash)
	if err != nil {
		return nil, err
	}
	buildConfig := productconfig.ParseKeyValues(string(buildConfigRaw))
	cdnConfig := productconfig.ParseKeyValues(string(cdnConfigRaw))

	encodingKeyHex, ok := buildConfig.EncodingKey()
	if !ok {
		return nil, caserr.Missf(stage, "build config has no encoding field")
	}
	encodingTableKey, err := parseHexKey(encodingKeyHex)
	if err != nil {
		return nil, caserr.Format(stage, err)
	}
	rootKeyHex, ok := buildConfig.Root()
	if !ok {
		return nil, caserr.Missf(stage, "build config has no root field")
	}
	rootContentKey, err := parseHexKey(rootKeyHex)
	if err != nil {
		return nil, caserr.Format(stage, err)
	}

	// The top-level subgraphs — archive-index assembly and encoding+root
	// assembly — are independent and must both complete before any
	// content fetch. They run sequentially here for clarity; their cost
	// is dominated by the per-archive fan-out below, which does run
	// concurrently.
	enc, root, err := fetchEncodingAndRoot(ctx, orch, encodingTableKey, rootContentKey)
	if err != nil {
		return nil, err
	}
	archives, err := fetchArchiveIndices(ctx, orch, cdnConfig.Archives())
	if err != nil {
		return nil, err
	}
	addonDirs, nameFallback, err := fetchClosureSeed(ctx, orch, buildConfig)
	if err != nil {
		return nil, err
	}

	return &Bootstrapped{
		Resolver:     resolver.New(root, enc, archives),
		Orchestrator: orch,
		AddonDirs:    addonDirs,
		NameFallback: nameFallback,
	}, nil
}

// fetchClosureSeed fetches and parses the two data tables the closure
// walk's seed is derived from: one listing addon directory names, the
// other mapping lowercased file names to file ids as a resolution
// fallback. Both tables are, like the encoding and root tables, always
// distributed as loose (unarchived) data objects.
func fetchClosureSeed(ctx context.Context, orch *fetch.Orchestrator, buildConfig productconfig.KeyValues) ([]string, map[string]uint32, error) {
	dirHex, ok := buildConfig.AddonDirTable()
	if !ok {
		return nil, nil, caserr.Missf(stage, "build config has no addondirs field")
	}
	dirTable, err := fetchDataTable(ctx, orch, dirHex)
	if err != nil {
		return nil, nil, err
	}
	addonDirs := make([]string, 0, len(dirTable))
	for _, strs := range dirTable {
		if len(strs) > 0 {
			addonDirs = append(addonDirs, strs[0])
		}
	}

	fallbackHex, ok := buildConfig.NameFallbackTable()
	if !ok {
		return nil, nil, caserr.Missf(stage, "build config has no namefallback field")
	}
	fallbackTable, err := fetchDataTable(ctx, orch, fallbackHex)
	if err != nil {
		return nil, nil, err
	}
	nameFallback := make(map[string]uint32, len(fallbackTable))
	for fdid, strs := range fallbackTable {
		if len(strs) > 0 {
			nameFallback[strings.ToLower(strs[0])] = fdid
		}
	}

	return addonDirs, nameFallback, nil
}

func fetchDataTable(ctx context.Context, orch *fetch.Orchestrator, encodingKeyHex string) (datatable.Strings, error) {
	key, err := parseHexKey(encodingKeyHex)
	if err != nil {
		return nil, caserr.Format(stage, err)
	}
	blob, err := orch.FetchLoose(ctx, key)
	if err != nil {
		return nil, err
	}
	return datatable.Parse(blob)
}

func productVersionHashes(ctx context.Context, endpoint productconfig.ProductEndpoint, product, region string) (buildHash, cdnHash string, err error) {
	rows, err := endpoint.Versions(ctx, product)
	if err != nil {
		return "", "", err
	}
	row, ok := productconfig.FindByField(rows, "Region", region)
	if !ok {
		return "", "", caserr.Missf(stage, "no versions row for region %q", region)
	}
	return row["BuildConfig"], row["CDNConfig"], nil
}

func cdnHosts(ctx context.Context, endpoint productconfig.ProductEndpoint, product, region string) ([]string, error) {
	rows, err := endpoint.CDNs(ctx, product)
	if err != nil {
		return nil, err
	}
	row, ok := productconfig.FindByField(rows, "Name", region)
	if !ok {
		return nil, caserr.Missf(stage, "no cdns row for region %q", region)
	}
	return productconfig.Hosts(row), nil
}

// fetchEncodingAndRoot bootstraps the encoding and root tables themselves:
// both are always distributed as loose (unarchived) data objects, since
// resolving them through the archive index would require the encoding table
// to already be parsed.
func fetchEncodingAndRoot(ctx context.Context, orch *fetch.Orchestrator, encodingTableKey, rootContentKey cashash.ContentKey128) (*encoding.Encoding, *roottable.Root, error) {
	encodingBlob, err := orch.FetchLoose(ctx, encodingTableKey)
	if err != nil {
		return nil, nil, err
	}
	enc, err := encoding.Parse(encodingBlob)
	if err != nil {
		return nil, nil, err
	}

	rootEncodingKey, err := enc.CanonicalEncodingKey(rootContentKey)
	if err != nil {
		return nil, nil, err
	}
	rootBlob, err := orch.FetchLoose(ctx, rootEncodingKey)
	if err != nil {
		return nil, nil, err
	}
	root, err := roottable.Parse(rootBlob)
	if err != nil {
		return nil, nil, err
	}
	return enc, root, nil
}

// fetchArchiveIndices fetches every archive's ".index" file and merges them
// into one lookup. Per-archive fetches run concurrently; the merge is
// order-independent.
func fetchArchiveIndices(ctx context.Context, orch *fetch.Orchestrator, archiveHashes []string) (archiveindex.Index, error) {
	type result struct {
		idx archiveindex.Index
		err error
	}
	results := make(chan result, len(archiveHashes))
	for _, hexHash := range archiveHashes {
		hexHash := hexHash
		go func() {
			key, err := parseHexKey(hexHash)
			if err != nil {
				results <- result{err: caserr.Format(stage, err)}
				return
			}
			raw, err := orch.FetchIndex(ctx, key)
			if err != nil {
				results <- result{err: err}
				return
			}
			idx, err := archiveindex.Parse(key, raw)
			results <- result{idx: idx, err: err}
		}()
	}

	indices := make([]archiveindex.Index, 0, len(archiveHashes))
	for range archiveHashes {
		r := <-results
		if r.err != nil {
			return nil, r.err
		}
		indices = append(indices, r.idx)
	}
	return archiveindex.Merge(indices...)
}

func parseHexKey(hexHash string) (cashash.ContentKey128, error) {
	var key cashash.ContentKey128
	if len(hexHash) != 32 {
		return key, fmt.Errorf("expected 32 hex characters, got %d", len(hexHash))
	}
	decoded, err := hex.DecodeString(hexHash)
	if err != nil {
		return key, fmt.Errorf("parsing hex key %q: %w", hexHash, err)
	}
	copy(key[:], decoded)
	return key, nil
}

// diskCache is the subset of cache.Store's surface this package needs,
// kept as an interface so a Request can be run without one.
type diskCache interface {
	Get(contentKey cashash.ContentKey128) ([]byte, bool)
	Put(contentKey, encodingKey cashash.ContentKey128, data []byte) error
}

// resolvedContent adapts a resolver.Resolver and a fetch.Orchestrator into
// the closure.Content capability, consulting an optional disk cache first.
type resolvedContent struct {
	resolver *resolver.Resolver
	orch     *fetch.Orchestrator
	cache    diskCache
}

func (c *resolvedContent) ByName(ctx context.Context, name string) ([]byte, error) {
	loc, err := c.resolver.ByName(name)
	if err != nil {
		return nil, err
	}
	return c.fetch(ctx, loc)
}

func (c *resolvedContent) ByID(ctx context.Context, fdid uint32) ([]byte, error) {
	loc, err := c.resolver.ByID(fdid)
	if err != nil {
		return nil, err
	}
	return c.fetch(ctx, loc)
}

func (c *resolvedContent) fetch(ctx context.Context, loc resolver.Locator) ([]byte, error) {
	if c.cache != nil {
		if data, ok := c.cache.Get(loc.ExpectedContentKey); ok {
			return data, nil
		}
	}
	data, err := c.orch.FetchContent(ctx, loc)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Put(loc.ExpectedContentKey, loc.EncodingKey, data); err != nil {
			log.Warnw("cache write failed", "err", err)
		}
	}
	return data, nil
}
