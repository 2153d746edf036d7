package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/rpcpool/castool/cache"
	"github.com/rpcpool/castool/fetch"
	"github.com/rpcpool/castool/materialize"
)

func newCmd_Fetch() *cli.Command {
	return &cli.Command{
		Name:        "fetch",
		Usage:       "Run a full product-materialization pass and write the resolved files to a directory.",
		Description: "Resolves a product's config, walks its addon closure, and writes the resulting (path, bytes) stream under --out.",
		Flags: []cli.Flag{
			FlagProduct,
			FlagRegion,
			FlagProductTag,
			FlagEndpoint,
			FlagOut,
			FlagCacheDir,
		},
		Action: func(c *cli.Context) error {
			endpoint := newHTTPProductEndpoint(c.String(FlagEndpoint.Name))

			var diskCache *cache.Store
			if dir := c.String(FlagCacheDir.Name); dir != "" {
				diskCache = cache.New(dir)
			}

			req := materialize.Request{
				Product:    c.String(FlagProduct.Name),
				Region:     c.String(FlagRegion.Name),
				ProductTag: c.String(FlagProductTag.Name),
			}
			if diskCache != nil {
				req.Cache = diskCache
			}

			fetcher := newHTTPByteFetcher()
			files, err := materialize.Run(c.Context, endpoint, func(hosts []string) *fetch.Orchestrator {
				return fetch.New(fetcher, hosts)
			}, req)
			if err != nil {
				return fmt.Errorf("materializing %s: %w", req.Product, err)
			}

			outDir := c.String(FlagOut.Name)
			for _, f := range files {
				if err := writeFile(outDir, f.Path, f.Bytes); err != nil {
					return err
				}
			}
			fmt.Printf("wrote %d files to %s\n", len(files), outDir)
			return nil
		},
	}
}

// writeFile translates a closure-internal backslash-separated path into one
// native to this OS and writes it under root, creating parent directories
// as needed — the zip-writer collaborator's job in a full packaging
// pipeline, stood in for here by a plain directory tree.
func writeFile(root, path string, data []byte) error {
	nativeRel := filepath.FromSlash(strings.ReplaceAll(path, "\\", "/"))
	fullPath := filepath.Join(root, nativeRel)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
