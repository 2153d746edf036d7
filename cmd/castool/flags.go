package main

import "github.com/urfave/cli/v2"

var (
	FlagVerbose = &cli.BoolFlag{
		Name:  "v",
		Usage: "Enable verbose (info-level) logging.",
	}
	FlagVeryVerbose = &cli.BoolFlag{
		Name:  "vv",
		Usage: "Enable very verbose (debug-level) logging.",
	}
)

var (
	FlagProduct = &cli.StringFlag{
		Name:     "product",
		Usage:    "Product slug, e.g. \"wow_classic_era\".",
		Required: true,
	}
	FlagRegion = &cli.StringFlag{
		Name:  "region",
		Usage: "Region row to select from the versions/cdns endpoints.",
		Value: "us",
	}
	FlagProductTag = &cli.StringFlag{
		Name:  "product-tag",
		Usage: "Product tag used to probe tagged .toc variants, e.g. \"Mainline\".",
		Value: "Mainline",
	}
	FlagEndpoint = &cli.StringFlag{
		Name:     "endpoint",
		Usage:    "Base URL of the product-discovery endpoint.",
		Required: true,
	}
	FlagOut = &cli.StringFlag{
		Name:     "out",
		Usage:    "Output directory the resolved (path, bytes) stream is written to.",
		Required: true,
	}
	FlagCacheDir = &cli.StringFlag{
		Name:  "cache-dir",
		Usage: "Optional content-addressed disk cache directory.",
	}
)
