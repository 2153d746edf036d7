package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/rpcpool/castool/fetch"
	"github.com/rpcpool/castool/materialize"
	"github.com/rpcpool/castool/resolver"
)

var (
	FlagFileID = &cli.Uint64Flag{
		Name:  "id",
		Usage: "Numeric file id to resolve.",
	}
	FlagFileName = &cli.StringFlag{
		Name:  "name",
		Usage: "Filename to resolve.",
	}
)

// newCmd_Resolve prints a Locator without fetching its bytes: a debug aid
// for inspecting the resolution chain one hop at a time.
func newCmd_Resolve() *cli.Command {
	return &cli.Command{
		Name:        "resolve",
		Usage:       "Print a file's Locator without fetching its bytes.",
		Description: "Resolves a product's encoding, root, and archive index, then prints the Locator for --id or --name.",
		Flags: []cli.Flag{
			FlagProduct,
			FlagRegion,
			FlagEndpoint,
			FlagFileID,
			FlagFileName,
		},
		Action: func(c *cli.Context) error {
			name := c.String(FlagFileName.Name)
			hasID := c.IsSet(FlagFileID.Name)
			if name == "" && !hasID {
				return fmt.Errorf("one of --id or --name is required")
			}

			endpoint := newHTTPProductEndpoint(c.String(FlagEndpoint.Name))
			fetcher := newHTTPByteFetcher()

			boot, err := materialize.Bootstrap(c.Context, endpoint, func(hosts []string) *fetch.Orchestrator {
				return fetch.New(fetcher, hosts)
			}, c.String(FlagProduct.Name), c.String(FlagRegion.Name))
			if err != nil {
				return fmt.Errorf("resolving product config: %w", err)
			}
			res := boot.Resolver

			if hasID {
				loc, err := res.ByID(uint32(c.Uint64(FlagFileID.Name)))
				if err != nil {
					return err
				}
				printLocator(loc)
				return nil
			}

			loc, err := res.ByName(name)
			if err != nil {
				return err
			}
			printLocator(loc)
			return nil
		},
	}
}

func printLocator(loc resolver.Locator) {
	fmt.Printf("archive=%x offset=%d length=%d contentKey=%x encodingKey=%x\n",
		loc.Archive, loc.Offset, loc.Length, loc.ExpectedContentKey, loc.EncodingKey)
}
