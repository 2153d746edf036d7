package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rpcpool/castool/archiveindex"
	"github.com/rpcpool/castool/cashash"
)

var FlagArchiveKey = &cli.StringFlag{
	Name:  "archive-key",
	Usage: "32-hex-character archive key the index file should content-address. Defaults to the hash derived from the file's own footer.",
}

// newCmd_IndexInspect dumps an archive index file's footer fields and entry
// count without resolving any content through it.
func newCmd_IndexInspect() *cli.Command {
	return &cli.Command{
		Name:      "index",
		Usage:     "Inspect an archive index file.",
		Subcommands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "Parse an archive index file and print its entry count and footer fields.",
				ArgsUsage: "<archive-index-file>",
				Flags:     []cli.Flag{FlagArchiveKey},
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					if path == "" {
						return fmt.Errorf("an archive index file path is required")
					}
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("reading %s: %w", path, err)
					}

					archiveKey, err := resolveArchiveKey(c.String(FlagArchiveKey.Name), data)
					if err != nil {
						return err
					}

					idx, err := archiveindex.Parse(archiveKey, data)
					if err != nil {
						return fmt.Errorf("parsing %s: %w", path, err)
					}
					fmt.Printf("archive=%x entries=%d\n", archiveKey, len(idx))
					footer := data[len(data)-28:]
					fmt.Printf("footer: version=%d block_size_kb=%d offset_bytes=%d size_bytes=%d key_size=%d checksum_size=%d num_elements=%d\n",
						footer[8], footer[11], footer[12], footer[13], footer[14], footer[15],
						binary.LittleEndian.Uint32(footer[16:20]))
					return nil
				},
			},
		},
	}
}

// resolveArchiveKey derives the archive key from the file's own footer hash
// when --archive-key is not supplied, matching how archive index files are
// conventionally named after their own content hash.
func resolveArchiveKey(flagValue string, data []byte) (cashash.ContentKey128, error) {
	if flagValue != "" {
		var key cashash.ContentKey128
		if len(flagValue) != 32 {
			return key, fmt.Errorf("expected 32 hex characters, got %d", len(flagValue))
		}
		decoded, err := hex.DecodeString(flagValue)
		if err != nil {
			return key, fmt.Errorf("parsing hex key %q: %w", flagValue, err)
		}
		copy(key[:], decoded)
		return key, nil
	}
	const footerSize = 28
	if len(data) < footerSize {
		return cashash.ContentKey128{}, fmt.Errorf("truncated index file: %d bytes", len(data))
	}
	return cashash.ContentHash(data[len(data)-footerSize:]), nil
}
