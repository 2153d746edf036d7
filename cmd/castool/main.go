package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

// subsystems names the packages -v/-vv set a log level for. Of these, only
// closure, cache, fetch and materialize register a logger; setting the
// level of the others fails, and that error is ignored.
var subsystems = []string{
	"cashash",
	"blte",
	"encoding",
	"roottable",
	"archiveindex",
	"datatable",
	"fetch",
	"cache",
	"closure",
	"resolver",
	"materialize",
}

func before(c *cli.Context) error {
	level := "WARN"
	if c.Bool(FlagVerbose.Name) {
		level = "INFO"
	}
	if c.Bool(FlagVeryVerbose.Name) {
		level = "DEBUG"
	}

	if os.Getenv("GOLOG_LOG_LEVEL") == "" {
		for _, name := range subsystems {
			_ = logging.SetLogLevel(name, level)
		}
	}
	return nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "castool",
		Version:     GitCommit,
		Description: "Resolve and fetch content-addressed game assets from a CDN-backed CAS.",
		Flags: []cli.Flag{
			FlagVerbose,
			FlagVeryVerbose,
		},
		Before: before,
		Commands: []*cli.Command{
			newCmd_Fetch(),
			newCmd_Resolve(),
			newCmd_IndexInspect(),
			newCmd_Version(),
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}
