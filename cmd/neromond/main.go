// neromond is the marketplace DHT daemon. It owns the overlay identity,
// the routing table, and the content store, and serves the local client
// bridge.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/neromon/dhtcore/config"
	"github.com/neromon/dhtcore/daemon"
)

const (
	exitConfig  = 1
	exitBind    = 2
	exitStorage = 3
)

func main() {
	app := &cli.App{
		Name:  "neromond",
		Usage: "decentralized marketplace DHT daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML config file",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "overlay endpoint to accept peer connections on",
			},
			&cli.StringSliceFlag{
				Name:  "bootstrap",
				Usage: "peer endpoint to bootstrap against (repeatable)",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "directory for persistent state",
			},
			&cli.StringFlag{
				Name:  "bridge-listen",
				Usage: "local endpoint for the client bridge (unix socket path or tcp address)",
			},
			&cli.StringFlag{
				Name:  "metrics-listen",
				Usage: "address to serve prometheus metrics on (empty disables)",
			},
			&cli.StringFlag{
				Name:  "store-backend",
				Usage: "content store backend: pebble, pogreb, or memory",
			},
			&cli.IntFlag{
				Name:  "bucket-size",
				Usage: "routing table k-bucket capacity",
			},
			&cli.IntFlag{
				Name:  "bridge-workers",
				Usage: "bridge worker pool size",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level: debug, info, warn, error",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "neromond:", err)
		os.Exit(exitCodeFor(err))
	}
}

func run(cctx *cli.Context) error {
	if err := logging.SetLogLevel("*", cctx.String("log-level")); err != nil {
		return errors.Mark(err, daemon.ErrConfig)
	}

	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return errors.Mark(err, daemon.ErrConfig)
	}
	applyFlags(cctx, &cfg)

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		d.Close()
		return err
	}

	<-ctx.Done()
	return d.Close()
}

func applyFlags(cctx *cli.Context, cfg *config.Config) {
	if cctx.IsSet("listen") {
		cfg.Listen = cctx.String("listen")
	}
	if cctx.IsSet("bootstrap") {
		cfg.Bootstrap = cctx.StringSlice("bootstrap")
	}
	if cctx.IsSet("data-dir") {
		cfg.DataDir = cctx.String("data-dir")
	}
	if cctx.IsSet("bridge-listen") {
		cfg.BridgeListen = cctx.String("bridge-listen")
	}
	if cctx.IsSet("metrics-listen") {
		cfg.MetricsListen = cctx.String("metrics-listen")
	}
	if cctx.IsSet("store-backend") {
		cfg.StoreBackend = config.StoreBackend(cctx.String("store-backend"))
	}
	if cctx.IsSet("bucket-size") {
		cfg.BucketSize = cctx.Int("bucket-size")
	}
	if cctx.IsSet("bridge-workers") {
		cfg.BridgeWorkers = cctx.Int("bridge-workers")
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, daemon.ErrBind):
		return exitBind
	case errors.Is(err, daemon.ErrStorage):
		return exitStorage
	default:
		return exitConfig
	}
}
