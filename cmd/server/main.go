package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"scenehub/server/internal/app"
	"scenehub/server/internal/config"
	"scenehub/server/internal/telemetry"
)

const usage = `Scene hub: real-time shared 3D scene over websockets.

Settings are read from SCENEHUB_* environment variables; flags override them.

Usage:
    scenehub [--host=<host>] [--port=<port>] [--state=<path>] [--store=<backend>]
    scenehub -h | --help

Options:
    -h --help           Show this screen.
    --host=<host>       Listen host.
    -p --port=<port>    Listen port.
    --state=<path>      Scene snapshot location.
    --store=<backend>   Snapshot backend: file or sqlite.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		log.Fatalf("%v", err)
	}

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if err := applyFlags(&settings, opts); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Config{Settings: settings, Logger: telemetry.WrapLogger(log.Default())}); err != nil {
		log.Fatalf("%v", err)
	}
}

func applyFlags(settings *config.Config, opts docopt.Opts) error {
	if host, ok := opts["--host"].(string); ok {
		settings.Host = host
	}
	if opts["--port"] != nil {
		port, err := opts.Int("--port")
		if err != nil {
			return err
		}
		settings.Port = port
	}
	if path, ok := opts["--state"].(string); ok {
		settings.StatePath = path
	}
	if backend, ok := opts["--store"].(string); ok {
		settings.Store = backend
	}
	return settings.Validate()
}
