package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"garage-control/pkg/garage"
)

func main() {
	var opts garage.Options
	flag.StringVar(&opts.ConfigPath, "config", "config/garage.conf", "path to garage config (.conf, .yaml or .toml)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "override log level")
	flag.StringVar(&opts.StorageDir, "storage-dir", "", "override journal directory")
	flag.StringVar(&opts.StorageType, "storage-type", "", "journal format: json, csv, both, none or db")
	flag.StringVar(&opts.DBPath, "db", "", "override history database path")
	flag.StringVar(&opts.HTTPAddr, "http", "", "override HTTP API address")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := garage.RunCentral(ctx, opts); err != nil {
		log.Fatal().Err(err).Msg("central exited")
	}
}
