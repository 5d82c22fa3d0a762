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
	var floor int
	flag.IntVar(&floor, "andar", 1, "floor served by this node (1 or 2)")
	flag.StringVar(&opts.ConfigPath, "config", "config/garage.conf", "path to garage config (.conf, .yaml or .toml)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "override log level")
	flag.StringVar(&opts.GPIODriver, "gpio", "", "gpio driver: sim or sysfs")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := garage.RunFloor(ctx, opts, floor); err != nil {
		log.Fatal().Err(err).Int("andar", floor).Msg("floor node exited")
	}
}
