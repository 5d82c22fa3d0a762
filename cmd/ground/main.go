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
	flag.StringVar(&opts.GPIODriver, "gpio", "", "gpio driver: sim or sysfs")
	flag.StringVar(&opts.SerialPort, "serial", "", "serial port, or tcp://host:port for the bus emulator")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := garage.RunGround(ctx, opts); err != nil {
		log.Fatal().Err(err).Msg("ground node exited")
	}
}
