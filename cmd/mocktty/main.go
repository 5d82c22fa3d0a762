package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"garage-control/internal/logging"
	"garage-control/internal/servermgr"
)

func main() {
	var cfgPath, level string
	flag.StringVar(&cfgPath, "config", "config/mocktty.yaml", "path to mocktty YAML config")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.Parse()

	logging.Init("mocktty", level)
	cfg, err := servermgr.LoadYAML(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := servermgr.NewManager(cfg).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("emulated bus exited")
	}
}
