// Package tasks wires configuration, logging, persistence and hardware into
// the node orchestrators. The cmd binaries and pkg/garage call into it.
package tasks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"garage-control/internal/config"
	"garage-control/internal/db"
	"garage-control/internal/gpio"
	"garage-control/internal/logging"
	"garage-control/internal/modbus"
	"garage-control/internal/model"
	"garage-control/internal/node"
	"garage-control/internal/peripheral"
	"garage-control/internal/storage"
)

// Options defines initialization overrides for a node. Mirrors the CLI flags
// of the cmd binaries; empty fields keep the configured value.
type Options struct {
	ConfigPath  string
	LogLevel    string
	GPIODriver  string
	SerialPort  string
	StorageDir  string
	StorageType string
	DBPath      string
	HTTPAddr    string
}

func (o Options) overrides() map[string]string {
	return map[string]string{
		"log_level":         o.LogLevel,
		"gpio_driver":       o.GPIODriver,
		"modbus_port":       o.SerialPort,
		"storage_dir":       o.StorageDir,
		"storage_file_type": o.StorageType,
		"db_path":           o.DBPath,
		"http_addr":         o.HTTPAddr,
	}
}

// LoadSettings reads the config file, applies environment variables and then
// the non-empty option overrides.
func LoadSettings(opts Options) (node.Settings, error) {
	v, err := config.Load(opts.ConfigPath)
	if err != nil {
		return node.Settings{}, err
	}
	for k, val := range opts.overrides() {
		if val != "" {
			v.Set(k, val)
		}
	}
	return node.FromValues(v)
}

// RunCentral starts the coordinator with its journal and history database.
// Sessions still open in the database are restored into the ledger.
func RunCentral(ctx context.Context, opts Options) error {
	s, err := LoadSettings(opts)
	if err != nil {
		return err
	}
	logging.Init("central", s.LogLevel)

	var saver storage.EventSaver
	var restored []model.VehicleRecord
	if s.DBPath != "" {
		d, err := db.Open(s.DBPath)
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		defer d.Close()
		if restored, err = d.OpenSessions(ctx); err != nil {
			return fmt.Errorf("restore open sessions: %w", err)
		}
		saver = d
	}
	journal, err := storage.New(s.StorageDir, s.StorageType, s.StorageQueue, saver)
	if err != nil {
		return err
	}
	defer journal.Close()

	return node.NewCentral(s, journal, restored).Run(ctx)
}

// RunGround starts the ground node. A serial bus that cannot be opened puts
// the node in degraded mode instead of failing.
func RunGround(ctx context.Context, opts Options) error {
	s, err := LoadSettings(opts)
	if err != nil {
		return err
	}
	logging.Init("terreo", s.LogLevel)

	pins, err := gpio.Open(s.GPIODriver)
	if err != nil {
		return err
	}
	defer pins.Cleanup()

	var bus peripheral.RegisterBus
	if c, err := modbus.Open(s.Serial, s.Token); err != nil {
		log.Error().Err(err).Str("port", s.Serial.Address).Msg("serial bus unavailable, running degraded")
	} else {
		defer c.Close()
		bus = c
	}

	g, err := node.NewGround(s, pins, bus)
	if err != nil {
		return err
	}
	return g.Run(ctx)
}

// RunFloor starts the node for floor 1 or 2.
func RunFloor(ctx context.Context, opts Options, floor int) error {
	s, err := LoadSettings(opts)
	if err != nil {
		return err
	}
	f := model.Floor(floor)
	logging.Init(f.Name(), s.LogLevel)

	pins, err := gpio.Open(s.GPIODriver)
	if err != nil {
		return err
	}
	defer pins.Cleanup()

	n, err := node.NewFloor(s, f, pins)
	if err != nil {
		return err
	}
	return n.Run(ctx)
}
