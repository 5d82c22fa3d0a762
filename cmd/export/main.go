package main

import (
	"context"
	"flag"
	"time"

	"github.com/rs/zerolog/log"

	"garage-control/internal/db"
	"garage-control/internal/logging"
	"garage-control/internal/model"
	"garage-control/internal/output"
)

func main() {
	var dbPath, outJSON, outCSV, plate, from, to string
	var limit int
	flag.StringVar(&dbPath, "db", "data/garage.sqlite", "path to history database")
	flag.StringVar(&outJSON, "json", "", "path to write JSON export (optional)")
	flag.StringVar(&outCSV, "csv", "", "path to write CSV export (optional)")
	flag.StringVar(&plate, "placa", "", "export only sessions of this plate")
	flag.StringVar(&from, "de", "", "start of entry window (RFC 3339)")
	flag.StringVar(&to, "ate", "", "end of entry window (RFC 3339)")
	flag.IntVar(&limit, "limit", 0, "max finished sessions (0 = all)")
	flag.Parse()

	logging.Init("export", "info")
	if outJSON == "" && outCSV == "" {
		log.Fatal().Msg("no output specified: set --json and/or --csv")
	}

	d, err := db.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var recs []model.VehicleRecord
	switch {
	case plate != "":
		recs, err = d.PlateHistory(ctx, plate)
	case from != "" || to != "":
		var start, end time.Time
		if start, err = parseBound(from, time.Time{}); err == nil {
			end, err = parseBound(to, time.Now())
		}
		if err == nil {
			recs, err = d.HistoryBetween(ctx, start, end)
		}
	default:
		recs, err = d.History(ctx, limit)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("query history")
	}

	if outJSON != "" {
		if err := output.WriteJSON(outJSON, recs); err != nil {
			log.Error().Err(err).Msg("write json")
		}
	}
	if outCSV != "" {
		if err := output.WriteCSV(outCSV, recs); err != nil {
			log.Error().Err(err).Msg("write csv")
		}
	}
	log.Info().Int("sessions", len(recs)).Msg("export done")
}

func parseBound(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, s)
}
