package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"garage-control/internal/model"
)

var historyHeader = []string{"session_id", "plate", "temporary", "floor", "entry_at", "entry_confidence", "exit_at", "exit_confidence", "minutes", "fare"}

// WriteJSON writes vehicle records to a JSON file with pretty formatting.
func WriteJSON(path string, records []model.VehicleRecord) error {
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteCSV writes vehicle records to a CSV file, one session per row.
func WriteCSV(path string, records []model.VehicleRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()
	return EncodeCSV(f, records)
}

// EncodeCSV writes the CSV form of records to w.
func EncodeCSV(w io.Writer, records []model.VehicleRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		var exitAt, exitConf string
		if r.ExitAt != nil {
			exitAt = timeToRFC3339(*r.ExitAt)
		}
		if r.ExitConfidence != nil {
			exitConf = strconv.Itoa(*r.ExitConfidence)
		}
		rec := []string{
			r.SessionID,
			r.Plate,
			strconv.FormatBool(r.Temporary),
			r.Floor.Name(),
			timeToRFC3339(r.EntryAt),
			strconv.Itoa(r.EntryConfidence),
			exitAt,
			exitConf,
			strconv.Itoa(r.DurationMinutes),
			strconv.FormatFloat(r.Fare, 'f', 2, 64),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func timeToRFC3339(t time.Time) string { return t.Format(time.RFC3339Nano) }
