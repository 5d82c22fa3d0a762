// Package storage journals coordinator events asynchronously to JSONL/CSV
// files and, optionally, the sqlite database.
package storage

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"garage-control/internal/model"
)

// EventSaver persists events; *db.DB satisfies it.
type EventSaver interface {
	SaveEvent(ctx context.Context, ev model.Event) error
}

const dbWriteTimeout = 5 * time.Second

// Storage writes journal events on a background goroutine. Handle never
// blocks: a full queue drops the event with an error.
type Storage struct {
	dir        string
	q          chan model.Event
	enableJSON bool
	enableCSV  bool
	db         EventSaver

	jsonFile   *os.File
	jsonWriter *bufio.Writer

	csvFile   *os.File
	csvWriter *csv.Writer

	closeOnce sync.Once
	closed    chan struct{}
}

var csvHeader = []string{"timestamp", "kind", "session_id", "plate", "floor", "entry_at", "exit_at", "minutes", "fare", "detail"}

// New ensures the output directory exists, opens the requested files and
// starts the writer. fileType is json, csv, both or none. db may be nil.
func New(dir, fileType string, maxQueue int, db EventSaver) (*Storage, error) {
	if dir == "" {
		dir = "data"
	}
	if st, err := os.Stat(dir); err == nil && !st.IsDir() {
		dir = filepath.Dir(dir)
	}

	enableJSON, enableCSV := false, false
	switch strings.ToLower(strings.TrimSpace(fileType)) {
	case "json", "jsonl":
		enableJSON = true
	case "csv":
		enableCSV = true
	case "json+csv", "csv+json", "both", "all", "":
		enableJSON, enableCSV = true, true
	case "none", "db":
	default:
		return nil, fmt.Errorf("unsupported storage file_type %q", fileType)
	}
	if !enableJSON && !enableCSV && db == nil {
		return nil, errors.New("storage must enable at least one output")
	}

	s := &Storage{
		dir:        dir,
		q:          make(chan model.Event, maxQueueIfPositive(maxQueue, 1000)),
		enableJSON: enableJSON,
		enableCSV:  enableCSV,
		db:         db,
		closed:     make(chan struct{}),
	}
	if enableJSON || enableCSV {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	if s.enableJSON {
		jf, err := os.OpenFile(filepath.Join(dir, "journal.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json output: %w", err)
		}
		s.jsonFile = jf
		s.jsonWriter = bufio.NewWriterSize(jf, 64*1024)
	}

	if s.enableCSV {
		cf, err := os.OpenFile(filepath.Join(dir, "journal.csv"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			s.closeFiles()
			return nil, fmt.Errorf("open csv output: %w", err)
		}
		s.csvFile = cf
		s.csvWriter = csv.NewWriter(cf)
		if off, _ := cf.Seek(0, io.SeekEnd); off == 0 {
			if err := s.csvWriter.Write(csvHeader); err != nil {
				s.closeFiles()
				return nil, fmt.Errorf("write csv header: %w", err)
			}
			s.csvWriter.Flush()
			if err := s.csvWriter.Error(); err != nil {
				s.closeFiles()
				return nil, err
			}
		}
	}

	go s.run()
	return s, nil
}

func maxQueueIfPositive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (s *Storage) run() {
	defer close(s.closed)
	for ev := range s.q {
		if s.enableJSON {
			if err := s.writeJSONL(ev); err != nil {
				log.Error().Err(err).Msg("journal jsonl write failed")
			}
		}
		if s.enableCSV {
			if err := s.writeCSV(ev); err != nil {
				log.Error().Err(err).Msg("journal csv write failed")
			}
		}
		if s.db != nil {
			ctx, cancel := context.WithTimeout(context.Background(), dbWriteTimeout)
			if err := s.db.SaveEvent(ctx, ev); err != nil {
				log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("journal db write failed")
			}
			cancel()
		}
		// flush when idle so tail -f sees events promptly
		if len(s.q) == 0 {
			s.flush()
		}
	}
	s.flush()
}

func (s *Storage) flush() {
	if s.jsonWriter != nil {
		_ = s.jsonWriter.Flush()
	}
	if s.csvWriter != nil {
		s.csvWriter.Flush()
	}
}

// Handle queues ev for writing.
func (s *Storage) Handle(ev model.Event) error {
	select {
	case s.q <- ev:
		return nil
	default:
		return errors.New("storage queue full")
	}
}

// Close drains the queue, stops the writer and closes files.
func (s *Storage) Close() {
	s.closeOnce.Do(func() {
		close(s.q)
		<-s.closed
		s.closeFiles()
	})
}

func (s *Storage) closeFiles() {
	if s.jsonFile != nil {
		s.jsonFile.Close()
	}
	if s.csvFile != nil {
		s.csvFile.Close()
	}
}

func (s *Storage) writeJSONL(ev model.Event) error {
	if s.jsonWriter == nil {
		return nil
	}
	obj := map[string]any{
		"timestamp": eventTime(ev).Format(time.RFC3339Nano),
		"kind":      ev.Kind,
	}
	switch {
	case ev.Record != nil:
		obj["record"] = ev.Record
	case ev.Audit != nil:
		obj["audit"] = ev.Audit
	case ev.Heartbeat != nil:
		obj["heartbeat"] = ev.Heartbeat
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	if _, err := s.jsonWriter.Write(b); err != nil {
		return err
	}
	_, err = s.jsonWriter.WriteString("\n")
	return err
}

func (s *Storage) writeCSV(ev model.Event) error {
	if s.csvWriter == nil {
		return nil
	}
	rec := make([]string, len(csvHeader))
	rec[0] = eventTime(ev).Format(time.RFC3339Nano)
	rec[1] = string(ev.Kind)
	switch {
	case ev.Record != nil:
		r := ev.Record
		rec[2], rec[3], rec[4] = r.SessionID, r.Plate, r.Floor.Name()
		rec[5] = r.EntryAt.Format(time.RFC3339)
		if r.ExitAt != nil {
			rec[6] = r.ExitAt.Format(time.RFC3339)
			rec[7] = strconv.Itoa(r.DurationMinutes)
			rec[8] = strconv.FormatFloat(r.Fare, 'f', 2, 64)
		}
	case ev.Audit != nil:
		rec[3], rec[9] = ev.Audit.Plate, ev.Audit.Kind
		if ev.Audit.Detail != "" {
			rec[9] += ": " + ev.Audit.Detail
		}
	case ev.Heartbeat != nil:
		rec[9] = ev.Heartbeat.Node
	}
	return s.csvWriter.Write(rec)
}

func eventTime(ev model.Event) time.Time {
	switch {
	case ev.Record != nil && ev.Record.ExitAt != nil:
		return *ev.Record.ExitAt
	case ev.Record != nil:
		return ev.Record.EntryAt
	case ev.Audit != nil:
		return ev.Audit.Timestamp
	case ev.Heartbeat != nil:
		return ev.Heartbeat.LastSeen
	}
	return time.Now()
}
