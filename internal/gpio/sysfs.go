package gpio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const sysfsPollInterval = 10 * time.Millisecond

// Sysfs drives pins through the legacy /sys/class/gpio interface. Edge
// interrupts are emulated by polling the value file.
type Sysfs struct {
	root string

	mu       sync.Mutex
	exported map[int]bool
	cancel   context.CancelFunc
	ctx      context.Context
	wg       sync.WaitGroup
}

func NewSysfs(root string) *Sysfs {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sysfs{root: root, exported: make(map[int]bool), ctx: ctx, cancel: cancel}
}

func (s *Sysfs) pinPath(pin int, file string) string {
	return filepath.Join(s.root, "gpio"+strconv.Itoa(pin), file)
}

func (s *Sysfs) export(pin int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exported[pin] {
		return nil
	}
	if _, err := os.Stat(filepath.Join(s.root, "gpio"+strconv.Itoa(pin))); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(filepath.Join(s.root, "export"), []byte(strconv.Itoa(pin)), 0o200); err != nil {
			return fmt.Errorf("gpio: export %d: %w", pin, err)
		}
	}
	s.exported[pin] = true
	return nil
}

func (s *Sysfs) ConfigureOutput(pin int, initial Level) error {
	if err := s.export(pin); err != nil {
		return err
	}
	dir := "low"
	if initial == High {
		dir = "high"
	}
	return os.WriteFile(s.pinPath(pin, "direction"), []byte(dir), 0o644)
}

func (s *Sysfs) ConfigureInput(pin int) error {
	if err := s.export(pin); err != nil {
		return err
	}
	return os.WriteFile(s.pinPath(pin, "direction"), []byte("in"), 0o644)
}

func (s *Sysfs) Write(pin int, level Level) error {
	return os.WriteFile(s.pinPath(pin, "value"), []byte(strconv.Itoa(int(level))), 0o644)
}

func (s *Sysfs) Read(pin int) (Level, error) {
	b, err := os.ReadFile(s.pinPath(pin, "value"))
	if err != nil {
		return Low, err
	}
	if strings.TrimSpace(string(b)) == "1" {
		return High, nil
	}
	return Low, nil
}

func (s *Sysfs) RegisterEdgeInterrupt(pin int, edge Edge, debounce time.Duration, fn EdgeFunc) error {
	last, err := s.Read(pin)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(sysfsPollInterval)
		defer t.Stop()
		var lastFire time.Time
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-t.C:
			}
			v, err := s.Read(pin)
			if err != nil {
				log.Warn().Err(err).Int("pin", pin).Msg("gpio read failed")
				continue
			}
			if v == last {
				continue
			}
			from := last
			last = v
			if !edge.matches(from, v) || time.Since(lastFire) < debounce {
				continue
			}
			lastFire = time.Now()
			fn(pin, v)
		}
	}()
	return nil
}

// Cleanup stops interrupt pollers and unexports every pin.
func (s *Sysfs) Cleanup() error {
	s.cancel()
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for pin := range s.exported {
		if err := os.WriteFile(filepath.Join(s.root, "unexport"), []byte(strconv.Itoa(pin)), 0o200); err != nil {
			errs = append(errs, err)
		}
	}
	s.exported = make(map[int]bool)
	return errors.Join(errs...)
}
