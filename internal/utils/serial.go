package utils

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/goburrow/serial"
)

// SerialParams describes the peripheral bus line.
type SerialParams struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

// EnsureSerialDefaults fills the peripheral bus defaults: 115200 8N1, 500ms.
func EnsureSerialDefaults(sp *SerialParams) {
	if sp.Address == "" {
		sp.Address = "/dev/ttyUSB0"
	}
	if sp.BaudRate == 0 {
		sp.BaudRate = 115200
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	sp.Parity = strings.ToUpper(strings.TrimSpace(sp.Parity))
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = 500 * time.Millisecond
	}
}

// String renders the line as "/dev/ttyUSB0 115200 8N1".
func (sp SerialParams) String() string {
	return fmt.Sprintf("%s %d %d%s%d", sp.Address, sp.BaudRate, sp.DataBits, sp.Parity, sp.StopBits)
}

// OpenSerial opens the line with defaults applied.
func OpenSerial(sp SerialParams) (serial.Port, error) {
	EnsureSerialDefaults(&sp)
	switch sp.Parity {
	case "N", "E", "O":
	default:
		return nil, fmt.Errorf("serial %s: parity %q must be N, E or O", sp.Address, sp.Parity)
	}
	return serial.Open(&serial.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   sp.Parity,
		Timeout:  sp.Timeout,
	})
}

// SocatPair is a virtual null-modem: the emulator opens Link, a node opens Peer.
type SocatPair struct {
	Link string
	Peer string
}

func BuildSocatPairCmd(ctx context.Context, pair SocatPair) *exec.Cmd {
	return exec.CommandContext(ctx, "socat",
		"-d", "-d",
		"pty,raw,echo=0,link="+pair.Link,
		"pty,raw,echo=0,link="+pair.Peer,
	)
}

// StartSocatPair spawns socat and waits until both links exist. The returned
// stop function terminates it, killing after grace.
func StartSocatPair(ctx context.Context, pair SocatPair, wait, grace time.Duration) (stop func(), err error) {
	cmd := BuildSocatPairCmd(ctx, pair)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start socat: %w", err)
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	stop = func() {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(grace):
			_ = cmd.Process.Kill()
			<-done
		}
	}
	if err := WaitForPaths(ctx, wait, pair.Link, pair.Peer); err != nil {
		stop()
		return nil, err
	}
	return stop, nil
}

// WaitForPaths polls until every path exists or wait elapses.
func WaitForPaths(ctx context.Context, wait time.Duration, paths ...string) error {
	deadline := time.Now().Add(wait)
	for {
		missing := ""
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				missing = p
				break
			}
		}
		if missing == "" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s not created within %s", missing, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
