package peripheral

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"garage-control/internal/modbus"
)

// PlateSource supplies the next plate an emulated camera will report.
// Returning ok=false makes the capture end with StatusError.
type PlateSource func() (plate Plate, ok bool)

// CameraEmulator is a register-level stand-in for an LPR camera.
type CameraEmulator struct {
	Device *modbus.Device

	mu     sync.Mutex
	delay  time.Duration
	source PlateSource
	hang   bool
}

func NewCameraEmulator(slave byte, delay time.Duration, source PlateSource) *CameraEmulator {
	e := &CameraEmulator{
		Device: modbus.NewDevice(slave, 16),
		delay:  delay,
		source: source,
	}
	e.Device.OnWrite(e.onWrite)
	return e
}

// Hang makes subsequent triggers stay in StatusProcessing forever.
func (e *CameraEmulator) Hang(v bool) {
	e.mu.Lock()
	e.hang = v
	e.mu.Unlock()
}

func (e *CameraEmulator) onWrite(start uint16, values []uint16) {
	if start > RegTrigger || int(RegTrigger-start) >= len(values) {
		return
	}
	if values[RegTrigger-start] == 0 {
		_ = e.Device.SetHoldingRegister(RegStatus, StatusReady)
		return
	}
	_ = e.Device.SetHoldingRegister(RegStatus, StatusProcessing)

	e.mu.Lock()
	delay, source, hang := e.delay, e.source, e.hang
	e.mu.Unlock()
	if hang {
		return
	}
	time.AfterFunc(delay, func() {
		plate, ok := source()
		if !ok {
			_ = e.Device.SetHoldingRegister(RegError, 1)
			_ = e.Device.SetHoldingRegister(RegStatus, StatusError)
			return
		}
		regs := append(EncodePlate(plate.Text), uint16(plate.Confidence))
		_ = e.Device.SetHoldingRegisters(RegPlate, regs)
		_ = e.Device.SetHoldingRegister(RegError, 0)
		_ = e.Device.SetHoldingRegister(RegStatus, StatusOK)
		log.Debug().Uint8("slave", e.Device.Slave).Str("plate", plate.Text).Msg("emulator: plate ready")
	})
}

// BoardEmulator is a register-level stand-in for the display board.
type BoardEmulator struct {
	Device *modbus.Device
}

func NewBoardEmulator(slave byte) *BoardEmulator {
	e := &BoardEmulator{Device: modbus.NewDevice(slave, BoardRegisters)}
	e.Device.OnWrite(func(start uint16, values []uint16) {
		if s, err := e.State(); err == nil {
			log.Info().Uint8("slave", slave).Interface("free", s.Free).Interface("cars", s.Cars).
				Bool("full", s.Full).Msg("emulator: board updated")
		}
	})
	return e
}

// State decodes what the board currently displays.
func (e *BoardEmulator) State() (BoardState, error) {
	regs, err := modbus.GetHoldingRegisters(e.Device, 0, BoardRegisters)
	if err != nil {
		return BoardState{}, err
	}
	return ParseBoardRegisters(regs)
}
