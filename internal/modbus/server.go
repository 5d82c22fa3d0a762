package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	mb "github.com/goburrow/modbus"
	"github.com/rs/zerolog/log"
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidPDULen = errors.New("invalid pdu length")
)

// WriteHook is called after a successful register write, outside the device lock.
type WriteHook func(start uint16, values []uint16)

// Device is an emulated peripheral: a holding register map behind one slave address.
type Device struct {
	Slave byte

	mu      sync.RWMutex
	holding []uint16
	onWrite WriteHook
}

// NewDevice constructs a device with size holding registers.
func NewDevice(slave byte, size int) *Device {
	if size <= 0 {
		size = 64
	}
	return &Device{Slave: slave, holding: make([]uint16, size)}
}

// OnWrite installs a hook run after every write request.
func (d *Device) OnWrite(fn WriteHook) {
	d.mu.Lock()
	d.onWrite = fn
	d.mu.Unlock()
}

// SetHoldingRegister updates a holding register value.
func (d *Device) SetHoldingRegister(address uint16, value uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(address) >= len(d.holding) {
		return ErrAddrOutOfRange(address)
	}
	d.holding[address] = value
	return nil
}

// SetHoldingRegisters updates consecutive registers starting at address.
func (d *Device) SetHoldingRegisters(address uint16, values []uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(address)+len(values) > len(d.holding) {
		return ErrAddrOutOfRange(address)
	}
	copy(d.holding[address:], values)
	return nil
}

func (d *Device) readRegisters(pdu []byte) ([]byte, error) {
	if len(pdu) < 4 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[0:2])
	quantity := binary.BigEndian.Uint16(pdu[2:4])
	if quantity == 0 || quantity > maxReadQuantity {
		return nil, errInvalidQty
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(start)+int(quantity) > len(d.holding) {
		return nil, errOutOfRange
	}
	result := make([]byte, 1, 1+quantity*2)
	result[0] = byte(quantity * 2)
	for i := 0; i < int(quantity); i++ {
		result = binary.BigEndian.AppendUint16(result, d.holding[int(start)+i])
	}
	return result, nil
}

func (d *Device) writeRegisters(pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[0:2])
	quantity := binary.BigEndian.Uint16(pdu[2:4])
	if quantity == 0 || quantity > maxWriteQuantity {
		return nil, errInvalidQty
	}
	if int(pdu[4]) != int(quantity)*2 || len(pdu) != 5+int(pdu[4]) {
		return nil, errInvalidPDULen
	}
	values := decodeRegisters(pdu[5:])

	d.mu.Lock()
	if int(start)+int(quantity) > len(d.holding) {
		d.mu.Unlock()
		return nil, errOutOfRange
	}
	copy(d.holding[start:], values)
	hook := d.onWrite
	d.mu.Unlock()

	if hook != nil {
		hook(start, values)
	}
	return append([]byte(nil), pdu[0:4]...), nil
}

// Server serves authenticated frames for a set of emulated devices, over TCP
// (RTU framing inside the stream) or directly on a serial port.
type Server struct {
	token   string
	devices map[byte]*Device

	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

// NewServer constructs a server answering for the given devices.
func NewServer(token string, devices ...*Device) *Server {
	s := &Server{
		token:   NormalizeToken(token),
		devices: make(map[byte]*Device, len(devices)),
		quit:    make(chan struct{}),
	}
	for _, d := range devices {
		s.devices[d.Slave] = d
	}
	return s
}

// Listen starts accepting RTU-over-TCP connections on the provided address.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listener address once Listen succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			_ = s.Serve(conn)
		}()
	}
}

// Serve processes frames from rw until it fails. Frames for unknown slaves,
// with a bad checksum or the wrong token are dropped without a reply, as a
// device on a shared bus would.
func (s *Server) Serve(rw io.ReadWriter) error {
	tokenLen := len(s.token)
	for {
		head := make([]byte, 2)
		if _, err := io.ReadFull(rw, head); err != nil {
			return err
		}
		slave, fn := head[0], head[1]

		var rest []byte
		switch fn {
		case mb.FuncCodeReadHoldingRegisters:
			rest = make([]byte, 4+tokenLen+2)
			if _, err := io.ReadFull(rw, rest); err != nil {
				return err
			}
		case mb.FuncCodeWriteMultipleRegisters:
			hdr := make([]byte, 5)
			if _, err := io.ReadFull(rw, hdr); err != nil {
				return err
			}
			tail := make([]byte, int(hdr[4])+tokenLen+2)
			if _, err := io.ReadFull(rw, tail); err != nil {
				return err
			}
			rest = append(hdr, tail...)
		default:
			// unknown length, the stream cannot be resynchronized
			return fmt.Errorf("unsupported function 0x%02X", fn)
		}

		frame := append(head, rest...)
		body := frame[:len(frame)-2]
		if CRC16(body) != binary.LittleEndian.Uint16(frame[len(frame)-2:]) {
			log.Debug().Uint8("slave", slave).Msg("emulator: crc mismatch, frame dropped")
			continue
		}
		if string(body[len(body)-tokenLen:]) != s.token {
			log.Debug().Uint8("slave", slave).Msg("emulator: token mismatch, frame dropped")
			continue
		}
		dev, ok := s.devices[slave]
		if !ok {
			continue
		}

		resp := s.handlePDU(dev, fn, body[2:len(body)-tokenLen])
		if _, err := rw.Write(BuildFrame(slave, resp[0], resp[1:], s.token)); err != nil {
			return err
		}
	}
}

func (s *Server) handlePDU(dev *Device, fn byte, data []byte) []byte {
	var (
		out []byte
		err error
	)
	switch fn {
	case mb.FuncCodeReadHoldingRegisters:
		out, err = dev.readRegisters(data)
	case mb.FuncCodeWriteMultipleRegisters:
		out, err = dev.writeRegisters(data)
	default:
		return []byte{fn | 0x80, mb.ExceptionCodeIllegalFunction}
	}
	if err != nil {
		return []byte{fn | 0x80, errToCode(err)}
	}
	return append([]byte{fn}, out...)
}

func errToCode(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange):
		return mb.ExceptionCodeIllegalDataAddress
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidPDULen):
		return mb.ExceptionCodeIllegalDataValue
	default:
		return mb.ExceptionCodeIllegalFunction
	}
}

// Close stops the server and waits for all goroutines to exit.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}
