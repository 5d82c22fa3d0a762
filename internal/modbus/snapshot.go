package modbus

// Thread-safe read helpers for inspecting emulated devices

import "fmt"

// GetHoldingRegister returns the current holding register value at address.
func GetHoldingRegister(d *Device, address uint16) (uint16, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(address) >= len(d.holding) {
		return 0, ErrAddrOutOfRange(address)
	}
	return d.holding[address], nil
}

// GetHoldingRegisters returns a copy of count registers starting at address.
func GetHoldingRegisters(d *Device, address, count uint16) ([]uint16, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(address)+int(count) > len(d.holding) {
		return nil, ErrAddrOutOfRange(address)
	}
	out := make([]uint16, count)
	copy(out, d.holding[address:])
	return out, nil
}

// ErrAddrOutOfRange returns a formatted error compatible with server.go style.
func ErrAddrOutOfRange(addr uint16) error {
	return fmt.Errorf("address %d out of range", addr)
}
