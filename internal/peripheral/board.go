package peripheral

import (
	"context"
	"fmt"

	"garage-control/internal/model"
)

// Board flag bits.
const (
	FlagFull          uint16 = 1 << 0
	FlagFloor1Blocked uint16 = 1 << 1
	FlagFloor2Blocked uint16 = 1 << 2
)

// BoardRegisters is the number of registers written on every update.
const BoardRegisters = 13

// BoardState is what the display shows.
type BoardState struct {
	Free          [3]model.Slots
	Cars          [3]int
	Full          bool
	Floor1Blocked bool
	Floor2Blocked bool
}

// Registers packs the state in register order: free slots per floor and
// category, car counts per floor, then the flags word.
func (s BoardState) Registers() []uint16 {
	regs := make([]uint16, 0, BoardRegisters)
	for _, f := range model.Floors {
		for _, c := range model.Categories {
			regs = append(regs, clampU16(s.Free[f].Get(c)))
		}
	}
	for _, f := range model.Floors {
		regs = append(regs, clampU16(s.Cars[f]))
	}
	var flags uint16
	if s.Full {
		flags |= FlagFull
	}
	if s.Floor1Blocked {
		flags |= FlagFloor1Blocked
	}
	if s.Floor2Blocked {
		flags |= FlagFloor2Blocked
	}
	return append(regs, flags)
}

// ParseBoardRegisters is the inverse of Registers.
func ParseBoardRegisters(regs []uint16) (BoardState, error) {
	if len(regs) < BoardRegisters {
		return BoardState{}, fmt.Errorf("board: need %d registers, got %d", BoardRegisters, len(regs))
	}
	var s BoardState
	i := 0
	for _, f := range model.Floors {
		for _, c := range model.Categories {
			s.Free[f].Set(c, int(regs[i]))
			i++
		}
	}
	for _, f := range model.Floors {
		s.Cars[f] = int(regs[i])
		i++
	}
	flags := regs[i]
	s.Full = flags&FlagFull != 0
	s.Floor1Blocked = flags&FlagFloor1Blocked != 0
	s.Floor2Blocked = flags&FlagFloor2Blocked != 0
	return s, nil
}

func clampU16(n int) uint16 {
	if n < 0 {
		return 0
	}
	if n > 0xFFFF {
		return 0xFFFF
	}
	return uint16(n)
}

// Board drives the occupancy display.
type Board struct {
	bus     RegisterBus
	slave   byte
	retries int
}

func NewBoard(bus RegisterBus, slave byte, retries int) *Board {
	return &Board{bus: bus, slave: slave, retries: retries}
}

// Update writes the full board state starting at register 0.
func (b *Board) Update(ctx context.Context, s BoardState) error {
	if err := b.bus.WriteRegisters(ctx, b.slave, 0, s.Registers(), b.retries); err != nil {
		return fmt.Errorf("board 0x%02X update: %w", b.slave, err)
	}
	return nil
}
