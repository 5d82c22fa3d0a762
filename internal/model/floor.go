package model

import "fmt"

// Floor identifies a level of the garage. Wire value is the floor number.
type Floor int

const (
	Ground Floor = 0
	First  Floor = 1
	Second Floor = 2
)

// Floors lists every floor in board order.
var Floors = [...]Floor{Ground, First, Second}

// ParseFloor maps a wire floor number to a Floor; unknown numbers map to Ground.
func ParseFloor(n int) Floor {
	switch Floor(n) {
	case First, Second:
		return Floor(n)
	default:
		return Ground
	}
}

// Name returns the floor key used in messages and status maps.
func (f Floor) Name() string {
	switch f {
	case First:
		return "andar1"
	case Second:
		return "andar2"
	default:
		return "terreo"
	}
}

func (f Floor) String() string { return f.Name() }

// FloorByName is the inverse of Floor.Name.
func FloorByName(name string) (Floor, error) {
	for _, f := range Floors {
		if f.Name() == name {
			return f, nil
		}
	}
	return Ground, fmt.Errorf("unknown floor %q", name)
}

// Category is a slot category.
type Category string

const (
	Accessible Category = "pne"
	Senior     Category = "idoso"
	Standard   Category = "comuns"
)

// Categories lists every category in board order.
var Categories = [...]Category{Accessible, Senior, Standard}

// Slots holds a count per category.
type Slots struct {
	PNE    int `json:"pne"`
	Idoso  int `json:"idoso"`
	Comuns int `json:"comuns"`
}

// Get returns the count for c.
func (s Slots) Get(c Category) int {
	switch c {
	case Accessible:
		return s.PNE
	case Senior:
		return s.Idoso
	default:
		return s.Comuns
	}
}

// Set stores n for c.
func (s *Slots) Set(c Category, n int) {
	switch c {
	case Accessible:
		s.PNE = n
	case Senior:
		s.Idoso = n
	default:
		s.Comuns = n
	}
}

// Total sums every category.
func (s Slots) Total() int { return s.PNE + s.Idoso + s.Comuns }

// Distribute spreads free bays across categories in proportion to capacity.
// Bays are not mapped to a category, so each category receives
// floor(free*capacity/total) and the rounding remainder goes to Standard.
func Distribute(free int, capacity Slots) Slots {
	total := capacity.Total()
	if total <= 0 || free <= 0 {
		return Slots{}
	}
	if free > total {
		free = total
	}
	out := Slots{
		PNE:   free * capacity.PNE / total,
		Idoso: free * capacity.Idoso / total,
	}
	out.Comuns = free - out.PNE - out.Idoso
	return out
}
