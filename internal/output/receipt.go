package output

import (
	"fmt"
	"strings"
	"time"
)

// Receipt is printed by the exit gate after the coordinator bills a stay.
type Receipt struct {
	Plate   string
	Entry   time.Time
	Exit    time.Time
	Minutes int
	Fare    float64
}

func (r Receipt) String() string {
	var b strings.Builder
	b.WriteString("==============================\n")
	b.WriteString("      COMPROVANTE DE SAIDA    \n")
	b.WriteString("==============================\n")
	fmt.Fprintf(&b, "Placa:   %s\n", r.Plate)
	if !r.Entry.IsZero() {
		fmt.Fprintf(&b, "Entrada: %s\n", r.Entry.Format("02/01/2006 15:04:05"))
	}
	fmt.Fprintf(&b, "Saida:   %s\n", r.Exit.Format("02/01/2006 15:04:05"))
	fmt.Fprintf(&b, "Tempo:   %d min\n", r.Minutes)
	fmt.Fprintf(&b, "Valor:   R$ %.2f\n", r.Fare)
	b.WriteString("==============================")
	return b.String()
}
