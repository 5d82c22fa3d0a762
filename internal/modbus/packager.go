package modbus

import (
	"fmt"

	mb "github.com/goburrow/modbus"
)

// packager frames PDUs for one slave with the site authentication token.
// It satisfies mb.Packager so the goburrow client drives request/response
// handling while our frame layout stays on the wire.
type packager struct {
	slave byte
	token string
}

func (p *packager) Encode(pdu *mb.ProtocolDataUnit) ([]byte, error) {
	return BuildFrame(p.slave, pdu.FunctionCode, pdu.Data, p.token), nil
}

// Verify runs the full frame validation so checksum errors take precedence
// over address and function mismatches.
func (p *packager) Verify(aduRequest, aduResponse []byte) error {
	if len(aduRequest) < 2 {
		return &ProtocolError{Reason: "request too short"}
	}
	_, err := ValidateFrame(aduResponse, aduRequest[0], aduRequest[1], len(p.token))
	return err
}

func (p *packager) Decode(adu []byte) (*mb.ProtocolDataUnit, error) {
	end := len(adu) - len(p.token) - 2
	if end < 2 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("short frame (%d bytes)", len(adu))}
	}
	return &mb.ProtocolDataUnit{FunctionCode: adu[1], Data: adu[2:end]}, nil
}
