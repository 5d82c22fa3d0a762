package modbus

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// TokenLen is the length of the ASCII authentication token carried by every frame.
const TokenLen = 4

// Frame layout:
//
//	slave(1) | function(1) | payload(N) | token(TokenLen) | crc16 LE(2)

// NormalizeToken keeps the last TokenLen characters of s and left-pads with '0'.
func NormalizeToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > TokenLen {
		s = s[len(s)-TokenLen:]
	}
	return strings.Repeat("0", TokenLen-len(s)) + s
}

// BuildFrame assembles a frame and appends its checksum.
func BuildFrame(slave, function byte, payload []byte, token string) []byte {
	frame := make([]byte, 0, 2+len(payload)+len(token)+2)
	frame = append(frame, slave, function)
	frame = append(frame, payload...)
	frame = append(frame, token...)
	return binary.LittleEndian.AppendUint16(frame, CRC16(frame))
}

// ValidateFrame checks a response frame against the request it answers and
// returns the payload between the function code and the token.
func ValidateFrame(frame []byte, slave, function byte, tokenLen int) ([]byte, error) {
	if len(frame) < 2+tokenLen+2 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("short frame (%d bytes)", len(frame))}
	}
	body := frame[:len(frame)-2]
	want := CRC16(body)
	got := binary.LittleEndian.Uint16(frame[len(frame)-2:])
	if want != got {
		return nil, &ChecksumError{Want: want, Got: got}
	}
	if frame[0] != slave {
		return nil, &ProtocolError{Reason: fmt.Sprintf("slave address 0x%02X does not match request 0x%02X", frame[0], slave)}
	}
	if frame[1]&0x80 != 0 {
		pe := &ProtocolError{Reason: fmt.Sprintf("device reported error for function 0x%02X", frame[1]&0x7F)}
		if len(body) > 2+tokenLen {
			pe.Exception = body[2]
		}
		return nil, pe
	}
	if frame[1] != function {
		return nil, &ProtocolError{Reason: fmt.Sprintf("function 0x%02X does not match request 0x%02X", frame[1], function)}
	}
	return body[2 : len(body)-tokenLen], nil
}
