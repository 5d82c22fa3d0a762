package modbus

import (
	"encoding/binary"
	"fmt"
	"time"

	mb "github.com/goburrow/modbus"
	"github.com/rs/zerolog/log"
)

// transport exchanges one frame on a shared port. Input left over from an
// earlier exchange is discarded before the request is written. It then reads
// exactly the response length implied by the request, or the shorter
// exception frame.
type transport struct {
	port     *pump
	tokenLen int
	timeout  time.Duration
}

func (t *transport) Send(aduRequest []byte) ([]byte, error) {
	want, err := responseLength(aduRequest, t.tokenLen)
	if err != nil {
		return nil, err
	}
	if n := t.port.Discard(); n > 0 {
		log.Debug().Int("bytes", n).Msg("discarded stale serial input")
	}
	if _, err := t.port.Write(aduRequest); err != nil {
		return nil, &ConnectionError{Op: "write", Err: err}
	}

	deadline := time.Now().Add(t.timeout)
	resp := make([]byte, want)
	n, err := t.port.ReadFull(resp[:2], t.timeout)
	if err != nil {
		return nil, &TimeoutError{Expected: want, Received: n, Err: err}
	}
	if resp[1]&0x80 != 0 {
		// exception: slave | function|0x80 | code | token | crc
		want = 2 + 1 + t.tokenLen + 2
	}
	m, err := t.port.ReadFull(resp[2:want], remaining(deadline, t.timeout))
	if err != nil {
		return nil, &TimeoutError{Expected: want, Received: n + m, Err: err}
	}
	return resp[:want], nil
}

// remaining returns the time left until deadline, at least a millisecond.
// Without a timeout it returns zero, meaning no limit.
func remaining(deadline time.Time, timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	return max(time.Until(deadline), time.Millisecond)
}

// responseLength returns the full frame length expected for a request.
func responseLength(adu []byte, tokenLen int) (int, error) {
	if len(adu) < 2 {
		return 0, &ProtocolError{Reason: "request too short"}
	}
	switch adu[1] {
	case mb.FuncCodeReadHoldingRegisters:
		if len(adu) < 6 {
			return 0, &ProtocolError{Reason: "read request too short"}
		}
		count := int(binary.BigEndian.Uint16(adu[4:6]))
		return 1 + 1 + 1 + count*2 + tokenLen + 2, nil
	case mb.FuncCodeWriteMultipleRegisters:
		return 1 + 1 + 4 + tokenLen + 2, nil
	default:
		return 0, &ProtocolError{Reason: fmt.Sprintf("function 0x%02X not supported", adu[1])}
	}
}
