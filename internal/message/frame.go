package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single message body.
const MaxFrameSize = 1 << 20

// Frame layout:
//
//	length u32 BE | body(length)

// ReadFrame reads one length-prefixed body. A clean close before the header
// returns io.EOF; a close inside the header or body returns ErrShortHeader or
// ErrShortBody.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if n, err := io.ReadFull(r, hdr[:]); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %w", ErrShortHeader, err)
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShortBody, err)
	}
	return body, nil
}

// WriteFrame writes the length prefix followed by body.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	buf := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// WriteMessage encodes and frames m.
func WriteMessage(w io.Writer, m *Message) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// ReadMessage reads and decodes one framed message.
func ReadMessage(r io.Reader) (*Message, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(body)
}
