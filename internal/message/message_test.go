package message

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"garage-control/internal/model"
)

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()
	fare, minutes := 0.45, 3
	msgs := []*Message{
		NewEntry("ABC1234", 88, model.First),
		NewExit("ABC1234", 91),
		NewSlotStatus(model.Second, model.Slots{PNE: 1, Idoso: 0, Comuns: 3}),
		NewPassage(Up, "ABC1234"),
		NewGateCommand(ExitGate, Close),
		NewCloseParking(false),
		NewBlockFloor(model.First, true),
		NewBoardUpdate(BoardData{
			Free: map[string]model.Slots{"terreo": {PNE: 2, Idoso: 2, Comuns: 4}},
			Cars: map[string]int{"terreo": 1}, Full: true,
		}),
		{Status: StatusOK, Fare: &fare, Minutes: &minutes, Entry: "2024-01-01T10:00:00Z", Exit: "2024-01-01T10:03:00Z"},
	}
	for _, m := range msgs {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, m))
		got, err := ReadMessage(&buf)
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte("{not json"))
	require.ErrorIs(t, err, ErrValidation)
	_, err = Decode([]byte("{}"))
	require.ErrorIs(t, err, ErrValidation)
}

func TestReadFrameShortBody(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(10))
	buf.WriteString("abc")
	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, ErrShortBody)

	_, err = ReadFrame(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)

	var big bytes.Buffer
	_ = binary.Write(&big, binary.BigEndian, uint32(MaxFrameSize+1))
	_, err = ReadFrame(&big)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func newEchoServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer(NewRouter("test", map[Type]HandlerFunc{
		CalcFare: func(_ context.Context, m *Message) *Message {
			r := Ack()
			r.Plate = m.Plate
			return r
		},
		Heartbeat: func(context.Context, *Message) *Message { return nil },
	}).Handle)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(srv.Close)
	return srv
}

func TestServerClientExchange(t *testing.T) {
	t.Parallel()
	srv := newEchoServer(t)
	c := NewClient(srv.Addr().String())
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	reply, err := c.Send(ctx, NewCalcFare("XYZ9876"), true)
	require.NoError(t, err)
	require.True(t, reply.OK())
	require.Equal(t, "XYZ9876", reply.Plate)

	// known type without handler is acknowledged
	reply, err = c.Send(ctx, NewPassage(Down, ""), true)
	require.NoError(t, err)
	require.True(t, reply.OK())

	// fire-and-forget gets the placeholder
	reply, err = c.Send(ctx, NewHeartbeat("terreo"), false)
	require.NoError(t, err)
	require.True(t, reply.OK())
	require.True(t, c.Connected())
}

func TestServerRepliesToInvalidBody(t *testing.T) {
	t.Parallel()
	srv := newEchoServer(t)
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, []byte("[1,2,3]")))
	reply, err := ReadMessage(conn)
	require.NoError(t, err)
	require.Equal(t, StatusError, reply.Status)
	require.Equal(t, ReasonInvalidMessage, reply.Reason)
}

func TestMidBodyCloseIsIsolated(t *testing.T) {
	t.Parallel()
	srv := newEchoServer(t)

	good := NewClient(srv.Addr().String())
	t.Cleanup(func() { _ = good.Close() })
	_, err := good.Send(context.Background(), NewCalcFare("AAA0001"), true)
	require.NoError(t, err)

	bad, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, 100)
	_, err = bad.Write(append(hdr, []byte(`{"tipo":"calc`)...))
	require.NoError(t, err)
	require.NoError(t, bad.Close())

	reply, err := good.Send(context.Background(), NewCalcFare("AAA0002"), true)
	require.NoError(t, err)
	require.Equal(t, "AAA0002", reply.Plate)
}

func TestClientFailureMarksDisconnected(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			// read the request and hang up without replying
			_, _ = ReadFrame(conn)
			conn.Close()
		}
	}()
	t.Cleanup(func() { l.Close() })

	c := NewClient(addr)
	c.Timeout = time.Second
	_, err = c.Send(context.Background(), NewCalcFare("ZZZ0000"), true)
	require.Error(t, err)
	require.False(t, c.Connected())
}

func TestSendWithRetryExhausts(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := NewClient(addr)
	c.RetryDelay = 10 * time.Millisecond
	start := time.Now()
	_, err = c.SendWithRetry(context.Background(), NewHeartbeat("andar1"), 3, false)
	require.Error(t, err)
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestParseTimeAcceptsZonelessISO(t *testing.T) {
	t.Parallel()
	got, err := ParseTime("2024-03-01T10:00:01.250000")
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, time.Duration(got.Nanosecond()))

	got, err = ParseTime(FormatTime(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.True(t, got.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}
