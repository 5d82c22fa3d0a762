package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"garage-control/internal/ledger"
	"garage-control/internal/message"
	"garage-control/internal/model"
)

type ledgerBackend struct {
	mu sync.Mutex
	l  *ledger.Ledger
}

func (b *ledgerBackend) Snapshot(context.Context) (model.Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.l.Status(), nil
}

func (b *ledgerBackend) Active(context.Context) ([]model.VehicleRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.l.Active(), nil
}

func (b *ledgerBackend) History(_ context.Context, limit int) ([]model.VehicleRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.l.History(limit), nil
}

func (b *ledgerBackend) LastSeen(context.Context) (map[string]time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.l.LastSeen(), nil
}

func (b *ledgerBackend) Dispatch(_ context.Context, m *message.Message) *message.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.l.Handlers()[m.Type]; ok {
		return h(m)
	}
	return message.Ack()
}

func newTestServer(t *testing.T) (*Server, *ledgerBackend) {
	t.Helper()
	b := &ledgerBackend{l: ledger.New(ledger.Config{})}
	return New(b), b
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatusAndVehicles(t *testing.T) {
	s, b := newTestServer(t)
	b.Dispatch(context.Background(), message.NewEntry("ABC1D23", 95, model.First))

	rec := do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st model.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, 1, st.ActiveVehicles)
	require.Equal(t, 1, st.Cars["andar1"])

	rec = do(t, s, http.MethodGet, "/vehicles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ABC1D23")
}

func TestFareEndpoint(t *testing.T) {
	s, b := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/fare/NOPE123", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	b.Dispatch(context.Background(), message.NewEntry("ABC1D23", 95, model.Ground))
	rec = do(t, s, http.MethodGet, "/fare/ABC1D23", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"tipo":"resposta_valor"`)
}

func TestAdminCommands(t *testing.T) {
	s, b := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/close", `{"fechar":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st, _ := b.Snapshot(context.Background())
	require.True(t, st.Closed)

	rec = do(t, s, http.MethodPost, "/close", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/floors/2/block", `{"bloquear":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st, _ = b.Snapshot(context.Background())
	require.True(t, st.Floor2Blocked)

	rec = do(t, s, http.MethodPost, "/floors/0/block", `{"bloquear":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), message.ReasonInvalidFloor)
}

func TestHistoryLimitValidation(t *testing.T) {
	s, _ := newTestServer(t)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/history?limit=abc", "").Code)
	rec := do(t, s, http.MethodGet, "/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestHealth(t *testing.T) {
	s, b := newTestServer(t)
	b.Dispatch(context.Background(), message.NewHeartbeat("terreo"))
	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "terreo")
}

type stoppedBackend struct{ ledgerBackend }

func (*stoppedBackend) Dispatch(context.Context, *message.Message) *message.Message {
	return message.Reject(message.ReasonUnavailable)
}

func TestStoppedBackendIsUnavailable(t *testing.T) {
	s := New(&stoppedBackend{ledgerBackend{l: ledger.New(ledger.Config{})}})
	rec := do(t, s, http.MethodGet, "/fare/ABC1D23", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), message.ReasonUnavailable)
}
