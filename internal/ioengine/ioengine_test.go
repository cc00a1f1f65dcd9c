package ioengine

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"crucible/internal/heap"
	"crucible/internal/object"
	"crucible/internal/process"
	"crucible/internal/species"
	"crucible/internal/value"
)

func newTestModel(t *testing.T) (*object.Model, *object.WellKnownKeys) {
	t.Helper()
	reg := species.NewRegistry()
	h := heap.New(heap.Config{SemispaceSizeBytes: 1 << 16}, nil)
	m := object.NewModel(h, reg)
	wk, cond := m.NewWellKnownKeys()
	require.False(t, cond.IsCondition())
	return m, wk
}

func TestReadFileToBlobFulfillsPromiseWithContents(t *testing.T) {
	m, wk := newTestModel(t)
	_ = wk

	f, err := os.CreateTemp(t.TempDir(), "ioengine-*.txt")
	require.NoError(t, err)
	_, err = f.WriteString("hello airlock")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	airlock := process.NewAirlock(4)
	e := New(Config{Workers: 1}, m, airlock, nil)
	defer e.Shutdown()

	promise, cond := m.NewPromise()
	require.False(t, cond.IsCondition())

	require.NoError(t, e.ReadFileToBlob(f.Name(), promise))

	drainAndSettle(t, m, airlock)

	require.Equal(t, value.PromiseFulfilled, m.PromiseState(promise))
}

func TestReadFileToBlobRejectsPromiseOnMissingFile(t *testing.T) {
	m, _ := newTestModel(t)

	airlock := process.NewAirlock(4)
	e := New(Config{Workers: 1}, m, airlock, nil)
	defer e.Shutdown()

	promise, cond := m.NewPromise()
	require.False(t, cond.IsCondition())

	require.NoError(t, e.ReadFileToBlob("/no/such/file/here", promise))

	drainAndSettle(t, m, airlock)

	require.Equal(t, value.PromiseRejected, m.PromiseState(promise))
}

func TestScheduleIncrementsAirlockOpenRequestCountUntilDrained(t *testing.T) {
	m, _ := newTestModel(t)
	airlock := process.NewAirlock(4)
	e := New(Config{Workers: 1}, m, airlock, nil)
	defer e.Shutdown()

	promise, cond := m.NewPromise()
	require.False(t, cond.IsCondition())

	done := make(chan struct{})
	require.NoError(t, e.Schedule(Request{
		Promise: promise,
		Op: func() (value.Value, error) {
			close(done)
			return value.NewInteger(1), nil
		},
	}))

	<-done
	drainAndSettle(t, m, airlock)
	require.Equal(t, 0, airlock.OpenRequestCount())
}

func TestRegisterStreamAndCloseStream(t *testing.T) {
	m, _ := newTestModel(t)
	airlock := process.NewAirlock(4)
	e := New(Config{Workers: 1}, m, airlock, nil)
	defer e.Shutdown()

	f, err := os.CreateTemp(t.TempDir(), "ioengine-*.txt")
	require.NoError(t, err)

	s, err := e.OpenFile(f.Name())
	require.NoError(t, err)
	e.RegisterStream("h1", s)

	got, ok := e.Stream("h1")
	require.True(t, ok)
	require.Same(t, s, got)

	require.NoError(t, e.CloseStream("h1"))
	_, ok = e.Stream("h1")
	require.False(t, ok)
}

func TestDialWebSocketRoundTripsBinaryMessage(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]

	m, _ := newTestModel(t)
	airlock := process.NewAirlock(4)
	e := New(Config{Workers: 1}, m, airlock, nil)
	defer e.Shutdown()

	require.NoError(t, e.DialWebSocket("ws1", wsURL))
	s, ok := e.Stream("ws1")
	require.True(t, ok)

	require.NoError(t, s.Out.Write([]byte("ping")))
	got, err := s.In.Read(16)
	require.NoError(t, err)
	require.Equal(t, "ping", string(got))
}

// drainAndSettle waits for at least one result to land in airlock and
// settles each one's promise, mirroring what process.Process.
// DeliverOutstandingResults does between jobs in the real runtime.
func drainAndSettle(t *testing.T, m *object.Model, airlock *process.Airlock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		results := airlock.DrainAll()
		if len(results) > 0 {
			for _, r := range results {
				if r.IsError {
					m.Reject(r.Promise, r.Result)
				} else {
					m.Fulfill(r.Promise, r.Result)
				}
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for airlock result")
}
