package wsserver

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cirno10124/stream-recognizer-go/internal/feedback"
)

func dialServer(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	httpSrv := httptest.NewServer(s.Handler())
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		httpSrv.Close()
	}
}

func TestServer_BroadcastsBusEvents(t *testing.T) {
	bus := feedback.NewEventBus(16)
	defer bus.Stop()
	s := New(bus)
	defer s.Close()

	conn, cleanup := dialServer(t, s)
	defer cleanup()
	time.Sleep(50 * time.Millisecond) // let the server finish registering the client

	bus.PublishMergedResult("sess-1", feedback.MergedResultData{Text: "hello world", LastEmitted: 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
	assert.Contains(t, string(data), "sess-1")
}

func TestServer_CloseDisconnectsClients(t *testing.T) {
	bus := feedback.NewEventBus(16)
	defer bus.Stop()
	s := New(bus)

	conn, cleanup := dialServer(t, s)
	defer cleanup()
	time.Sleep(50 * time.Millisecond)

	s.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection should be closed by the server")
}

func TestServer_MultipleClientsAllReceive(t *testing.T) {
	bus := feedback.NewEventBus(16)
	defer bus.Stop()
	s := New(bus)
	defer s.Close()

	conn1, cleanup1 := dialServer(t, s)
	defer cleanup1()
	conn2, cleanup2 := dialServer(t, s)
	defer cleanup2()
	time.Sleep(50 * time.Millisecond)

	bus.PublishMergedResult("sess-2", feedback.MergedResultData{Text: "broadcast"})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(data), "broadcast")
	}
}
