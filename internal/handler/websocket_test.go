package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/websocket"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServerConnection upgrades one connection and returns the server side
// without starting its sender
func newServerConnection(t *testing.T) *WebSocketConnection {
	t.Helper()

	connected := make(chan *WebSocketConnection, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		logger := logrus.New()
		logger.SetOutput(io.Discard)
		connected <- &WebSocketConnection{
			conn:     conn,
			eventBus: make(chan types.WebSocketMessage, 16),
			logger:   logrus.NewEntry(logger),
			done:     make(chan struct{}),
		}
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case wsConn := <-connected:
		return wsConn
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil
	}
}

func TestEventSenderStopsWhenClientDrops(t *testing.T) {
	wsConn := newServerConnection(t)

	// The transport is gone before the first event is written
	require.NoError(t, wsConn.conn.UnderlyingConn().Close())
	go wsConn.eventSender()

	wsConn.sendMessage(types.WebSocketMessage{Type: "runtime"})

	select {
	case <-wsConn.done:
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not stop after a failed write")
	}

	wsConn.mutex.Lock()
	assert.True(t, wsConn.closed)
	assert.Equal(t, websocket.CloseInternalServerErr, wsConn.closeCode)
	wsConn.mutex.Unlock()

	// Nothing drains the bus any more; sends and closes must not block or panic
	for i := 0; i < 64; i++ {
		wsConn.sendMessage(types.WebSocketMessage{Type: "output"})
	}
	wsConn.close(CloseJobCompleted, "Job Completed")

	wsConn.mutex.Lock()
	defer wsConn.mutex.Unlock()
	assert.Equal(t, websocket.CloseInternalServerErr, wsConn.closeCode)
}

func TestEventSenderConcurrentClose(t *testing.T) {
	wsConn := newServerConnection(t)
	require.NoError(t, wsConn.conn.UnderlyingConn().Close())
	go wsConn.eventSender()

	go func() {
		for i := 0; i < 16; i++ {
			wsConn.sendMessage(types.WebSocketMessage{Type: "output"})
		}
	}()
	wsConn.close(CloseJobCompleted, "Job Completed")

	select {
	case <-wsConn.done:
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not stop")
	}
}

func TestRuntimeInfoAliases(t *testing.T) {
	rt := &types.Runtime{Name: "rv", Version: semver.MustParse("0.1.0")}

	body, err := json.Marshal(runtimeInfo(rt))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"rv","version":"0.1.0","aliases":[]}`, string(body))

	rt.Aliases = []string{"riverscript"}
	assert.Equal(t, []string{"riverscript"}, runtimeInfo(rt).Aliases)
}
