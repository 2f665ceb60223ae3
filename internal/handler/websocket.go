package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rvrun/rvrun/internal/bridge"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	initTimeout  = 5 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Close codes sent to websocket clients
const (
	CloseAlreadyInitialized = 4000
	CloseInitTimeout        = 4001
	CloseJobCompleted       = 4999
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection streams the result of one interpret job
type WebSocketConnection struct {
	conn     *websocket.Conn
	job      *bridge.Job
	eventBus chan types.WebSocketMessage
	bridge   *bridge.Manager
	logger   *logrus.Entry
	mutex    sync.Mutex
	closed   bool
	done     chan struct{}

	closeCode int
	closeText string
}

// HandleWebSocket handles WebSocket connections for streamed interpretation
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	wsConn := &WebSocketConnection{
		conn:     conn,
		eventBus: make(chan types.WebSocketMessage, 16),
		bridge:   h.bridge,
		logger:   h.logger.WithField("component", "websocket"),
		done:     make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	go wsConn.eventSender()

	timer := time.NewTimer(initTimeout)
	defer timer.Stop()

	go func() {
		select {
		case <-timer.C:
			if !wsConn.initialized() {
				wsConn.sendError(&bridge.Error{Kind: bridge.KindInvalidRequest, Message: "Initialization timeout"})
				wsConn.close(CloseInitTimeout, "Initialization Timeout")
			}
		case <-wsConn.done:
		}
	}()

	wsConn.handleMessages(r.Context())
}

// handleMessages reads client messages until the connection closes
func (wsConn *WebSocketConnection) handleMessages(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		var msg types.WebSocketMessage
		if err := wsConn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				wsConn.logger.WithError(err).Debug("WebSocket read error")
			}
			break
		}

		wsConn.conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case "init":
			wsConn.handleInit(ctx, msg)
		default:
			wsConn.sendError(&bridge.Error{Kind: bridge.KindInvalidRequest, Message: "Unknown message type: " + msg.Type})
		}
	}

	// The client went away; a running job is cancelled with ctx
	wsConn.close(websocket.CloseNormalClosure, "Connection closed")
}

// handleInit validates the submitted program and starts the job
func (wsConn *WebSocketConnection) handleInit(ctx context.Context, msg types.WebSocketMessage) {
	if wsConn.initialized() {
		wsConn.close(CloseAlreadyInitialized, "Already Initialized")
		return
	}

	requestBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		wsConn.sendError(&bridge.Error{Kind: bridge.KindInvalidRequest, Message: "Invalid request payload"})
		return
	}

	var request types.InterpretRequest
	if err := json.Unmarshal(requestBytes, &request); err != nil {
		wsConn.sendError(&bridge.Error{Kind: bridge.KindInvalidRequest, Message: "Invalid interpret request"})
		return
	}

	if err := validateInterpretRequest(&request); err != nil {
		wsConn.sendError(&bridge.Error{Kind: bridge.KindInvalidRequest, Message: err.Error()})
		return
	}

	job, err := wsConn.bridge.NewJob(&request)
	if err != nil {
		wsConn.sendError(err)
		return
	}

	wsConn.mutex.Lock()
	wsConn.job = job
	wsConn.mutex.Unlock()

	wsConn.sendMessage(types.WebSocketMessage{
		Type:    "runtime",
		Payload: runtimeInfo(job.Runtime),
	})

	go wsConn.executeJob(ctx, job)
}

// executeJob runs the job and streams each section as its own message
func (wsConn *WebSocketConnection) executeJob(ctx context.Context, job *bridge.Job) {
	defer wsConn.close(CloseJobCompleted, "Job Completed")

	result, err := job.Execute(ctx)
	if err != nil {
		wsConn.sendError(err)
		return
	}

	wsConn.sendMessage(types.WebSocketMessage{Type: "tokens", Payload: result.Tokens})
	wsConn.sendMessage(types.WebSocketMessage{Type: "ast", Payload: result.ASTSequence})
	wsConn.sendMessage(types.WebSocketMessage{Type: "output", Payload: result.ProgramOutput})
	wsConn.sendMessage(types.WebSocketMessage{Type: "complete", Payload: result})
}

// eventSender sends events to the WebSocket client
func (wsConn *WebSocketConnection) eventSender() {
	for event := range wsConn.eventBus {
		wsConn.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := wsConn.conn.WriteJSON(event); err != nil {
			wsConn.logger.WithError(err).Error("Failed to send WebSocket message")
			wsConn.close(websocket.CloseInternalServerErr, "Send Failed")
			break
		}
	}

	wsConn.mutex.Lock()
	code, text := wsConn.closeCode, wsConn.closeText
	wsConn.mutex.Unlock()

	wsConn.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(time.Second))
	wsConn.conn.Close()
	close(wsConn.done)
}

// sendMessage queues a message for the client
func (wsConn *WebSocketConnection) sendMessage(msg types.WebSocketMessage) {
	wsConn.mutex.Lock()
	defer wsConn.mutex.Unlock()

	if wsConn.closed {
		return
	}

	select {
	case wsConn.eventBus <- msg:
	default:
		wsConn.logger.Warn("Event bus full, dropping message")
	}
}

// sendError sends an error message carrying the failure kind
func (wsConn *WebSocketConnection) sendError(err error) {
	msg := types.WebSocketMessage{Type: "error", Error: err.Error()}

	var bridgeErr *bridge.Error
	if errors.As(err, &bridgeErr) {
		msg.Kind = string(bridgeErr.Kind)
		msg.Error = bridgeErr.Message
		msg.Stderr = bridgeErr.Stderr
	}

	wsConn.sendMessage(msg)
}

func (wsConn *WebSocketConnection) initialized() bool {
	wsConn.mutex.Lock()
	defer wsConn.mutex.Unlock()
	return wsConn.job != nil
}

// close flushes queued messages and closes the connection with code
func (wsConn *WebSocketConnection) close(code int, message string) {
	wsConn.mutex.Lock()
	defer wsConn.mutex.Unlock()

	if wsConn.closed {
		return
	}

	wsConn.closed = true
	wsConn.closeCode = code
	wsConn.closeText = message
	close(wsConn.eventBus)
}
