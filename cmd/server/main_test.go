package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rvrun/rvrun/internal/bridge"
	"github.com/rvrun/rvrun/internal/config"
	"github.com/rvrun/rvrun/internal/handler"
	"github.com/rvrun/rvrun/internal/protocol"
	"github.com/rvrun/rvrun/internal/runtime"
	"github.com/rvrun/rvrun/internal/testutil"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubInterpreter behaves according to the first line of the program
const stubInterpreter = `case "$(head -n 1 "$1")" in
fail*)
  echo "garbage on stdout"
  printf 'undefined variable y' >&2
  exit 2 ;;
empty*)
  echo "` + protocol.Delimiter + `"
  echo "` + protocol.Delimiter + `"
  exit 0 ;;
broken*)
  echo "no delimiters at all"
  exit 0 ;;
hang*)
  exec sleep 30 ;;
esac
echo "IDENTIFIER, x"
echo "ASSIGN, ="
echo "` + protocol.Delimiter + `"
echo "AST"
echo "(assign x 1)"
echo "` + protocol.Delimiter + `"
echo "OUTPUT"
tail -n +2 "$1"`

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	dir := t.TempDir()
	script := testutil.WriteScript(t, dir, "rv", stubInterpreter)

	cfg := &config.Config{
		DataDirectory:     t.TempDir(),
		RequestBodyLimit:  1024,
		WorkspaceMode:     config.WorkspaceIsolated,
		RunTimeout:        time.Second,
		MaxConcurrentJobs: 4,
		Interpreters: []config.Interpreter{
			{Name: "rv", Version: "0.1.0", Path: script, Aliases: []string{"riverscript"}},
			{Name: "rv", Version: "0.0.1", Path: filepath.Join(dir, "missing")},
		},
	}
	require.NoError(t, ensureDataDirectories(cfg))

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	runtimeManager := runtime.NewManager(cfg)
	require.NoError(t, runtimeManager.LoadInterpreters())

	bridgeManager := bridge.NewManager(cfg, runtimeManager, bridge.NewAllocator(cfg))
	return newRouter(cfg, handler.NewHandler(bridgeManager, runtimeManager, logger), logger)
}

func TestAPIEndpoints(t *testing.T) {
	r := newTestServer(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		contentType    string
		expectedStatus int
		checkResponse  func(t *testing.T, body []byte)
	}{
		{
			name:           "Health Check",
			method:         http.MethodGet,
			path:           "/health",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				assert.Equal(t, "OK", string(body))
			},
		},
		{
			name:           "Get Version",
			method:         http.MethodGet,
			path:           "/",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				assert.JSONEq(t, `{"message":"rvrun v`+handler.Version+`"}`, string(body))
			},
		},
		{
			name:           "Get Runtimes",
			method:         http.MethodGet,
			path:           "/api/v1/runtimes",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var runtimes []types.RuntimeInfo
				require.NoError(t, json.Unmarshal(body, &runtimes))
				assert.Equal(t, []types.RuntimeInfo{
					{Name: "rv", Version: "0.1.0", Aliases: []string{"riverscript"}},
					{Name: "rv", Version: "0.0.1", Aliases: []string{}},
				}, runtimes)
			},
		},
		{
			name:           "Preflight",
			method:         http.MethodOptions,
			path:           "/interpret",
			expectedStatus: http.StatusNoContent,
			checkResponse: func(t *testing.T, body []byte) {
				assert.Empty(t, body)
			},
		},
		{
			name:           "Interpret",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": ["x = 1", "print(x)"]}`,
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				assert.JSONEq(t, `{
					"tokens": [["IDENTIFIER", "x"], ["ASSIGN", "="]],
					"ast_sequence": ["(assign x 1)"],
					"progam_output": ["print(x)"]
				}`, string(body))
			},
		},
		{
			name:           "Interpret Versioned Route",
			method:         http.MethodPost,
			path:           "/api/v1/interpret",
			body:           `{"code": ["x = 1"], "version": "0.x"}`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Interpret Empty Sections",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": ["empty"]}`,
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				assert.JSONEq(t, `{"tokens": [], "ast_sequence": [], "progam_output": []}`, string(body))
			},
		},
		{
			name:           "Interpreter Error",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": ["fail", "print(y)"]}`,
			expectedStatus: http.StatusUnprocessableEntity,
			checkResponse: func(t *testing.T, body []byte) {
				var response types.ErrorResponse
				require.NoError(t, json.Unmarshal(body, &response))
				assert.Equal(t, "interpreter", response.Kind)
				assert.Equal(t, "undefined variable y", response.Stderr)
				assert.Equal(t, http.StatusUnprocessableEntity, response.Code)
			},
		},
		{
			name:           "Malformed Interpreter Output",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": ["broken"]}`,
			expectedStatus: http.StatusBadGateway,
			checkResponse: func(t *testing.T, body []byte) {
				var response types.ErrorResponse
				require.NoError(t, json.Unmarshal(body, &response))
				assert.Equal(t, "parse", response.Kind)
			},
		},
		{
			name:           "Interpreter Binary Missing",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": ["x = 1"], "version": "0.0.1"}`,
			expectedStatus: http.StatusInternalServerError,
			checkResponse: func(t *testing.T, body []byte) {
				var response types.ErrorResponse
				require.NoError(t, json.Unmarshal(body, &response))
				assert.Equal(t, "launch", response.Kind)
				assert.Equal(t, http.StatusInternalServerError, response.Code)
			},
		},
		{
			name:           "Interpreter Timeout",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": ["hang"]}`,
			expectedStatus: http.StatusGatewayTimeout,
			checkResponse: func(t *testing.T, body []byte) {
				var response types.ErrorResponse
				require.NoError(t, json.Unmarshal(body, &response))
				assert.Equal(t, "timeout", response.Kind)
				assert.Equal(t, http.StatusGatewayTimeout, response.Code)
			},
		},
		{
			name:           "Missing Code",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, body []byte) {
				var response types.ErrorResponse
				require.NoError(t, json.Unmarshal(body, &response))
				assert.Equal(t, "invalid_request", response.Kind)
				assert.NotEmpty(t, response.Message)
			},
		},
		{
			name:           "Code Is Not A List",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": "x = 1"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Unknown Field",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": [], "language": "python"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Line Break Inside Line",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": ["x = 1\nprint(x)"]}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Unknown Version",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": ["x = 1"], "version": "9.x"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Wrong Content Type",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": []}`,
			contentType:    "text/plain",
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:           "Body Too Large",
			method:         http.MethodPost,
			path:           "/interpret",
			body:           `{"code": ["` + strings.Repeat("x", 2048) + `"]}`,
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *bytes.Buffer
			if tt.body != "" {
				body = bytes.NewBufferString(tt.body)
			} else {
				body = &bytes.Buffer{}
			}

			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.body != "" {
				contentType := tt.contentType
				if contentType == "" {
					contentType = "application/json"
				}
				req.Header.Set("Content-Type", contentType)
			}

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

			if tt.checkResponse != nil {
				tt.checkResponse(t, rr.Body.Bytes())
			}
		})
	}
}

func TestWebSocketInterpret(t *testing.T) {
	server := httptest.NewServer(newTestServer(t))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/connect"

	readAll := func(t *testing.T, code []string) []types.WebSocketMessage {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(types.WebSocketMessage{
			Type:    "init",
			Payload: map[string]interface{}{"code": code},
		}))

		var messages []types.WebSocketMessage
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		for {
			var msg types.WebSocketMessage
			if err := conn.ReadJSON(&msg); err != nil {
				assert.True(t, websocket.IsCloseError(err, handler.CloseJobCompleted), "unexpected close: %v", err)
				break
			}
			messages = append(messages, msg)
		}
		return messages
	}

	t.Run("success", func(t *testing.T) {
		messages := readAll(t, []string{"x = 1", "print(x)"})

		var kinds []string
		for _, msg := range messages {
			kinds = append(kinds, msg.Type)
		}
		require.Equal(t, []string{"runtime", "tokens", "ast", "output", "complete"}, kinds)
		assert.Equal(t, []interface{}{"print(x)"}, messages[3].Payload)
	})

	t.Run("interpreter error", func(t *testing.T) {
		messages := readAll(t, []string{"fail"})

		require.Len(t, messages, 2)
		assert.Equal(t, "runtime", messages[0].Type)
		assert.Equal(t, "error", messages[1].Type)
		assert.Equal(t, "interpreter", messages[1].Kind)
		assert.Equal(t, "undefined variable y", messages[1].Stderr)
	})
}
