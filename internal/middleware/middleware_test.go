package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryLogsPanicWithStack(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery())
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var panicked, completed *logrus.Entry
	for _, entry := range hook.AllEntries() {
		switch entry.Message {
		case "Request panicked":
			panicked = entry
		case "Request completed":
			completed = entry
		}
	}

	require.NotNil(t, panicked)
	assert.Equal(t, logrus.ErrorLevel, panicked.Level)
	assert.Equal(t, "boom", panicked.Data["panic"])
	assert.Contains(t, panicked.Data["stack"], "goroutine")
	assert.NotEmpty(t, panicked.Data["request_id"])

	require.NotNil(t, completed)
	assert.Equal(t, http.StatusInternalServerError, completed.Data["status"])
}

func TestRecoveryRepanicsAbortHandler(t *testing.T) {
	handler := Recovery()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRequestGuards(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORS()(BodyLimit(16)(JSON(ok)))

	tests := []struct {
		name           string
		method         string
		body           string
		contentType    string
		expectedStatus int
	}{
		{"Preflight", http.MethodOptions, "", "", http.StatusNoContent},
		{"Get Skips Content Type", http.MethodGet, "", "", http.StatusOK},
		{"Json Post", http.MethodPost, `{}`, "application/json; charset=utf-8", http.StatusOK},
		{"Plain Text Post", http.MethodPost, `{}`, "text/plain", http.StatusUnsupportedMediaType},
		{"Oversized Body", http.MethodPost, strings.Repeat("x", 32), "application/json", http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/interpret", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
