package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rvrun/rvrun/internal/bridge"
	"github.com/rvrun/rvrun/internal/runtime"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/sirupsen/logrus"
)

// Version is reported by GET /
const Version = "1.0.0"

// Handler contains the dependencies for HTTP handlers
type Handler struct {
	bridge         *bridge.Manager
	runtimeManager *runtime.Manager
	logger         *logrus.Logger
}

// NewHandler creates a new handler instance
func NewHandler(bridgeManager *bridge.Manager, runtimeManager *runtime.Manager, logger *logrus.Logger) *Handler {
	return &Handler{
		bridge:         bridgeManager,
		runtimeManager: runtimeManager,
		logger:         logger,
	}
}

// GetVersion returns the API version
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, map[string]string{
		"message": "rvrun v" + Version,
	}, http.StatusOK)
}

// GetHealth reports that the server is accepting requests
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Interpret runs the submitted program and returns its tokens, AST sequence
// and program output
func (h *Handler) Interpret(w http.ResponseWriter, r *http.Request) {
	var request types.InterpretRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&request); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.sendError(w, &bridge.Error{Kind: bridge.KindInvalidRequest, Message: "Request body too large"}, http.StatusRequestEntityTooLarge)
			return
		}
		h.sendError(w, &bridge.Error{Kind: bridge.KindInvalidRequest, Message: "Invalid JSON request"}, http.StatusBadRequest)
		return
	}

	if err := validateInterpretRequest(&request); err != nil {
		h.sendError(w, &bridge.Error{Kind: bridge.KindInvalidRequest, Message: err.Error()}, http.StatusBadRequest)
		return
	}

	result, err := h.bridge.Interpret(r.Context(), &request)
	if err != nil {
		var bridgeErr *bridge.Error
		if !errors.As(err, &bridgeErr) {
			bridgeErr = &bridge.Error{Kind: bridge.KindLaunch, Message: "Internal server error", Err: err}
		}

		status := statusForKind(bridgeErr.Kind)
		logger := h.logger.WithFields(logrus.Fields{
			"kind":   bridgeErr.Kind,
			"status": status,
		})
		if status >= http.StatusInternalServerError {
			logger.WithError(err).Error("Interpret request failed")
		} else {
			logger.WithError(err).Info("Interpret request rejected")
		}

		h.sendError(w, bridgeErr, status)
		return
	}

	h.sendJSON(w, result, http.StatusOK)
}

// GetRuntimes returns available interpreters
func (h *Handler) GetRuntimes(w http.ResponseWriter, r *http.Request) {
	runtimes := h.runtimeManager.GetRuntimes()

	response := make([]types.RuntimeInfo, len(runtimes))
	for i := range runtimes {
		response[i] = runtimeInfo(&runtimes[i])
	}

	h.sendJSON(w, response, http.StatusOK)
}

// runtimeInfo describes a runtime to clients. Aliases encode as [] rather than null.
func runtimeInfo(rt *types.Runtime) types.RuntimeInfo {
	aliases := rt.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	return types.RuntimeInfo{
		Name:    rt.Name,
		Version: rt.Version.String(),
		Aliases: aliases,
	}
}

// validateInterpretRequest validates the incoming interpret request
func validateInterpretRequest(request *types.InterpretRequest) error {
	if request.Code == nil {
		return fmt.Errorf("code is required as an array of strings")
	}
	return nil
}

// statusForKind maps a bridge failure kind to its HTTP status
func statusForKind(kind bridge.Kind) int {
	switch kind {
	case bridge.KindInvalidRequest:
		return http.StatusBadRequest
	case bridge.KindInterpreter:
		return http.StatusUnprocessableEntity
	case bridge.KindParse:
		return http.StatusBadGateway
	case bridge.KindTimeout:
		return http.StatusGatewayTimeout
	case bridge.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, err *bridge.Error, statusCode int) {
	h.sendJSON(w, types.ErrorResponse{
		Message: err.Message,
		Kind:    string(err.Kind),
		Code:    statusCode,
		Stderr:  err.Stderr,
	}, statusCode)
}

// sendJSON sends a JSON response
func (h *Handler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
