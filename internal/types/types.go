package types

import (
	"time"

	"github.com/Masterminds/semver/v3"
)

// JobState represents the state of an interpret job
type JobState int

const (
	JobStateReady JobState = iota
	JobStatePrimed
	JobStateExecuted
)

// InterpretRequest represents an incoming program submission
type InterpretRequest struct {
	Code    []string `json:"code"`
	Version string   `json:"version,omitempty"`
}

// ParsedResult is the structured form of the interpreter's three-section stdout
type ParsedResult struct {
	Tokens        [][]string `json:"tokens"`
	ASTSequence   []string   `json:"ast_sequence"`
	ProgramOutput []string   `json:"progam_output"`
}

// ProcessResult represents a finished interpreter process
type ProcessResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	WallTime time.Duration `json:"wall_time"`
}

// Runtime represents an interpreter executable available to the service
type Runtime struct {
	Name    string          `json:"name"`
	Version *semver.Version `json:"version"`
	Path    string          `json:"path"`
	Args    []string        `json:"args"`
	Aliases []string        `json:"aliases"`
}

// RuntimeInfo represents runtime information for API responses
type RuntimeInfo struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Aliases []string `json:"aliases"`
}

// BuildResult represents the outcome of building the interpreter
type BuildResult struct {
	Command  []string      `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Checksum string        `json:"checksum,omitempty"`
	WallTime time.Duration `json:"wall_time"`
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Kind    string      `json:"kind,omitempty"`
	Error   string      `json:"error,omitempty"`
	Stderr  string      `json:"stderr,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Code    int    `json:"code,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
}
