package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rvrun/rvrun/internal/process"
	"github.com/rvrun/rvrun/internal/protocol"
)

// Kind classifies a failed interpret request
type Kind string

const (
	// KindInvalidRequest: the submitted program or version constraint is unusable
	KindInvalidRequest Kind = "invalid_request"
	// KindLaunch: the interpreter executable could not be started
	KindLaunch Kind = "launch"
	// KindInterpreter: the interpreter exited non-zero; Stderr holds its report
	KindInterpreter Kind = "interpreter"
	// KindParse: stdout did not follow the section protocol
	KindParse Kind = "parse"
	// KindIO: the program file could not be written
	KindIO Kind = "io"
	// KindTimeout: the interpreter outlived the run timeout
	KindTimeout Kind = "timeout"
	// KindUnavailable: the request gave up before a slot or workspace was free
	KindUnavailable Kind = "unavailable"
)

// Error is the single failure type returned by Interpret
type Error struct {
	Kind     Kind
	Message  string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or "" when err did not come from the bridge
func KindOf(err error) Kind {
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Kind
	}
	return ""
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// classifyRunError maps a process invocation failure to its kind
func classifyRunError(err error) *Error {
	var launchErr *process.LaunchError
	var timeoutErr *process.TimeoutError

	switch {
	case errors.As(err, &launchErr):
		return newError(KindLaunch, "interpreter could not be started", err)
	case errors.As(err, &timeoutErr):
		return newError(KindTimeout, fmt.Sprintf("interpreter did not finish within %s", timeoutErr.Timeout), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return contextError("request ended before the interpreter finished", err)
	default:
		return newError(KindLaunch, "interpreter run failed", err)
	}
}

// contextError classifies a request context that ended early. An expired
// deadline is a timeout; a cancelled request is unavailable.
func contextError(message string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, message, err)
	}
	return newError(KindUnavailable, message, err)
}

// classifyParseError wraps a protocol failure
func classifyParseError(err error) *Error {
	var parseErr *protocol.ParseError
	if errors.As(err, &parseErr) {
		return newError(KindParse, "interpreter output did not match the expected protocol", err)
	}
	return newError(KindParse, "failed to parse interpreter output", err)
}
