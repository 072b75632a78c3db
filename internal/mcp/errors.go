package mcp

import (
	"errors"
	"fmt"
	"time"
)

// LaunchError means the server subprocess could not be started at all:
// missing executable, spawn failure, or exit before the transport came up.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TimeoutError means a single request exceeded its deadline. The subprocess
// is left running; aborting is the caller's decision.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out after %s", e.Method, e.Timeout)
}

// RemoteError is a structured error payload returned by the server. For
// error-scenario and security probes this is often the expected outcome and
// must stay distinguishable from a crash.
type RemoteError struct {
	Method  string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error on %s: code=%d %s", e.Method, e.Code, e.Message)
}

// ProtocolError means the transport produced a frame that could not be
// parsed or correlated.
type ProtocolError struct {
	Reason string
	Frame  string
}

func (e *ProtocolError) Error() string {
	if e.Frame == "" {
		return "protocol error: " + e.Reason
	}
	return fmt.Sprintf("protocol error: %s (frame: %.120s)", e.Reason, e.Frame)
}

func IsLaunchError(err error) (*LaunchError, bool) {
	var le *LaunchError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func IsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func IsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
