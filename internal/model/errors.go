package model

import (
	"errors"
	"fmt"
)

var (
	ErrAuth           = errors.New("authentication rejected")
	ErrSessionExpired = errors.New("session expired")
	ErrNetwork        = errors.New("network failure")
	ErrParse          = errors.New("unexpected response shape")
	ErrMapping        = errors.New("unmappable reading")
	ErrServer         = errors.New("server rejected request")
	ErrConfig         = errors.New("invalid configuration")
)

// ServerError carries the target's status and reason for a rejected upload.
type ServerError struct {
	StatusCode int
	Reason     string
}

func (e *ServerError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Reason)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}

// ErrorKind maps an error to its taxonomy label for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrMapping):
		return "mapping"
	case errors.Is(err, ErrServer):
		return "server"
	case errors.Is(err, ErrConfig):
		return "config"
	default:
		return "other"
	}
}
