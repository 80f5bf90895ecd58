package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrSessionFull = errors.New("session full")

type Kind uint8

const (
	KindNetwork Kind = iota + 1 // no response at all
	KindStatus                  // backend answered with a non-2xx status
)

// Error is the failure of one request-channel call or push dial.
type Error struct {
	Kind    Kind
	Method  string
	Path    string
	Status  int
	Payload types.ErrorPayload
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindNetwork {
		return fmt.Sprintf("%s %s: network: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Payload.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if e.Kind != KindStatus {
		return false
	}
	switch target {
	case ErrSessionNotFound:
		return e.Payload.Code == types.CodeSessionNotFound ||
			(e.Payload.Code == "" && e.Status == http.StatusNotFound)
	case ErrSessionFull:
		return e.Payload.Code == types.CodeSessionFull
	}
	return false
}

func statusError(method, path string, status int, payload types.ErrorPayload) *Error {
	if payload.Message == "" {
		payload.Message = fmt.Sprintf("request failed with status %d", status)
	}
	return &Error{Kind: KindStatus, Method: method, Path: path, Status: status, Payload: payload}
}

func IsNetwork(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindNetwork
}

// StatusCode is the backend status behind err, or 0 when there was none.
func StatusCode(err error) int {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindStatus {
		return te.Status
	}
	return 0
}

// ErrorCode is the backend error code behind err, or "".
func ErrorCode(err error) string {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindStatus {
		return te.Payload.Code
	}
	return ""
}
