package devbackend

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

var errBadRequest = errors.New("bad request")
var errRoomNotFound = errors.New("room not found")

// statusFor maps a domain error onto the status and code the client expects.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, types.CodeSessionNotFound
	case errors.Is(err, errRoomNotFound):
		return http.StatusNotFound, types.CodeRoomNotFound
	case errors.Is(err, ErrSessionFull):
		return http.StatusConflict, types.CodeSessionFull
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, types.CodeUnauthorized
	case errors.Is(err, ErrWrongTurn):
		return http.StatusConflict, types.CodeNotYourTurn
	case errors.Is(err, ErrWrongPhase):
		return http.StatusConflict, types.CodeWrongPhase
	case errors.Is(err, ErrIllegalPlacement),
		errors.Is(err, ErrUnitNotNeeded),
		errors.Is(err, ErrNoUnitThere),
		errors.Is(err, ErrAlreadyShot),
		errors.Is(err, ErrOutOfBounds):
		return http.StatusUnprocessableEntity, types.CodeInvalidMove
	case errors.Is(err, errBadRequest), errors.Is(err, ErrUnsupportedCommand), errors.Is(err, ErrNotSeated):
		return http.StatusBadRequest, types.CodeBadRequest
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, types.ErrorPayload{Code: code, Message: msg})
}
