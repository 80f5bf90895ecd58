// Package notice decides which errors the player gets to see.
package notice

import (
	"context"
	"errors"

	"github.com/DoyleJ11/seabattle-client/internal/phase"
	"github.com/DoyleJ11/seabattle-client/internal/reconcile"
	"github.com/DoyleJ11/seabattle-client/internal/room"
	"github.com/DoyleJ11/seabattle-client/internal/transport"
	"github.com/DoyleJ11/seabattle-client/internal/turn"
	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

// Notice is a dismissible message. Reload offers to re-fetch the session.
type Notice struct {
	Message string
	Reload  bool
	Err     error
}

var silent = []error{
	reconcile.ErrIdentityMismatch,
	reconcile.ErrPhaseRegression,
	reconcile.ErrForeignSession,
	reconcile.ErrStopped,
	turn.ErrActionInFlight,
	turn.ErrSessionClosed,
	context.Canceled,
}

// From maps err onto a notice. ok is false for nil and for anomalies that are
// only worth a debug log.
func From(err error) (n Notice, ok bool) {
	if err == nil {
		return Notice{}, false
	}
	for _, s := range silent {
		if errors.Is(err, s) {
			return Notice{}, false
		}
	}

	n.Err = err
	switch {
	case errors.Is(err, transport.ErrSessionFull):
		n.Message = "This game already has two players."
	case errors.Is(err, transport.ErrSessionNotFound):
		n.Message = "This game no longer exists."
	case errors.Is(err, room.ErrRoomNotFound):
		n.Message = "No game with that room code."
	case errors.Is(err, room.ErrInvalidCode), errors.Is(err, room.ErrInvalidStartParam):
		n.Message = "That room code is not valid."
	case errors.Is(err, turn.ErrNotYourTurn):
		n.Message = "Wait for your turn."
	case errors.Is(err, turn.ErrOutOfBounds):
		n.Message = "That cell is off the board."
	case errors.Is(err, phase.ErrCommandNotAllowed):
		n.Message = "That is not possible right now."
	case errors.Is(err, context.DeadlineExceeded), transport.IsNetwork(err):
		n.Message = "Can't reach the game server."
		n.Reload = true
	case transport.StatusCode(err) != 0:
		n.Message = backendMessage(err)
		n.Reload = !rejectedMove(transport.ErrorCode(err))
	default:
		n.Message = err.Error()
		n.Reload = true
	}
	return n, true
}

func backendMessage(err error) string {
	var te *transport.Error
	if errors.As(err, &te) && te.Payload.Message != "" {
		return te.Payload.Message
	}
	return err.Error()
}

// rejectedMove reports codes that mean the move was refused while the session
// itself is fine.
func rejectedMove(code string) bool {
	switch code {
	case types.CodeNotYourTurn, types.CodeWrongPhase, types.CodeInvalidMove:
		return true
	}
	return false
}
