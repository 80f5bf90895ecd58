package room

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidCode = errors.New("invalid room code")
var ErrInvalidStartParam = errors.New("invalid start parameter")

const (
	roomPrefix    = "room-"
	sessionPrefix = "game-"
)

// NormalizeCode makes user-typed codes comparable: codes are upper-case A-Z0-9.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidCode(code string) bool {
	if code == "" || len(code) > 16 {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// StartTarget is what a deep-link start parameter points at. Exactly one field is set.
type StartTarget struct {
	RoomCode  string
	SessionID string
}

// ParseStartParam understands "room-CODE" and "game-SESSIONID".
func ParseStartParam(param string) (StartTarget, error) {
	param = strings.TrimSpace(param)
	switch {
	case strings.HasPrefix(param, roomPrefix):
		code := NormalizeCode(strings.TrimPrefix(param, roomPrefix))
		if !ValidCode(code) {
			return StartTarget{}, fmt.Errorf("%w: %q", ErrInvalidCode, param)
		}
		return StartTarget{RoomCode: code}, nil
	case strings.HasPrefix(param, sessionPrefix):
		id := strings.TrimPrefix(param, sessionPrefix)
		if id == "" {
			return StartTarget{}, fmt.Errorf("%w: %q", ErrInvalidStartParam, param)
		}
		return StartTarget{SessionID: id}, nil
	default:
		return StartTarget{}, fmt.Errorf("%w: %q", ErrInvalidStartParam, param)
	}
}

// InviteLink is the deep link that opens the web view on the given room.
func InviteLink(botUsername, code string) string {
	if botUsername == "" || code == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?startapp=%s", url.PathEscape(botUsername), url.QueryEscape(roomPrefix+code))
}
