package types

// Client -> Server (REST)

type CreateSessionRequest struct {
	Config      SessionConfig `json:"config"`
	AccountID   string        `json:"accountId,omitempty"`
	DisplayName string        `json:"displayName,omitempty"`
}

type SessionConfig struct {
	Mode string `json:"mode"` // "classic" | "fast" | "full"
}

type JoinRequest struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName,omitempty"`
}

type PlaceUnitRequest struct {
	Row        int  `json:"row"`
	Col        int  `json:"col"`
	Size       int  `json:"size"`
	Horizontal bool `json:"horizontal"`
}

type CellRequest struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Server -> Client (REST)

type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	LocalSlot string `json:"localSlot,omitempty"`
	Token     string `json:"token,omitempty"`
	RoomCode  string `json:"roomCode,omitempty"`
}

type JoinResponse struct {
	LocalSlot string   `json:"localSlot"`
	Token     string   `json:"token"`
	Snapshot  Snapshot `json:"snapshot"`
}

type SnapshotResponse struct {
	Snapshot Snapshot `json:"snapshot"`
}

// RoomInfo has no session id while the room is still pending.
type RoomInfo struct {
	SessionID string `json:"sessionId,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Error codes carried in ErrorPayload.Code.
const (
	CodeSessionNotFound = "session_not_found"
	CodeSessionFull     = "session_full"
	CodeRoomNotFound    = "room_not_found"
	CodeNotYourTurn     = "not_your_turn"
	CodeWrongPhase      = "wrong_phase"
	CodeInvalidMove     = "invalid_move"
	CodeUnauthorized    = "unauthorized"
	CodeBadRequest      = "bad_request"
)

// Server -> Client (push)
//
// PushMessage:
//   type: "snapshot" | "error"
//   snapshot: Snapshot (type == "snapshot")
//   error: string (type == "error")

type PushMessage struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
}

const (
	PushSnapshot = "snapshot"
	PushError    = "error"
)
