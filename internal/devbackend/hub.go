package devbackend

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const roomCodeLength = 8

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	Mode  Mode
	Reply chan *Game
}

type GetSession struct {
	ID    string
	Reply chan *Game // nil when unknown
}

type RemoveSession struct{ ID string }

// ReserveRoom claims a fresh code that resolves to nothing until BindRoom.
type ReserveRoom struct {
	Reply chan RoomReply
}

type BindRoom struct {
	Code      string
	SessionID string
}

type LookupRoom struct {
	Code  string
	Reply chan RoomReply
}

type RoomReply struct {
	Code      string
	SessionID string // empty while pending
	Found     bool
	Err       error
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (ReserveRoom) isHubMsg()   {}
func (BindRoom) isHubMsg()      {}
func (LookupRoom) isHubMsg()    {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*Game
	rooms    map[string]string
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*Game),
		rooms:    make(map[string]string),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				id := uuid.NewString()
				g := NewGame(h.ctx, id, msg.Mode, h.log)
				h.sessions[id] = g
				h.log.Info("session created", zap.String("session", id), zap.String("mode", msg.Mode.Name))
				msg.Reply <- g

			case GetSession:
				msg.Reply <- h.sessions[msg.ID]

			case RemoveSession:
				if g := h.sessions[msg.ID]; g != nil {
					g.Inbox() <- Shutdown{}
					delete(h.sessions, msg.ID)
				}
				for code, id := range h.rooms {
					if id == msg.ID {
						delete(h.rooms, code)
					}
				}

			case ReserveRoom:
				msg.Reply <- h.reserve()

			case BindRoom:
				if _, ok := h.rooms[msg.Code]; ok {
					h.rooms[msg.Code] = msg.SessionID
				}

			case LookupRoom:
				id, ok := h.rooms[msg.Code]
				msg.Reply <- RoomReply{Code: msg.Code, SessionID: id, Found: ok}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) reserve() RoomReply {
	for {
		code, err := GenerateCode()
		if err != nil {
			return RoomReply{Err: err}
		}
		if _, taken := h.rooms[code]; taken {
			h.log.Debug("room code collision, regenerating")
			continue
		}
		h.rooms[code] = ""
		return RoomReply{Code: code, Found: true}
	}
}

func (h *Hub) shutdown() {
	for id, g := range h.sessions {
		g.Inbox() <- Shutdown{}
		delete(h.sessions, id)
	}
	clear(h.rooms)
	h.cancel()
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, roomCodeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
