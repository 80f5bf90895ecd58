package devbackend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/engine"
	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

const maxBody = 64 << 10

func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// decode reads an optional JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err == nil || err == io.EOF {
		return nil
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

func (b *Backend) createSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode, ok := LookupMode(req.Config.Mode)
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown mode %q", errBadRequest, req.Config.Mode))
		return
	}

	ctx := r.Context()
	roomReply := make(chan RoomReply, 1)
	room, err := askHub(ctx, b.hub, ReserveRoom{Reply: roomReply}, roomReply)
	if err == nil {
		err = room.Err
	}
	if err != nil {
		writeError(w, err)
		return
	}

	gameReply := make(chan *Game, 1)
	g, err := askHub(ctx, b.hub, CreateSession{Mode: mode, Reply: gameReply}, gameReply)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := types.CreateSessionResponse{SessionID: g.ID(), RoomCode: room.Code}
	if req.AccountID != "" {
		seatReply := make(chan Seated, 1)
		seated, err := askGame(ctx, g, Join{AccountID: req.AccountID, DisplayName: req.DisplayName, Reply: seatReply}, seatReply)
		if err == nil {
			err = seated.Err
		}
		if err != nil {
			writeError(w, err)
			return
		}
		resp.LocalSlot, resp.Token = string(seated.Slot), seated.Token
	}

	bind := BindRoom{Code: room.Code, SessionID: g.ID()}
	if hold := b.hold; hold != nil {
		go func() {
			<-hold
			select {
			case b.hub.Inbox() <- bind:
			case <-b.hub.Done():
			}
		}()
	} else {
		b.hub.Inbox() <- bind
	}

	b.log.Info("room reserved", zap.String("room", room.Code), zap.String("session", g.ID()))
	writeJSON(w, http.StatusCreated, resp)
}

func (b *Backend) join(w http.ResponseWriter, r *http.Request) {
	var req types.JoinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	g, err := b.session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	reply := make(chan Seated, 1)
	seated, err := askGame(r.Context(), g, Join{AccountID: req.AccountID, DisplayName: req.DisplayName, Reply: reply}, reply)
	if err == nil {
		err = seated.Err
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.JoinResponse{LocalSlot: string(seated.Slot), Token: seated.Token, Snapshot: seated.Snapshot})
}

func (b *Backend) state(w http.ResponseWriter, r *http.Request) {
	slot := engine.NoSlot
	if q := r.URL.Query().Get("slot"); q != "" {
		s, ok := engine.ParseSlot(q)
		if !ok {
			writeError(w, fmt.Errorf("%w: slot %q", errBadRequest, q))
			return
		}
		slot = s
	}
	g, err := b.session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	reply := make(chan Result, 1)
	b.reply(w, r, g, GetSnapshot{Slot: slot, Token: bearer(r), Reply: reply}, reply)
}

func (b *Backend) command(typ CommandType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := Command{Type: typ}
		switch typ {
		case CmdPlaceUnit:
			var req types.PlaceUnitRequest
			if err := decode(r, &req); err != nil {
				writeError(w, err)
				return
			}
			cmd.Row, cmd.Col, cmd.Size, cmd.Horizontal = req.Row, req.Col, req.Size, req.Horizontal
		case CmdRemoveUnit, CmdAttack:
			var req types.CellRequest
			if err := decode(r, &req); err != nil {
				writeError(w, err)
				return
			}
			cmd.Row, cmd.Col = req.Row, req.Col
		}

		g, err := b.session(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		reply := make(chan Result, 1)
		b.reply(w, r, g, Do{Token: bearer(r), Cmd: cmd, Reply: reply}, reply)
	}
}

func (b *Backend) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, err := b.session(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	reply := make(chan Result, 1)
	if !b.reply(w, r, g, Delete{Token: bearer(r), Reply: reply}, reply) {
		return
	}
	b.hub.Inbox() <- RemoveSession{ID: id}
}

// reply forwards msg to the game and writes its snapshot or error. It reports
// whether the game accepted the message.
func (b *Backend) reply(w http.ResponseWriter, r *http.Request, g *Game, msg Msg, reply chan Result) bool {
	res, err := askGame(r.Context(), g, msg, reply)
	if err == nil {
		err = res.Err
	}
	if err != nil {
		writeError(w, err)
		return false
	}
	writeJSON(w, http.StatusOK, types.SnapshotResponse{Snapshot: res.Snapshot})
	return true
}

func (b *Backend) roomInfo(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	reply := make(chan RoomReply, 1)
	room, err := askHub(r.Context(), b.hub, LookupRoom{Code: code, Reply: reply}, reply)
	if err != nil {
		writeError(w, err)
		return
	}
	if !room.Found {
		writeError(w, fmt.Errorf("%w: %s", errRoomNotFound, code))
		return
	}
	writeJSON(w, http.StatusOK, types.RoomInfo{SessionID: room.SessionID})
}
