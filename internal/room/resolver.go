package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/engine"
	"github.com/DoyleJ11/seabattle-client/internal/logging"
	"github.com/DoyleJ11/seabattle-client/internal/transport"
	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrAccountRequired = errors.New("account identity required")
var ErrUnknownMode = errors.New("unknown game mode")

var Modes = []string{"classic", "fast", "full"}

const keyRoomCode = "room_code"

func identityKey(sessionID string) string { return "identity/" + sessionID }

type API interface {
	CreateSession(ctx context.Context, req types.CreateSessionRequest) (types.CreateSessionResponse, error)
	RoomInfo(ctx context.Context, code string) (types.RoomInfo, error)
	Join(ctx context.Context, sessionID string, req types.JoinRequest) (types.JoinResponse, error)
}

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type Account struct {
	ID          string
	DisplayName string
}

type Config struct {
	Mode    string
	Account Account
}

type Created struct {
	SessionID  string
	Identity   engine.Identity
	RoomCode   string
	InviteLink string
}

type Joined struct {
	Identity engine.Identity
	Snapshot types.Snapshot
}

// Resolution is either a session id or Pending: the room exists but its
// session is not created yet.
type Resolution struct {
	SessionID string
	Pending   bool
}

type Options struct {
	BotUsername  string
	PollInterval time.Duration
	Log          *zap.Logger
}

type Resolver struct {
	api   API
	store Store
	bot   string
	poll  time.Duration
	log   *zap.Logger
}

func NewResolver(api API, store Store, opts Options) *Resolver {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Resolver{
		api:   api,
		store: store,
		bot:   opts.BotUsername,
		poll:  poll,
		log:   logging.OrNop(opts.Log).Named("room"),
	}
}

func (r *Resolver) CreateSession(ctx context.Context, cfg Config) (Created, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = Modes[0]
	}
	if !slices.Contains(Modes, mode) {
		return Created{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	resp, err := r.api.CreateSession(ctx, types.CreateSessionRequest{
		Config:      types.SessionConfig{Mode: mode},
		AccountID:   cfg.Account.ID,
		DisplayName: cfg.Account.DisplayName,
	})
	if err != nil {
		return Created{}, fmt.Errorf("create session: %w", err)
	}

	out := Created{SessionID: resp.SessionID, RoomCode: NormalizeCode(resp.RoomCode)}
	if resp.LocalSlot != "" {
		slot, ok := engine.ParseSlot(resp.LocalSlot)
		if !ok {
			return Created{}, fmt.Errorf("create session: backend assigned unknown slot %q", resp.LocalSlot)
		}
		out.Identity = engine.Identity{Slot: slot, Token: resp.Token}
		if err := r.saveIdentity(ctx, resp.SessionID, out.Identity); err != nil {
			return Created{}, err
		}
	}
	if out.RoomCode != "" {
		out.InviteLink = InviteLink(r.bot, out.RoomCode)
		if err := r.store.Put(ctx, keyRoomCode, out.RoomCode); err != nil {
			return Created{}, fmt.Errorf("remember room code: %w", err)
		}
	}

	r.log.Info("session created", zap.String("session", out.SessionID), zap.String("room", out.RoomCode))
	return out, nil
}

func (r *Resolver) ResolveRoomCode(ctx context.Context, raw string) (Resolution, error) {
	code := NormalizeCode(raw)
	if !ValidCode(code) {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidCode, raw)
	}

	info, err := r.api.RoomInfo(ctx, code)
	if err != nil {
		if transport.StatusCode(err) == http.StatusNotFound {
			return Resolution{}, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
		}
		return Resolution{}, fmt.Errorf("resolve room %s: %w", code, err)
	}
	if info.SessionID == "" {
		return Resolution{Pending: true}, nil
	}

	// The code has served its purpose once it names a session.
	if stored, ok, err := r.store.Get(ctx, keyRoomCode); err == nil && ok && stored == code {
		if err := r.store.Delete(ctx, keyRoomCode); err != nil {
			r.log.Warn("could not drop consumed room code", zap.Error(err))
		}
	}
	return Resolution{SessionID: info.SessionID}, nil
}

// AwaitRoomCode polls until the room names a session, the room turns out not
// to exist, or ctx ends.
func (r *Resolver) AwaitRoomCode(ctx context.Context, code string) (string, error) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		res, err := r.ResolveRoomCode(ctx, code)
		if err != nil {
			return "", err
		}
		if !res.Pending {
			return res.SessionID, nil
		}
		r.log.Debug("room pending", zap.String("room", code))

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// JoinSession binds acct to a free slot, or returns the slot it already holds.
func (r *Resolver) JoinSession(ctx context.Context, sessionID string, acct Account) (Joined, error) {
	if acct.ID == "" {
		return Joined{}, ErrAccountRequired
	}

	resp, err := r.api.Join(ctx, sessionID, types.JoinRequest{AccountID: acct.ID, DisplayName: acct.DisplayName})
	if err != nil {
		return Joined{}, fmt.Errorf("join %s: %w", sessionID, err)
	}
	slot, ok := engine.ParseSlot(resp.LocalSlot)
	if !ok {
		return Joined{}, fmt.Errorf("join %s: backend assigned unknown slot %q", sessionID, resp.LocalSlot)
	}

	id := engine.Identity{Slot: slot, Token: resp.Token}
	if err := r.saveIdentity(ctx, sessionID, id); err != nil {
		return Joined{}, err
	}
	r.log.Info("joined session", zap.String("session", sessionID), zap.String("slot", string(slot)))
	return Joined{Identity: id, Snapshot: resp.Snapshot}, nil
}

type storedIdentity struct {
	Slot  string `json:"slot"`
	Token string `json:"token"`
}

func (r *Resolver) StoredIdentity(ctx context.Context, sessionID string) (engine.Identity, bool, error) {
	raw, ok, err := r.store.Get(ctx, identityKey(sessionID))
	if err != nil || !ok {
		return engine.Identity{}, false, err
	}
	var si storedIdentity
	if err := json.Unmarshal([]byte(raw), &si); err != nil {
		return engine.Identity{}, false, fmt.Errorf("decode stored identity: %w", err)
	}
	slot, ok := engine.ParseSlot(si.Slot)
	if !ok {
		return engine.Identity{}, false, nil
	}
	return engine.Identity{Slot: slot, Token: si.Token}, true, nil
}

// PendingRoomCode is the code of a room created here and not consumed yet.
func (r *Resolver) PendingRoomCode(ctx context.Context) (string, bool, error) {
	return r.store.Get(ctx, keyRoomCode)
}

// Forget clears everything held locally about sessionID, plus any room code.
func (r *Resolver) Forget(ctx context.Context, sessionID string) error {
	return multierr.Combine(
		r.store.Delete(ctx, identityKey(sessionID)),
		r.store.Delete(ctx, keyRoomCode),
	)
}

func (r *Resolver) saveIdentity(ctx context.Context, sessionID string, id engine.Identity) error {
	b, err := json.Marshal(storedIdentity{Slot: string(id.Slot), Token: id.Token})
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, identityKey(sessionID), string(b)); err != nil {
		return fmt.Errorf("remember identity: %w", err)
	}
	return nil
}
