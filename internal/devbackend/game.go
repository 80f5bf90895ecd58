package devbackend

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/engine"
	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrSessionFull = errors.New("session is full")
var ErrUnauthorized = errors.New("token does not match a seat")

type Msg interface{ isGameMsg() }

type Result struct {
	Snapshot types.Snapshot
	Err      error
}

type Seated struct {
	Slot     engine.Slot
	Token    string
	Snapshot types.Snapshot
	Err      error
}

type Join struct {
	AccountID   string
	DisplayName string
	Reply       chan Seated
}

type Do struct {
	Token string
	Cmd   Command
	Reply chan Result
}

// GetSnapshot with an empty token renders the spectator view. A non-empty
// Slot must agree with the token.
type GetSnapshot struct {
	Slot  engine.Slot
	Token string
	Reply chan Result
}

type Subscribe struct {
	ClientID string
	Token    string
	Outbox   chan types.Snapshot
	Reply    chan error
}

type Unsubscribe struct{ ClientID string }

type Delete struct {
	Token string
	Reply chan Result
}

type Shutdown struct{}

func (Join) isGameMsg()        {}
func (Do) isGameMsg()          {}
func (GetSnapshot) isGameMsg() {}
func (Subscribe) isGameMsg()   {}
func (Unsubscribe) isGameMsg() {}
func (Delete) isGameMsg()      {}
func (Shutdown) isGameMsg()    {}

type subscriber struct {
	slot engine.Slot
	out  chan types.Snapshot
}

// Game owns one session's State. Every mutation goes through its inbox.
type Game struct {
	id      string
	inbox   chan Msg
	state   State
	clients map[string]subscriber
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewGame(parent context.Context, id string, mode Mode, log *zap.Logger) *Game {
	ctx, cancel := context.WithCancel(parent)
	g := &Game{
		id:      id,
		inbox:   make(chan Msg, 64),
		state:   NewState(mode),
		clients: make(map[string]subscriber),
		log:     log.With(zap.String("session", id)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go g.loop()
	return g
}

func (g *Game) ID() string { return g.id }

func (g *Game) Inbox() chan<- Msg { return g.inbox }

// Done is closed once the game has shut down.
func (g *Game) Done() <-chan struct{} { return g.done }

func (g *Game) loop() {
	defer close(g.done)
	for {
		select {
		case <-g.ctx.Done():
			g.shutdown()
			return

		case m := <-g.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- g.join(msg)

			case Do:
				msg.Reply <- g.do(msg)

			case GetSnapshot:
				slot, err := g.authorize(msg.Token)
				if err == nil && msg.Slot != engine.NoSlot && msg.Slot != slot {
					err = ErrUnauthorized
				}
				if err != nil {
					msg.Reply <- Result{Err: err}
					break
				}
				msg.Reply <- Result{Snapshot: SnapshotFor(g.id, g.state, slot)}

			case Subscribe:
				slot, err := g.authorize(msg.Token)
				if err != nil {
					msg.Reply <- err
					break
				}
				g.clients[msg.ClientID] = subscriber{slot: slot, out: msg.Outbox}
				msg.Outbox <- SnapshotFor(g.id, g.state, slot)
				msg.Reply <- nil

			case Unsubscribe:
				if c, ok := g.clients[msg.ClientID]; ok {
					close(c.out)
					delete(g.clients, msg.ClientID)
				}

			case Delete:
				slot, err := g.authorize(msg.Token)
				if err == nil && slot == engine.NoSlot {
					err = ErrUnauthorized
				}
				if err != nil {
					msg.Reply <- Result{Err: err}
					break
				}
				g.state.Deleted = true
				g.state.Turn = engine.NoSlot
				g.log.Info("session deleted", zap.String("slot", string(slot)))
				g.broadcast()
				msg.Reply <- Result{Snapshot: SnapshotFor(g.id, g.state, slot)}

			case Shutdown:
				g.shutdown()
				return
			}
		}
	}
}

func (g *Game) join(msg Join) Seated {
	if g.state.Deleted {
		return Seated{Err: ErrSessionNotFound}
	}
	if msg.AccountID == "" {
		return Seated{Err: ErrUnauthorized}
	}
	free := engine.NoSlot
	for i, slot := range engine.Slots {
		seat := &g.state.Seats[i]
		if seat.AccountID == msg.AccountID {
			return Seated{Slot: slot, Token: seat.Token, Snapshot: SnapshotFor(g.id, g.state, slot)}
		}
		if !seat.Bound() && free == engine.NoSlot {
			free = slot
		}
	}
	if free == engine.NoSlot {
		return Seated{Err: ErrSessionFull}
	}

	seat := g.state.seat(free)
	seat.AccountID = msg.AccountID
	seat.DisplayName = msg.DisplayName
	seat.Token = uuid.NewString()
	g.log.Info("player joined", zap.String("slot", string(free)), zap.String("account", msg.AccountID))
	g.broadcast()
	return Seated{Slot: free, Token: seat.Token, Snapshot: SnapshotFor(g.id, g.state, free)}
}

func (g *Game) do(msg Do) Result {
	slot, err := g.authorize(msg.Token)
	if err == nil && slot == engine.NoSlot {
		err = ErrUnauthorized
	}
	if err != nil {
		return Result{Err: err}
	}
	if g.state.Deleted {
		return Result{Err: ErrSessionNotFound}
	}

	cmd := msg.Cmd
	cmd.Slot = slot
	events, err := Apply(&g.state, cmd)
	if err != nil {
		g.log.Debug("command rejected", zap.String("cmd", string(cmd.Type)), zap.String("slot", string(slot)), zap.Error(err))
		return Result{Err: err}
	}
	g.log.Debug("command applied", zap.String("cmd", string(cmd.Type)), zap.String("slot", string(slot)), zap.Int("events", len(events)))
	g.broadcast()
	return Result{Snapshot: SnapshotFor(g.id, g.state, slot)}
}

func (g *Game) authorize(token string) (engine.Slot, error) {
	if token == "" {
		return engine.NoSlot, nil
	}
	for i, slot := range engine.Slots {
		if g.state.Seats[i].Token == token {
			return slot, nil
		}
	}
	return engine.NoSlot, ErrUnauthorized
}

// broadcast sends every subscriber its own rendering. Slow subscribers are dropped.
func (g *Game) broadcast() {
	for id, c := range g.clients {
		select {
		case c.out <- SnapshotFor(g.id, g.state, c.slot):
		default:
			close(c.out)
			delete(g.clients, id)
		}
	}
}

func (g *Game) shutdown() {
	for id, c := range g.clients {
		close(c.out)
		delete(g.clients, id)
	}
	g.cancel()
}
