// Package session ties the room resolver, transports, reconciler, phase
// machine and turn coordinator into one binding the UI can drive.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/engine"
	"github.com/DoyleJ11/seabattle-client/internal/logging"
	"github.com/DoyleJ11/seabattle-client/internal/notice"
	"github.com/DoyleJ11/seabattle-client/internal/phase"
	"github.com/DoyleJ11/seabattle-client/internal/reconcile"
	"github.com/DoyleJ11/seabattle-client/internal/room"
	"github.com/DoyleJ11/seabattle-client/internal/transport"
	"github.com/DoyleJ11/seabattle-client/internal/turn"
	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

var ErrNoSession = errors.New("no session is open")

type Options struct {
	Account room.Account
	Log     *zap.Logger
}

// binding is one opened session. It is replaced wholesale, never mutated.
type binding struct {
	gen       uint64
	sessionID string
	identity  engine.Identity
	push      *transport.Push
	cancel    context.CancelFunc
	done      chan struct{}
}

// Manager holds at most one binding. Opening another session or closing the
// manager releases the previous binding's push channel before returning.
type Manager struct {
	api     *transport.Client
	rooms   *room.Resolver
	views   *reconcile.Reconciler
	machine *phase.Machine
	turns   *turn.Coordinator
	account room.Account
	log     *zap.Logger

	ctx     context.Context
	notices chan notice.Notice

	openMu sync.Mutex // serializes Open/Leave/Close

	mu      sync.Mutex
	gen     uint64
	current *binding
	status  transport.Status
}

func New(ctx context.Context, api *transport.Client, rooms *room.Resolver, opts Options) *Manager {
	log := logging.OrNop(opts.Log).Named("session")
	machine := phase.NewMachine(log)
	views := reconcile.New(ctx, log, machine)
	return &Manager{
		api:     api,
		rooms:   rooms,
		views:   views,
		machine: machine,
		turns:   turn.NewCoordinator(api, views, machine, log),
		account: opts.Account,
		log:     log,
		ctx:     ctx,
		notices: make(chan notice.Notice, 16),
		status:  transport.StatusClosed,
	}
}

// Notices carries errors worth showing the player. When nobody reads them,
// the oldest are dropped.
func (m *Manager) Notices() <-chan notice.Notice { return m.notices }

// Status is the push channel's state for the open session.
func (m *Manager) Status() transport.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) Phase() engine.Phase { return m.machine.Phase() }

func (m *Manager) Commands() []phase.Command { return m.machine.Commands() }

func (m *Manager) OnTransition(fn func(phase.Transition)) { m.machine.OnTransition(fn) }

func (m *Manager) View(ctx context.Context) (engine.View, error) { return m.views.View(ctx) }

// Watch streams every accepted view, starting with the current one. The
// channel closes on Unwatch, on shutdown, or when the reader falls behind.
func (m *Manager) Watch(ctx context.Context, id string) (<-chan engine.View, error) {
	ch := make(chan engine.View, 16)
	select {
	case m.views.Inbox() <- reconcile.Subscribe{ID: id, Outbox: ch}:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) Unwatch(id string) {
	select {
	case m.views.Inbox() <- reconcile.Unsubscribe{ID: id}:
	case <-m.ctx.Done():
	}
}

// Create starts a new session for the configured account and opens it.
func (m *Manager) Create(ctx context.Context, mode string) (room.Created, engine.View, error) {
	created, err := m.rooms.CreateSession(ctx, room.Config{Mode: mode, Account: m.account})
	if err != nil {
		return room.Created{}, engine.View{}, m.surface(err)
	}
	v, err := m.Open(ctx, created.SessionID)
	return created, v, err
}

// OpenStartParam opens whatever a launch parameter points at.
func (m *Manager) OpenStartParam(ctx context.Context, param string) (engine.View, error) {
	target, err := room.ParseStartParam(param)
	if err != nil {
		return engine.View{}, m.surface(err)
	}
	if target.SessionID != "" {
		return m.Open(ctx, target.SessionID)
	}
	return m.OpenRoom(ctx, target.RoomCode)
}

// OpenRoom waits for the room to name a session, then opens it.
func (m *Manager) OpenRoom(ctx context.Context, code string) (engine.View, error) {
	sessionID, err := m.rooms.AwaitRoomCode(ctx, code)
	if err != nil {
		return engine.View{}, m.surface(err)
	}
	return m.Open(ctx, sessionID)
}

// Open binds the manager to sessionID. A stored identity is tried first; when
// the backend no longer honours it, or there is none, the account joins.
func (m *Manager) Open(ctx context.Context, sessionID string) (engine.View, error) {
	m.openMu.Lock()
	defer m.openMu.Unlock()

	if err := m.release(ctx); err != nil {
		return engine.View{}, err
	}

	id, wire, err := m.identify(ctx, sessionID)
	if err != nil {
		return engine.View{}, m.surface(err)
	}
	snap, err := engine.Decode(wire)
	if err != nil {
		return engine.View{}, m.surface(fmt.Errorf("open %s: %w", sessionID, err))
	}

	if err := m.views.Track(ctx, sessionID, id); err != nil {
		return engine.View{}, err
	}
	out := m.views.Apply(ctx, snap, reconcile.SourceRequest)
	if out.Err != nil {
		m.log.Debug("initial snapshot not applied", zap.Error(out.Err))
	}

	m.bind(sessionID, id)
	m.log.Info("session opened", zap.String("session", sessionID), zap.String("slot", string(id.Slot)))
	return out.View, nil
}

func (m *Manager) identify(ctx context.Context, sessionID string) (engine.Identity, types.Snapshot, error) {
	id, ok, err := m.rooms.StoredIdentity(ctx, sessionID)
	if err != nil {
		m.log.Warn("stored identity unreadable, joining again", zap.Error(err))
	}
	if ok {
		wire, err := m.api.FetchState(ctx, sessionID, string(id.Slot), id.Token)
		switch {
		case err == nil:
			return id, wire, nil
		case !staleIdentity(err):
			return engine.Identity{}, types.Snapshot{}, fmt.Errorf("open %s: %w", sessionID, err)
		}
		m.log.Info("stored identity rejected, joining again", zap.String("session", sessionID), zap.Error(err))
	}

	joined, err := m.rooms.JoinSession(ctx, sessionID, m.account)
	if err != nil {
		return engine.Identity{}, types.Snapshot{}, err
	}
	return joined.Identity, joined.Snapshot, nil
}

func staleIdentity(err error) bool {
	if errors.Is(err, transport.ErrSessionNotFound) {
		return true
	}
	switch transport.StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

func (m *Manager) bind(sessionID string, id engine.Identity) {
	ctx, cancel := context.WithCancel(m.ctx)

	m.mu.Lock()
	m.gen++
	b := &binding{
		gen:       m.gen,
		sessionID: sessionID,
		identity:  id,
		push:      m.api.OpenPush(ctx, sessionID, id.Token),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.current = b
	m.status = transport.StatusConnecting
	m.mu.Unlock()

	go m.pump(ctx, b)
}

// release tears down the current binding, if any, waits for its pump and
// detaches the reconciler from the session so nothing late lands in the view.
func (m *Manager) release(ctx context.Context) error {
	m.mu.Lock()
	b := m.current
	m.current = nil
	m.status = transport.StatusClosed
	m.mu.Unlock()

	if b == nil {
		return nil
	}
	b.cancel()
	_ = b.push.Close()
	<-b.done
	m.log.Debug("binding released", zap.String("session", b.sessionID))
	return m.views.Reset(ctx)
}

func (m *Manager) active() (*binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return m.current, nil
}

func (m *Manager) live(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.gen == gen
}

func (m *Manager) pump(ctx context.Context, b *binding) {
	defer close(b.done)
	for ev := range b.push.Events() {
		if !m.live(b.gen) {
			continue
		}
		m.mu.Lock()
		m.status = ev.Status
		m.mu.Unlock()

		if ev.Err != nil {
			m.report(ev.Err)
		}
		if ev.Snapshot == nil {
			continue
		}
		snap, err := engine.Decode(*ev.Snapshot)
		if err != nil {
			m.log.Debug("dropping undecodable push snapshot", zap.Error(err))
			continue
		}
		if out := m.views.Apply(ctx, snap, reconcile.SourcePush); out.Err != nil {
			m.report(out.Err)
		}
	}
}

type call func(ctx context.Context, sessionID, token string) (types.Snapshot, error)

// run gates cmd on the current phase, performs it and feeds the response into
// the reconciler. A response that arrives after the binding changed is dropped.
func (m *Manager) run(ctx context.Context, cmd phase.Command, fn call) (engine.View, error) {
	b, err := m.active()
	if err != nil {
		return engine.View{}, err
	}
	if err := m.machine.Gate(cmd); err != nil {
		return engine.View{}, m.surface(err)
	}

	wire, err := fn(ctx, b.sessionID, b.identity.Token)
	if err != nil {
		return engine.View{}, m.surface(fmt.Errorf("%s: %w", cmd, err))
	}
	if !m.live(b.gen) {
		return engine.View{}, turn.ErrSessionClosed
	}
	snap, err := engine.Decode(wire)
	if err != nil {
		return engine.View{}, m.surface(fmt.Errorf("%s response: %w", cmd, err))
	}

	out := m.views.Apply(ctx, snap, reconcile.SourceRequest)
	switch {
	case errors.Is(out.Err, reconcile.ErrPhaseRegression):
		return out.View, nil
	case out.Err != nil:
		return out.View, m.surface(out.Err)
	}
	return out.View, nil
}

func (m *Manager) Ready(ctx context.Context) (engine.View, error) {
	return m.run(ctx, phase.CmdReady, m.api.Ready)
}

func (m *Manager) PlaceUnit(ctx context.Context, row, col, size int, horizontal bool) (engine.View, error) {
	return m.run(ctx, phase.CmdPlaceUnit, func(ctx context.Context, id, token string) (types.Snapshot, error) {
		return m.api.PlaceUnit(ctx, id, token, types.PlaceUnitRequest{Row: row, Col: col, Size: size, Horizontal: horizontal})
	})
}

func (m *Manager) RemoveUnit(ctx context.Context, row, col int) (engine.View, error) {
	return m.run(ctx, phase.CmdRemoveUnit, func(ctx context.Context, id, token string) (types.Snapshot, error) {
		return m.api.RemoveUnit(ctx, id, token, types.CellRequest{Row: row, Col: col})
	})
}

func (m *Manager) AutoPlace(ctx context.Context) (engine.View, error) {
	return m.run(ctx, phase.CmdAutoPlace, m.api.AutoPlace)
}

func (m *Manager) Surrender(ctx context.Context) (engine.View, error) {
	return m.run(ctx, phase.CmdSurrender, m.api.Surrender)
}

// Attack goes through the turn coordinator, which allows one shot in flight.
func (m *Manager) Attack(ctx context.Context, row, col int) (engine.View, error) {
	b, err := m.active()
	if err != nil {
		return engine.View{}, err
	}
	tb := turn.Binding{
		SessionID: b.sessionID,
		Identity:  b.identity,
		Live:      func() bool { return m.live(b.gen) },
	}
	v, err := m.turns.SubmitAction(ctx, tb, turn.Action{Row: row, Col: col})
	if err != nil {
		return v, m.surface(err)
	}
	return v, nil
}

// Delete removes the session on the backend and forgets it locally.
func (m *Manager) Delete(ctx context.Context) error {
	b, err := m.active()
	if err != nil {
		return err
	}
	if _, err := m.api.DeleteSession(ctx, b.sessionID, b.identity.Token); err != nil && !errors.Is(err, transport.ErrSessionNotFound) {
		return m.surface(fmt.Errorf("delete %s: %w", b.sessionID, err))
	}

	m.openMu.Lock()
	defer m.openMu.Unlock()
	return multierr.Combine(
		m.release(ctx),
		m.rooms.Forget(ctx, b.sessionID),
	)
}

// Leave drops the binding but keeps the stored identity so Open can resume.
func (m *Manager) Leave(ctx context.Context) error {
	if err := m.machine.Gate(phase.CmdLeave); err != nil {
		return err
	}
	m.openMu.Lock()
	defer m.openMu.Unlock()
	return m.release(ctx)
}

// Close releases the binding and stops the reconciler. The manager is unusable afterwards.
func (m *Manager) Close() error {
	m.openMu.Lock()
	defer m.openMu.Unlock()
	err := m.release(context.WithoutCancel(m.ctx))
	m.views.Stop()
	return err
}

// surface reports err as a notice when the policy wants one and returns it.
func (m *Manager) surface(err error) error {
	m.report(err)
	return err
}

func (m *Manager) report(err error) {
	n, ok := notice.From(err)
	if !ok {
		m.log.Debug("suppressed", zap.Error(err))
		return
	}
	for {
		select {
		case m.notices <- n:
			return
		default:
		}
		select {
		case <-m.notices:
		default:
		}
	}
}
