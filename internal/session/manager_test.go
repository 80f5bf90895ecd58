package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/devbackend"
	"github.com/DoyleJ11/seabattle-client/internal/endpoint"
	"github.com/DoyleJ11/seabattle-client/internal/engine"
	"github.com/DoyleJ11/seabattle-client/internal/localstore"
	"github.com/DoyleJ11/seabattle-client/internal/phase"
	"github.com/DoyleJ11/seabattle-client/internal/room"
	"github.com/DoyleJ11/seabattle-client/internal/transport"
	"github.com/DoyleJ11/seabattle-client/internal/turn"
)

const settle = 2 * time.Second

func newBackend(t *testing.T) (*devbackend.Backend, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := devbackend.New(ctx, zap.NewNop())
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return b, srv.URL
}

// newGatedBackend holds every attack request until release is called.
// entered receives once per held request.
func newGatedBackend(t *testing.T) (origin string, entered <-chan struct{}, release func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := devbackend.New(ctx, zap.NewNop())
	in := make(chan struct{}, 4)
	gate := make(chan struct{})
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }

	inner := b.Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/action") {
			in <- struct{}{}
			<-gate
		}
		inner.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	t.Cleanup(release)
	return srv.URL, in, release
}

func openStore(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newManager(t *testing.T, origin, account string, store *localstore.Store) *Manager {
	t.Helper()
	if store == nil {
		store = openStore(t)
	}
	ep := endpoint.NewResolver([]string{origin}, endpoint.HTTPProber{}, time.Second, nil)
	api := transport.NewClient(ep, transport.Options{
		Retry: transport.DefaultRetryPolicy(),
		Push:  transport.PushPolicy{MaxAttempts: 2, Backoff: 20 * time.Millisecond},
	})
	rooms := room.NewResolver(api, store, room.Options{PollInterval: 20 * time.Millisecond})
	m := New(context.Background(), api, rooms, Options{Account: room.Account{ID: account, DisplayName: account}})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func view(t *testing.T, m *Manager) engine.View {
	t.Helper()
	v, err := m.View(context.Background())
	require.NoError(t, err)
	return v
}

func waitFor(t *testing.T, m *Manager, what string, cond func(engine.View) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(view(t, m)) }, settle, 10*time.Millisecond, what)
}

func waitPhase(t *testing.T, m *Manager, p engine.Phase) {
	t.Helper()
	waitFor(t, m, "phase "+string(p), func(v engine.View) bool { return v.Phase == p })
	require.Eventually(t, func() bool { return m.Phase() == p }, settle, 10*time.Millisecond)
}

// layout places the fast-mode fleet so that (3,4) stays empty.
func layout(t *testing.T, m *Manager) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []struct {
		row, col, size int
		horizontal     bool
	}{
		{0, 0, 3, true},
		{2, 0, 2, true},
		{5, 5, 1, false},
		{5, 0, 1, false},
	} {
		_, err := m.PlaceUnit(ctx, u.row, u.col, u.size, u.horizontal)
		require.NoError(t, err)
	}
}

func TestOpen_JoinAssignsSlotsAndRejectsThird(t *testing.T) {
	_, origin := newBackend(t)
	ctx := context.Background()

	alice := newManager(t, origin, "alice", nil)
	created, v, err := alice.Create(ctx, "fast")
	require.NoError(t, err)
	assert.Equal(t, engine.SlotA, v.Local)
	assert.Equal(t, engine.PhaseMatchmaking, v.Phase)
	assert.Equal(t, 6, v.Size)
	assert.NotEmpty(t, created.RoomCode)

	bob := newManager(t, origin, "bob", nil)
	v, err = bob.Open(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, engine.SlotB, v.Local)
	assert.Equal(t, "alice", v.Player(engine.SlotA).AccountID)

	carol := newManager(t, origin, "carol", nil)
	_, err = carol.Open(ctx, created.SessionID)
	require.ErrorIs(t, err, transport.ErrSessionFull)
	select {
	case n := <-carol.Notices():
		assert.Equal(t, "This game already has two players.", n.Message)
	default:
		t.Fatalf("expected a notice for the full session")
	}

	// Same account from another device gets its slot back.
	again := newManager(t, origin, "alice", nil)
	v, err = again.Open(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, engine.SlotA, v.Local)

	waitFor(t, alice, "alice sees bob", func(v engine.View) bool {
		return v.Player(engine.SlotB).AccountID == "bob"
	})
}

func TestOpen_StaleIdentityJoinsAgain(t *testing.T) {
	_, origin := newBackend(t)
	ctx := context.Background()

	creator := newManager(t, origin, "alice", nil)
	created, _, err := creator.Create(ctx, "classic")
	require.NoError(t, err)

	store := openStore(t)
	require.NoError(t, store.Put(ctx, "identity/"+created.SessionID, `{"slot":"B","token":"forged"}`))

	m := newManager(t, origin, "alice", store)
	v, err := m.Open(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, engine.SlotA, v.Local)
}

// toBattle opens a fast game for alice and bob and plays it into battle.
func toBattle(t *testing.T, origin string) (alice, bob *Manager, sessionID string) {
	t.Helper()
	ctx := context.Background()

	alice = newManager(t, origin, "alice", nil)
	created, _, err := alice.Create(ctx, "fast")
	require.NoError(t, err)
	bob = newManager(t, origin, "bob", nil)
	_, err = bob.Open(ctx, created.SessionID)
	require.NoError(t, err)

	_, err = alice.Ready(ctx)
	require.NoError(t, err)
	_, err = bob.Ready(ctx)
	require.NoError(t, err)
	waitPhase(t, alice, engine.PhaseSetup)
	waitPhase(t, bob, engine.PhaseSetup)

	layout(t, alice)
	layout(t, bob)
	waitPhase(t, alice, engine.PhaseBattle)
	waitPhase(t, bob, engine.PhaseBattle)
	return alice, bob, created.SessionID
}

func TestBattle_MissFlipsTurnAndRejectedShotKeepsView(t *testing.T) {
	_, origin := newBackend(t)
	ctx := context.Background()

	alice := newManager(t, origin, "alice", nil)
	created, _, err := alice.Create(ctx, "fast")
	require.NoError(t, err)
	bob := newManager(t, origin, "bob", nil)
	_, err = bob.Open(ctx, created.SessionID)
	require.NoError(t, err)

	var transitions []phase.Transition
	done := make(chan struct{})
	alice.OnTransition(func(tr phase.Transition) {
		transitions = append(transitions, tr)
		if tr.To == engine.PhaseBattle {
			close(done)
		}
	})

	_, err = alice.Attack(ctx, 0, 0)
	require.ErrorIs(t, err, phase.ErrCommandNotAllowed)

	_, err = alice.Ready(ctx)
	require.NoError(t, err)
	_, err = bob.Ready(ctx)
	require.NoError(t, err)
	waitPhase(t, alice, engine.PhaseSetup)
	waitPhase(t, bob, engine.PhaseSetup)

	layout(t, alice)
	layout(t, bob)
	waitPhase(t, alice, engine.PhaseBattle)
	waitPhase(t, bob, engine.PhaseBattle)
	select {
	case <-done:
	case <-time.After(settle):
		t.Fatalf("battle transition not observed")
	}
	require.Len(t, transitions, 2)

	// Out of turn: refused locally, no request is made.
	_, err = bob.Attack(ctx, 0, 0)
	require.ErrorIs(t, err, turn.ErrNotYourTurn)

	v, err := alice.Attack(ctx, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, engine.SlotB, v.Turn)
	require.NotNil(t, v.LastAction)
	assert.Equal(t, "miss", v.LastAction.Result)
	assert.Equal(t, engine.CellMiss, v.Me().Attacks[3][4])

	waitFor(t, bob, "bob's turn", func(v engine.View) bool { return v.MyTurn() })
	_, err = bob.Attack(ctx, 3, 4)
	require.NoError(t, err)
	waitFor(t, alice, "alice's turn again", func(v engine.View) bool { return v.MyTurn() })

	before := view(t, alice)
	_, err = alice.Attack(ctx, 3, 4)
	require.Error(t, err)
	assert.Equal(t, 422, transport.StatusCode(err))
	after := view(t, alice)
	assert.Equal(t, before.Revision, after.Revision)
	assert.True(t, before.SameContent(after))
	assert.False(t, alice.turns.InFlight())
}

func TestOpenRoom_WaitsForPendingRoom(t *testing.T) {
	backend, origin := newBackend(t)
	release := backend.HoldRoomBinding()
	ctx := context.Background()

	alice := newManager(t, origin, "alice", nil)
	created, _, err := alice.Create(ctx, "fast")
	require.NoError(t, err)

	bob := newManager(t, origin, "bob", nil)
	type result struct {
		v   engine.View
		err error
	}
	opened := make(chan result, 1)
	go func() {
		v, err := bob.OpenStartParam(ctx, "room-"+created.RoomCode)
		opened <- result{v, err}
	}()

	select {
	case r := <-opened:
		t.Fatalf("opened before the room was bound: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	release()
	select {
	case r := <-opened:
		require.NoError(t, r.err)
		assert.Equal(t, created.SessionID, r.v.SessionID)
		assert.Equal(t, engine.SlotB, r.v.Local)
	case <-time.After(settle):
		t.Fatalf("room never resolved")
	}
}

func TestLeave_ReleasesBinding(t *testing.T) {
	_, origin := newBackend(t)
	ctx := context.Background()

	alice := newManager(t, origin, "alice", nil)
	created, _, err := alice.Create(ctx, "fast")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return alice.Status() == transport.StatusConnected }, settle, 10*time.Millisecond)

	require.NoError(t, alice.Leave(ctx))
	assert.Equal(t, transport.StatusClosed, alice.Status())
	assert.Empty(t, view(t, alice).SessionID)
	_, err = alice.Ready(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	// The stored identity brings alice straight back to her slot.
	v, err := alice.Open(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, engine.SlotA, v.Local)
}

func TestDelete_TerminatesOpponent(t *testing.T) {
	_, origin := newBackend(t)
	ctx := context.Background()

	alice := newManager(t, origin, "alice", nil)
	created, _, err := alice.Create(ctx, "fast")
	require.NoError(t, err)
	bob := newManager(t, origin, "bob", nil)
	_, err = bob.Open(ctx, created.SessionID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bob.Status() == transport.StatusConnected }, settle, 10*time.Millisecond)

	require.NoError(t, alice.Delete(ctx))
	assert.Empty(t, view(t, alice).SessionID)

	waitFor(t, bob, "bob sees the deletion", func(v engine.View) bool { return v.Deleted })
	waitPhase(t, bob, engine.PhaseTerminal)
	assert.Equal(t, []phase.Command{phase.CmdLeave}, bob.Commands())
}

func TestOpen_FailureLeavesNoSessionBound(t *testing.T) {
	_, origin := newBackend(t)
	ctx := context.Background()

	alice := newManager(t, origin, "alice", nil)
	_, _, err := alice.Create(ctx, "fast")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return alice.Status() == transport.StatusConnected }, settle, 10*time.Millisecond)

	_, err = alice.Open(ctx, "does-not-exist")
	require.Error(t, err)

	assert.Empty(t, view(t, alice).SessionID)
	assert.Equal(t, transport.StatusClosed, alice.Status())
	require.Eventually(t, func() bool { return alice.Phase() == engine.PhaseMatchmaking }, settle, 10*time.Millisecond)
	_, err = alice.Ready(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = alice.Attack(ctx, 0, 0)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAttack_ResponseAfterReopenIsDropped(t *testing.T) {
	origin, entered, release := newGatedBackend(t)
	ctx := context.Background()
	alice, _, sessionID := toBattle(t, origin)
	require.True(t, view(t, alice).MyTurn())

	type result struct {
		v   engine.View
		err error
	}
	shot := make(chan result, 1)
	go func() {
		v, err := alice.Attack(ctx, 3, 4)
		shot <- result{v, err}
	}()
	select {
	case <-entered:
	case <-time.After(settle):
		t.Fatalf("attack never reached the backend")
	}

	// Same session, new binding: the held response belongs to the old one.
	v, err := alice.Open(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, engine.SlotA, v.Local)

	release()
	select {
	case r := <-shot:
		require.ErrorIs(t, r.err, turn.ErrSessionClosed)
	case <-time.After(settle):
		t.Fatalf("attack never settled")
	}
	assert.False(t, alice.turns.InFlight())

	// The shot did land on the backend; the new binding learns it from push.
	waitFor(t, alice, "turn passes to bob", func(v engine.View) bool {
		return v.Turn == engine.SlotB && v.Me().Attacks[3][4] == engine.CellMiss
	})
}

func TestAttack_ResponseAfterFailedOpenIsDropped(t *testing.T) {
	origin, entered, release := newGatedBackend(t)
	ctx := context.Background()
	alice, _, _ := toBattle(t, origin)

	shot := make(chan error, 1)
	go func() {
		_, err := alice.Attack(ctx, 3, 4)
		shot <- err
	}()
	select {
	case <-entered:
	case <-time.After(settle):
		t.Fatalf("attack never reached the backend")
	}

	_, err := alice.Open(ctx, "does-not-exist")
	require.Error(t, err)

	release()
	select {
	case err := <-shot:
		require.ErrorIs(t, err, turn.ErrSessionClosed)
	case <-time.After(settle):
		t.Fatalf("attack never settled")
	}
	v := view(t, alice)
	assert.Empty(t, v.SessionID)
	assert.Nil(t, v.LastAction)
}
