package turn

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/engine"
	"github.com/DoyleJ11/seabattle-client/internal/logging"
	"github.com/DoyleJ11/seabattle-client/internal/phase"
	"github.com/DoyleJ11/seabattle-client/internal/reconcile"
	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

var ErrActionInFlight = errors.New("an action is already in flight")
var ErrNotYourTurn = errors.New("not your turn")
var ErrOutOfBounds = errors.New("cell is outside the board")
var ErrSessionClosed = errors.New("session closed before the action settled")

type Action struct {
	Row int
	Col int
}

// Binding is the session an action is sent for. Live, when set, reports
// whether that binding is still current; a response that settles after it
// turned false is dropped.
type Binding struct {
	SessionID string
	Identity  engine.Identity
	Live      func() bool
}

func (b Binding) live() bool { return b.Live == nil || b.Live() }

type Sender interface {
	Attack(ctx context.Context, sessionID, token string, req types.CellRequest) (types.Snapshot, error)
}

type Views interface {
	View(ctx context.Context) (engine.View, error)
	Apply(ctx context.Context, s engine.Snapshot, src reconcile.Source) reconcile.Outcome
}

type Gate interface {
	Gate(cmd phase.Command) error
}

// Coordinator lets at most one attack be in flight. A second call while one is
// pending fails at once with ErrActionInFlight instead of queueing.
type Coordinator struct {
	api      Sender
	views    Views
	gate     Gate
	log      *zap.Logger
	inFlight atomic.Bool
}

func NewCoordinator(api Sender, views Views, gate Gate, log *zap.Logger) *Coordinator {
	return &Coordinator{api: api, views: views, gate: gate, log: logging.OrNop(log).Named("turn")}
}

func (c *Coordinator) InFlight() bool { return c.inFlight.Load() }

func (c *Coordinator) SubmitAction(ctx context.Context, b Binding, a Action) (engine.View, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return engine.View{}, ErrActionInFlight
	}
	defer c.inFlight.Store(false)

	if err := c.gate.Gate(phase.CmdAttack); err != nil {
		return engine.View{}, err
	}
	v, err := c.views.View(ctx)
	if err != nil {
		return engine.View{}, err
	}
	if v.SessionID != b.SessionID {
		return v, ErrSessionClosed
	}
	if !v.MyTurn() || v.Local != b.Identity.Slot {
		return v, ErrNotYourTurn
	}
	if v.Size > 0 && (a.Row < 0 || a.Row >= v.Size || a.Col < 0 || a.Col >= v.Size) {
		return v, fmt.Errorf("%w: (%d,%d) on %dx%d", ErrOutOfBounds, a.Row, a.Col, v.Size, v.Size)
	}

	wire, err := c.api.Attack(ctx, b.SessionID, b.Identity.Token, types.CellRequest{Row: a.Row, Col: a.Col})
	if err != nil {
		c.log.Info("attack rejected", zap.Int("row", a.Row), zap.Int("col", a.Col), zap.Error(err))
		return v, err
	}

	if !b.live() {
		c.log.Debug("dropping attack response for a released binding", zap.String("session", b.SessionID))
		return v, ErrSessionClosed
	}
	snap, err := engine.Decode(wire)
	if err != nil {
		return v, fmt.Errorf("attack response: %w", err)
	}
	out := c.views.Apply(ctx, snap, reconcile.SourceRequest)
	switch {
	case errors.Is(out.Err, reconcile.ErrForeignSession):
		// the session was torn down while we waited
		return out.View, ErrSessionClosed
	case errors.Is(out.Err, reconcile.ErrPhaseRegression):
		// a push already moved us further; that view is the newer one
		return out.View, nil
	case out.Err != nil:
		return out.View, out.Err
	}
	return out.View, nil
}
