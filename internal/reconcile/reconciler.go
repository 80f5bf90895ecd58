package reconcile

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/engine"
	"github.com/DoyleJ11/seabattle-client/internal/logging"
)

var ErrForeignSession = errors.New("snapshot belongs to another session")
var ErrPhaseRegression = errors.New("snapshot would move the phase backward")
var ErrIdentityMismatch = errors.New("snapshot addressed to the other slot")
var ErrStopped = errors.New("reconciler stopped")

type Source uint8

const (
	SourceRequest Source = iota
	SourcePush
)

func (s Source) String() string {
	if s == SourcePush {
		return "push"
	}
	return "request"
}

// Observer is told about every accepted change, on the reconciler goroutine.
type Observer interface {
	Observe(v engine.View)
}

type Msg interface{ isReconcileMsg() }

// Track starts a fresh view for a session. Any previous view is dropped.
type Track struct {
	SessionID string
	Identity  engine.Identity
	Done      chan struct{}
}

func (Track) isReconcileMsg() {}

type Apply struct {
	Snapshot engine.Snapshot
	Source   Source
	Reply    chan Outcome // optional
}

func (Apply) isReconcileMsg() {}

// Reset drops the session entirely and goes back to an empty matchmaking view.
type Reset struct {
	Done chan struct{}
}

func (Reset) isReconcileMsg() {}

type Subscribe struct {
	ID     string
	Outbox chan engine.View // receives the current view right away
}

func (Subscribe) isReconcileMsg() {}

type Unsubscribe struct{ ID string }

func (Unsubscribe) isReconcileMsg() {}

type GetView struct {
	Reply chan engine.View
}

func (GetView) isReconcileMsg() {}

type Shutdown struct{}

func (Shutdown) isReconcileMsg() {}

// Outcome of one Apply. Err is set when the snapshot was rejected; Partial
// means only the shared fields of a snapshot for the other slot were merged.
type Outcome struct {
	View    engine.View
	Changed bool
	Partial bool
	Err     error
}

// Reconciler owns the session view. Every snapshot, whichever channel it came
// from, goes through the one inbox.
type Reconciler struct {
	inbox     chan Msg
	view      engine.View
	identity  engine.Identity
	tracking  bool
	subs      map[string]chan engine.View
	observers []Observer
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(parent context.Context, log *zap.Logger, observers ...Observer) *Reconciler {
	ctx, cancel := context.WithCancel(parent)

	r := &Reconciler{
		inbox:     make(chan Msg, 64),
		view:      engine.NewView(""),
		subs:      make(map[string]chan engine.View),
		observers: observers,
		log:       logging.OrNop(log).Named("reconcile"),
		ctx:       ctx,
		cancel:    cancel,
	}

	go r.loop()
	return r
}

func (r *Reconciler) Inbox() chan<- Msg { return r.inbox }

func (r *Reconciler) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Track:
				r.view = engine.NewView(msg.SessionID)
				r.identity = msg.Identity
				r.view.Local = msg.Identity.Slot
				r.tracking = msg.SessionID != ""
				r.notify()
				closeDone(msg.Done)

			case Apply:
				out := r.apply(msg.Snapshot, msg.Source)
				if msg.Reply != nil {
					msg.Reply <- out
				}

			case Reset:
				r.view = engine.NewView("")
				r.identity = engine.Identity{}
				r.tracking = false
				r.notify()
				closeDone(msg.Done)

			case Subscribe:
				if old, ok := r.subs[msg.ID]; ok && old != msg.Outbox {
					close(old)
				}
				r.subs[msg.ID] = msg.Outbox
				msg.Outbox <- r.view.Clone()

			case Unsubscribe:
				if ch, ok := r.subs[msg.ID]; ok {
					close(ch)
					delete(r.subs, msg.ID)
				}

			case GetView:
				msg.Reply <- r.view.Clone()

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Reconciler) apply(s engine.Snapshot, src Source) Outcome {
	h := s.Head()
	log := r.log.With(zap.String("source", src.String()), zap.String("session", h.SessionID), zap.String("phase", string(s.Phase())))

	if !r.tracking || h.SessionID != r.view.SessionID {
		log.Debug("dropping snapshot", zap.Error(ErrForeignSession))
		return Outcome{View: r.view.Clone(), Err: ErrForeignSession}
	}
	if s.Phase().Before(r.view.Phase) {
		log.Debug("dropping snapshot", zap.Error(ErrPhaseRegression), zap.String("current", string(r.view.Phase)))
		return Outcome{View: r.view.Clone(), Err: ErrPhaseRegression}
	}
	if h.Unrecognized != "" {
		log.Warn("unrecognized phase, treating as matchmaking", zap.String("raw", h.Unrecognized))
	}

	foreign := h.Viewer != engine.NoSlot && r.identity.Established() && h.Viewer != r.identity.Slot
	if foreign {
		log.Debug("merging shared fields only", zap.Error(ErrIdentityMismatch), zap.String("viewer", string(h.Viewer)))
	}

	next := merge(r.view.Clone(), s, foreign)
	next.Local = r.identity.Slot

	changed := !next.SameContent(r.view)
	if changed {
		next.Revision = engine.Revision{Phase: next.Phase, Seq: r.view.Revision.Seq + 1}
		r.view = next
		r.notify()
	}
	return Outcome{View: r.view.Clone(), Changed: changed, Partial: foreign}
}

func (r *Reconciler) notify() {
	for _, o := range r.observers {
		o.Observe(r.view.Clone())
	}
	r.broadcast()
}

func (r *Reconciler) broadcast() {
	for id, ch := range r.subs {
		select {
		case ch <- r.view.Clone():
			// ok
		default:
			// slow subscriber: drop it
			close(ch)
			delete(r.subs, id)
		}
	}
}

func (r *Reconciler) shutdown() {
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	r.cancel()
}

func closeDone(ch chan struct{}) {
	if ch != nil {
		close(ch)
	}
}
