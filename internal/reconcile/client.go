package reconcile

import (
	"context"

	"github.com/DoyleJ11/seabattle-client/internal/engine"
)

// The helpers below wrap the inbox for callers that want to wait for the
// result. They give up with ctx or when the reconciler has stopped.

func (r *Reconciler) send(ctx context.Context, m Msg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrStopped
	}
}

func (r *Reconciler) wait(ctx context.Context, done chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrStopped
	}
}

func (r *Reconciler) Track(ctx context.Context, sessionID string, id engine.Identity) error {
	done := make(chan struct{})
	if err := r.send(ctx, Track{SessionID: sessionID, Identity: id, Done: done}); err != nil {
		return err
	}
	return r.wait(ctx, done)
}

func (r *Reconciler) Reset(ctx context.Context) error {
	done := make(chan struct{})
	if err := r.send(ctx, Reset{Done: done}); err != nil {
		return err
	}
	return r.wait(ctx, done)
}

// Apply enqueues s and waits for the outcome.
func (r *Reconciler) Apply(ctx context.Context, s engine.Snapshot, src Source) Outcome {
	reply := make(chan Outcome, 1)
	if err := r.send(ctx, Apply{Snapshot: s, Source: src, Reply: reply}); err != nil {
		return Outcome{Err: err}
	}
	select {
	case out := <-reply:
		return out
	case <-ctx.Done():
		return Outcome{Err: ctx.Err()}
	case <-r.ctx.Done():
		return Outcome{Err: ErrStopped}
	}
}

func (r *Reconciler) View(ctx context.Context) (engine.View, error) {
	reply := make(chan engine.View, 1)
	if err := r.send(ctx, GetView{Reply: reply}); err != nil {
		return engine.View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return engine.View{}, ctx.Err()
	case <-r.ctx.Done():
		return engine.View{}, ErrStopped
	}
}

func (r *Reconciler) Stop() {
	r.cancel()
}
