// Package devbackend is an in-memory game server speaking the same REST and
// push protocol as production. It backs cmd/devserver and the end-to-end tests.
package devbackend

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/logging"
)

var errStopped = errors.New("backend stopped")

type Backend struct {
	hub  *Hub
	log  *zap.Logger
	hold chan struct{} // set by HoldRoomBinding
}

func New(ctx context.Context, log *zap.Logger) *Backend {
	log = logging.OrNop(log)
	return &Backend{hub: NewHub(ctx, log), log: log}
}

// HoldRoomBinding keeps rooms created from now on pending until release is
// called. Call it before serving requests.
func (b *Backend) HoldRoomBinding() (release func()) {
	ch := make(chan struct{})
	b.hold = ch
	return func() { close(ch) }
}

func (b *Backend) Shutdown() {
	select {
	case b.hub.Inbox() <- ShutdownHub{}:
	case <-b.hub.Done():
	}
}

func askHub[T any](ctx context.Context, h *Hub, msg HubMsg, reply chan T) (T, error) {
	var zero T
	select {
	case h.Inbox() <- msg:
	case <-h.Done():
		return zero, errStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-h.Done():
		return zero, errStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func askGame[T any](ctx context.Context, g *Game, msg Msg, reply chan T) (T, error) {
	var zero T
	select {
	case g.Inbox() <- msg:
	case <-g.Done():
		return zero, ErrSessionNotFound
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-g.Done():
		return zero, ErrSessionNotFound
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (b *Backend) session(ctx context.Context, id string) (*Game, error) {
	reply := make(chan *Game, 1)
	g, err := askHub(ctx, b.hub, GetSession{ID: id, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrSessionNotFound
	}
	return g, nil
}

func (b *Backend) Handler() http.Handler { return b.routes() }
