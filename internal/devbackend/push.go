package devbackend

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

const writeTimeout = 3 * time.Second

// live streams the caller's rendering of a session until the client leaves or
// the session goes away. Auth failures are answered before the upgrade.
func (b *Backend) live(w http.ResponseWriter, r *http.Request) {
	g, err := b.session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make(chan types.Snapshot, 8)
	clientID := uuid.NewString()
	subReply := make(chan error, 1)
	subErr, err := askGame(r.Context(), g, Subscribe{ClientID: clientID, Token: bearer(r), Outbox: out, Reply: subReply}, subReply)
	if err == nil {
		err = subErr
	}
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() {
		select {
		case g.Inbox() <- Unsubscribe{ClientID: clientID}:
		case <-g.Done():
		}
	}()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.log.Debug("push upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// Nothing is expected from the client; CloseRead keeps control frames flowing.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-out:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := write(ctx, conn, types.PushMessage{Type: types.PushSnapshot, Snapshot: &snap}); err != nil {
				b.log.Debug("push write failed", zap.String("client", clientID), zap.Error(err))
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.PushMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
