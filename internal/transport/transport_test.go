package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/seabattle-client/internal/endpoint"
	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

type staticEndpoints struct {
	mu          sync.Mutex
	origins     []string
	invalidated []string
}

func (s *staticEndpoints) Resolve(context.Context) endpoint.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return endpoint.Candidate{Origin: s.origins[0], Live: true}
}

func (s *staticEndpoints) Invalidate(c endpoint.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, c.Origin)
	if len(s.origins) > 1 && s.origins[0] == c.Origin {
		s.origins = s.origins[1:]
	}
}

func (s *staticEndpoints) invalidations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.invalidated...)
}

func deadOrigin(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSend_DecodesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/session/s1/state", r.URL.Path)
		assert.Equal(t, "A", r.URL.Query().Get("slot"))
		writeJSON(w, http.StatusOK, types.SnapshotResponse{Snapshot: types.Snapshot{SessionID: "s1", Phase: "setup"}})
	}))
	defer srv.Close()

	c := NewClient(&staticEndpoints{origins: []string{srv.URL}}, Options{Retry: DefaultRetryPolicy()})
	snap, err := c.FetchState(context.Background(), "s1", "A", "tok")
	require.NoError(t, err)
	assert.Equal(t, "setup", snap.Phase)
}

func TestSend_StatusErrorCarriesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, types.ErrorPayload{Code: types.CodeSessionFull, Message: "Game is full"})
	}))
	defer srv.Close()

	c := NewClient(&staticEndpoints{origins: []string{srv.URL}}, Options{Retry: DefaultRetryPolicy()})
	_, err := c.Join(context.Background(), "s1", types.JoinRequest{AccountID: "carol"})

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindStatus, te.Kind)
	assert.Equal(t, http.StatusConflict, te.Status)
	assert.Equal(t, "Game is full", te.Payload.Message)
	assert.ErrorIs(t, err, ErrSessionFull)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestSend_StatusErrorGenericMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html>nope</html>"))
	}))
	defer srv.Close()

	c := NewClient(&staticEndpoints{origins: []string{srv.URL}}, Options{})
	_, err := c.FetchState(context.Background(), "gone", "", "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed with status 404")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestSend_NetworkErrorInvalidatesAndRetriesIdempotent(t *testing.T) {
	var hits atomic.Int32
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, types.RoomInfo{SessionID: "s9"})
	}))
	defer live.Close()

	dead := deadOrigin(t)
	ep := &staticEndpoints{origins: []string{dead, live.URL}}
	c := NewClient(ep, Options{Retry: RetryPolicy{MaxAttempts: 3, Retryable: IdempotentNetworkErrors}})

	info, err := c.RoomInfo(context.Background(), "ABCD1234")
	require.NoError(t, err)
	assert.Equal(t, "s9", info.SessionID)
	assert.Equal(t, []string{dead}, ep.invalidations())
	assert.Equal(t, int32(1), hits.Load())
}

func TestAttack_NeverRetried(t *testing.T) {
	ep := &staticEndpoints{origins: []string{deadOrigin(t), deadOrigin(t)}}
	c := NewClient(ep, Options{Retry: RetryPolicy{MaxAttempts: 5, Retryable: func(string, error) bool { return true }}})

	_, err := c.Attack(context.Background(), "s1", "tok", types.CellRequest{Row: 3, Col: 4})
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.Len(t, ep.invalidations(), 1, "one attempt only")
}

func TestSend_PostNotRetriedByDefault(t *testing.T) {
	ep := &staticEndpoints{origins: []string{deadOrigin(t), deadOrigin(t)}}
	c := NewClient(ep, Options{Retry: DefaultRetryPolicy()})

	_, err := c.Ready(context.Background(), "s1", "tok")
	require.Error(t, err)
	assert.Len(t, ep.invalidations(), 1)
}

// pushServer accepts push connections and hands each one to serve.
func pushServer(t *testing.T, serve func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		serve(r.Context(), conn)
	}))
}

func sendSnapshot(ctx context.Context, conn *websocket.Conn, s types.Snapshot) error {
	b, _ := json.Marshal(types.PushMessage{Type: types.PushSnapshot, Snapshot: &s})
	return conn.Write(ctx, websocket.MessageText, b)
}

// recvUntil skips events until one matches.
func recvUntil(t *testing.T, ch <-chan Event, within time.Duration, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("push events closed before a matching event")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching push event")
		}
	}
}

func TestPush_DeliversSnapshotsAndReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := pushServer(t, func(ctx context.Context, conn *websocket.Conn) {
		n := conns.Add(1)
		_ = sendSnapshot(ctx, conn, types.Snapshot{SessionID: "s1", Phase: "setup", Viewer: "A"})
		if n == 1 {
			// drop the first connection to force a reconnect
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		<-ctx.Done()
	})
	defer srv.Close()

	c := NewClient(&staticEndpoints{origins: []string{srv.URL}}, Options{Push: PushPolicy{MaxAttempts: 3, Backoff: 10 * time.Millisecond}})
	p := c.OpenPush(context.Background(), "s1", "tok")
	defer p.Close()

	isSnap := func(ev Event) bool { return ev.Snapshot != nil }
	first := recvUntil(t, p.Events(), 2*time.Second, isSnap)
	assert.Equal(t, "setup", first.Snapshot.Phase)

	recvUntil(t, p.Events(), 2*time.Second, func(ev Event) bool { return ev.Status == StatusDisconnected })
	second := recvUntil(t, p.Events(), 2*time.Second, isSnap)
	assert.Equal(t, "s1", second.Snapshot.SessionID)
	assert.Equal(t, int32(2), conns.Load())
}

func TestPush_GivesUpAfterReResolve(t *testing.T) {
	ep := &staticEndpoints{origins: []string{deadOrigin(t)}}
	c := NewClient(ep, Options{Push: PushPolicy{MaxAttempts: 2, Backoff: time.Millisecond}})
	p := c.OpenPush(context.Background(), "s1", "tok")
	defer p.Close()

	closed := recvUntil(t, p.Events(), 3*time.Second, func(ev Event) bool { return ev.Status == StatusClosed })
	assert.True(t, IsNetwork(closed.Err))
	assert.Len(t, ep.invalidations(), 1, "re-resolves once before giving up")
}

func TestPush_RejectedTokenIsPermanent(t *testing.T) {
	srv := pushServer(t, func(ctx context.Context, conn *websocket.Conn) { <-ctx.Done() })
	defer srv.Close()

	ep := &staticEndpoints{origins: []string{srv.URL}}
	c := NewClient(ep, Options{Push: PushPolicy{MaxAttempts: 5, Backoff: time.Millisecond}})
	p := c.OpenPush(context.Background(), "s1", "wrong")
	defer p.Close()

	closed := recvUntil(t, p.Events(), 2*time.Second, func(ev Event) bool { return ev.Status == StatusClosed })
	assert.Equal(t, http.StatusUnauthorized, StatusCode(closed.Err))
	assert.Empty(t, ep.invalidations())
}

func TestPush_CloseReleasesConnection(t *testing.T) {
	released := make(chan struct{})
	srv := pushServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_, _, err := conn.Read(context.Background())
		if err != nil {
			close(released)
		}
	})
	defer srv.Close()

	c := NewClient(&staticEndpoints{origins: []string{srv.URL}}, Options{Push: PushPolicy{MaxAttempts: 1}})
	p := c.OpenPush(context.Background(), "s1", "tok")
	recvUntil(t, p.Events(), 2*time.Second, func(ev Event) bool { return ev.Status == StatusConnected })

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "close is idempotent")

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("server never saw the connection go away")
	}
}
