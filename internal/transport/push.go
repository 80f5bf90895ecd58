package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/endpoint"
	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

const pushReadLimit = 1 << 20

type PushPolicy struct {
	// Origin, when set, replaces the resolved endpoint for push connections.
	Origin      string
	MaxAttempts uint
	Backoff     time.Duration
	DialTimeout time.Duration
}

type Status uint8

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Event is either a status change or an inbound snapshot.
type Event struct {
	Status   Status
	Snapshot *types.Snapshot
	Err      error
}

// Push is one session's push channel. It reconnects on its own until Close or
// until it gives up, in which case it emits StatusClosed with the error.
type Push struct {
	c         *Client
	sessionID string
	token     string
	log       *zap.Logger

	events    chan Event
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) OpenPush(ctx context.Context, sessionID, token string) *Push {
	ctx, cancel := context.WithCancel(ctx)
	p := &Push{
		c:         c,
		sessionID: sessionID,
		token:     token,
		log:       c.log.With(zap.String("session", sessionID)),
		events:    make(chan Event, 16),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// Events is closed once the push channel has stopped.
func (p *Push) Events() <-chan Event { return p.events }

// Close releases the connection and waits for the loop to exit.
func (p *Push) Close() error {
	p.closeOnce.Do(p.cancel)
	<-p.done
	return nil
}

func (p *Push) run(ctx context.Context) {
	defer close(p.done)
	defer close(p.events)

	reresolved := false
	for {
		p.emit(ctx, Event{Status: StatusConnecting})

		conn, cand, err := p.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if p.c.push.Origin == "" && !reresolved && StatusCode(err) == 0 {
				p.log.Warn("push endpoint unreachable, re-resolving", zap.String("origin", cand.Origin), zap.Error(err))
				p.c.ep.Invalidate(cand)
				reresolved = true
				continue
			}
			p.log.Error("push channel gave up", zap.Error(err))
			p.emit(ctx, Event{Status: StatusClosed, Err: err})
			return
		}
		reresolved = false
		p.emit(ctx, Event{Status: StatusConnected})

		err = p.read(ctx, conn)
		conn.CloseNow()
		if ctx.Err() != nil {
			return
		}
		p.log.Info("push disconnected", zap.Error(err))
		p.emit(ctx, Event{Status: StatusDisconnected, Err: err})
	}
}

func (p *Push) dial(ctx context.Context) (*websocket.Conn, endpoint.Candidate, error) {
	var cand endpoint.Candidate
	policy := p.c.push

	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		origin := policy.Origin
		if origin == "" {
			cand = p.c.ep.Resolve(ctx)
			origin = cand.Origin
		}
		u := strings.TrimRight(origin, "/") + "/live/session/" + url.PathEscape(p.sessionID)

		dctx, cancel := context.WithTimeout(ctx, policy.DialTimeout)
		defer cancel()
		conn, resp, err := websocket.Dial(dctx, u, &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": []string{"Bearer " + p.token}},
		})
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				// The backend refused this session or token; retrying will not help.
				return nil, backoff.Permanent(statusError(http.MethodGet, u, resp.StatusCode, types.ErrorPayload{}))
			}
			p.log.Debug("push dial failed", zap.String("url", u), zap.Error(err))
			return nil, &Error{Kind: KindNetwork, Method: http.MethodGet, Path: u, Err: err}
		}
		return conn, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(policy.Backoff)),
		backoff.WithMaxTries(policy.MaxAttempts),
	)
	if err != nil {
		return nil, cand, err
	}
	conn.SetReadLimit(pushReadLimit)
	return conn, cand, nil
}

func (p *Push) read(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg types.PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			p.log.Debug("ignoring malformed push message", zap.Error(err))
			continue
		}
		switch msg.Type {
		case types.PushSnapshot:
			if msg.Snapshot != nil {
				p.emit(ctx, Event{Status: StatusConnected, Snapshot: msg.Snapshot})
			}
		case types.PushError:
			p.log.Warn("push error from backend", zap.String("error", msg.Error))
		default:
			p.log.Debug("ignoring push message", zap.String("type", msg.Type))
		}
	}
}

func (p *Push) emit(ctx context.Context, ev Event) {
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}
