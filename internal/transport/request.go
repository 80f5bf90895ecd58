package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/internal/endpoint"
	"github.com/DoyleJ11/seabattle-client/internal/logging"
	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

const maxBody = 1 << 20

// Endpoints is the part of the endpoint resolver the transport needs.
type Endpoints interface {
	Resolve(ctx context.Context) endpoint.Candidate
	Invalidate(c endpoint.Candidate)
}

type Options struct {
	RequestTimeout time.Duration
	Retry          RetryPolicy
	Push           PushPolicy
	Log            *zap.Logger
}

// Client owns the request channel and opens push channels, both against the
// endpoint the resolver currently hands out.
type Client struct {
	ep    Endpoints
	http  *http.Client
	retry RetryPolicy
	push  PushPolicy
	log   *zap.Logger
}

func NewClient(ep Endpoints, opts Options) *Client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	push := opts.Push
	if push.MaxAttempts == 0 {
		push.MaxAttempts = 5
	}
	if push.DialTimeout <= 0 {
		push.DialTimeout = timeout
	}
	return &Client{
		ep:    ep,
		http:  &http.Client{Timeout: timeout},
		retry: opts.Retry,
		push:  push,
		log:   logging.OrNop(opts.Log).Named("transport"),
	}
}

// Send performs one call under the client's retry policy. body and out may be nil.
func (c *Client) Send(ctx context.Context, method, path, token string, body, out any) error {
	return c.send(ctx, c.retry, method, path, token, body, out)
}

func (c *Client) send(ctx context.Context, policy RetryPolicy, method, path, token string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = b
	}
	return policy.run(ctx, method, func() error {
		return c.do(ctx, method, path, token, payload, out)
	})
}

func (c *Client) do(ctx context.Context, method, path, token string, payload []byte, out any) error {
	cand := c.ep.Resolve(ctx)

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, cand.Origin+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.ep.Invalidate(cand)
		}
		c.log.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return &Error{Kind: KindNetwork, Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &Error{Kind: KindNetwork, Method: method, Path: path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ep types.ErrorPayload
		_ = json.Unmarshal(data, &ep)
		return statusError(method, path, resp.StatusCode, ep)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}
