package transport

import (
	"context"
	"net/http"
	"net/url"

	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

func sessionPath(id, suffix string) string {
	return "/session/" + url.PathEscape(id) + suffix
}

func (c *Client) CreateSession(ctx context.Context, req types.CreateSessionRequest) (types.CreateSessionResponse, error) {
	var out types.CreateSessionResponse
	// Creating twice would leave an orphaned room behind.
	err := c.send(ctx, NoRetry(), http.MethodPost, "/session", "", req, &out)
	return out, err
}

func (c *Client) FetchState(ctx context.Context, sessionID, slot, token string) (types.Snapshot, error) {
	path := sessionPath(sessionID, "/state")
	if slot != "" {
		path += "?slot=" + url.QueryEscape(slot)
	}
	var out types.SnapshotResponse
	err := c.Send(ctx, http.MethodGet, path, token, nil, &out)
	return out.Snapshot, err
}

func (c *Client) Join(ctx context.Context, sessionID string, req types.JoinRequest) (types.JoinResponse, error) {
	var out types.JoinResponse
	err := c.Send(ctx, http.MethodPost, sessionPath(sessionID, "/join"), "", req, &out)
	return out, err
}

func (c *Client) Ready(ctx context.Context, sessionID, token string) (types.Snapshot, error) {
	return c.post(ctx, sessionID, "/ready", token, nil)
}

func (c *Client) PlaceUnit(ctx context.Context, sessionID, token string, req types.PlaceUnitRequest) (types.Snapshot, error) {
	return c.post(ctx, sessionID, "/place-unit", token, req)
}

func (c *Client) RemoveUnit(ctx context.Context, sessionID, token string, req types.CellRequest) (types.Snapshot, error) {
	return c.post(ctx, sessionID, "/remove-unit", token, req)
}

func (c *Client) AutoPlace(ctx context.Context, sessionID, token string) (types.Snapshot, error) {
	return c.post(ctx, sessionID, "/auto-place", token, nil)
}

// Attack is never retried regardless of the configured policy.
func (c *Client) Attack(ctx context.Context, sessionID, token string, req types.CellRequest) (types.Snapshot, error) {
	var out types.SnapshotResponse
	err := c.send(ctx, NoRetry(), http.MethodPost, sessionPath(sessionID, "/action"), token, req, &out)
	return out.Snapshot, err
}

func (c *Client) Surrender(ctx context.Context, sessionID, token string) (types.Snapshot, error) {
	return c.post(ctx, sessionID, "/surrender", token, nil)
}

func (c *Client) DeleteSession(ctx context.Context, sessionID, token string) (types.Snapshot, error) {
	var out types.SnapshotResponse
	err := c.Send(ctx, http.MethodDelete, sessionPath(sessionID, ""), token, nil, &out)
	return out.Snapshot, err
}

func (c *Client) RoomInfo(ctx context.Context, code string) (types.RoomInfo, error) {
	var out types.RoomInfo
	err := c.Send(ctx, http.MethodGet, "/room/"+url.PathEscape(code)+"/info", "", nil, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, sessionID, suffix, token string, body any) (types.Snapshot, error) {
	var out types.SnapshotResponse
	err := c.Send(ctx, http.MethodPost, sessionPath(sessionID, suffix), token, body, &out)
	return out.Snapshot, err
}
