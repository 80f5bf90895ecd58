package devbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/seabattle-client/pkg/types"
)

func newServer(t *testing.T) (*Backend, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, zap.NewNop())
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return b, srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func create(t *testing.T, srv *httptest.Server, mode, account string) types.CreateSessionResponse {
	t.Helper()
	var out types.CreateSessionResponse
	status := call(t, srv, http.MethodPost, "/session", "", types.CreateSessionRequest{
		Config:    types.SessionConfig{Mode: mode},
		AccountID: account,
	}, &out)
	require.Equal(t, http.StatusCreated, status)
	return out
}

func TestHealth(t *testing.T) {
	_, srv := newServer(t)
	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/health", "", nil, nil))
}

func TestCreateAndJoin(t *testing.T) {
	_, srv := newServer(t)
	created := create(t, srv, "fast", "alice")
	assert.Equal(t, "A", created.LocalSlot)
	assert.NotEmpty(t, created.Token)
	assert.Len(t, created.RoomCode, roomCodeLength)

	var joined types.JoinResponse
	status := call(t, srv, http.MethodPost, "/session/"+created.SessionID+"/join", "", types.JoinRequest{AccountID: "bob"}, &joined)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "B", joined.LocalSlot)
	assert.Equal(t, "matchmaking", joined.Snapshot.Phase)

	var again types.JoinResponse
	call(t, srv, http.MethodPost, "/session/"+created.SessionID+"/join", "", types.JoinRequest{AccountID: "alice"}, &again)
	assert.Equal(t, "A", again.LocalSlot)
	assert.Equal(t, created.Token, again.Token)

	var full types.ErrorPayload
	status = call(t, srv, http.MethodPost, "/session/"+created.SessionID+"/join", "", types.JoinRequest{AccountID: "carol"}, &full)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, types.CodeSessionFull, full.Code)
}

func TestCreate_UnknownModeIsBadRequest(t *testing.T) {
	_, srv := newServer(t)
	var e types.ErrorPayload
	status := call(t, srv, http.MethodPost, "/session", "", types.CreateSessionRequest{Config: types.SessionConfig{Mode: "blitz"}}, &e)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, types.CodeBadRequest, e.Code)
}

func TestState_RequiresMatchingToken(t *testing.T) {
	_, srv := newServer(t)
	created := create(t, srv, "classic", "alice")
	path := "/session/" + created.SessionID + "/state?slot=A"

	var ok types.SnapshotResponse
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, path, created.Token, nil, &ok))
	assert.Equal(t, "A", ok.Snapshot.Viewer)
	assert.Equal(t, 8, ok.Snapshot.Config.Size)

	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, path, "forged", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/session/"+created.SessionID+"/state?slot=B", created.Token, nil, nil))

	var missing types.ErrorPayload
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/session/nope/state", "", nil, &missing))
	assert.Equal(t, types.CodeSessionNotFound, missing.Code)
}

func TestCommands_ThroughBattle(t *testing.T) {
	_, srv := newServer(t)
	created := create(t, srv, "fast", "alice")
	base := "/session/" + created.SessionID
	var joined types.JoinResponse
	call(t, srv, http.MethodPost, base+"/join", "", types.JoinRequest{AccountID: "bob"}, &joined)
	tokA, tokB := created.Token, joined.Token

	var e types.ErrorPayload
	assert.Equal(t, http.StatusConflict, call(t, srv, http.MethodPost, base+"/action", tokA, types.CellRequest{Row: 0, Col: 0}, &e))
	assert.Equal(t, types.CodeWrongPhase, e.Code)

	var snap types.SnapshotResponse
	call(t, srv, http.MethodPost, base+"/ready", tokA, nil, &snap)
	call(t, srv, http.MethodPost, base+"/ready", tokB, nil, &snap)
	require.Equal(t, "setup", snap.Snapshot.Phase)
	assert.Equal(t, []int{3, 2, 1, 1}, snap.Snapshot.UnitsToPlace)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, base+"/place-unit", tokA, types.PlaceUnitRequest{Row: 0, Col: 0, Size: 3, Horizontal: true}, &snap))
	assert.Equal(t, []int{2, 1, 1}, snap.Snapshot.UnitsToPlace)
	assert.Equal(t, http.StatusUnprocessableEntity, call(t, srv, http.MethodPost, base+"/place-unit", tokA, types.PlaceUnitRequest{Row: 1, Col: 0, Size: 2, Horizontal: true}, &e))
	assert.Equal(t, types.CodeInvalidMove, e.Code)
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, base+"/remove-unit", tokA, types.CellRequest{Row: 0, Col: 1}, &snap))

	call(t, srv, http.MethodPost, base+"/auto-place", tokA, nil, &snap)
	call(t, srv, http.MethodPost, base+"/auto-place", tokB, nil, &snap)
	require.Equal(t, "battle", snap.Snapshot.Phase)
	assert.Equal(t, "A", snap.Snapshot.Turn)

	assert.Equal(t, http.StatusConflict, call(t, srv, http.MethodPost, base+"/action", tokB, types.CellRequest{Row: 0, Col: 0}, &e))
	assert.Equal(t, types.CodeNotYourTurn, e.Code)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, base+"/surrender", tokB, nil, &snap))
	assert.Equal(t, "terminal", snap.Snapshot.Phase)
	assert.Equal(t, "A", snap.Snapshot.Winner)
}

func TestRoomInfo_PendingThenBound(t *testing.T) {
	b, srv := newServer(t)
	release := b.HoldRoomBinding()
	created := create(t, srv, "classic", "")
	assert.Empty(t, created.LocalSlot)

	var info types.RoomInfo
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/room/"+strings.ToLower(created.RoomCode)+"/info", "", nil, &info))
	assert.Empty(t, info.SessionID)

	release()
	require.Eventually(t, func() bool {
		var info types.RoomInfo
		call(t, srv, http.MethodGet, "/room/"+created.RoomCode+"/info", "", nil, &info)
		return info.SessionID == created.SessionID
	}, time.Second, 10*time.Millisecond)

	var e types.ErrorPayload
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/room/ZZZZZZZZ/info", "", nil, &e))
	assert.Equal(t, types.CodeRoomNotFound, e.Code)
}

func TestDelete_RemovesSession(t *testing.T) {
	_, srv := newServer(t)
	created := create(t, srv, "fast", "alice")
	base := "/session/" + created.SessionID

	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodDelete, base, "", nil, nil))

	var snap types.SnapshotResponse
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodDelete, base, created.Token, nil, &snap))
	assert.True(t, snap.Snapshot.Deleted)

	require.Eventually(t, func() bool {
		return call(t, srv, http.MethodGet, base+"/state", "", nil, nil) == http.StatusNotFound
	}, time.Second, 10*time.Millisecond)
}

func TestLive_StreamsPerViewerSnapshots(t *testing.T) {
	_, srv := newServer(t)
	created := create(t, srv, "fast", "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live/session/" + created.SessionID
	_, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: http.Header{"Authorization": {"Bearer forged"}}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: http.Header{"Authorization": {"Bearer " + created.Token}}})
	require.NoError(t, err)
	defer conn.CloseNow()

	read := func() types.PushMessage {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg types.PushMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	first := read()
	require.Equal(t, types.PushSnapshot, first.Type)
	assert.Equal(t, "A", first.Snapshot.Viewer)

	call(t, srv, http.MethodPost, "/session/"+created.SessionID+"/join", "", types.JoinRequest{AccountID: "bob", DisplayName: "Bob"}, nil)
	second := read()
	assert.Equal(t, "Bob", second.Snapshot.Players[1].DisplayName)
	assert.Nil(t, second.Snapshot.Players[1].Board)
}
