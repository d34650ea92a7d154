// internal/handlers/handlers_test.go
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemplay/realtime/internal/auth"
	"github.com/stemplay/realtime/internal/matchmaking"
	"github.com/stemplay/realtime/internal/models"
	"github.com/stemplay/realtime/internal/protocol"
	"github.com/stemplay/realtime/internal/relay"
	"github.com/stemplay/realtime/internal/room"
	"github.com/stemplay/realtime/internal/session"
)

type mockRecorder struct {
	mu      sync.Mutex
	results []models.MatchResult
}

func (m *mockRecorder) Record(res models.MatchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
}

func (m *mockRecorder) recorded() []models.MatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.MatchResult(nil), m.results...)
}

type testEnv struct {
	server   *Server
	recorder *mockRecorder
	tokens   map[string]uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	reg := session.NewRegistry(logger)
	rooms := room.NewStore(time.Minute, logger)
	queue := matchmaking.NewQueue(2*time.Second, logger)
	rec := &mockRecorder{}
	s := NewServer(reg, rooms, queue, relay.New(reg, rooms), rec, logger)

	env := &testEnv{server: s, recorder: rec, tokens: map[string]uuid.UUID{}}
	s.Auth = func(token string) (uuid.UUID, error) {
		if id, ok := env.tokens[token]; ok {
			return id, nil
		}
		return uuid.Nil, auth.ErrInvalidToken
	}
	s.Profiles = func(ctx context.Context, id uuid.UUID) models.PlayerProfile {
		p := models.GuestProfile(id)
		p.DisplayName = "player-" + id.String()[:4]
		return p
	}
	return env
}

func (e *testEnv) addPlayer(token string) uuid.UUID {
	id := uuid.New()
	e.tokens[token] = id
	return id
}

func (e *testEnv) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", e.server.ServeWS)
	mux.HandleFunc("POST /rooms/create", e.server.CreateRoomHandler)
	mux.HandleFunc("GET /rooms/list", e.server.ListRoomsHandler)
	mux.HandleFunc("POST /rooms/{id}/join", e.server.JoinRoomHandler)
	mux.HandleFunc("GET /rooms/mine", e.server.MyRoomHandler)
	mux.HandleFunc("POST /matchmake", e.server.MatchmakeHandler)
	return mux
}

func postJSON(t *testing.T, mux *http.ServeMux, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestCreateRoomRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	w := postJSON(t, env.mux(), "/rooms/create", "", createRoomRequest{GameID: "tictactoe"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAndListRooms(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("tok-a")
	mux := env.mux()

	w := postJSON(t, mux, "/rooms/create", "tok-a", createRoomRequest{
		GameID: "tictactoe", Name: "casual lobby", MaxPlayers: 2,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Room protocol.Room `json:"room"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, "waiting", created.Room.State)
	assert.Len(t, created.Room.Players, 1)

	env.addPlayer("tok-b")
	postJSON(t, mux, "/rooms/create", "tok-b", createRoomRequest{
		GameID: "chess", IsPrivate: true,
	})

	req := httptest.NewRequest(http.MethodGet, "/rooms/list", nil)
	lw := httptest.NewRecorder()
	mux.ServeHTTP(lw, req)
	require.Equal(t, http.StatusOK, lw.Code)

	var listed struct {
		Rooms []protocol.Room `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(lw.Body).Decode(&listed))
	require.Len(t, listed.Rooms, 1, "private room must not be listed")
	assert.Equal(t, created.Room.ID, listed.Rooms[0].ID)
}

func TestJoinRoomREST(t *testing.T) {
	env := newTestEnv(t)
	hostID := env.addPlayer("tok-host")
	env.addPlayer("tok-b")
	env.addPlayer("tok-c")
	mux := env.mux()

	rm := env.server.Rooms.Create("tictactoe",
		protocol.RoomPlayer{ID: hostID, DisplayName: "host"},
		room.Options{MaxPlayers: 2})

	w := postJSON(t, mux, "/rooms/"+rm.ID.String()+"/join", "tok-b", struct{}{})
	require.Equal(t, http.StatusOK, w.Code)
	var joined struct {
		Room protocol.Room `json:"room"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&joined))
	assert.Equal(t, rm.ID, joined.Room.ID)
	assert.Len(t, joined.Room.Players, 2)

	w = postJSON(t, mux, "/rooms/"+rm.ID.String()+"/join", "tok-c", struct{}{})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = postJSON(t, mux, "/rooms/"+uuid.NewString()+"/join", "tok-c", struct{}{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMyRoomHandler(t *testing.T) {
	env := newTestEnv(t)
	hostID := env.addPlayer("tok-a")
	mux := env.mux()

	req := httptest.NewRequest(http.MethodGet, "/rooms/mine", nil)
	req.Header.Set("Authorization", "Bearer tok-a")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	rm := env.server.Rooms.Create("tictactoe",
		protocol.RoomPlayer{ID: hostID, DisplayName: "host"},
		room.Options{MaxPlayers: 2})

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var mine struct {
		Room protocol.Room `json:"room"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&mine))
	assert.Equal(t, rm.ID, mine.Room.ID)
}

func TestMatchmakeJoinsThenCreates(t *testing.T) {
	env := newTestEnv(t)
	hostID := env.addPlayer("tok-host")
	env.addPlayer("tok-b")
	mux := env.mux()

	rm := env.server.Rooms.Create("tictactoe",
		protocol.RoomPlayer{ID: hostID, DisplayName: "host"},
		room.Options{MaxPlayers: 2})

	w := postJSON(t, mux, "/matchmake", "tok-b", matchmakeRequest{GameID: "tictactoe"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Room   protocol.Room `json:"room"`
		Joined bool          `json:"joined"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Joined)
	assert.Equal(t, rm.ID, resp.Room.ID)

	// Room is now full; the next quick-match has to create.
	env.addPlayer("tok-c")
	w = postJSON(t, mux, "/matchmake", "tok-c", matchmakeRequest{GameID: "tictactoe"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Joined)
	assert.NotEqual(t, rm.ID, resp.Room.ID)
}

// --- websocket flow ---

type wsClient struct {
	conn *websocket.Conn
}

func dialWS(t *testing.T, ts *httptest.Server, token string) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := strings.Replace(ts.URL, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &wsClient{conn: conn}
}

func (c *wsClient) send(t *testing.T, v interface{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, c.conn.Write(ctx, websocket.MessageText, data))
}

// nextType reads exactly one frame and returns its type, for tests that
// assert delivery order rather than eventual arrival.
func (c *wsClient) nextType(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	require.NoError(t, err)

	var msg struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg.Type
}

// waitFor reads frames until one of the wanted type arrives.
func (c *wsClient) waitFor(t *testing.T, msgType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		_, data, err := c.conn.Read(ctx)
		cancel()
		require.NoError(t, err, "waiting for %q", msgType)

		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == msgType {
			return msg
		}
	}
	t.Fatalf("never received %q", msgType)
	return nil
}

func TestWSRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.mux())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := strings.Replace(ts.URL, "http", "ws", 1) + "/ws?token=bogus"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// First an error frame, then the auth-required close.
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "error", msg["type"])

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, protocol.CloseAuthRequired, websocket.CloseStatus(err))
}

func TestWSFullRoomLifecycle(t *testing.T) {
	env := newTestEnv(t)
	hostID := env.addPlayer("tok-a")
	env.addPlayer("tok-b")
	ts := httptest.NewServer(env.mux())
	defer ts.Close()

	a := dialWS(t, ts, "tok-a")
	connected := a.waitFor(t, "connected")
	assert.Equal(t, hostID.String(), connected["playerId"])

	b := dialWS(t, ts, "tok-b")
	b.waitFor(t, "connected")

	rm := env.server.Rooms.Create("tictactoe",
		protocol.RoomPlayer{ID: hostID, DisplayName: "host"},
		room.Options{MaxPlayers: 2, Mode: "ranked"})

	b.send(t, map[string]interface{}{"type": "join_room", "roomId": rm.ID})
	joined := a.waitFor(t, "player_joined")
	assert.NotNil(t, joined["player"])
	update := b.waitFor(t, "room_update")
	roomObj := update["room"].(map[string]interface{})
	assert.Len(t, roomObj["players"], 2)

	a.send(t, map[string]interface{}{"type": "ready", "ready": true})
	b.send(t, map[string]interface{}{"type": "ready", "ready": true})
	require.Eventually(t, func() bool {
		for _, p := range rm.Snapshot().Players {
			if !p.IsReady {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	a.send(t, map[string]interface{}{"type": "start_game"})
	a.waitFor(t, "game_started")
	b.waitFor(t, "game_started")

	// Actions relay to everyone but the sender.
	a.send(t, map[string]interface{}{
		"type":   "game_action",
		"action": map[string]interface{}{"cell": 4},
	})
	action := b.waitFor(t, "game_action")
	assert.Equal(t, hostID.String(), action["playerId"])

	a.send(t, map[string]interface{}{"type": "chat", "message": "gg"})
	chat := b.waitFor(t, "chat")
	assert.Equal(t, "gg", chat["message"])

	require.NoError(t, env.server.FinishGame(context.Background(), rm.ID, []protocol.PlayerScore{
		{PlayerID: hostID, Score: 1, Placement: 1},
		{PlayerID: env.tokens["tok-b"], Score: 0, Placement: 2},
	}))
	a.waitFor(t, "game_over")
	b.waitFor(t, "game_over")

	require.Eventually(t, func() bool {
		return len(env.recorder.recorded()) == 1
	}, time.Second, 10*time.Millisecond)
	res := env.recorder.recorded()[0]
	assert.Equal(t, "ranked", res.Mode)
	assert.True(t, res.Scores[0].IsWinner)
}

func TestWSPingPong(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("tok-a")
	ts := httptest.NewServer(env.mux())
	defer ts.Close()

	a := dialWS(t, ts, "tok-a")
	a.waitFor(t, "connected")
	a.send(t, map[string]interface{}{"type": "ping"})
	pong := a.waitFor(t, "pong")
	assert.NotZero(t, pong["serverTime"])
}

func TestWSChatTooLongRejected(t *testing.T) {
	env := newTestEnv(t)
	hostID := env.addPlayer("tok-a")
	ts := httptest.NewServer(env.mux())
	defer ts.Close()

	a := dialWS(t, ts, "tok-a")
	a.waitFor(t, "connected")

	rm := env.server.Rooms.Create("tictactoe",
		protocol.RoomPlayer{ID: hostID, DisplayName: "host"},
		room.Options{MaxPlayers: 2})
	a.send(t, map[string]interface{}{"type": "join_room", "roomId": rm.ID})
	a.waitFor(t, "room_update")

	a.send(t, map[string]interface{}{
		"type":    "chat",
		"message": strings.Repeat("x", 501),
	})
	errMsg := a.waitFor(t, "error")
	assert.Contains(t, errMsg["message"], "500")
	assert.Equal(t, room.StateWaiting, rm.State(), "room state unaffected")
}

// A frame just past the 64KB protocol limit is a recoverable protocol
// error: the sender gets an error frame and the connection stays open.
func TestWSOversizedFrameKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("tok-a")
	ts := httptest.NewServer(env.mux())
	defer ts.Close()

	a := dialWS(t, ts, "tok-a")
	a.waitFor(t, "connected")

	a.send(t, map[string]interface{}{
		"type":    "chat",
		"message": strings.Repeat("x", protocol.MaxFrameSize),
	})
	errMsg := a.waitFor(t, "error")
	assert.Contains(t, errMsg["message"], "64KB")

	a.send(t, map[string]interface{}{"type": "ping"})
	a.waitFor(t, "pong")
}

func TestWSQueueAndMatchFound(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("tok-a")
	env.addPlayer("tok-b")
	ts := httptest.NewServer(env.mux())
	defer ts.Close()

	a := dialWS(t, ts, "tok-a")
	a.waitFor(t, "connected")
	b := dialWS(t, ts, "tok-b")
	b.waitFor(t, "connected")

	a.send(t, map[string]interface{}{"type": "queue_ranked", "gameId": "tictactoe"})
	a.waitFor(t, "queue_joined")

	b.send(t, map[string]interface{}{"type": "queue_ranked", "gameId": "tictactoe"})

	foundA := a.waitFor(t, "match_found")
	foundB := b.waitFor(t, "match_found")
	roomA := foundA["room"].(map[string]interface{})
	roomB := foundB["room"].(map[string]interface{})
	assert.Equal(t, roomA["id"], roomB["id"], "both players land in the same room")
	assert.Len(t, foundA["players"], 2)
}

// The ticket ack always lands before the match: a player whose enqueue
// instantly completes a pairing must still see queue_joined first, or
// clients tracking state would regress from in_room back to queued.
func TestQueueAckPrecedesMatchFound(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("tok-a")
	env.addPlayer("tok-b")
	ts := httptest.NewServer(env.mux())
	defer ts.Close()

	a := dialWS(t, ts, "tok-a")
	a.waitFor(t, "connected")
	b := dialWS(t, ts, "tok-b")
	b.waitFor(t, "connected")

	a.send(t, map[string]interface{}{"type": "queue_ranked", "gameId": "tictactoe"})
	a.waitFor(t, "queue_joined")

	// B's enqueue completes the match; B's frames must arrive in order.
	b.send(t, map[string]interface{}{"type": "queue_ranked", "gameId": "tictactoe"})
	assert.Equal(t, "queue_joined", b.nextType(t))
	assert.Equal(t, "match_found", b.nextType(t))
	a.waitFor(t, "match_found")
}

func TestWSCancelQueue(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("tok-a")
	ts := httptest.NewServer(env.mux())
	defer ts.Close()

	a := dialWS(t, ts, "tok-a")
	a.waitFor(t, "connected")

	a.send(t, map[string]interface{}{"type": "queue_ranked", "gameId": "tictactoe", "region": "eu-west"})
	a.waitFor(t, "queue_joined")
	a.send(t, map[string]interface{}{"type": "cancel_queue"})
	a.waitFor(t, "queue_cancelled")

	a.send(t, map[string]interface{}{"type": "cancel_queue"})
	errMsg := a.waitFor(t, "error")
	assert.Contains(t, fmt.Sprint(errMsg["message"]), "ticket")
}

func TestWSFriendInvite(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.addPlayer("tok-a")
	bobID := env.addPlayer("tok-b")
	ts := httptest.NewServer(env.mux())
	defer ts.Close()

	a := dialWS(t, ts, "tok-a")
	a.waitFor(t, "connected")
	b := dialWS(t, ts, "tok-b")
	b.waitFor(t, "connected")

	roomID := uuid.New()
	a.send(t, map[string]interface{}{
		"type":     "friend_invite",
		"friendId": bobID,
		"roomId":   roomID,
		"gameId":   "tictactoe",
	})

	invite := b.waitFor(t, "friend_invite")
	assert.Equal(t, aliceID.String(), invite["from"])
	assert.Equal(t, roomID.String(), invite["roomId"])
	a.waitFor(t, "invite_sent")

	// Offline friend comes back as an error, not silence.
	a.send(t, map[string]interface{}{
		"type":     "friend_invite",
		"friendId": uuid.New(),
		"gameId":   "tictactoe",
	})
	errMsg := a.waitFor(t, "error")
	assert.Contains(t, errMsg["message"], "online")
}

// A reaped or dropped connection leaves its room through the same path
// as leave_room; remaining members see player_left.
func TestDropConnectionBroadcastsPlayerLeft(t *testing.T) {
	env := newTestEnv(t)
	hostID := env.addPlayer("tok-a")
	bobID := env.addPlayer("tok-b")
	ts := httptest.NewServer(env.mux())
	defer ts.Close()

	a := dialWS(t, ts, "tok-a")
	a.waitFor(t, "connected")
	b := dialWS(t, ts, "tok-b")
	b.waitFor(t, "connected")

	rm := env.server.Rooms.Create("tictactoe",
		protocol.RoomPlayer{ID: hostID, DisplayName: "host"},
		room.Options{MaxPlayers: 2})
	b.send(t, map[string]interface{}{"type": "join_room", "roomId": rm.ID})
	a.waitFor(t, "player_joined")

	bobConn, ok := env.server.Registry.Lookup(bobID)
	require.True(t, ok)
	env.server.DropConnection(bobConn)

	left := a.waitFor(t, "player_left")
	assert.Equal(t, bobID.String(), left["playerId"])
	assert.False(t, rm.Has(bobID))
}

func TestWSSupersededClose(t *testing.T) {
	env := newTestEnv(t)
	env.addPlayer("tok-a")
	ts := httptest.NewServer(env.mux())
	defer ts.Close()

	first := dialWS(t, ts, "tok-a")
	first.waitFor(t, "connected")

	second := dialWS(t, ts, "tok-a")
	second.waitFor(t, "connected")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := first.conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, protocol.CloseSuperseded, websocket.CloseStatus(err))

	// The survivor still works.
	second.send(t, map[string]interface{}{"type": "ping"})
	second.waitFor(t, "pong")
}
