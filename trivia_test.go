/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/trivia/games"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func startHub(t *testing.T) *Hub {
	t.Helper()

	h := newHub("testgame", games.NewCoordinator())
	go h.run(&Config{maxNameLength: 32})
	t.Cleanup(h.closeAll)

	return h
}

func connect(t *testing.T, h *Hub, id string) *Client {
	t.Helper()

	c := &Client{send: make(chan any, 64), actorID: games.ActorID(id)}
	require.True(t, h.join(c))

	info := waitFor[SessionInfoMessage](t, c, nil)
	require.Equal(t, id, info.ActorID)
	require.Equal(t, "testgame", info.GameID)

	return c
}

func act(t *testing.T, h *Hub, c *Client, msg ClientMessage) {
	t.Helper()

	req := actionRequest{client: c, msg: msg}
	req.err = checkMessage(&req.msg, 32)
	require.True(t, h.submit(req))
}

// waitFor reads from c until a message of type T satisfying match arrives.
func waitFor[T any](t *testing.T, c *Client, match func(T) bool) T {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case msg, ok := <-c.send:
			require.True(t, ok, "client channel closed")
			if m, ok := msg.(T); ok && (match == nil || match(m)) {
				return m
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func waitForState(t *testing.T, c *Client, match func(games.Snapshot) bool) games.Snapshot {
	t.Helper()

	return waitFor(t, c, func(m StateUpdateMessage) bool {
		return match(m.State)
	}).State
}

func score(points float64) *float64 {
	return &points
}

func TestHub_FullQuestionCycle(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	act(t, h, alice, ClientMessage{Type: msgRegister, Name: "Alice"})
	act(t, h, bob, ClientMessage{Type: msgRegister, Name: "Bob"})
	act(t, h, alice, ClientMessage{Type: msgJoinTeam, Team: "A"})
	act(t, h, bob, ClientMessage{Type: msgJoinTeam, Team: "b"})
	act(t, h, alice, ClientMessage{Type: msgStart, TeamA: "Red", TeamB: "Blue"})

	s := waitForState(t, bob, func(s games.Snapshot) bool { return s.Stage == games.StagePlaying })
	require.Equal(t, []string{"Alice"}, s.Team(games.TeamA).Members)
	require.Equal(t, []string{"Bob"}, s.Team(games.TeamB).Members)
	require.Equal(t, "Red", s.Team(games.TeamA).Name)

	act(t, h, alice, ClientMessage{Type: msgBeginAnswering})
	waitForState(t, bob, func(s games.Snapshot) bool { return s.Phase == games.PhaseAnswering })

	act(t, h, bob, ClientMessage{Type: msgClaimAnswer})
	raised := waitFor[HandRaisedMessage](t, alice, nil)
	require.Equal(t, "Bob", raised.Player)

	act(t, h, alice, ClientMessage{Type: msgGradeAnswer, Score: score(1)})
	s = waitForState(t, bob, func(s games.Snapshot) bool { return s.Round == 2 })

	require.Equal(t, 1.0, s.Team(games.TeamB).Score.Points())
	require.Equal(t, games.TeamB, s.ActiveTeam)
	require.Equal(t, games.PhaseAsking, s.Phase)
}

func TestHub_RejectedActionStillBroadcasts(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")

	act(t, h, alice, ClientMessage{Type: msgRegister, Name: "Alice"})
	before := waitForState(t, alice, func(s games.Snapshot) bool { return len(s.OnlinePlayers) == 1 })

	act(t, h, alice, ClientMessage{Type: msgClaimAnswer})
	after := waitForState(t, alice, func(games.Snapshot) bool { return true })

	require.Equal(t, before, after)
}

func TestHub_ContractViolationsGoOnlyToSender(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	act(t, h, alice, ClientMessage{Type: msgRegister, Name: "Alice"})
	act(t, h, bob, ClientMessage{Type: msgRegister, Name: "Alice"})

	taken := waitFor[ErrorMessage](t, bob, nil)
	require.Equal(t, games.ErrNameTaken.Error(), taken.Message)

	act(t, h, alice, ClientMessage{Type: msgJoinTeam, Team: "C"})
	invalid := waitFor[ErrorMessage](t, alice, nil)
	require.Equal(t, games.ErrInvalidTeam.Error(), invalid.Message)

	act(t, h, alice, ClientMessage{Type: "dance"})
	unknown := waitFor[ErrorMessage](t, alice, nil)
	require.Contains(t, unknown.Message, "type")

	// Bob's next message is the broadcast of his own valid registration, so
	// neither of Alice's errors reached him.
	act(t, h, bob, ClientMessage{Type: msgRegister, Name: "Bob"})
	for {
		msg := <-bob.send
		_, isErr := msg.(ErrorMessage)
		require.False(t, isErr)
		if su, ok := msg.(StateUpdateMessage); ok && len(su.State.OnlinePlayers) == 2 {
			break
		}
	}
}

func TestHub_DisconnectRemovesPlayer(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")

	act(t, h, alice, ClientMessage{Type: msgRegister, Name: "Alice"})
	act(t, h, bob, ClientMessage{Type: msgRegister, Name: "Bob"})
	act(t, h, bob, ClientMessage{Type: msgJoinTeam, Team: "B"})
	waitForState(t, alice, func(s games.Snapshot) bool { return len(s.Team(games.TeamB).Members) == 1 })

	h.leave(bob)

	s := waitForState(t, alice, func(s games.Snapshot) bool { return len(s.OnlinePlayers) == 1 })
	require.Empty(t, s.Team(games.TeamB).Members)
	require.Equal(t, "Alice", s.OnlinePlayers[0].Name)
}

func TestHub_ClosedHubRefusesClients(t *testing.T) {
	h := newHub("closed", games.NewCoordinator())
	h.closeAll()
	h.closeAll()

	c := &Client{send: make(chan any, 1), actorID: "late"}
	require.False(t, h.join(c))
	require.False(t, h.submit(actionRequest{client: c}))
}

func TestCheckMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  ClientMessage
		ok   bool
	}{
		{"register", ClientMessage{Type: msgRegister, Name: "Alice"}, true},
		{"register blank", ClientMessage{Type: msgRegister, Name: "   "}, false},
		{"register too long", ClientMessage{Type: msgRegister, Name: strings.Repeat("x", 33)}, false},
		{"join without team", ClientMessage{Type: msgJoinTeam}, false},
		{"join", ClientMessage{Type: msgJoinTeam, Team: "A"}, true},
		{"start without names", ClientMessage{Type: msgStart}, true},
		{"start long name", ClientMessage{Type: msgStart, TeamA: strings.Repeat("x", 40)}, false},
		{"grade without score", ClientMessage{Type: msgGradeAnswer}, false},
		{"grade zero", ClientMessage{Type: msgGradeAnswer, Score: score(0)}, true},
		{"claim", ClientMessage{Type: msgClaimAnswer}, true},
		{"reset", ClientMessage{Type: msgReset}, true},
		{"missing type", ClientMessage{}, false},
		{"unknown type", ClientMessage{Type: "kick"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.msg
			err := checkMessage(&msg, 32)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestGameManager_ReapIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &Config{}
	gm := newGameManager(ctx, 0)

	idle := gm.getHub(cfg, "idle")
	busy := gm.getHub(cfg, "busy")
	require.Same(t, idle, gm.getHub(cfg, "idle"))

	idle.mu.Lock()
	idle.lastActive = time.Now().Add(-time.Hour)
	idle.mu.Unlock()

	reaped := gm.reapIdle(time.Now().Add(-time.Minute))
	require.Equal(t, []string{"idle"}, reaped)

	_, ok := gm.lookupHub("idle")
	require.False(t, ok)

	found, ok := gm.lookupHub("busy")
	require.True(t, ok)
	require.Same(t, busy, found)
}

func TestGameManager_NewGameID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := newGameManager(ctx, 0).newGameID()
	require.Len(t, id, 8)
	require.True(t, validGameID(id))
}

func TestValidGameID(t *testing.T) {
	require.True(t, validGameID("abc123XYZ"))
	require.False(t, validGameID(""))
	require.False(t, validGameID("../etc"))
	require.False(t, validGameID(strings.Repeat("a", 33)))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	cfg := &Config{maxNameLength: 32, sessionTimeout: time.Hour}
	errs := make(chan error, 64)
	go drainErrors(errs)

	srv := httptest.NewServer(newRouter(ctx, cfg, errs))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return srv
}

type wireMessage struct {
	Type    string          `json:"type"`
	ActorID string          `json:"actor_id"`
	Player  string          `json:"player"`
	Message string          `json:"message"`
	State   json.RawMessage `json:"state"`
}

func dial(t *testing.T, srv *httptest.Server, gameID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/trivia/" + gameID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wireMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	for {
		var msg wireMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

type wireState struct {
	Phase      string `json:"phase"`
	ActiveTeam string `json:"active_team"`
	Round      int    `json:"round"`
	Teams      []struct {
		Name    string   `json:"name"`
		Score   float64  `json:"score"`
		Members []string `json:"members"`
	} `json:"teams"`
}

func readState(t *testing.T, conn *websocket.Conn, match func(wireState) bool) wireState {
	t.Helper()

	for {
		msg := readUntil(t, conn, "state_update")

		var s wireState
		require.NoError(t, json.Unmarshal(msg.State, &s))
		if match(s) {
			return s
		}
	}
}

func TestServer_WebSocketGame(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv, "party1")
	info := readUntil(t, alice, "session_info")
	require.NotEmpty(t, info.ActorID)

	bob := dial(t, srv, "party1")
	require.NotEqual(t, info.ActorID, readUntil(t, bob, "session_info").ActorID)

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "register", "name": "Alice"}))
	require.NoError(t, bob.WriteJSON(map[string]any{"type": "register", "name": "Bob"}))
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "join_team", "team": "A"}))
	require.NoError(t, bob.WriteJSON(map[string]any{"type": "join_team", "team": "B"}))
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "start", "team_a": "Red", "team_b": "Blue"}))
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "begin_answering"}))
	readState(t, bob, func(s wireState) bool {
		return s.Phase == "ANSWERING" && len(s.Teams[1].Members) == 1
	})
	require.NoError(t, bob.WriteJSON(map[string]any{"type": "claim_answer"}))

	raised := readUntil(t, alice, "hand_raised")
	require.Equal(t, "Bob", raised.Player)

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "grade_answer", "score": 0.5}))
	readState(t, bob, func(s wireState) bool { return s.Round == 2 })

	require.NoError(t, bob.WriteJSON("not an object"))
	require.Equal(t, "message is not valid JSON", readUntil(t, bob, "error").Message)

	resp, err := http.Get(srv.URL + "/trivia/party1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var s wireState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	require.Equal(t, "B", s.ActiveTeam)
	require.Equal(t, 2, s.Round)
	require.Equal(t, "Blue", s.Teams[1].Name)
	require.Equal(t, 0.5, s.Teams[1].Score)
}

func TestServer_Routes(t *testing.T) {
	srv := newTestServer(t)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(srv.URL + "/trivia")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	require.Regexp(t, `^/trivia/[A-Za-z0-9]{8}$`, resp.Header.Get("Location"))

	resp, err = client.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "/trivia", resp.Header.Get("Location"))

	resp, err = client.Get(srv.URL + "/trivia/nosuchgame")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/trivia/anygame/qr")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	resp, err = client.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
