/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Trivia connection layer
//
// Every game ID gets its own hub and its own games.Coordinator. The hub owns
// the websocket clients of that game and applies their actions one at a time,
// broadcasting the full game state after each one.
//
// Features:
// - WebSockets per game ID: /trivia/:gameid/ws
// - One fresh actor ID (UUID) per connection, so reconnecting means rejoining
// - Duplicate display names rejected, with the error sent only to the offender
// - "hand_raised" broadcast when the answering team wins the race to answer
// - JSON state per game at /trivia/:gameid
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - QR code of the game URL, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/trivia/games"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 16
)

type Client struct {
	conn    *websocket.Conn
	send    chan any
	actorID games.ActorID
}

// actionRequest is a decoded client message, or the reason it was refused.
type actionRequest struct {
	client *Client
	msg    ClientMessage
	err    error
}

type Hub struct {
	id      string
	game    *games.Coordinator
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	actions  chan actionRequest
	done     chan struct{}

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
	closed     bool
}

func newHub(gameID string, game *games.Coordinator) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		game:       game,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		actions:    make(chan actionRequest),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.closed {
				close(c.send)
				h.mu.Unlock()
				continue
			}

			h.lastActive = time.Now()
			h.clients[c] = true

			h.sendLocked(c, SessionInfoMessage{
				Type:    "session_info",
				ActorID: string(c.actorID),
				GameID:  h.id,
			})
			h.broadcastStateLocked()
			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

			if name, ok := h.game.Name(c.actorID); ok && h.game.Remove(c.actorID) {
				logf(cfg, "GAMES: Player %q left %s", name, h.id)
			}
			h.broadcastStateLocked()
			h.mu.Unlock()

		case req := <-h.actions:
			h.handleAction(cfg, req)
		}
	}
}

// handleAction applies one client message to the game, then broadcasts the
// resulting state whether or not the action was accepted.
func (h *Hub) handleAction(cfg *Config, req actionRequest) {
	c := req.client
	msg := req.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if req.err != nil {
		h.sendErrorLocked(c, req.err)
		return
	}

	switch msg.Type {
	case msgRegister:
		ok, err := h.game.Register(c.actorID, msg.Name)
		if err != nil {
			h.sendErrorLocked(c, err)
			return
		}
		if ok {
			logf(cfg, "GAMES: Player %q joined %s", msg.Name, h.id)
		}

	case msgJoinTeam:
		ref, err := games.ParseTeamRef(msg.Team)
		if err == nil {
			_, err = h.game.JoinTeam(c.actorID, ref)
		}
		if err != nil {
			h.sendErrorLocked(c, err)
			return
		}

	case msgStart:
		h.game.StartSession(msg.TeamA, msg.TeamB)
		logf(cfg, "GAMES: Started %q vs %q in %s", msg.TeamA, msg.TeamB, h.id)

	case msgBeginAnswering:
		h.game.BeginAnswering(c.actorID)

	case msgClaimAnswer:
		if h.game.ClaimAnswer(c.actorID) {
			h.broadcastStateLocked()

			name, _ := h.game.Name(c.actorID)
			h.broadcastLocked(HandRaisedMessage{
				Type:   "hand_raised",
				Player: name,
			})
			return
		}

	case msgGradeAnswer:
		if h.game.GradeAnswer(c.actorID, *msg.Score) {
			name, _ := h.game.Name(c.actorID)
			logf(cfg, "GAMES: %q awarded %v in %s", name, *msg.Score, h.id)
		}

	case msgReset:
		h.game.Reset()
		logf(cfg, "GAMES: Reset %s", h.id)
	}

	h.broadcastStateLocked()
}

func (h *Hub) broadcastStateLocked() {
	h.broadcastLocked(StateUpdateMessage{
		Type:  "state_update",
		State: h.game.Snapshot(),
	})
}

// broadcastLocked sends msg to every client, dropping any whose buffer is full.
func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		h.sendLocked(client, msg)
	}
}

func (h *Hub) sendLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) sendErrorLocked(c *Client, err error) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	h.sendLocked(c, ErrorMessage{
		Type:    "error",
		Message: err.Error(),
	})
}

// submit hands a request to the hub, giving up if the hub has shut down.
func (h *Hub) submit(req actionRequest) bool {
	select {
	case h.actions <- req:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unreg <- c:
	case <-h.done:
	}
}

func (h *Hub) idleSince() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.lastActive
}

// closeAll stops the hub and disconnects all of its clients.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.done)

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GameManager holds a set of hubs keyed by game ID, so each /trivia/$gameid
// is its own isolated game.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newGameManager(ctx context.Context, idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop(ctx)
	}
	go func() {
		<-ctx.Done()
		gm.closeAll()
	}()
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gameID, games.NewCoordinator())
	gm.hubs[gameID] = hub
	go hub.run(cfg)

	logf(cfg, "GAMES: Opened game %s", gameID)

	return hub
}

func (gm *GameManager) lookupHub(gameID string) (*Hub, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	hub, ok := gm.hubs[gameID]
	return hub, ok
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reapIdle removes hubs that have been idle since before cutoff.
func (gm *GameManager) reapIdle(cutoff time.Time) []string {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	var reaped []string
	for id, hub := range gm.hubs {
		if hub.idleSince().Before(cutoff) {
			delete(gm.hubs, id)
			go hub.closeAll()
			reaped = append(reaped, id)
		}
	}
	return reaped
}

func (gm *GameManager) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gm.reapIdle(time.Now().Add(-gm.idleTimeout))
		}
	}
}

func (gm *GameManager) closeAll() {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	for id, hub := range gm.hubs {
		delete(gm.hubs, id)
		hub.closeAll()
	}
}

func validGameID(gameID string) bool {
	return validate.Var(gameID, "required,alphanum,max=32") == nil
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if !validGameID(gameID) {
			http.Error(w, "invalid game id", http.StatusBadRequest)
			return
		}

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errs <- err
			return
		}

		client := &Client{
			conn:    conn,
			send:    make(chan any, sendBufferSize),
			actorID: games.ActorID(uuid.NewString()),
		}

		if !hub.join(client) {
			_ = conn.Close()
			return
		}

		logf(cfg, "SERVE: Connected %s to %s from %s", client.actorID, gameID, realIP(r))

		go client.writePump()
		client.readPump(cfg, hub)
	}
}

func (c *Client) readPump(cfg *Config, h *Hub) {
	defer func() {
		h.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		req := actionRequest{client: c}
		if err := json.Unmarshal(data, &req.msg); err != nil {
			req.err = errors.New("message is not valid JSON")
		} else {
			req.err = checkMessage(&req.msg, cfg.maxNameLength)
		}

		if !h.submit(req) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveState returns the current snapshot of an existing game as JSON.
func serveState(cfg *Config, gm *GameManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		hub, ok := gm.lookupHub(ps.ByName("gameid"))
		if !ok {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		data, err := json.Marshal(hub.game.Snapshot())
		if err != nil {
			errs <- err
			http.Error(w, "unable to encode game state", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		if _, err := w.Write(data); err != nil {
			errs <- err
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !validGameID(ps.ByName("gameid")) {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewGame handles GET /trivia by generating a new random game ID
// (with server-side collision detection) and redirecting to /trivia/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerTriviaGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → JSON game state
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerTriviaGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router, errs chan<- error) *GameManager {
	gm := newGameManager(ctx, cfg.sessionTimeout)

	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))
	mux.GET(cfg.prefix+path+"/:gameid", serveState(cfg, gm, errs))
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm, errs))
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	return gm
}
