// Impostor word game
//
// Players share a room identified by a four character code. Each round, one
// word is dealt to every player except a randomly chosen impostor, who only
// learns that they are the impostor. Players discuss out of band, then vote
// to eliminate whoever they suspect; voting repeats in sub-rounds until one
// active player remains or the owner advances to a fresh round.
//
// Features:
// - Single WebSocket endpoint: /path/ws, all rooms share one hub
// - Rooms created on demand with collision-checked random codes
// - First player is the owner; only the owner can start or advance rounds
// - Ownership passes to the longest-joined player when the owner leaves
// - Votes are one per active player, last write wins, null to abstain
// - Ties between leading vote targets are broken uniformly at random
// - Rooms are destroyed the moment the last player leaves
// - Players identified by a per-connection id, never reused
// - In-browser QR button to share a room join link, backed by go-qrcode

package main

import (
	_ "embed"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	roleImpostor = "impostor"
	rolePlayer   = "player"
)

// ClientMessage is the single inbound shape; Type selects the intent.
type ClientMessage struct {
	Type     string  `json:"type"`                // "create-room", "join-room", "start-round", "end-round", "vote", "leave-room"
	Name     string  `json:"name,omitempty"`      // create-room / join-room
	RoomID   string  `json:"room_id,omitempty"`   // everything except create-room
	TargetID *string `json:"target_id,omitempty"` // vote; null or absent means abstain
}

// ErrorMessage is sent only to the client whose intent was rejected.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// RoomCreatedMessage acknowledges create-room to the caller.
type RoomCreatedMessage struct {
	Type   string `json:"type"` // "room-created"
	RoomID string `json:"room_id"`
}

// PlayerListMessage carries the full roster whenever membership changes.
type PlayerListMessage struct {
	Type    string   `json:"type"` // "player-list"
	Players []Player `json:"players"`
	OwnerID string   `json:"owner_id"`
}

// RoundStartMessage is unicast to each player with their role. The
// impostor never receives the word.
type RoundStartMessage struct {
	Type string `json:"type"` // "round-start"
	Role string `json:"role"` // "impostor" or "player"
	Word string `json:"word,omitempty"`
}

// RoundInfoMessage broadcasts public round state to the whole room.
type RoundInfoMessage struct {
	Type         string `json:"type"` // "round-info"
	RoundActive  bool   `json:"round_active"`
	PlayersCount int    `json:"players_count,omitempty"`
	ActiveCount  int    `json:"active_count,omitempty"`
	Message      string `json:"message,omitempty"`
}

// VoteUpdateMessage reports how many ballots are in, not their contents.
type VoteUpdateMessage struct {
	Type       string `json:"type"` // "vote-update"
	VotesCount int    `json:"votes_count"`
}

// EliminatedPlayer identifies who a vote removed.
type EliminatedPlayer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// VoteResultMessage announces the outcome of a completed voting sub-round.
// Votes is the raw voter to target mapping, null values being abstentions,
// published for transparency once the sub-round has resolved.
type VoteResultMessage struct {
	Type        string             `json:"type"` // "vote-result"
	Eliminated  *EliminatedPlayer  `json:"eliminated"`
	WasImpostor bool               `json:"was_impostor"`
	Reason      string             `json:"reason,omitempty"`
	Votes       map[string]*string `json:"votes"`
}

// VoteNextMessage signals that another voting sub-round may begin.
type VoteNextMessage struct {
	Type        string `json:"type"` // "vote-next"
	ActiveCount int    `json:"active_count"`
}

// OwnerChangedMessage announces ownership reassignment after the owner left.
type OwnerChangedMessage struct {
	Type         string `json:"type"` // "owner-changed"
	NewOwnerID   string `json:"new_owner_id"`
	NewOwnerName string `json:"new_owner_name"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type intentRequest struct {
	client *Client
	msg    ClientMessage
}

// Hub owns the connected clients and serializes every intent through its
// run loop, so room state is only ever touched by one goroutine.
type Hub struct {
	cfg   *Config
	store *RoomStore
	words []string

	clients map[*Client]bool
	byID    map[string]*Client

	register chan *Client
	unreg    chan *Client
	intents  chan intentRequest
}

func newHub(cfg *Config, store *RoomStore, words []string) *Hub {
	return &Hub{
		cfg:      cfg,
		store:    store,
		words:    words,
		clients:  make(map[*Client]bool),
		byID:     make(map[string]*Client),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		intents:  make(chan intentRequest),
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.byID[c.playerID] = c
			logf(h.cfg, "GAMES: Player %s connected", c.playerID)

		case c := <-h.unreg:
			h.handleDisconnect(c)

		case req := <-h.intents:
			h.handleIntent(req.client, req.msg)
		}
	}
}

func (h *Hub) handleIntent(c *Client, msg ClientMessage) {
	switch msg.Type {
	case "create-room":
		h.handleCreate(c, msg)
	case "join-room":
		h.handleJoin(c, msg)
	case "start-round", "end-round":
		h.handleStartRound(c, msg)
	case "vote":
		h.handleVote(c, msg)
	case "leave-room":
		h.handleLeave(c, msg)
	default:
		// ignore unknown types
	}
}

// trySend delivers to one client, dropping the client if its buffer is full.
func (h *Hub) trySend(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			delete(h.byID, c.playerID)
			close(c.send)
		}
	}
}

func (h *Hub) sendError(c *Client, message string) {
	h.trySend(c, ErrorMessage{
		Type:    "error",
		Message: message,
	})
}

// broadcastRoom sends to every current member of the room.
func (h *Hub) broadcastRoom(room *Room, msg any) {
	for _, p := range room.Players {
		if c, ok := h.byID[p.ID]; ok {
			h.trySend(c, msg)
		}
	}
}

func (h *Hub) broadcastPlayerList(room *Room) {
	h.broadcastRoom(room, PlayerListMessage{
		Type:    "player-list",
		Players: slices.Clone(room.Players),
		OwnerID: room.OwnerID,
	})
}

func (h *Hub) handleCreate(c *Client, msg ClientMessage) {
	room, err := h.store.CreateRoom(msg.Name, c.playerID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	h.trySend(c, RoomCreatedMessage{
		Type:   "room-created",
		RoomID: room.ID,
	})
	h.broadcastPlayerList(room)

	logf(h.cfg, "GAMES: Room %s created by %q", room.ID, room.Players[0].Name)
}

func (h *Hub) handleJoin(c *Client, msg ClientMessage) {
	room, err := h.store.JoinRoom(msg.RoomID, msg.Name, c.playerID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	h.broadcastPlayerList(room)

	logf(h.cfg, "GAMES: Player %q joined %s", msg.Name, room.ID)
}

// handleStartRound serves both start-round and end-round: the owner
// advancing past a finished round and starting a fresh one are the same
// transition.
func (h *Hub) handleStartRound(c *Client, msg ClientMessage) {
	room, ok := h.store.GetRoom(msg.RoomID)
	if !ok {
		h.sendError(c, ErrRoomNotFound.Error())
		return
	}
	if room.OwnerID != c.playerID {
		h.sendError(c, ErrNotOwner.Error())
		return
	}
	if len(room.Players) < 2 {
		h.sendError(c, ErrNotEnoughPlayers.Error())
		return
	}

	result, err := h.store.StartRound(room.ID, h.words)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	for _, p := range result.Room.Players {
		target, ok := h.byID[p.ID]
		if !ok {
			continue
		}
		if p.ID == result.ImpostorID {
			h.trySend(target, RoundStartMessage{
				Type: "round-start",
				Role: roleImpostor,
			})
		} else {
			h.trySend(target, RoundStartMessage{
				Type: "round-start",
				Role: rolePlayer,
				Word: result.Word,
			})
		}
	}

	h.broadcastRoom(room, RoundInfoMessage{
		Type:         "round-info",
		RoundActive:  true,
		PlayersCount: len(room.Players),
		ActiveCount:  len(room.activePlayers()),
	})
	h.broadcastPlayerList(room)

	logf(h.cfg, "GAMES: Round started in %s with %d players", room.ID, len(room.Players))
}

func (h *Hub) handleVote(c *Client, msg ClientMessage) {
	room, ok := h.store.GetRoom(msg.RoomID)
	if !ok {
		h.sendError(c, ErrRoomNotFound.Error())
		return
	}
	if !room.RoundActive {
		h.sendError(c, ErrRoundInactive.Error())
		return
	}
	idx := room.playerIndex(c.playerID)
	if idx < 0 {
		h.sendError(c, ErrPlayerNotFound.Error())
		return
	}
	if room.Players[idx].Eliminated {
		h.sendError(c, ErrEliminated.Error())
		return
	}

	ballot := Ballot{Abstain: true}
	if msg.TargetID != nil && *msg.TargetID != "" {
		ballot = Ballot{Target: *msg.TargetID}
	}
	if err := h.store.RecordVote(room.ID, c.playerID, ballot); err != nil {
		h.sendError(c, err.Error())
		return
	}

	h.broadcastRoom(room, VoteUpdateMessage{
		Type:       "vote-update",
		VotesCount: len(room.Votes),
	})

	for _, p := range room.activePlayers() {
		if _, voted := room.Votes[p.ID]; !voted {
			return // still waiting on ballots
		}
	}

	h.resolveVotes(room)
}

// resolveVotes runs once every active player has cast a ballot. Abstentions
// do not count toward the tally; a tie between leading targets is broken
// uniformly at random.
func (h *Hub) resolveVotes(room *Room) {
	tally := make(map[string]int)
	for _, ballot := range room.Votes {
		if ballot.Abstain {
			continue
		}
		tally[ballot.Target]++
	}

	if len(tally) == 0 {
		h.broadcastRoom(room, VoteResultMessage{
			Type:       "vote-result",
			Eliminated: nil,
			Reason:     "everyone abstained",
			Votes:      votesSnapshot(room.Votes),
		})
		h.store.ResetVotes(room.ID)
		return
	}

	max := 0
	for _, count := range tally {
		if count > max {
			max = count
		}
	}

	topTargets := make([]string, 0, len(tally))
	for target, count := range tally {
		if count == max {
			topTargets = append(topTargets, target)
		}
	}
	slices.Sort(topTargets)

	chosen := topTargets[randomIndex(len(topTargets))]
	votes := votesSnapshot(room.Votes)

	var eliminated *EliminatedPlayer
	if target, err := h.store.EliminatePlayer(room.ID, chosen); err == nil {
		eliminated = &EliminatedPlayer{ID: target.ID, Name: target.Name}
	}

	h.broadcastRoom(room, VoteResultMessage{
		Type:        "vote-result",
		Eliminated:  eliminated,
		WasImpostor: room.ImpostorID == chosen,
		Votes:       votes,
	})
	h.broadcastPlayerList(room)
	h.store.ResetVotes(room.ID)

	remaining := room.activePlayers()
	if len(remaining) <= 1 {
		room.RoundActive = false
		h.broadcastRoom(room, RoundInfoMessage{
			Type:        "round-info",
			RoundActive: false,
			Message:     "not enough active players left to keep voting",
		})
		return
	}

	h.broadcastRoom(room, VoteNextMessage{
		Type:        "vote-next",
		ActiveCount: len(remaining),
	})
}

func votesSnapshot(votes map[string]Ballot) map[string]*string {
	snapshot := make(map[string]*string, len(votes))
	for voter, ballot := range votes {
		if ballot.Abstain {
			snapshot[voter] = nil
			continue
		}
		target := ballot.Target
		snapshot[voter] = &target
	}
	return snapshot
}

func (h *Hub) handleLeave(c *Client, msg ClientMessage) {
	result := h.store.LeaveRoom(msg.RoomID, c.playerID)

	switch {
	case result.Destroyed:
		logf(h.cfg, "GAMES: Room %s destroyed (empty)", normalizeCode(msg.RoomID))
	case result.Removed:
		if result.OwnerChanged {
			h.broadcastRoom(result.Room, OwnerChangedMessage{
				Type:         "owner-changed",
				NewOwnerID:   result.NewOwner.ID,
				NewOwnerName: result.NewOwner.Name,
			})
		}
		h.broadcastPlayerList(result.Room)
	}
}

// handleDisconnect drops the client and applies leave semantics to every
// room the connection belonged to.
func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		delete(h.byID, c.playerID)
		close(c.send)
	}

	for _, left := range h.store.LeaveAll(c.playerID) {
		if left.Destroyed {
			logf(h.cfg, "GAMES: Room %s destroyed (empty)", left.RoomID)
			continue
		}
		if left.OwnerChanged {
			h.broadcastRoom(left.Room, OwnerChangedMessage{
				Type:         "owner-changed",
				NewOwnerID:   left.NewOwner.ID,
				NewOwnerName: left.NewOwner.Name,
			})
		}
		h.broadcastPlayerList(left.Room)
	}

	logf(h.cfg, "GAMES: Player %s disconnected", c.playerID)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket handler; every connection gets a fresh player id.
func serveWS(h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(h.cfg, "GAMES: Upgrade error: %v", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: uuid.NewString(),
		}

		h.register <- client

		go client.writePump()
		client.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		h.intents <- intentRequest{
			client: c,
			msg:    msg,
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code linking into the given room.
func qrHandler(cfg *Config, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := normalizeCode(ps.ByName("code"))
		if code == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
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

		url := scheme + "://" + r.Host + cfg.prefix + path + "?room=" + code

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// ---- Static file paths ----

//go:embed impostor/index.html
var indexHTML []byte

//go:embed impostor/app.css
var impostorCSS []byte

//go:embed impostor/app.js
var impostorJS []byte

func serveEmbedded(cfg *Config, contentType string, data []byte) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)

		_, _ = w.Write(data)
	}
}

// registerImpostorGame sets up routes so that:
//   - $path              → HTML client (optionally with ?room=CODE prefilled)
//   - $path/ws           → the shared WebSocket endpoint
//   - $path/qr/:code     → PNG QR code linking into a room
func registerImpostorGame(cfg *Config, path string, mux *httprouter.Router) error {
	words, err := loadWordList(cfg.wordList)
	if err != nil {
		return err
	}

	store := newRoomStore(cfg.lobbySize)
	hub := newHub(cfg, store, words)
	go hub.run()

	mux.GET(cfg.prefix+path, serveEmbedded(cfg, "text/html; charset=utf-8", indexHTML))

	mux.GET(cfg.prefix+"/assets/impostor/app.css", serveEmbedded(cfg, "text/css; charset=utf-8", impostorCSS))
	mux.GET(cfg.prefix+"/assets/impostor/app.js", serveEmbedded(cfg, "application/javascript; charset=utf-8", impostorJS))

	mux.GET(cfg.prefix+path+"/ws", serveWS(hub))

	mux.GET(cfg.prefix+path+"/qr/:code", qrHandler(cfg, path))

	return nil
}
