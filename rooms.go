package main

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
	"sync"
)

// Player holds the data we store server-side for one connection in a room.
type Player struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Eliminated bool   `json:"eliminated"`
}

// Ballot is a recorded vote. A missing map entry means the player has not
// voted yet; a Ballot with Abstain set is an intentional abstention. Any
// non-empty Target, including "0", is a real vote for that player.
type Ballot struct {
	Abstain bool
	Target  string
}

// Room is one isolated game session, keyed by its four character code.
type Room struct {
	ID          string
	OwnerID     string
	Players     []Player
	Word        string
	ImpostorID  string
	Votes       map[string]Ballot
	RoundActive bool
}

// RoundResult carries the word and impostor drawn by StartRound.
type RoundResult struct {
	Word       string
	ImpostorID string
	Room       *Room
}

// LeaveResult describes what a departure did to a room.
type LeaveResult struct {
	Removed      bool
	Destroyed    bool
	OwnerChanged bool
	NewOwner     Player
	Room         *Room
}

// RoomLeave pairs a LeaveResult with the room it happened in, for
// disconnect cleanup across every room.
type RoomLeave struct {
	RoomID string
	LeaveResult
}

const (
	roomCodeLength    = 4
	roomCodeCharset   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeAttempts  = 1024
	defaultPlayerName = "Anonymous"
)

// RoomStore owns the canonical room collection. Every mutation goes through
// its methods; callers must not retain room state across operations.
type RoomStore struct {
	mu         sync.Mutex
	rooms      map[string]*Room
	maxPlayers int
}

func newRoomStore(maxPlayers int) *RoomStore {
	return &RoomStore{
		rooms:      make(map[string]*Room),
		maxPlayers: maxPlayers,
	}
}

// randomIndex returns a uniform index into a slice of length n via crypto/rand.
func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}

	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}

	return int(binary.BigEndian.Uint32(b[:]) % uint32(n))
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultPlayerName
	}
	return name
}

// newRoomCode generates an unused room code. The four character space is
// small enough that collisions are expected, so existing codes are checked
// and generation retries a bounded number of times.
func (s *RoomStore) newRoomCode() (string, error) {
	for attempt := 0; attempt < roomCodeAttempts; attempt++ {
		buf := make([]byte, roomCodeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}

		out := make([]byte, roomCodeLength)
		for i := range out {
			out[i] = roomCodeCharset[int(buf[i])%len(roomCodeCharset)]
		}
		code := string(out)

		if _, exists := s.rooms[code]; !exists {
			return code, nil
		}
	}

	return "", ErrCodeSpaceExhausted
}

// CreateRoom initializes a single-player room with the creator as owner.
func (s *RoomStore) CreateRoom(ownerName, ownerID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := s.newRoomCode()
	if err != nil {
		return nil, err
	}

	room := &Room{
		ID:      code,
		OwnerID: ownerID,
		Players: []Player{
			{ID: ownerID, Name: displayName(ownerName)},
		},
		Votes: make(map[string]Ballot),
	}
	s.rooms[code] = room

	return room, nil
}

func (s *RoomStore) GetRoom(code string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[normalizeCode(code)]
	return room, ok
}

// JoinRoom appends a new player, or returns the room unchanged if this
// connection already belongs to it (reconnection by the same ID).
func (s *RoomStore) JoinRoom(code, name, playerID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[normalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}

	if room.playerIndex(playerID) >= 0 {
		return room, nil
	}

	if s.maxPlayers > 0 && len(room.Players) >= s.maxPlayers {
		return nil, ErrRoomFull
	}

	room.Players = append(room.Players, Player{ID: playerID, Name: displayName(name)})

	return room, nil
}

// LeaveRoom removes the player if present. Ownership passes to the first
// remaining player in join order; an emptied room is destroyed.
func (s *RoomStore) LeaveRoom(code, playerID string) LeaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.leaveLocked(normalizeCode(code), playerID)
}

func (s *RoomStore) leaveLocked(code, playerID string) LeaveResult {
	room, ok := s.rooms[code]
	if !ok {
		return LeaveResult{}
	}

	idx := room.playerIndex(playerID)
	if idx < 0 {
		return LeaveResult{Room: room}
	}

	room.Players = append(room.Players[:idx], room.Players[idx+1:]...)
	delete(room.Votes, playerID)

	result := LeaveResult{Removed: true, Room: room}

	if len(room.Players) == 0 {
		delete(s.rooms, code)
		return LeaveResult{Removed: true, Destroyed: true}
	}

	if room.OwnerID == playerID {
		room.OwnerID = room.Players[0].ID
		result.OwnerChanged = true
		result.NewOwner = room.Players[0]
	}

	return result
}

// LeaveAll removes the player from every room they belong to. Used for
// disconnect cleanup, which has no room code to go on.
func (s *RoomStore) LeaveAll(playerID string) []RoomLeave {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []RoomLeave
	for code, room := range s.rooms {
		if room.playerIndex(playerID) < 0 {
			continue
		}
		results = append(results, RoomLeave{
			RoomID:      code,
			LeaveResult: s.leaveLocked(code, playerID),
		})
	}

	return results
}

// StartRound resets eliminations and votes, marks the round active, and
// draws a word and an impostor uniformly at random. Callers are responsible
// for enforcing the two player minimum first.
func (s *RoomStore) StartRound(code string, words []string) (*RoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[normalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}

	for i := range room.Players {
		room.Players[i].Eliminated = false
	}
	room.Votes = make(map[string]Ballot)
	room.RoundActive = true

	room.Word = words[randomIndex(len(words))]
	room.ImpostorID = room.Players[randomIndex(len(room.Players))].ID

	return &RoundResult{
		Word:       room.Word,
		ImpostorID: room.ImpostorID,
		Room:       room,
	}, nil
}

// RecordVote overwrites any previous ballot by the same voter.
func (s *RoomStore) RecordVote(code, voterID string, ballot Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[normalizeCode(code)]
	if !ok {
		return ErrRoomNotFound
	}

	room.Votes[voterID] = ballot

	return nil
}

// ResetVotes clears ballots between voting sub-rounds, leaving the round
// state and eliminations untouched.
func (s *RoomStore) ResetVotes(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[normalizeCode(code)]
	if !ok {
		return
	}

	room.Votes = make(map[string]Ballot)
}

// ActivePlayers returns the not yet eliminated players in join order.
func (s *RoomStore) ActivePlayers(code string) []Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[normalizeCode(code)]
	if !ok {
		return nil
	}

	return room.activePlayers()
}

// EliminatePlayer marks a room member eliminated until the next StartRound.
func (s *RoomStore) EliminatePlayer(code, targetID string) (*Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[normalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}

	idx := room.playerIndex(targetID)
	if idx < 0 {
		return nil, ErrPlayerNotFound
	}

	room.Players[idx].Eliminated = true
	eliminated := room.Players[idx]

	return &eliminated, nil
}

func (r *Room) playerIndex(playerID string) int {
	for i, p := range r.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) activePlayers() []Player {
	active := make([]Player, 0, len(r.Players))
	for _, p := range r.Players {
		if !p.Eliminated {
			active = append(active, p)
		}
	}
	return active
}
