package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return newHub(&Config{}, newRoomStore(0), defaultWords)
}

// addClient registers a fake connection directly, the way the run loop
// would; handlers never touch the underlying websocket.
func addClient(h *Hub, id string) *Client {
	c := &Client{
		send:     make(chan any, 64),
		playerID: id,
	}
	h.clients[c] = true
	h.byID[id] = c
	return c
}

func drain(c *Client) []any {
	var msgs []any
	for {
		select {
		case m := <-c.send:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func msgsOfType[T any](msgs []any) []T {
	var out []T
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func requireMsg[T any](t *testing.T, msgs []any) T {
	t.Helper()
	found := msgsOfType[T](msgs)
	require.NotEmpty(t, found, "expected a %T in %v", *new(T), msgs)
	return found[len(found)-1]
}

// setupRoom creates a room via the first client and joins the rest, then
// drains every queue so tests start from a quiet state.
func setupRoom(t *testing.T, h *Hub, names ...string) ([]*Client, string) {
	t.Helper()

	clients := make([]*Client, len(names))
	for i, name := range names {
		clients[i] = addClient(h, fmt.Sprintf("conn-%d", i+1))

		if i == 0 {
			h.handleCreate(clients[0], ClientMessage{Type: "create-room", Name: name})
			continue
		}
	}

	ack := requireMsg[RoomCreatedMessage](t, drain(clients[0]))
	code := ack.RoomID

	for i, name := range names {
		if i == 0 {
			continue
		}
		h.handleJoin(clients[i], ClientMessage{Type: "join-room", RoomID: code, Name: name})
	}

	for _, c := range clients {
		drain(c)
	}

	return clients, code
}

func vote(h *Hub, c *Client, code, target string) {
	msg := ClientMessage{Type: "vote", RoomID: code}
	if target != "" {
		msg.TargetID = &target
	}
	h.handleVote(c, msg)
}

func TestCreateRoomAck(t *testing.T) {
	h := newTestHub()
	c := addClient(h, "conn-1")

	h.handleCreate(c, ClientMessage{Type: "create-room", Name: "Alice"})

	msgs := drain(c)
	ack := requireMsg[RoomCreatedMessage](t, msgs)
	assert.Len(t, ack.RoomID, roomCodeLength)

	list := requireMsg[PlayerListMessage](t, msgs)
	require.Len(t, list.Players, 1)
	assert.Equal(t, "Alice", list.Players[0].Name)
	assert.Equal(t, "conn-1", list.OwnerID)
}

func TestJoinBroadcastsPlayerList(t *testing.T) {
	h := newTestHub()
	owner := addClient(h, "conn-1")
	h.handleCreate(owner, ClientMessage{Type: "create-room", Name: "Alice"})
	code := requireMsg[RoomCreatedMessage](t, drain(owner)).RoomID

	joiner := addClient(h, "conn-2")
	h.handleJoin(joiner, ClientMessage{Type: "join-room", RoomID: code, Name: "Bob"})

	for _, c := range []*Client{owner, joiner} {
		list := requireMsg[PlayerListMessage](t, drain(c))
		require.Len(t, list.Players, 2)
		assert.Equal(t, "conn-1", list.OwnerID)
	}
}

func TestJoinMissingRoomErrorsCallerOnly(t *testing.T) {
	h := newTestHub()
	clients, _ := setupRoom(t, h, "Alice")

	stranger := addClient(h, "conn-9")
	h.handleJoin(stranger, ClientMessage{Type: "join-room", RoomID: "ZZZZ", Name: "Bob"})

	errMsg := requireMsg[ErrorMessage](t, drain(stranger))
	assert.Equal(t, ErrRoomNotFound.Error(), errMsg.Message)

	assert.Empty(t, drain(clients[0]), "errors must not broadcast to the room")
}

func TestStartRoundOwnerOnly(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob")

	h.handleStartRound(clients[1], ClientMessage{Type: "start-round", RoomID: code})

	errMsg := requireMsg[ErrorMessage](t, drain(clients[1]))
	assert.Equal(t, ErrNotOwner.Error(), errMsg.Message)
	assert.Empty(t, drain(clients[0]))

	room, ok := h.store.GetRoom(code)
	require.True(t, ok)
	assert.False(t, room.RoundActive)
}

func TestStartRoundNeedsTwoPlayers(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice")

	h.handleStartRound(clients[0], ClientMessage{Type: "start-round", RoomID: code})

	errMsg := requireMsg[ErrorMessage](t, drain(clients[0]))
	assert.Equal(t, ErrNotEnoughPlayers.Error(), errMsg.Message)
}

func TestStartRoundMissingRoom(t *testing.T) {
	h := newTestHub()
	c := addClient(h, "conn-1")

	h.handleStartRound(c, ClientMessage{Type: "start-round", RoomID: "ZZZZ"})

	errMsg := requireMsg[ErrorMessage](t, drain(c))
	assert.Equal(t, ErrRoomNotFound.Error(), errMsg.Message)
}

func TestStartRoundRoleFanout(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob", "Carol")

	h.handleStartRound(clients[0], ClientMessage{Type: "start-round", RoomID: code})

	room, ok := h.store.GetRoom(code)
	require.True(t, ok)
	require.True(t, room.RoundActive)

	impostors := 0
	for _, c := range clients {
		msgs := drain(c)

		role := requireMsg[RoundStartMessage](t, msgs)
		if c.playerID == room.ImpostorID {
			impostors++
			assert.Equal(t, roleImpostor, role.Role)
			assert.Empty(t, role.Word, "the impostor must not receive the word")
		} else {
			assert.Equal(t, rolePlayer, role.Role)
			assert.Equal(t, room.Word, role.Word)
		}

		info := requireMsg[RoundInfoMessage](t, msgs)
		assert.True(t, info.RoundActive)
		assert.Equal(t, 3, info.PlayersCount)
		assert.Equal(t, 3, info.ActiveCount)

		requireMsg[PlayerListMessage](t, msgs)
	}
	assert.Equal(t, 1, impostors, "exactly one player is the impostor")

	for _, p := range room.Players {
		assert.False(t, p.Eliminated)
	}
}

func TestEndRoundSameTransition(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob")

	h.handleStartRound(clients[0], ClientMessage{Type: "start-round", RoomID: code})
	for _, c := range clients {
		drain(c)
	}

	h.handleStartRound(clients[0], ClientMessage{Type: "end-round", RoomID: code})

	room, ok := h.store.GetRoom(code)
	require.True(t, ok)
	assert.True(t, room.RoundActive)

	for _, c := range clients {
		requireMsg[RoundStartMessage](t, drain(c))
	}
}

func TestVoteRejections(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob")

	// No round active yet.
	vote(h, clients[0], code, clients[1].playerID)
	errMsg := requireMsg[ErrorMessage](t, drain(clients[0]))
	assert.Equal(t, ErrRoundInactive.Error(), errMsg.Message)

	// Unknown room.
	vote(h, clients[0], "ZZZZ", clients[1].playerID)
	errMsg = requireMsg[ErrorMessage](t, drain(clients[0]))
	assert.Equal(t, ErrRoomNotFound.Error(), errMsg.Message)

	h.handleStartRound(clients[0], ClientMessage{Type: "start-round", RoomID: code})
	for _, c := range clients {
		drain(c)
	}

	// Connected but not a member of this room.
	stranger := addClient(h, "conn-9")
	vote(h, stranger, code, clients[1].playerID)
	errMsg = requireMsg[ErrorMessage](t, drain(stranger))
	assert.Equal(t, ErrPlayerNotFound.Error(), errMsg.Message)

	// Eliminated players cannot vote.
	_, err := h.store.EliminatePlayer(code, clients[1].playerID)
	require.NoError(t, err)
	vote(h, clients[1], code, clients[0].playerID)
	errMsg = requireMsg[ErrorMessage](t, drain(clients[1]))
	assert.Equal(t, ErrEliminated.Error(), errMsg.Message)
}

func TestVoteUpdateBroadcast(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob", "Carol")
	h.handleStartRound(clients[0], ClientMessage{Type: "start-round", RoomID: code})
	for _, c := range clients {
		drain(c)
	}

	vote(h, clients[0], code, clients[1].playerID)

	for _, c := range clients {
		update := requireMsg[VoteUpdateMessage](t, drain(c))
		assert.Equal(t, 1, update.VotesCount)
	}
}

func TestVoteResolutionTwoPlayers(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob")
	h.handleStartRound(clients[0], ClientMessage{Type: "start-round", RoomID: code})

	room, ok := h.store.GetRoom(code)
	require.True(t, ok)

	target := clients[0]
	if target.playerID == room.ImpostorID {
		target = clients[1]
	}
	for _, c := range clients {
		drain(c)
	}

	// Both players gang up on the non-impostor, 2-0.
	vote(h, clients[0], code, target.playerID)
	vote(h, clients[1], code, target.playerID)

	for _, c := range clients {
		msgs := drain(c)

		result := requireMsg[VoteResultMessage](t, msgs)
		require.NotNil(t, result.Eliminated)
		assert.Equal(t, target.playerID, result.Eliminated.ID)
		assert.False(t, result.WasImpostor)
		require.Len(t, result.Votes, 2)
		for _, voted := range result.Votes {
			require.NotNil(t, voted)
			assert.Equal(t, target.playerID, *voted)
		}

		list := requireMsg[PlayerListMessage](t, msgs)
		eliminatedCount := 0
		for _, p := range list.Players {
			if p.Eliminated {
				eliminatedCount++
			}
		}
		assert.Equal(t, 1, eliminatedCount)

		info := requireMsg[RoundInfoMessage](t, msgs)
		assert.False(t, info.RoundActive)
		assert.NotEmpty(t, info.Message)

		assert.Empty(t, msgsOfType[VoteNextMessage](msgs))
	}

	assert.False(t, room.RoundActive)
	assert.Empty(t, room.Votes)
	assert.Len(t, room.activePlayers(), 1)
}

func TestVoteResolutionContinues(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob", "Carol")
	h.handleStartRound(clients[0], ClientMessage{Type: "start-round", RoomID: code})
	for _, c := range clients {
		drain(c)
	}

	// 2-1 against Carol leaves two active players, so voting continues.
	vote(h, clients[0], code, clients[2].playerID)
	vote(h, clients[1], code, clients[2].playerID)
	vote(h, clients[2], code, clients[0].playerID)

	room, ok := h.store.GetRoom(code)
	require.True(t, ok)
	assert.True(t, room.RoundActive)
	assert.Empty(t, room.Votes, "votes reset for the next sub-round")

	msgs := drain(clients[0])
	result := requireMsg[VoteResultMessage](t, msgs)
	require.NotNil(t, result.Eliminated)
	assert.Equal(t, clients[2].playerID, result.Eliminated.ID)

	next := requireMsg[VoteNextMessage](t, msgs)
	assert.Equal(t, 2, next.ActiveCount)
}

func TestUnanimousAbstention(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob")
	h.handleStartRound(clients[0], ClientMessage{Type: "start-round", RoomID: code})
	for _, c := range clients {
		drain(c)
	}

	vote(h, clients[0], code, "")
	vote(h, clients[1], code, "")

	room, ok := h.store.GetRoom(code)
	require.True(t, ok)

	for _, c := range clients {
		msgs := drain(c)

		result := requireMsg[VoteResultMessage](t, msgs)
		assert.Nil(t, result.Eliminated)
		assert.NotEmpty(t, result.Reason)
		require.Len(t, result.Votes, 2)
		for _, voted := range result.Votes {
			assert.Nil(t, voted, "abstentions surface as null votes")
		}

		assert.Empty(t, msgsOfType[VoteNextMessage](msgs))
	}

	// Nobody was eliminated and the same voting sub-round continues.
	assert.True(t, room.RoundActive)
	assert.Empty(t, room.Votes)
	for _, p := range room.Players {
		assert.False(t, p.Eliminated)
	}
}

func TestVoteCompletenessIgnoresEliminated(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob", "Carol")
	h.handleStartRound(clients[0], ClientMessage{Type: "start-round", RoomID: code})
	_, err := h.store.EliminatePlayer(code, clients[2].playerID)
	require.NoError(t, err)
	for _, c := range clients {
		drain(c)
	}

	// Only the two active players need to vote for resolution to trigger.
	vote(h, clients[0], code, clients[1].playerID)
	vote(h, clients[1], code, clients[1].playerID)

	result := requireMsg[VoteResultMessage](t, drain(clients[0]))
	require.NotNil(t, result.Eliminated)
	assert.Equal(t, clients[1].playerID, result.Eliminated.ID)
}

func TestTieBreakUniform(t *testing.T) {
	eliminatedCounts := make(map[string]int)

	for i := 0; i < 250; i++ {
		h := newTestHub()
		clients, code := setupRoom(t, h, "Alice", "Bob", "Carol")
		h.handleStartRound(clients[0], ClientMessage{Type: "start-round", RoomID: code})
		for _, c := range clients {
			drain(c)
		}

		// A 1-1-1 three way tie.
		vote(h, clients[0], code, clients[1].playerID)
		vote(h, clients[1], code, clients[2].playerID)
		vote(h, clients[2], code, clients[0].playerID)

		result := requireMsg[VoteResultMessage](t, drain(clients[0]))
		require.NotNil(t, result.Eliminated)

		tieSet := []string{clients[0].playerID, clients[1].playerID, clients[2].playerID}
		assert.Contains(t, tieSet, result.Eliminated.ID)
		eliminatedCounts[result.Eliminated.ID]++
	}

	require.Len(t, eliminatedCounts, 3, "every tie member should be eliminated across enough trials")
	for id, count := range eliminatedCounts {
		assert.Greater(t, count, 0, "target %s never eliminated", id)
	}
}

func TestLeaveRoomBroadcasts(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob")

	h.handleLeave(clients[1], ClientMessage{Type: "leave-room", RoomID: code})

	list := requireMsg[PlayerListMessage](t, drain(clients[0]))
	require.Len(t, list.Players, 1)
	assert.Equal(t, "Alice", list.Players[0].Name)

	assert.Empty(t, drain(clients[1]), "the leaver gets no room broadcast")
}

func TestLeaveRoomOwnerHandsOff(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob")

	h.handleLeave(clients[0], ClientMessage{Type: "leave-room", RoomID: code})

	msgs := drain(clients[1])
	changed := requireMsg[OwnerChangedMessage](t, msgs)
	assert.Equal(t, clients[1].playerID, changed.NewOwnerID)
	assert.Equal(t, "Bob", changed.NewOwnerName)

	list := requireMsg[PlayerListMessage](t, msgs)
	assert.Equal(t, clients[1].playerID, list.OwnerID)
}

func TestLeaveRoomMissingRoomIsSilent(t *testing.T) {
	h := newTestHub()
	c := addClient(h, "conn-1")

	h.handleLeave(c, ClientMessage{Type: "leave-room", RoomID: "ZZZZ"})

	assert.Empty(t, drain(c))
}

func TestOwnerDisconnectTransfersOwnership(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice", "Bob")

	h.handleDisconnect(clients[0])

	msgs := drain(clients[1])
	changed := requireMsg[OwnerChangedMessage](t, msgs)
	assert.Equal(t, clients[1].playerID, changed.NewOwnerID)

	list := requireMsg[PlayerListMessage](t, msgs)
	require.Len(t, list.Players, 1)
	assert.Equal(t, clients[1].playerID, list.OwnerID)

	room, ok := h.store.GetRoom(code)
	require.True(t, ok)
	assert.Equal(t, clients[1].playerID, room.OwnerID)
	assert.NotContains(t, h.byID, clients[0].playerID)
}

func TestDisconnectLastPlayerDestroysRoom(t *testing.T) {
	h := newTestHub()
	clients, code := setupRoom(t, h, "Alice")

	h.handleDisconnect(clients[0])

	_, ok := h.store.GetRoom(code)
	assert.False(t, ok)
	assert.Empty(t, h.clients)
}

func TestDisconnectUnknownPlayerIsNoop(t *testing.T) {
	h := newTestHub()
	setupRoom(t, h, "Alice")

	h.handleDisconnect(&Client{send: make(chan any, 1), playerID: "conn-9"})
}
