package games

// Each player joins a room identified by a short shareable code
// One round deals a secret word to every player except one: the impostor
// The impostor only learns that they are the impostor, never the word
// Players describe the word out loud without saying it, then vote on who seems lost
// Voting repeats until the impostor is caught or only one active player remains
// The room owner (first player, reassigned on departure) starts and advances rounds

// Display formats:
// Lobby list of player names, with the owner marked
// During a round, a card showing either the word or "you are the impostor"
// Vote buttons per active player, plus an abstain button

// Implementation details:
// - One websocket endpoint for all rooms; the server routes by room code
// - A fresh connection id per socket, so reconnects rejoin as a new player
// - Abstaining counts as having voted, so a table of abstainers still resolves

// How to play
// - One player creates a room and shares the code (or the QR link)
// - Everyone else joins with the code and picks a display name
// - The owner starts the round once at least two players are in
// - Talk, vote, repeat; start the next round whenever the table is ready
