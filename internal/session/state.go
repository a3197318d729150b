// Package session implements the Game Session State Machine (spec §4.3):
// the host/guest lifecycle, move validation and broadcast, reconnection,
// and end-of-game detection that sit above the swarm transport, the
// replicated move log, and the chess-rules boundary.
package session

// State is a position in the session lifecycle (spec §4.3).
type State string

const (
	StateWaiting    State = "waiting"
	StateConnecting State = "connecting"
	StateSyncing    State = "syncing"
	StateActive     State = "active"
	StateFinished   State = "finished"
)

// Role distinguishes the game's creator from the joining participant; both
// are full players, unlike a spectator (internal/spectator).
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Color is the player color as its wire string ("white"/"black"), an alias
// of string rather than movelog.Color, so callers of this package don't
// need to import movelog for the common case.
type Color = string

const (
	ColorWhite Color = "white"
	ColorBlack Color = "black"
)
