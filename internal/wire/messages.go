// Package wire defines the peer message schema (spec §6.3) and the
// newline-delimited JSON frame codec used to carry it over a swarm channel.
package wire

import "encoding/json"

// Type discriminates the JSON message variants exchanged between peers.
type Type string

const (
	TypeHandshake          Type = "handshake"
	TypeSpectatorHandshake Type = "spectator_handshake"
	TypeMove               Type = "move"
	TypeGameStateRequest   Type = "game_state_request"
	TypeGameStateResponse  Type = "game_state_response"
	TypeFullGameSync       Type = "full_game_sync"
	TypeSyncComplete       Type = "sync_complete"
	TypeGameEnd            Type = "game_end"
)

// Envelope is the minimal shape every message satisfies, used to peek the
// discriminator before unmarshaling into a concrete payload. Modeled on
// intent.go's decode-then-validate idiom: decode the envelope cheaply, then
// decode the full payload once the type is known.
type Envelope struct {
	Type Type `json:"type"`
}

// Handshake is sent on every new connect (spec §4.3).
type Handshake struct {
	Type        Type   `json:"type"`
	GameID      string `json:"gameId"`
	PlayerColor string `json:"playerColor"`
	IsHost      bool   `json:"isHost"`
	Timestamp   int64  `json:"timestamp"`
	Signature   string `json:"signature,omitempty"`
}

// SpectatorHandshake is the read-only variant (spec §4.4).
type SpectatorHandshake struct {
	Type            Type   `json:"type"`
	GameID          string `json:"gameId"`
	InviteCode      string `json:"inviteCode"`
	RequestFullSync bool   `json:"requestFullSync"`
	Timestamp       int64  `json:"timestamp"`
}

// MoveRecord mirrors the spec §3 move record exactly for wire purposes.
type MoveRecord struct {
	Timestamp int64   `json:"timestamp"`
	Player    string  `json:"player"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Piece     string  `json:"piece"`
	Captured  *string `json:"captured,omitempty"`
	Promotion *string `json:"promotion,omitempty"`
	Check     bool    `json:"check"`
	Checkmate bool    `json:"checkmate"`
	FEN       string  `json:"fen"`
	SAN       string  `json:"san"`
	GameID    string  `json:"gameId"`
}

// MoveMsg is the live move broadcast (spec §6.3).
type MoveMsg struct {
	Type      Type       `json:"type"`
	GameID    string     `json:"gameId"`
	Move      MoveRecord `json:"move"`
	Timestamp int64      `json:"timestamp"`
}

// GameStateRequest asks a peer for history (spec §4.3 guest sync path).
type GameStateRequest struct {
	Type      Type   `json:"type"`
	GameID    string `json:"gameId"`
	Timestamp int64  `json:"timestamp"`
}

// GameStateResponse replies with every move the responder's log holds; the
// requester deduplicates what it already has.
type GameStateResponse struct {
	Type      Type         `json:"type"`
	GameID    string       `json:"gameId"`
	Moves     []MoveRecord `json:"moves"`
	GameState string       `json:"gameState"`
	Timestamp int64        `json:"timestamp"`
}

// FullGameSync is the spectator reply: the entire linearized move history
// plus the current position, sent once, never streamed (spec §4.4).
type FullGameSync struct {
	Type        Type         `json:"type"`
	GameID      string       `json:"gameId"`
	MoveHistory []MoveRecord `json:"moveHistory"`
	CurrentFEN  string       `json:"currentFen"`
	GameInfo    GameInfo     `json:"gameInfo"`
	Players     Players      `json:"players"`
}

// GameInfo carries display metadata alongside a full sync.
type GameInfo struct {
	IsGameOver bool   `json:"isGameOver"`
	Result     string `json:"result,omitempty"`
	StartTime  int64  `json:"startTime"`
}

// Players names the two participants of a game.
type Players struct {
	White string `json:"white,omitempty"`
	Black string `json:"black,omitempty"`
}

// SyncComplete marks sync as finished: the host sends it after a verified
// handshake, and a guest sends it after applying a game_state_response.
type SyncComplete struct {
	Type      Type   `json:"type"`
	GameID    string `json:"gameId"`
	Timestamp int64  `json:"timestamp"`
}

// GameEnd is sent by either peer to the other (spec §4.3 end of game).
type GameEnd struct {
	Type      Type   `json:"type"`
	GameID    string `json:"gameId"`
	Result    string `json:"result"`
	Timestamp int64  `json:"timestamp"`
}

// Decode peeks the envelope type and unmarshals into the matching concrete
// struct, returning it as an any. Unknown types return (nil, nil) per the
// spec's "unknown type values are logged and ignored" rule (§6.3) — callers
// log at the call site where a logger is in scope.
func Decode(payload []byte) (Type, any, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", nil, err
	}
	switch env.Type {
	case TypeHandshake:
		var m Handshake
		if err := json.Unmarshal(payload, &m); err != nil {
			return env.Type, nil, err
		}
		return env.Type, m, nil
	case TypeSpectatorHandshake:
		var m SpectatorHandshake
		if err := json.Unmarshal(payload, &m); err != nil {
			return env.Type, nil, err
		}
		return env.Type, m, nil
	case TypeMove:
		var m MoveMsg
		if err := json.Unmarshal(payload, &m); err != nil {
			return env.Type, nil, err
		}
		return env.Type, m, nil
	case TypeGameStateRequest:
		var m GameStateRequest
		if err := json.Unmarshal(payload, &m); err != nil {
			return env.Type, nil, err
		}
		return env.Type, m, nil
	case TypeGameStateResponse:
		var m GameStateResponse
		if err := json.Unmarshal(payload, &m); err != nil {
			return env.Type, nil, err
		}
		return env.Type, m, nil
	case TypeFullGameSync:
		var m FullGameSync
		if err := json.Unmarshal(payload, &m); err != nil {
			return env.Type, nil, err
		}
		return env.Type, m, nil
	case TypeSyncComplete:
		var m SyncComplete
		if err := json.Unmarshal(payload, &m); err != nil {
			return env.Type, nil, err
		}
		return env.Type, m, nil
	case TypeGameEnd:
		var m GameEnd
		if err := json.Unmarshal(payload, &m); err != nil {
			return env.Type, nil, err
		}
		return env.Type, m, nil
	default:
		// Unknown type: logged and ignored by the caller.
		return env.Type, nil, nil
	}
}

// Marshal encodes any of the message structs above back to a JSON line.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
