package movelog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
)

// Entry is one move record as it lives in the replicated log: the move
// itself plus the writer-local bookkeeping needed for linearization.
type Entry struct {
	WriterID    identity.WriterID
	WriterIndex uint64 // monotonic per-writer sequence number, 0-based
	Move        Move
}

// Move mirrors the spec §3 move record. Fields use a fixed encoding order
// so the binary codec is shared by all peers by construction (spec §4.2):
// uint64 timestamp, uint8 color, length-prefixed strings (from, to, piece,
// captured, promotion, fen, san), two bools (check, checkmate), then a
// length-prefixed gameID string.
type Move struct {
	Timestamp int64
	Player    Color
	From      string
	To        string
	Piece     string
	Captured  string // empty string means absent
	Promotion string // empty string means absent
	FEN       string
	SAN       string
	Check     bool
	Checkmate bool
	GameID    string
}

// Color is the per-move player color.
type Color uint8

const (
	ColorWhite Color = iota
	ColorBlack
)

func (c Color) String() string {
	if c == ColorBlack {
		return "black"
	}
	return "white"
}

// ParseColor maps "white"/"black" to a Color.
func ParseColor(s string) (Color, error) {
	switch s {
	case "white":
		return ColorWhite, nil
	case "black":
		return ColorBlack, nil
	default:
		return 0, fmt.Errorf("unknown player color %q", s)
	}
}

// EncodeMove serializes m into the fixed binary layout described above.
func EncodeMove(m Move) []byte {
	var buf bytes.Buffer
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(m.Timestamp))
	buf.Write(tsBuf[:])
	buf.WriteByte(byte(m.Player))
	writeString(&buf, m.From)
	writeString(&buf, m.To)
	writeString(&buf, m.Piece)
	writeString(&buf, m.Captured)
	writeString(&buf, m.Promotion)
	writeString(&buf, m.FEN)
	writeString(&buf, m.SAN)
	writeBool(&buf, m.Check)
	writeBool(&buf, m.Checkmate)
	writeString(&buf, m.GameID)
	return buf.Bytes()
}

// DecodeMove deserializes the fixed binary layout produced by EncodeMove.
// A truncated or otherwise malformed buffer returns an error rather than
// panicking, so the caller (segment reader) can treat it as a torn write.
func DecodeMove(data []byte) (Move, error) {
	r := bytes.NewReader(data)
	var m Move

	var tsBuf [8]byte
	if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
		return Move{}, fmt.Errorf("decode timestamp: %w", err)
	}
	m.Timestamp = int64(binary.LittleEndian.Uint64(tsBuf[:]))

	colorByte, err := r.ReadByte()
	if err != nil {
		return Move{}, fmt.Errorf("decode color: %w", err)
	}
	m.Player = Color(colorByte)

	fields := []*string{&m.From, &m.To, &m.Piece, &m.Captured, &m.Promotion, &m.FEN, &m.SAN}
	for _, f := range fields {
		s, err := readString(r)
		if err != nil {
			return Move{}, err
		}
		*f = s
	}

	check, err := readBool(r)
	if err != nil {
		return Move{}, err
	}
	m.Check = check

	checkmate, err := readBool(r)
	if err != nil {
		return Move{}, err
	}
	m.Checkmate = checkmate

	gameID, err := readString(r)
	if err != nil {
		return Move{}, err
	}
	m.GameID = gameID

	if r.Len() != 0 {
		return Move{}, fmt.Errorf("trailing bytes after decode: %d", r.Len())
	}
	return m, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", fmt.Errorf("decode string length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if int(n) > r.Len() {
		return "", fmt.Errorf("string length %d exceeds remaining buffer %d", n, r.Len())
	}
	strBuf := make([]byte, n)
	if _, err := io.ReadFull(r, strBuf); err != nil {
		return "", fmt.Errorf("decode string body: %w", err)
	}
	return string(strBuf), nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("decode bool: %w", err)
	}
	return b != 0, nil
}
