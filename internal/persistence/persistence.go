// Package persistence implements §4.6: saving and loading serialized game
// snapshots and reconnection metadata so a session can resume after a
// restart. Writes are atomic (temp file + rename), grounded in state.go's
// StateSnapshotter.Flush, and old snapshots are garbage collected LRU by
// mtime, grounded in internal/replay/cleaner.go's retention sweep. A
// snapshot evicted by GC is archived (zstd-compressed) rather than
// discarded outright, recoverable via LoadArchivedGame.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
	"github.com/sentientforest/pears-gambit-sub000/internal/session"
)

// snapshotVersion and connectionVersion are the `version` fields stamped
// into every persisted file (spec §6.4), so a future format change can be
// detected on load.
const (
	snapshotVersion   = 1
	connectionVersion = 1

	snapshotSuffix   = ".chess.json"
	connectionSuffix = ".connection.json"
	archiveSuffix    = ".chess.json.zst"
	archiveDirName   = "archive"

	// DefaultMaxSnapshots is the default retention ceiling applied by GC.
	DefaultMaxSnapshots = 10

	// DefaultMaxArchives bounds the zstd-compressed archive directory the
	// same way DefaultMaxSnapshots bounds the live snapshot directory, so
	// a long-running daemon's archive/ subdirectory doesn't grow forever.
	DefaultMaxArchives = 50
)

// ErrNotFound is returned by LoadGame/LoadConnectionInfo when no file
// exists for the requested game id.
var ErrNotFound = errors.New("persistence: not found")

// snapshotFile is the on-disk envelope around a session.Snapshot.
type snapshotFile struct {
	Version   int             `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Snapshot  session.Snapshot `json:"snapshot"`
}

// ConnectionInfo mirrors spec §3's ConnectionInfo: the minimal state needed
// to redial a game without replaying its full move history.
type ConnectionInfo struct {
	GameID      string `json:"gameId"`
	InviteCode  string `json:"inviteCode"`
	GameKey     string `json:"gameKey"`
	PlayerColor string `json:"playerColor"`
	IsHost      bool   `json:"isHost"`
}

type connectionFile struct {
	Version    int            `json:"version"`
	Timestamp  time.Time      `json:"timestamp"`
	Connection ConnectionInfo `json:"connection"`
}

// Store persists GameSnapshots and ConnectionInfo under a single state
// directory, one pair of files per game. It satisfies session.Persister.
type Store struct {
	dir          string
	maxSnapshots int
	maxArchives  int
	now          func() time.Time
	log          *logging.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithMaxSnapshots overrides DefaultMaxSnapshots.
func WithMaxSnapshots(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSnapshots = n
		}
	}
}

// WithMaxArchives overrides DefaultMaxArchives.
func WithMaxArchives(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxArchives = n
		}
	}
}

// WithClock overrides the time source; used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the logger used for GC warnings.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.log = logger
		}
	}
}

// NewStore constructs a Store rooted at dir, creating it if necessary.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, chesserr.New(chesserr.StateViolation, "persistence store requires a directory", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	s := &Store{
		dir:          dir,
		maxSnapshots: DefaultMaxSnapshots,
		maxArchives:  DefaultMaxArchives,
		now:          time.Now,
		log:          logging.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// sanitize maps an arbitrary game id to a filesystem-safe base name. GameIDs
// are already lowercase hex (see internal/gameid), but invite-derived or
// user-supplied ids are sanitized defensively rather than trusted verbatim.
func sanitize(gameID string) string {
	return unsafeNameChars.ReplaceAllString(gameID, "_")
}

func (s *Store) snapshotPath(gameID string) string {
	return filepath.Join(s.dir, sanitize(gameID)+snapshotSuffix)
}

func (s *Store) archivePath(gameID string) string {
	return filepath.Join(s.dir, archiveDirName, sanitize(gameID)+archiveSuffix)
}

func (s *Store) connectionPath(gameID string) string {
	return filepath.Join(s.dir, sanitize(gameID)+connectionSuffix)
}

// writeAtomic marshals v as indented JSON and writes it to path via a
// temp-file-then-rename, mirroring state.go's StateSnapshotter.Flush so a
// crash mid-write can never leave a torn file in place.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// SaveGame persists snapshot to <dir>/<sanitizedGameId>.chess.json and then
// sweeps the directory for snapshots beyond the retention ceiling. It
// satisfies session.Persister.
func (s *Store) SaveGame(snapshot session.Snapshot) error {
	if snapshot.GameID == "" {
		return chesserr.New(chesserr.StateViolation, "cannot save a snapshot with no game id", nil)
	}
	file := snapshotFile{Version: snapshotVersion, Timestamp: s.now().UTC(), Snapshot: snapshot}
	if err := writeAtomic(s.snapshotPath(snapshot.GameID), file); err != nil {
		return fmt.Errorf("save game %s: %w", snapshot.GameID, err)
	}
	s.gcSnapshots()
	return nil
}

// LoadGame reads back the snapshot saved for gameID, or ErrNotFound if none
// exists.
func (s *Store) LoadGame(gameID string) (session.Snapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(gameID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return session.Snapshot{}, ErrNotFound
		}
		return session.Snapshot{}, fmt.Errorf("load game %s: %w", gameID, err)
	}
	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return session.Snapshot{}, chesserr.New(chesserr.LogCorruption, fmt.Sprintf("malformed snapshot for game %s", gameID), err)
	}
	return file.Snapshot, nil
}

// SaveConnectionInfo persists info to <dir>/<sanitizedGameId>.connection.json.
func (s *Store) SaveConnectionInfo(info ConnectionInfo) error {
	if info.GameID == "" {
		return chesserr.New(chesserr.StateViolation, "cannot save connection info with no game id", nil)
	}
	file := connectionFile{Version: connectionVersion, Timestamp: s.now().UTC(), Connection: info}
	if err := writeAtomic(s.connectionPath(info.GameID), file); err != nil {
		return fmt.Errorf("save connection info %s: %w", info.GameID, err)
	}
	return nil
}

// LoadConnectionInfo reads back the ConnectionInfo saved for gameID, or
// ErrNotFound if none exists.
func (s *Store) LoadConnectionInfo(gameID string) (ConnectionInfo, error) {
	data, err := os.ReadFile(s.connectionPath(gameID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ConnectionInfo{}, ErrNotFound
		}
		return ConnectionInfo{}, fmt.Errorf("load connection info %s: %w", gameID, err)
	}
	var file connectionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return ConnectionInfo{}, chesserr.New(chesserr.LogCorruption, fmt.Sprintf("malformed connection info for game %s", gameID), err)
	}
	return file.Connection, nil
}

// SavedGame summarizes one saved game for listing purposes (spec §6.5
// ListSavedGames).
type SavedGame struct {
	GameID    string
	ModTime   time.Time
	IsGameOver bool
	Result    string
}

// ListSavedGames returns every snapshot under the store directory, newest
// first, without the full move history (only what a resume picker needs).
func (s *Store) ListSavedGames() ([]SavedGame, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list saved games: %w", err)
	}
	games := make([]SavedGame, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.log.Warn("persistence list stat failed", logging.Error(err), logging.String("file", entry.Name()))
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.log.Warn("persistence list read failed", logging.Error(err), logging.String("file", entry.Name()))
			continue
		}
		var file snapshotFile
		if err := json.Unmarshal(data, &file); err != nil {
			s.log.Warn("persistence list skipping corrupt snapshot", logging.Error(err), logging.String("file", entry.Name()))
			continue
		}
		games = append(games, SavedGame{
			GameID:     file.Snapshot.GameID,
			ModTime:    info.ModTime(),
			IsGameOver: file.Snapshot.IsGameOver,
			Result:     file.Snapshot.Result,
		})
	}
	sort.Slice(games, func(i, j int) bool { return games[i].ModTime.After(games[j].ModTime) })
	return games, nil
}

// gcSnapshots keeps at most maxSnapshots snapshot files, evicting the
// oldest by mtime first (spec §4.6), mirroring internal/replay/cleaner.go's
// newest-first sort followed by a trailing-count cutoff. Evicted snapshots
// are not simply deleted: each is zstd-compressed into archive/ first, so a
// game pushed out of the live retention window can still be recovered (at
// the cost of a decompress) rather than lost outright.
func (s *Store) gcSnapshots() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("persistence gc scan failed", logging.Error(err), logging.String("directory", s.dir))
		return
	}
	type fileInfo struct {
		path    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(s.dir, entry.Name()), modTime: info.ModTime()})
	}
	if len(files) <= s.maxSnapshots {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	for _, f := range files[s.maxSnapshots:] {
		if err := s.archiveSnapshot(f.path); err != nil {
			s.log.Warn("persistence gc archive failed", logging.Error(err), logging.String("file", f.path))
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("persistence gc removal failed", logging.Error(err), logging.String("file", f.path))
		}
	}
	s.gcArchives()
}

// archiveSnapshot compresses path into archive/<name>.zst, creating the
// archive directory on first use.
func (s *Store) archiveSnapshot(path string) error {
	dir := filepath.Join(s.dir, archiveDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot for archival: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("construct zstd encoder: %w", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw, nil)

	base := strings.TrimSuffix(filepath.Base(path), snapshotSuffix)
	dest := filepath.Join(dir, base+archiveSuffix)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("write archive temp file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("rename archive file: %w", err)
	}
	return nil
}

// gcArchives caps the archive directory at maxArchives files, oldest first,
// the same retention shape gcSnapshots applies to the live directory.
func (s *Store) gcArchives() {
	dir := filepath.Join(s.dir, archiveDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("persistence archive gc scan failed", logging.Error(err), logging.String("directory", dir))
		}
		return
	}
	type fileInfo struct {
		path    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), archiveSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}
	if len(files) <= s.maxArchives {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	for _, f := range files[s.maxArchives:] {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("persistence archive gc removal failed", logging.Error(err), logging.String("file", f.path))
		}
	}
}

// LoadArchivedGame decompresses and decodes a game snapshot that gcSnapshots
// had previously evicted from the live snapshot directory into archive/.
func (s *Store) LoadArchivedGame(gameID string) (session.Snapshot, error) {
	path := s.archivePath(gameID)
	compressed, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return session.Snapshot{}, ErrNotFound
		}
		return session.Snapshot{}, fmt.Errorf("read archived snapshot: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("construct zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("decompress archived snapshot: %w", err)
	}
	var file snapshotFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return session.Snapshot{}, fmt.Errorf("decode archived snapshot: %w", err)
	}
	return file.Snapshot, nil
}
