// Package movelog implements the Replicated Move Log (spec §4.2): a
// multi-writer, eventually-consistent, crash-safe, append-only log whose
// view linearizes every writer's entries into one deterministic sequence.
package movelog

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
)

// Hooks bundles the callbacks a Log caller supplies at Open.
type Hooks struct {
	// Open is invoked once, synchronously, with whatever entries were
	// recovered from disk before the Log accepts new appends.
	Open func(recovered []Entry, view *View)
	// Apply fires once per batch of newly linearized entries. A batch may
	// resort earlier entries into view when a catching-up writer's history
	// arrives; Apply must be idempotent over (WriterID, WriterIndex) (spec
	// §5).
	Apply func(batch []Entry, view *View)
}

// Log is the per-game replicated move log.
type Log struct {
	mu          sync.Mutex
	dir         string
	localWriter identity.WriterID
	maxSegBytes int64

	stores map[identity.WriterID]*writerStore
	index  *writerIndex
	all    []Entry
	view   *View
	hooks  Hooks
	lock   *gameLock
}

// Open constructs a Log rooted at storageDir, authorizing localWriter as
// the participant able to Append. Any previously-seen writers and their
// on-disk entries are recovered and linearized before Open returns (spec
// §4.2 "readers tolerate torn writes ... on open"). Open takes an exclusive
// cross-process lock on storageDir first, so a second process pointed at
// the same game directory fails fast instead of racing this one.
func Open(storageDir string, localWriter identity.WriterID, hooks Hooks) (*Log, error) {
	if err := os.MkdirAll(storageDir, 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	lock, err := acquireGameLock(storageDir)
	if err != nil {
		return nil, err
	}

	idx, err := openWriterIndex(storageDir)
	if err != nil {
		lock.release()
		return nil, err
	}
	if err := idx.authorize(localWriter); err != nil {
		lock.release()
		return nil, err
	}

	l := &Log{
		dir:         storageDir,
		localWriter: localWriter,
		maxSegBytes: defaultMaxSegmentBytes,
		stores:      make(map[identity.WriterID]*writerStore),
		index:       idx,
		view:        &View{},
		hooks:       hooks,
		lock:        lock,
	}

	for _, w := range idx.writers() {
		store, recovered, err := openWriterStore(storageDir, w, l.maxSegBytes)
		if err != nil {
			lock.release()
			return nil, err
		}
		l.stores[w] = store
		l.all = append(l.all, recovered...)
	}
	l.rebuildView()
	if hooks.Open != nil {
		hooks.Open(append([]Entry(nil), l.all...), l.view)
	}
	return l, nil
}

// LocalWriter returns the identity this Log appends under.
func (l *Log) LocalWriter() identity.WriterID { return l.localWriter }

// View returns the current linearized view. The returned pointer is stable
// across the Log's lifetime; its contents change only while l.mu is held,
// so callers should treat a snapshot via View.Entries() as immutable.
func (l *Log) View() *View { return l.view }

// AddWriter authorizes a new log contributor whose entries will be merged
// into the linearization once they arrive (spec §4.2).
func (l *Log) AddWriter(writerID identity.WriterID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.index.authorize(writerID); err != nil {
		return err
	}
	if _, exists := l.stores[writerID]; exists {
		return nil
	}
	store, recovered, err := openWriterStore(l.dir, writerID, l.maxSegBytes)
	if err != nil {
		return err
	}
	l.stores[writerID] = store
	if len(recovered) > 0 {
		l.all = append(l.all, recovered...)
		l.rebuildView()
		if l.hooks.Apply != nil {
			l.hooks.Apply(recovered, l.view)
		}
	}
	return nil
}

// Append stages move on the local writer, assigning it the next monotonic
// per-writer index, and fires Apply with the resulting batch (spec §4.2,
// §5 "a local append is visible in the local view before the append future
// resolves").
func (l *Log) Append(move Move) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	store, ok := l.stores[l.localWriter]
	if !ok {
		return Entry{}, chesserr.New(chesserr.LogConflict, "local writer not authorized", nil)
	}
	entry, err := store.append(move)
	if err != nil {
		return Entry{}, fmt.Errorf("append local entry: %w", err)
	}
	if err := l.index.setCommitted(l.localWriter, store.nextIndex); err != nil {
		return Entry{}, err
	}
	l.all = append(l.all, entry)
	l.rebuildView()
	if l.hooks.Apply != nil {
		l.hooks.Apply([]Entry{entry}, l.view)
	}
	return entry, nil
}

// IngestBatch merges pre-indexed entries received from replication
// (typically over a Swarm channel) into the log, rejecting entries from an
// unauthorized writer with LogConflict, silently skipping entries whose
// WriterIndex it already holds, and returning the writer store's error for
// an entry that does not continue the writer's sequence.
func (l *Log) IngestBatch(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	accepted := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		store, ok := l.stores[entry.WriterID]
		if !ok {
			return chesserr.New(chesserr.LogConflict, fmt.Sprintf("writer %s is not authorized", entry.WriterID), nil)
		}
		if entry.WriterIndex < store.nextIndex {
			// Already have this entry (duplicate delivery); idempotent skip.
			continue
		}
		if err := store.ingest(entry); err != nil {
			return err
		}
		if err := l.index.setCommitted(entry.WriterID, store.nextIndex); err != nil {
			return err
		}
		accepted = append(accepted, entry)
	}
	if len(accepted) == 0 {
		return nil
	}
	l.all = append(l.all, accepted...)
	l.rebuildView()
	if l.hooks.Apply != nil {
		l.hooks.Apply(accepted, l.view)
	}
	return nil
}

// Close releases the underlying segment file handles.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, store := range l.stores {
		if err := store.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := l.lock.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (l *Log) rebuildView() {
	sorted := append([]Entry(nil), l.all...)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	l.view.replace(sorted)
}

// less implements the linearization tie-break rule (spec §3): timestamp
// ascending, ties broken by WriterID byte-lexicographic order.
func less(a, b Entry) bool {
	if a.Move.Timestamp != b.Move.Timestamp {
		return a.Move.Timestamp < b.Move.Timestamp
	}
	if a.WriterID != b.WriterID {
		return a.WriterID.Less(b.WriterID)
	}
	return a.WriterIndex < b.WriterIndex
}

// View is the linearized, read-only sequence of all entries the Log has
// observed (spec §3: "view.length is the current committed length").
type View struct {
	mu      sync.RWMutex
	entries []Entry
}

func (v *View) replace(entries []Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = entries
}

// Get returns the i-th linearized entry.
func (v *View) Get(i int) (Entry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if i < 0 || i >= len(v.entries) {
		return Entry{}, false
	}
	return v.entries[i], true
}

// Length returns the committed linearized count.
func (v *View) Length() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Entries returns a defensive copy of the full linearized sequence.
func (v *View) Entries() []Entry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}
