package movelog

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
)

const indexFileName = "writers.json"

// writerIndexRecord is the persisted shape of one authorized writer.
type writerIndexRecord struct {
	WriterID        string `json:"writerId"`
	CommittedLength uint64 `json:"committedLength"`
}

type writerIndexFile struct {
	Version int                 `json:"version"`
	Writers []writerIndexRecord `json:"writers"`
}

// writerIndex tracks authorized writer public keys and each writer's
// committed (flushed-to-disk) length, persisted alongside the segment
// files (spec §4.2: "a separate file records authorized writer public keys
// and per-writer committed lengths"). Writes are atomic: temp file + rename,
// grounded in the teacher's StateSnapshotter.Flush() pattern.
type writerIndex struct {
	path string

	mu      sync.Mutex
	lengths map[identity.WriterID]uint64
	order   []identity.WriterID
}

func openWriterIndex(dir string) (*writerIndex, error) {
	path := filepath.Join(dir, indexFileName)
	idx := &writerIndex{path: path, lengths: make(map[identity.WriterID]uint64)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read writer index: %w", err)
	}
	var decoded writerIndexFile
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode writer index: %w", err)
	}
	for _, rec := range decoded.Writers {
		var w identity.WriterID
		raw, err := hex.DecodeString(rec.WriterID)
		if err != nil || len(raw) != len(w) {
			continue
		}
		copy(w[:], raw)
		idx.lengths[w] = rec.CommittedLength
		idx.order = append(idx.order, w)
	}
	return idx, nil
}

// authorize ensures writerID is tracked, leaving its committed length
// untouched if already present.
func (idx *writerIndex) authorize(writerID identity.WriterID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.lengths[writerID]; ok {
		return nil
	}
	idx.lengths[writerID] = 0
	idx.order = append(idx.order, writerID)
	return idx.flushLocked()
}

// isAuthorized reports whether writerID has been added via authorize.
func (idx *writerIndex) isAuthorized(writerID identity.WriterID) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.lengths[writerID]
	return ok
}

// setCommitted records writerID's committed length after a successful
// append/ingest.
func (idx *writerIndex) setCommitted(writerID identity.WriterID, length uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.lengths[writerID] = length
	return idx.flushLocked()
}

// writers returns the authorized writer ids in insertion order.
func (idx *writerIndex) writers() []identity.WriterID {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]identity.WriterID, len(idx.order))
	copy(out, idx.order)
	return out
}

func (idx *writerIndex) flushLocked() error {
	doc := writerIndexFile{Version: 1}
	for _, w := range idx.order {
		doc.Writers = append(doc.Writers, writerIndexRecord{WriterID: w.String(), CommittedLength: idx.lengths[w]})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode writer index: %w", err)
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write writer index temp file: %w", err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		return fmt.Errorf("rename writer index: %w", err)
	}
	return nil
}
