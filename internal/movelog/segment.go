package movelog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/golang/snappy"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
)

// defaultMaxSegmentBytes bounds a single writer segment file before it
// rotates to a new numbered segment, so crash recovery only has to rescan
// the tail segment instead of a writer's entire history (§4.2 supplement,
// grounded in the teacher's replay retention/rotation bookkeeping).
const defaultMaxSegmentBytes = 4 << 20

var segmentFilePattern = regexp.MustCompile(`^([0-9a-f]{64})\.(\d+)\.log$`)

// writerStore owns the on-disk segment files for a single writer, whether
// that writer is the local participant (entries assigned fresh indices by
// Append) or a remote peer whose entries arrive pre-indexed via Ingest.
type writerStore struct {
	dir          string
	writerID     identity.WriterID
	maxSegBytes  int64
	file         *os.File
	segmentIndex int
	segmentSize  int64
	nextIndex    uint64 // writer-local index the next appended/ingested entry receives
}

// openWriterStore scans dir for this writer's segment files, replays them
// (truncating a torn trailing entry in the newest segment only, per spec
// §4.2's "readers tolerate torn writes by truncating back to the last good
// entry on open"), and returns the store ready for further appends plus the
// entries recovered from disk.
func openWriterStore(dir string, writerID identity.WriterID, maxSegBytes int64) (*writerStore, []Entry, error) {
	if maxSegBytes <= 0 {
		maxSegBytes = defaultMaxSegmentBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create writer dir: %w", err)
	}
	segments, err := listSegments(dir, writerID)
	if err != nil {
		return nil, nil, err
	}

	store := &writerStore{dir: dir, writerID: writerID, maxSegBytes: maxSegBytes}
	var recovered []Entry

	for i, segIdx := range segments {
		path := segmentPath(dir, writerID, segIdx)
		isLast := i == len(segments)-1
		entries, size, err := readSegment(path, writerID, store.nextIndex, isLast)
		if err != nil {
			return nil, nil, err
		}
		recovered = append(recovered, entries...)
		store.nextIndex += uint64(len(entries))
		if isLast {
			store.segmentIndex = segIdx
			store.segmentSize = size
		}
	}

	if len(segments) == 0 {
		store.segmentIndex = 0
	}
	file, err := os.OpenFile(segmentPath(dir, writerID, store.segmentIndex), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open writer segment: %w", err)
	}
	store.file = file
	return store, recovered, nil
}

func listSegments(dir string, writerID identity.WriterID) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list writer segments: %w", err)
	}
	prefix := writerID.String()
	var indices []int
	for _, e := range entries {
		m := segmentFilePattern.FindStringSubmatch(e.Name())
		if m == nil || m[1] != prefix {
			continue
		}
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

func segmentPath(dir string, writerID identity.WriterID, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.log", writerID.String(), index))
}

// readSegment decodes every length-prefixed frame in path. When isLast is
// true, a frame that is truncated or fails to decode is treated as a torn
// write: the file is truncated back to the offset of the last good frame
// and reading stops there rather than erroring.
func readSegment(path string, writerID identity.WriterID, startIndex uint64, isLast bool) ([]Entry, int64, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("open segment %s: %w", path, err)
	}
	defer file.Close()

	var entries []Entry
	var offset int64
	index := startIndex
	for {
		var lenBuf [4]byte
		n, err := io.ReadFull(file, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			if isLast {
				break
			}
			return nil, 0, chesserr.New(chesserr.LogCorruption, fmt.Sprintf("segment %s: read frame length at %d", path, offset), err)
		}
		if n < 4 {
			break
		}
		frameLen := binary.LittleEndian.Uint32(lenBuf[:])
		payload := make([]byte, frameLen)
		if _, err := io.ReadFull(file, payload); err != nil {
			// Torn write: a length prefix was committed but the payload
			// wasn't fully flushed before a crash.
			if isLast {
				break
			}
			return nil, 0, chesserr.New(chesserr.LogCorruption, fmt.Sprintf("segment %s: read frame payload at %d", path, offset), err)
		}
		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			if isLast {
				break
			}
			return nil, 0, chesserr.New(chesserr.LogCorruption, fmt.Sprintf("segment %s: decompress frame at %d", path, offset), err)
		}
		move, err := DecodeMove(raw)
		if err != nil {
			if isLast {
				break
			}
			return nil, 0, chesserr.New(chesserr.LogCorruption, fmt.Sprintf("segment %s: decode frame at %d", path, offset), err)
		}
		var writerID2 identity.WriterID = writerID
		entries = append(entries, Entry{WriterID: writerID2, WriterIndex: index, Move: move})
		index++
		offset += int64(4 + len(payload))
	}
	if isLast {
		if err := file.Truncate(offset); err != nil {
			return nil, 0, fmt.Errorf("truncate torn segment %s: %w", path, err)
		}
	}
	return entries, offset, nil
}

// append writes move as the next entry for this writer, assigning it the
// writer-local index nextIndex, and fsyncs before returning (spec §4.2:
// "Writes are O_APPEND + fsync on commit boundaries").
func (s *writerStore) append(move Move) (Entry, error) {
	if s.segmentSize >= s.maxSegBytes {
		if err := s.rotate(); err != nil {
			return Entry{}, err
		}
	}
	frame := encodeFrame(move)
	if _, err := s.file.Write(frame); err != nil {
		return Entry{}, fmt.Errorf("append frame: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return Entry{}, fmt.Errorf("fsync segment: %w", err)
	}
	entry := Entry{WriterID: s.writerID, WriterIndex: s.nextIndex, Move: move}
	s.nextIndex++
	s.segmentSize += int64(len(frame))
	return entry, nil
}

// ingest appends a pre-indexed remote entry, verifying it is the next index
// this store expects for that writer (spec §5: a single peer channel is
// FIFO; the replication protocol is expected to deliver a writer's stream
// in order).
func (s *writerStore) ingest(entry Entry) error {
	if entry.WriterIndex != s.nextIndex {
		return chesserr.New(chesserr.LogConflict, fmt.Sprintf("out-of-order entry for writer %s: got index %d, expected %d", s.writerID, entry.WriterIndex, s.nextIndex), nil)
	}
	_, err := s.append(entry.Move)
	return err
}

func (s *writerStore) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close segment before rotate: %w", err)
	}
	s.segmentIndex++
	s.segmentSize = 0
	file, err := os.OpenFile(segmentPath(s.dir, s.writerID, s.segmentIndex), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open rotated segment: %w", err)
	}
	s.file = file
	return nil
}

func (s *writerStore) close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// encodeFrame snappy-compresses the encoded move before framing it, trading
// a small CPU cost for smaller segment files (moves compress well: FEN/SAN
// strings share long common prefixes move to move).
func encodeFrame(move Move) []byte {
	payload := snappy.Encode(nil, EncodeMove(move))
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	return frame
}
