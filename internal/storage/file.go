package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "lightd/pkg/logx"
)

// compactEvery is the number of bus journal appends between compactions.
const compactEvery = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.events.jsonl      (append-only JSON Lines)
//   - <prefix>.buses.snapshot.json (periodic snapshot)
//   - <prefix>.buses.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	eventFile *os.File

	busSnapshotPath string
	busJournalFile  *os.File
	buses           map[uint32]uint32

	busWrites int
}

type busRecord struct {
	ID    uint32 `json:"id"`
	Value uint32 `json:"value"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	eventPath := prefix + ".events.jsonl"
	snapPath := prefix + ".buses.snapshot.json"
	journalPath := prefix + ".buses.journal.jsonl"

	ef, err := os.OpenFile(eventPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	buses := map[uint32]uint32{}
	if err := loadBusSnapshot(snapPath, buses); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("bus snapshot unreadable", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayBusJournal(journalPath, buses); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("bus journal unreadable", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}

	return &fileStore{
		log:             log,
		eventFile:       ef,
		busSnapshotPath: snapPath,
		busJournalFile:  jf,
		buses:           buses,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2, err3 error
	if s.busJournalFile != nil {
		err1 = s.compactLocked()
		err2 = s.busJournalFile.Close()
		s.busJournalFile = nil
	}
	if s.eventFile != nil {
		err3 = s.eventFile.Close()
		s.eventFile = nil
	}
	return errors.Join(err1, err2, err3)
}

func (s *fileStore) AppendEvent(ctx context.Context, e EventEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventFile == nil {
		return errors.New("event file closed")
	}
	return json.NewEncoder(s.eventFile).Encode(e)
}

func (s *fileStore) PutBusValue(ctx context.Context, id uint32, value uint32) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busJournalFile == nil {
		return errors.New("bus journal closed")
	}
	if v, ok := s.buses[id]; ok && v == value {
		return nil
	}
	s.buses[id] = value

	if err := json.NewEncoder(s.busJournalFile).Encode(busRecord{ID: id, Value: value}); err != nil {
		return err
	}
	s.busWrites++
	if s.busWrites%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("bus journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) BusValues(ctx context.Context) (map[uint32]uint32, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint32]uint32, len(s.buses))
	for k, v := range s.buses {
		out[k] = v
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.busSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	recs := make([]busRecord, 0, len(s.buses))
	for id, v := range s.buses {
		recs = append(recs, busRecord{ID: id, Value: v})
	}
	if err := json.NewEncoder(f).Encode(recs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.busSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.busJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.busJournalFile.Seek(0, 2)
	return err
}

func loadBusSnapshot(path string, out map[uint32]uint32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var recs []busRecord
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return err
	}
	for _, r := range recs {
		out[r.ID] = r.Value
	}
	return nil
}

func replayBusJournal(path string, out map[uint32]uint32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r busRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		out[r.ID] = r.Value
	}
	return s.Err()
}
