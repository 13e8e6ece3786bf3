package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tkingovr/iochain/api"
)

const defaultMaxRecords = 10000

// JSONLStore is an append-only JSONL file store with date-based rotation.
type JSONLStore struct {
	mu          sync.Mutex
	dir         string
	currentDate string
	file        *os.File
	writer      *bufio.Writer
	closed      bool

	// In-memory buffer for queries and stats (bounded)
	records []*api.EventRecord
	maxMem  int

	subMu   sync.RWMutex
	subs    map[int]chan *api.EventRecord
	nextSub int
	dropped atomic.Uint64

	replay bool
}

// Option configures a JSONLStore.
type Option func(*JSONLStore)

// WithMaxRecords bounds the number of records kept in memory for queries.
func WithMaxRecords(n int) Option {
	return func(s *JSONLStore) {
		if n > 0 {
			s.maxMem = n
		}
	}
}

// WithReplay loads the newest records already on disk into memory when the
// store opens, so queries and stats cover earlier runs.
func WithReplay() Option {
	return func(s *JSONLStore) { s.replay = true }
}

// NewJSONLStore creates a new JSONL store writing to the given directory.
func NewJSONLStore(dir string, opts ...Option) (*JSONLStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	s := &JSONLStore{
		dir:    dir,
		maxMem: defaultMaxRecords,
		subs:   make(map[int]chan *api.EventRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.replay {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// load reads the day files newest first until the in-memory buffer is
// full. Lines that do not decode are skipped.
func (s *JSONLStore) load() error {
	names, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("listing audit log files: %w", err)
	}
	slices.Sort(names)

	var loaded []*api.EventRecord
	for i := len(names) - 1; i >= 0 && len(loaded) < s.maxMem; i-- {
		day, err := readRecords(names[i])
		if err != nil {
			return err
		}
		loaded = append(day, loaded...)
	}
	if len(loaded) > s.maxMem {
		loaded = loaded[len(loaded)-s.maxMem:]
	}
	s.records = loaded
	return nil
}

func readRecords(path string) ([]*api.EventRecord, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from globbing the store directory
	if err != nil {
		return nil, fmt.Errorf("opening audit log file: %w", err)
	}
	defer f.Close()

	var records []*api.EventRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r api.EventRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}
		records = append(records, &r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

func (s *JSONLStore) Write(_ context.Context, record *api.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit store closed")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	dateStr := record.Timestamp.Format("2006-01-02")
	if dateStr != s.currentDate {
		if err := s.rotate(dateStr); err != nil {
			return err
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling event record: %w", err)
	}
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}

	if len(s.records) >= s.maxMem {
		s.records = s.records[1:]
	}
	s.records = append(s.records, record)

	s.notifySubscribers(record)
	return nil
}

func (s *JSONLStore) Query(_ context.Context, filter api.QueryFilter) ([]*api.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*api.EventRecord
	for _, r := range s.records {
		if matchesFilter(r, filter) {
			results = append(results, r)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(results) {
			return nil, nil
		}
		results = results[filter.Offset:]
	}
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

func (s *JSONLStore) Stats(_ context.Context) (*api.AuditStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &api.AuditStats{
		ByKind:      make(map[api.EventKind]int),
		ByDirection: make(map[api.Direction]int),
		ByVerdict:   make(map[api.Verdict]int),
	}
	sessions := make(map[string]struct{})

	for _, r := range s.records {
		stats.TotalEvents++
		stats.Bytes += int64(r.Size)
		stats.ByKind[r.Kind]++
		stats.ByDirection[r.Direction]++
		if r.Verdict != "" {
			stats.ByVerdict[r.Verdict]++
		}
		if r.Error != "" {
			stats.Errors++
		}
		if r.SessionID != "" {
			sessions[r.SessionID] = struct{}{}
		}
	}
	stats.Sessions = len(sessions)
	return stats, nil
}

func (s *JSONLStore) Subscribe(_ context.Context) (<-chan *api.EventRecord, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ch := make(chan *api.EventRecord, 100)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Dropped returns how many records slow subscribers have missed.
func (s *JSONLStore) Dropped() uint64 { return s.dropped.Load() }

func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func (s *JSONLStore) rotate(dateStr string) error {
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return err
		}
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return err
		}
	}

	path := filepath.Join(s.dir, dateStr+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("opening audit log file: %w", err)
	}

	s.file = f
	s.writer = bufio.NewWriter(f)
	s.currentDate = dateStr
	return nil
}

func (s *JSONLStore) notifySubscribers(record *api.EventRecord) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, ch := range s.subs {
		select {
		case ch <- record:
		default:
			// Slow subscribers miss records rather than stall writers.
			s.dropped.Add(1)
		}
	}
}

func matchesFilter(r *api.EventRecord, f api.QueryFilter) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.Direction != "" && r.Direction != f.Direction {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Verdict != "" && r.Verdict != f.Verdict {
		return false
	}
	return true
}
