package filter

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Entry is a named filter as it sits in a builder or chain.
type Entry struct {
	Name   string
	Filter Filter
}

// version is one immutable state of an ordered entry sequence.
type version struct {
	gen     uint64
	entries []Entry
	index   map[string]int
}

var emptyVersion = &version{index: map[string]int{}}

func newVersion(gen uint64, entries []Entry) *version {
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.Name] = i
	}
	return &version{gen: gen, entries: entries, index: index}
}

func (v *version) lookup(name string) (Entry, bool) {
	i, ok := v.index[name]
	if !ok {
		return Entry{}, false
	}
	return v.entries[i], true
}

func (v *version) find(f Filter) (int, bool) {
	for i, e := range v.entries {
		if sameFilter(e.Filter, f) {
			return i, true
		}
	}
	return -1, false
}

// locator picks an insertion point in v.
type locator func(v *version) (int, error)

func atHead(*version) (int, error) { return 0, nil }

func atTail(v *version) (int, error) { return len(v.entries), nil }

func before(base string) locator {
	return func(v *version) (int, error) {
		i, ok := v.index[base]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrBaseNotFound, base)
		}
		return i, nil
	}
}

func after(base string) locator {
	return func(v *version) (int, error) {
		i, ok := v.index[base]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrBaseNotFound, base)
		}
		return i + 1, nil
	}
}

// selector picks an existing entry in v.
type selector func(v *version) (int, error)

func byName(name string) selector {
	return func(v *version) (int, error) {
		i, ok := v.index[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return i, nil
	}
}

func byFilter(f Filter) selector {
	return func(v *version) (int, error) {
		i, ok := v.find(f)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, Describe(f))
		}
		return i, nil
	}
}

// byEntry matches name only while it still refers to f.
func byEntry(name string, f Filter) selector {
	return func(v *version) (int, error) {
		i, ok := v.index[name]
		if !ok || !sameFilter(v.entries[i].Filter, f) {
			return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return i, nil
	}
}

// sequence is a copy-on-write ordered list of uniquely named entries.
// Readers load the current version without locking and never observe a
// partially applied mutation; writers serialise on mu and publish a fresh
// version with one atomic store.
type sequence struct {
	mu     sync.Mutex
	sealed bool
	cur    atomic.Pointer[version]
}

func (s *sequence) load() *version {
	if v := s.cur.Load(); v != nil {
		return v
	}
	return emptyVersion
}

// Get returns the filter registered under name.
func (s *sequence) Get(name string) (Filter, bool) {
	e, ok := s.load().lookup(name)
	return e.Filter, ok
}

// Entry returns the entry registered under name.
func (s *sequence) Entry(name string) (Entry, bool) {
	return s.load().lookup(name)
}

// EntryOf returns the first entry holding f.
func (s *sequence) EntryOf(f Filter) (Entry, bool) {
	v := s.load()
	i, ok := v.find(f)
	if !ok {
		return Entry{}, false
	}
	return v.entries[i], true
}

// Contains reports whether an entry named name exists.
func (s *sequence) Contains(name string) bool {
	_, ok := s.load().index[name]
	return ok
}

// ContainsFilter reports whether f is linked under any name.
func (s *sequence) ContainsFilter(f Filter) bool {
	_, ok := s.load().find(f)
	return ok
}

// Entries returns the entries in head to tail order.
func (s *sequence) Entries() []Entry {
	return slices.Clone(s.load().entries)
}

// Names returns the entry names in head to tail order.
func (s *sequence) Names() []string {
	v := s.load()
	names := make([]string, len(v.entries))
	for i, e := range v.entries {
		names[i] = e.Name
	}
	return names
}

// Len returns the number of entries.
func (s *sequence) Len() int {
	return len(s.load().entries)
}

// Version returns a counter that grows with every successful mutation.
func (s *sequence) Version() uint64 {
	return s.load().gen
}

func (s *sequence) String() string {
	v := s.load()
	if len(v.entries) == 0 {
		return "{ empty }"
	}
	var b strings.Builder
	b.WriteString("{ ")
	for i, e := range v.entries {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "(%s:%s)", e.Name, Describe(e.Filter))
	}
	b.WriteString(" }")
	return b.String()
}

func (s *sequence) insert(name string, f Filter, at locator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrChainClosed
	}

	v := s.load()
	if _, dup := v.index[name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	i, err := at(v)
	if err != nil {
		return err
	}

	entries := make([]Entry, 0, len(v.entries)+1)
	entries = append(entries, v.entries[:i]...)
	entries = append(entries, Entry{Name: name, Filter: f})
	entries = append(entries, v.entries[i:]...)
	s.cur.Store(newVersion(v.gen+1, entries))
	return nil
}

func (s *sequence) remove(sel selector) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return Entry{}, ErrChainClosed
	}

	v := s.load()
	i, err := sel(v)
	if err != nil {
		return Entry{}, err
	}
	removed := v.entries[i]
	s.cur.Store(newVersion(v.gen+1, slices.Delete(slices.Clone(v.entries), i, i+1)))
	return removed, nil
}

func (s *sequence) replace(name string, f Filter) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return Entry{}, ErrChainClosed
	}

	v := s.load()
	i, ok := v.index[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	old := v.entries[i]
	entries := slices.Clone(v.entries)
	entries[i] = Entry{Name: name, Filter: f}
	s.cur.Store(newVersion(v.gen+1, entries))
	return old, nil
}

// set publishes entries as the whole sequence.
func (s *sequence) set(entries []Entry) error {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := checkEntry(e.Name, e.Filter); err != nil {
			return err
		}
		if seen[e.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, e.Name)
		}
		seen[e.Name] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrChainClosed
	}
	s.cur.Store(newVersion(s.load().gen+1, slices.Clone(entries)))
	return nil
}

// clear empties the sequence and returns what it held. With seal set the
// sequence rejects every later mutation.
func (s *sequence) clear(seal bool) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return nil
	}
	s.sealed = seal

	v := s.load()
	if len(v.entries) > 0 || seal {
		s.cur.Store(newVersion(v.gen+1, nil))
	}
	return v.entries
}

func checkEntry(name string, f Filter) error {
	if name == "" {
		return fmt.Errorf("%w: empty filter name", ErrInvalidArgument)
	}
	if f == nil {
		return fmt.Errorf("%w: nil filter for %q", ErrInvalidArgument, name)
	}
	return nil
}

func checkBase(base string) error {
	if base == "" {
		return fmt.Errorf("%w: empty base name", ErrInvalidArgument)
	}
	return nil
}
