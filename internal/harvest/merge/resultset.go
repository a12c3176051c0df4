package merge

import (
	"sync"

	"github.com/edgecomet/harvester/pkg/types"
)

// Result describes what folding one record did to the set
type Result string

const (
	ResultAdded       Result = "added"
	ResultUpdated     Result = "updated"
	ResultUnchanged   Result = "unchanged"
	ResultPassthrough Result = "passthrough"
)

// ResultSet is the running, insertion-ordered set of records for a run.
// Records sharing a key are folded into one; keyless records are kept
// as-is without deduplication.
type ResultSet struct {
	mu      sync.Mutex
	records []*types.ProductRecord
	keys    []Key
	index   map[Key]int
	now     Clock
}

// NewResultSet creates an empty set; now may be nil
func NewResultSet(now Clock) *ResultSet {
	return &ResultSet{
		index: make(map[Key]int),
		now:   now,
	}
}

// Add folds a candidate from the listing pass. A duplicate fills the
// existing record's empty fields but carries no enrichment stamp.
func (s *ResultSet) Add(rec types.ProductRecord) (Key, Result) {
	key := KeyOf(&rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	if key.IsZero() {
		s.records = append(s.records, &rec)
		s.keys = append(s.keys, key)
		return key, ResultPassthrough
	}

	if i, ok := s.index[key]; ok {
		if fill(s.records[i], &rec) {
			return key, ResultUpdated
		}
		return key, ResultUnchanged
	}

	s.index[key] = len(s.records)
	s.records = append(s.records, &rec)
	s.keys = append(s.keys, key)
	return key, ResultAdded
}

// Contains reports whether a keyed record is already in the set
func (s *ResultSet) Contains(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// Enrich merges a detail-pass record into the record stored under key.
// ok is false when no record has that key.
func (s *ResultSet) Enrich(key Key, incoming *types.ProductRecord, method types.ExtractionMethod) (result Result, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, found := s.index[key]
	if !found {
		return "", false
	}
	if MergeInto(s.records[i], incoming, method, s.now) {
		return ResultUpdated, true
	}
	return ResultUnchanged, true
}

// Get returns a copy of the record stored under key
func (s *ResultSet) Get(key Key) (types.ProductRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[key]
	if !ok {
		return types.ProductRecord{}, false
	}
	return *s.records[i].Clone(), true
}

// Len returns the number of records, keyless ones included
func (s *ResultSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Entry pairs a record copy with its key
type Entry struct {
	Key    Key
	Record types.ProductRecord
}

// Entries returns copies of all records in insertion order
func (s *ResultSet) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.records))
	for i, r := range s.records {
		out[i] = Entry{Key: s.keys[i], Record: *r.Clone()}
	}
	return out
}

// Records returns copies of all records in insertion order
func (s *ResultSet) Records() []types.ProductRecord {
	entries := s.Entries()
	out := make([]types.ProductRecord, len(entries))
	for i, e := range entries {
		out[i] = e.Record
	}
	return out
}

// Methods returns the distinct extraction methods present on the records,
// detail stamps included.
func (s *ResultSet) Methods() map[types.ExtractionMethod]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[types.ExtractionMethod]int)
	for _, r := range s.records {
		if r.ExtractionMethod != "" {
			counts[r.ExtractionMethod]++
		}
		if r.DetailExtractionMethod != "" {
			counts[r.DetailExtractionMethod]++
		}
	}
	return counts
}
