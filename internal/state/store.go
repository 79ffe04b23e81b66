// Package state is the live state store: the authoritative mapping from tag
// id to its current position estimate.
//
// Each tag's estimate is held behind an atomic pointer and replaced as a
// whole, so readers always see a complete record and writers for different
// tags never contend on a shared lock.
package state

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"pet-tracker/internal/models"
)

type entry struct {
	cur atomic.Pointer[models.PositionEstimate]
}

// Store holds one current estimate per tag
type Store struct {
	entries sync.Map // tag id -> *entry
	count   atomic.Int64

	subMu sync.RWMutex
	subs  map[*subscriber]struct{}
}

type subscriber struct {
	ch      chan models.PositionEstimate
	dropped atomic.Uint64
}

// New creates an empty store
func New() *Store {
	return &Store{subs: make(map[*subscriber]struct{})}
}

func (s *Store) getOrCreate(tagID string) *entry {
	if e, ok := s.entries.Load(tagID); ok {
		return e.(*entry)
	}
	e, loaded := s.entries.LoadOrStore(tagID, &entry{})
	if !loaded {
		s.count.Add(1)
	}
	return e.(*entry)
}

// Update replaces the estimate for est.TagID. Last write wins.
func (s *Store) Update(est models.PositionEstimate) {
	e := s.getOrCreate(est.TagID)
	e.cur.Store(&est)
	s.notify(est)
}

// UpdateIf replaces the estimate only when keep reports true for the
// current one; keep receives nil for a tag with no estimate yet. It returns
// whether est was applied.
func (s *Store) UpdateIf(est models.PositionEstimate, keep func(current *models.PositionEstimate) bool) bool {
	e := s.getOrCreate(est.TagID)
	next := &est
	for {
		old := e.cur.Load()
		if !keep(old) {
			return false
		}
		if e.cur.CompareAndSwap(old, next) {
			s.notify(est)
			return true
		}
	}
}

// Get returns the current estimate for tagID
func (s *Store) Get(tagID string) (models.PositionEstimate, bool) {
	v, ok := s.entries.Load(tagID)
	if !ok {
		return models.PositionEstimate{}, false
	}
	p := v.(*entry).cur.Load()
	if p == nil {
		return models.PositionEstimate{}, false
	}
	return *p, true
}

// AllCurrent returns a snapshot of every estimate, sorted by tag id. Each
// element is consistent on its own; the set as a whole is not a single
// point in time.
func (s *Store) AllCurrent() []models.PositionEstimate {
	out := make([]models.PositionEstimate, 0, s.count.Load())
	s.entries.Range(func(_, v any) bool {
		if p := v.(*entry).cur.Load(); p != nil {
			out = append(out, *p)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TagID < out[j].TagID })
	return out
}

// Len returns the number of tracked tags
func (s *Store) Len() int {
	return int(s.count.Load())
}

// MarkStale degrades the estimate for tagID in place: no coordinate, no
// room, zero confidence, ComputedAt kept as the last-seen time. It is a
// no-op returning false when the tag is absent or already stale.
func (s *Store) MarkStale(tagID string, now time.Time) bool {
	return s.MarkStaleIf(tagID, now, func(models.PositionEstimate) bool { return true })
}

// MarkStaleIf is MarkStale applied only while cond holds for the current
// estimate. A concurrent Update makes the check run again against the new
// value, so a fresh estimate is never degraded by a stale decision.
func (s *Store) MarkStaleIf(tagID string, now time.Time, cond func(models.PositionEstimate) bool) bool {
	v, ok := s.entries.Load(tagID)
	if !ok {
		return false
	}
	e := v.(*entry)
	for {
		old := e.cur.Load()
		if old == nil || old.Stale || !cond(*old) {
			return false
		}
		degraded := old.Degrade(now)
		if e.cur.CompareAndSwap(old, &degraded) {
			s.notify(degraded)
			return true
		}
	}
}

// Subscribe returns a channel receiving every applied change. Sends never
// block writers: when the buffer is full the change is dropped for that
// subscriber. cancel closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan models.PositionEstimate, func()) {
	sub := &subscriber{ch: make(chan models.PositionEstimate, buffer)}

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, sub)
			close(sub.ch)
			s.subMu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Dropped returns the number of changes dropped across all current
// subscribers
func (s *Store) Dropped() uint64 {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	var n uint64
	for sub := range s.subs {
		n += sub.dropped.Load()
	}
	return n
}

func (s *Store) notify(est models.PositionEstimate) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for sub := range s.subs {
		select {
		case sub.ch <- est:
		default:
			sub.dropped.Add(1)
		}
	}
}
