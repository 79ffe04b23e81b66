// Package window buffers recent observations per tag and anchor so the
// estimator can smooth noisy readings and ignore aged ones.
package window

import (
	"sort"
	"sync"
	"time"

	"pet-tracker/internal/models"
)

// ring is a fixed-capacity buffer of observations for one (tag, anchor)
// pair, oldest first. ReceivedAt strictly increases from head to tail.
type ring struct {
	buf  []models.Observation
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]models.Observation, capacity)}
}

func (r *ring) at(i int) models.Observation {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring) tail() (models.Observation, bool) {
	if r.size == 0 {
		return models.Observation{}, false
	}
	return r.at(r.size - 1), true
}

func (r *ring) push(obs models.Observation) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = obs
		r.size++
		return
	}
	// full: overwrite the oldest
	r.buf[r.head] = obs
	r.head = (r.head + 1) % len(r.buf)
}

// dropOlderThan removes entries received before cutoff
func (r *ring) dropOlderThan(cutoff time.Time) {
	for r.size > 0 && r.at(0).ReceivedAt.Before(cutoff) {
		r.buf[r.head] = models.Observation{}
		r.head = (r.head + 1) % len(r.buf)
		r.size--
	}
}

// dropNewerThan removes entries received after limit
func (r *ring) dropNewerThan(limit time.Time) {
	for r.size > 0 && r.at(r.size-1).ReceivedAt.After(limit) {
		r.buf[(r.head+r.size-1)%len(r.buf)] = models.Observation{}
		r.size--
	}
}

// tagWindow holds every anchor ring for one tag
type tagWindow struct {
	mu      sync.RWMutex
	anchors map[string]*ring
	pruned  bool // removed from Window.tags; writers must re-fetch
}

// Window is the per tag × anchor observation buffer
type Window struct {
	capacity int

	mu   sync.RWMutex
	tags map[string]*tagWindow
}

// New creates a window keeping at most capacity observations per
// (tag, anchor) pair
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		capacity: capacity,
		tags:     make(map[string]*tagWindow),
	}
}

func (w *Window) getOrCreateTag(tagID string) *tagWindow {
	w.mu.RLock()
	tw, ok := w.tags[tagID]
	w.mu.RUnlock()
	if ok {
		return tw
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if tw, ok := w.tags[tagID]; ok {
		return tw
	}
	tw = &tagWindow{anchors: make(map[string]*ring)}
	w.tags[tagID] = tw
	return tw
}

func (w *Window) getTag(tagID string) (*tagWindow, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	tw, ok := w.tags[tagID]
	return tw, ok
}

// Insert appends obs to its (tag, anchor) ring. It is a no-op, returning
// false, when obs is not strictly newer than the ring's most recent entry:
// a redelivered duplicate or a late out-of-order reading never changes the
// window.
func (w *Window) Insert(obs models.Observation) bool {
	tw := w.getOrCreateTag(obs.TagID)
	tw.mu.Lock()
	for tw.pruned {
		tw.mu.Unlock()
		tw = w.getOrCreateTag(obs.TagID)
		tw.mu.Lock()
	}
	defer tw.mu.Unlock()

	r, ok := tw.anchors[obs.AnchorID]
	if !ok {
		r = newRing(w.capacity)
		tw.anchors[obs.AnchorID] = r
	}
	if last, ok := r.tail(); ok && !obs.ReceivedAt.After(last.ReceivedAt) {
		return false
	}
	r.push(obs)
	return true
}

// FreshObservations returns the observations for tagID across all anchors
// whose age at now is at most maxAge, ordered by anchor id and then by
// time. Entries dated more than maxAge after now are skipped too. This is
// the only read path used for estimation.
func (w *Window) FreshObservations(tagID string, now time.Time, maxAge time.Duration) []models.Observation {
	tw, ok := w.getTag(tagID)
	if !ok {
		return nil
	}
	cutoff, limit := now.Add(-maxAge), now.Add(maxAge)

	tw.mu.RLock()
	defer tw.mu.RUnlock()

	ids := make([]string, 0, len(tw.anchors))
	for id := range tw.anchors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []models.Observation
	for _, id := range ids {
		r := tw.anchors[id]
		for i := 0; i < r.size; i++ {
			obs := r.at(i)
			if obs.ReceivedAt.Before(cutoff) || obs.ReceivedAt.After(limit) {
				continue
			}
			out = append(out, obs)
		}
	}
	return out
}

// Snapshot returns a copy of the (tag, anchor) ring, oldest first
func (w *Window) Snapshot(tagID, anchorID string) []models.Observation {
	tw, ok := w.getTag(tagID)
	if !ok {
		return nil
	}
	tw.mu.RLock()
	defer tw.mu.RUnlock()

	r, ok := tw.anchors[anchorID]
	if !ok {
		return nil
	}
	out := make([]models.Observation, r.size)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}

// Tags returns the ids of every tag with buffered observations, sorted
func (w *Window) Tags() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ids := make([]string, 0, len(w.tags))
	for id := range w.tags {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune eagerly drops observations older than maxAge, or dated more than
// maxAge into the future, and forgets tags left with no observations. It
// returns the number of tags removed.
func (w *Window) Prune(now time.Time, maxAge time.Duration) int {
	cutoff, limit := now.Add(-maxAge), now.Add(maxAge)

	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for tagID, tw := range w.tags {
		tw.mu.Lock()
		for anchorID, r := range tw.anchors {
			r.dropOlderThan(cutoff)
			r.dropNewerThan(limit)
			if r.size == 0 {
				delete(tw.anchors, anchorID)
			}
		}
		empty := len(tw.anchors) == 0
		tw.pruned = empty
		tw.mu.Unlock()

		if empty {
			delete(w.tags, tagID)
			removed++
		}
	}
	return removed
}
