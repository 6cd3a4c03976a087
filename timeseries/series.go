// Package timeseries holds a reverse-chronological, timestamp-deduplicated
// container used for rates, ticks and anything else keyed by time.
//
// Index 0 is always the most recent item. Range reads walk from newest to
// oldest. A series with a Backfill reaches back for older items when a read
// asks for more history than it holds; it never extends past its newest
// item.
package timeseries

import (
	"sync"
	"time"

	"github.com/google/btree"
)

const degree = 32

type entry[T any] struct {
	at time.Time
	v  T
}

// Miss describes history a read wanted but the series did not hold: items
// older than Before, either Count of them or reaching back to Until. A zero
// Before means the series was empty.
type Miss struct {
	Before time.Time
	Until  time.Time
	Count  int
}

// Backfill returns older items for m, in any order. It is called without
// the series lock held.
type Backfill[T any] func(m Miss) []T

// Series is safe for concurrent use. Reads may run while new items are
// being inserted by the feed.
type Series[T any] struct {
	mu       sync.RWMutex
	tree     *btree.BTreeG[entry[T]]
	timeOf   func(T) time.Time
	backfill Backfill[T]
}

// New creates an empty series. timeOf extracts the key of an item.
func New[T any](timeOf func(T) time.Time) *Series[T] {
	return &Series[T]{
		tree: btree.NewG(degree, func(a, b entry[T]) bool {
			return a.at.Before(b.at)
		}),
		timeOf: timeOf,
	}
}

// SetBackfill installs fn as the source of older items. nil removes it.
func (s *Series[T]) SetBackfill(fn Backfill[T]) {
	s.mu.Lock()
	s.backfill = fn
	s.mu.Unlock()
}

// Insert adds v. It returns false and leaves the series untouched when an
// item with the same timestamp already exists.
func (s *Series[T]) Insert(v T) bool {
	at := s.timeOf(v)
	if at.IsZero() {
		return false
	}

	s.mu.Lock()
	if s.tree.Has(entry[T]{at: at}) {
		s.mu.Unlock()
		return false
	}
	s.tree.ReplaceOrInsert(entry[T]{at: at, v: v})
	s.mu.Unlock()
	return true
}

// InsertAll inserts every item and returns how many were new.
func (s *Series[T]) InsertAll(items []T) int {
	n := 0
	for _, v := range items {
		if s.Insert(v) {
			n++
		}
	}
	return n
}

func (s *Series[T]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// First returns the oldest item.
func (s *Series[T]) First() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tree.Min()
	return e.v, ok
}

// Last returns the newest item.
func (s *Series[T]) Last() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tree.Max()
	return e.v, ok
}

// At returns the item stored at t, or the closest one before it.
func (s *Series[T]) At(t time.Time) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.closest(t)
	return e.v, ok
}

// Index returns the i-th item counting from the newest (0).
func (s *Series[T]) Index(i int) (T, bool) {
	var zero T
	if i < 0 {
		return zero, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.nth(i)
	if !ok {
		return zero, false
	}
	return e.v, true
}

// List returns up to count items starting from the newest.
func (s *Series[T]) List(count int) []T {
	return values(s.readFrom(time.Time{}, count))
}

// ListFrom returns up to count items starting at the first item at or
// before start. A zero start means the newest item.
func (s *Series[T]) ListFrom(start time.Time, count int) []T {
	return values(s.readFrom(start, count))
}

// ListRange returns the items between closest(stop) and closest(start),
// newest first. start and stop may be given in either order.
func (s *Series[T]) ListRange(start, stop time.Time) []T {
	return values(s.readRange(start, stop))
}

// ListIndex returns up to count items beginning at index start.
func (s *Series[T]) ListIndex(start, count int) []T {
	return values(s.readIndex(start, count))
}

// ListIndexRange returns the items with index in [start, stop].
func (s *Series[T]) ListIndexRange(start, stop int) []T {
	if stop < start {
		start, stop = stop, start
	}
	return values(s.readIndex(start, stop-start+1))
}

func (s *Series[T]) Times(count int) []time.Time {
	return times(s.readFrom(time.Time{}, count))
}

func (s *Series[T]) TimesFrom(start time.Time, count int) []time.Time {
	return times(s.readFrom(start, count))
}

func (s *Series[T]) TimesRange(start, stop time.Time) []time.Time {
	return times(s.readRange(start, stop))
}

func (s *Series[T]) TimesIndex(start, count int) []time.Time {
	return times(s.readIndex(start, count))
}

func (s *Series[T]) TimesIndexRange(start, stop int) []time.Time {
	if stop < start {
		start, stop = stop, start
	}
	return times(s.readIndex(start, stop-start+1))
}

func (s *Series[T]) readFrom(start time.Time, count int) []entry[T] {
	out := s.scanFrom(start, count)
	if count <= 0 || len(out) >= count {
		return out
	}
	before := start
	if n := len(out); n > 0 {
		before = out[n-1].at
	} else if e, ok := s.oldest(); ok {
		before = e.at
	}
	if s.fill(Miss{Before: before, Count: count - len(out)}) {
		out = s.scanFrom(start, count)
	}
	return out
}

func (s *Series[T]) readRange(start, stop time.Time) []entry[T] {
	out := s.scanRange(start, stop)
	// a zero stop already runs down to the oldest item
	older := stop
	if !start.IsZero() && start.Before(stop) {
		older = start
	}
	if older.IsZero() {
		return out
	}
	e, ok := s.oldest()
	if ok && !older.Before(e.at) {
		return out
	}
	before := older
	if ok {
		before = e.at
	}
	if s.fill(Miss{Before: before, Until: older}) {
		out = s.scanRange(start, stop)
	}
	return out
}

func (s *Series[T]) readIndex(start, count int) []entry[T] {
	out := s.scanIndex(start, count)
	if start < 0 || count <= 0 || len(out) >= count {
		return out
	}
	var before time.Time
	if e, ok := s.oldest(); ok {
		before = e.at
	}
	if s.fill(Miss{Before: before, Count: start + count - s.Size()}) {
		out = s.scanIndex(start, count)
	}
	return out
}

func (s *Series[T]) oldest() (entry[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Min()
}

// fill asks the backfill for m and reports whether anything was added.
func (s *Series[T]) fill(m Miss) bool {
	s.mu.RLock()
	fn := s.backfill
	s.mu.RUnlock()
	if fn == nil {
		return false
	}
	return s.InsertAll(fn(m)) > 0
}

// closest must be called with the lock held. A zero t selects the newest.
func (s *Series[T]) closest(t time.Time) (entry[T], bool) {
	if t.IsZero() {
		return s.tree.Max()
	}
	var found entry[T]
	ok := false
	s.tree.DescendLessOrEqual(entry[T]{at: t}, func(e entry[T]) bool {
		found, ok = e, true
		return false
	})
	return found, ok
}

func (s *Series[T]) nth(i int) (entry[T], bool) {
	var found entry[T]
	ok := false
	n := 0
	s.tree.Descend(func(e entry[T]) bool {
		if n == i {
			found, ok = e, true
			return false
		}
		n++
		return true
	})
	return found, ok
}

func (s *Series[T]) scanFrom(start time.Time, count int) []entry[T] {
	if count <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, ok := s.closest(start)
	if !ok {
		return nil
	}
	out := make([]entry[T], 0, min(count, s.tree.Len()))
	s.tree.DescendLessOrEqual(from, func(e entry[T]) bool {
		out = append(out, e)
		return len(out) < count
	})
	return out
}

func (s *Series[T]) scanRange(start, stop time.Time) []entry[T] {
	if !start.IsZero() && !stop.IsZero() && start.Before(stop) {
		start, stop = stop, start
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, ok := s.closest(start)
	if !ok {
		return nil
	}
	to, ok := s.closest(stop)
	if stop.IsZero() || !ok {
		// nothing at or before stop: run down to the oldest item
		to, _ = s.tree.Min()
	}

	var out []entry[T]
	s.tree.DescendRange(from, entry[T]{at: to.at.Add(-time.Nanosecond)}, func(e entry[T]) bool {
		out = append(out, e)
		return true
	})
	return out
}

func (s *Series[T]) scanIndex(start, count int) []entry[T] {
	if start < 0 || count <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entry[T]
	n := 0
	s.tree.Descend(func(e entry[T]) bool {
		if n >= start {
			out = append(out, e)
		}
		n++
		return len(out) < count
	})
	return out
}

func values[T any](es []entry[T]) []T {
	out := make([]T, len(es))
	for i, e := range es {
		out[i] = e.v
	}
	return out
}

func times[T any](es []entry[T]) []time.Time {
	out := make([]time.Time, len(es))
	for i, e := range es {
		out[i] = e.at
	}
	return out
}
