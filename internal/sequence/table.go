package sequence

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Mapping selects how chunks are assigned to slots.
type Mapping string

const (
	// MapCorrelation keys slots by correlation id, allocating on start and
	// releasing on end.
	MapCorrelation Mapping = "correlation"
	// MapPosition uses the chunk's index within the flattened batch as its
	// slot. It assumes every sequence keeps the same batch position across
	// calls, which only holds when batch composition never changes.
	MapPosition Mapping = "position"
)

// ParseMapping validates a mapping name. Empty selects MapCorrelation.
func ParseMapping(name string) (Mapping, error) {
	switch Mapping(name) {
	case "", MapCorrelation:
		return MapCorrelation, nil
	case MapPosition:
		return MapPosition, nil
	default:
		return "", fmt.Errorf("unknown slot mapping %q (expected %s or %s)", name, MapCorrelation, MapPosition)
	}
}

// Table is the fixed set of sequence slots for one model instance.
type Table[S, P, O any] struct {
	alg     Algorithm[S, P, O]
	slots   []*Slot[S, P, O]
	mapping Mapping
	now     func() time.Time

	mu       sync.Mutex
	bySeq    map[string]int
	owner    []string
	lastUsed []time.Time
}

// NewTable builds size slots (at least one), all at the identity state.
func NewTable[S, P, O any](size int, alg Algorithm[S, P, O], mapping Mapping) *Table[S, P, O] {
	size = max(size, 1)
	t := &Table[S, P, O]{
		alg:      alg,
		slots:    make([]*Slot[S, P, O], size),
		mapping:  mapping,
		now:      time.Now,
		bySeq:    make(map[string]int),
		owner:    make([]string, size),
		lastUsed: make([]time.Time, size),
	}
	for i := range t.slots {
		t.slots[i] = newSlot(i, &t.alg)
	}
	return t
}

func (t *Table[S, P, O]) Size() int {
	return len(t.slots)
}

func (t *Table[S, P, O]) Mapping() Mapping {
	return t.mapping
}

// Slot returns slot id. It panics on an out-of-range id.
func (t *Table[S, P, O]) Slot(id int) *Slot[S, P, O] {
	return t.slots[id]
}

// Lookup reports the slot currently bound to corrID.
func (t *Table[S, P, O]) Lookup(corrID string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.bySeq[corrID]
	return id, ok
}

// Resolve assigns a slot to every tuple in place. The returned slice holds a
// non-nil error for each tuple that could not be placed; those tuples keep
// Slot == -1 and must not be dispatched.
func (t *Table[S, P, O]) Resolve(tuples []Tuple[P]) []error {
	errs := make([]error, len(tuples))
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for i := range tuples {
		tp := &tuples[i]
		tp.Slot = -1
		if t.mapping == MapPosition {
			if i >= len(t.slots) {
				errs[i] = fmt.Errorf("%w: position %d, %d slots", ErrBatchTooLarge, i, len(t.slots))
				continue
			}
			tp.Slot = i
			t.lastUsed[i] = now
			continue
		}

		if tp.CorrID == "" {
			errs[i] = ErrMissingCorrelation
			continue
		}
		id, ok := t.bySeq[tp.CorrID]
		if !ok {
			if !tp.Start {
				errs[i] = fmt.Errorf("%w: %s has no start chunk", ErrUnknownSequence, tp.CorrID)
				continue
			}
			id = t.freeSlotLocked()
			if id < 0 {
				errs[i] = fmt.Errorf("%w: %d sequences active", ErrNoFreeSlot, len(t.slots))
				continue
			}
			t.bySeq[tp.CorrID] = id
			t.owner[id] = tp.CorrID
		}
		tp.Slot = id
		t.lastUsed[id] = now
	}
	return errs
}

func (t *Table[S, P, O]) freeSlotLocked() int {
	for id, owner := range t.owner {
		if owner == "" {
			return id
		}
	}
	return -1
}

// Complete releases every sequence whose last chunk in the batch carried the
// end flag. It is a no-op under MapPosition.
func (t *Table[S, P, O]) Complete(tuples []Tuple[P]) {
	if t.mapping != MapCorrelation {
		return
	}
	last := make(map[string]int, len(tuples))
	for i, tp := range tuples {
		if tp.Slot >= 0 {
			last[tp.CorrID] = i
		}
	}
	for corrID, i := range last {
		if tuples[i].End {
			t.Release(corrID)
		}
	}
}

// Release unbinds corrID and resets its slot.
func (t *Table[S, P, O]) Release(corrID string) bool {
	t.mu.Lock()
	id, ok := t.bySeq[corrID]
	if ok {
		delete(t.bySeq, corrID)
		t.owner[id] = ""
	}
	t.mu.Unlock()
	if ok {
		t.slots[id].Reset()
	}
	return ok
}

// Reap releases sequences idle for longer than idle and returns their ids.
func (t *Table[S, P, O]) Reap(idle time.Duration) []string {
	if idle <= 0 || t.mapping != MapCorrelation {
		return nil
	}
	cutoff := t.now().Add(-idle)
	var stale []string
	t.mu.Lock()
	for corrID, id := range t.bySeq {
		if t.lastUsed[id].Before(cutoff) {
			stale = append(stale, corrID)
		}
	}
	t.mu.Unlock()
	sort.Strings(stale)
	for _, corrID := range stale {
		t.Release(corrID)
	}
	return stale
}

// Occupancy summarizes slot usage.
type Occupancy struct {
	Slots   int     `json:"slots"`
	Active  int     `json:"active"`
	Mapping Mapping `json:"mapping"`
}

func (t *Table[S, P, O]) Occupancy() Occupancy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Occupancy{
		Slots:   len(t.slots),
		Active:  len(t.bySeq),
		Mapping: t.mapping,
	}
}
