package sequence

import (
	"fmt"
	"sync"
)

// Slot holds the live state of one sequence. A lane owns the slot (mu held)
// for the whole time it runs chunks against it.
type Slot[S, P, O any] struct {
	id    int
	alg   *Algorithm[S, P, O]
	mu    sync.Mutex
	state S
}

func newSlot[S, P, O any](id int, alg *Algorithm[S, P, O]) *Slot[S, P, O] {
	return &Slot[S, P, O]{id: id, alg: alg, state: alg.Identity()}
}

func (s *Slot[S, P, O]) ID() int {
	return s.id
}

// State returns a copy of the committed state.
func (s *Slot[S, P, O]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reset discards the sequence state.
func (s *Slot[S, P, O]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.alg.Identity()
}

// Apply runs one chunk and commits the new state if the update succeeded.
// A failed start chunk still leaves the slot reset.
func (s *Slot[S, P, O]) Apply(payload P, start, ready bool) (O, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, out, err := s.step(payload, start, ready)
	s.settle(next, start, err)
	return out, err
}

// step computes the transition without touching s.state. Callers hold mu.
func (s *Slot[S, P, O]) step(payload P, start, ready bool) (next S, out O, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s update: %v", s.alg.Name, rec)
		}
	}()
	base := s.state
	if start {
		base = s.alg.Identity()
	}
	return s.alg.Update(base, payload, ready)
}

// settle commits the outcome of step. Callers hold mu.
func (s *Slot[S, P, O]) settle(next S, start bool, err error) {
	switch {
	case err == nil:
		s.state = next
	case start:
		s.state = s.alg.Identity()
	}
}
