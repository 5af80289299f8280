package sequence

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Dispatcher runs batches of tuples against a Table.
//
// Tuples are grouped into lanes, one per slot, in batch order. Lanes run
// concurrently on a pool bounded by the table size; tuples within a lane run
// sequentially, so two chunks of one sequence in the same batch never race.
type Dispatcher[S, P, O any] struct {
	table *Table[S, P, O]
}

func NewDispatcher[S, P, O any](table *Table[S, P, O]) *Dispatcher[S, P, O] {
	return &Dispatcher[S, P, O]{table: table}
}

func (d *Dispatcher[S, P, O]) Table() *Table[S, P, O] {
	return d.table
}

// lane is the ordered list of tuple indexes that target one slot.
type lane struct {
	slot  int
	items []int
}

// Dispatch resolves slots, applies every tuple and returns one Result per
// tuple, index-aligned with the input. A failing tuple fails alone.
//
// If ctx is done before all lanes finish, Dispatch returns immediately and
// every tuple that has not yet committed reports ctx.Err(). Lanes still
// running stop before their next commit; no state is committed once the
// batch has been abandoned.
func (d *Dispatcher[S, P, O]) Dispatch(ctx context.Context, tuples []Tuple[P]) []Result[O] {
	results := make([]Result[O], len(tuples))
	if len(tuples) == 0 {
		return results
	}
	b := &batch[O]{
		results: results,
		settled: make([]bool, len(tuples)),
	}

	errs := d.table.Resolve(tuples)
	lanes := make([]*lane, 0, len(tuples))
	bySlot := make(map[int]*lane, len(tuples))
	for i, tp := range tuples {
		if errs[i] != nil {
			b.settle(i, Failure[O](errs[i]))
			continue
		}
		l, ok := bySlot[tp.Slot]
		if !ok {
			l = &lane{slot: tp.Slot}
			bySlot[tp.Slot] = l
			lanes = append(lanes, l)
		}
		l.items = append(l.items, i)
	}

	if len(lanes) > 0 {
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			var g errgroup.Group
			g.SetLimit(min(len(lanes), d.table.Size()))
			for _, l := range lanes {
				if b.abandoned() {
					break
				}
				g.Go(func() error {
					d.runLane(b, l, tuples)
					return nil
				})
			}
			_ = g.Wait()
		}()

		select {
		case <-finished:
		case <-ctx.Done():
			b.abandon(ctx.Err())
		}
	}

	d.table.Complete(committed(b, tuples))
	return results
}

func (d *Dispatcher[S, P, O]) runLane(b *batch[O], l *lane, tuples []Tuple[P]) {
	slot := d.table.Slot(l.slot)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	for _, idx := range l.items {
		if b.abandoned() {
			return
		}
		tp := tuples[idx]
		next, out, err := slot.step(tp.Payload, tp.Start, tp.Ready)
		b.commit(func() {
			slot.settle(next, tp.Start, err)
			if err != nil {
				b.results[idx] = Failure[O](&SlotError{Slot: l.slot, CorrID: tp.CorrID, Err: err})
			} else {
				b.results[idx] = Success(out)
			}
			b.settled[idx] = true
		})
	}
}

// batch is the shared result buffer of one Dispatch call. Every write to
// results, settled or a slot's state happens under mu while the batch is
// still open.
type batch[O any] struct {
	mu      sync.Mutex
	closed  bool
	results []Result[O]
	settled []bool
}

func (b *batch[O]) settle(i int, r Result[O]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[i] = r
	b.settled[i] = true
}

// commit runs fn unless the batch was abandoned.
func (b *batch[O]) commit(fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	fn()
	return true
}

func (b *batch[O]) abandoned() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// committed returns the tuples that settled while the batch was open. An
// abandoned end chunk does not release its sequence.
func committed[O, P any](b *batch[O], tuples []Tuple[P]) []Tuple[P] {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Tuple[P], 0, len(tuples))
	for i, tp := range tuples {
		if b.settled[i] {
			out = append(out, tp)
		}
	}
	return out
}

// abandon closes the batch and fails every unsettled tuple with err.
func (b *batch[O]) abandon(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for i, done := range b.settled {
		if !done {
			b.results[i] = Failure[O](err)
		}
	}
}
