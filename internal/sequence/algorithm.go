// Package sequence implements the stateful batch engine: a fixed table of
// per-sequence state slots, pluggable update functions, and a dispatcher that
// applies a batch of chunks concurrently while keeping results in input order.
package sequence

import "code.hybscloud.com/kont"

// UpdateFunc computes the next state and the chunk output from the current
// state. Implementations must not retain or mutate state in place; the caller
// commits the returned value only when err is nil.
type UpdateFunc[S, P, O any] func(state S, payload P, ready bool) (S, O, error)

// Algorithm bundles an update function with the identity state it resets to.
type Algorithm[S, P, O any] struct {
	Name     string
	Identity func() S
	Update   UpdateFunc[S, P, O]
}

// Tuple is one normalized chunk of a sequence.
type Tuple[P any] struct {
	CorrID  string
	Slot    int
	Payload P
	Start   bool
	Ready   bool
	End     bool
}

// Result is the per-chunk outcome: Right holds the output, Left the error.
type Result[O any] = kont.Either[error, O]

func Success[O any](out O) Result[O] {
	return kont.Right[error, O](out)
}

func Failure[O any](err error) Result[O] {
	return kont.Left[error, O](err)
}
