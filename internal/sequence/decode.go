package sequence

import "strings"

// noSymbol marks a decoder that has not seen any symbol since reset.
const noSymbol rune = -1

// DecodeState is the streaming best-path decoder state.
type DecodeState struct {
	Prev   rune
	Result string
}

// Decoder collapses repeated symbols and drops the blank symbol, carrying the
// previous symbol across chunks.
type Decoder struct {
	Blank rune
}

// Update processes symbols rune by rune. prev is updated for every rune,
// blanks and repeats included, so "a-a" yields "aa" while "aa" yields "a".
func (d Decoder) Update(st DecodeState, symbols string, ready bool) (DecodeState, string, error) {
	if !ready {
		return st, st.Result, nil
	}
	var b strings.Builder
	b.WriteString(st.Result)
	prev := st.Prev
	for _, c := range symbols {
		if c != prev && c != d.Blank {
			b.WriteRune(c)
		}
		prev = c
	}
	next := DecodeState{Prev: prev, Result: b.String()}
	return next, next.Result, nil
}

func (d Decoder) Algorithm() Algorithm[DecodeState, string, string] {
	return Algorithm[DecodeState, string, string]{
		Name:     "ctc_decode",
		Identity: func() DecodeState { return DecodeState{Prev: noSymbol} },
		Update:   d.Update,
	}
}
