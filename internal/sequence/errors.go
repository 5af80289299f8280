package sequence

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownOperator    = errors.New("unknown operator")
	ErrOverflow           = errors.New("running sum overflows int64")
	ErrUnknownSequence    = errors.New("unknown sequence")
	ErrNoFreeSlot         = errors.New("no free sequence slot")
	ErrMissingCorrelation = errors.New("correlation id is required")
	ErrBatchTooLarge      = errors.New("batch position exceeds slot table")
)

// SlotError annotates a per-chunk failure with the slot it ran against.
type SlotError struct {
	Slot   int
	CorrID string
	Err    error
}

func (e *SlotError) Error() string {
	if e.CorrID != "" {
		return fmt.Sprintf("slot %d (sequence %s): %v", e.Slot, e.CorrID, e.Err)
	}
	return fmt.Sprintf("slot %d: %v", e.Slot, e.Err)
}

func (e *SlotError) Unwrap() error {
	return e.Err
}
