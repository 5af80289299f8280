package sequence

import "fmt"

// Op is an accumulator chunk: an operator ("+" or "-") and its operand.
type Op struct {
	Operator string
	Operand  int64
}

// Accumulate folds op into sum. A not-ready chunk reports the current sum.
func Accumulate(sum int64, op Op, ready bool) (int64, int64, error) {
	if !ready {
		return sum, sum, nil
	}
	var next int64
	switch op.Operator {
	case "+":
		next = sum + op.Operand
		if (op.Operand > 0 && next < sum) || (op.Operand < 0 && next > sum) {
			return sum, sum, fmt.Errorf("%w: %d + %d", ErrOverflow, sum, op.Operand)
		}
	case "-":
		next = sum - op.Operand
		if (op.Operand > 0 && next > sum) || (op.Operand < 0 && next < sum) {
			return sum, sum, fmt.Errorf("%w: %d - %d", ErrOverflow, sum, op.Operand)
		}
	default:
		return sum, sum, fmt.Errorf("%w: %q", ErrUnknownOperator, op.Operator)
	}
	return next, next, nil
}

// Accumulator is the running-sum algorithm.
func Accumulator() Algorithm[int64, Op, int64] {
	return Algorithm[int64, Op, int64]{
		Name:     "accumulate",
		Identity: func() int64 { return 0 },
		Update:   Accumulate,
	}
}
