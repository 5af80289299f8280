package backend

import (
	"fmt"

	"github.com/samcharles93/seqstate/internal/sequence"
)

func init() {
	Register(Accumulator, func() Model { return NewAccumulator() })
}

// NewAccumulator returns a running-sum model. Each chunk carries an operator
// in INPUT0 ("+" or "-") and an operand in INPUT1.
func NewAccumulator() *SequenceModel[int64, sequence.Op, int64] {
	return NewSequenceModel(Accumulator,
		func(ModelConfig) sequence.Algorithm[int64, sequence.Op, int64] { return sequence.Accumulator() },
		Codec[sequence.Op, int64]{
			Inputs: []TensorMetadata{
				{Name: InputPayload, Datatype: TypeBytes, Shape: []int64{-1, 1}},
				{Name: InputOperand, Datatype: TypeInt64, Shape: []int64{-1, 1}},
			},
			OutputTypes: []string{TypeInt8, TypeInt16, TypeInt32, TypeInt64, TypeFP32, TypeFP64, TypeBytes},
			Payloads:    accumulatorPayloads,
			Encode:      encodeInt,
		})
}

func accumulatorPayloads(req *InferenceRequest, n int) ([]sequence.Op, error) {
	opT, err := req.mustInput(InputPayload)
	if err != nil {
		return nil, err
	}
	valT, err := req.mustInput(InputOperand)
	if err != nil {
		return nil, err
	}
	if err := payloadCount(opT, n); err != nil {
		return nil, err
	}
	if err := payloadCount(valT, n); err != nil {
		return nil, err
	}
	operators, err := opT.Strings()
	if err != nil {
		return nil, err
	}
	operands, err := valT.Int64s()
	if err != nil {
		return nil, fmt.Errorf("operand: %w", err)
	}
	ops := make([]sequence.Op, n)
	for i := range ops {
		ops[i] = sequence.Op{Operator: operators[i], Operand: operands[i]}
	}
	return ops, nil
}
