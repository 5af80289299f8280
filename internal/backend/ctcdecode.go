package backend

import (
	"fmt"
	"unicode/utf8"

	"github.com/samcharles93/seqstate/internal/sequence"
)

func init() {
	Register(CTCDecode, func() Model { return NewCTCDecoder() })
}

// NewCTCDecoder returns a streaming best-path label decoder. Each chunk is a
// string of symbols in INPUT0; the configured blank_id is dropped and repeats
// collapse across chunk boundaries.
func NewCTCDecoder() *SequenceModel[sequence.DecodeState, string, string] {
	return NewSequenceModel(CTCDecode,
		func(cfg ModelConfig) sequence.Algorithm[sequence.DecodeState, string, string] {
			return sequence.Decoder{Blank: cfg.Blank()}.Algorithm()
		},
		Codec[string, string]{
			Inputs: []TensorMetadata{
				{Name: InputPayload, Datatype: TypeBytes, Shape: []int64{-1, 1}},
			},
			OutputTypes: []string{TypeBytes},
			Payloads: func(req *InferenceRequest, n int) ([]string, error) {
				t, err := req.mustInput(InputPayload)
				if err != nil {
					return nil, err
				}
				if err := payloadCount(t, n); err != nil {
					return nil, err
				}
				symbols, err := t.Strings()
				if err != nil {
					return nil, err
				}
				for i, s := range symbols {
					if !utf8.ValidString(s) {
						return nil, newInputError(fmt.Sprintf("%s[%d]: invalid UTF-8", t.Name, i))
					}
				}
				return symbols, nil
			},
			Encode: func(out string, _ string) (any, error) { return out, nil },
		})
}
