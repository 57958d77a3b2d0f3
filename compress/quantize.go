// Package compress implements the tensor-compression primitives exchanged
// between peers alongside activations and gradients: blockwise int8
// quantization and top-K sparsification. Both are lossy, round-trip
// approximate transforms over a flattened vector of float32 values.
package compress

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// BlockwiseQuantizer performs Hivemind-style blockwise 8-bit quantization.
// Each consecutive run of BlockSize elements gets its own scale, so
// quantization error stays local to the dynamic range of that block.
type BlockwiseQuantizer struct {
	blockSize int
}

// NewBlockwiseQuantizer returns a quantizer operating with the given block
// size. A typical value is 64.
func NewBlockwiseQuantizer(blockSize int) *BlockwiseQuantizer {
	if blockSize <= 0 {
		blockSize = 64
	}
	return &BlockwiseQuantizer{blockSize: blockSize}
}

// BlockSize reports the configured block size.
func (q *BlockwiseQuantizer) BlockSize() int { return q.blockSize }

// QuantizedTensor is the compressed representation produced by
// BlockwiseQuantizer.Compress.
type QuantizedTensor struct {
	Data      []int8
	Scales    []float16.Float16
	Shape     []int
	BlockSize int
}

// Compress flattens values according to shape (the product of shape must
// equal len(values)) and quantizes it block by block.
func (q *BlockwiseQuantizer) Compress(values []float32, shape []int) (*QuantizedTensor, error) {
	if err := checkShape(values, shape); err != nil {
		return nil, err
	}

	data := make([]int8, 0, len(values))
	scales := make([]float16.Float16, 0, len(values)/q.blockSize+1)

	for start := 0; start < len(values); start += q.blockSize {
		end := start + q.blockSize
		if end > len(values) {
			end = len(values)
		}
		block := values[start:end]

		var maxAbs float32
		for _, v := range block {
			a := float32(math.Abs(float64(v)))
			if a > maxAbs {
				maxAbs = a
			}
		}

		scale := float32(1.0)
		if maxAbs > 0 {
			scale = maxAbs / 127.0
		}
		scales = append(scales, float16.Fromfloat32(scale))

		for _, v := range block {
			q := int8(clampRound(float64(v)/float64(scale), -127, 127))
			data = append(data, q)
		}
	}

	return &QuantizedTensor{
		Data:      data,
		Scales:    scales,
		Shape:     append([]int(nil), shape...),
		BlockSize: q.blockSize,
	}, nil
}

// Decompress reverses Compress, restoring a float32 vector of the original
// shape. The returned values are approximate: each differs from the
// original by at most half of its block's scale, modulo float16 rounding.
func (q *BlockwiseQuantizer) Decompress(t *QuantizedTensor) ([]float32, error) {
	out := make([]float32, 0, len(t.Data))
	for start := 0; start < len(t.Data); start += t.BlockSize {
		end := start + t.BlockSize
		if end > len(t.Data) {
			end = len(t.Data)
		}
		blockIdx := start / t.BlockSize
		scale := float32(1.0)
		if blockIdx < len(t.Scales) {
			scale = t.Scales[blockIdx].Float32()
		}
		for _, v := range t.Data[start:end] {
			out = append(out, float32(v)*scale)
		}
	}
	return out, nil
}

// CompressionRatio reports OriginalSizeBytes / SizeBytes, or 1.0 when the
// compressed size is zero.
func (t *QuantizedTensor) CompressionRatio() float32 {
	c := t.SizeBytes()
	if c == 0 {
		return 1.0
	}
	return float32(t.OriginalSizeBytes()) / float32(c)
}

// SizeBytes is the wire size of the compressed form: one byte per element
// plus two bytes per block scale.
func (t *QuantizedTensor) SizeBytes() int {
	return len(t.Data) + len(t.Scales)*2
}

// OriginalSizeBytes is the size of the uncompressed float32 vector.
func (t *QuantizedTensor) OriginalSizeBytes() int {
	return len(t.Data) * 4
}

func checkShape(values []float32, shape []int) error {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if len(shape) == 0 {
		n = len(values)
	}
	if n != len(values) {
		return fmt.Errorf("compress: shape %v does not match %d values", shape, len(values))
	}
	return nil
}

func clampRound(v, lo, hi float64) float64 {
	r := math.Round(v)
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}
