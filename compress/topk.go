package compress

import (
	"math"
	"sort"
)

// TopKCompressor keeps only the KFraction largest-magnitude elements of a
// vector, recording their original indices. Values not selected are
// implicitly zero on decompression.
type TopKCompressor struct {
	kFraction float32
}

// NewTopKCompressor returns a compressor retaining kFraction of the input,
// clamped to [0, 1].
func NewTopKCompressor(kFraction float32) *TopKCompressor {
	if kFraction < 0 {
		kFraction = 0
	}
	if kFraction > 1 {
		kFraction = 1
	}
	return &TopKCompressor{kFraction: kFraction}
}

// KFraction reports the configured retention fraction.
func (c *TopKCompressor) KFraction() float32 { return c.kFraction }

// SparseGradient is the compressed representation produced by
// TopKCompressor.Compress.
type SparseGradient struct {
	Indices      []uint32
	Values       []float32
	OriginalSize int
	Shape        []int
}

type indexedValue struct {
	index int
	value float32
}

// Compress selects the k = max(1, round(kFraction*n)) largest-magnitude
// elements of values, breaking ties by original position (stable sort).
func (c *TopKCompressor) Compress(values []float32, shape []int) (*SparseGradient, error) {
	if err := checkShape(values, shape); err != nil {
		return nil, err
	}

	n := len(values)
	k := int(math.Round(float64(c.kFraction) * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	indexed := make([]indexedValue, n)
	for i, v := range values {
		indexed[i] = indexedValue{index: i, value: v}
	}
	sort.SliceStable(indexed, func(i, j int) bool {
		return math.Abs(float64(indexed[i].value)) > math.Abs(float64(indexed[j].value))
	})
	indexed = indexed[:k]

	sg := &SparseGradient{
		Indices:      make([]uint32, k),
		Values:       make([]float32, k),
		OriginalSize: n,
		Shape:        append([]int(nil), shape...),
	}
	for i, iv := range indexed {
		sg.Indices[i] = uint32(iv.index)
		sg.Values[i] = iv.value
	}
	return sg, nil
}

// Decompress reconstructs a dense vector of length OriginalSize with the
// recorded values at their recorded indices and zero elsewhere.
func (c *TopKCompressor) Decompress(sg *SparseGradient) []float32 {
	out := make([]float32, sg.OriginalSize)
	for i, idx := range sg.Indices {
		if int(idx) < len(out) {
			out[idx] = sg.Values[i]
		}
	}
	return out
}

// CompressionRatio reports OriginalSizeBytes / SizeBytes, or 1.0 when the
// compressed size is zero.
func (sg *SparseGradient) CompressionRatio() float32 {
	c := sg.SizeBytes()
	if c == 0 {
		return 1.0
	}
	return float32(sg.OriginalSizeBytes()) / float32(c)
}

// SizeBytes is the wire size of the compressed form: 4 bytes per index
// plus 4 bytes per value.
func (sg *SparseGradient) SizeBytes() int {
	return len(sg.Indices)*4 + len(sg.Values)*4
}

// OriginalSizeBytes is the size of the uncompressed float32 vector.
func (sg *SparseGradient) OriginalSizeBytes() int {
	return sg.OriginalSize * 4
}
