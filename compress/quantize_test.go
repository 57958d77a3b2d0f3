package compress

import (
	"math"
	"testing"
)

func TestBlockwiseQuantizationRoundtrip(t *testing.T) {
	q := NewBlockwiseQuantizer(64)

	values := make([]float32, 256)
	for i := range values {
		values[i] = float32(i) * 0.1
	}

	compressed, err := q.Compress(values, []int{256})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if ratio := compressed.CompressionRatio(); ratio <= 3.0 {
		t.Fatalf("expected compression ratio > 3x, got %.2f", ratio)
	}

	decompressed, err := q.Decompress(compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if len(decompressed) != len(values) {
		t.Fatalf("length mismatch: got %d want %d", len(decompressed), len(values))
	}

	for i := range values {
		blockIdx := i / q.BlockSize()
		scale := compressed.Scales[blockIdx].Float32()
		maxErr := float64(scale)/2 + 1e-2
		if diff := math.Abs(float64(values[i] - decompressed[i])); diff > maxErr {
			t.Fatalf("element %d: |%.4f - %.4f| = %.4f exceeds %.4f", i, values[i], decompressed[i], diff, maxErr)
		}
	}
}

func TestBlockwiseQuantizationZeroBlock(t *testing.T) {
	q := NewBlockwiseQuantizer(4)
	values := []float32{0, 0, 0, 0}
	compressed, err := q.Compress(values, []int{4})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if compressed.Scales[0].Float32() != 1.0 {
		t.Fatalf("expected scale 1.0 for all-zero block, got %v", compressed.Scales[0].Float32())
	}
	decompressed, err := q.Decompress(compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	for _, v := range decompressed {
		if v != 0 {
			t.Fatalf("expected zero, got %v", v)
		}
	}
}

func TestBlockwiseQuantizationShapeMismatch(t *testing.T) {
	q := NewBlockwiseQuantizer(64)
	if _, err := q.Compress([]float32{1, 2, 3}, []int{4}); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}
