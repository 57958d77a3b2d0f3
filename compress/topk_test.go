package compress

import "testing"

func TestTopKCompression(t *testing.T) {
	c := NewTopKCompressor(0.1)

	values := make([]float32, 100)
	for i := range values {
		values[i] = 0.01
	}
	values[10] = 1.0
	values[50] = -2.0
	values[90] = 1.5

	compressed, err := c.Compress(values, []int{100})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed.Indices) > 10 {
		t.Fatalf("expected at most 10 indices, got %d", len(compressed.Indices))
	}
	if ratio := compressed.CompressionRatio(); ratio != 5.0 {
		t.Fatalf("expected ratio 5x (10 of 100 kept, 8 bytes each), got %.2f", ratio)
	}

	found := false
	for _, v := range compressed.Values {
		if v < -0.5 || v > 0.5 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected at least one large-magnitude value preserved")
	}
}

func TestTopKDecompressZerosElsewhere(t *testing.T) {
	c := NewTopKCompressor(0.1)
	values := make([]float32, 100)
	values[10] = 1.0
	values[50] = -2.0
	values[90] = 1.5

	compressed, _ := c.Compress(values, []int{100})
	decompressed := c.Decompress(compressed)

	if len(decompressed) != 100 {
		t.Fatalf("expected length 100, got %d", len(decompressed))
	}
	kept := map[int]bool{10: true, 50: true, 90: true}
	for i, v := range decompressed {
		if kept[i] {
			continue
		}
		if v != 0 {
			t.Fatalf("index %d expected zero, got %v", i, v)
		}
	}
}

func TestTopKMinimumOne(t *testing.T) {
	c := NewTopKCompressor(0.0)
	values := []float32{1, 2, 3, 4}
	compressed, err := c.Compress(values, []int{4})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed.Indices) != 1 {
		t.Fatalf("expected exactly 1 index kept, got %d", len(compressed.Indices))
	}
	if compressed.Values[0] != 4 {
		t.Fatalf("expected the largest-magnitude value 4, got %v", compressed.Values[0])
	}
}

func TestTopKStableOnTies(t *testing.T) {
	c := NewTopKCompressor(0.5)
	values := []float32{1, 1, 1, 1}
	compressed, err := c.Compress(values, []int{4})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed.Indices) != 2 {
		t.Fatalf("expected 2 indices kept, got %d", len(compressed.Indices))
	}
	if compressed.Indices[0] != 0 || compressed.Indices[1] != 1 {
		t.Fatalf("expected stable ordering [0,1], got %v", compressed.Indices)
	}
}
