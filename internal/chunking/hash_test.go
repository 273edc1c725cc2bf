package chunking

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"strings"
	"testing"
)

func TestSha256Hex(t *testing.T) {
	data := []byte("controledu")
	sum := sha256.Sum256(data)
	want := strings.ToUpper(hex.EncodeToString(sum[:]))
	if got := Sha256Hex(data); got != want {
		t.Errorf("Sha256Hex() = %q, want %q", got, want)
	}
}

func TestSha256HexReader(t *testing.T) {
	data := []byte("streamed chunk body")
	want := Sha256Hex(data)
	got, err := Sha256HexReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Sha256HexReader: %v", err)
	}
	if got != want {
		t.Errorf("Sha256HexReader() = %q, want %q", got, want)
	}
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size, chunkSize int64
		want            int
	}{
		{0, 256, 0},
		{1, 256, 1},
		{256, 256, 1},
		{257, 256, 2},
		{1000, 256, 4},
		{100, 0, 0},
	}
	for _, tt := range tests {
		if got := ChunkCount(tt.size, tt.chunkSize); got != tt.want {
			t.Errorf("ChunkCount(%d,%d) = %d, want %d", tt.size, tt.chunkSize, got, tt.want)
		}
	}
}

// TestMissingChunks: total=8, existing=[0,2,3,7] -> missing=[1,4,5,6].
func TestMissingChunks(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		existing []int
		want     []int
	}{
		{"holes in the middle", 8, []int{0, 2, 3, 7}, []int{1, 4, 5, 6}},
		{"none missing", 3, []int{0, 1, 2}, []int{}},
		{"all missing", 4, nil, []int{0, 1, 2, 3}},
		{"out of range ignored", 3, []int{0, 1, 2, 99, -1}, []int{}},
		{"zero total", 0, []int{0, 1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MissingChunks(tt.total, tt.existing)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MissingChunks(%d,%v) = %v, want %v", tt.total, tt.existing, got, tt.want)
			}
		})
	}
}

func TestChunkBounds(t *testing.T) {
	start, end := ChunkBounds(2, 1000, 256)
	if start != 512 || end != 768 {
		t.Errorf("ChunkBounds(2,1000,256) = (%d,%d), want (512,768)", start, end)
	}
	// Last chunk is clipped to file size.
	start, end = ChunkBounds(3, 1000, 256)
	if start != 768 || end != 1000 {
		t.Errorf("ChunkBounds(3,1000,256) = (%d,%d), want (768,1000)", start, end)
	}
}
