// Package chunking provides the hashing and fixed-size chunk math shared by
// the file-transfer coordinator (server) and the resumable downloader
// (student agent).
package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
)

// Sha256Hex returns the uppercase hex SHA-256 digest of data.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Sha256HexReader streams r through SHA-256 without buffering the whole
// input, returning the uppercase hex digest.
func Sha256HexReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}

// ChunkCount returns ceil(size/chunkSize). chunkSize must be > 0.
func ChunkCount(size, chunkSize int64) int {
	if chunkSize <= 0 {
		return 0
	}
	if size <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// ChunkBounds returns the byte offset range [start, end) for chunk index i
// of a file with the given total size and chunk size.
func ChunkBounds(index int, size, chunkSize int64) (start, end int64) {
	start = int64(index) * chunkSize
	end = start + chunkSize
	if end > size {
		end = size
	}
	return start, end
}

// MissingChunks returns the ascending list of indexes in [0,total) that are
// not present in existing. Values in existing outside [0,total) are ignored.
func MissingChunks(total int, existing []int) []int {
	if total <= 0 {
		return nil
	}
	have := make([]bool, total)
	for _, idx := range existing {
		if idx >= 0 && idx < total {
			have[idx] = true
		}
	}
	missing := make([]int, 0, total)
	for i := 0; i < total; i++ {
		if !have[i] {
			missing = append(missing, i)
		}
	}
	return missing
}
