package utils

import (
	"encoding/hex"
	"io"
	"os"

	blake3 "lukechampine.com/blake3"
)

// ComputeBLAKE3 returns the hex BLAKE3-256 digest of data.
func ComputeBLAKE3(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeBLAKE3File streams the file at path through BLAKE3-256.
func ComputeBLAKE3File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
