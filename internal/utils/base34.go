package utils

import (
	"crypto/rand"
	"fmt"
)

// digits and letters without I and O
const base34Table = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// bytes at or above this value are rejected so every symbol is equally likely
const base34Cutoff = 256 - 256%len(base34Table)

// RandBase34 returns a random token of length symbols, suitable for API tokens.
func RandBase34(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid length: %d", length)
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= base34Cutoff {
				continue
			}
			out = append(out, base34Table[int(b)%len(base34Table)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}
