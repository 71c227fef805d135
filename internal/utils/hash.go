package utils

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// MinRecommendedTokenLength is the shortest token length considered safe against brute force.
const MinRecommendedTokenLength = 20

var ErrInvalidTokenLength = errors.New("token length must be positive")

// GenerateToken returns a string of exactly length characters drawn from
// [a-zA-Z0-9] using crypto/rand.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidTokenLength
	}
	limit := big.NewInt(int64(len(tokenAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(tokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateFingerprint returns a fresh value for browser binding.
// It is never used to identify a user.
func GenerateFingerprint() string {
	return uuid.NewString()
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
