// Package crypto implements server-side credential hashing and verification.
package crypto

import (
	"golang.org/x/crypto/bcrypt"
)

// Bcrypt cost profiles. Passwords are low-entropy human input and get the slow
// profile; refresh secrets are random UUIDs and only need protection against
// offline guessing from a database dump.
const (
	PasswordCost      = 10
	RefreshSecretCost = bcrypt.MinCost
)

// Hasher hashes secrets with a fixed bcrypt cost.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher for cost, clamped to bcrypt's accepted range.
func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return Hasher{cost: cost}
}

// Cost returns the configured bcrypt cost.
func (h Hasher) Cost() int { return h.cost }

// Hash returns the bcrypt hash of plaintext.
func (h Hasher) Hash(plaintext string) (string, error) {
	return Hash(plaintext, h.cost)
}

// Verify reports whether plaintext matches hash.
func (h Hasher) Verify(plaintext, hash string) bool {
	return Verify(plaintext, hash)
}

// Hash returns the bcrypt hash of plaintext using cost.
func Hash(plaintext string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify compares plaintext with a bcrypt hash in constant time.
func Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
