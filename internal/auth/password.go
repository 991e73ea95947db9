package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the work factor used when none is configured.
const DefaultBcryptCost = 10

// Hasher hashes and verifies passwords with bcrypt.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher returns a Hasher using cost, clamped to bcrypt's supported range.
// Zero selects DefaultBcryptCost.
func NewHasher(cost int) *Hasher {
	switch {
	case cost == 0:
		cost = DefaultBcryptCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	// Used by Burn so unknown-account logins take as long as real ones.
	dummy, err := bcrypt.GenerateFromPassword([]byte("starterkit-timing-equalizer"), cost)
	if err != nil {
		panic(err)
	}
	return &Hasher{cost: cost, dummy: dummy}
}

// Cost reports the configured work factor.
func (h *Hasher) Cost() int { return h.cost }

// Hash returns a salted bcrypt digest of password.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. Malformed hashes never match.
func (h *Hasher) Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Burn spends one comparison against a throwaway hash.
func (h *Hasher) Burn(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
