// Package password provides one-way credential hashing. bcrypt keeps the
// comparison constant-time and the work factor configurable.
package password

import "golang.org/x/crypto/bcrypt"

type Hasher struct {
	cost int
}

// NewHasher builds a Hasher with the given bcrypt cost. Costs outside the
// bcrypt range fall back to the library default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash derives a salted digest from the plaintext. A hashing failure is
// fatal to the calling operation.
func (h *Hasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches the stored digest.
func (h *Hasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
