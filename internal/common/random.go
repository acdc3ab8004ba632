package common

import (
	"crypto/rand"
	"math/big"
)

const (
	codeAlphabet     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	passwordAlphabet = codeAlphabet + "!@#$%^&*()-_=+"
)

// RandomCode generates an alphanumeric one-time verification code of the
// given length using crypto/rand.
func RandomCode(length int) (string, error) {
	return randString(codeAlphabet, length)
}

// RandomPassword generates a temporary password of the given length. The
// alphabet includes punctuation so the result also passes password policies.
func RandomPassword(length int) (string, error) {
	return randString(passwordAlphabet, length)
}

func randString(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b), nil
}
