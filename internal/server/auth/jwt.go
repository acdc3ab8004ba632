// Package auth issues and verifies the signed session tokens asserted by the
// identity service. Tokens are HS256 JWTs carrying the account identifier;
// the signing secret is process-wide configuration loaded once at startup.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/grandline/identity/internal/common"
)

// Claims extends the registered JWT claims with the account identifier.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string
}

// GenerateToken signs a time-limited token asserting the given account id.
func GenerateToken(accountID string, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		AccountID: accountID,
	})

	return token.SignedString(secretKey)
}

// GetAccountIDFromToken verifies the signature and expiry and extracts the
// account identifier.
func GetAccountIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrorTokenExpired
		}
		return "", common.ErrorInvalidToken
	}

	if !token.Valid {
		return "", common.ErrorInvalidToken
	}

	return claims.AccountID, nil
}
