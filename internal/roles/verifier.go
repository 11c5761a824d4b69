package roles

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordVerifier checks a supplied password against the catalog entry of a role.
type PasswordVerifier interface {
	Verify(stored, supplied string) bool
}

// PlainVerifier compares passwords as plain text. An empty stored password
// matches only an empty supplied one.
type PlainVerifier struct{}

func (PlainVerifier) Verify(stored, supplied string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// BcryptVerifier treats catalog entries starting with "$2" as bcrypt hashes
// and falls back to PlainVerifier for everything else.
type BcryptVerifier struct{}

func (BcryptVerifier) Verify(stored, supplied string) bool {
	if !isBcryptHash(stored) {
		return PlainVerifier{}.Verify(stored, supplied)
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
}

// HashPassword returns a bcrypt hash suitable for a role catalog entry.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2")
}
