package rooms

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// legacyDigestLen is the length of the hex SHA-256 digests written by the
// first generation of the exchanger. Such rooms still verify.
const legacyDigestLen = sha256.Size * 2

const maxPasswordBytes = 72

// hashPassword generates a bcrypt hash of the password.
func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword compares a password with a stored digest.
func verifyPassword(password, digest string) bool {
	if isLegacyDigest(digest) {
		sum := sha256.Sum256([]byte(password))
		want := strings.ToLower(digest)
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(want)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

func isLegacyDigest(digest string) bool {
	if len(digest) != legacyDigestLen {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}
