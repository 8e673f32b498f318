package directory

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
)

// Credential is an opaque, salted-and-hashed client password. The merger
// never sees a plaintext password from the directory; it only asks a
// Credential whether a plaintext attempt matches.
//
// This replaces original_source's plaintext ClientEntry.password ("da
// cambiare, va salata" — needs changing, needs salting) with a comparator
// the directory implementation owns the secret material of.
type Credential struct {
	key  []byte
	hash []byte
}

// NewCredential derives a Credential from a plaintext password and a
// per-directory key. The key is never exposed once the Credential is
// constructed.
func NewCredential(key []byte, password string) Credential {
	return Credential{key: key, hash: hashPassword(key, password)}
}

// Matches reports whether password is the plaintext this Credential was
// derived from, compared in constant time.
func (c Credential) Matches(password string) bool {
	if len(c.hash) == 0 {
		return false
	}
	candidate := hashPassword(c.key, password)
	return subtle.ConstantTimeCompare(c.hash, candidate) == 1
}

func hashPassword(key []byte, password string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}
