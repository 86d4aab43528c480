// Package password hashes and verifies the admin password using scrypt,
// encoded as a PHC string ($scrypt$ln=..,r=..,p=..$salt$hash).
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/qpackt/qpackt/internal/qpackterr"
	"golang.org/x/crypto/scrypt"
)

const (
	saltLen = 16
	keyLen  = 32

	logN = 15 // N = 2^15
	r    = 8
	p    = 1
)

// Hash derives a PHC-encoded scrypt hash from a plaintext password, using a
// fresh random salt each call.
func Hash(plain string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", qpackterr.Wrap(qpackterr.Hashing, "generating salt", err)
	}
	return hashWithSalt(plain, salt)
}

func hashWithSalt(plain string, salt []byte) (string, error) {
	n := 1 << logN
	key, err := scrypt.Key([]byte(plain), salt, n, r, p, keyLen)
	if err != nil {
		return "", qpackterr.Wrap(qpackterr.Hashing, "deriving scrypt key", err)
	}
	encSalt := base64.RawStdEncoding.EncodeToString(salt)
	encKey := base64.RawStdEncoding.EncodeToString(key)
	return fmt.Sprintf("$scrypt$ln=%d,r=%d,p=%d$%s$%s", logN, r, p, encSalt, encKey), nil
}

// Matches reports whether plain hashes to the same PHC string as hash. It
// never returns an error for a wrong password, only for a malformed hash.
func Matches(plain, hash string) (bool, error) {
	logN, r, p, salt, key, err := decode(hash)
	if err != nil {
		return false, err
	}
	n := 1 << logN
	candidate, err := scrypt.Key([]byte(plain), salt, n, r, p, len(key))
	if err != nil {
		return false, qpackterr.Wrap(qpackterr.Hashing, "deriving scrypt key", err)
	}
	return subtle.ConstantTimeCompare(candidate, key) == 1, nil
}

func decode(hash string) (logN, r, p int, salt, key []byte, err error) {
	parts := strings.Split(hash, "$")
	// "$scrypt$ln=..,r=..,p=..$salt$hash" splits into
	// ["", "scrypt", "ln=..,r=..,p=..", "salt", "hash"].
	if len(parts) != 5 || parts[1] != "scrypt" {
		return 0, 0, 0, nil, nil, qpackterr.New(qpackterr.Hashing, "malformed password hash")
	}
	for _, kv := range strings.Split(parts[2], ",") {
		kvParts := strings.SplitN(kv, "=", 2)
		if len(kvParts) != 2 {
			return 0, 0, 0, nil, nil, qpackterr.New(qpackterr.Hashing, "malformed password hash parameters")
		}
		val, convErr := strconv.Atoi(kvParts[1])
		if convErr != nil {
			return 0, 0, 0, nil, nil, qpackterr.Wrap(qpackterr.Hashing, "malformed password hash parameter", convErr)
		}
		switch kvParts[0] {
		case "ln":
			logN = val
		case "r":
			r = val
		case "p":
			p = val
		}
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return 0, 0, 0, nil, nil, qpackterr.Wrap(qpackterr.Hashing, "decoding salt", err)
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, qpackterr.Wrap(qpackterr.Hashing, "decoding key", err)
	}
	return logN, r, p, salt, key, nil
}
