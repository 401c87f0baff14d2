package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const defaultIterations = 600000

// VerifyPassword checks a password against a werkzeug-style hash string,
// "pbkdf2:sha256:<iterations>$<salt>$<hexdigest>". Existing users.json files
// carry hashes in exactly this format.
func VerifyPassword(hash, password string) bool {
	method, salt, digest, err := splitHash(hash)
	if err != nil {
		return false
	}
	iterations, err := iterationsOf(method)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), []byte(salt), iterations, sha256.Size, sha256.New)
	return hmac.Equal(got, want)
}

// HashPassword produces a werkzeug-compatible hash for a new password.
func HashPassword(password string) (string, error) {
	saltBytes := make([]byte, 12)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", err
	}
	salt := hex.EncodeToString(saltBytes)
	digest := pbkdf2.Key([]byte(password), []byte(salt), defaultIterations, sha256.Size, sha256.New)
	return fmt.Sprintf("pbkdf2:sha256:%d$%s$%s", defaultIterations, salt, hex.EncodeToString(digest)), nil
}

func splitHash(hash string) (method, salt, digest string, err error) {
	parts := strings.SplitN(hash, "$", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed hash")
	}
	return parts[0], parts[1], parts[2], nil
}

func iterationsOf(method string) (int, error) {
	// method is "pbkdf2:sha256" or "pbkdf2:sha256:<iterations>".
	parts := strings.Split(method, ":")
	if len(parts) < 2 || parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return 0, fmt.Errorf("unsupported hash method %q", method)
	}
	if len(parts) == 2 {
		return defaultIterations, nil
	}
	return strconv.Atoi(parts[2])
}
