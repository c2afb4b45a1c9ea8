package wordkey

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrEmpty is returned for words that are blank.
	ErrEmpty = errors.New("empty word")
	// ErrIgnored is returned for words typed with a leading space, which are
	// deliberately kept out of the history.
	ErrIgnored = errors.New("word starts with whitespace")
)

// Normalize cleans a looked-up word into an item key.
// It normalizes line endings and trims trailing whitespace; case is kept so
// that "Paris" and "paris" stay distinct items.
func Normalize(word string) (string, error) {
	w := strings.ReplaceAll(word, "\r\n", "\n")
	w = strings.TrimRightFunc(w, unicode.IsSpace)
	if w == "" {
		return "", ErrEmpty
	}
	if first := []rune(w)[0]; unicode.IsSpace(first) {
		return "", fmt.Errorf("%w: %q", ErrIgnored, word)
	}
	return w, nil
}

// Hash returns the SHA-256 hash of key as a hex string.
func Hash(key string) string {
	hashBytes := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hashBytes)
}

// Dir returns a filesystem-safe directory name for resources belonging to key.
func Dir(key string) string {
	return Hash(key)[:16]
}
