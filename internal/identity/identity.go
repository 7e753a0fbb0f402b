// Package identity turns raw client tokens (IP addresses) into stable,
// non-reversible identity hashes used for like uniqueness and participant
// counting.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var ErrEmptyToken = errors.New("identity: empty client token")

// Hasher produces keyed BLAKE2b-256 digests of client tokens.
type Hasher struct {
	key []byte
}

// NewHasher creates a hasher keyed with secret. blake2b accepts keys of at
// most 64 bytes, so longer secrets are folded through an unkeyed digest first.
func NewHasher(secret string) (*Hasher, error) {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	if _, err := blake2b.New256(key); err != nil {
		return nil, fmt.Errorf("identity: invalid key: %w", err)
	}
	return &Hasher{key: key}, nil
}

// Hash returns the hex digest for token.
func (h *Hasher) Hash(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}
	d, err := blake2b.New256(h.key)
	if err != nil {
		return "", err
	}
	d.Write([]byte(token))
	return hex.EncodeToString(d.Sum(nil)), nil
}
