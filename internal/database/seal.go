package database

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

var errUnseal = errors.New("couldn't unseal token")

const nonceSize = 24

// sealer encrypts tokens before they hit the disk. Stored form is
// base64(nonce || secretbox).
type sealer struct {
	key [32]byte
}

func (s *sealer) seal(plain string) (string, error) {
	if s == nil || plain == "" {
		return plain, nil
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("couldn't generate nonce: %v", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func (s *sealer) open(stored string) (string, error) {
	if s == nil || stored == "" {
		return stored, nil
	}

	box, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnseal, err)
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: too short", errUnseal)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", fmt.Errorf("%w: authentication failed", errUnseal)
	}
	return string(plain), nil
}

// ParseTokenKey decodes a base64 encoded 32 byte key.
func ParseTokenKey(encoded string) ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return key, fmt.Errorf("token key is not base64: %v", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("token key must be %d bytes, got %d", len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
