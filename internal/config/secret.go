package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sealed:"

var ErrBadSecret = errors.New("sealed value cannot be opened with this key")

// Sealer encrypts credentials at rest with a local key file.
type Sealer struct {
	key [32]byte
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// LoadSealer reads the key at path, creating a new random key when the file does not exist.
func LoadSealer(path string) (*Sealer, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return createSealer(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("key %s is not a base64 encoded 32 byte key", path)
	}
	s := &Sealer{}
	copy(s.key[:], decoded)
	return s, nil
}

func createSealer(path string) (*Sealer, error) {
	s := &Sealer{}
	if _, err := io.ReadFull(rand.Reader, s.key[:]); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(s.key[:])
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write key %s: %w", path, err)
	}
	return s, nil
}

func (s *Sealer) Seal(plain string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	box, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil || len(box) < 24 {
		return "", ErrBadSecret
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", ErrBadSecret
	}
	return string(plain), nil
}
