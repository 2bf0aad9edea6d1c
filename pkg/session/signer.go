package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	keyFileSize    = 32
	minKeyFileSize = 16
	derivedKeySize = 32
	hkdfInfo       = "dittostore session id signing"
)

// Signer mints and verifies session ids of the form
// "<uuid4>.<base64url(HMAC-SHA256(key, uuid4))>".
type Signer struct {
	key   []byte
	newID func() string
}

// NewSigner derives the HMAC key from secret with HKDF-SHA256.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) < minKeyFileSize {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", minKeyFileSize, len(secret))
	}

	key := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}

	return &Signer{key: key, newID: uuid.NewString}, nil
}

// LoadOrCreateKey reads the signing secret at path, creating it with random
// bytes when missing. The file is kept at mode 0600.
func LoadOrCreateKey(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil {
		if len(secret) < minKeyFileSize {
			return nil, fmt.Errorf("signing key file %s is too short (%d bytes)", path, len(secret))
		}
		if err := os.Chmod(path, 0600); err != nil {
			return nil, fmt.Errorf("restrict signing key file: %w", err)
		}
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read signing key file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create signing key directory: %w", err)
	}

	secret = make([]byte, keyFileSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	if err := os.WriteFile(path, secret, 0600); err != nil {
		return nil, fmt.Errorf("write signing key file: %w", err)
	}
	return secret, nil
}

func (s *Signer) mac(raw string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Mint returns a fresh signed id.
func (s *Signer) Mint() string {
	raw := s.newID()
	return raw + "." + s.mac(raw)
}

// Verify reports whether id carries a valid signature.
func (s *Signer) Verify(id string) bool {
	raw, sig, ok := strings.Cut(id, ".")
	if !ok || raw == "" || sig == "" {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(s.mac(raw)))
}
