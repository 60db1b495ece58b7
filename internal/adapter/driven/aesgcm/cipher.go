// Package aesgcm seals credential secrets with AES-256-GCM.
package aesgcm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Cipher = (*Cipher)(nil)

const (
	keySize           = 32
	defaultIterations = 100_000

	hintMask      = "****"
	hintSuffixLen = 4
	hintMinLen    = 8
)

// KeyConfig configures key material. MasterKey takes priority; otherwise
// the key is derived from Passphrase and Salt with PBKDF2-SHA256.
type KeyConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int
}

// Cipher implements driven.Cipher. The envelope is base64(nonce || ciphertext || tag).
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from cfg. It returns driven.ErrEncryptionKeyNotSet when
// cfg carries neither a master key nor a passphrase.
func New(cfg KeyConfig) (*Cipher, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Cipher{aead: gcm}, nil
}

func deriveKey(cfg KeyConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != keySize {
			return nil, fmt.Errorf("master key must be %d bytes, got %d", keySize, len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, driven.ErrEncryptionKeyNotSet
	}
	if len(cfg.Salt) == 0 {
		return nil, errors.New("salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}
	key, err := pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt. Every failure wraps
// driven.ErrDecryption.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %v", driven.ErrDecryption, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", driven.ErrDecryption)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", driven.ErrDecryption, err)
	}
	return string(plaintext), nil
}

// Hint returns an eight character display fragment. Secrets longer than
// eight characters show their last four; shorter ones are fully masked.
func (c *Cipher) Hint(plaintext string) string {
	return Hint(plaintext)
}

// Hint is the package-level form of Cipher.Hint.
func Hint(plaintext string) string {
	runes := []rune(plaintext)
	if len(runes) <= hintMinLen {
		return strings.Repeat("*", hintMinLen)
	}
	return hintMask + string(runes[len(runes)-hintSuffixLen:])
}
