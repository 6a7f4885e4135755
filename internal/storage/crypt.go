package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	gcmMagic   = "GCM3NCR0"
	saltSize   = 16
	nonceSize  = 12
	tagSize    = 16
	kdfRounds  = 100000
	keyLength  = 32
	headerSize = len(gcmMagic) + saltSize + nonceSize
)

// ErrNotEncrypted is returned when data lacks the GCM3NCR0 header.
var ErrNotEncrypted = errors.New("data is not GCM3NCR0 encrypted")

func gcmFor(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, kdfRounds, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals data as magic(8) + salt(16) + nonce(12) + ciphertext + tag(16).
func Encrypt(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltSize)
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := gcmFor(password, salt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerSize+len(data)+tagSize)
	out = append(out, gcmMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Decrypt opens data produced by Encrypt.
func Decrypt(data []byte, password string) ([]byte, error) {
	if len(data) < headerSize+tagSize || string(data[:len(gcmMagic)]) != gcmMagic {
		return nil, ErrNotEncrypted
	}
	salt := data[len(gcmMagic) : len(gcmMagic)+saltSize]
	nonce := data[len(gcmMagic)+saltSize : headerSize]
	gcm, err := gcmFor(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, data[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}
