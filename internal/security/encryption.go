// Package security protects the service token at rest and guards output paths.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltFile   = ".key"
	saltSize   = 32
	keySize    = 32 // AES-256
	pbkdf2Iter = 100000

	minTokenLength = 20
)

var errEmptyToken = errors.New("token cannot be empty")

// TokenEncryptor seals the account token kept in the config file. The key is
// derived from a per-installation salt and the host and user names, so a
// sealed token copied to another machine does not open.
type TokenEncryptor struct {
	saltPath string
}

// NewTokenEncryptor creates an encryptor keeping its salt in dataDir
func NewTokenEncryptor(dataDir string) *TokenEncryptor {
	return &TokenEncryptor{saltPath: filepath.Join(dataDir, saltFile)}
}

// ValidateToken checks that a token looks like an OAuth token
func ValidateToken(token string) error {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return errEmptyToken
	case len(token) < minTokenLength:
		return fmt.Errorf("token is too short")
	case strings.ContainsAny(token, " \t\r\n"):
		return fmt.Errorf("token cannot contain whitespace")
	}
	return nil
}

// EncryptToken seals a token as base64(nonce || ciphertext). The salt is
// created on first use.
func (te *TokenEncryptor) EncryptToken(token string) (string, error) {
	if token == "" {
		return "", errEmptyToken
	}

	aead, err := te.aead(true)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	return base64.StdEncoding.EncodeToString(aead.Seal(nonce, nonce, []byte(token), nil)), nil
}

// DecryptToken opens a token sealed by EncryptToken
func (te *TokenEncryptor) DecryptToken(sealed string) (string, error) {
	if sealed == "" {
		return "", fmt.Errorf("encrypted token cannot be empty")
	}

	aead, err := te.aead(false)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode token: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	token, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}
	return string(token), nil
}

// aead builds the AES-GCM cipher, creating the salt when create is set and
// none exists yet
func (te *TokenEncryptor) aead(create bool) (cipher.AEAD, error) {
	salt, err := te.readSalt()
	if err != nil && create {
		salt, err = te.writeSalt()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption key: %w", err)
	}

	key := pbkdf2.Key([]byte(machineID()), salt, pbkdf2Iter, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (te *TokenEncryptor) readSalt() ([]byte, error) {
	data, err := os.ReadFile(te.saltPath)
	if err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil || len(salt) != saltSize {
		return nil, fmt.Errorf("invalid key file %s", te.saltPath)
	}
	return salt, nil
}

// writeSalt stores a fresh salt readable by the owner only
func (te *TokenEncryptor) writeSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(te.saltPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(te.saltPath, []byte(base64.StdEncoding.EncodeToString(salt)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return salt, nil
}

// machineID joins the host and user names
func machineID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "default-machine"
	}

	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "default-user"
	}

	return host + ":" + user
}
