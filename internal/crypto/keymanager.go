// Package crypto holds the settlement engine's key material handling: the
// per-market choice codec, the operator key file, and EIP-712 signing of
// ledger proposals.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

const (
	// MarketKeyLen is the size of a per-market AES-256 key.
	MarketKeyLen = 32

	pbkdf2Iterations = 480_000
	saltLen          = 16
	sealedKeyVersion = 1
)

// GenerateMarketKey returns a fresh random market key, hex encoded.
func GenerateMarketKey() (string, error) {
	key := make([]byte, MarketKeyLen)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("crypto: generating market key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// ParseMarketKey decodes a hex market key and enforces its length.
func ParseMarketKey(keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: %w: not hex", domain.ErrInvalidMarketKey)
	}
	if len(key) != MarketKeyLen {
		return nil, fmt.Errorf("crypto: %w: expected %d bytes, got %d", domain.ErrInvalidMarketKey, MarketKeyLen, len(key))
	}
	return key, nil
}

// sealedKeyFile is the on-disk format of a password-protected operator key.
type sealedKeyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig tells LoadOperatorKey where the operator signing key lives.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// SealOperatorKey protects a hex secp256k1 key with a password
// (PBKDF2-HMAC-SHA256 then AES-256-GCM) and returns the JSON key file.
func SealOperatorKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := passwordGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	file := sealedKeyFile{
		Version:    sealedKeyVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	if s, err := NewSigner(privateKeyHex, 0); err == nil {
		file.Address = s.Address().Hex()
	}
	return json.MarshalIndent(file, "", "  ")
}

// OpenOperatorKey reverses SealOperatorKey and returns the key as hex
// without a 0x prefix.
func OpenOperatorKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var file sealedKeyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return "", fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if file.Version != sealedKeyVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", file.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(file.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(file.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := passwordGCM(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce must be %d bytes", gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadOperatorKey resolves the operator key: a raw key wins over a key file.
// It returns "" with no error when neither is configured, which leaves
// proposals unsigned.
func LoadOperatorKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not valid hex: %w", err)
		}
		return k, nil
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading key file: %w", err)
		}
		return OpenOperatorKey(data, cfg.KeyPassword)
	}
	return "", nil
}

func passwordGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
