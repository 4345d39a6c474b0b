package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// ivSalt is appended to the passphrase before hashing it into IV material, so
// the key and IV come from independent digests.
const ivSalt = "::headlink-iv"

// AESHelper encrypts and decrypts with AES-256-CBC using a key and IV derived
// deterministically from a passphrase. Equal plaintexts produce equal
// ciphertexts. It protects secrets at rest and is not a channel cipher; callers
// that need per-message keys layer them on top.
type AESHelper struct {
	key [32]byte
	iv  [aes.BlockSize]byte
}

// NewAESHelper derives key material from passphrase. The key is the SHA-256 of
// the passphrase and the IV is the first block of the SHA-256 of the salted
// passphrase.
func NewAESHelper(passphrase string) (*AESHelper, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	h := &AESHelper{}
	keyMaterial := deriveMaterial(passphrase)
	ivMaterial := deriveMaterial(passphrase + ivSalt)
	copy(h.key[:], keyMaterial[:])
	copy(h.iv[:], ivMaterial[:aes.BlockSize])
	ZeroBytes(keyMaterial[:])
	ZeroBytes(ivMaterial[:])

	NewLogger("NewAESHelper").
		WithField("key_size", len(h.key)).
		WithField("iv_size", len(h.iv)).
		Debug("AES helper derived key material")
	return h, nil
}

// Encrypt pads plaintext with PKCS#7 and encrypts it.
func (h *AESHelper) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(h.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, h.iv[:]).CryptBlocks(out, padded)
	ZeroBytes(padded)
	return out, nil
}

// Decrypt reverses Encrypt.
func (h *AESHelper) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a positive multiple of %d", ErrInvalidCiphertext, len(ciphertext), aes.BlockSize)
	}

	block, err := aes.NewCipher(h.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, h.iv[:]).CryptBlocks(out, ciphertext)

	plaintext, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		ZeroBytes(out)
		return nil, err
	}
	return plaintext, nil
}

// EncryptString encrypts text and returns standard base64.
func (h *AESHelper) EncryptString(text string) (string, error) {
	out, err := h.Encrypt([]byte(text))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptString reverses EncryptString.
func (h *AESHelper) DecryptString(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	out, err := h.Decrypt(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Close wipes the derived key material. The helper must not be used afterwards.
func (h *AESHelper) Close() {
	ZeroBytes(h.key[:])
	ZeroBytes(h.iv[:])
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	copy(out[len(data):], bytes.Repeat([]byte{byte(n)}, n))
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidCiphertext
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
		}
	}
	return data[:len(data)-n], nil
}
