package crypto

import "errors"

var (
	// ErrInvalidCiphertext is returned when input to Decrypt is not a whole
	// number of blocks or carries invalid padding.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrEmptyPassphrase is returned when an AES helper is built from an empty key.
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")

	// ErrKeyAlreadySet is returned when the default key is configured twice.
	ErrKeyAlreadySet = errors.New("default key already set")

	// ErrSecretNotFound is returned when an archive has no secret by that name.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrInvalidSecretName is returned for names that are empty or would
	// escape the archive directory.
	ErrInvalidSecretName = errors.New("invalid secret name")
)
