package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ArchiveVersion is the header version written before every archived secret.
const ArchiveVersion = 1

const archiveExt = ".secret"

// SecretArchive stores named secrets in a directory, encrypted at rest with an
// AESHelper. File format: [version:2][ciphertext:N].
type SecretArchive struct {
	dir    string
	helper *AESHelper
}

// NewSecretArchive opens (creating if needed) an archive rooted at dir.
func NewSecretArchive(dir string, helper *AESHelper) (*SecretArchive, error) {
	if helper == nil {
		return nil, errors.New("secret archive requires an AES helper")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	NewLogger("NewSecretArchive").WithField("dir", dir).Info("Secret archive opened")
	return &SecretArchive{dir: dir, helper: helper}, nil
}

// Put encrypts and writes a secret, replacing any previous value.
func (a *SecretArchive) Put(name string, secret []byte) error {
	path, err := a.path(name)
	if err != nil {
		return err
	}

	ciphertext, err := a.helper.Encrypt(secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	output := make([]byte, 2+len(ciphertext))
	binary.BigEndian.PutUint16(output[0:2], ArchiveVersion)
	copy(output[2:], ciphertext)

	// Write to a temporary file and rename so readers never see partial data.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, output, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	NewLogger("Put").WithField("name", name).WithField("size", len(secret)).Debug("Secret archived")
	return nil
}

// Get reads and decrypts a secret.
func (a *SecretArchive) Get(name string) ([]byte, error) {
	path, err := a.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	if len(data) < 2 {
		return nil, fmt.Errorf("%w: file too short", ErrInvalidCiphertext)
	}
	if version := binary.BigEndian.Uint16(data[0:2]); version != ArchiveVersion {
		return nil, fmt.Errorf("unsupported archive version: %d (expected %d)", version, ArchiveVersion)
	}

	plaintext, err := a.helper.Decrypt(data[2:])
	if err != nil {
		NewLogger("Get").WithError(err, "decrypt").WithField("name", name).Warn("Archived secret failed to decrypt")
		return nil, err
	}
	return plaintext, nil
}

// Delete overwrites a secret with zeros and removes it. Deleting a missing
// secret is not an error.
func (a *SecretArchive) Delete(name string) error {
	path, err := a.path(name)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat secret: %w", err)
	}

	// Best effort overwrite before unlinking.
	_ = os.WriteFile(path, make([]byte, info.Size()), 0o600)
	return os.Remove(path)
}

// List returns the names of all archived secrets in sorted order.
func (a *SecretArchive) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), archiveExt))
	}
	sort.Strings(names)
	return names, nil
}

func (a *SecretArchive) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSecretName, name)
	}
	return filepath.Join(a.dir, name+archiveExt), nil
}
