package crypto

import "sync"

// FallbackKey is used when startup configuration never supplies a key.
const FallbackKey = "headlink-default-key"

// KeyHolder carries the application-wide default key. It is configured once by
// the startup code and read by anything that needs the key afterwards.
//
// The key is supplied as a function so that configuration can defer reading
// it; the function runs at most once, on first read.
type KeyHolder struct {
	mu     sync.Mutex
	source func() string
	set    bool

	resolve sync.Once
	key     string
}

// NewKeyHolder returns an unconfigured holder.
func NewKeyHolder() *KeyHolder {
	return &KeyHolder{}
}

// Set installs the key source. It fails with ErrKeyAlreadySet on any later
// call, and also when the key has already been read.
func (k *KeyHolder) Set(source func() string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.set {
		return ErrKeyAlreadySet
	}
	k.set = true
	k.source = source
	return nil
}

// Key returns the configured key, or FallbackKey when none was set or the
// source produced an empty string. Every call returns the same value.
func (k *KeyHolder) Key() string {
	k.resolve.Do(func() {
		k.mu.Lock()
		// Freeze the holder so a late Set cannot change what readers saw.
		source := k.source
		k.set = true
		k.mu.Unlock()

		if source != nil {
			k.key = source()
		}
		if k.key == "" {
			NewLogger("Key").Warn("No default key configured, using fallback key")
			k.key = FallbackKey
		}
	})
	return k.key
}

// Helper returns an AESHelper over the default key.
func (k *KeyHolder) Helper() (*AESHelper, error) {
	return NewAESHelper(k.Key())
}
