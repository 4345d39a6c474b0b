package address

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultOnce     sync.Once
	defaultProvider *Provider[uint64]
)

// Default returns the process-wide provider shared by addressable entities. It
// is created with randomisation on the first call. If the system entropy
// source fails, the provider is created without a mask instead.
func Default() *Provider[uint64] {
	defaultOnce.Do(func() {
		p, err := NewProvider[uint64](WithRandomization(true))
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Default",
				"package":  "address",
				"error":    err.Error(),
			}).Warn("Falling back to unmasked default address provider")
			p, _ = NewProvider[uint64]()
		}
		defaultProvider = p
	})
	return defaultProvider
}
