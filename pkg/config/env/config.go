package env

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/code-payments/solana-counter/pkg/config"
	"github.com/code-payments/solana-counter/pkg/config/wrapper"
)

type conf struct {
	val string
}

// NewConfig returns a config backed by the environment variable key, upper
// cased. The variable is read once. Surrounding whitespace is ignored, so a
// blank variable behaves as if it were unset.
func NewConfig(key string) config.Config {
	return &conf{
		val: strings.TrimSpace(os.Getenv(strings.ToUpper(key))),
	}
}

// Get implements Config.Get
func (c *conf) Get(_ context.Context) (interface{}, error) {
	if len(c.val) == 0 {
		return nil, config.ErrNoValue
	}

	return []byte(c.val), nil
}

// Shutdown implements Config.Shutdown
func (c *conf) Shutdown() {
}

// NewUint64Config creates a env-based uint64 config
func NewUint64Config(key string, defaultValue uint64) config.Uint64 {
	return wrapper.NewUint64Config(NewConfig(key), defaultValue)
}

// NewBoolConfig creates a env-based bool config
func NewBoolConfig(key string, defaultValue bool) config.Bool {
	return wrapper.NewBoolConfig(NewConfig(key), defaultValue)
}

// NewDurationConfig creates a env-based duration config
func NewDurationConfig(key string, defaultValue time.Duration) config.Duration {
	return wrapper.NewDurationConfig(NewConfig(key), defaultValue)
}
