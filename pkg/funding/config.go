package funding

import (
	"time"

	"github.com/code-payments/solana-counter/pkg/config"
	"github.com/code-payments/solana-counter/pkg/config/env"
	"github.com/code-payments/solana-counter/pkg/config/memory"
	"github.com/code-payments/solana-counter/pkg/config/wrapper"
)

const (
	envConfigPrefix = "FUNDING_"

	AirdropEnabledConfigEnvName = envConfigPrefix + "AIRDROP_ENABLED"
	defaultAirdropEnabled       = true

	AirdropTimeoutConfigEnvName = envConfigPrefix + "AIRDROP_TIMEOUT"
	defaultAirdropTimeout       = 60 * time.Second

	AirdropMaxPollsConfigEnvName = envConfigPrefix + "AIRDROP_MAX_POLLS"
	defaultAirdropMaxPolls       = 120

	AirdropPollIntervalConfigEnvName = envConfigPrefix + "AIRDROP_POLL_INTERVAL"
	defaultAirdropPollInterval       = 500 * time.Millisecond
)

type conf struct {
	airdropEnabled      config.Bool
	airdropTimeout      config.Duration
	airdropMaxPolls     config.Uint64
	airdropPollInterval config.Duration
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			airdropEnabled:      env.NewBoolConfig(AirdropEnabledConfigEnvName, defaultAirdropEnabled),
			airdropTimeout:      env.NewDurationConfig(AirdropTimeoutConfigEnvName, defaultAirdropTimeout),
			airdropMaxPolls:     env.NewUint64Config(AirdropMaxPollsConfigEnvName, defaultAirdropMaxPolls),
			airdropPollInterval: env.NewDurationConfig(AirdropPollIntervalConfigEnvName, defaultAirdropPollInterval),
		}
	}
}

// TestOverrides are the config values used by WithTestOverrides. Zero values
// fall back to the defaults, except AirdropDisabled.
type TestOverrides struct {
	AirdropDisabled     bool
	AirdropTimeout      time.Duration
	AirdropMaxPolls     uint64
	AirdropPollInterval time.Duration
}

// WithTestOverrides returns in memory configuration for tests.
func WithTestOverrides(overrides *TestOverrides) ConfigProvider {
	return func() *conf {
		if overrides == nil {
			overrides = &TestOverrides{}
		}

		timeout := defaultAirdropTimeout
		if overrides.AirdropTimeout > 0 {
			timeout = overrides.AirdropTimeout
		}

		var maxPolls uint64 = defaultAirdropMaxPolls
		if overrides.AirdropMaxPolls > 0 {
			maxPolls = overrides.AirdropMaxPolls
		}

		interval := time.Millisecond
		if overrides.AirdropPollInterval > 0 {
			interval = overrides.AirdropPollInterval
		}

		return &conf{
			airdropEnabled:      wrapper.NewBoolConfig(memory.NewConfig(!overrides.AirdropDisabled), defaultAirdropEnabled),
			airdropTimeout:      wrapper.NewDurationConfig(memory.NewConfig(timeout), defaultAirdropTimeout),
			airdropMaxPolls:     wrapper.NewUint64Config(memory.NewConfig(maxPolls), defaultAirdropMaxPolls),
			airdropPollInterval: wrapper.NewDurationConfig(memory.NewConfig(interval), defaultAirdropPollInterval),
		}
	}
}
