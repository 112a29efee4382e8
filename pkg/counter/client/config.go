package client

import (
	"github.com/code-payments/solana-counter/pkg/solana"
)

// DefaultSeed is the seed the counter account address is derived with.
const DefaultSeed = "COUNTER"

// Config configures a Client.
type Config struct {
	// Seed is combined with the payer and program to derive the counter
	// account address. Defaults to DefaultSeed.
	Seed string

	// ProgramPath is the location of the built program artifact. It is only
	// used to explain why a program is missing.
	ProgramPath string

	// Commitment is the commitment level reads and confirmations use.
	// Defaults to solana.CommitmentConfirmed.
	Commitment solana.Commitment
}

func (c Config) withDefaults() Config {
	if len(c.Seed) == 0 {
		c.Seed = DefaultSeed
	}
	if len(c.Commitment.Commitment) == 0 {
		c.Commitment = solana.CommitmentConfirmed
	}
	return c
}
