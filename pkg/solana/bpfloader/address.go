package bpfloader

import (
	"crypto/ed25519"

	"github.com/code-payments/solana-counter/pkg/solana"
)

// GetProgramDataAddress returns the address of the ProgramData account backing
// an upgradeable program.
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/bpf_loader_upgradeable.rs#L104
func GetProgramDataAddress(program ed25519.PublicKey) (ed25519.PublicKey, error) {
	return solana.FindProgramAddress(UpgradeableProgramKey, program)
}
