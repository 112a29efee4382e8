package bpfloader

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"
)

// UpgradeableProgramKey is the address of the upgradeable BPF loader, which
// owns programs deployed by `solana program deploy`.
//
// Source: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/bpf_loader_upgradeable.rs#L28
var UpgradeableProgramKey ed25519.PublicKey

// ProgramKey is the address of the (non-upgradeable) BPF loader v2.
//
// Source: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/bpf_loader.rs#L21
var ProgramKey ed25519.PublicKey

// DeprecatedProgramKey is the address of the original BPF loader.
//
// Source: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/bpf_loader_deprecated.rs#L8
var DeprecatedProgramKey ed25519.PublicKey

func init() {
	var err error

	UpgradeableProgramKey, err = base58.Decode("BPFLoaderUpgradeab1e11111111111111111111111")
	if err != nil {
		panic(err)
	}

	ProgramKey, err = base58.Decode("BPFLoader2111111111111111111111111111111111")
	if err != nil {
		panic(err)
	}

	DeprecatedProgramKey, err = base58.Decode("BPFLoader1111111111111111111111111111111111")
	if err != nil {
		panic(err)
	}
}

// IsUpgradeableLoader reports whether owner is the upgradeable BPF loader.
func IsUpgradeableLoader(owner ed25519.PublicKey) bool {
	return bytes.Equal(owner, UpgradeableProgramKey)
}

// IsLegacyLoader reports whether owner is one of the non-upgradeable BPF loaders.
func IsLegacyLoader(owner ed25519.PublicKey) bool {
	return bytes.Equal(owner, ProgramKey) || bytes.Equal(owner, DeprecatedProgramKey)
}
