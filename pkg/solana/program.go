package solana

import (
	"crypto/ed25519"
)

// InvokedAccount is an account as seen by a program during instruction
// execution. Programs may mutate Data in place; the runtime decides whether
// the mutation is committed.
type InvokedAccount struct {
	PublicKey  ed25519.PublicKey
	Owner      ed25519.PublicKey
	Lamports   uint64
	Data       []byte
	Executable bool
	IsSigner   bool
	IsWritable bool
}

// Entrypoint is the signature of an on-chain program's instruction handler.
// Returned errors should be an *InstructionError, or a CustomError.
type Entrypoint func(program ed25519.PublicKey, accounts []*InvokedAccount, data []byte) error
