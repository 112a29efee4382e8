package system

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/code-payments/solana-counter/pkg/solana"
	solbinary "github.com/code-payments/solana-counter/pkg/solana/binary"
)

var ProgramKey [32]byte

const (
	commandCreateAccount uint32 = iota
	// nolint:varcheck,deadcode,unused
	commandAssign
	commandTransfer
	commandCreateAccountWithSeed
	// nolint:varcheck,deadcode,unused
	commandAdvanceNonceAccount
	// nolint:varcheck,deadcode,unused
	commandWithdrawNonceAccount
	// nolint:varcheck,deadcode,unused
	commandInitializeNonceAccount
	// nolint:varcheck,deadcode,unused
	commandAuthorizeNonceAccount
	// nolint:varcheck,deadcode,unused
	commandAllocate
)

// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/system_instruction.rs#L58-L72
func CreateAccount(funder, address, owner ed25519.PublicKey, lamports, size uint64) solana.Instruction {
	// # Account references
	//   0. [WRITE, SIGNER] Funding account
	//   1. [WRITE, SIGNER] New account
	//
	// CreateAccount {
	//   // Number of lamports to transfer to the new account
	//   lamports: u64,
	//   // Number of bytes of memory to allocate
	//   space: u64,
	//
	//   //Address of program that will own the new account
	//   owner: Pubkey,
	// }
	//
	data := make([]byte, 4+2*8+32)

	var offset int
	solbinary.PutUint32(data[offset:], commandCreateAccount, &offset)
	solbinary.PutUint64(data[offset:], lamports, &offset)
	solbinary.PutUint64(data[offset:], size, &offset)
	solbinary.PutKey32(data[offset:], owner, &offset)

	return solana.NewInstruction(
		ProgramKey[:],
		data,
		solana.NewAccountMeta(funder, true),
		solana.NewAccountMeta(address, true),
	)
}

type DecompiledCreateAccount struct {
	Funder  ed25519.PublicKey
	Address ed25519.PublicKey

	Lamports uint64
	Size     uint64
	Owner    ed25519.PublicKey
}

func DecompileCreateAccount(m solana.Message, index int) (*DecompiledCreateAccount, error) {
	i, err := checkInstruction(m, index, commandCreateAccount)
	if err != nil {
		return nil, err
	}

	if len(i.Accounts) != 2 {
		return nil, errors.Errorf("invalid number of accounts: %d", len(i.Accounts))
	}
	if len(i.Data) != 52 {
		return nil, errors.Errorf("invalid instruction data size: %d", len(i.Data))
	}

	v := &DecompiledCreateAccount{
		Funder:  m.Accounts[i.Accounts[0]],
		Address: m.Accounts[i.Accounts[1]],
	}

	offset := 4
	solbinary.GetUint64(i.Data[offset:], &v.Lamports, &offset)
	solbinary.GetUint64(i.Data[offset:], &v.Size, &offset)
	solbinary.GetKey32(i.Data[offset:], &v.Owner, &offset)

	return v, nil
}

// CreateAccountWithSeed creates an account at the address derived from
// base, seed and owner (see solana.CreateWithSeed). Only base needs to sign,
// and it may be the same key as the funder.
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/system_instruction.rs#L92-L106
func CreateAccountWithSeed(funder, address, base ed25519.PublicKey, seed string, lamports, size uint64, owner ed25519.PublicKey) solana.Instruction {
	// # Account references
	//   0. [WRITE, SIGNER] Funding account
	//   1. [WRITE] Created account
	//   2. [SIGNER] Base account
	//
	// CreateAccountWithSeed {
	//   base: Pubkey,
	//   seed: String,
	//   lamports: u64,
	//   space: u64,
	//   owner: Pubkey,
	// }
	data := make([]byte, 4+32+8+len(seed)+2*8+32)

	var offset int
	solbinary.PutUint32(data[offset:], commandCreateAccountWithSeed, &offset)
	solbinary.PutKey32(data[offset:], base, &offset)
	solbinary.PutUint64(data[offset:], uint64(len(seed)), &offset)
	offset += copy(data[offset:], seed)
	solbinary.PutUint64(data[offset:], lamports, &offset)
	solbinary.PutUint64(data[offset:], size, &offset)
	solbinary.PutKey32(data[offset:], owner, &offset)

	return solana.NewInstruction(
		ProgramKey[:],
		data,
		solana.NewAccountMeta(funder, true),
		solana.NewAccountMeta(address, false),
		solana.NewReadonlyAccountMeta(base, true),
	)
}

type DecompiledCreateAccountWithSeed struct {
	Funder  ed25519.PublicKey
	Address ed25519.PublicKey
	Base    ed25519.PublicKey

	Seed     string
	Lamports uint64
	Size     uint64
	Owner    ed25519.PublicKey
}

func DecompileCreateAccountWithSeed(m solana.Message, index int) (*DecompiledCreateAccountWithSeed, error) {
	i, err := checkInstruction(m, index, commandCreateAccountWithSeed)
	if err != nil {
		return nil, err
	}

	if len(i.Accounts) != 3 {
		return nil, errors.Errorf("invalid number of accounts: %d", len(i.Accounts))
	}

	const fixedSize = 4 + 32 + 8 + 2*8 + 32
	if len(i.Data) < fixedSize {
		return nil, errors.Errorf("invalid instruction data size: %d", len(i.Data))
	}

	v := &DecompiledCreateAccountWithSeed{
		Funder:  m.Accounts[i.Accounts[0]],
		Address: m.Accounts[i.Accounts[1]],
		Base:    m.Accounts[i.Accounts[2]],
	}

	var encodedBase ed25519.PublicKey
	var seedLen uint64
	offset := 4
	solbinary.GetKey32(i.Data[offset:], &encodedBase, &offset)
	solbinary.GetUint64(i.Data[offset:], &seedLen, &offset)

	if seedLen != uint64(len(i.Data)-fixedSize) {
		return nil, errors.Errorf("invalid seed length: %d", seedLen)
	}
	if !bytes.Equal(encodedBase, v.Base) {
		return nil, errors.New("base account does not match instruction data")
	}

	v.Seed = string(i.Data[offset : offset+int(seedLen)])
	offset += int(seedLen)

	solbinary.GetUint64(i.Data[offset:], &v.Lamports, &offset)
	solbinary.GetUint64(i.Data[offset:], &v.Size, &offset)
	solbinary.GetKey32(i.Data[offset:], &v.Owner, &offset)

	return v, nil
}

// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/system_instruction.rs#L79-L84
func Transfer(from, to ed25519.PublicKey, lamports uint64) solana.Instruction {
	// # Account references
	//   0. [WRITE, SIGNER] Funding account
	//   1. [WRITE] Recipient account
	data := make([]byte, 4+8)

	var offset int
	solbinary.PutUint32(data[offset:], commandTransfer, &offset)
	solbinary.PutUint64(data[offset:], lamports, &offset)

	return solana.NewInstruction(
		ProgramKey[:],
		data,
		solana.NewAccountMeta(from, true),
		solana.NewAccountMeta(to, false),
	)
}

type DecompiledTransfer struct {
	From     ed25519.PublicKey
	To       ed25519.PublicKey
	Lamports uint64
}

func DecompileTransfer(m solana.Message, index int) (*DecompiledTransfer, error) {
	i, err := checkInstruction(m, index, commandTransfer)
	if err != nil {
		return nil, err
	}

	if len(i.Accounts) != 2 {
		return nil, errors.Errorf("invalid number of accounts: %d", len(i.Accounts))
	}
	if len(i.Data) != 12 {
		return nil, errors.Errorf("invalid instruction data size: %d", len(i.Data))
	}

	v := &DecompiledTransfer{
		From: m.Accounts[i.Accounts[0]],
		To:   m.Accounts[i.Accounts[1]],
	}
	v.Lamports = binary.LittleEndian.Uint64(i.Data[4:])

	return v, nil
}

func checkInstruction(m solana.Message, index int, command uint32) (solana.CompiledInstruction, error) {
	i, err := solana.CompiledInstructionAt(m, index, ProgramKey[:])
	if err != nil {
		return i, err
	}

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], command)
	if !bytes.HasPrefix(i.Data, prefix[:]) {
		return i, solana.ErrIncorrectInstruction
	}

	return i, nil
}
