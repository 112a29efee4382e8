package bpfloader

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/solana-counter/pkg/solana/binary"
)

// StateType is the discriminant of UpgradeableLoaderState.
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/bpf_loader_upgradeable.rs#L31
type StateType uint32

const (
	StateUninitialized StateType = iota
	StateBuffer
	StateProgram
	StateProgramData
)

const (
	ProgramAccountSize = 4 + ed25519.PublicKeySize

	// ProgramDataMetadataSize is the size of the ProgramData header. The
	// program's ELF follows it in the same account.
	ProgramDataMetadataSize = 4 + 8 + 1 + ed25519.PublicKeySize
)

var (
	ErrInvalidAccountSize = errors.New("invalid loader account size")
	ErrInvalidStateType   = errors.New("unexpected loader state type")
)

// ProgramAccount is the state of an executable account owned by the
// upgradeable loader. The program's code lives in a separate ProgramData
// account.
type ProgramAccount struct {
	ProgramDataAddress ed25519.PublicKey
}

func (obj ProgramAccount) Marshal() []byte {
	res := make([]byte, ProgramAccountSize)

	var offset int
	binary.PutUint32(res[offset:], uint32(StateProgram), &offset)
	binary.PutKey32(res[offset:], obj.ProgramDataAddress, &offset)

	return res
}

func (obj *ProgramAccount) Unmarshal(data []byte) error {
	if len(data) < ProgramAccountSize {
		return ErrInvalidAccountSize
	}

	var offset int
	var stateType uint32
	binary.GetUint32(data[offset:], &stateType, &offset)
	if StateType(stateType) != StateProgram {
		return errors.Wrapf(ErrInvalidStateType, "expected program, got %d", stateType)
	}

	binary.GetKey32(data[offset:], &obj.ProgramDataAddress, &offset)

	return nil
}

// ProgramDataAccount is the header of the account holding an upgradeable
// program's code.
type ProgramDataAccount struct {
	Slot             uint64
	UpgradeAuthority ed25519.PublicKey
	Code             []byte
}

func (obj ProgramDataAccount) Marshal() []byte {
	res := make([]byte, ProgramDataMetadataSize+len(obj.Code))

	var offset int
	binary.PutUint32(res[offset:], uint32(StateProgramData), &offset)
	binary.PutUint64(res[offset:], obj.Slot, &offset)
	binary.PutOptionalKey32(res[offset:], obj.UpgradeAuthority, &offset, 1)
	copy(res[offset:], obj.Code)

	return res
}

func (obj *ProgramDataAccount) Unmarshal(data []byte) error {
	if len(data) < ProgramDataMetadataSize {
		return ErrInvalidAccountSize
	}

	var offset int
	var stateType uint32
	binary.GetUint32(data[offset:], &stateType, &offset)
	if StateType(stateType) != StateProgramData {
		return errors.Wrapf(ErrInvalidStateType, "expected program data, got %d", stateType)
	}

	binary.GetUint64(data[offset:], &obj.Slot, &offset)
	binary.GetOptionalKey32(data[offset:], &obj.UpgradeAuthority, &offset, 1)
	obj.Code = append([]byte(nil), data[offset:]...)

	return nil
}
