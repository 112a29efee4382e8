package counter

import (
	"crypto/ed25519"

	"github.com/near/borsh-go"
	"github.com/pkg/errors"

	"github.com/code-payments/solana-counter/pkg/solana"
)

// InstructionType is the tag identifying an instruction variant.
type InstructionType uint8

const (
	InstructionTypeIncrement InstructionType = iota
)

func (t InstructionType) String() string {
	switch t {
	case InstructionTypeIncrement:
		return "increment"
	}
	return "unknown"
}

// ErrInvalidInstructionData indicates instruction data that does not decode to
// a known instruction.
var ErrInvalidInstructionData = errors.New("invalid instruction data")

// Instruction is the set of operations understood by the counter program.
// Enum selects the variant; only the selected variant's fields are encoded.
type Instruction struct {
	Enum      borsh.Enum `borsh_enum:"true"`
	Increment IncrementArgs
}

// IncrementArgs carries no fields: increment always adds one.
type IncrementArgs struct{}

// NewIncrement returns the Increment instruction.
func NewIncrement() Instruction {
	return Instruction{Enum: borsh.Enum(InstructionTypeIncrement)}
}

// Type returns the instruction's variant.
func (i Instruction) Type() InstructionType {
	return InstructionType(i.Enum)
}

func (i Instruction) Marshal() ([]byte, error) {
	if i.Type() != InstructionTypeIncrement {
		return nil, errors.Wrapf(ErrInvalidInstructionData, "unknown instruction type %d", i.Enum)
	}

	b, err := borsh.Serialize(i)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode instruction")
	}
	return b, nil
}

// DecodeInstruction decodes instruction data. Empty data, unknown tags and
// trailing bytes are all rejected.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return Instruction{}, errors.Wrap(ErrInvalidInstructionData, "empty instruction data")
	}

	switch InstructionType(data[0]) {
	case InstructionTypeIncrement:
		if len(data) != 1 {
			return Instruction{}, errors.Wrapf(ErrInvalidInstructionData, "%d trailing bytes", len(data)-1)
		}
	default:
		return Instruction{}, errors.Wrapf(ErrInvalidInstructionData, "unknown instruction type %d", data[0])
	}

	var i Instruction
	if err := borsh.Deserialize(&i, data); err != nil {
		return Instruction{}, errors.Wrap(ErrInvalidInstructionData, err.Error())
	}
	return i, nil
}

// NewIncrementInstruction returns the ledger instruction that increments the
// counter held in the provided account.
func NewIncrementInstruction(program, counterAccount ed25519.PublicKey) (solana.Instruction, error) {
	// # Account references
	//   0. [WRITE] Counter account, owned by program
	data, err := NewIncrement().Marshal()
	if err != nil {
		return solana.Instruction{}, err
	}

	return solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(counterAccount, false),
	), nil
}

type DecompiledIncrement struct {
	Program        ed25519.PublicKey
	CounterAccount ed25519.PublicKey
}

func DecompileIncrement(m solana.Message, program ed25519.PublicKey, index int) (*DecompiledIncrement, error) {
	i, err := solana.CompiledInstructionAt(m, index, program)
	if err != nil {
		return nil, err
	}

	decoded, err := DecodeInstruction(i.Data)
	if err != nil || decoded.Type() != InstructionTypeIncrement {
		return nil, solana.ErrIncorrectInstruction
	}

	if len(i.Accounts) != 1 {
		return nil, errors.Errorf("invalid number of accounts: %d", len(i.Accounts))
	}
	if !m.IsWritable(int(i.Accounts[0])) {
		return nil, errors.New("counter account is not writable")
	}

	return &DecompiledIncrement{
		Program:        m.Accounts[i.ProgramIndex],
		CounterAccount: m.Accounts[i.Accounts[0]],
	}, nil
}
