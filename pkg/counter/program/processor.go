package program

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/solana-counter/pkg/counter"
	"github.com/code-payments/solana-counter/pkg/solana"
)

var (
	ErrNotEnoughAccountKeys = errors.New("not enough account keys")
	ErrIncorrectProgramID   = errors.New("counter account is not owned by the program")
	ErrReadonlyAccount      = errors.New("counter account is not writable")
)

// overflowErrorCode is the custom program error reported when the counter
// cannot be incremented further.
const overflowErrorCode solana.CustomError = 0

// Processor executes counter instructions against the accounts passed to a
// single invocation. It holds no state between invocations.
type Processor struct {
	log *logrus.Entry
}

func New() *Processor {
	return &Processor{
		log: logrus.StandardLogger().WithField("type", "counter/program"),
	}
}

// Process decodes and executes a single instruction. The counter account's
// data is only modified when every check passes, so any returned error leaves
// the accounts untouched.
func (p *Processor) Process(programID ed25519.PublicKey, accounts []*solana.InvokedAccount, data []byte) error {
	instruction, err := counter.DecodeInstruction(data)
	if err != nil {
		return err
	}

	switch instruction.Type() {
	case counter.InstructionTypeIncrement:
		return p.increment(programID, accounts)
	default:
		return errors.Wrapf(counter.ErrInvalidInstructionData, "unhandled instruction %d", instruction.Type())
	}
}

func (p *Processor) increment(programID ed25519.PublicKey, accounts []*solana.InvokedAccount) error {
	if len(accounts) < 1 {
		return ErrNotEnoughAccountKeys
	}

	account := accounts[0]
	log := p.log.WithFields(logrus.Fields{
		"method":  "increment",
		"account": base58.Encode(account.PublicKey),
	})

	if !bytes.Equal(account.Owner, programID) {
		log.Debug("counter account does not have the correct program id")
		return ErrIncorrectProgramID
	}
	if !account.IsWritable {
		return ErrReadonlyAccount
	}

	var state counter.Counter
	if err := state.Unmarshal(account.Data); err != nil {
		return err
	}

	next, err := state.Increment()
	if err != nil {
		return err
	}

	encoded, err := next.Marshal()
	if err != nil {
		return err
	}
	if len(account.Data) < len(encoded) {
		return counter.ErrAccountDataTooSmall
	}
	copy(account.Data, encoded)

	log.WithField("count", next.Count).Debug("counter incremented")
	return nil
}

// Entrypoint adapts Process to the runtime's Entrypoint signature, mapping
// errors onto the ledger's instruction errors.
func (p *Processor) Entrypoint(programID ed25519.PublicKey, accounts []*solana.InvokedAccount, data []byte) error {
	err := p.Process(programID, accounts, data)
	if err == nil {
		return nil
	}

	key, custom := toInstructionErrorKey(err)
	if custom != nil {
		return *custom
	}
	return solana.NewInstructionError(0, key)
}

func toInstructionErrorKey(err error) (solana.InstructionErrorKey, *solana.CustomError) {
	switch errors.Cause(err) {
	case counter.ErrInvalidInstructionData:
		return solana.InstructionErrorInvalidInstructionData, nil
	case counter.ErrMalformedState:
		return solana.InstructionErrorInvalidAccountData, nil
	case counter.ErrAccountDataTooSmall:
		return solana.InstructionErrorAccountDataTooSmall, nil
	case ErrIncorrectProgramID:
		return solana.InstructionErrorIncorrectProgramID, nil
	case ErrNotEnoughAccountKeys:
		return solana.InstructionErrorNotEnoughAccountKeys, nil
	case ErrReadonlyAccount:
		return solana.InstructionErrorReadonlyDataModified, nil
	case counter.ErrCounterOverflow:
		code := overflowErrorCode
		return solana.InstructionErrorCustom, &code
	default:
		return solana.InstructionErrorInvalidArgument, nil
	}
}

// FromInstructionError maps an instruction error reported by the ledger back
// to the error returned by Process. Errors that did not originate from the
// counter program are returned as is.
func FromInstructionError(err *solana.InstructionError) error {
	if err == nil {
		return nil
	}

	if custom := err.CustomError(); custom != nil {
		if *custom == overflowErrorCode {
			return counter.ErrCounterOverflow
		}
		return err
	}

	switch err.ErrorKey() {
	case solana.InstructionErrorInvalidInstructionData:
		return counter.ErrInvalidInstructionData
	case solana.InstructionErrorInvalidAccountData:
		return counter.ErrMalformedState
	case solana.InstructionErrorAccountDataTooSmall:
		return counter.ErrAccountDataTooSmall
	case solana.InstructionErrorIncorrectProgramID:
		return ErrIncorrectProgramID
	case solana.InstructionErrorNotEnoughAccountKeys:
		return ErrNotEnoughAccountKeys
	case solana.InstructionErrorReadonlyDataModified:
		return ErrReadonlyAccount
	}

	return err
}
