package solana

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/ybbus/jsonrpc"
)

// TransactionErrorKey identifies a transaction level failure, as reported in
// the "err" field of RPC responses.
//
// Source: https://github.com/solana-labs/solana/blob/fc2bf2d3b669d1c6655ae48b0a05f470938f3676/sdk/src/transaction/mod.rs#L37
type TransactionErrorKey string

// Failures raised before any instruction executes.
const (
	TransactionErrorAccountLoadedTwice         TransactionErrorKey = "AccountLoadedTwice"
	TransactionErrorAccountNotFound            TransactionErrorKey = "AccountNotFound"
	TransactionErrorProgramAccountNotFound     TransactionErrorKey = "ProgramAccountNotFound"
	TransactionErrorInsufficientFundsForFee    TransactionErrorKey = "InsufficientFundsForFee"
	TransactionErrorInvalidAccountForFee       TransactionErrorKey = "InvalidAccountForFee"
	TransactionErrorDuplicateSignature         TransactionErrorKey = "DuplicateSignature"
	TransactionErrorBlockhashNotFound          TransactionErrorKey = "BlockhashNotFound"
	TransactionErrorMissingSignatureForFee     TransactionErrorKey = "MissingSignatureForFee"
	TransactionErrorInvalidAccountIndex        TransactionErrorKey = "InvalidAccountIndex"
	TransactionErrorSignatureFailure           TransactionErrorKey = "SignatureFailure"
	TransactionErrorInvalidProgramForExecution TransactionErrorKey = "InvalidProgramForExecution"
	TransactionErrorSanitizeFailure            TransactionErrorKey = "SanitizeFailure"
	TransactionErrorUnsupportedVersion         TransactionErrorKey = "UnsupportedVersion"
	TransactionErrorInvalidWritableAccount     TransactionErrorKey = "InvalidWritableAccount"
)

// Failures reported by the cluster rather than the transaction itself.
const (
	TransactionErrorInternal                     TransactionErrorKey = "Internal"
	TransactionErrorAccountInUse                 TransactionErrorKey = "AccountInUse"
	TransactionErrorCallChainTooDeep             TransactionErrorKey = "CallChainTooDeep"
	TransactionErrorClusterMaintenance           TransactionErrorKey = "ClusterMaintenance"
	TransactionErrorAccountBorrowOutstanding     TransactionErrorKey = "AccountBorrowOutstanding"
	TransactionErrorWouldExceedMaxBlockCostLimit TransactionErrorKey = "WouldExceedMaxBlockCostLimit"
)

// TransactionErrorInstructionError wraps an InstructionError raised by one of
// the transaction's instructions.
const TransactionErrorInstructionError TransactionErrorKey = "InstructionError"

// InstructionErrorKey identifies why an instruction failed.
//
// Source: https://github.com/solana-labs/solana/blob/4e2754341514cd181ae3f373cc2548bd22e918b8/sdk/program/src/instruction.rs#L23
type InstructionErrorKey string

// Errors a program may return directly.
const (
	InstructionErrorGenericError              InstructionErrorKey = "GenericError"
	InstructionErrorInvalidArgument           InstructionErrorKey = "InvalidArgument"
	InstructionErrorInvalidInstructionData    InstructionErrorKey = "InvalidInstructionData"
	InstructionErrorInvalidAccountData        InstructionErrorKey = "InvalidAccountData"
	InstructionErrorAccountDataTooSmall       InstructionErrorKey = "AccountDataTooSmall"
	InstructionErrorInsufficientFunds         InstructionErrorKey = "InsufficientFunds"
	InstructionErrorIncorrectProgramID        InstructionErrorKey = "IncorrectProgramId"
	InstructionErrorMissingRequiredSignature  InstructionErrorKey = "MissingRequiredSignature"
	InstructionErrorAccountAlreadyInitialized InstructionErrorKey = "AccountAlreadyInitialized"
	InstructionErrorUninitializedAccount      InstructionErrorKey = "UninitializedAccount"
	InstructionErrorNotEnoughAccountKeys      InstructionErrorKey = "NotEnoughAccountKeys"
	InstructionErrorMaxSeedLengthExceeded     InstructionErrorKey = "MaxSeedLengthExceeded"
	InstructionErrorInvalidSeeds              InstructionErrorKey = "InvalidSeeds"
	InstructionErrorInvalidRealloc            InstructionErrorKey = "InvalidRealloc"
	InstructionErrorUnsupportedProgramID      InstructionErrorKey = "UnsupportedProgramId"
	InstructionErrorCustom                    InstructionErrorKey = "Custom"
	InstructionErrorInvalidError              InstructionErrorKey = "InvalidError"
)

// Errors raised by the runtime when a program breaks an account rule.
const (
	InstructionErrorUnbalancedInstruction          InstructionErrorKey = "UnbalancedInstruction"
	InstructionErrorModifiedProgramID              InstructionErrorKey = "ModifiedProgramId"
	InstructionErrorExternalAccountLamportSpend    InstructionErrorKey = "ExternalAccountLamportSpend"
	InstructionErrorExternalAccountDataModified    InstructionErrorKey = "ExternalAccountDataModified"
	InstructionErrorReadonlyLamportChange          InstructionErrorKey = "ReadonlyLamportChange"
	InstructionErrorReadonlyDataModified           InstructionErrorKey = "ReadonlyDataModified"
	InstructionErrorDuplicateAccountIndex          InstructionErrorKey = "DuplicateAccountIndex"
	InstructionErrorExecutableModified             InstructionErrorKey = "ExecutableModified"
	InstructionErrorRentEpochModified              InstructionErrorKey = "RentEpochModified"
	InstructionErrorAccountDataSizeChanged         InstructionErrorKey = "AccountDataSizeChanged"
	InstructionErrorAccountNotExecutable           InstructionErrorKey = "AccountNotExecutable"
	InstructionErrorAccountBorrowFailed            InstructionErrorKey = "AccountBorrowFailed"
	InstructionErrorAccountBorrowOutstanding       InstructionErrorKey = "AccountBorrowOutstanding"
	InstructionErrorDuplicateAccountOutOfSync      InstructionErrorKey = "DuplicateAccountOutOfSync"
	InstructionErrorExecutableDataModified         InstructionErrorKey = "ExecutableDataModified"
	InstructionErrorExecutableLamportChange        InstructionErrorKey = "ExecutableLamportChange"
	InstructionErrorExecutableAccountNotRentExempt InstructionErrorKey = "ExecutableAccountNotRentExempt"
	InstructionErrorCallDepth                      InstructionErrorKey = "CallDepth"
	InstructionErrorMissingAccount                 InstructionErrorKey = "MissingAccount"
	InstructionErrorReentrancyNotAllowed           InstructionErrorKey = "ReentrancyNotAllowed"
)

// CustomError is the numerical error returned by a non-system program.
type CustomError int

func (c CustomError) Error() string {
	return fmt.Sprintf("custom program error: 0x%x", int(c))
}

// InstructionError indicates an instruction returned an error in a transaction.
type InstructionError struct {
	Index int
	Err   error
}

func parseInstructionError(v interface{}) (e InstructionError, err error) {
	values, ok := v.([]interface{})
	if !ok {
		return e, errors.New("unexpected instruction error format")
	}
	if len(values) != 2 {
		return e, errors.Errorf("too many entries in InstructionError tuple: %d", len(values))
	}

	e.Index, err = parseJSONNumber(values[0])
	if err != nil {
		return e, err
	}

	switch t := values[1].(type) {
	case string:
		e.Err = errors.New(t)
	case map[string]interface{}:
		k, v, err := singleEntry(t)
		if err != nil {
			e.Err = errors.New("unhandled InstructionError")
			return e, errors.Wrap(err, "invalid instruction result")
		}
		if k != string(InstructionErrorCustom) {
			e.Err = errors.New(k)
			break
		}

		code, err := parseJSONNumber(v)
		if err != nil {
			e.Err = errors.New("unhandled CustomError")
			break
		}
		e.Err = CustomError(code)
	default:
		return e, errors.Errorf("unexpected instruction error value: %T", t)
	}

	return e, nil
}

func (i InstructionError) Error() string {
	return fmt.Sprintf("Error processing Instruction %d: %v", i.Index, i.Err)
}

func (i InstructionError) ErrorKey() InstructionErrorKey {
	if i.Err == nil {
		return ""
	}

	if i.CustomError() != nil {
		return InstructionErrorCustom
	}

	return InstructionErrorKey(i.Err.Error())
}

func (i InstructionError) JSONString() string {
	if e, ok := i.Err.(CustomError); ok {
		return fmt.Sprintf(`[%d, {"%s": %d}]`, i.Index, InstructionErrorCustom, e)
	}

	return fmt.Sprintf(`[%d, "%s"]`, i.Index, i.Err.Error())
}

func (i InstructionError) CustomError() *CustomError {
	ce, ok := i.Err.(CustomError)
	if ok {
		return &ce
	}

	return nil
}

// Unwrap exposes the underlying error, allowing errors.As to match a
// CustomError.
func (i InstructionError) Unwrap() error {
	return i.Err
}

// TransactionError contains the transaction error details.
type TransactionError struct {
	transactionError error
	instructionError *InstructionError
	raw              interface{}
}

// ParseRPCError parses the jsonrpc.RPCError returned from a method.
func ParseRPCError(err *jsonrpc.RPCError) (*TransactionError, error) {
	if err == nil {
		return nil, nil
	}

	i := err.Data
	data, ok := i.(map[string]interface{})
	if !ok {
		return nil, errors.New("expected map type")
	}

	if txErr, ok := data["err"]; ok && txErr != nil {
		return ParseTransactionError(txErr)
	}

	return nil, nil
}

// ParseTransactionError parses the JSON error returned from the "err" field in various
// RPC methods and fields.
func ParseTransactionError(raw interface{}) (*TransactionError, error) {
	if raw == nil {
		return nil, nil
	}

	switch t := raw.(type) {
	case string:
		return &TransactionError{
			transactionError: errors.New(t),
			raw:              raw,
		}, nil
	case map[string]interface{}:
		k, v, err := singleEntry(t)
		if err != nil {
			return &TransactionError{
				transactionError: errors.New("unhandled transaction error"),
				raw:              raw,
			}, errors.Wrap(err, "invalid transaction result")
		}

		if k != string(TransactionErrorInstructionError) {
			return &TransactionError{
				transactionError: errors.New(k),
				raw:              raw,
			}, nil
		}

		instructionErr, err := parseInstructionError(v)
		if err != nil {
			return &TransactionError{
				transactionError: errors.New("unhandled transaction error"),
				raw:              raw,
			}, errors.Wrap(err, "failed to parse instruction error")
		}

		return &TransactionError{
			transactionError: errors.New(string(TransactionErrorInstructionError)),
			instructionError: &instructionErr,
			raw:              raw,
		}, nil
	default:
		return nil, errors.New("unhandled error type")
	}
}

func NewTransactionError(key TransactionErrorKey) *TransactionError {
	return &TransactionError{
		transactionError: errors.New(string(key)),
		raw:              string(key),
	}
}

func TransactionErrorFromInstructionError(err *InstructionError) (*TransactionError, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(err.JSONString()), &raw); err != nil {
		return nil, errors.Wrap(err, "failed to generate raw value")
	}

	return &TransactionError{
		transactionError: errors.New(string(TransactionErrorInstructionError)),
		instructionError: err,
		raw: map[string]interface{}{
			string(TransactionErrorInstructionError): raw,
		},
	}, nil
}

func (t TransactionError) Error() string {
	if t.instructionError != nil {
		return t.instructionError.Error()
	}

	if t.transactionError != nil {
		return t.transactionError.Error()
	}

	return ""
}

func (t TransactionError) ErrorKey() TransactionErrorKey {
	if t.transactionError == nil {
		return ""
	}

	return TransactionErrorKey(t.transactionError.Error())
}

func (t TransactionError) InstructionError() *InstructionError {
	return t.instructionError
}

// Unwrap returns the instruction error, if any, so that errors.As can reach
// it through a TransactionError.
func (t TransactionError) Unwrap() error {
	if t.instructionError == nil {
		return nil
	}
	return t.instructionError
}

func (t TransactionError) JSONString() (string, error) {
	b, err := json.Marshal(t.raw)
	return string(b), err
}

// TransactionErrorKeyOf returns the key of the TransactionError in err's
// chain, or an empty key if there isn't one.
func TransactionErrorKeyOf(err error) TransactionErrorKey {
	var txErr *TransactionError
	if !errors.As(err, &txErr) {
		return ""
	}
	return txErr.ErrorKey()
}

// InstructionErrorOf returns the InstructionError carried by the
// TransactionError in err's chain, or nil if there isn't one.
func InstructionErrorOf(err error) *InstructionError {
	var txErr *TransactionError
	if !errors.As(err, &txErr) {
		return nil
	}
	return txErr.InstructionError()
}

// singleEntry returns the only entry of a tagged JSON object such as
// {"InstructionError": [...]}.
func singleEntry(m map[string]interface{}) (string, interface{}, error) {
	if len(m) != 1 {
		return "", nil, errors.Errorf("expected a single entry, got %d", len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	return "", nil, nil
}

func parseJSONNumber(v interface{}) (int, error) {
	if num, ok := v.(json.Number); ok {
		index, err := num.Int64()
		if err != nil {
			return 0, errors.Errorf("non int64 value in InstructionError tuple: %v", v)
		}
		return int(index), nil
	} else if indexString, ok := v.(string); ok {
		index, err := strconv.ParseInt(indexString, 10, 64)
		if err != nil {
			return 0, errors.Errorf("non numeric value in InstructionError tuple: %v", v)
		}
		return int(index), nil
	} else if indexFloat, ok := v.(float64); ok {
		return int(indexFloat), nil
	}

	return 0, errors.Errorf("non numeric value in InstructionError tuple: %v", v)
}

// NewInstructionError creates an InstructionError for the instruction at index
// with one of the well known error keys.
func NewInstructionError(index int, key InstructionErrorKey) *InstructionError {
	return &InstructionError{
		Index: index,
		Err:   errors.New(string(key)),
	}
}
