package testutil

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/solana-counter/pkg/solana"
)

// AssertTransactionError verifies that the provided error wraps a
// *solana.TransactionError with the provided key.
func AssertTransactionError(t *testing.T, err error, key solana.TransactionErrorKey) *solana.TransactionError {
	require.Error(t, err)

	var txErr *solana.TransactionError
	require.True(t, errors.As(err, &txErr), "not a transaction error: %v", err)
	assert.Equal(t, key, txErr.ErrorKey())
	return txErr
}

// AssertInstructionError verifies that the provided error wraps a
// *solana.TransactionError raised by the instruction at index.
func AssertInstructionError(t *testing.T, err error, index int, key solana.InstructionErrorKey) *solana.InstructionError {
	txErr := AssertTransactionError(t, err, solana.TransactionErrorInstructionError)

	instructionErr := solana.InstructionErrorOf(txErr)
	require.NotNil(t, instructionErr)
	assert.Equal(t, index, instructionErr.Index)
	assert.Equal(t, key, instructionErr.ErrorKey())
	return instructionErr
}

// AssertCustomError verifies that the provided error wraps a program's custom
// error code raised by the instruction at index.
func AssertCustomError(t *testing.T, err error, index int, code solana.CustomError) {
	AssertInstructionError(t, err, index, solana.InstructionErrorCustom)

	var custom solana.CustomError
	require.True(t, errors.As(err, &custom))
	assert.Equal(t, code, custom)
}
