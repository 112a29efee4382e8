package funding

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/solana-counter/pkg/solana"
	"github.com/code-payments/solana-counter/pkg/solana/memory"
	"github.com/code-payments/solana-counter/pkg/solana/system"
	"github.com/code-payments/solana-counter/pkg/testutil"
)

func TestCalculator(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New()
	calculator := NewCalculator(ledger, solana.CommitmentConfirmed)

	keys := testutil.GenerateSolanaKeys(t, 2)
	txn := solana.NewLegacyTransaction(keys[0], system.Transfer(keys[0], keys[1], 1))
	bh, err := ledger.GetLatestBlockhash()
	require.NoError(t, err)
	txn.SetBlockhash(bh)

	rent, err := calculator.MinBalanceForSize(ctx, 8)
	require.NoError(t, err)
	assert.EqualValues(t, 946560, rent)

	fee, err := calculator.FeeForMessage(ctx, txn.Message)
	require.NoError(t, err)
	assert.EqualValues(t, memory.LamportsPerSignature, fee)

	cost, err := calculator.CreationCost(ctx, 8, txn.Message)
	require.NoError(t, err)
	assert.Equal(t, rent+fee, cost)

	txn.SetBlockhash(solana.Blockhash{})
	_, err = calculator.FeeForMessage(ctx, txn.Message)
	assert.True(t, errors.Is(err, ErrFundingQueryFailed))

	ledger.InduceError(memory.MethodGetMinimumBalanceForRentExemption, nil)
	_, err = calculator.CreationCost(ctx, 8, txn.Message)
	assert.True(t, errors.Is(err, ErrFundingQueryFailed))
	assert.True(t, errors.Is(err, memory.ErrInducedFailure))
	assert.Contains(t, err.Error(), "8 bytes")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = calculator.MinBalanceForSize(cancelled, 8)
	assert.Equal(t, context.Canceled, err)
}

func TestEnsureBalance_AlreadyFunded(t *testing.T) {
	ledger := memory.New()
	ledger.SetAirdropEnabled(false)
	account := testutil.GenerateSolanaKeys(t, 1)[0]
	ledger.SetBalance(account, 1000)

	airdropper := NewAirdropper(ledger, solana.CommitmentConfirmed, WithTestOverrides(&TestOverrides{AirdropDisabled: true}))
	require.NoError(t, airdropper.EnsureBalance(context.Background(), account, 1000))

	err := airdropper.EnsureBalance(context.Background(), account, 1001)
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
}

func TestEnsureBalance_Airdrop(t *testing.T) {
	ledger := memory.New()
	ledger.SetAirdropDelay(3)
	account := testutil.GenerateSolanaKeys(t, 1)[0]
	ledger.SetBalance(account, 400)
	logs := testutil.CaptureLogs(t)

	airdropper := NewAirdropper(ledger, solana.CommitmentConfirmed, WithTestOverrides(nil))
	require.NoError(t, airdropper.EnsureBalance(context.Background(), account, 1000))

	balance, err := ledger.GetBalance(account)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, balance)

	requested := testutil.FindLogEntry(logs, "funding/airdropper", "requested airdrop")
	require.NotNil(t, requested)
	assert.EqualValues(t, 600, requested.Data["lamports"])
	assert.NotEmpty(t, requested.Data["signature"])
	assert.NotNil(t, testutil.FindLogEntry(logs, "funding/airdropper", "airdrop confirmed"))
}

func TestEnsureBalance_PollLimit(t *testing.T) {
	ledger := memory.New()
	ledger.SetAirdropDelay(-1)
	account := testutil.GenerateSolanaKeys(t, 1)[0]

	airdropper := NewAirdropper(ledger, solana.CommitmentConfirmed, WithTestOverrides(&TestOverrides{
		AirdropMaxPolls: 5,
	}))

	err := airdropper.EnsureBalance(context.Background(), account, 1000)
	assert.True(t, errors.Is(err, ErrFundingTimeout))
}

func TestEnsureBalance_Deadline(t *testing.T) {
	ledger := memory.New()
	ledger.SetAirdropDelay(-1)
	account := testutil.GenerateSolanaKeys(t, 1)[0]

	airdropper := NewAirdropper(ledger, solana.CommitmentConfirmed, WithTestOverrides(&TestOverrides{
		AirdropTimeout:      50 * time.Millisecond,
		AirdropMaxPolls:     1_000_000,
		AirdropPollInterval: 10 * time.Millisecond,
	}))

	start := time.Now()
	err := airdropper.EnsureBalance(context.Background(), account, 1000)
	assert.True(t, errors.Is(err, ErrFundingTimeout))
	assert.True(t, time.Since(start) < 5*time.Second)
}

func TestEnsureBalance_Cancelled(t *testing.T) {
	ledger := memory.New()
	ledger.SetAirdropDelay(-1)
	account := testutil.GenerateSolanaKeys(t, 1)[0]

	airdropper := NewAirdropper(ledger, solana.CommitmentConfirmed, WithTestOverrides(&TestOverrides{
		AirdropTimeout:      time.Hour,
		AirdropMaxPolls:     1_000_000,
		AirdropPollInterval: time.Minute,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := airdropper.EnsureBalance(ctx, account, 1000)
	assert.Equal(t, context.Canceled, err)
}

func TestEnsureBalance_Failures(t *testing.T) {
	account := testutil.GenerateSolanaKeys(t, 1)[0]

	ledger := memory.New()
	ledger.InduceError(memory.MethodGetConfirmationStatus, nil)
	airdropper := NewAirdropper(ledger, solana.CommitmentConfirmed, WithTestOverrides(nil))
	err := airdropper.EnsureBalance(context.Background(), account, 1000)
	assert.True(t, errors.Is(err, memory.ErrInducedFailure))

	ledger = memory.New()
	ledger.SetAirdropEnabled(false)
	airdropper = NewAirdropper(ledger, solana.CommitmentConfirmed, WithTestOverrides(nil))
	err = airdropper.EnsureBalance(context.Background(), account, 1000)
	assert.True(t, errors.Is(err, ErrFundingQueryFailed))

	ledger = memory.New()
	ledger.InduceError(memory.MethodGetBalance, nil)
	airdropper = NewAirdropper(ledger, solana.CommitmentConfirmed, WithTestOverrides(nil))
	err = airdropper.EnsureBalance(context.Background(), account, 1000)
	assert.True(t, errors.Is(err, ErrFundingQueryFailed))
	assert.True(t, errors.Is(err, memory.ErrInducedFailure))

	rpcErr := errors.New("rpc unavailable")
	ledger = memory.New()
	ledger.InduceError(memory.MethodRequestAirdrop, rpcErr)
	airdropper = NewAirdropper(ledger, solana.CommitmentConfirmed, WithTestOverrides(nil))
	err = airdropper.EnsureBalance(context.Background(), account, 1000)
	assert.True(t, errors.Is(err, ErrFundingQueryFailed))
	assert.True(t, errors.Is(err, rpcErr))
	assert.False(t, errors.Is(err, ErrInsufficientFunds))
	assert.Equal(t, "funding query failed: failed to request airdrop: rpc unavailable", err.Error())
}
