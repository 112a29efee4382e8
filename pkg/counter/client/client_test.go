package client

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/solana-counter/pkg/counter"
	"github.com/code-payments/solana-counter/pkg/counter/program"
	"github.com/code-payments/solana-counter/pkg/funding"
	"github.com/code-payments/solana-counter/pkg/solana"
	"github.com/code-payments/solana-counter/pkg/solana/bpfloader"
	"github.com/code-payments/solana-counter/pkg/solana/memory"
	"github.com/code-payments/solana-counter/pkg/solana/system"
	"github.com/code-payments/solana-counter/pkg/testutil"
)

type testEnv struct {
	ctx     context.Context
	ledger  *memory.Ledger
	payer   ed25519.PrivateKey
	program ed25519.PublicKey
	client  *Client
}

func setup(t *testing.T, fundingOverrides *funding.TestOverrides) testEnv {
	env := testEnv{
		ctx:     context.Background(),
		ledger:  memory.New(),
		payer:   testutil.GenerateSolanaKeypair(t),
		program: testutil.GenerateSolanaKeys(t, 1)[0],
	}

	require.NoError(t, env.ledger.DeployProgram(env.program, testutil.PublicKey(env.payer), program.New().Entrypoint))

	var err error
	env.client, err = New(env.ledger, env.payer, env.program, Config{}, funding.WithTestOverrides(fundingOverrides))
	require.NoError(t, err)
	return env
}

func (e testEnv) setCount(t *testing.T, count uint64) {
	data := make([]byte, counter.Size)
	binary.LittleEndian.PutUint64(data, count)

	info, err := e.ledger.GetAccountInfo(e.client.CounterAddress(), solana.CommitmentConfirmed)
	require.NoError(t, err)
	info.Data = data
	e.ledger.SetAccount(e.client.CounterAddress(), info)
}

func TestNew(t *testing.T) {
	ledger := memory.New()
	payer := testutil.GenerateSolanaKeypair(t)
	programID := testutil.GenerateSolanaKeys(t, 1)[0]

	_, err := New(ledger, nil, programID, Config{}, funding.WithTestOverrides(nil))
	assert.True(t, errors.Is(err, ErrConfigurationMissing))

	_, err = New(ledger, payer, nil, Config{}, funding.WithTestOverrides(nil))
	assert.True(t, errors.Is(err, ErrConfigurationMissing))

	_, err = New(nil, payer, programID, Config{}, funding.WithTestOverrides(nil))
	assert.True(t, errors.Is(err, ErrConfigurationMissing))

	_, err = New(ledger, payer, programID, Config{Seed: strings.Repeat("x", 33)}, funding.WithTestOverrides(nil))
	assert.True(t, errors.Is(err, solana.ErrMaxSeedLengthExceeded))

	c, err := New(ledger, payer, programID, Config{}, funding.WithTestOverrides(nil))
	require.NoError(t, err)

	expected, err := solana.CreateWithSeed(testutil.PublicKey(payer), DefaultSeed, programID)
	require.NoError(t, err)
	assert.Equal(t, expected, c.CounterAddress())
	assert.Equal(t, testutil.PublicKey(payer), c.Payer())
}

func TestConnect(t *testing.T) {
	env := setup(t, nil)

	version, err := env.client.Connect(env.ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, version.SolanaCore)

	env.ledger.InduceError(memory.MethodGetVersion, nil)
	_, err = env.client.Connect(env.ctx)
	assert.True(t, errors.Is(err, ErrNetworkUnavailable))
	assert.True(t, errors.Is(err, memory.ErrInducedFailure))
	assert.Equal(t, "network unavailable: failed to get version: induced failure", err.Error())
}

func TestCounterScenario(t *testing.T) {
	env := setup(t, nil)

	_, err := env.client.GetCount(env.ctx)
	assert.True(t, errors.Is(err, ErrAccountNotFound))

	created, err := env.client.SetupCounterAccount(env.ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, env.ledger.TransactionCount())

	info, err := env.ledger.GetAccountInfo(env.client.CounterAddress(), solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, env.program, info.Owner)
	assert.Len(t, info.Data, counter.Size)
	assert.EqualValues(t, 946560, info.Lamports)

	// Setup is idempotent and submits nothing the second time.
	created, err = env.client.SetupCounterAccount(env.ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, env.ledger.TransactionCount())

	require.NoError(t, env.client.CheckProgram(env.ctx))

	count, err := env.client.GetCount(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	for i := 1; i <= 3; i++ {
		_, err = env.client.Increment(env.ctx)
		require.NoError(t, err)

		count, err = env.client.GetCount(env.ctx)
		require.NoError(t, err)
		assert.EqualValues(t, i, count)
	}
	assert.Equal(t, 4, env.ledger.TransactionCount())
}

func TestSetupCounterAccount_Funding(t *testing.T) {
	env := setup(t, nil)

	balance, err := env.client.PayerBalance(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, balance)

	// The payer starts unfunded, so both operations rely on airdrops.
	_, err = env.client.SetupCounterAccount(env.ctx)
	require.NoError(t, err)
	_, err = env.client.Increment(env.ctx)
	require.NoError(t, err)

	count, err := env.client.GetCount(env.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	env = setup(t, &funding.TestOverrides{AirdropDisabled: true})
	_, err = env.client.SetupCounterAccount(env.ctx)
	assert.True(t, errors.Is(err, funding.ErrInsufficientFunds))
	assert.Zero(t, env.ledger.TransactionCount())

	env = setup(t, &funding.TestOverrides{AirdropMaxPolls: 3})
	env.ledger.SetAirdropDelay(-1)
	_, err = env.client.SetupCounterAccount(env.ctx)
	assert.True(t, errors.Is(err, funding.ErrFundingTimeout))

	env = setup(t, nil)
	env.ledger.InduceError(memory.MethodGetMinimumBalanceForRentExemption, nil)
	_, err = env.client.SetupCounterAccount(env.ctx)
	assert.True(t, errors.Is(err, funding.ErrFundingQueryFailed))
}

func TestOwnershipMismatch(t *testing.T) {
	env := setup(t, nil)
	env.ledger.SetBalance(testutil.PublicKey(env.payer), 1_000_000_000)

	other := testutil.GenerateSolanaKeys(t, 1)[0]
	env.ledger.SetAccount(env.client.CounterAddress(), solana.AccountInfo{
		Owner:    other,
		Lamports: 946560,
		Data:     make([]byte, counter.Size),
	})

	_, err := env.client.SetupCounterAccount(env.ctx)
	assert.True(t, errors.Is(err, ErrOwnershipMismatch))

	_, err = env.client.GetCount(env.ctx)
	assert.True(t, errors.Is(err, ErrOwnershipMismatch))

	err = env.client.CheckProgram(env.ctx)
	assert.True(t, errors.Is(err, ErrOwnershipMismatch))

	_, err = env.client.Increment(env.ctx)
	assert.True(t, errors.Is(err, program.ErrIncorrectProgramID))
}

func TestIncrement_Failures(t *testing.T) {
	env := setup(t, nil)
	env.ledger.SetBalance(testutil.PublicKey(env.payer), 1_000_000_000)

	// The counter account doesn't exist yet, so the program sees an empty
	// account owned by the system program.
	_, err := env.client.Increment(env.ctx)
	assert.True(t, errors.Is(err, program.ErrIncorrectProgramID))

	_, err = env.client.SetupCounterAccount(env.ctx)
	require.NoError(t, err)

	env.setCount(t, math.MaxUint64)
	_, err = env.client.Increment(env.ctx)
	assert.True(t, errors.Is(err, counter.ErrCounterOverflow))
	assert.NotNil(t, solana.InstructionErrorOf(err))

	count, err := env.client.GetCount(env.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, uint64(math.MaxUint64), count)

	env.ledger.SetAccount(env.client.CounterAddress(), solana.AccountInfo{
		Owner:    env.program,
		Lamports: 946560,
		Data:     make([]byte, counter.Size+1),
	})
	_, err = env.client.Increment(env.ctx)
	assert.True(t, errors.Is(err, counter.ErrMalformedState))

	_, err = env.client.GetCount(env.ctx)
	assert.True(t, errors.Is(err, counter.ErrMalformedState))

	_, err = env.client.SetupCounterAccount(env.ctx)
	assert.True(t, errors.Is(err, counter.ErrMalformedState))
}

func TestCheckProgram(t *testing.T) {
	env := setup(t, nil)
	env.ledger.SetBalance(testutil.PublicKey(env.payer), 1_000_000_000)

	err := env.client.CheckProgram(env.ctx)
	assert.True(t, errors.Is(err, ErrAccountNotFound))

	_, err = env.client.SetupCounterAccount(env.ctx)
	require.NoError(t, err)
	require.NoError(t, env.client.CheckProgram(env.ctx))

	require.NoError(t, env.ledger.CloseProgram(env.program))
	err = env.client.CheckProgram(env.ctx)
	assert.True(t, errors.Is(err, ErrProgramNotExecutable))

	env.ledger.SetAccount(env.program, solana.AccountInfo{Owner: bpfloader.ProgramKey, Executable: false})
	err = env.client.CheckProgram(env.ctx)
	assert.True(t, errors.Is(err, ErrProgramNotExecutable))

	env.ledger.SetAccount(env.program, solana.AccountInfo{Owner: bpfloader.ProgramKey, Executable: true})
	require.NoError(t, env.client.CheckProgram(env.ctx))

	env.ledger.SetAccount(env.program, solana.AccountInfo{Owner: system.SystemAccount})
	err = env.client.CheckProgram(env.ctx)
	assert.True(t, errors.Is(err, ErrProgramNotExecutable))

	env.ledger.InduceError(memory.MethodGetProgramAccounts, nil)
	env.ledger.SetAccount(env.program, solana.AccountInfo{Owner: bpfloader.ProgramKey, Executable: true})
	err = env.client.CheckProgram(env.ctx)
	assert.True(t, errors.Is(err, ErrNetworkUnavailable))
	assert.True(t, errors.Is(err, memory.ErrInducedFailure))
	assert.False(t, errors.Is(err, ErrProgramNotExecutable))
}

func TestCheckProgram_Missing(t *testing.T) {
	ledger := memory.New()
	payer := testutil.GenerateSolanaKeypair(t)
	programID := testutil.GenerateSolanaKeys(t, 1)[0]
	artifact := filepath.Join(t.TempDir(), "program.so")

	c, err := New(ledger, payer, programID, Config{ProgramPath: artifact}, funding.WithTestOverrides(nil))
	require.NoError(t, err)

	err = c.CheckProgram(context.Background())
	assert.True(t, errors.Is(err, ErrProgramNotBuilt))

	require.NoError(t, os.WriteFile(artifact, []byte{0x7f, 'E', 'L', 'F'}, 0o644))
	err = c.CheckProgram(context.Background())
	assert.True(t, errors.Is(err, ErrProgramNotDeployed))
}
