package main

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/solana-counter/pkg/counter/client"
	"github.com/code-payments/solana-counter/pkg/counter/program"
	"github.com/code-payments/solana-counter/pkg/funding"
	"github.com/code-payments/solana-counter/pkg/solana/memory"
	"github.com/code-payments/solana-counter/pkg/testutil"
)

func TestExecute(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New()
	payer := testutil.GenerateSolanaKeypair(t)
	programID := testutil.GenerateSolanaKeys(t, 1)[0]
	require.NoError(t, ledger.DeployProgram(programID, testutil.PublicKey(payer), program.New().Entrypoint))

	c, err := client.New(ledger, payer, programID, client.Config{}, funding.WithTestOverrides(nil))
	require.NoError(t, err)

	logs := testutil.CaptureLogs(t)
	log := logrus.StandardLogger().WithField("type", "cmd/counter")

	require.NoError(t, execute(ctx, log, c, programID))
	require.NoError(t, execute(ctx, log, c, programID))

	count, err := c.GetCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	var reads []uint64
	for _, entry := range logs.AllEntries() {
		if entry.Message == "counter read back" {
			reads = append(reads, entry.Data["count"].(uint64))
		}
	}
	assert.Equal(t, []uint64{1, 2}, reads)

	ready := testutil.FindLogEntry(logs, "cmd/counter", "counter account ready")
	require.NotNil(t, ready)
	assert.Equal(t, true, ready.Data["created"])
}

func TestExecute_StageFailures(t *testing.T) {
	ctx := context.Background()
	ledger := memory.New()
	payer := testutil.GenerateSolanaKeypair(t)
	programID := testutil.GenerateSolanaKeys(t, 1)[0]

	c, err := client.New(
		ledger,
		payer,
		programID,
		client.Config{ProgramPath: t.TempDir() + "/program.so"},
		funding.WithTestOverrides(nil),
	)
	require.NoError(t, err)
	log := logrus.StandardLogger().WithField("type", "cmd/counter")

	ledger.InduceError(memory.MethodGetVersion, nil)
	err = execute(ctx, log, c, programID)
	assertStage(t, err, "connect")
	assert.True(t, errors.Is(err, client.ErrNetworkUnavailable))

	ledger.ClearErrors()
	err = execute(ctx, log, c, programID)
	assertStage(t, err, "check")
	assert.True(t, errors.Is(err, client.ErrProgramNotBuilt))
}

func TestStage(t *testing.T) {
	assert.NoError(t, stage("setup", nil))

	cause := errors.New("boom")
	err := stage("setup", cause)
	assert.Equal(t, "setup: boom", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func assertStage(t *testing.T, err error, expected string) {
	var se *stageError
	require.True(t, errors.As(err, &se), "not a stage error: %v", err)
	assert.Equal(t, expected, se.stage)
}
