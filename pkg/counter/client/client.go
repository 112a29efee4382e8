package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"os"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/solana-counter/pkg/counter"
	"github.com/code-payments/solana-counter/pkg/counter/program"
	"github.com/code-payments/solana-counter/pkg/funding"
	"github.com/code-payments/solana-counter/pkg/solana"
	"github.com/code-payments/solana-counter/pkg/solana/bpfloader"
	"github.com/code-payments/solana-counter/pkg/solana/system"
	"github.com/code-payments/solana-counter/pkg/submit"
)

var (
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrNetworkUnavailable   = errors.New("network unavailable")
	ErrAccountNotFound      = errors.New("counter account not found")
	ErrOwnershipMismatch    = errors.New("counter account is not owned by the program")
	ErrProgramNotBuilt      = errors.New("program needs to be built and deployed")
	ErrProgramNotDeployed   = errors.New("program needs to be deployed")
	ErrProgramNotExecutable = errors.New("program is not executable")
)

// Client creates, increments and reads a counter account owned by the
// counter program.
type Client struct {
	log  *logrus.Entry
	conf Config

	rpc        solana.Client
	calculator *funding.Calculator
	airdropper *funding.Airdropper
	submitter  *submit.Submitter

	payer   ed25519.PrivateKey
	program ed25519.PublicKey
	counter ed25519.PublicKey
}

func New(rpc solana.Client, payer ed25519.PrivateKey, program ed25519.PublicKey, conf Config, fundingConf funding.ConfigProvider) (*Client, error) {
	if rpc == nil {
		return nil, errors.Wrap(ErrConfigurationMissing, "rpc client is required")
	}
	if len(payer) != ed25519.PrivateKeySize {
		return nil, errors.Wrap(ErrConfigurationMissing, "payer keypair is required")
	}
	if len(program) != ed25519.PublicKeySize {
		return nil, errors.Wrap(ErrConfigurationMissing, "program id is required")
	}

	conf = conf.withDefaults()
	payerKey := payer.Public().(ed25519.PublicKey)

	address, err := solana.CreateWithSeed(payerKey, conf.Seed, program)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to derive counter address for seed %q", conf.Seed)
	}

	return &Client{
		log: logrus.StandardLogger().WithFields(logrus.Fields{
			"type":    "counter/client",
			"counter": base58.Encode(address),
		}),
		conf:       conf,
		rpc:        rpc,
		calculator: funding.NewCalculator(rpc, conf.Commitment),
		airdropper: funding.NewAirdropper(rpc, conf.Commitment, fundingConf),
		submitter:  submit.New(rpc, conf.Commitment),
		payer:      payer,
		program:    program,
		counter:    address,
	}, nil
}

// CounterAddress returns the address of the counter account.
func (c *Client) CounterAddress() ed25519.PublicKey {
	return c.counter
}

// Payer returns the fee payer's public key.
func (c *Client) Payer() ed25519.PublicKey {
	return c.payer.Public().(ed25519.PublicKey)
}

// Connect verifies the ledger is reachable and returns its version.
func (c *Client) Connect(ctx context.Context) (solana.Version, error) {
	if err := ctx.Err(); err != nil {
		return solana.Version{}, err
	}

	version, err := c.rpc.GetVersion()
	if err != nil {
		return solana.Version{}, withCause(ErrNetworkUnavailable, err, "failed to get version")
	}

	c.log.WithField("version", version.SolanaCore).Info("connected to cluster")
	return version, nil
}

// PayerBalance returns the payer's balance in lamports.
func (c *Client) PayerBalance(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	balance, err := c.rpc.GetBalance(c.Payer())
	if err != nil {
		return 0, withCause(ErrNetworkUnavailable, err, "failed to get payer balance")
	}
	return balance, nil
}

// SetupCounterAccount creates the counter account if it doesn't already
// exist, funding the payer from the faucet when needed. It returns true if
// the account was created by this call.
func (c *Client) SetupCounterAccount(ctx context.Context) (bool, error) {
	log := c.log.WithField("method", "SetupCounterAccount")

	info, err := c.getCounterAccount(ctx)
	if err == nil {
		if len(info.Data) != counter.Size {
			return false, errors.Wrapf(counter.ErrMalformedState, "counter account holds %d bytes", len(info.Data))
		}

		log.Debug("counter account already exists")
		return false, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return false, err
	}

	rent, err := c.calculator.MinBalanceForSize(ctx, counter.Size)
	if err != nil {
		return false, err
	}

	create := system.CreateAccountWithSeed(
		c.Payer(),
		c.counter,
		c.Payer(),
		c.conf.Seed,
		rent,
		counter.Size,
		c.program,
	)

	creationCost := func(m solana.Message) (uint64, error) {
		return c.calculator.CreationCost(ctx, counter.Size, m)
	}

	sig, err := c.fundAndSubmit(ctx, creationCost, create)
	if err != nil {
		return false, errors.Wrap(err, "failed to create counter account")
	}

	log.WithFields(logrus.Fields{
		"signature": base58.Encode(sig[:]),
		"lamports":  rent,
	}).Info("created counter account")
	return true, nil
}

// CheckProgram verifies the program is deployed and executable, and that it
// owns the counter account.
func (c *Client) CheckProgram(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := c.rpc.GetAccountInfo(c.program, c.conf.Commitment)
	if errors.Is(err, solana.ErrNoAccountInfo) {
		if len(c.conf.ProgramPath) > 0 {
			if _, statErr := os.Stat(c.conf.ProgramPath); statErr == nil {
				return errors.Wrapf(ErrProgramNotDeployed, "%s exists but %s is not deployed", c.conf.ProgramPath, base58.Encode(c.program))
			}
		}
		return errors.Wrapf(ErrProgramNotBuilt, "%s not found", base58.Encode(c.program))
	} else if err != nil {
		return withCause(ErrNetworkUnavailable, err, "failed to get program account")
	}

	switch {
	case bpfloader.IsUpgradeableLoader(info.Owner):
		var state bpfloader.ProgramAccount
		if err := state.Unmarshal(info.Data); err != nil {
			return withCause(ErrProgramNotExecutable, err, "invalid program account")
		}

		_, err := c.rpc.GetAccountInfo(state.ProgramDataAddress, c.conf.Commitment)
		if errors.Is(err, solana.ErrNoAccountInfo) {
			return errors.Wrap(ErrProgramNotExecutable, "program has been closed")
		} else if err != nil {
			return withCause(ErrNetworkUnavailable, err, "failed to get program data account")
		}
	case bpfloader.IsLegacyLoader(info.Owner):
		if !info.Executable {
			return errors.Wrap(ErrProgramNotExecutable, "program account is not executable")
		}
	default:
		return errors.Wrapf(ErrProgramNotExecutable, "program account is owned by %s", base58.Encode(info.Owner))
	}

	owned, err := c.rpc.GetProgramAccounts(c.program, c.conf.Commitment)
	if err != nil {
		return withCause(ErrNetworkUnavailable, err, "failed to get program accounts")
	}
	for _, account := range owned {
		if bytes.Equal(account.PublicKey, c.counter) {
			return nil
		}
	}

	// Distinguishes a missing account from one owned by someone else.
	_, err = c.getCounterAccount(ctx)
	if err != nil {
		return err
	}
	return errors.Wrap(ErrAccountNotFound, "counter account not listed by program")
}

// Increment increments the counter by one and returns the signature of the
// confirmed transaction.
func (c *Client) Increment(ctx context.Context) (solana.Signature, error) {
	ix, err := counter.NewIncrementInstruction(c.program, c.counter)
	if err != nil {
		return solana.Signature{}, err
	}

	fee := func(m solana.Message) (uint64, error) {
		return c.calculator.FeeForMessage(ctx, m)
	}

	sig, err := c.fundAndSubmit(ctx, fee, ix)
	if err != nil {
		if instructionErr := solana.InstructionErrorOf(err); instructionErr != nil {
			mapped := program.FromInstructionError(instructionErr)
			if mapped != error(instructionErr) {
				return sig, withCause(mapped, err, "increment rejected")
			}
		}
		return sig, errors.Wrap(err, "failed to increment counter")
	}

	c.log.WithFields(logrus.Fields{
		"method":    "Increment",
		"signature": base58.Encode(sig[:]),
	}).Info("incremented counter")
	return sig, nil
}

// GetCount reads the counter's current value.
func (c *Client) GetCount(ctx context.Context) (uint64, error) {
	info, err := c.getCounterAccount(ctx)
	if err != nil {
		return 0, err
	}

	var state counter.Counter
	if err := state.Unmarshal(info.Data); err != nil {
		return 0, err
	}
	return state.Count, nil
}

// getCounterAccount fetches the counter account and verifies its owner.
func (c *Client) getCounterAccount(ctx context.Context) (solana.AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return solana.AccountInfo{}, err
	}

	info, err := c.rpc.GetAccountInfo(c.counter, c.conf.Commitment)
	if errors.Is(err, solana.ErrNoAccountInfo) {
		return solana.AccountInfo{}, errors.Wrapf(ErrAccountNotFound, "%s", base58.Encode(c.counter))
	} else if err != nil {
		return solana.AccountInfo{}, withCause(ErrNetworkUnavailable, err, "failed to get counter account")
	}

	if !bytes.Equal(info.Owner, c.program) {
		return solana.AccountInfo{}, errors.Wrapf(ErrOwnershipMismatch, "owned by %s", base58.Encode(info.Owner))
	}
	return info, nil
}

// fundAndSubmit makes sure the payer can afford the transaction, as priced
// by cost, then submits it with a fresh blockhash and waits for confirmation.
func (c *Client) fundAndSubmit(ctx context.Context, cost func(solana.Message) (uint64, error), instructions ...solana.Instruction) (solana.Signature, error) {
	txn, err := c.submitter.Assemble(ctx, c.Payer(), instructions...)
	if err != nil {
		return solana.Signature{}, err
	}

	required, err := cost(txn.Message)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := c.airdropper.EnsureBalance(ctx, c.Payer(), required); err != nil {
		return solana.Signature{}, err
	}

	// Funding may have taken long enough for the blockhash to expire.
	txn, err = c.submitter.Assemble(ctx, c.Payer(), instructions...)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.submitter.SubmitAndConfirm(ctx, txn, c.payer)
}
