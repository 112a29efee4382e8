package funding

import (
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/code-payments/solana-counter/pkg/retry"
	"github.com/code-payments/solana-counter/pkg/solana"
)

var (
	// ErrInsufficientFunds indicates an account could not be brought up to
	// the required balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrFundingTimeout indicates an airdrop was not confirmed within the
	// configured deadline or number of polls.
	ErrFundingTimeout = errors.New("timed out waiting for airdrop confirmation")

	errNotConfirmed = errors.New("airdrop not confirmed")
)

// Airdropper tops up accounts from the ledger's faucet.
type Airdropper struct {
	log        *logrus.Entry
	conf       *conf
	rpc        solana.Client
	commitment solana.Commitment
}

func NewAirdropper(rpc solana.Client, commitment solana.Commitment, configProvider ConfigProvider) *Airdropper {
	return &Airdropper{
		log:        logrus.StandardLogger().WithField("type", "funding/airdropper"),
		conf:       configProvider(),
		rpc:        rpc,
		commitment: commitment,
	}
}

// EnsureBalance guarantees account holds at least target lamports, requesting
// the shortfall from the faucet if it doesn't.
//
// Confirmation of the airdrop is polled until it confirms, the poll limit or
// deadline is reached (ErrFundingTimeout), or ctx is cancelled.
func (a *Airdropper) EnsureBalance(ctx context.Context, account ed25519.PublicKey, target uint64) error {
	log := a.log.WithFields(logrus.Fields{
		"method":  "EnsureBalance",
		"account": base58.Encode(account),
		"target":  target,
	})

	balance, err := a.rpc.GetBalance(account)
	if err != nil {
		return queryFailed(err, "failed to get balance")
	}
	if balance >= target {
		return nil
	}

	if !a.conf.airdropEnabled.Get(ctx) {
		return errors.Wrapf(ErrInsufficientFunds, "balance %d below required %d and airdrops are disabled", balance, target)
	}

	shortfall := target - balance
	log = log.WithField("lamports", shortfall)

	sig, err := a.rpc.RequestAirdrop(account, shortfall, a.commitment)
	if err != nil {
		return queryFailed(err, "failed to request airdrop")
	}
	log = log.WithField("signature", base58.Encode(sig[:]))
	log.Info("requested airdrop")

	if err := a.waitForConfirmation(ctx, sig); err != nil {
		return err
	}

	balance, err = a.rpc.GetBalance(account)
	if err != nil {
		return queryFailed(err, "failed to get balance")
	}
	if balance < target {
		return errors.Wrapf(ErrInsufficientFunds, "balance %d below required %d after airdrop", balance, target)
	}

	log.WithField("balance", balance).Debug("airdrop confirmed")
	return nil
}

func (a *Airdropper) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	pollCtx, cancel := context.WithTimeout(ctx, a.conf.airdropTimeout.Get(ctx))
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(a.conf.airdropPollInterval.Get(ctx)), 1)

	attempts, err := retry.Retry(
		func() error {
			confirmed, err := a.rpc.GetConfirmationStatus(sig, a.commitment)
			if err != nil {
				return err
			}
			if !confirmed {
				return errNotConfirmed
			}
			return nil
		},
		retry.RetriableErrors(errNotConfirmed),
		retry.Limit(uint(a.conf.airdropMaxPolls.Get(ctx))),
		retry.Context(pollCtx),
		retry.RateLimit(pollCtx, limiter),
	)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, errNotConfirmed):
		return errors.Wrapf(ErrFundingTimeout, "not confirmed after %d polls", attempts)
	default:
		return errors.Wrap(err, "failed to poll airdrop confirmation")
	}
}
