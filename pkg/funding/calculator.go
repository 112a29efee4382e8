package funding

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/solana-counter/pkg/solana"
)

var (
	// ErrFundingQueryFailed indicates the ledger could not answer a rent or fee query.
	ErrFundingQueryFailed = errors.New("funding query failed")

	// ErrAmountOverflow indicates a funding amount does not fit in a uint64.
	ErrAmountOverflow = errors.New("funding amount overflows")
)

// Calculator computes the lamports required to create and pay for accounts.
//
// Values are queried from the ledger on every call, since rent and fee
// parameters may change between calls.
type Calculator struct {
	log        *logrus.Entry
	rpc        solana.Client
	commitment solana.Commitment
}

func NewCalculator(rpc solana.Client, commitment solana.Commitment) *Calculator {
	return &Calculator{
		log:        logrus.StandardLogger().WithField("type", "funding/calculator"),
		rpc:        rpc,
		commitment: commitment,
	}
}

// MinBalanceForSize returns the balance an account with a data region of size
// bytes must hold to be exempt from rent.
func (c *Calculator) MinBalanceForSize(ctx context.Context, size uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(size)
	if err != nil {
		return 0, queryFailed(err, fmt.Sprintf("failed to get minimum balance for %d bytes", size))
	}

	c.log.WithFields(logrus.Fields{
		"method":   "MinBalanceForSize",
		"size":     size,
		"lamports": lamports,
	}).Trace("queried rent exemption")

	return lamports, nil
}

// FeeForMessage returns the fee the ledger would charge to process m.
func (c *Calculator) FeeForMessage(ctx context.Context, m solana.Message) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	fee, err := c.rpc.GetFeeForMessage(m, c.commitment)
	if err != nil {
		return 0, queryFailed(err, "failed to get fee for message")
	}

	c.log.WithFields(logrus.Fields{
		"method":   "FeeForMessage",
		"lamports": fee,
	}).Trace("queried message fee")

	return fee, nil
}

// CreationCost returns the lamports a payer needs to submit m when m creates
// a rent exempt account with a data region of size bytes.
func (c *Calculator) CreationCost(ctx context.Context, size uint64, m solana.Message) (uint64, error) {
	rent, err := c.MinBalanceForSize(ctx, size)
	if err != nil {
		return 0, err
	}

	fee, err := c.FeeForMessage(ctx, m)
	if err != nil {
		return 0, err
	}

	if rent > math.MaxUint64-fee {
		return 0, errors.Wrapf(ErrAmountOverflow, "rent %d + fee %d", rent, fee)
	}
	return rent + fee, nil
}
