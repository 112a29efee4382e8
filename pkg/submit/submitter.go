package submit

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/code-payments/solana-counter/pkg/retry"
	"github.com/code-payments/solana-counter/pkg/solana"
)

// Status polls run at roughly twice the slot rate for about 32 slots.
const defaultMaxStatusPolls = 64

// ErrSubmissionFailed indicates a transaction could not be assembled,
// was rejected, failed on chain, or could not be confirmed. When the ledger
// rejected the transaction, the *solana.TransactionError is wrapped.
var ErrSubmissionFailed = errors.New("transaction submission failed")

var errNotConfirmed = errors.New("commitment not reached")

// Submitter assembles, submits and confirms transactions. It never resubmits:
// retrying a failed submission is left to the caller.
type Submitter struct {
	log        *logrus.Entry
	rpc        solana.Client
	commitment solana.Commitment

	pollInterval time.Duration
	maxPolls     uint
}

func New(rpc solana.Client, commitment solana.Commitment) *Submitter {
	return &Submitter{
		log:          logrus.StandardLogger().WithField("type", "submit/submitter"),
		rpc:          rpc,
		commitment:   commitment,
		pollInterval: solana.PollRate,
		maxPolls:     defaultMaxStatusPolls,
	}
}

// Assemble compiles the instructions into an unsigned transaction paid for by
// payer, using a blockhash fetched for this call.
func (s *Submitter) Assemble(ctx context.Context, payer ed25519.PublicKey, instructions ...solana.Instruction) (solana.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return solana.Transaction{}, err
	}
	if len(instructions) == 0 {
		return solana.Transaction{}, errors.Wrap(ErrSubmissionFailed, "no instructions")
	}

	bh, err := s.rpc.GetLatestBlockhash()
	if err != nil {
		return solana.Transaction{}, wrap(err, "failed to get recent blockhash")
	}

	txn := solana.NewLegacyTransaction(payer, instructions...)
	txn.SetBlockhash(bh)
	return txn, nil
}

// SubmitAndConfirm signs txn with signers, submits it, and blocks until the
// ledger reports it at the configured commitment. Cancelling ctx stops the
// wait and returns ctx's error.
func (s *Submitter) SubmitAndConfirm(ctx context.Context, txn solana.Transaction, signers ...ed25519.PrivateKey) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}

	if err := txn.Sign(signers...); err != nil {
		return solana.Signature{}, wrap(err, "failed to sign transaction")
	}
	if err := txn.VerifySignatures(); err != nil {
		return solana.Signature{}, wrap(err, "transaction is not fully signed")
	}

	sig := txn.Signatures[0]
	log := s.log.WithFields(logrus.Fields{
		"method":    "SubmitAndConfirm",
		"signature": base58.Encode(sig[:]),
	})

	if _, err := s.rpc.SubmitTransaction(txn, s.commitment); err != nil {
		return sig, wrap(err, "failed to submit transaction")
	}
	log.Debug("transaction submitted")

	if err := ctx.Err(); err != nil {
		return sig, err
	}

	status, err := s.awaitStatus(ctx, sig)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sig, ctxErr
		}
		return sig, wrap(err, "failed to confirm transaction")
	}
	if status.ErrorResult != nil {
		return sig, wrap(status.ErrorResult, "transaction failed")
	}

	log.WithField("slot", status.Slot).Debug("transaction confirmed")
	return sig, nil
}

// awaitStatus polls the signature's status until it lands with an error or
// reaches the configured commitment.
func (s *Submitter) awaitStatus(ctx context.Context, sig solana.Signature) (*solana.SignatureStatus, error) {
	limiter := rate.NewLimiter(rate.Every(s.pollInterval), 1)

	var status *solana.SignatureStatus
	_, err := retry.Retry(
		func() error {
			statuses, err := s.rpc.GetSignatureStatuses([]solana.Signature{sig})
			if err != nil {
				return err
			}
			if len(statuses) != 1 || statuses[0] == nil {
				return solana.ErrSignatureNotFound
			}

			status = statuses[0]
			if status.ErrorResult != nil || status.Satisfies(s.commitment) {
				return nil
			}
			return errNotConfirmed
		},
		retry.RetriableErrors(solana.ErrSignatureNotFound, errNotConfirmed),
		retry.Limit(s.maxPolls),
		retry.Context(ctx),
		retry.RateLimit(ctx, limiter),
	)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// submissionError keeps ErrSubmissionFailed and the underlying cause
// reachable through errors.Is and errors.As.
type submissionError struct {
	msg   string
	cause error
}

func wrap(cause error, msg string) error {
	return &submissionError{msg: msg, cause: cause}
}

func (e *submissionError) Error() string {
	return ErrSubmissionFailed.Error() + ": " + e.msg + ": " + e.cause.Error()
}

func (e *submissionError) Is(target error) bool {
	return target == ErrSubmissionFailed
}

func (e *submissionError) Unwrap() error {
	return e.cause
}
