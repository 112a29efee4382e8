package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"

	"github.com/code-payments/solana-counter/pkg/retry"
	"github.com/code-payments/solana-counter/pkg/retry/backoff"
)

const (
	// todo: we can retrieve these from the Syscall account
	//       but they're unlikely to change.
	ticksPerSec  = 160
	ticksPerSlot = 64
	slotsPerSec  = ticksPerSec / ticksPerSlot

	// PollRate is the rate at which blocks should be polled at.
	PollRate = (time.Second / slotsPerSec) / 2

	// Poll rate is ~2x the slot rate, and we want to wait ~32 slots
	sigStatusPollLimit = 2 * 32

	// Reference: https://github.com/solana-labs/solana/blob/71e9958e061493d7545bd28d4ac7a85aaed6ffbb/client/src/rpc_custom_error.rs#L11
	rpcNodeUnhealthyCode = -32005

	invalidParamCode = -32602
)

type Commitment struct {
	Commitment string `json:"commitment"`
}

const (
	confirmationStatusProcessed = "processed"
	confirmationStatusConfirmed = "confirmed"
	confirmationStatusFinalized = "finalized"
)

var (
	CommitmentProcessed = Commitment{Commitment: confirmationStatusProcessed}
	CommitmentConfirmed = Commitment{Commitment: confirmationStatusConfirmed}
	CommitmentFinalized = Commitment{Commitment: confirmationStatusFinalized}
)

var (
	ErrNoAccountInfo           = errors.New("no account info")
	ErrSignatureNotFound       = errors.New("signature not found")
	ErrNoBalance               = errors.New("no balance")
	ErrFeeUnavailable          = errors.New("fee unavailable for message")
	ErrUnknownCommitment       = errors.New("unknown commitment level")
	errConfirmationsNotReached = errors.New("confirmations not reached")
)

// CommitmentFromString parses one of the commitment levels understood by the
// Solana RPC API. An empty string yields CommitmentConfirmed.
func CommitmentFromString(s string) (Commitment, error) {
	switch s {
	case "":
		return CommitmentConfirmed, nil
	case confirmationStatusProcessed, confirmationStatusConfirmed, confirmationStatusFinalized:
		return Commitment{Commitment: s}, nil
	}

	return Commitment{}, errors.Wrapf(ErrUnknownCommitment, "%q", s)
}

func (c Commitment) String() string {
	return c.Commitment
}

// AccountInfo contains the Solana account information (not to be confused with a TokenAccount)
type AccountInfo struct {
	Data       []byte
	Owner      ed25519.PublicKey
	Lamports   uint64
	Executable bool
}

// KeyedAccount is an account returned alongside its address, as listed by
// getProgramAccounts.
type KeyedAccount struct {
	PublicKey ed25519.PublicKey
	Account   AccountInfo
}

// Version describes the software running on the RPC node.
type Version struct {
	SolanaCore string
	FeatureSet uint32
}

type SignatureStatus struct {
	Slot        uint64
	ErrorResult *TransactionError

	// Confirmations will be nil if the transaction has been rooted.
	Confirmations      *int
	ConfirmationStatus string
}

func (s SignatureStatus) Confirmed() bool {
	if s.Finalized() {
		return true
	}

	if s.ConfirmationStatus == confirmationStatusConfirmed {
		return true
	}

	return *s.Confirmations >= 1
}

func (s SignatureStatus) Finalized() bool {
	return s.Confirmations == nil || s.ConfirmationStatus == confirmationStatusFinalized
}

// Satisfies reports whether the status has reached the provided commitment.
func (s SignatureStatus) Satisfies(commitment Commitment) bool {
	switch commitment {
	case CommitmentProcessed:
		return true
	case CommitmentConfirmed:
		return s.Confirmed()
	case CommitmentFinalized:
		return s.Finalized()
	}
	return false
}

// Client provides an interaction with the Solana JSON RPC API.
//
// Reference: https://docs.solana.com/apps/jsonrpc-api
type Client interface {
	GetAccountInfo(ed25519.PublicKey, Commitment) (AccountInfo, error)
	GetBalance(ed25519.PublicKey) (uint64, error)
	GetConfirmationStatus(Signature, Commitment) (bool, error)
	GetFeeForMessage(Message, Commitment) (uint64, error)
	GetLatestBlockhash() (Blockhash, error)
	GetMinimumBalanceForRentExemption(size uint64) (lamports uint64, err error)
	GetProgramAccounts(program ed25519.PublicKey, commitment Commitment) ([]KeyedAccount, error)
	GetSignatureStatus(Signature, Commitment) (*SignatureStatus, error)
	GetSignatureStatuses([]Signature) ([]*SignatureStatus, error)
	GetSlot(Commitment) (uint64, error)
	GetVersion() (Version, error)
	RequestAirdrop(ed25519.PublicKey, uint64, Commitment) (Signature, error)
	SubmitTransaction(Transaction, Commitment) (Signature, error)
}

var (
	errRateLimited  = errors.New("rate limited")
	errServiceError = errors.New("service error")
)

type rpcAccount struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"`
	Executable bool     `json:"executable"`
}

func (a *rpcAccount) toAccountInfo() (info AccountInfo, err error) {
	info.Owner, err = base58.Decode(a.Owner)
	if err != nil {
		return info, errors.Wrap(err, "invalid base58 encoded owner")
	}

	if len(a.Data) > 0 {
		info.Data, err = base64.StdEncoding.DecodeString(a.Data[0])
		if err != nil {
			return info, errors.Wrap(err, "invalid base64 encoded data")
		}
	}

	info.Lamports = a.Lamports
	info.Executable = a.Executable
	return info, nil
}

type client struct {
	log     *logrus.Entry
	client  jsonrpc.RPCClient
	retrier retry.Retrier
}

// New returns a client using the specified endpoint.
func New(endpoint string) Client {
	return NewWithRPCOptions(endpoint, nil)
}

// NewWithRPCOptions returns a client configured with the specified RPC options.
func NewWithRPCOptions(endpoint string, opts *jsonrpc.RPCClientOpts) Client {
	return &client{
		log:    logrus.StandardLogger().WithField("type", "solana/client"),
		client: jsonrpc.NewClientWithOpts(endpoint, opts),
		retrier: retry.NewRetrier(
			retry.RetriableErrors(errRateLimited, errServiceError),
			retry.Limit(3),
			retry.BackoffWithJitter(backoff.BinaryExponential(time.Second), 10*time.Second, 0.1),
		),
	}
}

func (c *client) call(out interface{}, method string, params ...interface{}) error {
	_, err := c.retrier.Retry(func() error {
		err := c.client.CallFor(out, method, params...)
		if err == nil {
			return nil
		}

		return c.handleRpcError(method, err)
	})

	return err
}

func (c *client) handleRpcError(method string, err error) error {
	rpcErr, ok := err.(*jsonrpc.RPCError)
	if !ok {
		return err
	}
	if rpcErr.Code == 429 {
		c.log.WithField("method", method).Warn("rate limited")
		return errRateLimited
	}
	if rpcErr.Code >= 500 || rpcErr.Code == rpcNodeUnhealthyCode {
		c.log.WithField("method", method).WithError(err).Warn("rpc node unavailable")
		return errServiceError
	}

	return err
}

func (c *client) GetMinimumBalanceForRentExemption(dataSize uint64) (lamports uint64, err error) {
	if err := c.call(&lamports, "getMinimumBalanceForRentExemption", dataSize); err != nil {
		return 0, errors.Wrapf(err, "getMinimumBalanceForRentExemption() failed to send request")
	}

	return lamports, nil
}

func (c *client) GetFeeForMessage(m Message, commitment Commitment) (uint64, error) {
	var resp struct {
		Value *uint64 `json:"value"`
	}
	encoded := base64.StdEncoding.EncodeToString(m.Marshal())
	if err := c.call(&resp, "getFeeForMessage", encoded, commitment); err != nil {
		return 0, errors.Wrapf(err, "getFeeForMessage() failed to send request")
	}

	// The node returns null when the message's blockhash has expired.
	if resp.Value == nil {
		return 0, ErrFeeUnavailable
	}

	return *resp.Value, nil
}

func (c *client) GetSlot(commitment Commitment) (slot uint64, err error) {
	// note: we have to wrap the commitment in an []interface{} otherwise the
	//       solana RPC node complains. Technically this is a violation of the
	//       JSON RPC v2.0 spec.
	if err := c.call(&slot, "getSlot", []interface{}{commitment}); err != nil {
		return 0, errors.Wrapf(err, "getSlot() failed to send request")
	}

	return slot, nil
}

func (c *client) GetVersion() (Version, error) {
	var resp struct {
		SolanaCore string `json:"solana-core"`
		FeatureSet uint32 `json:"feature-set"`
	}
	if err := c.call(&resp, "getVersion"); err != nil {
		return Version{}, errors.Wrapf(err, "getVersion() failed to send request")
	}

	return Version{
		SolanaCore: resp.SolanaCore,
		FeatureSet: resp.FeatureSet,
	}, nil
}

// GetLatestBlockhash always queries the node. Callers assembling a transaction
// should fetch a blockhash immediately before doing so.
func (c *client) GetLatestBlockhash() (hash Blockhash, err error) {
	type response struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}

	var resp response
	if err := c.call(&resp, "getLatestBlockhash"); err != nil {
		return hash, errors.Wrapf(err, "getLatestBlockhash() failed to send request")
	}

	hashBytes, err := base58.Decode(resp.Value.Blockhash)
	if err != nil {
		return hash, errors.Wrap(err, "invalid base58 encoded hash in response")
	}
	if len(hashBytes) != len(hash) {
		return hash, errors.Errorf("invalid blockhash length: %d", len(hashBytes))
	}

	copy(hash[:], hashBytes)
	return hash, nil
}

func (c *client) GetBalance(account ed25519.PublicKey) (uint64, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(&resp, "getBalance", base58.Encode(account[:]), CommitmentProcessed); err != nil {
		jsonRPCErr, ok := errors.Cause(err).(*jsonrpc.RPCError)
		if ok && jsonRPCErr.Code == invalidParamCode {
			return 0, ErrNoBalance
		}

		return 0, errors.Wrapf(err, "getBalance() failed to send request")
	}

	return resp.Value, nil
}

// SubmitTransaction sends the transaction with preflight checks enabled. Failed
// simulations are returned as a *TransactionError.
func (c *client) SubmitTransaction(txn Transaction, commitment Commitment) (Signature, error) {
	sig := txn.Signatures[0]
	txnBytes := txn.Marshal()

	config := struct {
		Encoding            string `json:"encoding"`
		SkipPreflight       bool   `json:"skipPreflight"`
		PreflightCommitment string `json:"preflightCommitment"`
	}{
		Encoding:            "base64",
		SkipPreflight:       false,
		PreflightCommitment: commitment.Commitment,
	}

	var sigStr string
	err := c.call(&sigStr, "sendTransaction", base64.StdEncoding.EncodeToString(txnBytes), config)
	if err == nil {
		return sig, nil
	}

	jsonRPCErr, ok := err.(*jsonrpc.RPCError)
	if !ok {
		return sig, errors.Wrapf(err, "sendTransaction() failed to send request")
	}

	txResult, parseErr := ParseRPCError(jsonRPCErr)
	if parseErr != nil || txResult == nil {
		return sig, errors.Wrapf(err, "sendTransaction() rejected")
	}

	c.log.WithFields(logrus.Fields{
		"method":    "sendTransaction",
		"signature": base58.Encode(sig[:]),
	}).WithError(txResult).Debug("transaction rejected in preflight")

	return sig, txResult
}

func (c *client) GetAccountInfo(account ed25519.PublicKey, commitment Commitment) (accountInfo AccountInfo, err error) {
	type rpcResponse struct {
		Value *rpcAccount `json:"value"`
	}

	rpcConfig := struct {
		Commitment Commitment `json:"commitment"`
		Encoding   string     `json:"encoding"`
	}{
		Commitment: commitment,
		Encoding:   "base64",
	}

	var resp rpcResponse
	if err := c.call(&resp, "getAccountInfo", base58.Encode(account[:]), rpcConfig); err != nil {
		return accountInfo, errors.Wrap(err, "getAccountInfo() failed to send request")
	}

	if resp.Value == nil {
		return accountInfo, ErrNoAccountInfo
	}

	return resp.Value.toAccountInfo()
}

func (c *client) GetProgramAccounts(program ed25519.PublicKey, commitment Commitment) ([]KeyedAccount, error) {
	config := struct {
		Commitment string `json:"commitment"`
		Encoding   string `json:"encoding"`
	}{
		Commitment: commitment.Commitment,
		Encoding:   "base64",
	}

	var resp []struct {
		PubKey  string     `json:"pubkey"`
		Account rpcAccount `json:"account"`
	}
	if err := c.call(&resp, "getProgramAccounts", base58.Encode(program), config); err != nil {
		return nil, errors.Wrap(err, "getProgramAccounts() failed to send request")
	}

	accounts := make([]KeyedAccount, len(resp))
	for i, v := range resp {
		key, err := base58.Decode(v.PubKey)
		if err != nil {
			return nil, errors.Wrap(err, "invalid base58 encoded account")
		}

		info, err := v.Account.toAccountInfo()
		if err != nil {
			return nil, errors.Wrapf(err, "invalid account %s", v.PubKey)
		}

		accounts[i] = KeyedAccount{
			PublicKey: key,
			Account:   info,
		}
	}

	return accounts, nil
}

func (c *client) RequestAirdrop(account ed25519.PublicKey, lamports uint64, commitment Commitment) (Signature, error) {
	var sigStr string
	if err := c.call(&sigStr, "requestAirdrop", base58.Encode(account[:]), lamports, commitment); err != nil {
		return Signature{}, errors.Wrapf(err, "requestAirdrop() failed to send request")
	}

	sigBytes, err := base58.Decode(sigStr)
	if err != nil {
		return Signature{}, errors.Wrap(err, "invalid signature in response")
	}

	var sig Signature
	copy(sig[:], sigBytes)

	if sig == (Signature{}) {
		return Signature{}, errors.New("empty signature returned")
	}

	return sig, nil
}

// GetConfirmationStatus is a single, non-blocking check of whether the
// signature has reached the commitment. A transaction that landed with an
// error returns its *TransactionError.
func (c *client) GetConfirmationStatus(sig Signature, commitment Commitment) (bool, error) {
	statuses, err := c.GetSignatureStatuses([]Signature{sig})
	if err != nil {
		return false, err
	}

	s := statuses[0]
	if s == nil {
		return false, nil
	}
	if s.ErrorResult != nil {
		return false, s.ErrorResult
	}

	return s.Satisfies(commitment), nil
}

// GetSignatureStatus blocks until the signature reaches the commitment, or the
// poll limit is exceeded. A transaction that landed with an error is returned
// immediately with ErrorResult set.
func (c *client) GetSignatureStatus(sig Signature, commitment Commitment) (*SignatureStatus, error) {
	var s *SignatureStatus
	_, err := retry.Retry(
		func() error {
			statuses, err := c.GetSignatureStatuses([]Signature{sig})
			if err != nil {
				return err
			}

			s = statuses[0]
			if s == nil {
				return ErrSignatureNotFound
			}

			if s.ErrorResult != nil {
				return nil
			}

			if s.Satisfies(commitment) {
				return nil
			}

			return errConfirmationsNotReached
		},
		retry.RetriableErrors(ErrSignatureNotFound, errConfirmationsNotReached),
		retry.Limit(sigStatusPollLimit),
		retry.Backoff(backoff.Constant(PollRate), PollRate),
	)

	return s, err
}

func (c *client) GetSignatureStatuses(sigs []Signature) ([]*SignatureStatus, error) {
	b58Sigs := make([]string, len(sigs))
	for i := range sigs {
		b58Sigs[i] = base58.Encode(sigs[i][:])
	}

	req := struct {
		SearchTransactionHistory bool `json:"searchTransactionHistory"`
	}{
		SearchTransactionHistory: true,
	}

	type signatureStatus struct {
		Slot               uint64          `json:"slot"`
		Confirmations      *int            `json:"confirmations"`
		ConfirmationStatus string          `json:"confirmationStatus"`
		Err                json.RawMessage `json:"err"`
	}

	type rpcResp struct {
		Context struct {
			Slot int `json:"slot"`
		} `json:"context"`
		Value []*signatureStatus `json:"value"`
	}

	var resp rpcResp
	if err := c.call(&resp, "getSignatureStatuses", b58Sigs, req); err != nil {
		return nil, errors.Wrap(err, "getSignatureStatuses() failed to send request")
	}
	if len(resp.Value) != len(sigs) {
		return nil, errors.Errorf("expected %d statuses, got %d", len(sigs), len(resp.Value))
	}

	statuses := make([]*SignatureStatus, len(sigs))
	for i, v := range resp.Value {
		if v == nil {
			continue
		}

		statuses[i] = &SignatureStatus{}
		statuses[i].Confirmations = v.Confirmations
		statuses[i].ConfirmationStatus = v.ConfirmationStatus
		statuses[i].Slot = v.Slot

		if len(v.Err) > 0 && string(v.Err) != "null" {
			var txError interface{}
			if err := json.Unmarshal(v.Err, &txError); err != nil {
				return nil, errors.Wrap(err, "failed to parse transaction result")
			}

			var err error
			statuses[i].ErrorResult, err = ParseTransactionError(txError)
			if err != nil {
				return nil, errors.Wrap(err, "failed to parse transaction result")
			}
		}
	}

	return statuses, nil
}
