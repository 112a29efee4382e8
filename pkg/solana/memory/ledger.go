package memory

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/solana-counter/pkg/rate"
	"github.com/code-payments/solana-counter/pkg/solana"
	"github.com/code-payments/solana-counter/pkg/solana/bpfloader"
	"github.com/code-payments/solana-counter/pkg/solana/system"
)

const (
	// LamportsPerSignature is the fee charged per required signature.
	LamportsPerSignature = 5000

	// Number of recent blockhashes a transaction may reference.
	maxRecentBlockhashes = 150

	// Largest data region the system program will allocate.
	maxAccountDataSize = 10 * 1024 * 1024

	version    = "1.18.26"
	featureSet = 3241752014
)

var (
	ErrAirdropUnavailable = errors.New("airdrop unavailable")
	ErrAirdropRateLimited = errors.New("airdrop rate limited")
	ErrInducedFailure     = errors.New("induced failure")
)

// Method names accepted by InduceError.
const (
	MethodGetAccountInfo                    = "getAccountInfo"
	MethodGetBalance                        = "getBalance"
	MethodGetConfirmationStatus             = "confirmTransaction"
	MethodGetFeeForMessage                  = "getFeeForMessage"
	MethodGetLatestBlockhash                = "getLatestBlockhash"
	MethodGetMinimumBalanceForRentExemption = "getMinimumBalanceForRentExemption"
	MethodGetProgramAccounts                = "getProgramAccounts"
	MethodGetSignatureStatuses              = "getSignatureStatuses"
	MethodGetSlot                           = "getSlot"
	MethodGetVersion                        = "getVersion"
	MethodRequestAirdrop                    = "requestAirdrop"
	MethodSendTransaction                   = "sendTransaction"
)

type pendingAirdrop struct {
	account  ed25519.PublicKey
	lamports uint64
	polls    int
}

// Ledger is an in-memory solana.Client. Transactions are executed and
// committed atomically at submission, with failed transactions rejected the
// way a node's preflight simulation would reject them.
type Ledger struct {
	log *logrus.Entry

	mu          sync.Mutex
	slot        uint64
	accounts    map[string]solana.AccountInfo
	programs    map[string]solana.Entrypoint
	blockhashes []solana.Blockhash
	statuses    map[solana.Signature]*solana.SignatureStatus
	submitted   []solana.Transaction
	airdrops    map[solana.Signature]*pendingAirdrop
	airdropSeq  uint64

	airdropEnabled bool
	airdropDelay   int
	airdropLimiter rate.Limiter
	induced        map[string]error
}

// New returns a Ledger holding only the rent sysvar, with airdrops enabled
// and confirmed on the first poll.
func New() *Ledger {
	l := &Ledger{
		log:            logrus.StandardLogger().WithField("type", "solana/memory"),
		slot:           1,
		accounts:       make(map[string]solana.AccountInfo),
		programs:       make(map[string]solana.Entrypoint),
		statuses:       make(map[solana.Signature]*solana.SignatureStatus),
		airdrops:       make(map[solana.Signature]*pendingAirdrop),
		airdropEnabled: true,
		airdropLimiter: &rate.NoLimiter{},
		induced:        make(map[string]error),
	}

	l.accounts[string(system.RentSysVar)] = solana.AccountInfo{
		Data:     system.DefaultRent.Marshal(),
		Owner:    system.SysvarProgramKey,
		Lamports: system.DefaultRent.MinimumBalance(system.RentSize),
	}
	l.advanceLocked()

	return l
}

//
// Test controls
//

// SetAccount creates or replaces an account.
func (l *Ledger) SetAccount(account ed25519.PublicKey, info solana.AccountInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts[string(account)] = cloneAccount(info)
}

// SetBalance sets the lamports held by a system owned account, creating it if
// needed.
func (l *Ledger) SetBalance(account ed25519.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.accounts[string(account)]
	if !ok {
		info = solana.AccountInfo{Owner: system.SystemAccount}
	}
	info.Lamports = lamports
	l.accounts[string(account)] = info
}

// DeployProgram deploys a program through the upgradeable loader: an
// executable program account pointing at a ProgramData account.
func (l *Ledger) DeployProgram(program ed25519.PublicKey, upgradeAuthority ed25519.PublicKey, entrypoint solana.Entrypoint) error {
	programData, err := bpfloader.GetProgramDataAddress(program)
	if err != nil {
		return errors.Wrap(err, "failed to derive program data address")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	programAccount := bpfloader.ProgramAccount{ProgramDataAddress: programData}.Marshal()
	l.accounts[string(program)] = solana.AccountInfo{
		Data:       programAccount,
		Owner:      bpfloader.UpgradeableProgramKey,
		Lamports:   system.DefaultRent.MinimumBalance(uint64(len(programAccount))),
		Executable: true,
	}

	programDataAccount := bpfloader.ProgramDataAccount{
		Slot:             l.slot,
		UpgradeAuthority: upgradeAuthority,
	}.Marshal()
	l.accounts[string(programData)] = solana.AccountInfo{
		Data:     programDataAccount,
		Owner:    bpfloader.UpgradeableProgramKey,
		Lamports: system.DefaultRent.MinimumBalance(uint64(len(programDataAccount))),
	}

	l.programs[string(program)] = entrypoint
	return nil
}

// DeployLegacyProgram deploys a program owned by a non-upgradeable loader.
func (l *Ledger) DeployLegacyProgram(program ed25519.PublicKey, loader ed25519.PublicKey, entrypoint solana.Entrypoint) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts[string(program)] = solana.AccountInfo{
		Owner:      loader,
		Lamports:   system.DefaultRent.MinimumBalance(0),
		Executable: true,
	}
	l.programs[string(program)] = entrypoint
}

// CloseProgram closes an upgradeable program. The program account remains,
// but its ProgramData account is removed and it can no longer be invoked.
func (l *Ledger) CloseProgram(program ed25519.PublicKey) error {
	programData, err := bpfloader.GetProgramDataAddress(program)
	if err != nil {
		return errors.Wrap(err, "failed to derive program data address")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.accounts, string(programData))
	delete(l.programs, string(program))
	return nil
}

// SetAirdropEnabled toggles the faucet.
func (l *Ledger) SetAirdropEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.airdropEnabled = enabled
}

// SetAirdropDelay sets the number of confirmation polls an airdrop takes to
// confirm. Negative values never confirm.
func (l *Ledger) SetAirdropDelay(polls int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.airdropDelay = polls
}

// SetAirdropLimiter limits how often each account may request an airdrop.
func (l *Ledger) SetAirdropLimiter(limiter rate.Limiter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.airdropLimiter = limiter
}

// InduceError makes the named RPC method fail with err until cleared.
func (l *Ledger) InduceError(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err == nil {
		err = ErrInducedFailure
	}
	l.induced[method] = err
}

// ClearErrors stops inducing errors on every method.
func (l *Ledger) ClearErrors() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.induced = make(map[string]error)
}

// Transactions returns every transaction that was committed.
func (l *Ledger) Transactions() []solana.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]solana.Transaction(nil), l.submitted...)
}

// TransactionCount returns the number of committed transactions.
func (l *Ledger) TransactionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.submitted)
}

//
// solana.Client
//

// GetAccountInfo implements solana.Client.GetAccountInfo
func (l *Ledger) GetAccountInfo(account ed25519.PublicKey, _ solana.Commitment) (solana.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.induced[MethodGetAccountInfo]; err != nil {
		return solana.AccountInfo{}, err
	}

	info, ok := l.accounts[string(account)]
	if !ok {
		return solana.AccountInfo{}, solana.ErrNoAccountInfo
	}
	return cloneAccount(info), nil
}

// GetBalance implements solana.Client.GetBalance
func (l *Ledger) GetBalance(account ed25519.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.induced[MethodGetBalance]; err != nil {
		return 0, err
	}

	return l.accounts[string(account)].Lamports, nil
}

// GetConfirmationStatus implements solana.Client.GetConfirmationStatus
//
// Each call counts as one poll towards pending airdrops.
func (l *Ledger) GetConfirmationStatus(sig solana.Signature, commitment solana.Commitment) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.induced[MethodGetConfirmationStatus]; err != nil {
		return false, err
	}

	if pending, ok := l.airdrops[sig]; ok {
		if pending.polls < 0 {
			return false, nil
		}
		if pending.polls > 0 {
			pending.polls--
			return false, nil
		}

		l.creditAirdropLocked(sig, pending)
	}

	status, ok := l.statuses[sig]
	if !ok {
		return false, nil
	}
	if status.ErrorResult != nil {
		return false, status.ErrorResult
	}
	return status.Satisfies(commitment), nil
}

// GetFeeForMessage implements solana.Client.GetFeeForMessage
func (l *Ledger) GetFeeForMessage(m solana.Message, _ solana.Commitment) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.induced[MethodGetFeeForMessage]; err != nil {
		return 0, err
	}

	if !l.isRecentBlockhashLocked(m.RecentBlockhash) {
		return 0, solana.ErrFeeUnavailable
	}
	return uint64(m.Header.NumSignatures) * LamportsPerSignature, nil
}

// GetLatestBlockhash implements solana.Client.GetLatestBlockhash
//
// Every call produces a new slot and blockhash.
func (l *Ledger) GetLatestBlockhash() (solana.Blockhash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.induced[MethodGetLatestBlockhash]; err != nil {
		return solana.Blockhash{}, err
	}

	return l.advanceLocked(), nil
}

// GetMinimumBalanceForRentExemption implements solana.Client.GetMinimumBalanceForRentExemption
func (l *Ledger) GetMinimumBalanceForRentExemption(size uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.induced[MethodGetMinimumBalanceForRentExemption]; err != nil {
		return 0, err
	}

	rent, err := l.rentLocked()
	if err != nil {
		return 0, err
	}
	return rent.MinimumBalance(size), nil
}

// GetProgramAccounts implements solana.Client.GetProgramAccounts
func (l *Ledger) GetProgramAccounts(program ed25519.PublicKey, _ solana.Commitment) ([]solana.KeyedAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.induced[MethodGetProgramAccounts]; err != nil {
		return nil, err
	}

	var res []solana.KeyedAccount
	for key, info := range l.accounts {
		if bytes.Equal(info.Owner, program) {
			res = append(res, solana.KeyedAccount{
				PublicKey: ed25519.PublicKey(key),
				Account:   cloneAccount(info),
			})
		}
	}

	sort.Slice(res, func(i, j int) bool {
		return bytes.Compare(res[i].PublicKey, res[j].PublicKey) < 0
	})
	return res, nil
}

// GetSignatureStatus implements solana.Client.GetSignatureStatus
//
// Transactions are committed on submission, so there is nothing to wait for.
func (l *Ledger) GetSignatureStatus(sig solana.Signature, _ solana.Commitment) (*solana.SignatureStatus, error) {
	statuses, err := l.GetSignatureStatuses([]solana.Signature{sig})
	if err != nil {
		return nil, err
	}
	if statuses[0] == nil {
		return nil, solana.ErrSignatureNotFound
	}
	return statuses[0], nil
}

// GetSignatureStatuses implements solana.Client.GetSignatureStatuses
func (l *Ledger) GetSignatureStatuses(sigs []solana.Signature) ([]*solana.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.induced[MethodGetSignatureStatuses]; err != nil {
		return nil, err
	}

	res := make([]*solana.SignatureStatus, len(sigs))
	for i, sig := range sigs {
		if status, ok := l.statuses[sig]; ok {
			cloned := *status
			res[i] = &cloned
		}
	}
	return res, nil
}

// GetSlot implements solana.Client.GetSlot
func (l *Ledger) GetSlot(_ solana.Commitment) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.induced[MethodGetSlot]; err != nil {
		return 0, err
	}
	return l.slot, nil
}

// GetVersion implements solana.Client.GetVersion
func (l *Ledger) GetVersion() (solana.Version, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.induced[MethodGetVersion]; err != nil {
		return solana.Version{}, err
	}
	return solana.Version{SolanaCore: version, FeatureSet: featureSet}, nil
}

// RequestAirdrop implements solana.Client.RequestAirdrop
//
// The lamports are credited once the airdrop confirms, which takes the
// configured number of confirmation polls.
func (l *Ledger) RequestAirdrop(account ed25519.PublicKey, lamports uint64, _ solana.Commitment) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.induced[MethodRequestAirdrop]; err != nil {
		return solana.Signature{}, err
	}
	if !l.airdropEnabled {
		return solana.Signature{}, ErrAirdropUnavailable
	}
	if !l.airdropLimiter.Allow(account) {
		return solana.Signature{}, ErrAirdropRateLimited
	}

	var sig solana.Signature
	h := sha256.New()
	h.Write(account)
	binary.Write(h, binary.LittleEndian, lamports)
	binary.Write(h, binary.LittleEndian, l.slot)
	binary.Write(h, binary.LittleEndian, l.airdropSeq)
	copy(sig[:], h.Sum(nil))
	copy(sig[sha256.Size:], h.Sum(nil))
	l.airdropSeq++

	pending := &pendingAirdrop{
		account:  append(ed25519.PublicKey(nil), account...),
		lamports: lamports,
		polls:    l.airdropDelay,
	}
	l.airdrops[sig] = pending

	l.log.WithFields(logrus.Fields{
		"method":   MethodRequestAirdrop,
		"account":  base58.Encode(account),
		"lamports": lamports,
	}).Debug("airdrop requested")

	return sig, nil
}

// SubmitTransaction implements solana.Client.SubmitTransaction
func (l *Ledger) SubmitTransaction(txn solana.Transaction, _ solana.Commitment) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sig solana.Signature
	if len(txn.Signatures) > 0 {
		sig = txn.Signatures[0]
	}

	if err := l.induced[MethodSendTransaction]; err != nil {
		return sig, err
	}

	if txErr := l.executeLocked(txn); txErr != nil {
		l.log.WithFields(logrus.Fields{
			"method":    MethodSendTransaction,
			"signature": base58.Encode(sig[:]),
		}).WithError(txErr).Debug("transaction rejected")
		return sig, txErr
	}

	l.statuses[sig] = &solana.SignatureStatus{
		Slot:               l.slot,
		ConfirmationStatus: "finalized",
	}
	l.submitted = append(l.submitted, txn)
	return sig, nil
}

func (l *Ledger) creditAirdropLocked(sig solana.Signature, pending *pendingAirdrop) {
	delete(l.airdrops, sig)

	info, ok := l.accounts[string(pending.account)]
	if !ok {
		info = solana.AccountInfo{Owner: system.SystemAccount}
	}
	info.Lamports += pending.lamports
	l.accounts[string(pending.account)] = info

	l.statuses[sig] = &solana.SignatureStatus{
		Slot:               l.slot,
		ConfirmationStatus: "finalized",
	}
}

func (l *Ledger) advanceLocked() solana.Blockhash {
	l.slot++

	var slot [8]byte
	binary.LittleEndian.PutUint64(slot[:], l.slot)
	hash := solana.Blockhash(sha256.Sum256(slot[:]))

	l.blockhashes = append(l.blockhashes, hash)
	if len(l.blockhashes) > maxRecentBlockhashes {
		l.blockhashes = l.blockhashes[len(l.blockhashes)-maxRecentBlockhashes:]
	}
	return hash
}

func (l *Ledger) isRecentBlockhashLocked(hash solana.Blockhash) bool {
	for _, recent := range l.blockhashes {
		if recent == hash {
			return true
		}
	}
	return false
}

func (l *Ledger) rentLocked() (system.Rent, error) {
	var rent system.Rent
	if err := rent.Unmarshal(l.accounts[string(system.RentSysVar)].Data); err != nil {
		return rent, errors.Wrap(err, "invalid rent sysvar")
	}
	return rent, nil
}

func cloneAccount(info solana.AccountInfo) solana.AccountInfo {
	return solana.AccountInfo{
		Data:       append([]byte(nil), info.Data...),
		Owner:      append(ed25519.PublicKey(nil), info.Owner...),
		Lamports:   info.Lamports,
		Executable: info.Executable,
	}
}
