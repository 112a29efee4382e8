package memory

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/code-payments/solana-counter/pkg/solana"
	"github.com/code-payments/solana-counter/pkg/solana/bpfloader"
	"github.com/code-payments/solana-counter/pkg/solana/system"
)

// System program custom error codes.
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/system_instruction.rs#L15-L33
const (
	systemErrorAccountAlreadyInUse        solana.CustomError = 0
	systemErrorResultWithNegativeLamports solana.CustomError = 1
	systemErrorInvalidAccountDataLength   solana.CustomError = 3
	systemErrorAddressWithSeedMismatch    solana.CustomError = 5
)

const (
	systemCommandCreateAccount         = 0
	systemCommandTransfer              = 2
	systemCommandCreateAccountWithSeed = 3
)

// workingSet is the copy of account state a transaction executes against.
// Nothing is written back to the ledger unless every instruction succeeds.
type workingSet map[string]*solana.AccountInfo

func (w workingSet) get(account ed25519.PublicKey) *solana.AccountInfo {
	info, ok := w[string(account)]
	if !ok {
		info = &solana.AccountInfo{Owner: system.SystemAccount}
		w[string(account)] = info
	}
	return info
}

func (l *Ledger) executeLocked(txn solana.Transaction) *solana.TransactionError {
	m := txn.Message

	if m.Header.NumSignatures == 0 {
		return solana.NewTransactionError(solana.TransactionErrorMissingSignatureForFee)
	}
	if txErr := sanitize(m); txErr != nil {
		return txErr
	}
	if err := txn.VerifySignatures(); err != nil {
		return solana.NewTransactionError(solana.TransactionErrorSignatureFailure)
	}
	if _, ok := l.statuses[txn.Signatures[0]]; ok {
		return solana.NewTransactionError(solana.TransactionErrorDuplicateSignature)
	}
	if !l.isRecentBlockhashLocked(m.RecentBlockhash) {
		return solana.NewTransactionError(solana.TransactionErrorBlockhashNotFound)
	}

	ws := make(workingSet)
	for _, account := range m.Accounts {
		if info, ok := l.accounts[string(account)]; ok {
			cloned := cloneAccount(info)
			ws[string(account)] = &cloned
		}
	}

	payer, ok := ws[string(m.Payer())]
	if !ok {
		return solana.NewTransactionError(solana.TransactionErrorAccountNotFound)
	}
	if !bytes.Equal(payer.Owner, system.SystemAccount) || len(payer.Data) > 0 {
		return solana.NewTransactionError(solana.TransactionErrorInvalidAccountForFee)
	}
	fee := uint64(m.Header.NumSignatures) * LamportsPerSignature
	if payer.Lamports < fee {
		return solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee)
	}
	payer.Lamports -= fee

	for i := range m.Instructions {
		if txErr := l.executeInstructionLocked(m, i, ws); txErr != nil {
			return txErr
		}
	}

	for i, account := range m.Accounts {
		if !m.IsWritable(i) {
			continue
		}

		info := ws.get(account)
		if info.Lamports == 0 && len(info.Data) == 0 && bytes.Equal(info.Owner, system.SystemAccount) {
			delete(l.accounts, string(account))
			continue
		}
		l.accounts[string(account)] = cloneAccount(*info)
	}
	l.slot++

	return nil
}

func sanitize(m solana.Message) *solana.TransactionError {
	if len(m.Accounts) < int(m.Header.NumSignatures) || int(m.Header.NumSignatures) < int(m.Header.NumReadonlySigned) {
		return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
	}

	seen := make(map[string]struct{}, len(m.Accounts))
	for _, account := range m.Accounts {
		if len(account) != ed25519.PublicKeySize {
			return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
		}
		if _, ok := seen[string(account)]; ok {
			return solana.NewTransactionError(solana.TransactionErrorAccountLoadedTwice)
		}
		seen[string(account)] = struct{}{}
	}

	for _, ix := range m.Instructions {
		if int(ix.ProgramIndex) >= len(m.Accounts) || ix.ProgramIndex == 0 {
			return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
		}
		for _, a := range ix.Accounts {
			if int(a) >= len(m.Accounts) {
				return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
			}
		}
	}

	return nil
}

func (l *Ledger) executeInstructionLocked(m solana.Message, index int, ws workingSet) *solana.TransactionError {
	ix := m.Instructions[index]
	program := m.Accounts[ix.ProgramIndex]

	var err error
	if bytes.Equal(program, system.SystemAccount) {
		err = executeSystem(m, index, ws)
	} else {
		info, ok := l.accounts[string(program)]
		if !ok {
			return solana.NewTransactionError(solana.TransactionErrorProgramAccountNotFound)
		}

		entrypoint, ok := l.programs[string(program)]
		if !ok || !info.Executable || !l.isInvocableLocked(program, info) {
			return solana.NewTransactionError(solana.TransactionErrorInvalidProgramForExecution)
		}

		err = invoke(entrypoint, program, m, index, ws)
	}

	if err == nil {
		return nil
	}

	txErr, convErr := solana.TransactionErrorFromInstructionError(toInstructionError(index, err))
	if convErr != nil {
		l.log.WithError(convErr).Warn("failed to convert instruction error")
		return solana.NewTransactionError(solana.TransactionErrorInternal)
	}
	return txErr
}

// isInvocableLocked reports whether an executable account can still be
// invoked. Upgradeable programs require their ProgramData account to exist.
func (l *Ledger) isInvocableLocked(program ed25519.PublicKey, info solana.AccountInfo) bool {
	if bpfloader.IsLegacyLoader(info.Owner) {
		return true
	}
	if !bpfloader.IsUpgradeableLoader(info.Owner) {
		return false
	}

	var state bpfloader.ProgramAccount
	if err := state.Unmarshal(info.Data); err != nil {
		return false
	}
	_, ok := l.accounts[string(state.ProgramDataAddress)]
	return ok
}

func toInstructionError(index int, err error) *solana.InstructionError {
	var instructionErr *solana.InstructionError
	if errors.As(err, &instructionErr) {
		return &solana.InstructionError{Index: index, Err: instructionErr.Err}
	}

	var custom solana.CustomError
	if errors.As(err, &custom) {
		return &solana.InstructionError{Index: index, Err: custom}
	}

	return solana.NewInstructionError(index, solana.InstructionErrorGenericError)
}

// invoke runs a program entrypoint over copies of the instruction's accounts,
// then verifies the program only made changes it was allowed to make before
// applying them to the working set.
func invoke(entrypoint solana.Entrypoint, program ed25519.PublicKey, m solana.Message, index int, ws workingSet) error {
	ix := m.Instructions[index]

	byIndex := make(map[byte]*solana.InvokedAccount)
	invoked := make([]*solana.InvokedAccount, len(ix.Accounts))
	for i, a := range ix.Accounts {
		if existing, ok := byIndex[a]; ok {
			invoked[i] = existing
			continue
		}

		key := m.Accounts[a]
		info := ws.get(key)
		invoked[i] = &solana.InvokedAccount{
			PublicKey:  key,
			Owner:      append(ed25519.PublicKey(nil), info.Owner...),
			Lamports:   info.Lamports,
			Data:       append([]byte(nil), info.Data...),
			Executable: info.Executable,
			IsSigner:   m.IsSigner(int(a)),
			IsWritable: m.IsWritable(int(a)),
		}
		byIndex[a] = invoked[i]
	}

	if err := entrypoint(program, invoked, append([]byte(nil), ix.Data...)); err != nil {
		return err
	}

	for a, after := range byIndex {
		before := ws.get(m.Accounts[a])

		if err := verifyAccountChange(program, before, after); err != nil {
			return err
		}
	}

	for a, after := range byIndex {
		before := ws.get(m.Accounts[a])
		before.Lamports = after.Lamports
		before.Data = after.Data
	}

	return nil
}

func verifyAccountChange(program ed25519.PublicKey, before *solana.AccountInfo, after *solana.InvokedAccount) error {
	dataChanged := !bytes.Equal(before.Data, after.Data)
	owned := bytes.Equal(before.Owner, program)

	switch {
	case !bytes.Equal(before.Owner, after.Owner):
		return &solana.InstructionError{Err: errors.New(string(solana.InstructionErrorModifiedProgramID))}
	case before.Executable != after.Executable:
		return &solana.InstructionError{Err: errors.New(string(solana.InstructionErrorExecutableModified))}
	case len(before.Data) != len(after.Data):
		return &solana.InstructionError{Err: errors.New(string(solana.InstructionErrorAccountDataSizeChanged))}
	case dataChanged && !after.IsWritable:
		return &solana.InstructionError{Err: errors.New(string(solana.InstructionErrorReadonlyDataModified))}
	case dataChanged && !owned:
		return &solana.InstructionError{Err: errors.New(string(solana.InstructionErrorExternalAccountDataModified))}
	case before.Lamports != after.Lamports && !after.IsWritable:
		return &solana.InstructionError{Err: errors.New(string(solana.InstructionErrorReadonlyLamportChange))}
	case before.Lamports > after.Lamports && !owned:
		return &solana.InstructionError{Err: errors.New(string(solana.InstructionErrorExternalAccountLamportSpend))}
	case before.Lamports != after.Lamports:
		// Without cross-program invocation there is nowhere for the lamports
		// to go, so any change leaves the instruction unbalanced.
		return &solana.InstructionError{Err: errors.New(string(solana.InstructionErrorUnbalancedInstruction))}
	}

	return nil
}

//
// System program
//

func executeSystem(m solana.Message, index int, ws workingSet) error {
	data := m.Instructions[index].Data
	if len(data) < 4 {
		return solana.NewInstructionError(index, solana.InstructionErrorInvalidInstructionData)
	}

	switch binary.LittleEndian.Uint32(data) {
	case systemCommandCreateAccount:
		ix, err := system.DecompileCreateAccount(m, index)
		if err != nil {
			return solana.NewInstructionError(index, solana.InstructionErrorInvalidInstructionData)
		}
		if !isSignerKey(m, ix.Address) {
			return solana.NewInstructionError(index, solana.InstructionErrorMissingRequiredSignature)
		}
		return createAccount(m, index, ws, ix.Funder, ix.Address, ix.Lamports, ix.Size, ix.Owner)

	case systemCommandCreateAccountWithSeed:
		ix, err := system.DecompileCreateAccountWithSeed(m, index)
		if err != nil {
			return solana.NewInstructionError(index, solana.InstructionErrorInvalidInstructionData)
		}
		if !isSignerKey(m, ix.Base) {
			return solana.NewInstructionError(index, solana.InstructionErrorMissingRequiredSignature)
		}

		derived, err := solana.CreateWithSeed(ix.Base, ix.Seed, ix.Owner)
		switch {
		case errors.Is(err, solana.ErrMaxSeedLengthExceeded):
			return solana.NewInstructionError(index, solana.InstructionErrorMaxSeedLengthExceeded)
		case err != nil:
			return solana.NewInstructionError(index, solana.InstructionErrorInvalidSeeds)
		case !bytes.Equal(derived, ix.Address):
			return &solana.InstructionError{Index: index, Err: systemErrorAddressWithSeedMismatch}
		}
		return createAccount(m, index, ws, ix.Funder, ix.Address, ix.Lamports, ix.Size, ix.Owner)

	case systemCommandTransfer:
		ix, err := system.DecompileTransfer(m, index)
		if err != nil {
			return solana.NewInstructionError(index, solana.InstructionErrorInvalidInstructionData)
		}
		return transfer(m, index, ws, ix.From, ix.To, ix.Lamports)
	}

	return solana.NewInstructionError(index, solana.InstructionErrorInvalidInstructionData)
}

func createAccount(m solana.Message, index int, ws workingSet, funder, address ed25519.PublicKey, lamports, size uint64, owner ed25519.PublicKey) error {
	if !isSignerKey(m, funder) {
		return solana.NewInstructionError(index, solana.InstructionErrorMissingRequiredSignature)
	}
	if !isWritableKey(m, funder) || !isWritableKey(m, address) {
		return solana.NewInstructionError(index, solana.InstructionErrorReadonlyLamportChange)
	}

	to := ws.get(address)
	if to.Lamports > 0 || len(to.Data) > 0 || !bytes.Equal(to.Owner, system.SystemAccount) {
		return &solana.InstructionError{Index: index, Err: systemErrorAccountAlreadyInUse}
	}
	if size > maxAccountDataSize {
		return &solana.InstructionError{Index: index, Err: systemErrorInvalidAccountDataLength}
	}

	from := ws.get(funder)
	if len(from.Data) > 0 {
		return solana.NewInstructionError(index, solana.InstructionErrorInvalidArgument)
	}
	if from.Lamports < lamports {
		return &solana.InstructionError{Index: index, Err: systemErrorResultWithNegativeLamports}
	}

	from.Lamports -= lamports
	to.Lamports = lamports
	to.Data = make([]byte, size)
	to.Owner = append(ed25519.PublicKey(nil), owner...)

	return nil
}

func transfer(m solana.Message, index int, ws workingSet, source, destination ed25519.PublicKey, lamports uint64) error {
	if !isSignerKey(m, source) {
		return solana.NewInstructionError(index, solana.InstructionErrorMissingRequiredSignature)
	}
	if !isWritableKey(m, source) || !isWritableKey(m, destination) {
		return solana.NewInstructionError(index, solana.InstructionErrorReadonlyLamportChange)
	}

	from := ws.get(source)
	if len(from.Data) > 0 || !bytes.Equal(from.Owner, system.SystemAccount) {
		return solana.NewInstructionError(index, solana.InstructionErrorInvalidArgument)
	}
	if from.Lamports < lamports {
		return &solana.InstructionError{Index: index, Err: systemErrorResultWithNegativeLamports}
	}

	from.Lamports -= lamports
	ws.get(destination).Lamports += lamports

	return nil
}

func isSignerKey(m solana.Message, account ed25519.PublicKey) bool {
	for i, key := range m.Accounts {
		if bytes.Equal(key, account) {
			return m.IsSigner(i)
		}
	}
	return false
}

func isWritableKey(m solana.Message, account ed25519.PublicKey) bool {
	for i, key := range m.Accounts {
		if bytes.Equal(key, account) {
			return m.IsWritable(i)
		}
	}
	return false
}
