package stake

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"stakeledger/core/events"
	"stakeledger/core/types"
	"stakeledger/observability/metrics"
)

var (
	errNilState          = errors.New("stake engine: state not configured")
	errTimestampRequired = errors.New("stake engine: timestamp required")
)

type engineState interface {
	StakeLedger() (*Ledger, error)
	PutStakeLedger(*Ledger) error
	StakeRecord(owner [20]byte, id [32]byte) (*Record, bool, error)
	PutStakeRecord(*Record) error
	DeleteStakeRecord(owner [20]byte, id [32]byte) error
	StakeRecords(owner [20]byte) ([]*Record, error)
	Binding(owner [20]byte) (string, bool, error)
	PutBinding(owner [20]byte, identifier string) error
	BindingCount() (uint64, error)
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Engine implements the staking state machine over an external state backend.
// Every operation validates its entire input batch before mutating anything:
// a failed precondition leaves the ledger, the records, and the accounts
// untouched. The host serialises invocations, so the engine carries no locks
// of its own.
type Engine struct {
	state        engineState
	emitter      events.Emitter
	lockDuration uint64
	telemetry    *metrics.StakeMetrics
}

// NewEngine creates a staking engine with a no-op emitter and the default
// withdrawal lock. Callers can override both before use.
func NewEngine() *Engine {
	return &Engine{
		emitter:      events.NoopEmitter{},
		lockDuration: DefaultLockDuration,
		telemetry:    metrics.Stake(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLockDuration overrides the withdrawal lock, in milliseconds. Zero resets
// the deployment default.
func (e *Engine) SetLockDuration(ms uint64) {
	if ms == 0 {
		e.lockDuration = DefaultLockDuration
		return
	}
	e.lockDuration = ms
}

// LockDuration returns the active withdrawal lock in milliseconds.
func (e *Engine) LockDuration() uint64 {
	if e == nil {
		return DefaultLockDuration
	}
	return e.lockDuration
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ledger() (*Ledger, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, err := e.state.StakeLedger()
	if err != nil {
		return nil, err
	}
	return ledger.normalize(), nil
}

// loadBatch resolves every referenced record, rejecting duplicates and
// references to records the owner does not hold. No state is mutated.
func (e *Engine) loadBatch(owner [20]byte, ids [][32]byte) ([]*Record, error) {
	records := make([]*Record, 0, len(ids))
	seen := make(map[[32]byte]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRecord, hex.EncodeToString(id[:]))
		}
		seen[id] = struct{}{}
		rec, ok, err := e.state.StakeRecord(owner, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, hex.EncodeToString(id[:]))
		}
		records = append(records, rec)
	}
	return records, nil
}

func (e *Engine) observeLedger(ledger *Ledger) {
	if e == nil || e.telemetry == nil || ledger == nil {
		return
	}
	e.telemetry.SetPoolBalance(ledger.PooledBalance)
	e.telemetry.SetPendingTotal(ledger.PendingUnstakeTotal)
}

// Stake debits the owner's token balance and issues one active record for the
// amount. The untouched remainder of the balance simply stays with the owner.
func (e *Engine) Stake(owner [20]byte, amount *big.Int) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	account, err := e.state.GetAccount(owner)
	if err != nil {
		return nil, err
	}
	account = types.EnsureAccount(account)
	if account.Balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	ledger, err := e.ledger()
	if err != nil {
		return nil, err
	}
	newPool, err := checkedAdd(ledger.PooledBalance, amount)
	if err != nil {
		return nil, err
	}

	record := &Record{
		ID:     RecordID(owner, ledger.Issued),
		Owner:  owner,
		Amount: new(big.Int).Set(amount),
	}
	ledger.Issued++
	ledger.PooledBalance = newPool
	account.Balance = new(big.Int).Sub(account.Balance, amount)

	if err := e.state.PutAccount(owner, account); err != nil {
		return nil, err
	}
	if err := e.state.PutStakeRecord(record); err != nil {
		return nil, err
	}
	if err := e.state.PutStakeLedger(ledger); err != nil {
		return nil, err
	}

	e.emit(events.StakeRecordCreated{ID: record.ID, Owner: owner, Amount: record.Amount})
	if e.telemetry != nil {
		e.telemetry.ObserveOperation("stake")
	}
	e.observeLedger(ledger)
	return record.Clone(), nil
}

// RequestUnstake consumes the batch and issues a pending record for the
// requested amount plus, when the batch carries more than the amount, an
// active remainder record. The whole batch is validated before any record is
// destroyed.
func (e *Engine) RequestUnstake(owner [20]byte, ids [][32]byte, amount *big.Int, now uint64) (pending *Record, remainder *Record, err error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if now == 0 {
		return nil, nil, errTimestampRequired
	}
	batch, err := e.loadBatch(owner, ids)
	if err != nil {
		return nil, nil, err
	}
	for _, rec := range batch {
		if rec.Pending() {
			return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyPendingUnstake, hex.EncodeToString(rec.ID[:]))
		}
	}
	total, _ := batchTotals(batch)
	if total.Cmp(amount) < 0 {
		return nil, nil, ErrInsufficientStakedAmount
	}
	ledger, err := e.ledger()
	if err != nil {
		return nil, nil, err
	}
	newPending, err := checkedAdd(ledger.PendingUnstakeTotal, amount)
	if err != nil {
		return nil, nil, err
	}

	pending = &Record{
		ID:                 RecordID(owner, ledger.Issued),
		Owner:              owner,
		Amount:             new(big.Int).Set(amount),
		UnstakeRequestedAt: now,
	}
	ledger.Issued++
	leftover := new(big.Int).Sub(total, amount)
	if leftover.Sign() > 0 {
		remainder = &Record{
			ID:     RecordID(owner, ledger.Issued),
			Owner:  owner,
			Amount: leftover,
		}
		ledger.Issued++
	}
	ledger.PendingUnstakeTotal = newPending

	for _, rec := range batch {
		if err := e.state.DeleteStakeRecord(owner, rec.ID); err != nil {
			return nil, nil, err
		}
	}
	if err := e.state.PutStakeRecord(pending); err != nil {
		return nil, nil, err
	}
	if remainder != nil {
		if err := e.state.PutStakeRecord(remainder); err != nil {
			return nil, nil, err
		}
	}
	if err := e.state.PutStakeLedger(ledger); err != nil {
		return nil, nil, err
	}

	for _, rec := range batch {
		e.emit(events.StakeRecordDestroyed{ID: rec.ID, Owner: owner, Amount: rec.Amount})
	}
	e.emit(events.StakeRecordCreated{ID: pending.ID, Owner: owner, Amount: pending.Amount, UnstakeRequestedAt: now})
	if remainder != nil {
		e.emit(events.StakeRecordCreated{ID: remainder.ID, Owner: owner, Amount: remainder.Amount})
	}
	if e.telemetry != nil {
		e.telemetry.ObserveOperation("request_unstake")
	}
	e.observeLedger(ledger)
	return pending.Clone(), remainder.Clone(), nil
}

// CancelUnstake consumes a batch that may mix active and pending records and
// reissues the combined amount as a single active record. A batch totalling
// zero produces no record.
func (e *Engine) CancelUnstake(owner [20]byte, ids [][32]byte) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	batch, err := e.loadBatch(owner, ids)
	if err != nil {
		return nil, err
	}
	total, pendingPortion := batchTotals(batch)
	ledger, err := e.ledger()
	if err != nil {
		return nil, err
	}
	newPending := new(big.Int).Sub(ledger.PendingUnstakeTotal, pendingPortion)
	if newPending.Sign() < 0 {
		return nil, fmt.Errorf("stake engine: pending total below cancelled portion (%s < %s)",
			ledger.PendingUnstakeTotal, pendingPortion)
	}

	var merged *Record
	if total.Sign() > 0 {
		merged = &Record{
			ID:     RecordID(owner, ledger.Issued),
			Owner:  owner,
			Amount: total,
		}
		ledger.Issued++
	}
	ledger.PendingUnstakeTotal = newPending

	for _, rec := range batch {
		if err := e.state.DeleteStakeRecord(owner, rec.ID); err != nil {
			return nil, err
		}
	}
	if merged != nil {
		if err := e.state.PutStakeRecord(merged); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutStakeLedger(ledger); err != nil {
		return nil, err
	}

	for _, rec := range batch {
		e.emit(events.StakeRecordDestroyed{ID: rec.ID, Owner: owner, Amount: rec.Amount})
	}
	if merged != nil {
		e.emit(events.StakeRecordCreated{ID: merged.ID, Owner: owner, Amount: merged.Amount})
	}
	if e.telemetry != nil {
		e.telemetry.ObserveOperation("cancel_unstake")
	}
	e.observeLedger(ledger)
	return merged.Clone(), nil
}

// Withdraw consumes a batch of matured pending records and credits the summed
// amount back to the owner's token balance. Every record must have had its
// unstake requested strictly more than the lock duration before now.
func (e *Engine) Withdraw(owner [20]byte, ids [][32]byte, now uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if now == 0 {
		return nil, errTimestampRequired
	}
	batch, err := e.loadBatch(owner, ids)
	if err != nil {
		return nil, err
	}
	for _, rec := range batch {
		if !rec.Pending() || now <= rec.UnstakeRequestedAt || now-rec.UnstakeRequestedAt <= e.lockDuration {
			return nil, fmt.Errorf("%w: %s", ErrLockNotElapsed, hex.EncodeToString(rec.ID[:]))
		}
	}
	total, _ := batchTotals(batch)
	ledger, err := e.ledger()
	if err != nil {
		return nil, err
	}
	if ledger.PooledBalance.Cmp(total) < 0 {
		return nil, ErrInsufficientPoolBalance
	}
	newPending := new(big.Int).Sub(ledger.PendingUnstakeTotal, total)
	if newPending.Sign() < 0 {
		return nil, fmt.Errorf("stake engine: pending total below withdrawal (%s < %s)",
			ledger.PendingUnstakeTotal, total)
	}

	ledger.PooledBalance = new(big.Int).Sub(ledger.PooledBalance, total)
	ledger.PendingUnstakeTotal = newPending

	for _, rec := range batch {
		if err := e.state.DeleteStakeRecord(owner, rec.ID); err != nil {
			return nil, err
		}
	}
	if total.Sign() > 0 {
		account, err := e.state.GetAccount(owner)
		if err != nil {
			return nil, err
		}
		account = types.EnsureAccount(account)
		balance, err := checkedAdd(account.Balance, total)
		if err != nil {
			return nil, err
		}
		account.Balance = balance
		if err := e.state.PutAccount(owner, account); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutStakeLedger(ledger); err != nil {
		return nil, err
	}

	for _, rec := range batch {
		e.emit(events.StakeRecordDestroyed{ID: rec.ID, Owner: owner, Amount: rec.Amount})
	}
	if total.Sign() > 0 {
		e.emit(events.StakeWithdrawn{Owner: owner, Amount: total})
	}
	if e.telemetry != nil {
		e.telemetry.ObserveOperation("withdraw")
	}
	e.observeLedger(ledger)
	return total, nil
}

// TransferControl hands the controller role to newController. Calls from any
// account other than the current controller are a silent no-op, matching the
// deployed contract surface.
func (e *Engine) TransferControl(caller, newController [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	ledger, err := e.ledger()
	if err != nil {
		return err
	}
	if ledger.Controller != caller {
		return nil
	}
	ledger.Controller = newController
	if err := e.state.PutStakeLedger(ledger); err != nil {
		return err
	}
	if e.telemetry != nil {
		e.telemetry.ObserveOperation("transfer_control")
	}
	return nil
}

// BindIdentifier binds the caller to an external identifier string. Rebinding
// overwrites any previous entry for the caller.
func (e *Engine) BindIdentifier(caller [20]byte, identifier string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return ErrInvalidIdentifier
	}
	if err := e.state.PutBinding(caller, trimmed); err != nil {
		return err
	}
	e.emit(events.IdentifierBound{Account: caller, Identifier: trimmed})
	if e.telemetry != nil {
		e.telemetry.ObserveOperation("bind_identifier")
		if count, err := e.state.BindingCount(); err == nil {
			e.telemetry.SetBindingCount(count)
		}
	}
	return nil
}

// BindingCount reports the total number of entries in the binding table. The
// account argument is accepted for interface compatibility with the deployed
// contract, which disregards it.
func (e *Engine) BindingCount(account [20]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.BindingCount()
}

// Binding returns the identifier bound by the account, if any.
func (e *Engine) Binding(account [20]byte) (string, bool, error) {
	if e == nil || e.state == nil {
		return "", false, errNilState
	}
	return e.state.Binding(account)
}

// Controller returns the current controlling account.
func (e *Engine) Controller() ([20]byte, error) {
	var zero [20]byte
	if e == nil || e.state == nil {
		return zero, errNilState
	}
	ledger, err := e.ledger()
	if err != nil {
		return zero, err
	}
	return ledger.Controller, nil
}

// Records lists the owner's outstanding records.
func (e *Engine) Records(owner [20]byte) ([]*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.StakeRecords(owner)
}

// LedgerSnapshot returns a copy of the aggregate ledger state.
func (e *Engine) LedgerSnapshot() (*Ledger, error) {
	ledger, err := e.ledger()
	if err != nil {
		return nil, err
	}
	return ledger.Clone(), nil
}
