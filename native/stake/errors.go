package stake

import "errors"

var (
	// ErrInsufficientFunds is returned when a depositor's token balance is
	// below the requested stake amount.
	ErrInsufficientFunds = errors.New("stake: insufficient funds")
	// ErrAlreadyPendingUnstake is returned when an unstake request includes a
	// record that is already mid-unstake.
	ErrAlreadyPendingUnstake = errors.New("stake: record already pending unstake")
	// ErrInsufficientStakedAmount is returned when the summed batch amount is
	// below the requested unstake amount.
	ErrInsufficientStakedAmount = errors.New("stake: insufficient staked amount")
	// ErrLockNotElapsed is returned when a withdrawal is attempted before the
	// lock period has strictly elapsed.
	ErrLockNotElapsed = errors.New("stake: lock period has not elapsed")
	// ErrInsufficientPoolBalance guards the pool against paying out more than
	// it holds. Unreachable while the ledger invariants hold.
	ErrInsufficientPoolBalance = errors.New("stake: insufficient pool balance")

	// ErrInvalidAmount is returned for nil, zero, or negative amounts. The
	// ledger never issues a zero-value record.
	ErrInvalidAmount = errors.New("stake: amount must be positive")
	// ErrRecordNotFound is returned when a batch references a record the
	// caller does not own.
	ErrRecordNotFound = errors.New("stake: record not found")
	// ErrDuplicateRecord is returned when the same record appears twice in a
	// batch.
	ErrDuplicateRecord = errors.New("stake: duplicate record in batch")
	// ErrAmountOverflow is returned when a balance would exceed the 256-bit
	// range the store can represent.
	ErrAmountOverflow = errors.New("stake: amount overflows 256 bits")
	// ErrInvalidIdentifier is returned when a binding identifier is empty.
	ErrInvalidIdentifier = errors.New("stake: identifier must not be empty")
)
