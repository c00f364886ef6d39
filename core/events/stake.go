package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"stakeledger/core/types"
	"stakeledger/crypto"
)

const (
	// TypeStakeRecordCreated is emitted for every stake record issued by the
	// ledger, whether from a fresh deposit or as the output of an unstake
	// request or cancellation.
	TypeStakeRecordCreated = "stake.recordCreated"
	// TypeStakeRecordDestroyed is emitted for every record consumed by an
	// unstake request, a cancellation, or a withdrawal.
	TypeStakeRecordDestroyed = "stake.recordDestroyed"
	// TypeStakeWithdrawn captures a completed withdrawal and the amount
	// released from the pool.
	TypeStakeWithdrawn = "stake.withdrawn"
	// TypeIdentifierBound is emitted when an account binds itself to an
	// external identifier string.
	TypeIdentifierBound = "stake.identifierBound"
)

// StakeRecordCreated captures the issuance of a new stake record.
type StakeRecordCreated struct {
	ID                 [32]byte
	Owner              [20]byte
	Amount             *big.Int
	UnstakeRequestedAt uint64
}

// EventType implements the Event interface.
func (StakeRecordCreated) EventType() string { return TypeStakeRecordCreated }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e StakeRecordCreated) Event() *types.Event {
	attrs := map[string]string{
		"id":     hex.EncodeToString(e.ID[:]),
		"owner":  crypto.MustNewAddress(crypto.StakePrefix, e.Owner[:]).String(),
		"amount": formatAmount(e.Amount),
	}
	if e.UnstakeRequestedAt > 0 {
		attrs["unstakeRequestedAt"] = strconv.FormatUint(e.UnstakeRequestedAt, 10)
	}
	return &types.Event{Type: TypeStakeRecordCreated, Attributes: attrs}
}

// StakeRecordDestroyed captures the consumption of an existing stake record.
type StakeRecordDestroyed struct {
	ID     [32]byte
	Owner  [20]byte
	Amount *big.Int
}

// EventType implements the Event interface.
func (StakeRecordDestroyed) EventType() string { return TypeStakeRecordDestroyed }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e StakeRecordDestroyed) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeRecordDestroyed,
		Attributes: map[string]string{
			"id":     hex.EncodeToString(e.ID[:]),
			"owner":  crypto.MustNewAddress(crypto.StakePrefix, e.Owner[:]).String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

// StakeWithdrawn captures the release of pooled tokens back to an owner.
type StakeWithdrawn struct {
	Owner  [20]byte
	Amount *big.Int
}

// EventType implements the Event interface.
func (StakeWithdrawn) EventType() string { return TypeStakeWithdrawn }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e StakeWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeWithdrawn,
		Attributes: map[string]string{
			"owner":  crypto.MustNewAddress(crypto.StakePrefix, e.Owner[:]).String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

// IdentifierBound captures an account binding itself to an external identifier.
type IdentifierBound struct {
	Account    [20]byte
	Identifier string
}

// EventType implements the Event interface.
func (IdentifierBound) EventType() string { return TypeIdentifierBound }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e IdentifierBound) Event() *types.Event {
	return &types.Event{
		Type: TypeIdentifierBound,
		Attributes: map[string]string{
			"account":    crypto.MustNewAddress(crypto.StakePrefix, e.Account[:]).String(),
			"identifier": e.Identifier,
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
