package stake

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Ledger is the singleton aggregate state shared by every staking operation.
// PooledBalance always equals the summed amount of all outstanding records;
// PendingUnstakeTotal covers the subset with a live unstake request. The
// issuance counter feeds record identifier derivation and only ever grows.
type Ledger struct {
	PooledBalance       *big.Int
	PendingUnstakeTotal *big.Int
	Controller          [20]byte
	Issued              uint64
}

// NewLedger creates the ledger with zero balances and the initialising
// account as controller.
func NewLedger(controller [20]byte) *Ledger {
	return &Ledger{
		PooledBalance:       big.NewInt(0),
		PendingUnstakeTotal: big.NewInt(0),
		Controller:          controller,
	}
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	clone := *l
	clone.PooledBalance = cloneAmount(l.PooledBalance)
	clone.PendingUnstakeTotal = cloneAmount(l.PendingUnstakeTotal)
	return &clone
}

// normalize guarantees non-nil balance fields after decoding.
func (l *Ledger) normalize() *Ledger {
	if l.PooledBalance == nil {
		l.PooledBalance = big.NewInt(0)
	}
	if l.PendingUnstakeTotal == nil {
		l.PendingUnstakeTotal = big.NewInt(0)
	}
	return l
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// checkedAdd returns a+b, rejecting results outside the 256-bit range the
// persisted encoding can represent.
func checkedAdd(a, b *big.Int) (*big.Int, error) {
	sum := new(big.Int).Add(a, b)
	if _, overflow := uint256.FromBig(sum); overflow {
		return nil, ErrAmountOverflow
	}
	return sum, nil
}
