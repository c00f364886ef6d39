package stake

import (
	"encoding/binary"
	"math/big"

	"lukechampine.com/blake3"
)

// DefaultLockDuration is the deployment default for the withdrawal lock,
// expressed in milliseconds.
const DefaultLockDuration uint64 = 60 * 1000

const recordIDDomain = "stakeledger/record/v1"

// Record is an owned unit of staked value. A zero UnstakeRequestedAt marks the
// record as actively staked; any other value is the millisecond timestamp of
// the unstake request. Records are immutable once issued: every state
// transition consumes a set of records and issues a new set.
type Record struct {
	ID                 [32]byte
	Owner              [20]byte
	Amount             *big.Int
	UnstakeRequestedAt uint64
}

// Pending reports whether the record has a live unstake request.
func (r *Record) Pending() bool {
	return r != nil && r.UnstakeRequestedAt != 0
}

// Clone returns a deep copy so callers can safely hold the result across
// subsequent ledger mutations.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// RecordID derives the identifier for the n-th record issued to the owner.
// The hash domain keeps record identifiers disjoint from any other 32-byte
// identifiers in the system.
func RecordID(owner [20]byte, issuance uint64) [32]byte {
	buf := make([]byte, 0, len(recordIDDomain)+len(owner)+8)
	buf = append(buf, recordIDDomain...)
	buf = append(buf, owner[:]...)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], issuance)
	buf = append(buf, seq[:]...)
	return blake3.Sum256(buf)
}

// batchTotals sums the whole batch alongside the portion carried by records
// with a live unstake request.
func batchTotals(records []*Record) (total, pending *big.Int) {
	total = big.NewInt(0)
	pending = big.NewInt(0)
	for _, rec := range records {
		if rec == nil || rec.Amount == nil {
			continue
		}
		total.Add(total, rec.Amount)
		if rec.Pending() {
			pending.Add(pending, rec.Amount)
		}
	}
	return total, pending
}
