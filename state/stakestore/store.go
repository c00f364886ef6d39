package stakestore

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/core/types"
	"stakeledger/native/stake"
	"stakeledger/storage"
)

var (
	ledgerKey       = []byte("stake/ledger")
	recordPrefix    = []byte("stake/record/")
	ownerIndexKey   = []byte("stake/records/")
	bindingPrefix   = []byte("stake/binding/")
	bindingIndexKey = []byte("stake/bindings")
	accountPrefix   = []byte("account/")
)

// Manager persists the staking ledger, the outstanding records, the binding
// table, and the token accounts in a key-value store. Values are RLP encoded;
// per-owner and binding-table indexes are maintained as explicit key lists so
// the backend never needs range scans.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type storedLedger struct {
	PooledBalance       *big.Int
	PendingUnstakeTotal *big.Int
	Controller          [20]byte
	Issued              uint64
}

type storedRecord struct {
	ID                 [32]byte
	Owner              [20]byte
	Amount             *big.Int
	UnstakeRequestedAt uint64
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func recordKey(owner [20]byte, id [32]byte) []byte {
	key := make([]byte, 0, len(recordPrefix)+len(owner)+len(id))
	key = append(key, recordPrefix...)
	key = append(key, owner[:]...)
	key = append(key, id[:]...)
	return key
}

func ownerKey(prefix []byte, owner [20]byte) []byte {
	key := make([]byte, 0, len(prefix)+len(owner))
	key = append(key, prefix...)
	key = append(key, owner[:]...)
	return key
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("stakestore: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("stakestore: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

// InitLedger writes the genesis ledger unless one already exists. It reports
// whether initialisation took place.
func (m *Manager) InitLedger(controller [20]byte) (bool, error) {
	ok, err := m.db.Has(ledgerKey)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	return true, m.PutStakeLedger(stake.NewLedger(controller))
}

// StakeLedger loads the singleton ledger. A missing ledger decodes to the
// zero ledger so a fresh database behaves like an uninitialised deployment.
func (m *Manager) StakeLedger() (*stake.Ledger, error) {
	var stored storedLedger
	ok, err := m.get(ledgerKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return stake.NewLedger([20]byte{}), nil
	}
	return &stake.Ledger{
		PooledBalance:       stored.PooledBalance,
		PendingUnstakeTotal: stored.PendingUnstakeTotal,
		Controller:          stored.Controller,
		Issued:              stored.Issued,
	}, nil
}

// PutStakeLedger persists the singleton ledger.
func (m *Manager) PutStakeLedger(ledger *stake.Ledger) error {
	if ledger == nil {
		return fmt.Errorf("stakestore: nil ledger")
	}
	return m.put(ledgerKey, &storedLedger{
		PooledBalance:       ledger.PooledBalance,
		PendingUnstakeTotal: ledger.PendingUnstakeTotal,
		Controller:          ledger.Controller,
		Issued:              ledger.Issued,
	})
}

// StakeRecord loads a single record owned by the account.
func (m *Manager) StakeRecord(owner [20]byte, id [32]byte) (*stake.Record, bool, error) {
	var stored storedRecord
	ok, err := m.get(recordKey(owner, id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &stake.Record{
		ID:                 stored.ID,
		Owner:              stored.Owner,
		Amount:             stored.Amount,
		UnstakeRequestedAt: stored.UnstakeRequestedAt,
	}, true, nil
}

// PutStakeRecord stores the record and registers it in the owner's index.
func (m *Manager) PutStakeRecord(rec *stake.Record) error {
	if rec == nil {
		return fmt.Errorf("stakestore: nil record")
	}
	if err := m.put(recordKey(rec.Owner, rec.ID), &storedRecord{
		ID:                 rec.ID,
		Owner:              rec.Owner,
		Amount:             rec.Amount,
		UnstakeRequestedAt: rec.UnstakeRequestedAt,
	}); err != nil {
		return err
	}
	ids, err := m.recordIndex(rec.Owner)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == rec.ID {
			return nil
		}
	}
	ids = append(ids, rec.ID)
	return m.put(ownerKey(ownerIndexKey, rec.Owner), ids)
}

// DeleteStakeRecord removes the record and its index entry.
func (m *Manager) DeleteStakeRecord(owner [20]byte, id [32]byte) error {
	if err := m.db.Delete(recordKey(owner, id)); err != nil {
		return err
	}
	ids, err := m.recordIndex(owner)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == 0 {
		return m.db.Delete(ownerKey(ownerIndexKey, owner))
	}
	return m.put(ownerKey(ownerIndexKey, owner), filtered)
}

func (m *Manager) recordIndex(owner [20]byte) ([][32]byte, error) {
	var ids [][32]byte
	if _, err := m.get(ownerKey(ownerIndexKey, owner), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// StakeRecords lists every outstanding record held by the owner.
func (m *Manager) StakeRecords(owner [20]byte) ([]*stake.Record, error) {
	ids, err := m.recordIndex(owner)
	if err != nil {
		return nil, err
	}
	records := make([]*stake.Record, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := m.StakeRecord(owner, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("stakestore: index references missing record %x", id)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Binding returns the identifier bound by the owner, if present.
func (m *Manager) Binding(owner [20]byte) (string, bool, error) {
	raw, err := m.db.Get(ownerKey(bindingPrefix, owner))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(raw), true, nil
}

// PutBinding inserts or overwrites the owner's binding.
func (m *Manager) PutBinding(owner [20]byte, identifier string) error {
	if err := m.db.Put(ownerKey(bindingPrefix, owner), []byte(identifier)); err != nil {
		return err
	}
	owners, err := m.bindingIndex()
	if err != nil {
		return err
	}
	for _, existing := range owners {
		if existing == owner {
			return nil
		}
	}
	owners = append(owners, owner)
	return m.put(bindingIndexKey, owners)
}

func (m *Manager) bindingIndex() ([][20]byte, error) {
	var owners [][20]byte
	if _, err := m.get(bindingIndexKey, &owners); err != nil {
		return nil, err
	}
	return owners, nil
}

// BindingCount reports the size of the binding table.
func (m *Manager) BindingCount() (uint64, error) {
	owners, err := m.bindingIndex()
	if err != nil {
		return 0, err
	}
	return uint64(len(owners)), nil
}

// Bindings returns the full binding table sorted by owner for deterministic
// exports.
func (m *Manager) Bindings() (map[[20]byte]string, error) {
	owners, err := m.bindingIndex()
	if err != nil {
		return nil, err
	}
	sort.Slice(owners, func(i, j int) bool {
		for k := range owners[i] {
			if owners[i][k] != owners[j][k] {
				return owners[i][k] < owners[j][k]
			}
		}
		return false
	})
	table := make(map[[20]byte]string, len(owners))
	for _, owner := range owners {
		identifier, ok, err := m.Binding(owner)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("stakestore: index references missing binding %x", owner)
		}
		table[owner] = identifier
	}
	return table, nil
}

// GetAccount loads the token account, returning a zeroed account for unknown
// addresses.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.get(ownerKey(accountPrefix, addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.EnsureAccount(nil), nil
	}
	return types.EnsureAccount(&types.Account{Nonce: stored.Nonce, Balance: stored.Balance}), nil
}

// PutAccount persists the token account.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	account = types.EnsureAccount(account)
	return m.put(ownerKey(accountPrefix, addr), &storedAccount{
		Nonce:   account.Nonce,
		Balance: account.Balance,
	})
}
