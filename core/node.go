package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"stakeledger/core/events"
	"stakeledger/core/types"
	"stakeledger/native/stake"
	"stakeledger/state/stakestore"
	"stakeledger/storage"
)

// Node hosts the staking engine. It owns the database, the state manager and
// the event bus, and runs every requested operation to completion under a
// single mutex so no two invocations ever interleave their effects on the
// ledger.
type Node struct {
	mu sync.Mutex

	db     storage.Database
	state  *stakestore.Manager
	engine *stake.Engine
	bus    *events.Bus
	nowFn  func() uint64
}

// Config captures the deployment parameters of a node.
type Config struct {
	// Controller is the account installed as ledger controller when the
	// database holds no ledger yet.
	Controller [20]byte
	// LockDurationMillis overrides the withdrawal lock. Zero keeps the
	// deployment default of one minute.
	LockDurationMillis uint64
}

// NewNode opens the state over the supplied database and initialises the
// ledger on first start.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	if db == nil {
		return nil, errors.New("core: database required")
	}
	manager := stakestore.NewManager(db)
	if _, err := manager.InitLedger(cfg.Controller); err != nil {
		return nil, fmt.Errorf("core: initialise ledger: %w", err)
	}

	bus := events.NewBus()
	engine := stake.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(bus)
	if cfg.LockDurationMillis > 0 {
		engine.SetLockDuration(cfg.LockDurationMillis)
	}

	return &Node{
		db:     db,
		state:  manager,
		engine: engine,
		bus:    bus,
		nowFn:  func() uint64 { return uint64(time.Now().UnixMilli()) },
	}, nil
}

// SetNowFunc overrides the millisecond clock. Intended for tests.
func (n *Node) SetNowFunc(now func() uint64) {
	if now == nil {
		n.nowFn = func() uint64 { return uint64(time.Now().UnixMilli()) }
		return
	}
	n.nowFn = now
}

// LockDuration returns the active withdrawal lock in milliseconds.
func (n *Node) LockDuration() uint64 {
	return n.engine.LockDuration()
}

// StakeDeposit stakes amount from the owner's token balance.
func (n *Node) StakeDeposit(owner [20]byte, amount *big.Int) (*stake.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Stake(owner, amount)
}

// StakeRequestUnstake consumes the record batch and requests withdrawal of
// amount at the current time.
func (n *Node) StakeRequestUnstake(owner [20]byte, ids [][32]byte, amount *big.Int) (*stake.Record, *stake.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.RequestUnstake(owner, ids, amount, n.nowFn())
}

// StakeCancelUnstake reactivates the batch into one merged record.
func (n *Node) StakeCancelUnstake(owner [20]byte, ids [][32]byte) (*stake.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CancelUnstake(owner, ids)
}

// StakeWithdraw releases matured pending records back to the owner's balance.
func (n *Node) StakeWithdraw(owner [20]byte, ids [][32]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Withdraw(owner, ids, n.nowFn())
}

// TransferControl reassigns the ledger controller when invoked by the current
// controller; other callers are a silent no-op.
func (n *Node) TransferControl(caller, newController [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.TransferControl(caller, newController)
}

// BindIdentifier binds the caller to an external identifier.
func (n *Node) BindIdentifier(caller [20]byte, identifier string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.BindIdentifier(caller, identifier)
}

// BindingCount reports the total size of the binding table.
func (n *Node) BindingCount(account [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.BindingCount(account)
}

// Binding returns the identifier bound by the account.
func (n *Node) Binding(account [20]byte) (string, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Binding(account)
}

// Controller returns the current ledger controller.
func (n *Node) Controller() ([20]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Controller()
}

// StakeInfo summarises an owner's position.
type StakeInfo struct {
	Records []*stake.Record
	Balance *big.Int
	Ledger  *stake.Ledger
}

// StakeInfoFor returns the owner's outstanding records, token balance, and a
// snapshot of the aggregate ledger.
func (n *Node) StakeInfoFor(owner [20]byte) (*StakeInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	records, err := n.engine.Records(owner)
	if err != nil {
		return nil, err
	}
	account, err := n.state.GetAccount(owner)
	if err != nil {
		return nil, err
	}
	ledger, err := n.engine.LedgerSnapshot()
	if err != nil {
		return nil, err
	}
	return &StakeInfo{
		Records: records,
		Balance: types.EnsureAccount(account).Balance,
		Ledger:  ledger,
	}, nil
}

// Credit adds amount to the account's token balance. Exposed for the
// operator faucet and for tests; token minting proper lives outside this
// system.
func (n *Node) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return stake.ErrInvalidAmount
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr)
	if err != nil {
		return err
	}
	account = types.EnsureAccount(account)
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return n.state.PutAccount(addr, account)
}

// Balance returns the account's token balance.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return types.EnsureAccount(account).Balance, nil
}

// EventsSubscribe attaches a live event subscription starting after cursor.
func (n *Node) EventsSubscribe(ctx context.Context, cursor string) (<-chan events.StreamEntry, func(), []events.StreamEntry, error) {
	return n.bus.Subscribe(ctx, cursor)
}

// EventsBacklog returns retained events newer than the sequence.
func (n *Node) EventsBacklog(after uint64) []events.StreamEntry {
	return n.bus.Backlog(after)
}

// State exposes the underlying state manager for satellite tooling such as
// audit exports.
func (n *Node) State() *stakestore.Manager {
	return n.state
}
