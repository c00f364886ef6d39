package core

import (
	"context"
	"math/big"
	"testing"

	"stakeledger/core/events"
	"stakeledger/storage"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	node, err := NewNode(storage.NewMemDB(), Config{})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func TestStakeLifecycleThroughNode(t *testing.T) {
	node := newTestNode(t)
	owner := [20]byte{0x01}
	now := uint64(1_000_000)
	node.SetNowFunc(func() uint64 { return now })

	if err := node.Credit(owner, big.NewInt(1_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	rec, err := node.StakeDeposit(owner, big.NewInt(700))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	pending, remainder, err := node.StakeRequestUnstake(owner, [][32]byte{rec.ID}, big.NewInt(500))
	if err != nil {
		t.Fatalf("request unstake: %v", err)
	}
	if pending.Amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("pending amount = %s, want 500", pending.Amount)
	}
	if remainder == nil || remainder.Amount.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("remainder = %+v, want 200", remainder)
	}
	if pending.UnstakeRequestedAt != now {
		t.Fatalf("pending timestamp = %d, want %d", pending.UnstakeRequestedAt, now)
	}

	if _, err := node.StakeWithdraw(owner, [][32]byte{pending.ID}); err == nil {
		t.Fatalf("withdraw before maturity must fail")
	}

	now += node.LockDuration() + 1
	amount, err := node.StakeWithdraw(owner, [][32]byte{pending.ID})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("withdrawn = %s, want 500", amount)
	}

	balance, err := node.Balance(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("balance = %s, want 800", balance)
	}
}

func TestLockDurationOverride(t *testing.T) {
	node, err := NewNode(storage.NewMemDB(), Config{LockDurationMillis: 5})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if node.LockDuration() != 5 {
		t.Fatalf("lock duration = %d, want 5", node.LockDuration())
	}
}

func TestControllerInstalledOnFirstStart(t *testing.T) {
	controller := [20]byte{0xAA}
	db := storage.NewMemDB()
	node, err := NewNode(db, Config{Controller: controller})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	got, err := node.Controller()
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	if got != controller {
		t.Fatalf("controller = %x, want %x", got, controller)
	}

	// A second start over the same database keeps the installed controller.
	other := [20]byte{0xBB}
	node, err = NewNode(db, Config{Controller: other})
	if err != nil {
		t.Fatalf("reopen node: %v", err)
	}
	got, err = node.Controller()
	if err != nil {
		t.Fatalf("controller after reopen: %v", err)
	}
	if got != controller {
		t.Fatalf("controller after reopen = %x, want original %x", got, controller)
	}
}

func TestEventsSubscribeReplaysBacklog(t *testing.T) {
	node := newTestNode(t)
	owner := [20]byte{0x02}
	if err := node.Credit(owner, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := node.StakeDeposit(owner, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, release, backlog, err := node.EventsSubscribe(ctx, "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer release()

	if len(backlog) == 0 {
		t.Fatalf("expected backlog from prior deposit")
	}
	if backlog[0].Event.Type != events.TypeStakeRecordCreated {
		t.Fatalf("backlog[0] type = %s, want %s", backlog[0].Event.Type, events.TypeStakeRecordCreated)
	}
}

func TestCreditRejectsNonPositiveAmounts(t *testing.T) {
	node := newTestNode(t)
	owner := [20]byte{0x03}
	if err := node.Credit(owner, big.NewInt(0)); err == nil {
		t.Fatalf("zero credit must fail")
	}
	if err := node.Credit(owner, big.NewInt(-5)); err == nil {
		t.Fatalf("negative credit must fail")
	}
}
