package rpc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"stakeledger/core"
	"stakeledger/crypto"
	"stakeledger/storage"
)

type testAccount struct {
	key  *ecdsa.PrivateKey
	addr [20]byte
	str  string
}

func newTestAccount(t *testing.T) testAccount {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	raw := ethcrypto.PubkeyToAddress(key.PublicKey)
	var addr [20]byte
	copy(addr[:], raw.Bytes())
	bech := crypto.MustNewAddress(crypto.StakePrefix, append([]byte(nil), addr[:]...))
	return testAccount{key: key, addr: addr, str: bech.String()}
}

func newTestServer(t *testing.T) (*Server, *core.Node) {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), core.Config{})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return &Server{node: node, authToken: "test-token"}, node
}

func (a testAccount) sign(t *testing.T, digest [32]byte) string {
	t.Helper()
	sig, err := ethcrypto.Sign(digest[:], a.key)
	if err != nil {
		t.Fatalf("sign digest: %v", err)
	}
	return hex.EncodeToString(sig)
}

func rpcCall(t *testing.T, s *Server, method string, params interface{}, headers map[string]string) RPCResponse {
	t.Helper()
	var raw []json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handle(rec, req)

	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	encoded, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestStakeDepositRoundTrip(t *testing.T) {
	server, node := newTestServer(t)
	owner := newTestAccount(t)
	if err := node.Credit(owner.addr, big.NewInt(1_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	digest := stakeDigest("deposit", owner.str, "400", nil, "1")
	resp := rpcCall(t, server, "stake_deposit", stakeDepositParams{
		Owner:     owner.str,
		Amount:    "400",
		Nonce:     "1",
		Signature: owner.sign(t, digest),
	}, nil)

	var result stakeRecordResult
	decodeResult(t, resp, &result)
	if result.Amount != "400" {
		t.Fatalf("record amount = %s, want 400", result.Amount)
	}
	if result.Pending {
		t.Fatalf("fresh record must be active")
	}
	if result.Owner != owner.str {
		t.Fatalf("record owner = %s, want %s", result.Owner, owner.str)
	}

	balance, err := node.Balance(owner.addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("balance after deposit = %s, want 600", balance)
	}
}

func TestStakeDepositRejectsForeignSignature(t *testing.T) {
	server, node := newTestServer(t)
	owner := newTestAccount(t)
	intruder := newTestAccount(t)
	if err := node.Credit(owner.addr, big.NewInt(1_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	digest := stakeDigest("deposit", owner.str, "400", nil, "1")
	resp := rpcCall(t, server, "stake_deposit", stakeDepositParams{
		Owner:     owner.str,
		Amount:    "400",
		Nonce:     "1",
		Signature: intruder.sign(t, digest),
	}, nil)
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}
}

func TestStakeUnstakeWithdrawFlow(t *testing.T) {
	server, node := newTestServer(t)
	owner := newTestAccount(t)
	if err := node.Credit(owner.addr, big.NewInt(500)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	now := uint64(1_000_000)
	node.SetNowFunc(func() uint64 { return now })

	digest := stakeDigest("deposit", owner.str, "500", nil, "1")
	var deposited stakeRecordResult
	decodeResult(t, rpcCall(t, server, "stake_deposit", stakeDepositParams{
		Owner: owner.str, Amount: "500", Nonce: "1", Signature: owner.sign(t, digest),
	}, nil), &deposited)

	records := []string{deposited.ID}
	digest = stakeDigest("requestUnstake", owner.str, "300", records, "2")
	var unstaked stakeRequestUnstakeResult
	decodeResult(t, rpcCall(t, server, "stake_requestUnstake", stakeRequestUnstakeParams{
		Owner: owner.str, Records: records, Amount: "300", Nonce: "2", Signature: owner.sign(t, digest),
	}, nil), &unstaked)
	if unstaked.Pending == nil || unstaked.Pending.Amount != "300" {
		t.Fatalf("pending record = %+v, want amount 300", unstaked.Pending)
	}
	if unstaked.Remainder == nil || unstaked.Remainder.Amount != "200" {
		t.Fatalf("remainder record = %+v, want amount 200", unstaked.Remainder)
	}

	// Before the lock elapses withdrawal must fail.
	withdrawIDs := []string{unstaked.Pending.ID}
	digest = stakeDigest("withdraw", owner.str, "", withdrawIDs, "3")
	sig := owner.sign(t, digest)
	resp := rpcCall(t, server, "stake_withdraw", stakeBatchParams{
		Owner: owner.str, Records: withdrawIDs, Nonce: "3", Signature: sig,
	}, nil)
	if resp.Error == nil {
		t.Fatalf("expected lock error before maturity")
	}

	now += node.LockDuration() + 1
	var withdrawn stakeWithdrawResult
	decodeResult(t, rpcCall(t, server, "stake_withdraw", stakeBatchParams{
		Owner: owner.str, Records: withdrawIDs, Nonce: "3", Signature: sig,
	}, nil), &withdrawn)
	if withdrawn.Amount != "300" {
		t.Fatalf("withdrawn amount = %s, want 300", withdrawn.Amount)
	}

	balance, err := node.Balance(owner.addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("balance after withdraw = %s, want 300", balance)
	}
}

func TestStakeBindAndBindingCount(t *testing.T) {
	server, _ := newTestServer(t)
	first := newTestAccount(t)
	second := newTestAccount(t)

	digest := stakeDigest("bind", first.str, "alice@example.com", nil, "1")
	var binding stakeBindingResult
	decodeResult(t, rpcCall(t, server, "stake_bind", stakeBindParams{
		Caller: first.str, Identifier: "alice@example.com", Nonce: "1", Signature: first.sign(t, digest),
	}, nil), &binding)
	if !binding.Bound || binding.Identifier != "alice@example.com" {
		t.Fatalf("binding = %+v", binding)
	}

	digest = stakeDigest("bind", second.str, "bob@example.com", nil, "1")
	decodeResult(t, rpcCall(t, server, "stake_bind", stakeBindParams{
		Caller: second.str, Identifier: "bob@example.com", Nonce: "1", Signature: second.sign(t, digest),
	}, nil), &binding)

	// The count reports the whole table, whichever account is queried.
	for _, account := range []string{first.str, second.str} {
		var count stakeBindingCountResult
		decodeResult(t, rpcCall(t, server, "stake_bindingCount", stakeAccountParams{Account: account}, nil), &count)
		if count.Count != 2 {
			t.Fatalf("binding count for %s = %d, want 2", account, count.Count)
		}
	}
}

func TestStakeFundRequiresBearerToken(t *testing.T) {
	server, _ := newTestServer(t)
	account := newTestAccount(t)
	params := stakeFundParams{Account: account.str, Amount: "100"}

	resp := rpcCall(t, server, "stake_fund", params, nil)
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized without token, got %+v", resp.Error)
	}

	resp = rpcCall(t, server, "stake_fund", params, map[string]string{"Authorization": "Bearer wrong"})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized with bad token, got %+v", resp.Error)
	}

	var funded map[string]string
	decodeResult(t, rpcCall(t, server, "stake_fund", params, map[string]string{"Authorization": "Bearer test-token"}), &funded)
	if funded["balance"] != "100" {
		t.Fatalf("funded balance = %s, want 100", funded["balance"])
	}
}

func TestStakeInfoReportsLedger(t *testing.T) {
	server, node := newTestServer(t)
	owner := newTestAccount(t)
	if err := node.Credit(owner.addr, big.NewInt(250)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	digest := stakeDigest("deposit", owner.str, "250", nil, "1")
	resp := rpcCall(t, server, "stake_deposit", stakeDepositParams{
		Owner: owner.str, Amount: "250", Nonce: "1", Signature: owner.sign(t, digest),
	}, nil)
	if resp.Error != nil {
		t.Fatalf("deposit: %+v", resp.Error)
	}

	var info stakeInfoResult
	decodeResult(t, rpcCall(t, server, "stake_info", stakeAccountParams{Account: owner.str}, nil), &info)
	if len(info.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(info.Records))
	}
	if info.PooledBalance != "250" {
		t.Fatalf("pooled balance = %s, want 250", info.PooledBalance)
	}
	if info.PendingUnstakeTotal != "0" {
		t.Fatalf("pending total = %s, want 0", info.PendingUnstakeTotal)
	}
	if info.Balance != "0" {
		t.Fatalf("balance = %s, want 0", info.Balance)
	}
}

func TestUnknownMethodReturnsNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	resp := rpcCall(t, server, "stake_unknown", nil, nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}
}

func TestEventsBacklogOverRPC(t *testing.T) {
	server, node := newTestServer(t)
	owner := newTestAccount(t)
	if err := node.Credit(owner.addr, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	digest := stakeDigest("deposit", owner.str, "100", nil, "1")
	resp := rpcCall(t, server, "stake_deposit", stakeDepositParams{
		Owner: owner.str, Amount: "100", Nonce: "1", Signature: owner.sign(t, digest),
	}, nil)
	if resp.Error != nil {
		t.Fatalf("deposit: %+v", resp.Error)
	}

	var entries []stakeEventResult
	decodeResult(t, rpcCall(t, server, "stake_events", stakeEventsParams{After: 0}, nil), &entries)
	if len(entries) == 0 {
		t.Fatalf("expected at least one event in the backlog")
	}
	found := false
	for _, entry := range entries {
		if entry.Type == "stake.recordCreated" {
			found = true
			if entry.Attributes["owner"] != owner.str {
				t.Fatalf("event owner = %s, want %s", entry.Attributes["owner"], owner.str)
			}
		}
	}
	if !found {
		t.Fatalf("missing stake.recordCreated event: %+v", entries)
	}
}

func TestDigestPinsRecordBatch(t *testing.T) {
	a := stakeDigest("withdraw", "stk1owner", "", []string{"aa", "bb"}, "7")
	b := stakeDigest("withdraw", "stk1owner", "", []string{"bb", "aa"}, "7")
	if a == b {
		t.Fatalf("digest must change when the record batch changes")
	}
	c := stakeDigest("withdraw", "stk1owner", "", []string{"0xAA", "0xBB"}, "7")
	if a != c {
		t.Fatalf("digest must normalise hex case and 0x prefixes: %s vs %s", fmt.Sprintf("%x", a), fmt.Sprintf("%x", c))
	}
}
