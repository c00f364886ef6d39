package rpc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"stakeledger/crypto"
	"stakeledger/native/stake"
)

type stakeDepositParams struct {
	Owner     string `json:"owner"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type stakeRequestUnstakeParams struct {
	Owner     string   `json:"owner"`
	Records   []string `json:"records"`
	Amount    string   `json:"amount"`
	Nonce     string   `json:"nonce"`
	Signature string   `json:"signature"`
}

type stakeBatchParams struct {
	Owner     string   `json:"owner"`
	Records   []string `json:"records"`
	Nonce     string   `json:"nonce"`
	Signature string   `json:"signature"`
}

type stakeTransferControlParams struct {
	Caller        string `json:"caller"`
	NewController string `json:"newController"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
}

type stakeBindParams struct {
	Caller     string `json:"caller"`
	Identifier string `json:"identifier"`
	Nonce      string `json:"nonce"`
	Signature  string `json:"signature"`
}

type stakeAccountParams struct {
	Account string `json:"account"`
}

type stakeEventsParams struct {
	After uint64 `json:"after"`
}

type stakeFundParams struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type stakeRecordResult struct {
	ID                 string `json:"id"`
	Owner              string `json:"owner"`
	Amount             string `json:"amount"`
	UnstakeRequestedAt uint64 `json:"unstakeRequestedAt"`
	Pending            bool   `json:"pending"`
}

type stakeRequestUnstakeResult struct {
	Pending   *stakeRecordResult `json:"pending"`
	Remainder *stakeRecordResult `json:"remainder,omitempty"`
}

type stakeWithdrawResult struct {
	Amount string `json:"amount"`
}

type stakeBindingCountResult struct {
	Count uint64 `json:"count"`
}

type stakeBindingResult struct {
	Identifier string `json:"identifier"`
	Bound      bool   `json:"bound"`
}

type stakeInfoResult struct {
	Records             []*stakeRecordResult `json:"records"`
	Balance             string               `json:"balance"`
	PooledBalance       string               `json:"pooledBalance"`
	PendingUnstakeTotal string               `json:"pendingUnstakeTotal"`
	Controller          string               `json:"controller"`
	LockDurationMillis  uint64               `json:"lockDurationMillis"`
}

type stakeEventResult struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func parseSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object, got %d", len(req.Params))
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid params payload: %w", err)
	}
	return nil
}

func decodeAccount(field, value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("%s is required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid %s: %w", field, err)
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

// amountFromString parses the decimal token amount and rejects values that do
// not fit in 256 bits.
func amountFromString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount is required")
	}
	parsed, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return parsed.ToBig(), nil
}

func decodeRecordIDs(values []string) ([][32]byte, error) {
	if len(values) == 0 {
		return nil, errors.New("records must list at least one record id")
	}
	ids := make([][32]byte, 0, len(values))
	for i, value := range values {
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
		if err != nil {
			return nil, fmt.Errorf("records[%d]: invalid hex: %w", i, err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("records[%d]: id must be 32 bytes (got %d)", i, len(raw))
		}
		var id [32]byte
		copy(id[:], raw)
		ids = append(ids, id)
	}
	return ids, nil
}

// stakeDigest builds the canonical message signed by the owner for a stake
// operation. Every field the operation acts on is pinned under the signature.
func stakeDigest(action, owner, amount string, records []string, nonce string) [32]byte {
	parts := []string{"stake_" + action, strings.TrimSpace(owner), strings.TrimSpace(amount)}
	if len(records) > 0 {
		cleaned := make([]string, len(records))
		for i, rec := range records {
			cleaned[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(rec), "0x"))
		}
		parts = append(parts, strings.Join(cleaned, ","))
	}
	parts = append(parts, strings.TrimSpace(nonce))
	return sha256.Sum256([]byte(strings.Join(parts, "|")))
}

// verifyStakeSignature recovers the signer from a 65-byte secp256k1 signature
// over digest and checks it matches the claimed account.
func verifyStakeSignature(account [20]byte, digest [32]byte, signature string) error {
	sigHex := strings.TrimPrefix(strings.TrimSpace(signature), "0x")
	if sigHex == "" {
		return errors.New("signature is required")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("signature must be 65 bytes (got %d)", len(sig))
	}
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	if !bytes.Equal(recovered.Bytes(), account[:]) {
		return errors.New("signature does not match account")
	}
	return nil
}

func recordResult(rec *stake.Record) *stakeRecordResult {
	if rec == nil {
		return nil
	}
	return &stakeRecordResult{
		ID:                 hex.EncodeToString(rec.ID[:]),
		Owner:              crypto.MustNewAddress(crypto.StakePrefix, append([]byte(nil), rec.Owner[:]...)).String(),
		Amount:             rec.Amount.String(),
		UnstakeRequestedAt: rec.UnstakeRequestedAt,
		Pending:            rec.Pending(),
	}
}

func stakeErrorCode(err error) int {
	switch {
	case errors.Is(err, stake.ErrInvalidAmount),
		errors.Is(err, stake.ErrInvalidIdentifier),
		errors.Is(err, stake.ErrRecordNotFound),
		errors.Is(err, stake.ErrDuplicateRecord):
		return codeInvalidParams
	default:
		return codeServerError
	}
}

func (s *Server) handleStakeDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeDepositParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := decodeAccount("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := amountFromString(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	digest := stakeDigest("deposit", params.Owner, params.Amount, nil, params.Nonce)
	if err := verifyStakeSignature(owner, digest, params.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
		return
	}
	rec, err := s.node.StakeDeposit(owner, amount)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, stakeErrorCode(err), err.Error(), nil)
		return
	}
	writeResult(w, req.ID, recordResult(rec))
}

func (s *Server) handleStakeRequestUnstake(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeRequestUnstakeParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := decodeAccount("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ids, err := decodeRecordIDs(params.Records)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := amountFromString(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	digest := stakeDigest("requestUnstake", params.Owner, params.Amount, params.Records, params.Nonce)
	if err := verifyStakeSignature(owner, digest, params.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
		return
	}
	pending, remainder, err := s.node.StakeRequestUnstake(owner, ids, amount)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, stakeErrorCode(err), err.Error(), nil)
		return
	}
	writeResult(w, req.ID, stakeRequestUnstakeResult{
		Pending:   recordResult(pending),
		Remainder: recordResult(remainder),
	})
}

func (s *Server) handleStakeCancelUnstake(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeBatchParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := decodeAccount("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ids, err := decodeRecordIDs(params.Records)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	digest := stakeDigest("cancelUnstake", params.Owner, "", params.Records, params.Nonce)
	if err := verifyStakeSignature(owner, digest, params.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
		return
	}
	merged, err := s.node.StakeCancelUnstake(owner, ids)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, stakeErrorCode(err), err.Error(), nil)
		return
	}
	writeResult(w, req.ID, recordResult(merged))
}

func (s *Server) handleStakeWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeBatchParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := decodeAccount("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ids, err := decodeRecordIDs(params.Records)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	digest := stakeDigest("withdraw", params.Owner, "", params.Records, params.Nonce)
	if err := verifyStakeSignature(owner, digest, params.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
		return
	}
	amount, err := s.node.StakeWithdraw(owner, ids)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, stakeErrorCode(err), err.Error(), nil)
		return
	}
	writeResult(w, req.ID, stakeWithdrawResult{Amount: amount.String()})
}

func (s *Server) handleStakeTransferControl(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeTransferControlParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeAccount("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	newController, err := decodeAccount("newController", params.NewController)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	digest := stakeDigest("transferControl", params.Caller, params.NewController, nil, params.Nonce)
	if err := verifyStakeSignature(caller, digest, params.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
		return
	}
	if err := s.node.TransferControl(caller, newController); err != nil {
		writeError(w, http.StatusOK, req.ID, stakeErrorCode(err), err.Error(), nil)
		return
	}
	controller, err := s.node.Controller()
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"controller": crypto.MustNewAddress(crypto.StakePrefix, append([]byte(nil), controller[:]...)).String(),
	})
}

func (s *Server) handleStakeBind(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeBindParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeAccount("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	digest := stakeDigest("bind", params.Caller, params.Identifier, nil, params.Nonce)
	if err := verifyStakeSignature(caller, digest, params.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
		return
	}
	if err := s.node.BindIdentifier(caller, params.Identifier); err != nil {
		writeError(w, http.StatusOK, req.ID, stakeErrorCode(err), err.Error(), nil)
		return
	}
	identifier, bound, err := s.node.Binding(caller)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, stakeBindingResult{Identifier: identifier, Bound: bound})
}

func (s *Server) handleStakeBindingCount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeAccountParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := decodeAccount("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	count, err := s.node.BindingCount(account)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, stakeBindingCountResult{Count: count})
}

func (s *Server) handleStakeBinding(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeAccountParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := decodeAccount("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	identifier, bound, err := s.node.Binding(account)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, stakeBindingResult{Identifier: identifier, Bound: bound})
}

func (s *Server) handleStakeInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeAccountParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := decodeAccount("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	info, err := s.node.StakeInfoFor(account)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	records := make([]*stakeRecordResult, 0, len(info.Records))
	for _, rec := range info.Records {
		records = append(records, recordResult(rec))
	}
	controller := crypto.MustNewAddress(crypto.StakePrefix, append([]byte(nil), info.Ledger.Controller[:]...))
	writeResult(w, req.ID, stakeInfoResult{
		Records:             records,
		Balance:             info.Balance.String(),
		PooledBalance:       info.Ledger.PooledBalance.String(),
		PendingUnstakeTotal: info.Ledger.PendingUnstakeTotal.String(),
		Controller:          controller.String(),
		LockDurationMillis:  s.node.LockDuration(),
	})
}

func (s *Server) handleStakeEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params := stakeEventsParams{}
	if len(req.Params) > 0 {
		if err := parseSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	entries := s.node.EventsBacklog(params.After)
	results := make([]stakeEventResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, stakeEventResult{
			Sequence:   entry.Sequence,
			Cursor:     entry.Cursor,
			Type:       entry.Event.Type,
			Attributes: entry.Event.Attributes,
		})
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleStakeFund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeFundParams
	if err := parseSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := decodeAccount("account", params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := amountFromString(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.Credit(account, amount); err != nil {
		writeError(w, http.StatusOK, req.ID, stakeErrorCode(err), err.Error(), nil)
		return
	}
	balance, err := s.node.Balance(account)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}
