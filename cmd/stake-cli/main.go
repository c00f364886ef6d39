// Command stake-cli manages keys and drives the staking ledger over JSON-RPC.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"stakeledger/cmd/internal/passphrase"
	"stakeledger/crypto"
)

const defaultRPCURL = "http://127.0.0.1:8545"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: stake-cli <command> [options]

Key management:
  generate-key --out <file>            create a key and write an encrypted keystore

Queries:
  balance <address>                    token balance of an account
  info <address>                       records, balance, and ledger totals
  binding <address>                    identifier bound by the account
  binding-count <address>              total size of the binding table
  events [--after N]                   retained ledger events

Transactions (require --key):
  deposit --key <file> --amount N
  request-unstake --key <file> --amount N --records id[,id...]
  cancel-unstake --key <file> --records id[,id...]
  withdraw --key <file> --records id[,id...]
  transfer-control --key <file> --to <address>
  bind --key <file> --identifier <string>

Operator:
  fund --token <bearer> <address> <amount>   credit an account (dev faucet)

Global options:
  --rpc <url>    JSON-RPC endpoint (default %s)
`, defaultRPCURL)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "generate-key":
		err = cmdGenerateKey(args)
	case "balance":
		err = cmdBalance(args)
	case "info":
		err = cmdInfo(args)
	case "binding":
		err = cmdBinding(args)
	case "binding-count":
		err = cmdBindingCount(args)
	case "events":
		err = cmdEvents(args)
	case "deposit":
		err = cmdDeposit(args)
	case "request-unstake":
		err = cmdRequestUnstake(args)
	case "cancel-unstake":
		err = cmdCancelUnstake(args)
	case "withdraw":
		err = cmdWithdraw(args)
	case "transfer-control":
		err = cmdTransferControl(args)
	case "bind":
		err = cmdBind(args)
	case "fund":
		err = cmdFund(args)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// signer pairs a loaded key with its bech32 address string.
type signer struct {
	key  *crypto.PrivateKey
	addr string
}

func loadSigner(path string) (*signer, error) {
	pass, err := passphrase.Resolve(false)
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", path, err)
	}
	return &signer{key: key, addr: key.PubKey().Address().String()}, nil
}

// digest mirrors the server's canonical signing payload for stake operations.
func digest(action, owner, amount string, records []string, nonce string) [32]byte {
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

func (s *signer) sign(d [32]byte) (string, error) {
	sig, err := ethcrypto.Sign(d[:], s.key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

func freshNonce() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

func printJSON(v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func splitRecords(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func cmdGenerateKey(args []string) error {
	fs := flag.NewFlagSet("generate-key", flag.ExitOnError)
	out := fs.String("out", "stake-key.json", "keystore output path")
	_ = fs.Parse(args)

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	pass, err := passphrase.Resolve(true)
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return fmt.Errorf("save keystore: %w", err)
	}
	fmt.Printf("Keystore written to %s\nAddress: %s\n", *out, key.PubKey().Address().String())
	return nil
}

func cmdBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: balance <address>")
	}
	address := fs.Arg(0)
	if _, err := crypto.DecodeAddress(address); err != nil {
		return err
	}
	var info map[string]interface{}
	if err := newRPCClient(*rpcURL, "").Call("stake_info", map[string]string{"account": address}, &info); err != nil {
		return err
	}
	fmt.Println(info["balance"])
	return nil
}

func cmdInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: info <address>")
	}
	var info json.RawMessage
	if err := newRPCClient(*rpcURL, "").Call("stake_info", map[string]string{"account": fs.Arg(0)}, &info); err != nil {
		return err
	}
	return printJSON(info)
}

func cmdBinding(args []string) error {
	fs := flag.NewFlagSet("binding", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: binding <address>")
	}
	var result json.RawMessage
	if err := newRPCClient(*rpcURL, "").Call("stake_binding", map[string]string{"account": fs.Arg(0)}, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func cmdBindingCount(args []string) error {
	fs := flag.NewFlagSet("binding-count", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: binding-count <address>")
	}
	var result struct {
		Count uint64 `json:"count"`
	}
	if err := newRPCClient(*rpcURL, "").Call("stake_bindingCount", map[string]string{"account": fs.Arg(0)}, &result); err != nil {
		return err
	}
	fmt.Println(result.Count)
	return nil
}

func cmdEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	after := fs.Uint64("after", 0, "return events newer than this sequence")
	_ = fs.Parse(args)
	var result json.RawMessage
	if err := newRPCClient(*rpcURL, "").Call("stake_events", map[string]uint64{"after": *after}, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func cmdDeposit(args []string) error {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	keyPath := fs.String("key", "", "keystore file")
	amount := fs.String("amount", "", "token amount to stake")
	_ = fs.Parse(args)
	if *keyPath == "" || *amount == "" {
		return fmt.Errorf("usage: deposit --key <file> --amount N")
	}
	who, err := loadSigner(*keyPath)
	if err != nil {
		return err
	}
	nonce := freshNonce()
	sig, err := who.sign(digest("deposit", who.addr, *amount, nil, nonce))
	if err != nil {
		return err
	}
	var result json.RawMessage
	if err := newRPCClient(*rpcURL, "").Call("stake_deposit", map[string]string{
		"owner": who.addr, "amount": *amount, "nonce": nonce, "signature": sig,
	}, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func cmdRequestUnstake(args []string) error {
	fs := flag.NewFlagSet("request-unstake", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	keyPath := fs.String("key", "", "keystore file")
	amount := fs.String("amount", "", "token amount to move into pending")
	records := fs.String("records", "", "comma separated record ids to consume")
	_ = fs.Parse(args)
	if *keyPath == "" || *amount == "" || *records == "" {
		return fmt.Errorf("usage: request-unstake --key <file> --amount N --records id[,id...]")
	}
	who, err := loadSigner(*keyPath)
	if err != nil {
		return err
	}
	ids := splitRecords(*records)
	nonce := freshNonce()
	sig, err := who.sign(digest("requestUnstake", who.addr, *amount, ids, nonce))
	if err != nil {
		return err
	}
	var result json.RawMessage
	if err := newRPCClient(*rpcURL, "").Call("stake_requestUnstake", map[string]interface{}{
		"owner": who.addr, "amount": *amount, "records": ids, "nonce": nonce, "signature": sig,
	}, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func cmdCancelUnstake(args []string) error {
	fs := flag.NewFlagSet("cancel-unstake", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	keyPath := fs.String("key", "", "keystore file")
	records := fs.String("records", "", "comma separated record ids to reactivate")
	_ = fs.Parse(args)
	if *keyPath == "" || *records == "" {
		return fmt.Errorf("usage: cancel-unstake --key <file> --records id[,id...]")
	}
	who, err := loadSigner(*keyPath)
	if err != nil {
		return err
	}
	ids := splitRecords(*records)
	nonce := freshNonce()
	sig, err := who.sign(digest("cancelUnstake", who.addr, "", ids, nonce))
	if err != nil {
		return err
	}
	var result json.RawMessage
	if err := newRPCClient(*rpcURL, "").Call("stake_cancelUnstake", map[string]interface{}{
		"owner": who.addr, "records": ids, "nonce": nonce, "signature": sig,
	}, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func cmdWithdraw(args []string) error {
	fs := flag.NewFlagSet("withdraw", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	keyPath := fs.String("key", "", "keystore file")
	records := fs.String("records", "", "comma separated matured record ids")
	_ = fs.Parse(args)
	if *keyPath == "" || *records == "" {
		return fmt.Errorf("usage: withdraw --key <file> --records id[,id...]")
	}
	who, err := loadSigner(*keyPath)
	if err != nil {
		return err
	}
	ids := splitRecords(*records)
	nonce := freshNonce()
	sig, err := who.sign(digest("withdraw", who.addr, "", ids, nonce))
	if err != nil {
		return err
	}
	var result struct {
		Amount string `json:"amount"`
	}
	if err := newRPCClient(*rpcURL, "").Call("stake_withdraw", map[string]interface{}{
		"owner": who.addr, "records": ids, "nonce": nonce, "signature": sig,
	}, &result); err != nil {
		return err
	}
	fmt.Printf("Withdrawn: %s\n", result.Amount)
	return nil
}

func cmdTransferControl(args []string) error {
	fs := flag.NewFlagSet("transfer-control", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	keyPath := fs.String("key", "", "keystore file")
	to := fs.String("to", "", "new controller address")
	_ = fs.Parse(args)
	if *keyPath == "" || *to == "" {
		return fmt.Errorf("usage: transfer-control --key <file> --to <address>")
	}
	if _, err := crypto.DecodeAddress(*to); err != nil {
		return err
	}
	who, err := loadSigner(*keyPath)
	if err != nil {
		return err
	}
	nonce := freshNonce()
	sig, err := who.sign(digest("transferControl", who.addr, *to, nil, nonce))
	if err != nil {
		return err
	}
	var result json.RawMessage
	if err := newRPCClient(*rpcURL, "").Call("stake_transferControl", map[string]string{
		"caller": who.addr, "newController": *to, "nonce": nonce, "signature": sig,
	}, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func cmdBind(args []string) error {
	fs := flag.NewFlagSet("bind", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	keyPath := fs.String("key", "", "keystore file")
	identifier := fs.String("identifier", "", "identifier to bind")
	_ = fs.Parse(args)
	if *keyPath == "" || *identifier == "" {
		return fmt.Errorf("usage: bind --key <file> --identifier <string>")
	}
	who, err := loadSigner(*keyPath)
	if err != nil {
		return err
	}
	nonce := freshNonce()
	sig, err := who.sign(digest("bind", who.addr, *identifier, nil, nonce))
	if err != nil {
		return err
	}
	var result json.RawMessage
	if err := newRPCClient(*rpcURL, "").Call("stake_bind", map[string]string{
		"caller": who.addr, "identifier": *identifier, "nonce": nonce, "signature": sig,
	}, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func cmdFund(args []string) error {
	fs := flag.NewFlagSet("fund", flag.ExitOnError)
	rpcURL := fs.String("rpc", defaultRPCURL, "JSON-RPC endpoint")
	token := fs.String("token", "", "operator bearer token")
	_ = fs.Parse(args)
	if *token == "" || fs.NArg() != 2 {
		return fmt.Errorf("usage: fund --token <bearer> <address> <amount>")
	}
	if _, err := crypto.DecodeAddress(fs.Arg(0)); err != nil {
		return err
	}
	var result json.RawMessage
	if err := newRPCClient(*rpcURL, *token).Call("stake_fund", map[string]string{
		"account": fs.Arg(0), "amount": fs.Arg(1),
	}, &result); err != nil {
		return err
	}
	return printJSON(result)
}
