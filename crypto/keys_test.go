package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(StakePrefix)+"1") {
		t.Fatalf("encoded address %q missing %s prefix", encoded, StakePrefix)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("decoded address %x != original %x", decoded.Bytes(), addr.Bytes())
	}
}

func TestDecodeAddressRejectsShortPayload(t *testing.T) {
	if _, err := DecodeAddress("stk1invalid"); err == nil {
		t.Fatalf("expected error for malformed address")
	}
}

func TestPrivateKeyBytesRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if !bytes.Equal(restored.PubKey().Address().Bytes(), key.PubKey().Address().Bytes()) {
		t.Fatalf("restored key derives a different address")
	}
}
