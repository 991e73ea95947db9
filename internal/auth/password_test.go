package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherRoundTrip(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	first, err := h.Hash("Passw0rd")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	second, _ := h.Hash("Passw0rd")
	if first == second {
		t.Fatal("expected distinct salts")
	}
	if !h.Verify("Passw0rd", first) {
		t.Fatal("expected match")
	}
	if h.Verify("wrong", first) {
		t.Fatal("expected mismatch")
	}
	if h.Verify("Passw0rd", "not-a-hash") || h.Verify("Passw0rd", "") {
		t.Fatal("malformed hash must not match")
	}
	if _, err := h.Hash(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestNewHasherClampsCost(t *testing.T) {
	if got := NewHasher(1).Cost(); got != bcrypt.MinCost {
		t.Fatalf("cost=%d, want %d", got, bcrypt.MinCost)
	}
	if got := NewHasher(0).cost; got != DefaultBcryptCost {
		t.Fatalf("cost=%d, want %d", got, DefaultBcryptCost)
	}
}
