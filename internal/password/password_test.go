package password_test

import (
	"testing"

	"github.com/qpackt/qpackt/internal/password"
)

func TestMatches(t *testing.T) {
	hash, err := password.Hash("Pass")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := password.Matches("Pass", hash)
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if !ok {
		t.Fatal("expected password to match its own hash")
	}
}

func TestDoesntMatch(t *testing.T) {
	hash, err := password.Hash("Pass")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := password.Matches("OtherPass", hash)
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if ok {
		t.Fatal("expected mismatched password to fail verification")
	}
}

func TestMalformedHashIsError(t *testing.T) {
	if _, err := password.Matches("Pass", "not-a-hash"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}

func TestHashIsUniqueSalt(t *testing.T) {
	a, err := password.Hash("Pass")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := password.Hash("Pass")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct hashes for two calls due to random salt")
	}
}
