package challenge_test

import (
	"testing"

	"github.com/qpackt/qpackt/internal/challenge"
)

func TestSetThenGet(t *testing.T) {
	s := challenge.New()
	s.Set("tok1", "proof1")

	proof, ok := s.Get("tok1")
	if !ok {
		t.Fatal("expected proof to be present")
	}
	if proof != "proof1" {
		t.Fatalf("proof = %q, want %q", proof, "proof1")
	}
}

func TestGetMissingTokenIsNotFound(t *testing.T) {
	s := challenge.New()
	if _, ok := s.Get("missing"); ok {
		t.Fatal("expected no proof for an unset token")
	}
}

func TestClearRemovesAllTokens(t *testing.T) {
	s := challenge.New()
	s.Set("tok1", "proof1")
	s.Set("tok2", "proof2")

	s.Clear()

	if _, ok := s.Get("tok1"); ok {
		t.Fatal("expected tok1 to be cleared")
	}
	if _, ok := s.Get("tok2"); ok {
		t.Fatal("expected tok2 to be cleared")
	}
}

func TestSetOverwritesExistingToken(t *testing.T) {
	s := challenge.New()
	s.Set("tok1", "proof1")
	s.Set("tok1", "proof2")

	proof, _ := s.Get("tok1")
	if proof != "proof2" {
		t.Fatalf("proof = %q, want %q", proof, "proof2")
	}
}
