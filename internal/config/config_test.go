package config_test

import (
	"path/filepath"
	"testing"

	"github.com/qpackt/qpackt/internal/config"
)

func TestSaveThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qpackt.yaml")

	cfg := &config.Config{
		Domain:     "example.com",
		HTTPProxy:  "0.0.0.0:8080",
		HTTPSProxy: "0.0.0.0:8443",
		Password:   "$scrypt$ln=15,r=8,p=1$c2FsdA$aGFzaA",
		RunDir:     "/var/run/qpackt",
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := config.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Domain != cfg.Domain || got.HTTPProxy != cfg.HTTPProxy ||
		got.HTTPSProxy != cfg.HTTPSProxy || got.Password != cfg.Password ||
		got.RunDir != cfg.RunDir {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, cfg)
	}
}

func TestReadMissingHTTPSProxyIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qpackt.yaml")
	cfg := &config.Config{
		Domain:    "example.com",
		HTTPProxy: "0.0.0.0:8080",
		Password:  "$scrypt$ln=15,r=8,p=1$c2FsdA$aGFzaA",
		RunDir:    "/var/run/qpackt",
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := config.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.HTTPSProxy != "" {
		t.Fatalf("expected empty https_proxy, got %q", got.HTTPSProxy)
	}
}

func TestReadMissingRequiredFieldErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qpackt.yaml")
	cfg := &config.Config{
		HTTPProxy: "0.0.0.0:8080",
		Password:  "$scrypt$ln=15,r=8,p=1$c2FsdA$aGFzaA",
		RunDir:    "/var/run/qpackt",
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := config.Read(path); err == nil {
		t.Fatal("expected error for missing domain")
	}
}

func TestStorePathAndVersionsDir(t *testing.T) {
	cfg := &config.Config{RunDir: "/var/run/qpackt"}
	if got, want := cfg.StorePath(), "/var/run/qpackt/qpackt.sqlite"; got != want {
		t.Fatalf("StorePath() = %q, want %q", got, want)
	}
	if got, want := cfg.VersionsDir(), "/var/run/qpackt/versions"; got != want {
		t.Fatalf("VersionsDir() = %q, want %q", got, want)
	}
}
