package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RGBKey/yolodice-api/internal/identity"
	"github.com/RGBKey/yolodice-api/internal/securestore"
	"github.com/RGBKey/yolodice-api/internal/transport"
)

const (
	testWIF     = "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn"
	testAddress = "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"
)

func boolPtr(v bool) *bool {
	return &v
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yolodice.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
connection:
  endpoint: /dns4/staging.yolodice.test/tcp/5555
  callTimeout: 5s
  autoReconnect: true
  retry:
    maxRetries: 3
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CallTimeout != 5*time.Second {
		t.Fatalf("expected callTimeout=5s, got %s", cfg.CallTimeout)
	}
	if !cfg.AutoReconnect {
		t.Fatal("expected autoReconnect=true")
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.InitialInterval != DefaultConfig().Retry.InitialInterval {
		t.Fatalf("retry must merge field by field, got %+v", cfg.Retry)
	}
	if cfg.WriteTimeout != DefaultConfig().WriteTimeout {
		t.Fatalf("unset fields keep defaults, got writeTimeout=%s", cfg.WriteTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %s", cfg.LogLevel)
	}
	addr, err := cfg.Address()
	if err != nil || addr != "staging.yolodice.test:5555" {
		t.Fatalf("unexpected address %q err=%v", addr, err)
	}
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "connection: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, "connection:\n  host: file.example\n  port: 1111\n")
	t.Setenv("YOLODICE_HOST", "env.example")
	t.Setenv("YOLODICE_PORT", "2222")
	t.Setenv("YOLODICE_AUTO_RECONNECT", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	addr, _ := cfg.Address()
	if addr != "env.example:2222" {
		t.Fatalf("expected env override, got %s", addr)
	}
	if !cfg.AutoReconnect {
		t.Fatal("expected autoReconnect from env")
	}

	t.Setenv("YOLODICE_PORT", "not-a-port")
	if _, err := Load(path); err == nil {
		t.Fatal("expected bad YOLODICE_PORT to fail")
	}
}

func TestMergeDoesNotOverwriteBoolsWhenUnset(t *testing.T) {
	dst := DefaultConfig()
	dst.AutoReconnect = true
	Merge(&dst, FileConfig{Connection: FileConnectionConfig{Host: "x.example"}})
	if !dst.AutoReconnect {
		t.Fatal("unset bool must keep its value")
	}
	Merge(&dst, FileConfig{Connection: FileConnectionConfig{AutoReconnect: boolPtr(false)}})
	if dst.AutoReconnect {
		t.Fatal("explicit false must apply")
	}
}

func TestNormalizeRejectsUnusableEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	if err := cfg.Normalize(); !errors.Is(err, transport.ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.CallTimeout = -time.Second
	if err := cfg.Normalize(); err == nil {
		t.Fatal("expected negative timeout to be rejected")
	}
}

func TestLoadCredentialPrecedence(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := cfg.LoadCredential(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}

	mnemonic, err := identity.NewMnemonic()
	if err != nil {
		t.Fatalf("mnemonic: %v", err)
	}
	cfg.Credential.Mnemonic = mnemonic
	fromPhrase, err := cfg.LoadCredential()
	if err != nil {
		t.Fatalf("mnemonic credential: %v", err)
	}

	cfg.Credential.WIF = testWIF
	cred, err := cfg.LoadCredential()
	if err != nil {
		t.Fatalf("wif credential: %v", err)
	}
	if cred.Address() != testAddress || cred.Address() == fromPhrase.Address() {
		t.Fatalf("WIF must win over mnemonic, got %s", cred.Address())
	}

	cfg.Network = "testnet"
	if _, err := cfg.LoadCredential(); !errors.Is(err, ErrNetworkMismatch) {
		t.Fatalf("expected ErrNetworkMismatch, got %v", err)
	}
}

func TestLoadCredentialFromKeyFile(t *testing.T) {
	cred, err := identity.ParseWIF(testWIF)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	path := filepath.Join(t.TempDir(), "yolodice.key")
	if err := identity.SaveKeyFile(path, "hunter2", cred, securestore.KDFParams{Time: 1, MemoryKB: 1024, Threads: 1}); err != nil {
		t.Fatalf("save key file: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Credential.KeyFile = path
	if _, err := cfg.LoadCredential(); !errors.Is(err, securestore.ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
	cfg.Credential.KeyPassphrase = "hunter2"
	loaded, err := cfg.LoadCredential()
	if err != nil {
		t.Fatalf("load key file: %v", err)
	}
	if loaded.Address() != testAddress {
		t.Fatalf("unexpected address %s", loaded.Address())
	}
}
