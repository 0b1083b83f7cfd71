package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/RGBKey/yolodice-api/internal/identity"
	"github.com/RGBKey/yolodice-api/internal/securestore"
)

func TestImportThenAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yolodice.key")
	t.Setenv(defaultPassphraseEnv, "hunter2")

	if err := run([]string{"import", "--out", path, "--wif", "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn"}); err != nil {
		t.Fatalf("import: %v", err)
	}
	addr, err := identity.KeyFileAddress(path)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if addr != "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH" {
		t.Fatalf("unexpected address %s", addr)
	}
	if err := run([]string{"import", "--out", path, "--wif", "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn"}); err == nil {
		t.Fatal("expected refusal to overwrite an existing key file")
	}
}

func TestGenerateRequiresPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yolodice.key")
	t.Setenv(defaultPassphraseEnv, "")
	if err := run([]string{"generate", "--out", path}); !errors.Is(err, securestore.ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
}

func TestGenerateTestnetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yolodice.key")
	t.Setenv(defaultPassphraseEnv, "hunter2")
	if err := run([]string{"generate", "--out", path, "--network", "testnet"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	cred, err := identity.LoadKeyFile(path, "hunter2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cred.Network() != identity.TestNet {
		t.Fatalf("expected testnet key, got %s", cred.Network().Name)
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := run([]string{"frobnicate"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}
