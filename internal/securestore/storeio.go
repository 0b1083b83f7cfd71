package securestore

import (
	"os"
	"path/filepath"
)

// WriteFile seals plaintext and writes it with owner-only permissions.
func WriteFile(path, passphrase, label string, plaintext []byte, params KDFParams) error {
	env, err := Seal(passphrase, label, plaintext, params)
	if err != nil {
		return err
	}
	raw, err := Marshal(env)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadFile opens a sealed file and returns its plaintext and label.
func ReadFile(path, passphrase string) ([]byte, string, error) {
	env, err := readEnvelope(path)
	if err != nil {
		return nil, "", err
	}
	plaintext, err := Open(passphrase, env)
	if err != nil {
		return nil, "", err
	}
	return plaintext, env.Label, nil
}

// ReadLabel returns the clear-text label without decrypting.
func ReadLabel(path string) (string, error) {
	env, err := readEnvelope(path)
	if err != nil {
		return "", err
	}
	return env.Label, nil
}

func readEnvelope(path string) (*Envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(raw)
}
