package identity

import (
	"errors"
	"fmt"

	"github.com/RGBKey/yolodice-api/internal/securestore"
)

var ErrKeyFileMismatch = errors.New("key file address does not match its key")

// SaveKeyFile writes cred as an encrypted WIF. The address is kept as the
// clear label so it can be shown without the passphrase.
func SaveKeyFile(path, passphrase string, cred *Credential, params securestore.KDFParams) error {
	if cred == nil {
		return ErrCredentialEmpty
	}
	wif := []byte(cred.WIF())
	defer zeroBytes(wif)
	return securestore.WriteFile(path, passphrase, cred.Address(), wif, params)
}

func LoadKeyFile(path, passphrase string) (*Credential, error) {
	plain, label, err := securestore.ReadFile(path, passphrase)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	defer zeroBytes(plain)
	cred, err := ParseWIF(string(plain))
	if err != nil {
		return nil, err
	}
	if label != "" && label != cred.Address() {
		return nil, ErrKeyFileMismatch
	}
	return cred, nil
}

func KeyFileAddress(path string) (string, error) {
	return securestore.ReadLabel(path)
}
