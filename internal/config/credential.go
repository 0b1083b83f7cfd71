package config

import (
	"errors"
	"fmt"

	"github.com/RGBKey/yolodice-api/internal/identity"
	"github.com/RGBKey/yolodice-api/internal/securestore"
)

var (
	ErrNoCredential    = errors.New("no credential configured: set a WIF, a key file or a mnemonic")
	ErrNetworkMismatch = errors.New("credential network does not match configured network")
)

// LoadCredential resolves the configured signing key. A WIF wins over a key
// file, which wins over a mnemonic.
func (c Config) LoadCredential() (*identity.Credential, error) {
	network, err := identity.NetworkByName(c.Network)
	if err != nil {
		return nil, err
	}
	src := c.Credential
	switch {
	case src.WIF != "":
		cred, err := identity.ParseWIF(src.WIF)
		if err != nil {
			return nil, err
		}
		if cred.Network() != network {
			return nil, fmt.Errorf("%w: key is %s, config is %s", ErrNetworkMismatch, cred.Network().Name, network.Name)
		}
		return cred, nil
	case src.KeyFile != "":
		if src.KeyPassphrase == "" {
			return nil, fmt.Errorf("key file %s: %w", src.KeyFile, securestore.ErrPassphraseRequired)
		}
		cred, err := identity.LoadKeyFile(src.KeyFile, src.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		if cred.Network() != network {
			return nil, fmt.Errorf("%w: key is %s, config is %s", ErrNetworkMismatch, cred.Network().Name, network.Name)
		}
		return cred, nil
	case src.Mnemonic != "":
		return identity.CredentialFromMnemonic(src.Mnemonic, src.MnemonicPassphrase, network)
	default:
		return nil, ErrNoCredential
	}
}
