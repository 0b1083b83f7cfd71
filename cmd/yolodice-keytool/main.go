// yolodice-keytool creates and inspects encrypted key files for the yolodice
// client.
//
//	yolodice-keytool generate --out yolodice.key [--mnemonic] [--network testnet]
//	yolodice-keytool import --out yolodice.key --wif <WIF>
//	yolodice-keytool address --key-file yolodice.key
//	yolodice-keytool export --key-file yolodice.key
//
// The passphrase is read from the environment variable named by
// --passphrase-env.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/RGBKey/yolodice-api/internal/identity"
	"github.com/RGBKey/yolodice-api/internal/securestore"
)

const defaultPassphraseEnv = "YOLODICE_KEY_PASSPHRASE"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: yolodice-keytool generate|import|address|export [flags]")
	}
	cmd, rest := args[0], args[1:]

	var (
		out           string
		keyFile       string
		network       string
		wif           string
		passphraseEnv string
		withMnemonic  bool
	)
	flagSet := pflag.NewFlagSet("yolodice-keytool "+cmd, pflag.ContinueOnError)
	flagSet.StringVar(&out, "out", "yolodice.key", "key file to write")
	flagSet.StringVar(&keyFile, "key-file", "yolodice.key", "key file to read")
	flagSet.StringVar(&network, "network", "mainnet", "mainnet or testnet")
	flagSet.StringVar(&wif, "wif", "", "WIF key to import")
	flagSet.StringVar(&passphraseEnv, "passphrase-env", defaultPassphraseEnv, "environment variable holding the passphrase")
	flagSet.BoolVar(&withMnemonic, "mnemonic", false, "derive the key from a new recovery phrase and print it")
	if err := flagSet.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	switch cmd {
	case "generate":
		return generate(out, network, passphraseEnv, withMnemonic)
	case "import":
		return importWIF(out, wif, passphraseEnv)
	case "address":
		addr, err := identity.KeyFileAddress(keyFile)
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	case "export":
		passphrase, err := readPassphrase(passphraseEnv)
		if err != nil {
			return err
		}
		cred, err := identity.LoadKeyFile(keyFile, passphrase)
		if err != nil {
			return err
		}
		defer cred.Zero()
		fmt.Println(cred.WIF())
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func generate(out, networkName, passphraseEnv string, withMnemonic bool) error {
	network, err := identity.NetworkByName(networkName)
	if err != nil {
		return err
	}
	passphrase, err := readPassphrase(passphraseEnv)
	if err != nil {
		return err
	}

	var cred *identity.Credential
	if withMnemonic {
		phrase, err := identity.NewMnemonic()
		if err != nil {
			return err
		}
		cred, err = identity.CredentialFromMnemonic(phrase, "", network)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "recovery phrase (write it down, it is not stored):")
		fmt.Fprintln(os.Stderr, phrase)
	} else {
		cred, err = identity.GenerateCredential(network)
		if err != nil {
			return err
		}
	}
	defer cred.Zero()
	return save(out, passphrase, cred)
}

func importWIF(out, wif, passphraseEnv string) error {
	if strings.TrimSpace(wif) == "" {
		return errors.New("--wif is required")
	}
	passphrase, err := readPassphrase(passphraseEnv)
	if err != nil {
		return err
	}
	cred, err := identity.ParseWIF(strings.TrimSpace(wif))
	if err != nil {
		return err
	}
	defer cred.Zero()
	return save(out, passphrase, cred)
}

func save(out, passphrase string, cred *identity.Credential) error {
	if _, err := os.Stat(out); err == nil {
		return fmt.Errorf("%s already exists", out)
	}
	if err := identity.SaveKeyFile(out, passphrase, cred, securestore.DefaultKDF); err != nil {
		return err
	}
	fmt.Println(cred.Address())
	return nil
}

func readPassphrase(env string) (string, error) {
	passphrase := os.Getenv(env)
	if passphrase == "" {
		return "", fmt.Errorf("%s: %w", env, securestore.ErrPassphraseRequired)
	}
	return passphrase, nil
}
