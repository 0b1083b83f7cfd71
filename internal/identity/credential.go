package identity

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/ripemd160"
)

var (
	ErrInvalidWIF      = errors.New("invalid WIF private key")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidKey      = errors.New("invalid private key")
	ErrUnknownNetwork  = errors.New("unknown network")
	ErrCredentialEmpty = errors.New("credential is required")
)

type Network struct {
	Name           string
	WIFVersion     byte
	PubKeyHashAddr byte
}

var (
	MainNet = Network{Name: "mainnet", WIFVersion: 0x80, PubKeyHashAddr: 0x00}
	TestNet = Network{Name: "testnet", WIFVersion: 0xef, PubKeyHashAddr: 0x6f}
)

func NetworkByName(name string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", MainNet.Name:
		return MainNet, nil
	case TestNet.Name:
		return TestNet, nil
	default:
		return Network{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
}

// Credential is the private signing material. Only Address and signatures
// derived from it are ever sent.
type Credential struct {
	key        *secp256k1.PrivateKey
	compressed bool
	network    Network
}

func NewCredential(key *secp256k1.PrivateKey, compressed bool, network Network) (*Credential, error) {
	if key == nil || key.Key.IsZero() {
		return nil, ErrInvalidKey
	}
	return &Credential{key: key, compressed: compressed, network: network}, nil
}

func GenerateCredential(network Network) (*Credential, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return NewCredential(key, true, network)
}

// ParseWIF decodes a base58check wallet import format key.
func ParseWIF(wif string) (*Credential, error) {
	wif = strings.TrimSpace(wif)
	if wif == "" {
		return nil, ErrCredentialEmpty
	}
	payload, err := decodeCheck(wif)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWIF, err)
	}

	var network Network
	switch payload[0] {
	case MainNet.WIFVersion:
		network = MainNet
	case TestNet.WIFVersion:
		network = TestNet
	default:
		return nil, fmt.Errorf("%w: version byte 0x%02x", ErrInvalidWIF, payload[0])
	}

	body := payload[1:]
	compressed := false
	switch {
	case len(body) == 33 && body[32] == 0x01:
		compressed = true
		body = body[:32]
	case len(body) == 32:
	default:
		return nil, fmt.Errorf("%w: unexpected length %d", ErrInvalidWIF, len(payload))
	}
	key := secp256k1.PrivKeyFromBytes(body)
	return NewCredential(key, compressed, network)
}

func (c *Credential) WIF() string {
	payload := make([]byte, 0, 34)
	payload = append(payload, c.network.WIFVersion)
	payload = append(payload, c.key.Serialize()...)
	if c.compressed {
		payload = append(payload, 0x01)
	}
	return encodeCheck(payload)
}

// Address returns the pay-to-pubkey-hash address of the credential.
func (c *Credential) Address() string {
	return addressFromPubKey(c.key.PubKey(), c.compressed, c.network)
}

func (c *Credential) Network() Network {
	return c.network
}

func (c *Credential) Compressed() bool {
	return c.compressed
}

func (c *Credential) PublicKey() []byte {
	if c.compressed {
		return c.key.PubKey().SerializeCompressed()
	}
	return c.key.PubKey().SerializeUncompressed()
}

// Zero clears the private scalar. The credential is unusable afterwards.
func (c *Credential) Zero() {
	if c != nil && c.key != nil {
		c.key.Zero()
	}
}

func addressFromPubKey(pub *secp256k1.PublicKey, compressed bool, network Network) string {
	var serialized []byte
	if compressed {
		serialized = pub.SerializeCompressed()
	} else {
		serialized = pub.SerializeUncompressed()
	}
	payload := append([]byte{network.PubKeyHashAddr}, hash160(serialized)...)
	return encodeCheck(payload)
}

// ValidateAddress checks the base58check encoding and version byte.
func ValidateAddress(addr string, network Network) error {
	payload, err := decodeCheck(strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(payload) != 21 || payload[0] != network.PubKeyHashAddr {
		return ErrInvalidAddress
	}
	return nil
}

func hash160(b []byte) []byte {
	sha := sha256.Sum256(b)
	h := ripemd160.New()
	_, _ = h.Write(sha[:])
	return h.Sum(nil)
}

func doubleSHA256(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

func encodeCheck(payload []byte) string {
	sum := doubleSHA256(payload)
	out := make([]byte, 0, len(payload)+4)
	out = append(out, payload...)
	out = append(out, sum[:4]...)
	return base58.Encode(out)
}

func decodeCheck(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(raw) < 5 {
		return nil, errors.New("payload too short")
	}
	payload, checksum := raw[:len(raw)-4], raw[len(raw)-4:]
	if !bytes.Equal(doubleSHA256(payload)[:4], checksum) {
		return nil, errors.New("checksum mismatch")
	}
	return payload, nil
}
