package identity

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/RGBKey/yolodice-api/internal/rpckit"
)

const messageMagic = "Bitcoin Signed Message:\n"

var ErrSignatureMismatch = errors.New("signature does not verify against address")

// MessageSigner produces base64 compact signatures in the Bitcoin signed
// message format and checks each one before returning it.
type MessageSigner struct {
	cred        *Credential
	signCompact func(key *secp256k1.PrivateKey, hash []byte, compressed bool) []byte
}

func NewMessageSigner(cred *Credential) (*MessageSigner, error) {
	if cred == nil {
		return nil, ErrCredentialEmpty
	}
	return &MessageSigner{cred: cred, signCompact: ecdsa.SignCompact}, nil
}

func (s *MessageSigner) Address() string {
	return s.cred.Address()
}

// SignMessage returns a signature over msg. A signature that fails
// self-verification is reported as *rpckit.SigningError and never returned.
func (s *MessageSigner) SignMessage(msg []byte) (string, error) {
	hash := MessageHash(msg)
	sig := s.signCompact(s.cred.key, hash, s.cred.compressed)
	encoded := base64.StdEncoding.EncodeToString(sig)
	if err := VerifyMessage(s.cred.Address(), msg, encoded, s.cred.network); err != nil {
		return "", &rpckit.SigningError{Err: err}
	}
	return encoded, nil
}

// VerifyMessage recovers the signing key from a compact signature and
// compares its address with addr.
func VerifyMessage(addr string, msg []byte, signature string, network Network) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	pub, compressed, err := ecdsa.RecoverCompact(sig, MessageHash(msg))
	if err != nil {
		return fmt.Errorf("recover public key: %w", err)
	}
	if addressFromPubKey(pub, compressed, network) != addr {
		return ErrSignatureMismatch
	}
	return nil
}

// MessageHash is the double SHA-256 of the magic-prefixed message.
func MessageHash(msg []byte) []byte {
	var buf bytes.Buffer
	writeVarString(&buf, []byte(messageMagic))
	writeVarString(&buf, msg)
	return doubleSHA256(buf.Bytes())
}

func writeVarString(buf *bytes.Buffer, b []byte) {
	n := uint64(len(b))
	var tmp [9]byte
	switch {
	case n < 0xfd:
		buf.WriteByte(byte(n))
	case n <= 0xffff:
		tmp[0] = 0xfd
		binary.LittleEndian.PutUint16(tmp[1:], uint16(n))
		buf.Write(tmp[:3])
	case n <= 0xffffffff:
		tmp[0] = 0xfe
		binary.LittleEndian.PutUint32(tmp[1:], uint32(n))
		buf.Write(tmp[:5])
	default:
		tmp[0] = 0xff
		binary.LittleEndian.PutUint64(tmp[1:], n)
		buf.Write(tmp[:9])
	}
	buf.Write(b)
}
