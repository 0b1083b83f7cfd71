package rpckit

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RGBKey/yolodice-api/pkg/models"
)

var (
	ErrTimeout             = errors.New("rpc call timed out")
	ErrClosed              = errors.New("connection closed")
	ErrNotConnected        = errors.New("session is not connected")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrUnknownID           = errors.New("response references unknown request id")
	ErrInvalidMessage      = errors.New("message has neither id nor method")
	ErrFrameTooLarge       = errors.New("frame exceeds size limit")
	ErrHandshakeInProgress = errors.New("auth handshake already in progress")
)

// ApplicationError is a remote error delivered inside a resolved envelope.
type ApplicationError = models.RemoteError

// TransportError wraps socket and TLS failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a frame that could not be used. Decoding continues
// after it.
type ProtocolError struct {
	Frame []byte
	ID    *uint64
	Err   error
}

const maxFrameExcerpt = 128

func NewProtocolError(frame []byte, id *uint64, err error) *ProtocolError {
	excerpt := frame
	if len(excerpt) > maxFrameExcerpt {
		excerpt = excerpt[:maxFrameExcerpt]
	}
	return &ProtocolError{Frame: append([]byte(nil), excerpt...), ID: id, Err: err}
}

func (e *ProtocolError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("protocol error (id %d): %v", *e.ID, e.Err)
	}
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Kind is a short label used for metrics and log throttling.
func (e *ProtocolError) Kind() string {
	switch {
	case errors.Is(e.Err, ErrUnknownID):
		return "unknown_id"
	case errors.Is(e.Err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(e.Err, ErrFrameTooLarge):
		return "frame_too_large"
	default:
		return "malformed_json"
	}
}

const (
	StageChallenge = "challenge"
	StageProof     = "proof"
)

// AuthError is a remote rejection during the handshake.
type AuthError struct {
	Stage   string
	Payload json.RawMessage
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s rejected: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("auth %s rejected: %s", e.Stage, string(e.Payload))
}

func (e *AuthError) Unwrap() error { return e.Err }

// SigningError means a locally produced signature failed self-verification.
// It is terminal for the session.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

func IsFatal(err error) bool {
	var sigErr *SigningError
	return errors.As(err, &sigErr)
}
