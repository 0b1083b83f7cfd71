package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RGBKey/yolodice-api/internal/registry"
	"github.com/RGBKey/yolodice-api/internal/rpckit"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

const (
	MethodGenerateAuthChallenge = "generate_auth_challenge"
	MethodAuthByAddress         = "auth_by_address"
)

type State int

const (
	StateIdle State = iota
	StateChallengeRequested
	StateAwaitingVerification
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChallengeRequested:
		return "challenge_requested"
	case StateAwaitingVerification:
		return "awaiting_verification"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) inProgress() bool {
	return s == StateChallengeRequested || s == StateAwaitingVerification
}

// Caller issues a call and returns its pending handle.
type Caller interface {
	Call(ctx context.Context, method string, params any) (*registry.Call, error)
}

// Signer is the external signing capability. SignMessage must verify its
// own output and return *rpckit.SigningError when it cannot.
type Signer interface {
	Address() string
	SignMessage(msg []byte) (string, error)
}

type Observer interface {
	OnStateChange(from, to State)
	OnSign(msg []byte)
	OnLoggedIn(identity models.Identity)
	OnAuthFailed(err *rpckit.AuthError)
}

type addressProof struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// Handshake exchanges a signed server challenge for an Identity.
type Handshake struct {
	mu       sync.RWMutex
	state    State
	identity *models.Identity
	failure  error

	caller   Caller
	signer   Signer
	observer Observer
	logger   *slog.Logger
}

func New(caller Caller, signer Signer, observer Observer, logger *slog.Logger) *Handshake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handshake{
		state:    StateIdle,
		caller:   caller,
		signer:   signer,
		observer: observer,
		logger:   logger,
	}
}

func (h *Handshake) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Handshake) Identity() (models.Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != StateAuthenticated || h.identity == nil {
		return models.Identity{}, false
	}
	return *h.identity, true
}

// RequireIdentity fails fast with rpckit.ErrNotAuthenticated.
func (h *Handshake) RequireIdentity() (models.Identity, error) {
	identity, ok := h.Identity()
	if !ok {
		return models.Identity{}, rpckit.ErrNotAuthenticated
	}
	return identity, nil
}

// Failure is the rejection or signing error that ended the last run. It is
// nil unless the state is Failed for one of those reasons.
func (h *Handshake) Failure() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != StateFailed {
		return nil
	}
	return h.failure
}

// Reset returns the machine to Idle, e.g. when the connection is replaced.
func (h *Handshake) Reset() {
	h.mu.Lock()
	h.failure = nil
	h.mu.Unlock()
	h.transition(StateIdle, nil, true)
}

// Run performs one full handshake. It returns nil on success, an
// *rpckit.AuthError on remote rejection, an *rpckit.SigningError when the
// local signature cannot be trusted, or the transport error that
// interrupted it.
func (h *Handshake) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.state.inProgress() {
		h.mu.Unlock()
		return rpckit.ErrHandshakeInProgress
	}
	from := h.state
	h.state = StateChallengeRequested
	h.identity = nil
	h.failure = nil
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.OnStateChange(from, StateChallengeRequested)
	}

	resp, err := h.request(ctx, StateChallengeRequested, MethodGenerateAuthChallenge, nil)
	if err != nil {
		return err
	}
	challenge, authErr := challengeFrom(resp)
	if authErr != nil {
		return h.fail(authErr)
	}

	if h.observer != nil {
		h.observer.OnSign([]byte(challenge))
	}
	signature, err := h.signer.SignMessage([]byte(challenge))
	if err != nil {
		var sigErr *rpckit.SigningError
		if !errors.As(err, &sigErr) {
			err = &rpckit.SigningError{Err: err}
		}
		h.setFailure(err)
		h.transition(StateFailed, nil, true)
		h.logger.Error("challenge signature failed self-verification", "error", err)
		return err
	}

	resp, err = h.request(ctx, StateAwaitingVerification, MethodAuthByAddress, addressProof{
		Address:   h.signer.Address(),
		Signature: signature,
	})
	if err != nil {
		return err
	}
	identity, authErr := identityFrom(resp)
	if authErr != nil {
		return h.fail(authErr)
	}

	h.transition(StateAuthenticated, &identity, false)
	h.logger.Info("authenticated", "user_id", identity.ID, "user_name", identity.Name)
	if h.observer != nil {
		h.observer.OnLoggedIn(identity)
	}
	return nil
}

func (h *Handshake) request(ctx context.Context, next State, method string, params any) (*models.Response, error) {
	call, err := h.caller.Call(ctx, method, params)
	if err != nil {
		h.transition(StateFailed, nil, true)
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	h.transition(next, nil, false)
	resp, err := call.Wait(ctx)
	if err != nil {
		h.transition(StateFailed, nil, true)
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return resp, nil
}

func (h *Handshake) fail(authErr *rpckit.AuthError) error {
	h.setFailure(authErr)
	h.transition(StateFailed, nil, true)
	h.logger.Warn("auth rejected", "stage", authErr.Stage, "error", authErr.Error())
	if h.observer != nil {
		h.observer.OnAuthFailed(authErr)
	}
	return authErr
}

// setFailure runs before the transition to Failed so readers never see
// Failed without its cause.
func (h *Handshake) setFailure(err error) {
	h.mu.Lock()
	h.failure = err
	h.mu.Unlock()
}

func (h *Handshake) transition(to State, identity *models.Identity, clearIdentity bool) {
	h.mu.Lock()
	from := h.state
	h.state = to
	if identity != nil {
		h.identity = identity
	} else if clearIdentity {
		h.identity = nil
	}
	h.mu.Unlock()
	if from != to && h.observer != nil {
		h.observer.OnStateChange(from, to)
	}
}

func challengeFrom(resp *models.Response) (string, *rpckit.AuthError) {
	if resp.HasError() {
		return "", &rpckit.AuthError{Stage: rpckit.StageChallenge, Payload: resp.Error, Err: resp.Err()}
	}
	var challenge string
	if err := resp.DecodeResult(&challenge); err != nil || challenge == "" {
		return "", &rpckit.AuthError{Stage: rpckit.StageChallenge, Payload: resp.Result, Err: errors.New("challenge is not a non-empty string")}
	}
	return challenge, nil
}

func identityFrom(resp *models.Response) (models.Identity, *rpckit.AuthError) {
	if resp.HasError() {
		return models.Identity{}, &rpckit.AuthError{Stage: rpckit.StageProof, Payload: resp.Error, Err: resp.Err()}
	}
	if !resp.HasResult() {
		return models.Identity{}, &rpckit.AuthError{Stage: rpckit.StageProof, Err: errors.New("verification returned no result")}
	}
	var identity models.Identity
	if err := json.Unmarshal(resp.Result, &identity); err != nil {
		return models.Identity{}, &rpckit.AuthError{Stage: rpckit.StageProof, Payload: resp.Result, Err: fmt.Errorf("decode identity: %w", err)}
	}
	return identity, nil
}
