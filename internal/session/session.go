package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/RGBKey/yolodice-api/internal/auth"
	"github.com/RGBKey/yolodice-api/internal/dispatch"
	"github.com/RGBKey/yolodice-api/internal/framing"
	"github.com/RGBKey/yolodice-api/internal/metrics"
	"github.com/RGBKey/yolodice-api/internal/platform/ratelimiter"
	"github.com/RGBKey/yolodice-api/internal/registry"
	"github.com/RGBKey/yolodice-api/internal/rpckit"
	"github.com/RGBKey/yolodice-api/internal/transport"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

const (
	DefaultCallTimeout  = 30 * time.Second
	defaultEventBacklog = 256
)

var (
	ErrNoSigner        = errors.New("session requires a signer")
	ErrNoDialer        = errors.New("session has no dialer configured")
	ErrAlreadyAttached = errors.New("session already has a live link")
)

type Options struct {
	// Dialer is used by Connect and by reconnects. Sessions fed through
	// Attach only may leave it nil.
	Dialer *transport.Dialer
	// DefaultTimeout applies to Call. Zero means DefaultCallTimeout; a
	// negative value disables the deadline.
	DefaultTimeout time.Duration
	MaxFrameBytes  int
	WriteTimeout   time.Duration
	// ManualAuth skips the handshake that otherwise starts on every new link.
	ManualAuth    bool
	AutoReconnect bool
	EventBacklog  int
	Observer      Observer
	Metrics       *metrics.Collector
	Logger        *slog.Logger
	// Anomaly log lines per second and burst, per anomaly kind.
	AnomalyLogRate  float64
	AnomalyLogBurst int
}

// Session is one authenticated client of the remote service. It owns at
// most one link at a time; every link gets a fresh request registry and
// decoder.
type Session struct {
	id         string
	opts       Options
	logger     *slog.Logger
	handshake  *auth.Handshake
	notes      *dispatch.Notifications
	events     *EventHub
	anomalyLog *ratelimiter.MapLimiter
	metrics    *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// sendMu keeps id allocation and enqueueing in one order.
	sendMu sync.Mutex

	mu     sync.Mutex
	link   *link
	closed bool
	cause  error
}

type link struct {
	s          *Session
	conn       *transport.Connection
	reg        *registry.Registry
	decoder    *framing.Decoder
	dispatcher *dispatch.Dispatcher
}

func New(signer auth.Signer, opts Options) (*Session, error) {
	if signer == nil {
		return nil, ErrNoSigner
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = DefaultCallTimeout
	}
	if opts.EventBacklog <= 0 {
		opts.EventBacklog = defaultEventBacklog
	}
	if opts.AnomalyLogRate <= 0 {
		opts.AnomalyLogRate = 1
	}
	if opts.AnomalyLogBurst <= 0 {
		opts.AnomalyLogBurst = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := ulid.Make().String()
	logger = logger.With("session_id", id)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		opts:       opts,
		logger:     logger,
		notes:      dispatch.NewNotifications(logger),
		events:     NewEventHub(opts.EventBacklog),
		anomalyLog: ratelimiter.New(opts.AnomalyLogRate, opts.AnomalyLogBurst, time.Hour),
		metrics:    opts.Metrics,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.handshake = auth.New(s, signer, authObserver{s: s}, logger.With("component", "auth"))
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Connect dials the configured endpoint once and attaches the new link.
func (s *Session) Connect(ctx context.Context) error {
	if s.opts.Dialer == nil {
		return ErrNoDialer
	}
	conn, err := s.opts.Dialer.Dial(ctx)
	if err != nil {
		s.publish(Event{Kind: EventError, Err: err})
		return err
	}
	if err := s.Attach(conn); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// Attach makes conn the session's link and, unless ManualAuth is set,
// starts the handshake on it. It returns the link's close cause when conn
// fails before the link is established.
func (s *Session) Attach(conn net.Conn) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.closedErr()
	}
	if s.link != nil {
		s.mu.Unlock()
		return ErrAlreadyAttached
	}
	l := &link{
		s:       s,
		decoder: framing.NewDecoder(s.opts.MaxFrameBytes),
		reg:     registry.New(registry.Options{OnComplete: s.onCallComplete}),
	}
	l.dispatcher = dispatch.New(l.reg, s.notes, s.onAnomaly)
	s.link = l
	l.conn = transport.Open(conn, l, transport.Options{
		WriteTimeout: s.opts.WriteTimeout,
		Logger:       s.logger,
	})
	s.mu.Unlock()

	s.handshake.Reset()
	// The reader may already have hit an error and detached the link.
	if !s.isCurrent(l) {
		if err := l.conn.Err(); err != nil {
			return err
		}
		return rpckit.ErrNotConnected
	}
	s.logger.Info("link established", "remote_addr", l.conn.RemoteAddr())
	s.publish(Event{Kind: EventConnected})
	if !s.opts.ManualAuth {
		go func() { _ = s.Authenticate(s.ctx) }()
	}
	return nil
}

// Call issues method on the current link and returns without waiting. The
// handle resolves to the full response envelope, including a remote error,
// or fails if the link ends first.
func (s *Session) Call(ctx context.Context, method string, params any) (*registry.Call, error) {
	return s.CallWithTimeout(ctx, method, params, s.opts.DefaultTimeout)
}

func (s *Session) CallWithTimeout(ctx context.Context, method string, params any, timeout time.Duration) (*registry.Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	if timeout < 0 {
		timeout = 0
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	l, err := s.currentLink()
	if err != nil {
		return nil, err
	}
	call, err := l.reg.Register(method, timeout)
	if err != nil {
		return nil, err
	}
	s.metrics.CallIssued(method)
	frame, err := framing.Encode(models.Request{ID: call.ID, Method: method, Params: raw})
	if err != nil {
		l.reg.Fail(call.ID, err)
		return nil, err
	}
	if err := l.conn.Send(frame); err != nil {
		l.reg.Fail(call.ID, err)
		return nil, err
	}
	return call, nil
}

// Do issues method and waits for its envelope.
func (s *Session) Do(ctx context.Context, method string, params any) (*models.Response, error) {
	call, err := s.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// CallAuthenticated is Call for methods that need a logged-in identity. It
// fails with rpckit.ErrNotAuthenticated without sending anything otherwise.
func (s *Session) CallAuthenticated(ctx context.Context, method string, params any) (*registry.Call, error) {
	if _, err := s.handshake.RequireIdentity(); err != nil {
		return nil, err
	}
	return s.Call(ctx, method, params)
}

func (s *Session) DoAuthenticated(ctx context.Context, method string, params any) (*models.Response, error) {
	call, err := s.CallAuthenticated(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Authenticate runs the handshake on the current link. A signing failure
// closes the session.
func (s *Session) Authenticate(ctx context.Context) error {
	err := s.handshake.Run(ctx)
	if err == nil {
		return nil
	}
	var authErr *rpckit.AuthError
	var transportErr *rpckit.TransportError
	switch {
	case rpckit.IsFatal(err):
		s.logger.Error("closing session after signing failure", "error", err)
		s.publish(Event{Kind: EventError, Err: err})
		s.shutdown(err)
	case errors.As(err, &authErr),
		errors.As(err, &transportErr),
		errors.Is(err, rpckit.ErrHandshakeInProgress),
		errors.Is(err, rpckit.ErrNotConnected),
		errors.Is(err, rpckit.ErrClosed),
		errors.Is(err, context.Canceled):
	default:
		s.publish(Event{Kind: EventError, Err: err})
	}
	return err
}

// WaitForLogin blocks until the session is authenticated, authentication
// is rejected, the session closes or ctx ends. An outcome reached before
// the call is reported at once.
func (s *Session) WaitForLogin(ctx context.Context) (models.Identity, error) {
	for {
		_, ch, cancel := s.events.Subscribe(math.MaxInt64)
		if id, settled, err := s.loginOutcome(); settled {
			cancel()
			return id, err
		}
		id, dropped, err := s.awaitLogin(ctx, ch)
		cancel()
		if !dropped {
			return id, err
		}
		// Fell behind the hub; the state check on resubscribe covers
		// anything missed.
	}
}

// loginOutcome reports a login result that is already decided.
func (s *Session) loginOutcome() (models.Identity, bool, error) {
	if id, ok := s.handshake.Identity(); ok {
		return id, true, nil
	}
	if s.isClosed() {
		return models.Identity{}, true, s.closedErr()
	}
	if err := s.handshake.Failure(); err != nil {
		return models.Identity{}, true, err
	}
	return models.Identity{}, false, nil
}

func (s *Session) awaitLogin(ctx context.Context, ch <-chan Event) (models.Identity, bool, error) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return models.Identity{}, true, nil
			}
			switch ev.Kind {
			case EventLoggedIn:
				return ev.Identity, false, nil
			case EventAuthFailed:
				return models.Identity{}, false, ev.AuthError
			case EventError:
				if rpckit.IsFatal(ev.Err) {
					return models.Identity{}, false, ev.Err
				}
			case EventDisconnected:
				if !s.opts.AutoReconnect || s.isClosed() {
					return models.Identity{}, false, ev.Err
				}
			}
		case <-s.done:
			return models.Identity{}, false, s.closedErr()
		case <-ctx.Done():
			return models.Identity{}, false, ctx.Err()
		}
	}
}

func (s *Session) AuthState() auth.State { return s.handshake.State() }

func (s *Session) Identity() (models.Identity, bool) { return s.handshake.Identity() }

// OnUpdateUserData sets the handler for balance pushes. It runs on the
// reader goroutine and must not wait on calls.
func (s *Session) OnUpdateUserData(fn func(models.UserData)) {
	s.notes.OnUpdateUserData(func(params json.RawMessage) {
		var data models.UserData
		if err := json.Unmarshal(params, &data); err != nil {
			s.logger.Warn("undecodable update_user_data", "error", err)
			return
		}
		fn(data)
	})
}

func (s *Session) Subscribe(fromSeq int64) ([]Event, <-chan Event, func()) {
	return s.events.Subscribe(fromSeq)
}

// Pending is the number of calls awaiting a response on the current link.
func (s *Session) Pending() int {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return 0
	}
	return l.reg.Len()
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil
}

// Close ends the link and rejects every pending call. The process is not
// affected.
func (s *Session) Close() error {
	s.shutdown(nil)
	return nil
}

func (s *Session) Done() <-chan struct{} { return s.done }

// Err is the fatal error that closed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) shutdown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cause = cause
	l := s.link
	s.link = nil
	s.mu.Unlock()

	s.cancel()
	if l != nil {
		_ = l.conn.Close()
		n := l.reg.CloseAll(s.closedErr())
		s.logger.Info("session closed", "pending_rejected", n)
	}
	s.handshake.Reset()
	close(s.done)
}

func (s *Session) currentLink() (*link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, s.closedErrLocked()
	}
	if s.link == nil {
		return nil, rpckit.ErrNotConnected
	}
	return s.link, nil
}

func (s *Session) isCurrent(l *link) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link == l
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedErrLocked()
}

func (s *Session) closedErrLocked() error {
	if s.cause != nil {
		return fmt.Errorf("%w: %w", rpckit.ErrClosed, s.cause)
	}
	return rpckit.ErrClosed
}

// detach runs when a link's reader has stopped.
func (s *Session) detach(l *link, err error) {
	s.mu.Lock()
	current := s.link == l
	if current {
		s.link = nil
	}
	closed := s.closed
	s.mu.Unlock()

	cause := err
	if cause == nil {
		cause = rpckit.ErrClosed
	}
	if n := l.reg.CloseAll(cause); n > 0 {
		s.logger.Info("rejected pending calls", "count", n, "error", cause)
	}
	if current {
		s.handshake.Reset()
	}
	s.publish(Event{Kind: EventDisconnected, Err: err})

	var transportErr *rpckit.TransportError
	if !errors.As(err, &transportErr) {
		return
	}
	s.logger.Warn("link lost", "error", err)
	s.publish(Event{Kind: EventError, Err: err})
	if s.opts.AutoReconnect && s.opts.Dialer != nil && current && !closed {
		go s.reconnect()
	}
}

func (s *Session) reconnect() {
	conn, err := s.opts.Dialer.DialWithRetry(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Error("reconnect failed", "error", err)
			s.publish(Event{Kind: EventError, Err: err})
		}
		return
	}
	if err := s.Attach(conn); err != nil {
		_ = conn.Close()
		return
	}
	s.metrics.Reconnected()
}

func (s *Session) onCallComplete(call *registry.Call, err error) {
	if s.metrics == nil {
		return
	}
	outcome := metrics.OutcomeResult
	switch {
	case err == nil:
		if resp, _ := call.Wait(context.Background()); resp.HasError() {
			outcome = metrics.OutcomeRemoteError
		}
	case errors.Is(err, rpckit.ErrTimeout):
		outcome = metrics.OutcomeTimeout
	case errors.Is(err, rpckit.ErrClosed):
		outcome = metrics.OutcomeClosed
	default:
		outcome = metrics.OutcomeFailed
	}
	s.metrics.CallCompleted(outcome, time.Since(call.CreatedAt))
}

func (s *Session) onAnomaly(perr *rpckit.ProtocolError) {
	kind := perr.Kind()
	s.metrics.Anomaly(kind)
	if ok, suppressed := s.anomalyLog.Take(kind, time.Now()); ok {
		s.logger.Warn("protocol anomaly",
			"kind", kind,
			"error", perr.Err,
			"frame", string(perr.Frame),
			"suppressed", suppressed,
		)
	}
	s.publish(Event{Kind: EventError, Err: perr})
}

func (s *Session) publish(ev Event) {
	ev.SessionID = s.id
	ev = s.events.Publish(ev)
	if s.opts.Observer != nil {
		s.opts.Observer.OnEvent(ev)
	}
}

func (l *link) OnData(chunk []byte) {
	for _, frame := range l.decoder.Feed(chunk) {
		if frame.Err != nil {
			var perr *rpckit.ProtocolError
			if !errors.As(frame.Err, &perr) {
				perr = rpckit.NewProtocolError(frame.Raw, nil, frame.Err)
			}
			l.s.onAnomaly(perr)
			continue
		}
		l.dispatcher.Dispatch(frame.Message)
	}
}

func (l *link) OnClosed(err error) {
	l.s.detach(l, err)
}

type authObserver struct {
	s *Session
}

func (o authObserver) OnStateChange(from, to auth.State) {
	o.s.metrics.AuthState(int(to))
	o.s.logger.Debug("auth state change", "from", from.String(), "to", to.String())
}

func (o authObserver) OnSign(msg []byte) {
	o.s.logger.Debug("signing challenge", "challenge", string(msg))
	o.s.publish(Event{Kind: EventSign, Message: append([]byte(nil), msg...)})
}

func (o authObserver) OnLoggedIn(identity models.Identity) {
	o.s.publish(Event{Kind: EventLoggedIn, Identity: identity})
}

func (o authObserver) OnAuthFailed(err *rpckit.AuthError) {
	o.s.publish(Event{Kind: EventAuthFailed, AuthError: err})
}

func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}
