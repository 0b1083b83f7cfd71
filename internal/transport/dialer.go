package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/RGBKey/yolodice-api/internal/rpckit"
)

const (
	defaultDialTimeout       = 15 * time.Second
	defaultBreakerFailures   = 5
	defaultBreakerOpenPeriod = 30 * time.Second
	defaultRetryInitial      = 500 * time.Millisecond
	defaultRetryMax          = 30 * time.Second
)

// DialFunc opens the raw link. The default performs a TLS handshake.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	MaxElapsedTime  time.Duration `yaml:"maxElapsedTime"`
	MaxRetries      int           `yaml:"maxRetries"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"maxFailures"`
	OpenPeriod  time.Duration `yaml:"openPeriod"`
}

type DialerConfig struct {
	Address     string
	DialTimeout time.Duration
	TLS         *tls.Config
	Retry       RetryConfig
	Breaker     BreakerConfig
	// Dial replaces the TLS dial, e.g. with an in-memory pipe in tests.
	Dial DialFunc
}

// Dialer opens links to one address behind a circuit breaker.
type Dialer struct {
	addr    string
	retry   RetryConfig
	dial    DialFunc
	breaker *gobreaker.CircuitBreaker[net.Conn]
	logger  *slog.Logger
}

func NewDialer(cfg DialerConfig, logger *slog.Logger) (*Dialer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: missing address", ErrInvalidEndpoint)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = defaultBreakerFailures
	}
	if cfg.Breaker.OpenPeriod <= 0 {
		cfg.Breaker.OpenPeriod = defaultBreakerOpenPeriod
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = defaultRetryInitial
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = defaultRetryMax
	}
	dial := cfg.Dial
	if dial == nil {
		dial = tlsDial(cfg.TLS, cfg.DialTimeout)
	}

	maxFailures := cfg.Breaker.MaxFailures
	breaker := gobreaker.NewCircuitBreaker[net.Conn](gobreaker.Settings{
		Name:        "dial:" + cfg.Address,
		MaxRequests: 1,
		Timeout:     cfg.Breaker.OpenPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("dial circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Dialer{
		addr:    cfg.Address,
		retry:   cfg.Retry,
		dial:    dial,
		breaker: breaker,
		logger:  logger,
	}, nil
}

func (d *Dialer) Address() string { return d.addr }

func (d *Dialer) BreakerState() gobreaker.State { return d.breaker.State() }

// Dial makes one attempt. Failures are returned as *rpckit.TransportError.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	conn, err := d.breaker.Execute(func() (net.Conn, error) {
		return d.dial(ctx, d.addr)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &rpckit.TransportError{Op: "dial", Err: fmt.Errorf("%s circuit open: %w", d.addr, err)}
		}
		var transportErr *rpckit.TransportError
		if errors.As(err, &transportErr) {
			return nil, err
		}
		return nil, &rpckit.TransportError{Op: "dial", Err: err}
	}
	return conn, nil
}

// DialWithRetry repeats Dial on an exponential schedule until it succeeds,
// the retry budget is spent or ctx ends.
func (d *Dialer) DialWithRetry(ctx context.Context) (net.Conn, error) {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = d.retry.InitialInterval
	schedule.MaxInterval = d.retry.MaxInterval
	schedule.MaxElapsedTime = d.retry.MaxElapsedTime

	var policy backoff.BackOff = schedule
	if d.retry.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(d.retry.MaxRetries))
	}
	policy = backoff.WithContext(policy, ctx)

	var conn net.Conn
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		c, err := d.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		conn = c
		return nil
	}, policy, func(err error, next time.Duration) {
		d.logger.Warn("dial failed, retrying", "addr", d.addr, "attempt", attempt, "retry_in", next, "error", err)
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func tlsDial(cfg *tls.Config, timeout time.Duration) DialFunc {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg != nil {
			tlsCfg = cfg.Clone()
		}
		if tlsCfg.MinVersion == 0 {
			tlsCfg.MinVersion = tls.VersionTLS12
		}
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = ServerName(addr)
		}
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second},
			Config:    tlsCfg,
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &rpckit.TransportError{Op: "dial", Err: err}
		}
		return conn, nil
	}
}
