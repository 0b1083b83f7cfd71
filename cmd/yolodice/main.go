// yolodice connects to the YOLOdice API, logs in with the configured key and
// optionally issues one call, printing the response envelope as JSON.
//
// Without --method it stays connected and logs session events until
// interrupted.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/RGBKey/yolodice-api/internal/api"
	"github.com/RGBKey/yolodice-api/internal/config"
	"github.com/RGBKey/yolodice-api/internal/identity"
	"github.com/RGBKey/yolodice-api/internal/metrics"
	"github.com/RGBKey/yolodice-api/internal/platform/privacylog"
	"github.com/RGBKey/yolodice-api/internal/session"
	"github.com/RGBKey/yolodice-api/internal/transport"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type options struct {
	configPath    string
	endpoint      string
	method        string
	params        string
	authenticated bool
	balance       bool
	loginTimeout  time.Duration
	logLevel      string
	metricsListen string
	showVersion   bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("yolodice", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to yolodice.yaml (optional)")
	flagSet.StringVar(&opts.endpoint, "endpoint", "", "server as host:port or multiaddr, overrides config")
	flagSet.StringVarP(&opts.method, "method", "m", "", "remote method to call once logged in")
	flagSet.StringVarP(&opts.params, "params", "p", "", "JSON params for --method")
	flagSet.BoolVar(&opts.authenticated, "auth", false, "refuse to send --method unless logged in")
	flagSet.BoolVar(&opts.balance, "balance", false, "print the account balance and exit")
	flagSet.DurationVar(&opts.loginTimeout, "login-timeout", 30*time.Second, "how long to wait for login")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error; overrides config")
	flagSet.StringVar(&opts.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Printf("yolodice version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.endpoint != "" {
		cfg.Endpoint = opts.endpoint
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.metricsListen != "" {
		cfg.MetricsListen = opts.metricsListen
	}
	addr, err := cfg.Address()
	if err != nil {
		return err
	}
	logger := privacylog.NewJSONLogger(os.Stderr, privacylog.ParseLevel(cfg.LogLevel))

	cred, err := cfg.LoadCredential()
	if err != nil {
		return err
	}
	defer cred.Zero()
	signer, err := identity.NewMessageSigner(cred)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.MetricsListen != "" {
		srv := serveMetrics(cfg.MetricsListen, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	dialer, err := transport.NewDialer(transport.DialerConfig{
		Address:     addr,
		DialTimeout: cfg.DialTimeout,
		TLS:         &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec // opt-in for test servers
		Retry:       cfg.Retry,
		Breaker:     cfg.Breaker,
	}, logger)
	if err != nil {
		return err
	}

	sess, err := session.New(signer, session.Options{
		Dialer:         dialer,
		DefaultTimeout: cfg.CallTimeout,
		MaxFrameBytes:  cfg.MaxFrameBytes,
		WriteTimeout:   cfg.WriteTimeout,
		AutoReconnect:  cfg.AutoReconnect,
		Metrics:        metrics.New(reg),
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	sess.OnUpdateUserData(func(data models.UserData) {
		logger.Info("balance updated", "user_id", data.ID, "balance", models.FormatBTC(data.Balance))
	})

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	loginCtx, cancel := context.WithTimeout(ctx, opts.loginTimeout)
	who, err := sess.WaitForLogin(loginCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	logger.Info("logged in", "user_id", who.ID, "name", who.Name, "session_id", sess.ID())

	client := api.New(sess)
	switch {
	case opts.balance:
		balance, err := client.GetBalance(ctx)
		if err != nil {
			return err
		}
		fmt.Println(models.FormatBTC(balance))
		return nil
	case opts.method != "":
		var params any
		if opts.params != "" {
			if !json.Valid([]byte(opts.params)) {
				return errors.New("--params is not valid JSON")
			}
			params = json.RawMessage(opts.params)
		}
		resp, err := client.Invoke(ctx, opts.method, params, opts.authenticated)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	return follow(ctx, sess, logger)
}

// follow logs session events until ctx ends or the session closes.
func follow(ctx context.Context, sess *session.Session, logger *slog.Logger) error {
	backlog, events, cancel := sess.Subscribe(0)
	defer cancel()
	for _, ev := range backlog {
		logEvent(logger, ev)
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return errors.New("event stream dropped")
			}
			logEvent(logger, ev)
		case <-sess.Done():
			return sess.Err()
		case <-ctx.Done():
			return nil
		}
	}
}

func logEvent(logger *slog.Logger, ev session.Event) {
	attrs := []any{"seq", ev.Seq, "kind", ev.Kind.String()}
	if ev.Err != nil {
		attrs = append(attrs, "error", ev.Err.Error())
	}
	logger.Info("session event", attrs...)
}

func serveMetrics(listen string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "listen", listen, "error", err.Error())
		}
	}()
	return srv
}
