package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RGBKey/yolodice-api/internal/transport"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

type Config struct {
	Host     string
	Port     int
	Endpoint string
	Network  string

	Credential CredentialConfig

	CallTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int
	AutoReconnect bool
	DialTimeout   time.Duration
	// InsecureSkipVerify disables server certificate checks. Test servers only.
	InsecureSkipVerify bool
	Retry              transport.RetryConfig
	Breaker            transport.BreakerConfig

	LogLevel      string
	MetricsListen string
}

type CredentialConfig struct {
	WIF                string
	KeyFile            string
	KeyPassphrase      string
	Mnemonic           string
	MnemonicPassphrase string
}

// FileConfig is the on-disk shape. Pointer fields distinguish "unset" from
// the zero value.
type FileConfig struct {
	Connection FileConnectionConfig `yaml:"connection"`
	Credential FileCredentialConfig `yaml:"credential"`
	Log        FileLogConfig        `yaml:"log"`
	Metrics    FileMetricsConfig    `yaml:"metrics"`
}

type FileConnectionConfig struct {
	Host               string                  `yaml:"host"`
	Port               int                     `yaml:"port"`
	Endpoint           string                  `yaml:"endpoint"`
	Network            string                  `yaml:"network"`
	CallTimeout        time.Duration           `yaml:"callTimeout"`
	WriteTimeout       time.Duration           `yaml:"writeTimeout"`
	MaxFrameBytes      int                     `yaml:"maxFrameBytes"`
	AutoReconnect      *bool                   `yaml:"autoReconnect"`
	DialTimeout        time.Duration           `yaml:"dialTimeout"`
	InsecureSkipVerify *bool                   `yaml:"insecureSkipVerify"`
	Retry              transport.RetryConfig   `yaml:"retry"`
	Breaker            transport.BreakerConfig `yaml:"breaker"`
}

type FileCredentialConfig struct {
	WIF                string `yaml:"wif"`
	KeyFile            string `yaml:"keyFile"`
	KeyPassphrase      string `yaml:"keyPassphrase"`
	Mnemonic           string `yaml:"mnemonic"`
	MnemonicPassphrase string `yaml:"mnemonicPassphrase"`
}

type FileLogConfig struct {
	Level string `yaml:"level"`
}

type FileMetricsConfig struct {
	Listen string `yaml:"listen"`
}

func DefaultConfig() Config {
	return Config{
		Host:          models.DefaultHost,
		Port:          models.DefaultPort,
		Network:       "mainnet",
		CallTimeout:   30 * time.Second,
		WriteTimeout:  10 * time.Second,
		MaxFrameBytes: 1 << 20,
		DialTimeout:   15 * time.Second,
		Retry: transport.RetryConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			MaxElapsedTime:  5 * time.Minute,
		},
		Breaker: transport.BreakerConfig{
			MaxFailures: 5,
			OpenPeriod:  30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads configPath, or the first default candidate that exists, merges
// it over DefaultConfig and applies environment overrides. A missing
// default candidate is not an error; a missing explicit path is.
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()

	candidates := []string{configPath}
	if configPath == "" {
		candidates = []string{"yolodice.yaml", "configs/yolodice.yaml"}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath == "" && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Merge(dst *Config, src FileConfig) {
	conn := src.Connection
	if conn.Host != "" {
		dst.Host = conn.Host
	}
	if conn.Port != 0 {
		dst.Port = conn.Port
	}
	if conn.Endpoint != "" {
		dst.Endpoint = conn.Endpoint
	}
	if conn.Network != "" {
		dst.Network = conn.Network
	}
	if conn.CallTimeout != 0 {
		dst.CallTimeout = conn.CallTimeout
	}
	if conn.WriteTimeout != 0 {
		dst.WriteTimeout = conn.WriteTimeout
	}
	if conn.MaxFrameBytes != 0 {
		dst.MaxFrameBytes = conn.MaxFrameBytes
	}
	if conn.AutoReconnect != nil {
		dst.AutoReconnect = *conn.AutoReconnect
	}
	if conn.DialTimeout != 0 {
		dst.DialTimeout = conn.DialTimeout
	}
	if conn.InsecureSkipVerify != nil {
		dst.InsecureSkipVerify = *conn.InsecureSkipVerify
	}
	if conn.Retry.InitialInterval != 0 {
		dst.Retry.InitialInterval = conn.Retry.InitialInterval
	}
	if conn.Retry.MaxInterval != 0 {
		dst.Retry.MaxInterval = conn.Retry.MaxInterval
	}
	if conn.Retry.MaxElapsedTime != 0 {
		dst.Retry.MaxElapsedTime = conn.Retry.MaxElapsedTime
	}
	if conn.Retry.MaxRetries != 0 {
		dst.Retry.MaxRetries = conn.Retry.MaxRetries
	}
	if conn.Breaker.MaxFailures != 0 {
		dst.Breaker.MaxFailures = conn.Breaker.MaxFailures
	}
	if conn.Breaker.OpenPeriod != 0 {
		dst.Breaker.OpenPeriod = conn.Breaker.OpenPeriod
	}

	cred := src.Credential
	if cred.WIF != "" {
		dst.Credential.WIF = cred.WIF
	}
	if cred.KeyFile != "" {
		dst.Credential.KeyFile = cred.KeyFile
	}
	if cred.KeyPassphrase != "" {
		dst.Credential.KeyPassphrase = cred.KeyPassphrase
	}
	if cred.Mnemonic != "" {
		dst.Credential.Mnemonic = cred.Mnemonic
	}
	if cred.MnemonicPassphrase != "" {
		dst.Credential.MnemonicPassphrase = cred.MnemonicPassphrase
	}

	if src.Log.Level != "" {
		dst.LogLevel = src.Log.Level
	}
	if src.Metrics.Listen != "" {
		dst.MetricsListen = src.Metrics.Listen
	}
}

func ApplyEnvOverrides(cfg *Config) error {
	setString := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	setString("YOLODICE_HOST", &cfg.Host)
	setString("YOLODICE_ENDPOINT", &cfg.Endpoint)
	setString("YOLODICE_NETWORK", &cfg.Network)
	setString("YOLODICE_WIF", &cfg.Credential.WIF)
	setString("YOLODICE_KEY_FILE", &cfg.Credential.KeyFile)
	setString("YOLODICE_KEY_PASSPHRASE", &cfg.Credential.KeyPassphrase)
	setString("YOLODICE_MNEMONIC", &cfg.Credential.Mnemonic)
	setString("YOLODICE_LOG_LEVEL", &cfg.LogLevel)
	setString("YOLODICE_METRICS_LISTEN", &cfg.MetricsListen)

	if raw := strings.TrimSpace(os.Getenv("YOLODICE_PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("YOLODICE_PORT: %w", err)
		}
		cfg.Port = port
	}
	if raw := strings.TrimSpace(os.Getenv("YOLODICE_AUTO_RECONNECT")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("YOLODICE_AUTO_RECONNECT: %w", err)
		}
		cfg.AutoReconnect = v
	}
	return nil
}

// Normalize trims values and rejects combinations that cannot work.
func (c *Config) Normalize() error {
	c.Host = strings.TrimSpace(c.Host)
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Network = strings.ToLower(strings.TrimSpace(c.Network))
	if c.Network == "" {
		c.Network = "mainnet"
	}
	if c.CallTimeout < 0 {
		return errors.New("callTimeout must not be negative")
	}
	if c.MaxFrameBytes < 0 {
		return errors.New("maxFrameBytes must not be negative")
	}
	if _, err := c.Address(); err != nil {
		return err
	}
	return nil
}

// Address is the host:port the session dials.
func (c Config) Address() (string, error) {
	return transport.ResolveEndpoint(c.Endpoint, c.Host, c.Port)
}
