package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/exchange/internal/jobstore"
	"github.com/danmuck/exchange/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

const (
	ModeListener = "listener"
	ModeClient   = "client"
)

var ErrInvalidConfig = errors.New("config: invalid")

// NodeConfig is the on-disk description of one exchange node.
type NodeConfig struct {
	Name               string            `toml:"name"`
	Mode               string            `toml:"mode"`
	Addr               string            `toml:"addr"`
	AdminAddr          string            `toml:"admin_addr"`
	CorsOrigins        []string          `toml:"cors_origins"`
	SessionTimeout     string            `toml:"session_timeout"`
	MaxPayloadBytes    uint32            `toml:"max_payload_bytes"`
	RateLimitPerSecond uint64            `toml:"rate_limit_per_second"`
	SubmitRequiresAuth bool              `toml:"submit_requires_auth"`
	HeartbeatInterval  string            `toml:"heartbeat_interval"`
	Transport          string            `toml:"transport"`
	JobStore           string            `toml:"job_store"`
	JobDir             string            `toml:"job_dir"`
	SecurityMode       string            `toml:"security_mode"`
	TLS                TLSConfig         `toml:"tls"`
	Users              map[string]string `toml:"users"`
	Client             ClientConfig      `toml:"client"`
}

type TLSConfig struct {
	Enabled    bool   `toml:"enabled"`
	Mutual     bool   `toml:"mutual"`
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	CAFile     string `toml:"ca_file"`
	ServerName string `toml:"server_name"`
}

// ClientConfig is what a client node presents once connected.
type ClientConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Job      string `toml:"job"`
}

// Default returns a listener config with every field populated.
func Default() NodeConfig {
	return NodeConfig{
		Name:               "exchange.local",
		Mode:               ModeListener,
		Addr:               ":9400",
		AdminAddr:          "127.0.0.1:9401",
		SessionTimeout:     "10s",
		MaxPayloadBytes:    8 * 1024 * 1024,
		RateLimitPerSecond: 100,
		SubmitRequiresAuth: true,
		Transport:          string(transport.KindTCP),
		JobStore:           jobstore.KindMemory,
		SecurityMode:       string(transport.SecurityModeDevelopment),
	}
}

// LoadNodeConfig reads path over the defaults and validates the result.
func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := Default()
	if err := loadToml(path, &cfg); err != nil {
		return NodeConfig{}, err
	}
	if err := ValidateNodeConfig(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateNodeConfig(cfg NodeConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("%w: missing addr", ErrInvalidConfig)
	}
	switch cfg.Mode {
	case ModeListener, ModeClient:
	default:
		return fmt.Errorf("%w: mode %q (expected %s or %s)", ErrInvalidConfig, cfg.Mode, ModeListener, ModeClient)
	}
	if _, err := cfg.Timeout(); err != nil {
		return err
	}
	if _, err := cfg.Heartbeat(); err != nil {
		return err
	}
	if cfg.MaxPayloadBytes == 0 {
		return fmt.Errorf("%w: max_payload_bytes must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.JobStore)) {
	case "", jobstore.KindMemory, jobstore.KindFS:
	default:
		return fmt.Errorf("%w: job_store %q (expected %s or %s)", ErrInvalidConfig, cfg.JobStore, jobstore.KindMemory, jobstore.KindFS)
	}
	tc := cfg.TransportConfig()
	if cfg.Mode == ModeListener {
		return tc.ValidateServer()
	}
	if strings.HasPrefix(strings.TrimSpace(cfg.Addr), ":") {
		return fmt.Errorf("%w: client addr needs a host", ErrInvalidConfig)
	}
	return tc.ValidateClient()
}

// Timeout parses session_timeout.
func (c NodeConfig) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(c.SessionTimeout))
	if err != nil {
		return 0, fmt.Errorf("%w: session_timeout: %v", ErrInvalidConfig, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: session_timeout must be positive", ErrInvalidConfig)
	}
	return d, nil
}

// Heartbeat parses heartbeat_interval. Empty disables heartbeats.
func (c NodeConfig) Heartbeat() (time.Duration, error) {
	raw := strings.TrimSpace(c.HeartbeatInterval)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: heartbeat_interval: %v", ErrInvalidConfig, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: heartbeat_interval must not be negative", ErrInvalidConfig)
	}
	return d, nil
}
