package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/exchange/internal/config"
)

// exchangectl config.toml key mapping onto node settings.
type fileConfig struct {
	Name               string            `toml:"name"`
	Mode               string            `toml:"mode"`
	Addr               string            `toml:"addr"`
	AdminAddr          string            `toml:"admin_addr"`
	CorsOrigins        []string          `toml:"cors_origins"`
	SessionTimeout     string            `toml:"session_timeout"`
	MaxPayloadBytes    int64             `toml:"max_payload_bytes"`
	RateLimitPerSecond int64             `toml:"rate_limit_per_second"`
	SubmitRequiresAuth bool              `toml:"submit_requires_auth"`
	HeartbeatInterval  string            `toml:"heartbeat_interval"`
	Transport          string            `toml:"transport"`
	JobStore           string            `toml:"job_store"`
	JobDir             string            `toml:"job_dir"`
	SecurityMode       string            `toml:"security_mode"`
	TLS                fileTLS           `toml:"tls"`
	Users              map[string]string `toml:"users"`
	Client             fileClient        `toml:"client"`
}

type fileTLS struct {
	Enabled    bool   `toml:"enabled"`
	Mutual     bool   `toml:"mutual"`
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	CAFile     string `toml:"ca_file"`
	ServerName string `toml:"server_name"`
}

type fileClient struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Job      string `toml:"job"`
}

// loadNodeConfig overlays the keys path defines onto config.Default.
func loadNodeConfig(path string) (config.NodeConfig, error) {
	cfg := config.Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.NodeConfig{}, fmt.Errorf("load exchange config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.NodeConfig{}, fmt.Errorf("load exchange config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("mode") {
		cfg.Mode = strings.ToLower(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("session_timeout") {
		cfg.SessionTimeout = strings.TrimSpace(raw.SessionTimeout)
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes <= 0 || raw.MaxPayloadBytes > int64(^uint32(0)) {
			return config.NodeConfig{}, fmt.Errorf("load exchange config: max_payload_bytes out of range: %d", raw.MaxPayloadBytes)
		}
		cfg.MaxPayloadBytes = uint32(raw.MaxPayloadBytes)
	}
	if meta.IsDefined("rate_limit_per_second") {
		if raw.RateLimitPerSecond < 0 {
			return config.NodeConfig{}, fmt.Errorf("load exchange config: rate_limit_per_second must not be negative")
		}
		cfg.RateLimitPerSecond = uint64(raw.RateLimitPerSecond)
	}
	if meta.IsDefined("submit_requires_auth") {
		cfg.SubmitRequiresAuth = raw.SubmitRequiresAuth
	}
	if meta.IsDefined("heartbeat_interval") {
		cfg.HeartbeatInterval = strings.TrimSpace(raw.HeartbeatInterval)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("job_store") {
		cfg.JobStore = strings.ToLower(strings.TrimSpace(raw.JobStore))
	}
	if meta.IsDefined("job_dir") {
		cfg.JobDir = strings.TrimSpace(raw.JobDir)
	}
	if meta.IsDefined("security_mode") {
		cfg.SecurityMode = strings.TrimSpace(raw.SecurityMode)
	}
	if meta.IsDefined("tls", "enabled") {
		cfg.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "mutual") {
		cfg.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("tls", "cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("users") {
		cfg.Users = raw.Users
	}
	if meta.IsDefined("client", "username") {
		cfg.Client.Username = raw.Client.Username
	}
	if meta.IsDefined("client", "password") {
		cfg.Client.Password = raw.Client.Password
	}
	if meta.IsDefined("client", "job") {
		cfg.Client.Job = raw.Client.Job
	}

	if err := config.ValidateNodeConfig(cfg); err != nil {
		return config.NodeConfig{}, fmt.Errorf("load exchange config: %w", err)
	}
	return cfg, nil
}
