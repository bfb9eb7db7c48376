package config

import (
	"strings"

	"github.com/danmuck/exchange/internal/auth"
	"github.com/danmuck/exchange/internal/jobstore"
	"github.com/danmuck/exchange/internal/server"
	"github.com/danmuck/exchange/internal/transport"
)

// TransportConfig overlays the file's transport settings on the defaults.
func (c NodeConfig) TransportConfig() transport.Config {
	tc := transport.DefaultConfig()
	if c.Transport != "" {
		tc.Kind = transport.NormalizeKind(transport.Kind(c.Transport))
	}
	if c.SecurityMode != "" {
		tc.SecurityMode = transport.SecurityMode(strings.TrimSpace(c.SecurityMode))
	}
	if c.MaxPayloadBytes > 0 {
		tc.MaxPayloadBytes = c.MaxPayloadBytes
	}
	tc.TLS = transport.TLSConfig{
		Enabled:    c.TLS.Enabled,
		Mutual:     c.TLS.Mutual,
		CertFile:   strings.TrimSpace(c.TLS.CertFile),
		KeyFile:    strings.TrimSpace(c.TLS.KeyFile),
		CAFile:     strings.TrimSpace(c.TLS.CAFile),
		ServerName: strings.TrimSpace(c.TLS.ServerName),
	}
	return tc
}

func (c NodeConfig) ServiceConfig() (server.ServiceConfig, error) {
	timeout, err := c.Timeout()
	if err != nil {
		return server.ServiceConfig{}, err
	}
	heartbeat, err := c.Heartbeat()
	if err != nil {
		return server.ServiceConfig{}, err
	}
	return server.ServiceConfig{
		NodeID:             c.Name,
		ListenAddr:         c.Addr,
		AdminListenAddr:    c.AdminAddr,
		CORSOrigins:        c.CorsOrigins,
		SessionTimeout:     timeout,
		RateLimitPerSecond: c.RateLimitPerSecond,
		Transport:          c.TransportConfig(),
		HeartbeatInterval:  heartbeat,
	}, nil
}

func (c NodeConfig) ClientConfig() server.ClientConfig {
	return server.ClientConfig{
		NodeID:    c.Name,
		Addr:      c.Addr,
		Transport: c.TransportConfig(),
	}
}

// Verifier returns the credential table from [users]. An empty table denies
// everyone.
func (c NodeConfig) Verifier() auth.Verifier {
	if len(c.Users) == 0 {
		return auth.DenyAll{}
	}
	creds := make(auth.StaticCredentials, len(c.Users))
	for user, password := range c.Users {
		creds[user] = password
	}
	return creds
}

// Jobs opens the store named by job_store.
func (c NodeConfig) Jobs() (jobstore.Store, error) {
	return jobstore.Open(c.JobStore, c.JobDir)
}
