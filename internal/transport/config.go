package transport

import (
	"strings"
	"time"
)

// Kind selects the wire carrier for encoded packets.
type Kind string

const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "ws"
)

// SecurityMode controls how strictly TLS settings are enforced.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// BackoffConfig defines redial backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
	// MaxAttempts bounds dialing; zero retries forever.
	MaxAttempts int
}

// Config defines connection timeouts, limits and security.
type Config struct {
	Kind             Kind
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// ReadTimeout bounds how long a connection may stay silent; zero disables it.
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxPayloadBytes uint32
	// WSPath is the HTTP path of the websocket endpoint.
	WSPath       string
	SecurityMode SecurityMode
	TLS          TLSConfig
	Backoff      BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Kind:             KindTCP,
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      0,
		WriteTimeout:     15 * time.Second,
		MaxPayloadBytes:  8 * 1024 * 1024,
		WSPath:           "/ws",
		SecurityMode:     SecurityModeDevelopment,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// NormalizeKind maps empty and mixed-case values onto a Kind.
func NormalizeKind(kind Kind) Kind {
	k := Kind(strings.ToLower(strings.TrimSpace(string(kind))))
	if k == "" {
		return KindTCP
	}
	return k
}
