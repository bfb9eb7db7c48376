package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case ModeListener:
		return listenerTemplate, nil
	case ModeClient:
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const listenerTemplate = `name = "exchange.local"
mode = "listener"
addr = ":9400"
admin_addr = "127.0.0.1:9401"
cors_origins = ["http://localhost:3000"]
session_timeout = "10s"
max_payload_bytes = 8388608
rate_limit_per_second = 100
submit_requires_auth = true
heartbeat_interval = "30s"
transport = "tcp"
security_mode = "development"
job_store = "fs"
job_dir = "local/jobs"

[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""

[users]
admin = "temp-admin-password"
`

const clientTemplate = `name = "exchange.client"
mode = "client"
addr = "localhost:9400"
session_timeout = "10s"
max_payload_bytes = 8388608
transport = "tcp"
security_mode = "development"

[tls]
enabled = false
mutual = false
ca_file = ""

[client]
username = "admin"
password = "temp-admin-password"
job = "hello"
`
