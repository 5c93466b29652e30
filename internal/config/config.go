package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/Sathwik-git/linux-playground/pkg/models"
)

// Settings holds all server configuration, loaded from PLAYGROUND_*
// environment variables.
type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	AuthToken  string `envconfig:"AUTH_TOKEN" default:""`

	// Provider (Docker) settings. The instance profile is fixed: one
	// image, one exposed terminal port, one security posture.
	DockerHost    string `envconfig:"DOCKER_HOST" default:""`
	InstanceImage string `envconfig:"INSTANCE_IMAGE" default:"tsl0922/ttyd:latest"`
	TerminalPort  string `envconfig:"TERMINAL_PORT" default:"7681"`
	AdvertiseHost string `envconfig:"ADVERTISE_HOST" default:"127.0.0.1"`

	// Lifecycle timing. Leases are not renewable.
	LeaseDuration      time.Duration `envconfig:"LEASE_DURATION" default:"60m"`
	ProvisionTimeout   time.Duration `envconfig:"PROVISION_TIMEOUT" default:"300s"`
	PollInterval       time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	ScanInterval       time.Duration `envconfig:"SCAN_INTERVAL" default:"30s"`
	RetentionWindow    time.Duration `envconfig:"RETENTION_WINDOW" default:"10m"`
	TerminateRetryBase time.Duration `envconfig:"TERMINATE_RETRY_BASE" default:"30s"`
	TerminateRetryMax  int           `envconfig:"TERMINATE_RETRY_MAX" default:"5"`

	// Per-caller limits.
	MaxSessionsPerOwner int64 `envconfig:"MAX_SESSIONS_PER_OWNER" default:"10"`
	RequestsPerHour     int   `envconfig:"REQUESTS_PER_HOUR" default:"100"`
	RequestBurst        int   `envconfig:"REQUEST_BURST" default:"10"`
}

// Load reads settings from the environment.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("PLAYGROUND", &s); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &s, nil
}

// ValidateProvider fails fast when the provider profile is incomplete.
// The provisioner calls this before any provider call so a partial
// configuration never launches anything.
func (s *Settings) ValidateProvider() error {
	if s.InstanceImage == "" {
		return fmt.Errorf("%w: instance image not set", models.ErrConfiguration)
	}
	if s.TerminalPort == "" {
		return fmt.Errorf("%w: terminal port not set", models.ErrConfiguration)
	}
	if s.AdvertiseHost == "" {
		return fmt.Errorf("%w: advertise host not set", models.ErrConfiguration)
	}
	if s.LeaseDuration <= 0 || s.ProvisionTimeout <= 0 {
		return fmt.Errorf("%w: non-positive lifecycle timing", models.ErrConfiguration)
	}
	return nil
}
