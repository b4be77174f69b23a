package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills zero values with the documented defaults so callers
// can rely on a fully populated Config.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Buffer.Capacity == 0 {
		cfg.Buffer.Capacity = 50
	}
	if cfg.Buffer.GetTimeout == 0 {
		cfg.Buffer.GetTimeout = Duration(time.Second)
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = 10
	}
	if cfg.Reconnect.Delay == 0 {
		cfg.Reconnect.Delay = Duration(5 * time.Second)
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = Duration(10 * time.Second)
	}
	if cfg.Health.IdleWarn == 0 {
		cfg.Health.IdleWarn = Duration(30 * time.Second)
	}
	if cfg.Health.IdleMax == 0 {
		cfg.Health.IdleMax = Duration(60 * time.Second)
	}
	if cfg.Health.DropWarn == 0 {
		cfg.Health.DropWarn = 0.10
	}
	if cfg.Health.DropMax == 0 {
		cfg.Health.DropMax = 0.20
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Endpoints
	errs = append(errs, validateEndpoint("source", cfg.Source)...)
	errs = append(errs, validateEndpoint("destination", cfg.Destination)...)
	if cfg.Destination.Platform == PlatformFFmpeg {
		errs = append(errs, fmt.Errorf("destination.platform %q is capture-only and cannot be a destination", PlatformFFmpeg))
	}

	// Buffer
	if cfg.Buffer.Capacity < 0 {
		errs = append(errs, fmt.Errorf("buffer.capacity %d must not be negative", cfg.Buffer.Capacity))
	}
	if cfg.Buffer.GetTimeout < 0 {
		errs = append(errs, fmt.Errorf("buffer.get_timeout must not be negative"))
	}

	// Reconnect
	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts %d must not be negative", cfg.Reconnect.MaxAttempts))
	}
	if cfg.Reconnect.Delay < 0 {
		errs = append(errs, fmt.Errorf("reconnect.delay must not be negative"))
	}

	// Health thresholds
	if cfg.Health.DropWarn < 0 || cfg.Health.DropWarn > 1 {
		errs = append(errs, fmt.Errorf("health.drop_warn %.2f is out of range [0, 1]", cfg.Health.DropWarn))
	}
	if cfg.Health.DropMax < 0 || cfg.Health.DropMax > 1 {
		errs = append(errs, fmt.Errorf("health.drop_max %.2f is out of range [0, 1]", cfg.Health.DropMax))
	}
	if cfg.Health.DropWarn > 0 && cfg.Health.DropMax > 0 && cfg.Health.DropWarn > cfg.Health.DropMax {
		errs = append(errs, fmt.Errorf("health.drop_warn %.2f must not exceed health.drop_max %.2f", cfg.Health.DropWarn, cfg.Health.DropMax))
	}
	if cfg.Health.IdleWarn > 0 && cfg.Health.IdleMax > 0 && cfg.Health.IdleWarn > cfg.Health.IdleMax {
		errs = append(errs, fmt.Errorf("health.idle_warn %s must not exceed health.idle_max %s", cfg.Health.IdleWarn.Std(), cfg.Health.IdleMax.Std()))
	}

	// Buffer sized below a second of 20ms frames is almost certainly a typo.
	if cfg.Buffer.Capacity > 0 && cfg.Buffer.Capacity < 10 {
		slog.Warn("buffer.capacity is very small; expect aggressive frame dropping",
			"capacity", cfg.Buffer.Capacity,
		)
	}

	return errors.Join(errs...)
}

// validateEndpoint checks one endpoint block, returning its failures with the
// given prefix.
func validateEndpoint(prefix string, ep EndpointConfig) []error {
	var errs []error
	if ep.Platform == "" {
		errs = append(errs, fmt.Errorf("%s.platform is required", prefix))
		return errs
	}
	if !ep.Platform.IsValid() {
		errs = append(errs, fmt.Errorf("%s.platform %q is invalid; valid values: discord, ffmpeg", prefix, ep.Platform))
		return errs
	}
	if ep.Platform == PlatformDiscord {
		if ep.Endpoint == "" {
			errs = append(errs, fmt.Errorf("%s.endpoint is required for platform discord", prefix))
		}
		if ep.Token == "" {
			errs = append(errs, fmt.Errorf("%s.token is required for platform discord", prefix))
		}
		if ep.GuildID == "" {
			errs = append(errs, fmt.Errorf("%s.guild_id is required for platform discord", prefix))
		}
	}
	// ffmpeg: an empty endpoint means the OS default capture device.
	return errs
}
