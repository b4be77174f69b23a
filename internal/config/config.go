// Package config provides the configuration schema, loader, and platform
// registry for the audio relay.
//
// Configuration is read once at startup and is immutable afterwards; nothing
// in the relay re-reads it at runtime.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the relay.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// PlatformName selects an audio platform implementation.
type PlatformName string

const (
	// PlatformDiscord joins a Discord voice channel via the gateway.
	PlatformDiscord PlatformName = "discord"

	// PlatformFFmpeg captures the local OS audio device via an ffmpeg
	// subprocess. Capture-only: valid for the source endpoint.
	PlatformFFmpeg PlatformName = "ffmpeg"
)

// IsValid reports whether p is a recognised platform name.
func (p PlatformName) IsValid() bool {
	return p == PlatformDiscord || p == PlatformFFmpeg
}

// Duration wraps time.Duration with YAML decoding from strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for the relay.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Source      EndpointConfig  `yaml:"source"`
	Destination EndpointConfig  `yaml:"destination"`
	Buffer      BufferConfig    `yaml:"buffer"`
	Reconnect   ReconnectConfig `yaml:"reconnect"`
	Health      HealthConfig    `yaml:"health"`
}

// ServerConfig holds network and logging settings for the ops HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the ops server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// EndpointConfig describes one side of the relay: which platform to use and
// how to address the endpoint on it.
type EndpointConfig struct {
	// Platform selects the audio platform implementation.
	Platform PlatformName `yaml:"platform"`

	// Endpoint identifies the target on the platform: a Discord voice
	// channel ID, or an ffmpeg capture device name (empty picks the OS
	// default device).
	Endpoint string `yaml:"endpoint"`

	// Token is the bot authentication token for platforms that need one.
	Token string `yaml:"token"`

	// GuildID is the Discord guild holding the voice channel.
	GuildID string `yaml:"guild_id"`

	// Options holds platform-specific settings not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// BufferConfig sizes the relay frame buffer.
type BufferConfig struct {
	// Capacity is the maximum number of buffered frames. Zero uses the
	// built-in default.
	Capacity int `yaml:"capacity"`

	// GetTimeout bounds each delivery wait before a silence keepalive is
	// emitted. Zero uses the built-in default.
	GetTimeout Duration `yaml:"get_timeout"`
}

// ReconnectConfig controls endpoint reconnection behaviour.
type ReconnectConfig struct {
	// MaxAttempts bounds reconnection attempts per disruption. Zero uses
	// the built-in default.
	MaxAttempts int `yaml:"max_attempts"`

	// Delay is the fixed wait between attempts. Zero uses the built-in
	// default.
	Delay Duration `yaml:"delay"`
}

// HealthConfig tunes the periodic buffer health monitor. Zero fields use the
// monitor's built-in defaults.
type HealthConfig struct {
	// Interval between health samples.
	Interval Duration `yaml:"interval"`

	// IdleWarn is the idle time above which a warning is logged.
	IdleWarn Duration `yaml:"idle_warn"`

	// IdleMax is the idle time above which the relay reports unhealthy.
	IdleMax Duration `yaml:"idle_max"`

	// DropWarn is the drop rate above which a warning is logged.
	DropWarn float64 `yaml:"drop_warn"`

	// DropMax is the drop rate above which the relay reports unhealthy.
	DropMax float64 `yaml:"drop_max"`
}
