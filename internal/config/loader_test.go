package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/audiorelay/internal/config"
)

// validYAML is a minimal configuration that passes validation.
const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
source:
  platform: ffmpeg
destination:
  platform: discord
  endpoint: "123456789"
  token: "bot-token"
  guild_id: "987654321"
buffer:
  capacity: 50
  get_timeout: 1s
reconnect:
  max_attempts: 10
  delay: 5s
health:
  interval: 10s
  idle_warn: 30s
  idle_max: 60s
  drop_warn: 0.10
  drop_max: 0.20
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Source.Platform != config.PlatformFFmpeg {
		t.Errorf("source.platform = %q, want ffmpeg", cfg.Source.Platform)
	}
	if cfg.Destination.Endpoint != "123456789" {
		t.Errorf("destination.endpoint = %q", cfg.Destination.Endpoint)
	}
	if cfg.Buffer.Capacity != 50 {
		t.Errorf("buffer.capacity = %d, want 50", cfg.Buffer.Capacity)
	}
	if cfg.Buffer.GetTimeout.Std() != time.Second {
		t.Errorf("buffer.get_timeout = %s, want 1s", cfg.Buffer.GetTimeout.Std())
	}
	if cfg.Reconnect.Delay.Std() != 5*time.Second {
		t.Errorf("reconnect.delay = %s, want 5s", cfg.Reconnect.Delay.Std())
	}
	if cfg.Health.IdleMax.Std() != time.Minute {
		t.Errorf("health.idle_max = %s, want 1m", cfg.Health.IdleMax.Std())
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := validYAML + "\nsurprise: true\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "delay: 5s", `delay: "five seconds"`, 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unparseable duration, got nil")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error should mention invalid duration, got: %v", err)
	}
}

func TestValidate_MissingPlatforms(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: info\n"))
	if err == nil {
		t.Fatal("expected error for missing endpoint platforms, got nil")
	}
	if !strings.Contains(err.Error(), "source.platform is required") {
		t.Errorf("error should mention source.platform, got: %v", err)
	}
	if !strings.Contains(err.Error(), "destination.platform is required") {
		t.Errorf("error should mention destination.platform, got: %v", err)
	}
}

func TestValidate_DiscordRequiresCredentials(t *testing.T) {
	t.Parallel()
	yaml := `
source:
  platform: discord
destination:
  platform: discord
  endpoint: "1"
  token: "t"
  guild_id: "g"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for discord source without credentials, got nil")
	}
	for _, want := range []string{"source.endpoint", "source.token", "source.guild_id"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_FFmpegDestinationRejected(t *testing.T) {
	t.Parallel()
	yaml := `
source:
  platform: ffmpeg
destination:
  platform: ffmpeg
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for ffmpeg destination, got nil")
	}
	if !strings.Contains(err.Error(), "capture-only") {
		t.Errorf("error should mention capture-only, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "log_level: info", "log_level: verbose", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_DropThresholdRanges(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "drop_warn: 0.10", "drop_warn: 1.5", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for drop_warn out of range, got nil")
	}
	if !strings.Contains(err.Error(), "drop_warn") {
		t.Errorf("error should mention drop_warn, got: %v", err)
	}
}

func TestValidate_WarnBeyondMax(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "drop_warn: 0.10", "drop_warn: 0.30", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error when drop_warn exceeds drop_max, got nil")
	}

	yaml = strings.Replace(validYAML, "idle_warn: 30s", "idle_warn: 90s", 1)
	_, err = config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error when idle_warn exceeds idle_max, got nil")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
source:
  platform: telepathy
destination:
  platform: discord
buffer:
  capacity: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation error, got nil")
	}
	for _, want := range []string{"log_level", "source.platform", "destination.endpoint", "buffer.capacity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Destination.GuildID != "987654321" {
		t.Errorf("destination.guild_id = %q", cfg.Destination.GuildID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	minimal := `
source:
  platform: ffmpeg
destination:
  platform: discord
  endpoint: "123456789"
  token: "bot-token"
  guild_id: "987654321"
`
	cfg, err := config.LoadFromReader(strings.NewReader(minimal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("default listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("default log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Buffer.Capacity != 50 {
		t.Errorf("default buffer.capacity = %d, want 50", cfg.Buffer.Capacity)
	}
	if cfg.Buffer.GetTimeout.Std() != time.Second {
		t.Errorf("default buffer.get_timeout = %s, want 1s", cfg.Buffer.GetTimeout.Std())
	}
	if cfg.Reconnect.MaxAttempts != 10 {
		t.Errorf("default reconnect.max_attempts = %d, want 10", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Reconnect.Delay.Std() != 5*time.Second {
		t.Errorf("default reconnect.delay = %s, want 5s", cfg.Reconnect.Delay.Std())
	}
	if cfg.Health.IdleMax.Std() != 60*time.Second {
		t.Errorf("default health.idle_max = %s, want 60s", cfg.Health.IdleMax.Std())
	}
	if cfg.Health.DropMax != 0.20 {
		t.Errorf("default health.drop_max = %v, want 0.20", cfg.Health.DropMax)
	}
}
