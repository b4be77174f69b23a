// Package ffmpeg captures system audio by running an ffmpeg process and
// reading raw 16-bit PCM from its stdout. It is a capture-only platform:
// connections produce frames but cannot play audio back.
//
// Capture backends per operating system:
//   - Linux: PulseAudio ("pactl list sources short" lists sources)
//   - macOS: AVFoundation ("ffmpeg -f avfoundation -list_devices true -i ''")
//   - Windows: DirectShow ("ffmpeg -list_devices true -f dshow -i dummy")
package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/MrWong99/audiorelay/pkg/audio"
)

const (
	captureSampleRate = 48000
	captureChannels   = 2
	captureFrameMs    = 20
	// captureFrameBytes is one 20 ms frame of interleaved s16le PCM:
	// 960 samples/channel × 2 channels × 2 bytes/sample.
	captureFrameBytes = captureSampleRate * captureFrameMs / 1000 * captureChannels * 2
)

// Platform spawns ffmpeg capture processes.
type Platform struct {
	// Binary is the ffmpeg executable to run. Defaults to "ffmpeg".
	Binary string
}

var _ audio.Platform = (*Platform)(nil)

// New creates a capture Platform using the ffmpeg binary on PATH.
func New() *Platform {
	return &Platform{Binary: "ffmpeg"}
}

// Connect starts capturing from the audio device named by endpointID. An
// empty endpointID selects the system default device; on Linux the default
// is the first PulseAudio monitor source, so system playback is captured
// rather than the microphone.
func (p *Platform) Connect(ctx context.Context, endpointID string) (audio.Connection, error) {
	device := endpointID
	if device == "" && runtime.GOOS == "linux" {
		device = detectPulseMonitorSource(ctx)
	}
	args := captureArgs(runtime.GOOS, device)
	if args == nil {
		return nil, fmt.Errorf("ffmpeg: unsupported operating system %q", runtime.GOOS)
	}

	bin := p.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.Command(bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start capture process: %w", err)
	}
	slog.Info("audio capture started", "binary", bin, "args", strings.Join(args, " "))

	return newConnection(stdout, func() error { return stopProcess(cmd) }), nil
}

// captureArgs builds the ffmpeg argument list for the given operating
// system and device. Output is raw s16le 48kHz stereo PCM on stdout.
// Returns nil for unsupported systems.
func captureArgs(goos, device string) []string {
	var input []string
	switch goos {
	case "linux":
		if device == "" {
			device = "default"
		}
		input = []string{"-f", "pulse", "-i", device}
	case "darwin":
		if device == "" {
			device = ":0"
		}
		input = []string{"-f", "avfoundation", "-i", device}
	case "windows":
		if device == "" {
			device = "audio=Stereo Mix"
		}
		input = []string{"-f", "dshow", "-i", device}
	default:
		return nil
	}
	return append(input,
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"pipe:1",
	)
}

// ListDevices returns the available capture devices for the current
// operating system, as reported by the OS tooling. The output format is
// tool-specific and meant for operators picking an endpoint value.
func (p *Platform) ListDevices(ctx context.Context) (string, error) {
	bin := p.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	name, args := listDevicesCommand(runtime.GOOS, bin)
	if name == "" {
		return "", fmt.Errorf("ffmpeg: unsupported operating system %q", runtime.GOOS)
	}
	// ffmpeg prints device listings to stderr and exits non-zero, so the
	// combined output matters more than the exit status.
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if len(out) > 0 {
		return string(out), nil
	}
	if err != nil {
		return "", fmt.Errorf("ffmpeg: list devices: %w", err)
	}
	return string(out), nil
}

// listDevicesCommand returns the device-listing command per operating
// system. Returns an empty name for unsupported systems.
func listDevicesCommand(goos, bin string) (string, []string) {
	switch goos {
	case "linux":
		return "pactl", []string{"list", "sources", "short"}
	case "darwin":
		return bin, []string{"-f", "avfoundation", "-list_devices", "true", "-i", ""}
	case "windows":
		return bin, []string{"-list_devices", "true", "-f", "dshow", "-i", "dummy"}
	default:
		return "", nil
	}
}

// detectPulseMonitorSource asks pactl for the first monitor source, which
// carries system playback audio. Falls back to "default" when pactl is
// unavailable or no monitor exists.
func detectPulseMonitorSource(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "pactl", "list", "sources", "short").Output()
	if err != nil {
		slog.Warn("could not detect pulse monitor source", "error", err)
		return "default"
	}
	if src := monitorSourceFrom(string(out)); src != "" {
		slog.Info("detected pulse monitor source", "source", src)
		return src
	}
	return "default"
}

// monitorSourceFrom parses "pactl list sources short" output and returns
// the name of the first monitor source, or an empty string.
func monitorSourceFrom(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(strings.ToLower(line), "monitor") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 1 {
			return fields[1]
		}
	}
	return ""
}

// stopProcess terminates an ffmpeg process, escalating to a hard kill if
// it does not exit within five seconds.
func stopProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("ffmpeg: kill capture process: %w", err)
		}
		<-done
		return nil
	}
}
