package audio

import "time"

// Frame represents a single chunk of PCM audio moving through the relay.
// Frames are opaque to the relay core: they are captured from a source
// connection, queued, and handed to a sink connection without inspection.
// Ownership transfers with the frame: a frame handed to the buffer or a
// sink must not be reused by the producer.
type Frame struct {
	// Data is interleaved little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (48000 for voice-chat platforms).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's PCM payload.
// Returns zero when the frame carries no format information.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 || len(f.Data) == 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Silence returns a frame of zeroed PCM covering d at the given format.
// The delivery loop sends silence frames as keepalives so the destination
// stream does not end while the source stalls.
func Silence(sampleRate, channels int, d time.Duration) Frame {
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return Frame{
		Data:       make([]byte, samples*channels*2),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}
