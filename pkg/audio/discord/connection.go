package discord

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/audiorelay/pkg/audio"
)

// frameChanBuffer bounds the inbound frame channel. Consumers that fall
// behind block the receive loop rather than dropping frames here, so
// backpressure is handled by the relay's buffer, not the adapter.
const frameChanBuffer = 64

// Connection is an active voice channel connection. Inbound Opus packets
// from all speakers are decoded into a single mixed stream of PCM frames,
// and outbound PCM is encoded and sent to the channel.
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	frames chan audio.Frame
	done   chan struct{}

	endMu        sync.Mutex
	endCallbacks []func(audio.EndReason)
	endOnce      sync.Once

	closeOnce     sync.Once
	removeHandler func()

	// disconnectVC wraps vc.Disconnect so tests can substitute a fake.
	disconnectVC func() error

	sendMu   sync.Mutex
	enc      *opusEncoder
	pending  []byte
	speaking bool
}

var _ audio.Connection = (*Connection)(nil)

func newConnection(session *discordgo.Session, guildID string, vc *discordgo.VoiceConnection) (*Connection, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	c := &Connection{
		vc:      vc,
		session: session,
		guildID: guildID,
		frames:  make(chan audio.Frame, frameChanBuffer),
		done:    make(chan struct{}),
		enc:     enc,
		disconnectVC: func() error {
			return vc.Disconnect()
		},
	}
	if session != nil {
		c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	}
	go c.recvLoop()
	return c, nil
}

// Frames returns the channel of decoded PCM frames. The channel is closed
// when the connection ends for any reason.
func (c *Connection) Frames() <-chan audio.Frame {
	return c.frames
}

// Send encodes PCM data and transmits it to the voice channel. Input is
// accumulated until complete 20 ms Opus frames can be encoded, so callers
// may pass frames of any size.
func (c *Connection) Send(frame audio.Frame) error {
	select {
	case <-c.done:
		return fmt.Errorf("discord: send on closed connection")
	default:
	}
	if frame.SampleRate != opusSampleRate || frame.Channels != opusChannels {
		return fmt.Errorf("discord: unsupported frame format %dHz/%dch, need %dHz/%dch",
			frame.SampleRate, frame.Channels, opusSampleRate, opusChannels)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.speaking {
		if err := c.vc.Speaking(true); err != nil {
			slog.Warn("discord: speaking notification error", "error", err)
		}
		c.speaking = true
	}

	c.pending = append(c.pending, frame.Data...)
	for len(c.pending) >= opusFrameBytes {
		opus, err := c.enc.encode(c.pending[:opusFrameBytes])
		if err != nil {
			return err
		}
		c.pending = c.pending[opusFrameBytes:]
		select {
		case c.vc.OpusSend <- opus:
		case <-c.done:
			return fmt.Errorf("discord: send on closed connection")
		}
	}
	return nil
}

// OnStreamEnd registers a callback invoked when the voice stream ends
// without Disconnect being called, for example when the inbound stream
// closes or the bot is removed from the channel.
func (c *Connection) OnStreamEnd(fn func(audio.EndReason)) {
	c.endMu.Lock()
	defer c.endMu.Unlock()
	c.endCallbacks = append(c.endCallbacks, fn)
}

// Disconnect leaves the voice channel and releases all resources. It is
// safe to call multiple times and from concurrent goroutines.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		if c.removeHandler != nil {
			c.removeHandler()
		}
		close(c.done)
		err = c.disconnectVC()
	})
	return err
}

// recvLoop decodes inbound Opus packets into PCM frames. Each SSRC keeps
// its own decoder so decoder state stays consistent per speaker, but all
// decoded audio flows into the single frames channel.
func (c *Connection) recvLoop() {
	defer close(c.frames)
	decoders := make(map[uint32]*opusDecoder)
	start := time.Now()

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				c.fireStreamEnd(audio.StreamEnded)
				return
			}
			dec := decoders[pkt.SSRC]
			if dec == nil {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("could not create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}
			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Debug("dropping undecodable opus packet", "ssrc", pkt.SSRC, "error", err)
				continue
			}
			frame := audio.Frame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Since(start),
			}
			select {
			case c.frames <- frame:
			case <-c.done:
				return
			}
		}
	}
}

// handleVoiceStateUpdate fires a stream end event when this bot is removed
// from the voice channel by someone else.
func (c *Connection) handleVoiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if s.State == nil || s.State.User == nil {
		return
	}
	if vsu.UserID != s.State.User.ID || vsu.GuildID != c.guildID {
		return
	}
	if vsu.ChannelID != "" {
		return
	}
	select {
	case <-c.done:
		// Disconnect was requested by us, not an external removal.
		return
	default:
	}
	c.fireStreamEnd(audio.Kicked)
}

func (c *Connection) fireStreamEnd(reason audio.EndReason) {
	c.endOnce.Do(func() {
		c.endMu.Lock()
		callbacks := make([]func(audio.EndReason), len(c.endCallbacks))
		copy(callbacks, c.endCallbacks)
		c.endMu.Unlock()
		for _, fn := range callbacks {
			fn(reason)
		}
	})
}
