// Package discord connects the relay to Discord voice channels. Inbound
// audio from all speakers in a channel is decoded into one mixed PCM
// stream, and outbound PCM frames are encoded to Opus and played into
// the channel.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/audiorelay/pkg/audio"
)

// Platform joins Discord voice channels within a single guild.
type Platform struct {
	session *discordgo.Session
	guildID string
}

var _ audio.Platform = (*Platform)(nil)

// New creates a Platform for the given guild using an already opened
// Discord session.
func New(session *discordgo.Session, guildID string) (*Platform, error) {
	if session == nil {
		return nil, fmt.Errorf("discord: session is required")
	}
	if guildID == "" {
		return nil, fmt.Errorf("discord: guild ID is required")
	}
	return &Platform{session: session, guildID: guildID}, nil
}

// Connect joins the voice channel identified by endpointID and returns a
// Connection carrying its mixed audio stream. The bot joins unmuted and
// undeafened so it can both hear and speak.
func (p *Platform) Connect(ctx context.Context, endpointID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", endpointID, err)
	}
	vc, err := p.session.ChannelVoiceJoin(p.guildID, endpointID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", endpointID, err)
	}
	conn, err := newConnection(p.session, p.guildID, vc)
	if err != nil {
		_ = vc.Disconnect()
		return nil, fmt.Errorf("discord: create connection: %w", err)
	}
	return conn, nil
}
