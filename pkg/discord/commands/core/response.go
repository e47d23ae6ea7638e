package core

import (
	"context"
	"time"

	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/log"
	"github.com/small-frappuccino/kokobot/pkg/theme"
)

// ResponseType selects the embed color of a standard reply.
type ResponseType int

const (
	ResponseSuccess ResponseType = iota
	ResponseError
	ResponseWarning
	ResponseInfo
	ResponseLoading
)

func (t ResponseType) color() int {
	switch t {
	case ResponseSuccess:
		return theme.Success()
	case ResponseError:
		return theme.Error()
	case ResponseWarning:
		return theme.Warning()
	case ResponseLoading:
		return theme.Loading()
	default:
		return theme.Info()
	}
}

// Responder sends replies into the invoking channel.
type Responder struct {
	messenger platform.Messenger
	ttl       time.Duration
}

// NewResponder creates a responder; ttl is how long ephemeral replies live.
func NewResponder(m platform.Messenger, ttl time.Duration) *Responder {
	if ttl <= 0 {
		ttl = noticeTTL
	}
	return &Responder{messenger: m, ttl: ttl}
}

// Text sends a plain message.
func (r *Responder) Text(ctx context.Context, channelID, text string) (interactive.MessageRef, error) {
	return r.messenger.SendText(ctx, channelID, text)
}

// Embed sends an embed built from d.
func (r *Responder) Embed(ctx context.Context, channelID string, d interactive.Display) (interactive.MessageRef, error) {
	return r.messenger.SendEmbed(ctx, channelID, d)
}

// Styled sends a titled embed colored by kind.
func (r *Responder) Styled(ctx context.Context, channelID string, kind ResponseType, title, body string) (interactive.MessageRef, error) {
	return r.messenger.SendEmbed(ctx, channelID, interactive.Display{Title: title, Body: body, Color: kind.color()})
}

// Ephemeral sends text and deletes it, along with the invoking message,
// after the notice lifetime.
func (r *Responder) Ephemeral(ctx context.Context, invoking interactive.MessageRef, text string) error {
	ref, err := r.messenger.SendText(ctx, invoking.ChannelID, text)
	if err != nil {
		return err
	}
	r.Expire(ctx, ref, invoking)
	return nil
}

// Expire schedules deletion of refs after the notice lifetime.
func (r *Responder) Expire(ctx context.Context, refs ...interactive.MessageRef) {
	for _, ref := range refs {
		if ref.MessageID == "" {
			continue
		}
		if err := r.messenger.DeleteMessage(context.WithoutCancel(ctx), ref, r.ttl); err != nil {
			log.DiscordLogger().Debug("Failed to schedule notice deletion", "messageID", ref.MessageID, "err", err)
		}
	}
}
