// Package platform adapts a discordgo session to the narrow interfaces the
// rest of the bot consumes: sending and editing messages, reactions, guild
// lookups and role mutation. Every REST failure is mapped onto the shared
// error taxonomy (403 ErrForbidden, 404 ErrNotFound, otherwise ErrTransientIO).
package platform

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
)

// Messenger sends, edits and removes messages.
type Messenger interface {
	SendText(ctx context.Context, channelID, text string) (interactive.MessageRef, error)
	SendEmbed(ctx context.Context, channelID string, d interactive.Display) (interactive.MessageRef, error)
	EditEmbed(ctx context.Context, ref interactive.MessageRef, d interactive.Display) error
	EditText(ctx context.Context, ref interactive.MessageRef, text string) error
	// DeleteMessage removes the message after delay. A message that is
	// already gone is not an error.
	DeleteMessage(ctx context.Context, ref interactive.MessageRef, delay time.Duration) error
	// PurgeChannel deletes up to limit recent messages (0 means all) except keep.
	PurgeChannel(ctx context.Context, channelID string, limit int, keep ...string) (int, error)
}

// Reactor manages reactions on a message.
type Reactor interface {
	AddReaction(ctx context.Context, ref interactive.MessageRef, emoji string) error
	RemoveAllReactions(ctx context.Context, ref interactive.MessageRef) error
	RemoveUserReaction(ctx context.Context, ref interactive.MessageRef, emoji, userID string) error
	CurrentReactors(ctx context.Context, ref interactive.MessageRef) ([]string, error)
}

// Directory answers lookups about users and guilds.
type Directory interface {
	User(ctx context.Context, userID string) (*discordgo.User, error)
	Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	GuildMembers(ctx context.Context, guildID string, limit int) ([]*discordgo.Member, error)
	GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
	MemberRoleNames(ctx context.Context, guildID, userID string) ([]string, error)
}

// RoleMutator changes member roles and nicknames.
type RoleMutator interface {
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
	RevokeRole(ctx context.Context, guildID, userID, roleID string) error
	// SetNickname changes a member's nickname; empty clears it. The bot's
	// own ID addresses the bot.
	SetNickname(ctx context.Context, guildID, userID, nick string) error
}

// Platform is everything the bot needs from Discord.
type Platform interface {
	Messenger
	Reactor
	Directory
	RoleMutator
	SelfID() string
	Latency() time.Duration
}

var _ interactive.Platform = (Platform)(nil)

// Embed converts a Display into a discordgo embed.
func Embed(d interactive.Display) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       d.Title,
		Description: d.Body,
		Color:       d.Color,
	}
	if d.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: d.Footer}
	}
	if d.Author != nil {
		e.Author = &discordgo.MessageEmbedAuthor{Name: d.Author.Name, IconURL: d.Author.IconURL}
	}
	if d.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: d.ImageURL}
	}
	return e
}
