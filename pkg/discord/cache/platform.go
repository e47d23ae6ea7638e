package cache

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
)

type cachedPlatform struct {
	platform.Platform
	dir *Directory
}

// Wrap returns p with its lookups served through a Directory built from cfg.
// The Directory is returned too so callers can invalidate entries.
func Wrap(p platform.Platform, cfg Config) (platform.Platform, *Directory) {
	dir := NewDirectory(p, cfg)
	return &cachedPlatform{Platform: p, dir: dir}, dir
}

func (c *cachedPlatform) User(ctx context.Context, userID string) (*discordgo.User, error) {
	return c.dir.User(ctx, userID)
}

func (c *cachedPlatform) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	return c.dir.Member(ctx, guildID, userID)
}

func (c *cachedPlatform) GuildMembers(ctx context.Context, guildID string, limit int) ([]*discordgo.Member, error) {
	return c.dir.GuildMembers(ctx, guildID, limit)
}

func (c *cachedPlatform) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	return c.dir.GuildRoles(ctx, guildID)
}

func (c *cachedPlatform) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	return c.dir.GuildChannels(ctx, guildID)
}

func (c *cachedPlatform) MemberRoleNames(ctx context.Context, guildID, userID string) ([]string, error) {
	return c.dir.MemberRoleNames(ctx, guildID, userID)
}

// Role grants change what MemberRoleNames reports.
func (c *cachedPlatform) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	defer c.dir.InvalidateMember(guildID, userID)
	return c.Platform.GrantRole(ctx, guildID, userID, roleID)
}

func (c *cachedPlatform) RevokeRole(ctx context.Context, guildID, userID, roleID string) error {
	defer c.dir.InvalidateMember(guildID, userID)
	return c.Platform.RevokeRole(ctx, guildID, userID, roleID)
}

func (c *cachedPlatform) SetNickname(ctx context.Context, guildID, userID, nick string) error {
	defer c.dir.InvalidateMember(guildID, userID)
	return c.Platform.SetNickname(ctx, guildID, userID, nick)
}
