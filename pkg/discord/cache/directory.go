package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
)

// Config sets entry limits and lifetimes. Zero fields take DefaultConfig values.
type Config struct {
	UserTTL    time.Duration
	MemberTTL  time.Duration
	RolesTTL   time.Duration
	ChannelTTL time.Duration

	MaxUsers   int
	MaxMembers int
	MaxGuilds  int
}

// DefaultConfig returns sensible defaults for the cache
func DefaultConfig() Config {
	return Config{
		UserTTL:    30 * time.Minute,
		MemberTTL:  5 * time.Minute,
		RolesTTL:   10 * time.Minute,
		ChannelTTL: 15 * time.Minute,
		MaxUsers:   10000,
		MaxMembers: 10000,
		MaxGuilds:  100,
	}
}

// Stats reports hits and misses per entity.
type Stats struct {
	Users, Members, Roles, Channels int

	UserHits, UserMisses       uint64
	MemberHits, MemberMisses   uint64
	RolesHits, RolesMisses     uint64
	ChannelHits, ChannelMisses uint64
}

// Directory is a read-through platform.Directory. Lookups are served from
// TTL-bounded LRU caches and fall through to the wrapped directory on a miss.
// GuildMembers is never cached; the roster wants fresh join data.
type Directory struct {
	next platform.Directory

	users    *expirable.LRU[string, *discordgo.User]
	members  *expirable.LRU[string, *discordgo.Member]
	roles    *expirable.LRU[string, []*discordgo.Role]
	channels *expirable.LRU[string, []*discordgo.Channel]

	userHits, userMisses       atomic.Uint64
	memberHits, memberMisses   atomic.Uint64
	rolesHits, rolesMisses     atomic.Uint64
	channelHits, channelMisses atomic.Uint64
}

var _ platform.Directory = (*Directory)(nil)

// NewDirectory wraps next.
func NewDirectory(next platform.Directory, cfg Config) *Directory {
	def := DefaultConfig()
	if cfg.UserTTL <= 0 {
		cfg.UserTTL = def.UserTTL
	}
	if cfg.MemberTTL <= 0 {
		cfg.MemberTTL = def.MemberTTL
	}
	if cfg.RolesTTL <= 0 {
		cfg.RolesTTL = def.RolesTTL
	}
	if cfg.ChannelTTL <= 0 {
		cfg.ChannelTTL = def.ChannelTTL
	}
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = def.MaxUsers
	}
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = def.MaxMembers
	}
	if cfg.MaxGuilds <= 0 {
		cfg.MaxGuilds = def.MaxGuilds
	}
	return &Directory{
		next:     next,
		users:    expirable.NewLRU[string, *discordgo.User](cfg.MaxUsers, nil, cfg.UserTTL),
		members:  expirable.NewLRU[string, *discordgo.Member](cfg.MaxMembers, nil, cfg.MemberTTL),
		roles:    expirable.NewLRU[string, []*discordgo.Role](cfg.MaxGuilds, nil, cfg.RolesTTL),
		channels: expirable.NewLRU[string, []*discordgo.Channel](cfg.MaxGuilds, nil, cfg.ChannelTTL),
	}
}

func memberKey(guildID, userID string) string { return guildID + ":" + userID }

func (d *Directory) User(ctx context.Context, userID string) (*discordgo.User, error) {
	if u, ok := d.users.Get(userID); ok {
		d.userHits.Add(1)
		return u, nil
	}
	d.userMisses.Add(1)
	u, err := d.next.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	d.users.Add(userID, u)
	return u, nil
}

func (d *Directory) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	key := memberKey(guildID, userID)
	if m, ok := d.members.Get(key); ok {
		d.memberHits.Add(1)
		return m, nil
	}
	d.memberMisses.Add(1)
	m, err := d.next.Member(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	d.members.Add(key, m)
	if m.User != nil {
		d.users.Add(m.User.ID, m.User)
	}
	return m, nil
}

// GuildMembers passes through, priming the user cache with the result.
func (d *Directory) GuildMembers(ctx context.Context, guildID string, limit int) ([]*discordgo.Member, error) {
	members, err := d.next.GuildMembers(ctx, guildID, limit)
	for _, m := range members {
		if m != nil && m.User != nil {
			d.users.Add(m.User.ID, m.User)
		}
	}
	return members, err
}

func (d *Directory) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	if r, ok := d.roles.Get(guildID); ok {
		d.rolesHits.Add(1)
		return r, nil
	}
	d.rolesMisses.Add(1)
	r, err := d.next.GuildRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	d.roles.Add(guildID, r)
	return r, nil
}

func (d *Directory) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	if c, ok := d.channels.Get(guildID); ok {
		d.channelHits.Add(1)
		return c, nil
	}
	d.channelMisses.Add(1)
	c, err := d.next.GuildChannels(ctx, guildID)
	if err != nil {
		return nil, err
	}
	d.channels.Add(guildID, c)
	return c, nil
}

// MemberRoleNames is answered from the cached member and role lists.
func (d *Directory) MemberRoleNames(ctx context.Context, guildID, userID string) ([]string, error) {
	m, err := d.Member(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	roles, err := d.GuildRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]string, len(roles))
	for _, r := range roles {
		byID[r.ID] = r.Name
	}
	var names []string
	for _, id := range m.Roles {
		if name, ok := byID[id]; ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// InvalidateRoles drops the guild's role list; call on role create, update
// or delete.
func (d *Directory) InvalidateRoles(guildID string) { d.roles.Remove(guildID) }

// InvalidateMember drops a member after its roles or nickname change.
func (d *Directory) InvalidateMember(guildID, userID string) {
	d.members.Remove(memberKey(guildID, userID))
}

// InvalidateChannels drops the guild's channel list.
func (d *Directory) InvalidateChannels(guildID string) { d.channels.Remove(guildID) }

// Stats returns cache statistics
func (d *Directory) Stats() Stats {
	return Stats{
		Users:         d.users.Len(),
		Members:       d.members.Len(),
		Roles:         d.roles.Len(),
		Channels:      d.channels.Len(),
		UserHits:      d.userHits.Load(),
		UserMisses:    d.userMisses.Load(),
		MemberHits:    d.memberHits.Load(),
		MemberMisses:  d.memberMisses.Load(),
		RolesHits:     d.rolesHits.Load(),
		RolesMisses:   d.rolesMisses.Load(),
		ChannelHits:   d.channelHits.Load(),
		ChannelMisses: d.channelMisses.Load(),
	}
}
