package platform

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/discord/cleanup"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/log"
	"golang.org/x/time/rate"
)

// restAPI is the part of *discordgo.Session the adapter calls.
type restAPI interface {
	cleanup.Deleter
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	MessageReactionsRemoveAll(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactions(channelID, messageID, emojiID string, limit int, beforeID, afterID string, options ...discordgo.RequestOption) ([]*discordgo.User, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberNickname(guildID, userID, nickname string, options ...discordgo.RequestOption) error
}

const (
	pageLimit     = 100
	membersPage   = 1000
	maxPurgeBatch = 100
)

// Options tunes the adapter.
type Options struct {
	// ReactionRate and ReactionBurst throttle reaction writes, which Discord
	// limits far more tightly than other endpoints.
	ReactionRate  float64
	ReactionBurst int
}

// Discord implements Platform on top of a discordgo session.
type Discord struct {
	api     restAPI
	state   *discordgo.State
	latency func() time.Duration
	limiter *rate.Limiter
	now     func() time.Time
}

// New wraps s.
func New(s *discordgo.Session, opts Options) *Discord {
	d := newDiscord(s, opts)
	d.state = s.State
	d.latency = s.HeartbeatLatency
	return d
}

func newDiscord(api restAPI, opts Options) *Discord {
	limit := rate.Inf
	if opts.ReactionRate > 0 {
		limit = rate.Limit(opts.ReactionRate)
	}
	burst := max(opts.ReactionBurst, 1)
	return &Discord{
		api:     api,
		latency: func() time.Duration { return 0 },
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// SelfID returns the bot user id once the session is ready.
func (d *Discord) SelfID() string {
	if d.state == nil || d.state.User == nil {
		return ""
	}
	return d.state.User.ID
}

// Latency is the last gateway heartbeat round trip.
func (d *Discord) Latency() time.Duration { return d.latency() }

func (d *Discord) SendText(ctx context.Context, channelID, text string) (interactive.MessageRef, error) {
	msg, err := d.api.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return interactive.MessageRef{}, errors.ClassifyDiscordError("send message", err)
	}
	return interactive.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func (d *Discord) SendEmbed(ctx context.Context, channelID string, disp interactive.Display) (interactive.MessageRef, error) {
	msg, err := d.api.ChannelMessageSendEmbed(channelID, Embed(disp), discordgo.WithContext(ctx))
	if err != nil {
		return interactive.MessageRef{}, errors.ClassifyDiscordError("send embed", err)
	}
	return interactive.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

// EditEmbed replaces the message body with disp, clearing any text content.
func (d *Discord) EditEmbed(ctx context.Context, ref interactive.MessageRef, disp interactive.Display) error {
	edit := discordgo.NewMessageEdit(ref.ChannelID, ref.MessageID).
		SetContent("").
		SetEmbed(Embed(disp))
	_, err := d.api.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return errors.ClassifyDiscordError("edit embed", err)
}

func (d *Discord) EditText(ctx context.Context, ref interactive.MessageRef, text string) error {
	edit := discordgo.NewMessageEdit(ref.ChannelID, ref.MessageID).SetContent(text)
	_, err := d.api.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return errors.ClassifyDiscordError("edit text", err)
}

func (d *Discord) DeleteMessage(ctx context.Context, ref interactive.MessageRef, delay time.Duration) error {
	if delay <= 0 {
		return d.deleteNow(ctx, ref)
	}
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := d.deleteNow(context.WithoutCancel(ctx), ref); err != nil {
			log.DiscordLogger().Debug("Delayed delete failed", "channelID", ref.ChannelID, "messageID", ref.MessageID, "err", err)
		}
	}()
	return nil
}

func (d *Discord) deleteNow(ctx context.Context, ref interactive.MessageRef) error {
	err := errors.ClassifyDiscordError("delete message",
		d.api.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx)))
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	return err
}

func (d *Discord) PurgeChannel(ctx context.Context, channelID string, limit int, keep ...string) (int, error) {
	var (
		before  string
		deleted int
		seen    int
	)
	for limit <= 0 || seen < limit {
		batch := maxPurgeBatch
		if limit > 0 {
			batch = min(batch, limit-seen)
		}
		msgs, err := d.api.ChannelMessages(channelID, batch, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return deleted, errors.ClassifyDiscordError("fetch messages", err)
		}
		if len(msgs) == 0 {
			break
		}
		seen += len(msgs)
		before = msgs[len(msgs)-1].ID

		doomed := make([]*discordgo.Message, 0, len(msgs))
		for _, m := range msgs {
			if !slices.Contains(keep, m.ID) {
				doomed = append(doomed, m)
			}
		}
		recent, old := cleanup.SplitByAge(doomed, d.now())
		onErr := func(id string, err error) {
			log.DiscordLogger().Warn("Purge delete failed", "channelID", channelID, "messageID", id, "err", err)
		}
		n, _ := cleanup.DeleteMessages(d.api, channelID, recent, cleanup.DeleteOptions{OnDeleteError: onErr})
		deleted += n
		n, _ = cleanup.DeleteMessages(d.api, channelID, old, cleanup.DeleteOptions{Mode: cleanup.DeleteModeSingleOnly, OnDeleteError: onErr})
		deleted += n

		if len(msgs) < batch && limit > 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (d *Discord) AddReaction(ctx context.Context, ref interactive.MessageRef, emoji string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return errors.ClassifyDiscordError("add reaction",
		d.api.MessageReactionAdd(ref.ChannelID, ref.MessageID, emoji, discordgo.WithContext(ctx)))
}

func (d *Discord) RemoveAllReactions(ctx context.Context, ref interactive.MessageRef) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return errors.ClassifyDiscordError("remove reactions",
		d.api.MessageReactionsRemoveAll(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx)))
}

func (d *Discord) RemoveUserReaction(ctx context.Context, ref interactive.MessageRef, emoji, userID string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return errors.ClassifyDiscordError("remove reaction",
		d.api.MessageReactionRemove(ref.ChannelID, ref.MessageID, emoji, userID, discordgo.WithContext(ctx)))
}

// CurrentReactors returns the distinct users reacting with any emoji, in
// first-seen order, excluding this bot. Other bots count like any user.
func (d *Discord) CurrentReactors(ctx context.Context, ref interactive.MessageRef) ([]string, error) {
	msg, err := d.api.ChannelMessage(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.ClassifyDiscordError("fetch message", err)
	}
	self := d.SelfID()
	seen := make(map[string]struct{})
	var out []string
	for _, r := range msg.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		users, err := d.reactionUsers(ctx, ref, r.Emoji.APIName())
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if u.ID == self {
				continue
			}
			if _, ok := seen[u.ID]; ok {
				continue
			}
			seen[u.ID] = struct{}{}
			out = append(out, u.ID)
		}
	}
	return out, nil
}

func (d *Discord) reactionUsers(ctx context.Context, ref interactive.MessageRef, emoji string) ([]*discordgo.User, error) {
	var (
		after string
		all   []*discordgo.User
	)
	for {
		users, err := d.api.MessageReactions(ref.ChannelID, ref.MessageID, emoji, pageLimit, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, errors.ClassifyDiscordError("fetch reactions", err)
		}
		all = append(all, users...)
		if len(users) < pageLimit {
			return all, nil
		}
		after = users[len(users)-1].ID
	}
}

func (d *Discord) User(ctx context.Context, userID string) (*discordgo.User, error) {
	u, err := d.api.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.ClassifyDiscordError("fetch user", err)
	}
	return u, nil
}

// Member prefers the gateway state and falls back to REST.
func (d *Discord) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if d.state != nil {
		if m, err := d.state.Member(guildID, userID); err == nil {
			return m, nil
		}
	}
	m, err := d.api.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.ClassifyDiscordError("fetch member", err)
	}
	return m, nil
}

// GuildMembers pages through the member list until limit members are read.
func (d *Discord) GuildMembers(ctx context.Context, guildID string, limit int) ([]*discordgo.Member, error) {
	var (
		after string
		out   []*discordgo.Member
	)
	for limit <= 0 || len(out) < limit {
		n := membersPage
		if limit > 0 {
			n = min(n, limit-len(out))
		}
		page, err := d.api.GuildMembers(guildID, after, n, discordgo.WithContext(ctx))
		if err != nil {
			return out, errors.ClassifyDiscordError("fetch members", err)
		}
		out = append(out, page...)
		if len(page) < n {
			break
		}
		after = page[len(page)-1].User.ID
	}
	return out, nil
}

func (d *Discord) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	roles, err := d.api.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.ClassifyDiscordError("fetch roles", err)
	}
	return roles, nil
}

func (d *Discord) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	chans, err := d.api.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.ClassifyDiscordError("fetch channels", err)
	}
	return chans, nil
}

// MemberRoleNames resolves the member's role ids to names.
func (d *Discord) MemberRoleNames(ctx context.Context, guildID, userID string) ([]string, error) {
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
	names := make([]string, 0, len(m.Roles))
	for _, id := range m.Roles {
		if name, ok := byID[id]; ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func (d *Discord) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	return errors.ClassifyDiscordError("grant role",
		d.api.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (d *Discord) RevokeRole(ctx context.Context, guildID, userID, roleID string) error {
	return errors.ClassifyDiscordError("revoke role",
		d.api.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (d *Discord) SetNickname(ctx context.Context, guildID, userID, nick string) error {
	if userID == "" || userID == d.SelfID() {
		userID = "@me"
	}
	return errors.ClassifyDiscordError("set nickname",
		d.api.GuildMemberNickname(guildID, userID, strings.TrimSpace(nick), discordgo.WithContext(ctx)))
}
