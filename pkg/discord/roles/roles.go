// Package roles runs the self-service roles channel of each guild: an emoji
// message whose reactions grant and revoke roles, and a numbered list
// members answer with "+N" or "-N".
package roles

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/small-frappuccino/kokobot/pkg/discord/events"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/log"
	"github.com/small-frappuccino/kokobot/pkg/task"
)

// TaskPurge is the task type of the periodic channel sweep.
const TaskPurge = "roles.purge"

const (
	// A guild set up this recently is not purged and re-posted again.
	setupDedupe = 30 * time.Second
	maxParallel = 4
)

// Scheduler is the slice of the task router the roles channel uses.
type Scheduler interface {
	RegisterHandler(taskType string, handler task.TaskHandler)
	ScheduleEvery(interval time.Duration, t task.Task) (cancel func())
}

// Manager owns the roles channel of every guild the bot is in.
type Manager struct {
	p      platform.Platform
	config func() files.BotConfig
	sched  Scheduler
	guilds func() []string
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	states    map[string]*guildState // by guild
	byChannel map[string]string      // roles channel -> guild

	running     atomic.Bool
	cancelPurge func()
}

type guildState struct {
	mu sync.Mutex

	guildID   string
	channelID string
	emojiMsg  string
	textMsg   string
	setupAt   time.Time

	emojiRoles map[string]*discordgo.Role
	textRoles  []*discordgo.Role
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager registers the purge task on sched. guilds lists the guilds the
// bot is currently in; Start sets all of them up.
func NewManager(p platform.Platform, config func() files.BotConfig, sched Scheduler, guilds func() []string, opts ...Option) *Manager {
	m := &Manager{
		p:         p,
		config:    config,
		sched:     sched,
		guilds:    guilds,
		now:       time.Now,
		logger:    log.ForComponent("roles"),
		states:    make(map[string]*guildState),
		byChannel: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	sched.RegisterHandler(TaskPurge, func(ctx context.Context, _ any) error { return m.Purge(ctx) })
	return m
}

// Start sets up every known guild and schedules the periodic sweep. Guild
// failures are logged, not returned.
func (m *Manager) Start(ctx context.Context) error {
	cfg := m.config()
	if !cfg.Roles.Enabled {
		m.logger.Info("Roles channel disabled")
		return nil
	}
	m.running.Store(true)
	m.cancelPurge = m.sched.ScheduleEvery(cfg.Roles.PurgeInterval.Duration, task.Task{
		Type:    TaskPurge,
		Options: task.TaskOptions{GroupKey: "roles", MaxAttempts: 1},
	})

	var ids []string
	if m.guilds != nil {
		ids = m.guilds()
	}
	// A guild that fails here is retried on its next guild-ready event.
	if err := m.SetupGuilds(ctx, ids); err != nil {
		m.logger.Warn("Some roles channels were not set up", "err", err)
	}
	return nil
}

// Stop cancels the sweep and forgets every tracked channel, so the next
// Start sets each guild up again. Posted messages stay in place.
func (m *Manager) Stop(context.Context) error {
	m.running.Store(false)
	if m.cancelPurge != nil {
		m.cancelPurge()
		m.cancelPurge = nil
	}
	m.mu.Lock()
	clear(m.states)
	clear(m.byChannel)
	m.mu.Unlock()
	return nil
}

// IsRunning reports whether Start has run and Stop has not.
func (m *Manager) IsRunning() bool { return m.running.Load() }

// Channels returns the number of guilds with a roles channel.
func (m *Manager) Channels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// SetupGuilds sets up each guild concurrently. Every guild is attempted;
// the failures are joined.
func (m *Manager) SetupGuilds(ctx context.Context, guildIDs []string) error {
	var g errgroup.Group
	g.SetLimit(maxParallel)

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, id := range guildIDs {
		g.Go(func() error {
			if err := m.SetupGuild(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("guild %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// SetupGuild finds the guild's roles channel, clears it and posts both role
// messages. A guild without a matching channel is skipped.
func (m *Manager) SetupGuild(ctx context.Context, guildID string) error {
	if !m.running.Load() {
		return nil
	}
	cfg := m.config().Roles

	if st := m.state(guildID); st != nil {
		st.mu.Lock()
		recent := m.now().Sub(st.setupAt) < setupDedupe
		st.mu.Unlock()
		if recent {
			return nil
		}
	}

	channels, err := m.p.GuildChannels(ctx, guildID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	ch := findChannel(channels, cfg.ChannelName)
	if ch == nil {
		m.logger.Info("No roles channel", "guildID", guildID, "name", cfg.ChannelName)
		m.forget(guildID)
		return nil
	}
	m.logger.Info("Found roles channel", "guildID", guildID, "channel", ch.Name)

	st := m.track(guildID, ch.ID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := m.p.PurgeChannel(ctx, ch.ID, 0); err != nil {
		m.logger.Warn("Failed to clear roles channel", "guildID", guildID, "err", err)
	}
	st.emojiMsg, st.textMsg = "", ""
	st.setupAt = m.now()
	return m.post(ctx, st)
}

// Refresh re-posts both role messages after the guild's roles changed.
func (m *Manager) Refresh(ctx context.Context, guildID string) error {
	if !m.running.Load() {
		return nil
	}
	st := m.state(guildID)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, id := range []string{st.emojiMsg, st.textMsg} {
		if id == "" {
			continue
		}
		ref := interactive.MessageRef{ChannelID: st.channelID, MessageID: id}
		if err := m.p.DeleteMessage(ctx, ref, 0); err != nil {
			m.logger.Warn("Failed to delete role message", "guildID", guildID, "messageID", id, "err", err)
		}
	}
	st.emojiMsg, st.textMsg = "", ""
	m.logger.Info("Guild roles changed; re-posting", "guildID", guildID)
	return m.post(ctx, st)
}

// Purge clears every roles channel except the two role messages.
func (m *Manager) Purge(ctx context.Context) error {
	m.mu.Lock()
	states := make([]*guildState, 0, len(m.states))
	for _, st := range m.states {
		states = append(states, st)
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, st := range states {
		g.Go(func() error {
			st.mu.Lock()
			defer st.mu.Unlock()
			var keep []string
			for _, id := range []string{st.emojiMsg, st.textMsg} {
				if id != "" {
					keep = append(keep, id)
				}
			}
			n, err := m.p.PurgeChannel(ctx, st.channelID, 0, keep...)
			if err != nil {
				return fmt.Errorf("purge roles channel of %s: %w", st.guildID, err)
			}
			if n > 0 {
				m.logger.Debug("Swept roles channel", "guildID", st.guildID, "deleted", n)
			}
			return nil
		})
	}
	return g.Wait()
}

// HandleReaction grants or revokes the role bound to a reaction on the
// emoji message.
func (m *Manager) HandleReaction(ctx context.Context, ev interactive.ReactionEvent) error {
	if !m.running.Load() || ev.UserID == "" || ev.UserID == m.p.SelfID() {
		return nil
	}
	st := m.stateByChannel(ev.ChannelID)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	if st.emojiMsg == "" || st.emojiMsg != ev.MessageID {
		st.mu.Unlock()
		return nil
	}
	role := st.emojiRoles[normalizeEmoji(ev.Emoji)]
	guildID, channelID := st.guildID, st.channelID
	st.mu.Unlock()
	if role == nil {
		return nil
	}

	name := m.memberName(ctx, guildID, ev.UserID)
	return m.changeRole(ctx, guildID, channelID, ev.UserID, name, role, ev.Added, nil)
}

// HandleMessage answers "+N" and "-N" in a roles channel.
func (m *Manager) HandleMessage(ctx context.Context, ev events.MessageEvent) error {
	if !m.running.Load() || ev.FromSelf || ev.AuthorBot {
		return nil
	}
	content := strings.TrimSpace(ev.Content)
	cfg := m.config()
	if content == "" || strings.HasPrefix(content, cfg.Prefix) {
		return nil
	}
	st := m.stateByChannel(ev.ChannelID)
	if st == nil {
		return nil
	}
	invoking := ev.Ref()

	op, digits := content[0], content[1:]
	if (op != '+' && op != '-') || !isDigits(digits) {
		return m.notice(ctx, ev.ChannelID, "Invalid role command.", invoking)
	}
	idx, err := strconv.Atoi(digits)

	st.mu.Lock()
	var role *discordgo.Role
	if err == nil && idx >= 0 && idx < len(st.textRoles) {
		role = st.textRoles[idx]
	}
	guildID := st.guildID
	st.mu.Unlock()
	if role == nil {
		return m.notice(ctx, ev.ChannelID, "Invalid role number.", invoking)
	}

	return m.changeRole(ctx, guildID, ev.ChannelID, ev.AuthorID, ev.AuthorName, role, op == '+', &invoking)
}

func (m *Manager) changeRole(ctx context.Context, guildID, channelID, userID, name string, role *discordgo.Role, grant bool, invoking *interactive.MessageRef) error {
	verb := "remove"
	var err error
	if grant {
		verb = "add"
		err = m.p.GrantRole(ctx, guildID, userID, role.ID)
	} else {
		err = m.p.RevokeRole(ctx, guildID, userID, role.ID)
	}

	var extra []interactive.MessageRef
	if invoking != nil {
		extra = append(extra, *invoking)
	}

	switch {
	case errors.Is(err, errors.ErrForbidden):
		m.logger.Warn("Role change forbidden", "guildID", guildID, "userID", userID, "role", role.Name, "op", verb)
		return m.notice(ctx, channelID,
			fmt.Sprintf("Not enough permissions to %s \"%s\" role for %s. (Check role hierarchy)", verb, role.Name, name),
			extra...)
	case err != nil:
		m.expire(ctx, extra...)
		return fmt.Errorf("%s role %s for %s: %w", verb, role.Name, userID, err)
	}

	msg := fmt.Sprintf("Removed \"%s\" role for %s.", role.Name, name)
	if grant {
		msg = fmt.Sprintf("Added \"%s\" role for %s.", role.Name, name)
	}
	m.logger.Info(msg, "guildID", guildID, "userID", userID)
	if invoking == nil {
		// Reactions change roles silently.
		return nil
	}
	return m.notice(ctx, channelID, msg, extra...)
}

// notice sends text and deletes it, together with also, after the notice
// lifetime.
func (m *Manager) notice(ctx context.Context, channelID, text string, also ...interactive.MessageRef) error {
	ref, err := m.p.SendText(ctx, channelID, text)
	if err != nil {
		m.expire(ctx, also...)
		return err
	}
	m.expire(ctx, append([]interactive.MessageRef{ref}, also...)...)
	return nil
}

func (m *Manager) expire(ctx context.Context, refs ...interactive.MessageRef) {
	ttl := m.config().Roles.NoticeTTL.Duration
	for _, ref := range refs {
		if err := m.p.DeleteMessage(context.WithoutCancel(ctx), ref, ttl); err != nil {
			m.logger.Debug("Failed to schedule notice deletion", "messageID", ref.MessageID, "err", err)
		}
	}
}

// post sends the emoji and text role messages for st. Caller holds st.mu.
func (m *Manager) post(ctx context.Context, st *guildState) error {
	cfg := m.config().Roles
	roles, err := m.p.GuildRoles(ctx, st.guildID)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	st.emojiRoles = emojiRoles(roles, cfg.EmojiRoles)
	st.textRoles = textRoles(roles, cfg)

	if len(st.emojiRoles) > 0 {
		ref, err := m.p.SendText(ctx, st.channelID, cfg.Greeting)
		if err != nil {
			return fmt.Errorf("post emoji roles: %w", err)
		}
		st.emojiMsg = ref.MessageID
		for _, er := range cfg.EmojiRoles {
			if _, ok := st.emojiRoles[normalizeEmoji(er.Emoji)]; !ok {
				continue
			}
			if err := m.p.AddReaction(ctx, ref, er.Emoji); err != nil {
				m.logger.Warn("Failed to add role reaction", "guildID", st.guildID, "emoji", er.Emoji, "err", err)
			}
		}
	}

	if len(st.textRoles) > 0 {
		ref, err := m.p.SendText(ctx, st.channelID, RoleList(cfg.ListTitle, st.textRoles))
		if err != nil {
			return fmt.Errorf("post text roles: %w", err)
		}
		st.textMsg = ref.MessageID
	}
	return nil
}

// RoleList renders the numbered role message.
func RoleList(title string, roles []*discordgo.Role) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for i, r := range roles {
		fmt.Fprintf(&b, "\t\t`%d`: %s\n", i, r.Name)
	}
	b.WriteString("\n")
	b.WriteString("Use `+number` to add or `-number` to remove a role for yourself.\n")
	fmt.Fprintf(&b, "For example, `+0` will give you the role \"%s\", and `-0` will remove that role for you.", roles[0].Name)
	return b.String()
}

// emojiRoles maps each configured emoji to the first guild role whose name
// contains the configured role name.
func emojiRoles(roles []*discordgo.Role, bindings []files.EmojiRole) map[string]*discordgo.Role {
	out := make(map[string]*discordgo.Role)
	for _, r := range roles {
		for _, b := range bindings {
			if strings.Contains(r.Name, b.Role) {
				key := normalizeEmoji(b.Emoji)
				if _, taken := out[key]; !taken {
					out[key] = r
				}
				break
			}
		}
	}
	return out
}

// textRoles lists the assignable roles, highest first. A role is excluded
// when its name contains any invalid or emoji-bound role name.
func textRoles(roles []*discordgo.Role, cfg files.RolesConfig) []*discordgo.Role {
	invalid := slices.Clone(cfg.InvalidRoles)
	for _, er := range cfg.EmojiRoles {
		invalid = append(invalid, er.Role)
	}

	var out []*discordgo.Role
	for _, r := range roles {
		if r.Managed || slices.ContainsFunc(invalid, func(s string) bool { return s != "" && strings.Contains(r.Name, s) }) {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b *discordgo.Role) int {
		return cmp.Or(cmp.Compare(b.Position, a.Position), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func findChannel(channels []*discordgo.Channel, name string) *discordgo.Channel {
	text := slices.DeleteFunc(slices.Clone(channels), func(c *discordgo.Channel) bool {
		return c == nil || c.Type != discordgo.ChannelTypeGuildText
	})
	slices.SortStableFunc(text, func(a, b *discordgo.Channel) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	for _, c := range text {
		if strings.Contains(c.Name, name) {
			return c
		}
	}
	return nil
}

func (m *Manager) memberName(ctx context.Context, guildID, userID string) string {
	if mem, err := m.p.Member(ctx, guildID, userID); err == nil && mem.User != nil {
		if mem.Nick != "" {
			return mem.Nick
		}
		return mem.User.Username
	}
	if u, err := m.p.User(ctx, userID); err == nil {
		return u.Username
	}
	return "<@" + userID + ">"
}

func (m *Manager) state(guildID string) *guildState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[guildID]
}

func (m *Manager) stateByChannel(channelID string) *guildState {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byChannel[channelID]
	if !ok {
		return nil
	}
	return m.states[id]
}

func (m *Manager) track(guildID, channelID string) *guildState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[guildID]
	if ok && st.channelID == channelID {
		return st
	}
	if ok {
		delete(m.byChannel, st.channelID)
	}
	st = &guildState{guildID: guildID, channelID: channelID}
	m.states[guildID] = st
	m.byChannel[channelID] = guildID
	return st
}

func (m *Manager) forget(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[guildID]; ok {
		delete(m.byChannel, st.channelID)
		delete(m.states, guildID)
	}
}

func normalizeEmoji(e string) string {
	return strings.ReplaceAll(strings.TrimSpace(e), "\uFE0F", "")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
