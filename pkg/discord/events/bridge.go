// Package events owns the single gateway subscription. Each discordgo
// callback only normalizes its payload and hands it to the task router, so
// the gateway goroutine never waits on REST calls; consumers run on router
// workers keyed by message, channel or guild.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/discord/perf"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/log"
	"github.com/small-frappuccino/kokobot/pkg/task"
)

// Task types dispatched by the bridge.
const (
	TaskReaction       = "discord.reaction"
	TaskMessage        = "discord.message"
	TaskMessageDeleted = "discord.message_deleted"
	TaskRolesChanged   = "discord.roles_changed"
	TaskGuildReady     = "discord.guild_ready"
	TaskExpire         = "interactive.expire"
)

const (
	dispatchTimeout = 2 * time.Second
	// Role edits arrive in bursts; one refresh per guild per window is enough.
	roleCoalesceWindow = 3 * time.Second
	guildSetupWindow   = time.Minute
)

// MessageEvent is a normalized message create.
type MessageEvent struct {
	ID         string
	ChannelID  string
	GuildID    string
	AuthorID   string
	AuthorName string
	AuthorBot  bool
	// FromSelf is set for the bot's own messages; other bots are dropped
	// before dispatch.
	FromSelf  bool
	Content   string
	Mentions  []string
	Timestamp time.Time
}

// Ref returns the message reference.
func (e MessageEvent) Ref() interactive.MessageRef {
	return interactive.MessageRef{ChannelID: e.ChannelID, MessageID: e.ID}
}

type (
	ReactionHandler       func(ctx context.Context, ev interactive.ReactionEvent) error
	MessageHandler        func(ctx context.Context, ev MessageEvent) error
	MessageDeletedHandler func(ctx context.Context, ref interactive.MessageRef)
	RolesChangedHandler   func(ctx context.Context, guildID string) error
	GuildReadyHandler     func(ctx context.Context, guildID string) error
)

// Dispatcher is the slice of the task router the bridge uses.
type Dispatcher interface {
	RegisterHandler(taskType string, handler task.TaskHandler)
	Dispatch(ctx context.Context, t task.Task) error
}

// Bridge fans gateway events out to registered consumers.
type Bridge struct {
	router  Dispatcher
	selfID  func() string
	timeout time.Duration

	mu        sync.RWMutex
	reactions []ReactionHandler
	messages  []MessageHandler
	deletes   []MessageDeletedHandler
	roles     []RolesChangedHandler
	ready     []GuildReadyHandler

	removers []func()
}

// NewBridge registers the bridge's task handlers on router. selfID reports
// the bot user id once connected.
func NewBridge(router Dispatcher, selfID func() string) *Bridge {
	b := &Bridge{router: router, selfID: selfID, timeout: dispatchTimeout}
	router.RegisterHandler(TaskReaction, b.runReaction)
	router.RegisterHandler(TaskMessage, b.runMessage)
	router.RegisterHandler(TaskMessageDeleted, b.runMessageDeleted)
	router.RegisterHandler(TaskRolesChanged, b.runRolesChanged)
	router.RegisterHandler(TaskGuildReady, b.runGuildReady)
	router.RegisterHandler(TaskExpire, runExpire)
	return b
}

func (b *Bridge) OnReaction(h ReactionHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reactions = append(b.reactions, h)
}

func (b *Bridge) OnMessage(h MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, h)
}

func (b *Bridge) OnMessageDeleted(h MessageDeletedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, h)
}

func (b *Bridge) OnRolesChanged(h RolesChangedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roles = append(b.roles, h)
}

func (b *Bridge) OnGuildReady(h GuildReadyHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = append(b.ready, h)
}

// Attach subscribes to the session's gateway events. Call once.
func (b *Bridge) Attach(s *discordgo.Session) {
	b.removers = append(b.removers,
		s.AddHandler(b.onReactionAdd),
		s.AddHandler(b.onReactionRemove),
		s.AddHandler(b.onMessageCreate),
		s.AddHandler(b.onMessageDelete),
		s.AddHandler(b.onMessageDeleteBulk),
		s.AddHandler(b.onRoleCreate),
		s.AddHandler(b.onRoleUpdate),
		s.AddHandler(b.onRoleDelete),
		s.AddHandler(b.onReady),
		s.AddHandler(b.onGuildCreate),
	)
}

// Detach removes every gateway subscription added by Attach.
func (b *Bridge) Detach() {
	for _, rm := range b.removers {
		rm()
	}
	b.removers = nil
}

// ExpiryDispatcher routes interactive expiry callbacks onto the worker of
// the session's message, behind any reactions already queued for it.
func (b *Bridge) ExpiryDispatcher() interactive.Dispatcher {
	return func(sessionID string, fn func(ctx context.Context)) {
		err := b.dispatch(task.Task{
			Type:    TaskExpire,
			Payload: fn,
			Options: task.TaskOptions{GroupKey: messageGroup(sessionID), MaxAttempts: 1},
		})
		if err != nil {
			// The timer is already spent; expire here or the session is never collected.
			fn(context.Background())
		}
	}
}

func messageGroup(id string) string { return "msg:" + id }
func channelGroup(id string) string { return "chan:" + id }
func guildGroup(id string) string   { return "guild:" + id }

func (b *Bridge) self() string {
	if b.selfID == nil {
		return ""
	}
	return b.selfID()
}

// dispatch enqueues t, waiting at most dispatchTimeout for room in its
// group. Coalesced duplicates are not an error.
func (b *Bridge) dispatch(t task.Task) error {
	defer perf.StartGatewayEvent(t.Type, slog.String("group", t.Options.GroupKey))()
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	err := b.router.Dispatch(ctx, t)
	if err == nil || errors.Is(err, task.ErrDuplicateTask) {
		return nil
	}
	log.DiscordLogger().Warn("Dropped gateway event", "type", t.Type, "group", t.Options.GroupKey, "err", err)
	return err
}

func reactionEvent(r *discordgo.MessageReaction, added bool) interactive.ReactionEvent {
	return interactive.ReactionEvent{
		MessageID: r.MessageID,
		ChannelID: r.ChannelID,
		GuildID:   r.GuildID,
		UserID:    r.UserID,
		Emoji:     r.Emoji.APIName(),
		Added:     added,
	}
}

func (b *Bridge) onReactionAdd(_ *discordgo.Session, e *discordgo.MessageReactionAdd) {
	if e == nil || e.MessageReaction == nil {
		return
	}
	b.dispatchReaction(reactionEvent(e.MessageReaction, true))
}

func (b *Bridge) onReactionRemove(_ *discordgo.Session, e *discordgo.MessageReactionRemove) {
	if e == nil || e.MessageReaction == nil {
		return
	}
	b.dispatchReaction(reactionEvent(e.MessageReaction, false))
}

func (b *Bridge) dispatchReaction(ev interactive.ReactionEvent) {
	if ev.UserID == "" || ev.UserID == b.self() {
		return
	}
	b.dispatch(task.Task{
		Type:    TaskReaction,
		Payload: ev,
		// Page turns are not idempotent.
		Options: task.TaskOptions{GroupKey: messageGroup(ev.MessageID), MaxAttempts: 1},
	})
}

func (b *Bridge) onMessageCreate(_ *discordgo.Session, e *discordgo.MessageCreate) {
	if e == nil || e.Message == nil || e.Author == nil {
		return
	}
	self := e.Author.ID == b.self()
	if e.Author.Bot && !self {
		return
	}
	ev := MessageEvent{
		ID:         e.ID,
		ChannelID:  e.ChannelID,
		GuildID:    e.GuildID,
		AuthorID:   e.Author.ID,
		AuthorName: e.Author.Username,
		AuthorBot:  e.Author.Bot,
		FromSelf:   self,
		Content:    e.Content,
		Timestamp:  e.Timestamp,
	}
	if e.Member != nil && e.Member.Nick != "" {
		ev.AuthorName = e.Member.Nick
	}
	for _, u := range e.Mentions {
		if u != nil {
			ev.Mentions = append(ev.Mentions, u.ID)
		}
	}
	b.dispatch(task.Task{
		Type:    TaskMessage,
		Payload: ev,
		Options: task.TaskOptions{GroupKey: channelGroup(ev.ChannelID), MaxAttempts: 1},
	})
}

func (b *Bridge) onMessageDelete(_ *discordgo.Session, e *discordgo.MessageDelete) {
	if e == nil || e.Message == nil {
		return
	}
	b.dispatchDeleted(interactive.MessageRef{ChannelID: e.ChannelID, MessageID: e.ID})
}

func (b *Bridge) onMessageDeleteBulk(_ *discordgo.Session, e *discordgo.MessageDeleteBulk) {
	if e == nil {
		return
	}
	for _, id := range e.Messages {
		b.dispatchDeleted(interactive.MessageRef{ChannelID: e.ChannelID, MessageID: id})
	}
}

func (b *Bridge) dispatchDeleted(ref interactive.MessageRef) {
	b.dispatch(task.Task{
		Type:    TaskMessageDeleted,
		Payload: ref,
		Options: task.TaskOptions{GroupKey: messageGroup(ref.MessageID), MaxAttempts: 1},
	})
}

func (b *Bridge) onRoleCreate(_ *discordgo.Session, e *discordgo.GuildRoleCreate) {
	if e != nil && e.GuildRole != nil {
		b.dispatchRolesChanged(e.GuildID)
	}
}

func (b *Bridge) onRoleUpdate(_ *discordgo.Session, e *discordgo.GuildRoleUpdate) {
	if e != nil && e.GuildRole != nil {
		b.dispatchRolesChanged(e.GuildID)
	}
}

func (b *Bridge) onRoleDelete(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
	if e != nil {
		b.dispatchRolesChanged(e.GuildID)
	}
}

func (b *Bridge) dispatchRolesChanged(guildID string) {
	if guildID == "" {
		return
	}
	b.dispatch(task.Task{
		Type:    TaskRolesChanged,
		Payload: guildID,
		Options: task.TaskOptions{
			GroupKey:       guildGroup(guildID),
			IdempotencyKey: "roles:" + guildID,
			IdempotencyTTL: roleCoalesceWindow,
		},
	})
}

func (b *Bridge) onReady(_ *discordgo.Session, e *discordgo.Ready) {
	if e == nil {
		return
	}
	log.DiscordLogger().Info("Gateway ready", "guilds", len(e.Guilds))
	for _, g := range e.Guilds {
		if g != nil {
			b.dispatchGuildReady(g.ID)
		}
	}
}

// onGuildCreate covers guilds joined after ready; the idempotency window
// drops the duplicate that follows every ready.
func (b *Bridge) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if e != nil && e.Guild != nil && !e.Unavailable {
		b.dispatchGuildReady(e.ID)
	}
}

func (b *Bridge) dispatchGuildReady(guildID string) {
	b.dispatch(task.Task{
		Type:    TaskGuildReady,
		Payload: guildID,
		Options: task.TaskOptions{
			GroupKey:       guildGroup(guildID),
			IdempotencyKey: "setup:" + guildID,
			IdempotencyTTL: guildSetupWindow,
		},
	})
}

func (b *Bridge) runReaction(ctx context.Context, payload any) error {
	ev := payload.(interactive.ReactionEvent)
	b.mu.RLock()
	hs := b.reactions
	b.mu.RUnlock()
	var errs []error
	for _, h := range hs {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) runMessage(ctx context.Context, payload any) error {
	ev := payload.(MessageEvent)
	b.mu.RLock()
	hs := b.messages
	b.mu.RUnlock()
	var errs []error
	for _, h := range hs {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) runMessageDeleted(ctx context.Context, payload any) error {
	ref := payload.(interactive.MessageRef)
	b.mu.RLock()
	hs := b.deletes
	b.mu.RUnlock()
	for _, h := range hs {
		h(ctx, ref)
	}
	return nil
}

func (b *Bridge) runRolesChanged(ctx context.Context, payload any) error {
	guildID := payload.(string)
	b.mu.RLock()
	hs := b.roles
	b.mu.RUnlock()
	var errs []error
	for _, h := range hs {
		if err := h(ctx, guildID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) runGuildReady(ctx context.Context, payload any) error {
	guildID := payload.(string)
	b.mu.RLock()
	hs := b.ready
	b.mu.RUnlock()
	var errs []error
	for _, h := range hs {
		if err := h(ctx, guildID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runExpire(ctx context.Context, payload any) error {
	payload.(func(context.Context))(ctx)
	return nil
}
