package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	router := task.NewRouter(task.RouterConfig{
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      time.Millisecond,
		GroupIdleTTL:    time.Second,
		CleanupInterval: 50 * time.Millisecond,
	})
	t.Cleanup(router.Close)
	return NewBridge(router, func() string { return "bot" })
}

type collector[T any] struct {
	mu  sync.Mutex
	got []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, v)
}

func (c *collector[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.got...)
}

func reaction(user, msg, emoji string) *discordgo.MessageReaction {
	return &discordgo.MessageReaction{UserID: user, MessageID: msg, ChannelID: "c", GuildID: "g", Emoji: discordgo.Emoji{Name: emoji}}
}

func TestReactionsAreNormalizedAndOrdered(t *testing.T) {
	b := newTestBridge(t)
	var c collector[interactive.ReactionEvent]
	b.OnReaction(func(_ context.Context, ev interactive.ReactionEvent) error {
		c.add(ev)
		return nil
	})

	b.onReactionAdd(nil, &discordgo.MessageReactionAdd{MessageReaction: reaction("u1", "m", interactive.EmojiNext)})
	b.onReactionAdd(nil, &discordgo.MessageReactionAdd{MessageReaction: reaction("bot", "m", interactive.EmojiNext)})
	b.onReactionRemove(nil, &discordgo.MessageReactionRemove{MessageReaction: reaction("u1", "m", interactive.EmojiPrev)})

	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	got := c.snapshot()
	assert.Equal(t, interactive.ReactionEvent{MessageID: "m", ChannelID: "c", GuildID: "g", UserID: "u1", Emoji: interactive.EmojiNext, Added: true}, got[0])
	assert.False(t, got[1].Added)
	assert.Equal(t, interactive.EmojiPrev, got[1].Emoji)
}

func TestMessagesFromOtherBotsAreDropped(t *testing.T) {
	b := newTestBridge(t)
	var c collector[MessageEvent]
	b.OnMessage(func(_ context.Context, ev MessageEvent) error {
		c.add(ev)
		return nil
	})

	b.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "1", ChannelID: "c", Content: "$ping", Author: &discordgo.User{ID: "other", Bot: true},
	}})
	b.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "2", ChannelID: "c", Content: "*foo", Author: &discordgo.User{ID: "bot", Bot: true},
	}})
	b.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "3", ChannelID: "c", Content: "$koko list", Author: &discordgo.User{ID: "u", Username: "alice"},
		Member:   &discordgo.Member{Nick: "Al"},
		Mentions: []*discordgo.User{{ID: "x"}},
	}})

	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	got := c.snapshot()
	assert.True(t, got[0].FromSelf)
	assert.Equal(t, "Al", got[1].AuthorName)
	assert.Equal(t, []string{"x"}, got[1].Mentions)
}

func TestBulkDeleteFansOut(t *testing.T) {
	b := newTestBridge(t)
	var c collector[string]
	b.OnMessageDeleted(func(_ context.Context, ref interactive.MessageRef) { c.add(ref.MessageID) })

	b.onMessageDeleteBulk(nil, &discordgo.MessageDeleteBulk{ChannelID: "c", Messages: []string{"a", "b"}})
	b.onMessageDelete(nil, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "z", ChannelID: "c"}})

	require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b", "z"}, c.snapshot())
}

func TestRoleEventsCoalescePerGuild(t *testing.T) {
	b := newTestBridge(t)
	var c collector[string]
	b.OnRolesChanged(func(_ context.Context, guildID string) error {
		c.add(guildID)
		return nil
	})

	b.onRoleCreate(nil, &discordgo.GuildRoleCreate{GuildRole: &discordgo.GuildRole{GuildID: "g1"}})
	b.onRoleUpdate(nil, &discordgo.GuildRoleUpdate{GuildRole: &discordgo.GuildRole{GuildID: "g1"}})
	b.onRoleDelete(nil, &discordgo.GuildRoleDelete{GuildID: "g2"})

	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.ElementsMatch(t, []string{"g1", "g2"}, c.snapshot())
}

func TestReadyAndGuildCreateSetUpOnce(t *testing.T) {
	b := newTestBridge(t)
	var c collector[string]
	b.OnGuildReady(func(_ context.Context, guildID string) error {
		c.add(guildID)
		return nil
	})

	b.onReady(nil, &discordgo.Ready{Guilds: []*discordgo.Guild{{ID: "g1"}, {ID: "g2"}}})
	b.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g1"}})
	b.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g3"}})

	require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.ElementsMatch(t, []string{"g1", "g2", "g3"}, c.snapshot())
}

func TestExpiryDispatcherRunsOnMessageGroup(t *testing.T) {
	b := newTestBridge(t)
	done := make(chan struct{})
	b.ExpiryDispatcher()("m1", func(ctx context.Context) {
		assert.NoError(t, ctx.Err())
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expiry callback did not run")
	}
}

func TestExpiryRunsInlineWhenGroupIsFull(t *testing.T) {
	router := task.NewRouter(task.RouterConfig{GroupBuffer: 1, GroupIdleTTL: time.Second})
	t.Cleanup(router.Close)
	b := NewBridge(router, func() string { return "bot" })
	b.timeout = 20 * time.Millisecond

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	b.OnReaction(func(context.Context, interactive.ReactionEvent) error {
		entered <- struct{}{}
		<-release
		return nil
	})
	defer close(release)

	b.onReactionAdd(nil, &discordgo.MessageReactionAdd{MessageReaction: reaction("u1", "m", interactive.EmojiNext)})
	<-entered
	// Worker busy, queue holds one more.
	b.onReactionAdd(nil, &discordgo.MessageReactionAdd{MessageReaction: reaction("u2", "m", interactive.EmojiNext)})

	expired := false
	b.ExpiryDispatcher()("m", func(context.Context) { expired = true })
	assert.True(t, expired, "expiry must not be dropped when the group stays full")
}

func TestExpiryRunsInlineAfterRouterClosed(t *testing.T) {
	router := task.NewRouter(task.RouterConfig{})
	b := NewBridge(router, func() string { return "bot" })
	router.Close()

	expired := false
	b.ExpiryDispatcher()("m", func(context.Context) { expired = true })
	assert.True(t, expired)
}
