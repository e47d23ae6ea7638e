package roles

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-frappuccino/kokobot/pkg/discord/events"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform/platformtest"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/task"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const wantList = "Roles :clown::\n" +
	"\t\t`0`: Artists\n" +
	"\t\t`1`: Gamers\n" +
	"\n" +
	"Use `+number` to add or `-number` to remove a role for yourself.\n" +
	"For example, `+0` will give you the role \"Artists\", and `-0` will remove that role for you."

type fakeScheduler struct {
	handlers  map[string]task.TaskHandler
	intervals []time.Duration
	tasks     []task.Task
	cancelled int
}

func (s *fakeScheduler) RegisterHandler(taskType string, h task.TaskHandler) {
	if s.handlers == nil {
		s.handlers = make(map[string]task.TaskHandler)
	}
	s.handlers[taskType] = h
}

func (s *fakeScheduler) ScheduleEvery(interval time.Duration, t task.Task) func() {
	s.intervals = append(s.intervals, interval)
	s.tasks = append(s.tasks, t)
	return func() { s.cancelled++ }
}

type harness struct {
	fake  *platformtest.Fake
	sched *fakeScheduler
	cfg   files.BotConfig
	mgr   *Manager
}

func addGuild(fake *platformtest.Fake, guildID, rolesChannel string) {
	fake.Channels[guildID] = []*discordgo.Channel{
		{ID: guildID + "-general", Name: "general", Type: discordgo.ChannelTypeGuildText, Position: 0},
		{ID: guildID + "-voice", Name: "roles-voice", Type: discordgo.ChannelTypeGuildVoice, Position: 1},
	}
	if rolesChannel != "" {
		fake.Channels[guildID] = append(fake.Channels[guildID],
			&discordgo.Channel{ID: rolesChannel, Name: "🌟roles", Type: discordgo.ChannelTypeGuildText, Position: 2})
	}
	for _, r := range []*discordgo.Role{
		{ID: guildID + "-everyone", Name: "@everyone", Position: 0},
		{ID: guildID + "-members", Name: "Members", Position: 1},
		{ID: guildID + "-gamers", Name: "Gamers", Position: 2},
		{ID: guildID + "-artists", Name: "Artists", Position: 3},
		{ID: guildID + "-officers", Name: "Officers", Position: 4},
		{ID: guildID + "-bot", Name: "Kokobot", Position: 5, Managed: true},
	} {
		fake.AddRole(guildID, r)
	}
}

func newHarness(t *testing.T, guilds ...string) *harness {
	t.Helper()
	fake := platformtest.New()
	addGuild(fake, "g1", "c-roles")
	fake.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "jay"}})
	fake.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "u2", Username: "kay"}, Nick: "kiki"})
	fake.History["c-roles"] = []string{"old1", "old2"}

	h := &harness{fake: fake, sched: &fakeScheduler{}, cfg: files.DefaultBotConfig()}
	if len(guilds) == 0 {
		guilds = []string{"g1"}
	}
	h.mgr = NewManager(fake, func() files.BotConfig { return h.cfg }, h.sched,
		func() []string { return guilds }, WithClock(func() time.Time { return now }))
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.mgr.Start(context.Background()))
	t.Cleanup(func() { _ = h.mgr.Stop(context.Background()) })
}

func (h *harness) say(t *testing.T, id, user, name, content string) {
	t.Helper()
	ev := events.MessageEvent{ID: id, ChannelID: "c-roles", GuildID: "g1", AuthorID: user, AuthorName: name, Content: content}
	require.NoError(t, h.mgr.HandleMessage(context.Background(), ev))
}

func TestStartClearsChannelAndPostsRoleMessages(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	assert.Equal(t, 2, h.fake.Purges["c-roles"])
	assert.Equal(t, []string{h.cfg.Roles.Greeting, wantList}, h.fake.Texts())
	require.Len(t, h.fake.Reactions, 1)
	assert.Equal(t, "m1", h.fake.Reactions[0].Ref.MessageID)
	assert.Equal(t, "🌟", h.fake.Reactions[0].Emoji)
	assert.Equal(t, 1, h.mgr.Channels())

	require.Len(t, h.sched.intervals, 1)
	assert.Equal(t, 10*time.Minute, h.sched.intervals[0])
	assert.Equal(t, TaskPurge, h.sched.tasks[0].Type)
	assert.Contains(t, h.sched.handlers, TaskPurge)
}

func TestSetupSkipsRecentGuild(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	require.NoError(t, h.mgr.SetupGuild(context.Background(), "g1"))
	assert.Len(t, h.fake.Texts(), 2)
}

func TestDisabledStartDoesNothing(t *testing.T) {
	h := newHarness(t)
	h.cfg.Roles.Enabled = false
	h.start(t)

	assert.Empty(t, h.fake.Sent)
	assert.Empty(t, h.sched.intervals)
	assert.False(t, h.mgr.IsRunning())
	require.NoError(t, h.mgr.HandleMessage(context.Background(), events.MessageEvent{ChannelID: "c-roles", Content: "+0"}))
	assert.Empty(t, h.fake.Sent)
}

func TestSetupGuildsAcrossGuilds(t *testing.T) {
	h := newHarness(t, "g1", "g2", "g3")
	addGuild(h.fake, "g2", "c-roles-2")
	addGuild(h.fake, "g3", "")
	h.start(t)

	assert.Equal(t, 2, h.mgr.Channels())
	assert.Len(t, h.fake.Texts(), 4)
}

func TestTextRoleGrantAndRevoke(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.say(t, "in1", "u1", "jay", "+1")
	h.say(t, "in2", "u1", "jay", "-0")

	assert.Equal(t, []platformtest.RoleChange{
		{GuildID: "g1", UserID: "u1", RoleID: "g1-gamers", Granted: true},
		{GuildID: "g1", UserID: "u1", RoleID: "g1-artists"},
	}, h.fake.RoleChanges())
	assert.Equal(t, []string{
		"Added \"Gamers\" role for jay.",
		"Removed \"Artists\" role for jay.",
	}, h.fake.Texts()[2:])

	assert.Equal(t, []string{"m3", "in1", "m4", "in2"}, h.fake.DeletedIDs())
	for _, d := range h.fake.Deleted {
		assert.Equal(t, 5*time.Second, d.Delay)
	}
}

func TestInvalidTextCommands(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.say(t, "in1", "u1", "jay", "hello")
	h.say(t, "in2", "u1", "jay", "+9")
	h.say(t, "in3", "u1", "jay", "+ 1")
	h.say(t, "in4", "u1", "jay", "$koko list")
	h.say(t, "in5", "u1", "jay", "   ")

	assert.Equal(t, []string{
		"Invalid role command.",
		"Invalid role number.",
		"Invalid role command.",
	}, h.fake.Texts()[2:])
	assert.Equal(t, []string{"m3", "in1", "m4", "in2", "m5", "in3"}, h.fake.DeletedIDs())
	assert.Empty(t, h.fake.RoleChanges())
}

func TestMessagesOutsideRolesChannelIgnored(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	ev := events.MessageEvent{ID: "in1", ChannelID: "g1-general", GuildID: "g1", AuthorID: "u1", Content: "+0"}
	require.NoError(t, h.mgr.HandleMessage(context.Background(), ev))
	ev = events.MessageEvent{ID: "in2", ChannelID: "c-roles", GuildID: "g1", AuthorID: "bot", FromSelf: true, Content: "Invalid"}
	require.NoError(t, h.mgr.HandleMessage(context.Background(), ev))

	assert.Len(t, h.fake.Texts(), 2)
}

func TestForbiddenReportedPerUser(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fake.GrantErr = errors.Wrap(errors.ErrForbidden, "grant role", errors.New("403"))

	h.say(t, "in1", "u2", "kiki", "+0")

	assert.Equal(t, []string{
		"Not enough permissions to add \"Artists\" role for kiki. (Check role hierarchy)",
	}, h.fake.Texts()[2:])
	assert.Equal(t, []string{"m3", "in1"}, h.fake.DeletedIDs())
}

func TestEmojiReactionChangesRole(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	react := func(msg, user, emoji string, added bool) {
		require.NoError(t, h.mgr.HandleReaction(ctx, interactive.ReactionEvent{
			MessageID: msg, ChannelID: "c-roles", GuildID: "g1", UserID: user, Emoji: emoji, Added: added,
		}))
	}
	react("m1", "u1", "🌟", true)
	react("m1", "u2", "\U0001F31F\uFE0F", false)
	react("m1", "u1", "🎉", true)
	react("m2", "u1", "🌟", true)
	react("m1", "bot", "🌟", true)

	assert.Equal(t, []platformtest.RoleChange{
		{GuildID: "g1", UserID: "u1", RoleID: "g1-members", Granted: true},
		{GuildID: "g1", UserID: "u2", RoleID: "g1-members"},
	}, h.fake.RoleChanges())
	assert.Len(t, h.fake.Texts(), 2)
}

func TestEmojiReactionForbiddenNotice(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fake.GrantErr = errors.Wrap(errors.ErrForbidden, "grant role", errors.New("403"))

	require.NoError(t, h.mgr.HandleReaction(context.Background(), interactive.ReactionEvent{
		MessageID: "m1", ChannelID: "c-roles", GuildID: "g1", UserID: "u2", Emoji: "🌟", Added: true,
	}))
	assert.Equal(t, []string{
		"Not enough permissions to add \"Members\" role for kiki. (Check role hierarchy)",
	}, h.fake.Texts()[2:])
	assert.Equal(t, []string{"m3"}, h.fake.DeletedIDs())
}

func TestRefreshRepostsMessages(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fake.AddRole("g1", &discordgo.Role{ID: "g1-dancers", Name: "Dancers", Position: 9})

	require.NoError(t, h.mgr.Refresh(context.Background(), "g1"))

	assert.Equal(t, []string{"m1", "m2"}, h.fake.DeletedIDs())
	texts := h.fake.Texts()
	require.Len(t, texts, 4)
	assert.Equal(t, h.cfg.Roles.Greeting, texts[2])
	assert.Contains(t, texts[3], "\t\t`0`: Dancers\n\t\t`1`: Artists\n\t\t`2`: Gamers\n")

	// The new numbering applies immediately.
	h.say(t, "in1", "u1", "jay", "+0")
	assert.Equal(t, "g1-dancers", h.fake.RoleChanges()[0].RoleID)

	require.NoError(t, h.mgr.Refresh(context.Background(), "unknown"))
}

func TestPurgeKeepsRoleMessages(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fake.History["c-roles"] = append(h.fake.History["c-roles"], "x1", "x2", "x3")

	require.NoError(t, h.sched.handlers[TaskPurge](context.Background(), nil))

	assert.Equal(t, []string{"m1", "m2"}, h.fake.History["c-roles"])
	assert.Equal(t, 5, h.fake.Purges["c-roles"])
}

func TestStopCancelsSweep(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mgr.Start(context.Background()))
	require.NoError(t, h.mgr.Stop(context.Background()))

	assert.Equal(t, 1, h.sched.cancelled)
	assert.False(t, h.mgr.IsRunning())
	assert.Zero(t, h.mgr.Channels())
}

func TestTextRolesOrderAndFilter(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "a", Name: "Senior Officers", Position: 7},
		{ID: "b", Name: "Painters", Position: 2},
		{ID: "c", Name: "Singers", Position: 5},
		{ID: "d", Name: "Server Booster", Position: 6},
	}
	got := textRoles(roles, files.DefaultBotConfig().Roles)
	require.Len(t, got, 2)
	assert.Equal(t, "Singers", got[0].Name)
	assert.Equal(t, "Painters", got[1].Name)
}
