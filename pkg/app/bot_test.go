package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-frappuccino/kokobot/pkg/discord/events"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform/platformtest"
	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/service"
	"github.com/small-frappuccino/kokobot/pkg/storage"
	"github.com/small-frappuccino/kokobot/pkg/theme"
)

type botHarness struct {
	bot      *bot
	fake     *platformtest.Fake
	store    *storage.Store
	config   *files.ConfigManager
	shutdown int
}

func newBotHarness(t *testing.T, controlAddr string) *botHarness {
	t.Helper()
	dir := t.TempDir()

	store := storage.NewStore(filepath.Join(dir, "notes.db"))
	require.NoError(t, store.Init())
	t.Cleanup(func() { _ = store.Close() })

	cm := files.NewConfigManagerWithPath(filepath.Join(dir, "settings.toml"))
	require.NoError(t, cm.LoadConfig())

	fake := platformtest.New()
	fake.Channels["g1"] = []*discordgo.Channel{
		{ID: "c-general", Name: "general", Type: discordgo.ChannelTypeGuildText},
		{ID: "c-roles", Name: "roles", Type: discordgo.ChannelTypeGuildText, Position: 1},
	}
	fake.AddRole("g1", &discordgo.Role{ID: "r-members", Name: "Members", Position: 1})
	fake.AddRole("g1", &discordgo.Role{ID: "r-gamers", Name: "Gamers", Position: 2})
	fake.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "owner", Username: "jay"}})

	h := &botHarness{fake: fake, store: store, config: cm}
	b, err := newBot(botDeps{
		Config:      cm,
		Store:       store,
		Platform:    fake,
		Guilds:      func() []string { return []string{"g1"} },
		ControlAddr: controlAddr,
		Shutdown:    func() { h.shutdown++ },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.stop(context.Background()) })
	h.bot = b
	return h
}

func serviceNames(infos []service.ServiceInfo) []string {
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}

func TestNewBotNeedsCoreDeps(t *testing.T) {
	_, err := newBot(botDeps{})
	assert.Error(t, err)
}

func TestServicesRegistered(t *testing.T) {
	h := newBotHarness(t, "")
	assert.ElementsMatch(t, []string{"notes", "bridge", "roles"}, serviceNames(h.bot.services.GetAllServices()))
	assert.Nil(t, h.bot.control)

	withControl := newBotHarness(t, "127.0.0.1:0")
	assert.ElementsMatch(t, []string{"notes", "bridge", "roles", "control"},
		serviceNames(withControl.bot.services.GetAllServices()))
}

func TestStartPostsRolesAndRecordsHeartbeat(t *testing.T) {
	h := newBotHarness(t, "")
	require.NoError(t, h.bot.start())

	for _, info := range h.bot.services.GetAllServices() {
		assert.Equal(t, service.StateRunning, info.State, info.Name)
	}

	texts := h.fake.Texts()
	require.NotEmpty(t, texts)
	assert.Equal(t, files.DefaultBotConfig().Roles.Greeting, texts[0])
	assert.Equal(t, 1, h.bot.roles.Channels())

	_, ok, err := h.store.GetHeartbeat(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, h.bot.stop(context.Background()))
	assert.False(t, h.bot.roles.IsRunning())
}

func TestCommandsAndShutdownWired(t *testing.T) {
	h := newBotHarness(t, "")
	ev := events.MessageEvent{ID: "m1", ChannelID: "c-general", GuildID: "g1", AuthorID: "owner", Content: "$koko add hi there"}
	require.NoError(t, h.bot.commands.HandleMessage(context.Background(), ev))
	assert.Equal(t, []string{"Added `*hi` with note: there"}, h.fake.Texts())

	cfg := h.config.Config()
	cfg.OwnerID = "owner"
	require.NoError(t, h.config.SaveConfig(cfg))

	ev.ID, ev.Content = "m2", "$shutdown"
	require.NoError(t, h.bot.commands.HandleMessage(context.Background(), ev))
	assert.Equal(t, 1, h.shutdown)
}

func TestApplyConfigSwitchesTheme(t *testing.T) {
	t.Cleanup(func() { _ = theme.SetCurrent("") })
	h := newBotHarness(t, "")

	cfg := h.config.Config()
	cfg.Theme = "halloween"
	h.bot.applyConfig(cfg)
	assert.Equal(t, "halloween", theme.Current().Name)

	cfg.Theme = "no-such-theme"
	h.bot.applyConfig(cfg)
	assert.Equal(t, "halloween", theme.Current().Name)
}

func TestMetricsExposeGauges(t *testing.T) {
	h := newBotHarness(t, "")
	families, err := h.bot.metrics.Registry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "kokobot_interactive_sessions_live")
	assert.Contains(t, names, "kokobot_roles_channels")
}
