package random

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/discord/commands/core"
	"github.com/small-frappuccino/kokobot/pkg/discord/events"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform/platformtest"
	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*core.CommandRouter, *platformtest.Fake, *interactive.Manager) {
	t.Helper()
	fake := platformtest.New()
	fake.Users["u1"] = &discordgo.User{ID: "u1", Username: "jay"}
	cfg := files.DefaultBotConfig()

	manager := interactive.NewManager(fake, interactive.MixerBounds(cfg.Mixer.MinGroups, cfg.Mixer.MaxGroups))
	t.Cleanup(func() { manager.Close(context.Background()) })

	router := core.NewCommandRouter(fake, func() files.BotConfig { return cfg })
	RegisterRandomCommands(router, manager)
	return router, fake, manager
}

func run(t *testing.T, router *core.CommandRouter, content string) {
	t.Helper()
	ev := events.MessageEvent{ID: "in", ChannelID: "c1", GuildID: "g1", AuthorID: "u1", Content: content}
	require.NoError(t, router.HandleMessage(context.Background(), ev))
}

func TestMixerDefaultsToTwoGroups(t *testing.T) {
	router, fake, manager := setup(t)
	run(t, router, "$random mixer")

	embeds := fake.Embeds()
	require.Len(t, embeds, 1)
	assert.Equal(t, "Random Mixer for 2 Groups", embeds[0].Title)
	assert.Equal(t, "jay", embeds[0].Author.Name)

	sessions := manager.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, interactive.KindMixer, sessions[0].Kind)
	assert.Equal(t, "u1", sessions[0].OwnerID)
	assert.Equal(t, 2, sessions[0].Mixer.GroupCount)
}

func TestMixerRejectsBadCounts(t *testing.T) {
	router, fake, manager := setup(t)
	run(t, router, "$random mixer 1")
	run(t, router, "$random mixer 6")
	run(t, router, "$random mixer lots")

	assert.Equal(t, []string{
		"Invalid number of groups to mix.",
		"Cannot mix more than 5 groups.",
		"Usage: `$random mixer [groups]`",
	}, fake.Texts())
	assert.Empty(t, fake.Embeds())
	assert.Empty(t, manager.Sessions())
}
