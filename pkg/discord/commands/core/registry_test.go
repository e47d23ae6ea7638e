package core

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/discord/events"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform/platformtest"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*CommandRouter, *platformtest.Fake) {
	t.Helper()
	fake := platformtest.New()
	cfg := files.DefaultBotConfig()
	cfg.OwnerID = "owner"
	return NewCommandRouter(fake, func() files.BotConfig { return cfg }), fake
}

func message(content string) events.MessageEvent {
	return events.MessageEvent{
		ID:        "in",
		ChannelID: "c1",
		GuildID:   "g1",
		AuthorID:  "u1",
		Content:   content,
	}
}

func TestHandleMessageRunsCommandWithArgs(t *testing.T) {
	router, _ := newTestRouter(t)

	var got *Context
	router.RegisterCommand(NewSimpleCommand("echo", "Echo", "<text>", func(ctx *Context) error {
		got = ctx
		return nil
	}, false, false))

	require.NoError(t, router.HandleMessage(context.Background(), message("$ECHO  hello   world ")))
	require.NotNil(t, got)
	assert.Equal(t, "echo", got.Path)
	assert.Equal(t, []string{"hello", "world"}, got.Args)
	assert.Equal(t, "hello   world", got.Rest)
	assert.Equal(t, "hello", got.Arg(0))
	assert.Equal(t, "", got.Arg(5))
}

func TestHandleMessageIgnoresOtherText(t *testing.T) {
	router, fake := newTestRouter(t)
	calls := 0
	router.RegisterCommand(NewSimpleCommand("echo", "", "", func(*Context) error {
		calls++
		return nil
	}, false, false))

	for _, content := range []string{"echo hi", "$ echo", "$unknown", "", "$"} {
		require.NoError(t, router.HandleMessage(context.Background(), message(content)))
	}
	self := message("$echo")
	self.FromSelf = true
	require.NoError(t, router.HandleMessage(context.Background(), self))

	assert.Zero(t, calls)
	assert.Empty(t, fake.Sent)
}

func TestHandleMessageResolvesAliases(t *testing.T) {
	router, _ := newTestRouter(t)
	calls := 0
	router.RegisterCommand(NewSimpleCommand("avatar", "", "", func(*Context) error {
		calls++
		return nil
	}, false, false).WithAliases("ava"))

	require.NoError(t, router.HandleMessage(context.Background(), message("$ava")))
	assert.Equal(t, 1, calls)
}

func TestGroupCommandDispatchesSubcommand(t *testing.T) {
	router, fake := newTestRouter(t)
	group := NewGroupCommand("koko", "Notes", router.GetPermissionChecker())

	var path, rest string
	group.AddSubCommand(NewSimpleCommand("remove", "", "<name>", func(ctx *Context) error {
		path, rest = ctx.Path, ctx.Rest
		return nil
	}, false, false).WithAliases("delete"))
	router.RegisterCommand(group)

	require.NoError(t, router.HandleMessage(context.Background(), message("$koko delete my note")))
	assert.Equal(t, "koko remove", path)
	assert.Equal(t, "my note", rest)

	require.NoError(t, router.HandleMessage(context.Background(), message("$koko nope")))
	texts := fake.Texts()
	require.Len(t, texts, 1)
	assert.Equal(t, "Usage: `$koko <remove> ...`", texts[0])
}

func TestPermissionDeniedIsEphemeral(t *testing.T) {
	router, fake := newTestRouter(t)
	calls := 0
	router.RegisterCommand(NewSimpleCommand("purge", "", "", func(*Context) error {
		calls++
		return nil
	}, true, true))

	require.NoError(t, router.HandleMessage(context.Background(), message("$purge 5")))
	assert.Zero(t, calls)
	assert.Equal(t, []string{"You do not have permission to use this command"}, fake.Texts())
	assert.ElementsMatch(t, []string{"in", fake.Sent[0].Ref.MessageID}, fake.DeletedIDs())
}

func TestAdminRoleAndOwnerArePermitted(t *testing.T) {
	router, fake := newTestRouter(t)
	fake.AddRole("g1", &discordgo.Role{ID: "r1", Name: "Officers"})
	fake.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "u1"}, Roles: []string{"r1"}})

	calls := 0
	router.RegisterCommand(NewSimpleCommand("purge", "", "", func(ctx *Context) error {
		calls++
		return nil
	}, true, true))

	require.NoError(t, router.HandleMessage(context.Background(), message("$purge")))
	owner := message("$purge")
	owner.AuthorID = "owner"
	require.NoError(t, router.HandleMessage(context.Background(), owner))
	assert.Equal(t, 2, calls)
}

func TestGuildOnlyCommandInDM(t *testing.T) {
	router, fake := newTestRouter(t)
	router.RegisterCommand(NewSimpleCommand("users", "", "", func(*Context) error { return nil }, true, false))

	dm := message("$users")
	dm.GuildID = ""
	require.NoError(t, router.HandleMessage(context.Background(), dm))
	assert.Equal(t, []string{"This command can only be used in a server"}, fake.Texts())
}

func TestCommandErrorsAreReported(t *testing.T) {
	router, fake := newTestRouter(t)
	router.RegisterCommand(NewSimpleCommand("visible", "", "", func(*Context) error {
		return NewCommandError("`*x` already exist.", false)
	}, false, false))
	router.RegisterCommand(NewSimpleCommand("invalid", "", "", func(*Context) error {
		return NewValidationError("count", "Count must be a number.")
	}, false, false))

	require.NoError(t, router.HandleMessage(context.Background(), message("$visible")))
	require.NoError(t, router.HandleMessage(context.Background(), message("$invalid")))
	assert.Equal(t, []string{"`*x` already exist.", "Count must be a number."}, fake.Texts())
	assert.Empty(t, fake.Deleted)
}

func TestInternalErrorsCarryReference(t *testing.T) {
	router, fake := newTestRouter(t)
	router.RegisterCommand(NewSimpleCommand("boom", "", "", func(*Context) error {
		return fmt.Errorf("database is locked")
	}, false, false))
	router.RegisterCommand(NewSimpleCommand("panic", "", "", func(*Context) error {
		panic("nil map")
	}, false, false))

	require.NoError(t, router.HandleMessage(context.Background(), message("$boom")))
	require.NoError(t, router.HandleMessage(context.Background(), message("$panic")))

	texts := fake.Texts()
	require.Len(t, texts, 2)
	for _, text := range texts {
		assert.True(t, strings.HasPrefix(text, "An internal error occurred. Reference: `"), text)
		assert.NotContains(t, text, "database")
	}
}

func TestForbiddenPlatformError(t *testing.T) {
	router, fake := newTestRouter(t)
	router.RegisterCommand(NewSimpleCommand("nick", "", "", func(*Context) error {
		return errors.Wrap(errors.ErrForbidden, "set nickname", fmt.Errorf("403"))
	}, false, false))

	require.NoError(t, router.HandleMessage(context.Background(), message("$nick x")))
	assert.Equal(t, []string{"I don't have permission to do that here."}, fake.Texts())
}

func TestGetAllCommandsSorted(t *testing.T) {
	r := NewCommandRegistry()
	for _, n := range []string{"ping", "help", "koko"} {
		r.Register(NewSimpleCommand(n, "", "", nil, false, false))
	}
	var names []string
	for _, c := range r.GetAllCommands() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"help", "koko", "ping"}, names)
}

type outcomeRecorder struct{ got []string }

func (o *outcomeRecorder) CommandHandled(command, outcome string) {
	o.got = append(o.got, command+":"+outcome)
}

func TestObserverSeesOutcomes(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := &outcomeRecorder{}
	router.SetObserver(rec)
	router.RegisterCommand(NewSimpleCommand("ok", "", "", func(*Context) error { return nil }, false, false))
	router.RegisterCommand(NewSimpleCommand("user", "", "", func(*Context) error {
		return NewCommandError("nope", false)
	}, false, false))
	router.RegisterCommand(NewSimpleCommand("bad", "", "", func(*Context) error {
		return fmt.Errorf("boom")
	}, false, false))

	for _, c := range []string{"$ok", "$user", "$bad"} {
		require.NoError(t, router.HandleMessage(context.Background(), message(c)))
	}
	assert.Equal(t, []string{"ok:ok", "user:user_error", "bad:error"}, rec.got)
}
