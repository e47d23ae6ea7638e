package util

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/small-frappuccino/kokobot/pkg/discord/commands/core"
	"github.com/small-frappuccino/kokobot/pkg/discord/commands/notes"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/theme"
)

const (
	maxNickLength = 32
	maxPurge      = 100
	rosterLimit   = 500
)

// Lists opens paginated sessions on posted messages.
type Lists interface {
	OpenList(ctx context.Context, ref interactive.MessageRef, kind interactive.Kind, state interactive.ListState) (interactive.Session, error)
}

// Options wires the commands that reach outside the router.
type Options struct {
	Lists Lists
	// Shutdown stops the process; it must return without waiting for the
	// shutdown to finish.
	Shutdown func()
	// Now is the clock used by ping and the roster. Defaults to time.Now.
	Now func() time.Time
}

// RegisterUtilCommands registers nick, ping, ava, purge, users, shutdown and help.
func RegisterUtilCommands(router *core.CommandRouter, opts Options) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	checker := router.GetPermissionChecker()

	router.RegisterCommand(core.NewSimpleCommand("nick", "Change your nickname; no argument removes it", "[nickname]",
		changeNick, true, false))
	router.RegisterCommand(core.NewSimpleCommand("ping", "Ping Kokobot", "",
		func(ctx *core.Context) error { return ping(ctx, opts.Now) }, false, false))
	router.RegisterCommand(core.NewSimpleCommand("ava", "Show a user's avatar", "[@user]",
		avatar, false, false).WithAliases("avatar"))
	router.RegisterCommand(core.NewSimpleCommand("purge", "Delete recent messages in this channel", "<count>",
		purge, true, true))
	router.RegisterCommand(core.NewSimpleCommand("users", "List members by join date", "",
		func(ctx *core.Context) error { return listUsers(ctx, opts.Lists, opts.Now) }, true, false))
	router.RegisterCommand(core.NewSimpleCommand("shutdown", "Shut Kokobot down", "",
		func(ctx *core.Context) error { return shutdown(ctx, checker, opts.Shutdown) }, false, false))
	router.RegisterCommand(core.NewSimpleCommand("help", "Show commands", "[command]",
		func(ctx *core.Context) error { return help(ctx, router.GetRegistry()) }, false, false))
}

func changeNick(ctx *core.Context) error {
	nick := ctx.Rest
	if utf8.RuneCountInString(nick) > maxNickLength {
		return core.NewCommandError(fmt.Sprintf("Nickname must be %d or fewer characters.", maxNickLength), false)
	}

	err := ctx.Platform.SetNickname(ctx, ctx.GuildID, ctx.UserID, nick)
	if errors.Is(err, errors.ErrForbidden) {
		return core.NewCommandError(fmt.Sprintf(
			"Cannot change nickname for you, <@%s>. Bot permissions hierarchy is lower than your roles or you're the owner.",
			ctx.UserID), false)
	}
	if err != nil {
		return err
	}

	shown := nick
	if shown == "" {
		shown = ctx.Message.AuthorName
		if u, err := ctx.Platform.User(ctx, ctx.UserID); err == nil {
			shown = u.Username
		}
	}
	ctx.Logger.Info("Changed nickname", "nick", nick)
	_, err = ctx.Reply.Text(ctx, ctx.ChannelID, fmt.Sprintf("Changed your nickname to %s, <@%s>.", shown, ctx.UserID))
	return err
}

func ping(ctx *core.Context, now func() time.Time) error {
	var recv time.Duration
	if !ctx.Message.Timestamp.IsZero() {
		recv = max(now().Sub(ctx.Message.Timestamp), 0)
	}

	start := now()
	ref, err := ctx.Reply.Text(ctx, ctx.ChannelID, ".")
	if err != nil {
		return err
	}
	send := now().Sub(start)

	return ctx.Platform.EditText(ctx, ref, fmt.Sprintf("Receive: `%d ms`\nSend: `%d ms`\nGateway: `%d ms`",
		recv.Milliseconds(), send.Milliseconds(), ctx.Platform.Latency().Milliseconds()))
}

func avatar(ctx *core.Context) error {
	target := ctx.UserID
	if len(ctx.Message.Mentions) > 0 {
		target = ctx.Message.Mentions[0]
	} else if id, ok := notes.ParseUserMention(ctx.Arg(0)); ok {
		target = id
	}

	u, err := ctx.Platform.User(ctx, target)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return core.NewCommandError("I can't find that user.", false)
		}
		return err
	}
	url := u.AvatarURL("1024")
	_, err = ctx.Reply.Embed(ctx, ctx.ChannelID, interactive.Display{
		Color:    theme.Avatar(),
		Author:   &interactive.Author{Name: u.Username, IconURL: url},
		ImageURL: url,
	})
	return err
}

func purge(ctx *core.Context) error {
	count, err := strconv.Atoi(ctx.Arg(0))
	if err != nil || count < 1 {
		return core.UsageError(ctx, "<count>")
	}

	if err := ctx.Platform.DeleteMessage(ctx, ctx.Message.Ref(), 0); err != nil {
		ctx.Logger.Warn("Failed to delete purge command", "err", err)
	}
	if count > maxPurge {
		return core.NewCommandError(fmt.Sprintf("<@%s>, you can only purge up to %d messages at a time.", ctx.UserID, maxPurge), false)
	}

	n, err := ctx.Platform.PurgeChannel(ctx, ctx.ChannelID, count)
	if err != nil && n == 0 {
		return err
	}
	ctx.Logger.Info("Purged messages", "requested", count, "deleted", n)
	_, err = ctx.Reply.Text(ctx, ctx.ChannelID, fmt.Sprintf("Purged %d of the %d messages requested by <@%s>.", n, count, ctx.UserID))
	return err
}

func listUsers(ctx *core.Context, lists Lists, now func() time.Time) error {
	ref, err := ctx.Reply.Text(ctx, ctx.ChannelID, "Listing users...")
	if err != nil {
		return err
	}
	members, err := ctx.Platform.GuildMembers(ctx, ctx.GuildID, rosterLimit)
	if err != nil {
		return fmt.Errorf("fetch members: %w", err)
	}

	requester := ctx.Message.AuthorName
	if u, err := ctx.Platform.User(ctx, ctx.UserID); err == nil {
		requester = u.Username
	}

	_, err = lists.OpenList(ctx, ref, interactive.KindUserRoster, interactive.ListState{
		Title:    "List of users and their join date, as requested by " + requester,
		Color:    theme.Roster(),
		PageSize: ctx.Config.Interactive.PageSize,
		Source:   interactive.SliceSource(RosterLines(members, now())),
	})
	if err != nil {
		return fmt.Errorf("open roster: %w", err)
	}
	ctx.Logger.Info("Sent user roster", "members", len(members))
	return nil
}

// RosterLines numbers members by join date, oldest first. Members with no
// join date sort last.
func RosterLines(members []*discordgo.Member, now time.Time) []string {
	sorted := slices.Clone(members)
	slices.SortStableFunc(sorted, func(a, b *discordgo.Member) int {
		switch {
		case a.JoinedAt.IsZero() && b.JoinedAt.IsZero():
			return 0
		case a.JoinedAt.IsZero():
			return 1
		case b.JoinedAt.IsZero():
			return -1
		}
		return cmp.Compare(a.JoinedAt.UnixNano(), b.JoinedAt.UnixNano())
	})

	lines := make([]string, 0, len(sorted))
	for i, m := range sorted {
		name := "unknown"
		if m.User != nil {
			name = m.User.Username
		}
		nick := cmp.Or(m.Nick, name)

		joined := "UNKNOWN"
		if !m.JoinedAt.IsZero() {
			joined = m.JoinedAt.Format("01-02-2006") + " (" + humanize.RelTime(m.JoinedAt, now, "ago", "from now") + ")"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%s): %s", i+1, nick, name, joined))
	}
	return lines
}

func shutdown(ctx *core.Context, checker *core.PermissionChecker, stop func()) error {
	if !checker.HasPermission(ctx, ctx.GuildID, ctx.UserID) {
		name := ctx.Message.AuthorName
		if name == "" {
			name = "<@" + ctx.UserID + ">"
		}
		return core.NewCommandError("Cannot shutdown as "+name, true)
	}
	if _, err := ctx.Reply.Text(ctx, ctx.ChannelID, "Shutting down bot..."); err != nil {
		ctx.Logger.Warn("Failed to announce shutdown", "err", err)
	}
	ctx.Logger.Info("Shutdown requested")
	if stop != nil {
		stop()
	}
	return nil
}

func help(ctx *core.Context, registry *core.CommandRegistry) error {
	prefix := ctx.Config.Prefix
	if name := ctx.Arg(0); name != "" {
		cmd, ok := registry.GetCommand(strings.TrimPrefix(name, prefix))
		if !ok {
			return core.NewCommandError(fmt.Sprintf("No command called `%s`.", name), false)
		}
		_, err := ctx.Reply.Embed(ctx, ctx.ChannelID, interactive.Display{
			Title: prefix + cmd.Name(),
			Body:  describe(prefix, cmd),
			Color: theme.Help(),
		})
		return err
	}

	var b strings.Builder
	for _, cmd := range registry.GetAllCommands() {
		fmt.Fprintf(&b, "`%s%s` -- %s\n", prefix, cmd.Name(), cmd.Description())
	}
	fmt.Fprintf(&b, "\nUse `%shelp <command>` for more information.", prefix)
	_, err := ctx.Reply.Embed(ctx, ctx.ChannelID, interactive.Display{
		Title: "Kokobot commands",
		Body:  b.String(),
		Color: theme.Help(),
	})
	return err
}

func describe(prefix string, cmd core.Command) string {
	var b strings.Builder
	b.WriteString(cmd.Description())
	b.WriteString("\n\n")
	group, ok := cmd.(*core.GroupCommand)
	if !ok {
		fmt.Fprintf(&b, "Usage: `%s`", strings.TrimSpace(prefix+cmd.Name()+" "+cmd.Usage()))
		return b.String()
	}
	for _, sub := range group.SubCommands() {
		fmt.Fprintf(&b, "`%s`  %s\n", strings.TrimSpace(prefix+cmd.Name()+" "+sub.Name()+" "+sub.Usage()), sub.Description())
	}
	return b.String()
}
