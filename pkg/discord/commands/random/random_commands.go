package random

import (
	"context"
	"fmt"
	"strconv"

	"github.com/small-frappuccino/kokobot/pkg/discord/commands/core"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/theme"
)

// Mixers opens mixer sessions on posted messages.
type Mixers interface {
	OpenMixer(ctx context.Context, ref interactive.MessageRef, ownerID string, groups int, author interactive.Author) (interactive.Session, error)
}

// RegisterRandomCommands registers the $random group.
func RegisterRandomCommands(router *core.CommandRouter, mixers Mixers) {
	group := core.NewGroupCommand("random", "Random the RNG", router.GetPermissionChecker())
	group.AddSubCommand(core.NewSimpleCommand("mixer", "Randomize reacting members into groups", "[groups]",
		func(ctx *core.Context) error { return openMixer(ctx, mixers) }, false, false))
	router.RegisterCommand(group)
}

func openMixer(ctx *core.Context, mixers Mixers) error {
	bounds := ctx.Config.Mixer
	groups := bounds.DefaultGroups
	if arg := ctx.Arg(0); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return core.UsageError(ctx, "[groups]")
		}
		groups = n
	}
	if err := interactive.ValidateGroupCount(groups, bounds.MinGroups, bounds.MaxGroups); err != nil {
		return core.NewCommandError(err.Error(), false)
	}

	author := interactive.Author{Name: ctx.Message.AuthorName}
	if u, err := ctx.Platform.User(ctx, ctx.UserID); err == nil {
		author.Name = u.Username
		author.IconURL = u.AvatarURL("")
	}

	ref, err := ctx.Reply.Embed(ctx, ctx.ChannelID, interactive.Display{
		Title:  fmt.Sprintf("Random Mixer for %d Groups", groups),
		Body:   "Initializing...",
		Color:  theme.Loading(),
		Author: &author,
	})
	if err != nil {
		return err
	}

	_, err = mixers.OpenMixer(ctx, ref, ctx.UserID, groups, author)
	var countErr *interactive.GroupCountError
	if errors.As(err, &countErr) {
		return core.NewCommandError(countErr.Error(), false)
	}
	if err != nil {
		return fmt.Errorf("open mixer: %w", err)
	}
	ctx.Logger.Info("Mixer opened", "groups", groups, "messageID", ref.MessageID)
	return nil
}
