package notes

import (
	"context"
	"fmt"
	"strings"

	"github.com/small-frappuccino/kokobot/pkg/discord/commands/core"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/storage"
	"github.com/small-frappuccino/kokobot/pkg/theme"
)

// Store is the part of the note store the commands use.
type Store interface {
	AddNote(ctx context.Context, n storage.Note) error
	GetNote(ctx context.Context, name string) (storage.Note, error)
	DeleteNote(ctx context.Context, name, requesterID string, override bool) (storage.Note, error)
	CountNotes(ctx context.Context, ownerID string) (int, error)
	ListNoteNames(ctx context.Context, ownerID string, offset, limit int) ([]string, error)
	CountSearch(ctx context.Context, query string) (int, error)
	SearchNoteNames(ctx context.Context, query string, offset, limit int) ([]string, error)
}

// Lists opens paginated sessions on posted messages.
type Lists interface {
	OpenList(ctx context.Context, ref interactive.MessageRef, kind interactive.Kind, state interactive.ListState) (interactive.Session, error)
}

// RegisterNoteCommands registers the $koko group.
func RegisterNoteCommands(router *core.CommandRouter, store Store, lists Lists) {
	checker := router.GetPermissionChecker()
	group := core.NewGroupCommand("koko", "Koko the notetaker", checker)

	group.AddSubCommand(core.NewSimpleCommand("add", "Add a note for a name", "<name> <note>",
		func(ctx *core.Context) error { return addNote(ctx, store) }, false, false))
	group.AddSubCommand(core.NewSimpleCommand("remove", "Remove a note you added", "<name>",
		func(ctx *core.Context) error { return removeNote(ctx, store, checker) }, false, false).
		WithAliases("delete"))
	group.AddSubCommand(core.NewSimpleCommand("who", "Show who added a note", "<name>",
		func(ctx *core.Context) error { return whoNote(ctx, store) }, false, false))
	group.AddSubCommand(core.NewSimpleCommand("list", "List notes, optionally of one user", "[@user]",
		func(ctx *core.Context) error { return listNotes(ctx, store, lists) }, false, false))
	group.AddSubCommand(core.NewSimpleCommand("search", "Search note names", "<query>",
		func(ctx *core.Context) error { return searchNotes(ctx, store, lists) }, false, false))

	router.RegisterCommand(group)
}

func addNote(ctx *core.Context, store Store) error {
	name, value, _ := strings.Cut(ctx.Rest, " ")
	value = strings.TrimSpace(value)
	if name == "" || value == "" {
		return core.UsageError(ctx, "<name> <note>")
	}

	err := store.AddNote(ctx, storage.Note{
		Name:      name,
		Value:     value,
		OwnerID:   ctx.UserID,
		GuildID:   ctx.GuildID,
		CreatedAt: ctx.Message.Timestamp,
	})
	switch {
	case errors.Is(err, errors.ErrConflict):
		return core.NewCommandError(fmt.Sprintf("`*%s` already exist.", name), false)
	case err != nil:
		return err
	}
	ctx.Logger.Info("Note added", "name", name)
	_, err = ctx.Reply.Text(ctx, ctx.ChannelID, fmt.Sprintf("Added `*%s` with note: %s", name, value))
	return err
}

func removeNote(ctx *core.Context, store Store, checker *core.PermissionChecker) error {
	name := ctx.Rest
	if name == "" {
		return core.UsageError(ctx, "<name>")
	}

	override := ctx.IsOwner || checker.IsAdmin(ctx, ctx.GuildID, ctx.UserID)
	n, err := store.DeleteNote(ctx, name, ctx.UserID, override)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return missing(name)
	case errors.Is(err, errors.ErrNotOwner):
		return core.NewCommandError(fmt.Sprintf("`*%s` belongs to %s.\nCannot delete a note that's not your's, <@%s>.",
			name, displayName(ctx, ctx.Platform, n.OwnerID), ctx.UserID), false)
	case err != nil:
		return err
	}
	ctx.Logger.Info("Note removed", "name", name, "override", n.OwnerID != ctx.UserID)
	_, err = ctx.Reply.Text(ctx, ctx.ChannelID, fmt.Sprintf("Removed `*%s`.", name))
	return err
}

func whoNote(ctx *core.Context, store Store) error {
	name := ctx.Rest
	if name == "" {
		return core.UsageError(ctx, "<name>")
	}
	n, err := store.GetNote(ctx, name)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return missing(name)
	case err != nil:
		return err
	}
	_, err = ctx.Reply.Text(ctx, ctx.ChannelID, fmt.Sprintf("`*%s` was added by %s.", name, displayName(ctx, ctx.Platform, n.OwnerID)))
	return err
}

func listNotes(ctx *core.Context, store Store, lists Lists) error {
	owner := ""
	if arg := ctx.Arg(0); arg != "" {
		id, ok := ParseUserMention(arg)
		if !ok {
			return core.UsageError(ctx, "[@user]")
		}
		owner = id
	}

	title := "List Results: Notes of @everyone"
	if owner != "" {
		title = "List Results: Notes of " + displayName(ctx, ctx.Platform, owner)
	}
	return openList(ctx, lists, "Listing...", interactive.KindNoteList, interactive.ListState{
		Title:      title,
		Color:      theme.NoteList(),
		PageSize:   ctx.Config.Interactive.PageSize,
		FilterUser: owner,
		Source:     ownerSource{store: store, ownerID: owner},
	})
}

func searchNotes(ctx *core.Context, store Store, lists Lists) error {
	query := strings.ReplaceAll(ctx.Rest, `"`, "")
	return openList(ctx, lists, "Searching...", interactive.KindNoteSearch, interactive.ListState{
		Title:    fmt.Sprintf("Search Results: Contains \"%s\"", query),
		Color:    theme.NoteSearch(),
		PageSize: ctx.Config.Interactive.PageSize,
		Query:    query,
		Source:   searchSource{store: store, query: query},
	})
}

// openList posts a placeholder and turns it into a list session.
func openList(ctx *core.Context, lists Lists, placeholder string, kind interactive.Kind, state interactive.ListState) error {
	ref, err := ctx.Reply.Text(ctx, ctx.ChannelID, placeholder)
	if err != nil {
		return err
	}
	sess, err := lists.OpenList(ctx, ref, kind, state)
	if err != nil {
		return fmt.Errorf("open %s: %w", kind, err)
	}
	ctx.Logger.Info("Sent note list", "kind", kind, "total", sess.List.Total)
	return nil
}

func missing(name string) error {
	return core.NewCommandError(fmt.Sprintf("`*%s` does not exist.", name), false)
}

// displayName resolves userID to a username, falling back to a mention.
func displayName(ctx context.Context, dir platform.Directory, userID string) string {
	if u, err := dir.User(ctx, userID); err == nil && u != nil {
		return u.Username
	}
	return "<@" + userID + ">"
}

// ParseUserMention extracts the ID from <@id> or <@!id>.
func ParseUserMention(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "<@") || !strings.HasSuffix(s, ">") {
		return "", false
	}
	id := strings.TrimPrefix(s[2:len(s)-1], "!")
	if id == "" || strings.Trim(id, "0123456789") != "" {
		return "", false
	}
	return id, true
}

type ownerSource struct {
	store   Store
	ownerID string
}

func (s ownerSource) Count(ctx context.Context) (int, error) {
	return s.store.CountNotes(ctx, s.ownerID)
}

func (s ownerSource) Lines(ctx context.Context, offset, limit int) ([]string, error) {
	names, err := s.store.ListNoteNames(ctx, s.ownerID, offset, limit)
	return starred(names), err
}

type searchSource struct {
	store Store
	query string
}

func (s searchSource) Count(ctx context.Context) (int, error) {
	return s.store.CountSearch(ctx, s.query)
}

func (s searchSource) Lines(ctx context.Context, offset, limit int) ([]string, error) {
	names, err := s.store.SearchNoteNames(ctx, s.query, offset, limit)
	return starred(names), err
}

func starred(names []string) []string {
	for i, n := range names {
		names[i] = "*" + n
	}
	return names
}
