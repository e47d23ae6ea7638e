package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/small-frappuccino/kokobot/pkg/discord/events"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
	"github.com/small-frappuccino/kokobot/pkg/files"
)

// Command is a prefix command such as "$ping".
type Command interface {
	Name() string
	Description() string
	// Usage is the argument synopsis shown in help and usage errors,
	// without the prefix and name.
	Usage() string
	Handle(ctx *Context) error
	RequiresGuild() bool
	RequiresPermissions() bool
}

// SubCommand is a command nested under a GroupCommand, such as "$koko add".
type SubCommand interface {
	Name() string
	Description() string
	Usage() string
	Handle(ctx *Context) error
	RequiresGuild() bool
	RequiresPermissions() bool
}

// Aliased is implemented by commands reachable under more than one name.
type Aliased interface {
	Aliases() []string
}

// Context carries everything a handler needs for one invocation.
type Context struct {
	context.Context

	Platform platform.Platform
	Config   files.BotConfig
	Logger   *slog.Logger
	Reply    *Responder

	Message   events.MessageEvent
	GuildID   string
	ChannelID string
	UserID    string
	IsOwner   bool
	IsAdmin   bool

	// Path is the resolved command path, e.g. "koko add".
	Path string
	// Args are the whitespace-separated tokens after Path.
	Args []string
	// Rest is the raw text after Path with surrounding space trimmed.
	Rest string
}

// Arg returns the i-th argument or "".
func (c *Context) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// CommandError is an expected failure whose message is shown to the user.
type CommandError struct {
	Message string
	// Ephemeral replies are deleted together with the invoking message
	// after the configured notice lifetime.
	Ephemeral bool
	Code      string
}

func (e *CommandError) Error() string {
	return e.Message
}

// NewCommandError creates a new command error
func NewCommandError(message string, ephemeral bool) *CommandError {
	return &CommandError{Message: message, Ephemeral: ephemeral}
}

// UsageError reports malformed arguments with the command's synopsis.
func UsageError(ctx *Context, usage string) *CommandError {
	line := ctx.Config.Prefix + ctx.Path
	if usage != "" {
		line += " " + usage
	}
	return &CommandError{Message: "Usage: `" + line + "`", Code: "usage"}
}

// ValidationError reports a single invalid argument.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// noticeTTL is used when the config does not set one.
const noticeTTL = 5 * time.Second
