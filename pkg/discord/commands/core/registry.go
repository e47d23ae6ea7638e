package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/small-frappuccino/kokobot/pkg/discord/events"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/log"
)

// CommandRegistry maps names and aliases to commands.
type CommandRegistry struct {
	commands map[string]Command
	aliases  map[string]string
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]Command),
		aliases:  make(map[string]string),
	}
}

// Register adds cmd under its name and any aliases.
func (r *CommandRegistry) Register(cmd Command) {
	name := strings.ToLower(cmd.Name())
	r.commands[name] = cmd
	if a, ok := cmd.(Aliased); ok {
		for _, alias := range a.Aliases() {
			r.aliases[strings.ToLower(alias)] = name
		}
	}
}

// GetCommand looks up a command by name or alias, case-insensitively.
func (r *CommandRegistry) GetCommand(name string) (Command, bool) {
	name = strings.ToLower(name)
	if cmd, ok := r.commands[name]; ok {
		return cmd, true
	}
	if target, ok := r.aliases[name]; ok {
		cmd, ok := r.commands[target]
		return cmd, ok
	}
	return nil, false
}

// GetAllCommands returns the commands sorted by name.
func (r *CommandRegistry) GetAllCommands() []Command {
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Outcomes reported to a CommandObserver.
const (
	OutcomeOK        = "ok"
	OutcomeUserError = "user_error"
	OutcomeError     = "error"
)

// CommandObserver is told about every command run.
type CommandObserver interface {
	CommandHandled(command, outcome string)
}

// CommandRouter parses prefixed messages and runs the matching command.
type CommandRouter struct {
	registry    *CommandRegistry
	platform    platform.Platform
	config      func() files.BotConfig
	responder   *Responder
	permChecker *PermissionChecker
	observer    CommandObserver
}

// NewCommandRouter creates a router. config is read on every message so
// prefix and role changes apply without a restart.
func NewCommandRouter(p platform.Platform, config func() files.BotConfig) *CommandRouter {
	cfg := config()
	return &CommandRouter{
		registry:    NewCommandRegistry(),
		platform:    p,
		config:      config,
		responder:   NewResponder(p, cfg.Notes.NoticeTTL.Duration),
		permChecker: NewPermissionChecker(p, config),
	}
}

func (cr *CommandRouter) RegisterCommand(cmd Command) { cr.registry.Register(cmd) }

// SetObserver installs o; nil disables reporting.
func (cr *CommandRouter) SetObserver(o CommandObserver) { cr.observer = o }

func (cr *CommandRouter) GetRegistry() *CommandRegistry { return cr.registry }

func (cr *CommandRouter) GetResponder() *Responder { return cr.responder }

func (cr *CommandRouter) GetPermissionChecker() *PermissionChecker { return cr.permChecker }

// HandleMessage runs the command addressed by ev, if any. Failures are
// reported to the channel; the returned error is always nil so a broken
// command never triggers a retry.
func (cr *CommandRouter) HandleMessage(ctx context.Context, ev events.MessageEvent) error {
	if ev.FromSelf || ev.AuthorBot {
		return nil
	}
	cfg := cr.config()
	name, rest, ok := parseInvocation(ev.Content, cfg.Prefix)
	if !ok {
		return nil
	}
	cmd, exists := cr.registry.GetCommand(name)
	if !exists {
		return nil
	}

	c := &Context{
		Context:   ctx,
		Platform:  cr.platform,
		Config:    cfg,
		Reply:     cr.responder,
		Message:   ev,
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		UserID:    ev.AuthorID,
		IsOwner:   cr.permChecker.IsOwner(ev.AuthorID),
		Path:      cmd.Name(),
		Args:      strings.Fields(rest),
		Rest:      rest,
	}
	c.Logger = log.ApplicationLogger().With("command", c.Path, "guildID", c.GuildID, "userID", c.UserID)

	if cmd.RequiresGuild() && c.GuildID == "" {
		cr.report(c, NewCommandError("This command can only be used in a server", true))
		return nil
	}
	if cmd.RequiresPermissions() {
		c.IsAdmin = cr.permChecker.IsAdmin(ctx, c.GuildID, c.UserID)
		if !c.IsOwner && !c.IsAdmin {
			c.Logger.Warn("User without permission tried to use command")
			cr.report(c, NewCommandError("You do not have permission to use this command", true))
			return nil
		}
	}

	c.Logger.Debug("Executing command")
	err := runCommand(c, cmd)
	if err != nil {
		cr.report(c, err)
	}
	if cr.observer != nil {
		cr.observer.CommandHandled(cmd.Name(), outcome(err))
	}
	return nil
}

func outcome(err error) string {
	var cmdErr *CommandError
	var valErr *ValidationError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &cmdErr), errors.As(err, &valErr), errors.IsUserFacing(err):
		return OutcomeUserError
	default:
		return OutcomeError
	}
}

// runCommand calls cmd.Handle and turns a panic into an error.
func runCommand(c *Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %s panicked: %v\n%s", c.Path, r, debug.Stack())
		}
	}()
	return cmd.Handle(c)
}

// report shows err to the user. Expected failures get their own text;
// anything else is logged with a reference the user can quote.
func (cr *CommandRouter) report(c *Context, err error) {
	invoking := c.Message.Ref()

	var cmdErr *CommandError
	var valErr *ValidationError
	switch {
	case errors.As(err, &cmdErr):
		if cmdErr.Ephemeral {
			cr.send(c, cr.responder.Ephemeral(c, invoking, cmdErr.Message))
			return
		}
		_, sendErr := cr.responder.Text(c, c.ChannelID, cmdErr.Message)
		cr.send(c, sendErr)
	case errors.As(err, &valErr):
		_, sendErr := cr.responder.Text(c, c.ChannelID, valErr.Message)
		cr.send(c, sendErr)
	case errors.Is(err, errors.ErrForbidden):
		_, sendErr := cr.responder.Text(c, c.ChannelID, "I don't have permission to do that here.")
		cr.send(c, sendErr)
	case errors.Is(err, errors.ErrUnauthorized):
		cr.send(c, cr.responder.Ephemeral(c, invoking, "You do not have permission to use this command"))
	default:
		ref := strings.SplitN(uuid.NewString(), "-", 2)[0]
		log.ErrorLoggerRaw().Error("Command execution failed",
			"ref", ref,
			"command", c.Path,
			"guildID", c.GuildID,
			"channelID", c.ChannelID,
			"userID", c.UserID,
			"err", err,
		)
		_, sendErr := cr.responder.Text(c, c.ChannelID, fmt.Sprintf("An internal error occurred. Reference: `%s`", ref))
		cr.send(c, sendErr)
	}
}

func (cr *CommandRouter) send(c *Context, err error) {
	if err != nil {
		c.Logger.Warn("Failed to deliver command reply", "err", err)
	}
}

// parseInvocation splits "<prefix><name> <rest>". The name must follow the
// prefix directly.
func parseInvocation(content, prefix string) (name, rest string, ok bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", "", false
	}
	body := content[len(prefix):]
	if body == "" || unicode.IsSpace(rune(body[0])) {
		return "", "", false
	}
	name, rest = cutWord(body)
	return strings.ToLower(name), rest, true
}

// cutWord splits s at the first run of whitespace.
func cutWord(s string) (word, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// GroupCommand dispatches its first argument to a subcommand.
type GroupCommand struct {
	name        string
	description string
	subcommands map[string]SubCommand
	aliases     map[string]string
	checker     *PermissionChecker
}

func NewGroupCommand(name, description string, checker *PermissionChecker) *GroupCommand {
	return &GroupCommand{
		name:        name,
		description: description,
		subcommands: make(map[string]SubCommand),
		aliases:     make(map[string]string),
		checker:     checker,
	}
}

// AddSubCommand adds subcmd and its aliases.
func (gc *GroupCommand) AddSubCommand(subcmd SubCommand) {
	name := strings.ToLower(subcmd.Name())
	gc.subcommands[name] = subcmd
	if a, ok := subcmd.(Aliased); ok {
		for _, alias := range a.Aliases() {
			gc.aliases[strings.ToLower(alias)] = name
		}
	}
}

// SubCommands returns the subcommands sorted by name.
func (gc *GroupCommand) SubCommands() []SubCommand {
	out := make([]SubCommand, 0, len(gc.subcommands))
	for _, s := range gc.subcommands {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b SubCommand) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

func (gc *GroupCommand) Name() string        { return gc.name }
func (gc *GroupCommand) Description() string { return gc.description }

// Usage lists the subcommand names.
func (gc *GroupCommand) Usage() string {
	names := make([]string, 0, len(gc.subcommands))
	for _, s := range gc.SubCommands() {
		names = append(names, s.Name())
	}
	return "<" + strings.Join(names, "|") + "> ..."
}

// RequiresGuild is checked per subcommand.
func (gc *GroupCommand) RequiresGuild() bool { return false }

// RequiresPermissions is checked per subcommand.
func (gc *GroupCommand) RequiresPermissions() bool { return false }

func (gc *GroupCommand) lookup(name string) (SubCommand, bool) {
	name = strings.ToLower(name)
	if s, ok := gc.subcommands[name]; ok {
		return s, true
	}
	if target, ok := gc.aliases[name]; ok {
		s, ok := gc.subcommands[target]
		return s, ok
	}
	return nil, false
}

func (gc *GroupCommand) Handle(ctx *Context) error {
	subName, rest := cutWord(ctx.Rest)
	subcmd, exists := gc.lookup(subName)
	if !exists {
		return UsageError(ctx, gc.Usage())
	}

	ctx.Path = gc.name + " " + subcmd.Name()
	ctx.Rest = rest
	ctx.Args = strings.Fields(rest)
	ctx.Logger = ctx.Logger.With("subcommand", subcmd.Name())

	if subcmd.RequiresGuild() && ctx.GuildID == "" {
		return NewCommandError("This command can only be used in a server", true)
	}
	if subcmd.RequiresPermissions() {
		ctx.IsAdmin = gc.checker.IsAdmin(ctx, ctx.GuildID, ctx.UserID)
		if !ctx.IsOwner && !ctx.IsAdmin {
			return NewCommandError("You do not have permission to use this command", true)
		}
	}
	return subcmd.Handle(ctx)
}

// SimpleCommand implements Command and SubCommand from a function.
type SimpleCommand struct {
	name                string
	description         string
	usage               string
	aliases             []string
	handler             func(ctx *Context) error
	requiresGuild       bool
	requiresPermissions bool
}

func NewSimpleCommand(
	name, description, usage string,
	handler func(ctx *Context) error,
	requiresGuild, requiresPermissions bool,
) *SimpleCommand {
	return &SimpleCommand{
		name:                name,
		description:         description,
		usage:               usage,
		handler:             handler,
		requiresGuild:       requiresGuild,
		requiresPermissions: requiresPermissions,
	}
}

// WithAliases returns sc reachable under extra names.
func (sc *SimpleCommand) WithAliases(aliases ...string) *SimpleCommand {
	sc.aliases = append(sc.aliases, aliases...)
	return sc
}

func (sc *SimpleCommand) Name() string              { return sc.name }
func (sc *SimpleCommand) Description() string       { return sc.description }
func (sc *SimpleCommand) Usage() string             { return sc.usage }
func (sc *SimpleCommand) Aliases() []string         { return sc.aliases }
func (sc *SimpleCommand) Handle(ctx *Context) error { return sc.handler(ctx) }
func (sc *SimpleCommand) RequiresGuild() bool       { return sc.requiresGuild }
func (sc *SimpleCommand) RequiresPermissions() bool { return sc.requiresPermissions }
