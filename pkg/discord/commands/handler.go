package commands

import (
	"context"

	"github.com/small-frappuccino/kokobot/pkg/discord/commands/admin"
	"github.com/small-frappuccino/kokobot/pkg/discord/commands/core"
	"github.com/small-frappuccino/kokobot/pkg/discord/commands/notes"
	"github.com/small-frappuccino/kokobot/pkg/discord/commands/random"
	"github.com/small-frappuccino/kokobot/pkg/discord/commands/util"
	"github.com/small-frappuccino/kokobot/pkg/discord/events"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/log"
)

// Interactive opens paginated lists and mixers and lists the live ones.
type Interactive interface {
	notes.Lists
	random.Mixers
	admin.Sessions
}

// Deps are the collaborators the command groups need.
type Deps struct {
	Notes       notes.Store
	Interactive Interactive
	// Services is optional; without it $admin has no service subcommands.
	Services admin.Services
	// Shutdown stops the bot without waiting for it.
	Shutdown func()
	Observer core.CommandObserver
}

// CommandHandler is the main handler that coordinates all bot commands
type CommandHandler struct {
	platform      platform.Platform
	configManager *files.ConfigManager
	router        *core.CommandRouter
	lookup        *notes.Lookup
}

// NewCommandHandler creates a new CommandHandler instance
func NewCommandHandler(p platform.Platform, configManager *files.ConfigManager) *CommandHandler {
	return &CommandHandler{
		platform:      p,
		configManager: configManager,
	}
}

// SetupCommands builds the router and registers every command group.
func (ch *CommandHandler) SetupCommands(deps Deps) error {
	if deps.Notes == nil || deps.Interactive == nil {
		return errors.New("command setup needs a note store and an interactive manager")
	}
	log.ApplicationLogger().Info("Setting up bot commands...")

	ch.router = core.NewCommandRouter(ch.platform, ch.configManager.Config)
	if deps.Observer != nil {
		ch.router.SetObserver(deps.Observer)
	}

	notes.RegisterNoteCommands(ch.router, deps.Notes, deps.Interactive)
	random.RegisterRandomCommands(ch.router, deps.Interactive)
	util.RegisterUtilCommands(ch.router, util.Options{
		Lists:    deps.Interactive,
		Shutdown: deps.Shutdown,
	})
	admin.NewAdminCommands(admin.Options{
		Services: deps.Services,
		Sessions: deps.Interactive,
		Config:   ch.configManager,
	}).RegisterCommands(ch.router)

	ch.lookup = notes.NewLookup(deps.Notes, ch.router.GetResponder(), ch.configManager.Config)

	log.ApplicationLogger().Info("Bot commands setup completed successfully", "commands", len(ch.router.GetRegistry().GetAllCommands()))
	return nil
}

// HandleMessage runs a message through the command router and then the
// note lookup.
func (ch *CommandHandler) HandleMessage(ctx context.Context, ev events.MessageEvent) error {
	if ch.router == nil {
		return nil
	}
	if err := ch.router.HandleMessage(ctx, ev); err != nil {
		return err
	}
	return ch.lookup.HandleMessage(ctx, ev)
}

// Shutdown performs cleanup for the command handler resources
func (ch *CommandHandler) Shutdown() error {
	log.ApplicationLogger().Info("Shutting down command handler...")
	ch.router = nil
	return nil
}

// GetRouter returns the command router (for tests or extensions)
func (ch *CommandHandler) GetRouter() *core.CommandRouter {
	return ch.router
}

// GetConfigManager returns the configuration manager
func (ch *CommandHandler) GetConfigManager() *files.ConfigManager {
	return ch.configManager
}
