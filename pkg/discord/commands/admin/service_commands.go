package admin

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/small-frappuccino/kokobot/pkg/discord/commands/core"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/service"
)

// Services is the part of the service manager the admin commands drive.
type Services interface {
	GetAllServices() []service.ServiceInfo
	RestartService(name string) error
}

// Sessions lists live interactive sessions.
type Sessions interface {
	Sessions() []interactive.Session
}

// Reloader re-reads settings from disk.
type Reloader interface {
	Reload() error
}

// Options wires the admin group. Nil fields leave the matching subcommand out.
type Options struct {
	Services Services
	Sessions Sessions
	Config   Reloader
	Now      func() time.Time
}

// AdminCommands provides the $admin group for owners and admin roles.
type AdminCommands struct {
	opts Options
}

// NewAdminCommands creates a new admin commands handler
func NewAdminCommands(opts Options) *AdminCommands {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AdminCommands{opts: opts}
}

// RegisterCommands registers the admin group with the router.
func (ac *AdminCommands) RegisterCommands(router *core.CommandRouter) {
	adminCmd := core.NewGroupCommand("admin", "Bot maintenance for owners and admins", router.GetPermissionChecker())

	if ac.opts.Services != nil {
		adminCmd.AddSubCommand(core.NewSimpleCommand("services", "Show service states", "",
			ac.listServices, false, true))
		adminCmd.AddSubCommand(core.NewSimpleCommand("restart", "Restart a service", "<service>",
			ac.restartService, false, true))
	}
	if ac.opts.Sessions != nil {
		adminCmd.AddSubCommand(core.NewSimpleCommand("sessions", "Show live interactive messages", "",
			ac.listSessions, false, true))
	}
	if ac.opts.Config != nil {
		adminCmd.AddSubCommand(core.NewSimpleCommand("reload", "Reload settings from disk", "",
			ac.reloadConfig, false, true))
	}

	router.RegisterCommand(adminCmd)
}

func (ac *AdminCommands) listServices(ctx *core.Context) error {
	infos := ac.opts.Services.GetAllServices()
	if len(infos) == 0 {
		_, err := ctx.Reply.Styled(ctx, ctx.ChannelID, core.ResponseInfo, "Services", "No services registered.")
		return err
	}

	now := ac.opts.Now()
	lines := make([]string, 0, len(infos))
	healthy := true
	for _, info := range infos {
		line := fmt.Sprintf("%s **%s**: %s", stateIcon(info.State), info.Name, info.State)
		if info.State == service.StateRunning && info.StartTime != nil && !info.StartTime.IsZero() {
			line += ", started " + humanize.RelTime(*info.StartTime, now, "ago", "from now")
		}
		if info.RestartCount > 0 {
			line += fmt.Sprintf(", %d restarts", info.RestartCount)
		}
		if info.LastError != "" {
			line += "\n  last error: " + info.LastError
		}
		if info.State != service.StateRunning {
			healthy = false
		}
		lines = append(lines, line)
	}

	kind := core.ResponseSuccess
	if !healthy {
		kind = core.ResponseWarning
	}
	_, err := ctx.Reply.Styled(ctx, ctx.ChannelID, kind, "Services", strings.Join(lines, "\n"))
	return err
}

func (ac *AdminCommands) restartService(ctx *core.Context) error {
	name := ctx.Arg(0)
	if name == "" {
		return core.UsageError(ctx, "<service>")
	}

	ctx.Logger.Info("Restarting service on request", "service", name)
	err := ac.opts.Services.RestartService(name)
	if errors.Is(err, errors.ErrNotFound) {
		return core.NewCommandError(fmt.Sprintf("No service called `%s`.", name), true)
	}
	if err != nil {
		return core.NewCommandError(fmt.Sprintf("Restarting `%s` failed: %v", name, err), false)
	}
	_, err = ctx.Reply.Styled(ctx, ctx.ChannelID, core.ResponseSuccess, "Services", fmt.Sprintf("Restarted `%s`.", name))
	return err
}

func (ac *AdminCommands) listSessions(ctx *core.Context) error {
	sessions := ac.opts.Sessions.Sessions()
	if len(sessions) == 0 {
		_, err := ctx.Reply.Styled(ctx, ctx.ChannelID, core.ResponseInfo, "Interactive Messages", "Nothing is waiting on reactions.")
		return err
	}
	slices.SortFunc(sessions, func(a, b interactive.Session) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	now := ac.opts.Now()
	lines := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		info := sess.Info()
		line := fmt.Sprintf("`%s` in <#%s>", info.Kind, info.ChannelID)
		if info.PageCount > 0 {
			line += fmt.Sprintf(", page %d of %d", info.Page, info.PageCount)
		}
		if info.Phase != "" {
			line += fmt.Sprintf(", %s with %d members", info.Phase, len(info.Participants))
		}
		line += ", expires " + humanize.RelTime(info.ExpiresAt, now, "ago", "from now")
		lines = append(lines, line)
	}
	_, err := ctx.Reply.Styled(ctx, ctx.ChannelID, core.ResponseInfo,
		fmt.Sprintf("Interactive Messages (%d)", len(sessions)), strings.Join(lines, "\n"))
	return err
}

func (ac *AdminCommands) reloadConfig(ctx *core.Context) error {
	if err := ac.opts.Config.Reload(); err != nil {
		ctx.Logger.Warn("Settings reload rejected", "err", err)
		return core.NewCommandError(fmt.Sprintf("Settings were not reloaded: %v", err), false)
	}
	_, err := ctx.Reply.Styled(ctx, ctx.ChannelID, core.ResponseSuccess, "Settings", "Settings reloaded.")
	return err
}

func stateIcon(state service.ServiceState) string {
	switch state {
	case service.StateRunning:
		return "🟢"
	case service.StateError:
		return "🔴"
	case service.StateInitializing, service.StateStopping:
		return "🟡"
	default:
		return "⚪"
	}
}
