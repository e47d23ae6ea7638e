package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"github.com/small-frappuccino/kokobot/pkg/control"
	"github.com/small-frappuccino/kokobot/pkg/discord/cache"
	"github.com/small-frappuccino/kokobot/pkg/discord/commands"
	"github.com/small-frappuccino/kokobot/pkg/discord/events"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
	"github.com/small-frappuccino/kokobot/pkg/discord/roles"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/log"
	"github.com/small-frappuccino/kokobot/pkg/metrics"
	"github.com/small-frappuccino/kokobot/pkg/runtimeapply"
	"github.com/small-frappuccino/kokobot/pkg/service"
	"github.com/small-frappuccino/kokobot/pkg/storage"
	"github.com/small-frappuccino/kokobot/pkg/task"
)

// Task types owned by the app itself.
const (
	taskHeartbeat    = "app.heartbeat"
	taskRolesRestart = "app.roles_restart"
)

const heartbeatInterval = time.Minute

// Service names, in start order.
const (
	serviceNotes   = "notes"
	serviceBridge  = "bridge"
	serviceRoles   = "roles"
	serviceControl = "control"
)

// botDeps are the pieces built from the process environment.
type botDeps struct {
	Config   *files.ConfigManager
	Store    *storage.Store
	Platform platform.Platform
	// Directory, when set, is invalidated on role and guild events.
	Directory *cache.Directory
	// Session is attached to the bridge when the bridge service starts.
	// Nil in tests.
	Session *discordgo.Session
	Guilds  func() []string

	ControlAddr string
	// LevelOverride pins the log level given on the command line across
	// settings reloads.
	LevelOverride string
	Shutdown      func()
	Checks        map[string]func(context.Context) error
}

// bot owns every long-lived component.
type bot struct {
	deps   botDeps
	logger *slog.Logger

	metrics  *metrics.Metrics
	router   *task.TaskRouter
	bridge   *events.Bridge
	sessions *interactive.Manager
	roles    *roles.Manager
	commands *commands.CommandHandler
	control  *control.Server
	services *service.ServiceManager

	applier *runtimeapply.Manager

	cancelHeartbeat func()
}

func newBot(deps botDeps) (*bot, error) {
	if deps.Config == nil || deps.Store == nil || deps.Platform == nil {
		return nil, fmt.Errorf("bot needs settings, a note store and a platform")
	}
	if deps.Guilds == nil {
		deps.Guilds = func() []string { return nil }
	}
	cfg := deps.Config.Config()
	p := deps.Platform

	b := &bot{
		deps:     deps,
		logger:   log.ForComponent("app"),
		metrics:  metrics.New(),
		services: service.NewServiceManager(errors.NewErrorHandler()),
	}

	routerCfg := task.Defaults()
	routerCfg.Observer = b.metrics
	routerCfg.Retryable = func(err error) bool { return errors.Is(err, errors.ErrTransientIO) }
	b.router = task.NewRouter(routerCfg)
	b.router.RegisterHandler(taskHeartbeat, b.heartbeat)
	b.router.RegisterHandler(taskRolesRestart, func(context.Context, any) error {
		return b.services.RestartService(serviceRoles)
	})

	b.bridge = events.NewBridge(b.router, p.SelfID)
	b.sessions = interactive.NewManager(p,
		interactive.WithExpiry(cfg.Interactive.Expiry.Duration),
		interactive.WithExpiryDispatcher(b.bridge.ExpiryDispatcher()),
		interactive.WithObserver(b.metrics),
		interactive.MixerBounds(cfg.Mixer.MinGroups, cfg.Mixer.MaxGroups),
	)
	b.roles = roles.NewManager(p, deps.Config.Config, b.router, deps.Guilds)

	b.commands = commands.NewCommandHandler(p, deps.Config)
	if err := b.commands.SetupCommands(commands.Deps{
		Notes:       deps.Store,
		Interactive: b.sessions,
		Services:    b.services,
		Shutdown:    deps.Shutdown,
		Observer:    b.metrics,
	}); err != nil {
		return nil, fmt.Errorf("configure commands: %w", err)
	}

	b.wireBridge()
	b.registerGauges()

	checks := map[string]func(context.Context) error{"store": deps.Store.Ping}
	for name, check := range deps.Checks {
		checks[name] = check
	}
	b.control = control.NewServer(deps.ControlAddr, control.Options{
		Sessions: b.sessions,
		Metrics:  b.metrics.Handler(),
		Services: b.services.GetAllServices,
		Config:   deps.Config,
		Checks:   checks,
	})

	if err := b.registerServices(); err != nil {
		return nil, err
	}
	b.applier = runtimeapply.New(runtimeapply.Options{
		RestartRoles:  b.scheduleRolesRestart,
		LevelOverride: deps.LevelOverride,
	})
	b.applier.SetInitial(cfg)
	deps.Config.Subscribe(b.applyConfig)
	return b, nil
}

func (b *bot) wireBridge() {
	dir := b.deps.Directory

	b.bridge.OnReaction(b.sessions.HandleReaction)
	b.bridge.OnReaction(b.roles.HandleReaction)
	b.bridge.OnMessage(b.commands.HandleMessage)
	b.bridge.OnMessage(b.roles.HandleMessage)
	b.bridge.OnMessageDeleted(func(_ context.Context, ref interactive.MessageRef) {
		b.sessions.HandleMessageDeleted(ref.MessageID)
	})
	b.bridge.OnRolesChanged(func(ctx context.Context, guildID string) error {
		if dir != nil {
			dir.InvalidateRoles(guildID)
		}
		return b.roles.Refresh(ctx, guildID)
	})
	b.bridge.OnGuildReady(func(ctx context.Context, guildID string) error {
		if dir != nil {
			dir.InvalidateChannels(guildID)
		}
		return b.roles.SetupGuild(ctx, guildID)
	})
}

type gauge struct {
	subsystem, name, help string
	read                  func() float64
}

func (b *bot) registerGauges() {
	gauges := []gauge{
		{"interactive", "sessions_live", "Interactive sessions waiting on reactions.",
			func() float64 { return float64(len(b.sessions.Sessions())) }},
		{"interactive", "timers_pending", "Armed expiry timers.",
			func() float64 { return float64(b.sessions.PendingTimers()) }},
		{"tasks", "groups", "Active task router groups.",
			func() float64 { return float64(b.router.Stats().GroupsCount) }},
		{"roles", "channels", "Roles channels being maintained.",
			func() float64 { return float64(b.roles.Channels()) }},
	}
	if dir := b.deps.Directory; dir != nil {
		gauges = append(gauges,
			gauge{"cache", "users", "Cached users.", func() float64 { return float64(dir.Stats().Users) }},
			gauge{"cache", "members", "Cached guild members.", func() float64 { return float64(dir.Stats().Members) }},
		)
	}
	for _, g := range gauges {
		if err := b.metrics.Gauge(g.subsystem, g.name, g.help, g.read); err != nil {
			b.logger.Warn("Failed to register gauge", "name", g.name, "err", err)
		}
	}
}

func (b *bot) registerServices() error {
	store := b.deps.Store
	wrappers := []*service.ServiceWrapper{
		service.NewServiceWrapper(serviceNotes, service.PriorityHigh, nil,
			b.startNotes,
			func(context.Context) error {
				if b.cancelHeartbeat != nil {
					b.cancelHeartbeat()
					b.cancelHeartbeat = nil
				}
				return nil
			},
			store.Ping,
		),
		service.NewServiceWrapper(serviceBridge, service.PriorityHigh, []string{serviceNotes},
			func(context.Context) error {
				b.sessions.SetSelfID(b.deps.Platform.SelfID())
				if b.deps.Session != nil {
					b.bridge.Attach(b.deps.Session)
				}
				return nil
			},
			func(context.Context) error {
				b.bridge.Detach()
				return nil
			},
			b.deps.Checks["gateway"],
		),
		service.NewServiceWrapper(serviceRoles, service.PriorityNormal, []string{serviceBridge},
			b.roles.Start, b.roles.Stop, nil),
	}
	if b.control != nil {
		wrappers = append(wrappers, service.NewServiceWrapper(serviceControl, service.PriorityLow, nil,
			func(context.Context) error { return b.control.Start() },
			b.control.Stop,
			nil,
		))
	}
	for _, w := range wrappers {
		if err := b.services.Register(w); err != nil {
			return fmt.Errorf("register %s service: %w", w.Name(), err)
		}
	}
	return nil
}

func (b *bot) startNotes(ctx context.Context) error {
	last, ok, err := b.deps.Store.GetHeartbeat(ctx)
	switch {
	case err != nil:
		b.logger.Warn("Failed to read last heartbeat", "err", err)
	case ok:
		b.logger.Info("Previous run last seen " + humanize.Time(last))
	default:
		b.logger.Info("No previous run recorded")
	}
	if err := b.heartbeat(ctx, nil); err != nil {
		return err
	}
	b.cancelHeartbeat = b.router.ScheduleEvery(heartbeatInterval, task.Task{
		Type:    taskHeartbeat,
		Options: task.TaskOptions{GroupKey: "heartbeat", MaxAttempts: 1},
	})
	return nil
}

func (b *bot) heartbeat(ctx context.Context, _ any) error {
	return b.deps.Store.SetHeartbeat(ctx, time.Now())
}

// scheduleRolesRestart restarts the roles service on a router worker;
// RestartService waits out the restart delay.
func (b *bot) scheduleRolesRestart() error {
	return b.router.Dispatch(context.Background(), task.Task{
		Type:    taskRolesRestart,
		Options: task.TaskOptions{GroupKey: "roles", MaxAttempts: 1},
	})
}

func (b *bot) applyConfig(cfg files.BotConfig) {
	if err := b.applier.Apply(cfg); err != nil {
		b.logger.Warn("Settings change not fully applied", "err", err)
	}
}

func (b *bot) start() error {
	return b.services.StartAll()
}

// stop stops the services in reverse order and then drains the router.
func (b *bot) stop(ctx context.Context) error {
	err := b.services.StopAll()
	b.sessions.Close(ctx)
	_ = b.commands.Shutdown()
	b.router.Close()
	return err
}
