package app

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/kokobot/pkg/discord/cache"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
	"github.com/small-frappuccino/kokobot/pkg/discord/session"
	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/log"
	"github.com/small-frappuccino/kokobot/pkg/storage"
	"github.com/small-frappuccino/kokobot/pkg/theme"
	"github.com/small-frappuccino/kokobot/pkg/util"
)

// Environment variables read by Run. Command-line options win over them.
const (
	TokenEnv       = "KOKOBOT_TOKEN"
	EnvConfig      = "KOKOBOT_CONFIG"
	EnvDBPath      = "KOKOBOT_DB_PATH"
	EnvLogLevel    = "KOKOBOT_LOG_LEVEL"
	EnvLogDir      = "KOKOBOT_LOG_DIR"
	EnvControlAddr = "KOKOBOT_CONTROL_ADDR"
)

const shutdownTimeout = 30 * time.Second

// Options are the command-line overrides. Empty fields fall back to the
// environment, then to settings.toml, then to the per-user defaults.
type Options struct {
	ConfigPath  string
	DBPath      string
	LogLevel    string
	LogDir      string
	ControlAddr string
}

func (o Options) resolve() Options {
	o.ConfigPath = cmp.Or(strings.TrimSpace(o.ConfigPath), util.EnvString(EnvConfig, util.SettingsFilePath()))
	o.DBPath = cmp.Or(strings.TrimSpace(o.DBPath), util.EnvString(EnvDBPath, util.NotesDBPath()))
	o.LogLevel = cmp.Or(strings.TrimSpace(o.LogLevel), util.EnvString(EnvLogLevel, ""))
	o.LogDir = cmp.Or(strings.TrimSpace(o.LogDir), util.EnvString(EnvLogDir, ""))
	o.ControlAddr = cmp.Or(strings.TrimSpace(o.ControlAddr), util.EnvString(EnvControlAddr, ""))
	return o
}

func logConfig(o Options, cfg files.BotConfig) log.Config {
	return log.Config{
		Dir:     cmp.Or(o.LogDir, cfg.Logging.Dir, util.LogDir()),
		Level:   cmp.Or(o.LogLevel, cfg.Logging.Level),
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
	}
}

func formatStartupMessage(appName, version string) string {
	appName = strings.TrimSpace(appName)
	version = strings.TrimSpace(version)
	if version == "" || version == "dev" {
		return fmt.Sprintf("🚀 Starting %s (development build)...", appName)
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return fmt.Sprintf("🚀 Starting %s %s...", appName, version)
}

// LoadSettings resolves opts and loads settings.toml, writing the defaults
// when the file does not exist yet. It returns the path it read.
func LoadSettings(opts Options) (string, files.BotConfig, error) {
	opts = opts.resolve()
	cm := files.NewConfigManagerWithPath(opts.ConfigPath)
	if err := cm.LoadConfig(); err != nil {
		return opts.ConfigPath, files.BotConfig{}, err
	}
	return opts.ConfigPath, cm.Config(), nil
}

// Run bootstraps the bot and blocks until an interrupt, $shutdown or ctx
// cancellation.
// Environment: KOKOBOT_TOKEN is read from the process environment; a
// $HOME/.local/bin/.env file is loaded first without overriding variables
// that are already set.
func Run(ctx context.Context, opts Options) error {
	started := time.Now()

	token, loadErr := util.LoadEnvWithLocalBinFallback(TokenEnv)
	opts = opts.resolve()

	// Logger first so subsequent steps can log meaningfully
	if err := log.SetupLogger(logConfig(opts, files.DefaultBotConfig())); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer func() { _ = log.GlobalLogger.Close() }()

	if loadErr != nil {
		log.ApplicationLogger().Warn("Token lookup", "err", loadErr)
	}
	if token == "" {
		return fmt.Errorf("%s not set in environment or .env file", TokenEnv)
	}

	if err := util.EnsureDirs(opts.ConfigPath, opts.DBPath); err != nil {
		return err
	}
	configManager := files.NewConfigManagerWithPath(opts.ConfigPath)
	if err := configManager.LoadConfig(); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	cfg := configManager.Config()

	// Reopen with the file's logging settings.
	if err := log.SetupLogger(logConfig(opts, cfg)); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	if err := theme.SetCurrent(cfg.Theme); err != nil {
		log.ApplicationLogger().Warn("Unknown theme in settings; using default", "theme", cfg.Theme, "err", err)
	}

	log.ApplicationLogger().Info(formatStartupMessage(util.AppName, AppVersion()))

	store := storage.NewStore(opts.DBPath)
	if err := store.Init(); err != nil {
		return fmt.Errorf("initialize SQLite store: %w", err)
	}
	defer store.Close()

	log.DiscordLogger().Info("🔑 Attempting to authenticate with Discord API...")
	discordSession, err := session.NewDiscordSession(token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	defer discordSession.Close()
	if discordSession.State == nil || discordSession.State.User == nil {
		return fmt.Errorf("discord session state not properly initialized")
	}
	log.DiscordLogger().Info("✅ Authenticated", "user", discordSession.State.User.Username)

	p, dir := cache.Wrap(platform.New(discordSession, platform.Options{
		ReactionRate:  cfg.Interactive.ReactionRate,
		ReactionBurst: cfg.Interactive.ReactionBurst,
	}), cache.DefaultConfig())

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	b, err := newBot(botDeps{
		Config:        configManager,
		Store:         store,
		Platform:      p,
		Directory:     dir,
		Session:       discordSession,
		Guilds:        stateGuilds(discordSession),
		ControlAddr:   cmp.Or(opts.ControlAddr, cfg.Control.Addr),
		LevelOverride: opts.LogLevel,
		Shutdown:      stopRun,
		Checks:        map[string]func(context.Context) error{"gateway": gatewayCheck(discordSession)},
	})
	if err != nil {
		return err
	}

	if err := configManager.Watch(runCtx); err != nil {
		log.ApplicationLogger().Warn("Settings hot reload disabled", "err", err)
	}

	log.ApplicationLogger().Info("🚀 Starting all services...")
	if err := b.start(); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = b.stop(shutdownCtx)
		return fmt.Errorf("start services: %w", err)
	}

	log.ApplicationLogger().Info(fmt.Sprintf("🎯 %s initialized successfully in %s", util.AppName, time.Since(started).Round(time.Millisecond)))
	log.ApplicationLogger().Info(fmt.Sprintf("🤖 %s running. Press Ctrl+C to stop...", util.AppName))

	util.WaitForInterrupt(runCtx, nil)
	log.ApplicationLogger().Info(fmt.Sprintf("🛑 Stopping %s...", util.AppName))

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), shutdownTimeout, fmt.Errorf("application shutdown"))
	defer cancel()
	if err := b.stop(shutdownCtx); err != nil {
		log.ErrorLoggerRaw().Error("Some services failed to stop cleanly", "err", err)
	}
	return nil
}

// stateGuilds lists the guilds the gateway has reported so far.
func stateGuilds(s *discordgo.Session) func() []string {
	return func() []string {
		if s.State == nil {
			return nil
		}
		s.State.RLock()
		defer s.State.RUnlock()
		ids := make([]string, 0, len(s.State.Guilds))
		for _, g := range s.State.Guilds {
			ids = append(ids, g.ID)
		}
		return ids
	}
}

func gatewayCheck(s *discordgo.Session) func(context.Context) error {
	return func(context.Context) error {
		s.RLock()
		ready := s.DataReady
		s.RUnlock()
		if !ready {
			return fmt.Errorf("gateway not connected")
		}
		return nil
	}
}
