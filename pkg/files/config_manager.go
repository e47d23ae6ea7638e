package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/small-frappuccino/kokobot/pkg/errutil"
	"github.com/small-frappuccino/kokobot/pkg/log"
	"github.com/small-frappuccino/kokobot/pkg/util"
)

const reloadDebounce = 250 * time.Millisecond

// NewConfigManager uses the per-user settings path.
func NewConfigManager() *ConfigManager {
	return NewConfigManagerWithPath(util.SettingsFilePath())
}

// NewConfigManagerWithPath creates a manager for configPath, holding defaults
// until LoadConfig runs.
func NewConfigManagerWithPath(configPath string) *ConfigManager {
	return &ConfigManager{
		configFilePath: configPath,
		config:         DefaultBotConfig(),
	}
}

// ConfigPath returns the settings file path.
func (mgr *ConfigManager) ConfigPath() string { return mgr.configFilePath }

// Config returns a copy of the current configuration.
func (mgr *ConfigManager) Config() BotConfig {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.config
}

// LoadConfig reads settings.toml, writing the defaults first when it does not exist.
func (mgr *ConfigManager) LoadConfig() error {
	if _, err := os.Stat(mgr.configFilePath); errors.Is(err, os.ErrNotExist) {
		log.ApplicationLogger().Info("Settings file not found; writing defaults", "path", mgr.configFilePath)
		if err := mgr.write(DefaultBotConfig()); err != nil {
			return err
		}
	}

	cfg, err := decodeFile(mgr.configFilePath)
	if err != nil {
		return errutil.HandleConfigError("read", mgr.configFilePath, func() error { return err })
	}

	mgr.mu.Lock()
	mgr.config = cfg
	mgr.mu.Unlock()
	return nil
}

// SaveConfig writes cfg atomically and makes it current.
func (mgr *ConfigManager) SaveConfig(cfg BotConfig) error {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := mgr.write(cfg); err != nil {
		return err
	}
	mgr.mu.Lock()
	mgr.config = cfg
	mgr.mu.Unlock()
	log.ApplicationLogger().Info("Settings saved", "path", mgr.configFilePath)
	return nil
}

// Subscribe registers fn to run with the new configuration after each reload.
func (mgr *ConfigManager) Subscribe(fn func(BotConfig)) {
	mgr.subMu.Lock()
	mgr.subscribers = append(mgr.subscribers, fn)
	mgr.subMu.Unlock()
}

// Watch reloads the file on change until ctx is done. A file that fails to
// parse or validate is logged and the previous configuration stays current.
func (mgr *ConfigManager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	// Watch the directory so editors that replace the file by rename still fire.
	if err := w.Add(filepath.Dir(mgr.configFilePath)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(mgr.configFilePath), err)
	}

	go mgr.watchLoop(ctx, w)
	return nil
}

func (mgr *ConfigManager) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	target := filepath.Clean(mgr.configFilePath)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, mgr.reloadFromWatch)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.ApplicationLogger().Warn("Settings watcher error", "err", err)
		}
	}
}

func (mgr *ConfigManager) reloadFromWatch() {
	if err := mgr.Reload(); err != nil {
		log.ApplicationLogger().Warn("Settings reload rejected; keeping previous settings", "path", mgr.configFilePath, "err", err)
	}
}

// Reload re-reads settings.toml and notifies subscribers. On error the
// previous configuration stays current.
func (mgr *ConfigManager) Reload() error {
	cfg, err := decodeFile(mgr.configFilePath)
	if err != nil {
		return err
	}

	mgr.mu.Lock()
	mgr.config = cfg
	mgr.mu.Unlock()
	log.ApplicationLogger().Info("Settings reloaded", "path", mgr.configFilePath)

	mgr.subMu.Lock()
	subs := append([]func(BotConfig){}, mgr.subscribers...)
	mgr.subMu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}
	return nil
}

func decodeFile(path string) (BotConfig, error) {
	var cfg BotConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return BotConfig{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return BotConfig{}, err
	}
	return cfg, nil
}

func (mgr *ConfigManager) write(cfg BotConfig) error {
	if err := util.EnsureDirs(mgr.configFilePath); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString("# kokobot settings. Changes are picked up while the bot runs.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp := mgr.configFilePath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return errutil.HandleConfigError("write", tmp, func() error { return err })
	}
	if err := os.Rename(tmp, mgr.configFilePath); err != nil {
		_ = os.Remove(tmp)
		return errutil.HandleConfigError("rename", mgr.configFilePath, func() error { return err })
	}
	return nil
}
