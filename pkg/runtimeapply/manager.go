// Package runtimeapply applies settings changes to the running process
// without a restart.
package runtimeapply

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/log"
	"github.com/small-frappuccino/kokobot/pkg/theme"
)

// Options wires the steps Apply can take. Nil funcs skip their step.
type Options struct {
	// RestartRoles sets the roles channels up again under the new settings.
	// It must not wait for the restart to finish.
	RestartRoles func() error
	// LevelOverride pins the log level given on the command line; settings
	// changes then leave the level alone.
	LevelOverride string
}

// Manager applies the part of a settings change that needs more than a
// fresh read. Prefix, page size and the other per-command settings are read
// on every use and are not handled here. Expiry and mixer bounds apply to
// sessions opened after a restart.
type Manager struct {
	mu   sync.Mutex
	opts Options

	// lastApplied is the baseline for diffs; set it with SetInitial.
	lastApplied files.BotConfig
}

// New creates a Manager.
func New(opts Options) *Manager {
	return &Manager{opts: opts}
}

// SetInitial sets the baseline config used for diffing. Call once at
// startup, after the settings are loaded.
func (m *Manager) SetInitial(cfg files.BotConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastApplied = cfg
}

// Apply applies what changed between the last applied settings and next.
// On failure the baseline is kept, so the next Apply tries again.
func (m *Manager) Apply(next files.BotConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.lastApplied

	if m.opts.LevelOverride == "" && prev.Logging.Level != next.Logging.Level {
		log.GlobalLogger.SetLevel(log.ParseLevel(next.Logging.Level))
		log.ApplicationLogger().Info("Log level changed", "level", next.Logging.Level)
	}

	if prev.Theme != next.Theme {
		if err := theme.SetCurrent(next.Theme); err != nil {
			return fmt.Errorf("apply theme: %w", err)
		}
		log.ApplicationLogger().Info("Theme changed", "theme", next.Theme)
	}

	if m.opts.RestartRoles != nil && !reflect.DeepEqual(prev.Roles, next.Roles) {
		if err := m.opts.RestartRoles(); err != nil {
			return fmt.Errorf("restart roles: %w", err)
		}
	}

	m.lastApplied = next
	return nil
}
