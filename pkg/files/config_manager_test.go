package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfigManager(t *testing.T) *ConfigManager {
	t.Helper()
	return NewConfigManagerWithPath(filepath.Join(t.TempDir(), "settings.toml"))
}

func TestLoadConfigWritesDefaults(t *testing.T) {
	mgr := newTestConfigManager(t)
	require.NoError(t, mgr.LoadConfig())

	_, err := os.Stat(mgr.ConfigPath())
	require.NoError(t, err)

	cfg := mgr.Config()
	assert.Equal(t, "$", cfg.Prefix)
	assert.Equal(t, 10, cfg.Interactive.PageSize)
	assert.Equal(t, 60*time.Second, cfg.Interactive.Expiry.Duration)
	assert.Equal(t, 5, cfg.Mixer.MaxGroups)
	assert.Equal(t, 10*time.Minute, cfg.Roles.PurgeInterval.Duration)
	require.Len(t, cfg.Roles.EmojiRoles, 1)
	assert.Equal(t, "Members", cfg.Roles.EmojiRoles[0].Role)
}

func TestLoadConfigFillsMissingFields(t *testing.T) {
	mgr := newTestConfigManager(t)
	content := "prefix = \"!\"\n\n[interactive]\nexpiry = \"30s\"\n"
	require.NoError(t, os.WriteFile(mgr.ConfigPath(), []byte(content), 0o600))

	require.NoError(t, mgr.LoadConfig())
	cfg := mgr.Config()
	assert.Equal(t, "!", cfg.Prefix)
	assert.Equal(t, 30*time.Second, cfg.Interactive.Expiry.Duration)
	assert.Equal(t, 10, cfg.Interactive.PageSize)
	assert.Equal(t, 2, cfg.Mixer.DefaultGroups)
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	mgr := newTestConfigManager(t)
	require.NoError(t, os.WriteFile(mgr.ConfigPath(), []byte("[interactive]\nexpiry = \"soon\"\n"), 0o600))
	assert.Error(t, mgr.LoadConfig())
}

func TestValidateMixerBounds(t *testing.T) {
	cfg := DefaultBotConfig()
	cfg.Mixer.MinGroups = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultBotConfig()
	cfg.Mixer.DefaultGroups = 9
	assert.Error(t, cfg.Validate())

	cfg = DefaultBotConfig()
	cfg.Roles.EmojiRoles = append(cfg.Roles.EmojiRoles, EmojiRole{Role: "Other", Emoji: "🌟"})
	assert.Error(t, cfg.Validate())

	assert.NoError(t, DefaultBotConfig().Validate())
}

func TestSaveConfigRoundTrip(t *testing.T) {
	mgr := newTestConfigManager(t)
	cfg := DefaultBotConfig()
	cfg.OwnerID = "42"
	cfg.Control.Addr = "127.0.0.1:8377"
	require.NoError(t, mgr.SaveConfig(cfg))

	other := NewConfigManagerWithPath(mgr.ConfigPath())
	require.NoError(t, other.LoadConfig())
	assert.Equal(t, "42", other.Config().OwnerID)
	assert.Equal(t, "127.0.0.1:8377", other.Config().Control.Addr)
}

func TestIsAdminRole(t *testing.T) {
	cfg := DefaultBotConfig()
	assert.True(t, cfg.IsAdminRole("officers"))
	assert.False(t, cfg.IsAdminRole("Members"))
}

func TestWatchReloadsAndNotifies(t *testing.T) {
	mgr := newTestConfigManager(t)
	require.NoError(t, mgr.LoadConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan BotConfig, 4)
	mgr.Subscribe(func(c BotConfig) { got <- c })
	require.NoError(t, mgr.Watch(ctx))

	cfg := mgr.Config()
	cfg.Prefix = "?"
	require.NoError(t, mgr.write(cfg))

	select {
	case c := <-got:
		assert.Equal(t, "?", c.Prefix)
	case <-time.After(5 * time.Second):
		t.Fatal("settings change was not delivered")
	}
	assert.Equal(t, "?", mgr.Config().Prefix)
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	mgr := newTestConfigManager(t)
	require.NoError(t, mgr.LoadConfig())

	var calls int
	mgr.Subscribe(func(BotConfig) { calls++ })

	require.NoError(t, os.WriteFile(mgr.ConfigPath(), []byte("prefix = \"%\"\n"), 0o600))
	require.NoError(t, mgr.Reload())
	assert.Equal(t, "%", mgr.Config().Prefix)
	assert.Equal(t, 1, calls)

	require.NoError(t, os.WriteFile(mgr.ConfigPath(), []byte("[mixer]\nmin_groups = 1\n"), 0o600))
	assert.Error(t, mgr.Reload())
	assert.Equal(t, "%", mgr.Config().Prefix)
	assert.Equal(t, 1, calls)
}
