package files

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Duration is a time.Duration that reads and writes as "60s", "10m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// BotConfig is the content of settings.toml.
type BotConfig struct {
	Prefix     string   `toml:"prefix"`
	OwnerID    string   `toml:"owner_id"`
	AdminRoles []string `toml:"admin_roles"`
	// Theme names an embed color theme; empty is the default.
	Theme string `toml:"theme"`

	Interactive InteractiveConfig `toml:"interactive"`
	Mixer       MixerConfig       `toml:"mixer"`
	Notes       NotesConfig       `toml:"notes"`
	Roles       RolesConfig       `toml:"roles"`
	Control     ControlConfig     `toml:"control"`
	Logging     LoggingConfig     `toml:"logging"`
}

// InteractiveConfig tunes paginated sessions.
type InteractiveConfig struct {
	PageSize int      `toml:"page_size"`
	Expiry   Duration `toml:"expiry"`
	// ReactionRate caps outbound reaction calls per second.
	ReactionRate  float64 `toml:"reaction_rate"`
	ReactionBurst int     `toml:"reaction_burst"`
}

type MixerConfig struct {
	DefaultGroups int `toml:"default_groups"`
	MinGroups     int `toml:"min_groups"`
	MaxGroups     int `toml:"max_groups"`
}

type NotesConfig struct {
	// LookupMarker prefixes a line that should be answered with a note value.
	LookupMarker string   `toml:"lookup_marker"`
	NoticeTTL    Duration `toml:"notice_ttl"`
}

// EmojiRole binds a reaction on the roles message to a role name.
type EmojiRole struct {
	Role  string `toml:"role"`
	Emoji string `toml:"emoji"`
}

type RolesConfig struct {
	Enabled       bool        `toml:"enabled"`
	ChannelName   string      `toml:"channel_name"`
	Greeting      string      `toml:"greeting"`
	ListTitle     string      `toml:"list_title"`
	EmojiRoles    []EmojiRole `toml:"emoji_roles"`
	InvalidRoles  []string    `toml:"invalid_roles"`
	PurgeInterval Duration    `toml:"purge_interval"`
	NoticeTTL     Duration    `toml:"notice_ttl"`
}

type ControlConfig struct {
	// Addr is the listen address of the control server; empty disables it.
	Addr string `toml:"addr"`
}

type LoggingConfig struct {
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Dir     string `toml:"dir"`
	Console bool   `toml:"console"`
}

// DefaultBotConfig returns the configuration written on first run.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Prefix:     "$",
		AdminRoles: []string{"bot boi", "admin uwu", "Officers"},
		Interactive: InteractiveConfig{
			PageSize:      10,
			Expiry:        Duration{60 * time.Second},
			ReactionRate:  4,
			ReactionBurst: 4,
		},
		Mixer: MixerConfig{
			DefaultGroups: 2,
			MinGroups:     2,
			MaxGroups:     5,
		},
		Notes: NotesConfig{
			LookupMarker: "*",
			NoticeTTL:    Duration{5 * time.Second},
		},
		Roles: RolesConfig{
			Enabled:     true,
			ChannelName: "roles",
			Greeting:    "Hello! :smiling_face_with_3_hearts:\nReact to become a member, unreact to become stray:",
			ListTitle:   "Roles :clown::",
			EmojiRoles: []EmojiRole{
				{Role: "Members", Emoji: "🌟"},
			},
			InvalidRoles: []string{
				"@everyone", "Members", "Server Booster", "Kokobot", "bot boi", "admin uwu", "Officers",
			},
			PurgeInterval: Duration{10 * time.Minute},
			NoticeTTL:     Duration{5 * time.Second},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "text",
			Console: true,
		},
	}
}

// applyDefaults fills zero values left out of a hand-edited file.
func (c *BotConfig) applyDefaults() {
	def := DefaultBotConfig()
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = def.Prefix
	}
	if c.Interactive.PageSize <= 0 {
		c.Interactive.PageSize = def.Interactive.PageSize
	}
	if c.Interactive.Expiry.Duration <= 0 {
		c.Interactive.Expiry = def.Interactive.Expiry
	}
	if c.Interactive.ReactionRate <= 0 {
		c.Interactive.ReactionRate = def.Interactive.ReactionRate
	}
	if c.Interactive.ReactionBurst <= 0 {
		c.Interactive.ReactionBurst = def.Interactive.ReactionBurst
	}
	if c.Mixer.MinGroups <= 0 {
		c.Mixer.MinGroups = def.Mixer.MinGroups
	}
	if c.Mixer.MaxGroups <= 0 {
		c.Mixer.MaxGroups = def.Mixer.MaxGroups
	}
	if c.Mixer.DefaultGroups <= 0 {
		c.Mixer.DefaultGroups = def.Mixer.DefaultGroups
	}
	if c.Notes.LookupMarker == "" {
		c.Notes.LookupMarker = def.Notes.LookupMarker
	}
	if c.Notes.NoticeTTL.Duration <= 0 {
		c.Notes.NoticeTTL = def.Notes.NoticeTTL
	}
	if strings.TrimSpace(c.Roles.ChannelName) == "" {
		c.Roles.ChannelName = def.Roles.ChannelName
	}
	if c.Roles.PurgeInterval.Duration <= 0 {
		c.Roles.PurgeInterval = def.Roles.PurgeInterval
	}
	if c.Roles.NoticeTTL.Duration <= 0 {
		c.Roles.NoticeTTL = def.Roles.NoticeTTL
	}
}

// Validate rejects settings the bot cannot run with.
func (c BotConfig) Validate() error {
	if c.Mixer.MinGroups < 2 {
		return fmt.Errorf("mixer.min_groups must be at least 2, got %d", c.Mixer.MinGroups)
	}
	if c.Mixer.MaxGroups < c.Mixer.MinGroups {
		return fmt.Errorf("mixer.max_groups (%d) is below mixer.min_groups (%d)", c.Mixer.MaxGroups, c.Mixer.MinGroups)
	}
	if c.Mixer.DefaultGroups < c.Mixer.MinGroups || c.Mixer.DefaultGroups > c.Mixer.MaxGroups {
		return fmt.Errorf("mixer.default_groups %d outside [%d, %d]", c.Mixer.DefaultGroups, c.Mixer.MinGroups, c.Mixer.MaxGroups)
	}
	seen := make(map[string]bool, len(c.Roles.EmojiRoles))
	for _, er := range c.Roles.EmojiRoles {
		if strings.TrimSpace(er.Role) == "" || strings.TrimSpace(er.Emoji) == "" {
			return fmt.Errorf("roles.emoji_roles entries need both role and emoji")
		}
		if seen[er.Emoji] {
			return fmt.Errorf("roles.emoji_roles emoji %q used twice", er.Emoji)
		}
		seen[er.Emoji] = true
	}
	return nil
}

// IsAdminRole reports whether name is one of the configured admin roles.
func (c BotConfig) IsAdminRole(name string) bool {
	for _, r := range c.AdminRoles {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// ConfigManager owns settings.toml and the current parsed copy.
type ConfigManager struct {
	configFilePath string

	mu     sync.RWMutex
	config BotConfig

	subMu       sync.Mutex
	subscribers []func(BotConfig)
}
