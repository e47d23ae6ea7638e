package theme

import (
	"fmt"
	"sync"
)

// Color is the int value used by discordgo.MessageEmbed.Color
type Color = int

// Theme holds all color roles used across the bot.
type Theme struct {
	// Human-friendly name for the theme (unique within the registry).
	Name string

	// Core roles
	Primary Color
	Info    Color
	Success Color
	Warning Color
	Loading Color
	Error   Color

	// Feature roles
	NoteList   Color // $koko list results
	NoteSearch Color // $koko search results
	Roster     Color // $users
	Avatar     Color // $ava
	Help       Color
}

// Clone returns a copy of the Theme.
func (t *Theme) Clone() *Theme {
	cp := *t
	return &cp
}

// ensureDefaults fills zero-valued fields so themes can override a subset.
func (t *Theme) ensureDefaults() {
	if t.Primary == 0 {
		t.Primary = 0x5865F2
	}
	if t.Info == 0 {
		t.Info = 0x3B82F6
	}
	if t.Success == 0 {
		t.Success = 0x57F287
	}
	if t.Warning == 0 {
		t.Warning = 0xF59E0B
	}
	if t.Loading == 0 {
		t.Loading = 0xFEE75C
	}
	if t.Error == 0 {
		t.Error = 0xED4245
	}

	if t.NoteList == 0 {
		t.NoteList = 2818026
	}
	if t.NoteSearch == 0 {
		t.NoteSearch = 16761035
	}
	if t.Roster == 0 {
		t.Roster = 65280
	}
	if t.Avatar == 0 {
		t.Avatar = t.Primary
	}
	if t.Help == 0 {
		t.Help = t.Info
	}
}

func defaultTheme() *Theme {
	th := &Theme{Name: "default"}
	th.ensureDefaults()
	return th
}

var (
	mu        sync.RWMutex
	registry  = map[string]*Theme{}
	currentTh = defaultTheme()
)

// Register adds a theme to the registry. It returns an error if the name is empty or already registered.
func Register(t *Theme) error {
	if t == nil {
		return fmt.Errorf("theme: cannot register nil theme")
	}
	if t.Name == "" {
		return fmt.Errorf("theme: name is required")
	}
	cp := t.Clone()
	cp.ensureDefaults()

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[cp.Name]; exists {
		return fmt.Errorf("theme: theme %q already registered", cp.Name)
	}
	registry[cp.Name] = cp
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(t *Theme) {
	if err := Register(t); err != nil {
		panic(err)
	}
}

// SetCurrent switches the active theme by name. Empty selects the default.
func SetCurrent(name string) error {
	mu.Lock()
	defer mu.Unlock()
	if name == "" || name == "default" {
		currentTh = defaultTheme()
		return nil
	}
	th, ok := registry[name]
	if !ok {
		return fmt.Errorf("theme: theme %q not found", name)
	}
	currentTh = th.Clone()
	return nil
}

// Current returns a copy of the current theme.
func Current() *Theme {
	mu.RLock()
	defer mu.RUnlock()
	return currentTh.Clone()
}

// Default returns a copy of the built-in default theme.
func Default() *Theme { return defaultTheme() }

func Info() Color       { return Current().Info }
func Success() Color    { return Current().Success }
func Warning() Color    { return Current().Warning }
func Loading() Color    { return Current().Loading }
func Error() Color      { return Current().Error }
func NoteList() Color   { return Current().NoteList }
func NoteSearch() Color { return Current().NoteSearch }
func Roster() Color     { return Current().Roster }
func Avatar() Color     { return Current().Avatar }
func Help() Color       { return Current().Help }
