package errutil

import (
	"fmt"

	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/log"
)

// HandleDiscordError runs fn, logs a failure to the discord category and
// returns it classified onto the sentinel taxonomy.
func HandleDiscordError(operation string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}
	err := fn()
	if err == nil {
		return nil
	}
	log.DiscordLogger().Error("Discord operation failed", "operation", operation, "err", err)
	return errors.ClassifyDiscordError(operation, err)
}

// HandleConfigError runs fn and wraps a failure with the operation and path.
func HandleConfigError(operation, path string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}
	err := fn()
	if err == nil {
		return nil
	}
	log.ApplicationLogger().Error("Config operation failed", "operation", operation, "path", path, "err", err)
	return fmt.Errorf("config %s %s: %w", operation, path, err)
}
