package errutil

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleDiscordErrorClassifies(t *testing.T) {
	assert.NoError(t, HandleDiscordError("open", func() error { return nil }))

	err := HandleDiscordError("open", func() error {
		return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	assert.Error(t, HandleDiscordError("open", nil))
}

func TestHandleConfigErrorWraps(t *testing.T) {
	base := fmt.Errorf("bad toml")
	err := HandleConfigError("load", "/tmp/settings.toml", func() error { return base })
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "/tmp/settings.toml")
}
