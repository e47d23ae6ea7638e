package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestHandleWithRetryRetriesTransient(t *testing.T) {
	eh := NewErrorHandler()
	eh.sleep = noSleep

	calls := 0
	err := eh.HandleWithRetry(context.Background(), "send", "test", func() error {
		calls++
		if calls < 3 {
			return Wrap(ErrTransientIO, "send", fmt.Errorf("502"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestHandleWithRetryStopsOnNonRecoverable(t *testing.T) {
	eh := NewErrorHandler()
	eh.sleep = noSleep

	calls := 0
	err := eh.HandleWithRetry(context.Background(), "grant", "test", func() error {
		calls++
		return Wrap(ErrForbidden, "grant", fmt.Errorf("403"))
	})
	require.Error(t, err)
	assert.True(t, Is(err, ErrForbidden))
	assert.Equal(t, 1, calls)
}

func TestClassifyDiscordError(t *testing.T) {
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	missing := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	flaky := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadGateway}}

	assert.True(t, Is(ClassifyDiscordError("op", forbidden), ErrForbidden))
	assert.True(t, Is(ClassifyDiscordError("op", missing), ErrNotFound))
	assert.True(t, Is(ClassifyDiscordError("op", flaky), ErrTransientIO))
	assert.True(t, Is(ClassifyDiscordError("op", fmt.Errorf("dial tcp")), ErrTransientIO))
	assert.NoError(t, ClassifyDiscordError("op", nil))
}

func TestIsUserFacing(t *testing.T) {
	assert.True(t, IsUserFacing(fmt.Errorf("add: %w", ErrConflict)))
	assert.True(t, IsUserFacing(ErrNotOwner))
	assert.False(t, IsUserFacing(ErrTransientIO))
	assert.False(t, IsUserFacing(fmt.Errorf("boom")))
}

func TestCalculateDelayCaps(t *testing.T) {
	s := RetryStrategy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, calculateDelay(s, 1))
	assert.Equal(t, 2*time.Second, calculateDelay(s, 2))
	assert.Equal(t, 3*time.Second, calculateDelay(s, 3))
}
