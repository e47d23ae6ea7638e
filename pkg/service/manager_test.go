package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func recorded(j *journal, name string, priority ServicePriority, deps []string, startErr error) *ServiceWrapper {
	return NewServiceWrapper(name, priority, deps,
		func(context.Context) error {
			if startErr != nil {
				return startErr
			}
			j.add("start " + name)
			return nil
		},
		func(context.Context) error {
			j.add("stop " + name)
			return nil
		},
		nil,
	)
}

func TestStartAllOrdersByDependencyThenPriority(t *testing.T) {
	j := &journal{}
	sm := NewServiceManager(nil)
	require.NoError(t, sm.Register(recorded(j, "control", PriorityLow, nil, nil)))
	require.NoError(t, sm.Register(recorded(j, "roles", PriorityNormal, []string{"bridge"}, nil)))
	require.NoError(t, sm.Register(recorded(j, "bridge", PriorityHigh, nil, nil)))

	require.NoError(t, sm.StartAll())
	assert.Equal(t, []string{"start bridge", "start roles", "start control"}, j.all())
	assert.Equal(t, []string{"bridge", "control", "roles"}, sm.GetRunningServices())

	require.NoError(t, sm.StopAll())
	assert.Equal(t, []string{
		"start bridge", "start roles", "start control",
		"stop control", "stop roles", "stop bridge",
	}, j.all())
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	j := &journal{}
	sm := NewServiceManager(nil)
	require.NoError(t, sm.Register(recorded(j, "bridge", PriorityHigh, nil, nil)))
	require.NoError(t, sm.Register(recorded(j, "control", PriorityLow, nil, fmt.Errorf("address in use"))))

	err := sm.StartAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.Equal(t, []string{"start bridge", "stop bridge"}, j.all())

	info, err := sm.GetServiceInfo("control")
	require.NoError(t, err)
	assert.Equal(t, StateError, info.State)
	assert.Equal(t, 1, info.ErrorCount)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	sm := NewServiceManager(nil)
	require.NoError(t, sm.Register(recorded(&journal{}, "a", PriorityLow, nil, nil)))
	assert.Error(t, sm.Register(recorded(&journal{}, "a", PriorityLow, nil, nil)))
}

func TestCircularDependency(t *testing.T) {
	sm := NewServiceManager(nil)
	require.NoError(t, sm.Register(recorded(&journal{}, "a", PriorityLow, []string{"b"}, nil)))
	require.NoError(t, sm.Register(recorded(&journal{}, "b", PriorityLow, []string{"a"}, nil)))

	err := sm.StartAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestUnknownDependency(t *testing.T) {
	sm := NewServiceManager(nil)
	require.NoError(t, sm.Register(recorded(&journal{}, "a", PriorityLow, []string{"ghost"}, nil)))
	assert.ErrorContains(t, sm.StartAll(), "unknown service 'ghost'")
}

func TestStopServiceStopsDependentsFirst(t *testing.T) {
	j := &journal{}
	sm := NewServiceManager(nil)
	require.NoError(t, sm.Register(recorded(j, "bridge", PriorityHigh, nil, nil)))
	require.NoError(t, sm.Register(recorded(j, "roles", PriorityNormal, []string{"bridge"}, nil)))
	require.NoError(t, sm.StartAll())

	require.NoError(t, sm.StopService("bridge"))
	assert.Equal(t, []string{"start bridge", "start roles", "stop roles", "stop bridge"}, j.all())
	require.NoError(t, sm.StopAll())
}

func TestWrapperHealth(t *testing.T) {
	healthy := true
	w := NewServiceWrapper("db", PriorityNormal, nil, nil, nil, func(context.Context) error {
		if !healthy {
			return fmt.Errorf("database is locked")
		}
		return nil
	})
	ctx := context.Background()

	assert.False(t, w.HealthCheck(ctx).Healthy)
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.HealthCheck(ctx).Healthy)

	healthy = false
	status := w.HealthCheck(ctx)
	assert.False(t, status.Healthy)
	assert.Equal(t, "database is locked", status.Message)
}

func TestBaseServiceDefaultHealth(t *testing.T) {
	bs := NewBaseService("plain", PriorityLow, nil)
	ctx := context.Background()
	assert.Equal(t, "Service state unknown", bs.HealthCheck(ctx).Message)

	require.NoError(t, bs.Start(ctx))
	status := bs.HealthCheck(ctx)
	assert.True(t, status.Healthy)
	assert.Equal(t, StateRunning, bs.GetState())

	require.NoError(t, bs.Stop(ctx))
	assert.Equal(t, "Service is stopped", bs.HealthCheck(ctx).Message)
}
