package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/small-frappuccino/kokobot/pkg/log"
)

// BaseService tracks state for a service and delegates the work to hooks.
type BaseService struct {
	name         string
	priority     ServicePriority
	dependencies []string

	stateMutex sync.RWMutex
	state      ServiceState
	isRunning  bool
	startTime  time.Time
	errorCount int
	lastError  error

	startHook  func(ctx context.Context) error
	stopHook   func(ctx context.Context) error
	healthHook func(ctx context.Context) HealthStatus

	logger *slog.Logger
}

// NewBaseService creates a new base service
func NewBaseService(name string, priority ServicePriority, dependencies []string) *BaseService {
	return &BaseService{
		name:         name,
		priority:     priority,
		dependencies: dependencies,
		state:        StateUninitialized,
		logger:       log.ForComponent(name),
	}
}

func (bs *BaseService) Name() string              { return bs.name }
func (bs *BaseService) Priority() ServicePriority { return bs.priority }
func (bs *BaseService) Dependencies() []string    { return bs.dependencies }

// Start runs the start hook once; starting a running service is a no-op.
func (bs *BaseService) Start(ctx context.Context) error {
	bs.stateMutex.Lock()
	defer bs.stateMutex.Unlock()

	if bs.isRunning {
		return nil
	}
	bs.logger.Info("Starting service...")
	bs.state = StateInitializing

	if bs.startHook != nil {
		if err := bs.startHook(ctx); err != nil {
			bs.state = StateError
			bs.errorCount++
			bs.lastError = err
			bs.logger.Error("Service start failed", "err", err)
			return fmt.Errorf("start %s: %w", bs.name, err)
		}
	}

	bs.isRunning = true
	bs.state = StateRunning
	bs.startTime = time.Now()
	bs.logger.Info("Service started successfully")
	return nil
}

// Stop runs the stop hook. A failing hook is recorded, the service still
// counts as stopped.
func (bs *BaseService) Stop(ctx context.Context) error {
	bs.stateMutex.Lock()
	defer bs.stateMutex.Unlock()

	if !bs.isRunning {
		return nil
	}
	bs.logger.Info("Stopping service...")
	bs.state = StateStopping

	var err error
	if bs.stopHook != nil {
		if err = bs.stopHook(ctx); err != nil {
			bs.errorCount++
			bs.lastError = err
			bs.logger.Warn("Service stop failed", "err", err)
			err = fmt.Errorf("stop %s: %w", bs.name, err)
		}
	}

	bs.isRunning = false
	bs.state = StateStopped
	bs.logger.Info("Service stopped")
	return err
}

func (bs *BaseService) IsRunning() bool {
	bs.stateMutex.RLock()
	defer bs.stateMutex.RUnlock()
	return bs.isRunning
}

// HealthCheck uses the health hook, or reports whether the service runs.
func (bs *BaseService) HealthCheck(ctx context.Context) HealthStatus {
	if bs.healthHook != nil {
		return bs.healthHook(ctx)
	}

	bs.stateMutex.RLock()
	defer bs.stateMutex.RUnlock()
	details := map[string]any{
		"state":       bs.state,
		"error_count": bs.errorCount,
	}
	if bs.isRunning {
		details["uptime"] = time.Since(bs.startTime).Round(time.Second).String()
	}
	return HealthStatus{
		Healthy:   bs.isRunning,
		Message:   bs.defaultHealthMessage(),
		LastCheck: time.Now(),
		Details:   details,
	}
}

// GetState returns the current service state
func (bs *BaseService) GetState() ServiceState {
	bs.stateMutex.RLock()
	defer bs.stateMutex.RUnlock()
	return bs.state
}

func (bs *BaseService) SetStartHook(hook func(ctx context.Context) error) { bs.startHook = hook }

func (bs *BaseService) SetStopHook(hook func(ctx context.Context) error) { bs.stopHook = hook }

func (bs *BaseService) SetHealthHook(hook func(ctx context.Context) HealthStatus) {
	bs.healthHook = hook
}

// defaultHealthMessage assumes stateMutex is held.
func (bs *BaseService) defaultHealthMessage() string {
	switch bs.state {
	case StateRunning:
		return "Service is running normally"
	case StateStopped:
		return "Service is stopped"
	case StateError:
		if bs.lastError != nil {
			return fmt.Sprintf("Service error: %v", bs.lastError)
		}
		return "Service is in error state"
	case StateInitializing:
		return "Service is starting up"
	case StateStopping:
		return "Service is shutting down"
	default:
		return "Service state unknown"
	}
}

// ServiceWrapper adapts plain start/stop functions to Service.
type ServiceWrapper struct {
	*BaseService
}

// NewServiceWrapper wraps start and stop; check, when set, backs HealthCheck.
func NewServiceWrapper(
	name string,
	priority ServicePriority,
	dependencies []string,
	start func(ctx context.Context) error,
	stop func(ctx context.Context) error,
	check func(ctx context.Context) error,
) *ServiceWrapper {
	w := &ServiceWrapper{BaseService: NewBaseService(name, priority, dependencies)}
	w.SetStartHook(start)
	w.SetStopHook(stop)
	if check != nil {
		w.SetHealthHook(func(ctx context.Context) HealthStatus {
			status := HealthStatus{Healthy: true, Message: "Service is healthy", LastCheck: time.Now()}
			if !w.IsRunning() {
				status.Healthy, status.Message = false, "Service is not running"
			} else if err := check(ctx); err != nil {
				status.Healthy, status.Message = false, err.Error()
			}
			return status
		})
	}
	return w
}
