package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/log"
)

// ServiceState represents the current state of a service
type ServiceState string

const (
	StateUninitialized ServiceState = "uninitialized"
	StateInitializing  ServiceState = "initializing"
	StateRunning       ServiceState = "running"
	StateStopping      ServiceState = "stopping"
	StateStopped       ServiceState = "stopped"
	StateError         ServiceState = "error"
)

// ServicePriority orders startup among services with no dependency between
// them; higher starts first and stops last.
type ServicePriority int

const (
	PriorityLow    ServicePriority = 1
	PriorityNormal ServicePriority = 5
	PriorityHigh   ServicePriority = 10
)

// HealthStatus represents the health of a service
type HealthStatus struct {
	Healthy   bool           `json:"healthy"`
	Message   string         `json:"message"`
	LastCheck time.Time      `json:"last_check"`
	Details   map[string]any `json:"details,omitempty"`
}

// Service is a long-running component of the bot.
type Service interface {
	Name() string
	Priority() ServicePriority
	// Dependencies names services that must be running first.
	Dependencies() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	HealthCheck(ctx context.Context) HealthStatus
}

// ServiceInfo is a snapshot of a registered service.
type ServiceInfo struct {
	Name          string       `json:"name"`
	State         ServiceState `json:"state"`
	Priority      int          `json:"priority"`
	LastStateTime time.Time    `json:"last_state_time"`
	StartTime     *time.Time   `json:"start_time,omitempty"`
	StopTime      *time.Time   `json:"stop_time,omitempty"`
	RestartCount  int          `json:"restart_count"`
	ErrorCount    int          `json:"error_count"`
	LastError     string       `json:"last_error,omitempty"`
}

type entry struct {
	service Service
	info    ServiceInfo
}

// ServiceManager coordinates the lifecycle of all services
type ServiceManager struct {
	services     map[string]*entry
	dependsOn    map[string][]string // service -> dependencies
	dependents   map[string][]string // service -> dependents
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	errorHandler *errors.ErrorHandler
	monitorOnce  sync.Once

	shutdownTimeout time.Duration
	startTimeout    time.Duration
	healthInterval  time.Duration
	maxRestarts     int
	restartDelay    time.Duration
}

// NewServiceManager creates a new service manager
func NewServiceManager(errorHandler *errors.ErrorHandler) *ServiceManager {
	ctx, cancel := context.WithCancel(context.Background())
	if errorHandler == nil {
		errorHandler = errors.NewErrorHandler()
	}
	return &ServiceManager{
		services:        make(map[string]*entry),
		dependsOn:       make(map[string][]string),
		dependents:      make(map[string][]string),
		ctx:             ctx,
		cancel:          cancel,
		errorHandler:    errorHandler,
		shutdownTimeout: 30 * time.Second,
		startTimeout:    30 * time.Second,
		healthInterval:  time.Minute,
		maxRestarts:     3,
		restartDelay:    5 * time.Second,
	}
}

// SetHealthInterval changes how often running services are checked.
func (sm *ServiceManager) SetHealthInterval(d time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if d > 0 {
		sm.healthInterval = d
	}
}

// Register adds a service to the manager
func (sm *ServiceManager) Register(service Service) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	name := service.Name()
	if _, exists := sm.services[name]; exists {
		return fmt.Errorf("service '%s' is already registered", name)
	}

	sm.services[name] = &entry{
		service: service,
		info: ServiceInfo{
			Name:          name,
			State:         StateUninitialized,
			Priority:      int(service.Priority()),
			LastStateTime: time.Now(),
		},
	}
	sm.dependsOn[name] = service.Dependencies()
	for _, dep := range service.Dependencies() {
		sm.dependents[dep] = append(sm.dependents[dep], name)
	}

	log.ApplicationLogger().Info("Service registered", "service", name, "priority", service.Priority(), "dependencies", service.Dependencies())
	return nil
}

// StartAll starts all services in dependency order, higher priority first.
// If any service fails, the ones already started are stopped again.
func (sm *ServiceManager) StartAll() error {
	log.ApplicationLogger().Info("Starting all services...")

	startOrder, err := sm.calculateStartOrder()
	if err != nil {
		return fmt.Errorf("failed to calculate start order: %w", err)
	}

	for _, name := range startOrder {
		if err := sm.StartService(name); err != nil {
			startErr := fmt.Errorf("failed to start service '%s': %w", name, err)
			if stopErr := sm.stopInOrder(startOrder); stopErr != nil {
				return errors.Join(startErr, stopErr)
			}
			return startErr
		}
	}

	sm.monitorOnce.Do(func() { go sm.healthMonitor() })

	log.ApplicationLogger().Info("All services started successfully", "services_count", len(startOrder))
	return nil
}

// StopAll stops all services in reverse start order.
func (sm *ServiceManager) StopAll() error {
	log.ApplicationLogger().Info("Stopping all services...")
	sm.cancel()

	startOrder, err := sm.calculateStartOrder()
	if err != nil {
		return fmt.Errorf("failed to calculate stop order: %w", err)
	}
	if err := sm.stopInOrder(startOrder); err != nil {
		log.ErrorLoggerRaw().Error("Some services failed to stop cleanly", "err", err)
		return err
	}
	log.ApplicationLogger().Info("All services stopped successfully")
	return nil
}

func (sm *ServiceManager) stopInOrder(startOrder []string) error {
	stopOrder := slices.Clone(startOrder)
	slices.Reverse(stopOrder)

	var stopErrors []error
	for _, name := range stopOrder {
		if err := sm.StopService(name); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop service '%s': %w", name, err))
		}
	}
	return errors.Join(stopErrors...)
}

// StartService starts a specific service and its dependencies
func (sm *ServiceManager) StartService(name string) error {
	sm.mu.Lock()
	e, exists := sm.services[name]
	if !exists {
		sm.mu.Unlock()
		return fmt.Errorf("service '%s': %w", name, errors.ErrNotFound)
	}
	switch e.info.State {
	case StateRunning:
		sm.mu.Unlock()
		return nil
	case StateInitializing:
		sm.mu.Unlock()
		return fmt.Errorf("service '%s' is already initializing", name)
	}
	sm.updateServiceState(e, StateInitializing)
	deps := sm.dependsOn[name]
	sm.mu.Unlock()

	for _, dep := range deps {
		if err := sm.StartService(dep); err != nil {
			sm.mu.Lock()
			sm.updateServiceState(e, StateError)
			sm.mu.Unlock()
			return fmt.Errorf("failed to start dependency '%s': %w", dep, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(sm.ctx), sm.startTimeout)
	defer cancel()

	logger := log.ApplicationLogger().With("service", name)
	logger.Info("Starting service...")

	err := sm.errorHandler.HandleWithRetry(ctx, "start_service", name, func() error {
		return e.service.Start(ctx)
	})

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err != nil {
		e.info.LastError = err.Error()
		e.info.ErrorCount++
		sm.updateServiceState(e, StateError)
		return err
	}
	now := time.Now()
	e.info.StartTime = &now
	e.info.StopTime = nil
	sm.updateServiceState(e, StateRunning)
	logger.Info("Service started successfully")
	return nil
}

// StopService stops a specific service and its dependents
func (sm *ServiceManager) StopService(name string) error {
	sm.mu.Lock()
	e, exists := sm.services[name]
	if !exists {
		sm.mu.Unlock()
		return fmt.Errorf("service '%s': %w", name, errors.ErrNotFound)
	}
	if e.info.State != StateRunning {
		sm.mu.Unlock()
		return nil
	}
	sm.updateServiceState(e, StateStopping)
	dependents := sm.dependents[name]
	sm.mu.Unlock()

	for _, dependent := range dependents {
		if err := sm.StopService(dependent); err != nil {
			log.ErrorLoggerRaw().Error("Failed to stop dependent service", "service", name, "dependent", dependent, "err", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	logger := log.ApplicationLogger().With("service", name)
	logger.Info("Stopping service...")
	err := e.service.Stop(ctx)

	sm.mu.Lock()
	if err != nil {
		e.info.LastError = err.Error()
		e.info.ErrorCount++
	}
	now := time.Now()
	e.info.StopTime = &now
	sm.updateServiceState(e, StateStopped)
	sm.mu.Unlock()

	if err != nil {
		log.ErrorLoggerRaw().Error("Service stopped with errors", "service", name, "err", err)
		return err
	}
	logger.Info("Service stopped successfully")
	return nil
}

// RestartService restarts a specific service
func (sm *ServiceManager) RestartService(name string) error {
	log.ApplicationLogger().Info("Restarting service...", "service", name)

	if err := sm.StopService(name); err != nil {
		log.ErrorLoggerRaw().Error("Failed to stop service for restart", "service", name, "err", err)
	}

	select {
	case <-sm.ctx.Done():
		return sm.ctx.Err()
	case <-time.After(sm.restartDelay):
	}

	sm.mu.Lock()
	if e, ok := sm.services[name]; ok {
		e.info.RestartCount++
	}
	sm.mu.Unlock()

	return sm.StartService(name)
}

// GetServiceInfo returns information about a specific service
func (sm *ServiceManager) GetServiceInfo(name string) (ServiceInfo, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	e, exists := sm.services[name]
	if !exists {
		return ServiceInfo{}, fmt.Errorf("service '%s': %w", name, errors.ErrNotFound)
	}
	return e.info, nil
}

// GetAllServices returns a snapshot of every service, in start order when
// the dependency graph allows it and by name otherwise.
func (sm *ServiceManager) GetAllServices() []ServiceInfo {
	order, err := sm.calculateStartOrder()

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if err != nil {
		order = make([]string, 0, len(sm.services))
		for name := range sm.services {
			order = append(order, name)
		}
		slices.Sort(order)
	}
	out := make([]ServiceInfo, 0, len(order))
	for _, name := range order {
		out = append(out, sm.services[name].info)
	}
	return out
}

// GetRunningServices returns the names of running services, sorted.
func (sm *ServiceManager) GetRunningServices() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var running []string
	for name, e := range sm.services {
		if e.info.State == StateRunning {
			running = append(running, name)
		}
	}
	slices.Sort(running)
	return running
}

// calculateStartOrder is a topological sort; roots are visited by priority,
// then name, so the order is stable.
func (sm *ServiceManager) calculateStartOrder() ([]string, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	names := make([]string, 0, len(sm.services))
	for name := range sm.services {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		pa, pb := sm.services[a].service.Priority(), sm.services[b].service.Priority()
		if pa != pb {
			return cmp.Compare(pb, pa)
		}
		return cmp.Compare(a, b)
	})

	visited := make(map[string]bool)
	temp := make(map[string]bool)
	var order []string

	var visit func(string) error
	visit = func(name string) error {
		if temp[name] {
			return fmt.Errorf("circular dependency detected involving service '%s'", name)
		}
		if visited[name] {
			return nil
		}
		temp[name] = true
		for _, dep := range sm.dependsOn[name] {
			if _, exists := sm.services[dep]; !exists {
				return fmt.Errorf("service '%s' depends on unknown service '%s'", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		temp[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// updateServiceState assumes sm.mu is held.
func (sm *ServiceManager) updateServiceState(e *entry, state ServiceState) {
	e.info.State = state
	e.info.LastStateTime = time.Now()
}

func (sm *ServiceManager) healthMonitor() {
	sm.mu.RLock()
	interval := sm.healthInterval
	sm.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			return
		case <-ticker.C:
			sm.performHealthChecks()
		}
	}
}

func (sm *ServiceManager) performHealthChecks() {
	sm.mu.RLock()
	var running []*entry
	for _, e := range sm.services {
		if e.info.State == StateRunning {
			running = append(running, e)
		}
	}
	sm.mu.RUnlock()

	for _, e := range running {
		sm.checkServiceHealth(e)
	}
}

// checkServiceHealth restarts an unhealthy service until maxRestarts is used up.
func (sm *ServiceManager) checkServiceHealth(e *entry) {
	ctx, cancel := context.WithTimeout(sm.ctx, 10*time.Second)
	defer cancel()

	health := e.service.HealthCheck(ctx)
	if health.Healthy {
		return
	}
	name := e.service.Name()
	log.ErrorLoggerRaw().Error("Service health check failed", "service", name, "message", health.Message, "details", health.Details)

	sm.mu.Lock()
	e.info.ErrorCount++
	canRestart := e.info.RestartCount < sm.maxRestarts
	sm.mu.Unlock()

	if !canRestart {
		log.ErrorLoggerRaw().Error("Service exceeded maximum restart attempts", "service", name)
		return
	}
	go func() {
		log.ApplicationLogger().Info("Attempting to restart unhealthy service", "service", name)
		if err := sm.RestartService(name); err != nil {
			log.ErrorLoggerRaw().Error("Failed to restart unhealthy service", "service", name, "err", err)
		}
	}()
}
