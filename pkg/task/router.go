package task

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/small-frappuccino/kokobot/pkg/log"
)

// TaskHandler processes one task payload.
type TaskHandler func(ctx context.Context, payload any) error

// TaskOptions configures how a task is dispatched and executed.
type TaskOptions struct {
	// GroupKey serializes tasks sharing the key. Interactive events use the
	// message id so one message's events run in arrival order.
	GroupKey string

	// IdempotencyKey drops a task while an earlier one with the same key is
	// within its IdempotencyTTL.
	IdempotencyKey string
	IdempotencyTTL time.Duration

	// MaxAttempts bounds retries of retryable failures. 0 uses the router default.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Task is a unit of work for the router.
type Task struct {
	Type    string
	Payload any
	Options TaskOptions
}

// Observer is told about every finished handler run.
type Observer interface {
	TaskFinished(taskType string, d time.Duration, err error)
}

// RouterConfig configures the TaskRouter.
type RouterConfig struct {
	DefaultMaxAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	IdempotencyTTL     time.Duration

	// GroupBuffer is the queue length of each group worker.
	GroupBuffer int
	// GroupIdleTTL stops a group worker after this long without work.
	GroupIdleTTL    time.Duration
	CleanupInterval time.Duration

	// GlobalMaxWorkers caps concurrent handler runs across groups; 0 is unlimited.
	GlobalMaxWorkers int

	// TaskTimeout bounds each handler run; 0 means no deadline.
	TaskTimeout time.Duration

	// Retryable decides whether a failure is retried. Nil retries every failure.
	Retryable func(error) bool

	Observer Observer
}

// Defaults returns a RouterConfig with sensible defaults.
func Defaults() RouterConfig {
	return RouterConfig{
		DefaultMaxAttempts: 3,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		IdempotencyTTL:     60 * time.Second,
		GroupBuffer:        128,
		GroupIdleTTL:       2 * time.Minute,
		CleanupInterval:    1 * time.Minute,
		TaskTimeout:        30 * time.Second,
	}
}

var (
	ErrRouterClosed    = errors.New("task router is closed")
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrDuplicateTask   = errors.New("duplicate task (idempotency key present)")
	ErrQueueFull       = errors.New("task group queue is full")
)

const globalGroup = "_global"

// TaskRouter is an in-memory dispatcher with per-group serialization,
// idempotency, panic isolation and retry with exponential backoff.
type TaskRouter struct {
	cfg RouterConfig

	mu       sync.RWMutex
	handlers map[string]TaskHandler
	groups   map[string]*groupWorker
	inflight map[string]time.Time
	closed   bool

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopCh     chan struct{}

	execSem chan struct{}

	randMu sync.Mutex
	rng    *rand.Rand

	executed atomic.Int64
	failed   atomic.Int64
	panics   atomic.Int64
}

type groupWorker struct {
	key        string
	ch         chan *enqueuedTask
	lastActive atomic.Int64
	// sending counts Dispatch calls between choosing this worker and
	// finishing their send; cleanup leaves such a worker alone.
	sending  int
	stopping bool
}

type enqueuedTask struct {
	task    Task
	attempt int
}

// NewRouter creates a TaskRouter, filling zero fields from Defaults.
func NewRouter(cfg RouterConfig) *TaskRouter {
	def := Defaults()
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	if cfg.GroupBuffer <= 0 {
		cfg.GroupBuffer = def.GroupBuffer
	}
	if cfg.GroupIdleTTL <= 0 {
		cfg.GroupIdleTTL = def.GroupIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	tr := &TaskRouter{
		cfg:        cfg,
		handlers:   make(map[string]TaskHandler),
		groups:     make(map[string]*groupWorker),
		inflight:   make(map[string]time.Time),
		baseCtx:    ctx,
		cancelBase: cancel,
		stopCh:     make(chan struct{}),
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	if cfg.GlobalMaxWorkers > 0 {
		tr.execSem = make(chan struct{}, cfg.GlobalMaxWorkers)
	}

	tr.wg.Add(1)
	go tr.cleanupLoop()
	return tr
}

// RegisterHandler registers a handler for the given task type.
func (tr *TaskRouter) RegisterHandler(taskType string, handler TaskHandler) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.handlers[taskType] = handler
}

// Dispatch enqueues t. It blocks while the group queue is full, until ctx is done.
func (tr *TaskRouter) Dispatch(ctx context.Context, t Task) error {
	gw, err := tr.admit(t)
	if err != nil {
		return err
	}
	defer tr.doneSending(gw)

	select {
	case gw.ch <- &enqueuedTask{task: t, attempt: 1}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-tr.stopCh:
		return ErrRouterClosed
	}
}

// admit validates t, records its idempotency key and reserves a send slot
// on its group worker.
func (tr *TaskRouter) admit(t Task) (*groupWorker, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.closed {
		return nil, ErrRouterClosed
	}
	if h, ok := tr.handlers[t.Type]; !ok || h == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, t.Type)
	}

	eff := tr.effectiveOptions(t.Options)
	if eff.IdempotencyKey != "" {
		now := time.Now()
		if expiry, ok := tr.inflight[eff.IdempotencyKey]; ok && now.Before(expiry) {
			return nil, ErrDuplicateTask
		}
		tr.inflight[eff.IdempotencyKey] = now.Add(eff.IdempotencyTTL)
	}

	gw := tr.ensureGroupLocked(groupKey(eff))
	gw.sending++
	return gw, nil
}

func (tr *TaskRouter) doneSending(gw *groupWorker) {
	tr.mu.Lock()
	gw.sending--
	tr.mu.Unlock()
}

// Close stops the router and waits for workers. Queued tasks not yet
// started are dropped; running handlers see their context canceled.
func (tr *TaskRouter) Close() {
	tr.stopOnce.Do(func() {
		tr.mu.Lock()
		tr.closed = true
		tr.mu.Unlock()

		close(tr.stopCh)
		tr.cancelBase()
		tr.wg.Wait()
	})
}

// Stats is a snapshot for monitoring.
type Stats struct {
	GroupsCount     int
	InflightCount   int
	RegisteredTypes int
	RouterClosed    bool
	Executed        int64
	Failed          int64
	Panics          int64
}

func (tr *TaskRouter) Stats() Stats {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return Stats{
		GroupsCount:     len(tr.groups),
		InflightCount:   len(tr.inflight),
		RegisteredTypes: len(tr.handlers),
		RouterClosed:    tr.closed,
		Executed:        tr.executed.Load(),
		Failed:          tr.failed.Load(),
		Panics:          tr.panics.Load(),
	}
}

// ScheduleEvery dispatches t every interval until the returned cancel is
// called or the router closes. The first run happens after one interval.
func (tr *TaskRouter) ScheduleEvery(interval time.Duration, t Task) (cancel func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var once sync.Once

	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-tr.stopCh:
				return
			case <-ticker.C:
				err := tr.Dispatch(tr.baseCtx, t)
				if err != nil && !errors.Is(err, ErrDuplicateTask) && !errors.Is(err, ErrRouterClosed) {
					log.ApplicationLogger().Warn("Scheduled task not dispatched", "type", t.Type, "err", err)
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func groupKey(opt TaskOptions) string {
	if opt.GroupKey == "" {
		return globalGroup
	}
	return opt.GroupKey
}

func (tr *TaskRouter) effectiveOptions(opt TaskOptions) TaskOptions {
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = tr.cfg.DefaultMaxAttempts
	}
	if opt.InitialBackoff <= 0 {
		opt.InitialBackoff = tr.cfg.InitialBackoff
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = tr.cfg.MaxBackoff
	}
	if opt.IdempotencyTTL <= 0 {
		opt.IdempotencyTTL = tr.cfg.IdempotencyTTL
	}
	return opt
}

func (tr *TaskRouter) ensureGroupLocked(key string) *groupWorker {
	if gw, ok := tr.groups[key]; ok && !gw.stopping {
		return gw
	}
	gw := &groupWorker{key: key, ch: make(chan *enqueuedTask, tr.cfg.GroupBuffer)}
	gw.lastActive.Store(time.Now().UnixNano())
	tr.groups[key] = gw

	tr.wg.Add(1)
	go tr.groupLoop(gw)
	return gw
}

func (tr *TaskRouter) groupLoop(gw *groupWorker) {
	defer tr.wg.Done()
	for {
		select {
		case <-tr.stopCh:
			return
		case enq, ok := <-gw.ch:
			if !ok {
				return
			}
			tr.execute(gw, enq)
			gw.lastActive.Store(time.Now().UnixNano())
		}
	}
}

func (tr *TaskRouter) execute(gw *groupWorker, enq *enqueuedTask) {
	tr.mu.RLock()
	handler := tr.handlers[enq.task.Type]
	eff := tr.effectiveOptions(enq.task.Options)
	tr.mu.RUnlock()

	if handler == nil {
		log.ApplicationLogger().Warn("Task dropped (handler not registered)", "type", enq.task.Type, "group", gw.key)
		return
	}

	if tr.execSem != nil {
		select {
		case tr.execSem <- struct{}{}:
		case <-tr.stopCh:
			return
		}
		defer func() { <-tr.execSem }()
	}

	start := time.Now()
	err := tr.run(handler, enq.task)
	tr.executed.Add(1)
	if obs := tr.cfg.Observer; obs != nil {
		obs.TaskFinished(enq.task.Type, time.Since(start), err)
	}
	if err == nil {
		return
	}

	if tr.retryable(err) && enq.attempt < eff.MaxAttempts {
		delay := tr.computeBackoff(eff.InitialBackoff, eff.MaxBackoff, enq.attempt)
		log.ApplicationLogger().Warn("Task failed, scheduling retry",
			"type", enq.task.Type,
			"group", gw.key,
			"attempt", enq.attempt+1,
			"max_attempts", eff.MaxAttempts,
			"backoff", delay.String(),
			"err", err,
		)
		tr.retryLater(&enqueuedTask{task: enq.task, attempt: enq.attempt + 1}, delay)
		return
	}

	tr.failed.Add(1)
	log.ErrorLoggerRaw().Error("Task failed",
		"type", enq.task.Type,
		"group", gw.key,
		"attempts", enq.attempt,
		"err", err,
	)
}

func (tr *TaskRouter) retryable(err error) bool {
	var pe *PanicError
	if errors.As(err, &pe) || tr.baseCtx.Err() != nil {
		return false
	}
	return tr.cfg.Retryable == nil || tr.cfg.Retryable(err)
}

// run calls handler with a bounded context and turns a panic into an error.
func (tr *TaskRouter) run(handler TaskHandler, t Task) (err error) {
	ctx := tr.baseCtx
	if tr.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tr.cfg.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			tr.panics.Add(1)
			log.ErrorLoggerRaw().Error("Task handler panicked", "type", t.Type, "panic", r, "stack", string(debug.Stack()))
			err = &PanicError{Value: r}
		}
	}()
	return handler(ctx, t.Payload)
}

// PanicError reports a recovered handler panic. It is never retried.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("task handler panic: %v", e.Value) }

func (tr *TaskRouter) retryLater(et *enqueuedTask, delay time.Duration) {
	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-tr.stopCh:
			return
		case <-timer.C:
		}

		tr.mu.Lock()
		if tr.closed {
			tr.mu.Unlock()
			return
		}
		gw := tr.ensureGroupLocked(groupKey(et.task.Options))
		gw.sending++
		tr.mu.Unlock()
		defer tr.doneSending(gw)

		select {
		case gw.ch <- et:
		case <-tr.stopCh:
		}
	}()
}

func (tr *TaskRouter) computeBackoff(initial, maxDelay time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt && backoff < maxDelay; i++ {
		backoff *= 2
	}
	backoff = min(backoff, maxDelay)

	// +/-10% jitter
	delta := int64(backoff) / 10
	if delta > 0 {
		tr.randMu.Lock()
		backoff += time.Duration(tr.rng.Int64N(2*delta+1) - delta)
		tr.randMu.Unlock()
	}
	return max(min(backoff, maxDelay), initial)
}

func (tr *TaskRouter) cleanupLoop() {
	defer tr.wg.Done()
	t := time.NewTicker(tr.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-tr.stopCh:
			return
		case <-t.C:
			tr.cleanupOnce()
		}
	}
}

func (tr *TaskRouter) cleanupOnce() {
	now := time.Now()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	for k, expiry := range tr.inflight {
		if now.After(expiry) {
			delete(tr.inflight, k)
		}
	}
	for key, gw := range tr.groups {
		if gw.stopping || gw.sending > 0 || len(gw.ch) > 0 {
			continue
		}
		if now.Sub(time.Unix(0, gw.lastActive.Load())) >= tr.cfg.GroupIdleTTL {
			gw.stopping = true
			close(gw.ch)
			delete(tr.groups, key)
		}
	}
}
