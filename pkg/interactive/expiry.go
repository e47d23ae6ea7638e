package interactive

import (
	"sync"
	"time"
)

// Clock abstracts time so expiry can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Handle names one armed expiry. A handle whose generation is no longer the
// current one for its session is dead: cancelling it does nothing and its
// timer firing does nothing.
type Handle struct {
	SessionID string
	Gen       uint64
}

func (h Handle) IsZero() bool { return h.Gen == 0 }

type armedTimer struct {
	handle Handle
	timer  Timer
}

// Scheduler keeps at most one outstanding expiry per session.
type Scheduler struct {
	clock Clock
	fire  func(Handle)

	mu     sync.Mutex
	gen    uint64
	timers map[string]armedTimer
}

// NewScheduler calls fire with the handle of every timer that elapses while current.
func NewScheduler(clock Clock, fire func(Handle)) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{clock: clock, fire: fire, timers: make(map[string]armedTimer)}
}

// Arm schedules expiry of sessionID after d, replacing any timer it already had.
func (s *Scheduler) Arm(sessionID string, d time.Duration) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[sessionID]; ok {
		prev.timer.Stop()
	}
	s.gen++
	h := Handle{SessionID: sessionID, Gen: s.gen}
	t := s.clock.AfterFunc(d, func() { s.elapsed(h) })
	s.timers[sessionID] = armedTimer{handle: h, timer: t}
	return h
}

// Cancel stops h if it is still the current timer of its session.
func (s *Scheduler) Cancel(h Handle) bool {
	if h.IsZero() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.timers[h.SessionID]
	if !ok || cur.handle != h {
		return false
	}
	cur.timer.Stop()
	delete(s.timers, h.SessionID)
	return true
}

// Live reports whether h is the current timer of its session.
func (s *Scheduler) Live(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.timers[h.SessionID]
	return ok && cur.handle == h
}

// Pending returns the number of outstanding timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Now reads the scheduler's clock.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Stop cancels every outstanding timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) elapsed(h Handle) {
	s.mu.Lock()
	cur, ok := s.timers[h.SessionID]
	if !ok || cur.handle != h {
		s.mu.Unlock()
		return
	}
	delete(s.timers, h.SessionID)
	s.mu.Unlock()

	if s.fire != nil {
		s.fire(h)
	}
}
