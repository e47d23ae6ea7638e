package interactive

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in order on the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

type fakePlatform struct {
	mu       sync.Mutex
	edits    map[string][]Display
	added    map[string][]string
	removed  []string
	clears   map[string]int
	reactors map[string][]string
	editErr  error
	clearErr error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		edits:    make(map[string][]Display),
		added:    make(map[string][]string),
		clears:   make(map[string]int),
		reactors: make(map[string][]string),
	}
}

func (p *fakePlatform) EditEmbed(_ context.Context, ref MessageRef, d Display) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.editErr != nil {
		return p.editErr
	}
	p.edits[ref.MessageID] = append(p.edits[ref.MessageID], d)
	return nil
}

func (p *fakePlatform) AddReaction(_ context.Context, ref MessageRef, emoji string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added[ref.MessageID] = append(p.added[ref.MessageID], emoji)
	return nil
}

func (p *fakePlatform) RemoveUserReaction(_ context.Context, ref MessageRef, emoji, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, ref.MessageID+"|"+emoji+"|"+userID)
	return nil
}

func (p *fakePlatform) RemoveAllReactions(_ context.Context, ref MessageRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears[ref.MessageID]++
	p.added[ref.MessageID] = nil
	return p.clearErr
}

func (p *fakePlatform) CurrentReactors(_ context.Context, ref MessageRef) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.reactors[ref.MessageID]), nil
}

func (p *fakePlatform) editCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.edits[id])
}

func (p *fakePlatform) lastEdit(id string) Display {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.edits[id]
	if len(e) == 0 {
		return Display{}
	}
	return e[len(e)-1]
}

func (p *fakePlatform) clearCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clears[id]
}

func (p *fakePlatform) reactions(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.added[id])
}

func (p *fakePlatform) setReactors(id string, users ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reactors[id] = users
}

type countingObserver struct {
	mu      sync.Mutex
	opened  int
	closed  map[CloseReason]int
	handled int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{closed: make(map[CloseReason]int)}
}

func (o *countingObserver) SessionOpened(Kind) {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
}

func (o *countingObserver) SessionClosed(_ Kind, r CloseReason) {
	o.mu.Lock()
	o.closed[r]++
	o.mu.Unlock()
}

func (o *countingObserver) ReactionHandled(Kind, Symbol) {
	o.mu.Lock()
	o.handled++
	o.mu.Unlock()
}

func numberedLines(n int) SliceSource {
	out := make(SliceSource, n)
	for i := range out {
		out[i] = fmt.Sprintf("*note%02d", i)
	}
	return out
}
