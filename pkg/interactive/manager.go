package interactive

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/log"
)

// DefaultExpiry is how long a session stays interactive without input.
const DefaultExpiry = 60 * time.Second

// Platform is the chat client surface the manager drives.
type Platform interface {
	EditEmbed(ctx context.Context, ref MessageRef, d Display) error
	AddReaction(ctx context.Context, ref MessageRef, emoji string) error
	RemoveUserReaction(ctx context.Context, ref MessageRef, emoji, userID string) error
	RemoveAllReactions(ctx context.Context, ref MessageRef) error
	// CurrentReactors returns every user reacting to the message with any
	// emoji, excluding the bot itself.
	CurrentReactors(ctx context.Context, ref MessageRef) ([]string, error)
}

// CloseReason tells an Observer why a session ended.
type CloseReason string

const (
	CloseExpired    CloseReason = "expired"
	CloseStopped    CloseReason = "stopped"
	CloseDeleted    CloseReason = "deleted"
	CloseShutdown   CloseReason = "shutdown"
	CloseSinglePage CloseReason = "single_page" // rows shrank to one page
)

// Observer receives session lifecycle notifications.
type Observer interface {
	SessionOpened(kind Kind)
	SessionClosed(kind Kind, reason CloseReason)
	ReactionHandled(kind Kind, sym Symbol)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(Kind)              {}
func (nopObserver) SessionClosed(Kind, CloseReason) {}
func (nopObserver) ReactionHandled(Kind, Symbol)    {}

// Dispatcher runs fn for sessionID, typically on the worker that also
// handles that message's reactions. The default runs fn inline.
type Dispatcher func(sessionID string, fn func(ctx context.Context))

// Option configures a Manager.
type Option func(*Manager)

func WithExpiry(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.expiry = d
		}
	}
}

func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRand sets the source used for shuffles and mixer colors.
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rng = r }
}

func WithExpiryDispatcher(d Dispatcher) Option {
	return func(m *Manager) { m.dispatch = d }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// MixerBounds sets the accepted group counts.
func MixerBounds(lo, hi int) Option {
	return func(m *Manager) {
		m.minGroups, m.maxGroups = lo, hi
	}
}

// Manager is the render and dispatch loop for interactive messages.
type Manager struct {
	platform Platform
	registry *Registry
	sched    *Scheduler
	locks    *keyLock
	observer Observer

	clock    Clock
	dispatch Dispatcher
	expiry   time.Duration

	minGroups, maxGroups int

	rngMu sync.Mutex
	rng   *rand.Rand

	selfID atomic.Value
}

func NewManager(p Platform, opts ...Option) *Manager {
	m := &Manager{
		platform:  p,
		registry:  NewRegistry(),
		locks:     newKeyLock(),
		observer:  nopObserver{},
		clock:     realClock{},
		expiry:    DefaultExpiry,
		minGroups: 2,
		maxGroups: 5,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if m.dispatch == nil {
		m.dispatch = func(_ string, fn func(context.Context)) { fn(context.Background()) }
	}
	m.sched = NewScheduler(m.clock, m.onTimer)
	return m
}

// SetSelfID records the bot's own user id; its reactions are ignored.
func (m *Manager) SetSelfID(id string) { m.selfID.Store(id) }

func (m *Manager) self() string {
	id, _ := m.selfID.Load().(string)
	return id
}

// Registry exposes the live sessions.
func (m *Manager) Registry() *Registry { return m.registry }

// Sessions returns a snapshot of every live session.
func (m *Manager) Sessions() []Session { return m.registry.List() }

// OpenList renders page 0 of a list onto ref, which must already be posted.
// The session is registered only when there is more than one page to move
// between; a single page is rendered and left static.
func (m *Manager) OpenList(ctx context.Context, ref MessageRef, kind Kind, state ListState) (Session, error) {
	if !kind.IsList() {
		return Session{}, fmt.Errorf("open list: %s is not a list kind", kind)
	}
	if state.PageSize <= 0 {
		state.PageSize = 10
	}
	unlock := m.locks.Lock(ref.MessageID)
	defer unlock()

	page, total, lines, err := fetchPage(ctx, &state, 0)
	if err != nil {
		return Session{}, err
	}
	state.Page, state.Total = page.Index, total

	sess := &Session{
		ID:        ref.MessageID,
		ChannelID: ref.ChannelID,
		Kind:      kind,
		CreatedAt: m.clock.Now(),
		List:      &state,
	}
	navigable := page.HasPrev() || page.HasNext()
	if navigable {
		if err := m.registry.Register(sess); err != nil {
			return Session{}, err
		}
		m.observer.SessionOpened(kind)
		defer m.rearm(ref.MessageID)
	}

	if err := m.showList(ctx, ref, &state, page, lines); err != nil {
		return sess.clone(), err
	}
	return sess.clone(), nil
}

// OpenMixer renders an empty mixer onto ref and registers it.
func (m *Manager) OpenMixer(ctx context.Context, ref MessageRef, ownerID string, groups int, author Author) (Session, error) {
	if err := ValidateGroupCount(groups, m.minGroups, m.maxGroups); err != nil {
		return Session{}, err
	}
	unlock := m.locks.Lock(ref.MessageID)
	defer unlock()

	sess := &Session{
		ID:        ref.MessageID,
		ChannelID: ref.ChannelID,
		Kind:      KindMixer,
		OwnerID:   ownerID,
		CreatedAt: m.clock.Now(),
		Mixer: &MixerState{
			GroupCount: groups,
			Title:      fmt.Sprintf("Random Mixer for %d Groups", groups),
			Color:      m.randomColor(),
			Author:     author,
		},
	}
	if err := m.registry.Register(sess); err != nil {
		return Session{}, err
	}
	m.observer.SessionOpened(KindMixer)
	defer m.rearm(ref.MessageID)

	d := RenderMixer(sess.Mixer)
	if err := m.platform.EditEmbed(ctx, ref, d); err != nil {
		return sess.clone(), m.renderFailed(ref, err)
	}
	for _, e := range d.Affordances {
		if err := m.platform.AddReaction(ctx, ref, e); err != nil {
			log.DiscordLogger().Warn("Failed to add mixer affordance", "messageID", ref.MessageID, "emoji", e, "err", err)
		}
	}
	return sess.clone(), nil
}

// HandleReaction applies one reaction event. Events for untracked messages
// and from the bot itself are ignored.
func (m *Manager) HandleReaction(ctx context.Context, ev ReactionEvent) error {
	if ev.UserID == "" || ev.UserID == m.self() {
		return nil
	}
	if _, ok := m.registry.Get(ev.MessageID); !ok {
		return nil
	}

	unlock := m.locks.Lock(ev.MessageID)
	defer unlock()

	// Re-read under the session lock; an earlier handler may have ended it.
	sess, ok := m.registry.Get(ev.MessageID)
	if !ok {
		return nil
	}
	sym := Normalize(sess.Kind, ev.Emoji)

	if sess.Kind.IsList() {
		if !ev.Added || (sym != SymbolPrev && sym != SymbolNext) {
			return nil
		}
		m.observer.ReactionHandled(sess.Kind, sym)
		return m.turnPage(ctx, sess, sym)
	}

	if !ev.Added {
		m.observer.ReactionHandled(sess.Kind, SymbolNone)
		return m.reconcileMixer(ctx, sess)
	}
	m.observer.ReactionHandled(sess.Kind, sym)
	switch sym {
	case SymbolShuffle:
		m.removeUserReaction(ctx, sess.Ref(), ev.Emoji, ev.UserID)
		if ev.UserID != sess.OwnerID {
			return nil
		}
		return m.shuffle(ctx, sess.ID)
	case SymbolStop:
		m.removeUserReaction(ctx, sess.Ref(), ev.Emoji, ev.UserID)
		if ev.UserID != sess.OwnerID {
			return nil
		}
		return m.stop(ctx, sess.ID)
	case SymbolJoin:
		return m.join(ctx, sess.ID, ev.UserID)
	}
	return nil
}

// Shuffle reshuffles a mixer on behalf of actor, the owner.
func (m *Manager) Shuffle(ctx context.Context, id, actor string) error {
	unlock := m.locks.Lock(id)
	defer unlock()
	sess, ok := m.registry.Get(id)
	if !ok || sess.Kind != KindMixer {
		return errors.ErrSessionNotFound
	}
	if actor != sess.OwnerID {
		return errors.ErrUnauthorized
	}
	return m.shuffle(ctx, id)
}

// Stop ends a mixer on behalf of actor, the owner.
func (m *Manager) Stop(ctx context.Context, id, actor string) error {
	unlock := m.locks.Lock(id)
	defer unlock()
	sess, ok := m.registry.Get(id)
	if !ok || sess.Kind != KindMixer {
		return errors.ErrSessionNotFound
	}
	if actor != sess.OwnerID {
		return errors.ErrUnauthorized
	}
	return m.stop(ctx, id)
}

// HandleMessageDeleted drops the session of a deleted message immediately,
// without touching the platform.
func (m *Manager) HandleMessageDeleted(id string) {
	sess, ok := m.registry.Remove(id)
	if !ok {
		return
	}
	m.sched.Cancel(sess.expiry)
	m.observer.SessionClosed(sess.Kind, CloseDeleted)
	log.DiscordLogger().Debug("Interactive message deleted", "messageID", id, "kind", sess.Kind.String())
}

// Expire ends the session on id now: its affordances are cleared and it is
// deregistered. It reports false, without any platform call, when id is not
// live.
func (m *Manager) Expire(ctx context.Context, id string) bool {
	unlock := m.locks.Lock(id)
	defer unlock()
	return m.expire(ctx, id, Handle{}, CloseExpired)
}

// Close ends every live session and stops all timers.
func (m *Manager) Close(ctx context.Context) {
	for _, s := range m.registry.List() {
		unlock := m.locks.Lock(s.ID)
		m.expire(ctx, s.ID, Handle{}, CloseShutdown)
		unlock()
	}
	m.sched.Stop()
}

// PendingTimers reports how many expiry timers are armed.
func (m *Manager) PendingTimers() int { return m.sched.Pending() }

func (m *Manager) onTimer(h Handle) {
	m.dispatch(h.SessionID, func(ctx context.Context) {
		unlock := m.locks.Lock(h.SessionID)
		defer unlock()
		m.expire(ctx, h.SessionID, h, CloseExpired)
	})
}

// expire must run under the session lock. A non-zero h only expires the
// session when h is still its timer.
func (m *Manager) expire(ctx context.Context, id string, h Handle, reason CloseReason) bool {
	sess, ok := m.registry.RemoveIf(id, func(s *Session) bool {
		return h.IsZero() || s.expiry == h
	})
	if !ok {
		return false
	}
	m.sched.Cancel(sess.expiry)

	if err := m.platform.RemoveAllReactions(ctx, sess.Ref()); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			log.DiscordLogger().Debug("Expired session message already gone", "messageID", id)
		} else {
			log.DiscordLogger().Warn("Failed to clear reactions on expiry", "messageID", id, "err", err)
		}
	}
	m.observer.SessionClosed(sess.Kind, reason)
	log.DiscordLogger().Debug("Interactive session ended", "messageID", id, "kind", sess.Kind.String(), "reason", string(reason))
	return true
}

func (m *Manager) turnPage(ctx context.Context, sess Session, sym Symbol) error {
	requested := sess.List.Page
	if sym == SymbolPrev {
		requested--
	} else {
		requested++
	}

	page, total, lines, err := fetchPage(ctx, sess.List, requested)
	if err != nil {
		return err
	}

	snap, err := m.registry.UpdateInPlace(sess.ID, func(s *Session) error {
		m.sched.Cancel(s.expiry)
		s.expiry = Handle{}
		s.List.Page = page.Index
		s.List.Total = total
		return nil
	})
	if err != nil {
		return nil
	}

	err = m.showList(ctx, snap.Ref(), snap.List, page, lines)
	if !page.HasPrev() && !page.HasNext() {
		m.expire(ctx, sess.ID, Handle{}, CloseSinglePage)
		return err
	}
	m.rearm(sess.ID)
	return err
}

func (m *Manager) join(ctx context.Context, id, user string) error {
	changed := false
	snap, err := m.registry.UpdateInPlace(id, func(s *Session) error {
		if !s.Mixer.Join(user) {
			return nil
		}
		changed = true
		m.sched.Cancel(s.expiry)
		s.expiry = Handle{}
		return nil
	})
	if err != nil || !changed {
		return nil
	}
	defer m.rearm(id)
	return m.showMixer(ctx, snap)
}

func (m *Manager) reconcileMixer(ctx context.Context, sess Session) error {
	reactors, err := m.platform.CurrentReactors(ctx, sess.Ref())
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			m.HandleMessageDeleted(sess.ID)
			return nil
		}
		return fmt.Errorf("reconcile mixer %s: %w", sess.ID, err)
	}

	var gone []string
	snap, err := m.registry.UpdateInPlace(sess.ID, func(s *Session) error {
		gone = s.Mixer.Reconcile(reactors)
		if len(gone) > 0 {
			m.sched.Cancel(s.expiry)
			s.expiry = Handle{}
		}
		return nil
	})
	if err != nil || len(gone) == 0 {
		return nil
	}
	defer m.rearm(sess.ID)
	log.DiscordLogger().Debug("Mixer participants left", "messageID", sess.ID, "users", gone)
	return m.showMixer(ctx, snap)
}

func (m *Manager) shuffle(ctx context.Context, id string) error {
	snap, err := m.registry.UpdateInPlace(id, func(s *Session) error {
		m.sched.Cancel(s.expiry)
		s.expiry = Handle{}
		m.rngMu.Lock()
		s.Mixer.Shuffle(m.rng)
		m.rngMu.Unlock()
		return nil
	})
	if err != nil {
		return nil
	}
	defer m.rearm(id)
	return m.showMixer(ctx, snap)
}

func (m *Manager) stop(ctx context.Context, id string) error {
	sess, ok := m.registry.Remove(id)
	if !ok {
		return nil
	}
	m.sched.Cancel(sess.expiry)
	sess.Mixer.Stopped = true
	m.observer.SessionClosed(KindMixer, CloseStopped)

	var errs []error
	if err := m.platform.EditEmbed(ctx, sess.Ref(), RenderMixer(sess.Mixer)); err != nil && !errors.Is(err, errors.ErrNotFound) {
		errs = append(errs, err)
	}
	if err := m.platform.RemoveAllReactions(ctx, sess.Ref()); err != nil && !errors.Is(err, errors.ErrNotFound) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Manager) showMixer(ctx context.Context, snap Session) error {
	if err := m.platform.EditEmbed(ctx, snap.Ref(), RenderMixer(snap.Mixer)); err != nil {
		return m.renderFailed(snap.Ref(), err)
	}
	return nil
}

// showList edits the message and replaces its reactions with the valid arrows.
func (m *Manager) showList(ctx context.Context, ref MessageRef, l *ListState, page Page, lines []string) error {
	d := RenderList(l, page, lines)
	if err := m.platform.EditEmbed(ctx, ref, d); err != nil {
		return m.renderFailed(ref, err)
	}
	if err := m.platform.RemoveAllReactions(ctx, ref); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return m.renderFailed(ref, err)
		}
		log.DiscordLogger().Warn("Failed to clear list reactions", "messageID", ref.MessageID, "err", err)
	}
	for _, e := range d.Affordances {
		if err := m.platform.AddReaction(ctx, ref, e); err != nil {
			log.DiscordLogger().Warn("Failed to add list affordance", "messageID", ref.MessageID, "emoji", e, "err", err)
		}
	}
	return nil
}

// renderFailed drops the session when its message no longer exists.
func (m *Manager) renderFailed(ref MessageRef, err error) error {
	if errors.Is(err, errors.ErrNotFound) {
		m.HandleMessageDeleted(ref.MessageID)
	}
	return fmt.Errorf("render %s: %w", ref.MessageID, err)
}

// rearm gives a still-registered session a fresh expiry timer.
func (m *Manager) rearm(id string) {
	h := m.sched.Arm(id, m.expiry)
	expires := m.clock.Now().Add(m.expiry)
	_, err := m.registry.UpdateInPlace(id, func(s *Session) error {
		s.expiry = h
		s.ExpiresAt = expires
		return nil
	})
	if err != nil {
		m.sched.Cancel(h)
	}
}

func (m *Manager) removeUserReaction(ctx context.Context, ref MessageRef, emoji, user string) {
	if err := m.platform.RemoveUserReaction(ctx, ref, emoji, user); err != nil {
		log.DiscordLogger().Debug("Failed to remove user reaction", "messageID", ref.MessageID, "userID", user, "err", err)
	}
}

func (m *Manager) randomColor() int {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.IntN(0x1000000)
}

// fetchPage reads the row count fresh and clamps requested against it.
func fetchPage(ctx context.Context, l *ListState, requested int) (Page, int, []string, error) {
	total, err := l.Source.Count(ctx)
	if err != nil {
		return Page{}, 0, nil, fmt.Errorf("count rows: %w", err)
	}
	page := Paginate(total, l.PageSize, requested)
	if page.Count == 0 {
		return page, total, nil, nil
	}
	lines, err := l.Source.Lines(ctx, page.Offset, l.PageSize)
	if err != nil {
		return Page{}, 0, nil, fmt.Errorf("load page %d: %w", page.Number(), err)
	}
	return page, total, lines, nil
}
