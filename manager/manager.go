package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loftwing/agentpool/core"
	"github.com/loftwing/agentpool/internal/util"
	"github.com/loftwing/agentpool/logging"
	"github.com/loftwing/agentpool/notify"
	"github.com/loftwing/agentpool/session"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// MaxSessions bounds the number of sessions in {starting, running}.
	MaxSessions int

	// Retention is how long a terminal session stays in the live pool
	// before Cleanup removes it.
	Retention time.Duration

	// PersistCap bounds the persisted record store; Cleanup evicts the
	// oldest-by-completion records beyond it.
	PersistCap int

	// IdleTimeout and StallTimeout are handed to every spawned session.
	IdleTimeout  time.Duration
	StallTimeout time.Duration

	// WakeDebounce suppresses repeated waiting-for-input agent wakes for
	// the same session inside the window.
	WakeDebounce time.Duration

	// WakeRetryDelay is the fixed delay before the single broadcast-wake
	// retry. WakeTimeout bounds each wake delivery attempt.
	WakeRetryDelay time.Duration
	WakeTimeout    time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// SpawnConfig carries the caller-provided parameters of a new session.
type SpawnConfig struct {
	// Name is optional; empty derives one from Task.
	Name          string
	Task          string
	Workdir       string
	Model         string
	MaxBudget     float64
	OriginChannel string
	AgentID       string
	MultiTurn     bool

	// Resume continues a prior conversation id instead of starting fresh;
	// use ResolveConversationID to obtain one from any session reference.
	Resume string
}

// Manager owns the bounded session pool. Public methods are safe for
// concurrent use.
type Manager struct {
	launcher core.Launcher
	router   *notify.Router
	wake     core.WakeDispatcher
	logger   logging.Logger
	opts     Options

	mu          sync.Mutex
	sessions    map[string]*session.Session
	order       []string // spawn order, for deterministic resolution
	records     *recordStore
	lastWake    map[string]time.Time
	wakeRetries map[string]*time.Timer

	metrics *Metrics
}

// New constructs a Manager with optional overrides.
func New(launcher core.Launcher, router *notify.Router, wake core.WakeDispatcher, optFns ...func(o *Options)) *Manager {
	opts := Options{
		MaxSessions:    10,
		Retention:      time.Hour,
		PersistCap:     50,
		IdleTimeout:    session.DefaultIdleTimeout,
		StallTimeout:   session.DefaultStallTimeout,
		WakeDebounce:   5 * time.Second,
		WakeRetryDelay: 30 * time.Second,
		WakeTimeout:    10 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Manager{
		launcher:    launcher,
		router:      router,
		wake:        wake,
		logger:      opts.Logger,
		opts:        opts,
		sessions:    make(map[string]*session.Session),
		records:     newRecordStore(),
		lastWake:    make(map[string]time.Time),
		wakeRetries: make(map[string]*time.Timer),
		metrics:     newMetrics(),
	}
}

// Spawn registers and starts a new session. It fails with
// core.ErrCapacityExceeded when the pool already holds MaxSessions active
// sessions, and never blocks on the session's first stream event.
func (m *Manager) Spawn(ctx context.Context, cfg SpawnConfig) (*session.Session, error) {
	m.mu.Lock()
	active := 0
	for _, s := range m.sessions {
		if s.Status().Active() {
			active++
		}
	}
	if active >= m.opts.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%d of %d sessions active: %w", active, m.opts.MaxSessions, core.ErrCapacityExceeded)
	}

	name := cfg.Name
	if name == "" {
		name = util.NameFromTask(cfg.Task)
	}
	name = m.dedupeNameLocked(name)

	id := util.NewSessionID()
	s := session.New(session.Config{
		ID:            id,
		Name:          name,
		Task:          cfg.Task,
		Workdir:       cfg.Workdir,
		Model:         cfg.Model,
		MaxBudget:     cfg.MaxBudget,
		OriginChannel: cfg.OriginChannel,
		AgentID:       cfg.AgentID,
		MultiTurn:     cfg.MultiTurn,
		Resume:        cfg.Resume,
		IdleTimeout:   m.opts.IdleTimeout,
		StallTimeout:  m.opts.StallTimeout,
	}, m.launcher, m, m.logger)

	m.sessions[id] = s
	m.order = append(m.order, id)
	m.mu.Unlock()

	m.metrics.recordLaunch()
	m.logger.Info("session spawned", "session_id", id, "name", name, "multi_turn", cfg.MultiTurn)

	go func() {
		if err := s.Start(ctx); err != nil {
			m.logger.Warn("session start failed", "session_id", id, "error", err)
		}
	}()
	return s, nil
}

// dedupeNameLocked appends -2, -3, ... until the name is unique among live
// sessions. Caller holds m.mu.
func (m *Manager) dedupeNameLocked(base string) string {
	taken := make(map[string]bool, len(m.sessions))
	for _, s := range m.sessions {
		taken[s.Name()] = true
	}
	if !taken[base] {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// Resolve returns the live session matching ref: exact id first, else the
// earliest-spawned session with that name, else nil.
func (m *Manager) Resolve(ref string) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[ref]; ok {
		return s
	}
	for _, id := range m.order {
		if s, ok := m.sessions[id]; ok && s.Name() == ref {
			return s
		}
	}
	return nil
}

// ResolveConversationID maps ref to a backend conversation id: a live
// session's conversation id first, else a persisted record reached through
// any alias, else ref itself when it already has the conversation-id shape.
func (m *Manager) ResolveConversationID(ref string) (string, bool) {
	if s := m.Resolve(ref); s != nil && s.ConversationID() != "" {
		return s.ConversationID(), true
	}
	m.mu.Lock()
	rec, ok := m.records.lookup(ref)
	m.mu.Unlock()
	if ok && rec.ConversationID != "" {
		return rec.ConversationID, true
	}
	if util.IsUUID(ref) {
		return ref, true
	}
	return "", false
}

// Respond forwards a follow-up message to a running multi-turn session.
func (m *Manager) Respond(ref, text string) error {
	s := m.Resolve(ref)
	if s == nil {
		return fmt.Errorf("respond to %q: %w", ref, core.ErrNotFound)
	}
	return s.SendMessage(text)
}

// Foreground marks channelID as actively watching the session and returns
// the catchup output the channel has not seen yet.
func (m *Manager) Foreground(ref, channelID string) ([]string, error) {
	s := m.Resolve(ref)
	if s == nil {
		return nil, fmt.Errorf("foreground %q: %w", ref, core.ErrNotFound)
	}
	return s.Foreground(channelID), nil
}

// Background removes channelID from the session's foreground set.
func (m *Manager) Background(ref, channelID string) error {
	s := m.Resolve(ref)
	if s == nil {
		return fmt.Errorf("background %q: %w", ref, core.ErrNotFound)
	}
	s.Background(channelID)
	return nil
}

// Kill aborts the session and performs the completion bookkeeping that the
// session's own completion path would have done, since killed sessions skip
// the native completion callback. Returns false for unknown refs and
// sessions already terminal.
func (m *Manager) Kill(ref string) bool {
	s := m.Resolve(ref)
	if s == nil {
		return false
	}
	if err := s.Kill(); err != nil {
		return false
	}
	m.finalize(s, true)
	return true
}

// KillAll best-effort kills every active session concurrently. It skips all
// notification and wake dispatch and cancels outstanding wake retries.
func (m *Manager) KillAll() {
	m.mu.Lock()
	var active []*session.Session
	for _, s := range m.sessions {
		if s.Status().Active() {
			active = append(active, s)
		}
	}
	for id, timer := range m.wakeRetries {
		timer.Stop()
		delete(m.wakeRetries, id)
	}
	m.mu.Unlock()

	g := new(errgroup.Group)
	for _, s := range active {
		s := s
		g.Go(func() error {
			if err := s.Kill(); err != nil {
				return nil // lost the race with a terminal transition
			}
			m.finalize(s, false)
			m.router.ClearSession(s.ID())
			return nil
		})
	}
	_ = g.Wait()
	m.logger.Info("killed all active sessions", "count", len(active))
}

// Cleanup runs the two-phase garbage collection: terminal sessions past the
// retention window leave the live pool (persisted first if needed), then
// persisted records beyond the cap are evicted oldest-first with all their
// aliases.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	var retired []string
	for id, s := range m.sessions {
		if !s.Status().Terminal() {
			continue
		}
		completed := s.CompletedAt()
		if completed.IsZero() || time.Since(completed) < m.opts.Retention {
			continue
		}
		if !m.records.has(id) {
			rec := snapshotRecord(s)
			m.records.put(rec)
			m.metrics.recordFinished(rec, s.Duration())
		}
		delete(m.sessions, id)
		delete(m.lastWake, id)
		if timer, ok := m.wakeRetries[id]; ok {
			timer.Stop()
			delete(m.wakeRetries, id)
		}
		retired = append(retired, id)
	}
	m.order = m.compactOrderLocked()
	m.records.evictOldest(m.opts.PersistCap)
	m.mu.Unlock()

	for _, id := range retired {
		m.router.ClearSession(id)
	}
}

func (m *Manager) compactOrderLocked() []string {
	out := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.sessions[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// ActiveSessions returns the pooled sessions in spawn order. It satisfies
// notify.SessionLister for the long-running reminder scan.
func (m *Manager) ActiveSessions() []*session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session.Session, 0, len(m.order))
	for _, id := range m.order {
		if s, ok := m.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// ListPersisted returns the persisted records, newest-completed first.
func (m *Manager) ListPersisted() []*PersistedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records.list()
}

// Metrics returns a point-in-time copy of the aggregate metrics.
func (m *Manager) Metrics() MetricsSnapshot { return m.metrics.Snapshot() }

// finalize persists a finished session exactly once (recording metrics with
// it) and, when notifyOut is set, delivers completion messages and the agent
// wake appropriate for the terminal classification.
func (m *Manager) finalize(s *session.Session, notifyOut bool) {
	m.mu.Lock()
	first := !m.records.has(s.ID())
	if first {
		rec := snapshotRecord(s)
		m.records.put(rec)
		m.metrics.recordFinished(rec, s.Duration())
	}
	delete(m.lastWake, s.ID())
	m.mu.Unlock()

	if !notifyOut {
		return
	}
	if s.BudgetExhausted() {
		m.router.BudgetExhausted(s)
	} else {
		m.router.SessionComplete(s)
	}
	// Success requires agent attention; failure and kill are informational.
	if s.Status() == session.StatusCompleted {
		m.dispatchWake(s, "completed successfully")
	}
}

func snapshotRecord(s *session.Session) *PersistedRecord {
	completed := s.CompletedAt()
	if completed.IsZero() {
		completed = time.Now()
	}
	return &PersistedRecord{
		ID:             s.ID(),
		ConversationID: s.ConversationID(),
		Name:           s.Name(),
		Task:           s.Task(),
		Workdir:        s.Workdir(),
		Model:          s.Model(),
		CompletedAt:    completed,
		Status:         s.Status(),
		Cost:           s.Cost(),
		AgentID:        s.AgentID(),
		OriginChannel:  s.OriginChannel(),
	}
}

// session.Listener implementation: every session spawned by this manager
// reports back through these.

// OnOutput forwards assistant text into the router's debounce path.
func (m *Manager) OnOutput(s *session.Session, text string) {
	m.router.AssistantText(s, text)
}

// OnToolUse forwards tool indicators to foreground observers.
func (m *Manager) OnToolUse(s *session.Session, name string, input map[string]any) {
	m.router.ToolUse(s, name, input)
}

// OnBudgetExhausted only logs; the dedicated observer message goes out with
// the completion bookkeeping so it is not delivered twice.
func (m *Manager) OnBudgetExhausted(s *session.Session) {
	m.logger.Info("session budget exhausted", "session_id", s.ID(), "name", s.Name(), "cost", s.Cost())
}

// OnWaitingForInput always messages the observers; the agent wake is
// debounced per session.
func (m *Manager) OnWaitingForInput(s *session.Session) {
	m.router.WaitingForInput(s)
	m.wakeWaiting(s)
}

// OnComplete performs the finished-session bookkeeping and outward dispatch.
func (m *Manager) OnComplete(s *session.Session) {
	m.finalize(s, true)
}

// OnIdleTimeout kills the idled session through the normal kill path, so the
// usual bookkeeping applies.
func (m *Manager) OnIdleTimeout(s *session.Session) {
	if m.Kill(s.ID()) {
		m.logger.Info("session killed after idle timeout", "session_id", s.ID(), "name", s.Name())
	}
}
