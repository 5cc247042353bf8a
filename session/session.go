package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loftwing/agentpool/core"
	"github.com/loftwing/agentpool/logging"
)

const (
	// OutputHistoryCap bounds the retained output history; overflow evicts
	// the oldest entries first.
	OutputHistoryCap = 200

	// DefaultIdleTimeout kills a multi-turn session that receives neither a
	// follow-up message nor a turn boundary within the window.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultStallTimeout fires a waiting-for-input signal when the stream
	// produces no event of any kind within the window.
	DefaultStallTimeout = 15 * time.Second
)

// Listener receives the session's lifecycle callbacks. Implementations are
// invoked from the session's consumer goroutine and timer callbacks, never
// while the session's internal lock is held, so they may call back into the
// session's read methods freely.
//
// OnComplete fires exactly once per non-killed terminal transition; killed
// sessions skip it and the owner performs the completion
// bookkeeping itself. OnIdleTimeout asks the owner to kill the session; the
// session does not kill itself so the owner's kill bookkeeping stays in one
// place.
type Listener interface {
	OnOutput(s *Session, text string)
	OnToolUse(s *Session, name string, input map[string]any)
	OnBudgetExhausted(s *Session)
	OnWaitingForInput(s *Session)
	OnComplete(s *Session)
	OnIdleTimeout(s *Session)
}

// Config carries the immutable parameters of one session.
type Config struct {
	ID            string
	Name          string
	Task          string
	Workdir       string
	Model         string
	MaxBudget     float64
	OriginChannel string
	AgentID       string
	MultiTurn     bool

	// Resume is a prior conversation id to continue instead of starting
	// fresh. Empty starts a new conversation.
	Resume string

	// IdleTimeout and StallTimeout override the defaults; zero selects the
	// default. Tests inject short values here.
	IdleTimeout  time.Duration
	StallTimeout time.Duration
}

// Session is one managed run of an external agent conversation.
type Session struct {
	cfg      Config
	launcher core.Launcher
	listener Listener
	logger   logging.Logger

	queue *inputQueue // non-nil only for multi-turn sessions

	mu              sync.Mutex
	status          Status
	conversationID  string // set at most once, on the stream's init event
	startedAt       time.Time
	completedAt     time.Time
	cost            float64
	lastErr         error
	budgetExhausted bool
	outputs         []string
	foreground      map[string]struct{}
	bookmarks       map[string]int
	autoResponds    int
	waitingSignaled bool
	idleTimer       *time.Timer
	stallTimer      *time.Timer
	cancel          context.CancelFunc
	stream          core.Stream

	done     chan struct{}
	doneOnce sync.Once
}

// New constructs a session in the starting state. The listener must be
// non-nil; the logger may be nil (a NoOpLogger is substituted).
func New(cfg Config, launcher core.Launcher, listener Listener, logger logging.Logger) *Session {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	s := &Session{
		cfg:        cfg,
		launcher:   launcher,
		listener:   listener,
		logger:     logger,
		status:     StatusStarting,
		foreground: make(map[string]struct{}),
		bookmarks:  make(map[string]int),
		done:       make(chan struct{}),
	}
	if cfg.MultiTurn {
		s.queue = newInputQueue()
	}
	return s
}

// Start launches the agent conversation and begins consuming its events on a
// background goroutine. A launch failure transitions the session to failed
// (with the usual completion callback) and is also returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil || s.status != StatusStarting {
		s.mu.Unlock()
		return fmt.Errorf("session %s already started: %w", s.cfg.ID, core.ErrInvalidTransition)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startedAt = time.Now()
	s.mu.Unlock()

	var input core.InputSource
	if s.queue != nil {
		input = s.queue
	}
	stream, err := s.launcher.Launch(ctx, core.StartOptions{
		Prompt:    s.cfg.Task,
		Workdir:   s.cfg.Workdir,
		Model:     s.cfg.Model,
		MaxBudget: s.cfg.MaxBudget,
		MultiTurn: s.cfg.MultiTurn,
		Resume:    s.cfg.Resume,
	}, input)
	if err != nil {
		err = fmt.Errorf("launch agent stream: %w", err)
		s.mu.Lock()
		notify := s.finishLocked(StatusFailed, err)
		s.mu.Unlock()
		s.dispatch(notify)
		s.markDone()
		cancel()
		return err
	}

	s.mu.Lock()
	if s.status.Terminal() {
		// Killed while the launch was in flight.
		s.mu.Unlock()
		stream.Abort()
		s.markDone()
		return nil
	}
	s.stream = stream
	s.armStallLocked()
	s.mu.Unlock()

	go s.consume(stream)
	return nil
}

// consume drains the stream until it closes. A killed session's abort closes
// the channel without a result and is a normal termination; any other early
// close is a stream failure.
func (s *Session) consume(stream core.Stream) {
	defer s.markDone()
	for ev := range stream.Events() {
		s.handleEvent(ev)
	}
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	notify := s.finishLocked(StatusFailed, fmt.Errorf("agent stream ended before a result"))
	s.mu.Unlock()
	s.dispatch(notify)
}

func (s *Session) handleEvent(ev core.Event) {
	var notify []func(Listener)

	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.armStallLocked() // any inbound event resets the watchdog

	switch ev.Kind {
	case core.KindInit:
		if s.conversationID == "" {
			s.conversationID = ev.ConversationID
		}
		if s.status == StatusStarting {
			s.status = StatusRunning
			if s.cfg.MultiTurn {
				s.armIdleLocked()
			}
		}

	case core.KindText:
		s.appendOutputLocked(ev.Text)
		text := ev.Text
		notify = append(notify, func(l Listener) { l.OnOutput(s, text) })

	case core.KindToolUse:
		name, input := ev.ToolName, ev.ToolInput
		notify = append(notify, func(l Listener) { l.OnToolUse(s, name, input) })

	case core.KindResult:
		if ev.Result == nil {
			notify = s.finishLocked(StatusFailed, fmt.Errorf("result event without payload"))
			break
		}
		s.cost += ev.Result.Cost
		switch {
		case ev.Result.Subtype == core.ResultSuccess && s.cfg.MultiTurn:
			// Turn boundary: stay running and wait for the next message.
			s.armIdleLocked()
			s.clearStallLocked()
			if !s.waitingSignaled {
				s.waitingSignaled = true
				notify = append(notify, func(l Listener) { l.OnWaitingForInput(s) })
			}
		case ev.Result.Subtype == core.ResultSuccess:
			notify = s.finishLocked(StatusCompleted, nil)
		case ev.Result.Subtype == core.ResultBudgetExhausted:
			s.budgetExhausted = true
			notify = append(notify, func(l Listener) { l.OnBudgetExhausted(s) })
			notify = append(notify, s.finishLocked(StatusFailed,
				fmt.Errorf("budget of $%.2f exhausted", s.cfg.MaxBudget))...)
		default:
			notify = s.finishLocked(StatusFailed,
				fmt.Errorf("agent stream failed: %s", ev.Result.Err))
		}
	}
	s.mu.Unlock()

	s.dispatch(notify)
}

// finishLocked performs a terminal transition for the completed/failed paths
// and returns the callbacks to run after the lock is released. Callers hold
// s.mu.
func (s *Session) finishLocked(status Status, err error) []func(Listener) {
	s.status = status
	s.lastErr = err
	s.completedAt = time.Now()
	s.clearTimersLocked()
	if s.queue != nil {
		s.queue.Close()
	}
	return []func(Listener){func(l Listener) { l.OnComplete(s) }}
}

func (s *Session) dispatch(notify []func(Listener)) {
	for _, fn := range notify {
		fn(s.listener)
	}
}

// Kill aborts the stream and transitions to killed. It does not
// fire OnComplete: the caller owns the completion bookkeeping for killed
// sessions because the stream's own completion signal never arrives.
func (s *Session) Kill() error {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("kill session %s: %w", s.cfg.ID, core.ErrAlreadyTerminal)
	}
	s.status = StatusKilled
	s.completedAt = time.Now()
	s.clearTimersLocked()
	if s.queue != nil {
		s.queue.Close()
	}
	cancel, stream := s.cancel, s.stream
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Abort()
	}
	if stream == nil {
		// Killed before the stream existed; no consumer will ever close done.
		s.markDone()
	}
	s.logger.Info("session killed", "session_id", s.cfg.ID, "name", s.cfg.Name)
	return nil
}

// SendMessage enqueues a follow-up message for a running multi-turn session
// and resets the idle timer. Non-multi-turn or non-running sessions reject
// the message with ErrInvalidTransition.
func (s *Session) SendMessage(text string) error {
	s.mu.Lock()
	if !s.cfg.MultiTurn {
		s.mu.Unlock()
		return fmt.Errorf("session %s is single-turn: %w", s.cfg.ID, core.ErrInvalidTransition)
	}
	if s.status != StatusRunning {
		s.mu.Unlock()
		return fmt.Errorf("session %s is %s, not running: %w", s.cfg.ID, s.status, core.ErrInvalidTransition)
	}
	s.armIdleLocked()
	s.waitingSignaled = false // a new turn begins, re-arm the signal guard
	s.mu.Unlock()

	if !s.queue.Push(text) {
		return fmt.Errorf("session %s input closed: %w", s.cfg.ID, core.ErrInvalidTransition)
	}
	return nil
}

// RecordAutoRespond increments and returns the count of automatic follow-up
// responses issued on this session's behalf.
func (s *Session) RecordAutoRespond() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoResponds++
	return s.autoResponds
}

// Foreground marks the channel as actively streaming this session's output
// and returns the catchup: the history suffix the channel has not yet seen.
// The channel's bookmark advances to the current end, so ordinary streaming
// afterward never re-delivers it.
func (s *Session) Foreground(channelID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foreground[channelID] = struct{}{}
	mark := s.bookmarks[channelID]
	if mark > len(s.outputs) {
		mark = len(s.outputs)
	}
	catchup := make([]string, len(s.outputs)-mark)
	copy(catchup, s.outputs[mark:])
	s.bookmarks[channelID] = len(s.outputs)
	return catchup
}

// Background removes the channel from the foreground set. The bookmark is
// kept so a later re-foreground only returns output produced in between.
func (s *Session) Background(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.foreground, channelID)
}

func (s *Session) appendOutputLocked(text string) {
	s.outputs = append(s.outputs, text)
	if drop := len(s.outputs) - OutputHistoryCap; drop > 0 {
		s.outputs = append(s.outputs[:0], s.outputs[drop:]...)
		for ch, mark := range s.bookmarks {
			if mark -= drop; mark < 0 {
				mark = 0
			}
			s.bookmarks[ch] = mark
		}
	}
}

// timer management; callers hold s.mu

func (s *Session) armIdleLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, s.onIdle)
}

func (s *Session) armStallLocked() {
	if s.stallTimer != nil {
		s.stallTimer.Stop()
	}
	s.stallTimer = time.AfterFunc(s.cfg.StallTimeout, s.onStall)
}

func (s *Session) clearStallLocked() {
	if s.stallTimer != nil {
		s.stallTimer.Stop()
		s.stallTimer = nil
	}
}

func (s *Session) clearTimersLocked() {
	s.clearStallLocked()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *Session) onIdle() {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.logger.Info("session idle timeout", "session_id", s.cfg.ID, "name", s.cfg.Name)
	s.listener.OnIdleTimeout(s)
}

func (s *Session) onStall() {
	s.mu.Lock()
	if s.status.Terminal() || s.waitingSignaled {
		s.mu.Unlock()
		return
	}
	s.waitingSignaled = true
	s.mu.Unlock()
	s.logger.Debug("session stalled, signaling waiting", "session_id", s.cfg.ID)
	s.listener.OnWaitingForInput(s)
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed once the consumer goroutine has exited (or launch failed).
func (s *Session) Done() <-chan struct{} { return s.done }

// read accessors

// ID returns the pool-internal session identifier.
func (s *Session) ID() string { return s.cfg.ID }

// Name returns the unique-within-pool session name.
func (s *Session) Name() string { return s.cfg.Name }

// Task returns the initial prompt.
func (s *Session) Task() string { return s.cfg.Task }

// Workdir returns the working directory the agent operates in.
func (s *Session) Workdir() string { return s.cfg.Workdir }

// Model returns the configured model identifier.
func (s *Session) Model() string { return s.cfg.Model }

// OriginChannel returns the channel that requested the session.
func (s *Session) OriginChannel() string { return s.cfg.OriginChannel }

// AgentID returns the owning agent identifier, empty if unknown.
func (s *Session) AgentID() string { return s.cfg.AgentID }

// MultiTurn reports whether the session accepts follow-up messages.
func (s *Session) MultiTurn() bool { return s.cfg.MultiTurn }

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ConversationID returns the backend conversation identifier, empty until
// the stream's init event arrives.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Cost returns the accumulated spend in USD.
func (s *Session) Cost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cost
}

// LastErr returns the captured terminal error, nil unless failed.
func (s *Session) LastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// BudgetExhausted reports whether the failure was the budget subtype.
func (s *Session) BudgetExhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budgetExhausted
}

// StartedAt returns the launch timestamp.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// CompletedAt returns the terminal timestamp, zero while active.
func (s *Session) CompletedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedAt
}

// Duration returns the running time so far, or the total once terminal.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	if !s.completedAt.IsZero() {
		return s.completedAt.Sub(s.startedAt)
	}
	return time.Since(s.startedAt)
}

// AutoResponds returns the automatic follow-up counter.
func (s *Session) AutoResponds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoResponds
}

// ForegroundChannels returns a copy of the actively-watching channel set.
func (s *Session) ForegroundChannels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := make([]string, 0, len(s.foreground))
	for ch := range s.foreground {
		channels = append(channels, ch)
	}
	return channels
}

// ForegroundCount returns the number of actively-watching channels.
func (s *Session) ForegroundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.foreground)
}

// HasForeground reports whether the channel is actively watching.
func (s *Session) HasForeground(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.foreground[channelID]
	return ok
}

// OutputHistory returns a copy of the retained output history.
func (s *Session) OutputHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.outputs))
	copy(out, s.outputs)
	return out
}

// RecentOutput joins the last maxLines history entries into a bounded
// preview chunk for notification payloads.
func (s *Session) RecentOutput(maxLines int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxLines <= 0 || len(s.outputs) == 0 {
		return ""
	}
	start := len(s.outputs) - maxLines
	if start < 0 {
		start = 0
	}
	return strings.Join(s.outputs[start:], "")
}
