package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loftwing/agentpool/core"
	"github.com/loftwing/agentpool/logging"
	"github.com/loftwing/agentpool/session"
)

const (
	// DefaultFlushInterval is the inactivity window after which accumulated
	// assistant text flushes as one message.
	DefaultFlushInterval = 500 * time.Millisecond

	// DefaultReminderInterval is how often the long-running scan executes.
	DefaultReminderInterval = time.Minute

	// DefaultReminderThreshold is the session age beyond which an
	// unattended session earns its single reminder.
	DefaultReminderThreshold = 10 * time.Minute

	// previewLines bounds the recent-output preview attached to fuller
	// waiting-for-input messages.
	previewLines = 10

	// summaryMaxLen bounds the derived tool-use summary.
	summaryMaxLen = 80
)

// summaryFields is the priority order of well-known tool input fields used
// to derive a compact indicator summary.
var summaryFields = []string{
	"command", "file_path", "path", "pattern", "query", "url", "prompt", "description",
}

// Options configures a Router.
type Options struct {
	FlushInterval     time.Duration
	ReminderInterval  time.Duration
	ReminderThreshold time.Duration
	Logger            logging.Logger
}

type pendingKey struct {
	sessionID string
	channelID string
}

type pendingText struct {
	buf   strings.Builder
	timer *time.Timer
}

// Router is a pure event-to-message translator and debouncer. It is safe for
// concurrent use.
type Router struct {
	sink   core.MessageSink
	logger logging.Logger
	opts   Options

	mu       sync.Mutex
	pending  map[pendingKey]*pendingText
	reminded map[string]bool
}

// NewRouter constructs a Router delivering through sink.
func NewRouter(sink core.MessageSink, optFns ...func(o *Options)) *Router {
	opts := Options{
		FlushInterval:     DefaultFlushInterval,
		ReminderInterval:  DefaultReminderInterval,
		ReminderThreshold: DefaultReminderThreshold,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Router{
		sink:     sink,
		logger:   opts.Logger,
		opts:     opts,
		pending:  make(map[pendingKey]*pendingText),
		reminded: make(map[string]bool),
	}
}

// AssistantText buffers an assistant text fragment for every foreground
// observer of the session. Sessions with no foreground observers drop the
// fragment entirely. A quiet FlushInterval after the last fragment flushes
// the accumulated text as a single message.
func (r *Router) AssistantText(s *session.Session, text string) {
	channels := s.ForegroundChannels()
	if len(channels) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range channels {
		key := pendingKey{sessionID: s.ID(), channelID: ch}
		p, ok := r.pending[key]
		if !ok {
			p = &pendingText{}
			r.pending[key] = p
		}
		p.buf.WriteString(text)
		if p.timer != nil {
			p.timer.Stop()
		}
		k := key
		p.timer = time.AfterFunc(r.opts.FlushInterval, func() { r.flush(k) })
	}
}

// ToolUse sends a compact tool indicator to each foreground observer,
// flushing that observer's pending text first so ordering is preserved.
func (r *Router) ToolUse(s *session.Session, name string, input map[string]any) {
	channels := s.ForegroundChannels()
	if len(channels) == 0 {
		return
	}
	msg := "🔧 " + name
	if summary := toolSummary(input); summary != "" {
		msg += ": " + summary
	}
	for _, ch := range channels {
		r.flush(pendingKey{sessionID: s.ID(), channelID: ch})
		r.send(ch, msg)
	}
}

// SessionComplete delivers the terminal notification for a completed,
// failed, or killed session to the union of foreground observers and the
// origin observer, then discards the session's router state.
func (r *Router) SessionComplete(s *session.Session) {
	r.flushSession(s.ID())

	var msg string
	switch s.Status() {
	case session.StatusCompleted:
		msg = fmt.Sprintf("✅ Session %q completed in %s (cost $%.4f)",
			s.Name(), s.Duration().Round(time.Second), s.Cost())
	case session.StatusKilled:
		msg = fmt.Sprintf("🛑 Session %q was killed", s.Name())
	default:
		msg = fmt.Sprintf("❌ Session %q failed: %v", s.Name(), s.LastErr())
	}

	for _, ch := range targets(s) {
		r.send(ch, msg)
	}
	r.clearSession(s.ID())
}

// BudgetExhausted delivers the dedicated budget message in place of the
// generic failure one, then discards the session's router state.
func (r *Router) BudgetExhausted(s *session.Session) {
	r.flushSession(s.ID())
	msg := fmt.Sprintf("💸 Session %q stopped: budget exhausted after $%.4f", s.Name(), s.Cost())
	for _, ch := range targets(s) {
		r.send(ch, msg)
	}
	r.clearSession(s.ID())
}

// WaitingForInput notifies the union of foreground observers and the origin
// observer that the session awaits a follow-up. Foreground targets already
// saw the stream and get the compact form; others get a bounded
// recent-output preview.
func (r *Router) WaitingForInput(s *session.Session) {
	r.flushSession(s.ID())
	compact := fmt.Sprintf("⏳ Session %q is waiting for your input", s.Name())
	for _, ch := range targets(s) {
		if s.HasForeground(ch) {
			r.send(ch, compact)
			continue
		}
		msg := compact
		if preview := s.RecentOutput(previewLines); preview != "" {
			msg += "\nRecent output:\n" + preview
		}
		r.send(ch, msg)
	}
}

// targets returns the deduplicated union of the session's foreground
// observers and its origin observer.
func targets(s *session.Session) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ch := range append(s.ForegroundChannels(), s.OriginChannel()) {
		if ch == "" {
			continue
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

// flush delivers and discards one pending buffer.
func (r *Router) flush(key pendingKey) {
	r.mu.Lock()
	p, ok := r.pending[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	text := p.buf.String()
	delete(r.pending, key)
	r.mu.Unlock()

	if text != "" {
		r.send(key.channelID, text)
	}
}

// flushSession force-flushes every pending buffer of the session.
func (r *Router) flushSession(sessionID string) {
	r.mu.Lock()
	var keys []pendingKey
	for key := range r.pending {
		if key.sessionID == sessionID {
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].channelID < keys[j].channelID })
	for _, key := range keys {
		r.flush(key)
	}
}

// ClearSession drops the per-session debounce buffers and the reminder
// suppression flag without delivering anything. Owners call it for sessions
// that end outside the normal notification path (mass kills, retention
// sweeps), where SessionComplete never runs.
func (r *Router) ClearSession(sessionID string) {
	r.clearSession(sessionID)
}

// clearSession drops all per-channel debounce state and the reminder
// suppression flag for an ended session.
func (r *Router) clearSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, p := range r.pending {
		if key.sessionID != sessionID {
			continue
		}
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(r.pending, key)
	}
	delete(r.reminded, sessionID)
}

func (r *Router) send(channelID, text string) {
	if err := r.sink.Send(channelID, text); err != nil {
		r.logger.Warn("message delivery failed", "channel", channelID, "error", err)
	}
}

// toolSummary derives a compact human-readable summary from a tool's input:
// the first populated well-known field wins, falling back to the first
// non-empty string field in key order, else empty.
func toolSummary(input map[string]any) string {
	for _, field := range summaryFields {
		if v, ok := input[field].(string); ok && v != "" {
			return truncate(v, summaryMaxLen)
		}
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := input[k].(string); ok && v != "" {
			return truncate(v, summaryMaxLen)
		}
	}
	return ""
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
