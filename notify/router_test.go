package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/loftwing/agentpool/core"
	"github.com/loftwing/agentpool/session"
)

type fakeStream struct {
	events chan core.Event
	once   sync.Once
}

func newFakeStream() *fakeStream { return &fakeStream{events: make(chan core.Event, 64)} }

func (f *fakeStream) Events() <-chan core.Event { return f.events }
func (f *fakeStream) Abort()                    { f.close() }
func (f *fakeStream) close()                    { f.once.Do(func() { close(f.events) }) }

type fakeLauncher struct{ stream *fakeStream }

func (f *fakeLauncher) Launch(context.Context, core.StartOptions, core.InputSource) (core.Stream, error) {
	return f.stream, nil
}

type nopListener struct{}

func (nopListener) OnOutput(*session.Session, string)              {}
func (nopListener) OnToolUse(*session.Session, string, map[string]any) {}
func (nopListener) OnBudgetExhausted(*session.Session)             {}
func (nopListener) OnWaitingForInput(*session.Session)             {}
func (nopListener) OnComplete(*session.Session)                    {}
func (nopListener) OnIdleTimeout(*session.Session)                 {}

// recSink records every delivered message.
type recSink struct {
	mu   sync.Mutex
	msgs []sinkMsg
}

type sinkMsg struct {
	channel string
	text    string
}

func (r *recSink) Send(channelID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sinkMsg{channel: channelID, text: text})
	return nil
}

func (r *recSink) all() []sinkMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sinkMsg, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// startSession builds a running session fed by the returned stream.
func startSession(t *testing.T, cfg session.Config) (*session.Session, *fakeStream) {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "sess-1"
	}
	if cfg.Name == "" {
		cfg.Name = "build"
	}
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = time.Hour
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Hour
	}
	stream := newFakeStream()
	s := session.New(cfg, &fakeLauncher{stream: stream}, nopListener{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stream.events <- core.NewInitEvent("conv-1")
	waitFor(t, time.Second, func() bool { return s.Status() == session.StatusRunning })
	return s, stream
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func withFastFlush(o *Options) { o.FlushInterval = 40 * time.Millisecond }

func TestRouter_DebouncedFlushConcatenates(t *testing.T) {
	sink := &recSink{}
	r := NewRouter(sink, withFastFlush)
	s, _ := startSession(t, session.Config{OriginChannel: "C0"})
	s.Foreground("C1")

	r.AssistantText(s, "one ")
	time.Sleep(15 * time.Millisecond)
	r.AssistantText(s, "two ")
	time.Sleep(15 * time.Millisecond)
	r.AssistantText(s, "three")

	// Still inside the inactivity window: nothing sent yet.
	assert.Equal(t, 0, sink.count())

	waitFor(t, time.Second, func() bool { return sink.count() == 1 })
	msgs := sink.all()
	assert.Equal(t, "C1", msgs[0].channel)
	assert.Equal(t, "one two three", msgs[0].text)

	// Quiet afterwards: no duplicate flush.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

func TestRouter_TextDroppedWithoutForeground(t *testing.T) {
	sink := &recSink{}
	r := NewRouter(sink, withFastFlush)
	s, _ := startSession(t, session.Config{OriginChannel: "C0"})

	r.AssistantText(s, "nobody is watching")
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestRouter_ToolUseFlushesPendingFirst(t *testing.T) {
	sink := &recSink{}
	r := NewRouter(sink, withFastFlush)
	s, _ := startSession(t, session.Config{})
	s.Foreground("C1")

	r.AssistantText(s, "about to run tests")
	r.ToolUse(s, "Bash", map[string]any{"command": "go test ./..."})

	msgs := sink.all()
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, "about to run tests", msgs[0].text)
		assert.Equal(t, "🔧 Bash: go test ./...", msgs[1].text)
	}
}

func TestToolSummary(t *testing.T) {
	cases := []struct {
		name  string
		input map[string]any
		want  string
	}{
		{"priority field wins", map[string]any{"zz": "later", "command": "ls -la"}, "ls -la"},
		{"file_path before fallback", map[string]any{"file_path": "main.go", "other": "x"}, "main.go"},
		{"fallback to first string field", map[string]any{"beta": "b", "alpha": "a"}, "a"},
		{"non-strings ignored", map[string]any{"count": 3}, ""},
		{"empty input", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, toolSummary(tc.input))
		})
	}

	long := strings.Repeat("x", 200)
	assert.Len(t, toolSummary(map[string]any{"command": long}), summaryMaxLen+2) // utf-8 ellipsis

	wide := strings.Repeat("日", 200)
	got := toolSummary(map[string]any{"command": wide})
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, summaryMaxLen, utf8.RuneCountInString(got))
}

func TestRouter_ClearSessionDropsState(t *testing.T) {
	sink := &recSink{}
	r := NewRouter(sink, func(o *Options) {
		o.FlushInterval = 150 * time.Millisecond
		o.ReminderThreshold = 10 * time.Millisecond
	})
	s, _ := startSession(t, session.Config{OriginChannel: "C0"})
	s.Foreground("C1")

	r.AssistantText(s, "buffered but never delivered")
	s.Background("C1")
	time.Sleep(15 * time.Millisecond)
	r.scanLongRunning(staticLister{sessions: []*session.Session{s}})
	assert.Equal(t, 1, sink.count(), "reminder only")

	r.ClearSession(s.ID())

	// The pending buffer is discarded, not flushed.
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, sink.count())

	r.mu.Lock()
	pending, reminded := len(r.pending), len(r.reminded)
	r.mu.Unlock()
	assert.Zero(t, pending)
	assert.Zero(t, reminded)
}

func TestRouter_CompleteTargetsUnionDeduped(t *testing.T) {
	sink := &recSink{}
	r := NewRouter(sink, withFastFlush)
	s, stream := startSession(t, session.Config{OriginChannel: "C1"})
	s.Foreground("C1") // origin is also foregrounding

	stream.events <- core.NewResultEvent(core.Result{Subtype: core.ResultSuccess, Cost: 0.5})
	stream.close()
	<-s.Done()

	r.SessionComplete(s)
	msgs := sink.all()
	if assert.Len(t, msgs, 1, "identical foreground and origin must collapse to one delivery") {
		assert.Equal(t, "C1", msgs[0].channel)
		assert.Contains(t, msgs[0].text, "✅")
		assert.Contains(t, msgs[0].text, `"build"`)
	}
}

func TestRouter_CompleteReachesOriginAndForeground(t *testing.T) {
	sink := &recSink{}
	r := NewRouter(sink, withFastFlush)
	s, stream := startSession(t, session.Config{OriginChannel: "C0"})
	s.Foreground("C1")

	stream.events <- core.NewResultEvent(core.Result{Subtype: core.ResultError, Err: "boom"})
	stream.close()
	<-s.Done()

	r.SessionComplete(s)
	msgs := sink.all()
	assert.Len(t, msgs, 2)
	channels := map[string]bool{}
	for _, m := range msgs {
		channels[m.channel] = true
		assert.Contains(t, m.text, "❌")
	}
	assert.True(t, channels["C0"] && channels["C1"])
}

func TestRouter_KilledMessage(t *testing.T) {
	sink := &recSink{}
	r := NewRouter(sink, withFastFlush)
	s, _ := startSession(t, session.Config{OriginChannel: "C0"})

	if err := s.Kill(); err != nil {
		t.Fatal(err)
	}
	r.SessionComplete(s)

	msgs := sink.all()
	if assert.Len(t, msgs, 1) {
		assert.Contains(t, msgs[0].text, "🛑")
	}
}

func TestRouter_BudgetExhaustedMessage(t *testing.T) {
	sink := &recSink{}
	r := NewRouter(sink, withFastFlush)
	s, stream := startSession(t, session.Config{OriginChannel: "C0", MaxBudget: 1})
	stream.events <- core.NewResultEvent(core.Result{Subtype: core.ResultBudgetExhausted, Cost: 1.01})
	stream.close()
	<-s.Done()

	r.BudgetExhausted(s)
	msgs := sink.all()
	if assert.Len(t, msgs, 1) {
		assert.Contains(t, msgs[0].text, "💸")
		assert.Contains(t, msgs[0].text, "budget exhausted")
	}
}

func TestRouter_WaitingShapeVariesByTarget(t *testing.T) {
	sink := &recSink{}
	r := NewRouter(sink, withFastFlush)
	s, stream := startSession(t, session.Config{OriginChannel: "C0"})
	s.Foreground("C1")

	for i := 0; i < 3; i++ {
		stream.events <- core.NewTextEvent(fmt.Sprintf("progress %d\n", i))
	}
	waitFor(t, time.Second, func() bool { return len(s.OutputHistory()) == 3 })

	r.WaitingForInput(s)

	// The foreground buffer flush comes first, then the two waiting messages.
	waitFor(t, time.Second, func() bool { return sink.count() >= 2 })
	var compact, full *sinkMsg
	for _, m := range sink.all() {
		if !strings.Contains(m.text, "waiting for your input") {
			continue
		}
		msg := m
		switch m.channel {
		case "C1":
			compact = &msg
		case "C0":
			full = &msg
		}
	}
	if assert.NotNil(t, compact) {
		assert.NotContains(t, compact.text, "Recent output")
	}
	if assert.NotNil(t, full) {
		assert.Contains(t, full.text, "Recent output")
		assert.Contains(t, full.text, "progress 2")
	}
}

type staticLister struct{ sessions []*session.Session }

func (l staticLister) ActiveSessions() []*session.Session { return l.sessions }

func TestRouter_ReminderFiresExactlyOnce(t *testing.T) {
	sink := &recSink{}
	r := NewRouter(sink, func(o *Options) {
		o.FlushInterval = 40 * time.Millisecond
		o.ReminderThreshold = 10 * time.Millisecond
	})
	unattended, _ := startSession(t, session.Config{ID: "s-a", Name: "alpha", OriginChannel: "C0"})
	watched, _ := startSession(t, session.Config{ID: "s-b", Name: "beta", OriginChannel: "C0"})
	watched.Foreground("C9")

	time.Sleep(20 * time.Millisecond) // let both cross the threshold
	lister := staticLister{sessions: []*session.Session{unattended, watched}}

	for i := 0; i < 5; i++ {
		r.scanLongRunning(lister)
	}

	msgs := sink.all()
	if assert.Len(t, msgs, 1, "reminder must fire once regardless of scan frequency") {
		assert.Equal(t, "C0", msgs[0].channel)
		assert.Contains(t, msgs[0].text, `"alpha"`)
	}
}

func TestRouter_ReminderRespectsThreshold(t *testing.T) {
	sink := &recSink{}
	r := NewRouter(sink, func(o *Options) { o.ReminderThreshold = time.Hour })
	s, _ := startSession(t, session.Config{OriginChannel: "C0"})

	r.scanLongRunning(staticLister{sessions: []*session.Session{s}})
	assert.Equal(t, 0, sink.count())
}
