package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loftwing/agentpool/session"
)

// wakePreviewLines bounds the tail of session output included in a wake.
const wakePreviewLines = 5

// wakeWaiting dispatches an agent wake for a session that is waiting for
// input. Repeated waits from the same session inside WakeDebounce are
// suppressed so a chatty turn boundary does not spam the agent.
func (m *Manager) wakeWaiting(s *session.Session) {
	m.mu.Lock()
	last, seen := m.lastWake[s.ID()]
	if seen && time.Since(last) < m.opts.WakeDebounce {
		m.mu.Unlock()
		return
	}
	m.lastWake[s.ID()] = time.Now()
	m.mu.Unlock()

	m.dispatchWake(s, "is waiting for your input")
}

// dispatchWake builds the wake text and delivers it. Direct delivery to a
// known agent gets no retry; the broadcast fallback gets a single delayed
// retry because no one in particular is listening for it.
func (m *Manager) dispatchWake(s *session.Session, what string) {
	if m.wake == nil {
		return
	}
	text := m.wakeText(s, what)
	if agentID := s.AgentID(); agentID != "" {
		go m.deliverWake(s, agentID, text)
		return
	}
	go m.broadcastWake(s, text, true)
}

func (m *Manager) deliverWake(s *session.Session, agentID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WakeTimeout)
	defer cancel()
	if err := m.wake.Deliver(ctx, agentID, text, s.OriginChannel()); err != nil {
		m.logger.Warn("agent wake failed", "session_id", s.ID(), "agent_id", agentID, "error", err)
	}
}

func (m *Manager) broadcastWake(s *session.Session, text string, retry bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WakeTimeout)
	defer cancel()
	err := m.wake.DeliverBroadcast(ctx, text)
	if err == nil {
		return
	}
	m.logger.Warn("broadcast wake failed", "session_id", s.ID(), "retry", retry, "error", err)
	if !retry {
		return
	}
	m.mu.Lock()
	if prev, ok := m.wakeRetries[s.ID()]; ok {
		prev.Stop()
	}
	m.wakeRetries[s.ID()] = time.AfterFunc(m.opts.WakeRetryDelay, func() {
		m.mu.Lock()
		delete(m.wakeRetries, s.ID())
		m.mu.Unlock()
		m.broadcastWake(s, text, false)
	})
	m.mu.Unlock()
}

// wakeText renders the out-of-band message the agent receives: what
// happened, a short tail of the session's output, and the id to act on.
func (m *Manager) wakeText(s *session.Session, what string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %q %s.", s.Name(), what)
	if tail := s.RecentOutput(wakePreviewLines); tail != "" {
		b.WriteString("\n\nRecent output:\n")
		b.WriteString(tail)
	}
	fmt.Fprintf(&b, "\n\nUse session id %s to respond or inspect.", s.ID())
	return b.String()
}
