package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/loftwing/agentpool/session"
)

// SessionLister exposes the live pool to the reminder scan without giving
// the router pool knowledge.
type SessionLister interface {
	ActiveSessions() []*session.Session
}

// StartReminders runs the periodic long-running session scan until ctx is
// done. A session qualifies when it is still active, has zero foreground
// observers, and has run longer than the threshold; it gets exactly one
// reminder to its origin observer, suppressed thereafter until it ends.
func (r *Router) StartReminders(ctx context.Context, lister SessionLister) {
	go func() {
		ticker := time.NewTicker(r.opts.ReminderInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.scanLongRunning(lister)
			}
		}
	}()
}

func (r *Router) scanLongRunning(lister SessionLister) {
	for _, s := range lister.ActiveSessions() {
		if !s.Status().Active() || s.ForegroundCount() > 0 {
			continue
		}
		if s.StartedAt().IsZero() || time.Since(s.StartedAt()) < r.opts.ReminderThreshold {
			continue
		}

		r.mu.Lock()
		if r.reminded[s.ID()] {
			r.mu.Unlock()
			continue
		}
		r.reminded[s.ID()] = true
		r.mu.Unlock()

		r.send(s.OriginChannel(), fmt.Sprintf(
			"👀 Session %q has been running unattended for %s; foreground it to see progress",
			s.Name(), time.Since(s.StartedAt()).Round(time.Minute)))
	}
}
