// Package agentpool provides a high-level façade over the session pool and
// its notification plumbing. Most applications interact with this package by:
//  1. Creating a Pool via New() with a launcher, a message sink and
//     (optionally) an agent-wake dispatcher
//  2. Spawning sessions and responding to their waiting-for-input signals
//  3. Letting the pool route output, completion and reminder messages to the
//     observing channels
//
// The façade delegates pool management to manager.Manager and message
// shaping to notify.Router while keeping setup ergonomics concise. Defaults
// are safe for local development; production deployments typically supply a
// structured logger and tuned timeouts.
package agentpool

import (
	"context"
	"time"

	"github.com/loftwing/agentpool/core"
	"github.com/loftwing/agentpool/logging"
	"github.com/loftwing/agentpool/manager"
	"github.com/loftwing/agentpool/notify"
	"github.com/loftwing/agentpool/session"
	"github.com/loftwing/agentpool/workspace"
)

// Options configures the Pool instance.
type Options struct {
	// MaxSessions bounds how many sessions may be active at once.
	MaxSessions int

	// Retention is how long finished sessions stay in the live pool before
	// Cleanup retires them to the persisted record store.
	Retention time.Duration

	// PersistCap bounds the persisted record store.
	PersistCap int

	// IdleTimeout and StallTimeout are applied to every session.
	IdleTimeout  time.Duration
	StallTimeout time.Duration

	// FlushInterval is the output debounce window for observer messages.
	FlushInterval time.Duration

	// CleanupInterval is how often the background garbage collection runs
	// once Run is called.
	CleanupInterval time.Duration

	// Wake handles out-of-band agent notification. Nil disables wakes.
	Wake core.WakeDispatcher

	// WorkspaceRoots seeds the path-to-channel resolver.
	WorkspaceRoots map[string]string

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Pool is the high-level façade aggregating the manager, router and
// workspace resolver.
type Pool struct {
	opts     Options
	manager  *manager.Manager
	router   *notify.Router
	resolver *workspace.Resolver
}

// New creates a Pool with optional overrides. The launcher produces agent
// conversations; the sink receives observer messages.
func New(launcher core.Launcher, sink core.MessageSink, optFns ...func(o *Options)) *Pool {
	opts := Options{
		MaxSessions:     10,
		Retention:       time.Hour,
		PersistCap:      50,
		IdleTimeout:     session.DefaultIdleTimeout,
		StallTimeout:    session.DefaultStallTimeout,
		FlushInterval:   notify.DefaultFlushInterval,
		CleanupInterval: 5 * time.Minute,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	router := notify.NewRouter(sink, func(o *notify.Options) {
		o.FlushInterval = opts.FlushInterval
		o.Logger = opts.Logger
	})
	mgr := manager.New(launcher, router, opts.Wake, func(o *manager.Options) {
		o.MaxSessions = opts.MaxSessions
		o.Retention = opts.Retention
		o.PersistCap = opts.PersistCap
		o.IdleTimeout = opts.IdleTimeout
		o.StallTimeout = opts.StallTimeout
		o.Logger = opts.Logger
	})

	return &Pool{
		opts:     opts,
		manager:  mgr,
		router:   router,
		resolver: workspace.NewResolver(opts.WorkspaceRoots),
	}
}

// Run starts the background loops (periodic cleanup and long-running session
// reminders) until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	p.router.StartReminders(ctx, p.manager)
	go func() {
		ticker := time.NewTicker(p.opts.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.manager.Cleanup()
			}
		}
	}()
}

// Spawn starts a new session.
func (p *Pool) Spawn(ctx context.Context, cfg manager.SpawnConfig) (*session.Session, error) {
	return p.manager.Spawn(ctx, cfg)
}

// Resolve returns the live session matching an id or name, or nil.
func (p *Pool) Resolve(ref string) *session.Session { return p.manager.Resolve(ref) }

// ResolveConversationID maps any session reference to a backend conversation
// id usable for resumption.
func (p *Pool) ResolveConversationID(ref string) (string, bool) {
	return p.manager.ResolveConversationID(ref)
}

// Respond forwards a follow-up message to a running multi-turn session.
func (p *Pool) Respond(ref, text string) error { return p.manager.Respond(ref, text) }

// Foreground subscribes channelID to a session's live output and returns the
// unseen backlog.
func (p *Pool) Foreground(ref, channelID string) ([]string, error) {
	return p.manager.Foreground(ref, channelID)
}

// Background unsubscribes channelID from a session's live output.
func (p *Pool) Background(ref, channelID string) error {
	return p.manager.Background(ref, channelID)
}

// Kill aborts a session.
func (p *Pool) Kill(ref string) bool { return p.manager.Kill(ref) }

// KillAll aborts every active session.
func (p *Pool) KillAll() { p.manager.KillAll() }

// Cleanup runs one garbage collection pass immediately.
func (p *Pool) Cleanup() { p.manager.Cleanup() }

// Sessions returns the live sessions in spawn order.
func (p *Pool) Sessions() []*session.Session { return p.manager.ActiveSessions() }

// ListPersisted returns finished-session records, newest first.
func (p *Pool) ListPersisted() []*manager.PersistedRecord { return p.manager.ListPersisted() }

// Metrics returns a point-in-time metrics snapshot.
func (p *Pool) Metrics() manager.MetricsSnapshot { return p.manager.Metrics() }

// Workspace exposes the path-to-channel resolver for callers that route
// sessions by working directory.
func (p *Pool) Workspace() *workspace.Resolver { return p.resolver }
