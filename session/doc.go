// Package session implements the lifecycle of one managed agent
// conversation: its status state machine, bounded output history with
// per-observer bookmarks, idle and stall timers, and the lazily-consumed
// follow-up queue of multi-turn conversations.
//
// A Session owns all of its mutable state and serializes access internally;
// callers never need external locking. Side effects (observer notifications,
// completion bookkeeping) are routed through a constructor-injected Listener
// so the session itself stays free of pool and delivery concerns.
package session
