// Package manager owns the bounded pool of agent sessions. It spawns,
// resolves, kills, persists and garbage-collects sessions, aggregates
// metrics over finished ones, and forwards session lifecycle callbacks to
// the notification router and the out-of-band agent wake dispatcher.
//
// The Manager implements session.Listener, so all side effects of a
// session's lifecycle flow through one place. The live pool, the persisted
// record store and the metrics aggregate are guarded by the manager's lock;
// sessions own their internal state themselves.
package manager
