// Package notify translates session lifecycle events into observer-facing
// chat messages. It owns no pool state: the Router decides fan-out target
// sets and message shape, batches bursty assistant text through a per
// (session, observer) debounce buffer, and runs the long-running session
// reminder scan. Delivery goes through the injected core.MessageSink and is
// best effort; failures are logged and never escalated.
package notify
