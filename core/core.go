package core

import "context"

// StartOptions carries the per-conversation parameters passed to a Launcher.
type StartOptions struct {
	// Prompt is the initial task given to the agent.
	Prompt string

	// Workdir is the working directory the agent should operate in.
	Workdir string

	// Model selects the backend model; empty means the launcher default.
	Model string

	// MaxBudget caps the conversation's spend in USD. Zero means unlimited.
	MaxBudget float64

	// MultiTurn keeps the conversation open for follow-up messages drained
	// from the InputSource between turns.
	MultiTurn bool

	// Resume, when set, asks the backend to continue the conversation with
	// this identifier instead of starting a fresh one.
	Resume string
}

// Stream is one live agent conversation viewed as an ordered event sequence.
// Events is closed when the conversation ends for any reason. Abort tears the
// conversation down; after Abort the consumer must treat the closing of
// Events as a normal, non-error termination.
type Stream interface {
	Events() <-chan Event
	Abort()
}

// InputSource is the lazily-consumed follow-up message queue of a multi-turn
// conversation. Next blocks until a message is available, the queue is
// closed, or ctx is done; the second return value is false once no further
// messages will arrive.
type InputSource interface {
	Next(ctx context.Context) (string, bool)
}

// Launcher opens agent conversations. Implementations must return quickly:
// the returned Stream produces events asynchronously and the first event of
// a healthy conversation is KindInit. For single-turn conversations input
// may be nil.
type Launcher interface {
	Launch(ctx context.Context, opts StartOptions, input InputSource) (Stream, error)
}

// MessageSink delivers observer-facing text to a chat channel. Delivery is
// best effort; callers log failures and never escalate them.
type MessageSink interface {
	Send(channelID, text string) error
}

// WakeDispatcher signals the external agent responsible for a session that
// it should act, out of band from ordinary observer messages. Deliver
// addresses a known agent directly; DeliverBroadcast is the fallback when no
// owning agent is known. Both are best effort.
type WakeDispatcher interface {
	Deliver(ctx context.Context, agentID, text, channelHint string) error
	DeliverBroadcast(ctx context.Context, text string) error
}
