package core

import "time"

// EventKind discriminates the stream event variants emitted by a Launcher.
type EventKind int

const (
	// KindInit is the first event of a conversation. It carries the
	// backend's conversation identifier used for later resumption.
	KindInit EventKind = iota

	// KindText is an assistant text fragment.
	KindText

	// KindToolUse records the agent invoking a named tool.
	KindToolUse

	// KindResult terminates a turn (multi-turn success) or the whole
	// conversation (single-turn success, error, budget exhaustion).
	KindResult
)

// String returns the wire-style name of the event kind.
func (k EventKind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindText:
		return "text"
	case KindToolUse:
		return "tool_use"
	case KindResult:
		return "result"
	default:
		return "unknown"
	}
}

// ResultSubtype classifies a KindResult event.
type ResultSubtype string

const (
	// ResultSuccess indicates a completed turn (multi-turn) or a completed
	// conversation (single-turn).
	ResultSuccess ResultSubtype = "success"

	// ResultError indicates the backend failed mid-conversation.
	ResultError ResultSubtype = "error"

	// ResultBudgetExhausted indicates the configured spend limit was hit
	// before the agent finished.
	ResultBudgetExhausted ResultSubtype = "budget_exhausted"
)

// Result carries the terminal payload of a KindResult event. Cost is the
// incremental spend of the finished turn, not a running total.
type Result struct {
	Subtype  ResultSubtype
	Cost     float64
	Duration time.Duration
	Err      string
}

// Event is the primary unit of communication between a launched agent
// conversation and its owning session. After emission it should be treated
// as immutable. Only the fields matching Kind are populated.
type Event struct {
	Kind EventKind

	// ConversationID is set on KindInit only.
	ConversationID string

	// Text is set on KindText only.
	Text string

	// ToolName and ToolInput are set on KindToolUse only.
	ToolName  string
	ToolInput map[string]any

	// Result is set on KindResult only.
	Result *Result
}

// NewInitEvent creates the conversation's initialization event.
func NewInitEvent(conversationID string) Event {
	return Event{Kind: KindInit, ConversationID: conversationID}
}

// NewTextEvent creates an assistant text fragment event.
func NewTextEvent(text string) Event {
	return Event{Kind: KindText, Text: text}
}

// NewToolUseEvent creates a tool invocation event.
func NewToolUseEvent(name string, input map[string]any) Event {
	return Event{Kind: KindToolUse, ToolName: name, ToolInput: input}
}

// NewResultEvent creates a terminal (or turn-terminal) result event.
func NewResultEvent(result Result) Event {
	return Event{Kind: KindResult, Result: &result}
}

// IsTerminal reports whether the event ends the whole conversation rather
// than a single turn. Multi-turn conversations treat a success result as a
// turn boundary, so only the caller knows turn semantics; this helper covers
// the unconditional cases.
func (e Event) IsTerminal() bool {
	return e.Kind == KindResult && e.Result != nil && e.Result.Subtype != ResultSuccess
}
