package core

import "testing"

func TestEventKind_String(t *testing.T) {
	cases := map[EventKind]string{
		KindInit:     "init",
		KindText:     "text",
		KindToolUse:  "tool_use",
		KindResult:   "result",
		EventKind(9): "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("EventKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestEvent_IsTerminal(t *testing.T) {
	if NewTextEvent("hi").IsTerminal() {
		t.Error("text event should not be terminal")
	}
	if NewResultEvent(Result{Subtype: ResultSuccess}).IsTerminal() {
		t.Error("success result is a turn boundary, not unconditionally terminal")
	}
	if !NewResultEvent(Result{Subtype: ResultError, Err: "boom"}).IsTerminal() {
		t.Error("error result should be terminal")
	}
	if !NewResultEvent(Result{Subtype: ResultBudgetExhausted}).IsTerminal() {
		t.Error("budget exhaustion should be terminal")
	}
}

func TestEventConstructors(t *testing.T) {
	init := NewInitEvent("conv-1")
	if init.Kind != KindInit || init.ConversationID != "conv-1" {
		t.Errorf("unexpected init event: %+v", init)
	}
	tool := NewToolUseEvent("Bash", map[string]any{"command": "ls"})
	if tool.Kind != KindToolUse || tool.ToolName != "Bash" {
		t.Errorf("unexpected tool event: %+v", tool)
	}
	if tool.ToolInput["command"] != "ls" {
		t.Errorf("tool input not carried: %+v", tool.ToolInput)
	}
}
