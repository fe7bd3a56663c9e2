package contextmgr

import (
	"context"
	"strings"
	"testing"

	"vtcode/core/provider"
)

func userMsg(content string) provider.Message {
	return provider.Message{Role: provider.RoleUser, Content: content}
}

func assistantToolCall(id, name string) provider.Message {
	return provider.Message{
		Role:      provider.RoleAssistant,
		ToolCalls: []provider.ToolCall{{ID: id, Name: name}},
	}
}

func toolResultMsg(id, content string) provider.Message {
	return provider.Message{
		Role:        provider.RoleUser,
		ToolResults: []provider.ToolResult{{ToolUseID: id, Content: content}},
	}
}

func newTestManager(maxTokens, preserveRecent int) *ContextManager {
	cfg := ContextTrimConfig{
		MaxTokens:                maxTokens,
		PreserveRecentTurns:      preserveRecent,
		PerToolResponseCapBytes:  64,
		AggressiveThresholdRatio: 0.9,
	}
	budget := NewTokenBudget(maxTokens, nil)
	return NewContextManager("base prompt", cfg, budget, true, nil, nil)
}

func TestPruneToolResponsesElidesStaleOutputs(t *testing.T) {
	cm := newTestManager(100000, 2)
	history := []provider.Message{
		userMsg("hello"),
		assistantToolCall("call-1", "read_file"),
		toolResultMsg("call-1", strings.Repeat("x", 200)),
		userMsg("another question"),
		assistantToolCall("call-2", "read_file"),
		toolResultMsg("call-2", strings.Repeat("y", 10)),
	}

	pruned := cm.PruneToolResponses(history)
	if pruned == 0 {
		t.Fatalf("want at least one pruned response, got 0")
	}

	got := history[2].ToolResults[0].Content
	want := "<elided 200 bytes>"
	if got != want {
		t.Fatalf("want elided stub %q, got %q", want, got)
	}

	// Recent tool result under the preserved window must survive untouched.
	if history[5].ToolResults[0].Content != strings.Repeat("y", 10) {
		t.Fatalf("recent tool result should not be touched: got %q", history[5].ToolResults[0].Content)
	}
}

func TestPruneToolResponsesTruncatesOversizeRecent(t *testing.T) {
	cm := newTestManager(100000, 4)
	big := strings.Repeat("z", 500)
	history := []provider.Message{
		userMsg("hi"),
		assistantToolCall("call-1", "read_file"),
		toolResultMsg("call-1", big),
	}

	cm.PruneToolResponses(history)

	got := history[2].ToolResults[0].Content
	if len(got) >= len(big) {
		t.Fatalf("want truncated content shorter than %d bytes, got %d", len(big), len(got))
	}
	if !strings.Contains(got, "truncated") {
		t.Fatalf("want truncation marker in content, got %q", got)
	}
}

func TestPreservedStartNeverSplitsToolPair(t *testing.T) {
	history := []provider.Message{
		userMsg("q1"),
		assistantToolCall("call-1", "read_file"),
		toolResultMsg("call-1", "r1"),
		userMsg("q2"),
	}

	start := preservedStart(history, 2)
	if start != 1 {
		t.Fatalf("want boundary pulled back to 1 so the tool pair stays whole, got %d", start)
	}
}

func TestEnforceContextWindowDropsOldestPairsUntilUnderBudget(t *testing.T) {
	cm := newTestManager(40, 1)
	history := []provider.Message{
		userMsg(strings.Repeat("a", 400)),
		assistantToolCall("call-1", "read_file"),
		toolResultMsg("call-1", strings.Repeat("b", 400)),
		userMsg("short recent question"),
	}

	outcome, err := cm.EnforceContextWindow(&history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Removed == 0 {
		t.Fatalf("want messages removed to fit the budget, got 0")
	}
	if len(history) == 0 {
		t.Fatalf("want at least the recent turn preserved")
	}
	if history[len(history)-1].Content != "short recent question" {
		t.Fatalf("want the most recent turn preserved, got %+v", history[len(history)-1])
	}
}

func TestEnforceContextWindowReturnsBudgetExceededWhenTailAloneTooBig(t *testing.T) {
	cm := newTestManager(1, 1)
	history := []provider.Message{
		userMsg(strings.Repeat("a", 10000)),
	}

	_, err := cm.EnforceContextWindow(&history)
	if err == nil {
		t.Fatalf("want ErrBudgetExceeded, got nil")
	}
	if _, ok := err.(*ErrBudgetExceeded); !ok {
		t.Fatalf("want *ErrBudgetExceeded, got %T", err)
	}
}

func TestBuildSystemPromptRecordsLabeledTokenCount(t *testing.T) {
	cm := newTestManager(100000, 4)
	cm.SetInstructionDocs([]InstructionDoc{
		{Label: "workspace", Content: strings.Repeat("w", 100), CapBytes: 10},
	})

	prompt, err := cm.BuildSystemPrompt(context.Background(), PolicyAwareness{AllowCount: 2, DenyCount: 1, PTYEnabled: true}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(prompt, "base prompt") {
		t.Fatalf("want base prompt present, got %q", prompt)
	}
	if strings.Contains(prompt, strings.Repeat("w", 100)) {
		t.Fatalf("want instruction doc truncated to its cap")
	}

	n, ok := cm.Budget().Label("base_system_0")
	if !ok || n == 0 {
		t.Fatalf("want token count recorded under base_system_0, got ok=%v n=%d", ok, n)
	}
}

func TestTokenBudgetAccumulatesAcrossComponents(t *testing.T) {
	budget := NewTokenBudget(1000, nil)
	budget.CountTokensForComponent("hello world", ComponentUserTurn, "")
	budget.CountTokensForComponent("response text", ComponentAssistantTurn, "")

	if budget.Total() == 0 {
		t.Fatalf("want nonzero total after recording two components")
	}
	if budget.Remaining() != budget.MaxTokens()-budget.Total() {
		t.Fatalf("remaining should equal max minus total")
	}

	budget.Reset()
	if budget.Total() != 0 {
		t.Fatalf("want total 0 after Reset, got %d", budget.Total())
	}
}
