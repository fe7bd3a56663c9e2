package runloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"vtcode/core/provider"
	"vtcode/internal/contextmgr"
)

const (
	compactMinReductionPct = 20.0
	compactTargetRatio     = 0.25
	compactPromptTemplate  = `You are tasked with summarizing a coding conversation to reduce token usage while preserving all critical information.

**Guidelines:**
- Preserve all technical decisions, code snippets, file paths, and function names
- Maintain chronological order of key developments
- Omit pleasantries, redundant explanations, and off-topic tangents
- Use concise technical language
- Target length: ~25%% of original

**Conversation to Summarize:**
%s

**Instructions:**
Provide a dense, technical summary that captures:
1. Main objectives and problems addressed
2. Key decisions made (with brief rationale)
3. Code changes and their locations
4. Current state and next steps

Write the summary in markdown format. Be extremely concise.`
)

// CompactionOutcome reports what Compact did.
type CompactionOutcome struct {
	OldTokens int
	NewTokens int
}

// ErrCompactionNotWorthwhile means a generated summary didn't reduce token
// usage by the configured minimum ratio, so the replacement was discarded.
type ErrCompactionNotWorthwhile struct {
	OldTokens, NewTokens int
	ReductionPct         float64
}

func (e *ErrCompactionNotWorthwhile) Error() string {
	return fmt.Sprintf("runloop: compaction reduced tokens by only %.0f%% (%d -> %d), below the minimum", e.ReductionPct, e.OldTokens, e.NewTokens)
}

// ErrHistoryTooShort means there isn't enough history to compact meaningfully.
type ErrHistoryTooShort struct{ MinMessages, HaveMessages int }

func (e *ErrHistoryTooShort) Error() string {
	return fmt.Sprintf("runloop: conversation too short to compact (need at least %d messages, have %d)", e.MinMessages, e.HaveMessages)
}

// Compact implements summary compaction (§11.1), run for the /compact
// command and by core.Session's automatic compaction at high usage: it
// replaces the non-recent portion of history with a single LLM-generated
// summary message, subject to a minimum-reduction guarantee. It never
// substitutes for EnforceContextWindow's automatic, pure in-memory passes.
func (d *Driver) Compact(ctx context.Context) (CompactionOutcome, error) {
	preserveRecent := d.contextMgr.TrimConfig().PreserveRecentTurns
	minHistory := preserveRecent + 2
	if len(d.history) < minHistory {
		return CompactionOutcome{}, &ErrHistoryTooShort{MinMessages: minHistory, HaveMessages: len(d.history)}
	}

	oldTokens := d.estimateHistoryTokens(d.history)

	summary, err := d.generateSummary(ctx, preserveRecent)
	if err != nil {
		return CompactionOutcome{}, fmt.Errorf("runloop: generate summary: %w", err)
	}

	newHistory := d.buildCompactedHistory(summary, preserveRecent)
	newTokens := d.estimateHistoryTokens(newHistory)

	if newTokens >= oldTokens {
		return CompactionOutcome{}, &ErrCompactionNotWorthwhile{OldTokens: oldTokens, NewTokens: newTokens}
	}
	reductionPct := 100.0 * float64(oldTokens-newTokens) / float64(oldTokens)
	if reductionPct < compactMinReductionPct {
		return CompactionOutcome{}, &ErrCompactionNotWorthwhile{OldTokens: oldTokens, NewTokens: newTokens, ReductionPct: reductionPct}
	}

	d.history = newHistory
	return CompactionOutcome{OldTokens: oldTokens, NewTokens: newTokens}, nil
}

func (d *Driver) estimateHistoryTokens(history []provider.Message) int {
	total := 0
	for _, msg := range history {
		total += contextmgr.EstimateTokens(msg.Content)
		for _, tc := range msg.ToolCalls {
			inputJSON, _ := json.Marshal(tc.Input)
			total += contextmgr.EstimateTokens(tc.Name) + contextmgr.EstimateTokens(string(inputJSON))
		}
		for _, tr := range msg.ToolResults {
			total += contextmgr.EstimateTokens(tr.Content)
		}
	}
	return total
}

func (d *Driver) generateSummary(ctx context.Context, preserveRecent int) (string, error) {
	cutoff := len(d.history) - preserveRecent
	if cutoff < 0 {
		cutoff = 0
	}
	toSummarize := d.history[:cutoff]

	var conversation strings.Builder
	for _, msg := range toSummarize {
		role := "User"
		if msg.Role == provider.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&conversation, "\n## %s\n%s\n", role, msg.Content)
		for _, tc := range msg.ToolCalls {
			inputJSON, _ := json.Marshal(tc.Input)
			fmt.Fprintf(&conversation, "\n[Tool: %s]\nInput: %s\n", tc.Name, inputJSON)
		}
		for _, tr := range msg.ToolResults {
			fmt.Fprintf(&conversation, "\n[Tool Result]\n%s\n", tr.Content)
		}
	}

	targetTokens := int(float64(d.estimateHistoryTokens(toSummarize)) * compactTargetRatio * 1.5)
	req := provider.Request{
		Model:  d.model,
		System: "You are a technical summarizer for a coding assistant.",
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: fmt.Sprintf(compactPromptTemplate, conversation.String())},
		},
		MaxTokens: targetTokens,
	}

	iter, err := d.provider.Send(ctx, req)
	if err != nil {
		return "", fmt.Errorf("request summary: %w", err)
	}
	defer iter.Close()

	var summary strings.Builder
	for {
		chunk, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("summary stream: %w", err)
		}
		if chunk.Event == provider.EventTextDelta {
			summary.WriteString(chunk.Text)
		}
	}
	return summary.String(), nil
}

func (d *Driver) buildCompactedHistory(summary string, preserveRecent int) []provider.Message {
	if preserveRecent > len(d.history) {
		preserveRecent = len(d.history)
	}
	recent := d.history[len(d.history)-preserveRecent:]

	newHistory := []provider.Message{{
		Role:    provider.RoleAssistant,
		Content: "**[Conversation Summary]**\n\n" + summary,
	}}
	return append(newHistory, recent...)
}
