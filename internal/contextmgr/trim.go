package contextmgr

import (
	"fmt"

	"vtcode/core/provider"
)

// ContextTrimConfig controls how aggressively history is trimmed to fit a
// token budget. Zero values are replaced with sane defaults by Normalize.
type ContextTrimConfig struct {
	MaxTokens                int
	PreserveRecentTurns      int
	SemanticCompression      bool
	AggressiveThresholdRatio float64
	PerToolResponseCapBytes  int
}

// Normalize fills in defaults for zero-valued fields and returns the result.
func (c ContextTrimConfig) Normalize() ContextTrimConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 128000
	}
	if c.PreserveRecentTurns <= 0 {
		c.PreserveRecentTurns = 4
	}
	if c.AggressiveThresholdRatio <= 0 {
		c.AggressiveThresholdRatio = 0.90
	}
	if c.PerToolResponseCapBytes <= 0 {
		c.PerToolResponseCapBytes = 8192
	}
	return c
}

// TrimOutcome reports what EnforceContextWindow did to a history slice.
type TrimOutcome struct {
	Removed          int // messages dropped entirely
	Compressed       int // tool responses elided or semantically compressed
	Kept             int // messages remaining after the pass
	AggressiveApplied bool
	FinalTokens      int
}

// ErrBudgetExceeded is returned when even the preserved tail plus the system
// prompt cannot fit under MaxTokens.
type ErrBudgetExceeded struct {
	FinalTokens int
	MaxTokens   int
}

func (e *ErrBudgetExceeded) Error() string {
	return fmt.Sprintf("contextmgr: budget exceeded: %d tokens over max %d", e.FinalTokens, e.MaxTokens)
}

const elidedStubFormat = "<elided %d bytes>"

// preservedStart returns the index of the first message that must survive
// trimming, given PreserveRecentTurns. It never splits an assistant turn
// from the tool-result message that answers it: if the computed boundary
// would fall on a tool-result message (RoleUser carrying ToolResults), it is
// pulled back to include the preceding assistant message too.
func preservedStart(history []provider.Message, preserveRecentTurns int) int {
	n := len(history)
	start := n - preserveRecentTurns
	if start < 0 {
		start = 0
	}
	for start > 0 && start < n && len(history[start].ToolResults) > 0 {
		start--
	}
	return start
}

// PruneToolResponses compresses stale tool outputs (those before the
// preserved tail) down to a short stub, and truncates any single tool
// response within the preserved tail that still exceeds PerToolResponseCapBytes.
// Ordering and ToolUseID linkage are preserved; only Content is mutated.
func (cm *ContextManager) PruneToolResponses(history []provider.Message) int {
	cfg := cm.trimConfig
	boundary := preservedStart(history, cfg.PreserveRecentTurns)
	pruned := 0

	for i := range history {
		if len(history[i].ToolResults) == 0 {
			continue
		}
		results := history[i].ToolResults
		for j := range results {
			content := results[j].Content
			if i < boundary {
				if content == "" {
					continue
				}
				results[j].Content = fmt.Sprintf(elidedStubFormat, len(content))
				pruned++
				continue
			}
			if len(content) > cfg.PerToolResponseCapBytes {
				results[j].Content = content[:cfg.PerToolResponseCapBytes] +
					fmt.Sprintf("\n... [truncated %d bytes]", len(content)-cfg.PerToolResponseCapBytes)
				pruned++
			}
		}
	}
	return pruned
}

// EnforceContextWindow mutates history in place so its estimated token total
// does not exceed cfg.MaxTokens. It applies, in order: oversize single tool
// response truncation, oldest-stub elision, semantic compression of
// code-like tool responses, dropping oldest non-recent turns in pairs, and
// finally AggressiveTrim. The system prompt and the last PreserveRecentTurns
// messages are never dropped. Returns ErrBudgetExceeded if the preserved
// tail alone still exceeds the budget.
func (cm *ContextManager) EnforceContextWindow(history *[]provider.Message) (TrimOutcome, error) {
	cfg := cm.trimConfig
	outcome := TrimOutcome{}

	compressed := cm.PruneToolResponses(*history)
	outcome.Compressed += compressed

	if cm.trimConfig.SemanticCompression {
		outcome.Compressed += cm.semanticCompress(*history)
	}

	for cm.estimateTotal(*history) > cfg.MaxTokens {
		boundary := preservedStart(*history, cfg.PreserveRecentTurns)
		if boundary <= 0 {
			break
		}
		dropTo := boundary
		dropFrom := 0
		// Drop the oldest droppable turn as a pair: a user message together
		// with the assistant reply that follows it, and, if that assistant
		// turn has tool calls, its tool-result message(s) too so the
		// invariant holds.
		dropEnd := dropFrom + 1
		if dropEnd < dropTo && (*history)[dropFrom].Role == provider.RoleUser &&
			len((*history)[dropFrom].ToolResults) == 0 && (*history)[dropEnd].Role == provider.RoleAssistant {
			dropEnd++
		}
		if dropEnd < dropTo && len((*history)[dropEnd-1].ToolCalls) > 0 {
			for dropEnd < dropTo && len((*history)[dropEnd].ToolResults) > 0 {
				dropEnd++
			}
		}
		removed := dropEnd - dropFrom
		*history = append((*history)[:dropFrom], (*history)[dropEnd:]...)
		outcome.Removed += removed
	}

	total := cm.estimateTotal(*history)
	if total > cfg.MaxTokens && float64(total) >= cfg.AggressiveThresholdRatio*float64(cfg.MaxTokens) {
		removed := cm.AggressiveTrim(history)
		outcome.Removed += removed
		outcome.AggressiveApplied = removed > 0
		total = cm.estimateTotal(*history)
	}

	outcome.Kept = len(*history)
	outcome.FinalTokens = total

	if total > cfg.MaxTokens && outcome.Kept <= cfg.PreserveRecentTurns {
		return outcome, &ErrBudgetExceeded{FinalTokens: total, MaxTokens: cfg.MaxTokens}
	}
	return outcome, nil
}

// AggressiveTrim drops oldest non-preserved turns in assistant/tool-result
// pairs until history is back under the aggressive threshold, never
// separating an assistant turn from the tool results that answer it.
func (cm *ContextManager) AggressiveTrim(history *[]provider.Message) int {
	cfg := cm.trimConfig
	removed := 0
	for {
		total := cm.estimateTotal(*history)
		threshold := cfg.AggressiveThresholdRatio * float64(cfg.MaxTokens)
		if float64(total) <= threshold {
			break
		}
		boundary := preservedStart(*history, cfg.PreserveRecentTurns)
		if boundary <= 0 {
			break
		}
		end := 1
		for end < boundary && len((*history)[end].ToolResults) > 0 {
			end++
		}
		*history = append((*history)[:0], (*history)[end:]...)
		removed += end
	}
	return removed
}

func (cm *ContextManager) estimateTotal(history []provider.Message) int {
	total := 0
	for _, msg := range history {
		total += EstimateTokens(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += EstimateTokens(tc.Name) + EstimateTokens(fmt.Sprint(tc.Input))
		}
		for _, tr := range msg.ToolResults {
			total += EstimateTokens(tr.Content)
		}
	}
	return total
}
