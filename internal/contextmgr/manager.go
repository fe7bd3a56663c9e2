package contextmgr

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"go.uber.org/zap"

	"vtcode/core/provider"
)

// SemanticScorer scores a line of tool-output text by structural importance
// (declarations score highest, then statements, then comments, then blank
// lines). Implementations that cannot parse a given snippet should return
// ok=false so the caller falls back to leaving the line untouched.
//
// No syntax-aware parsing library is wired into this module (none of the
// reference dependencies provide one); LineScorer below is a lightweight
// heuristic stand-in that degrades gracefully, mirroring how the reference
// analyzer disables semantic compression on initialization failure rather
// than treating it as fatal.
type SemanticScorer interface {
	Score(line string) (score uint8, ok bool)
}

// LineScorer is a heuristic SemanticScorer based on simple lexical cues.
type LineScorer struct{}

func (LineScorer) Score(line string) (uint8, bool) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return 10, true
	case strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "*"):
		return 40, true
	case containsAny(trimmed, "func ", "def ", "class ", "type ", "struct ", "interface ", "fn ", "pub fn"):
		return 220, true
	default:
		return 120, true
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ContextManager owns the token budget, trim configuration, and base system
// prompt for a single run-loop session. It is not safe for concurrent use by
// multiple goroutines without external synchronization, matching how a
// Run-Loop Driver owns exactly one ContextManager per session.
type ContextManager struct {
	trimConfig       ContextTrimConfig
	budget           *TokenBudget
	budgetEnabled    bool
	baseSystemPrompt string
	instructionDocs  []InstructionDoc
	scorer           SemanticScorer
	scoreCache       map[uint64]uint8
	logger           *zap.Logger
}

// InstructionDoc is one entry in the system prompt's instruction-file stack
// (global, workspace, or custom), each carrying its own byte cap.
type InstructionDoc struct {
	Label    string
	Content  string
	CapBytes int
}

// PolicyAwareness summarizes the active policy configuration for the
// "configuration awareness" block of the system prompt.
type PolicyAwareness struct {
	AllowCount int
	DenyCount  int
	PTYEnabled bool
	HITL       bool
}

// NewContextManager builds a ContextManager. A nil scorer disables semantic
// compression regardless of cfg.SemanticCompression (mirroring the reference
// behavior of disabling compression when the analyzer fails to initialize).
func NewContextManager(baseSystemPrompt string, cfg ContextTrimConfig, budget *TokenBudget, budgetEnabled bool, scorer SemanticScorer, logger *zap.Logger) *ContextManager {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	cm := &ContextManager{
		trimConfig:       cfg,
		budget:           budget,
		budgetEnabled:    budgetEnabled,
		baseSystemPrompt: baseSystemPrompt,
		scorer:           scorer,
	}
	if cfg.SemanticCompression && scorer != nil {
		cm.scoreCache = make(map[uint64]uint8)
	} else if cfg.SemanticCompression && scorer == nil {
		logger.Warn("semantic compression requested but no scorer configured; disabling")
		cm.trimConfig.SemanticCompression = false
	}
	cm.logger = logger
	return cm
}

// TrimConfig returns the effective trim configuration.
func (cm *ContextManager) TrimConfig() ContextTrimConfig { return cm.trimConfig }

// Budget returns the underlying token budget tracker.
func (cm *ContextManager) Budget() *TokenBudget { return cm.budget }

// BudgetEnabled reports whether token accounting is active for this session.
func (cm *ContextManager) BudgetEnabled() bool { return cm.budgetEnabled }

// SetInstructionDocs replaces the instruction-file stack used by BuildSystemPrompt.
func (cm *ContextManager) SetInstructionDocs(docs []InstructionDoc) {
	cm.instructionDocs = docs
}

// ResetBudget zeroes the token budget, if enabled.
func (cm *ContextManager) ResetBudget() {
	if cm.budgetEnabled && cm.budget != nil {
		cm.budget.Reset()
	}
}

// semanticCompress scores each line of code-like tool responses and drops
// every line scoring below compressLines' threshold in a single pass.
// It only touches tool responses outside the preserved recent tail.
func (cm *ContextManager) semanticCompress(history []provider.Message) int {
	if !cm.trimConfig.SemanticCompression || cm.scorer == nil {
		return 0
	}
	boundary := preservedStart(history, cm.trimConfig.PreserveRecentTurns)
	compressed := 0

	for i := 0; i < boundary; i++ {
		results := history[i].ToolResults
		for j := range results {
			content := results[j].Content
			if !looksLikeCode(content) || len(content) <= cm.trimConfig.PerToolResponseCapBytes/2 {
				continue
			}
			newContent, changed := cm.compressLines(content)
			if changed {
				results[j].Content = newContent
				compressed++
			}
		}
	}
	return compressed
}

func looksLikeCode(s string) bool {
	return containsAny(s, "func ", "def ", "class ", "{", "};", "import ", "package ")
}

func (cm *ContextManager) compressLines(content string) (string, bool) {
	lines := strings.Split(content, "\n")
	if len(lines) < 8 {
		return content, false
	}

	type scored struct {
		line  string
		score uint8
	}
	out := make([]scored, len(lines))
	for i, line := range lines {
		key := hashLine(line)
		score, ok := cm.scoreCache[key]
		if !ok {
			score, ok = cm.scorer.Score(line)
			if ok {
				cm.scoreCache[key] = score
			} else {
				score = 255 // unknown: keep, treat as important
			}
		}
		out[i] = scored{line, score}
	}

	// Drop every line scoring below 50 (under LineScorer: blank lines and
	// comments); content shorter than 8 lines was returned unchanged above.
	keep := make([]string, 0, len(out))
	threshold := uint8(50)
	for _, s := range out {
		if s.score < threshold {
			continue
		}
		keep = append(keep, s.line)
	}
	if len(keep) == len(lines) {
		return content, false
	}
	return strings.Join(keep, "\n"), true
}

func hashLine(line string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(line))
	return h.Sum64()
}

// BuildSystemPrompt concatenates the static base prompt, a configuration
// awareness block, and the instruction-file stack, then records the result
// under component SystemPrompt with label base_system_<retryAttempts>.
func (cm *ContextManager) BuildSystemPrompt(ctx context.Context, awareness PolicyAwareness, retryAttempts int) (string, error) {
	var b strings.Builder
	b.WriteString(cm.baseSystemPrompt)
	b.WriteString("\n\n")
	b.WriteString(renderAwarenessBlock(awareness))

	for _, doc := range cm.instructionDocs {
		content := doc.Content
		if doc.CapBytes > 0 && len(content) > doc.CapBytes {
			content = content[:doc.CapBytes]
		}
		if content == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(content)
	}

	prompt := b.String()

	if cm.budgetEnabled && cm.budget != nil {
		label := fmt.Sprintf("base_system_%d", retryAttempts)
		cm.budget.CountTokensForComponent(prompt, ComponentSystemPrompt, label)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	return prompt, nil
}

func renderAwarenessBlock(a PolicyAwareness) string {
	return fmt.Sprintf(
		"## Runtime configuration\n- allow rules: %d\n- deny rules: %d\n- PTY sessions: %s\n- human-in-the-loop: %s",
		a.AllowCount, a.DenyCount, enabledLabel(a.PTYEnabled), enabledLabel(a.HITL),
	)
}

func enabledLabel(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
