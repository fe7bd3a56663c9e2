package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// GateChecker adapts a Gate to the Tool Registry's PolicyChecker contract.
// It only consults the Gate for tools that actually invoke a shell command;
// every other tool passes through unconditionally, matching the Gate's own
// documented scope.
type GateChecker struct {
	gate       *Gate
	workspace  string
	shellTools map[string]bool
	logger     *zap.Logger
}

// NewGateChecker builds a GateChecker. shellTools names the registry tools
// whose args carry a "command" field the Gate must evaluate before dispatch
// (e.g. "run_command"); all other tool names are allowed without a Gate call.
func NewGateChecker(gate *Gate, workspace string, shellTools []string, logger *zap.Logger) *GateChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make(map[string]bool, len(shellTools))
	for _, name := range shellTools {
		set[name] = true
	}
	return &GateChecker{gate: gate, workspace: workspace, shellTools: set, logger: logger}
}

// Allow implements registry.PolicyChecker.
func (c *GateChecker) Allow(_ context.Context, toolName string, args json.RawMessage) error {
	if !c.shellTools[toolName] {
		return nil
	}

	var payload struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Errorf("policy gate: tool %q args: %w", toolName, err)
	}

	decision, err := c.gate.Evaluate(c.workspace, payload.Command)
	if err != nil {
		return fmt.Errorf("policy gate: %w", err)
	}
	if !decision.Allowed {
		c.logger.Info("policy gate denied command",
			zap.String("tool", toolName),
			zap.String("command", payload.Command),
			zap.String("reason", decision.Reason),
		)
		return fmt.Errorf("%s", decision.Reason)
	}
	return nil
}
