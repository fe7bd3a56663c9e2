// Package policy implements the Policy Gate: the three sub-decisions that
// must all allow a shell-invoking tool call before it executes — workspace
// trust, command resolution, and allow/deny matching. The richer per-tool
// capability evaluator (engine/policy) backs the Tool Registry's visibility
// filtering separately; this package is the gate a Run-Loop Driver consults
// immediately before dispatching a command.
package policy

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// GateDecision is the combined outcome of all three Policy Gate sub-decisions.
type GateDecision struct {
	Allowed     bool
	Reason      string
	TrustLevel  TrustLevel
	Resolution  CommandResolution
}

// GateConfig carries the config-driven allow/deny lists consulted by the
// third sub-decision.
type GateConfig struct {
	AllowCommands []string
	DenyCommands  []string
}

// Gate combines workspace trust, command resolution, and allow/deny
// matching into a single AND'd decision for shell-invoking tool calls.
type Gate struct {
	trust    *WorkspaceTrust
	resolver *CommandResolver
	cfg      GateConfig
	logger   *zap.Logger
}

// NewGate builds a Gate from its three collaborators.
func NewGate(trust *WorkspaceTrust, resolver *CommandResolver, cfg GateConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{trust: trust, resolver: resolver, cfg: cfg, logger: logger}
}

// Evaluate runs the three sub-decisions in order, short-circuiting on the
// first denial, for a shell invocation about to run in workspace.
func (g *Gate) Evaluate(workspace, command string) (GateDecision, error) {
	trustResult, err := g.trust.EnsureTrust(workspace)
	if err != nil {
		return GateDecision{}, fmt.Errorf("policy gate: workspace trust: %w", err)
	}

	resolution := g.resolver.Resolve(command)
	if dangerous, reason := isDangerousCommand(resolution.Command, command); dangerous {
		return GateDecision{Allowed: false, Reason: reason, TrustLevel: trustResult.Level, Resolution: resolution}, nil
	}
	if !resolution.Found {
		g.logger.Warn("command not found on PATH; allowing with warning", zap.String("command", resolution.Command))
	}

	if denied, pattern := matchesAny(g.cfg.DenyCommands, resolution.Command); denied {
		return GateDecision{
			Allowed:    false,
			Reason:     fmt.Sprintf("command %q matches deny rule %q", resolution.Command, pattern),
			TrustLevel: trustResult.Level,
			Resolution: resolution,
		}, nil
	}

	if len(g.cfg.AllowCommands) > 0 {
		if allowed, _ := matchesAny(g.cfg.AllowCommands, resolution.Command); !allowed {
			if trustResult.Level != TrustFullAuto {
				return GateDecision{
					Allowed:    false,
					Reason:     fmt.Sprintf("command %q is not in the allow list", resolution.Command),
					TrustLevel: trustResult.Level,
					Resolution: resolution,
				}, nil
			}
		}
	}

	return GateDecision{Allowed: true, TrustLevel: trustResult.Level, Resolution: resolution}, nil
}

func matchesAny(patterns []string, command string) (bool, string) {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, command)
		if err == nil && ok {
			return true, pattern
		}
		if pattern == command {
			return true, pattern
		}
	}
	return false, ""
}
