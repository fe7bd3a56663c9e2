package policy

import (
	"path/filepath"
	"testing"
)

func testGate(t *testing.T, cfg GateConfig) *Gate {
	t.Helper()
	dir := t.TempDir()
	trust := NewWorkspaceTrust(filepath.Join(dir, "workspace_trust.json"), nil)
	resolver := NewCommandResolver(nil)
	return NewGate(trust, resolver, cfg, nil)
}

func TestGateAllowsFirstVisitAsFullAuto(t *testing.T) {
	gate := testGate(t, GateConfig{})
	ws := t.TempDir()

	decision, err := gate.Evaluate(ws, "echo hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("want allowed on first visit, got denied: %s", decision.Reason)
	}
	if decision.TrustLevel != TrustFullAuto {
		t.Fatalf("want TrustFullAuto on first visit, got %v", decision.TrustLevel)
	}
}

func TestGateDeniesDangerousCommandName(t *testing.T) {
	gate := testGate(t, GateConfig{})
	ws := t.TempDir()

	decision, err := gate.Evaluate(ws, "rm -rf somedir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("want denied for rm, got allowed")
	}
}

func TestGateDeniesDangerousPattern(t *testing.T) {
	gate := testGate(t, GateConfig{})
	ws := t.TempDir()

	decision, err := gate.Evaluate(ws, "sudo rm -rf /var/lib")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("want denied for sudo rm pattern, got allowed")
	}
}

func TestGateDenyListWinsOverAllowList(t *testing.T) {
	gate := testGate(t, GateConfig{
		AllowCommands: []string{"git"},
		DenyCommands:  []string{"git"},
	})
	ws := t.TempDir()

	decision, err := gate.Evaluate(ws, "git status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("want deny to win over allow, got allowed")
	}
}

func TestGateUnmatchedCommandFallsThroughToFullAutoDefault(t *testing.T) {
	gate := testGate(t, GateConfig{AllowCommands: []string{"git"}})
	ws := t.TempDir()

	decision, err := gate.Evaluate(ws, "cat file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("want FullAuto workspace to allow unmatched commands, got denied: %s", decision.Reason)
	}
}

func TestWorkspaceTrustNeverSilentlyDowngrades(t *testing.T) {
	dir := t.TempDir()
	trust := NewWorkspaceTrust(filepath.Join(dir, "workspace_trust.json"), nil)
	ws := t.TempDir()

	if _, err := trust.EnsureTrust(ws); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := trust.SyncLevel(ws, TrustToolsPolicy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != SyncSkippedDowngrade {
		t.Fatalf("want SyncSkippedDowngrade, got %v", outcome)
	}

	level, ok, err := trust.Level(ws)
	if err != nil || !ok {
		t.Fatalf("want trust level recorded, err=%v ok=%v", err, ok)
	}
	if level != TrustFullAuto {
		t.Fatalf("want level to remain FullAuto after skipped downgrade, got %v", level)
	}
}

func TestCommandResolverCachesLookups(t *testing.T) {
	resolver := NewCommandResolver(nil)
	resolver.Resolve("ls")
	resolver.Resolve("ls -la")

	hits, misses := resolver.CacheStats()
	if hits != 1 || misses != 1 {
		t.Fatalf("want 1 hit and 1 miss after resolving the same base command twice, got hits=%d misses=%d", hits, misses)
	}
}

func TestCommandResolverExtractsBaseCommand(t *testing.T) {
	resolver := NewCommandResolver(nil)
	resolution := resolver.Resolve("git commit -m test")
	if resolution.Command != "git" {
		t.Fatalf("want base command %q, got %q", "git", resolution.Command)
	}
}

func TestCommandResolverReportsNotFound(t *testing.T) {
	resolver := NewCommandResolver(nil)
	resolution := resolver.Resolve("this_command_definitely_does_not_exist_xyz")
	if resolution.Found {
		t.Fatalf("want Found=false for a nonexistent command")
	}
}
