package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all VT Code configuration values.
type Config struct {
	AWSRegion    string `toml:"aws_region"`
	AWSProfile   string `toml:"aws_profile"`
	DefaultModel string `toml:"default_model"`

	VTCodeDir   string `toml:"vtcode_dir"`
	SessionsDir string `toml:"sessions_dir"`
	AgentsDir   string `toml:"agents_dir"`
	SandboxDir  string `toml:"sandbox_dir"`

	// Pricing configuration
	PricingCacheDir string `toml:"pricing_cache_dir"`
	PricingCacheTTL int    `toml:"pricing_cache_ttl"`
	PricingEnabled  bool   `toml:"pricing_enabled"`

	// Display currency (ISO 4217 code). Provider pricing is always USD;
	// this controls the display currency with conversion via Frankfurter API.
	Currency string `toml:"currency"`

	// Permission timeout (seconds). How long to wait for user response to
	// permission prompts before applying the default decision.
	PermissionTimeout int `toml:"permission_timeout"`

	// Context Manager defaults. Per-session trim configs may override these.
	MaxTokens               int     `toml:"max_tokens"`
	PreserveRecentTurns     int     `toml:"preserve_recent_turns"`
	SemanticCompression     bool    `toml:"semantic_compression"`
	AggressiveThresholdRatio float64 `toml:"aggressive_threshold_ratio"`
	PerToolResponseCapBytes int     `toml:"per_tool_response_cap_bytes"`

	// Policy Gate allow/deny lists, by base command.
	AllowCommands []string `toml:"allow_commands"`
	DenyCommands  []string `toml:"deny_commands"`

	// Run-loop retry behavior.
	MaxRetries int `toml:"max_retries"`

	// Timeouts (seconds), matching the concurrency model's bounded operations.
	ShellTimeoutSeconds   int `toml:"shell_timeout_seconds"`
	PTYTimeoutSeconds     int `toml:"pty_timeout_seconds"`
	HTTPTimeoutSeconds    int `toml:"http_timeout_seconds"`
	SandboxTimeoutSeconds int `toml:"sandbox_timeout_seconds"`
	RPCTimeoutSeconds     int `toml:"rpc_timeout_seconds"`

	// Project-local paths — not TOML-configurable.
	// These are intentionally relative (to the project working directory).
	AuditFile      string        `toml:"-"`
	PolicyFile     string        `toml:"-"`
	MaxToolTimeout time.Duration `toml:"-"`
}

// DefaultConfig returns a Config with all defaults populated.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	vtcodeDir := filepath.Join(home, ".vtcode")

	return Config{
		AWSRegion:    "us-east-1",
		AWSProfile:   "",
		DefaultModel: "us.anthropic.claude-3-5-sonnet-20241022-v2:0",

		VTCodeDir:   vtcodeDir,
		SessionsDir: filepath.Join(vtcodeDir, "sessions"),
		AgentsDir:   filepath.Join(vtcodeDir, "agents"),
		SandboxDir:  filepath.Join(vtcodeDir, "sandbox"),

		PricingCacheDir: filepath.Join(vtcodeDir, "cache", "pricing"),
		PricingCacheTTL: 168, // 1 week in hours
		PricingEnabled:  true,
		Currency:        "USD",

		PermissionTimeout: 30, // seconds

		MaxTokens:                128000,
		PreserveRecentTurns:      4,
		SemanticCompression:      true,
		AggressiveThresholdRatio: 0.90,
		PerToolResponseCapBytes:  8192,

		AllowCommands: nil,
		DenyCommands:  nil,

		MaxRetries: 3,

		ShellTimeoutSeconds:   30,
		PTYTimeoutSeconds:     300,
		HTTPTimeoutSeconds:    30,
		SandboxTimeoutSeconds: 30,
		RPCTimeoutSeconds:     30,

		// AuditFile documents the pattern - actual files are per-session: audit-<session-id>.jsonl
		AuditFile:      filepath.Join(".vtcode", "audit-{session-id}.jsonl"),
		PolicyFile:     filepath.Join(".vtcode", "policy.json"),
		MaxToolTimeout: 5 * time.Minute,
	}
}

// ConfigFilePath returns the path to the config file inside VTCodeDir.
func (c Config) ConfigFilePath() string {
	return filepath.Join(c.VTCodeDir, "config.toml")
}

// Load loads configuration from the default location (~/.vtcode/config.toml),
// falling back to defaults if the file does not exist.
// Warnings are returned for unrecognized TOML keys (likely typos).
func Load() (Config, []string, error) {
	defaults := DefaultConfig()
	return LoadFrom(defaults.ConfigFilePath(), defaults)
}

// LoadFrom loads configuration from the given path, overlaying TOML values
// onto the provided defaults. If the file does not exist, defaults are returned
// without error (first-run case). If the file exists but is malformed, an error
// is returned. Warnings are returned for unrecognized TOML keys.
func LoadFrom(path string, defaults Config) (Config, []string, error) {
	cfg := defaults

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil, nil
		}
		return Config{}, nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	// If vtcode_dir was overridden but sub-dirs were not, re-derive them.
	if meta.IsDefined("vtcode_dir") {
		if !meta.IsDefined("sessions_dir") {
			cfg.SessionsDir = filepath.Join(cfg.VTCodeDir, "sessions")
		}
		if !meta.IsDefined("agents_dir") {
			cfg.AgentsDir = filepath.Join(cfg.VTCodeDir, "agents")
		}
		if !meta.IsDefined("sandbox_dir") {
			cfg.SandboxDir = filepath.Join(cfg.VTCodeDir, "sandbox")
		}
		if !meta.IsDefined("pricing_cache_dir") {
			cfg.PricingCacheDir = filepath.Join(cfg.VTCodeDir, "cache", "pricing")
		}
	}

	// Restore non-TOML fields from defaults.
	cfg.AuditFile = defaults.AuditFile
	cfg.PolicyFile = defaults.PolicyFile
	cfg.MaxToolTimeout = defaults.MaxToolTimeout

	// Warn about unrecognized keys — likely typos.
	var warnings []string
	for _, key := range meta.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("unknown config key: %s", key))
	}

	return cfg, warnings, nil
}

// EnsureDirs creates VTCodeDir, SessionsDir, AgentsDir, SandboxDir, and
// PricingCacheDir if they do not exist.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.VTCodeDir, c.SessionsDir, c.AgentsDir, c.SandboxDir, c.PricingCacheDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}
