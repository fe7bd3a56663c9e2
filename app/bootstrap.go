package app

import (
	"context"
	"vtcode/config"
	"vtcode/core"
	"vtcode/core/provider"
	"vtcode/engine/maintenance"
	enginepolicy "vtcode/engine/policy"
	"vtcode/engine/vfs"
	"vtcode/internal/contextmgr"
	"vtcode/internal/logging"
	"vtcode/internal/metrics"
	"vtcode/internal/patch"
	gate "vtcode/internal/policy"
	"vtcode/internal/pty"
	"vtcode/internal/registry"
	"vtcode/internal/rpcagent"
	"vtcode/internal/runloop"
	"vtcode/providers/bedrock"
	"vtcode/ui"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bootstrap creates and wires all application dependencies.
// Each phase is separate for testability.
func Bootstrap(ctx context.Context) (*Application, error) {
	// 0. Build the process-wide logger and metrics recorder first, so every
	// later phase can log through the logger rather than os.Stderr. The
	// recorder is only exposed as Application.Metrics; no phase records into it.
	logger, err := logging.New(logging.Config{Mode: logging.ModeConsole})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	recorder := metrics.New()

	// 1. Load configuration
	cfg, warnings, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	for _, w := range warnings {
		logger.Warn("config warning", zap.String("detail", w))
	}

	// 1.5. Clean up old session data
	cleanupOpts := maintenance.CleanupOptions{
		VTCodeDir:   cfg.VTCodeDir,
		SessionsDir: cfg.SessionsDir,
		MaxAge:      30 * 24 * time.Hour,
		DryRun:      false,
	}
	cleanupResult, err := maintenance.CleanupSessionData(cleanupOpts)
	if err != nil {
		logger.Warn("session cleanup failed", zap.Error(err))
	} else if len(cleanupResult.Errors) > 0 {
		for _, e := range cleanupResult.Errors {
			logger.Warn("cleanup error", zap.String("detail", e))
		}
	} else if cleanupResult.DeletedAuditFiles > 0 || cleanupResult.DeletedSnapshotDirs > 0 || cleanupResult.DeletedSessionFiles > 0 {
		// Only log if something was actually deleted (reduce noise)
		totalDeleted := cleanupResult.DeletedAuditFiles + cleanupResult.DeletedSnapshotDirs + cleanupResult.DeletedSessionFiles
		logger.Info("cleaned up old session data", zap.Int("deleted", totalDeleted))
	}

	// 2. Initialize currency formatter
	currencyFormatter, err := setupCurrencyFormatter(ctx, cfg)
	if err != nil {
		logger.Warn("currency setup failed, falling back to USD", zap.Error(err))
		currencyFormatter = core.DefaultCurrencyFormatter()
	}

	// 3. Initialize LLM provider
	llmProvider, err := setupProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing provider: %w", err)
	}

	// 4. Set up UI and notifier
	scaffold := ui.NewScaffold()
	notifier := scaffold.GetNotifier()

	// 5. Create pricing tracker with UI callbacks
	tracker := setupTracker(notifier, currencyFormatter)

	// 6. Create core session (registry, Policy Gate, Run-Loop Driver, adapter, snapshotter)
	sr, err := setupSession(ctx, cfg, llmProvider, tracker, notifier, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing session: %w", err)
	}

	// Build restore function for Changelog UI.
	var restoreFunc ui.RestoreFunc
	if sr.snapshotter != nil {
		snap := sr.snapshotter
		restoreFunc = func(interactionID string) tea.Cmd {
			return func() tea.Msg {
				paths, err := snap.RestoreInteraction(interactionID)
				if err != nil {
					return ui.ChangelogRestoreResultMsg{
						InteractionID: interactionID,
						Success:       false,
						Message:       err.Error(),
					}
				}
				return ui.ChangelogRestoreResultMsg{
					InteractionID: interactionID,
					Success:       true,
					Message:       fmt.Sprintf("Restored %d file(s)", len(paths)),
				}
			}
		}
	}

	// 7. Configure UI pages
	if err := configureUI(scaffold, sr.session, sr.tools, cfg.DefaultModel, restoreFunc); err != nil {
		return nil, fmt.Errorf("configuring UI: %w", err)
	}

	// 8. Create Bubble Tea program
	program := setupProgram(scaffold, notifier, sr.session)

	return &Application{
		Config:            cfg,
		Session:           sr.session,
		Scaffold:          scaffold,
		Program:           program,
		CurrencyFormatter: currencyFormatter,
		Tracker:           tracker,
		Logger:            logger,
		Metrics:           recorder,
	}, nil
}

// loadConfig loads configuration from disk and ensures directories exist.
func loadConfig() (config.Config, []string, error) {
	cfg, warnings, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, warnings, nil
}

// setupCurrencyFormatter initializes currency conversion if needed.
// Makes up to 3 attempts, waiting with exponential backoff (1s, 2s, 4s)
// after each failed one, before returning an error that triggers fallback
// to USD.
func setupCurrencyFormatter(ctx context.Context, cfg config.Config) (*core.CurrencyFormatter, error) {
	if cfg.Currency == "USD" {
		return core.DefaultCurrencyFormatter(), nil
	}

	engine := core.NewCurrencyEngine(&http.Client{})

	var lastErr error
	for attempt := range 3 {
		rate, err := engine.FetchRate(ctx, "USD", cfg.Currency)
		if err == nil {
			symbol := core.CurrencySymbol(cfg.Currency)
			return core.NewCurrencyFormatter(cfg.Currency, symbol, rate), nil
		}
		lastErr = err

		// Exponential backoff: 1s, 2s, 4s
		backoff := time.Duration(1<<attempt) * time.Second
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("currency fetch cancelled: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("currency fetch failed after 3 attempts: %w", lastErr)
}

// setupProvider initializes the LLM provider (currently Bedrock).
func setupProvider(ctx context.Context, cfg config.Config) (provider.Provider, error) {
	pricingCfg := provider.PricingConfig{
		Enabled:  cfg.PricingEnabled,
		CacheDir: cfg.PricingCacheDir,
		CacheTTL: cfg.PricingCacheTTL,
	}
	return bedrock.NewBedrock(ctx, cfg.AWSRegion, cfg.AWSProfile, pricingCfg)
}

// setupTracker creates a pricing tracker with UI update callbacks.
func setupTracker(notifier *ui.Notifier, formatter *core.CurrencyFormatter) *core.Tracker {
	return core.NewTracker(
		func(snap core.CostSnapshot) {
			notifier.Send(ui.StatusItemUpdateMsg{
				Key:   "tokens",
				Value: snap.FormatTokens(),
			})
			notifier.Send(ui.StatusItemUpdateMsg{
				Key:   "cost",
				Value: snap.FormatCost(),
			})
		},
		formatter,
	)
}

// setupSessionResult contains everything produced by setupSession.
type setupSessionResult struct {
	session     *core.Session
	tools       []provider.ToolDefinition
	snapshotter *vfs.Snapshotter
}

// setupSession wires the Agent Run-Loop for one conversation: the Tool
// Registry and its native tool set, the Policy Gate guarding shell
// execution, the Context Manager, and the Run-Loop Driver itself, then
// wraps the Driver in a Session for the TUI's background message intake,
// usage tracking, and auto-compaction.
func setupSession(
	_ context.Context,
	cfg config.Config,
	llmProvider provider.Provider,
	tracker *core.Tracker,
	notifier *ui.Notifier,
	logger *zap.Logger,
) (*setupSessionResult, error) {
	adapter := &coreNotifierAdapter{ui: notifier}

	sessionID := uuid.New().String()
	vtcodeDir := cfg.VTCodeDir
	if vtcodeDir == "" {
		vtcodeDir = ".vtcode"
	}

	auditLogger, err := enginepolicy.NewAuditLogger(sessionID, vtcodeDir)
	if err != nil {
		logger.Warn("audit logger init failed", zap.Error(err))
		auditLogger = nil
	}

	workspaceRoot, err := os.Getwd()
	if err != nil {
		workspaceRoot = "."
	}

	// Create VFS snapshotter for file rollback; every write/delete tool
	// routes through it via vfsSnapshotAdapter so the changelog and
	// session-restore feature see it regardless of which tool wrote.
	snapshotter, err := vfs.NewSnapshotter(vtcodeDir, sessionID, logger)
	if err != nil {
		logger.Warn("snapshotter init failed", zap.Error(err))
		snapshotter = nil
	}
	var snapAdapter *vfsSnapshotAdapter
	if snapshotter != nil {
		snapAdapter = &vfsSnapshotAdapter{snapshotter: snapshotter, notifier: adapter, agentName: "run_loop"}
	}

	// Policy Gate: workspace trust, command resolution, and allow/deny
	// matching, consulted only for tools that invoke a shell command.
	trust := gate.NewWorkspaceTrust(filepath.Join(vtcodeDir, "workspace_trust.json"), logger)
	resolver := gate.NewCommandResolver(logger)
	policyGate := gate.NewGate(trust, resolver, gate.GateConfig{
		AllowCommands: cfg.AllowCommands,
		DenyCommands:  cfg.DenyCommands,
	}, logger)
	checker := gate.NewGateChecker(policyGate, workspaceRoot, []string{ShellToolName}, logger)

	reg := registry.New(registry.WithPolicyChecker(checker), registry.WithLogger(logger))

	sandboxRoot := cfg.SandboxDir
	if sandboxRoot == "" {
		sandboxRoot = filepath.Join(vtcodeDir, "sandbox")
	}

	deps := &toolDeps{
		workspaceRoot: workspaceRoot,
		registry:      reg,
		snapshots:     snapAdapter,
		applicator:    patch.NewApplicator(workspaceRoot, snapAdapter, "run_loop"),
		sandboxRoot:   sandboxRoot,
		ptyManager:    pty.NewManager(time.Duration(cfg.PTYTimeoutSeconds)*time.Second, logger),
		rpcClient:     rpcagent.NewClient(sessionID, time.Duration(cfg.RPCTimeoutSeconds)*time.Second),
		shellTimeout:  time.Duration(cfg.ShellTimeoutSeconds) * time.Second,
		logger:        logger,
	}
	if err := reg.Register(deps.buildTools()...); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	// Context Manager: per-session trim config, sourced from the same
	// defaults a future policy.json override could replace.
	budget := contextmgr.NewTokenBudget(cfg.MaxTokens, contextmgr.EstimateTokens)
	trimCfg := contextmgr.ContextTrimConfig{
		MaxTokens:                cfg.MaxTokens,
		PreserveRecentTurns:      cfg.PreserveRecentTurns,
		SemanticCompression:      cfg.SemanticCompression,
		AggressiveThresholdRatio: cfg.AggressiveThresholdRatio,
		PerToolResponseCapBytes:  cfg.PerToolResponseCapBytes,
	}
	systemPrompt := "You are a helpful coding assistant with access to tools."
	contextMgr := contextmgr.NewContextManager(systemPrompt, trimCfg, budget, true, contextmgr.LineScorer{}, logger)

	awareness := contextmgr.PolicyAwareness{
		AllowCount: len(cfg.AllowCommands),
		DenyCount:  len(cfg.DenyCommands),
		PTYEnabled: true,
		HITL:       cfg.PermissionTimeout > 0,
	}

	// The driver's notifier is wired to the session itself once NewSession
	// constructs it (core.NewSession calls driver.SetNotifier), since the
	// session's Send method audit-logs tool results before forwarding to the
	// UI adapter.
	driver := runloop.New(
		llmProvider,
		contextMgr,
		reg,
		nil,
		cfg.DefaultModel,
		cfg.MaxTokens,
		runloop.RetryConfig{MaxRetries: cfg.MaxRetries},
		registry.CapabilityNetwork,
		logger,
	)

	session := core.NewSession(sessionID, driver, llmProvider, tracker, adapter, cfg.DefaultModel, auditLogger, awareness)

	toolDefs := reg.VisibleDefinitions(registry.CapabilityNetwork)
	tools := make([]provider.ToolDefinition, len(toolDefs))
	for i, d := range toolDefs {
		tools[i] = provider.ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
	}

	return &setupSessionResult{
		session:     session,
		tools:       tools,
		snapshotter: snapshotter,
	}, nil
}

// configureUI sets up scaffold pages and status bar items.
func configureUI(scaffold *ui.Scaffold, session *core.Session, tools []provider.ToolDefinition, model string, restoreFunc ui.RestoreFunc) error {
	// Get current directory for status bar
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "unknown"
	} else {
		currentDir = filepath.Base(currentDir)
	}

	ui.ConfigureDefaultScaffold(scaffold, currentDir, model)

	// Convert core tools to UI tools
	uiTools := make([]ui.Tool, len(tools))
	for i, t := range tools {
		uiTools[i] = ui.Tool{Name: t.Name, Description: t.Description}
	}

	ui.AddDefaultPages(scaffold, session, uiTools, restoreFunc)
	return nil
}

// setupProgram creates the Bubble Tea program with correct screen mode.
func setupProgram(scaffold *ui.Scaffold, notifier *ui.Notifier, session *core.Session) *tea.Program {
	app := ui.NewApp(scaffold, ui.AppConfig{
		Placeholder:        "Type your message here...",
		CharLimit:          0, // unlimited
		CompletionProvider: session,
	})

	// IMPORTANT: DO NOT use tea.WithAltScreen()!
	// We intentionally run in the primary screen buffer (not alternate screen) so that:
	// 1. All output (splash, messages, responses) goes to stdout and persists in terminal history
	// 2. Users can scroll the terminal (iTerm, etc.) to see past messages, the welcome logo, etc.
	// 3. The chat history is preserved in the terminal's scrollback buffer
	// Using tea.WithAltScreen() would put the app in an isolated alternate screen buffer
	// with no scrollback history, blocking access to previous content.
	program := tea.NewProgram(app, tea.WithMouseCellMotion())
	notifier.SetProgram(program)

	return program
}
