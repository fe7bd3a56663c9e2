package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"vtcode/core/provider"
	"vtcode/engine/policy"
	"vtcode/internal/contextmgr"
	"vtcode/internal/runloop"
)

// Session manages a single conversation, delegating turn-by-turn driving to
// a Run-Loop Driver and layering on session bookkeeping the driver has no
// opinion about: background message intake, usage tracking, context-percent
// status updates, auto-compaction, and audit logging.
type Session struct {
	id        string
	createdAt time.Time

	driver      *runloop.Driver
	provider    provider.Provider
	tracker     *Tracker
	uiNotifier  Notifier
	auditLogger *policy.AuditLogger
	model       string
	awareness   contextmgr.PolicyAwareness

	mu              sync.Mutex
	warned50        bool
	autoCompactDue  bool
	cachedModelInfo *provider.ModelInfo
	modelInfoOnce   sync.Once

	userMsgChan chan string
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// Notifier interface for UI updates. The Send method accepts any event type;
// the adapter in app/adapter.go translates core events into framework-specific messages.
type Notifier interface {
	Send(msg any)
}

// NewSession creates a new conversation session driven by driver. notifier
// receives every event the driver emits, translated by Session.Send, which
// also audit-logs tool dispatch outcomes before forwarding to notifier.
func NewSession(
	sessionID string,
	driver *runloop.Driver,
	prov provider.Provider,
	tracker *Tracker,
	notifier Notifier,
	model string,
	auditLogger *policy.AuditLogger,
	awareness contextmgr.PolicyAwareness,
) *Session {
	s := &Session{
		id:          sessionID,
		createdAt:   time.Now().UTC(),
		driver:      driver,
		provider:    prov,
		tracker:     tracker,
		uiNotifier:  notifier,
		auditLogger: auditLogger,
		model:       model,
		awareness:   awareness,
		userMsgChan: make(chan string, 16), // Buffered for responsiveness
		stopChan:    make(chan struct{}),
	}
	driver.SetNotifier(s)
	driver.SetUsageHook(s.recordUsage)
	return s
}

// Send implements core.Notifier; NewSession installs the session as the
// Run-Loop Driver's notifier via SetNotifier. Every event is audit-logged
// where relevant, then forwarded to the real UI notifier.
func (s *Session) Send(msg any) {
	if ev, ok := msg.(runloop.ToolResultEvent); ok {
		s.logToolResult(ev)
	}
	if s.uiNotifier != nil {
		s.uiNotifier.Send(msg)
	}
}

// logToolResult records one dispatched tool call to the audit trail. The
// Run-Loop Driver's events don't carry the call's arguments (only its ID and
// name), so Arguments is left empty here; the registry's own audit surface
// (if a tool wants finer detail) would need to log from inside its Handler.
func (s *Session) logToolResult(ev runloop.ToolResultEvent) {
	if s.auditLogger == nil {
		return
	}
	decision := "allowed"
	errMsg := ""
	if ev.IsError {
		decision = "denied"
		errMsg = ev.Result
	}
	if err := s.auditLogger.Log(policy.AuditEntry{
		Agent:      "run_loop",
		Tool:       ev.ToolName,
		Permission: "policy_gate",
		Decision:   decision,
		Source:     "registry",
		ToolCallID: ev.ToolCallID,
		Error:      errMsg,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "vtcode: audit log failed: %v\n", err)
	}
}

// SubmitMessage queues a user message for processing.
func (s *Session) SubmitMessage(text string) {
	select {
	case s.userMsgChan <- text:
	case <-s.stopChan:
		// Session stopped, drop message
	}
}

// Start begins the background conversation loop.
func (s *Session) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop gracefully terminates the session. It is safe to call multiple times.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait() // Wait for loop and in-flight message processing to complete
		if s.auditLogger != nil {
			if err := s.auditLogger.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "vtcode: audit log close failed: %v\n", err)
			}
		}
	})
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns when the session was constructed, for session-save
// metadata.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// History returns a copy of the driver's current conversation history.
func (s *Session) History() []provider.Message {
	return s.driver.History()
}

// Completions returns slash-command completions for prefix, for the TUI's
// input box. Only the commands this session actually understands are
// offered; any other prefix yields none.
func (s *Session) Completions(prefix string) []string {
	if !strings.HasPrefix(prefix, "/") {
		return nil
	}
	var out []string
	for _, cmd := range []string{"/compact"} {
		if strings.HasPrefix(cmd, prefix) {
			out = append(out, cmd)
		}
	}
	return out
}

// loop is the main goroutine that processes user messages.
func (s *Session) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case userText := <-s.userMsgChan:
			s.wg.Add(1)
			if err := s.processUserMessage(ctx, userText); err != nil {
				s.uiNotifier.Send(ErrorEvent{Error: err.Error()})
			}
			s.wg.Done()
		}
	}
}

// processUserMessage drives one user turn to completion through the Run-Loop
// Driver, then runs deferred auto-compaction if the turn's usage crossed the
// automatic-compaction threshold.
func (s *Session) processUserMessage(ctx context.Context, text string) error {
	if text == "/compact" {
		return s.runCompaction(ctx, "manual")
	}

	reason, err := s.driver.RunTurn(ctx, text, s.awareness)
	if err != nil {
		switch reason {
		case runloop.Cancelled:
			return nil
		default:
			return err
		}
	}

	s.mu.Lock()
	due := s.autoCompactDue
	s.autoCompactDue = false
	s.mu.Unlock()

	if due {
		if err := s.runCompaction(ctx, "automatic"); err != nil {
			s.uiNotifier.Send(ErrorEvent{Error: "auto-compaction failed: " + err.Error()})
		}
	}
	return nil
}

// runCompaction drives the driver's explicit compaction and translates its
// outcome/errors into the UI's compaction event sequence.
func (s *Session) runCompaction(ctx context.Context, mode string) error {
	s.uiNotifier.Send(CompactionStartEvent{Mode: mode})
	s.uiNotifier.Send(CompactionProgressEvent{Stage: "generating_summary"})

	outcome, err := s.driver.Compact(ctx)
	if err != nil {
		s.uiNotifier.Send(CompactionFailedEvent{Error: err.Error()})
		return err
	}

	s.mu.Lock()
	s.warned50 = false
	s.mu.Unlock()

	s.uiNotifier.Send(CompactionCompleteEvent{OldTokens: outcome.OldTokens, NewTokens: outcome.NewTokens})
	return nil
}

// recordUsage is installed as the driver's usage hook. It feeds the cost
// tracker, updates the status bar's context percentage, and schedules
// automatic compaction once usage crosses 90% of the model's context window.
func (s *Session) recordUsage(usage *provider.Usage) {
	if usage == nil {
		return
	}
	modelInfo, err := s.getModelInfo()
	if err != nil || modelInfo == nil {
		return
	}

	s.tracker.Record(*modelInfo, *usage, SourcePrompt)

	pct := 0.0
	if modelInfo.ContextWindow > 0 {
		pct = float64(usage.InputTokens+usage.OutputTokens) / float64(modelInfo.ContextWindow) * 100.0
	}

	s.uiNotifier.Send(ContextUpdateEvent{Percentage: pct, ModelID: s.model})

	if pct >= 90.0 {
		s.mu.Lock()
		s.autoCompactDue = true
		s.mu.Unlock()
		s.uiNotifier.Send(ContextAutoCompactEvent{Percentage: pct, ModelID: s.model})
		return
	}
	if pct >= 50.0 {
		s.mu.Lock()
		shouldWarn := !s.warned50
		if shouldWarn {
			s.warned50 = true
		}
		s.mu.Unlock()
		if shouldWarn {
			s.uiNotifier.Send(ContextWarningEvent{Percentage: pct, Threshold: 50.0, ModelID: s.model})
		}
	}
}

// stripRegionalPrefix removes a Bedrock regional prefix (e.g. "us.", "eu.", "ap.")
// from a model ID, returning the base model ID.
func stripRegionalPrefix(modelID string) string {
	prefixes := []string{"us.", "eu.", "ap."}
	for _, p := range prefixes {
		if after, found := strings.CutPrefix(modelID, p); found {
			return after
		}
	}
	return modelID
}

// getModelInfo retrieves model info for pricing, caching the result after the
// first successful lookup to avoid repeated ListModels API calls.
func (s *Session) getModelInfo() (*provider.ModelInfo, error) {
	var fetchErr error
	s.modelInfoOnce.Do(func() {
		models, err := s.provider.ListModels(context.Background())
		if err != nil {
			fetchErr = err
			return
		}
		baseModel := stripRegionalPrefix(s.model)
		for _, m := range models {
			if m.ID == s.model || m.ID == baseModel {
				info := m
				s.cachedModelInfo = &info
				return
			}
		}
	})
	if fetchErr != nil {
		s.modelInfoOnce = sync.Once{}
		return nil, fetchErr
	}
	return s.cachedModelInfo, nil
}
