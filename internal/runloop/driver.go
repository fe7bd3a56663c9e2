// Package runloop implements the Run-Loop Driver: it owns one session's
// conversation history, budget, and trim configuration, and drives turns to
// completion by alternating calls to the LLM provider with tool dispatch
// through the Policy Gate and Tool Registry.
package runloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"vtcode/core/provider"
	"vtcode/internal/contextmgr"
	"vtcode/internal/registry"
)

// TerminationReason identifies why RunTurn stopped driving the loop.
type TerminationReason int

const (
	Completed TerminationReason = iota
	BudgetExceeded
	RetryExhausted
	PolicyFatal
	Cancelled
)

func (r TerminationReason) String() string {
	switch r {
	case Completed:
		return "completed"
	case BudgetExceeded:
		return "budget_exceeded"
	case RetryExhausted:
		return "retry_exhausted"
	case PolicyFatal:
		return "policy_fatal"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ExitCode maps a TerminationReason to the driver's process exit code
// when run as a CLI: 0 success, 2 budget exceeded, 3 policy fatal,
// 4 retries exhausted, 130 cancelled.
func (r TerminationReason) ExitCode() int {
	switch r {
	case Completed:
		return 0
	case BudgetExceeded:
		return 2
	case PolicyFatal:
		return 3
	case RetryExhausted:
		return 4
	case Cancelled:
		return 130
	default:
		return 1
	}
}

// PolicyFatalError wraps a non-recoverable policy failure (trust record
// corruption, missing sandbox enforcement) that must abort the loop rather
// than be reported as a normal tool-result error.
type PolicyFatalError struct{ Err error }

func (e *PolicyFatalError) Error() string { return fmt.Sprintf("runloop: policy fatal: %v", e.Err) }
func (e *PolicyFatalError) Unwrap() error { return e.Err }

// RetryConfig bounds the exponential backoff applied to transient provider
// errors.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func (c RetryConfig) normalize() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	return c
}

// Driver drives one conversation to completion, owning its history, budget,
// and trim configuration. It is not safe for concurrent use — matching the
// single-goroutine run-loop described by the scheduling model.
type Driver struct {
	provider  provider.Provider
	contextMgr *contextmgr.ContextManager
	registry  *registry.Registry
	notifier  Notifier
	model     string
	maxTokens int
	retry     RetryConfig
	capability registry.Capability
	logger    *zap.Logger

	history   []provider.Message
	turnIndex int

	usageHook func(*provider.Usage)
}

// SetUsageHook installs a callback invoked with each provider response's
// usage once a turn's streaming completes. Used by callers that track
// token spend or cost outside the driver (e.g. pricing, context-percentage
// UI updates); nil by default, in which case usage is simply discarded.
func (d *Driver) SetUsageHook(fn func(*provider.Usage)) {
	d.usageHook = fn
}

// SetNotifier replaces the driver's event sink after construction. Needed
// when the real notifier wraps the driver itself (e.g. a session that
// audit-logs tool results before forwarding to the UI) and so cannot exist
// until after New returns.
func (d *Driver) SetNotifier(n Notifier) {
	d.notifier = n
}

// New builds a Driver from its collaborators. notifier may be nil, in which
// case events are dropped.
func New(
	prov provider.Provider,
	contextMgr *contextmgr.ContextManager,
	reg *registry.Registry,
	notifier Notifier,
	model string,
	maxTokens int,
	retry RetryConfig,
	capability registry.Capability,
	logger *zap.Logger,
) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		provider:   prov,
		contextMgr: contextMgr,
		registry:   reg,
		notifier:   notifier,
		model:      model,
		maxTokens:  maxTokens,
		retry:      retry.normalize(),
		capability: capability,
		logger:     logger,
		history:    []provider.Message{},
	}
}

// History returns a copy of the current conversation history.
func (d *Driver) History() []provider.Message {
	return append([]provider.Message(nil), d.history...)
}

func (d *Driver) emit(msg any) {
	if d.notifier != nil {
		d.notifier.Send(msg)
	}
}

// RunTurn drives one user message through the loop described in §4.8:
// enforce the context window, call the provider (with retry), dispatch any
// tool calls in order, and repeat until the model stops requesting tools or
// a terminal condition is reached.
func (d *Driver) RunTurn(ctx context.Context, userText string, awareness contextmgr.PolicyAwareness) (TerminationReason, error) {
	d.turnIndex++
	d.emit(TurnStartedEvent{TurnIndex: d.turnIndex})

	d.history = append(d.history, provider.Message{Role: provider.RoleUser, Content: userText})

	systemPrompt, err := d.contextMgr.BuildSystemPrompt(ctx, awareness, 0)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			d.emit(TurnCompletedEvent{Reason: Cancelled.String()})
			return Cancelled, err
		}
		return PolicyFatal, err
	}

	for {
		select {
		case <-ctx.Done():
			d.emit(TurnCompletedEvent{Reason: Cancelled.String()})
			return Cancelled, ctx.Err()
		default:
		}

		if _, trimErr := d.contextMgr.EnforceContextWindow(&d.history); trimErr != nil {
			var budgetErr *contextmgr.ErrBudgetExceeded
			if errors.As(trimErr, &budgetErr) {
				d.emit(TurnCompletedEvent{Reason: BudgetExceeded.String()})
				return BudgetExceeded, trimErr
			}
			return PolicyFatal, trimErr
		}

		reply, usage, stopReason, err := d.sendWithRetry(ctx, systemPrompt)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				d.emit(TurnCompletedEvent{Reason: Cancelled.String()})
				return Cancelled, err
			}
			d.emit(TurnCompletedEvent{Reason: RetryExhausted.String()})
			return RetryExhausted, err
		}
		if d.usageHook != nil {
			d.usageHook(usage)
		}

		d.history = append(d.history, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   reply.text,
			ToolCalls: reply.toolCalls,
		})

		if stopReason != "tool_use" || len(reply.toolCalls) == 0 {
			d.emit(TurnCompletedEvent{Reason: Completed.String()})
			return Completed, nil
		}

		toolResults, fatalErr := d.dispatchToolCalls(ctx, reply.toolCalls)
		if fatalErr != nil {
			var policyFatal *PolicyFatalError
			if errors.As(fatalErr, &policyFatal) {
				d.emit(TurnCompletedEvent{Reason: PolicyFatal.String()})
				return PolicyFatal, fatalErr
			}
			if errors.Is(fatalErr, context.Canceled) {
				d.emit(TurnCompletedEvent{Reason: Cancelled.String()})
				return Cancelled, fatalErr
			}
			return PolicyFatal, fatalErr
		}

		d.history = append(d.history, provider.Message{
			Role:        provider.RoleUser,
			ToolResults: toolResults,
		})
	}
}

type assistantReply struct {
	text      string
	toolCalls []provider.ToolCall
}

type pendingToolCall struct {
	id        string
	name      string
	inputJSON strings.Builder
}

// sendWithRetry sends (systemPrompt, d.history) to the provider, retrying
// transient errors with exponential backoff up to retry.MaxRetries.
func (d *Driver) sendWithRetry(ctx context.Context, systemPrompt string) (assistantReply, *provider.Usage, string, error) {
	var lastErr error
	for attempt := 0; attempt <= d.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := d.retry.BaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return assistantReply{}, nil, "", ctx.Err()
			}
		}

		reply, usage, stopReason, err := d.sendOnce(ctx, systemPrompt)
		if err == nil {
			return reply, usage, stopReason, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) {
			return assistantReply{}, nil, "", err
		}
		d.logger.Warn("provider send failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return assistantReply{}, nil, "", fmt.Errorf("runloop: exhausted %d retries: %w", d.retry.MaxRetries, lastErr)
}

func (d *Driver) sendOnce(ctx context.Context, systemPrompt string) (assistantReply, *provider.Usage, string, error) {
	req := provider.Request{
		Model:     d.model,
		System:    systemPrompt,
		Messages:  append([]provider.Message(nil), d.history...),
		Tools:     d.registry.VisibleDefinitions(d.capability),
		MaxTokens: d.maxTokens,
	}

	iter, err := d.provider.Send(ctx, req)
	if err != nil {
		return assistantReply{}, nil, "", fmt.Errorf("provider send failed: %w", err)
	}
	defer iter.Close()

	var (
		fullText   strings.Builder
		toolCalls  []provider.ToolCall
		pending    *pendingToolCall
		usage      *provider.Usage
		stopReason string
	)

	for {
		chunk, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return assistantReply{}, nil, "", fmt.Errorf("stream error: %w", err)
		}

		switch chunk.Event {
		case provider.EventTextDelta:
			fullText.WriteString(chunk.Text)
			d.emit(TokenEvent{Text: chunk.Text})
		case provider.EventToolStart:
			pending = &pendingToolCall{id: chunk.ToolCallID, name: chunk.ToolName}
		case provider.EventToolDelta:
			if pending != nil {
				pending.inputJSON.WriteString(chunk.InputDelta)
			}
		case provider.EventToolEnd:
			if pending != nil {
				var input map[string]any
				if raw := pending.inputJSON.String(); raw != "" {
					if err := json.Unmarshal([]byte(raw), &input); err != nil {
						input = map[string]any{"_raw": raw}
					}
				}
				toolCalls = append(toolCalls, provider.ToolCall{ID: pending.id, Name: pending.name, Input: input})
				pending = nil
			}
		case provider.EventMessageStop:
			usage = chunk.Usage
			stopReason = chunk.StopReason
		}
	}

	return assistantReply{text: fullText.String(), toolCalls: toolCalls}, usage, stopReason, nil
}

// dispatchToolCalls executes each tool call strictly in the order the model
// emitted it, collecting one id-linked result per call; RunTurn appends them
// to history as a single tool-result message after the last call.
// Tool-local failures are reported back to the model as {success:false,...};
// only a PolicyFatalError aborts the loop.
func (d *Driver) dispatchToolCalls(ctx context.Context, toolCalls []provider.ToolCall) ([]provider.ToolResult, error) {
	results := make([]provider.ToolResult, 0, len(toolCalls))

	for _, tc := range toolCalls {
		d.emit(ToolCallStartedEvent{ToolCallID: tc.ID, ToolName: tc.Name})

		argsJSON, marshalErr := json.Marshal(tc.Input)
		if marshalErr != nil {
			results = append(results, toolErrorResult(tc.ID, fmt.Errorf("invalid args: %w", marshalErr), "InvalidArgs"))
			continue
		}

		raw, err := d.registry.Execute(registry.WithToolCallID(ctx, tc.ID), tc.Name, argsJSON)
		if err != nil {
			var policyDenied *registry.PolicyDeniedError
			if errors.As(err, &policyDenied) {
				results = append(results, toolErrorResult(tc.ID, err, "PolicyDenied"))
				continue
			}
			var invalidArgs *registry.InvalidArgsError
			if errors.As(err, &invalidArgs) {
				results = append(results, toolErrorResult(tc.ID, err, "InvalidArgs"))
				continue
			}
			var unknownTool *registry.UnknownToolError
			if errors.As(err, &unknownTool) {
				results = append(results, toolErrorResult(tc.ID, err, "InvalidArgs"))
				continue
			}
			results = append(results, toolErrorResult(tc.ID, err, "Internal"))
			continue
		}

		content := string(raw)
		results = append(results, provider.ToolResult{ToolUseID: tc.ID, Content: content})

		d.emit(ToolResultEvent{ToolCallID: tc.ID, ToolName: tc.Name, Result: content})
	}

	return results, nil
}

func toolErrorResult(toolUseID string, err error, kind string) provider.ToolResult {
	payload, marshalErr := json.Marshal(map[string]any{
		"success": false,
		"error":   err.Error(),
		"kind":    kind,
	})
	if marshalErr != nil {
		payload = []byte(fmt.Sprintf(`{"success":false,"error":%q,"kind":%q}`, err.Error(), kind))
	}
	return provider.ToolResult{ToolUseID: toolUseID, Content: string(payload), IsError: true}
}
