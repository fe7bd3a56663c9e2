package runloop

// Notifier receives framework-agnostic events emitted while a turn runs.
// core.Session satisfies this structurally (it only needs a Send(any)
// method), so the driver never has to import the core package, which in
// turn depends on runloop for the Driver type itself.
type Notifier interface {
	Send(msg any)
}

// TurnStartedEvent signals the driver has begun a new turn for a user
// message.
type TurnStartedEvent struct {
	TurnIndex int
}

// ToolCallStartedEvent signals a tool call is about to be handed to the
// dispatcher, before the registry runs schema validation and the policy gate.
type ToolCallStartedEvent struct {
	ToolCallID string
	ToolName   string
}

// TurnCompletedEvent signals a turn ended, successfully or not, and why.
type TurnCompletedEvent struct {
	Reason string // one of TerminationReason's String() values
}

// TokenEvent carries a single token delta from LLM streaming.
type TokenEvent struct{ Text string }

// ToolResultEvent carries the result of one dispatched tool call.
type ToolResultEvent struct {
	ToolCallID string
	ToolName   string
	Result     string
	IsError    bool
}
