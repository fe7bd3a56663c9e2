package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ToolRequest is a request from sandboxed code to the executor, written to
// request.json in the IPC directory.
type ToolRequest struct {
	ID       string          `json:"id"`
	ToolName string          `json:"tool_name"`
	Args     json.RawMessage `json:"args"`
}

// ToolResponse is the executor's reply, written to response.json.
type ToolResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ipcPollInterval matches the reference implementation's polling cadence for
// a file-based (rather than socket- or pipe-based) IPC channel.
const ipcPollInterval = 100 * time.Millisecond

// IPCHandler mediates tool calls between sandboxed code and the executor
// via a pair of JSON files in a per-execution directory.
type IPCHandler struct {
	dir string
}

// NewIPCHandler builds a handler rooted at dir, which must already exist.
func NewIPCHandler(dir string) *IPCHandler {
	return &IPCHandler{dir: dir}
}

// NewRequestID returns a fresh UUID for a tool request.
func NewRequestID() string {
	return uuid.New().String()
}

func (h *IPCHandler) requestPath() string  { return filepath.Join(h.dir, "request.json") }
func (h *IPCHandler) responsePath() string { return filepath.Join(h.dir, "response.json") }

// ReadRequest reads and removes a pending request file, if present.
func (h *IPCHandler) ReadRequest() (*ToolRequest, error) {
	path := h.requestPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sandbox: read request file: %w", err)
	}

	var req ToolRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("sandbox: parse request json: %w", err)
	}

	_ = os.Remove(path)
	return &req, nil
}

// WriteResponse writes resp to response.json.
func (h *IPCHandler) WriteResponse(resp ToolResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("sandbox: serialize response: %w", err)
	}
	if err := os.WriteFile(h.responsePath(), data, 0o600); err != nil {
		return fmt.Errorf("sandbox: write response file: %w", err)
	}
	return nil
}

// WaitForRequest polls for a pending request every ipcPollInterval until one
// arrives, ctx is canceled, or timeout elapses. Returns (nil, nil) on timeout.
func (h *IPCHandler) WaitForRequest(ctx context.Context, timeout time.Duration) (*ToolRequest, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(ipcPollInterval)
	defer ticker.Stop()

	for {
		req, err := h.ReadRequest()
		if err != nil {
			return nil, err
		}
		if req != nil {
			return req, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
