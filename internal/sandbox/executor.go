package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	jsonResultStartMarker = "__JSON_RESULT__"
	jsonResultEndMarker   = "__END_JSON__"
)

// ToolCaller invokes a single registered tool by name, returning its JSON
// result or an error. It is the seam the Tool Registry & Dispatcher plugs
// into so sandboxed code can call real tools through the IPC channel.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (any, error)
}

// Executor runs a code snippet in a given language as a subprocess,
// generating an SDK of tool wrappers and bridging their calls back through
// file-based IPC while the subprocess runs.
type Executor struct {
	language      Language
	tools         ToolCaller
	toolSpecs     []ToolSpec
	workspaceRoot string
	config        ExecutionConfig
	logger        *zap.Logger
}

// NewExecutor builds an Executor for language, proxying tool calls to tools.
func NewExecutor(language Language, tools ToolCaller, toolSpecs []ToolSpec, workspaceRoot string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		language:      language,
		tools:         tools,
		toolSpecs:     toolSpecs,
		workspaceRoot: workspaceRoot,
		config:        DefaultExecutionConfig(),
		logger:        logger,
	}
}

// WithConfig overrides the default execution limits.
func (e *Executor) WithConfig(cfg ExecutionConfig) *Executor {
	e.config = cfg
	return e
}

// Execute runs code, returning its captured output and any JSON result
// assigned to a top-level `result` binding.
func (e *Executor) Execute(ctx context.Context, code string) (ExecutionResult, error) {
	start := time.Now()

	sdk, err := e.generateSDK()
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("sandbox: generate sdk: %w", err)
	}

	complete, err := e.prepareCode(sdk, code)
	if err != nil {
		return ExecutionResult{}, err
	}

	execDir, err := os.MkdirTemp(filepath.Join(e.workspaceRoot, ".vtcode"), "exec-")
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("sandbox: create exec dir: %w", err)
	}
	defer os.RemoveAll(execDir)

	codeFile := filepath.Join(execDir, "snippet"+e.extension())
	if err := os.WriteFile(codeFile, []byte(complete), 0o600); err != nil {
		return ExecutionResult{}, fmt.Errorf("sandbox: write code file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.language.Interpreter(), codeFile)
	cmd.Dir = e.workspaceRoot
	cmd.Env = append(os.Environ(),
		"VTCODE_WORKSPACE="+e.workspaceRoot,
		"VTCODE_IPC_DIR="+execDir,
	)

	var stdout, stderr boundedBuffer
	stdout.limit = e.config.MaxOutputBytes
	stderr.limit = e.config.MaxOutputBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	ipc := NewIPCHandler(execDir)
	ipcCtx, stopIPC := context.WithCancel(runCtx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.serveIPC(ipcCtx, ipc)
	}()

	runErr := cmd.Run()
	stopIPC()
	wg.Wait()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	result := ExecutionResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	result.JSONResult = extractJSONResult(result.Stdout)

	if runErr != nil && runCtx.Err() != nil {
		return result, fmt.Errorf("sandbox: execution timed out after %s", e.config.Timeout)
	}
	return result, nil
}

// serveIPC answers tool-call requests from the sandboxed process until ctx
// is canceled (the subprocess exited or the overall timeout fired).
func (e *Executor) serveIPC(ctx context.Context, ipc *IPCHandler) {
	for {
		req, err := ipc.WaitForRequest(ctx, 200*time.Millisecond)
		if err != nil {
			return
		}
		if req == nil {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		resp := ToolResponse{ID: req.ID}
		result, callErr := e.tools.CallTool(ctx, req.ToolName, req.Args)
		if callErr != nil {
			resp.Success = false
			resp.Error = callErr.Error()
		} else {
			resp.Success = true
			resp.Result = result
		}
		if err := ipc.WriteResponse(resp); err != nil {
			e.logger.Warn("sandbox: failed to write ipc response", zap.Error(err))
		}
	}
}

func (e *Executor) generateSDK() (string, error) {
	switch e.language {
	case Python3:
		return GeneratePythonSDK(e.toolSpecs)
	case JavaScript:
		return GenerateJavaScriptSDK(e.toolSpecs)
	default:
		return "", fmt.Errorf("sandbox: unsupported language %v", e.language)
	}
}

func (e *Executor) extension() string {
	if e.language == JavaScript {
		return ".js"
	}
	return ".py"
}

func (e *Executor) prepareCode(sdk, userCode string) (string, error) {
	switch e.language {
	case Python3:
		return fmt.Sprintf(
			"%s\n\n# User code\n%s\n\n# Capture result\nimport json\nif 'result' in dir():\n    print(%q)\n    print(json.dumps(result, default=str))\n    print(%q)\n",
			sdk, userCode, jsonResultStartMarker, jsonResultEndMarker), nil
	case JavaScript:
		return fmt.Sprintf(
			"%s\n\n// User code\n(async () => {\n%s\n\nif (typeof result !== 'undefined') {\n  console.log(%q);\n  console.log(JSON.stringify(result, null, 2));\n  console.log(%q);\n}\n})();\n",
			sdk, userCode, jsonResultStartMarker, jsonResultEndMarker), nil
	default:
		return "", fmt.Errorf("sandbox: unsupported language %v", e.language)
	}
}

func extractJSONResult(stdout string) any {
	start := strings.Index(stdout, jsonResultStartMarker)
	if start < 0 {
		return nil
	}
	start += len(jsonResultStartMarker)
	rest := stdout[start:]
	end := strings.Index(rest, jsonResultEndMarker)
	if end < 0 {
		return nil
	}
	raw := strings.TrimSpace(rest[:end])
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil
	}
	return value
}

// boundedBuffer caps how much output is retained, appending a truncation
// notice once the limit is hit instead of growing unbounded.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 || b.buf.Len() < b.limit {
		remaining := b.limit - b.buf.Len()
		if b.limit <= 0 {
			b.buf.Write(p)
			return len(p), nil
		}
		if len(p) <= remaining {
			b.buf.Write(p)
		} else {
			b.buf.Write(p[:remaining])
			b.truncated = true
		}
	} else {
		b.truncated = true
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n... [output truncated at " + strconv.Itoa(b.limit) + " bytes]"
	}
	return b.buf.String()
}
