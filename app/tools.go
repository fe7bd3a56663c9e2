package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vtcode/core"
	"vtcode/engine/vfs"
	"vtcode/internal/patch"
	"vtcode/internal/pty"
	"vtcode/internal/registry"
	"vtcode/internal/rpcagent"
	"vtcode/internal/sandbox"
)

// ShellToolName is the registry tool name the Policy Gate must inspect before
// dispatch; toolDeps.buildTools registers it under this name.
const ShellToolName = "run_command"

// vfsSnapshotAdapter adapts engine/vfs.Snapshotter's richer
// (*SnapshotRecord, error) return to the Patch Engine's error-only
// Snapshotter contract, and turns every snapshot into a core.FileChangeEvent
// so the Changelog page and session-restore feature see it regardless of
// which tool triggered the write.
type vfsSnapshotAdapter struct {
	snapshotter *vfs.Snapshotter
	notifier    core.Notifier
	agentName   string
}

func (a *vfsSnapshotAdapter) Snapshot(path, operation, agentName string) error {
	rec, err := a.snapshotter.Snapshot(path, operation, agentName)
	if err != nil {
		return err
	}
	if a.notifier == nil {
		return nil
	}
	a.notifier.Send(core.FileChangeEvent{
		InteractionID: rec.InteractionID,
		Timestamp:     rec.Timestamp.Format(time.RFC3339),
		Description:   fmt.Sprintf("%s (%s)", operationDescription(rec.Operation), agentName),
		Files: []core.FileChangeRecord{{
			Path:      rec.Path,
			Operation: rec.Operation,
			WasNew:    rec.WasNewFile,
		}},
	})
	return nil
}

// setContext tags the snapshotter with the dispatching tool call's ID so the
// resulting SnapshotRecord/FileChangeEvent can be grouped by interaction.
// Using the tool call ID as the interaction ID is a simplification: the Run-
// Loop Driver does not currently thread a turn identifier through to tool
// dispatch, so a turn with several file-touching tool calls produces several
// changelog rows instead of one merged row.
func (a *vfsSnapshotAdapter) setContext(ctx context.Context) {
	id, ok := registry.ToolCallIDFromContext(ctx)
	if !ok {
		id = "unknown"
	}
	a.snapshotter.SetSnapshotContext(id, id)
}

func operationDescription(op string) string {
	if op == "delete" {
		return "Deleted file"
	}
	return "Wrote file"
}

// toolCallerBridge lets internal/sandbox.Executor route a sandboxed script's
// tool calls back through the very Registry that dispatched execute_code,
// so Python/JavaScript snippets can call read_file, write_file, etc.
type toolCallerBridge struct {
	registry *registry.Registry
}

func (b *toolCallerBridge) CallTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	raw, err := b.registry.Execute(ctx, name, args)
	if err != nil {
		return nil, err
	}
	var result any
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return string(raw), nil
	}
	return result, nil
}

// toolDeps bundles every collaborator the native registry tool set needs.
type toolDeps struct {
	workspaceRoot string
	registry      *registry.Registry
	snapshots     *vfsSnapshotAdapter
	applicator    *patch.Applicator
	sandboxRoot   string
	ptyManager    *pty.Manager
	rpcClient     *rpcagent.Client
	shellTimeout  time.Duration
	logger        *zap.Logger
}

// buildTools returns the native tool set backing the Agent Run-Loop: file
// I/O, shell execution gated by the Policy Gate, sandboxed code execution,
// multi-file patching, PTY sessions, and inter-agent RPC.
func (d *toolDeps) buildTools() []registry.Tool {
	tools := []registry.Tool{
		d.readFileTool(),
		d.writeFileTool(),
		d.listDirTool(),
		d.runCommandTool(),
		d.applyPatchTool(),
		d.executeCodeTool(),
		d.ptyStartTool(),
		d.ptyWriteTool(),
		d.ptyReadTool(),
		d.registerAgentTool(),
		d.callAgentTool(),
	}
	return tools
}

// canonicalizePath cleans and resolves path to its absolute, symlink-free
// form, rooted at the workspace, so permission and boundary checks operate
// on the real filesystem path rather than a string a model could spoof.
func (d *toolDeps) canonicalizePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.workspaceRoot, path)
	}
	path = filepath.Clean(path)

	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return d.requireWithinRoot(resolved)
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		return "", err
	}
	resolved = filepath.Join(parent, filepath.Base(path))
	return d.requireWithinRoot(resolved)
}

func (d *toolDeps) requireWithinRoot(path string) (string, error) {
	root, err := filepath.EvalSymlinks(d.workspaceRoot)
	if err != nil {
		root = d.workspaceRoot
	}
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace root", path)
	}
	return path, nil
}

func (d *toolDeps) readFileTool() registry.Tool {
	return registry.Tool{
		Name:        "read_file",
		Description: "Read the full contents of a file within the workspace.",
		Capability:  registry.CapabilityRead,
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"path"},
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
		},
		Handler: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			var payload struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return nil, err
			}
			path, err := d.canonicalizePath(payload.Path)
			if err != nil {
				return nil, fmt.Errorf("read_file: %w", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read_file: %w", err)
			}
			return json.Marshal(map[string]any{"content": string(data)})
		},
	}
}

func (d *toolDeps) writeFileTool() registry.Tool {
	return registry.Tool{
		Name:        "write_file",
		Description: "Create or overwrite a file within the workspace with the given content.",
		Capability:  registry.CapabilityWrite,
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"path", "content"},
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var payload struct {
				Path    string `json:"path"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return nil, err
			}
			path, err := d.canonicalizePath(payload.Path)
			if err != nil {
				return nil, fmt.Errorf("write_file: %w", err)
			}

			if d.snapshots != nil {
				d.snapshots.setContext(ctx)
				_ = d.snapshots.Snapshot(path, "write", "run_loop")
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("write_file: mkdir: %w", err)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|syscall.O_NOFOLLOW, 0o644)
			if err != nil {
				return nil, fmt.Errorf("write_file: %w", err)
			}
			_, writeErr := f.WriteString(payload.Content)
			closeErr := f.Close()
			if writeErr != nil {
				return nil, fmt.Errorf("write_file: %w", writeErr)
			}
			if closeErr != nil {
				return nil, fmt.Errorf("write_file: close: %w", closeErr)
			}
			return json.Marshal(map[string]any{"success": true})
		},
	}
}

func (d *toolDeps) listDirTool() registry.Tool {
	return registry.Tool{
		Name:        "list_dir",
		Description: "List the entries of a directory within the workspace.",
		Capability:  registry.CapabilityRead,
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"path"},
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
		},
		Handler: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			var payload struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return nil, err
			}
			path, err := d.canonicalizePath(payload.Path)
			if err != nil {
				return nil, fmt.Errorf("list_dir: %w", err)
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("list_dir: %w", err)
			}
			result := make([]map[string]any, 0, len(entries))
			for _, entry := range entries {
				fi, err := entry.Info()
				if err != nil {
					continue
				}
				result = append(result, map[string]any{
					"name":  entry.Name(),
					"isDir": entry.IsDir(),
					"size":  fi.Size(),
				})
			}
			return json.Marshal(map[string]any{"entries": result})
		},
	}
}

func (d *toolDeps) applyPatchTool() registry.Tool {
	chunkSchema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"changeContext":    map[string]any{"type": "string"},
			"hasChangeContext": map[string]any{"type": "boolean"},
			"oldLines":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"newLines":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"endOfFile":        map[string]any{"type": "boolean"},
		},
	}
	operationSchema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"kind", "path"},
		"properties": map[string]any{
			"kind":    map[string]any{"type": "string", "enum": []any{"add", "delete", "update"}},
			"path":    map[string]any{"type": "string"},
			"newPath": map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
			"chunks":  map[string]any{"type": "array", "items": chunkSchema},
		},
	}

	return registry.Tool{
		Name:        "apply_patch",
		Description: "Apply a structured, context-anchored multi-file patch against the workspace.",
		Capability:  registry.CapabilityWrite,
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"operations"},
			"properties": map[string]any{
				"operations": map[string]any{"type": "array", "items": operationSchema},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var payload struct {
				Operations []jsonOperation `json:"operations"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return nil, err
			}
			ops, err := decodeOperations(payload.Operations)
			if err != nil {
				return nil, fmt.Errorf("apply_patch: %w", err)
			}
			if d.snapshots != nil {
				d.snapshots.setContext(ctx)
			}
			results, err := d.applicator.Apply(ops)
			if err != nil {
				return nil, fmt.Errorf("apply_patch: %w", err)
			}
			return json.Marshal(map[string]any{"results": results})
		},
	}
}

// jsonOperation is the wire shape of a patch.Operation: no patch-text parser
// exists in this module, so apply_patch takes the operation list directly as
// JSON rather than a diff string.
type jsonOperation struct {
	Kind    string        `json:"kind"`
	Path    string        `json:"path"`
	NewPath string        `json:"newPath"`
	Content string        `json:"content"`
	Chunks  []jsonChunk   `json:"chunks"`
}

type jsonChunk struct {
	ChangeContext    string   `json:"changeContext"`
	HasChangeContext bool     `json:"hasChangeContext"`
	OldLines         []string `json:"oldLines"`
	NewLines         []string `json:"newLines"`
	EndOfFile        bool     `json:"endOfFile"`
}

func decodeOperations(in []jsonOperation) ([]patch.Operation, error) {
	out := make([]patch.Operation, 0, len(in))
	for _, op := range in {
		var kind patch.OperationKind
		switch op.Kind {
		case "add":
			kind = patch.OpAddFile
		case "delete":
			kind = patch.OpDeleteFile
		case "update":
			kind = patch.OpUpdateFile
		default:
			return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
		}
		chunks := make([]patch.Chunk, len(op.Chunks))
		for i, c := range op.Chunks {
			chunks[i] = patch.Chunk{
				ChangeContext:    c.ChangeContext,
				HasChangeContext: c.HasChangeContext,
				OldLines:         c.OldLines,
				NewLines:         c.NewLines,
				EndOfFile:        c.EndOfFile,
			}
		}
		out = append(out, patch.Operation{
			Kind:    kind,
			Path:    op.Path,
			NewPath: op.NewPath,
			Content: op.Content,
			Chunks:  chunks,
		})
	}
	return out, nil
}

func (d *toolDeps) runCommandTool() registry.Tool {
	return registry.Tool{
		Name:        ShellToolName,
		Description: "Run a shell command in the workspace, subject to the Policy Gate's allow/deny lists.",
		Capability:  registry.CapabilityExecute,
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"command"},
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var payload struct {
				Command string `json:"command"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return nil, err
			}
			runCtx, cancel := newShellContext(ctx, d.shellTimeout)
			defer cancel()
			stdout, stderr, exitCode, err := runShell(runCtx, payload.Command, d.workspaceRoot)
			if err != nil && exitCode == 0 {
				return nil, fmt.Errorf("run_command: %w", err)
			}
			return json.Marshal(map[string]any{
				"stdout":   stdout,
				"stderr":   stderr,
				"exitCode": exitCode,
			})
		},
	}
}

// newShellContext bounds a run_command invocation to the configured shell
// timeout, falling back to the parent context's own deadline if shorter.
func newShellContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// runShell executes command via "sh -c" rooted at workDir, capturing stdout
// and stderr separately. exitCode is the process's exit status, or -1 if the
// process never started or was killed by a signal.
func runShell(ctx context.Context, command, workDir string) (stdout, stderr string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()

	if ctx.Err() == context.DeadlineExceeded {
		return stdout, stderr, -1, fmt.Errorf("command timed out: %w", ctx.Err())
	}

	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	} else {
		exitCode = -1
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return stdout, stderr, exitCode, nil
		}
		return stdout, stderr, exitCode, runErr
	}
	return stdout, stderr, exitCode, nil
}

func (d *toolDeps) executeCodeTool() registry.Tool {
	return registry.Tool{
		Name:        "execute_code",
		Description: "Run a short Python or JavaScript snippet in a subprocess sandbox, with access to the other registered tools via an SDK.",
		Capability:  registry.CapabilityExecute,
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"language", "code"},
			"properties": map[string]any{
				"language": map[string]any{"type": "string", "enum": []any{"python3", "javascript"}},
				"code":     map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var payload struct {
				Language string `json:"language"`
				Code     string `json:"code"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return nil, err
			}
			var lang sandbox.Language
			switch payload.Language {
			case "python3":
				lang = sandbox.Python3
			case "javascript":
				lang = sandbox.JavaScript
			default:
				return nil, fmt.Errorf("execute_code: unsupported language %q", payload.Language)
			}

			toolSpecs := registryToolSpecs(d.registry)
			executor := sandbox.NewExecutor(lang, &toolCallerBridge{registry: d.registry}, toolSpecs, d.sandboxRoot, d.logger)
			result, err := executor.Execute(ctx, payload.Code)
			if err != nil {
				return nil, fmt.Errorf("execute_code: %w", err)
			}
			return json.Marshal(map[string]any{
				"exitCode": result.ExitCode,
				"stdout":   result.Stdout,
				"stderr":   result.Stderr,
				"result":   result.JSONResult,
			})
		},
	}
}

// registryToolSpecs exposes every visible registered tool except
// execute_code to sandboxed code's generated SDK; execute_code itself is
// excluded to avoid nested sandboxes.
func registryToolSpecs(reg *registry.Registry) []sandbox.ToolSpec {
	defs := reg.VisibleDefinitions(registry.CapabilityNetwork)
	specs := make([]sandbox.ToolSpec, 0, len(defs))
	for _, def := range defs {
		if def.Name == "execute_code" {
			continue
		}
		specs = append(specs, sandbox.ToolSpec{Name: def.Name, Description: def.Description})
	}
	return specs
}

func (d *toolDeps) ptyStartTool() registry.Tool {
	return registry.Tool{
		Name:        "pty_start",
		Description: "Start a long-lived interactive command session (e.g. a REPL) and return its session ID.",
		Capability:  registry.CapabilityExecute,
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"command"},
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
				"args":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var payload struct {
				Command string   `json:"command"`
				Args    []string `json:"args"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return nil, err
			}
			session, err := d.ptyManager.Start(ctx, payload.Command, payload.Args, d.workspaceRoot)
			if err != nil {
				return nil, fmt.Errorf("pty_start: %w", err)
			}
			return json.Marshal(map[string]any{"sessionId": session.ID})
		},
	}
}

func (d *toolDeps) ptyWriteTool() registry.Tool {
	return registry.Tool{
		Name:        "pty_write",
		Description: "Write data to a running PTY session's stdin.",
		Capability:  registry.CapabilityExecute,
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"sessionId", "data"},
			"properties": map[string]any{
				"sessionId": map[string]any{"type": "string"},
				"data":      map[string]any{"type": "string"},
			},
		},
		Handler: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			var payload struct {
				SessionID string `json:"sessionId"`
				Data      string `json:"data"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return nil, err
			}
			session, ok := d.ptyManager.Get(payload.SessionID)
			if !ok {
				return nil, fmt.Errorf("pty_write: unknown session %q", payload.SessionID)
			}
			if err := session.Write([]byte(payload.Data)); err != nil {
				return nil, fmt.Errorf("pty_write: %w", err)
			}
			return json.Marshal(map[string]any{"success": true})
		},
	}
}

func (d *toolDeps) ptyReadTool() registry.Tool {
	return registry.Tool{
		Name:        "pty_read",
		Description: "Read the buffered scrollback output of a PTY session and report its status.",
		Capability:  registry.CapabilityRead,
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"sessionId"},
			"properties": map[string]any{
				"sessionId": map[string]any{"type": "string"},
			},
		},
		Handler: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			var payload struct {
				SessionID string `json:"sessionId"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return nil, err
			}
			session, ok := d.ptyManager.Get(payload.SessionID)
			if !ok {
				return nil, fmt.Errorf("pty_read: unknown session %q", payload.SessionID)
			}
			return json.Marshal(map[string]any{
				"output": string(session.Scrollback()),
				"status": session.CurrentStatus().String(),
			})
		},
	}
}

func (d *toolDeps) registerAgentTool() registry.Tool {
	return registry.Tool{
		Name:        "register_agent",
		Description: "Register a remote agent's address and capabilities so call_agent can reach it.",
		Capability:  registry.CapabilityNetwork,
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"id", "baseUrl"},
			"properties": map[string]any{
				"id":           map[string]any{"type": "string"},
				"name":         map[string]any{"type": "string"},
				"baseUrl":      map[string]any{"type": "string"},
				"description":  map[string]any{"type": "string"},
				"capabilities": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
		Handler: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			var payload struct {
				ID           string   `json:"id"`
				Name         string   `json:"name"`
				BaseURL      string   `json:"baseUrl"`
				Description  string   `json:"description"`
				Capabilities []string `json:"capabilities"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return nil, err
			}
			d.rpcClient.Registry().Register(rpcagent.AgentInfo{
				ID:           payload.ID,
				Name:         payload.Name,
				BaseURL:      payload.BaseURL,
				Description:  payload.Description,
				Capabilities: payload.Capabilities,
				Online:       true,
				LastSeen:     time.Now().UTC(),
			})
			return json.Marshal(map[string]any{"success": true})
		},
	}
}

func (d *toolDeps) callAgentTool() registry.Tool {
	return registry.Tool{
		Name:        "call_agent",
		Description: "Call an action on a previously registered remote agent and wait for its response.",
		Capability:  registry.CapabilityNetwork,
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"agentId", "action"},
			"properties": map[string]any{
				"agentId": map[string]any{"type": "string"},
				"action":  map[string]any{"type": "string"},
				"args":    map[string]any{},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var payload struct {
				AgentID string `json:"agentId"`
				Action  string `json:"action"`
				Args    any    `json:"args"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return nil, err
			}
			result, err := d.rpcClient.CallSync(ctx, payload.AgentID, payload.Action, payload.Args)
			if err != nil {
				return nil, fmt.Errorf("call_agent: %w", err)
			}
			return result, nil
		},
	}
}
