package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// sanitizeFunctionName maps an arbitrary tool name to a valid identifier by
// replacing every non-alphanumeric, non-underscore character with '_'.
// Distinct tool names can collide after sanitization (e.g. "read-file" and
// "read.file" both become "read_file"); detectCollisions below catches this
// at SDK-generation time rather than letting two wrapper functions silently
// shadow one another in the generated script.
func sanitizeFunctionName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// detectCollisions groups tools by their sanitized function name and returns
// an aggregate error naming every colliding pair, or nil if no two tool
// names sanitize to the same identifier.
func detectCollisions(tools []ToolSpec) error {
	bySanitized := make(map[string][]string)
	for _, t := range tools {
		sanitized := sanitizeFunctionName(t.Name)
		bySanitized[sanitized] = append(bySanitized[sanitized], t.Name)
	}

	var result *multierror.Error
	keys := make([]string, 0, len(bySanitized))
	for k := range bySanitized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, sanitized := range keys {
		names := bySanitized[sanitized]
		if len(names) > 1 {
			sort.Strings(names)
			result = multierror.Append(result, fmt.Errorf(
				"sandbox: tool names %s all sanitize to function name %q", strings.Join(names, ", "), sanitized))
		}
	}
	return result.ErrorOrNil()
}

// GeneratePythonSDK renders a Python module exposing one wrapper function
// per tool, each dispatching through the file-based IPC channel.
func GeneratePythonSDK(tools []ToolSpec) (string, error) {
	if err := detectCollisions(tools); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(pythonSDKPrelude)
	for _, t := range tools {
		fmt.Fprintf(&b, "\ndef %s(**kwargs):\n    \"\"\"%s\"\"\"\n    return _vtcode.call_tool(%q, kwargs)\n\n",
			sanitizeFunctionName(t.Name), t.Description, t.Name)
	}
	return b.String(), nil
}

// GenerateJavaScriptSDK renders the JavaScript equivalent of GeneratePythonSDK.
func GenerateJavaScriptSDK(tools []ToolSpec) (string, error) {
	if err := detectCollisions(tools); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(javascriptSDKPrelude)
	for _, t := range tools {
		fmt.Fprintf(&b, "async function %s(args = {}) {\n  // %s\n  return await _vtcode.callTool(%q, args);\n}\n\n",
			sanitizeFunctionName(t.Name), t.Description, t.Name)
	}
	return b.String(), nil
}

const pythonSDKPrelude = `# Tool SDK - auto-generated
import json
import os
import time
import uuid

class _VTCodeIPC:
    def __init__(self):
        self.ipc_dir = os.environ.get("VTCODE_IPC_DIR", ".")

    def call_tool(self, name, args):
        request_id = str(uuid.uuid4())
        request_path = os.path.join(self.ipc_dir, "request.json")
        response_path = os.path.join(self.ipc_dir, "response.json")
        with open(request_path, "w") as f:
            json.dump({"id": request_id, "tool_name": name, "args": args}, f)
        while True:
            if os.path.exists(response_path):
                with open(response_path) as f:
                    data = json.load(f)
                os.remove(response_path)
                if data.get("success"):
                    return data.get("result")
                raise RuntimeError(data.get("error", "tool call failed"))
            time.sleep(0.1)

_vtcode = _VTCodeIPC()
`

const javascriptSDKPrelude = `// Tool SDK - auto-generated
const fs = require("fs");
const path = require("path");

class VTCodeIPC {
  constructor() {
    this.ipcDir = process.env.VTCODE_IPC_DIR || ".";
  }

  async callTool(name, args) {
    const requestId = require("crypto").randomUUID();
    const requestPath = path.join(this.ipcDir, "request.json");
    const responsePath = path.join(this.ipcDir, "response.json");
    fs.writeFileSync(requestPath, JSON.stringify({ id: requestId, tool_name: name, args }));
    while (true) {
      if (fs.existsSync(responsePath)) {
        const data = JSON.parse(fs.readFileSync(responsePath, "utf8"));
        fs.unlinkSync(responsePath);
        if (data.success) {
          return data.result;
        }
        throw new Error(data.error || "tool call failed");
      }
      await new Promise((resolve) => setTimeout(resolve, 100));
    }
  }
}

const _vtcode = new VTCodeIPC();
`
