package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateAgainstSchema compiles a tool's InputSchema (a plain map[string]any,
// the same shape produced by manifest-derived ToolDefinitions) and validates
// args against it. A nil or empty schema accepts anything.
func validateAgainstSchema(toolName string, schema map[string]any, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return &InvalidArgsError{Name: toolName, Detail: fmt.Sprintf("schema is not serializable: %v", err)}
	}

	compiler := jsonschema.NewCompiler()
	resourceName := "tool:" + toolName
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return &InvalidArgsError{Name: toolName, Detail: fmt.Sprintf("schema compile failed: %v", err)}
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return &InvalidArgsError{Name: toolName, Detail: fmt.Sprintf("schema compile failed: %v", err)}
	}

	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return &InvalidArgsError{Name: toolName, Detail: fmt.Sprintf("args are not valid JSON: %v", err)}
	}

	if err := compiled.Validate(decoded); err != nil {
		return &InvalidArgsError{Name: toolName, Detail: err.Error()}
	}
	return nil
}
