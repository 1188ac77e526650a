// Package tools holds the MCP tools served by the provider-facing tool servers.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/soypete/voicebridge/pkg/mcp"
)

// argsKey wraps every tool argument object
const argsKey = "args"

// wrapSchema nests inner under the "args" property
func wrapSchema(inner map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			argsKey: inner,
		},
		"required": []string{argsKey},
	}
}

// decodeArgs validates args against schema and decodes the wrapped object into out
func decodeArgs(schema map[string]interface{}, args map[string]interface{}, out interface{}) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
	}

	raw, err := json.Marshal(args[argsKey])
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}
	return nil
}

// jsonResult renders v as the tool's text output
func jsonResult(success bool, v interface{}) (*mcp.Result, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &mcp.Result{Success: success, Output: string(out)}, nil
}
