package catalog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rgeissen/turnengine/toolproto"
)

// SchemaValidator compiles and caches the JSON-schema fragment carried on a
// tool's ArgSpec.Schema, and validates proposed arguments against it. Used
// by the argument-refinement pass to catch an extraneous or wrong-typed
// argument before a tool call is made, not just after it fails.
type SchemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaValidator builds an empty validator; schemas compile lazily on
// first use and are cached by tool name.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// ValidateArgs checks args against tool's declared schema, if any. A tool
// with no Args schema fragments (only Type/Required on each ArgSpec) is
// validated structurally: every required arg present, every supplied arg
// known to the tool.
func (v *SchemaValidator) ValidateArgs(tool toolproto.ToolDescriptor, args map[string]interface{}) error {
	for _, a := range tool.Args {
		if a.Required {
			if _, ok := args[a.Name]; !ok {
				return fmt.Errorf("missing required argument %q", a.Name)
			}
		}
	}
	for name := range args {
		if _, ok := tool.ArgSpecByName(name); !ok {
			return fmt.Errorf("extraneous argument %q", name)
		}
	}

	schema, err := v.compileFor(tool)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", tool.Name, err)
	}
	if schema == nil {
		return nil
	}

	// Round-trip through JSON so numbers/bools/nested values match the
	// decoded-instance shape jsonschema.Validate expects, the same way
	// validatePayloadJSONAgainstSchema decodes its payload before validating.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal arguments: %w", err)
	}
	return schema.Validate(doc)
}

// compileFor builds the combined JSON schema for tool's args (one "object"
// schema with a property per ArgSpec that carries a raw Schema fragment),
// compiling once and caching by tool name.
func (v *SchemaValidator) compileFor(tool toolproto.ToolDescriptor) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[tool.Name]; ok {
		return s, nil
	}

	props := map[string]interface{}{}
	var required []string
	for _, a := range tool.Args {
		if a.Schema != nil {
			props[a.Name] = a.Schema
		}
		if a.Required {
			required = append(required, a.Name)
		}
	}
	if len(props) == 0 {
		v.compiled[tool.Name] = nil
		return nil, nil
	}

	doc := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	resourceName := "tool:" + tool.Name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.compiled[tool.Name] = schema
	return schema, nil
}
