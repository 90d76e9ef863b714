// Package toolproto defines the bidirectional protocol used to reach a
// model-context-protocol server: list tools, list prompts, invoke a tool.
// This package only specifies the typed shapes and the Client interface;
// the transport wire codec is a collaborator (the HTTP client in
// client_http.go is one reference implementation, not the only one).
package toolproto

import "context"

// ArgSpec describes one parameter of a tool or prompt. Normalised once when
// the catalog loads, replacing the duck-typed `tool.args`/`hasattr` access
// pattern with a typed record every downstream component can rely on.
type ArgSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "boolean", "array", "object"
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
	Schema      map[string]interface{} `json:"schema,omitempty"` // raw JSON-schema fragment, if richer than Type alone
}

// Scope narrows how an orchestrator must pre-expand a phase before the tool
// can run: most tools need no expansion.
type Scope string

const (
	ScopeNone   Scope = ""
	ScopeColumn Scope = "column"
)

// ToolDescriptor is the typed, catalog-normalised shape of one invocable
// tool.
type ToolDescriptor struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Args        []ArgSpec `json:"args"`
	Scope       Scope     `json:"scope,omitempty"`
	// RequiredDataType narrows which columns a column-scoped tool accepts:
	// "numeric", "character", or "any".
	RequiredDataType string `json:"required_data_type,omitempty"`
	// Internal tools are excluded from the LM-facing catalog rendering
	// (catalog.FormatForLLM) but remain invocable (e.g. orchestrator helper
	// tools like base_columnDescription).
	Internal bool `json:"internal,omitempty"`
}

// PromptDescriptor is the typed shape of one invocable prompt (a capability
// whose dispatch recurses into a sub-PlanExecutor rather than calling a
// tool directly).
type PromptDescriptor struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Args        []ArgSpec `json:"args"`
}

// ArgSpecByName looks up an arg spec by case-insensitive name.
func (d ToolDescriptor) ArgSpecByName(name string) (ArgSpec, bool) {
	for _, a := range d.Args {
		if strEqualFold(a.Name, name) {
			return a, true
		}
	}
	return ArgSpec{}, false
}

func strEqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Client is the collaborator interface for the transport layer. Planner and
// PhaseExecutor never construct a transport themselves; they're handed a
// Client.
type Client interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	ListPrompts(ctx context.Context) ([]PromptDescriptor, error)
	InvokeTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResponse, error)
	// LoadPrompt returns the body text of a named prompt, used when a turn's
	// active prompt supplies the planning goal.
	LoadPrompt(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// ToolResponse mirrors core.ToolResponse; kept as a distinct type so
// toolproto has no import-cycle dependency on core's error machinery beyond
// what it needs to report a tool error.
type ToolResponse struct {
	Status       string                    `json:"status"`
	Metadata     map[string]interface{}    `json:"metadata"`
	Results      []map[string]interface{}  `json:"results,omitempty"`
	ErrorMessage string                    `json:"error_message,omitempty"`
	Data         interface{}               `json:"data,omitempty"`
}
