package planning

import (
	"fmt"
	"regexp"
	"strings"
)

// bareSourceRegex matches a string that is exactly a source name
// (result_of_phase_N, phase_N or injected_previous_turn_data), which
// resolves to that source's whole value.
var bareSourceRegex = regexp.MustCompile(`^(result_of_phase_\d+|phase_\d+|injected_previous_turn_data)$`)

// embeddedTemplateRegex matches {KeyName} or {result_of_phase_N[key]}
// occurring inside a larger string, substituted by regex rather than
// treated as a standalone placeholder.
var embeddedTemplateRegex = regexp.MustCompile(`\{([A-Za-z0-9_]+)(?:\[([A-Za-z0-9_]+)\])?\}`)

// CorrectionEmitter receives a human-readable note whenever Resolve repairs
// a malformed placeholder, for the turn's action-history/SSE trace.
type CorrectionEmitter func(note string)

// Resolver implements the ArgumentResolver contract: resolve(args,
// loop_item?) -> resolved_args, walking every value and substituting
// placeholders against workflow state.
type Resolver struct {
	// WorkflowState maps result_of_phase_<N> (and
	// injected_previous_turn_data) to the tool output recorded for that
	// key. PhaseExecutor owns and updates this map across the turn.
	WorkflowState map[string]interface{}
	// ToolPhaseOf maps a tool name back to the phase number whose
	// relevant_tools declared it, for resolving "tool_<Name>" strings.
	ToolPhaseOf map[string]int

	OnCorrection CorrectionEmitter
}

// NewResolver builds a Resolver over workflowState and a tool->phase index.
func NewResolver(workflowState map[string]interface{}, toolPhaseOf map[string]int) *Resolver {
	return &Resolver{WorkflowState: workflowState, ToolPhaseOf: toolPhaseOf, OnCorrection: func(string) {}}
}

// Resolve walks args and returns a new map with every placeholder replaced
// by its looked-up value. loopItem supplies the "loop_item" source inside a
// loop phase; it may be nil outside a loop.
func (r *Resolver) Resolve(args map[string]interface{}, loopItem interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for name, v := range args {
		resolved, ok := r.resolveValue(v, loopItem)
		if !ok {
			// Missing source: log-worthy, but the argument is simply
			// omitted rather than passed as null.
			continue
		}
		if resolved == nil {
			continue
		}
		out[name] = resolved
	}
	return out
}

func (r *Resolver) resolveValue(v interface{}, loopItem interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		return r.resolvePlaceholderDict(val, loopItem)
	case string:
		return r.resolveString(val, loopItem)
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, inner := range val {
			if resolved, ok := r.resolveValue(inner, loopItem); ok && resolved != nil {
				out = append(out, resolved)
			}
		}
		return out, true
	default:
		return v, true
	}
}

func (r *Resolver) resolvePlaceholderDict(d map[string]interface{}, loopItem interface{}) (interface{}, bool) {
	source, hasSource := d["source"].(string)
	if !hasSource {
		// Legacy dict form: {result_of_phase_N: key}. Exactly one key,
		// whose name is the source and whose value is the lookup key.
		if len(d) == 1 {
			for legacySource, keyVal := range d {
				key, _ := keyVal.(string)
				r.OnCorrection(fmt.Sprintf("normalised legacy placeholder {%s: %s}", legacySource, key))
				return r.lookup(legacySource, key, loopItem)
			}
		}
		// Not a recognised placeholder shape: recurse into its values.
		out := make(map[string]interface{}, len(d))
		for k, inner := range d {
			if resolved, ok := r.resolveValue(inner, loopItem); ok && resolved != nil {
				out[k] = resolved
			}
		}
		return out, true
	}

	key, _ := d["key"].(string)
	if key == "" {
		r.OnCorrection(fmt.Sprintf("unwrapped placeholder {source: %s} with no key", source))
	}
	return r.lookup(source, key, loopItem)
}

// lookup resolves source/key against workflow state or loopItem, applying
// the single-value unwrap convention when key is empty.
func (r *Resolver) lookup(source, key string, loopItem interface{}) (interface{}, bool) {
	var container interface{}
	if source == string(SourceLoopItem) {
		container = loopItem
	} else {
		v, ok := r.WorkflowState[source]
		if !ok {
			return nil, false
		}
		container = v
	}
	if container == nil {
		return nil, false
	}
	if key == "" {
		return unwrapSingleValue(container), true
	}
	return findKeyCaseInsensitive(container, key)
}

// unwrapSingleValue implements the convention that a tool output shaped
// [{"results":[{"onlykey": v}]}] returns v directly; anything else passes
// through unchanged.
func unwrapSingleValue(v interface{}) interface{} {
	list, ok := v.([]interface{})
	if !ok || len(list) != 1 {
		return v
	}
	obj, ok := list[0].(map[string]interface{})
	if !ok {
		return v
	}
	results, ok := obj["results"].([]interface{})
	if !ok || len(results) != 1 {
		return v
	}
	row, ok := results[0].(map[string]interface{})
	if !ok || len(row) != 1 {
		return v
	}
	for _, only := range row {
		return only
	}
	return v
}

// findKeyCaseInsensitive recursively searches v for key, case-insensitively,
// depth-first.
func findKeyCaseInsensitive(v interface{}, key string) (interface{}, bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, inner := range val {
			if strings.EqualFold(k, key) {
				return inner, true
			}
		}
		for _, inner := range val {
			if found, ok := findKeyCaseInsensitive(inner, key); ok {
				return found, true
			}
		}
	case []interface{}:
		for _, inner := range val {
			if found, ok := findKeyCaseInsensitive(inner, key); ok {
				return found, true
			}
		}
	}
	return nil, false
}

func (r *Resolver) resolveString(s string, loopItem interface{}) (interface{}, bool) {
	if bareSourceRegex.MatchString(s) {
		return r.lookup(s, "", loopItem)
	}
	if strings.HasPrefix(s, "tool_") {
		toolName := strings.TrimPrefix(s, "tool_")
		if phase, ok := r.ToolPhaseOf[toolName]; ok {
			return r.lookup(fmt.Sprintf("result_of_phase_%d", phase), "", loopItem)
		}
	}

	if embeddedTemplateRegex.MatchString(s) {
		substituted := embeddedTemplateRegex.ReplaceAllStringFunc(s, func(match string) string {
			parts := embeddedTemplateRegex.FindStringSubmatch(match)
			name, bracketKey := parts[1], parts[2]

			// A bare {FIELD} embedded in text is a loop-item field
			// reference, same shorthand Normalizer recognises for a
			// pure-template value; {result_of_phase_N[key]} names its
			// source explicitly.
			source, key := string(SourceLoopItem), name
			if bareSourceRegex.MatchString(name) {
				source, key = name, bracketKey
			}

			val, ok := r.lookup(source, key, loopItem)
			if !ok {
				return match
			}
			return fmt.Sprintf("%v", val)
		})
		return substituted, true
	}

	return s, true
}
