// Package planning turns a goal (user query or active-prompt body) into a
// validated, executable meta-plan: Planner drives the LM call and the
// normalize -> rewrite -> validate pipeline; PlanNormalizer, PlanValidator,
// and PlanRewriter each own one stage of that pipeline.
package planning

import "encoding/json"

// PlaceholderSource names where a placeholder's value comes from.
type PlaceholderSource string

const (
	SourceLoopItem    PlaceholderSource = "loop_item"
	SourcePreviousTurn PlaceholderSource = "injected_previous_turn_data"
)

// Placeholder is the canonical post-normalisation argument-value shape:
// {source, key?}. Source is either "loop_item", "result_of_phase_<N>", or
// "injected_previous_turn_data".
type Placeholder struct {
	Source string `json:"source"`
	Key    string `json:"key,omitempty"`
}

// PhaseType distinguishes an ordinary phase from a loop phase.
type PhaseType string

const (
	PhaseTypeDefault PhaseType = ""
	PhaseTypeLoop    PhaseType = "loop"
)

// Phase is one step of a meta-plan.
type Phase struct {
	Phase int    `json:"phase"`
	Goal  string `json:"goal"`

	// Exactly one of RelevantTools or ExecutablePrompt is set.
	RelevantTools    []string `json:"relevant_tools,omitempty"`
	ExecutablePrompt string   `json:"executable_prompt,omitempty"`

	Arguments map[string]interface{} `json:"arguments,omitempty"`

	Type     PhaseType   `json:"type,omitempty"`
	LoopOver interface{} `json:"loop_over,omitempty"` // a Placeholder or a literal list

	// NeedsRefinement is set by PlanValidator when a required argument is
	// still missing after fuzzy-matching; PhaseExecutor forces a tactical
	// refinement call for phases carrying this flag.
	NeedsRefinement bool `json:"_needs_refinement,omitempty"`
}

// IsReportingTool reports whether name is one of the three terminal
// reporting tools a non-conversational plan must end with.
func IsReportingTool(name string) bool {
	switch name {
	case "FinalReport", "ComplexPromptReport", "ContextReport":
		return true
	}
	return false
}

// IsReportingPhase reports whether p's tool set is a reporting tool.
func (p Phase) IsReportingPhase() bool {
	for _, t := range p.RelevantTools {
		if IsReportingTool(t) {
			return true
		}
	}
	return IsReportingTool(p.ExecutablePrompt)
}

// CatalogReferences returns the tool/prompt names p references against
// whatever catalog was shown to the LM, used by ValidateAgainstCatalog.
func (p Phase) CatalogReferences() []string {
	if p.ExecutablePrompt != "" {
		return []string{p.ExecutablePrompt}
	}
	return p.RelevantTools
}

// MetaPlan is the ordered list of phases the Planner produces.
type MetaPlan struct {
	Phases []Phase `json:"phases"`

	// Conversational plans skip phase execution entirely; Response is the
	// direct assistant reply.
	Conversational bool   `json:"-"`
	Response       string `json:"-"`
}

// CorrectionEvent records one deterministic repair PlanValidator or
// PlanRewriter made to a phase, for the turn's action history / SSE trace.
type CorrectionEvent struct {
	Phase       int    `json:"phase"`
	Rule        string `json:"rule"`
	Description string `json:"description"`
}

// RawJSON preserves the LM's as-received plan text for audit, regardless
// of which of the three accepted shapes it parsed as (phase list,
// conversational object, single direct action).
type RawJSON = json.RawMessage
