package planning

import (
	"encoding/json"
	"fmt"
)

type conversationalResponse struct {
	PlanType string `json:"plan_type"`
	Response string `json:"response"`
}

// ParsePlan accepts an LM response and extracts one of the three shapes a
// planning call may return: a JSON array of phases, a conversational
// object ({plan_type: "conversational", response: text}), or a single
// direct-action object (wrapped here as a one-phase plan). A malformed
// response (no extractable JSON, empty, or syntactically invalid) returns
// an error so the caller can replan or fail the turn visibly.
func ParsePlan(llmResponse string) (*MetaPlan, RawJSON, error) {
	cleaned := extractJSON(llmResponse)
	if cleaned == "" {
		return nil, nil, fmt.Errorf("planning: no JSON found in LM response")
	}
	raw := RawJSON(cleaned)

	switch cleaned[0] {
	case '[':
		var phases []Phase
		if err := json.Unmarshal([]byte(cleaned), &phases); err != nil {
			return nil, nil, fmt.Errorf("planning: parse phase list: %w", err)
		}
		return &MetaPlan{Phases: phases}, raw, nil

	case '{':
		var conv conversationalResponse
		if err := json.Unmarshal([]byte(cleaned), &conv); err == nil && conv.PlanType == "conversational" {
			return &MetaPlan{Conversational: true, Response: conv.Response}, raw, nil
		}

		var phase Phase
		if err := json.Unmarshal([]byte(cleaned), &phase); err != nil {
			return nil, nil, fmt.Errorf("planning: parse single-action plan: %w", err)
		}
		if phase.Phase == 0 {
			phase.Phase = 1
		}
		return &MetaPlan{Phases: []Phase{phase}}, raw, nil

	default:
		return nil, nil, fmt.Errorf("planning: unexpected JSON root %q", cleaned[:1])
	}
}
