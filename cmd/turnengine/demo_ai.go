package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rgeissen/turnengine/core"
)

// demoAIClient is a local, non-reusable stand-in for a real LM provider
// adapter so this demo server runs without any external API key. It never
// calls a tool or produces a plan; it answers the strategic and tactical
// phases with a canned conversational response so the llm_only and
// conversation_with_tools profiles are exercisable end to end.
//
// This is deliberately not a package under ai/providers: the engine's
// AIClient collaborator stays an interface with no concrete provider
// wiring, and this type exists only to make `go run ./cmd/turnengine`
// produce a response.
type demoAIClient struct {
	name string
}

func newDemoAIClient(name string) *demoAIClient {
	return &demoAIClient{name: name}
}

func (c *demoAIClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	model := c.name
	if options != nil && options.Model != "" {
		model = options.Model
	}

	phase := core.PhaseTactical
	if options != nil && options.Phase != "" {
		phase = options.Phase
	}

	content := demoResponseFor(phase, prompt)

	return &core.AIResponse{
		Content: content,
		Model:   model,
		Usage: core.TokenUsage{
			PromptTokens:     len(strings.Fields(prompt)),
			CompletionTokens: len(strings.Fields(content)),
			TotalTokens:      len(strings.Fields(prompt)) + len(strings.Fields(content)),
		},
	}, nil
}

// demoResponseFor produces a plausible strategic or tactical reply without
// any real model behind it. A strategic call that looks like a planning
// prompt (it asks for a JSON array of phases) gets a trivial
// conversational-plan JSON body back so the planner's parse step has
// something well-formed to consume; a tactical call that asks for a tool
// action or a final answer gets a final_answer JSON body; everything else
// gets a plain sentence.
func demoResponseFor(phase core.CallPhase, prompt string) string {
	if phase == core.PhaseStrategic && strings.Contains(prompt, "JSON array of phases") {
		return `{"plan_type": "conversational", "response": "This is a demo response; no model is configured."}`
	}
	if phase == core.PhaseTactical && strings.Contains(prompt, `"final_answer"`) {
		return `{"final_answer": "This is a demo response (tactical phase); no model is configured."}`
	}
	return fmt.Sprintf("This is a demo response (%s phase); no model is configured.", phase)
}

var _ core.AIClient = (*demoAIClient)(nil)
