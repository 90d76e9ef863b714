package execution

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/session"
)

// SynthesisStrategy selects how a turn's completed phases are reduced to
// the final user-visible answer.
type SynthesisStrategy string

const (
	StrategyLLM      SynthesisStrategy = "llm"
	StrategyTemplate SynthesisStrategy = "template"
	StrategySimple   SynthesisStrategy = "simple"
)

// SynthesisInput is everything a Synthesizer needs: the user's goal, the
// full ordered action trace, and the last phase's raw result (usually
// already a finished report from FinalReport/ContextReport/Charting).
type SynthesisInput struct {
	UserQuery   string
	History     []session.ActionHistoryEntry
	FinalResult interface{}
}

// Synthesizer turns SynthesisInput into the final answer text.
type Synthesizer struct {
	AIClient  core.AIClient
	Logger    core.Logger
	Strategy  SynthesisStrategy
	templates map[string]*template.Template

	synthesisCount  int64
	synthesisErrors int64
}

// NewSynthesizer builds a Synthesizer with the standard report/summary/
// analysis templates preloaded.
func NewSynthesizer(aiClient core.AIClient, logger core.Logger, strategy SynthesisStrategy) *Synthesizer {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	s := &Synthesizer{AIClient: aiClient, Logger: logger, Strategy: strategy, templates: make(map[string]*template.Template)}
	s.loadDefaultTemplates()
	return s
}

// Synthesize dispatches to the configured strategy.
func (s *Synthesizer) Synthesize(ctx context.Context, in SynthesisInput) (string, error) {
	s.synthesisCount++
	s.Logger.Debug("synthesizing final answer", map[string]interface{}{"strategy": s.Strategy, "steps": len(in.History)})

	var out string
	var err error
	switch s.Strategy {
	case StrategyLLM:
		out, err = s.synthesizeWithLLM(ctx, in)
	case StrategyTemplate:
		out, err = s.synthesizeWithTemplate(in)
	case StrategySimple:
		out = s.synthesizeSimple(in)
	default:
		err = fmt.Errorf("execution: unknown synthesis strategy %q", s.Strategy)
	}

	if err != nil {
		s.synthesisErrors++
		s.Logger.Error("synthesis failed", map[string]interface{}{"error": err.Error(), "strategy": s.Strategy})
		return "", err
	}
	return out, nil
}

func (s *Synthesizer) synthesizeWithLLM(ctx context.Context, in SynthesisInput) (string, error) {
	if s.AIClient == nil {
		return "", fmt.Errorf("execution: no AI client configured for LLM synthesis")
	}
	prompt := s.buildLLMPrompt(in)
	resp, err := s.AIClient.GenerateResponse(ctx, prompt, &core.AIOptions{
		Temperature: 0.3,
		MaxTokens:   1000,
		Phase:       core.PhaseStrategic,
		SystemPrompt: "You synthesize the results of a multi-step data task into a single, " +
			"coherent answer. Address every part of the user's request directly. Be concise " +
			"but complete, and never mention the steps or tools that were used internally.",
	})
	if err != nil {
		return "", fmt.Errorf("execution: LLM synthesis: %w", err)
	}
	return resp.Content, nil
}

func (s *Synthesizer) buildLLMPrompt(in SynthesisInput) string {
	var b strings.Builder
	b.WriteString("USER REQUEST:\n")
	b.WriteString(in.UserQuery)
	b.WriteString("\n\n")

	b.WriteString("STEP RESULTS:\n\n")
	for _, entry := range in.History {
		if entry.Result.Status == "success" {
			fmt.Fprintf(&b, "Step %d (%s): succeeded, %d row(s)\n", entry.Phase, entry.Action.ToolName, len(entry.Result.Results))
		} else {
			fmt.Fprintf(&b, "Step %d (%s): failed - %s\n", entry.Phase, entry.Action.ToolName, entry.Result.ErrorMessage)
		}
	}

	if in.FinalResult != nil {
		fmt.Fprintf(&b, "\nFINAL STEP OUTPUT:\n%v\n", in.FinalResult)
	}

	b.WriteString("\nTASK:\nUsing the request and the results above, write the final answer.\n\nFINAL ANSWER:")
	return b.String()
}

func (s *Synthesizer) synthesizeWithTemplate(in SynthesisInput) (string, error) {
	name := "default"
	lower := strings.ToLower(in.UserQuery)
	switch {
	case strings.Contains(lower, "analyze") || strings.Contains(lower, "analysis"):
		name = "analysis"
	case strings.Contains(lower, "report"):
		name = "report"
	case strings.Contains(lower, "summary") || strings.Contains(lower, "summarize"):
		name = "summary"
	}

	tmpl, ok := s.templates[name]
	if !ok {
		tmpl = s.templates["default"]
	}

	data := struct {
		Request string
		History []session.ActionHistoryEntry
		Result  interface{}
	}{Request: in.UserQuery, History: in.History, Result: in.FinalResult}

	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("execution: template synthesis: %w", err)
	}
	return out.String(), nil
}

func (s *Synthesizer) synthesizeSimple(in SynthesisInput) string {
	var b strings.Builder
	successCount := 0
	for _, entry := range in.History {
		if entry.Result.Status == "success" {
			successCount++
		}
	}

	if successCount == 0 {
		b.WriteString("I wasn't able to complete this request.\n\n")
		for _, entry := range in.History {
			if entry.Result.Status != "success" {
				fmt.Fprintf(&b, "- %s failed: %s\n", entry.Action.ToolName, entry.Result.ErrorMessage)
			}
		}
		return b.String()
	}

	if in.FinalResult != nil {
		fmt.Fprintf(&b, "%v\n", in.FinalResult)
		return b.String()
	}

	b.WriteString("Here's what I found:\n\n")
	for _, entry := range in.History {
		if entry.Result.Status == "success" && len(entry.Result.Results) > 0 {
			fmt.Fprintf(&b, "**%s**: %d row(s)\n", entry.Action.ToolName, len(entry.Result.Results))
		}
	}
	return b.String()
}

// AddTemplate registers a custom template under name, overriding any
// built-in of the same name.
func (s *Synthesizer) AddTemplate(name, templateStr string) error {
	tmpl, err := template.New(name).Parse(templateStr)
	if err != nil {
		return fmt.Errorf("execution: parse template %q: %w", name, err)
	}
	s.templates[name] = tmpl
	return nil
}

// Metrics returns the running synthesis counters.
func (s *Synthesizer) Metrics() map[string]int64 {
	return map[string]int64{
		"synthesis_count":  s.synthesisCount,
		"synthesis_errors": s.synthesisErrors,
	}
}

func (s *Synthesizer) loadDefaultTemplates() {
	defaultTemplate := `Based on your request: "{{.Request}}"

Here's what I found:

{{if .Result}}{{.Result}}{{end}}
{{range .History}}{{if ne .Result.Status "success"}}Note: {{.Action.ToolName}} failed - {{.Result.ErrorMessage}}
{{end}}{{end}}`

	analysisTemplate := `# Analysis Results

## Request
{{.Request}}

## Findings
{{.Result}}

## Steps
Completed {{len .History}} step(s) to answer this request.
`

	reportTemplate := `# Report

**Request:** {{.Request}}

## Summary
{{.Result}}

## Step Detail
{{range .History}}- {{.Action.ToolName}}: {{.Result.Status}}
{{end}}`

	summaryTemplate := `## Summary

Request: "{{.Request}}"

{{.Result}}
`

	s.templates["default"], _ = template.New("default").Parse(defaultTemplate)
	s.templates["analysis"], _ = template.New("analysis").Parse(analysisTemplate)
	s.templates["report"], _ = template.New("report").Parse(reportTemplate)
	s.templates["summary"], _ = template.New("summary").Parse(summaryTemplate)
}
