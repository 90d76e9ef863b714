package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/session"
)

type fakeSynthesizerAIClient struct {
	response string
	lastOpts *core.AIOptions
}

func (f *fakeSynthesizerAIClient) GenerateResponse(ctx context.Context, prompt string, opts *core.AIOptions) (*core.AIResponse, error) {
	f.lastOpts = opts
	return &core.AIResponse{Content: f.response}, nil
}

func successEntry(tool string, rows int) session.ActionHistoryEntry {
	results := make([]map[string]interface{}, rows)
	for i := range results {
		results[i] = map[string]interface{}{"id": i}
	}
	return session.ActionHistoryEntry{
		Action: session.ActionRecord{ToolName: tool},
		Result: session.ToolOutput{Status: "success", Results: results},
	}
}

func failureEntry(tool, errMsg string) session.ActionHistoryEntry {
	return session.ActionHistoryEntry{
		Action: session.ActionRecord{ToolName: tool},
		Result: session.ToolOutput{Status: "error", ErrorMessage: errMsg},
	}
}

func TestSynthesizeWithLLMUsesStrategicPhaseAndReturnsContent(t *testing.T) {
	ai := &fakeSynthesizerAIClient{response: "Revenue last week was $12,430."}
	s := NewSynthesizer(ai, nil, StrategyLLM)

	out, err := s.Synthesize(context.Background(), SynthesisInput{
		UserQuery: "what was revenue last week?",
		History:   []session.ActionHistoryEntry{successEntry("RunQuery", 7)},
	})
	require.NoError(t, err)
	assert.Equal(t, "Revenue last week was $12,430.", out)
	assert.Equal(t, core.PhaseStrategic, ai.lastOpts.Phase)
}

func TestSynthesizeWithLLMErrorsWithoutAIClient(t *testing.T) {
	s := NewSynthesizer(nil, nil, StrategyLLM)
	_, err := s.Synthesize(context.Background(), SynthesisInput{UserQuery: "hi"})
	assert.Error(t, err)
	assert.Equal(t, int64(1), s.Metrics()["synthesis_errors"])
}

func TestSynthesizeWithTemplateSelectsReportTemplateForReportQuery(t *testing.T) {
	s := NewSynthesizer(nil, nil, StrategyTemplate)

	out, err := s.Synthesize(context.Background(), SynthesisInput{
		UserQuery:   "generate a report on sales",
		FinalResult: "sales rose 10%",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "# Report")
	assert.Contains(t, out, "sales rose 10%")
}

func TestSynthesizeWithTemplateSelectsDefaultForUnrecognizedQuery(t *testing.T) {
	s := NewSynthesizer(nil, nil, StrategyTemplate)

	out, err := s.Synthesize(context.Background(), SynthesisInput{
		UserQuery:   "how many orders today",
		FinalResult: "42 orders",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "42 orders")
}

func TestSynthesizeSimpleListsFailuresWhenNothingSucceeded(t *testing.T) {
	s := NewSynthesizer(nil, nil, StrategySimple)

	out, err := s.Synthesize(context.Background(), SynthesisInput{
		UserQuery: "count orders",
		History:   []session.ActionHistoryEntry{failureEntry("RunQuery", "table not found")},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "wasn't able to complete")
	assert.Contains(t, out, "table not found")
}

func TestSynthesizeSimpleUsesFinalResultWhenPresent(t *testing.T) {
	s := NewSynthesizer(nil, nil, StrategySimple)

	out, err := s.Synthesize(context.Background(), SynthesisInput{
		UserQuery:   "count orders",
		History:     []session.ActionHistoryEntry{successEntry("RunQuery", 1)},
		FinalResult: "There are 42 orders.",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "There are 42 orders.")
}

func TestSynthesizeSimpleSummarizesStepsWithoutFinalResult(t *testing.T) {
	s := NewSynthesizer(nil, nil, StrategySimple)

	out, err := s.Synthesize(context.Background(), SynthesisInput{
		UserQuery: "count orders",
		History:   []session.ActionHistoryEntry{successEntry("RunQuery", 3)},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "RunQuery")
	assert.Contains(t, out, "3 row(s)")
}

func TestAddTemplateOverridesBuiltinTemplate(t *testing.T) {
	s := NewSynthesizer(nil, nil, StrategyTemplate)
	require.NoError(t, s.AddTemplate("default", "Custom: {{.Request}}"))

	out, err := s.Synthesize(context.Background(), SynthesisInput{UserQuery: "anything"})
	require.NoError(t, err)
	assert.Equal(t, "Custom: anything", out)
}

func TestAddTemplateRejectsInvalidSyntax(t *testing.T) {
	s := NewSynthesizer(nil, nil, StrategyTemplate)
	err := s.AddTemplate("broken", "{{.Unterminated")
	assert.Error(t, err)
}

func TestSynthesizeUnknownStrategyReturnsError(t *testing.T) {
	s := NewSynthesizer(nil, nil, SynthesisStrategy("nonsense"))
	_, err := s.Synthesize(context.Background(), SynthesisInput{UserQuery: "hi"})
	assert.Error(t, err)
}

func TestMetricsCountsSuccessfulSyntheses(t *testing.T) {
	s := NewSynthesizer(nil, nil, StrategySimple)
	_, err := s.Synthesize(context.Background(), SynthesisInput{UserQuery: "hi"})
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), SynthesisInput{UserQuery: "hi again"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), s.Metrics()["synthesis_count"])
	assert.Equal(t, int64(0), s.Metrics()["synthesis_errors"])
}
