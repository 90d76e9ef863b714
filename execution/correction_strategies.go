package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/planning"
)

// definitiveErrorPatterns is the regex table of unrecoverable tool errors;
// a match bypasses every correction strategy and raises a terminal
// DefinitiveToolError instead.
var definitiveErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)invalid query`),
	regexp.MustCompile(`(?i)permission denied`),
	regexp.MustCompile(`(?i)access denied`),
	regexp.MustCompile(`(?i)authentication failed`),
}

// IsDefinitiveError reports whether errText matches the definitive-error
// table, short-circuiting every correction strategy.
func IsDefinitiveError(errText string) bool {
	for _, re := range definitiveErrorPatterns {
		if re.MatchString(errText) {
			return true
		}
	}
	return false
}

var (
	tableNotFoundRegex  = regexp.MustCompile(`(?i)object '([^']+)' does not exist`)
	columnNotFoundRegex = regexp.MustCompile(`(?i)column '([^']+)' does not exist`)
)

// CorrectedAction is what a CorrectionStrategy proposes as the next
// attempt: either a revised tool call, or a short-circuiting final answer.
type CorrectedAction struct {
	// FinalAnswer, if non-empty, ends the phase immediately with this
	// user-visible text instead of retrying.
	FinalAnswer string

	// ToolName and Arguments are the corrected retry, used when
	// FinalAnswer is empty.
	ToolName  string
	Arguments map[string]interface{}

	// DelegateToPrompt names a prompt to hand the remaining work to,
	// instead of retrying the same tool (a prompt-delegation directive).
	DelegateToPrompt string
}

// CorrectionContext is everything a strategy needs to propose a fix.
type CorrectionContext struct {
	ToolName      string
	Arguments     map[string]interface{}
	ErrorText     string
	Goal          string
	CatalogText   string
	IsFinalReport bool
}

// CorrectionStrategy is one entry in the ordered registry; the first whose
// CanHandle returns true is applied.
type CorrectionStrategy interface {
	CanHandle(errorText string) bool
	Correct(ctx context.Context, cc CorrectionContext) (*CorrectedAction, error)
}

// TableNotFoundStrategy handles "Object '<name>' does not exist" by asking
// the LM for either a corrected table name or a prompt-delegation
// directive, grounded in a short recovery call over the catalog text.
type TableNotFoundStrategy struct{ AIClient core.AIClient }

func (s *TableNotFoundStrategy) CanHandle(errorText string) bool {
	return tableNotFoundRegex.MatchString(errorText)
}

func (s *TableNotFoundStrategy) Correct(ctx context.Context, cc CorrectionContext) (*CorrectedAction, error) {
	missing := tableNotFoundRegex.FindStringSubmatch(cc.ErrorText)
	name := ""
	if len(missing) > 1 {
		name = missing[1]
	}
	prompt := fmt.Sprintf(
		"Table %q does not exist. Goal: %s\n\nAvailable tables and tools:\n%s\n\n"+
			"Respond with JSON {\"tool_name\":..., \"arguments\":{...}} to retry with a valid "+
			"table, or {\"delegate_to_prompt\": name} if no table fits, or "+
			"{\"final_answer\": text} if neither tool nor prompt can proceed.",
		name, cc.Goal, cc.CatalogText,
	)
	return runRecoveryCall(ctx, s.AIClient, prompt, cc.ToolName, cc.Arguments)
}

// ColumnNotFoundStrategy mirrors TableNotFoundStrategy for a column error.
type ColumnNotFoundStrategy struct{ AIClient core.AIClient }

func (s *ColumnNotFoundStrategy) CanHandle(errorText string) bool {
	return columnNotFoundRegex.MatchString(errorText)
}

func (s *ColumnNotFoundStrategy) Correct(ctx context.Context, cc CorrectionContext) (*CorrectedAction, error) {
	missing := columnNotFoundRegex.FindStringSubmatch(cc.ErrorText)
	name := ""
	if len(missing) > 1 {
		name = missing[1]
	}
	prompt := fmt.Sprintf(
		"Column %q does not exist. Goal: %s\n\nAvailable tables and tools:\n%s\n\n"+
			"Respond with JSON {\"tool_name\":..., \"arguments\":{...}} to retry with a valid "+
			"column, or {\"delegate_to_prompt\": name} if no column fits, or "+
			"{\"final_answer\": text} if neither tool nor prompt can proceed.",
		name, cc.Goal, cc.CatalogText,
	)
	return runRecoveryCall(ctx, s.AIClient, prompt, cc.ToolName, cc.Arguments)
}

// GenericCorrectionStrategy is the fallback always consulted last: a
// JSON-parse error on a final-report tool gets a text-sanitisation
// sub-task; anything else gets a generic argument-correction/tool-switch/
// prompt-delegation recovery call.
type GenericCorrectionStrategy struct{ AIClient core.AIClient }

func (s *GenericCorrectionStrategy) CanHandle(errorText string) bool { return true }

func (s *GenericCorrectionStrategy) Correct(ctx context.Context, cc CorrectionContext) (*CorrectedAction, error) {
	if cc.IsFinalReport && isJSONParseError(cc.ErrorText) {
		return &CorrectedAction{
			ToolName: "SanitizeText",
			Arguments: map[string]interface{}{
				"raw_text": cc.Arguments["text"],
			},
		}, nil
	}

	prompt := fmt.Sprintf(
		"Tool %s failed: %s\nGoal: %s\nArguments tried: %v\n\nAvailable tools:\n%s\n\n"+
			"Respond with JSON {\"tool_name\":..., \"arguments\":{...}} for a corrected retry, "+
			"{\"delegate_to_prompt\": name} to hand off, or {\"final_answer\": text} to conclude.",
		cc.ToolName, cc.ErrorText, cc.Goal, cc.Arguments, cc.CatalogText,
	)
	return runRecoveryCall(ctx, s.AIClient, prompt, cc.ToolName, cc.Arguments)
}

func isJSONParseError(errText string) bool {
	re := regexp.MustCompile(`(?i)invalid character|unexpected end of JSON|json: `)
	return re.MatchString(errText)
}

// Registry holds the ordered CorrectionStrategy chain: table-not-found,
// column-not-found, then the generic fallback. The first whose CanHandle
// matches is applied.
type Registry struct {
	strategies []CorrectionStrategy
}

// NewRegistry builds the standard registry: table-not-found,
// column-not-found, then the generic fallback, in that order.
func NewRegistry(aiClient core.AIClient) *Registry {
	return &Registry{strategies: []CorrectionStrategy{
		&TableNotFoundStrategy{AIClient: aiClient},
		&ColumnNotFoundStrategy{AIClient: aiClient},
		&GenericCorrectionStrategy{AIClient: aiClient},
	}}
}

// Correct finds the first matching strategy and runs it.
func (r *Registry) Correct(ctx context.Context, cc CorrectionContext) (*CorrectedAction, error) {
	for _, s := range r.strategies {
		if s.CanHandle(cc.ErrorText) {
			return s.Correct(ctx, cc)
		}
	}
	return nil, fmt.Errorf("execution: no correction strategy matched")
}

func runRecoveryCall(ctx context.Context, aiClient core.AIClient, prompt, fallbackTool string, fallbackArgs map[string]interface{}) (*CorrectedAction, error) {
	if aiClient == nil {
		return &CorrectedAction{ToolName: fallbackTool, Arguments: fallbackArgs}, nil
	}
	resp, err := aiClient.GenerateResponse(ctx, prompt, &core.AIOptions{Temperature: 0, MaxTokens: 500, Phase: core.PhaseTactical})
	if err != nil {
		return nil, fmt.Errorf("execution: recovery call: %w", err)
	}
	return parseCorrectedAction(resp.Content)
}

// correctedActionJSON is the wire shape a recovery LM call is asked to
// return; exactly one of its fields is populated.
type correctedActionJSON struct {
	ToolName         string                 `json:"tool_name"`
	Arguments        map[string]interface{} `json:"arguments"`
	DelegateToPrompt string                 `json:"delegate_to_prompt"`
	FinalAnswer      string                 `json:"final_answer"`
}

func parseCorrectedAction(llmResponse string) (*CorrectedAction, error) {
	raw := planning.ExtractJSONValue(llmResponse)
	if raw == "" {
		return nil, fmt.Errorf("execution: recovery call returned no JSON")
	}
	var parsed correctedActionJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("execution: parse recovery call response: %w", err)
	}
	return &CorrectedAction{
		FinalAnswer:      parsed.FinalAnswer,
		ToolName:         parsed.ToolName,
		Arguments:        parsed.Arguments,
		DelegateToPrompt: parsed.DelegateToPrompt,
	}, nil
}
