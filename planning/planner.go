package planning

import (
	"context"
	"fmt"
	"strings"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/toolproto"
)

// FewShotExample is one goal/plan pair shown to the LM to anchor its output
// format; configured once per deployment, not per turn.
type FewShotExample struct {
	Goal string
	Plan string // the JSON plan text, verbatim
}

// HistoryTurn is the minimal slice of a prior turn the planning prompt
// needs: what the user asked and how the assistant answered.
type HistoryTurn struct {
	UserQuery   string
	FinalAnswer string
}

// Request bundles everything one planning call needs beyond the engine's
// standing configuration.
type Request struct {
	// UserQuery is the turn's raw input. Goal is derived from it unless an
	// active prompt supplies one instead.
	UserQuery string
	// ActivePromptName, if set, is loaded via Client.LoadPrompt and used as
	// the planning goal in place of UserQuery.
	ActivePromptName string
	ActivePromptArgs map[string]interface{}

	Parameters       map[string]interface{}
	History          []HistoryTurn
	KnowledgeContext string
	FewShotExamples  []FewShotExample
	Constraints      []string

	// IsSubProcess marks a plan generated for a sub-prompt (a phase dispatched
	// via PlanExecutor.RunSubPrompt) rather than a top-level turn. Rule 11
	// (final-report guarantee) is skipped for every sub-process plan; whether
	// the sub-process summarises its results is not considered.
	IsSubProcess bool

	// SQLRule, if non-empty, is appended verbatim to the planning prompt: a
	// deployment-specific instruction on how SQL-capable tools must be used
	// (dialect, forbidden statements, row limits).
	SQLRule string

	// CatalogText is the rendered tool/prompt catalog (catalog.FormatForLLM
	// output), already restricted to whatever scope this turn permits.
	CatalogText string
}

// Result is everything a caller needs from one Plan call: the validated
// plan, the pre-rewrite plan for audit, the raw LM JSON, and every
// correction made along the way.
type Result struct {
	Plan        *MetaPlan
	RawPlan     *MetaPlan
	RawJSON     RawJSON
	Corrections []CorrectionEvent
}

// EventFunc receives one planning lifecycle event; used to emit the
// turn's SSE trace. name is a stable event identifier (e.g.
// "plan_generated"); detail is event-specific free text.
type EventFunc func(name, detail string)

// CatalogProvider resolves the tool/prompt catalog text for one planning
// call, alongside the set of names (lowercased) actually shown to the LM.
// catalog.TieredProvider satisfies this; wiring one in lets Planner both
// tier large catalogs down and validate the LM's response against exactly
// what it was shown (ValidateAgainstCatalog).
type CatalogProvider interface {
	ResolveCatalog(ctx context.Context, goal string) (text string, allowed map[string]bool, err error)
}

// Planner drives one plan-generation call: build the prompt, call the LM on
// the strategic channel, parse its response, then run the
// normalize -> rewrite -> validate pipeline.
type Planner struct {
	Client     toolproto.Client
	AIClient   core.AIClient
	Normalizer *Normalizer
	Rewriter   *Rewriter
	Validator  *Validator
	Logger     core.Logger
	OnEvent    EventFunc

	// Catalog, if set, resolves req.CatalogText and the allowed-name set
	// used by ValidateAgainstCatalog when a Request doesn't already carry
	// its own CatalogText. Optional: a nil Catalog with a caller-supplied
	// CatalogText plans exactly as before this field existed.
	Catalog CatalogProvider

	// MaxHallucinationRetries bounds how many times a plan referencing a
	// tool/prompt absent from the catalog shown to the LM triggers a
	// replan, before the hallucination is accepted and surfaced downstream
	// (ValidateAgainstCatalog's own tiered-selection-miss tolerance already
	// absorbs the common case, so a genuine hallucination reaching this
	// limit is rare).
	MaxHallucinationRetries int

	MaxTokens   int
	Temperature float32
}

// NewPlanner wires the pipeline stages into a Planner. client loads active
// prompts; aiClient drives the strategic LM call.
func NewPlanner(client toolproto.Client, aiClient core.AIClient, normalizer *Normalizer, rewriter *Rewriter, validator *Validator) *Planner {
	return &Planner{
		Client:                  client,
		AIClient:                aiClient,
		Normalizer:              normalizer,
		Rewriter:                rewriter,
		Validator:               validator,
		Logger:                  core.NoOpLogger{},
		OnEvent:                 func(string, string) {},
		MaxTokens:               2000,
		Temperature:             0,
		MaxHallucinationRetries: 1,
	}
}

// Plan runs the full planning algorithm: resolve the goal and catalog,
// then call planOnce up to MaxHallucinationRetries+1 times, folding a
// corrective constraint in whenever the prior attempt referenced a
// tool/prompt absent from the catalog shown to the LM.
func (p *Planner) Plan(ctx context.Context, req Request) (*Result, error) {
	goal, err := p.resolveGoal(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("planning: resolve goal: %w", err)
	}

	var allowed map[string]bool
	if p.Catalog != nil && req.CatalogText == "" {
		text, names, cerr := p.Catalog.ResolveCatalog(ctx, goal)
		if cerr != nil {
			p.Logger.WarnWithContext(ctx, "catalog resolution failed, planning without a catalog", map[string]interface{}{"error": cerr.Error()})
		} else {
			req.CatalogText = text
			allowed = names
		}
	}

	for attempt := 0; ; attempt++ {
		result, hallucinated, err := p.planOnce(ctx, req, goal, allowed)
		if err != nil {
			return nil, err
		}
		if hallucinated == "" || attempt >= p.MaxHallucinationRetries {
			return result, nil
		}
		p.Logger.WarnWithContext(ctx, "LM referenced a tool absent from the catalog, replanning", map[string]interface{}{
			"hallucinated_name": hallucinated, "attempt": attempt + 1,
		})
		req.Constraints = append(req.Constraints, fmt.Sprintf(
			"Your previous plan referenced %q, which is not an available tool or prompt. Use only the tools and prompts listed below.", hallucinated))
	}
}

// planOnce runs one LM call and the normalize -> rewrite -> validate
// pipeline, then checks the result against the catalog the LM was shown.
// It returns the hallucinated name alongside a non-nil Result when one is
// found, leaving the retry decision to Plan.
func (p *Planner) planOnce(ctx context.Context, req Request, goal string, allowed map[string]bool) (*Result, string, error) {
	prompt := buildPlanningPrompt(goal, req)

	resp, err := p.AIClient.GenerateResponse(ctx, prompt, &core.AIOptions{
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Phase:       core.PhaseStrategic,
	})
	if err != nil {
		return nil, "", fmt.Errorf("planning: strategic LM call: %w", err)
	}

	plan, raw, err := ParsePlan(resp.Content)
	if err != nil {
		p.Logger.ErrorWithContext(ctx, "planning: failed to parse LM response", map[string]interface{}{"error": err.Error()})
		return nil, "", err
	}

	if plan.Conversational {
		p.OnEvent("plan_generated", "conversational response, no phases to execute")
		return &Result{Plan: plan, RawPlan: plan, RawJSON: raw}, "", nil
	}

	// Re-parse the raw JSON for the audit copy: Normalize rewrites plan's
	// argument maps in place, and a struct copy would share those maps.
	rawCopy, _, err := ParsePlan(string(raw))
	if err != nil {
		rawCopy = clonePlan(plan)
	}

	p.Normalizer.Normalize(plan)

	var corrections []CorrectionEvent
	corrections = append(corrections, p.Rewriter.Rewrite(ctx, plan, goal, req.IsSubProcess)...)
	corrections = append(corrections, p.Validator.Validate(plan)...)

	result := &Result{Plan: plan, RawPlan: rawCopy, RawJSON: raw, Corrections: corrections}

	hallucinated, hallErr := ValidateAgainstCatalog(plan, allowed, p.Validator.Lookup)
	if hallErr != nil {
		return result, hallucinated, nil
	}

	p.OnEvent("plan_generated", fmt.Sprintf("%d phases, %d corrections", len(plan.Phases), len(corrections)))
	return result, "", nil
}

// resolveGoal implements the algorithm's first step: an active prompt's
// loaded body, if named, otherwise the user's query verbatim.
func (p *Planner) resolveGoal(ctx context.Context, req Request) (string, error) {
	if req.ActivePromptName == "" {
		return req.UserQuery, nil
	}
	body, err := p.Client.LoadPrompt(ctx, req.ActivePromptName, req.ActivePromptArgs)
	if err != nil {
		return "", err
	}
	return body, nil
}

func clonePlan(plan *MetaPlan) *MetaPlan {
	clone := &MetaPlan{Phases: make([]Phase, len(plan.Phases)), Conversational: plan.Conversational, Response: plan.Response}
	copy(clone.Phases, plan.Phases)
	return clone
}

// buildPlanningPrompt assembles the strategic prompt from every ingredient
// the algorithm specifies: goal, parameters, conversation history,
// retrieved knowledge, few-shot examples, deployment constraints, the SQL
// usage rule, and the tool/prompt catalog.
func buildPlanningPrompt(goal string, req Request) string {
	var b strings.Builder

	b.WriteString("Goal:\n")
	b.WriteString(goal)
	b.WriteString("\n\n")

	if len(req.Parameters) > 0 {
		b.WriteString("Parameters:\n")
		for k, v := range req.Parameters {
			fmt.Fprintf(&b, "- %s: %v\n", k, v)
		}
		b.WriteString("\n")
	}

	if len(req.History) > 0 {
		b.WriteString("Conversation history:\n")
		for _, h := range req.History {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", h.UserQuery, h.FinalAnswer)
		}
		b.WriteString("\n")
	}

	if req.KnowledgeContext != "" {
		b.WriteString("Retrieved knowledge:\n")
		b.WriteString(req.KnowledgeContext)
		b.WriteString("\n\n")
	}

	if len(req.FewShotExamples) > 0 {
		b.WriteString("Examples below are for inspiration only - adapt them to this task, do not copy them verbatim:\n\n")
		for _, ex := range req.FewShotExamples {
			fmt.Fprintf(&b, "Goal: %s\nPlan: %s\n\n", ex.Goal, ex.Plan)
		}
	}

	if len(req.Constraints) > 0 {
		b.WriteString("Constraints:\n")
		for _, c := range req.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	if req.SQLRule != "" {
		b.WriteString("SQL usage rule:\n")
		b.WriteString(req.SQLRule)
		b.WriteString("\n\n")
	}

	b.WriteString(req.CatalogText)

	b.WriteString("\n\nRespond with a JSON array of phases, a conversational object, or a single action object.")
	return b.String()
}
