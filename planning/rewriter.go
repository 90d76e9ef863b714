package planning

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/toolproto"
)

// dateShapedArgNames are argument names PlanRewriter treats as accepting a
// temporal phrase when wiring a CurrentDate phase's output forward.
var dateShapedArgNames = regexp.MustCompile(`(?i)^(date|start_date|end_date|as_of|reporting_date)$`)

// temporalPhraseRegex recognises the user phrases rule 1 looks for in the
// turn's goal text ("last N days", "yesterday", "this week", "N days ago").
var temporalPhraseRegex = regexp.MustCompile(`(?i)\b(last \d+ days?|past \d+ days?|yesterday|today|this week|this month|\d+ days? ago)\b`)

// Rewriter applies the eleven semantic plan rewrites in their fixed order,
// each idempotent, then renumbers phases contiguously.
type Rewriter struct {
	Catalog   ToolLookup
	Validator *Validator
	AIClient  core.AIClient
	Logger    core.Logger

	// PreviousTurnQuery and PreviousTurnToolNames support rule 7 (chart-
	// data reuse collapse): the previous turn's user query and the set of
	// tool names its data-fetch phases used.
	PreviousTurnQuery     string
	PreviousTurnToolNames map[string]bool
	// PreviousTurnResult, if set, is the most recent successful result of
	// the previous turn, used by rule 9 (previous-turn hydration).
	PreviousTurnResult interface{}

	// KnowledgeContext is the retrieved knowledge-context text, used by
	// rule 10 to synthesise an answer_from_context when one is missing.
	KnowledgeContext string

	SQLConsolidationEnabled bool
}

// NewRewriter builds a Rewriter. catalog resolves a tool name to its
// descriptor; validator is reused for rule 6's plan-level validation pass.
func NewRewriter(catalog ToolLookup, validator *Validator) *Rewriter {
	return &Rewriter{Catalog: catalog, Validator: validator, Logger: core.NoOpLogger{}}
}

// Rewrite applies all eleven rules in order and renumbers phases
// contiguously, returning the corrections made along the way. isSubProcess
// marks a plan generated for a sub-prompt rather than a top-level turn;
// rule 11 (final-report guarantee) is scoped to non-sub-process plans only.
func (r *Rewriter) Rewrite(ctx context.Context, plan *MetaPlan, userGoal string, isSubProcess bool) []CorrectionEvent {
	if plan.Conversational {
		return nil
	}

	var events []CorrectionEvent
	events = append(events, r.temporalDataFlow(plan, userGoal)...)
	events = append(events, r.sqlConsolidation(ctx, plan)...)
	events = append(events, r.multiLoopSynthesis(plan)...)
	events = append(events, r.inefficientLMTaskLoop(ctx, plan)...)
	events = append(events, r.dateRangeLoopRepair(plan)...)
	events = append(events, r.Validator.Validate(plan)...)
	events = append(events, r.chartDataReuseCollapse(plan, userGoal)...)
	events = append(events, r.chartingCleanup(plan)...)
	events = append(events, r.previousTurnHydration(plan)...)
	events = append(events, r.emptyContextReportSynthesis(ctx, plan)...)
	if !isSubProcess {
		events = append(events, r.finalReportGuarantee(plan)...)
	}

	renumber(plan)
	return events
}

func renumber(plan *MetaPlan) {
	for i := range plan.Phases {
		plan.Phases[i].Phase = i + 1
	}
}

// rule 1: temporal data flow.
func (r *Rewriter) temporalDataFlow(plan *MetaPlan, userGoal string) []CorrectionEvent {
	var events []CorrectionEvent

	phrase := temporalPhraseRegex.FindString(userGoal)
	hasCurrentDatePhase := false
	for _, p := range plan.Phases {
		if containsTool(p.RelevantTools, "CurrentDate") {
			hasCurrentDatePhase = true
			break
		}
	}
	if !hasCurrentDatePhase || phrase == "" {
		return nil
	}

	for i := range plan.Phases {
		p := &plan.Phases[i]
		if len(p.RelevantTools) != 1 || containsTool(p.RelevantTools, "CurrentDate") {
			continue
		}
		tool, ok := r.Catalog(p.RelevantTools[0])
		if !ok {
			continue
		}
		for _, arg := range tool.Args {
			if !dateShapedArgNames.MatchString(arg.Name) {
				continue
			}
			if _, already := p.Arguments[arg.Name]; already {
				continue
			}
			if p.Arguments == nil {
				p.Arguments = map[string]interface{}{}
			}
			p.Arguments[arg.Name] = phrase
			events = append(events, CorrectionEvent{Phase: p.Phase, Rule: "temporal_data_flow",
				Description: fmt.Sprintf("injected temporal phrase %q into %s", phrase, arg.Name)})
		}
	}
	return events
}

// rule 2: SQL consolidation (opt-in). Merges a contiguous run of SQL-reading
// phases into one via a strategic LM call; left disabled unless
// SQLConsolidationEnabled and an AIClient are both configured.
func (r *Rewriter) sqlConsolidation(ctx context.Context, plan *MetaPlan) []CorrectionEvent {
	if !r.SQLConsolidationEnabled || r.AIClient == nil {
		return nil
	}

	start := -1
	for i, p := range plan.Phases {
		if isSQLReadPhase(p) {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 && i-start > 1 {
			break
		}
		start = -1
	}
	if start == -1 {
		return nil
	}
	end := start
	for end < len(plan.Phases) && isSQLReadPhase(plan.Phases[end]) {
		end++
	}
	if end-start < 2 {
		return nil
	}

	merged, err := r.mergeSQLPhases(ctx, plan.Phases[start:end])
	if err != nil {
		r.Logger.Warn("SQL consolidation call failed, leaving phases unmerged", map[string]interface{}{"error": err.Error()})
		return nil
	}

	newPhases := append([]Phase{}, plan.Phases[:start]...)
	newPhases = append(newPhases, merged)
	newPhases = append(newPhases, plan.Phases[end:]...)
	plan.Phases = newPhases

	return []CorrectionEvent{{Phase: merged.Phase, Rule: "sql_consolidation",
		Description: fmt.Sprintf("merged %d SQL-reading phases into one", end-start)}}
}

func isSQLReadPhase(p Phase) bool {
	return containsTool(p.RelevantTools, "RunSQLQuery") || containsTool(p.RelevantTools, "RunQuery")
}

func (r *Rewriter) mergeSQLPhases(ctx context.Context, phases []Phase) (Phase, error) {
	var goals []string
	for _, p := range phases {
		goals = append(goals, p.Goal)
	}
	prompt := "Merge these SQL read steps into a single equivalent SQL query. Respond with only the SQL text.\n\n" + strings.Join(goals, "\n")

	resp, err := r.AIClient.GenerateResponse(ctx, prompt, &core.AIOptions{Temperature: 0, MaxTokens: 800, Phase: core.PhaseStrategic})
	if err != nil {
		return Phase{}, err
	}

	merged := phases[0]
	if merged.Arguments == nil {
		merged.Arguments = map[string]interface{}{}
	}
	merged.Arguments["sql"] = strings.TrimSpace(resp.Content)
	merged.Goal = "Consolidated SQL read"
	return merged, nil
}

// rule 3: multi-loop synthesis. Two or more sibling loops over the same
// source feeding an LM-synthesis phase get a per-item distillation phase
// inserted between them and the synthesis step.
func (r *Rewriter) multiLoopSynthesis(plan *MetaPlan) []CorrectionEvent {
	var events []CorrectionEvent

	for i := 1; i < len(plan.Phases); i++ {
		synth := plan.Phases[i]
		if !isSynthesisPhase(synth) {
			continue
		}
		var siblingLoops []int
		for j := i - 1; j >= 0; j-- {
			if plan.Phases[j].Type != PhaseTypeLoop {
				break
			}
			siblingLoops = append([]int{j}, siblingLoops...)
		}
		if len(siblingLoops) < 2 || !sameLoopSource(plan.Phases, siblingLoops) {
			continue
		}

		distill := Phase{
			Goal:          "Distil each loop item's result before synthesis",
			RelevantTools: []string{"DistillLoopResult"},
			Arguments:     map[string]interface{}{},
		}
		newPhases := append([]Phase{}, plan.Phases[:i]...)
		newPhases = append(newPhases, distill)
		newPhases = append(newPhases, plan.Phases[i:]...)
		plan.Phases = newPhases

		events = append(events, CorrectionEvent{Phase: i + 1, Rule: "multi_loop_synthesis",
			Description: "inserted a distillation phase ahead of multi-loop synthesis"})
		break // re-scan on next Rewrite call if more instances exist; idempotent per pass
	}
	return events
}

func isSynthesisPhase(p Phase) bool {
	return containsTool(p.RelevantTools, "SynthesizeResults") || containsTool(p.RelevantTools, "Summarize")
}

func sameLoopSource(phases []Phase, indices []int) bool {
	var first string
	for n, idx := range indices {
		src := fmt.Sprintf("%v", phases[idx].LoopOver)
		if n == 0 {
			first = src
			continue
		}
		if src != first {
			return false
		}
	}
	return true
}

// rule 4: inefficient LM-task loop. A loop whose body is an LM-synthesis
// task is classified aggregation/synthesis by a short tactical LM call; an
// aggregation loop is converted to a single phase over the whole source.
func (r *Rewriter) inefficientLMTaskLoop(ctx context.Context, plan *MetaPlan) []CorrectionEvent {
	if r.AIClient == nil {
		return nil
	}
	var events []CorrectionEvent
	for i := range plan.Phases {
		p := &plan.Phases[i]
		if p.Type != PhaseTypeLoop || !isSynthesisPhase(*p) {
			continue
		}
		class, err := r.classifyLoopTask(ctx, p.Goal)
		if err != nil {
			continue
		}
		if class == "aggregation" {
			p.Type = PhaseTypeDefault
			if p.Arguments == nil {
				p.Arguments = map[string]interface{}{}
			}
			p.Arguments["source_data"] = p.LoopOver
			p.LoopOver = nil
			events = append(events, CorrectionEvent{Phase: p.Phase, Rule: "inefficient_lm_task_loop",
				Description: "converted aggregation loop into a single phase over its source"})
		}
	}
	return events
}

func (r *Rewriter) classifyLoopTask(ctx context.Context, goal string) (string, error) {
	prompt := fmt.Sprintf("Classify this loop-body task as exactly one word, \"aggregation\" or \"synthesis\": %s", goal)
	resp, err := r.AIClient.GenerateResponse(ctx, prompt, &core.AIOptions{Temperature: 0, MaxTokens: 10, Phase: core.PhaseTactical})
	if err != nil {
		return "", err
	}
	class := strings.ToLower(strings.TrimSpace(resp.Content))
	if strings.Contains(class, "aggregation") {
		return "aggregation", nil
	}
	return "synthesis", nil
}

// rule 5: date-range loop repair.
func (r *Rewriter) dateRangeLoopRepair(plan *MetaPlan) []CorrectionEvent {
	var events []CorrectionEvent
	for i := 0; i < len(plan.Phases)-1; i++ {
		if !containsTool(plan.Phases[i].RelevantTools, "DateRange") {
			continue
		}
		dep := &plan.Phases[i+1]
		tool, ok := r.toolOf(*dep)
		if !ok {
			continue
		}
		startSpec, hasStart := tool.ArgSpecByName("start_date")
		endSpec, hasEnd := tool.ArgSpecByName("end_date")
		if hasStart && hasEnd {
			if dep.Arguments == nil {
				dep.Arguments = map[string]interface{}{}
			}
			dep.Arguments[startSpec.Name] = map[string]interface{}{"source": fmt.Sprintf("result_of_phase_%d", plan.Phases[i].Phase), "key": "start"}
			dep.Arguments[endSpec.Name] = map[string]interface{}{"source": fmt.Sprintf("result_of_phase_%d", plan.Phases[i].Phase), "key": "end"}
			events = append(events, CorrectionEvent{Phase: dep.Phase, Rule: "date_range_loop_repair",
				Description: "wired date-range start/end directly into paired parameters"})
		} else {
			dep.Type = PhaseTypeLoop
			dep.LoopOver = map[string]interface{}{"source": fmt.Sprintf("result_of_phase_%d", plan.Phases[i].Phase)}
			events = append(events, CorrectionEvent{Phase: dep.Phase, Rule: "date_range_loop_repair",
				Description: "converted date-dependent phase into a loop over the date-range result"})
		}
	}
	return events
}

func (r *Rewriter) toolOf(p Phase) (toolproto.ToolDescriptor, bool) {
	if len(p.RelevantTools) != 1 {
		return toolproto.ToolDescriptor{}, false
	}
	return r.Catalog(p.RelevantTools[0])
}

// rule 7: chart-data reuse collapse.
func (r *Rewriter) chartDataReuseCollapse(plan *MetaPlan, userGoal string) []CorrectionEvent {
	if r.PreviousTurnToolNames == nil || !isChartOnlyGoal(userGoal) {
		return nil
	}
	if !similarIntent(r.PreviousTurnQuery, userGoal) {
		return nil
	}

	var events []CorrectionEvent
	kept := plan.Phases[:0:0]
	for _, p := range plan.Phases {
		if len(p.RelevantTools) == 1 && r.PreviousTurnToolNames[p.RelevantTools[0]] && !containsTool(p.RelevantTools, "Charting") {
			events = append(events, CorrectionEvent{Phase: p.Phase, Rule: "chart_data_reuse_collapse",
				Description: "dropped redundant data-fetch phase already produced by the previous turn"})
			continue
		}
		kept = append(kept, p)
	}
	plan.Phases = kept
	return events
}

func isChartOnlyGoal(goal string) bool {
	lower := strings.ToLower(goal)
	return strings.Contains(lower, "chart") || strings.Contains(lower, "plot") || strings.Contains(lower, "graph")
}

func similarIntent(previous, current string) bool {
	if previous == "" {
		return false
	}
	return similarity(strings.ToLower(previous), strings.ToLower(current)) >= 0.5
}

// rule 8: charting cleanup. The planner cannot know real column names, so
// mapping/data on a same-turn Charting phase are stripped; the executor's
// charting bypass fills them deterministically.
func (r *Rewriter) chartingCleanup(plan *MetaPlan) []CorrectionEvent {
	var events []CorrectionEvent
	for i := range plan.Phases {
		p := &plan.Phases[i]
		if !containsTool(p.RelevantTools, "Charting") {
			continue
		}
		changed := false
		if _, ok := p.Arguments["mapping"]; ok {
			delete(p.Arguments, "mapping")
			changed = true
		}
		if _, ok := p.Arguments["data"]; ok {
			delete(p.Arguments, "data")
			changed = true
		}
		if changed {
			events = append(events, CorrectionEvent{Phase: p.Phase, Rule: "charting_cleanup",
				Description: "stripped mapping/data from Charting phase; executor fills them deterministically"})
		}
	}
	return events
}

// rule 9: previous-turn hydration.
func (r *Rewriter) previousTurnHydration(plan *MetaPlan) []CorrectionEvent {
	if len(plan.Phases) == 0 || r.PreviousTurnResult == nil {
		return nil
	}
	first := &plan.Phases[0]
	if first.Type != PhaseTypeLoop {
		return nil
	}
	if !isForwardReference(first.LoopOver, plan) {
		return nil
	}

	const syntheticKey = "injected_previous_turn_data"
	first.LoopOver = map[string]interface{}{"source": syntheticKey}
	return []CorrectionEvent{{Phase: first.Phase, Rule: "previous_turn_hydration",
		Description: "hydrated first-phase loop source from the previous turn's result"}}
}

func isForwardReference(loopOver interface{}, plan *MetaPlan) bool {
	m, ok := loopOver.(map[string]interface{})
	if !ok {
		return false
	}
	source, _ := m["source"].(string)
	var n int
	if _, err := fmt.Sscanf(source, "result_of_phase_%d", &n); err != nil {
		return false
	}
	return n >= 1 // phase 1's loop can never legitimately reference phase >=1 yet
}

// rule 10: empty-context-report synthesis.
func (r *Rewriter) emptyContextReportSynthesis(ctx context.Context, plan *MetaPlan) []CorrectionEvent {
	if r.AIClient == nil || r.KnowledgeContext == "" {
		return nil
	}
	var events []CorrectionEvent
	for i := range plan.Phases {
		p := &plan.Phases[i]
		if p.ExecutablePrompt != "ContextReport" && !containsTool(p.RelevantTools, "ContextReport") {
			continue
		}
		if _, ok := p.Arguments["answer_from_context"]; ok {
			continue
		}
		answer, err := r.synthesizeFromContext(ctx, p.Goal)
		if err != nil {
			continue
		}
		if p.Arguments == nil {
			p.Arguments = map[string]interface{}{}
		}
		p.Arguments["answer_from_context"] = answer
		events = append(events, CorrectionEvent{Phase: p.Phase, Rule: "empty_context_report_synthesis",
			Description: "synthesised answer_from_context from the retrieved knowledge context"})
	}
	return events
}

func (r *Rewriter) synthesizeFromContext(ctx context.Context, goal string) (string, error) {
	prompt := fmt.Sprintf("Using only this context, answer: %s\n\nContext:\n%s", goal, r.KnowledgeContext)
	resp, err := r.AIClient.GenerateResponse(ctx, prompt, &core.AIOptions{Temperature: 0.2, MaxTokens: 500, Phase: core.PhaseTactical})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// rule 11: final-report guarantee.
func (r *Rewriter) finalReportGuarantee(plan *MetaPlan) []CorrectionEvent {
	if len(plan.Phases) == 0 {
		return nil
	}
	last := plan.Phases[len(plan.Phases)-1]
	if last.IsReportingPhase() {
		return nil
	}
	report := Phase{Goal: "Summarise the turn's results", RelevantTools: []string{"FinalReport"}, Arguments: map[string]interface{}{}}
	plan.Phases = append(plan.Phases, report)
	return []CorrectionEvent{{Phase: len(plan.Phases), Rule: "final_report_guarantee",
		Description: "appended a FinalReport phase; plan did not end in a reporting tool"}}
}

func containsTool(tools []string, name string) bool {
	for _, t := range tools {
		if t == name {
			return true
		}
	}
	return false
}
