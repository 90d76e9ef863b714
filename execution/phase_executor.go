package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rgeissen/turnengine/catalog"
	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/planning"
	"github.com/rgeissen/turnengine/session"
	"github.com/rgeissen/turnengine/toolproto"
)

// SubPromptRunner recursively executes a prompt-shaped phase at
// depth+1, sharing WorkflowState and ActionHistory with the caller.
// PlanExecutor supplies this hook so PhaseExecutor never constructs a
// PlanExecutor itself (that would be an import cycle: PlanExecutor embeds
// a PhaseExecutor).
type SubPromptRunner func(ctx context.Context, promptName string, args map[string]interface{}) (interface{}, error)

// PhaseExecutor executes one plan phase per the dispatch table: recursive
// prompt dispatch, column/date-range/hallucinated-loop orchestrator
// expansion, the fast path (no LM call, direct tool invocation) and the
// slow path (a tactical LM call decides the next action), with up to three
// tool-call attempts and correction-strategy-mediated retries.
type PhaseExecutor struct {
	Client    toolproto.Client
	Catalog   *catalog.Catalog
	AIClient  core.AIClient
	Validator *catalog.SchemaValidator
	Registry  *Registry

	// CatalogProvider, if set, tiers the unrestricted catalog renders below
	// (the correction registry's view and a tool-less phase's tactical
	// prompt) down to a selected subset instead of the full catalog text.
	// A phase with its own RelevantTools set already renders a narrow,
	// pre-restricted catalog and has no need for tiering.
	CatalogProvider *catalog.TieredProvider

	ColumnOrch       *ColumnIterationOrchestrator
	DateOrch         *DateRangeOrchestrator
	HallucinatedOrch *HallucinatedLoopOrchestrator

	Logger  core.Logger
	OnEvent EventFunc
	Clock   core.Clock

	RunSubPrompt SubPromptRunner

	MaxToolAttempts    int
	MaxTacticalRetries int
}

// EventFunc emits one lifecycle event (tool_intent, tool_result, tool_error,
// phase_start, phase_end, ...). name is the canonical event name; payload
// is event-specific.
type EventFunc func(name string, payload map[string]interface{})

// NewPhaseExecutor builds a PhaseExecutor with the standard retry budgets
// (3 tool attempts, 5 tactical retries before triggering planner recovery).
func NewPhaseExecutor(client toolproto.Client, cat *catalog.Catalog, aiClient core.AIClient) *PhaseExecutor {
	return &PhaseExecutor{
		Client:             client,
		Catalog:            cat,
		AIClient:           aiClient,
		Validator:          catalog.NewSchemaValidator(),
		Registry:           NewRegistry(aiClient),
		HallucinatedOrch:   NewHallucinatedLoopOrchestrator(),
		Logger:             core.NoOpLogger{},
		OnEvent:            func(string, map[string]interface{}) {},
		Clock:              core.SystemClock{},
		MaxToolAttempts:    3,
		MaxTacticalRetries: 5,
	}
}

// PhaseOutcome is what ExecutePhase returns: the result(s) stored into
// workflow state, or a FinalAnswer short-circuiting the rest of the turn.
type PhaseOutcome struct {
	Result      interface{}
	FinalAnswer string
	Stalled     bool // true if five tactical retries were exhausted
}

// ExecutePhase runs phase to completion, storing its result under
// result_of_phase_<N> in state and appending every (action, result) pair
// to history.
func (e *PhaseExecutor) ExecutePhase(ctx context.Context, phase planning.Phase, userGoal string, state *WorkflowState, history *ActionHistory, toolPhaseOf map[string]int) (*PhaseOutcome, error) {
	e.OnEvent(EventPhaseStart, map[string]interface{}{"phase_num": phase.Phase, "goal": phase.Goal})
	defer e.OnEvent(EventPhaseEnd, map[string]interface{}{"phase_num": phase.Phase})

	// Dispatch: recursive prompt.
	if phase.ExecutablePrompt != "" {
		if e.RunSubPrompt == nil {
			return nil, newError(KindArgumentMismatch, phase.Phase, "", fmt.Errorf("no sub-prompt runner configured"))
		}
		resolver := planning.NewResolver(state.Snapshot(), toolPhaseOf)
		resolvedArgs := resolver.Resolve(phase.Arguments, nil)
		result, err := e.RunSubPrompt(ctx, phase.ExecutablePrompt, resolvedArgs)
		if err != nil {
			return nil, err
		}
		state.Set(phase.Phase, result)
		return &PhaseOutcome{Result: result}, nil
	}

	// Bypass: ContextReport with a pre-populated answer.
	if containsName(phase.RelevantTools, "ContextReport") || phase.ExecutablePrompt == "ContextReport" {
		if answer, ok := phase.Arguments["answer_from_context"].(string); ok && answer != "" {
			state.Set(phase.Phase, answer)
			return &PhaseOutcome{Result: answer}, nil
		}
	}

	// Bypass: Charting with resolvable data.
	if containsName(phase.RelevantTools, "Charting") {
		return e.executeCharting(ctx, phase, state, toolPhaseOf)
	}

	if phase.Type == planning.PhaseTypeLoop {
		return e.executeLoopPhase(ctx, phase, userGoal, state, history, toolPhaseOf)
	}

	if len(phase.RelevantTools) > 1 {
		return e.executeMultiToolPhase(ctx, phase, userGoal, state, history, toolPhaseOf)
	}

	// Single-tool phase.
	return e.executeSingleToolPhase(ctx, phase, userGoal, state, history, toolPhaseOf)
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (e *PhaseExecutor) toolOf(phase planning.Phase) (toolproto.ToolDescriptor, bool) {
	if len(phase.RelevantTools) == 0 {
		return toolproto.ToolDescriptor{}, false
	}
	return e.Catalog.Tool(phase.RelevantTools[0])
}

// preflightPass is the fast-path rejection test: a required argument that
// is missing, empty, a placeholder dict, a hallucinated string list, or a
// temporal phrase forces the slow path.
func preflightPass(tool toolproto.ToolDescriptor, args map[string]interface{}) bool {
	for _, a := range tool.Args {
		if !a.Required {
			continue
		}
		v, ok := args[a.Name]
		if !ok {
			return false
		}
		switch val := v.(type) {
		case string:
			if val == "" || temporalPhraseRegex.MatchString(val) {
				return false
			}
		case map[string]interface{}:
			return false // unresolved placeholder dict
		case []interface{}:
			allStrings := len(val) > 0
			for _, item := range val {
				if _, isString := item.(string); !isString {
					allStrings = false
					break
				}
			}
			if allStrings {
				return false
			}
		case nil:
			return false
		}
	}
	return true
}

func (e *PhaseExecutor) executeSingleToolPhase(ctx context.Context, phase planning.Phase, userGoal string, state *WorkflowState, history *ActionHistory, toolPhaseOf map[string]int) (*PhaseOutcome, error) {
	tool, ok := e.toolOf(phase)
	if !ok {
		return e.runTacticalStep(ctx, phase, userGoal, state, history, toolPhaseOf)
	}

	if e.DateOrch != nil && e.DateOrch.AppliesTo(tool, phase.Arguments) {
		if err := e.applyDateRange(ctx, tool, &phase, userGoal); err != nil {
			return nil, err
		}
	}

	if e.ColumnOrch != nil && e.ColumnOrch.AppliesTo(tool, phase.Arguments) {
		return e.executeColumnIteration(ctx, phase, tool, state, history, toolPhaseOf)
	}

	resolver := planning.NewResolver(state.Snapshot(), toolPhaseOf)
	resolvedArgs := resolver.Resolve(phase.Arguments, nil)

	if !preflightPass(tool, resolvedArgs) || phase.NeedsRefinement {
		return e.runTacticalStep(ctx, phase, userGoal, state, history, toolPhaseOf)
	}

	result, err := e.invokeWithRetry(ctx, phase, tool.Name, resolvedArgs, userGoal, history)
	if err != nil {
		return nil, err
	}
	if result.FinalAnswer != "" {
		return result, nil
	}
	state.Set(phase.Phase, result.Result)
	return result, nil
}

func (e *PhaseExecutor) executeMultiToolPhase(ctx context.Context, phase planning.Phase, userGoal string, state *WorkflowState, history *ActionHistory, toolPhaseOf map[string]int) (*PhaseOutcome, error) {
	var results []interface{}
	for _, name := range phase.RelevantTools {
		tool, ok := e.Catalog.Tool(name)
		if !ok {
			continue
		}
		resolver := planning.NewResolver(state.Snapshot(), toolPhaseOf)
		resolvedArgs := resolver.Resolve(phase.Arguments, nil)

		single := phase
		single.RelevantTools = []string{name}
		outcome, err := e.invokeWithRetry(ctx, single, tool.Name, resolvedArgs, userGoal, history)
		if err != nil {
			return nil, err
		}
		if outcome.FinalAnswer != "" {
			return outcome, nil
		}
		results = append(results, outcome.Result)
	}
	state.Set(phase.Phase, results)
	return &PhaseOutcome{Result: results}, nil
}

func (e *PhaseExecutor) executeColumnIteration(ctx context.Context, phase planning.Phase, tool toolproto.ToolDescriptor, state *WorkflowState, history *ActionHistory, toolPhaseOf map[string]int) (*PhaseOutcome, error) {
	resolver := planning.NewResolver(state.Snapshot(), toolPhaseOf)
	resolvedArgs := resolver.Resolve(phase.Arguments, nil)

	tables := stringsFromArg(resolvedArgs, "table_name")
	items, err := e.ColumnOrch.Expand(ctx, tool, tables)
	if err != nil {
		return nil, newError(KindRecoverableTool, phase.Phase, "", err)
	}

	var results []interface{}
	for _, item := range items {
		merged := cloneArgs(resolvedArgs)
		merged["table_name"] = item.Table
		merged["column_name"] = item.Column
		outcome, err := e.invokeWithRetry(ctx, phase, tool.Name, merged, phase.Goal, history)
		if err != nil {
			return nil, err
		}
		if outcome.FinalAnswer != "" {
			return outcome, nil
		}
		results = append(results, outcome.Result)
	}
	state.Set(phase.Phase, results)
	return &PhaseOutcome{Result: results}, nil
}

func stringsFromArg(args map[string]interface{}, name string) []string {
	switch v := args[name].(type) {
	case string:
		return []string{v}
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func cloneArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

func (e *PhaseExecutor) applyDateRange(ctx context.Context, tool toolproto.ToolDescriptor, phase *planning.Phase, userGoal string) error {
	_, hasStart := tool.ArgSpecByName("start_date")
	_, hasEnd := tool.ArgSpecByName("end_date")
	resolution, err := e.DateOrch.Resolve(ctx, userGoal, hasStart && hasEnd)
	if err != nil {
		return newError(KindRecoverableTool, phase.Phase, "", err)
	}
	if phase.Arguments == nil {
		phase.Arguments = map[string]interface{}{}
	}
	switch {
	case resolution.Single != "":
		phase.Arguments["date"] = resolution.Single
	case resolution.Start != "":
		phase.Arguments["start_date"] = resolution.Start
		phase.Arguments["end_date"] = resolution.End
	case len(resolution.Days) > 0:
		phase.Type = planning.PhaseTypeLoop
		items := make([]interface{}, len(resolution.Days))
		for i, d := range resolution.Days {
			items[i] = d
		}
		phase.LoopOver = items
	}
	return nil
}

// executeLoopPhase dispatches a loop-type phase: column-scoped expansion,
// the hallucinated-loop repair, the fast path (simple tool, all args
// resolvable), or the slow path (standard per-item execution).
func (e *PhaseExecutor) executeLoopPhase(ctx context.Context, phase planning.Phase, userGoal string, state *WorkflowState, history *ActionHistory, toolPhaseOf map[string]int) (*PhaseOutcome, error) {
	tool, hasTool := e.toolOf(phase)

	if hasTool && e.HallucinatedOrch.AppliesTo(phase) {
		list, _ := phase.LoopOver.([]interface{})
		resolver := planning.NewResolver(state.Snapshot(), toolPhaseOf)
		baseArgs := resolver.Resolve(phase.Arguments, nil)
		expanded := e.HallucinatedOrch.Expand(tool, baseArgs, list)

		var results []interface{}
		for _, args := range expanded {
			outcome, err := e.invokeWithRetry(ctx, phase, tool.Name, args, userGoal, history)
			if err != nil {
				return nil, err
			}
			if outcome.FinalAnswer != "" {
				return outcome, nil
			}
			results = append(results, outcome.Result)
		}
		state.Set(phase.Phase, results)
		return &PhaseOutcome{Result: results}, nil
	}

	if hasTool && e.ColumnOrch != nil && e.ColumnOrch.AppliesTo(tool, phase.Arguments) {
		return e.executeColumnIteration(ctx, phase, tool, state, history, toolPhaseOf)
	}

	items := loopItems(state, phase.LoopOver)

	fastPathOK := hasTool && len(phase.RelevantTools) == 1 && tool.Scope == toolproto.ScopeNone
	if fastPathOK {
		resolver := planning.NewResolver(state.Snapshot(), toolPhaseOf)
		for _, item := range items {
			resolved := resolver.Resolve(phase.Arguments, item)
			if !preflightPass(tool, resolved) {
				fastPathOK = false
				break
			}
		}
	}

	var results []interface{}
	if fastPathOK {
		resolver := planning.NewResolver(state.Snapshot(), toolPhaseOf)
		for _, item := range items {
			resolved := resolver.Resolve(phase.Arguments, item)
			outcome, err := e.invokeWithRetry(ctx, phase, tool.Name, resolved, userGoal, history)
			if err != nil {
				return nil, err
			}
			if outcome.FinalAnswer != "" {
				return outcome, nil
			}
			results = append(results, outcome.Result)
		}
		state.Set(phase.Phase, results)
		return &PhaseOutcome{Result: results}, nil
	}

	// Slow path: standard-phase execution per item, driven by the
	// tactical LM call with the loop item in context.
	for _, item := range items {
		outcome, err := e.runTacticalStepWithLoopItem(ctx, phase, userGoal, state, history, toolPhaseOf, item)
		if err != nil {
			return nil, err
		}
		if outcome.FinalAnswer != "" {
			return outcome, nil
		}
		results = append(results, outcome.Result)
	}
	state.Set(phase.Phase, results)
	return &PhaseOutcome{Result: results}, nil
}

func loopItems(state *WorkflowState, loopOver interface{}) []interface{} {
	switch v := loopOver.(type) {
	case []interface{}:
		return v
	case map[string]interface{}:
		source, _ := v["source"].(string)
		snapshot := state.Snapshot()
		if list, ok := snapshot[source].([]interface{}); ok {
			return list
		}
		return nil
	default:
		return nil
	}
}

// executeCharting takes the rows of a tool output found in workflow state
// (the snapshot is a map, so with several tool outputs which one is used is
// not defined), builds a mapping from column classification, and invokes
// the Charting tool directly. injected_previous_turn_data holds the previous
// turn's answer text, not a tool output, so it never supplies chart data;
// with no tool output in state the phase falls back to the tactical step.
func (e *PhaseExecutor) executeCharting(ctx context.Context, phase planning.Phase, state *WorkflowState, toolPhaseOf map[string]int) (*PhaseOutcome, error) {
	snapshot := state.Snapshot()
	data := findFirstTabularResult(snapshot)
	if data == nil {
		return e.runTacticalStep(ctx, phase, phase.Goal, state, NewActionHistory(), toolPhaseOf)
	}

	mapping := classifyChartMapping(data)
	resolver := planning.NewResolver(snapshot, toolPhaseOf)
	args := resolver.Resolve(phase.Arguments, nil)
	args["data"] = data
	args["mapping"] = mapping

	outcome, err := e.invokeWithRetry(ctx, phase, "Charting", args, phase.Goal, NewActionHistory())
	if err != nil {
		return nil, err
	}
	state.Set(phase.Phase, outcome.Result)
	return outcome, nil
}

func findFirstTabularResult(snapshot map[string]interface{}) []map[string]interface{} {
	for _, v := range snapshot {
		if output, ok := v.(session.ToolOutput); ok && len(output.Results) > 0 {
			return output.Results
		}
	}
	return nil
}

// classifyChartMapping picks a numeric column of the first row as the y-axis
// value and a non-numeric column as the x-axis category, a simple heuristic
// in place of a full column-type classifier. The row is a map, so when
// several columns qualify, which one is picked is not defined.
func classifyChartMapping(rows []map[string]interface{}) map[string]interface{} {
	if len(rows) == 0 {
		return map[string]interface{}{}
	}
	var xCol, yCol string
	for col, v := range rows[0] {
		switch v.(type) {
		case float64, int, int64:
			if yCol == "" {
				yCol = col
			}
		default:
			if xCol == "" {
				xCol = col
			}
		}
	}
	return map[string]interface{}{"x": xCol, "y": yCol}
}

// invokeWithRetry executes one tool call with up to MaxToolAttempts
// attempts: a definitive error raises immediately, anything else is
// classified by the correction registry and the corrected action retried.
func (e *PhaseExecutor) invokeWithRetry(ctx context.Context, phase planning.Phase, toolName string, args map[string]interface{}, userGoal string, history *ActionHistory) (*PhaseOutcome, error) {
	attempts := 0
	currentTool, currentArgs := toolName, args

	for {
		attempts++
		e.OnEvent(EventToolIntent, map[string]interface{}{"tool_name": currentTool, "arguments": currentArgs})

		resp, err := e.Client.InvokeTool(ctx, currentTool, currentArgs)
		record := session.ActionRecord{ToolName: currentTool, Arguments: currentArgs}

		if err == nil && resp.Status == "success" {
			output := session.ToolOutput{Status: resp.Status, Metadata: resp.Metadata, Results: resp.Results, Data: resp.Data}
			history.Append(session.ActionHistoryEntry{Action: record, Result: output, Phase: phase.Phase})
			e.OnEvent(EventToolResult, map[string]interface{}{"tool_name": currentTool})
			return &PhaseOutcome{Result: output}, nil
		}

		errText := errorText(err, resp)
		output := session.ToolOutput{Status: "error", ErrorMessage: errText}
		history.Append(session.ActionHistoryEntry{Action: record, Result: output, Phase: phase.Phase})
		e.OnEvent(EventToolError, map[string]interface{}{"tool_name": currentTool, "error": errText})

		if IsDefinitiveError(errText) {
			return nil, newError(KindDefinitiveTool, phase.Phase, friendlyMessage(errText), errors.New(errText))
		}
		if attempts >= e.MaxToolAttempts {
			return nil, newError(KindRecoverableTool, phase.Phase, friendlyMessage(errText), errors.New(errText))
		}

		catalogText := e.catalogTextFor(ctx, userGoal)
		tool, _ := e.Catalog.Tool(currentTool)
		corrected, cErr := e.Registry.Correct(ctx, CorrectionContext{
			ToolName: currentTool, Arguments: currentArgs, ErrorText: errText,
			Goal: userGoal, CatalogText: catalogText, IsFinalReport: planning.IsReportingTool(currentTool) || tool.Name == "",
		})
		if cErr != nil {
			return nil, newError(KindRecoverableTool, phase.Phase, friendlyMessage(errText), cErr)
		}
		if corrected.FinalAnswer != "" {
			return &PhaseOutcome{FinalAnswer: corrected.FinalAnswer}, nil
		}
		if corrected.DelegateToPrompt != "" && e.RunSubPrompt != nil {
			result, err := e.RunSubPrompt(ctx, corrected.DelegateToPrompt, currentArgs)
			if err != nil {
				return nil, err
			}
			return &PhaseOutcome{Result: result}, nil
		}
		if corrected.ToolName != "" {
			currentTool = corrected.ToolName
		}
		if corrected.Arguments != nil {
			currentArgs = corrected.Arguments
		}
	}
}

// catalogTextFor renders the full catalog for goal, tiered through
// CatalogProvider when one is wired in, falling back to the untiered
// catalog otherwise or if tiered resolution errors.
func (e *PhaseExecutor) catalogTextFor(ctx context.Context, goal string) string {
	if e.CatalogProvider != nil {
		if text, err := e.CatalogProvider.ResolveCatalogText(ctx, goal); err == nil {
			return text
		}
	}
	return e.Catalog.FormatForLLM(nil)
}

func errorText(err error, resp *toolproto.ToolResponse) string {
	if err != nil {
		return err.Error()
	}
	if resp != nil && resp.ErrorMessage != "" {
		return resp.ErrorMessage
	}
	return "tool returned a non-success status with no error message"
}

func friendlyMessage(errText string) string {
	return "I couldn't complete this step: " + errText
}

// runTacticalStep drives the slow path: a tactical LM call chooses a
// single action, with duplicate-action detection and up to
// MaxTacticalRetries attempts before triggering planner-level recovery.
func (e *PhaseExecutor) runTacticalStep(ctx context.Context, phase planning.Phase, userGoal string, state *WorkflowState, history *ActionHistory, toolPhaseOf map[string]int) (*PhaseOutcome, error) {
	return e.runTacticalStepWithLoopItem(ctx, phase, userGoal, state, history, toolPhaseOf, nil)
}

func (e *PhaseExecutor) runTacticalStepWithLoopItem(ctx context.Context, phase planning.Phase, userGoal string, state *WorkflowState, history *ActionHistory, toolPhaseOf map[string]int, loopItem interface{}) (*PhaseOutcome, error) {
	var lastActionJSON string

	for retry := 0; retry < e.MaxTacticalRetries; retry++ {
		prompt := e.buildTacticalPrompt(ctx, phase, userGoal, state, loopItem, history)
		resp, err := e.AIClient.GenerateResponse(ctx, prompt, &core.AIOptions{Temperature: 0, MaxTokens: 800, Phase: core.PhaseTactical})
		if err != nil {
			return nil, newError(KindParse, phase.Phase, "", err)
		}

		actionJSON := planning.ExtractJSONValue(resp.Content)
		if actionJSON == lastActionJSON && actionJSON != "" {
			e.Logger.Warn("tactical step repeated the previous action", map[string]interface{}{"phase": phase.Phase})
			continue // forces a replan on the next attempt rather than re-executing
		}
		lastActionJSON = actionJSON

		var action struct {
			ToolName  string                 `json:"tool_name"`
			Arguments map[string]interface{} `json:"arguments"`
			FinalAnswer string               `json:"final_answer"`
		}
		if err := json.Unmarshal([]byte(actionJSON), &action); err != nil {
			continue // malformed action, try again within the retry budget
		}
		if action.FinalAnswer != "" {
			return &PhaseOutcome{FinalAnswer: action.FinalAnswer}, nil
		}

		tool, ok := e.Catalog.Tool(action.ToolName)
		args := action.Arguments
		if ok {
			refined, needsRefine := e.maybeRefineArguments(ctx, phase, tool, args)
			if needsRefine {
				args = refined
			}
		}

		outcome, err := e.invokeWithRetry(ctx, phase, action.ToolName, args, userGoal, history)
		if err != nil {
			if execErr, ok := err.(*Error); ok && execErr.Kind == KindRecoverableTool {
				continue // tactical retry budget absorbs this before phase-level failure
			}
			return nil, err
		}
		if outcome.FinalAnswer != "" {
			return outcome, nil
		}
		if loopItem == nil {
			state.Set(phase.Phase, outcome.Result)
		}
		return outcome, nil
	}

	return &PhaseOutcome{Stalled: true}, newError(KindPhaseStall, phase.Phase, "I got stuck repeating the same step and need to replan.", nil)
}

// maybeRefineArguments calls an LM argument-refiner when the provided
// arguments mismatch tool's schema (missing required, extraneous, or the
// planner flagged needs_refinement), returning the remapped set.
func (e *PhaseExecutor) maybeRefineArguments(ctx context.Context, phase planning.Phase, tool toolproto.ToolDescriptor, args map[string]interface{}) (map[string]interface{}, bool) {
	if e.Validator.ValidateArgs(tool, args) == nil && !phase.NeedsRefinement {
		return args, false
	}
	if e.AIClient == nil {
		return args, false
	}

	var schemaDesc strings.Builder
	for _, a := range tool.Args {
		req := ""
		if a.Required {
			req = ", required"
		}
		fmt.Fprintf(&schemaDesc, "- %s (%s%s): %s\n", a.Name, a.Type, req, a.Description)
	}
	argsJSON, _ := json.Marshal(args)
	prompt := fmt.Sprintf(
		"Goal: %s\nTool %s expects:\n%sProvided arguments: %s\n\nRespond with only the corrected JSON arguments object.",
		phase.Goal, tool.Name, schemaDesc.String(), string(argsJSON),
	)
	resp, err := e.AIClient.GenerateResponse(ctx, prompt, &core.AIOptions{Temperature: 0, MaxTokens: 400, Phase: core.PhaseTactical})
	if err != nil {
		return args, false
	}

	raw := planning.ExtractJSONValue(resp.Content)
	var refined map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &refined); err != nil {
		return args, false
	}
	return refined, true
}

// buildTacticalPrompt assembles the tactical LM call's input: the phase
// goal, the permitted catalog, loop context if applicable, and a distilled
// view of workflow state.
func (e *PhaseExecutor) buildTacticalPrompt(ctx context.Context, phase planning.Phase, userGoal string, state *WorkflowState, loopItem interface{}, history *ActionHistory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", phase.Goal)

	restrict := map[string]bool{}
	for _, name := range phase.RelevantTools {
		restrict[name] = true
	}
	if len(restrict) > 0 {
		b.WriteString(e.Catalog.FormatForLLM(restrict))
	} else {
		b.WriteString(e.catalogTextFor(ctx, userGoal))
	}

	if loopItem != nil {
		itemJSON, _ := json.Marshal(loopItem)
		fmt.Fprintf(&b, "\nLoop item: %s\n", itemJSON)
	}

	if last, ok := history.Last(); ok {
		fmt.Fprintf(&b, "\nPrevious action: %s -> %s\n", last.Action.ToolName, last.Result.Status)
	}

	distilled, _ := json.Marshal(state.DistilledView())
	fmt.Fprintf(&b, "\nWorkflow state:\n%s\n\n", distilled)

	b.WriteString("Respond with JSON {\"tool_name\":..., \"arguments\":{...}} or {\"final_answer\": text}.")
	return b.String()
}
