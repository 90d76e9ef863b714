package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/planning"
	"github.com/rgeissen/turnengine/session"
)

// TurnState is where a turn sits in the PLANNING -> EXECUTING ->
// SUMMARIZING -> DONE state machine, with ERROR as the sole terminal
// failure state.
type TurnState string

const (
	StatePlanning    TurnState = "planning"
	StateExecuting   TurnState = "executing"
	StateSummarizing TurnState = "summarizing"
	StateDone        TurnState = "done"
	StateError       TurnState = "error"
)

// ExecutionMode is one of the four ways a turn can be carried out,
// decided once at turn entry from the resolved profile.
type ExecutionMode string

const (
	ModeLLMOnly           ExecutionMode = "llm_only"
	ModeConversationTools ExecutionMode = "conversation_with_tools"
	ModeRAGFocused        ExecutionMode = "rag_focused"
	ModeToolEnabled       ExecutionMode = "tool_enabled"
)

// Profile is the per-turn behavioral configuration a (user, active prompt)
// pair resolves to: which mode to run in, whether knowledge retrieval is
// mandatory, and a tag recorded on the persisted turn for provenance.
type Profile struct {
	Tag             string
	Mode            ExecutionMode
	SystemPrompt    string
	RAGMandatory    bool
	MCPToolsEnabled bool
}

// ProfileResolver picks a Profile for a turn, normally keyed by the active
// prompt name (or a session-level default when none is active).
type ProfileResolver interface {
	Resolve(ctx context.Context, userID, activePromptName string) (Profile, error)
}

// StaticProfileResolver always returns the same Profile; the default when
// no profile catalog is wired in.
type StaticProfileResolver struct{ Profile Profile }

func (r StaticProfileResolver) Resolve(ctx context.Context, userID, activePromptName string) (Profile, error) {
	return r.Profile, nil
}

// KnowledgeRetriever performs the turn's RAG lookup, returning the text
// fed into the planning prompt's retrieved-knowledge section and the
// source identifiers attached to the final answer.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, query string) (text string, sources []string, err error)
}

// NoOpKnowledgeRetriever always returns no documents; the default when no
// knowledge base is wired in.
type NoOpKnowledgeRetriever struct{}

func (NoOpKnowledgeRetriever) Retrieve(ctx context.Context, query string) (string, []string, error) {
	return "", nil, nil
}

// AttachmentLoader resolves a turn's attachment references (file uploads,
// pasted documents) into LM-consumable text, size-capped.
type AttachmentLoader interface {
	Load(ctx context.Context, refs []string) (string, error)
}

// NoOpAttachmentLoader returns no attachment context; the default when a
// turn carries no attachment references.
type NoOpAttachmentLoader struct{}

func (NoOpAttachmentLoader) Load(ctx context.Context, refs []string) (string, error) { return "", nil }

// QuotaChecker rejects a turn at entry when the (user, session) pair has
// exceeded its rate limit or quota, before any LM call is made.
type QuotaChecker interface {
	Allow(userID, sessionID string) error
}

// NoOpQuotaChecker never rejects; the default when rate limiting is
// disabled.
type NoOpQuotaChecker struct{}

func (NoOpQuotaChecker) Allow(userID, sessionID string) error { return nil }

// TurnRequest is everything RunTurn needs to carry out one turn.
type TurnRequest struct {
	UserID           string
	SessionID        string
	UserQuery        string
	ActivePromptName string
	ActivePromptArgs map[string]interface{}
	AttachmentRefs   []string
}

// cancellationTable is the process-wide (userID, sessionID) -> cancelled
// flag PlanExecutor polls at every phase/LM-call boundary.
type cancellationTable struct {
	mu        sync.Mutex
	cancelled map[string]bool
}

func newCancellationTable() *cancellationTable {
	return &cancellationTable{cancelled: make(map[string]bool)}
}

func cancellationKey(userID, sessionID string) string { return userID + "\x00" + sessionID }

// Cancel marks (userID, sessionID)'s in-flight turn for cancellation.
func (t *cancellationTable) Cancel(userID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled[cancellationKey(userID, sessionID)] = true
}

// Clear removes the flag once a turn has finished (successfully,
// cancelled, or errored) so the next turn starts clean.
func (t *cancellationTable) Clear(userID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cancelled, cancellationKey(userID, sessionID))
}

// IsCancelled reports whether (userID, sessionID) was asked to cancel.
func (t *cancellationTable) IsCancelled(userID, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled[cancellationKey(userID, sessionID)]
}

// PlanExecutor is the top-level turn controller: it resolves the turn's
// profile and mode, builds and runs the planning/execution pipeline (or
// one of the three simpler modes), and persists the finished turn.
// A sub-executor (a prompt-dispatched phase) is a fresh PlanExecutor at
// depth+1 sharing this one's WorkflowState/ActionHistory pointers; only
// depth 0 persists to the session's workflow history.
type PlanExecutor struct {
	Store       session.Store
	StrategicAI core.AIClient
	TacticalAI  core.AIClient
	Planner     *planning.Planner
	PhaseExec   *PhaseExecutor
	Synthesizer *Synthesizer

	Knowledge   KnowledgeRetriever
	Attachments AttachmentLoader
	Profiles    ProfileResolver
	Quota       QuotaChecker

	Clock  core.Clock
	Logger core.Logger

	OnEvent EventFunc

	MaxConversationToolIterations int

	// MaxPlanRecoveries bounds how many times a stalled phase (duplicate
	// tactical action, or exhausted tactical retries) may trigger a
	// planner-level recovery that asks the LM for a wholly new plan from
	// the current workflow state, before the stall is surfaced as an error.
	MaxPlanRecoveries int

	// SkipSummarization, when true, makes the tool-enabled and
	// conversation-with-tools modes return the last phase's raw result
	// instead of calling the synthesizer. Sub-executors default to true
	// (depth > 0): sub-processes skip summarisation unless
	// ForceSubSummarization overrides it for their children.
	SkipSummarization bool
	// ForceSubSummarization, when true, makes RunSubPrompt's sub-executors
	// summarise anyway instead of defaulting to SkipSummarization.
	ForceSubSummarization bool

	cancellation *cancellationTable
	depth        int
}

// NewPlanExecutor builds a depth-0 PlanExecutor with every optional
// collaborator defaulted to its no-op form.
func NewPlanExecutor(store session.Store, planner *planning.Planner, phaseExec *PhaseExecutor, synthesizer *Synthesizer) *PlanExecutor {
	return &PlanExecutor{
		Store:                         store,
		Planner:                       planner,
		PhaseExec:                     phaseExec,
		Synthesizer:                   synthesizer,
		Knowledge:                     NoOpKnowledgeRetriever{},
		Attachments:                   NoOpAttachmentLoader{},
		Profiles:                      StaticProfileResolver{Profile: Profile{Mode: ModeToolEnabled}},
		Quota:                         NoOpQuotaChecker{},
		Clock:                         core.SystemClock{},
		Logger:                        core.NoOpLogger{},
		OnEvent:                       func(string, map[string]interface{}) {},
		MaxConversationToolIterations: 6,
		MaxPlanRecoveries:             1,
		cancellation:                  newCancellationTable(),
	}
}

// Cancel flags (userID, sessionID)'s in-flight turn for cooperative
// cancellation; the turn persists with status "cancelled" at its next
// suspension point.
func (e *PlanExecutor) Cancel(userID, sessionID string) { e.cancellation.Cancel(userID, sessionID) }

// RunTurn carries out one complete user->assistant exchange: rejects at
// entry on quota/rate-limit, resolves the turn number and profile, picks
// an execution mode, runs it, and persists the resulting Turn.
func (e *PlanExecutor) RunTurn(ctx context.Context, req TurnRequest) (*session.Turn, error) {
	if err := e.Quota.Allow(req.UserID, req.SessionID); err != nil {
		return nil, newError(KindQuota, 0, "I can't start a new turn right now; please try again shortly.", err)
	}

	sess, err := e.Store.Get(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("execution: load session: %w", err)
	}

	turnNumber := sess.NextTurnNumber()
	startedAt := e.Clock.Now()

	e.OnEvent(EventExecutionStart, map[string]interface{}{"turn": turnNumber, "user_id": req.UserID, "session_id": req.SessionID})

	profile, err := e.Profiles.Resolve(ctx, req.UserID, req.ActivePromptName)
	if err != nil {
		return nil, fmt.Errorf("execution: resolve profile: %w", err)
	}

	attachmentContext := ""
	if len(req.AttachmentRefs) > 0 {
		attachmentContext, err = e.Attachments.Load(ctx, req.AttachmentRefs)
		if err != nil {
			e.Logger.Warn("attachment load failed, continuing without it", map[string]interface{}{"error": err.Error()})
		}
	}

	state := NewWorkflowState(nil)
	if last, ok := lastSuccessfulResult(sess); ok {
		state = NewWorkflowState(last)
	}
	history := NewActionHistory()

	turn := &session.Turn{
		Number:     turnNumber,
		UserQuery:  req.UserQuery,
		ProfileTag: profile.Tag,
		StartedAt:  startedAt,
	}

	result, execErr := e.runMode(ctx, req, profile, attachmentContext, sess, state, history, turn)

	if execErr != nil {
		return e.finishErrored(ctx, req, turn, execErr)
	}

	turn.FinalAnswerText = result
	turn.ActionHistory = history.All()
	turn.Status = session.TurnSuccess
	turn.CompletedAt = e.Clock.Now()
	turn.Duration = turn.CompletedAt.Sub(turn.StartedAt)

	if e.depth == 0 {
		if err := e.Store.AppendTurn(ctx, req.UserID, req.SessionID, *turn); err != nil {
			e.Logger.Error("persist turn failed", map[string]interface{}{"error": err.Error()})
		}
		if profile.Tag != "" {
			_ = e.Store.RecordProfileTag(ctx, req.UserID, req.SessionID, profile.Tag)
		}
		e.cancellation.Clear(req.UserID, req.SessionID)
	}

	e.OnEvent(EventFinalAnswer, map[string]interface{}{"turn": turnNumber, "text": result})
	e.OnEvent(EventExecutionComplete, map[string]interface{}{"turn": turnNumber})
	return turn, nil
}

func lastSuccessfulResult(sess *session.Session) (interface{}, bool) {
	for i := len(sess.WorkflowHistory) - 1; i >= 0; i-- {
		t := sess.WorkflowHistory[i]
		if t.Status == session.TurnSuccess {
			return t.FinalAnswerText, true
		}
	}
	return nil, false
}

func (e *PlanExecutor) finishErrored(ctx context.Context, req TurnRequest, turn *session.Turn, execErr error) (*session.Turn, error) {
	kindErr, isKind := execErr.(*Error)

	turn.CompletedAt = e.Clock.Now()
	turn.Duration = turn.CompletedAt.Sub(turn.StartedAt)
	turn.IsPartial = true

	if isKind && kindErr.Kind == KindCancellation {
		turn.Status = session.TurnCancelled
		if e.depth == 0 {
			_ = e.Store.AppendTurn(ctx, req.UserID, req.SessionID, *turn)
			e.cancellation.Clear(req.UserID, req.SessionID)
		}
		e.OnEvent(EventExecutionCancelled, map[string]interface{}{"turn": turn.Number})
		return turn, execErr
	}

	turn.Status = session.TurnError
	friendly := "Something went wrong completing this request."
	if isKind && kindErr.FriendlyMessage != "" {
		friendly = kindErr.FriendlyMessage
	}
	turn.FinalAnswerText = friendly

	if e.depth == 0 {
		_ = e.Store.AppendTurn(ctx, req.UserID, req.SessionID, *turn)
		e.cancellation.Clear(req.UserID, req.SessionID)
	}
	e.OnEvent(EventExecutionError, map[string]interface{}{"turn": turn.Number, "error": execErr.Error()})
	return turn, execErr
}

// checkCancelled is the cooperative cancellation-check called at every
// suspension point: before each phase, before each LM call that isn't
// already wrapped by one.
func (e *PlanExecutor) checkCancelled(userID, sessionID string, phase int) error {
	if e.cancellation.IsCancelled(userID, sessionID) {
		return newError(KindCancellation, phase, "", nil)
	}
	return nil
}

// runMode dispatches to one of the four execution modes per profile.Mode.
func (e *PlanExecutor) runMode(ctx context.Context, req TurnRequest, profile Profile, attachmentContext string, sess *session.Session, state *WorkflowState, history *ActionHistory, turn *session.Turn) (string, error) {
	if err := e.checkCancelled(req.UserID, req.SessionID, 0); err != nil {
		return "", err
	}

	switch profile.Mode {
	case ModeLLMOnly:
		return e.runLLMOnly(ctx, req, profile, attachmentContext, sess)
	case ModeConversationTools:
		return e.runConversationWithTools(ctx, req, profile, attachmentContext, sess, state, history, turn)
	case ModeRAGFocused:
		return e.runRAGFocused(ctx, req, profile, attachmentContext, sess, state, history, turn)
	default:
		return e.runToolEnabled(ctx, req, profile, attachmentContext, sess, state, history, turn)
	}
}

// runLLMOnly is the simplest mode: one LM call over the canvas,
// attachments, retrieved knowledge (if any), recent history, and the
// query, with no tool calls at all.
func (e *PlanExecutor) runLLMOnly(ctx context.Context, req TurnRequest, profile Profile, attachmentContext string, sess *session.Session) (string, error) {
	ai := e.strategicClient()
	prompt := e.buildConversationalPrompt(req, profile, attachmentContext, "", sess)
	resp, err := ai.GenerateResponse(ctx, prompt, &core.AIOptions{
		Temperature:  0.5,
		MaxTokens:    1200,
		SystemPrompt: profile.SystemPrompt,
		Phase:        core.PhaseStrategic,
	})
	if err != nil {
		return "", newError(KindParse, 0, "", err)
	}
	return resp.Content, nil
}

// runRAGFocused performs mandatory knowledge retrieval first; zero
// documents found produces an explicit "no knowledge found" answer, not
// an error. With tools active it runs a short tool-calling loop instead
// of a single LM synthesis call.
func (e *PlanExecutor) runRAGFocused(ctx context.Context, req TurnRequest, profile Profile, attachmentContext string, sess *session.Session, state *WorkflowState, history *ActionHistory, turn *session.Turn) (string, error) {
	e.OnEvent(EventKnowledgeStart, map[string]interface{}{"query": req.UserQuery})
	text, sources, err := e.Knowledge.Retrieve(ctx, req.UserQuery)
	if err != nil {
		return "", newError(KindRecoverableTool, 0, "I couldn't search the knowledge base right now.", err)
	}
	e.OnEvent(EventKnowledgeComplete, map[string]interface{}{"source_count": len(sources)})

	turn.KnowledgeRetrieval = &session.KnowledgeRetrievalRecord{Query: req.UserQuery, SourceCount: len(sources), Sources: sources}

	if text == "" {
		return "I couldn't find anything in the knowledge base relevant to this question.", nil
	}

	if profile.MCPToolsEnabled {
		return e.runConversationWithTools(ctx, req, profile, attachmentContext, sess, state, history, turn)
	}

	ai := e.strategicClient()
	prompt := e.buildConversationalPrompt(req, profile, attachmentContext, text, sess)
	resp, err := ai.GenerateResponse(ctx, prompt, &core.AIOptions{
		Temperature:  0.3,
		MaxTokens:    1200,
		SystemPrompt: profile.SystemPrompt,
		Phase:        core.PhaseStrategic,
	})
	if err != nil {
		return "", newError(KindParse, 0, "", err)
	}
	return resp.Content, nil
}

// runConversationWithTools is the llm-only profile with MCP/component
// tools active: an iterative tool-calling loop bounded by
// MaxConversationToolIterations, each iteration a tactical LM call that
// either invokes one tool or produces the final answer.
func (e *PlanExecutor) runConversationWithTools(ctx context.Context, req TurnRequest, profile Profile, attachmentContext string, sess *session.Session, state *WorkflowState, history *ActionHistory, turn *session.Turn) (string, error) {
	phase := planning.Phase{Phase: 1, Goal: req.UserQuery}
	for i := 0; i < e.MaxConversationToolIterations; i++ {
		if err := e.checkCancelled(req.UserID, req.SessionID, phase.Phase); err != nil {
			return "", err
		}
		outcome, err := e.PhaseExec.runTacticalStep(ctx, phase, req.UserQuery, state, history, nil)
		if err != nil {
			return "", err
		}
		if outcome.FinalAnswer != "" {
			return outcome.FinalAnswer, nil
		}
	}
	if e.SkipSummarization {
		if last, ok := history.Last(); ok {
			return rawResultText(last.Result), nil
		}
		return "", nil
	}
	return e.synthesize(ctx, req, history, nil)
}

// planTurn runs one planner call for the turn. When recoveryPhase is
// nonzero, it is a phase-stall recovery: the workflow state accumulated so
// far is folded in as a planning constraint so the LM's new plan accounts
// for the work already completed, per the planner-level recovery path a
// stalled phase triggers.
func (e *PlanExecutor) planTurn(ctx context.Context, req TurnRequest, sess *session.Session, knowledgeText string, state *WorkflowState, recoveryPhase int) (*planning.Result, error) {
	planReq := planning.Request{
		UserQuery:        req.UserQuery,
		ActivePromptName: req.ActivePromptName,
		ActivePromptArgs: req.ActivePromptArgs,
		History:          conversationHistory(sess),
		KnowledgeContext: knowledgeText,
		IsSubProcess:     e.depth > 0,
	}
	if recoveryPhase > 0 {
		distilled, _ := json.Marshal(state.DistilledView())
		planReq.Constraints = append(planReq.Constraints, fmt.Sprintf(
			"Phase %d got stuck repeating the same step. Produce a wholly new plan for the remaining work, accounting for what has already run: %s",
			recoveryPhase, distilled))
	}
	return e.Planner.Plan(ctx, planReq)
}

// runToolEnabled is the full planner/executor path: generate a meta-plan,
// execute each phase in order, and synthesize the final answer from the
// completed action trace. A stalled phase (KindPhaseStall) triggers up to
// MaxPlanRecoveries planner re-invocations before the stall propagates.
func (e *PlanExecutor) runToolEnabled(ctx context.Context, req TurnRequest, profile Profile, attachmentContext string, sess *session.Session, state *WorkflowState, history *ActionHistory, turn *session.Turn) (string, error) {
	knowledgeText := ""
	if profile.RAGMandatory {
		e.OnEvent(EventKnowledgeStart, map[string]interface{}{"query": req.UserQuery})
		text, sources, err := e.Knowledge.Retrieve(ctx, req.UserQuery)
		sourceCount := 0
		if err == nil {
			knowledgeText = text
			sourceCount = len(sources)
			turn.KnowledgeRetrieval = &session.KnowledgeRetrievalRecord{Query: req.UserQuery, SourceCount: sourceCount, Sources: sources}
		}
		e.OnEvent(EventKnowledgeComplete, map[string]interface{}{"source_count": sourceCount})
	}

	planResult, err := e.planTurn(ctx, req, sess, knowledgeText, state, 0)
	if err != nil {
		return "", newError(KindParse, 0, "", err)
	}

	turn.RawPlan = planResult.RawJSON
	if planResult.Plan.Conversational {
		return planResult.Plan.Response, nil
	}

	phases := planResult.Plan.Phases
	toolPhaseOf := toolPhaseIndex(phases)

	var lastResult interface{}
	recoveries := 0
	for i := 0; i < len(phases); i++ {
		phase := phases[i]
		if err := e.checkCancelled(req.UserID, req.SessionID, phase.Phase); err != nil {
			return "", err
		}
		outcome, err := e.PhaseExec.ExecutePhase(ctx, phase, req.UserQuery, state, history, toolPhaseOf)
		if err != nil {
			if stallErr, ok := err.(*Error); ok && stallErr.Kind == KindPhaseStall && recoveries < e.MaxPlanRecoveries {
				recoveries++
				e.Logger.Warn("phase stalled, asking the planner for a new plan from the current state", map[string]interface{}{"phase": phase.Phase})
				e.OnEvent(EventPlanRecovery, map[string]interface{}{"phase": phase.Phase, "attempt": recoveries})

				recovered, recErr := e.planTurn(ctx, req, sess, knowledgeText, state, phase.Phase)
				if recErr != nil {
					return "", err
				}
				turn.RawPlan = recovered.RawJSON
				if recovered.Plan.Conversational {
					return recovered.Plan.Response, nil
				}
				phases = recovered.Plan.Phases
				toolPhaseOf = toolPhaseIndex(phases)
				i = -1
				continue
			}
			return "", err
		}
		if outcome.FinalAnswer != "" {
			return outcome.FinalAnswer, nil
		}
		lastResult = outcome.Result
	}

	if e.SkipSummarization {
		return rawResultText(lastResult), nil
	}
	return e.synthesize(ctx, req, history, lastResult)
}

func toolPhaseIndex(phases []planning.Phase) map[string]int {
	idx := make(map[string]int, len(phases))
	for _, p := range phases {
		for _, t := range p.RelevantTools {
			idx[t] = p.Phase
		}
	}
	return idx
}

// rawResultText renders a sub-executor's last phase result as plain text
// without an LM summarisation call, for sub-processes that skip it.
func rawResultText(result interface{}) string {
	if result == nil {
		return ""
	}
	if s, ok := result.(string); ok {
		return s
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

func (e *PlanExecutor) synthesize(ctx context.Context, req TurnRequest, history *ActionHistory, lastResult interface{}) (string, error) {
	answer, err := e.Synthesizer.Synthesize(ctx, SynthesisInput{UserQuery: req.UserQuery, History: history.All(), FinalResult: lastResult})
	if err != nil {
		return "", newError(KindParse, 0, "I finished the steps but couldn't put together a final answer.", err)
	}
	return answer, nil
}

// RunSubPrompt executes a prompt-shaped phase recursively at depth+1,
// sharing state/history with the calling PhaseExecutor rather than
// copying them. Wire this to PhaseExecutor.RunSubPrompt.
func (e *PlanExecutor) RunSubPrompt(parentReq TurnRequest, state *WorkflowState, history *ActionHistory) SubPromptRunner {
	return func(ctx context.Context, promptName string, args map[string]interface{}) (interface{}, error) {
		sub := &PlanExecutor{
			Store:                         e.Store,
			StrategicAI:                   e.StrategicAI,
			TacticalAI:                    e.TacticalAI,
			Planner:                       e.Planner,
			PhaseExec:                     e.PhaseExec,
			Synthesizer:                   e.Synthesizer,
			Knowledge:                     e.Knowledge,
			Attachments:                   e.Attachments,
			Profiles:                      e.Profiles,
			Quota:                         NoOpQuotaChecker{}, // already admitted at depth 0
			Clock:                         e.Clock,
			Logger:                        e.Logger,
			OnEvent:                       e.OnEvent,
			MaxConversationToolIterations: e.MaxConversationToolIterations,
			MaxPlanRecoveries:             e.MaxPlanRecoveries,
			SkipSummarization:             !e.ForceSubSummarization,
			ForceSubSummarization:         e.ForceSubSummarization,
			cancellation:                  e.cancellation,
			depth:                         e.depth + 1,
		}
		req := parentReq
		req.ActivePromptName = promptName
		req.ActivePromptArgs = args

		sess, err := sub.Store.Get(ctx, req.UserID, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("execution: load session for sub-prompt: %w", err)
		}
		profile, err := sub.Profiles.Resolve(ctx, req.UserID, promptName)
		if err != nil {
			return nil, fmt.Errorf("execution: resolve sub-prompt profile: %w", err)
		}

		turn := &session.Turn{StartedAt: sub.Clock.Now()}
		return sub.runMode(ctx, req, profile, "", sess, state, history, turn)
	}
}

func (e *PlanExecutor) strategicClient() core.AIClient {
	if e.StrategicAI != nil {
		return e.StrategicAI
	}
	return e.TacticalAI
}

func conversationHistory(sess *session.Session) []planning.HistoryTurn {
	var out []planning.HistoryTurn
	for _, t := range sess.WorkflowHistory {
		out = append(out, planning.HistoryTurn{UserQuery: t.UserQuery, FinalAnswer: t.FinalAnswerText})
	}
	return out
}

func (e *PlanExecutor) buildConversationalPrompt(req TurnRequest, profile Profile, attachmentContext, knowledgeText string, sess *session.Session) string {
	prompt := "User query: " + req.UserQuery
	if attachmentContext != "" {
		prompt += "\n\nAttached content:\n" + attachmentContext
	}
	if knowledgeText != "" {
		prompt += "\n\nRetrieved knowledge:\n" + knowledgeText
	}
	for i, t := range lastNHistory(sess, 10) {
		prompt += fmt.Sprintf("\n\nPrior turn %d:\nUser: %s\nAssistant: %s", i+1, t.UserQuery, t.FinalAnswerText)
	}
	return prompt
}

func lastNHistory(sess *session.Session, n int) []session.Turn {
	if len(sess.WorkflowHistory) <= n {
		return sess.WorkflowHistory
	}
	return sess.WorkflowHistory[len(sess.WorkflowHistory)-n:]
}
