// Package session holds conversational state: the Session/Turn data model
// and a Store abstraction over it. Every mutation goes through the Store's
// API — no component reaches into a session's fields directly and mutates
// them in place, replacing a shared mutable-dict pattern with atomic,
// serialised store operations.
package session

import "time"

// Message is one entry in a session's conversation history. Text carries
// the plain form fed back to the LM as context; Rich carries the form a UI
// renders (which may differ — e.g. markdown tables vs. a flat sentence).
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Rich      string    `json:"rich,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ActionHistoryEntry records one tool or prompt invocation within a turn,
// in execution order.
type ActionHistoryEntry struct {
	Action ActionRecord `json:"action"`
	Result ToolOutput   `json:"result"`
	// Phase is the 1-based phase number this action executed under.
	Phase int `json:"phase"`
	// Depth is the sub-executor recursion depth (0 for the top-level turn).
	Depth int `json:"depth"`
}

// ActionRecord is the invocation half of an ActionHistoryEntry.
type ActionRecord struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToolOutput is the canonical result shape every tool call and prompt
// dispatch returns.
type ToolOutput struct {
	Status       string                   `json:"status"` // "success" or "error"
	Metadata     map[string]interface{}   `json:"metadata,omitempty"`
	Results      []map[string]interface{} `json:"results,omitempty"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	Data         interface{}              `json:"data,omitempty"`
}

// KnowledgeRetrievalRecord captures a RAG lookup made during a turn, when
// one occurred.
type KnowledgeRetrievalRecord struct {
	Query       string   `json:"query"`
	SourceCount int      `json:"source_count"`
	Sources     []string `json:"sources,omitempty"`
}

// SkillInjectionRecord captures a profile-tag-driven skill/prompt that was
// injected into the turn, when one occurred.
type SkillInjectionRecord struct {
	SkillName string `json:"skill_name"`
	Reason    string `json:"reason,omitempty"`
}

// TurnStatus is the terminal state a Turn finished in.
type TurnStatus string

const (
	TurnSuccess   TurnStatus = "success"
	TurnCancelled TurnStatus = "cancelled"
	TurnError     TurnStatus = "error"
)

// Turn is one user->assistant exchange, immutable once persisted.
type Turn struct {
	Number int `json:"number"` // monotonic within the session

	UserQuery string `json:"user_query"`
	RawPlan   []byte `json:"raw_plan,omitempty"`   // the LM's as-parsed plan, before rewrite
	FinalPlan []byte `json:"final_plan,omitempty"` // the plan after PlanRewriter

	ActionHistory []ActionHistoryEntry `json:"action_history"`

	FinalAnswerText string `json:"final_answer_text"`
	FinalAnswerRich string `json:"final_answer_rich,omitempty"`

	Status TurnStatus `json:"status"`

	ProfileTag string `json:"profile_tag,omitempty"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Cost         float64 `json:"cost"`

	Duration time.Duration `json:"duration"`

	KnowledgeRetrieval *KnowledgeRetrievalRecord `json:"knowledge_retrieval,omitempty"`
	SkillInjection     *SkillInjectionRecord     `json:"skill_injection,omitempty"`

	// IsPartial marks a turn persisted from an in-flight cleanup path
	// (cancellation or an unhandled error cut the turn short).
	IsPartial bool `json:"is_partial"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Session is process-wide conversational state for one (UserID, SessionID)
// pair.
type Session struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Name      string `json:"name,omitempty"`

	History []Message `json:"history"`

	CumulativeInputTokens  int     `json:"cumulative_input_tokens"`
	CumulativeOutputTokens int     `json:"cumulative_output_tokens"`
	CumulativeCost         float64 `json:"cumulative_cost"`

	WorkflowHistory []Turn `json:"workflow_history"`

	ProfileTagsUsed []string `json:"profile_tags_used,omitempty"`
	ModelsUsed      []string `json:"models_used,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NextTurnNumber returns the turn number the next PlanExecutor run should
// use: one past the highest turn number recorded so far.
func (s *Session) NextTurnNumber() int {
	n := 0
	for _, t := range s.WorkflowHistory {
		if t.Number > n {
			n = t.Number
		}
	}
	return n + 1
}
