package execution

// Canonical event names emitted over the turn's event stream. Every
// EventFunc call elsewhere in this package uses one of these constants as
// its name argument, so a transport (SSE, websocket, or a test spy) can
// switch on them without string literals scattered across the codebase.
const (
	EventSystemMessage      = "system_message"
	EventPlanGenerated      = "plan_generated"
	EventPhaseStart         = "phase_start"
	EventPhaseEnd           = "phase_end"
	EventToolIntent         = "tool_intent"
	EventToolResult         = "tool_result"
	EventToolError          = "tool_error"
	EventTokenUpdate        = "token_update"
	EventStatusIndicator    = "status_indicator_update"
	EventKnowledgeStart     = "knowledge_retrieval_start"
	EventKnowledgeComplete  = "knowledge_retrieval_complete"
	EventNotification       = "notification"
	EventFinalAnswer        = "final_answer"
	EventExecutionStart     = "execution_start"
	EventExecutionComplete  = "execution_complete"
	EventExecutionError     = "execution_error"
	EventExecutionCancelled = "execution_cancelled"
	EventSessionNameUpdate  = "session_name_update"
	EventPlanRecovery       = "plan_recovery"
)
