package toolproto

import "context"

// FakeClient is an in-memory Client for tests, modeled on the pack's
// mocks_test.go/test_mocks.go pattern: canned tool responses keyed by name,
// so planning/execution logic is testable without a live protocol server.
type FakeClient struct {
	Tools   []ToolDescriptor
	Prompts []PromptDescriptor
	// Responses maps tool name to the response returned on every
	// invocation, unless a queued per-call response is set in Queue.
	Responses map[string]*ToolResponse
	// Queue, if non-empty for a tool name, is consumed one response per
	// call (used to simulate "fails twice then succeeds" correction
	// sequences).
	Queue map[string][]*ToolResponse
	// PromptBodies maps prompt name to its loaded body text.
	PromptBodies map[string]string

	Invocations []FakeInvocation
}

// FakeInvocation records one InvokeTool call for assertions.
type FakeInvocation struct {
	Name string
	Args map[string]interface{}
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Responses:    make(map[string]*ToolResponse),
		Queue:        make(map[string][]*ToolResponse),
		PromptBodies: make(map[string]string),
	}
}

func (f *FakeClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	return f.Tools, nil
}

func (f *FakeClient) ListPrompts(ctx context.Context) ([]PromptDescriptor, error) {
	return f.Prompts, nil
}

func (f *FakeClient) InvokeTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResponse, error) {
	f.Invocations = append(f.Invocations, FakeInvocation{Name: name, Args: args})

	if queue, ok := f.Queue[name]; ok && len(queue) > 0 {
		next := queue[0]
		f.Queue[name] = queue[1:]
		return next, nil
	}
	if resp, ok := f.Responses[name]; ok {
		return resp, nil
	}
	return &ToolResponse{Status: "success", Results: []map[string]interface{}{}}, nil
}

func (f *FakeClient) LoadPrompt(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	return f.PromptBodies[name], nil
}
