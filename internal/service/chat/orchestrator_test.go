package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/moyuka/groundedchat/internal/models"
	"github.com/moyuka/groundedchat/internal/retrieval"
	"github.com/moyuka/groundedchat/internal/service/ai"
	"github.com/moyuka/groundedchat/internal/session"
)

type fakeTool struct {
	name    string
	result  string
	err     error
	invoked int
	gotArgs string
}

func (f *fakeTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: f.name,
		Desc: "test tool",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"prompt": {Type: schema.String, Required: true},
		}),
	}, nil
}

func (f *fakeTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	f.invoked++
	f.gotArgs = argumentsInJSON
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func newTestOrchestrator(t *testing.T, chatModel *fakeChatModel, retriever *fakeRetriever, tools *ai.Registry, opts Options) (*Orchestrator, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	budget := NewBudgetManager(chatModel, charCounter{}, 8192, 500, 5)
	// A typed nil must not masquerade as a live retriever.
	var r retrieval.Retriever
	if retriever != nil {
		r = retriever
	}
	return NewOrchestrator(chatModel, r, store, tools, budget, opts), store
}

func TestClearCommandScenario(t *testing.T) {
	chatModel := &fakeChatModel{}
	orch, store := newTestOrchestrator(t, chatModel, nil, ai.NewRegistry(), Options{})

	seeded := models.NewSession("s1")
	seeded.Messages = []models.Message{{Role: models.RoleUser, Content: "hi"}}
	if err := store.Save(context.Background(), seeded); err != nil {
		t.Fatal(err)
	}

	res, err := orch.Turn(context.Background(), TurnRequest{Message: "clear", SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "Session cleared" || res.SessionID != "s1" {
		t.Fatalf("unexpected clear result: %+v", res)
	}
	if chatModel.callCount() != 0 {
		t.Fatalf("clear must not call the completion service")
	}

	stored, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Messages) != 0 {
		t.Fatalf("expected empty stored messages, got %d", len(stored.Messages))
	}

	// clear on an already-empty session is a no-op, and history stays empty.
	if _, err := orch.Turn(context.Background(), TurnRequest{Message: " CLEAR ", SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	hist, err := orch.Turn(context.Background(), TurnRequest{Message: "History", SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if hist.History == nil || len(hist.History) != 0 {
		t.Fatalf("expected empty history, got %+v", hist.History)
	}
}

func TestRestartAllocatesNewSession(t *testing.T) {
	orch, store := newTestOrchestrator(t, &fakeChatModel{}, nil, ai.NewRegistry(), Options{})

	res, err := orch.Turn(context.Background(), TurnRequest{Message: "restart", SessionID: "old-id"})
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionID == "" || res.SessionID == "old-id" {
		t.Fatalf("restart must allocate a fresh session id, got %q", res.SessionID)
	}
	if res.Status == "" {
		t.Fatalf("restart must acknowledge")
	}
	stored, err := store.Load(context.Background(), res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Messages) != 0 {
		t.Fatalf("restarted session must start empty")
	}
}

func TestTurnGroundsAndPersistsLiteralInput(t *testing.T) {
	chatModel := &fakeChatModel{responses: []*schema.Message{
		schema.AssistantMessage("the pool opens at nine", nil),
	}}
	retriever := &fakeRetriever{passages: []models.Passage{
		{Title: "A", Content: "x"},
		{Title: "B", Content: "y"},
	}}
	orch, store := newTestOrchestrator(t, chatModel, retriever, ai.NewRegistry(), Options{TopK: 2})

	res, err := orch.Turn(context.Background(), TurnRequest{Message: "when does the pool open?", SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "the pool opens at nine" {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
	if retriever.gotK != 2 {
		t.Fatalf("expected k=2, got %d", retriever.gotK)
	}

	if chatModel.callCount() != 1 {
		t.Fatalf("expected a single completion call, got %d", chatModel.callCount())
	}
	sent := chatModel.calls[0]
	last := sent[len(sent)-1]
	if !strings.Contains(last.Content, "A:x:\nB:y:") {
		t.Fatalf("grounded message missing sources block: %q", last.Content)
	}
	if !strings.Contains(last.Content, "when does the pool open?") {
		t.Fatalf("grounded message missing query")
	}

	stored, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Messages) != 2 {
		t.Fatalf("expected user+assistant persisted, got %d", len(stored.Messages))
	}
	if stored.Messages[0].Role != models.RoleUser || stored.Messages[0].Content != "when does the pool open?" {
		t.Fatalf("persisted user message must be the literal input, got %+v", stored.Messages[0])
	}
	if strings.Contains(stored.Messages[0].Content, "Sources:") {
		t.Fatalf("grounding wrapper must never be persisted")
	}
	if stored.Messages[1].Role != models.RoleAssistant {
		t.Fatalf("expected assistant message persisted")
	}
}

func TestTurnSkipSessionSave(t *testing.T) {
	chatModel := &fakeChatModel{}
	orch, store := newTestOrchestrator(t, chatModel, nil, ai.NewRegistry(), Options{})

	if _, err := orch.Turn(context.Background(), TurnRequest{
		Message:         "hello there",
		SessionID:       "s1",
		SkipSessionSave: true,
	}); err != nil {
		t.Fatal(err)
	}
	stored, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Messages) != 0 {
		t.Fatalf("skip_session_save must not persist messages")
	}
}

func TestTurnRetrievalFailureGroundsOnEmptySources(t *testing.T) {
	chatModel := &fakeChatModel{}
	retriever := &fakeRetriever{err: errors.New("index down")}
	orch, _ := newTestOrchestrator(t, chatModel, retriever, ai.NewRegistry(), Options{})

	if _, err := orch.Turn(context.Background(), TurnRequest{Message: "anything", SessionID: "s1"}); err != nil {
		t.Fatalf("retrieval failure must not abort the turn: %v", err)
	}
	sent := chatModel.calls[0]
	last := sent[len(sent)-1]
	if !strings.HasSuffix(last.Content, "Sources:\n") {
		t.Fatalf("expected empty sources block, got %q", last.Content)
	}
}

func TestTurnCompletionErrorNotPersisted(t *testing.T) {
	chatModel := &fakeChatModel{err: errors.New("401 unauthorized")}
	orch, store := newTestOrchestrator(t, chatModel, nil, ai.NewRegistry(), Options{})

	_, err := orch.Turn(context.Background(), TurnRequest{Message: "hello", SessionID: "s1"})
	if err == nil {
		t.Fatal("expected completion error")
	}
	var completionErr *ai.Error
	if !errors.As(err, &completionErr) || completionErr.Kind != ai.KindConfig {
		t.Fatalf("expected configuration error, got %v", err)
	}
	stored, _ := store.Load(context.Background(), "s1")
	if len(stored.Messages) != 0 {
		t.Fatalf("failed turn must not be persisted")
	}
}

func TestToolRoundSingleFollowUp(t *testing.T) {
	imageTool := &fakeTool{
		name:   ai.ImageToolName,
		result: `{"prompt":"a cat","size":"1024x1024","images":[{"url":"https://img/cat.png"}]}`,
	}
	registry := ai.NewRegistry()
	if err := registry.Register(context.Background(), imageTool); err != nil {
		t.Fatal(err)
	}

	toolCall := schema.ToolCall{
		ID: "call-1",
		Function: schema.FunctionCall{
			Name:      ai.ImageToolName,
			Arguments: `{"prompt":"a cat"}`,
		},
	}
	chatModel := &fakeChatModel{responses: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{toolCall}),
		schema.AssistantMessage("here is your cat picture", nil),
	}}

	orch, _ := newTestOrchestrator(t, chatModel, nil, registry, Options{EnableTools: true})
	res, err := orch.Turn(context.Background(), TurnRequest{
		Message:        "draw me a cat",
		SessionID:      "s1",
		AllowImageTool: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if chatModel.callCount() != 2 {
		t.Fatalf("expected exactly one follow-up completion, got %d calls", chatModel.callCount())
	}
	if imageTool.invoked != 1 {
		t.Fatalf("expected one tool invocation, got %d", imageTool.invoked)
	}
	if imageTool.gotArgs != `{"prompt":"a cat"}` {
		t.Fatalf("unexpected tool arguments: %q", imageTool.gotArgs)
	}
	if res.Reply != "here is your cat picture" {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
	if len(res.Images) != 1 || res.Images[0] != "https://img/cat.png" {
		t.Fatalf("image side channel missing: %+v", res.Images)
	}

	followUp := chatModel.calls[1]
	assistantMsg := followUp[len(followUp)-2]
	toolMsg := followUp[len(followUp)-1]
	if len(assistantMsg.ToolCalls) != 1 {
		t.Fatalf("assistant tool-call message missing from follow-up conversation")
	}
	if toolMsg.Role != schema.Tool || toolMsg.ToolCallID != "call-1" {
		t.Fatalf("tool result message malformed: role=%s id=%s", toolMsg.Role, toolMsg.ToolCallID)
	}
}

func TestUnknownToolBecomesStructuredError(t *testing.T) {
	registry := ai.NewRegistry()
	if err := registry.Register(context.Background(), &fakeTool{name: ai.ImageToolName, result: "{}"}); err != nil {
		t.Fatal(err)
	}

	chatModel := &fakeChatModel{responses: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "call-9",
			Function: schema.FunctionCall{Name: "delete_everything", Arguments: "{}"},
		}}),
		schema.AssistantMessage("I cannot do that", nil),
	}}

	orch, _ := newTestOrchestrator(t, chatModel, nil, registry, Options{EnableTools: true})
	res, err := orch.Turn(context.Background(), TurnRequest{
		Message:        "please",
		SessionID:      "s1",
		AllowImageTool: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "I cannot do that" {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}

	followUp := chatModel.calls[1]
	toolMsg := followUp[len(followUp)-1]
	var payload map[string]string
	if err := json.Unmarshal([]byte(toolMsg.Content), &payload); err != nil {
		t.Fatalf("tool error result must be structured JSON: %v", err)
	}
	if !strings.Contains(payload["error"], "unknown tool") {
		t.Fatalf("unexpected tool error payload: %q", toolMsg.Content)
	}
}

func TestSecondToolRoundNotExecuted(t *testing.T) {
	imageTool := &fakeTool{name: ai.ImageToolName, result: `{"images":[{"url":"https://img/1.png"}]}`}
	registry := ai.NewRegistry()
	if err := registry.Register(context.Background(), imageTool); err != nil {
		t.Fatal(err)
	}

	firstCall := schema.ToolCall{ID: "c1", Function: schema.FunctionCall{Name: ai.ImageToolName, Arguments: "{}"}}
	secondCall := schema.ToolCall{ID: "c2", Function: schema.FunctionCall{Name: ai.ImageToolName, Arguments: "{}"}}
	chatModel := &fakeChatModel{responses: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{firstCall}),
		schema.AssistantMessage("done", []schema.ToolCall{secondCall}),
	}}

	orch, _ := newTestOrchestrator(t, chatModel, nil, registry, Options{EnableTools: true})
	res, err := orch.Turn(context.Background(), TurnRequest{
		Message:        "draw twice",
		SessionID:      "s1",
		AllowImageTool: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if chatModel.callCount() != 2 {
		t.Fatalf("a second tool round must not trigger more completions, got %d", chatModel.callCount())
	}
	if imageTool.invoked != 1 {
		t.Fatalf("tool must run once, ran %d times", imageTool.invoked)
	}
	if res.Reply != "done" {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
}

func TestToolCallsIgnoredWhenToolsNotAllowed(t *testing.T) {
	registry := ai.NewRegistry()
	imageTool := &fakeTool{name: ai.ImageToolName, result: "{}"}
	if err := registry.Register(context.Background(), imageTool); err != nil {
		t.Fatal(err)
	}

	chatModel := &fakeChatModel{responses: []*schema.Message{
		schema.AssistantMessage("plain answer", nil),
	}}
	orch, _ := newTestOrchestrator(t, chatModel, nil, registry, Options{EnableTools: true})

	// allow_image_tool unset on the request disables the tool round entirely.
	res, err := orch.Turn(context.Background(), TurnRequest{Message: "draw me a cat", SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if chatModel.callCount() != 1 {
		t.Fatalf("expected one completion call, got %d", chatModel.callCount())
	}
	if imageTool.invoked != 0 {
		t.Fatalf("tool must not run when not allowed")
	}
	if res.Reply != "plain answer" {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
}

func TestCleanSessionID(t *testing.T) {
	if got := CleanSessionID("  abc-123  "); got != "abc-123" {
		t.Fatalf("unexpected cleaned id: %q", got)
	}
	if got := CleanSessionID("a b/c!d"); got != "abcd" {
		t.Fatalf("unexpected cleaned id: %q", got)
	}
}
