package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/moyuka/groundedchat/internal/models"
	"github.com/moyuka/groundedchat/internal/retrieval"
	"github.com/moyuka/groundedchat/internal/service/ai"
	"github.com/moyuka/groundedchat/internal/session"
)

// Reserved commands, matched case-insensitively after trimming.
const (
	CommandClear   = "clear"
	CommandRestart = "restart"
	CommandHistory = "history"
)

const imageRefusal = "I can only generate images related to the stories in the knowledge base."

const imagePolicyPrompt = "You ONLY generate images related to the knowledge base stories.\n" +
	"If unrelated, reply EXACTLY with: '" + imageRefusal + "'\n" +
	"If related, output a SHORT, family-friendly, concrete visual description (composition, characters, scene, lighting). " +
	"Do not add disclaimers or extra text."

var sessionIDPattern = regexp.MustCompile(`[^\w\-]`)

// Options parameterizes the canonical turn pipeline.
type Options struct {
	SystemPrompt         string
	TopK                 int
	RankingConfiguration string
	EnableTools          bool
	EnableRewrite        bool
	MaxOutputTokens      int
	Temperature          float32
	TopP                 float32
	// PersistedRoles filters which roles survive into session storage.
	// Defaults to user and assistant only.
	PersistedRoles []models.Role
}

func (o *Options) applyDefaults() {
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 4096
	}
	if o.Temperature <= 0 {
		o.Temperature = 0.3
	}
	if o.TopP <= 0 {
		o.TopP = 1.0
	}
	if len(o.PersistedRoles) == 0 {
		o.PersistedRoles = []models.Role{models.RoleUser, models.RoleAssistant}
	}
}

// Orchestrator runs one grounded conversation turn at a time: command
// dispatch, query rewrite, retrieval grounding, budget management, the
// bounded tool round and persistence. All collaborators are caller-owned.
type Orchestrator struct {
	model     model.ToolCallingChatModel
	retriever retrieval.Retriever
	store     session.Store
	tools     *ai.Registry
	rewriter  *Rewriter
	budget    *BudgetManager
	opts      Options
}

func NewOrchestrator(
	chatModel model.ToolCallingChatModel,
	retriever retrieval.Retriever,
	store session.Store,
	tools *ai.Registry,
	budget *BudgetManager,
	opts Options,
) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		model:     chatModel,
		retriever: retriever,
		store:     store,
		tools:     tools,
		rewriter:  NewRewriter(chatModel),
		budget:    budget,
		opts:      opts,
	}
}

// TurnRequest is one user utterance against a session.
type TurnRequest struct {
	Message         string
	SessionID       string
	Role            string
	SkipSessionSave bool
	AllowImageTool  bool
}

// TurnResult carries the reply or the command acknowledgement.
type TurnResult struct {
	Reply     string
	SessionID string
	Images    []string
	Status    string
	History   []models.Message
}

// Turn processes one request end to end. Completion failures abort the turn
// without persisting; rewrite, retrieval and summarization failures degrade
// silently per stage.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	input := strings.TrimSpace(req.Message)
	if input == "" {
		return nil, &ai.Error{Kind: ai.KindInvalid, Err: errors.New("message is required")}
	}

	sessionID := CleanSessionID(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	switch strings.ToLower(input) {
	case CommandClear:
		return o.clearSession(ctx, sessionID)
	case CommandRestart:
		return o.restartSession(ctx)
	case CommandHistory:
		return o.sessionHistory(ctx, sessionID)
	}

	sess := o.loadSession(ctx, sessionID)

	systemPrompt := o.opts.SystemPrompt
	if req.Role != "" {
		systemPrompt = SystemPrompt(req.Role)
	}

	conversation := make([]*schema.Message, 0, 1+len(sess.Messages))
	conversation = append(conversation, schema.SystemMessage(systemPrompt))
	for _, m := range sess.Messages {
		conversation = append(conversation, &schema.Message{
			Role:    schema.RoleType(m.Role),
			Content: m.Content,
		})
	}

	query := input
	if o.opts.EnableRewrite {
		query = o.rewriter.Rewrite(ctx, conversation, input)
	}

	var passages []models.Passage
	if o.retriever != nil {
		var err error
		passages, err = o.retriever.Retrieve(ctx, query, o.opts.TopK, o.opts.RankingConfiguration)
		if err != nil {
			log.Printf("retrieval failed, grounding on empty sources: %v", err)
			passages = nil
		}
	}

	working := append(conversation, MakeGroundedMessage(input, FormatSources(passages)))
	working = o.budget.Apply(ctx, working)

	reply, images, err := o.complete(ctx, working, sessionID, req.AllowImageTool)
	if err != nil {
		return nil, err
	}

	if !req.SkipSessionSave {
		sess.Messages = o.persistable(append(sess.Messages,
			models.Message{Role: models.RoleUser, Content: input},
			models.Message{Role: models.RoleAssistant, Content: reply},
		))
		if err := o.store.Save(ctx, sess); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}

	return &TurnResult{Reply: reply, SessionID: sessionID, Images: images}, nil
}

// complete issues the main completion and runs at most one round of tool
// execution before the follow-up call. A second round of requested tool
// calls is not executed.
func (o *Orchestrator) complete(ctx context.Context, working []*schema.Message, sessionID string, allowImageTool bool) (string, []string, error) {
	genOpts := []model.Option{
		model.WithMaxTokens(o.opts.MaxOutputTokens),
		model.WithTemperature(o.opts.Temperature),
		model.WithTopP(o.opts.TopP),
	}

	completer := model.BaseChatModel(o.model)
	toolsEnabled := o.opts.EnableTools && allowImageTool && o.tools != nil && o.tools.Len() > 0
	if toolsEnabled {
		infos, err := o.tools.Infos(ctx)
		if err != nil {
			log.Printf("tool schema unavailable, completing without tools: %v", err)
			toolsEnabled = false
		} else {
			toolModel, err := o.model.WithTools(infos)
			if err != nil {
				log.Printf("binding tools failed, completing without tools: %v", err)
				toolsEnabled = false
			} else {
				completer = toolModel
			}
		}
	}

	resp, err := completer.Generate(ctx, working, genOpts...)
	if err != nil {
		return "", nil, ai.WrapError(err)
	}

	if !toolsEnabled || len(resp.ToolCalls) == 0 {
		return strings.TrimSpace(resp.Content), nil, nil
	}

	working = append(working, resp)
	toolMessages, images := o.executeTools(ctx, resp.ToolCalls, sessionID)
	working = append(working, toolMessages...)

	final, err := o.model.Generate(ctx, working, genOpts...)
	if err != nil {
		return "", nil, ai.WrapError(err)
	}
	return strings.TrimSpace(final.Content), images, nil
}

// executeTools runs each requested call against the allowlist, in request
// order. Unknown tools and tool failures become structured error results
// fed back to the model, never errors raised to the caller.
func (o *Orchestrator) executeTools(ctx context.Context, calls []schema.ToolCall, sessionID string) ([]*schema.Message, []string) {
	toolCtx := ai.WithToolSession(ctx, sessionID)

	var (
		messages []*schema.Message
		images   []string
	)
	for _, call := range calls {
		name := call.Function.Name
		t, ok := o.tools.Lookup(name)
		if !ok {
			messages = append(messages, schema.ToolMessage(toolErrorPayload(fmt.Sprintf("unknown tool: %s", name)), call.ID))
			continue
		}

		out, err := t.InvokableRun(toolCtx, call.Function.Arguments)
		if err != nil {
			log.Printf("tool %s failed: %v", name, err)
			messages = append(messages, schema.ToolMessage(toolErrorPayload(err.Error()), call.ID))
			continue
		}
		messages = append(messages, schema.ToolMessage(out, call.ID))
		images = append(images, extractImageURLs(out)...)
	}
	return messages, images
}

func toolErrorPayload(msg string) string {
	payload, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, msg)
	}
	return string(payload)
}

// extractImageURLs collects generated asset URLs from a tool result payload
// for the response side channel.
func extractImageURLs(payload string) []string {
	var parsed struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil
	}
	var urls []string
	for _, img := range parsed.Images {
		if img.URL != "" {
			urls = append(urls, img.URL)
		}
	}
	return urls
}

// ExpandImagePrompt gates an image request against the knowledge base and
// returns a grounded visual description, or an out-of-scope error.
func (o *Orchestrator) ExpandImagePrompt(ctx context.Context, prompt string) (string, error) {
	if o.retriever == nil {
		return prompt, nil
	}

	convo := []*schema.Message{schema.SystemMessage(imagePolicyPrompt)}

	query := prompt
	if o.opts.EnableRewrite {
		query = o.rewriter.Rewrite(ctx, convo, prompt)
	}

	passages, err := o.retriever.Retrieve(ctx, query, o.opts.TopK, o.opts.RankingConfiguration)
	if err != nil {
		log.Printf("image grounding retrieval failed: %v", err)
		return "", errors.New(imageRefusal)
	}
	if len(passages) == 0 {
		return "", errors.New(imageRefusal)
	}

	working := append(convo,
		schema.UserMessage(prompt),
		MakeGroundedMessage(prompt, FormatSources(passages)),
	)
	working = o.budget.Apply(ctx, working)

	resp, err := o.model.Generate(ctx, working,
		model.WithTemperature(0.2),
		model.WithMaxTokens(700),
		model.WithTopP(1.0),
	)
	if err != nil {
		return "", ai.WrapError(err)
	}
	desc := strings.TrimSpace(resp.Content)
	if desc == "" || strings.Contains(desc, imageRefusal) {
		return "", errors.New(imageRefusal)
	}
	return desc, nil
}

func (o *Orchestrator) clearSession(ctx context.Context, sessionID string) (*TurnResult, error) {
	sess := o.loadSession(ctx, sessionID)
	sess.Messages = []models.Message{}
	if err := o.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("clear session: %w", err)
	}
	return &TurnResult{Status: "Session cleared", SessionID: sessionID}, nil
}

func (o *Orchestrator) restartSession(ctx context.Context) (*TurnResult, error) {
	newID := uuid.NewString()
	if err := o.store.Save(ctx, models.NewSession(newID)); err != nil {
		return nil, fmt.Errorf("restart session: %w", err)
	}
	return &TurnResult{Status: "New session started", SessionID: newID}, nil
}

func (o *Orchestrator) sessionHistory(ctx context.Context, sessionID string) (*TurnResult, error) {
	sess := o.loadSession(ctx, sessionID)
	return &TurnResult{History: sess.Messages, SessionID: sessionID}, nil
}

// loadSession degrades to a fresh empty session when the store fails, so a
// storage outage never blocks a turn.
func (o *Orchestrator) loadSession(ctx context.Context, sessionID string) *models.Session {
	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		log.Printf("load session %s failed, starting empty: %v", sessionID, err)
		return models.NewSession(sessionID)
	}
	return sess
}

func (o *Orchestrator) persistable(messages []models.Message) []models.Message {
	kept := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		for _, role := range o.opts.PersistedRoles {
			if m.Role == role {
				kept = append(kept, m)
				break
			}
		}
	}
	return kept
}

// CleanSessionID strips characters outside [\w-] from a caller-supplied id.
func CleanSessionID(id string) string {
	return sessionIDPattern.ReplaceAllString(strings.TrimSpace(id), "")
}
