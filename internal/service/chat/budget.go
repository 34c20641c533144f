package chat

import (
	"context"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// messageTokenOverhead is the fixed per-message cost on top of the
	// role-tagged content.
	messageTokenOverhead = 4

	summarizeSystemPrompt = "Summarize the following chat history briefly:"
	summaryPrefix         = "Summary of prior conversation: "
)

// BudgetManager keeps a conversation under the configured token ceiling with
// a two-stage policy: summarize the oldest window, then hard-trim by tokens.
// Both stages are pure transformations over the input slice.
type BudgetManager struct {
	model        model.BaseChatModel
	counter      TokenCounter
	maxTokens    int
	safetyMargin int
	window       int
}

func NewBudgetManager(chatModel model.BaseChatModel, counter TokenCounter, maxTokens, safetyMargin, window int) *BudgetManager {
	if window <= 0 {
		window = 5
	}
	return &BudgetManager{
		model:        chatModel,
		counter:      counter,
		maxTokens:    maxTokens,
		safetyMargin: safetyMargin,
		window:       window,
	}
}

// Apply runs both stages and returns the conversation to send.
func (m *BudgetManager) Apply(ctx context.Context, conversation []*schema.Message) []*schema.Message {
	return m.Trim(m.Summarize(ctx, conversation))
}

// Summarize collapses the oldest window of non-system messages into a single
// summary system message placed right after the system prompt. It triggers
// only when the conversation holds more than twice the window beyond the
// system message. A failed summary call degrades to dropping the window.
func (m *BudgetManager) Summarize(ctx context.Context, conversation []*schema.Message) []*schema.Message {
	if len(conversation) <= 1+m.window*2 {
		return conversation
	}

	systemPrompt := conversation[0]
	oldHistory := conversation[1 : 1+m.window]
	recent := conversation[1+m.window:]

	var contents []string
	for _, msg := range oldHistory {
		if msg.Content != "" {
			contents = append(contents, msg.Content)
		}
	}

	resp, err := m.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(summarizeSystemPrompt),
		schema.UserMessage(strings.Join(contents, "\n")),
	}, model.WithTemperature(0.3))
	if err != nil {
		log.Printf("summarization failed, dropping oldest %d messages: %v", m.window, err)
		out := make([]*schema.Message, 0, 1+len(recent))
		out = append(out, systemPrompt)
		return append(out, recent...)
	}

	summary := schema.SystemMessage(summaryPrefix + strings.TrimSpace(resp.Content))
	out := make([]*schema.Message, 0, 2+len(recent))
	out = append(out, systemPrompt, summary)
	return append(out, recent...)
}

// Trim keeps the system message plus as many recent messages as fit within
// max_tokens minus the safety margin, walking newest to oldest and stopping
// at the first message that would overflow.
func (m *BudgetManager) Trim(conversation []*schema.Message) []*schema.Message {
	if len(conversation) == 0 {
		return conversation
	}

	systemPrompt := conversation[0]
	allowed := m.maxTokens - m.safetyMargin
	total := m.messageCost(systemPrompt)

	var kept []*schema.Message
	for i := len(conversation) - 1; i >= 1; i-- {
		cost := m.messageCost(conversation[i])
		if total+cost > allowed {
			break
		}
		kept = append([]*schema.Message{conversation[i]}, kept...)
		total += cost
	}

	out := make([]*schema.Message, 0, 1+len(kept))
	out = append(out, systemPrompt)
	return append(out, kept...)
}

func (m *BudgetManager) messageCost(msg *schema.Message) int {
	return messageTokenOverhead + m.counter.Count(string(msg.Role)) + m.counter.Count(msg.Content)
}
