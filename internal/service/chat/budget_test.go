package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func buildConversation(nonSystem int) []*schema.Message {
	conv := []*schema.Message{schema.SystemMessage("sys")}
	for i := 0; i < nonSystem; i++ {
		role := schema.User
		if i%2 == 1 {
			role = schema.Assistant
		}
		conv = append(conv, &schema.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
	}
	return conv
}

func TestSummarizeBelowThresholdIsNoop(t *testing.T) {
	chatModel := &fakeChatModel{}
	m := NewBudgetManager(chatModel, charCounter{}, 8192, 500, 5)

	// 1 + 2N messages is exactly the threshold; no summarization yet.
	conv := buildConversation(10)
	out := m.Summarize(context.Background(), conv)
	if len(out) != len(conv) {
		t.Fatalf("expected conversation untouched, got %d messages", len(out))
	}
	if chatModel.callCount() != 0 {
		t.Fatalf("expected no summary call, got %d", chatModel.callCount())
	}
}

func TestSummarizeCollapsesOldestWindow(t *testing.T) {
	chatModel := &fakeChatModel{responses: []*schema.Message{
		schema.AssistantMessage("old talk condensed", nil),
	}}
	m := NewBudgetManager(chatModel, charCounter{}, 8192, 500, 5)

	conv := buildConversation(11)
	out := m.Summarize(context.Background(), conv)

	// 12 messages shrink to 8: system + summary + the 6 untouched ones.
	if len(out) != 8 {
		t.Fatalf("expected 8 messages, got %d", len(out))
	}
	if out[0] != conv[0] {
		t.Fatalf("system message must stay at position 0")
	}
	if out[1].Role != schema.System {
		t.Fatalf("summary must be a system message, got %s", out[1].Role)
	}
	if out[1].Content != "Summary of prior conversation: old talk condensed" {
		t.Fatalf("unexpected summary content: %q", out[1].Content)
	}
	for i := 0; i < 6; i++ {
		if out[2+i] != conv[6+i] {
			t.Fatalf("message %d after the window changed", i)
		}
	}
	if chatModel.callCount() != 1 {
		t.Fatalf("expected one summary call, got %d", chatModel.callCount())
	}
}

func TestSummarizeFailureDropsOldestWindow(t *testing.T) {
	chatModel := &fakeChatModel{err: errors.New("boom")}
	m := NewBudgetManager(chatModel, charCounter{}, 8192, 500, 5)

	conv := buildConversation(11)
	out := m.Summarize(context.Background(), conv)

	if len(out) != 7 {
		t.Fatalf("expected system + 6 recent messages, got %d", len(out))
	}
	if out[0] != conv[0] {
		t.Fatalf("system message must survive a failed summary")
	}
	for i := 0; i < 6; i++ {
		if out[1+i] != conv[6+i] {
			t.Fatalf("recent message %d changed", i)
		}
	}
}

func TestTrimKeepsNewestWithinBudget(t *testing.T) {
	// charCounter: cost(msg) = 4 + len(role) + len(content).
	// system "sys" costs 13; each user message of 10 chars costs 18.
	m := NewBudgetManager(&fakeChatModel{}, charCounter{}, 49, 0, 5)

	conv := []*schema.Message{
		schema.SystemMessage("sys"),
		{Role: schema.User, Content: "aaaaaaaaaa"},
		{Role: schema.User, Content: "bbbbbbbbbb"},
		{Role: schema.User, Content: "cccccccccc"},
		{Role: schema.User, Content: "dddddddddd"},
	}
	out := m.Trim(conv)

	if len(out) != 3 {
		t.Fatalf("expected system + 2 newest, got %d messages", len(out))
	}
	if out[0].Content != "sys" {
		t.Fatalf("system message missing after trim")
	}
	if out[1].Content != "cccccccccc" || out[2].Content != "dddddddddd" {
		t.Fatalf("expected the two newest messages in order, got %q, %q", out[1].Content, out[2].Content)
	}
}

func TestTrimStopsAtFirstOverflow(t *testing.T) {
	m := NewBudgetManager(&fakeChatModel{}, charCounter{}, 40, 0, 5)

	conv := []*schema.Message{
		schema.SystemMessage("sys"),
		{Role: schema.User, Content: "x"}, // would fit, but sits behind the oversized one
		{Role: schema.User, Content: strings.Repeat("y", 100)},
		{Role: schema.User, Content: "zzzzzzzzzz"},
	}
	out := m.Trim(conv)

	if len(out) != 2 {
		t.Fatalf("expected system + newest only, got %d messages", len(out))
	}
	if out[1].Content != "zzzzzzzzzz" {
		t.Fatalf("expected newest message kept, got %q", out[1].Content)
	}
}

func TestTrimBudgetInvariant(t *testing.T) {
	maxTokens, margin := 120, 20
	m := NewBudgetManager(&fakeChatModel{}, charCounter{}, maxTokens, margin, 5)

	conv := buildConversation(20)
	out := m.Trim(conv)

	total := 0
	for _, msg := range out {
		total += 4 + len(string(msg.Role)) + len(msg.Content)
	}
	if total > maxTokens-margin {
		t.Fatalf("trimmed conversation costs %d, budget is %d", total, maxTokens-margin)
	}
	if out[0].Role != schema.System {
		t.Fatalf("system message must always be present")
	}
}
