package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	rewriteHistoryMessages = 12
	rewriteHistoryMaxChars = 2000
	rewriteMaxTokens       = 200
)

const rewritePrompt = `You will be given a chat history and the latest user prompt.
Rewrite the latest user prompt into a single, self-contained question/prompt that preserves context.
- Keep names, places, or references resolved (no pronouns like he/she/they/it).
- Do NOT add new information not present in the history.
Return only the rewritten question/prompt, nothing else.

Chat history (most recent last):
%s

Latest user prompt:
%s`

// Rewriter collapses recent turns plus the latest input into one
// self-contained retrieval query.
type Rewriter struct {
	model model.BaseChatModel
}

func NewRewriter(chatModel model.BaseChatModel) *Rewriter {
	return &Rewriter{model: chatModel}
}

// Rewrite returns the self-contained query, or the original input whenever
// the rewrite call fails or produces nothing. Rewriting never fails a turn.
func (r *Rewriter) Rewrite(ctx context.Context, conversation []*schema.Message, userInput string) string {
	history := collectRecentHistory(conversation, rewriteHistoryMaxChars)
	prompt := fmt.Sprintf(rewritePrompt, history, userInput)

	resp, err := r.model.Generate(ctx,
		[]*schema.Message{schema.UserMessage(prompt)},
		model.WithTemperature(0),
		model.WithMaxTokens(rewriteMaxTokens),
	)
	if err != nil {
		log.Printf("query rewrite failed, using original input: %v", err)
		return userInput
	}
	rewritten := strings.TrimSpace(resp.Content)
	if rewritten == "" {
		return userInput
	}
	return rewritten
}

// collectRecentHistory renders the last dozen messages as "role: content"
// lines, keeping the newest lines that fit within the character budget.
func collectRecentHistory(messages []*schema.Message, maxChars int) string {
	start := len(messages) - rewriteHistoryMessages
	if start < 0 {
		start = 0
	}
	recent := messages[start:]

	var kept []string
	charCount := 0
	for i := len(recent) - 1; i >= 0; i-- {
		line := fmt.Sprintf("%s: %s", recent[i].Role, recent[i].Content)
		if charCount+len(line) > maxChars && len(kept) > 0 {
			break
		}
		kept = append([]string{line}, kept...)
		charCount += len(line)
		if charCount > maxChars {
			break
		}
	}
	return strings.Join(kept, "\n")
}
