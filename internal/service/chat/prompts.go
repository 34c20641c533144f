package chat

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/moyuka/groundedchat/internal/models"
)

// DefaultSystemPrompt is used when a turn does not name a specialty.
const DefaultSystemPrompt = "You are a helpful assistant."

const groundedPrompt = `Decision rule:
- If the Sources below clearly contain relevant facts that answer the Query, answer ONLY using those facts. Include a short "Sources:" line listing the source titles you used.
- If the Sources are irrelevant or insufficient to answer the Query, answer using your general knowledge. Do NOT mention the knowledge base or sources, and do NOT fabricate citations.

Special cases:
- If the Query is a greeting or a meta-question about the assistant (e.g., "what's your role?", "who are you?", "what can you do?"), ignore Sources and answer directly based on the role assigned in the system instructions (your role). Do not mention the knowledge base or sources.

Formatting:
- Be concise and use bullet points when listing items.
- Never invent facts.

Query:
%s

Sources:
%s`

// SystemPrompt renders the system message content for an optional specialty.
func SystemPrompt(role string) string {
	role = strings.TrimSpace(role)
	if role == "" {
		return DefaultSystemPrompt
	}
	return fmt.Sprintf("You are a helpful assistant specialized in %s.", role)
}

// FormatSources renders passages into the sources block, one line per
// passage as title:content:tags in retrieval order. The output is
// byte-stable for identical input, which downstream templates rely on.
func FormatSources(passages []models.Passage) string {
	lines := make([]string, 0, len(passages))
	for _, p := range passages {
		lines = append(lines, fmt.Sprintf("%s:%s:%s", p.Title, p.Content, strings.Join(p.Tags, ", ")))
	}
	return strings.Join(lines, "\n")
}

// MakeGroundedMessage wraps the user query and formatted sources in the
// grounding template. The result is sent for this turn's completion only;
// the persisted history keeps the user's literal input.
func MakeGroundedMessage(query, sourcesFormatted string) *schema.Message {
	return schema.UserMessage(fmt.Sprintf(groundedPrompt, query, sourcesFormatted))
}
