package models

// Passage is one retrieved document normalized for grounding. Passages are
// produced fresh per retrieval call and never persisted.
type Passage struct {
	Title   string         `json:"title"`
	Content string         `json:"content"`
	Tags    []string       `json:"tags,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
}
