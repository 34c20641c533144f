package retrieval

import (
	"context"
	"strings"

	"github.com/moyuka/groundedchat/internal/models"
)

// Retriever is the gateway contract the orchestrator depends on. The returned
// passages preserve backend ranking order and never exceed k. Degrading to a
// reduced-capability search path is each gateway's own responsibility.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, rankingConfiguration string) ([]models.Passage, error)
}

// normalizeDoc maps a raw search document onto a Passage, accepting the field
// spellings the knowledge-base indexes use.
func normalizeDoc(doc map[string]any) models.Passage {
	title := firstString(doc, "HotelName", "title", "Title", "name")
	content := firstString(doc, "Description", "content", "Content", "chunk", "text")
	return models.Passage{
		Title:   strings.TrimSpace(title),
		Content: strings.TrimSpace(content),
		Tags:    stringSlice(doc, "Tags", "tags"),
		Raw:     doc,
	}
}

func firstString(doc map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := doc[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func stringSlice(doc map[string]any, keys ...string) []string {
	for _, key := range keys {
		switch v := doc[key].(type) {
		case []string:
			return v
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case string:
			if v == "" {
				return nil
			}
			return []string{v}
		}
	}
	return nil
}
