package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"

	"github.com/moyuka/groundedchat/internal/config"
	"github.com/moyuka/groundedchat/internal/models"
)

const webSearchTimeout = 10 * time.Second

// WebRetriever grounds answers on live web results instead of a private
// index. Google is preferred when configured, with DuckDuckGo as the
// no-credential fallback.
type WebRetriever struct {
	google tool.InvokableTool
	duck   tool.InvokableTool
}

func NewWebRetriever(ctx context.Context, cfg config.RetrievalConfig) (*WebRetriever, error) {
	r := &WebRetriever{}

	if cfg.Google.APIKey != "" && cfg.Google.SearchEngineID != "" {
		googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
			ToolName:       "web_search_google",
			ToolDesc:       "Google Search Tool",
			APIKey:         cfg.Google.APIKey,
			SearchEngineID: cfg.Google.SearchEngineID,
			Lang:           "en",
			Num:            5,
		})
		if err != nil {
			log.Printf("google search disabled: %v", err)
		} else {
			r.google = googleTool
		}
	}

	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 5,
		Region:     duckduckgo.RegionWT,
		Timeout:    webSearchTimeout,
	})
	if err != nil {
		log.Printf("duckduckgo search disabled: %v", err)
	} else {
		r.duck = duckTool
	}

	if r.google == nil && r.duck == nil {
		return nil, errors.New("no web search providers available")
	}
	return r, nil
}

func (r *WebRetriever) Retrieve(ctx context.Context, query string, k int, rankingConfiguration string) ([]models.Passage, error) {
	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if r.google != nil {
		if result, err := r.google.InvokableRun(ctx, payload); err == nil {
			return parseWebResults(result, k), nil
		} else {
			log.Printf("google search failed: %v", err)
		}
	}
	if r.duck != nil {
		if result, err := r.duck.InvokableRun(ctx, payload); err == nil {
			return parseWebResults(result, k), nil
		} else {
			log.Printf("duckduckgo search failed: %v", err)
		}
	}
	return nil, errors.New("no search provider succeeded")
}

type webResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Link        string `json:"link"`
	Summary     string `json:"summary"`
	Snippet     string `json:"snippet"`
	Description string `json:"description"`
	Desc        string `json:"desc"`
}

// parseWebResults accepts the result envelopes the search tools emit; any
// unparseable payload becomes a single raw passage rather than an error.
func parseWebResults(raw string, k int) []models.Passage {
	var envelope struct {
		Results []webResult `json:"results"`
		Items   []webResult `json:"items"`
	}
	results := []webResult{}
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil {
		results = append(results, envelope.Results...)
		results = append(results, envelope.Items...)
	}
	if len(results) == 0 {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return nil
		}
		return []models.Passage{{Title: "web", Content: trimmed}}
	}

	passages := make([]models.Passage, 0, len(results))
	for _, res := range results {
		if len(passages) >= k {
			break
		}
		content := res.Summary
		for _, alt := range []string{res.Snippet, res.Description, res.Desc} {
			if content == "" {
				content = alt
			}
		}
		link := res.URL
		if link == "" {
			link = res.Link
		}
		var tags []string
		if link != "" {
			tags = []string{link}
		}
		passages = append(passages, models.Passage{
			Title:   strings.TrimSpace(res.Title),
			Content: strings.TrimSpace(content),
			Tags:    tags,
		})
	}
	return passages
}
