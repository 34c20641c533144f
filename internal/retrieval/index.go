package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/moyuka/groundedchat/internal/config"
	"github.com/moyuka/groundedchat/internal/models"
)

const (
	searchAPIVersion   = "2024-07-01"
	searchHTTPTimeout  = 15 * time.Second
	searchMaxBodyBytes = 4 * 1024 * 1024
)

// IndexClient queries a search index over REST. With an embedder configured
// it issues hybrid (keyword + vector) queries; when the hybrid path fails it
// degrades to keyword-only before giving up.
type IndexClient struct {
	endpoint   string
	index      string
	apiKey     string
	embedder   embedding.Embedder
	httpClient *http.Client
}

func NewIndexClient(cfg config.RetrievalConfig, embedder embedding.Embedder) (*IndexClient, error) {
	if cfg.Endpoint == "" || cfg.Index == "" {
		return nil, errors.New("retrieval endpoint and index must be configured")
	}
	return &IndexClient{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		index:      cfg.Index,
		apiKey:     cfg.APIKey,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: searchHTTPTimeout},
	}, nil
}

func (c *IndexClient) Retrieve(ctx context.Context, query string, k int, rankingConfiguration string) ([]models.Passage, error) {
	if c.embedder != nil {
		passages, err := c.search(ctx, query, k, rankingConfiguration, true)
		if err == nil {
			return passages, nil
		}
		log.Printf("hybrid search failed, falling back to keyword-only: %v", err)
	}
	return c.search(ctx, query, k, rankingConfiguration, false)
}

func (c *IndexClient) search(ctx context.Context, query string, k int, rankingConfiguration string, hybrid bool) ([]models.Passage, error) {
	body := map[string]any{
		"search": query,
		"top":    k,
	}
	if rankingConfiguration != "" {
		body["queryType"] = "semantic"
		body["semanticConfiguration"] = rankingConfiguration
	}
	if hybrid {
		vectors, err := c.embedder.EmbedStrings(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vectors) == 0 {
			return nil, errors.New("embedder returned no vectors")
		}
		body["vectorQueries"] = []map[string]any{{
			"kind":   "vector",
			"vector": vectors[0],
			"k":      k,
			"fields": "embedding",
		}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	url := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s", c.endpoint, c.index, searchAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, searchMaxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search index: %s: %s", resp.Status, string(raw))
	}

	var parsed struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	passages := make([]models.Passage, 0, len(parsed.Value))
	for _, doc := range parsed.Value {
		if len(passages) >= k {
			break
		}
		passages = append(passages, normalizeDoc(doc))
	}
	return passages, nil
}
