package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"

	"github.com/moyuka/groundedchat/internal/models"
)

// LocalRetriever serves a directory of documents as the knowledge base,
// scoring passages by keyword overlap. Keyword-only by construction, which
// makes it the natural offline/dev backend.
type LocalRetriever struct {
	dir    string
	loader *file.FileLoader
}

func NewLocalRetriever(ctx context.Context, dir string) (*LocalRetriever, error) {
	if dir == "" {
		return nil, errors.New("local corpus directory is required")
	}
	parserExt, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &LocalRetriever{dir: dir, loader: loader}, nil
}

func (r *LocalRetriever) Retrieve(ctx context.Context, query string, k int, rankingConfiguration string) ([]models.Passage, error) {
	terms := queryTerms(query)

	type scored struct {
		passage models.Passage
		score   int
	}
	var hits []scored

	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		docs, err := r.loader.Load(ctx, document.Source{URI: path})
		if err != nil {
			log.Printf("skip unreadable document %s: %v", path, err)
			return nil
		}
		for _, doc := range docs {
			content := strings.TrimSpace(doc.Content)
			if content == "" {
				continue
			}
			score := overlapScore(content, terms)
			if score == 0 {
				continue
			}
			title := doc.ID
			if title == "" {
				title = filepath.Base(path)
			}
			hits = append(hits, scored{
				passage: models.Passage{Title: title, Content: content},
				score:   score,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	passages := make([]models.Passage, 0, k)
	for _, h := range hits {
		if len(passages) >= k {
			break
		}
		passages = append(passages, h.passage)
	}
	return passages, nil
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?\"'()")
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

func overlapScore(content string, terms []string) int {
	lower := strings.ToLower(content)
	score := 0
	for _, term := range terms {
		score += strings.Count(lower, term)
	}
	return score
}
