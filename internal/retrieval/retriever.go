// Package retrieval ranks stored experience items against a query by
// embedding similarity.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/memory"
)

var retrievalTracer = otel.Tracer("formulad.retrieval")

// ItemSource supplies filtered candidates for ranking. *memory.Store
// satisfies it.
type ItemSource interface {
	Filter(filters map[string]any) []*memory.Item
}

// ScoredItem pairs an item with its similarity score for one query.
type ScoredItem struct {
	Item  *memory.Item
	Score float64
}

// Retriever ranks experience items by cosine similarity between the query
// embedding and each item's stored embedding. Items without an embedding
// never rank.
type Retriever struct {
	source   ItemSource
	embedder memory.Embedder
	logger   *zap.Logger
}

// NewRetriever creates a retriever over an item source.
func NewRetriever(source ItemSource, embedder memory.Embedder, logger *zap.Logger) (*Retriever, error) {
	if source == nil {
		return nil, fmt.Errorf("item source cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{source: source, embedder: embedder, logger: logger}, nil
}

// Retrieve returns up to query.TopK items ranked by similarity.
// An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query memory.Query) ([]*memory.Item, error) {
	scored, err := r.RetrieveWithScores(ctx, query)
	if err != nil {
		return nil, err
	}
	items := make([]*memory.Item, len(scored))
	for i, s := range scored {
		items[i] = s.Item
	}
	return items, nil
}

// RetrieveWithScores ranks candidates and keeps their scores.
//
// The candidate set is every item passing the query filters that carries
// an embedding. Candidates scoring below query.MinSimilarity are dropped;
// the rest sort by descending score with ties broken by most-recent
// creation time, then truncate to TopK.
func (r *Retriever) RetrieveWithScores(ctx context.Context, query memory.Query) ([]ScoredItem, error) {
	ctx, span := retrievalTracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()

	if strings.TrimSpace(query.Text) == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}
	query = query.Normalize()
	span.SetAttributes(
		attribute.Int("top_k", query.TopK),
		attribute.Float64("min_similarity", query.MinSimilarity),
	)

	candidates := make([]*memory.Item, 0)
	for _, item := range r.source.Filter(query.Filters) {
		if item.HasEmbedding() {
			candidates = append(candidates, item)
		}
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	if len(candidates) == 0 {
		r.logger.Debug("no retrievable candidates", zap.Int("top_k", query.TopK))
		return []ScoredItem{}, nil
	}

	queryVec, err := r.embedder.EmbedQuery(ctx, query.Text)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored := make([]ScoredItem, 0, len(candidates))
	for _, item := range candidates {
		score := CosineSimilarity(queryVec, item.Embedding)
		if score < query.MinSimilarity {
			continue
		}
		scored = append(scored, ScoredItem{Item: item, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Item.CreatedAt.After(scored[j].Item.CreatedAt)
	})

	if len(scored) > query.TopK {
		scored = scored[:query.TopK]
	}

	span.SetAttributes(attribute.Int("returned", len(scored)))
	r.logger.Debug("retrieved experience items",
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(scored)))
	return scored, nil
}

// FormatForPrompt renders retrieved items as the past-experiences prompt
// section. Returns an empty string when there is nothing to inject.
func FormatForPrompt(items []*memory.Item) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Relevant Past Experiences\n\n")
	b.WriteString("The following strategies were distilled from earlier formulation attempts. ")
	b.WriteString("Apply the lessons where they fit; avoid repeating recorded failures.\n\n")

	for i, item := range items {
		b.WriteString(fmt.Sprintf("### Experience %d: %s\n", i+1, item.Title))
		if item.Description != "" {
			b.WriteString(fmt.Sprintf("_%s_\n\n", item.Description))
		}
		b.WriteString(item.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
