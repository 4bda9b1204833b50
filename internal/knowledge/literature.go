package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/vectorstore"
)

// literatureExcerptLen caps each excerpt in the prompt section so a long
// paper fragment cannot crowd out the rest of the context.
const literatureExcerptLen = 400

// LiteratureConfig configures the literature adapter.
type LiteratureConfig struct {
	// Collection holds the literature corpus. Default: LiteratureCollection.
	Collection string

	// TopK is the number of excerpts retrieved per query. Default: 10.
	TopK int
}

// ApplyDefaults sets default values for unset fields.
func (c *LiteratureConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = LiteratureCollection
	}
	if c.TopK == 0 {
		c.TopK = 10
	}
}

// LiteratureTool serves published formulation precedents: excerpts from
// papers describing DES systems, dissolution results, and measured
// properties. Metadata filters narrow retrieval to a material class or
// temperature band when the request carries them.
type LiteratureTool struct {
	store  vectorstore.Store
	config LiteratureConfig
	logger *zap.Logger
}

// NewLiteratureTool creates a literature adapter over the given vector store.
func NewLiteratureTool(store vectorstore.Store, config LiteratureConfig, logger *zap.Logger) (*LiteratureTool, error) {
	if store == nil {
		return nil, errors.New("vector store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	return &LiteratureTool{store: store, config: config, logger: logger}, nil
}

// Query retrieves literature excerpts relevant to the request.
func (t *LiteratureTool) Query(ctx context.Context, req Request) (*Result, error) {
	ctx, span := knowledgeTracer.Start(ctx, "knowledge.LiteratureTool.Query")
	defer span.End()
	span.SetAttributes(attribute.String("collection", t.config.Collection))

	query := strings.TrimSpace(req.Query)
	if query == "" {
		t.logger.Warn("literature query is empty")
		return nil, nil
	}

	topK := t.config.TopK
	if req.TopK > 0 {
		topK = req.TopK
	}

	results, err := t.store.SearchInCollection(ctx, t.config.Collection, query, topK, req.Filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "literature lookup failed")
		t.logger.Warn("literature lookup failed",
			zap.String("query", query),
			zap.Error(err))
		return nil, fmt.Errorf("%w: literature lookup: %v", ErrToolUnavailable, err)
	}
	if len(results) == 0 {
		span.SetStatus(codes.Ok, "no matches")
		return nil, nil
	}

	docs := toDocuments(results)
	span.SetAttributes(attribute.Int("results_count", len(docs)))
	span.SetStatus(codes.Ok, "success")

	return &Result{
		Query:         query,
		FormattedText: formatLiterature(docs),
		NumResults:    len(docs),
		Documents:     docs,
	}, nil
}

// Status reports the literature corpus condition.
func (t *LiteratureTool) Status(ctx context.Context) Status {
	return collectionStatus(ctx, t.store, t.config.Collection)
}

// formatLiterature renders the literature prompt section: one block per
// excerpt with its relevance score, source key, and page.
func formatLiterature(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for i, doc := range docs {
		var header strings.Builder
		fmt.Fprintf(&header, "Document %d (score %.3f", i+1, doc.Score)
		if source := metaString(doc.Metadata, "source"); source != "" {
			header.WriteString(", source: " + source)
		}
		if page := metaString(doc.Metadata, "page"); page != "" {
			header.WriteString(", page " + page)
		}
		header.WriteString("):")

		text := strings.TrimSpace(doc.Text)
		if len(text) > literatureExcerptLen {
			text = text[:literatureExcerptLen] + "..."
		}
		parts = append(parts, header.String()+"\n"+text)
	}
	return "## Literature Precedents\n\n" + strings.Join(parts, "\n\n---\n\n")
}

var _ Tool = (*LiteratureTool)(nil)
