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

// TheoryConfig configures the theory adapter.
type TheoryConfig struct {
	// Collection holds the theory corpus. Default: TheoryCollection.
	Collection string

	// TopK is the number of passages retrieved per query. Default: 5.
	TopK int
}

// ApplyDefaults sets default values for unset fields.
func (c *TheoryConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = TheoryCollection
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
}

// TheoryTool serves distilled DES theory: hydrogen-bond donor/acceptor
// pairing rules, component classes, molar ratio heuristics, eutectic
// depression principles. It retrieves the passages most similar to the
// query and renders them as the "Theoretical Knowledge" prompt section.
type TheoryTool struct {
	store  vectorstore.Store
	config TheoryConfig
	logger *zap.Logger
}

// NewTheoryTool creates a theory adapter over the given vector store.
func NewTheoryTool(store vectorstore.Store, config TheoryConfig, logger *zap.Logger) (*TheoryTool, error) {
	if store == nil {
		return nil, errors.New("vector store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	return &TheoryTool{store: store, config: config, logger: logger}, nil
}

// Query retrieves theory passages relevant to the request. Focus topics
// are folded into the retrieval text to steer similarity.
func (t *TheoryTool) Query(ctx context.Context, req Request) (*Result, error) {
	ctx, span := knowledgeTracer.Start(ctx, "knowledge.TheoryTool.Query")
	defer span.End()
	span.SetAttributes(attribute.String("collection", t.config.Collection))

	query := strings.TrimSpace(req.Query)
	if query == "" {
		t.logger.Warn("theory query is empty")
		return nil, nil
	}

	searchText := query
	if len(req.Focus) > 0 {
		searchText = fmt.Sprintf("%s (focus: %s)", query, strings.Join(req.Focus, ", "))
	}
	topK := t.config.TopK
	if req.TopK > 0 {
		topK = req.TopK
	}

	results, err := t.store.SearchInCollection(ctx, t.config.Collection, searchText, topK, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "theory lookup failed")
		t.logger.Warn("theory lookup failed",
			zap.String("query", query),
			zap.Error(err))
		return nil, fmt.Errorf("%w: theory lookup: %v", ErrToolUnavailable, err)
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
		FormattedText: formatTheory(query, req.Focus, docs),
		NumResults:    len(docs),
		Documents:     docs,
	}, nil
}

// Status reports the theory corpus condition.
func (t *TheoryTool) Status(ctx context.Context) Status {
	return collectionStatus(ctx, t.store, t.config.Collection)
}

// formatTheory renders the theory prompt section: the query, the focus
// topics, and the retrieved principles as a numbered list with their
// source keys.
func formatTheory(query string, focus []string, docs []Document) string {
	var sb strings.Builder
	sb.WriteString("## Theoretical Knowledge\n\n")
	sb.WriteString("**Query:** " + query + "\n")
	if len(focus) > 0 {
		sb.WriteString("**Focus Areas:** " + strings.Join(focus, ", ") + "\n")
	}
	sb.WriteString("\n")

	for i, doc := range docs {
		fmt.Fprintf(&sb, "%d. %s", i+1, strings.TrimSpace(doc.Text))
		if source := metaString(doc.Metadata, "source"); source != "" {
			fmt.Fprintf(&sb, " [%s]", source)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

var _ Tool = (*TheoryTool)(nil)
