// Package knowledge provides the agent's consultable knowledge sources:
// a theory corpus and a literature corpus served from vector collections,
// plus operator-authored formulation constraints with hot reload.
//
// Tools follow a two-method contract (Query, Status). Query returns a nil
// Result with a nil error when a source has nothing relevant; errors wrap
// ErrToolUnavailable. Either way the agent proceeds with whatever prompt
// sections it collected, so a missing source degrades the prompt, never
// the task.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/cruciblelabs/formulad/internal/vectorstore"
)

var knowledgeTracer = otel.Tracer("formulad.knowledge")

// ErrToolUnavailable indicates a knowledge source could not serve a query
// (backend error, timeout, uninitialized corpus). Callers recover by
// proceeding without the source.
var ErrToolUnavailable = errors.New("knowledge: tool unavailable")

// Collection names for the built-in corpora.
const (
	TheoryCollection     = "formulad_theory"
	LiteratureCollection = "formulad_literature"
)

// State is a tool's operational condition.
type State string

const (
	// StateReady means the tool is initialized and serving queries.
	StateReady State = "ready"

	// StateError means the tool's backend failed a health or info check.
	StateError State = "error"

	// StateNoData means the tool is reachable but its corpus is empty.
	StateNoData State = "no_data"

	// StateNotInitialized means the tool's corpus has not been created.
	StateNotInitialized State = "not_initialized"
)

// Status reports a tool's condition with optional detail.
type Status struct {
	State   State          `json:"status"`
	Message string         `json:"message,omitempty"`
	Stats   map[string]any `json:"stats,omitempty"`
}

// Request carries the parameters of one knowledge query.
type Request struct {
	// Query is the retrieval text. Required.
	Query string

	// TopK overrides the tool's configured result count when positive.
	TopK int

	// Focus optionally steers theory retrieval toward named topics
	// ("hydrogen_bonding", "component_selection", "molar_ratio").
	Focus []string

	// Filters optionally restrict literature retrieval by document
	// metadata ("material_class": "polysaccharide").
	Filters map[string]any
}

// Document is one retrieved knowledge fragment.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is a non-empty answer to a knowledge query.
type Result struct {
	// Query echoes the retrieval text.
	Query string `json:"query"`

	// FormattedText is the ready-to-inject prompt section, header included.
	FormattedText string `json:"formatted_text"`

	NumResults int        `json:"num_results"`
	Documents  []Document `json:"documents,omitempty"`
}

// Tool is the contract every knowledge source implements.
//
// Adapters implement it independently; there is no base type to extend.
type Tool interface {
	// Query retrieves knowledge for the request. A nil Result with a nil
	// error means the source has nothing relevant.
	Query(ctx context.Context, req Request) (*Result, error)

	// Status reports whether the source can currently serve queries.
	Status(ctx context.Context) Status
}

// collectionStatus derives a tool status from a vector collection's state.
func collectionStatus(ctx context.Context, store vectorstore.Store, collection string) Status {
	info, err := store.GetCollectionInfo(ctx, collection)
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return Status{
			State:   StateNotInitialized,
			Message: fmt.Sprintf("collection %s does not exist; seed it first", collection),
		}
	case err != nil:
		return Status{State: StateError, Message: err.Error()}
	case info.PointCount == 0:
		return Status{
			State:   StateNoData,
			Message: fmt.Sprintf("collection %s holds no documents", collection),
		}
	default:
		return Status{
			State: StateReady,
			Stats: map[string]any{
				"collection": info.Name,
				"documents":  info.PointCount,
			},
		}
	}
}

// toDocuments converts store search results to knowledge documents.
func toDocuments(results []vectorstore.SearchResult) []Document {
	docs := make([]Document, len(results))
	for i, r := range results {
		docs[i] = Document{
			ID:       r.ID,
			Text:     r.Content,
			Score:    r.Score,
			Metadata: r.Metadata,
		}
	}
	return docs
}

// metaString reads a metadata value as a string, "" when absent.
func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
