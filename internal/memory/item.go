package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors for experience store operations.
var (
	ErrItemNotFound     = errors.New("experience item not found")
	ErrInvalidItem      = errors.New("invalid experience item")
	ErrEmptyTitle       = errors.New("item title cannot be empty")
	ErrEmptyDescription = errors.New("item description cannot be empty")
	ErrEmptyContent     = errors.New("item content cannot be empty")
	ErrIncompatibleFile = errors.New("incompatible store file")
)

// Item is a distilled, reusable problem-solving strategy learned from a
// past formulation attempt.
//
// Items are created by the Extractor from judged trajectories (or manually
// through the administrative surfaces) and consolidated into the Store.
// Success items carry tactics worth repeating; failure items carry lessons
// about approaches to avoid.
type Item struct {
	// Title is a short unique identifier for the strategy
	// (e.g., "Match HBD polarity to target solute").
	Title string `json:"title"`

	// Description is a one-sentence summary of when the strategy applies.
	Description string `json:"description"`

	// Content is the strategy body, typically one to five sentences.
	Content string `json:"content"`

	// SourceTaskID is an optional weak back-reference to the task the item
	// was extracted from. It is never an ownership link.
	SourceTaskID string `json:"source_task_id,omitempty"`

	// FromSuccess records whether the originating attempt succeeded.
	FromSuccess bool `json:"is_from_success"`

	// CreatedAt is when the item was created.
	CreatedAt time.Time `json:"created_at"`

	// Embedding is the vector for similarity ranking, computed lazily on
	// insertion into the Store. Items without an embedding are excluded
	// from retrieval until backfilled.
	Embedding []float32 `json:"embedding,omitempty"`

	// Metadata holds open key/value pairs used for retrieval filtering
	// (e.g., "application": "co2_capture").
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewItem creates an experience item with the current timestamp.
//
// Title, description and content must be non-empty after trimming
// whitespace; a violation fails with a validation error and the item is
// never stored.
func NewItem(title, description, content string) (*Item, error) {
	item := &Item{
		Title:       title,
		Description: description,
		Content:     content,
		CreatedAt:   time.Now(),
		Metadata:    map[string]any{},
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	return item, nil
}

// Validate checks the non-empty field invariant.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidItem, ErrEmptyTitle)
	}
	if strings.TrimSpace(i.Description) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidItem, ErrEmptyDescription)
	}
	if strings.TrimSpace(i.Content) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidItem, ErrEmptyContent)
	}
	return nil
}

// EmbeddingText returns the text the Store embeds for this item.
// Title and description carry the retrieval signal; the full content is
// deliberately excluded to keep vectors focused on applicability.
func (i *Item) EmbeddingText() string {
	return i.Title + ". " + i.Description
}

// PromptString renders the item for injection into a generation prompt.
func (i *Item) PromptString() string {
	return fmt.Sprintf("**%s**\n%s", i.Title, i.Content)
}

// HasEmbedding reports whether the item participates in similarity ranking.
func (i *Item) HasEmbedding() bool {
	return len(i.Embedding) > 0
}

// Clone returns a deep copy. Store reads hand out clones so callers can
// never mutate stored state through a returned pointer.
func (i *Item) Clone() *Item {
	c := *i
	if i.Embedding != nil {
		c.Embedding = make([]float32, len(i.Embedding))
		copy(c.Embedding, i.Embedding)
	}
	if i.Metadata != nil {
		c.Metadata = make(map[string]any, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// normalizeTitle is the comparison key for title uniqueness.
func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// DefaultTopK is the number of items a retrieval returns when the query
// does not say otherwise.
const DefaultTopK = 3

// Query describes one retrieval against the experience store. Queries are
// transient: constructed per call, never persisted.
type Query struct {
	// Text is embedded and compared against item embeddings.
	Text string

	// TopK bounds the number of returned items. Zero or negative means
	// DefaultTopK.
	TopK int

	// Filters are exact-match predicates evaluated before scoring.
	// Keys address item fields ("source_task_id", "is_from_success") or
	// metadata entries, dot-path addressed for nested maps
	// ("metadata.application" or plain "application").
	Filters map[string]any

	// MinSimilarity is the inclusive lower score bound. Default 0 keeps
	// every candidate.
	MinSimilarity float64
}

// NewQuery builds a query with defaults applied.
func NewQuery(text string) Query {
	return Query{Text: text, TopK: DefaultTopK}
}

// Normalize returns a copy with defaults filled in.
func (q Query) Normalize() Query {
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.MinSimilarity < 0 {
		q.MinSimilarity = 0
	}
	return q
}
