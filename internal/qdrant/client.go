// Package qdrant wraps the official Qdrant gRPC client with typed
// operations, request timeouts, and retry on transient failures.
package qdrant

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a collection or point does not exist.
var ErrNotFound = errors.New("not found")

// Client provides a typed interface to the Qdrant vector database.
type Client interface {
	// Collection operations
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	DeleteCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)
	CountPoints(ctx context.Context, collection string) (uint64, error)

	// Point operations
	Upsert(ctx context.Context, collection string, points []*Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64, filter *Filter) ([]*ScoredPoint, error)
	// ExactSearch disables the HNSW index and scores every vector.
	// Use for small collections where the index may not be built yet.
	ExactSearch(ctx context.Context, collection string, vector []float32, limit uint64) ([]*ScoredPoint, error)
	Get(ctx context.Context, collection string, ids []string) ([]*Point, error)
	Delete(ctx context.Context, collection string, ids []string) error
	DeleteByFilter(ctx context.Context, collection string, filter *Filter) error

	// Health checks the server connection.
	Health(ctx context.Context) error

	// Close closes the client connection.
	Close() error
}

// Point represents a vector point in Qdrant.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// ScoredPoint represents a search result with score.
type ScoredPoint struct {
	Point
	Score float32
}

// Filter represents a filter for search and delete operations.
type Filter struct {
	Must    []Condition
	Should  []Condition
	MustNot []Condition
}

// Condition represents a filter condition. Match may be a string (single
// keyword) or []string (any-of keywords).
type Condition struct {
	Field string
	Match interface{}
	Range *RangeCondition
}

// RangeCondition represents a range filter.
type RangeCondition struct {
	Gte *float64
	Lte *float64
	Gt  *float64
	Lt  *float64
}
