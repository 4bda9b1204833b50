// Package server provides the HTTP API for formulad.
package server

import (
	"time"

	"github.com/cruciblelabs/formulad/internal/agent"
	"github.com/cruciblelabs/formulad/internal/feedback"
	"github.com/cruciblelabs/formulad/internal/memory"
)

// SolveRequest is the request body for POST /v1/solve.
type SolveRequest struct {
	Description       string            `json:"description"`
	TargetMaterial    string            `json:"target_material"`
	TargetTemperature float64           `json:"target_temperature,omitempty"`
	MaterialCategory  string            `json:"material_category,omitempty"`
	Constraints       map[string]string `json:"constraints,omitempty"`
}

// Task converts the request into an agent task.
func (r SolveRequest) Task() agent.Task {
	return agent.Task{
		Description:       r.Description,
		TargetMaterial:    r.TargetMaterial,
		TargetTemperature: r.TargetTemperature,
		MaterialCategory:  r.MaterialCategory,
		Constraints:       r.Constraints,
	}
}

// SolveResponse is the response body for POST /v1/solve.
type SolveResponse struct {
	TaskID string `json:"task_id"`
	// RecommendationID references the persisted recommendation record,
	// used later to submit the experiment result. Empty when feedback
	// recording is not configured.
	RecommendationID     string              `json:"recommendation_id,omitempty"`
	Formulation          *memory.Formulation `json:"formulation,omitempty"`
	Reasoning            string              `json:"reasoning,omitempty"`
	Confidence           float64             `json:"confidence,omitempty"`
	Outcome              memory.Outcome      `json:"outcome"`
	FailureReason        string              `json:"failure_reason,omitempty"`
	ExperiencesConsulted int                 `json:"experiences_consulted"`
	MemoriesUsed         []string            `json:"memories_used,omitempty"`
	MemoriesExtracted    []string            `json:"memories_extracted,omitempty"`
	ElapsedSeconds       float64             `json:"elapsed_seconds"`
}

// MemorySummary is one experience item as exposed by the API. Embeddings
// stay internal; they are large and meaningless to clients.
type MemorySummary struct {
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Content      string         `json:"content"`
	SourceTaskID string         `json:"source_task_id,omitempty"`
	FromSuccess  bool           `json:"is_from_success"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func toMemorySummary(item *memory.Item) MemorySummary {
	return MemorySummary{
		Title:        item.Title,
		Description:  item.Description,
		Content:      item.Content,
		SourceTaskID: item.SourceTaskID,
		FromSuccess:  item.FromSuccess,
		CreatedAt:    item.CreatedAt,
		Metadata:     item.Metadata,
	}
}

// MemoryListResponse is the response body for GET /v1/memories.
type MemoryListResponse struct {
	Items []MemorySummary `json:"items"`
	Total int             `json:"total"`
}

// FeedbackRequest is the request body for POST /v1/feedback/results.
type FeedbackRequest struct {
	RecommendationID string                    `json:"recommendation_id"`
	Result           feedback.ExperimentResult `json:"result"`
}

// FeedbackResponse is the response body for POST /v1/feedback/results.
type FeedbackResponse struct {
	RecommendationID string          `json:"recommendation_id"`
	Status           feedback.Status `json:"status"`
	PerformanceScore float64         `json:"performance_score"`
	// Processed reports whether the result was already distilled into
	// the experience store. False means the next pending sweep will
	// retry it.
	Processed         bool     `json:"processed"`
	MemoriesExtracted []string `json:"memories_extracted,omitempty"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Memories int    `json:"memories"`
}
