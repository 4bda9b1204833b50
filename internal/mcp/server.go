// Package mcp exposes the formulation solver and the experience store over
// the Model Context Protocol, so agent frontends can drive formulad as a
// set of tools on stdio.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/cruciblelabs/formulad/internal/agent"
	"github.com/cruciblelabs/formulad/internal/memory"
	"github.com/cruciblelabs/formulad/internal/retrieval"
)

// Solver runs one formulation task to a verdict. *agent.Agent satisfies it.
type Solver interface {
	Solve(ctx context.Context, task agent.Task) (*agent.Result, error)
}

// Searcher ranks stored experiences against a free-text query.
// *retrieval.Retriever satisfies it.
type Searcher interface {
	RetrieveWithScores(ctx context.Context, query memory.Query) ([]retrieval.ScoredItem, error)
}

// Config holds MCP server configuration.
type Config struct {
	// Name is the server name reported to clients.
	Name string
	// Version is the server version reported to clients.
	Version string
	// Logger for server operations.
	Logger *zap.Logger
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "formulad",
		Version: "0.1.0",
		Logger:  zap.NewNop(),
	}
}

// Server wraps an MCP server with the formulad tool handlers.
type Server struct {
	mcp      *mcp.Server
	solver   Solver
	store    *memory.Store
	searcher Searcher
	logger   *zap.Logger
}

// NewServer creates an MCP server exposing the solve_formulation,
// search_experiences, and memory_stats tools.
func NewServer(cfg *Config, solver Solver, store *memory.Store, searcher Searcher) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if solver == nil {
		return nil, fmt.Errorf("solver is required")
	}
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		solver:   solver,
		store:    store,
		searcher: searcher,
		logger:   logger,
	}

	s.registerTools()
	return s, nil
}

// Run serves MCP over stdio until the context is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "solve_formulation",
		Description: "Design a deep eutectic solvent formulation for a dissolution task, consulting stored experiences and recording new ones",
	}, s.handleSolveFormulation)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_experiences",
		Description: "Search the experience store for strategies relevant to a query, ranked by embedding similarity",
	}, s.handleSearchExperiences)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_stats",
		Description: "Report experience store statistics (counts by provenance, embedding coverage, capacity utilization)",
	}, s.handleMemoryStats)
}

type solveFormulationInput struct {
	Description       string            `json:"description" jsonschema:"required,Natural-language statement of the design goal"`
	TargetMaterial    string            `json:"target_material" jsonschema:"required,Material the solvent must dissolve"`
	TargetTemperature float64           `json:"target_temperature,omitempty" jsonschema:"Working temperature in Celsius (default: 25)"`
	MaterialCategory  string            `json:"material_category,omitempty" jsonschema:"Material category for literature filtering (e.g. polymer)"`
	Constraints       map[string]string `json:"constraints,omitempty" jsonschema:"Additional named requirements"`
}

type solveFormulationOutput struct {
	TaskID            string   `json:"task_id" jsonschema:"Task identifier"`
	HBD               string   `json:"hbd" jsonschema:"Hydrogen-bond donor"`
	HBA               string   `json:"hba" jsonschema:"Hydrogen-bond acceptor"`
	MolarRatio        string   `json:"molar_ratio" jsonschema:"Donor:acceptor molar ratio"`
	Reasoning         string   `json:"reasoning" jsonschema:"Why this formulation should work"`
	Confidence        float64  `json:"confidence" jsonschema:"Confidence in the recommendation (0-1)"`
	Outcome           string   `json:"outcome" jsonschema:"Judge verdict (success or failure)"`
	FailureReason     string   `json:"failure_reason,omitempty" jsonschema:"Why the attempt failed (empty on success)"`
	MemoriesUsed      []string `json:"memories_used" jsonschema:"Titles of experiences consulted during generation"`
	MemoriesExtracted []string `json:"memories_extracted" jsonschema:"Titles of experiences distilled from this attempt"`
}

func (s *Server) handleSolveFormulation(ctx context.Context, req *mcp.CallToolRequest, args solveFormulationInput) (*mcp.CallToolResult, solveFormulationOutput, error) {
	start := time.Now()

	task := agent.Task{
		Description:       args.Description,
		TargetMaterial:    args.TargetMaterial,
		TargetTemperature: args.TargetTemperature,
		MaterialCategory:  args.MaterialCategory,
		Constraints:       args.Constraints,
	}
	if err := task.Validate(); err != nil {
		return nil, solveFormulationOutput{}, err
	}

	res, err := s.solver.Solve(ctx, task)
	if err != nil {
		return nil, solveFormulationOutput{}, fmt.Errorf("solve failed: %w", err)
	}

	output := solveFormulationOutput{
		TaskID:            res.TaskID,
		Outcome:           string(res.Outcome),
		FailureReason:     res.FailureReason,
		MemoriesUsed:      res.MemoriesUsed,
		MemoriesExtracted: res.MemoriesExtracted,
	}
	// MCP schema validation requires arrays, not null.
	if output.MemoriesUsed == nil {
		output.MemoriesUsed = []string{}
	}
	if output.MemoriesExtracted == nil {
		output.MemoriesExtracted = []string{}
	}

	var text string
	if res.Candidate != nil {
		output.HBD = res.Candidate.Formulation.HBD
		output.HBA = res.Candidate.Formulation.HBA
		output.MolarRatio = res.Candidate.Formulation.MolarRatio
		output.Reasoning = res.Candidate.Reasoning
		output.Confidence = res.Candidate.Confidence
		text = fmt.Sprintf("Recommended %s : %s (%s), confidence %.2f, outcome %s",
			output.HBD, output.HBA, output.MolarRatio, output.Confidence, output.Outcome)
	} else {
		text = fmt.Sprintf("No formulation produced: %s", res.FailureReason)
	}

	s.logger.Info("solve_formulation handled",
		zap.String("task_id", res.TaskID),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("elapsed", time.Since(start)))

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, output, nil
}

type searchExperiencesInput struct {
	Query         string  `json:"query" jsonschema:"required,Free-text query to rank experiences against"`
	TopK          int     `json:"top_k,omitempty" jsonschema:"Maximum results (default: 3)"`
	MinSimilarity float64 `json:"min_similarity,omitempty" jsonschema:"Minimum cosine similarity (0-1)"`
	SuccessOnly   bool    `json:"success_only,omitempty" jsonschema:"Only return experiences distilled from successful attempts"`
}

type searchExperiencesOutput struct {
	Experiences []map[string]any `json:"experiences" jsonschema:"Matching experiences with similarity scores"`
	Count       int              `json:"count" jsonschema:"Number of results"`
}

func (s *Server) handleSearchExperiences(ctx context.Context, req *mcp.CallToolRequest, args searchExperiencesInput) (*mcp.CallToolResult, searchExperiencesOutput, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, searchExperiencesOutput{}, fmt.Errorf("query is required")
	}

	query := memory.Query{
		Text:          args.Query,
		TopK:          args.TopK,
		MinSimilarity: args.MinSimilarity,
	}
	if args.SuccessOnly {
		query.Filters = map[string]any{"is_from_success": true}
	}

	scored, err := s.searcher.RetrieveWithScores(ctx, query)
	if err != nil {
		return nil, searchExperiencesOutput{}, fmt.Errorf("experience search failed: %w", err)
	}

	experiences := make([]map[string]any, 0, len(scored))
	for _, sc := range scored {
		experiences = append(experiences, map[string]any{
			"title":           sc.Item.Title,
			"description":     sc.Item.Description,
			"content":         sc.Item.Content,
			"is_from_success": sc.Item.FromSuccess,
			"score":           sc.Score,
		})
	}

	output := searchExperiencesOutput{
		Experiences: experiences,
		Count:       len(experiences),
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Found %d experiences for query: %s", output.Count, args.Query)},
		},
	}, output, nil
}

type memoryStatsInput struct{}

type memoryStatsOutput struct {
	Total          int     `json:"total_items" jsonschema:"Total stored experiences"`
	FromSuccess    int     `json:"from_success" jsonschema:"Experiences distilled from successes"`
	FromFailure    int     `json:"from_failure" jsonschema:"Experiences distilled from failures"`
	WithEmbeddings int     `json:"with_embeddings" jsonschema:"Experiences carrying an embedding"`
	Capacity       int     `json:"capacity" jsonschema:"Configured capacity (0 means unbounded)"`
	Utilization    float64 `json:"utilization" jsonschema:"Fraction of capacity in use"`
}

func (s *Server) handleMemoryStats(ctx context.Context, req *mcp.CallToolRequest, args memoryStatsInput) (*mcp.CallToolResult, memoryStatsOutput, error) {
	stats := s.store.Statistics()
	output := memoryStatsOutput{
		Total:          stats.Total,
		FromSuccess:    stats.FromSuccess,
		FromFailure:    stats.FromFailure,
		WithEmbeddings: stats.WithEmbeddings,
		Capacity:       stats.Capacity,
		Utilization:    stats.Utilization,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d experiences stored (%d from success, %d from failure)",
				output.Total, output.FromSuccess, output.FromFailure)},
		},
	}, output, nil
}
