package store

import (
	"context"
	"errors"

	"github.com/nunnr/gephiserver/internal/model"
)

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrSchema is returned by CheckSchema when a required table is missing.
var ErrSchema = errors.New("graph schema incomplete")

// JobStats holds aggregate render statistics.
type JobStats struct {
	Total           int            `json:"total"`
	CountByStatus   map[string]int `json:"count_by_status"`
	CountByPipeline map[string]int `json:"count_by_pipeline"`
	CountByFormat   map[string]int `json:"count_by_format"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// GraphSnapshot is a consistent read view of the graph tables. Close is
// idempotent.
type GraphSnapshot interface {
	Graph(ctx context.Context, id int64) (*model.GraphInfo, error)
	// EachNode calls fn for every node of the graph until fn returns false.
	EachNode(ctx context.Context, graphID int64, fn func(model.NodeRow) bool) error
	// EachEdge calls fn for every edge of the graph until fn returns false.
	EachEdge(ctx context.Context, graphID int64, fn func(model.EdgeRow) bool) error
	Close() error
}

// GraphStore provides the graph data a render reads.
type GraphStore interface {
	CheckSchema(ctx context.Context) error
	ListGraphs(ctx context.Context) (map[int64]string, error)
	GetGraph(ctx context.Context, id int64) (*model.GraphInfo, error)
	Snapshot(ctx context.Context) (GraphSnapshot, error)
	SaveGraph(ctx context.Context, g *model.GraphInfo, nodes []model.NodeRow, edges []model.EdgeRow) error
}

// JobStore persists render job history.
type JobStore interface {
	CreateJob(ctx context.Context, j *model.JobRecord) error
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.JobRecord, int, error)
	UpdateJob(ctx context.Context, j *model.JobRecord) error
	GetJobStats(ctx context.Context) (*JobStats, error)
	InsertJobEvent(ctx context.Context, e model.JobEvent) error
	GetJobEvents(ctx context.Context, jobID string) ([]model.JobEvent, error)
}

// Store is the full persistence surface of the server.
type Store interface {
	GraphStore
	JobStore
	Close() error
}
