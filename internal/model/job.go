package model

import "time"

// Job status constants.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
)

// Submission modes.
const (
	ModeSync   = "sync"
	ModeAsync  = "async"
	ModeDirect = "direct"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether no further transitions are possible from status.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// JobRecord is the persisted history of one render job.
type JobRecord struct {
	ID         string     `json:"id"`
	Pipeline   string     `json:"pipeline"`
	Format     string     `json:"format"`
	GraphID    int64      `json:"graph_id"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	OutputSize *int       `json:"output_size,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobEvent is a single state change of a job, in the order it happened.
type JobEvent struct {
	JobID     string    `json:"job_id"`
	Seq       int       `json:"seq"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Artifact is the output of a finished render.
type Artifact struct {
	JobID       string      `json:"job_id"`
	Format      string      `json:"format"`
	ContentType string      `json:"content_type"`
	Data        []byte      `json:"-"`
	Layout      LayoutStats `json:"layout"`
}

// LayoutStats describes what a layout pass did to a graph.
type LayoutStats struct {
	Nodes       int `json:"nodes"`
	Edges       int `json:"edges"`
	Iterations  int `json:"iterations"`
	Communities int `json:"communities"`
}
