package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nunnr/gephiserver/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestJob() *model.JobRecord {
	return &model.JobRecord{
		ID:        model.NewID(),
		Pipeline:  "std",
		Format:    "svg",
		GraphID:   1,
		Mode:      model.ModeAsync,
		Status:    model.StatusQueued,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	if got.ID != j.ID {
		t.Errorf("ID = %q, want %q", got.ID, j.ID)
	}
	if got.Status != j.Status {
		t.Errorf("Status = %q, want %q", got.Status, j.Status)
	}
	if got.Pipeline != j.Pipeline || got.Format != j.Format {
		t.Errorf("Pipeline/Format = %q/%q, want %q/%q", got.Pipeline, got.Format, j.Pipeline, j.Format)
	}
	if got.Mode != j.Mode {
		t.Errorf("Mode = %q, want %q", got.Mode, j.Mode)
	}
	if got.StartedAt != nil || got.FinishedAt != nil {
		t.Errorf("StartedAt/FinishedAt = %v/%v, want nil", got.StartedAt, got.FinishedAt)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetJob(context.Background(), "nonexistent")
	if err != ErrNotFound {
		t.Errorf("GetJob error = %v, want ErrNotFound", err)
	}
}

func TestListJobsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := range 5 {
		j := makeTestJob()
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	tests := []struct {
		limit, offset int
		wantLen       int
	}{
		{2, 0, 2},
		{2, 4, 1},
		{10, 0, 5},
		{10, 5, 0},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("limit=%d offset=%d", tc.limit, tc.offset), func(t *testing.T) {
			jobs, total, err := s.ListJobs(ctx, tc.limit, tc.offset)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if total != 5 {
				t.Errorf("total = %d, want 5", total)
			}
			if len(jobs) != tc.wantLen {
				t.Errorf("len = %d, want %d", len(jobs), tc.wantLen)
			}
		})
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	var ids []string
	for i := range 3 {
		j := makeTestJob()
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		ids = append(ids, j.ID)
	}

	jobs, _, err := s.ListJobs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	for i, j := range jobs {
		if want := ids[len(ids)-1-i]; j.ID != want {
			t.Errorf("jobs[%d] = %s, want %s", i, j.ID, want)
		}
	}
}

func TestUpdateJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	start := time.Now().UTC().Truncate(time.Second)
	j.Status = model.StatusRunning
	j.StartedAt = &start
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("queued→running: %v", err)
	}

	end := start.Add(2 * time.Second)
	size, dur := 512, 2000
	j.Status = model.StatusCompleted
	j.FinishedAt = &end
	j.OutputSize = &size
	j.DurationMS = &dur
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("running→completed: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, start)
	}
	if got.OutputSize == nil || *got.OutputSize != size {
		t.Errorf("OutputSize = %v, want %d", got.OutputSize, size)
	}
	if got.DurationMS == nil || *got.DurationMS != dur {
		t.Errorf("DurationMS = %v, want %d", got.DurationMS, dur)
	}
}

func TestUpdateJobInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		from, to string
	}{
		{"queued→completed", model.StatusQueued, model.StatusCompleted},
		{"completed→running", model.StatusCompleted, model.StatusRunning},
		{"cancelled→running", model.StatusCancelled, model.StatusRunning},
		{"rejected→queued", model.StatusRejected, model.StatusQueued},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			j := makeTestJob()
			j.Status = tc.from
			if err := s.CreateJob(ctx, j); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}

			j.Status = tc.to
			err := s.UpdateJob(ctx, j)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("got error %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestUpdateJobNotFound(t *testing.T) {
	s := newTestStore(t)
	j := makeTestJob()
	j.Status = model.StatusRunning

	if err := s.UpdateJob(context.Background(), j); err != ErrNotFound {
		t.Errorf("UpdateJob error = %v, want ErrNotFound", err)
	}
}

func TestGetJobStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		j := makeTestJob()
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		// Move the first two to completed with a duration.
		if i < 2 {
			j.Status = model.StatusRunning
			if err := s.UpdateJob(ctx, j); err != nil {
				t.Fatalf("UpdateJob running: %v", err)
			}
			dur := 100 + i*100 // 100, 200
			j.Status = model.StatusCompleted
			j.DurationMS = &dur
			if err := s.UpdateJob(ctx, j); err != nil {
				t.Fatalf("UpdateJob completed: %v", err)
			}
		}
	}

	j := makeTestJob()
	j.Pipeline = "rooted"
	j.Format = "png"
	j.Status = model.StatusRejected
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob (rejected): %v", err)
	}

	stats, err := s.GetJobStats(ctx)
	if err != nil {
		t.Fatalf("GetJobStats: %v", err)
	}

	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.CountByStatus[model.StatusCompleted] != 2 {
		t.Errorf("completed count = %d, want 2", stats.CountByStatus[model.StatusCompleted])
	}
	if stats.CountByStatus[model.StatusQueued] != 1 {
		t.Errorf("queued count = %d, want 1", stats.CountByStatus[model.StatusQueued])
	}
	if stats.CountByPipeline["std"] != 3 || stats.CountByPipeline["rooted"] != 1 {
		t.Errorf("CountByPipeline = %v, want std:3 rooted:1", stats.CountByPipeline)
	}
	if stats.CountByFormat["png"] != 1 {
		t.Errorf("png count = %d, want 1", stats.CountByFormat["png"])
	}
	if stats.AvgDurationMS != 150 {
		t.Errorf("AvgDurationMS = %f, want 150", stats.AvgDurationMS)
	}
}

func TestGetJobStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetJobStats(context.Background())
	if err != nil {
		t.Fatalf("GetJobStats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}
	if stats.AvgDurationMS != 0 {
		t.Errorf("AvgDurationMS = %f, want 0", stats.AvgDurationMS)
	}
}

func TestInsertAndGetJobEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	statuses := []string{model.StatusQueued, model.StatusRunning, model.StatusCompleted}
	// Insert out of order to check ordering by seq.
	for _, seq := range []int{2, 0, 1} {
		e := model.JobEvent{JobID: "j1", Seq: seq, Status: statuses[seq], CreatedAt: now}
		if err := s.InsertJobEvent(ctx, e); err != nil {
			t.Fatalf("InsertJobEvent: %v", err)
		}
	}
	if err := s.InsertJobEvent(ctx, model.JobEvent{JobID: "j2", Seq: 0, Status: model.StatusRejected, Message: "queue full", CreatedAt: now}); err != nil {
		t.Fatalf("InsertJobEvent j2: %v", err)
	}

	events, err := s.GetJobEvents(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJobEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, e := range events {
		if e.Seq != i || e.Status != statuses[i] {
			t.Errorf("events[%d] = {%d %s}, want {%d %s}", i, e.Seq, e.Status, i, statuses[i])
		}
	}

	other, err := s.GetJobEvents(ctx, "j2")
	if err != nil {
		t.Fatalf("GetJobEvents j2: %v", err)
	}
	if len(other) != 1 || other[0].Message != "queue full" {
		t.Errorf("j2 events = %+v, want one rejected event", other)
	}
}

func TestGetJobEventsEmpty(t *testing.T) {
	s := newTestStore(t)

	events, err := s.GetJobEvents(context.Background(), "none")
	if err != nil {
		t.Fatalf("GetJobEvents: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Errorf("events = %v, want empty non-nil slice", events)
	}
}

func TestInsertJobEventDuplicateSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := model.JobEvent{JobID: "j1", Seq: 0, Status: model.StatusQueued, CreatedAt: time.Now().UTC()}

	if err := s.InsertJobEvent(ctx, e); err != nil {
		t.Fatalf("InsertJobEvent: %v", err)
	}
	if err := s.InsertJobEvent(ctx, e); err == nil {
		t.Error("expected error for duplicate (job_id, seq)")
	}
}

func TestMigrationIdempotency(t *testing.T) {
	s := newTestStore(t)

	for _, stmt := range []string{createJobsTable, createJobEventsTable, createGraphsTable, createNodesTable, createEdgesTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			t.Fatalf("second migration: %v", err)
		}
	}
}
