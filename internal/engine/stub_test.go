package engine_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nunnr/gephiserver/internal/engine"
	"github.com/nunnr/gephiserver/internal/graph"
	"github.com/nunnr/gephiserver/internal/model"
	"github.com/nunnr/gephiserver/internal/pipeline"
)

const waitTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubBuilder records which graphs it was asked to build. With a gate it
// blocks each build until a value is sent on the gate or ctx is done.
type stubBuilder struct {
	mu      sync.Mutex
	started []int64
	entered chan int64
	gate    chan struct{}
	fail    map[int64]error
	cleanup func() error
}

func newStubBuilder(gated bool) *stubBuilder {
	b := &stubBuilder{entered: make(chan int64, 64)}
	if gated {
		b.gate = make(chan struct{})
	}
	return b
}

func (b *stubBuilder) Build(ctx context.Context, ws *pipeline.Workspace, graphID int64, _ model.Params) (*graph.Graph, error) {
	b.mu.Lock()
	b.started = append(b.started, graphID)
	b.mu.Unlock()
	b.entered <- graphID

	if b.cleanup != nil {
		if err := ws.Defer(b.cleanup); err != nil {
			return nil, err
		}
	}
	if err := b.fail[graphID]; err != nil {
		return nil, err
	}
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g := graph.New("stub", "test")
	if err := g.AddNode(&graph.Node{ID: graphID, Label: "n"}); err != nil {
		return nil, err
	}
	return g, nil
}

func (b *stubBuilder) Started() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.started...)
}

// waitEntered blocks until the builder is entered and returns the graph id.
func (b *stubBuilder) waitEntered(t *testing.T) int64 {
	t.Helper()
	select {
	case id := <-b.entered:
		return id
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a build to start")
		return 0
	}
}

func (b *stubBuilder) release(t *testing.T) {
	t.Helper()
	select {
	case b.gate <- struct{}{}:
	case <-time.After(waitTimeout):
		t.Fatal("timed out releasing a build")
	}
}

type stubLayout struct {
	apply func(ctx context.Context, g *graph.Graph) error
}

func (l *stubLayout) Name() string { return "stub" }

func (l *stubLayout) Apply(ctx context.Context, g *graph.Graph) (model.LayoutStats, error) {
	if l.apply != nil {
		if err := l.apply(ctx, g); err != nil {
			return model.LayoutStats{}, err
		}
	}
	return model.LayoutStats{Nodes: g.NodeCount(), Edges: g.EdgeCount(), Iterations: 1}, nil
}

type stubExporter struct {
	err error
}

func (e *stubExporter) Format() string      { return "txt" }
func (e *stubExporter) ContentType() string { return "text/plain" }

func (e *stubExporter) Export(_ context.Context, g *graph.Graph) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []byte("rendered " + g.Title), nil
}

func stubPipeline(b pipeline.Builder) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Name:     "stub",
		Builder:  b,
		Layout:   &stubLayout{},
		Exporter: &stubExporter{},
	}
}

// newTestScheduler starts a scheduler that is shut down when the test ends.
func newTestScheduler(t *testing.T, cfg engine.Config, opts ...engine.Option) *engine.Scheduler {
	t.Helper()
	s, err := engine.NewScheduler(cfg, discardLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

// statuses drains a subscription until the job's topic closes.
func statuses(t *testing.T, ch <-chan model.JobEvent) []string {
	t.Helper()
	var out []string
	timeout := time.After(waitTimeout)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e.Status)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", out)
			return out
		}
	}
}

func waitHandle(t *testing.T, h *engine.Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("job %s did not resolve", h.ID())
	}
}
