package store

import (
	"context"
	"errors"
	"testing"

	"github.com/nunnr/gephiserver/internal/model"
)

func seedTestGraph(t *testing.T, s *SQLiteStore) int64 {
	t.Helper()
	id, err := Seed(context.Background(), s)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return id
}

func TestCheckSchema(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CheckSchema(ctx); err != nil {
		t.Fatalf("CheckSchema: %v", err)
	}

	if _, err := s.db.Exec("DROP TABLE edges"); err != nil {
		t.Fatalf("drop edges: %v", err)
	}
	if err := s.CheckSchema(ctx); !errors.Is(err, ErrSchema) {
		t.Errorf("CheckSchema after drop = %v, want ErrSchema", err)
	}
}

func TestSeedAndGetGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedTestGraph(t, s)

	if id == 0 {
		t.Fatal("Seed returned id 0")
	}
	g, err := s.GetGraph(ctx, id)
	if err != nil {
		t.Fatalf("GetGraph: %v", err)
	}
	want, _, _ := DemoGraph()
	if g.Title != want.Title || g.URLBase != want.URLBase {
		t.Errorf("graph = %+v, want title %q url_base %q", g, want.Title, want.URLBase)
	}
	if g.UpWeight != want.UpWeight || g.DownWeight != want.DownWeight {
		t.Errorf("weights = %v/%v, want %v/%v", g.UpWeight, g.DownWeight, want.UpWeight, want.DownWeight)
	}

	graphs, err := s.ListGraphs(ctx)
	if err != nil {
		t.Fatalf("ListGraphs: %v", err)
	}
	if graphs[id] != want.Title {
		t.Errorf("ListGraphs[%d] = %q, want %q", id, graphs[id], want.Title)
	}
}

func TestGetGraphNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetGraph(context.Background(), 42); err != ErrNotFound {
		t.Errorf("GetGraph error = %v, want ErrNotFound", err)
	}
}

func TestSaveGraphReplacesRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := &model.GraphInfo{ID: 7, Title: "v1", UpWeight: 1, DownWeight: 1}
	nodes := []model.NodeRow{{Num: 1, Title: "a"}, {Num: 2, Title: "b"}}
	edges := []model.EdgeRow{{Num: 1, Source: 1, Target: 2, Value: 1}}
	if err := s.SaveGraph(ctx, g, nodes, edges); err != nil {
		t.Fatalf("SaveGraph v1: %v", err)
	}

	g.Title = "v2"
	if err := s.SaveGraph(ctx, g, nodes[:1], nil); err != nil {
		t.Fatalf("SaveGraph v2: %v", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer snap.Close()

	info, err := snap.Graph(ctx, 7)
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	if info.Title != "v2" {
		t.Errorf("Title = %q, want v2", info.Title)
	}
	var nodeCount, edgeCount int
	snap.EachNode(ctx, 7, func(model.NodeRow) bool { nodeCount++; return true })
	snap.EachEdge(ctx, 7, func(model.EdgeRow) bool { edgeCount++; return true })
	if nodeCount != 1 || edgeCount != 0 {
		t.Errorf("rows = %d nodes, %d edges; want 1, 0", nodeCount, edgeCount)
	}
}

func TestSnapshotStreamsRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedTestGraph(t, s)
	_, wantNodes, wantEdges := DemoGraph()

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer snap.Close()

	var nodes []model.NodeRow
	if err := snap.EachNode(ctx, id, func(n model.NodeRow) bool {
		nodes = append(nodes, n)
		return true
	}); err != nil {
		t.Fatalf("EachNode: %v", err)
	}
	if len(nodes) != len(wantNodes) {
		t.Fatalf("got %d nodes, want %d", len(nodes), len(wantNodes))
	}
	if nodes[1].Tag != wantNodes[1].Tag {
		t.Errorf("node tag = %q, want %q", nodes[1].Tag, wantNodes[1].Tag)
	}

	var edges int
	if err := snap.EachEdge(ctx, id, func(model.EdgeRow) bool {
		edges++
		return true
	}); err != nil {
		t.Fatalf("EachEdge: %v", err)
	}
	if edges != len(wantEdges) {
		t.Errorf("got %d edges, want %d", edges, len(wantEdges))
	}
}

func TestSnapshotEarlyStop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedTestGraph(t, s)

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer snap.Close()

	var seen int
	if err := snap.EachNode(ctx, id, func(model.NodeRow) bool {
		seen++
		return seen < 3
	}); err != nil {
		t.Fatalf("EachNode: %v", err)
	}
	if seen != 3 {
		t.Errorf("callback ran %d times, want 3", seen)
	}
}

func TestSnapshotCloseIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := snap.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := snap.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// The single in-memory connection must be free again.
	if _, err := s.ListGraphs(ctx); err != nil {
		t.Errorf("ListGraphs after Close: %v", err)
	}
}

func TestDemoGraphEdgesReferenceNodes(t *testing.T) {
	_, nodes, edges := DemoGraph()
	known := make(map[int64]bool, len(nodes))
	for _, n := range nodes {
		known[n.Num] = true
	}
	for _, e := range edges {
		if !known[e.Source] || !known[e.Target] {
			t.Errorf("edge %d references unknown node (%d→%d)", e.Num, e.Source, e.Target)
		}
	}
}
