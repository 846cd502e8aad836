package store

import (
	"context"
	"fmt"

	"github.com/nunnr/gephiserver/internal/model"
)

// demoClusters are the groups of the demo graph. Members of a group are
// densely linked; the first member of each group links to the hub.
var demoClusters = []struct {
	tag     string
	members []string
}{
	{"infra", []string{"Gateway", "Router", "Switch", "Firewall", "DNS", "Proxy"}},
	{"data", []string{"Postgres", "Replica", "Backup", "Warehouse", "ETL"}},
	{"app", []string{"API", "Worker", "Scheduler", "Cache", "Queue", "Web", "Auth"}},
}

// DemoGraph returns a small clustered graph with a single hub node, suitable
// for trying out the render endpoints.
func DemoGraph() (*model.GraphInfo, []model.NodeRow, []model.EdgeRow) {
	info := &model.GraphInfo{
		Title:      "Demo topology",
		Creator:    "gephiserver seed",
		Directed:   model.DirectedNone,
		UpWeight:   2,
		DownWeight: 0.5,
		URLBase:    "/nodes/",
	}

	nodes := []model.NodeRow{{Num: 1, Title: "Hub", Tag: "hub"}}
	var edges []model.EdgeRow
	addEdge := func(s, t int64, v float64) {
		edges = append(edges, model.EdgeRow{Num: int64(len(edges) + 1), Source: s, Target: t, Value: v})
	}

	next := int64(2)
	for _, c := range demoClusters {
		first := next
		for i, name := range c.members {
			nodes = append(nodes, model.NodeRow{Num: next, Title: name, Tag: c.tag + ",demo"})
			for j := first; j < next; j++ {
				// Neighbours in the list are linked more strongly.
				v := 1.0
				if next-j == 1 {
					v = 2
				}
				addEdge(j, next, v)
			}
			if i == 0 {
				addEdge(1, next, 1)
			}
			next++
		}
	}
	return info, nodes, edges
}

// Seed stores the demo graph and returns its id.
func Seed(ctx context.Context, s GraphStore) (int64, error) {
	info, nodes, edges := DemoGraph()
	if err := s.SaveGraph(ctx, info, nodes, edges); err != nil {
		return 0, fmt.Errorf("seed demo graph: %w", err)
	}
	return info.ID, nil
}
