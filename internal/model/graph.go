package model

// Edge direction modes stored on a graph row.
const (
	DirectedNone  = 0
	DirectedAll   = 1
	DirectedMixed = 2
)

// Parameter keys filled from a graph row. Callers may override any of them.
const (
	ParamDirected   = "directed"
	ParamUpWeight   = "up_weight"
	ParamDownWeight = "down_weight"
	ParamURLBase    = "url_base"
	ParamTitle      = "title"
	ParamCreator    = "creator"
	ParamRootNodeID = "root_node_id"
)

// GraphInfo is the stored description of a graph.
type GraphInfo struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	Creator    string  `json:"creator"`
	Directed   int     `json:"directed"`
	UpWeight   float64 `json:"up_weight"`
	DownWeight float64 `json:"down_weight"`
	URLBase    string  `json:"url_base"`
}

// Defaults returns the graph row as render parameters.
func (g GraphInfo) Defaults() map[string]any {
	return map[string]any{
		ParamTitle:      g.Title,
		ParamCreator:    g.Creator,
		ParamDirected:   g.Directed,
		ParamUpWeight:   g.UpWeight,
		ParamDownWeight: g.DownWeight,
		ParamURLBase:    g.URLBase,
	}
}

// NodeRow is a stored node of a graph.
type NodeRow struct {
	GraphID int64  `json:"graph_id"`
	Num     int64  `json:"num"`
	Title   string `json:"title"`
	Tag     string `json:"tag"`
}

// EdgeRow is a stored edge of a graph.
type EdgeRow struct {
	GraphID int64   `json:"graph_id"`
	Num     int64   `json:"num"`
	Source  int64   `json:"source"`
	Target  int64   `json:"target"`
	Value   float64 `json:"value"`
}
