package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/nunnr/gephiserver/internal/model"
)

const createGraphsTable = `
CREATE TABLE IF NOT EXISTS graphs (
    id          INTEGER PRIMARY KEY,
    title       TEXT NOT NULL,
    creator     TEXT NOT NULL DEFAULT '',
    directed    INTEGER NOT NULL DEFAULT 0,
    up_weight   REAL NOT NULL DEFAULT 1,
    down_weight REAL NOT NULL DEFAULT 1,
    url_base    TEXT
)`

const createNodesTable = `
CREATE TABLE IF NOT EXISTS nodes (
    graph_id INTEGER NOT NULL REFERENCES graphs(id),
    num      INTEGER NOT NULL,
    title    TEXT NOT NULL,
    tag      TEXT,
    PRIMARY KEY (graph_id, num)
)`

const createEdgesTable = `
CREATE TABLE IF NOT EXISTS edges (
    graph_id INTEGER NOT NULL REFERENCES graphs(id),
    num      INTEGER NOT NULL,
    source   INTEGER NOT NULL,
    target   INTEGER NOT NULL,
    val      REAL NOT NULL DEFAULT 1,
    PRIMARY KEY (graph_id, num)
)`

// graphTables are the tables a render reads from.
var graphTables = []string{"graphs", "nodes", "edges"}

// CheckSchema verifies that the graph tables exist. The store creates them
// on open, so a failure means the database file was altered externally.
func (s *SQLiteStore) CheckSchema(ctx context.Context) error {
	for _, table := range graphTables {
		var name string
		err := s.db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: table %s missing", ErrSchema, table)
		}
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
	}
	return nil
}

// ListGraphs returns the title of every graph keyed by id.
func (s *SQLiteStore) ListGraphs(ctx context.Context) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title FROM graphs")
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	defer rows.Close()

	graphs := make(map[int64]string)
	for rows.Next() {
		var (
			id    int64
			title string
		)
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("scan graph: %w", err)
		}
		graphs[id] = title
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate graphs: %w", err)
	}
	return graphs, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetGraph retrieves a graph row by id.
func (s *SQLiteStore) GetGraph(ctx context.Context, id int64) (*model.GraphInfo, error) {
	return getGraph(ctx, s.db, id)
}

func getGraph(ctx context.Context, q queryer, id int64) (*model.GraphInfo, error) {
	g := &model.GraphInfo{}
	var urlBase sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, title, creator, directed, up_weight, down_weight, url_base
		FROM graphs WHERE id = ?`, id,
	).Scan(&g.ID, &g.Title, &g.Creator, &g.Directed, &g.UpWeight, &g.DownWeight, &urlBase)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get graph: %w", err)
	}
	g.URLBase = urlBase.String
	return g, nil
}

// SaveGraph inserts or replaces a graph together with all its nodes and
// edges in one transaction. A zero g.ID is assigned by the database and
// written back.
func (s *SQLiteStore) SaveGraph(ctx context.Context, g *model.GraphInfo, nodes []model.NodeRow, edges []model.EdgeRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id any
	if g.ID != 0 {
		id = g.ID
		for _, table := range []string{"edges", "nodes"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE graph_id = ?", g.ID); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
	}
	var urlBase sql.NullString
	if g.URLBase != "" {
		urlBase = sql.NullString{String: g.URLBase, Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO graphs (id, title, creator, directed, up_weight, down_weight, url_base)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, g.Title, g.Creator, g.Directed, g.UpWeight, g.DownWeight, urlBase,
	)
	if err != nil {
		return fmt.Errorf("insert graph: %w", err)
	}
	if g.ID == 0 {
		if g.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("graph id: %w", err)
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx, "INSERT INTO nodes (graph_id, num, title, tag) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare node insert: %w", err)
	}
	defer nodeStmt.Close()
	for _, n := range nodes {
		var tag sql.NullString
		if n.Tag != "" {
			tag = sql.NullString{String: n.Tag, Valid: true}
		}
		if _, err := nodeStmt.ExecContext(ctx, g.ID, n.Num, n.Title, tag); err != nil {
			return fmt.Errorf("insert node %d: %w", n.Num, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, "INSERT INTO edges (graph_id, num, source, target, val) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()
	for _, e := range edges {
		if _, err := edgeStmt.ExecContext(ctx, g.ID, e.Num, e.Source, e.Target, e.Value); err != nil {
			return fmt.Errorf("insert edge %d: %w", e.Num, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit graph: %w", err)
	}
	return nil
}

// Snapshot opens a read-only transaction over the graph tables.
func (s *SQLiteStore) Snapshot(ctx context.Context) (GraphSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	return &sqliteSnapshot{tx: tx}, nil
}

type sqliteSnapshot struct {
	tx   *sql.Tx
	once sync.Once
	err  error
}

func (s *sqliteSnapshot) Graph(ctx context.Context, id int64) (*model.GraphInfo, error) {
	return getGraph(ctx, s.tx, id)
}

func (s *sqliteSnapshot) EachNode(ctx context.Context, graphID int64, fn func(model.NodeRow) bool) error {
	rows, err := s.tx.QueryContext(ctx,
		"SELECT graph_id, num, title, tag FROM nodes WHERE graph_id = ? ORDER BY num", graphID)
	if err != nil {
		return fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n   model.NodeRow
			tag sql.NullString
		)
		if err := rows.Scan(&n.GraphID, &n.Num, &n.Title, &tag); err != nil {
			return fmt.Errorf("scan node: %w", err)
		}
		n.Tag = tag.String
		if !fn(n) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate nodes: %w", err)
	}
	return nil
}

func (s *sqliteSnapshot) EachEdge(ctx context.Context, graphID int64, fn func(model.EdgeRow) bool) error {
	rows, err := s.tx.QueryContext(ctx,
		"SELECT graph_id, num, source, target, val FROM edges WHERE graph_id = ? ORDER BY num", graphID)
	if err != nil {
		return fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e model.EdgeRow
		if err := rows.Scan(&e.GraphID, &e.Num, &e.Source, &e.Target, &e.Value); err != nil {
			return fmt.Errorf("scan edge: %w", err)
		}
		if !fn(e) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate edges: %w", err)
	}
	return nil
}

// Close ends the read transaction. A transaction already rolled back by
// context cancellation is not an error.
func (s *sqliteSnapshot) Close() error {
	s.once.Do(func() {
		if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.err = fmt.Errorf("close snapshot: %w", err)
		}
	})
	return s.err
}
