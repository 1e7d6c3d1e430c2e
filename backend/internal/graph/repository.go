package graph

import (
	"context"
	"fmt"
	"strconv"

	"threadnote/backend/internal/constants"
	apperrors "threadnote/backend/pkg/errors"
	"threadnote/backend/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Repository handles all Neo4j database operations
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewRepository creates a new graph repository. An empty database name
// selects the server's default database.
func NewRepository(driver neo4j.DriverWithContext, database string) *Repository {
	return &Repository{
		driver:   driver,
		database: database,
		logger:   logger.Named("graph.neo4j"),
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *Repository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: r.database,
	})
}

// runWrite executes query in a managed write transaction and consumes the
// result, so errors raised while streaming or committing are returned too.
// Transient failures such as deadlocks are retried by the driver.
func (r *Repository) runWrite(ctx context.Context, query string, params map[string]interface{}) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}

// schemaStatements are idempotent; ID uniqueness backs the counter allocation
var schemaStatements = []string{
	`CREATE CONSTRAINT counter_name IF NOT EXISTS FOR (c:Counter) REQUIRE c.name IS UNIQUE`,
	`CREATE CONSTRAINT thread_id IF NOT EXISTS FOR (t:Thread) REQUIRE t.id IS UNIQUE`,
	`CREATE CONSTRAINT node_id IF NOT EXISTS FOR (n:Node) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT chat_session_id IF NOT EXISTS FOR (s:ChatSession) REQUIRE s.id IS UNIQUE`,
	`CREATE INDEX node_thread_id IF NOT EXISTS FOR (n:Node) ON (n.thread_id)`,
}

// EnsureSchema creates the constraints and indexes the service relies on
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if err := r.runWrite(ctx, stmt, nil); err != nil {
			return apperrors.NewGraphQueryFailed("ensure schema", fmt.Errorf("%s: %w", stmt, err))
		}
	}
	if err := r.seedCounters(ctx, constants.CounterThread, constants.CounterNode); err != nil {
		return err
	}
	r.logger.Info("Graph schema ensured", zap.Int("statements", len(schemaStatements)))
	return nil
}

// seedCounters creates missing counters at zero
func (r *Repository) seedCounters(ctx context.Context, kinds ...string) error {
	query := `
		UNWIND $kinds AS kind
		MERGE (c:Counter {name: kind})
		ON CREATE SET c.value = 0
	`
	if err := r.runWrite(ctx, query, map[string]interface{}{"kinds": kinds}); err != nil {
		return apperrors.NewGraphQueryFailed("seed counters", err)
	}
	return nil
}

// BeginTx opens an explicit write transaction on a fresh session
func (r *Repository) BeginTx(ctx context.Context) (Tx, error) {
	session := r.session(ctx, neo4j.AccessModeWrite)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		session.Close(ctx)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &neo4jTx{session: session, tx: tx}, nil
}

// GetThread fetches a single thread
func (r *Repository) GetThread(ctx context.Context, threadID int64) (*Thread, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (t:Thread {id: $threadID})
		RETURN t.id AS id, t.title AS title, t.description AS description,
		       t.content AS content, t.metadata AS metadata,
		       t.created_at AS created_at, t.updated_at AS updated_at
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"threadID": threadID,
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get thread", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, apperrors.NewGraphQueryFailed("get thread", err)
		}
		return nil, apperrors.NewNotFound("thread", strconv.FormatInt(threadID, 10))
	}

	t := threadFromRecord(result.Record())
	return &t, nil
}

// GetNode fetches a single node with its parent reference
func (r *Repository) GetNode(ctx context.Context, nodeID int64) (*Node, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (n:Node {id: $nodeID})
		OPTIONAL MATCH (p:Node)-[:PARENT_OF]->(n)
		RETURN n {.id, .thread_id, .title, .content, .node_type, .metadata,
		          .created_at, .updated_at, parent_id: p.id} AS node
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"nodeID": nodeID,
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get node", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, apperrors.NewGraphQueryFailed("get node", err)
		}
		return nil, apperrors.NewNotFound("node", strconv.FormatInt(nodeID, 10))
	}

	raw, _ := result.Record().Get("node")
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, apperrors.NewGraphQueryFailed("get node", fmt.Errorf("unexpected row shape %T", raw))
	}
	n := nodeFromMap(m)
	return &n, nil
}

// GetThreadGraph fetches a thread, its nodes and the PARENT_OF edges between them
func (r *Repository) GetThreadGraph(ctx context.Context, threadID int64) (*ThreadGraph, error) {
	thread, err := r.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (:Thread {id: $threadID})-[:HAS_NODE]->(n:Node)
		OPTIONAL MATCH (p:Node)-[:PARENT_OF]->(n)
		RETURN n {.id, .thread_id, .title, .content, .node_type, .metadata,
		          .created_at, .updated_at, parent_id: p.id} AS node
		ORDER BY n.id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"threadID": threadID,
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get thread graph", err)
	}

	g := &ThreadGraph{Thread: *thread, Nodes: []Node{}, Edges: []Edge{}}
	for result.Next(ctx) {
		raw, _ := result.Record().Get("node")
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		n := nodeFromMap(m)
		g.Nodes = append(g.Nodes, n)
		if n.ParentID != nil {
			g.Edges = append(g.Edges, Edge{ParentID: *n.ParentID, ChildID: n.ID})
		}
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewGraphQueryFailed("get thread graph", err)
	}

	return g, nil
}

func threadFromRecord(record *neo4j.Record) Thread {
	return Thread{
		ID:          getInt64FromRecord(record, "id"),
		Title:       getStringFromRecord(record, "title"),
		Description: getStringFromRecord(record, "description"),
		Content:     getStringFromRecord(record, "content"),
		Metadata:    parseMetadata(getStringFromRecord(record, "metadata")),
		CreatedAt:   getTimeFromRecord(record, "created_at"),
		UpdatedAt:   getTimeFromRecord(record, "updated_at"),
	}
}

func nodeFromMap(m map[string]interface{}) Node {
	var id, threadID int64
	if p := getInt64PtrFromMap(m, "id"); p != nil {
		id = *p
	}
	if p := getInt64PtrFromMap(m, "thread_id"); p != nil {
		threadID = *p
	}
	return Node{
		ID:        id,
		ThreadID:  threadID,
		Title:     getStringFromMap(m, "title"),
		Content:   getStringFromMap(m, "content"),
		NodeType:  NodeType(getStringFromMap(m, "node_type")),
		ParentID:  getInt64PtrFromMap(m, "parent_id"),
		Metadata:  parseMetadata(getStringFromMap(m, "metadata")),
		CreatedAt: toTime(m["created_at"]),
		UpdatedAt: toTime(m["updated_at"]),
	}
}
