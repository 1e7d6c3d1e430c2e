package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// neo4jTx wraps an explicit transaction and owns its session
type neo4jTx struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
	done    bool
}

// NextID increments the counter node in place. The write lock Neo4j takes on
// the Counter node is held until this transaction ends, so concurrent
// transactions serialize on it and never observe the same value.
func (t *neo4jTx) NextID(ctx context.Context, kind string, n int) (int64, error) {
	if n < 1 {
		return 0, fmt.Errorf("cannot reserve %d ids", n)
	}

	query := `
		MERGE (c:Counter {name: $kind})
		ON CREATE SET c.value = 0
		SET c.value = c.value + $n
		RETURN c.value AS value
	`

	result, err := t.tx.Run(ctx, query, map[string]interface{}{
		"kind": kind,
		"n":    int64(n),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s counter: %w", kind, err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s counter: %w", kind, err)
	}

	last := getInt64FromRecord(record, "value")
	return last - int64(n) + 1, nil
}

func (t *neo4jTx) ThreadExists(ctx context.Context, threadID int64) (bool, error) {
	result, err := t.tx.Run(ctx, `MATCH (t:Thread {id: $threadID}) RETURN count(t) AS n`, map[string]interface{}{
		"threadID": threadID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up thread: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to look up thread: %w", err)
	}
	return getInt64FromRecord(record, "n") > 0, nil
}

func (t *neo4jTx) CreateThread(ctx context.Context, thread *Thread) error {
	query := `
		CREATE (t:Thread {
			id: $id,
			title: $title,
			description: $description,
			content: $content,
			metadata: $metadata,
			created_at: datetime($createdAt),
			updated_at: datetime($updatedAt)
		})
		RETURN t.id AS id
	`

	result, err := t.tx.Run(ctx, query, map[string]interface{}{
		"id":          thread.ID,
		"title":       thread.Title,
		"description": thread.Description,
		"content":     thread.Content,
		"metadata":    metadataJSON(thread.Metadata),
		"createdAt":   formatTime(thread.CreatedAt),
		"updatedAt":   formatTime(thread.UpdatedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	if _, err := result.Single(ctx); err != nil {
		return fmt.Errorf("failed to verify thread creation: %w", err)
	}
	return nil
}

func (t *neo4jTx) CreateNode(ctx context.Context, node *Node) error {
	query := `
		MATCH (t:Thread {id: $threadID})
		CREATE (n:Node {
			id: $id,
			thread_id: $threadID,
			title: $title,
			content: $content,
			node_type: $nodeType,
			metadata: $metadata,
			created_at: datetime($createdAt),
			updated_at: datetime($updatedAt)
		})
		CREATE (t)-[:HAS_NODE]->(n)
		RETURN n.id AS id
	`

	result, err := t.tx.Run(ctx, query, map[string]interface{}{
		"id":        node.ID,
		"threadID":  node.ThreadID,
		"title":     node.Title,
		"content":   node.Content,
		"nodeType":  string(node.NodeType),
		"metadata":  metadataJSON(node.Metadata),
		"createdAt": formatTime(node.CreatedAt),
		"updatedAt": formatTime(node.UpdatedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	// No row means the thread MATCH failed
	if _, err := result.Single(ctx); err != nil {
		return fmt.Errorf("failed to create node %d in thread %d: %w", node.ID, node.ThreadID, err)
	}
	return nil
}

func (t *neo4jTx) LinkParent(ctx context.Context, parentID, childID int64) error {
	query := `
		MATCH (p:Node {id: $parentID})
		MATCH (c:Node {id: $childID})
		MERGE (p)-[:PARENT_OF]->(c)
		RETURN c.id AS id
	`

	result, err := t.tx.Run(ctx, query, map[string]interface{}{
		"parentID": parentID,
		"childID":  childID,
	})
	if err != nil {
		return fmt.Errorf("failed to link nodes: %w", err)
	}
	if _, err := result.Single(ctx); err != nil {
		return fmt.Errorf("failed to link node %d under %d: %w", childID, parentID, err)
	}
	return nil
}

func (t *neo4jTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	defer t.session.Close(ctx)
	return t.tx.Commit(ctx)
}

func (t *neo4jTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.session.Close(ctx)
	return t.tx.Rollback(ctx)
}
