package graph

import "context"

// Store is the graph persistence boundary. Repository (Neo4j) and
// MemoryStore implement it.
type Store interface {
	// BeginTx opens a write transaction. The caller must Commit or Rollback.
	BeginTx(ctx context.Context) (Tx, error)

	GetThread(ctx context.Context, threadID int64) (*Thread, error)
	GetNode(ctx context.Context, nodeID int64) (*Node, error)
	GetThreadGraph(ctx context.Context, threadID int64) (*ThreadGraph, error)

	// AppendChatTurns appends to a session, creating it on first use
	AppendChatTurns(ctx context.Context, sessionID string, threadID int64, title string, turns []ChatTurn) error
	GetChatSession(ctx context.Context, sessionID string) (*ChatSession, error)

	Close(ctx context.Context) error
}

// Tx is a single write transaction. Nothing written through it is visible
// to readers until Commit succeeds.
type Tx interface {
	// NextID atomically reserves n contiguous IDs of the given kind and
	// returns the first one
	NextID(ctx context.Context, kind string, n int) (int64, error)
	ThreadExists(ctx context.Context, threadID int64) (bool, error)
	CreateThread(ctx context.Context, t *Thread) error
	// CreateNode creates the node and links it to its thread with HAS_NODE
	CreateNode(ctx context.Context, n *Node) error
	// LinkParent records parentID PARENT_OF childID
	LinkParent(ctx context.Context, parentID, childID int64) error
	Commit(ctx context.Context) error
	// Rollback discards the transaction; it is a no-op after Commit
	Rollback(ctx context.Context) error
}
