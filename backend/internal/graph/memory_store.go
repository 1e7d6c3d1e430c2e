package graph

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	apperrors "threadnote/backend/pkg/errors"
)

// MemoryStore is an in-process Store. Write transactions are serialized by
// a single writer slot, so counter reads and increments inside a transaction
// are atomic with respect to every other transaction.
type MemoryStore struct {
	writer chan struct{} // capacity 1; held by the open write transaction

	mu          sync.RWMutex
	counters    map[string]int64
	threads     map[int64]Thread
	nodes       map[int64]Node
	threadNodes map[int64][]int64
	children    map[int64][]int64
	sessions    map[string]*ChatSession
}

// NewMemoryStore creates an empty in-memory graph
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		writer:      make(chan struct{}, 1),
		counters:    make(map[string]int64),
		threads:     make(map[int64]Thread),
		nodes:       make(map[int64]Node),
		threadNodes: make(map[int64][]int64),
		children:    make(map[int64][]int64),
		sessions:    make(map[string]*ChatSession),
	}
}

// BeginTx waits for the writer slot or for ctx to end
func (s *MemoryStore) BeginTx(ctx context.Context) (Tx, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memoryTx{
		store:    s,
		counters: make(map[string]int64),
	}, nil
}

func (s *MemoryStore) GetThread(ctx context.Context, threadID int64) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, apperrors.NewNotFound("thread", strconv.FormatInt(threadID, 10))
	}
	return &t, nil
}

func (s *MemoryStore) GetNode(ctx context.Context, nodeID int64) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, apperrors.NewNotFound("node", strconv.FormatInt(nodeID, 10))
	}
	return &n, nil
}

func (s *MemoryStore) GetThreadGraph(ctx context.Context, threadID int64) (*ThreadGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, apperrors.NewNotFound("thread", strconv.FormatInt(threadID, 10))
	}

	g := &ThreadGraph{Thread: t, Nodes: []Node{}, Edges: []Edge{}}
	for _, id := range s.threadNodes[threadID] {
		g.Nodes = append(g.Nodes, s.nodes[id])
		for _, child := range s.children[id] {
			g.Edges = append(g.Edges, Edge{ParentID: id, ChildID: child})
		}
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	return g, nil
}

func (s *MemoryStore) AppendChatTurns(ctx context.Context, sessionID string, threadID int64, title string, turns []ChatTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &ChatSession{ID: sessionID, Title: title, CreatedAt: now}
		s.sessions[sessionID] = sess
	}
	sess.ThreadID = threadID
	sess.UpdatedAt = now
	sess.Turns = append(sess.Turns, turns...)
	return nil
}

func (s *MemoryStore) GetChatSession(ctx context.Context, sessionID string) (*ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, apperrors.NewNotFound("chat session", sessionID)
	}
	out := *sess
	out.Turns = append([]ChatTurn(nil), sess.Turns...)
	return &out, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// memoryTx stages writes until Commit
type memoryTx struct {
	store    *MemoryStore
	counters map[string]int64
	threads  []Thread
	nodes    []Node
	links    []Edge
	done     bool
}

func (tx *memoryTx) NextID(ctx context.Context, kind string, n int) (int64, error) {
	if tx.done {
		return 0, errTxClosed
	}
	if n < 1 {
		return 0, fmt.Errorf("cannot reserve %d ids", n)
	}
	current, ok := tx.counters[kind]
	if !ok {
		tx.store.mu.RLock()
		current = tx.store.counters[kind]
		tx.store.mu.RUnlock()
	}
	tx.counters[kind] = current + int64(n)
	return current + 1, nil
}

func (tx *memoryTx) ThreadExists(ctx context.Context, threadID int64) (bool, error) {
	if tx.done {
		return false, errTxClosed
	}
	for _, t := range tx.threads {
		if t.ID == threadID {
			return true, nil
		}
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	_, ok := tx.store.threads[threadID]
	return ok, nil
}

func (tx *memoryTx) CreateThread(ctx context.Context, t *Thread) error {
	if tx.done {
		return errTxClosed
	}
	tx.threads = append(tx.threads, *t)
	return nil
}

func (tx *memoryTx) CreateNode(ctx context.Context, n *Node) error {
	if tx.done {
		return errTxClosed
	}
	exists, err := tx.ThreadExists(ctx, n.ThreadID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("node %d references missing thread %d", n.ID, n.ThreadID)
	}
	tx.nodes = append(tx.nodes, *n)
	return nil
}

func (tx *memoryTx) LinkParent(ctx context.Context, parentID, childID int64) error {
	if tx.done {
		return errTxClosed
	}
	tx.links = append(tx.links, Edge{ParentID: parentID, ChildID: childID})
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return errTxClosed
	}
	s := tx.store
	s.mu.Lock()
	for kind, v := range tx.counters {
		s.counters[kind] = v
	}
	for _, t := range tx.threads {
		s.threads[t.ID] = t
	}
	for _, n := range tx.nodes {
		s.nodes[n.ID] = n
		s.threadNodes[n.ThreadID] = append(s.threadNodes[n.ThreadID], n.ID)
	}
	for _, e := range tx.links {
		s.children[e.ParentID] = append(s.children[e.ParentID], e.ChildID)
	}
	s.mu.Unlock()

	tx.release()
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.release()
	return nil
}

func (tx *memoryTx) release() {
	tx.done = true
	<-tx.store.writer
}

var errTxClosed = fmt.Errorf("transaction already closed")
