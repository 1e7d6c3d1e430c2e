package graph

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"threadnote/backend/internal/constants"
	apperrors "threadnote/backend/pkg/errors"
	"threadnote/backend/pkg/logger"

	"go.uber.org/zap"
)

// NodeDraft is a validated node waiting to be written
type NodeDraft struct {
	Type    NodeType
	Title   string
	Content NodeContent
}

// CommitRequest is everything the writer needs for one exchange
type CommitRequest struct {
	ThreadID    *int64
	TopicShift  bool
	ThreadTitle string
	Reply       string
	Root        *NodeDraft
	Secondary   []NodeDraft
}

// CommitResult is returned only when the whole exchange was committed
type CommitResult struct {
	ThreadID     int64       `json:"threadId"`
	Resolution   string      `json:"-"`
	NewThread    *ThreadStub `json:"newThread,omitempty"`
	CreatedNodes []NodeStub  `json:"createdNodes"`
}

// Writer commits extraction results in a single transaction
type Writer struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewWriter creates a writer over the given store
func NewWriter(store Store) *Writer {
	return &Writer{
		store:  store,
		logger: logger.Named("graph.writer"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Commit writes the thread (if one must be minted), the ROOT node and its
// children. Any failure rolls everything back.
func (w *Writer) Commit(ctx context.Context, req CommitRequest) (result *CommitResult, err error) {
	resolution := ResolveThread(req.ThreadID, req.TopicShift)

	tx, err := w.store.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.NewGraphTxFailed("begin", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			w.logger.Error("Rollback failed", zap.Error(rbErr), zap.NamedError("cause", err))
		}
	}()

	now := w.now()
	result = &CommitResult{
		Resolution:   resolution.String(),
		CreatedNodes: []NodeStub{},
	}

	switch resolution {
	case NewThread:
		threadID, idErr := tx.NextID(ctx, constants.CounterThread, 1)
		if idErr != nil {
			return nil, apperrors.NewGraphTxFailed("allocate thread id", idErr)
		}
		seed := TruncateRunes(strings.TrimSpace(req.Reply), constants.SeedTextLength)
		thread := &Thread{
			ID:          threadID,
			Title:       threadTitle(req.ThreadTitle),
			Description: seed,
			Content:     seed,
			Metadata:    map[string]interface{}{"origin": "chat"},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err = tx.CreateThread(ctx, thread); err != nil {
			return nil, apperrors.NewGraphTxFailed("create thread", err)
		}
		result.ThreadID = threadID
		result.NewThread = &ThreadStub{ID: threadID, Title: thread.Title}
	case ExistingThread:
		exists, existsErr := tx.ThreadExists(ctx, *req.ThreadID)
		if existsErr != nil {
			return nil, apperrors.NewGraphTxFailed("find thread", existsErr)
		}
		if !exists {
			err = apperrors.NewNotFound("thread", strconv.FormatInt(*req.ThreadID, 10))
			return nil, err
		}
		result.ThreadID = *req.ThreadID
	}

	secondary := req.Secondary
	if len(secondary) > constants.MaxSecondaryNodes {
		w.logger.Warn("Dropping secondary nodes over the per-exchange limit",
			zap.Int("proposed", len(secondary)),
			zap.Int("limit", constants.MaxSecondaryNodes),
		)
		secondary = secondary[:constants.MaxSecondaryNodes]
	}

	total := len(secondary)
	if req.Root != nil {
		total++
	}
	if total == 0 {
		if err = tx.Commit(ctx); err != nil {
			return nil, apperrors.NewGraphTxFailed("commit", err)
		}
		return result, nil
	}

	nextID, err := tx.NextID(ctx, constants.CounterNode, total)
	if err != nil {
		return nil, apperrors.NewGraphTxFailed("allocate node ids", err)
	}

	var rootID *int64
	if req.Root != nil {
		node, buildErr := w.buildNode(nextID, result.ThreadID, *req.Root, nil, now)
		if buildErr != nil {
			err = apperrors.NewGraphTxFailed("encode root", buildErr)
			return nil, err
		}
		if err = tx.CreateNode(ctx, node); err != nil {
			return nil, apperrors.NewGraphTxFailed("create root", err)
		}
		id := node.ID
		rootID = &id
		result.CreatedNodes = append(result.CreatedNodes, stubOf(node))
		nextID++
	}

	for _, draft := range secondary {
		node, buildErr := w.buildNode(nextID, result.ThreadID, draft, rootID, now)
		if buildErr != nil {
			err = apperrors.NewGraphTxFailed("encode node", buildErr)
			return nil, err
		}
		if err = tx.CreateNode(ctx, node); err != nil {
			return nil, apperrors.NewGraphTxFailed("create node", err)
		}
		if rootID != nil {
			if err = tx.LinkParent(ctx, *rootID, node.ID); err != nil {
				return nil, apperrors.NewGraphTxFailed("link parent", err)
			}
		}
		result.CreatedNodes = append(result.CreatedNodes, stubOf(node))
		nextID++
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, apperrors.NewGraphTxFailed("commit", err)
	}

	w.logger.Info("Exchange committed",
		zap.Int64("thread_id", result.ThreadID),
		zap.String("resolution", result.Resolution),
		zap.Int("nodes", len(result.CreatedNodes)),
	)
	return result, nil
}

func (w *Writer) buildNode(id, threadID int64, draft NodeDraft, parentID *int64, now time.Time) (*Node, error) {
	content, err := EncodeContent(draft.Type, draft.Content)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		title = TruncateRunes(draft.Content.Summary(), constants.MaxThreadTitleLength)
	}
	return &Node{
		ID:        id,
		ThreadID:  threadID,
		Title:     title,
		Content:   content,
		NodeType:  draft.Type,
		ParentID:  parentID,
		Metadata:  map[string]interface{}{"origin": "extraction"},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func stubOf(n *Node) NodeStub {
	return NodeStub{
		ID:       n.ID,
		Title:    n.Title,
		NodeType: n.NodeType,
		ParentID: n.ParentID,
	}
}

func threadTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "Untitled thread"
	}
	return TruncateRunes(title, constants.MaxThreadTitleLength)
}

// TruncateRunes cuts s to at most n characters without splitting a rune
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
