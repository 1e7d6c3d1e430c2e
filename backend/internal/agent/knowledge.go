package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"threadnote/backend/internal/constants"
	"threadnote/backend/internal/graph"
	apperrors "threadnote/backend/pkg/errors"
	"threadnote/backend/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// KnowledgeService runs the extraction phase: classify one exchange and
// commit the result to the graph
type KnowledgeService struct {
	store     graph.Store
	writer    *graph.Writer
	extractor *Extractor
	logger    *zap.Logger
}

// NewKnowledgeService creates a knowledge service
func NewKnowledgeService(llm JSONCompleter, store graph.Store) *KnowledgeService {
	return &KnowledgeService{
		store:     store,
		writer:    graph.NewWriter(store),
		extractor: NewExtractor(llm),
		logger:    logger.Named("knowledge"),
	}
}

// WithLLM returns a service that classifies with llm and shares everything else
func (k *KnowledgeService) WithLLM(llm JSONCompleter) *KnowledgeService {
	return &KnowledgeService{
		store:     k.store,
		writer:    k.writer,
		extractor: NewExtractor(llm),
		logger:    k.logger,
	}
}

// Extract classifies the exchange and commits the proposed nodes. An exchange
// without a prior /chat stream is a valid call.
func (k *KnowledgeService) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperrors.NewValidation("message", "must not be empty")
	}

	// Every citation must fit as its own EVIDENCE node
	citations := dedupeCitations(req.Citations)
	if len(citations) > constants.MaxCitations {
		return nil, apperrors.NewValidation("citations",
			fmt.Sprintf("%d distinct citations, at most %d per exchange", len(citations), constants.MaxCitations))
	}
	req.Citations = citations

	var threadTitle string
	if req.ThreadID != nil {
		thread, err := k.store.GetThread(ctx, *req.ThreadID)
		if err != nil {
			return nil, err
		}
		threadTitle = thread.Title
	}

	nc := k.hydrateNodeContext(ctx, req.NodeContext)

	ext, err := k.extractor.Classify(ctx, ExtractionInput{
		Message:     req.Message,
		Reply:       req.Reply,
		Citations:   req.Citations,
		ThreadTitle: threadTitle,
		NodeContext: nc,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewContextCancelled("extract", err)
		}
		return nil, err
	}

	resp := &ExtractResponse{
		CreatedNodes:   []graph.NodeStub{},
		Citations:      citations,
		ThreadID:       req.ThreadID,
		ProposedUpdate: ext.ProposedUpdate,
		SessionID:      req.SessionID,
	}

	// Nothing worth keeping; do not mint an empty thread
	if len(ext.Nodes) > 0 {
		result, err := k.writer.Commit(ctx, commitRequestFor(req, ext))
		if err != nil {
			return nil, err
		}
		threadID := result.ThreadID
		resp.ThreadID = &threadID
		resp.NewThread = result.NewThread
		resp.CreatedNodes = result.CreatedNodes
		if result.NewThread != nil {
			threadTitle = result.NewThread.Title
		}
	}

	resp.SessionID = k.recordSession(ctx, req, resp, threadTitle)
	return resp, nil
}

func commitRequestFor(req ExtractRequest, ext *Extraction) graph.CommitRequest {
	cr := graph.CommitRequest{
		ThreadID:    req.ThreadID,
		TopicShift:  ext.TopicShift,
		ThreadTitle: ext.ThreadTitle,
		Reply:       req.Reply,
	}
	root, secondary := ext.Root()
	if root != nil {
		cr.Root = &graph.NodeDraft{Type: root.Type, Title: root.Title, Content: root.Content}
	}
	for _, p := range secondary {
		cr.Secondary = append(cr.Secondary, graph.NodeDraft{Type: p.Type, Title: p.Title, Content: p.Content})
	}
	return cr
}

// hydrateNodeContext fills a node context that only carries an ID. Lookup
// failures leave the context as sent.
func (k *KnowledgeService) hydrateNodeContext(ctx context.Context, nc *NodeContext) *NodeContext {
	if nc == nil || nc.ID == nil || (nc.Title != "" && nc.Content != "") {
		return nc
	}

	node, err := k.store.GetNode(ctx, *nc.ID)
	if err != nil {
		k.logger.Warn("Could not load viewed node", zap.Int64("node_id", *nc.ID), zap.Error(err))
		return nc
	}

	out := *nc
	if out.Title == "" {
		out.Title = node.Title
	}
	if out.NodeType == "" {
		out.NodeType = string(node.NodeType)
	}
	if out.Content == "" {
		if content, err := graph.DecodeContent(node.NodeType, node.Content); err == nil {
			out.Content = content.Summary()
		} else {
			out.Content = node.Content
		}
	}
	if len(out.Keywords) == 0 {
		out.Keywords = keywordsOf(node.Metadata)
	}
	return &out
}

func keywordsOf(metadata map[string]interface{}) []string {
	switch v := metadata["keywords"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// recordSession appends the exchange to the replay log. The graph commit has
// already succeeded, so a failure here is logged and not returned.
func (k *KnowledgeService) recordSession(ctx context.Context, req ExtractRequest, resp *ExtractResponse, title string) string {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	var threadID int64
	if resp.ThreadID != nil {
		threadID = *resp.ThreadID
	}

	nodeIDs := make([]int64, 0, len(resp.CreatedNodes))
	for _, n := range resp.CreatedNodes {
		nodeIDs = append(nodeIDs, n.ID)
	}

	now := time.Now().UTC()
	turns := []graph.ChatTurn{
		{Role: graph.RoleUser, Content: req.Message, CreatedAt: now},
		{
			Role:           graph.RoleAssistant,
			Content:        req.Reply,
			Citations:      req.Citations,
			CreatedNodeIDs: nodeIDs,
			CreatedAt:      now,
		},
	}

	if title == "" {
		title = graph.TruncateRunes(strings.TrimSpace(req.Message), constants.MaxThreadTitleLength)
	}
	if err := k.store.AppendChatTurns(ctx, sessionID, threadID, title, turns); err != nil {
		k.logger.Warn("Failed to record chat session",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
	return sessionID
}
