package agent

import "threadnote/backend/internal/graph"

// NodeContext is the node the user is looking at while chatting. Clients may
// send only the ID; the rest is loaded from the graph.
type NodeContext struct {
	ID       *int64   `json:"id,omitempty"`
	Title    string   `json:"title,omitempty"`
	NodeType string   `json:"nodeType,omitempty"`
	Content  string   `json:"content,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// HistoryMessage is a prior chat message supplied by the client
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProposedUpdate is an additive change to the viewed node. Content and
// Keywords are the merged result, ready to save.
type ProposedUpdate struct {
	NodeID   *int64   `json:"nodeId,omitempty"`
	Title    string   `json:"title,omitempty"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords,omitempty"`
	Addition string   `json:"addition"`
	Reason   string   `json:"reason,omitempty"`
}

// ChatRequest is one streamed chat turn
type ChatRequest struct {
	Message     string
	History     []HistoryMessage
	ThreadID    *int64
	NodeContext *NodeContext
	// Extract runs the extraction phase before the done event
	Extract   bool
	SessionID string
}

// ExtractRequest is the input of the extraction phase
type ExtractRequest struct {
	Message     string
	Reply       string
	ThreadID    *int64
	NodeContext *NodeContext
	Citations   []graph.Citation
	SessionID   string
}

// ExtractResponse is what the extraction phase committed
type ExtractResponse struct {
	CreatedNodes   []graph.NodeStub  `json:"createdNodes"`
	Citations      []graph.Citation  `json:"citations"`
	ThreadID       *int64            `json:"threadId,omitempty"`
	NewThread      *graph.ThreadStub `json:"newThread,omitempty"`
	ProposedUpdate *ProposedUpdate   `json:"proposedUpdate,omitempty"`
	SessionID      string            `json:"sessionId,omitempty"`
}
