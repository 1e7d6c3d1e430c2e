package graph

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Graph Types
// ============================================================================

// NodeType classifies a node inside a thread
type NodeType string

const (
	NodeTypeRoot         NodeType = "ROOT"
	NodeTypeEvidence     NodeType = "EVIDENCE"
	NodeTypeReference    NodeType = "REFERENCE"
	NodeTypeContext      NodeType = "CONTEXT"
	NodeTypeExample      NodeType = "EXAMPLE"
	NodeTypeCounterpoint NodeType = "COUNTERPOINT"
	NodeTypeSynthesis    NodeType = "SYNTHESIS"
)

// AllNodeTypes lists every node type in display order
var AllNodeTypes = []NodeType{
	NodeTypeRoot,
	NodeTypeEvidence,
	NodeTypeReference,
	NodeTypeContext,
	NodeTypeExample,
	NodeTypeCounterpoint,
	NodeTypeSynthesis,
}

// ParseNodeType normalizes a type name coming from clients or the model
func ParseNodeType(s string) (NodeType, bool) {
	t := NodeType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllNodeTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Thread is the root container for a topic
type Thread struct {
	ID          int64                  `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Content     string                 `json:"content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Node is a typed piece of knowledge that belongs to exactly one thread
type Node struct {
	ID        int64                  `json:"id"`
	ThreadID  int64                  `json:"thread_id"`
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	NodeType  NodeType               `json:"node_type"`
	ParentID  *int64                 `json:"parent_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Edge is a parent-child link derived from PARENT_OF on read
type Edge struct {
	ParentID int64 `json:"source"`
	ChildID  int64 `json:"target"`
}

// ThreadGraph is a thread with its nodes and reconstructed edges
type ThreadGraph struct {
	Thread Thread `json:"thread"`
	Nodes  []Node `json:"nodes"`
	Edges  []Edge `json:"edges"`
}

// Citation is a web source attached to an assistant turn
type Citation struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Chat roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one message in a chat session
type ChatTurn struct {
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations,omitempty"`
	CreatedNodeIDs []int64    `json:"created_node_ids,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ChatSession is the append-only replay log of a conversation
type ChatSession struct {
	ID        string     `json:"id"`
	ThreadID  int64      `json:"thread_id"`
	Title     string     `json:"title"`
	Turns     []ChatTurn `json:"turns"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ThreadStub describes a thread created during extraction
type ThreadStub struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// NodeStub describes a node created during extraction
type NodeStub struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	NodeType NodeType `json:"nodeType"`
	ParentID *int64   `json:"parentId,omitempty"`
}

// Errors

// ErrUnknownNodeType is returned when content is encoded for an unknown type
type ErrUnknownNodeType struct {
	NodeType NodeType
}

func (e ErrUnknownNodeType) Error() string {
	return fmt.Sprintf("unknown node type: %q", string(e.NodeType))
}
