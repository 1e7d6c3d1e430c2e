package agent

import (
	"encoding/json"
	"fmt"

	"threadnote/backend/internal/graph"
)

// Event is one item of a chat stream: TokenEvent, ProcessingEvent, DoneEvent
// or ErrorEvent. A stream yields tokens in order and ends with exactly one
// DoneEvent or ErrorEvent.
type Event interface {
	isEvent()
}

// TokenEvent carries incremental reply text
type TokenEvent struct {
	Content string
}

// ProcessingEvent marks the start of the extraction phase in fused mode
type ProcessingEvent struct{}

// DoneEvent ends a successful stream
type DoneEvent struct {
	Reply          string
	Citations      []graph.Citation
	CreatedNodes   []graph.NodeStub
	ThreadID       *int64
	NewThread      *graph.ThreadStub
	ProposedUpdate *ProposedUpdate
	SessionID      string
}

// ErrorEvent ends a failed stream
type ErrorEvent struct {
	Message string
}

func (TokenEvent) isEvent()      {}
func (ProcessingEvent) isEvent() {}
func (DoneEvent) isEvent()       {}
func (ErrorEvent) isEvent()      {}

// Event types on the wire
const (
	EventTypeToken      = "token"
	EventTypeProcessing = "processing"
	EventTypeDone       = "done"
	EventTypeError      = "error"
)

type messageWire struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

type doneWire struct {
	Type           string            `json:"type"`
	Reply          string            `json:"reply"`
	Citations      []graph.Citation  `json:"citations"`
	CreatedNodes   []graph.NodeStub  `json:"createdNodes"`
	ThreadID       *int64            `json:"threadId,omitempty"`
	NewThread      *graph.ThreadStub `json:"newThread,omitempty"`
	ProposedUpdate *ProposedUpdate   `json:"proposedUpdate,omitempty"`
	SessionID      string            `json:"sessionId,omitempty"`
}

// EncodeEvent renders an event as the JSON payload of one SSE data line
func EncodeEvent(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case TokenEvent:
		return json.Marshal(messageWire{Type: EventTypeToken, Content: ev.Content})
	case ProcessingEvent:
		return json.Marshal(messageWire{Type: EventTypeProcessing})
	case DoneEvent:
		w := doneWire{
			Type:           EventTypeDone,
			Reply:          ev.Reply,
			Citations:      ev.Citations,
			CreatedNodes:   ev.CreatedNodes,
			ThreadID:       ev.ThreadID,
			NewThread:      ev.NewThread,
			ProposedUpdate: ev.ProposedUpdate,
			SessionID:      ev.SessionID,
		}
		if w.Citations == nil {
			w.Citations = []graph.Citation{}
		}
		if w.CreatedNodes == nil {
			w.CreatedNodes = []graph.NodeStub{}
		}
		return json.Marshal(w)
	case ErrorEvent:
		return json.Marshal(messageWire{Type: EventTypeError, Message: ev.Message})
	default:
		return nil, fmt.Errorf("unknown event %T", e)
	}
}
