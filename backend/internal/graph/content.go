package graph

import (
	"encoding/json"
	"strings"
)

// NodeContent is the type-specific payload of a node. The concrete type is
// fixed by the node's NodeType.
type NodeContent interface {
	isNodeContent()
	// Summary renders the payload as plain text for prompts and previews
	Summary() string
}

// EvidenceContent backs EVIDENCE nodes
type EvidenceContent struct {
	Point  string `json:"point"`
	Source string `json:"source"`
}

// ExampleContent backs EXAMPLE nodes
type ExampleContent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CounterpointContent backs COUNTERPOINT nodes
type CounterpointContent struct {
	Argument    string `json:"argument"`
	Explanation string `json:"explanation"`
}

// TextContent backs ROOT, REFERENCE, CONTEXT and SYNTHESIS nodes
type TextContent struct {
	Text string
}

func (EvidenceContent) isNodeContent()     {}
func (ExampleContent) isNodeContent()      {}
func (CounterpointContent) isNodeContent() {}
func (TextContent) isNodeContent()         {}

func (c EvidenceContent) Summary() string {
	if c.Source == "" {
		return c.Point
	}
	return c.Point + " (source: " + c.Source + ")"
}

func (c ExampleContent) Summary() string {
	return joinNonEmpty(": ", c.Title, c.Description)
}

func (c CounterpointContent) Summary() string {
	return joinNonEmpty(". ", c.Argument, c.Explanation)
}

func (c TextContent) Summary() string {
	return c.Text
}

// EncodeContent serializes content for storage in the node's content field
func EncodeContent(t NodeType, c NodeContent) (string, error) {
	switch t {
	case NodeTypeEvidence:
		v, ok := c.(EvidenceContent)
		if !ok {
			return "", ErrContentMismatch{NodeType: t, Content: c}
		}
		return marshalString(v)
	case NodeTypeExample:
		v, ok := c.(ExampleContent)
		if !ok {
			return "", ErrContentMismatch{NodeType: t, Content: c}
		}
		return marshalString(v)
	case NodeTypeCounterpoint:
		v, ok := c.(CounterpointContent)
		if !ok {
			return "", ErrContentMismatch{NodeType: t, Content: c}
		}
		return marshalString(v)
	case NodeTypeRoot, NodeTypeReference, NodeTypeContext, NodeTypeSynthesis:
		v, ok := c.(TextContent)
		if !ok {
			return "", ErrContentMismatch{NodeType: t, Content: c}
		}
		return v.Text, nil
	default:
		return "", ErrUnknownNodeType{NodeType: t}
	}
}

// DecodeContent parses a stored content field. Structured types whose stored
// text is not JSON (manual edits, legacy rows) keep the text in their primary field.
func DecodeContent(t NodeType, raw string) (NodeContent, error) {
	switch t {
	case NodeTypeEvidence:
		var v EvidenceContent
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return EvidenceContent{Point: raw}, nil
		}
		return v, nil
	case NodeTypeExample:
		var v ExampleContent
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return ExampleContent{Description: raw}, nil
		}
		return v, nil
	case NodeTypeCounterpoint:
		var v CounterpointContent
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return CounterpointContent{Argument: raw}, nil
		}
		return v, nil
	case NodeTypeRoot, NodeTypeReference, NodeTypeContext, NodeTypeSynthesis:
		return TextContent{Text: raw}, nil
	default:
		return nil, ErrUnknownNodeType{NodeType: t}
	}
}

// ErrContentMismatch is returned when a payload does not match its node type
type ErrContentMismatch struct {
	NodeType NodeType
	Content  NodeContent
}

func (e ErrContentMismatch) Error() string {
	return "content does not match node type " + string(e.NodeType)
}

func marshalString(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
