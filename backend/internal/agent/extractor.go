package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"threadnote/backend/internal/constants"
	"threadnote/backend/internal/graph"
	"threadnote/backend/internal/tools"
	apperrors "threadnote/backend/pkg/errors"
	"threadnote/backend/pkg/jsonutil"
	"threadnote/backend/pkg/logger"

	"go.uber.org/zap"
)

// JSONCompleter runs one JSON-mode completion
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, userMsg string) (string, error)
}

// ExtractionInput is one finished exchange
type ExtractionInput struct {
	Message     string
	Reply       string
	Citations   []graph.Citation
	ThreadTitle string
	NodeContext *NodeContext
}

// NodeProposal is a validated node the writer can commit
type NodeProposal struct {
	Type    graph.NodeType
	Title   string
	Content graph.NodeContent
}

// Extraction is the classified exchange. Nodes holds the ROOT first when
// there is one.
type Extraction struct {
	TopicShift     bool
	ThreadTitle    string
	Nodes          []NodeProposal
	ProposedUpdate *ProposedUpdate
}

// Root returns the ROOT proposal and the rest
func (e *Extraction) Root() (*NodeProposal, []NodeProposal) {
	if len(e.Nodes) > 0 && e.Nodes[0].Type == graph.NodeTypeRoot {
		return &e.Nodes[0], e.Nodes[1:]
	}
	return nil, e.Nodes
}

// rawExtraction is the model's answer before validation
type rawExtraction struct {
	TopicShift     json.RawMessage `json:"topicShift"`
	ThreadTitle    json.RawMessage `json:"threadTitle"`
	Nodes          []rawNode       `json:"nodes"`
	ProposedUpdate *rawUpdate      `json:"proposedUpdate"`
}

type rawNode struct {
	Type        json.RawMessage `json:"type"`
	Title       json.RawMessage `json:"title"`
	Content     json.RawMessage `json:"content"`
	Point       json.RawMessage `json:"point"`
	Source      json.RawMessage `json:"source"`
	Description json.RawMessage `json:"description"`
	Argument    json.RawMessage `json:"argument"`
	Explanation json.RawMessage `json:"explanation"`
}

type rawUpdate struct {
	Content  json.RawMessage `json:"content"`
	Keywords json.RawMessage `json:"keywords"`
	Reason   json.RawMessage `json:"reason"`
}

// Extractor classifies exchanges into typed node proposals
type Extractor struct {
	llm    JSONCompleter
	logger *zap.Logger
}

// NewExtractor creates an extractor backed by a JSON-mode model
func NewExtractor(llm JSONCompleter) *Extractor {
	return &Extractor{
		llm:    llm,
		logger: logger.Named("extractor"),
	}
}

// Classify asks the model for a proposal and validates it. Output the model
// gets wrong is repaired or discarded; only a failed model call is an error.
func (e *Extractor) Classify(ctx context.Context, in ExtractionInput) (*Extraction, error) {
	in.Citations = dedupeCitations(in.Citations)

	response, err := e.llm.CompleteJSON(ctx, extractionSystemPrompt, buildExtractionPrompt(in))
	if err != nil {
		e.logger.Warn("Extraction LLM call failed", zap.Error(err))
		return nil, err
	}

	raw, problems, err := parseExtraction(response)
	if err != nil {
		e.logger.Warn("Discarding malformed extraction",
			zap.Error(apperrors.NewExtractionMalformed(response, err)),
		)
		raw = &rawExtraction{}
	} else if len(problems) > 0 {
		e.logger.Warn("Ignoring malformed extraction fields",
			zap.Error(apperrors.NewExtractionMalformed(response, errors.Join(problems...))),
		)
	}

	ext := Normalize(raw, in)

	e.logger.Debug("Extraction completed",
		zap.Bool("topic_shift", ext.TopicShift),
		zap.Int("nodes", len(ext.Nodes)),
		zap.Int("citations", len(in.Citations)),
		zap.Bool("proposed_update", ext.ProposedUpdate != nil),
	)
	return ext, nil
}

// parseExtraction decodes the model's object one field at a time. A badly
// typed field is reported in problems and left empty; err is set only when
// there is no object at all.
func parseExtraction(response string) (raw *rawExtraction, problems []error, err error) {
	var fields map[string]json.RawMessage
	if err := jsonutil.Unmarshal(response, &fields); err != nil {
		return nil, nil, err
	}

	raw = &rawExtraction{
		TopicShift:  fields["topicShift"],
		ThreadTitle: fields["threadTitle"],
	}

	if data := fields["nodes"]; !isNull(data) {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			problems = append(problems, fmt.Errorf("nodes: %w", err))
		}
		for i, item := range items {
			var rn rawNode
			if err := json.Unmarshal(item, &rn); err != nil {
				problems = append(problems, fmt.Errorf("nodes[%d]: %w", i, err))
				continue
			}
			raw.Nodes = append(raw.Nodes, rn)
		}
	}

	if data := fields["proposedUpdate"]; !isNull(data) {
		var ru rawUpdate
		if err := json.Unmarshal(data, &ru); err != nil {
			problems = append(problems, fmt.Errorf("proposedUpdate: %w", err))
		} else {
			raw.ProposedUpdate = &ru
		}
	}

	return raw, problems, nil
}

func isNull(data json.RawMessage) bool {
	s := strings.TrimSpace(string(data))
	return s == "" || s == "null"
}

// Normalize enforces the extraction rules on whatever the model produced:
// one ROOT first, one EVIDENCE node per citation, known types only, a forced
// topic shift without a current thread, and additive updates only.
func Normalize(raw *rawExtraction, in ExtractionInput) *Extraction {
	citations := dedupeCitations(in.Citations)

	ext := &Extraction{
		TopicShift: jsonutil.FlexibleBool(raw.TopicShift),
	}
	if strings.TrimSpace(in.ThreadTitle) == "" {
		ext.TopicShift = true
	}

	cited := make(map[string]bool, len(citations))
	for _, c := range citations {
		cited[c.URL] = true
	}
	claimed := make(map[string]bool, len(citations))

	var root *NodeProposal
	var citedEvidence, others []NodeProposal

	for _, rn := range raw.Nodes {
		p, ok := proposalFrom(rn)
		if !ok {
			continue
		}

		switch p.Type {
		case graph.NodeTypeRoot:
			if root == nil {
				root = &p
				continue
			}
			// Only the first ROOT survives
			p.Type = graph.NodeTypeSynthesis
			p.Content = graph.TextContent{Text: p.Content.Summary()}
		case graph.NodeTypeEvidence:
			ev := p.Content.(graph.EvidenceContent)
			switch {
			case ev.Source == "":
			case cited[ev.Source] && !claimed[ev.Source]:
				claimed[ev.Source] = true
				citedEvidence = append(citedEvidence, p)
				continue
			case cited[ev.Source]:
				// Second node for the same citation
				continue
			default:
				// Sources must come from the reply's citations
				p.Type = graph.NodeTypeReference
				p.Content = graph.TextContent{Text: ev.Summary()}
			}
		}
		others = append(others, p)
	}

	for _, c := range citations {
		if claimed[c.URL] {
			continue
		}
		citedEvidence = append(citedEvidence, evidenceFor(c))
	}

	secondary := capSecondary(citedEvidence, others)

	if root == nil && len(secondary) > 0 {
		root = synthesizeRoot(raw, in)
	}

	if root != nil {
		ext.Nodes = append(ext.Nodes, *root)
	}
	ext.Nodes = append(ext.Nodes, secondary...)

	ext.ThreadTitle = threadTitleFor(raw, root, in)
	ext.ProposedUpdate = mergeUpdate(raw.ProposedUpdate, in.NodeContext)
	return ext
}

// proposalFrom validates one raw node. Unknown types and empty payloads are dropped.
func proposalFrom(rn rawNode) (NodeProposal, bool) {
	nodeType, ok := graph.ParseNodeType(jsonutil.FlexibleString(rn.Type))
	if !ok {
		return NodeProposal{}, false
	}

	title := strings.TrimSpace(jsonutil.FlexibleString(rn.Title))
	text := strings.TrimSpace(jsonutil.FlexibleString(rn.Content))

	var content graph.NodeContent
	switch nodeType {
	case graph.NodeTypeEvidence:
		content = graph.EvidenceContent{
			Point:  firstNonEmpty(jsonutil.FlexibleString(rn.Point), text),
			Source: tools.CanonicalURL(jsonutil.FlexibleString(rn.Source)),
		}
	case graph.NodeTypeExample:
		content = graph.ExampleContent{
			Title:       title,
			Description: firstNonEmpty(jsonutil.FlexibleString(rn.Description), text),
		}
	case graph.NodeTypeCounterpoint:
		content = graph.CounterpointContent{
			Argument:    firstNonEmpty(jsonutil.FlexibleString(rn.Argument), text),
			Explanation: strings.TrimSpace(jsonutil.FlexibleString(rn.Explanation)),
		}
	default:
		content = graph.TextContent{Text: text}
	}

	if strings.TrimSpace(content.Summary()) == "" {
		return NodeProposal{}, false
	}
	return NodeProposal{Type: nodeType, Title: title, Content: content}, true
}

func evidenceFor(c graph.Citation) NodeProposal {
	title := c.Title
	if title == "" {
		title = c.URL
	}
	return NodeProposal{
		Type:    graph.NodeTypeEvidence,
		Title:   graph.TruncateRunes(title, constants.MaxThreadTitleLength),
		Content: graph.EvidenceContent{Point: title, Source: c.URL},
	}
}

// capSecondary keeps every citation's evidence and fills the remaining slots
// with the other proposals in order
func capSecondary(citedEvidence, others []NodeProposal) []NodeProposal {
	room := constants.MaxSecondaryNodes - len(citedEvidence)
	if room < 0 {
		room = 0
	}
	if len(others) > room {
		others = others[:room]
	}
	out := make([]NodeProposal, 0, len(citedEvidence)+len(others))
	out = append(out, citedEvidence...)
	return append(out, others...)
}

func synthesizeRoot(raw *rawExtraction, in ExtractionInput) *NodeProposal {
	text := strings.TrimSpace(in.Reply)
	if text == "" {
		text = strings.TrimSpace(in.Message)
	}
	title := firstNonEmpty(jsonutil.FlexibleString(raw.ThreadTitle), in.Message)
	return &NodeProposal{
		Type:    graph.NodeTypeRoot,
		Title:   graph.TruncateRunes(title, constants.MaxThreadTitleLength),
		Content: graph.TextContent{Text: graph.TruncateRunes(text, constants.SeedTextLength)},
	}
}

func threadTitleFor(raw *rawExtraction, root *NodeProposal, in ExtractionInput) string {
	title := strings.TrimSpace(jsonutil.FlexibleString(raw.ThreadTitle))
	if title == "" && root != nil {
		title = root.Title
	}
	if title == "" {
		title = strings.TrimSpace(in.Message)
	}
	return graph.TruncateRunes(title, constants.MaxThreadTitleLength)
}

// mergeUpdate turns the model's suggestion into an additive update of the
// viewed node: keywords are unioned and content is appended
func mergeUpdate(ru *rawUpdate, nc *NodeContext) *ProposedUpdate {
	if ru == nil || nc == nil {
		return nil
	}
	addition := strings.TrimSpace(jsonutil.FlexibleString(ru.Content))
	newKeywords := jsonutil.FlexibleStrings(ru.Keywords)

	existing := strings.TrimSpace(nc.Content)
	if addition != "" && strings.Contains(existing, addition) {
		addition = ""
	}
	keywords, addedKeyword := unionKeywords(nc.Keywords, newKeywords)
	if addition == "" && !addedKeyword {
		return nil
	}

	content := existing
	if addition != "" {
		if content != "" {
			content += "\n\n"
		}
		content += addition
	}

	return &ProposedUpdate{
		NodeID:   nc.ID,
		Title:    nc.Title,
		Content:  content,
		Keywords: keywords,
		Addition: addition,
		Reason:   strings.TrimSpace(jsonutil.FlexibleString(ru.Reason)),
	}
}

// unionKeywords appends unseen keywords (case-insensitive) to existing
func unionKeywords(existing, proposed []string) ([]string, bool) {
	seen := make(map[string]bool, len(existing)+len(proposed))
	out := make([]string, 0, len(existing)+len(proposed))
	for _, k := range existing {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, k)
	}
	added := false
	for _, k := range proposed {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(k))
		added = true
	}
	return out, added
}

// dedupeCitations canonicalizes URLs and keeps the first of each
func dedupeCitations(citations []graph.Citation) []graph.Citation {
	seen := make(map[string]bool, len(citations))
	out := make([]graph.Citation, 0, len(citations))
	for _, c := range citations {
		u := tools.CanonicalURL(c.URL)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, graph.Citation{URL: u, Title: strings.TrimSpace(c.Title)})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
