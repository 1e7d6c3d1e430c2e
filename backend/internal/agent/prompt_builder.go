package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"threadnote/backend/internal/adapter"
	"threadnote/backend/internal/constants"
	"threadnote/backend/internal/graph"
	"threadnote/backend/internal/tools"
)

const chatBasePrompt = `You are the research assistant of a knowledge-graph notebook. Users organize
what they learn into threads of typed notes (evidence, examples, counterpoints,
context, synthesis).

- Answer clearly and concretely. Prefer short paragraphs and lists.
- When you rely on a web source, cite it inline as a markdown link: [title](url).
- Never invent URLs. Only cite pages you actually read or were given.
- If you are unsure, say so instead of guessing.`

// buildChatMessages assembles the system prompt, trimmed history and the new
// user message
func buildChatMessages(req ChatRequest, nc *NodeContext, sources []tools.Page) []adapter.Message {
	messages := []adapter.Message{
		{Role: adapter.RoleSystem, Content: buildChatSystemPrompt(nc, sources)},
	}

	history := req.History
	if len(history) > constants.MaxHistoryMessages {
		history = history[len(history)-constants.MaxHistoryMessages:]
	}
	for _, h := range history {
		role := strings.ToLower(strings.TrimSpace(h.Role))
		if role != adapter.RoleUser && role != adapter.RoleAssistant {
			continue
		}
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		messages = append(messages, adapter.Message{Role: role, Content: h.Content})
	}

	return append(messages, adapter.Message{Role: adapter.RoleUser, Content: req.Message})
}

func buildChatSystemPrompt(nc *NodeContext, sources []tools.Page) string {
	var b strings.Builder
	b.WriteString(chatBasePrompt)

	if nc != nil && (nc.Title != "" || nc.Content != "") {
		fmt.Fprintf(&b, `

## Node the user is viewing
The user is looking at this note right now. When they say "this", "it" or
"here", they mean this note.

Title: %s
Type: %s
Content:
%s`, nc.Title, orDefault(nc.NodeType, "unknown"), graph.TruncateRunes(nc.Content, constants.MaxNodeContextChars))
		if len(nc.Keywords) > 0 {
			fmt.Fprintf(&b, "\nKeywords: %s", strings.Join(nc.Keywords, ", "))
		}
	}

	if len(sources) > 0 {
		b.WriteString("\n\n## Pages linked in the user's message\nUse these when answering and cite them by URL.\n")
		for i, p := range sources {
			fmt.Fprintf(&b, "\n### [%d] %s\nURL: %s\n%s\n", i+1, orDefault(p.Title, "Untitled page"), p.URL, p.Text)
		}
	}

	return b.String()
}

const extractionSystemPrompt = `You turn one chat exchange into notes for a knowledge graph.

Respond with ONLY a JSON object (no markdown, no explanation) of this shape:
{
  "topicShift": true or false,
  "threadTitle": "short title for the thread this exchange belongs to",
  "nodes": [
    {"type": "ROOT", "title": "...", "content": "the central idea of the reply"},
    {"type": "EVIDENCE", "title": "...", "point": "claim supported by a source", "source": "https://..."},
    {"type": "EXAMPLE", "title": "...", "description": "..."},
    {"type": "COUNTERPOINT", "title": "...", "argument": "...", "explanation": "..."},
    {"type": "CONTEXT", "title": "...", "content": "..."},
    {"type": "REFERENCE", "title": "...", "content": "..."},
    {"type": "SYNTHESIS", "title": "...", "content": "..."}
  ],
  "proposedUpdate": null or {"content": "text to ADD to the viewed note", "keywords": ["..."], "reason": "..."}
}

Rules:
- Emit exactly one ROOT node holding the self-contained idea of the reply. Every other node is its child.
- Every cited URL must appear as the "source" of exactly one EVIDENCE node. Do not drop or repeat citations.
- Only use EVIDENCE sources from the cited URLs.
- topicShift is true only when the user's message is about a materially different subject than the current thread title.
- Emit at most 11 nodes besides the ROOT. Skip small talk; an exchange with no real content gets "nodes": [].
- proposedUpdate is only for the viewed note, and only when the reply substantively extends it. It must add information, never remove any.`

// buildExtractionPrompt renders the exchange for the extraction model
func buildExtractionPrompt(in ExtractionInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Current thread title\n%s\n", orDefault(in.ThreadTitle, "(none, this exchange starts a new thread)"))

	if in.NodeContext != nil {
		fmt.Fprintf(&b, "\n## Viewed note\nTitle: %s\nType: %s\nContent:\n%s\n",
			in.NodeContext.Title,
			orDefault(in.NodeContext.NodeType, "unknown"),
			graph.TruncateRunes(in.NodeContext.Content, constants.MaxNodeContextChars),
		)
		if len(in.NodeContext.Keywords) > 0 {
			fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(in.NodeContext.Keywords, ", "))
		}
	}

	citations := "[]"
	if len(in.Citations) > 0 {
		if data, err := json.Marshal(in.Citations); err == nil {
			citations = string(data)
		}
	}
	fmt.Fprintf(&b, "\n## Cited URLs\n%s\n", citations)
	fmt.Fprintf(&b, "\n## User message\n%s\n", in.Message)
	fmt.Fprintf(&b, "\n## Assistant reply\n%s\n", in.Reply)

	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
