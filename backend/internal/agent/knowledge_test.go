package agent

import (
	"context"
	"fmt"
	"testing"

	"threadnote/backend/internal/constants"
	"threadnote/backend/internal/graph"
	apperrors "threadnote/backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const photosynthesisReply = "Photosynthesis converts light into chemical energy. " +
	"Chlorophyll absorbs mostly red and blue light ([Britannica](https://www.britannica.com/science/photosynthesis)) " +
	"and oxygen is released as a by-product (https://en.wikipedia.org/wiki/Photosynthesis)."

func photosynthesisCitations() []graph.Citation {
	return []graph.Citation{
		{URL: "https://www.britannica.com/science/photosynthesis", Title: "Britannica"},
		{URL: "https://en.wikipedia.org/wiki/Photosynthesis", Title: "Photosynthesis - Wikipedia"},
	}
}

func TestKnowledge_Extract_PhotosynthesisEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	model := &fakeModel{jsonResponse: `{
		"topicShift": false,
		"threadTitle": "Photosynthesis",
		"nodes": [
			{"type": "ROOT", "title": "Photosynthesis", "content": "Plants turn light into chemical energy"},
			{"type": "EVIDENCE", "title": "Light absorption", "point": "Chlorophyll absorbs red and blue light", "source": "https://www.britannica.com/science/photosynthesis"},
			{"type": "EVIDENCE", "title": "Oxygen", "point": "Oxygen is released", "source": "https://en.wikipedia.org/wiki/Photosynthesis"}
		]
	}`}
	k := NewKnowledgeService(model, store)

	resp, err := k.Extract(ctx, ExtractRequest{
		Message:   "Tell me about photosynthesis",
		Reply:     photosynthesisReply,
		Citations: photosynthesisCitations(),
	})
	require.NoError(t, err)

	// No prior thread: the model said false but a new thread is minted anyway
	require.NotNil(t, resp.NewThread)
	require.NotNil(t, resp.ThreadID)
	assert.Equal(t, resp.NewThread.ID, *resp.ThreadID)
	assert.Equal(t, "Photosynthesis", resp.NewThread.Title)

	require.Len(t, resp.CreatedNodes, 3)
	root := resp.CreatedNodes[0]
	assert.Equal(t, graph.NodeTypeRoot, root.NodeType)
	for _, stub := range resp.CreatedNodes[1:] {
		assert.Equal(t, graph.NodeTypeEvidence, stub.NodeType)
		require.NotNil(t, stub.ParentID)
		assert.Equal(t, root.ID, *stub.ParentID)
	}

	g, err := store.GetThreadGraph(ctx, *resp.ThreadID)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 3)
	assert.ElementsMatch(t, []graph.Edge{
		{ParentID: root.ID, ChildID: resp.CreatedNodes[1].ID},
		{ParentID: root.ID, ChildID: resp.CreatedNodes[2].ID},
	}, g.Edges)

	var sources []string
	for _, n := range g.Nodes {
		if n.NodeType != graph.NodeTypeEvidence {
			continue
		}
		content, err := graph.DecodeContent(n.NodeType, n.Content)
		require.NoError(t, err)
		sources = append(sources, content.(graph.EvidenceContent).Source)
	}
	assert.ElementsMatch(t, []string{
		"https://www.britannica.com/science/photosynthesis",
		"https://en.wikipedia.org/wiki/Photosynthesis",
	}, sources)

	thread, err := store.GetThread(ctx, *resp.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, photosynthesisReply, thread.Description)
}

func TestKnowledge_Extract_SynthesizesMissingEvidence(t *testing.T) {
	store := graph.NewMemoryStore()
	model := &fakeModel{jsonResponse: `{"nodes": [{"type": "ROOT", "content": "Plants turn light into energy"}]}`}
	k := NewKnowledgeService(model, store)

	resp, err := k.Extract(context.Background(), ExtractRequest{
		Message:   "Tell me about photosynthesis",
		Reply:     photosynthesisReply,
		Citations: photosynthesisCitations(),
	})
	require.NoError(t, err)

	require.Len(t, resp.CreatedNodes, 3)
	assert.Equal(t, graph.NodeTypeRoot, resp.CreatedNodes[0].NodeType)
	assert.Equal(t, "Britannica", resp.CreatedNodes[1].Title)
	assert.Equal(t, "Photosynthesis - Wikipedia", resp.CreatedNodes[2].Title)
}

func TestKnowledge_Extract_ExistingThread(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	first, err := graph.NewWriter(store).Commit(ctx, graph.CommitRequest{
		ThreadTitle: "Plants",
		Reply:       "Plants grow.",
		Root:        &graph.NodeDraft{Type: graph.NodeTypeRoot, Content: graph.TextContent{Text: "Plants grow"}},
	})
	require.NoError(t, err)

	model := &fakeModel{jsonResponse: `{"topicShift": false, "nodes": [
		{"type": "ROOT", "content": "Roots absorb water"},
		{"type": "EXAMPLE", "title": "Cactus", "description": "Shallow wide roots"}
	]}`}
	k := NewKnowledgeService(model, store)

	resp, err := k.Extract(ctx, ExtractRequest{
		Message:  "How do roots work?",
		Reply:    "Roots absorb water.",
		ThreadID: int64Ptr(first.ThreadID),
	})
	require.NoError(t, err)

	assert.Nil(t, resp.NewThread)
	assert.Equal(t, first.ThreadID, *resp.ThreadID)
	assert.Len(t, resp.CreatedNodes, 2)
	assert.Contains(t, model.lastJSONUser, "Plants")

	g, err := store.GetThreadGraph(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 3)
}

func TestKnowledge_Extract_UnknownThread(t *testing.T) {
	model := &fakeModel{jsonResponse: `{}`}
	k := NewKnowledgeService(model, graph.NewMemoryStore())

	_, err := k.Extract(context.Background(), ExtractRequest{Message: "q", Reply: "r", ThreadID: int64Ptr(999)})

	assert.True(t, apperrors.IsNotFound(err))
	assert.Zero(t, model.jsonCalls, "no model call for a missing thread")
}

func TestKnowledge_Extract_NothingToWrite(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	model := &fakeModel{jsonResponse: "not json"}
	k := NewKnowledgeService(model, store)

	resp, err := k.Extract(ctx, ExtractRequest{Message: "thanks!", Reply: "Anytime."})
	require.NoError(t, err)

	assert.Empty(t, resp.CreatedNodes)
	assert.Nil(t, resp.NewThread)
	assert.Nil(t, resp.ThreadID)
	_, err = store.GetThread(ctx, 1)
	assert.True(t, apperrors.IsNotFound(err), "no empty thread is minted")
}

func TestKnowledge_Extract_ModelFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	k := NewKnowledgeService(&fakeModel{jsonErr: errUpstream}, store)

	_, err := k.Extract(ctx, ExtractRequest{Message: "q", Reply: "r", Citations: photosynthesisCitations(), SessionID: "s"})

	assert.ErrorIs(t, err, errUpstream)
	_, err = store.GetChatSession(ctx, "s")
	assert.True(t, apperrors.IsNotFound(err))
}

func manyCitations(n int) []graph.Citation {
	out := make([]graph.Citation, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, graph.Citation{URL: fmt.Sprintf("https://source%d.example/page", i), Title: fmt.Sprintf("Source %d", i)})
	}
	return out
}

func TestKnowledge_Extract_TooManyCitations(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	model := &fakeModel{jsonResponse: `{"nodes": [{"type": "ROOT", "content": "Overview"}]}`}
	k := NewKnowledgeService(model, store)

	_, err := k.Extract(ctx, ExtractRequest{Message: "q", Reply: "r", Citations: manyCitations(14)})

	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
	assert.Equal(t, 0, model.jsonCalls)
	_, err = store.GetThread(ctx, 1)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestKnowledge_Extract_EveryCitationBecomesEvidence(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	model := &fakeModel{jsonResponse: `{"nodes": [{"type": "ROOT", "content": "Overview"}]}`}
	k := NewKnowledgeService(model, store)

	// Duplicates do not count towards the limit
	citations := manyCitations(constants.MaxCitations)
	citations = append(citations, citations[0], graph.Citation{URL: citations[1].URL + "#section"})

	resp, err := k.Extract(ctx, ExtractRequest{Message: "q", Reply: "r", Citations: citations})

	require.NoError(t, err)
	assert.Len(t, resp.Citations, constants.MaxCitations)
	require.Len(t, resp.CreatedNodes, constants.MaxCitations+1)

	g, err := store.GetThreadGraph(ctx, *resp.ThreadID)
	require.NoError(t, err)
	sources := map[string]int{}
	for _, n := range g.Nodes {
		if n.NodeType != graph.NodeTypeEvidence {
			continue
		}
		content, err := graph.DecodeContent(n.NodeType, n.Content)
		require.NoError(t, err)
		sources[content.(graph.EvidenceContent).Source]++
	}
	require.Len(t, sources, constants.MaxCitations)
	for _, c := range resp.Citations {
		assert.Equal(t, 1, sources[c.URL], c.URL)
	}
}

func TestKnowledge_Extract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	k := NewKnowledgeService(&fakeModel{jsonErr: context.Canceled}, graph.NewMemoryStore())

	_, err := k.Extract(ctx, ExtractRequest{Message: "q", Reply: "r"})

	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeContext))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKnowledge_Extract_EmptyMessage(t *testing.T) {
	k := NewKnowledgeService(&fakeModel{}, graph.NewMemoryStore())

	_, err := k.Extract(context.Background(), ExtractRequest{Message: " "})

	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
}

func TestKnowledge_Extract_RecordsSession(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	model := &fakeModel{jsonResponse: `{"nodes": [{"type": "ROOT", "content": "idea"}]}`}
	k := NewKnowledgeService(model, store)

	resp, err := k.Extract(ctx, ExtractRequest{
		Message:   "Tell me about photosynthesis",
		Reply:     photosynthesisReply,
		Citations: photosynthesisCitations(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID, "a session ID is generated")

	resp2, err := k.Extract(ctx, ExtractRequest{
		Message:   "And at night?",
		Reply:     "The Calvin cycle continues briefly.",
		ThreadID:  resp.ThreadID,
		SessionID: resp.SessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, resp2.SessionID)

	sess, err := store.GetChatSession(ctx, resp.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Turns, 4)
	assert.Equal(t, graph.RoleUser, sess.Turns[0].Role)
	assert.Equal(t, graph.RoleAssistant, sess.Turns[1].Role)
	assert.Equal(t, photosynthesisCitations(), sess.Turns[1].Citations)
	assert.Len(t, sess.Turns[1].CreatedNodeIDs, len(resp.CreatedNodes))
	assert.Equal(t, *resp.ThreadID, sess.ThreadID)
}

func TestKnowledge_Extract_HydratesNodeContext(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	seed, err := graph.NewWriter(store).Commit(ctx, graph.CommitRequest{
		ThreadTitle: "Plants",
		Reply:       "Plants grow.",
		Root:        &graph.NodeDraft{Type: graph.NodeTypeRoot, Title: "Chlorophyll", Content: graph.TextContent{Text: "Green pigment."}},
	})
	require.NoError(t, err)
	nodeID := seed.CreatedNodes[0].ID

	model := &fakeModel{jsonResponse: `{"proposedUpdate": {"content": "Absorbs red light.", "reason": "new fact"}}`}
	k := NewKnowledgeService(model, store)

	resp, err := k.Extract(ctx, ExtractRequest{
		Message:     "What light does this absorb?",
		Reply:       "Mostly red and blue.",
		ThreadID:    int64Ptr(seed.ThreadID),
		NodeContext: &NodeContext{ID: int64Ptr(nodeID)},
	})
	require.NoError(t, err)

	require.NotNil(t, resp.ProposedUpdate)
	assert.Equal(t, nodeID, *resp.ProposedUpdate.NodeID)
	assert.Equal(t, "Chlorophyll", resp.ProposedUpdate.Title)
	assert.Equal(t, "Green pigment.\n\nAbsorbs red light.", resp.ProposedUpdate.Content)
	assert.Contains(t, model.lastJSONUser, "Green pigment.")
}
