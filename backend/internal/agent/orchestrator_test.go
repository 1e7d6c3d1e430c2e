package agent

import (
	"context"
	"strings"
	"testing"

	"threadnote/backend/internal/adapter"
	"threadnote/backend/internal/graph"
	"threadnote/backend/internal/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(seq func(func(Event) bool)) []Event {
	var events []Event
	for ev := range seq {
		events = append(events, ev)
	}
	return events
}

func tokensOf(events []Event) []string {
	var out []string
	for _, ev := range events {
		if tok, ok := ev.(TokenEvent); ok {
			out = append(out, tok.Content)
		}
	}
	return out
}

func plainModel(s *fakeStream) *fakeModel {
	return &fakeModel{streams: map[adapter.Strategy]*fakeStream{adapter.StrategyPlain: s}}
}

func TestStream_TokensConcatenateToReply(t *testing.T) {
	stream := newFakeStream("Photosynthesis ", "uses ", "[light](https://a.example/light)", ".")
	model := plainModel(stream)
	o := NewOrchestrator(model, graph.NewMemoryStore(), nil, 0)

	events := collect(o.Stream(context.Background(), ChatRequest{Message: "Tell me about photosynthesis"}))

	require.Len(t, events, 5)
	done, ok := events[4].(DoneEvent)
	require.True(t, ok, "last event must be done, got %T", events[4])

	assert.Equal(t, strings.Join(tokensOf(events), ""), done.Reply)
	assert.Equal(t, []graph.Citation{{URL: "https://a.example/light", Title: "light"}}, done.Citations)
	assert.Empty(t, done.CreatedNodes)
	assert.True(t, stream.closed)
	assert.Equal(t, []adapter.Strategy{adapter.StrategyPlain}, model.opened)
}

func TestStream_EmptyReply(t *testing.T) {
	model := plainModel(newFakeStream())
	o := NewOrchestrator(model, graph.NewMemoryStore(), nil, 0)

	events := collect(o.Stream(context.Background(), ChatRequest{Message: "hi"}))

	require.Len(t, events, 1)
	done, ok := events[0].(DoneEvent)
	require.True(t, ok)
	assert.Equal(t, "", done.Reply)
	assert.Empty(t, done.Citations)
}

func TestStream_EmptyMessage(t *testing.T) {
	model := plainModel(newFakeStream("x"))
	o := NewOrchestrator(model, graph.NewMemoryStore(), nil, 0)

	events := collect(o.Stream(context.Background(), ChatRequest{Message: "  "}))

	require.Len(t, events, 1)
	assert.IsType(t, ErrorEvent{}, events[0])
	assert.Empty(t, model.opened)
}

func TestStream_FallbackWhenWebSearchFailsToOpen(t *testing.T) {
	plain := newFakeStream("plain ", "answer")
	model := &fakeModel{
		webSearch: true,
		streams:   map[adapter.Strategy]*fakeStream{adapter.StrategyPlain: plain},
		openErr:   map[adapter.Strategy]error{adapter.StrategyWebSearch: errUpstream},
	}
	o := NewOrchestrator(model, graph.NewMemoryStore(), nil, 0)

	events := collect(o.Stream(context.Background(), ChatRequest{Message: "news?"}))

	assert.Equal(t, []adapter.Strategy{adapter.StrategyWebSearch, adapter.StrategyPlain}, model.opened)
	assert.Equal(t, []string{"plain ", "answer"}, tokensOf(events))
	done, ok := events[len(events)-1].(DoneEvent)
	require.True(t, ok)
	assert.Equal(t, "plain answer", done.Reply)
}

func TestStream_FallbackWhenFirstReceiveFails(t *testing.T) {
	web := newFakeStream("never").failingAt(0, errUpstream)
	plain := newFakeStream("ok")
	model := &fakeModel{
		webSearch: true,
		streams: map[adapter.Strategy]*fakeStream{
			adapter.StrategyWebSearch: web,
			adapter.StrategyPlain:     plain,
		},
	}
	o := NewOrchestrator(model, graph.NewMemoryStore(), nil, 0)

	events := collect(o.Stream(context.Background(), ChatRequest{Message: "news?"}))

	assert.Equal(t, []string{"ok"}, tokensOf(events))
	assert.True(t, web.closed)
	assert.True(t, plain.closed)
	assert.Equal(t, []adapter.Strategy{adapter.StrategyWebSearch, adapter.StrategyPlain}, model.opened)
}

func TestStream_NoFallbackAfterFirstToken(t *testing.T) {
	web := newFakeStream("one ", "two ", "three").failingAt(2, errUpstream)
	model := &fakeModel{
		webSearch: true,
		streams: map[adapter.Strategy]*fakeStream{
			adapter.StrategyWebSearch: web,
			adapter.StrategyPlain:     newFakeStream("plain"),
		},
	}
	o := NewOrchestrator(model, graph.NewMemoryStore(), nil, 0)

	events := collect(o.Stream(context.Background(), ChatRequest{Message: "news?"}))

	require.Len(t, events, 3)
	assert.Equal(t, []string{"one ", "two "}, tokensOf(events))
	errEv, ok := events[2].(ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, errEv.Message, "web_search")
	assert.Equal(t, []adapter.Strategy{adapter.StrategyWebSearch}, model.opened)
	assert.True(t, web.closed)
}

func TestStream_ErrorBeforeAnyToken(t *testing.T) {
	model := &fakeModel{openErr: map[adapter.Strategy]error{adapter.StrategyPlain: errUpstream}}
	o := NewOrchestrator(model, graph.NewMemoryStore(), nil, 0)

	events := collect(o.Stream(context.Background(), ChatRequest{Message: "hello"}))

	require.Len(t, events, 1)
	errEv, ok := events[0].(ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, errEv.Message, errUpstream.Error())
	assert.Equal(t, []adapter.Strategy{adapter.StrategyPlain}, model.opened)
}

func TestStream_ConsumerStopsAfterThreeTokens(t *testing.T) {
	stream := newFakeStream("0", "1", "2", "3", "4", "5", "6", "7", "8", "9")
	model := plainModel(stream)
	o := NewOrchestrator(model, graph.NewMemoryStore(), nil, 0)

	var got []Event
	for ev := range o.Stream(context.Background(), ChatRequest{Message: "count"}) {
		got = append(got, ev)
		if len(got) == 3 {
			break
		}
	}

	assert.Equal(t, []string{"0", "1", "2"}, tokensOf(got))
	assert.True(t, stream.closed)
	assert.Equal(t, 3, stream.next, "no tokens read after the consumer left")
}

func TestStream_ContextCancelled(t *testing.T) {
	stream := newFakeStream("a", "b", "c")
	model := plainModel(stream)
	o := NewOrchestrator(model, graph.NewMemoryStore(), nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []Event
	for ev := range o.Stream(ctx, ChatRequest{Message: "count"}) {
		got = append(got, ev)
		cancel()
	}

	require.Len(t, got, 1)
	assert.Equal(t, TokenEvent{Content: "a"}, got[0])
	assert.True(t, stream.closed)
}

func TestStream_EmbedsViewedNodeAndSources(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	res, err := graph.NewWriter(store).Commit(ctx, graph.CommitRequest{
		ThreadTitle: "Plants",
		Reply:       "Plants make sugar.",
		Root:        &graph.NodeDraft{Type: graph.NodeTypeRoot, Title: "Leaf anatomy", Content: graph.TextContent{Text: "Stomata let gas in."}},
	})
	require.NoError(t, err)
	nodeID := res.CreatedNodes[0].ID

	reader := &fakeReader{pages: map[string]tools.Page{
		"https://docs.example/leaf": {URL: "https://docs.example/leaf", Title: "Leaf", Text: "Guard cells open stomata."},
	}}
	model := plainModel(newFakeStream("sure"))
	o := NewOrchestrator(model, store, reader, 3)

	collect(o.Stream(ctx, ChatRequest{
		Message:     "How does this relate to https://docs.example/leaf?",
		NodeContext: &NodeContext{ID: int64Ptr(nodeID)},
		History: []HistoryMessage{
			{Role: "user", Content: "earlier question"},
			{Role: "system", Content: "ignored"},
			{Role: "assistant", Content: "earlier answer"},
		},
	}))

	prompt := model.systemPrompt()
	assert.Contains(t, prompt, "Leaf anatomy")
	assert.Contains(t, prompt, "Stomata let gas in.")
	assert.Contains(t, prompt, "Guard cells open stomata.")
	assert.Equal(t, []string{"https://docs.example/leaf"}, reader.requested)

	// system, two history messages, user
	require.Len(t, model.lastMessages, 4)
	assert.Equal(t, adapter.RoleUser, model.lastMessages[3].Role)
}

func TestStream_ResolvesCitationTitles(t *testing.T) {
	reader := &fakeReader{titles: map[string]string{"https://b.example/x": "Bee page"}}
	model := plainModel(newFakeStream("see https://b.example/x"))
	o := NewOrchestrator(model, graph.NewMemoryStore(), reader, 0)

	events := collect(o.Stream(context.Background(), ChatRequest{Message: "q"}))

	done, ok := events[len(events)-1].(DoneEvent)
	require.True(t, ok)
	assert.Equal(t, []graph.Citation{{URL: "https://b.example/x", Title: "Bee page"}}, done.Citations)
	assert.Empty(t, reader.requested, "no linked pages in the message")
}

func TestStream_FusedExtraction(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	model := plainModel(newFakeStream("Light drives it ", "[per NASA](https://nasa.example/p)"))
	model.jsonResponse = `{
		"topicShift": false,
		"threadTitle": "Photosynthesis",
		"nodes": [
			{"type": "ROOT", "title": "Photosynthesis", "content": "Light drives sugar production"},
			{"type": "EVIDENCE", "title": "NASA", "point": "Light drives it", "source": "https://nasa.example/p"}
		]
	}`
	o := NewOrchestrator(model, store, nil, 0)

	events := collect(o.Stream(ctx, ChatRequest{Message: "Explain photosynthesis", Extract: true, SessionID: "s-1"}))

	require.GreaterOrEqual(t, len(events), 2)
	assert.IsType(t, ProcessingEvent{}, events[len(events)-2])
	done, ok := events[len(events)-1].(DoneEvent)
	require.True(t, ok)

	require.Len(t, done.CreatedNodes, 2)
	assert.Equal(t, graph.NodeTypeRoot, done.CreatedNodes[0].NodeType)
	assert.Equal(t, graph.NodeTypeEvidence, done.CreatedNodes[1].NodeType)
	require.NotNil(t, done.NewThread)
	require.NotNil(t, done.ThreadID)
	assert.Equal(t, done.NewThread.ID, *done.ThreadID)
	assert.Equal(t, "s-1", done.SessionID)

	sess, err := store.GetChatSession(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, done.Reply, sess.Turns[1].Content)
}

func TestStream_FusedExtractionFailure(t *testing.T) {
	model := plainModel(newFakeStream("reply"))
	model.jsonErr = errUpstream
	o := NewOrchestrator(model, graph.NewMemoryStore(), nil, 0)

	events := collect(o.Stream(context.Background(), ChatRequest{Message: "q", Extract: true}))

	require.Len(t, events, 3)
	assert.Equal(t, TokenEvent{Content: "reply"}, events[0])
	assert.IsType(t, ProcessingEvent{}, events[1])
	assert.IsType(t, ErrorEvent{}, events[2])
}
