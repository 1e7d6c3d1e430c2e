package agent

import (
	"context"
	"errors"
	"io"
	"sync"

	"threadnote/backend/internal/adapter"
	"threadnote/backend/internal/graph"
	"threadnote/backend/internal/tools"
)

var errUpstream = errors.New("upstream unavailable")

// fakeStream replays tokens and fails with err at index failAt (-1 never fails)
type fakeStream struct {
	tokens []string
	failAt int
	err    error

	next   int
	closed bool
}

func newFakeStream(tokens ...string) *fakeStream {
	return &fakeStream{tokens: tokens, failAt: -1}
}

func (s *fakeStream) failingAt(i int, err error) *fakeStream {
	s.failAt = i
	s.err = err
	return s
}

func (s *fakeStream) Recv() (string, error) {
	if s.next == s.failAt {
		return "", s.err
	}
	if s.next >= len(s.tokens) {
		return "", io.EOF
	}
	tok := s.tokens[s.next]
	s.next++
	return tok, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeModel serves one scripted stream per strategy plus a JSON completion
type fakeModel struct {
	mu sync.Mutex

	webSearch bool
	streams   map[adapter.Strategy]*fakeStream
	openErr   map[adapter.Strategy]error

	jsonResponse string
	jsonErr      error

	opened       []adapter.Strategy
	lastMessages []adapter.Message
	jsonCalls    int
	lastJSONUser string
}

func (m *fakeModel) OpenStream(ctx context.Context, strategy adapter.Strategy, messages []adapter.Message) (adapter.TokenStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, strategy)
	m.lastMessages = messages
	if err := m.openErr[strategy]; err != nil {
		return nil, err
	}
	s, ok := m.streams[strategy]
	if !ok {
		return nil, adapter.ErrWebSearchUnavailable
	}
	return s, nil
}

func (m *fakeModel) WebSearchAvailable() bool {
	return m.webSearch
}

func (m *fakeModel) ModelFor(strategy adapter.Strategy) string {
	if strategy == adapter.StrategyWebSearch {
		return "search-model"
	}
	return "chat-model"
}

func (m *fakeModel) CompleteJSON(ctx context.Context, systemPrompt, userMsg string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jsonCalls++
	m.lastJSONUser = userMsg
	return m.jsonResponse, m.jsonErr
}

func (m *fakeModel) systemPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.lastMessages) == 0 {
		return ""
	}
	return m.lastMessages[0].Content
}

// fakeReader returns canned pages and titles without network access
type fakeReader struct {
	pages     map[string]tools.Page
	titles    map[string]string
	requested []string
}

func (r *fakeReader) FetchAll(ctx context.Context, urls []string) []tools.Page {
	r.requested = append(r.requested, urls...)
	var out []tools.Page
	for _, u := range urls {
		if p, ok := r.pages[u]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (r *fakeReader) ResolveTitles(ctx context.Context, citations []graph.Citation) []graph.Citation {
	out := make([]graph.Citation, len(citations))
	copy(out, citations)
	for i := range out {
		if out[i].Title == "" {
			out[i].Title = r.titles[out[i].URL]
		}
	}
	return out
}

func int64Ptr(v int64) *int64 {
	return &v
}
