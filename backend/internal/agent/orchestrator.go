package agent

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"

	"threadnote/backend/internal/adapter"
	"threadnote/backend/internal/constants"
	"threadnote/backend/internal/graph"
	"threadnote/backend/internal/tools"
	apperrors "threadnote/backend/pkg/errors"
	"threadnote/backend/pkg/logger"

	"go.uber.org/zap"
)

// ChatModel is the language model surface the orchestrator needs
type ChatModel interface {
	JSONCompleter
	OpenStream(ctx context.Context, strategy adapter.Strategy, messages []adapter.Message) (adapter.TokenStream, error)
	WebSearchAvailable() bool
	ModelFor(strategy adapter.Strategy) string
}

// SourceReader fetches pages linked in messages and titles for citations
type SourceReader interface {
	FetchAll(ctx context.Context, urls []string) []tools.Page
	ResolveTitles(ctx context.Context, citations []graph.Citation) []graph.Citation
}

// Orchestrator runs one streamed chat turn
type Orchestrator struct {
	llm           ChatModel
	reader        SourceReader
	knowledge     *KnowledgeService
	maxSourceURLs int
	logger        *zap.Logger
}

// NewOrchestrator creates a new chat orchestrator. reader may be nil, in which
// case linked pages are not fetched and citation titles stay as found.
func NewOrchestrator(llm ChatModel, store graph.Store, reader SourceReader, maxSourceURLs int) *Orchestrator {
	return &Orchestrator{
		llm:           llm,
		reader:        reader,
		knowledge:     NewKnowledgeService(llm, store),
		maxSourceURLs: maxSourceURLs,
		logger:        logger.Named("orchestrator"),
	}
}

// WithLLM returns an orchestrator that talks to llm and shares the rest
func (o *Orchestrator) WithLLM(llm ChatModel) *Orchestrator {
	return &Orchestrator{
		llm:           llm,
		reader:        o.reader,
		knowledge:     o.knowledge.WithLLM(llm),
		maxSourceURLs: o.maxSourceURLs,
		logger:        o.logger,
	}
}

// Knowledge returns the extraction service
func (o *Orchestrator) Knowledge() *KnowledgeService {
	return o.knowledge
}

// openedStream is a stream whose first receive already succeeded
type openedStream struct {
	stream   adapter.TokenStream
	strategy adapter.Strategy
	first    string
	eof      bool
}

// Stream yields the reply token by token and ends with one DoneEvent or
// ErrorEvent. Stopping the range, or cancelling ctx, closes the upstream
// stream and nothing more is yielded.
func (o *Orchestrator) Stream(ctx context.Context, req ChatRequest) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if strings.TrimSpace(req.Message) == "" {
			yield(ErrorEvent{Message: apperrors.NewValidation("message", "must not be empty").Error()})
			return
		}

		nc := o.knowledge.hydrateNodeContext(ctx, req.NodeContext)
		messages := buildChatMessages(req, nc, o.readSources(ctx, req.Message))

		opened, err := o.open(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			yield(ErrorEvent{Message: err.Error()})
			return
		}
		defer opened.stream.Close()

		var reply strings.Builder
		tokensSent := 0
		token := opened.first
		for !opened.eof {
			if ctx.Err() != nil {
				return
			}
			reply.WriteString(token)
			tokensSent++
			if !yield(TokenEvent{Content: token}) {
				o.logger.Debug("Consumer stopped reading", zap.Int("tokens_sent", tokensSent))
				return
			}

			token, err = opened.stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				streamErr := apperrors.NewModelStreamFailed(
					o.llm.ModelFor(opened.strategy), opened.strategy.String(), tokensSent, err,
				)
				o.logger.Warn("Stream failed mid-reply",
					zap.String("strategy", opened.strategy.String()),
					zap.Int("tokens_sent", tokensSent),
					zap.Error(err),
				)
				yield(ErrorEvent{Message: streamErr.Error()})
				return
			}
		}

		replyText := reply.String()
		done := DoneEvent{
			Reply:        replyText,
			Citations:    o.citationsFor(ctx, replyText),
			CreatedNodes: []graph.NodeStub{},
			ThreadID:     req.ThreadID,
			SessionID:    req.SessionID,
		}
		if ctx.Err() != nil {
			return
		}

		if req.Extract {
			if !yield(ProcessingEvent{}) {
				return
			}
			resp, err := o.knowledge.Extract(ctx, ExtractRequest{
				Message:     req.Message,
				Reply:       replyText,
				ThreadID:    req.ThreadID,
				NodeContext: nc,
				Citations:   done.Citations,
				SessionID:   req.SessionID,
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				o.logger.Warn("Extraction failed after stream", zap.Error(err))
				yield(ErrorEvent{Message: err.Error()})
				return
			}
			done.CreatedNodes = resp.CreatedNodes
			done.ThreadID = resp.ThreadID
			done.NewThread = resp.NewThread
			done.ProposedUpdate = resp.ProposedUpdate
			done.SessionID = resp.SessionID
		}

		o.logger.Info("Chat turn completed",
			zap.String("strategy", opened.strategy.String()),
			zap.Int("tokens", tokensSent),
			zap.Int("citations", len(done.Citations)),
			zap.Int("created_nodes", len(done.CreatedNodes)),
		)
		yield(done)
	}
}

// open starts the stream, preferring web search. A web-search failure before
// the first token switches to the plain strategy once.
func (o *Orchestrator) open(ctx context.Context, messages []adapter.Message) (*openedStream, error) {
	strategy := adapter.StrategyPlain
	if o.llm.WebSearchAvailable() {
		strategy = adapter.StrategyWebSearch
	}

	opened, err := o.openStrategy(ctx, strategy, messages)
	if err == nil || strategy == adapter.StrategyPlain || ctx.Err() != nil {
		return opened, err
	}

	o.logger.Warn("Web search stream failed, falling back to plain completion", zap.Error(err))
	return o.openStrategy(ctx, adapter.StrategyPlain, messages)
}

func (o *Orchestrator) openStrategy(ctx context.Context, strategy adapter.Strategy, messages []adapter.Message) (*openedStream, error) {
	model := o.llm.ModelFor(strategy)

	stream, err := o.llm.OpenStream(ctx, strategy, messages)
	if err != nil {
		return nil, apperrors.NewModelStreamFailed(model, strategy.String(), 0, err)
	}

	first, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return &openedStream{stream: stream, strategy: strategy, eof: true}, nil
	}
	if err != nil {
		stream.Close()
		return nil, apperrors.NewModelStreamFailed(model, strategy.String(), 0, err)
	}
	return &openedStream{stream: stream, strategy: strategy, first: first}, nil
}

// readSources fetches the pages linked in the user's message
func (o *Orchestrator) readSources(ctx context.Context, message string) []tools.Page {
	if o.reader == nil || o.maxSourceURLs <= 0 {
		return nil
	}
	urls := tools.ExtractURLs(message, o.maxSourceURLs)
	if len(urls) == 0 {
		return nil
	}
	pages := o.reader.FetchAll(ctx, urls)
	o.logger.Debug("Read linked sources", zap.Int("urls", len(urls)), zap.Int("pages", len(pages)))
	return pages
}

func (o *Orchestrator) citationsFor(ctx context.Context, reply string) []graph.Citation {
	citations := tools.ExtractCitations(reply, constants.MaxCitations)
	if len(citations) == 0 {
		return []graph.Citation{}
	}
	if o.reader != nil {
		citations = o.reader.ResolveTitles(ctx, citations)
	}
	return citations
}
