package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"threadnote/backend/internal/adapter"
	"threadnote/backend/internal/agent"
	"threadnote/backend/internal/graph"
	apperrors "threadnote/backend/pkg/errors"
	"threadnote/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIKeyHeader lets a client supply its own LLM credential
const APIKeyHeader = "X-LLM-API-Key"

// Handler serves the chat and graph endpoints
type Handler struct {
	orch   *agent.Orchestrator
	llm    *adapter.LLMAdapter
	store  graph.Store
	logger *zap.Logger
}

// NewHandler creates the HTTP handlers. llm may be nil, in which case the
// per-request key header is ignored.
func NewHandler(orch *agent.Orchestrator, llm *adapter.LLMAdapter, store graph.Store) *Handler {
	return &Handler{
		orch:   orch,
		llm:    llm,
		store:  store,
		logger: logger.Named("api"),
	}
}

type chatBody struct {
	Message     string                 `json:"message" binding:"required"`
	History     []agent.HistoryMessage `json:"history"`
	ThreadID    *int64                 `json:"threadId"`
	NodeContext *agent.NodeContext     `json:"nodeContext"`
	Extract     bool                   `json:"extract"`
	SessionID   string                 `json:"sessionId"`
}

type extractBody struct {
	Message     string             `json:"message" binding:"required"`
	Reply       string             `json:"reply"`
	ThreadID    *int64             `json:"threadId"`
	NodeContext *agent.NodeContext `json:"nodeContext"`
	Citations   []graph.Citation   `json:"citations"`
	SessionID   string             `json:"sessionId"`
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Chat streams the reply as server-sent events, one JSON event per data line
func (h *Handler) Chat(c *gin.Context) {
	var body chatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, apperrors.NewValidation("body", err.Error()))
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		h.respondError(c, apperrors.NewValidation("message", "must not be empty"))
		return
	}

	req := agent.ChatRequest{
		Message:     body.Message,
		History:     body.History,
		ThreadID:    body.ThreadID,
		NodeContext: body.NodeContext,
		Extract:     body.Extract,
		SessionID:   body.SessionID,
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	written := 0
	for ev := range h.orchestratorFor(c).Stream(c.Request.Context(), req) {
		if err := writeEvent(c.Writer, ev); err != nil {
			// Leaving the range closes the upstream stream
			h.logger.Debug("Client went away mid-stream",
				zap.String("request_id", c.GetString("request_id")),
				zap.Int("events_written", written),
				zap.Error(err),
			)
			return
		}
		written++
	}
}

func writeEvent(w gin.ResponseWriter, ev agent.Event) error {
	data, err := agent.EncodeEvent(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// Extract runs the extraction phase for a finished exchange
func (h *Handler) Extract(c *gin.Context) {
	var body extractBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, apperrors.NewValidation("body", err.Error()))
		return
	}

	resp, err := h.orchestratorFor(c).Knowledge().Extract(c.Request.Context(), agent.ExtractRequest{
		Message:     body.Message,
		Reply:       body.Reply,
		ThreadID:    body.ThreadID,
		NodeContext: body.NodeContext,
		Citations:   body.Citations,
		SessionID:   body.SessionID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetThreadGraph returns a thread with its nodes and edges
func (h *Handler) GetThreadGraph(c *gin.Context) {
	threadID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.respondError(c, apperrors.NewValidation("id", "must be an integer"))
		return
	}

	g, err := h.store.GetThreadGraph(c.Request.Context(), threadID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, g)
}

// GetChatSession returns the replay log of a chat session
func (h *Handler) GetChatSession(c *gin.Context) {
	sess, err := h.store.GetChatSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sess)
}

// orchestratorFor honours a per-request LLM key
func (h *Handler) orchestratorFor(c *gin.Context) *agent.Orchestrator {
	key := strings.TrimSpace(c.GetHeader(APIKeyHeader))
	if key == "" || h.llm == nil {
		return h.orch
	}
	return h.orch.WithLLM(h.llm.WithAPIKey(key))
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
