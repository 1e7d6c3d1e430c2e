package graph

import (
	"context"
	"fmt"
	"time"

	apperrors "threadnote/backend/pkg/errors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ============================================================================
// Chat Session Operations
// ============================================================================

// AppendChatTurns appends turns to a chat session, creating the session and
// linking it to its thread on first use
func (r *Repository) AppendChatTurns(ctx context.Context, sessionID string, threadID int64, title string, turns []ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}

	now := formatTime(time.Now())

	rows := make([]map[string]interface{}, 0, len(turns))
	for _, t := range turns {
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		ids := t.CreatedNodeIDs
		if ids == nil {
			ids = []int64{}
		}
		rows = append(rows, map[string]interface{}{
			"role":             t.Role,
			"content":          t.Content,
			"citations":        citationsJSON(t.Citations),
			"created_node_ids": ids,
			"created_at":       formatTime(createdAt),
		})
	}

	// The SET write-locks the session before turn_count is read, so
	// concurrent appends to one session get distinct seq values
	query := `
		MERGE (s:ChatSession {id: $sessionID})
		ON CREATE SET s.title = $title, s.created_at = datetime($now), s.turn_count = 0
		SET s.updated_at = datetime($now), s.thread_id = $threadID

		WITH s
		OPTIONAL MATCH (t:Thread {id: $threadID})
		FOREACH (ignored IN CASE WHEN t IS NULL THEN [] ELSE [1] END |
			MERGE (t)-[:HAS_SESSION]->(s)
		)

		WITH s, s.turn_count AS base
		UNWIND range(0, size($turns) - 1) AS i
		WITH s, base, i, $turns[i] AS turn
		CREATE (m:ChatTurn {
			seq: base + i,
			role: turn.role,
			content: turn.content,
			citations: turn.citations,
			created_node_ids: turn.created_node_ids,
			created_at: datetime(turn.created_at)
		})
		CREATE (s)-[:HAS_TURN]->(m)

		WITH s, base, count(m) AS added
		SET s.turn_count = base + added
	`

	err := r.runWrite(ctx, query, map[string]interface{}{
		"sessionID": sessionID,
		"threadID":  threadID,
		"title":     title,
		"now":       now,
		"turns":     rows,
	})
	if err != nil {
		return apperrors.NewGraphQueryFailed("append chat turns", fmt.Errorf("session %s: %w", sessionID, err))
	}

	return nil
}

// GetChatSession retrieves a chat session with its turns in order
func (r *Repository) GetChatSession(ctx context.Context, sessionID string) (*ChatSession, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (s:ChatSession {id: $sessionID})
		OPTIONAL MATCH (s)-[:HAS_TURN]->(m:ChatTurn)
		WITH s, m ORDER BY m.seq
		RETURN s.id AS id, s.title AS title, s.thread_id AS thread_id,
		       s.created_at AS created_at, s.updated_at AS updated_at,
		       collect(m {.role, .content, .citations, .created_node_ids, .created_at}) AS turns
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"sessionID": sessionID,
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get chat session", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, apperrors.NewGraphQueryFailed("get chat session", err)
		}
		return nil, apperrors.NewNotFound("chat session", sessionID)
	}

	record := result.Record()
	cs := &ChatSession{
		ID:        getStringFromRecord(record, "id"),
		Title:     getStringFromRecord(record, "title"),
		ThreadID:  getInt64FromRecord(record, "thread_id"),
		CreatedAt: getTimeFromRecord(record, "created_at"),
		UpdatedAt: getTimeFromRecord(record, "updated_at"),
		Turns:     []ChatTurn{},
	}

	if raw, ok := record.Get("turns"); ok {
		if list, ok := raw.([]interface{}); ok {
			for _, item := range list {
				m, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				cs.Turns = append(cs.Turns, ChatTurn{
					Role:           getStringFromMap(m, "role"),
					Content:        getStringFromMap(m, "content"),
					Citations:      parseCitations(getStringFromMap(m, "citations")),
					CreatedNodeIDs: getInt64SliceFromMap(m, "created_node_ids"),
					CreatedAt:      toTime(m["created_at"]),
				})
			}
		}
	}

	return cs, nil
}
