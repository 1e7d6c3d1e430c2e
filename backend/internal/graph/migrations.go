package graph

import (
	"context"

	apperrors "threadnote/backend/pkg/errors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// SchemaVersion names the schema EnsureSchema produces
const SchemaVersion = "threads_v1"

// MigrationApplied reports whether a Migration marker for version exists
func (r *Repository) MigrationApplied(ctx context.Context, version string) (bool, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (m:Migration {version: $version})
		RETURN m.applied_at AS applied_at
	`

	result, err := session.Run(ctx, query, map[string]interface{}{"version": version})
	if err != nil {
		return false, apperrors.NewGraphQueryFailed("check migration", err)
	}
	applied := result.Next(ctx)
	if err := result.Err(); err != nil {
		return false, apperrors.NewGraphQueryFailed("check migration", err)
	}
	return applied, nil
}

// MarkMigrationApplied records that version has been applied
func (r *Repository) MarkMigrationApplied(ctx context.Context, version, description string) error {
	query := `
		MERGE (m:Migration {version: $version})
		SET m.applied_at = datetime(),
		    m.description = $description
	`

	err := r.runWrite(ctx, query, map[string]interface{}{
		"version":     version,
		"description": description,
	})
	if err != nil {
		return apperrors.NewGraphQueryFailed("mark migration", err)
	}
	return nil
}

// Reset deletes every thread, node, chat session, counter and migration
// marker. Constraints and indexes are kept.
func (r *Repository) Reset(ctx context.Context) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		MATCH (n)
		WHERE n:Thread OR n:Node OR n:ChatSession OR n:ChatTurn OR n:Counter OR n:Migration
		DETACH DELETE n
		RETURN count(n) AS deleted
	`

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return apperrors.NewGraphQueryFailed("reset", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return apperrors.NewGraphQueryFailed("reset", err)
	}
	r.logger.Warn("Graph data deleted", zap.Int64("nodes", getInt64FromRecord(record, "deleted")))
	return nil
}
