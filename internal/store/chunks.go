package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hearsay-labs/hearsay/internal/session"
)

// chunkNamespace seeds the deterministic chunk ids.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("hearsay.transcript_chunk"))

// ChunkID derives a stable id from the content tuple, so re-sending the same
// entry is a no-op rather than a duplicate row.
func ChunkID(sessionID string, e session.TranscriptEntry) uuid.UUID {
	return uuid.NewSHA1(chunkNamespace, []byte(sessionID+"|"+e.Signature()))
}

// writeChunks upserts every transcript entry; duplicates hit ON CONFLICT DO
// NOTHING and cost nothing.
func (s *Store) writeChunks(ctx context.Context, sessionID string, entries []session.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO transcript_chunks (id, session_id, speaker, body, ts, raw)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			ChunkID(sessionID, e), sessionID, string(e.Speaker), e.Text, e.Timestamp, e.Raw,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return nil
}

func (s *Store) readChunks(ctx context.Context, sessionID string) ([]session.TranscriptEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT speaker, body, ts, raw
		FROM transcript_chunks
		WHERE session_id = $1
		ORDER BY ts, created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var entries []session.TranscriptEntry
	for rows.Next() {
		var (
			speaker string
			e       session.TranscriptEntry
		)
		if err := rows.Scan(&speaker, &e.Text, &e.Timestamp, &e.Raw); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		e.Speaker = session.Speaker(speaker)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
