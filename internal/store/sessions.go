package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hearsay-labs/hearsay/internal/metrics"
	"github.com/hearsay-labs/hearsay/internal/session"
)

// Save persists the session by natural key and writes through to the cache.
// A Postgres outage is a durability risk, not an operation failure: the
// cache still gets the update, a warning is logged and nil is returned.
func (s *Store) Save(ctx context.Context, sess *session.InterviewSession) error {
	sess.UpdatedAt = time.Now().UTC()

	if err := s.persist(ctx, sess); err != nil {
		s.logger.Warn("session persist failed, keeping in-memory copy", "session_id", sess.ID, "error", err)
		metrics.StoreWarnings.Inc()
	}
	s.cache.Put(sess)
	return nil
}

// SaveAsync submits the write without awaiting it. The cache is updated
// immediately so in-process reads see the new state; the Postgres write is
// best-effort.
func (s *Store) SaveAsync(sess *session.InterviewSession) {
	sess.UpdatedAt = time.Now().UTC()
	s.cache.Put(sess)

	snapshot := sess.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.persist(ctx, snapshot); err != nil {
			s.logger.Warn("async session persist failed", "session_id", snapshot.ID, "error", err)
			metrics.StoreWarnings.Inc()
		}
	}()
}

// persist writes the session row and its transcript chunks. An
// undefined-column error triggers one schema extension followed by exactly
// one retry.
func (s *Store) persist(ctx context.Context, sess *session.InterviewSession) error {
	err := s.writeSession(ctx, sess)
	if isUndefinedColumn(err) {
		s.logger.Info("schema missing column, extending", "session_id", sess.ID)
		if extErr := s.extendSchema(ctx); extErr != nil {
			return extErr
		}
		err = s.writeSession(ctx, sess)
	}
	if err != nil {
		return err
	}
	return s.writeChunks(ctx, sess.ID, sess.Transcript)
}

func (s *Store) writeSession(ctx context.Context, sess *session.InterviewSession) error {
	summary, err := marshalNullable(sess.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	profile, err := marshalNullable(sess.Profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, goal, audience, planned_minutes, status, agent_id, call_id,
			summary, profile, created_at, updated_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			goal = EXCLUDED.goal,
			audience = EXCLUDED.audience,
			planned_minutes = EXCLUDED.planned_minutes,
			status = EXCLUDED.status,
			agent_id = EXCLUDED.agent_id,
			call_id = EXCLUDED.call_id,
			summary = EXCLUDED.summary,
			profile = EXCLUDED.profile,
			updated_at = EXCLUDED.updated_at,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at`,
		sess.ID, sess.Goal, sess.Audience, sess.PlannedMinutes, string(sess.Status),
		sess.AgentID, sess.CallID, summary, profile,
		sess.CreatedAt, sess.UpdatedAt, sess.StartedAt, sess.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Get loads a session, reading through to Postgres and falling back to the
// cache when the database is unreachable.
func (s *Store) Get(ctx context.Context, id string) (*session.InterviewSession, error) {
	sess, err := s.readSession(ctx, id)
	if err == nil {
		s.cache.Put(sess)
		return sess, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// The session may exist only in memory if persistence has been
		// degraded since it was created.
		if cached, ok := s.cache.Get(id); ok {
			return cached, nil
		}
		return nil, ErrNotFound
	}

	s.logger.Warn("session read failed, trying cache", "session_id", id, "error", err)
	if cached, ok := s.cache.Get(id); ok {
		return cached, nil
	}
	return nil, fmt.Errorf("read session %s: %w", id, err)
}

func (s *Store) readSession(ctx context.Context, id string) (*session.InterviewSession, error) {
	var (
		sess        session.InterviewSession
		status      string
		summaryJSON []byte
		profileJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, goal, audience, planned_minutes, status, agent_id, call_id,
			summary, profile, created_at, updated_at, started_at, ended_at
		FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.Goal, &sess.Audience, &sess.PlannedMinutes, &status,
		&sess.AgentID, &sess.CallID, &summaryJSON, &profileJSON,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.StartedAt, &sess.EndedAt)
	if err != nil {
		return nil, err
	}
	sess.Status = session.Status(status)

	if len(summaryJSON) > 0 {
		var sum session.Summary
		if err := json.Unmarshal(summaryJSON, &sum); err == nil {
			sess.Summary = &sum
		}
	}
	if len(profileJSON) > 0 {
		var prof session.PsychometricProfile
		if err := json.Unmarshal(profileJSON, &prof); err == nil {
			sess.Profile = &prof
		}
	}

	transcript, err := s.readChunks(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Transcript = transcript
	return &sess, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case *session.Summary:
		if t == nil {
			return nil, nil
		}
	case *session.PsychometricProfile:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
