package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/godel/internal/lifecycle"
)

// SaveTransition appends t to the agent's history and makes t.To its
// current state. History is append-only.
func (s *SQLiteStore) SaveTransition(ctx context.Context, agentID string, t lifecycle.Transition) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (id, state, since)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			since = excluded.since
	`, agentID, t.To.String(), nanos(t.At))
	if err != nil {
		return fmt.Errorf("failed to save agent %s: %w", agentID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_transitions (agent_id, from_state, to_state, reason, forced, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, agentID, t.From.String(), t.To.String(), t.Reason, boolInt(t.Forced), nanos(t.At))
	if err != nil {
		return fmt.Errorf("failed to save transition for %s: %w", agentID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Agents returns the last known state of every agent, ordered by id.
func (s *SQLiteStore) Agents(ctx context.Context) ([]AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, state, since FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	agents := []AgentRecord{}
	for rows.Next() {
		var rec AgentRecord
		var state string
		var since int64
		if err := rows.Scan(&rec.ID, &state, &since); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		if rec.State, err = lifecycle.ParseState(state); err != nil {
			return nil, fmt.Errorf("agent %s: %w", rec.ID, err)
		}
		rec.Since = fromNanos(since)
		agents = append(agents, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

// History returns an agent's transitions in the order they were applied.
// Returns empty slice (not nil) if no history exists.
func (s *SQLiteStore) History(ctx context.Context, agentID string) ([]lifecycle.Transition, error) {
	// at ASC, id ASC keeps insertion order for equal timestamps
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_state, to_state, reason, forced, at
		FROM agent_transitions
		WHERE agent_id = ?
		ORDER BY at ASC, id ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []lifecycle.Transition{}
	for rows.Next() {
		var from, to string
		var forced int
		var at int64
		var t lifecycle.Transition
		if err := rows.Scan(&from, &to, &t.Reason, &forced, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		if t.From, err = lifecycle.ParseState(from); err != nil {
			return nil, err
		}
		if t.To, err = lifecycle.ParseState(to); err != nil {
			return nil, err
		}
		t.Forced = forced != 0
		t.At = fromNanos(at)
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return history, nil
}
