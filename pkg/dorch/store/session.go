package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dorch-network/dorch/pkg/util"
)

const sessionColumns = `session_id, user_id, graph_id, graph_name, status,
	started_at, last_update, error, ended, description`

func scanSession(row interface {
	Scan(dest ...interface{}) error
}) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.GraphID, &sess.GraphName,
		&sess.Status, &sess.StartedAt, &sess.LastUpdate, &sess.Error,
		&sess.Ended, &sess.Description)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// NewSessionID allocates a session id no stored session uses yet.
func (s *Store) NewSessionID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 8; attempt++ {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM graph_session WHERE session_id = ?`, id).Scan(&one)
		if noRows(err) {
			return id, nil
		}
		if err != nil {
			return "", util.NewStorageError("allocate session id", err)
		}
	}
	return "", util.NewStorageError("allocate session id",
		errors.New("identifier space exhausted"))
}

// GraphIDExists reports whether any session, of any user and in any
// state, ever carried the given graph id. Fresh id allocation checks
// this to keep graph ids unique across the whole store.
func (s *Store) GraphIDExists(ctx context.Context, graphID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM graph_session WHERE graph_id = ? LIMIT 1`, graphID).Scan(&one)
	if noRows(err) {
		return false, nil
	}
	if err != nil {
		return false, util.NewStorageError("check graph id", err)
	}
	return true, nil
}

// ActiveSession returns the newest not-ended session of the user for the
// given graph id, or nil when none exists. With errorAware set, sessions
// that recorded an error are skipped as well; deployment reads use that
// so a failed predecessor does not masquerade as deployed state.
func (s *Store) ActiveSession(ctx context.Context, userID, graphID string, errorAware bool) (*Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM graph_session
		WHERE user_id = ? AND graph_id = ? AND ended IS NULL`
	if errorAware {
		q += ` AND error IS NULL`
	}
	q += ` ORDER BY started_at DESC LIMIT 1`

	sess, err := scanSession(s.db.QueryRowContext(ctx, q, userID, graphID))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewStorageError("load session", err)
	}
	return sess, nil
}

// ActiveSessions returns every live session of the user, newest first.
func (s *Store) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM graph_session
		WHERE user_id = ? AND ended IS NULL AND error IS NULL
		ORDER BY started_at DESC`, userID)
	if err != nil {
		return nil, util.NewStorageError("list sessions", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, util.NewStorageError("list sessions", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, util.NewStorageError("list sessions", err)
	}
	return sessions, nil
}

// UpdateStatus sets the session status and bumps last_update.
func (s *Store) UpdateStatus(ctx context.Context, sessionID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE graph_session SET status = ?, last_update = ? WHERE session_id = ?`,
		status, time.Now().UTC(), sessionID)
	return storageError("update session status", err)
}

// UpdateError marks the session failed. The error timestamp makes the
// session invisible to error-aware lookups while keeping it inspectable.
func (s *Store) UpdateError(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE graph_session SET status = ?, error = ?, last_update = ? WHERE session_id = ?`,
		SessionError, now, now, sessionID)
	return storageError("mark session failed", err)
}

// UpdateEnded closes the session after a successful delete.
func (s *Store) UpdateEnded(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE graph_session SET status = ?, ended = ?, last_update = ? WHERE session_id = ?`,
		SessionDeleted, now, now, sessionID)
	return storageError("mark session ended", err)
}

// FlowRuleProgress reports how much of the session's graph reached the
// data plane: the percentage of graph flow rules that have at least one
// external realisation.
func (s *Store) FlowRuleProgress(ctx context.Context, sessionID string) (int, error) {
	percent := 0
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		total, err := count(ctx, tx,
			`SELECT COUNT(*) FROM flow_rule WHERE session_id = ? AND type != ?`,
			sessionID, FlowRuleExternal)
		if err != nil {
			return err
		}
		if total == 0 {
			return nil
		}
		realised, err := count(ctx, tx,
			`SELECT COUNT(*) FROM flow_rule l
			WHERE l.session_id = ? AND l.type != ? AND EXISTS (
				SELECT 1 FROM flow_rule e
				WHERE e.session_id = l.session_id
				AND e.graph_flow_rule_id = l.graph_flow_rule_id
				AND e.type = ?)`,
			sessionID, FlowRuleExternal, FlowRuleExternal)
		if err != nil {
			return err
		}
		percent = realised * 100 / total
		return nil
	})
	if err != nil {
		return 0, util.NewStorageError("compute progress", err)
	}
	return percent, nil
}
