package db

import (
	"context"
	"database/sql"

	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// CreateSession stores a new, unidentified or identified session
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sessions (id, engineer_id, created_at, last_access)
		VALUES (?, ?, ?, ?)
	`, sess.ID, nullString(sess.EngineerID), sess.CreatedAt, sess.LastAccess)
	return wrapDBError("creating session", err)
}

// GetSession returns a session by id
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var (
		sess     types.Session
		engineer sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, engineer_id, created_at, last_access FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &engineer, &sess.CreatedAt, &sess.LastAccess)
	if err != nil {
		return nil, wrapDBError("getting session "+id, err)
	}
	sess.EngineerID = engineer.String
	return &sess, nil
}

// SetSessionEngineer binds a session to an engineer
func (s *Store) SetSessionEngineer(ctx context.Context, id, engineerID string, at int64) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE sessions SET engineer_id = ?, last_access = ? WHERE id = ?
	`, nullString(engineerID), at, id)
	if err != nil {
		return wrapDBError("identifying session "+id, err)
	}
	return requireRow(res, "identifying session "+id)
}

// TouchSession records activity on a session
func (s *Store) TouchSession(ctx context.Context, id string, at int64) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE sessions SET last_access = ? WHERE id = ?`, at, id)
	if err != nil {
		return wrapDBError("touching session "+id, err)
	}
	return requireRow(res, "touching session "+id)
}

// DeleteSession removes a session
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return wrapDBError("deleting session "+id, err)
}

// ListSessionsByEngineers returns identified sessions of the given engineers
func (s *Store) ListSessionsByEngineers(ctx context.Context, engineerIDs []string) ([]types.SessionRef, error) {
	if len(engineerIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(engineerIDs))
	for i, id := range engineerIDs {
		args[i] = id
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, engineer_id FROM sessions
		WHERE engineer_id IN (`+placeholders(len(engineerIDs))+`)
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, wrapDBError("listing sessions", err)
	}
	defer rows.Close()

	var refs []types.SessionRef
	for rows.Next() {
		var ref types.SessionRef
		if err := rows.Scan(&ref.SessionID, &ref.EngineerID); err != nil {
			return nil, wrapDBError("scanning session", err)
		}
		refs = append(refs, ref)
	}
	return refs, wrapDBError("iterating sessions", rows.Err())
}

// PurgeSessions removes unidentified sessions and sessions idle since before cutoff
func (s *Store) PurgeSessions(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM sessions WHERE engineer_id IS NULL OR last_access < ?
	`, cutoff)
	if err != nil {
		return 0, wrapDBError("purging sessions", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("reading affected rows", err)
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError(op, err)
	}
	if n == 0 {
		return wrapDBError(op, sql.ErrNoRows)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
