package statedb

import (
	"database/sql"
	"fmt"
	"strings"
)

// RuntimeRow is the full live-process view for a session. A row's existence
// means "this session currently has a live process, or a hook recently
// asserted it does"; absence means not running.
type RuntimeRow struct {
	SessionID    string
	PID          *int
	TTY          *string
	TmuxTarget   *string
	TmuxSession  *string
	ResumeArg    *string
	State        string
	LastActivity *float64
}

// ProcessInfo is the process-owned subset of a runtime row. Writing it never
// touches state or last_activity; those belong to the hook/inference path.
type ProcessInfo struct {
	SessionID   string
	PID         int
	TTY         string
	TmuxTarget  *string
	TmuxSession *string
	ResumeArg   *string
}

// UpsertRuntimeFull replaces or inserts all runtime fields for a session.
// Fails with a referential error when the session doesn't exist and with
// ErrInvalidState for a state outside the enumerated set.
func (t *Tx) UpsertRuntimeFull(r RuntimeRow) error {
	if !ValidState(r.State) {
		return fmt.Errorf("%w: %q", ErrInvalidState, r.State)
	}
	_, err := t.tx.Exec(`
		INSERT OR REPLACE INTO runtime (
			session_id, pid, tty, tmux_target, tmux_session,
			resume_arg, state, last_activity, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.SessionID, r.PID, r.TTY, r.TmuxTarget, r.TmuxSession,
		r.ResumeArg, r.State, r.LastActivity, Now(),
	)
	if err != nil {
		return fmt.Errorf("statedb: upsert runtime %s: %w", r.SessionID, err)
	}
	return nil
}

// UpsertRuntimeState updates only state (and optionally last_activity) for a
// session, preserving pid/tty/tmux/resume_arg from the current row, or
// creating a minimal row when none exists. A nil lastActivity means "leave
// unchanged", not "clear".
func (t *Tx) UpsertRuntimeState(sessionID, state string, lastActivity *float64) error {
	if !ValidState(state) {
		return fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	_, err := t.tx.Exec(`
		INSERT INTO runtime (session_id, state, last_activity, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state         = excluded.state,
			last_activity = COALESCE(excluded.last_activity, runtime.last_activity),
			updated_at    = excluded.updated_at
	`, sessionID, state, lastActivity, Now())
	if err != nil {
		return fmt.Errorf("statedb: upsert runtime state %s: %w", sessionID, err)
	}
	return nil
}

// UpdateRuntimeProcessInfo updates only the process-owned fields. It is a
// no-op (not an insert) when the session has no runtime row.
func (t *Tx) UpdateRuntimeProcessInfo(p ProcessInfo) error {
	_, err := t.tx.Exec(`
		UPDATE runtime
		SET pid = ?, tty = ?, tmux_target = ?, tmux_session = ?,
		    resume_arg = ?, updated_at = ?
		WHERE session_id = ?
	`, p.PID, p.TTY, p.TmuxTarget, p.TmuxSession, p.ResumeArg, Now(), p.SessionID)
	if err != nil {
		return fmt.Errorf("statedb: update runtime info %s: %w", p.SessionID, err)
	}
	return nil
}

// DeleteRuntime removes the runtime row for a session, if any.
func (t *Tx) DeleteRuntime(sessionID string) error {
	_, err := t.tx.Exec("DELETE FROM runtime WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("statedb: delete runtime %s: %w", sessionID, err)
	}
	return nil
}

// RemoveStaleRuntime deletes every runtime row whose session id is not in
// keepIDs. An empty keepIDs deletes all rows: no live process was observed.
func (t *Tx) RemoveStaleRuntime(keepIDs map[string]bool) error {
	if len(keepIDs) == 0 {
		if _, err := t.tx.Exec("DELETE FROM runtime"); err != nil {
			return fmt.Errorf("statedb: clear runtime: %w", err)
		}
		return nil
	}
	placeholders := make([]string, 0, len(keepIDs))
	args := make([]any, 0, len(keepIDs))
	for id := range keepIDs {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	query := "DELETE FROM runtime WHERE session_id NOT IN (" +
		strings.Join(placeholders, ",") + ")"
	if _, err := t.tx.Exec(query, args...); err != nil {
		return fmt.Errorf("statedb: remove stale runtime: %w", err)
	}
	return nil
}

// RuntimeState returns the current state for a session, or "" when no
// runtime row exists.
func (t *Tx) RuntimeState(sessionID string) (string, error) {
	var state string
	err := t.tx.QueryRow(
		"SELECT state FROM runtime WHERE session_id = ?", sessionID,
	).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("statedb: runtime state %s: %w", sessionID, err)
	}
	return state, nil
}

// RuntimeBindings returns the existing pid → session_id map and the set of
// session ids that currently hold a runtime row.
func (t *Tx) RuntimeBindings() (pidMap map[int]string, sessionIDs map[string]bool, err error) {
	rows, err := t.tx.Query("SELECT session_id, pid FROM runtime")
	if err != nil {
		return nil, nil, fmt.Errorf("statedb: runtime bindings: %w", err)
	}
	defer rows.Close()

	pidMap = make(map[int]string)
	sessionIDs = make(map[string]bool)
	for rows.Next() {
		var id string
		var pid sql.NullInt64
		if err := rows.Scan(&id, &pid); err != nil {
			return nil, nil, fmt.Errorf("statedb: runtime bindings scan: %w", err)
		}
		sessionIDs[id] = true
		if pid.Valid {
			pidMap[int(pid.Int64)] = id
		}
	}
	return pidMap, sessionIDs, rows.Err()
}

// PidlessRow is a runtime row created by a hook before any scan observed its
// process, joined with the owning session's directory context.
type PidlessRow struct {
	SessionID   string
	Cwd         string
	ProjectPath string
}

// PidlessRuntime returns runtime rows with no pid yet.
func (t *Tx) PidlessRuntime() ([]PidlessRow, error) {
	rows, err := t.tx.Query(`
		SELECT r.session_id, s.cwd, s.project_path
		FROM runtime r
		JOIN sessions s ON r.session_id = s.session_id
		WHERE r.pid IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("statedb: pidless runtime: %w", err)
	}
	defer rows.Close()

	var result []PidlessRow
	for rows.Next() {
		var r PidlessRow
		var cwd, projectPath sql.NullString
		if err := rows.Scan(&r.SessionID, &cwd, &projectPath); err != nil {
			return nil, fmt.Errorf("statedb: pidless runtime scan: %w", err)
		}
		r.Cwd = cwd.String
		r.ProjectPath = projectPath.String
		result = append(result, r)
	}
	return result, rows.Err()
}

// RuntimeUpdatedSince returns session ids whose runtime row was written at
// or after the given timestamp (in the canonical storage format). The
// reconciler exempts these from stale cleanup: a hook wrote them during the
// current pass and the next pass will bind their process.
func (t *Tx) RuntimeUpdatedSince(since string) (map[string]bool, error) {
	rows, err := t.tx.Query(
		"SELECT session_id FROM runtime WHERE updated_at >= ?", since,
	)
	if err != nil {
		return nil, fmt.Errorf("statedb: runtime updated since: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("statedb: runtime updated since scan: %w", err)
		}
		result[id] = true
	}
	return result, rows.Err()
}
