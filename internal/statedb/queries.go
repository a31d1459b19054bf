package statedb

import (
	"database/sql"
	"fmt"
)

// SessionView is a session joined with its runtime row (if any), as consumed
// by the listing/detail display. Runtime fields are nil for inactive
// sessions.
type SessionView struct {
	SessionID    string   `json:"session_id"`
	Slug         *string  `json:"slug,omitempty"`
	CustomTitle  *string  `json:"custom_title,omitempty"`
	ProjectPath  *string  `json:"project_path,omitempty"`
	ProjectDir   *string  `json:"project_dir,omitempty"`
	Cwd          *string  `json:"cwd,omitempty"`
	GitBranch    *string  `json:"git_branch,omitempty"`
	FirstPrompt  *string  `json:"first_prompt,omitempty"`
	MessageCount int      `json:"message_count"`
	IsSidechain  bool     `json:"is_sidechain"`
	CreatedAt    *string  `json:"created_at,omitempty"`
	ModifiedAt   *string  `json:"modified_at,omitempty"`
	PID          *int     `json:"pid,omitempty"`
	TTY          *string  `json:"tty,omitempty"`
	TmuxTarget   *string  `json:"tmux_target,omitempty"`
	TmuxSession  *string  `json:"tmux_session,omitempty"`
	ResumeArg    *string  `json:"resume_arg,omitempty"`
	State        *string  `json:"state,omitempty"`
	LastActivity *float64 `json:"last_activity,omitempty"`
}

// Title returns the best display name for the session.
func (v *SessionView) Title() string {
	if v.CustomTitle != nil && *v.CustomTitle != "" {
		return *v.CustomTitle
	}
	if v.Slug != nil && *v.Slug != "" {
		return *v.Slug
	}
	return v.SessionID
}

const sessionSelect = `
	SELECT s.session_id, s.slug, s.custom_title, s.project_path,
	       s.project_dir, s.cwd, s.git_branch, s.first_prompt,
	       s.message_count, s.is_sidechain, s.created_at, s.modified_at,
	       r.pid, r.tty, r.tmux_target, r.tmux_session,
	       r.resume_arg, r.state, r.last_activity
	FROM sessions s
`

func scanSessionView(rows interface{ Scan(...any) error }) (*SessionView, error) {
	v := &SessionView{}
	var messageCount sql.NullInt64
	var sidechain sql.NullInt64
	var pid sql.NullInt64
	if err := rows.Scan(
		&v.SessionID, &v.Slug, &v.CustomTitle, &v.ProjectPath,
		&v.ProjectDir, &v.Cwd, &v.GitBranch, &v.FirstPrompt,
		&messageCount, &sidechain, &v.CreatedAt, &v.ModifiedAt,
		&pid, &v.TTY, &v.TmuxTarget, &v.TmuxSession,
		&v.ResumeArg, &v.State, &v.LastActivity,
	); err != nil {
		return nil, err
	}
	v.MessageCount = int(messageCount.Int64)
	v.IsSidechain = sidechain.Int64 != 0
	if pid.Valid {
		p := int(pid.Int64)
		v.PID = &p
	}
	return v, nil
}

// ActiveSessions returns sessions that currently hold a runtime row, grouped
// by state name ascending (idle, waiting, working), then by recency.
func (s *StateDB) ActiveSessions() ([]*SessionView, error) {
	rows, err := s.db.Query(sessionSelect + `
		JOIN runtime r ON s.session_id = r.session_id
		ORDER BY r.state ASC, s.modified_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("statedb: active sessions: %w", err)
	}
	defer rows.Close()
	return collectViews(rows)
}

// AllSessions returns every session, optionally filtered by a project
// substring and/or a state ("inactive" selects sessions with no runtime
// row). Active sessions sort first.
func (s *StateDB) AllSessions(projectFilter, stateFilter string) ([]*SessionView, error) {
	query := sessionSelect + "LEFT JOIN runtime r ON s.session_id = r.session_id "
	var conditions []string
	var args []any
	if projectFilter != "" {
		conditions = append(conditions, "(s.project_path LIKE ? OR s.project_dir LIKE ?)")
		args = append(args, "%"+projectFilter+"%", "%"+projectFilter+"%")
	}
	switch {
	case stateFilter == "inactive":
		conditions = append(conditions, "r.state IS NULL")
	case stateFilter != "":
		conditions = append(conditions, "r.state = ?")
		args = append(args, stateFilter)
	}
	for i, c := range conditions {
		if i == 0 {
			query += "WHERE " + c + " "
		} else {
			query += "AND " + c + " "
		}
	}
	query += "ORDER BY COALESCE(r.state, 'zzz') ASC, s.modified_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("statedb: all sessions: %w", err)
	}
	defer rows.Close()
	return collectViews(rows)
}

// GetSession returns a single session by exact id, falling back to the
// most-recently-modified session whose id starts with the given prefix.
func (s *StateDB) GetSession(idOrPrefix string) (*SessionView, error) {
	base := sessionSelect + "LEFT JOIN runtime r ON s.session_id = r.session_id "

	row := s.db.QueryRow(base+"WHERE s.session_id = ?", idOrPrefix)
	v, err := scanSessionView(row)
	if err == nil {
		return v, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("statedb: get session %s: %w", idOrPrefix, err)
	}

	row = s.db.QueryRow(
		base+"WHERE s.session_id LIKE ? ORDER BY s.modified_at DESC LIMIT 1",
		idOrPrefix+"%",
	)
	v, err = scanSessionView(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: get session %s: %w", idOrPrefix, err)
	}
	return v, nil
}

func collectViews(rows *sql.Rows) ([]*SessionView, error) {
	var result []*SessionView
	for rows.Next() {
		v, err := scanSessionView(rows)
		if err != nil {
			return nil, fmt.Errorf("statedb: scan session view: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}
