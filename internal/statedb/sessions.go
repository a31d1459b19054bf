package statedb

import (
	"database/sql"
	"fmt"
)

// SessionPatch is a partial session row. Nil fields are absent: the upsert
// leaves the stored value untouched for them. This merge-on-absent policy is
// what lets the index scan, the JSONL scan, and hook events each own a
// different subset of fields without clobbering one another.
type SessionPatch struct {
	SessionID    string
	Slug         *string
	CustomTitle  *string
	ProjectPath  *string
	ProjectDir   *string
	Cwd          *string
	GitBranch    *string
	FirstPrompt  *string
	MessageCount *int
	IsSidechain  *bool
	JSONLPath    *string
	JSONLMtime   *float64
	CreatedAt    *string
	ModifiedAt   *string
}

// UpsertSession inserts a new session or merges the patch into an existing
// one. Present fields overwrite, absent fields are preserved via COALESCE,
// and updated_at always advances.
func (t *Tx) UpsertSession(p SessionPatch) error {
	if p.SessionID == "" {
		return fmt.Errorf("statedb: upsert session: empty session_id")
	}

	var sidechain *int
	if p.IsSidechain != nil {
		v := 0
		if *p.IsSidechain {
			v = 1
		}
		sidechain = &v
	}

	_, err := t.tx.Exec(`
		INSERT INTO sessions (
			session_id, slug, custom_title, project_path, project_dir,
			cwd, git_branch, first_prompt, message_count, is_sidechain,
			jsonl_path, jsonl_mtime, created_at, modified_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			slug          = COALESCE(excluded.slug, sessions.slug),
			custom_title  = COALESCE(excluded.custom_title, sessions.custom_title),
			project_path  = COALESCE(excluded.project_path, sessions.project_path),
			project_dir   = COALESCE(excluded.project_dir, sessions.project_dir),
			cwd           = COALESCE(excluded.cwd, sessions.cwd),
			git_branch    = COALESCE(excluded.git_branch, sessions.git_branch),
			first_prompt  = COALESCE(excluded.first_prompt, sessions.first_prompt),
			message_count = COALESCE(excluded.message_count, sessions.message_count),
			is_sidechain  = COALESCE(excluded.is_sidechain, sessions.is_sidechain),
			jsonl_path    = COALESCE(excluded.jsonl_path, sessions.jsonl_path),
			jsonl_mtime   = COALESCE(excluded.jsonl_mtime, sessions.jsonl_mtime),
			created_at    = COALESCE(excluded.created_at, sessions.created_at),
			modified_at   = COALESCE(excluded.modified_at, sessions.modified_at),
			updated_at    = excluded.updated_at
	`,
		p.SessionID, p.Slug, p.CustomTitle, p.ProjectPath, p.ProjectDir,
		p.Cwd, p.GitBranch, p.FirstPrompt, p.MessageCount, sidechain,
		p.JSONLPath, p.JSONLMtime, p.CreatedAt, p.ModifiedAt, Now(),
	)
	if err != nil {
		return fmt.Errorf("statedb: upsert session %s: %w", p.SessionID, err)
	}
	return nil
}

// SessionJSONLMtime returns the stored jsonl_mtime for a session. ok is
// false when the session is unknown or has no recorded mtime.
func (t *Tx) SessionJSONLMtime(sessionID string) (mtime float64, ok bool, err error) {
	var v sql.NullFloat64
	err = t.tx.QueryRow(
		"SELECT jsonl_mtime FROM sessions WHERE session_id = ?", sessionID,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("statedb: session mtime %s: %w", sessionID, err)
	}
	return v.Float64, v.Valid, nil
}

// SessionJSONLPath returns the stored jsonl_path for a session, or "".
func (t *Tx) SessionJSONLPath(sessionID string) (string, error) {
	var v sql.NullString
	err := t.tx.QueryRow(
		"SELECT jsonl_path FROM sessions WHERE session_id = ?", sessionID,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("statedb: session jsonl path %s: %w", sessionID, err)
	}
	return v.String, nil
}

// PropagateTitles copies custom_title onto titleless sessions that share a
// slug with a titled sibling, taking the most-recently-modified sibling's
// title. Claude Code continuation sessions (after compaction) reuse the slug
// but carry no fresh custom-title entry.
func (t *Tx) PropagateTitles() error {
	_, err := t.tx.Exec(`
		UPDATE sessions
		SET custom_title = (
			SELECT s2.custom_title
			FROM sessions s2
			WHERE s2.slug = sessions.slug
			  AND s2.custom_title IS NOT NULL
			ORDER BY s2.modified_at DESC
			LIMIT 1
		)
		WHERE custom_title IS NULL
		  AND slug IS NOT NULL
		  AND EXISTS (
			SELECT 1 FROM sessions s2
			WHERE s2.slug = sessions.slug
			  AND s2.custom_title IS NOT NULL
		  )
	`)
	if err != nil {
		return fmt.Errorf("statedb: propagate titles: %w", err)
	}
	return nil
}

// InheritTitleFromCwd copies custom_title and project fields from the
// most-recently-modified titled session sharing the given cwd. Used on
// SessionStart so a post-/clear session is displayable before the next scan.
func (t *Tx) InheritTitleFromCwd(sessionID, cwd string) error {
	var title, projectPath, projectDir sql.NullString
	err := t.tx.QueryRow(`
		SELECT custom_title, project_path, project_dir
		FROM sessions
		WHERE (cwd = ? OR project_path = ?)
		  AND session_id != ?
		  AND custom_title IS NOT NULL
		ORDER BY modified_at DESC LIMIT 1
	`, cwd, cwd, sessionID).Scan(&title, &projectPath, &projectDir)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("statedb: inherit title %s: %w", sessionID, err)
	}

	patch := SessionPatch{SessionID: sessionID}
	if title.Valid {
		patch.CustomTitle = &title.String
	}
	if projectPath.Valid {
		patch.ProjectPath = &projectPath.String
	}
	if projectDir.Valid {
		patch.ProjectDir = &projectDir.String
	}
	return t.UpsertSession(patch)
}

// SessionMatch is a minimal resolver result.
type SessionMatch struct {
	SessionID string
	Slug      string
}

// MatchTitleOrSlug finds the most-recently-modified session whose
// custom_title or slug matches arg, exactly or (when exact is false) as a
// substring.
func (t *Tx) MatchTitleOrSlug(arg string, exact bool) (*SessionMatch, error) {
	op := "="
	pattern := arg
	if !exact {
		op = "LIKE"
		pattern = "%" + arg + "%"
	}
	var id string
	var slug sql.NullString
	err := t.tx.QueryRow(fmt.Sprintf(`
		SELECT session_id, slug FROM sessions
		WHERE custom_title %s ? OR slug %s ?
		ORDER BY modified_at DESC LIMIT 1
	`, op, op), pattern, pattern).Scan(&id, &slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: match title/slug: %w", err)
	}
	return &SessionMatch{SessionID: id, Slug: slug.String}, nil
}

// NewestSessionBySlug returns the most-recently-modified session with the
// given slug, or "" when none exists.
func (t *Tx) NewestSessionBySlug(slug string) (string, error) {
	var id string
	err := t.tx.QueryRow(`
		SELECT session_id FROM sessions
		WHERE slug = ?
		ORDER BY modified_at DESC LIMIT 1
	`, slug).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("statedb: newest by slug: %w", err)
	}
	return id, nil
}

// NewestSessionByCwd returns the most-recently-modified session whose
// project_path or cwd equals dir, or "" when none exists.
func (t *Tx) NewestSessionByCwd(dir string) (string, error) {
	var id string
	err := t.tx.QueryRow(`
		SELECT session_id FROM sessions
		WHERE project_path = ? OR cwd = ?
		ORDER BY modified_at DESC LIMIT 1
	`, dir, dir).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("statedb: newest by cwd: %w", err)
	}
	return id, nil
}
