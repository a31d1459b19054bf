// Package tracker binds running processes to catalog sessions and keeps
// runtime state current: identity resolution, process/tmux reconciliation,
// JSONL-based activity inference, and the hook event state machine.
package tracker

import (
	"github.com/google/uuid"

	"github.com/asheshgoplani/claude-status/internal/logging"
	"github.com/asheshgoplani/claude-status/internal/procinfo"
	"github.com/asheshgoplani/claude-status/internal/statedb"
)

var log = logging.ForComponent(logging.CompTracker)

// resolveFunc is one identity-resolution strategy. It returns "" when the
// strategy does not apply or finds no match.
type resolveFunc func(tx *statedb.Tx, inv procinfo.Inventory, proc procinfo.Process) (string, error)

// Strategies are tried in order; the first non-empty result wins.
var resolveStrategies = []resolveFunc{
	resolveByID,
	resolveByTitle,
	resolveByCwd,
}

// ResolveSession maps a process to a session id, or "" when the process
// cannot be identified this cycle.
func ResolveSession(tx *statedb.Tx, inv procinfo.Inventory, proc procinfo.Process) (string, error) {
	for _, strategy := range resolveStrategies {
		id, err := strategy(tx, inv, proc)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	return "", nil
}

// resolveByID trusts a UUID resume argument as the session id directly, even
// when the catalog has not indexed that session yet.
func resolveByID(_ *statedb.Tx, _ procinfo.Inventory, proc procinfo.Process) (string, error) {
	if proc.ResumeArg == "" {
		return "", nil
	}
	if _, err := uuid.Parse(proc.ResumeArg); err != nil {
		return "", nil
	}
	return proc.ResumeArg, nil
}

// resolveByTitle treats a non-UUID resume argument as a search string over
// custom titles and slugs, exact match first, then substring. A hit carrying
// a slug re-resolves to the newest session sharing that slug: after a rename,
// the search lands on an older sibling, but the live process is always the
// most recent continuation.
func resolveByTitle(tx *statedb.Tx, _ procinfo.Inventory, proc procinfo.Process) (string, error) {
	if proc.ResumeArg == "" {
		return "", nil
	}

	match, err := tx.MatchTitleOrSlug(proc.ResumeArg, true)
	if err != nil {
		return "", err
	}
	if match == nil {
		match, err = tx.MatchTitleOrSlug(proc.ResumeArg, false)
		if err != nil {
			return "", err
		}
	}
	if match == nil {
		return "", nil
	}

	if match.Slug != "" {
		newest, err := tx.NewestSessionBySlug(match.Slug)
		if err != nil {
			return "", err
		}
		if newest != "" {
			return newest, nil
		}
	}
	return match.SessionID, nil
}

// resolveByCwd matches a bare (no resume argument) process by its working
// directory against stored project paths.
func resolveByCwd(tx *statedb.Tx, inv procinfo.Inventory, proc procinfo.Process) (string, error) {
	if proc.ResumeArg != "" {
		return "", nil
	}
	cwd := inv.Cwd(proc.PID)
	if cwd == "" {
		return "", nil
	}
	return tx.NewestSessionByCwd(cwd)
}
