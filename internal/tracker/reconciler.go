package tracker

import (
	"time"

	"github.com/asheshgoplani/claude-status/internal/procinfo"
	"github.com/asheshgoplani/claude-status/internal/statedb"
)

// Mode selects how much a reconciliation pass is allowed to write.
type Mode int

const (
	// UpdateInfoOnly refreshes process-owned fields on existing runtime
	// rows and never touches state. Used from hook dispatch, where the hook
	// event itself owns the state transition.
	UpdateInfoOnly Mode = iota

	// DetectStates additionally infers working/idle from log activity and
	// creates runtime rows for newly observed processes. Used by the
	// periodic driver.
	DetectStates
)

// Reconciler binds live processes to sessions and keeps runtime rows current.
type Reconciler struct {
	threshold time.Duration
}

// NewReconciler returns a Reconciler using the given activity threshold for
// working detection. Zero means DefaultActivityThreshold.
func NewReconciler(activityThreshold time.Duration) *Reconciler {
	if activityThreshold <= 0 {
		activityThreshold = DefaultActivityThreshold
	}
	return &Reconciler{threshold: activityThreshold}
}

// Run performs one reconciliation over the process inventory and returns the
// set of session ids with a live process. Existing pid bindings are trusted
// over re-resolution, so an identity decided once sticks for the process's
// lifetime. The caller is responsible for stale cleanup with the returned
// set.
func (r *Reconciler) Run(tx *statedb.Tx, inv procinfo.Inventory, mode Mode) (map[string]bool, error) {
	pidMap, sessionIDs, err := tx.RuntimeBindings()
	if err != nil {
		return nil, err
	}

	live := make(map[string]bool)
	var leftover []procinfo.Process

	for _, proc := range inv.Processes() {
		sessionID, bound := pidMap[proc.PID]
		if !bound {
			sessionID, err = ResolveSession(tx, inv, proc)
			if err != nil {
				return nil, err
			}
		}
		if sessionID == "" {
			leftover = append(leftover, proc)
			continue
		}
		// In hook mode a resolution hint pointing at a session with no
		// runtime row may be stale: a resume search string can land on an
		// old sibling while the live session's hook-created row is still
		// pidless. Leave the process for the cwd matcher instead of
		// misattributing it.
		if mode == UpdateInfoOnly && !bound && !sessionIDs[sessionID] {
			leftover = append(leftover, proc)
			continue
		}

		if err := r.writeRuntime(tx, inv, sessionID, proc, mode); err != nil {
			if statedb.IsUnknownSession(err) {
				// Resolved to a session the catalog hasn't indexed yet.
				// The next scan will create it.
				log.Debug("runtime_write_skipped", "session", sessionID, "pid", proc.PID)
				continue
			}
			return nil, err
		}
		live[sessionID] = true
	}

	matched, err := r.matchPidlessRows(tx, inv, leftover, mode)
	if err != nil {
		return nil, err
	}
	for id := range matched {
		live[id] = true
	}

	return live, nil
}

// writeRuntime records one process against its session. In DetectStates mode
// the full row is written with an inferred state; a stored waiting state is
// sticky and survives an idle inference. In UpdateInfoOnly mode only the
// process fields of an existing row are refreshed.
func (r *Reconciler) writeRuntime(tx *statedb.Tx, inv procinfo.Inventory, sessionID string, proc procinfo.Process, mode Mode) error {
	info := r.processInfo(inv, sessionID, proc)

	if mode == UpdateInfoOnly {
		return tx.UpdateRuntimeProcessInfo(info)
	}

	state, lastActivity, err := detectState(tx, sessionID, r.threshold)
	if err != nil {
		return err
	}
	current, err := tx.RuntimeState(sessionID)
	if err != nil {
		return err
	}
	if current == statedb.StateWaiting && state != statedb.StateWorking {
		state = statedb.StateWaiting
	}

	row := statedb.RuntimeRow{
		SessionID:    sessionID,
		PID:          &info.PID,
		TmuxTarget:   info.TmuxTarget,
		TmuxSession:  info.TmuxSession,
		ResumeArg:    info.ResumeArg,
		State:        state,
		LastActivity: lastActivity,
	}
	if info.TTY != "" {
		row.TTY = &info.TTY
	}
	return tx.UpsertRuntimeFull(row)
}

// processInfo assembles the process-owned runtime fields. When the process
// tty is a tmux pane, the attached client's terminal replaces the pane PTY:
// that is the device a human can be told to switch to.
func (r *Reconciler) processInfo(inv procinfo.Inventory, sessionID string, proc procinfo.Process) statedb.ProcessInfo {
	info := statedb.ProcessInfo{
		SessionID: sessionID,
		PID:       proc.PID,
		TTY:       procinfo.ResolveTTYDevice(proc.TTY),
	}
	if proc.ResumeArg != "" {
		resume := proc.ResumeArg
		info.ResumeArg = &resume
	}

	if pane, ok := inv.Pane(info.TTY); ok {
		target, session := pane.Target, pane.Session
		info.TmuxTarget = &target
		if session != "" {
			info.TmuxSession = &session
			if client := inv.ClientTTY(session); client != "" {
				info.TTY = client
			}
		}
	}
	return info
}

// matchPidlessRows pairs runtime rows created by hooks before any process was
// observed (pid NULL) with the processes no strategy could resolve, comparing
// the process cwd against the session's stored directories. This closes the
// race where a hook fires for a brand-new session the catalog can't identify
// yet.
func (r *Reconciler) matchPidlessRows(tx *statedb.Tx, inv procinfo.Inventory, leftover []procinfo.Process, mode Mode) (map[string]bool, error) {
	matched := make(map[string]bool)
	if len(leftover) == 0 {
		return matched, nil
	}

	rows, err := tx.PidlessRuntime()
	if err != nil {
		return nil, err
	}

	used := make(map[int]bool)
	for _, row := range rows {
		for i, proc := range leftover {
			if used[i] {
				continue
			}
			cwd := inv.Cwd(proc.PID)
			if cwd == "" || (cwd != row.Cwd && cwd != row.ProjectPath) {
				continue
			}

			if err := tx.UpdateRuntimeProcessInfo(r.processInfo(inv, row.SessionID, proc)); err != nil {
				return nil, err
			}
			if mode == DetectStates {
				current, err := tx.RuntimeState(row.SessionID)
				if err != nil {
					return nil, err
				}
				if current != statedb.StateWaiting {
					state, lastActivity, err := detectState(tx, row.SessionID, r.threshold)
					if err != nil {
						return nil, err
					}
					if err := tx.UpsertRuntimeState(row.SessionID, state, lastActivity); err != nil {
						return nil, err
					}
				}
			}

			matched[row.SessionID] = true
			used[i] = true
			break
		}
	}
	return matched, nil
}
