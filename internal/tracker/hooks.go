package tracker

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/asheshgoplani/claude-status/internal/procinfo"
	"github.com/asheshgoplani/claude-status/internal/scanner"
	"github.com/asheshgoplani/claude-status/internal/statedb"
)

// Hook event names as Claude Code emits them.
const (
	EventSessionStart      = "SessionStart"
	EventUserPromptSubmit  = "UserPromptSubmit"
	EventPreToolUse        = "PreToolUse"
	EventPostToolUse       = "PostToolUse"
	EventTaskCompleted     = "TaskCompleted"
	EventPermissionRequest = "PermissionRequest"
	EventStop              = "Stop"
	EventNotification      = "Notification"
	EventSessionEnd        = "SessionEnd"
)

// lastScanKey is the meta key holding the unix time of the last hook-driven
// full scan, used for throttling.
const lastScanKey = "last_scan"

// scanThrottle is the minimum gap between hook-driven full scans. Two
// near-simultaneous dispatches may both pass the check and scan twice; that
// is redundant work, not a correctness problem, so no locking.
const scanThrottle = time.Second

// HookPayload is the JSON Claude Code pipes to hook commands. Only the fields
// the state machine needs are decoded.
type HookPayload struct {
	EventName        string `json:"hook_event_name"`
	SessionID        string `json:"session_id"`
	Cwd              string `json:"cwd"`
	NotificationType string `json:"notification_type"`
}

// HookDispatcher applies hook events to the store and runs throttled catalog
// refreshes.
type HookDispatcher struct {
	db      *statedb.StateDB
	scanner *scanner.Scanner
	rec     *Reconciler

	// collect is swappable in tests.
	collect func(ctx context.Context) procinfo.Inventory
}

// NewHookDispatcher wires a dispatcher over the store and catalog scanner.
func NewHookDispatcher(db *statedb.StateDB, sc *scanner.Scanner, rec *Reconciler) *HookDispatcher {
	return &HookDispatcher{
		db:      db,
		scanner: sc,
		rec:     rec,
		collect: func(ctx context.Context) procinfo.Inventory {
			return procinfo.Collect(ctx)
		},
	}
}

// Dispatch decodes a hook payload and applies its state transition, then runs
// a throttled full scan. Returns whether anything observable changed. A
// payload without a session id is a no-op.
func (d *HookDispatcher) Dispatch(ctx context.Context, payload []byte) (bool, error) {
	var p HookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return false, nil
	}
	if p.SessionID == "" {
		return false, nil
	}

	changed := false
	err := d.db.WithTx(func(tx *statedb.Tx) error {
		var err error
		changed, err = applyEvent(tx, p)
		return err
	})
	if err != nil {
		return false, err
	}
	log.Debug("hook_event", "event", p.EventName, "session", p.SessionID, "changed", changed)

	if d.shouldScan(p.EventName) {
		if err := d.fullScan(ctx, p.SessionID); err != nil {
			log.Debug("hook_scan_failed", "error", err)
		}
	}
	return changed, nil
}

// applyEvent performs the per-event store update. changed reports an actual
// transition (or row creation/deletion), not merely a write: repeated
// identical events must not spam the change signal. Referential failures for
// runtime writes against unknown sessions are swallowed: the event raced the
// catalog, and the next scan resolves it.
func applyEvent(tx *statedb.Tx, p HookPayload) (bool, error) {
	prior, err := tx.RuntimeState(p.SessionID)
	if err != nil {
		return false, err
	}

	switch p.EventName {
	case EventSessionStart:
		patch := statedb.SessionPatch{SessionID: p.SessionID}
		if p.Cwd != "" {
			patch.Cwd = &p.Cwd
		}
		if err := tx.UpsertSession(patch); err != nil {
			return false, err
		}
		if err := tx.UpsertRuntimeState(p.SessionID, statedb.StateIdle, nil); err != nil {
			return false, err
		}
		if p.Cwd != "" {
			if err := tx.InheritTitleFromCwd(p.SessionID, p.Cwd); err != nil {
				return false, err
			}
		}
		return prior != statedb.StateIdle, nil

	case EventUserPromptSubmit, EventPreToolUse, EventPostToolUse, EventTaskCompleted:
		patch := statedb.SessionPatch{SessionID: p.SessionID}
		if p.Cwd != "" {
			patch.Cwd = &p.Cwd
		}
		if err := tx.UpsertSession(patch); err != nil {
			return false, err
		}
		// last_activity advances even without a transition.
		now := unixNow()
		if err := tx.UpsertRuntimeState(p.SessionID, statedb.StateWorking, &now); err != nil {
			return false, err
		}
		return prior != statedb.StateWorking, nil

	case EventPermissionRequest:
		return setWaiting(tx, p.SessionID, prior)

	case EventNotification:
		if p.NotificationType != "permission_prompt" && p.NotificationType != "elicitation_dialog" {
			return false, nil
		}
		return setWaiting(tx, p.SessionID, prior)

	case EventStop:
		// A stop fires even while a permission prompt is up. Waiting is
		// the more useful answer, so it survives.
		if prior == statedb.StateWaiting || prior == statedb.StateIdle {
			return false, nil
		}
		if err := tx.UpsertRuntimeState(p.SessionID, statedb.StateIdle, nil); err != nil {
			if statedb.IsUnknownSession(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil

	case EventSessionEnd:
		if err := tx.DeleteRuntime(p.SessionID); err != nil {
			return false, err
		}
		return prior != "", nil
	}

	return false, nil
}

func setWaiting(tx *statedb.Tx, sessionID, prior string) (bool, error) {
	if err := tx.UpsertRuntimeState(sessionID, statedb.StateWaiting, nil); err != nil {
		if statedb.IsUnknownSession(err) {
			return false, nil
		}
		return false, err
	}
	return prior != statedb.StateWaiting, nil
}

// shouldScan applies the scan throttle. SessionStart and UserPromptSubmit
// bypass it: those are the moments a user is actually looking at a display
// that must pick up the new session immediately.
func (d *HookDispatcher) shouldScan(event string) bool {
	if event == EventSessionStart || event == EventUserPromptSubmit {
		return true
	}
	raw, err := d.db.GetMeta(lastScanKey)
	if err != nil || raw == "" {
		return true
	}
	last, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return true
	}
	return unixNow()-last >= scanThrottle.Seconds()
}

// fullScan runs a catalog scan plus an info-only reconcile and stale cleanup
// in one transaction. protectID exempts the dispatching event's session: its
// runtime row may predate this pass and its process may not be resolvable
// yet.
func (d *HookDispatcher) fullScan(ctx context.Context, protectID string) error {
	passStart := statedb.Now()
	inv := d.collect(ctx)

	return d.db.WithTx(func(tx *statedb.Tx) error {
		if err := d.scanner.Scan(tx); err != nil {
			return err
		}

		live, err := d.rec.Run(tx, inv, UpdateInfoOnly)
		if err != nil {
			return err
		}
		fresh, err := tx.RuntimeUpdatedSince(passStart)
		if err != nil {
			return err
		}
		for id := range fresh {
			live[id] = true
		}
		if protectID != "" {
			live[protectID] = true
		}
		if err := tx.RemoveStaleRuntime(live); err != nil {
			return err
		}

		return tx.SetMeta(lastScanKey, strconv.FormatFloat(unixNow(), 'f', 3, 64))
	})
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
