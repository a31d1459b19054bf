package tracker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/claude-status/internal/procinfo"
	"github.com/asheshgoplani/claude-status/internal/statedb"
)

func newTestDB(t *testing.T) *statedb.StateDB {
	t.Helper()
	db, err := statedb.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func seedSession(t *testing.T, db *statedb.StateDB, patch statedb.SessionPatch) {
	t.Helper()
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		return tx.UpsertSession(patch)
	}))
}

func strPtr(s string) *string { return &s }

func emptyInv() procinfo.Inventory {
	return procinfo.NewStaticSnapshot(nil, nil, nil, nil)
}

func runtimeRow(t *testing.T, db *statedb.StateDB, sessionID string) (state string, pid *int, tty *string) {
	t.Helper()
	var pidV *int
	var ttyV *string
	err := db.DB().QueryRow(
		"SELECT state, pid, tty FROM runtime WHERE session_id = ?", sessionID,
	).Scan(&state, &pidV, &ttyV)
	require.NoError(t, err)
	return state, pidV, ttyV
}

const sampleUUID = "4f6f3a2e-9c1b-4d7e-8a2f-0c1d2e3f4a5b"

func TestResolveByResumeUUID(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		id, err := ResolveSession(tx, emptyInv(), procinfo.Process{PID: 1, ResumeArg: sampleUUID})
		require.NoError(t, err)
		// A UUID resume argument is trusted even before the catalog knows it.
		require.Equal(t, sampleUUID, id)
		return nil
	}))
}

func TestResolveByTitleExactBeforeSubstring(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, statedb.SessionPatch{
		SessionID: "long", CustomTitle: strPtr("API refactor extended"),
		ModifiedAt: strPtr("2026-01-02T00:00:00Z"),
	})
	seedSession(t, db, statedb.SessionPatch{
		SessionID: "exact", CustomTitle: strPtr("API refactor"),
		ModifiedAt: strPtr("2026-01-01T00:00:00Z"),
	})

	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		id, err := ResolveSession(tx, emptyInv(), procinfo.Process{PID: 1, ResumeArg: "API refactor"})
		require.NoError(t, err)
		require.Equal(t, "exact", id)
		return nil
	}))
}

func TestResolveTitleRenameCorrection(t *testing.T) {
	db := newTestDB(t)
	// Old session carries the title the user resumed by; a continuation with
	// the same slug is newer.
	seedSession(t, db, statedb.SessionPatch{
		SessionID: "old", Slug: strPtr("crimson-falcon"), CustomTitle: strPtr("Billing fix"),
		ModifiedAt: strPtr("2026-01-01T00:00:00Z"),
	})
	seedSession(t, db, statedb.SessionPatch{
		SessionID: "new", Slug: strPtr("crimson-falcon"),
		ModifiedAt: strPtr("2026-01-05T00:00:00Z"),
	})

	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		id, err := ResolveSession(tx, emptyInv(), procinfo.Process{PID: 1, ResumeArg: "Billing fix"})
		require.NoError(t, err)
		require.Equal(t, "new", id)
		return nil
	}))
}

func TestResolveByCwd(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, statedb.SessionPatch{
		SessionID: "s1", ProjectPath: strPtr("/work/proj"),
		ModifiedAt: strPtr("2026-01-01T00:00:00Z"),
	})
	inv := procinfo.NewStaticSnapshot(nil, nil, nil, func(int) string { return "/work/proj" })

	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		id, err := ResolveSession(tx, inv, procinfo.Process{PID: 1})
		require.NoError(t, err)
		require.Equal(t, "s1", id)

		// A resume argument disables cwd matching.
		id, err = ResolveSession(tx, inv, procinfo.Process{PID: 1, ResumeArg: "nope"})
		require.NoError(t, err)
		require.Equal(t, "", id)
		return nil
	}))
}

func TestReconcilerTrustsExistingPidBinding(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, statedb.SessionPatch{SessionID: "a"})
	seedSession(t, db, statedb.SessionPatch{
		SessionID: "b", CustomTitle: strPtr("Other"),
		ModifiedAt: strPtr("2026-01-01T00:00:00Z"),
	})
	pid := 42
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		return tx.UpsertRuntimeFull(statedb.RuntimeRow{SessionID: "a", PID: &pid, State: statedb.StateIdle})
	}))

	// The process's resume arg now points at b, but the stored binding wins.
	inv := procinfo.NewStaticSnapshot(
		[]procinfo.Process{{PID: 42, TTY: "ttys001", ResumeArg: "Other"}}, nil, nil, nil)

	rec := NewReconciler(0)
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		live, err := rec.Run(tx, inv, DetectStates)
		require.NoError(t, err)
		require.Equal(t, map[string]bool{"a": true}, live)
		return nil
	}))
}

func TestReconcilerWaitingIsSticky(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, statedb.SessionPatch{SessionID: "s1"})
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		return tx.UpsertRuntimeState("s1", statedb.StateWaiting, nil)
	}))

	inv := procinfo.NewStaticSnapshot(
		[]procinfo.Process{{PID: 7, TTY: "ttys001", ResumeArg: "s1-no-match"}}, nil, nil, nil)
	// Bind by pid so resolution isn't in play.
	pid := 7
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		return tx.UpdateRuntimeProcessInfo(statedb.ProcessInfo{SessionID: "s1", PID: pid, TTY: "/dev/ttys001"})
	}))

	// No JSONL path stored, so inference says idle; waiting must survive.
	rec := NewReconciler(0)
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		_, err := rec.Run(tx, inv, DetectStates)
		return err
	}))

	state, _, _ := runtimeRow(t, db, "s1")
	require.Equal(t, statedb.StateWaiting, state)
}

func TestReconcilerFreshLogOverridesWaiting(t *testing.T) {
	db := newTestDB(t)
	logPath := filepath.Join(t.TempDir(), "s1.jsonl")
	require.NoError(t, os.WriteFile(logPath, []byte("{}\n"), 0644))
	seedSession(t, db, statedb.SessionPatch{SessionID: "s1", JSONLPath: &logPath})

	pid := 7
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		if err := tx.UpsertRuntimeFull(statedb.RuntimeRow{SessionID: "s1", PID: &pid, State: statedb.StateWaiting}); err != nil {
			return err
		}
		return nil
	}))

	inv := procinfo.NewStaticSnapshot(
		[]procinfo.Process{{PID: 7, TTY: "ttys001"}}, nil, nil, nil)
	rec := NewReconciler(time.Minute)
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		_, err := rec.Run(tx, inv, DetectStates)
		return err
	}))

	state, _, _ := runtimeRow(t, db, "s1")
	require.Equal(t, statedb.StateWorking, state)
}

func TestReconcilerTmuxClientSubstitution(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, statedb.SessionPatch{SessionID: sampleUUID})

	inv := procinfo.NewStaticSnapshot(
		[]procinfo.Process{{PID: 9, TTY: "ttys001", ResumeArg: sampleUUID}},
		map[string]procinfo.Pane{"/dev/ttys001": {Target: "main:0.0", Session: "main"}},
		map[string]string{"main": "/dev/ttys009"},
		nil)

	rec := NewReconciler(0)
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		live, err := rec.Run(tx, inv, DetectStates)
		require.NoError(t, err)
		require.True(t, live[sampleUUID])
		return nil
	}))

	var tty, target, session string
	require.NoError(t, db.DB().QueryRow(
		"SELECT tty, tmux_target, tmux_session FROM runtime WHERE session_id = ?", sampleUUID,
	).Scan(&tty, &target, &session))
	require.Equal(t, "/dev/ttys009", tty, "attached client terminal replaces the pane pty")
	require.Equal(t, "main:0.0", target)
	require.Equal(t, "main", session)
}

func TestReconcilerUnknownSessionSkipped(t *testing.T) {
	db := newTestDB(t)
	inv := procinfo.NewStaticSnapshot(
		[]procinfo.Process{{PID: 9, TTY: "ttys001", ResumeArg: sampleUUID}}, nil, nil, nil)

	rec := NewReconciler(0)
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		live, err := rec.Run(tx, inv, DetectStates)
		require.NoError(t, err)
		require.Empty(t, live)
		return nil
	}))
}

func TestReconcilerMatchesPidlessRow(t *testing.T) {
	db := newTestDB(t)
	// Hook-created row: the session exists with a cwd but no pid yet, and the
	// process's resume argument resolves to nothing.
	seedSession(t, db, statedb.SessionPatch{SessionID: "s1", Cwd: strPtr("/work/proj")})
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		return tx.UpsertRuntimeState("s1", statedb.StateWorking, nil)
	}))

	inv := procinfo.NewStaticSnapshot(
		[]procinfo.Process{{PID: 11, TTY: "ttys002", ResumeArg: "matches nothing"}},
		nil, nil,
		func(int) string { return "/work/proj" })

	rec := NewReconciler(0)
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		live, err := rec.Run(tx, inv, UpdateInfoOnly)
		require.NoError(t, err)
		require.True(t, live["s1"])
		return nil
	}))

	state, pid, _ := runtimeRow(t, db, "s1")
	require.NotNil(t, pid)
	require.Equal(t, 11, *pid)
	// Info-only mode leaves the hook-set state alone.
	require.Equal(t, statedb.StateWorking, state)
}

func TestReconcilerHookModeStaleHintYieldsToPidlessRow(t *testing.T) {
	db := newTestDB(t)
	// An old sibling carries the title the user resumed by but has no
	// runtime row; the live session's hook-created row is still pidless.
	seedSession(t, db, statedb.SessionPatch{
		SessionID: "oldsess", CustomTitle: strPtr("Billing"),
		ModifiedAt: strPtr("2026-01-01T00:00:00Z"),
	})
	seedSession(t, db, statedb.SessionPatch{SessionID: "newsess", Cwd: strPtr("/work/proj")})
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		return tx.UpsertRuntimeState("newsess", statedb.StateWorking, nil)
	}))

	inv := procinfo.NewStaticSnapshot(
		[]procinfo.Process{{PID: 77, TTY: "ttys003", ResumeArg: "Billing"}},
		nil, nil,
		func(int) string { return "/work/proj" })

	rec := NewReconciler(0)
	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		live, err := rec.Run(tx, inv, UpdateInfoOnly)
		require.NoError(t, err)
		require.Equal(t, map[string]bool{"newsess": true}, live)
		return nil
	}))

	_, pid, _ := runtimeRow(t, db, "newsess")
	require.NotNil(t, pid)
	require.Equal(t, 77, *pid)

	var n int
	require.NoError(t, db.DB().QueryRow(
		"SELECT COUNT(*) FROM runtime WHERE session_id = 'oldsess'").Scan(&n))
	require.Equal(t, 0, n, "the stale title hint must not fabricate a row for the old sibling")
}

func TestDetectStateFreshAndStale(t *testing.T) {
	db := newTestDB(t)
	logPath := filepath.Join(t.TempDir(), "s1.jsonl")
	require.NoError(t, os.WriteFile(logPath, []byte("{}\n"), 0644))
	seedSession(t, db, statedb.SessionPatch{SessionID: "s1", JSONLPath: &logPath})

	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		state, activity, err := detectState(tx, "s1", time.Minute)
		require.NoError(t, err)
		require.Equal(t, statedb.StateWorking, state)
		require.NotNil(t, activity)

		old := time.Now().Add(-10 * time.Minute)
		require.NoError(t, os.Chtimes(logPath, old, old))
		state, _, err = detectState(tx, "s1", time.Minute)
		require.NoError(t, err)
		require.Equal(t, statedb.StateIdle, state)

		// Missing log means idle, not an error.
		state, activity, err = detectState(tx, "absent", time.Minute)
		require.NoError(t, err)
		require.Equal(t, statedb.StateIdle, state)
		require.Nil(t, activity)
		return nil
	}))
}

func TestDetectStateToolUseTail(t *testing.T) {
	db := newTestDB(t)
	logPath := filepath.Join(t.TempDir(), "s1.jsonl")
	content := `{"type":"user","message":{"content":"run the tests"}}
{"type":"assistant","message":{"content":[{"type":"text"},{"type":"tool_use"}]}}
`
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0644))
	seedSession(t, db, statedb.SessionPatch{SessionID: "s1", JSONLPath: &logPath})

	// Past the activity threshold but inside the tool window: a trailing
	// tool_use block keeps the session working.
	stamp := time.Now().Add(-10 * time.Second)
	require.NoError(t, os.Chtimes(logPath, stamp, stamp))

	require.NoError(t, db.WithTx(func(tx *statedb.Tx) error {
		state, _, err := detectState(tx, "s1", 5*time.Second)
		require.NoError(t, err)
		require.Equal(t, statedb.StateWorking, state)
		return nil
	}))
}

func TestTailEndsInToolUse(t *testing.T) {
	dir := t.TempDir()

	withTail := filepath.Join(dir, "a.jsonl")
	require.NoError(t, os.WriteFile(withTail, []byte(
		`{"type":"assistant","message":{"content":[{"type":"tool_use"}]}}`+"\n"), 0644))
	info, err := os.Stat(withTail)
	require.NoError(t, err)
	require.True(t, tailEndsInToolUse(withTail, info.Size()))

	textOnly := filepath.Join(dir, "b.jsonl")
	require.NoError(t, os.WriteFile(textOnly, []byte(
		`{"type":"assistant","message":{"content":[{"type":"text"}]}}`+"\n"), 0644))
	info, err = os.Stat(textOnly)
	require.NoError(t, err)
	require.False(t, tailEndsInToolUse(textOnly, info.Size()))
}
