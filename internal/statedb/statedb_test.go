package statedb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *StateDB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string   { return &s }
func intPtr(i int) *int         { return &i }
func f64Ptr(f float64) *float64 { return &f }

func upsert(t *testing.T, db *StateDB, p SessionPatch) {
	t.Helper()
	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.UpsertSession(p)
	}))
}

func TestMigrateIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())

	version, err := db.GetMeta("schema_version")
	require.NoError(t, err)
	require.Equal(t, "1", version)
}

func TestUpsertSessionMergeOnAbsent(t *testing.T) {
	db := newTestDB(t)

	upsert(t, db, SessionPatch{
		SessionID:    "abc-123",
		Slug:         strPtr("s"),
		CustomTitle:  strPtr("T"),
		MessageCount: intPtr(5),
	})
	// Later partial write from a source lacking slug/title must not erase them.
	upsert(t, db, SessionPatch{
		SessionID:    "abc-123",
		MessageCount: intPtr(10),
	})

	v, err := db.GetSession("abc-123")
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, "s", *v.Slug)
	require.Equal(t, "T", *v.CustomTitle)
	require.Equal(t, 10, v.MessageCount)
}

func TestUpsertSessionOverwritesPresentFields(t *testing.T) {
	db := newTestDB(t)

	upsert(t, db, SessionPatch{SessionID: "x", CustomTitle: strPtr("Old")})
	upsert(t, db, SessionPatch{SessionID: "x", CustomTitle: strPtr("New")})

	v, err := db.GetSession("x")
	require.NoError(t, err)
	require.Equal(t, "New", *v.CustomTitle)
}

func TestUpsertRuntimeStatePreservesProcessInfo(t *testing.T) {
	db := newTestDB(t)
	upsert(t, db, SessionPatch{SessionID: "sess-1"})

	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.UpsertRuntimeFull(RuntimeRow{
			SessionID: "sess-1",
			PID:       intPtr(42),
			TTY:       strPtr("ttys001"),
			State:     StateIdle,
		})
	}))
	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.UpsertRuntimeState("sess-1", StateWorking, nil)
	}))

	v, err := db.GetSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, StateWorking, *v.State)
	require.Equal(t, 42, *v.PID)
	require.Equal(t, "ttys001", *v.TTY)
}

func TestUpsertRuntimeStateNilLastActivityLeavesUnchanged(t *testing.T) {
	db := newTestDB(t)
	upsert(t, db, SessionPatch{SessionID: "sess-1"})

	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.UpsertRuntimeState("sess-1", StateWorking, f64Ptr(1000))
	}))
	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.UpsertRuntimeState("sess-1", StateIdle, nil)
	}))

	v, err := db.GetSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, StateIdle, *v.State)
	require.NotNil(t, v.LastActivity)
	require.Equal(t, float64(1000), *v.LastActivity)
}

func TestUpsertRuntimeUnknownSession(t *testing.T) {
	db := newTestDB(t)

	err := db.WithTx(func(tx *Tx) error {
		return tx.UpsertRuntimeState("ghost", StateIdle, nil)
	})
	require.Error(t, err)
	require.True(t, IsUnknownSession(err))
}

func TestUpsertRuntimeInvalidState(t *testing.T) {
	db := newTestDB(t)
	upsert(t, db, SessionPatch{SessionID: "sess-1"})

	err := db.WithTx(func(tx *Tx) error {
		return tx.UpsertRuntimeFull(RuntimeRow{SessionID: "sess-1", State: "excited"})
	})
	require.ErrorIs(t, err, ErrInvalidState)

	// Nothing persisted.
	v, err := db.GetSession("sess-1")
	require.NoError(t, err)
	require.Nil(t, v.State)
}

func TestUpdateRuntimeProcessInfoIsUpdateOnly(t *testing.T) {
	db := newTestDB(t)
	upsert(t, db, SessionPatch{SessionID: "sess-1"})

	// No runtime row: must be a no-op, not an insert.
	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.UpdateRuntimeProcessInfo(ProcessInfo{
			SessionID: "sess-1", PID: 7, TTY: "ttys000",
		})
	}))
	v, err := db.GetSession("sess-1")
	require.NoError(t, err)
	require.Nil(t, v.State)

	// With a row, it updates process fields but never state/last_activity.
	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.UpsertRuntimeState("sess-1", StateWaiting, f64Ptr(5))
	}))
	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.UpdateRuntimeProcessInfo(ProcessInfo{
			SessionID: "sess-1", PID: 7, TTY: "ttys000",
		})
	}))

	v, err = db.GetSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, StateWaiting, *v.State)
	require.Equal(t, float64(5), *v.LastActivity)
	require.Equal(t, 7, *v.PID)
}

func TestRemoveStaleRuntime(t *testing.T) {
	db := newTestDB(t)
	for _, id := range []string{"a", "b", "c"} {
		upsert(t, db, SessionPatch{SessionID: id})
		require.NoError(t, db.WithTx(func(tx *Tx) error {
			return tx.UpsertRuntimeState(id, StateIdle, nil)
		}))
	}

	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.RemoveStaleRuntime(map[string]bool{"a": true, "c": true})
	}))

	active, err := db.ActiveSessions()
	require.NoError(t, err)
	ids := make(map[string]bool)
	for _, v := range active {
		ids[v.SessionID] = true
	}
	require.Equal(t, map[string]bool{"a": true, "c": true}, ids)
}

func TestRemoveStaleRuntimeEmptyKeepDeletesAll(t *testing.T) {
	db := newTestDB(t)
	upsert(t, db, SessionPatch{SessionID: "a"})
	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.UpsertRuntimeState("a", StateIdle, nil)
	}))

	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.RemoveStaleRuntime(nil)
	}))

	active, err := db.ActiveSessions()
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestPropagateTitles(t *testing.T) {
	db := newTestDB(t)
	upsert(t, db, SessionPatch{
		SessionID: "x", Slug: strPtr("k"), CustomTitle: strPtr("Proj"),
		ModifiedAt: strPtr("2026-01-02T00:00:00Z"),
	})
	upsert(t, db, SessionPatch{
		SessionID: "y", Slug: strPtr("k"),
		ModifiedAt: strPtr("2026-01-03T00:00:00Z"),
	})
	upsert(t, db, SessionPatch{
		SessionID: "z", Slug: strPtr("other"),
		ModifiedAt: strPtr("2026-01-01T00:00:00Z"),
	})

	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.PropagateTitles()
	}))

	y, err := db.GetSession("y")
	require.NoError(t, err)
	require.NotNil(t, y.CustomTitle)
	require.Equal(t, "Proj", *y.CustomTitle)

	z, err := db.GetSession("z")
	require.NoError(t, err)
	require.Nil(t, z.CustomTitle)
}

func TestPropagateTitlesPrefersNewestSibling(t *testing.T) {
	db := newTestDB(t)
	upsert(t, db, SessionPatch{
		SessionID: "old", Slug: strPtr("k"), CustomTitle: strPtr("Old"),
		ModifiedAt: strPtr("2026-01-01T00:00:00Z"),
	})
	upsert(t, db, SessionPatch{
		SessionID: "new", Slug: strPtr("k"), CustomTitle: strPtr("New"),
		ModifiedAt: strPtr("2026-01-05T00:00:00Z"),
	})
	upsert(t, db, SessionPatch{
		SessionID: "bare", Slug: strPtr("k"),
		ModifiedAt: strPtr("2026-01-06T00:00:00Z"),
	})

	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.PropagateTitles()
	}))

	bare, err := db.GetSession("bare")
	require.NoError(t, err)
	require.Equal(t, "New", *bare.CustomTitle)
}

func TestGetSessionByPrefix(t *testing.T) {
	db := newTestDB(t)
	upsert(t, db, SessionPatch{SessionID: "deadbeef-0000", ModifiedAt: strPtr("2026-01-01T00:00:00Z")})
	upsert(t, db, SessionPatch{SessionID: "deadbeef-1111", ModifiedAt: strPtr("2026-01-02T00:00:00Z")})

	v, err := db.GetSession("deadbeef")
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, "deadbeef-1111", v.SessionID)

	v, err = db.GetSession("deadbeef-0000")
	require.NoError(t, err)
	require.Equal(t, "deadbeef-0000", v.SessionID)

	v, err = db.GetSession("nope")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestAllSessionsFilters(t *testing.T) {
	db := newTestDB(t)
	upsert(t, db, SessionPatch{SessionID: "a", ProjectPath: strPtr("/home/u/proj-api")})
	upsert(t, db, SessionPatch{SessionID: "b", ProjectPath: strPtr("/home/u/blog")})
	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.UpsertRuntimeState("a", StateWorking, nil)
	}))

	byProject, err := db.AllSessions("api", "")
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	require.Equal(t, "a", byProject[0].SessionID)

	inactive, err := db.AllSessions("", "inactive")
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	require.Equal(t, "b", inactive[0].SessionID)

	working, err := db.AllSessions("", StateWorking)
	require.NoError(t, err)
	require.Len(t, working, 1)
	require.Equal(t, "a", working[0].SessionID)
}

func TestMessageCountNonNegative(t *testing.T) {
	db := newTestDB(t)
	err := db.WithTx(func(tx *Tx) error {
		return tx.UpsertSession(SessionPatch{SessionID: "n", MessageCount: intPtr(-1)})
	})
	require.Error(t, err)
}

func TestRuntimeUpdatedSince(t *testing.T) {
	db := newTestDB(t)
	upsert(t, db, SessionPatch{SessionID: "a"})

	cutoff := Now()
	require.NoError(t, db.WithTx(func(tx *Tx) error {
		return tx.UpsertRuntimeState("a", StateIdle, nil)
	}))

	require.NoError(t, db.WithTx(func(tx *Tx) error {
		fresh, err := tx.RuntimeUpdatedSince(cutoff)
		require.NoError(t, err)
		require.True(t, fresh["a"])

		none, err := tx.RuntimeUpdatedSince(Now())
		require.NoError(t, err)
		require.Empty(t, none)
		return nil
	}))
}

func TestMeta(t *testing.T) {
	db := newTestDB(t)

	v, err := db.GetMeta("missing")
	require.NoError(t, err)
	require.Equal(t, "", v)

	require.NoError(t, db.SetMeta("last_poll", "123"))
	require.NoError(t, db.SetMeta("last_poll", "456"))
	v, err = db.GetMeta("last_poll")
	require.NoError(t, err)
	require.Equal(t, "456", v)
}
