package ledger

import (
	"errors"
	"os"
	"testing"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "perthro-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var ident = models.Identity{Owner: "alice", Script: "greeter.lua"}

func TestInsertAndLatest(t *testing.T) {
	db := testDB(t)

	if _, err := db.Insert(ident, "v1", models.OriginManual, "", 100); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id2, err := db.Insert(ident, "v2", models.OriginManual, "second", 200)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	latest, err := db.Latest(ident)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.ID != id2 {
		t.Fatalf("latest = %+v, want id %d", latest, id2)
	}
	if latest.Content != "v2" || latest.Note != "second" {
		t.Errorf("latest row = %+v", latest)
	}
}

func TestLatest_Empty(t *testing.T) {
	db := testDB(t)
	latest, err := db.Latest(ident)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil for empty identity, got %+v", latest)
	}
}

func TestInsertNeverDedups(t *testing.T) {
	db := testDB(t)
	id1, _ := db.Insert(ident, "same", models.OriginManual, "", 100)
	id2, _ := db.Insert(ident, "same", models.OriginManual, "", 200)
	if id1 == id2 {
		t.Fatalf("identical content produced the same id %d", id1)
	}
	rows, err := db.ListDesc(ident)
	if err != nil {
		t.Fatalf("ListDesc: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(rows))
	}
}

func TestListDescOrdering(t *testing.T) {
	db := testDB(t)
	// Same timestamp rows must fall back to id ordering.
	a, _ := db.Insert(ident, "a", models.OriginManual, "", 100)
	b, _ := db.Insert(ident, "b", models.OriginAutosave, "", 300)
	c, _ := db.Insert(ident, "c", models.OriginManual, "", 300)
	d, _ := db.Insert(ident, "d", models.OriginRemoteSync, "", 200)

	rows, err := db.ListDesc(ident)
	if err != nil {
		t.Fatalf("ListDesc: %v", err)
	}
	want := []int64{c, b, d, a}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i, w := range want {
		if rows[i].ID != w {
			t.Errorf("rows[%d].ID = %d, want %d", i, rows[i].ID, w)
		}
	}
}

func TestIdentitiesAreIsolated(t *testing.T) {
	db := testDB(t)
	other := models.Identity{Owner: "bob", Script: "greeter.lua"}
	_, _ = db.Insert(ident, "mine", models.OriginManual, "", 100)
	_, _ = db.Insert(other, "theirs", models.OriginManual, "", 200)

	rows, _ := db.ListDesc(ident)
	if len(rows) != 1 || rows[0].Content != "mine" {
		t.Errorf("identity leak: %+v", rows)
	}
}

func TestBumpTimestamp(t *testing.T) {
	db := testDB(t)
	rs, _ := db.Insert(ident, "synced", models.OriginRemoteSync, "remote-sync", 100)
	_, _ = db.Insert(ident, "local", models.OriginManual, "", 200)

	if err := db.BumpTimestamp(rs, 500); err != nil {
		t.Fatalf("BumpTimestamp: %v", err)
	}
	latest, _ := db.Latest(ident)
	if latest.ID != rs {
		t.Errorf("bumped row should be latest, got id %d", latest.ID)
	}
	if latest.Content != "synced" || latest.Note != "remote-sync" {
		t.Errorf("bump must only touch the timestamp: %+v", latest)
	}
}

func TestBumpTimestamp_Missing(t *testing.T) {
	db := testDB(t)
	err := db.BumpTimestamp(42, 500)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLatestRemoteSyncAndRemoteSyncs(t *testing.T) {
	db := testDB(t)
	_, _ = db.Insert(ident, "m", models.OriginManual, "", 400)
	r1, _ := db.Insert(ident, "s1", models.OriginRemoteSync, "", 100)
	r2, _ := db.Insert(ident, "s2", models.OriginRemoteSync, "", 200)

	latest, err := db.LatestRemoteSync(ident)
	if err != nil {
		t.Fatalf("LatestRemoteSync: %v", err)
	}
	if latest.ID != r2 {
		t.Errorf("latest remote sync = %d, want %d", latest.ID, r2)
	}

	all, err := db.RemoteSyncs(ident)
	if err != nil {
		t.Fatalf("RemoteSyncs: %v", err)
	}
	if len(all) != 2 || all[0].ID != r2 || all[1].ID != r1 {
		t.Errorf("remote syncs = %+v", all)
	}
}

func TestPruneAutosaves(t *testing.T) {
	db := testDB(t)
	const keep = 3
	var ts int64
	for i := 0; i < keep+5; i++ {
		ts += 10
		_, _ = db.Insert(ident, "auto", models.OriginAutosave, "", ts)
	}
	// Interleaved manual and remote-sync rows must survive any prune.
	_, _ = db.Insert(ident, "manual", models.OriginManual, "", 5)
	_, _ = db.Insert(ident, "sync", models.OriginRemoteSync, "", 6)

	deleted, err := db.PruneAutosaves(ident, keep)
	if err != nil {
		t.Fatalf("PruneAutosaves: %v", err)
	}
	if deleted != 5 {
		t.Errorf("deleted = %d, want 5", deleted)
	}

	n, _ := db.CountAutosaves(ident)
	if n != keep {
		t.Errorf("autosaves after prune = %d, want %d", n, keep)
	}

	// The survivors are the most recent by timestamp.
	rows, _ := db.ListDesc(ident)
	for _, r := range rows {
		if r.Origin == models.OriginAutosave && r.Timestamp <= 50 {
			t.Errorf("old autosave survived prune: %+v", r)
		}
	}
}

func TestPruneAutosaves_UnderLimit(t *testing.T) {
	db := testDB(t)
	_, _ = db.Insert(ident, "auto", models.OriginAutosave, "", 10)
	deleted, err := db.PruneAutosaves(ident, 50)
	if err != nil {
		t.Fatalf("PruneAutosaves: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

func TestDeleteAllExceptRemoteSync(t *testing.T) {
	db := testDB(t)
	_, _ = db.Insert(ident, "m", models.OriginManual, "", 100)
	_, _ = db.Insert(ident, "a", models.OriginAutosave, "", 200)
	rs, _ := db.Insert(ident, "s", models.OriginRemoteSync, "", 300)

	deleted, err := db.DeleteAllExceptRemoteSync(ident)
	if err != nil {
		t.Fatalf("DeleteAllExceptRemoteSync: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	rows, _ := db.ListDesc(ident)
	if len(rows) != 1 || rows[0].ID != rs {
		t.Errorf("remote-sync lineage not preserved: %+v", rows)
	}
}

func TestDeleteOneAndDeleteAll(t *testing.T) {
	db := testDB(t)
	id1, _ := db.Insert(ident, "x", models.OriginManual, "", 100)
	_, _ = db.Insert(ident, "y", models.OriginManual, "", 200)

	if err := db.DeleteOne(id1); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if err := db.DeleteOne(id1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}

	n, err := db.DeleteAll(ident)
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteAll removed %d rows, want 1", n)
	}
}

func TestLastCheckpoint(t *testing.T) {
	db := testDB(t)
	_, _ = db.Insert(ident, "m", models.OriginManual, "", 100)
	rs, _ := db.Insert(ident, "s", models.OriginRemoteSync, "", 200)
	_, _ = db.Insert(ident, "a", models.OriginAutosave, "", 300)

	cp, err := db.LastCheckpoint(ident)
	if err != nil {
		t.Fatalf("LastCheckpoint: %v", err)
	}
	if cp == nil || cp.ID != rs {
		t.Errorf("checkpoint = %+v, want remote-sync row %d", cp, rs)
	}
}

func TestLastCheckpoint_OnlyAutosaves(t *testing.T) {
	db := testDB(t)
	_, _ = db.Insert(ident, "a", models.OriginAutosave, "", 100)
	cp, err := db.LastCheckpoint(ident)
	if err != nil {
		t.Fatalf("LastCheckpoint: %v", err)
	}
	if cp != nil {
		t.Errorf("expected nil checkpoint, got %+v", cp)
	}
}

func TestChecksumStored(t *testing.T) {
	db := testDB(t)
	_, _ = db.Insert(ident, "hello", models.OriginManual, "", 100)
	latest, _ := db.Latest(ident)
	if latest.Checksum == "" {
		t.Error("checksum not populated on insert")
	}
}
