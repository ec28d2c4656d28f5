package scriptservice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/testutil"
)

var ident = models.Identity{Owner: "alice", Script: "greeter.lua"}

func fetchOK(content string) *testutil.FakeRemote {
	return &testutil.FakeRemote{
		FetchContentFn: func(context.Context, models.Identity) (string, error) {
			return content, nil
		},
	}
}

func fetchDown() *testutil.FakeRemote {
	return &testutil.FakeRemote{
		FetchContentFn: func(context.Context, models.Identity) (string, error) {
			return "", fmt.Errorf("remote: boom: %w", apperr.ErrRemoteUnavailable)
		},
	}
}

func TestLoad_FreshRecordsRemoteSync(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := New(db, fetchOK("const x=1"), 50, nil)

	out, err := svc.Load(context.Background(), ident)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Status != LoadFresh || out.Content != "const x=1" {
		t.Fatalf("outcome = %+v", out)
	}

	rows, _ := db.ListDesc(ident)
	if len(rows) != 1 || rows[0].Origin != models.OriginRemoteSync || rows[0].Note != "remote-sync" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestLoad_DedupIdempotence(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := New(db, fetchOK("const x=1"), 50, nil)

	svc.now = func() int64 { return 1000 }
	if _, err := svc.Load(context.Background(), ident); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	svc.now = func() int64 { return 2000 }
	out, err := svc.Load(context.Background(), ident)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}

	rows, _ := db.ListDesc(ident)
	if len(rows) != 1 {
		t.Fatalf("expected exactly one remote-sync row, got %d", len(rows))
	}
	if rows[0].Timestamp != 2000 {
		t.Errorf("timestamp = %d, want 2000 (time of second load)", rows[0].Timestamp)
	}
	if out.Record == nil || out.Record.Timestamp != 2000 {
		t.Errorf("outcome record = %+v", out.Record)
	}
}

func TestLoad_ChangedContentInsertsNewRow(t *testing.T) {
	db := testutil.TestLedger(t)
	content := "v1"
	rc := &testutil.FakeRemote{
		FetchContentFn: func(context.Context, models.Identity) (string, error) {
			return content, nil
		},
	}
	svc := New(db, rc, 50, nil)

	_, _ = svc.Load(context.Background(), ident)
	content = "v2"
	_, _ = svc.Load(context.Background(), ident)
	content = "v1" // back to the first snapshot: bump, not insert
	_, _ = svc.Load(context.Background(), ident)

	rows, _ := db.ListDesc(ident)
	if len(rows) != 2 {
		t.Fatalf("expected 2 remote-sync rows, got %d", len(rows))
	}
	if rows[0].Content != "v1" {
		t.Errorf("bumped row should be newest, got %q", rows[0].Content)
	}
}

func TestLoad_DegradedFallback(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := New(db, fetchDown(), 50, nil)
	if _, err := svc.Save(context.Background(), ident, "v1", models.OriginManual, ""); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := svc.Load(context.Background(), ident)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Status != LoadDegraded || out.Content != "v1" {
		t.Fatalf("outcome = %+v", out)
	}
	if !errors.Is(out.Notice, apperr.ErrRemoteUnavailable) {
		t.Errorf("notice = %v, want the original fetch error", out.Notice)
	}

	// Fallback must not fabricate a remote-sync row.
	rs, _ := db.RemoteSyncs(ident)
	if len(rs) != 0 {
		t.Errorf("fallback created remote-sync rows: %+v", rs)
	}
}

func TestLoad_NoDataUnavailable(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := New(db, fetchDown(), 50, nil)

	_, err := svc.Load(context.Background(), ident)
	if !errors.Is(err, apperr.ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
	if !errors.Is(err, apperr.ErrRemoteUnavailable) {
		t.Errorf("err = %v, should carry the fetch error", err)
	}
}

func TestLoad_AuthFailureIsFatal(t *testing.T) {
	db := testutil.TestLedger(t)
	rc := &testutil.FakeRemote{
		FetchContentFn: func(context.Context, models.Identity) (string, error) {
			return "", fmt.Errorf("remote: 401: %w", apperr.ErrRemoteAuth)
		},
	}
	svc := New(db, rc, 50, nil)
	_, _ = svc.Save(context.Background(), ident, "cached", models.OriginManual, "")

	// Cache exists, but auth failures must not fall back to it.
	_, err := svc.Load(context.Background(), ident)
	if !errors.Is(err, apperr.ErrRemoteAuth) {
		t.Errorf("err = %v, want ErrRemoteAuth", err)
	}
}

func TestLoad_ConcurrentSameIdentitySingleRow(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := New(db, fetchOK("racy"), 50, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Load(context.Background(), ident); err != nil {
				t.Errorf("Load: %v", err)
			}
		}()
	}
	wg.Wait()

	rows, _ := db.RemoteSyncs(ident)
	if len(rows) != 1 {
		t.Fatalf("concurrent loads produced %d remote-sync rows, want 1", len(rows))
	}
}

func TestSave_ManualNeverDedups(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := New(db, &testutil.FakeRemote{}, 50, nil)

	id1, err := svc.Save(context.Background(), ident, "same", models.OriginManual, "first")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	id2, err := svc.Save(context.Background(), ident, "same", models.OriginManual, "second")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id1 == id2 {
		t.Errorf("identical manual saves shared id %d", id1)
	}
	rows, _ := db.ListDesc(ident)
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}
}

func TestSave_RejectsRemoteSyncOrigin(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := New(db, &testutil.FakeRemote{}, 50, nil)
	if _, err := svc.Save(context.Background(), ident, "x", models.OriginRemoteSync, ""); err == nil {
		t.Error("expected error: only Load may create remote-sync rows")
	}
}

func TestSave_AutosaveRetentionBound(t *testing.T) {
	const keep = 5
	db := testutil.TestLedger(t)
	svc := New(db, &testutil.FakeRemote{}, keep, nil)
	ctx := context.Background()

	_, _ = svc.Save(ctx, ident, "manual", models.OriginManual, "")
	for i := 0; i < keep+5; i++ {
		if _, err := svc.Save(ctx, ident, fmt.Sprintf("auto %d", i), models.OriginAutosave, ""); err != nil {
			t.Fatalf("autosave %d: %v", i, err)
		}
	}

	n, _ := db.CountAutosaves(ident)
	if n != keep {
		t.Errorf("autosaves = %d, want %d", n, keep)
	}
	// Manual row is exempt from pruning.
	cp, _ := db.LastCheckpoint(ident)
	if cp == nil || cp.Content != "manual" {
		t.Errorf("manual row lost: %+v", cp)
	}
	// Survivors are the most recent autosaves.
	rows, _ := db.ListDesc(ident)
	for _, r := range rows {
		if r.Origin == models.OriginAutosave && r.Content == "auto 0" {
			t.Error("oldest autosave survived the prune")
		}
	}
}

func TestSave_ManualNeverPrunes(t *testing.T) {
	const keep = 2
	db := testutil.TestLedger(t)
	svc := New(db, &testutil.FakeRemote{}, keep, nil)
	ctx := context.Background()

	for i := 0; i < keep+3; i++ {
		_, _ = svc.Save(ctx, ident, "auto", models.OriginAutosave, "")
	}
	// Autosaves above the limit linger until the next autosave prunes;
	// manual saves must not trigger pruning.
	_, _ = db.Insert(ident, "extra", models.OriginAutosave, "", 1)
	_, _ = svc.Save(ctx, ident, "manual", models.OriginManual, "")

	n, _ := db.CountAutosaves(ident)
	if n != keep+1 {
		t.Errorf("autosaves = %d, manual save must not prune", n)
	}
}

func TestSave_StoreFailureAsymmetry(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := New(db, &testutil.FakeRemote{}, 50, nil)
	db.Close() // force StoreUnavailable on every ledger call

	// Autosave: logged and dropped.
	rowID, err := svc.Save(context.Background(), ident, "x", models.OriginAutosave, "")
	if err != nil || rowID != 0 {
		t.Errorf("autosave on dead store = (%d, %v), want (0, nil)", rowID, err)
	}

	// Manual: surfaced.
	_, err = svc.Save(context.Background(), ident, "x", models.OriginManual, "")
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Errorf("manual save err = %v, want ErrStoreUnavailable", err)
	}
}

func TestUpload_FiltersSecretEntries(t *testing.T) {
	db := testutil.TestLedger(t)
	var pushed []models.ConfigEntry
	rc := &testutil.FakeRemote{
		FetchConfigurationFn: func(context.Context, models.Identity) ([]models.ConfigEntry, error) {
			return []models.ConfigEntry{
				{Name: "endpoint", Type: "string", Value: "wss://x"},
				{Name: "api_key", Type: models.ConfigTypeSecret},
			}, nil
		},
		PushFn: func(_ context.Context, _ models.Identity, content string, cfg []models.ConfigEntry) error {
			pushed = cfg
			if content != "new body" {
				t.Errorf("pushed content = %q", content)
			}
			return nil
		},
	}
	svc := New(db, rc, 50, nil)

	if err := svc.Upload(context.Background(), ident, "new body"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(pushed) != 1 || pushed[0].Name != "endpoint" {
		t.Errorf("pushed configuration = %+v, want only the plain entry", pushed)
	}
	// Publishing is not a history event.
	rows, _ := db.ListDesc(ident)
	if len(rows) != 0 {
		t.Errorf("upload wrote %d ledger rows", len(rows))
	}
}

func TestUpload_ConfigFetchFailureAbortsPush(t *testing.T) {
	db := testutil.TestLedger(t)
	pushCalled := false
	rc := &testutil.FakeRemote{
		FetchConfigurationFn: func(context.Context, models.Identity) ([]models.ConfigEntry, error) {
			return nil, fmt.Errorf("remote: down: %w", apperr.ErrRemoteUnavailable)
		},
		PushFn: func(context.Context, models.Identity, string, []models.ConfigEntry) error {
			pushCalled = true
			return nil
		},
	}
	svc := New(db, rc, 50, nil)

	err := svc.Upload(context.Background(), ident, "x")
	if !errors.Is(err, apperr.ErrConfigFetch) {
		t.Errorf("err = %v, want ErrConfigFetch", err)
	}
	if pushCalled {
		t.Error("push attempted despite configuration fetch failure")
	}
}

func TestLastCheckpointSkipsAutosaves(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := New(db, &testutil.FakeRemote{}, 50, nil)
	ctx := context.Background()

	_, _ = svc.Save(ctx, ident, "manual v1", models.OriginManual, "")
	_, _ = svc.Save(ctx, ident, "auto v2", models.OriginAutosave, "")
	_, _ = svc.Save(ctx, ident, "auto v3", models.OriginAutosave, "")

	cp, err := svc.LastCheckpoint(ctx, ident)
	if err != nil {
		t.Fatalf("LastCheckpoint: %v", err)
	}
	if cp == nil || cp.Content != "manual v1" {
		t.Errorf("checkpoint = %+v, want the manual row", cp)
	}
}

func TestResetHistoryKeepsRemoteSyncLineage(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := New(db, fetchOK("synced"), 50, nil)
	ctx := context.Background()

	_, _ = svc.Load(ctx, ident)
	_, _ = svc.Save(ctx, ident, "m", models.OriginManual, "")
	_, _ = svc.Save(ctx, ident, "a", models.OriginAutosave, "")

	n, err := svc.ResetHistory(ctx, ident)
	if err != nil {
		t.Fatalf("ResetHistory: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	rows, _ := db.ListDesc(ident)
	if len(rows) != 1 || rows[0].Origin != models.OriginRemoteSync {
		t.Errorf("rows = %+v", rows)
	}
}

func TestDeleteVersion(t *testing.T) {
	db := testutil.TestLedger(t)
	svc := New(db, &testutil.FakeRemote{}, 50, nil)
	ctx := context.Background()

	rowID, _ := svc.Save(ctx, ident, "x", models.OriginManual, "")
	if err := svc.DeleteVersion(ctx, rowID); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	if err := svc.DeleteVersion(ctx, rowID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestEventsEmitted(t *testing.T) {
	db := testutil.TestLedger(t)
	var kinds []string
	var mu sync.Mutex
	cb := func(kind string, _ models.Identity) {
		mu.Lock()
		kinds = append(kinds, kind)
		mu.Unlock()
	}
	svc := New(db, fetchOK("v"), 50, cb)
	ctx := context.Background()

	_, _ = svc.Load(ctx, ident)  // created
	_, _ = svc.Load(ctx, ident)  // bumped
	_, _ = svc.Save(ctx, ident, "m", models.OriginManual, "") // created

	want := []string{"version.created", "version.bumped", "version.created"}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}
