// Package testutil provides shared test helpers: temporary ledgers and a
// scriptable fake of the remote hosting service.
package testutil

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/starford/perthro/internal/ledger"
	"github.com/starford/perthro/internal/models"
)

// TestLedger creates a temporary SQLite ledger that is automatically
// cleaned up.
func TestLedger(t *testing.T) *ledger.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "perthro-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := ledger.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// FakeRemote implements remote.Client with overridable behavior per method.
// Unset methods fail, so tests only wire what they exercise.
type FakeRemote struct {
	FetchContentFn       func(ctx context.Context, id models.Identity) (string, error)
	FetchConfigurationFn func(ctx context.Context, id models.Identity) ([]models.ConfigEntry, error)
	PushFn               func(ctx context.Context, id models.Identity, content string, cfg []models.ConfigEntry) error
}

func (f *FakeRemote) FetchContent(ctx context.Context, id models.Identity) (string, error) {
	if f.FetchContentFn == nil {
		return "", errors.New("testutil: FetchContent not wired")
	}
	return f.FetchContentFn(ctx, id)
}

func (f *FakeRemote) FetchConfiguration(ctx context.Context, id models.Identity) ([]models.ConfigEntry, error) {
	if f.FetchConfigurationFn == nil {
		return nil, errors.New("testutil: FetchConfiguration not wired")
	}
	return f.FetchConfigurationFn(ctx, id)
}

func (f *FakeRemote) Push(ctx context.Context, id models.Identity, content string, cfg []models.ConfigEntry) error {
	if f.PushFn == nil {
		return errors.New("testutil: Push not wired")
	}
	return f.PushFn(ctx, id, content, cfg)
}
