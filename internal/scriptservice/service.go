// Package scriptservice orchestrates the version ledger and the remote
// script service: reconciled loads, manual/autosave recording, retention,
// and publishing edited content back to the remote side.
package scriptservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/checksum"
	"github.com/starford/perthro/internal/ledger"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/remote"
)

// DefaultMaxAutosaves is the retention window applied when the configured
// limit is zero or negative.
const DefaultMaxAutosaves = 50

// EventCallback is called after each ledger mutation. kind is one of
// "version.created", "version.bumped", "version.pruned", "version.deleted",
// "history.reset".
type EventCallback func(kind string, id models.Identity)

// LoadStatus classifies the outcome of a Load.
type LoadStatus string

const (
	// LoadFresh means the content came from the remote service.
	LoadFresh LoadStatus = "fresh"
	// LoadDegraded means the remote fetch failed and the content was
	// served from the local ledger.
	LoadDegraded LoadStatus = "degraded"
)

// LoadOutcome is the result of a successful Load. For a degraded load,
// Notice carries the remote fetch error for display.
type LoadOutcome struct {
	Status  LoadStatus
	Content string
	Record  *models.VersionRecord
	Notice  error
}

// Service coordinates ledger and remote operations.
type Service struct {
	db     ledger.Store
	remote remote.Client
	keep   int
	locks  keyedMutex
	events EventCallback

	now func() int64 // epoch millis; swapped in tests
}

// New creates a script service keeping at most keep autosave rows per
// identity. cb may be nil.
func New(db ledger.Store, rc remote.Client, keep int, cb EventCallback) *Service {
	if keep <= 0 {
		keep = DefaultMaxAutosaves
	}
	return &Service{
		db:     db,
		remote: rc,
		keep:   keep,
		events: cb,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

func (s *Service) emit(kind string, id models.Identity) {
	if s.events != nil {
		s.events(kind, id)
	}
}

// Load returns the current script content, preferring the remote service.
// On remote success the fetched snapshot is recorded (or its existing
// remote-sync row re-timestamped) before returning. On a locally
// recoverable remote failure the newest ledger row of any origin is served
// as a degraded result. The whole fetch→dedup→insert/bump region holds the
// identity lock so concurrent loads cannot double-insert a remote-sync row.
func (s *Service) Load(ctx context.Context, id models.Identity) (*LoadOutcome, error) {
	unlock := s.locks.lock(id.Key())
	defer unlock()

	content, fetchErr := s.remote.FetchContent(ctx, id)
	if fetchErr == nil {
		if err := ctx.Err(); err != nil {
			// Cancelled between fetch and record; leave the ledger untouched.
			return nil, err
		}
		rec, err := s.syncRemote(id, content)
		if err != nil {
			return nil, err
		}
		return &LoadOutcome{Status: LoadFresh, Content: content, Record: rec}, nil
	}

	// Auth failures and outright rejections are not recoverable from the
	// local cache; only unavailability (and a missing remote script) fall
	// back to history.
	if errors.Is(fetchErr, apperr.ErrRemoteAuth) || errors.Is(fetchErr, apperr.ErrRemoteRejected) {
		return nil, fetchErr
	}

	latest, err := s.db.Latest(id)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("load %s: %w", id.Key(), errors.Join(apperr.ErrNoData, fetchErr))
	}
	return &LoadOutcome{
		Status:  LoadDegraded,
		Content: latest.Content,
		Record:  latest,
		Notice:  fetchErr,
	}, nil
}

// syncRemote is the dedup gate: if any existing remote-sync row carries
// byte-identical content, its timestamp is bumped to now so it reappears at
// the top of the timeline; otherwise a new remote-sync row is inserted.
// Caller must hold the identity lock.
func (s *Service) syncRemote(id models.Identity, content string) (*models.VersionRecord, error) {
	rows, err := s.db.RemoteSyncs(id)
	if err != nil {
		return nil, err
	}
	cs := checksum.SumString(content)
	ts := s.now()
	for i := range rows {
		r := &rows[i]
		// Checksum is the fast path; the content compare keeps the
		// equality byte-for-byte.
		if r.Checksum == cs && r.Content == content {
			if err := s.db.BumpTimestamp(r.ID, ts); err != nil {
				return nil, err
			}
			r.Timestamp = ts
			s.emit("version.bumped", id)
			return r, nil
		}
	}
	rowID, err := s.db.Insert(id, content, models.OriginRemoteSync, "remote-sync", ts)
	if err != nil {
		return nil, err
	}
	s.emit("version.created", id)
	return &models.VersionRecord{
		ID:        rowID,
		Identity:  id,
		Content:   content,
		Checksum:  cs,
		Timestamp: ts,
		Origin:    models.OriginRemoteSync,
		Note:      "remote-sync",
	}, nil
}

// Save records a manual or autosave snapshot. It never deduplicates: every
// save is a distinct historical event even when content is unchanged.
// Autosaves are best-effort: a store failure is logged and dropped so it
// cannot interrupt the editing experience. Autosaves also trigger a
// retention prune.
// Manual save failures propagate.
func (s *Service) Save(_ context.Context, id models.Identity, content string, origin models.Origin, note string) (int64, error) {
	if origin != models.OriginManual && origin != models.OriginAutosave {
		return 0, fmt.Errorf("save %s: origin %q not allowed", id.Key(), origin)
	}

	unlock := s.locks.lock(id.Key())
	defer unlock()

	rowID, err := s.db.Insert(id, content, origin, note, s.now())
	if err != nil {
		if origin == models.OriginAutosave {
			slog.Warn("autosave dropped", slog.String("identity", id.Key()), slog.String("error", err.Error()))
			return 0, nil
		}
		return 0, err
	}
	s.emit("version.created", id)

	if origin == models.OriginAutosave {
		pruned, err := s.db.PruneAutosaves(id, s.keep)
		if err != nil {
			slog.Warn("autosave prune failed", slog.String("identity", id.Key()), slog.String("error", err.Error()))
		} else if pruned > 0 {
			s.emit("version.pruned", id)
		}
	}
	return rowID, nil
}

// Upload publishes edited content to the remote service. The current
// binding configuration is fetched first and carried forward (minus
// secret-typed entries, whose values cannot be read back); if that fetch
// fails the push is not attempted at all. Upload never writes the ledger;
// publishing is not a history event.
func (s *Service) Upload(ctx context.Context, id models.Identity, content string) error {
	cfg, err := s.remote.FetchConfiguration(ctx, id)
	if err != nil {
		return fmt.Errorf("upload %s: %w", id.Key(), errors.Join(apperr.ErrConfigFetch, err))
	}
	kept := cfg[:0]
	for _, e := range cfg {
		if !e.Secret() {
			kept = append(kept, e)
		}
	}
	return s.remote.Push(ctx, id, content, kept)
}

// History returns all version rows for the identity, newest first.
func (s *Service) History(_ context.Context, id models.Identity) ([]models.VersionRecord, error) {
	return s.db.ListDesc(id)
}

// LastCheckpoint returns the newest non-autosave snapshot, or nil when the
// identity has none. Applying it is the caller's business: restoring a
// checkpoint replaces the editing buffer, it does not write a ledger row.
func (s *Service) LastCheckpoint(_ context.Context, id models.Identity) (*models.VersionRecord, error) {
	return s.db.LastCheckpoint(id)
}

// DeleteVersion removes one row by id, any origin. Explicit user action is
// the only way remote-sync and manual rows leave the ledger.
func (s *Service) DeleteVersion(_ context.Context, recordID int64) error {
	rec, err := s.db.Get(recordID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("delete version %d: %w", recordID, apperr.ErrNotFound)
	}

	unlock := s.locks.lock(rec.Identity.Key())
	defer unlock()

	if err := s.db.DeleteOne(recordID); err != nil {
		return err
	}
	s.emit("version.deleted", rec.Identity)
	return nil
}

// ResetHistory deletes every manual and autosave row for the identity,
// keeping only the remote-sync lineage.
func (s *Service) ResetHistory(_ context.Context, id models.Identity) (int64, error) {
	unlock := s.locks.lock(id.Key())
	defer unlock()

	n, err := s.db.DeleteAllExceptRemoteSync(id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.emit("history.reset", id)
	}
	return n, nil
}

// PurgeHistory deletes every row for the identity.
func (s *Service) PurgeHistory(_ context.Context, id models.Identity) (int64, error) {
	unlock := s.locks.lock(id.Key())
	defer unlock()

	n, err := s.db.DeleteAll(id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.emit("history.reset", id)
	}
	return n, nil
}
