package ledger

import "github.com/starford/perthro/internal/models"

// Store defines the version-ledger operations. Consumers should depend on
// this interface rather than the concrete *DB type to facilitate testing
// with mocks.
type Store interface {
	Insert(id models.Identity, content string, origin models.Origin, note string, ts int64) (int64, error)
	Get(recordID int64) (*models.VersionRecord, error)
	ListDesc(id models.Identity) ([]models.VersionRecord, error)
	Latest(id models.Identity) (*models.VersionRecord, error)
	LatestRemoteSync(id models.Identity) (*models.VersionRecord, error)
	RemoteSyncs(id models.Identity) ([]models.VersionRecord, error)
	BumpTimestamp(recordID int64, ts int64) error
	DeleteOne(recordID int64) error
	DeleteAllExceptRemoteSync(id models.Identity) (int64, error)
	DeleteAll(id models.Identity) (int64, error)
	CountAutosaves(id models.Identity) (int, error)
	PruneAutosaves(id models.Identity, keep int) (int64, error)
	LastCheckpoint(id models.Identity) (*models.VersionRecord, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
