package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/checksum"
	"github.com/starford/perthro/internal/models"
)

// storeErr wraps a database failure so callers can dispatch on
// apperr.ErrStoreUnavailable while keeping the underlying cause.
func storeErr(action string, err error) error {
	return fmt.Errorf("ledger: %s: %w", action, errors.Join(apperr.ErrStoreUnavailable, err))
}

// Insert appends a new version row stamped at ts and returns its id. It
// never deduplicates: every call creates a row, identical content included.
// The timestamp is the caller's because the service layer owns the clock.
func (db *DB) Insert(id models.Identity, content string, origin models.Origin, note string, ts int64) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO versions (owner, script, content, checksum, ts, origin, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id.Owner, id.Script, content, checksum.SumString(content), ts, string(origin), note)
	if err != nil {
		return 0, storeErr("insert", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("insert id", err)
	}
	return rowID, nil
}

const selectCols = `id, owner, script, content, checksum, ts, origin, note`

func scanRecord(row interface{ Scan(...any) error }) (*models.VersionRecord, error) {
	var r models.VersionRecord
	var origin string
	err := row.Scan(&r.ID, &r.Identity.Owner, &r.Identity.Script, &r.Content, &r.Checksum, &r.Timestamp, &origin, &r.Note)
	if err != nil {
		return nil, err
	}
	r.Origin = models.Origin(origin)
	return &r, nil
}

// ListDesc returns every version row for the identity, newest first.
// Ordering is (ts DESC, id DESC) so rows bumped to the same millisecond
// still have a total order.
func (db *DB) ListDesc(id models.Identity) ([]models.VersionRecord, error) {
	rows, err := db.conn.Query(`
		SELECT `+selectCols+` FROM versions
		WHERE owner = ? AND script = ?
		ORDER BY ts DESC, id DESC
	`, id.Owner, id.Script)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	var out []models.VersionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr("scan", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list rows", err)
	}
	return out, nil
}

func (db *DB) queryOne(query string, args ...any) (*models.VersionRecord, error) {
	r, err := scanRecord(db.conn.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("query one", err)
	}
	return r, nil
}

// Get returns a single row by id, or nil if it does not exist.
func (db *DB) Get(recordID int64) (*models.VersionRecord, error) {
	return db.queryOne(`
		SELECT `+selectCols+` FROM versions WHERE id = ?
	`, recordID)
}

// Latest returns the newest row of any origin, or nil if none exist.
func (db *DB) Latest(id models.Identity) (*models.VersionRecord, error) {
	return db.queryOne(`
		SELECT `+selectCols+` FROM versions
		WHERE owner = ? AND script = ?
		ORDER BY ts DESC, id DESC LIMIT 1
	`, id.Owner, id.Script)
}

// LatestRemoteSync returns the newest remote-sync row, or nil.
func (db *DB) LatestRemoteSync(id models.Identity) (*models.VersionRecord, error) {
	return db.queryOne(`
		SELECT `+selectCols+` FROM versions
		WHERE owner = ? AND script = ? AND origin = ?
		ORDER BY ts DESC, id DESC LIMIT 1
	`, id.Owner, id.Script, string(models.OriginRemoteSync))
}

// RemoteSyncs returns all remote-sync rows for the identity, newest first.
// The dedup gate compares the fetched content against every one of them,
// not just the latest.
func (db *DB) RemoteSyncs(id models.Identity) ([]models.VersionRecord, error) {
	rows, err := db.conn.Query(`
		SELECT `+selectCols+` FROM versions
		WHERE owner = ? AND script = ? AND origin = ?
		ORDER BY ts DESC, id DESC
	`, id.Owner, id.Script, string(models.OriginRemoteSync))
	if err != nil {
		return nil, storeErr("remote syncs", err)
	}
	defer rows.Close()

	var out []models.VersionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr("scan", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("remote syncs rows", err)
	}
	return out, nil
}

// LastCheckpoint returns the newest non-autosave row (manual or remote-sync),
// or nil if the identity has none.
func (db *DB) LastCheckpoint(id models.Identity) (*models.VersionRecord, error) {
	return db.queryOne(`
		SELECT `+selectCols+` FROM versions
		WHERE owner = ? AND script = ? AND origin != ?
		ORDER BY ts DESC, id DESC LIMIT 1
	`, id.Owner, id.Script, string(models.OriginAutosave))
}

// BumpTimestamp rewrites only the timestamp of an existing row. Used
// exclusively by the remote-sync dedup gate; content and note are untouched.
func (db *DB) BumpTimestamp(recordID int64, ts int64) error {
	res, err := db.conn.Exec(`UPDATE versions SET ts = ? WHERE id = ?`, ts, recordID)
	if err != nil {
		return storeErr("bump timestamp", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("bump timestamp", err)
	}
	if n == 0 {
		return fmt.Errorf("ledger: bump timestamp %d: %w", recordID, apperr.ErrNotFound)
	}
	return nil
}

// DeleteOne removes a single row by id.
func (db *DB) DeleteOne(recordID int64) error {
	res, err := db.conn.Exec(`DELETE FROM versions WHERE id = ?`, recordID)
	if err != nil {
		return storeErr("delete one", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete one", err)
	}
	if n == 0 {
		return fmt.Errorf("ledger: delete %d: %w", recordID, apperr.ErrNotFound)
	}
	return nil
}

// DeleteAllExceptRemoteSync resets local history for an identity, keeping
// only the remote-sync lineage. Returns the number of rows deleted.
func (db *DB) DeleteAllExceptRemoteSync(id models.Identity) (int64, error) {
	res, err := db.conn.Exec(`
		DELETE FROM versions
		WHERE owner = ? AND script = ? AND origin != ?
	`, id.Owner, id.Script, string(models.OriginRemoteSync))
	if err != nil {
		return 0, storeErr("reset history", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("reset history", err)
	}
	return n, nil
}

// DeleteAll removes every row for the identity.
func (db *DB) DeleteAll(id models.Identity) (int64, error) {
	res, err := db.conn.Exec(`
		DELETE FROM versions WHERE owner = ? AND script = ?
	`, id.Owner, id.Script)
	if err != nil {
		return 0, storeErr("delete all", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("delete all", err)
	}
	return n, nil
}

// CountAutosaves returns the number of autosave rows for the identity.
func (db *DB) CountAutosaves(id models.Identity) (int, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT count(*) FROM versions
		WHERE owner = ? AND script = ? AND origin = ?
	`, id.Owner, id.Script, string(models.OriginAutosave)).Scan(&n)
	if err != nil {
		return 0, storeErr("count autosaves", err)
	}
	return n, nil
}

// PruneAutosaves deletes the oldest autosave rows beyond the keep most
// recent, leaving min(keep, countBefore) autosave rows. Manual and
// remote-sync rows are untouched regardless of age.
func (db *DB) PruneAutosaves(id models.Identity, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := db.conn.Exec(`
		DELETE FROM versions
		WHERE owner = ? AND script = ? AND origin = ?
		  AND id NOT IN (
			SELECT id FROM versions
			WHERE owner = ? AND script = ? AND origin = ?
			ORDER BY ts DESC, id DESC
			LIMIT ?
		  )
	`, id.Owner, id.Script, string(models.OriginAutosave),
		id.Owner, id.Script, string(models.OriginAutosave), keep)
	if err != nil {
		return 0, storeErr("prune autosaves", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("prune autosaves", err)
	}
	return n, nil
}
