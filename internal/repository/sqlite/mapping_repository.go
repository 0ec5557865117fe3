package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	msqlite "modernc.org/sqlite"

	"cdm-client/internal/domain"
	"cdm-client/internal/repository"
)

const createMappingTable = `
CREATE TABLE IF NOT EXISTS download_torrent_mapping (
	tracker_id INTEGER PRIMARY KEY,
	torrent_id INTEGER NOT NULL,
	CONSTRAINT unique_download_torrent UNIQUE (tracker_id, torrent_id)
);
CREATE INDEX IF NOT EXISTS idx_download_torrent_mapping_torrent_id ON download_torrent_mapping(torrent_id);
`

// sqliteConstraint is the primary result code for constraint violations.
const sqliteConstraint = 19

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MappingRepository struct {
	mappings
	db *sql.DB
}

func NewMappingRepository(db *sql.DB) *MappingRepository {
	return &MappingRepository{mappings: mappings{q: db}, db: db}
}

func (r *MappingRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createMappingTable); err != nil {
		return fmt.Errorf("create download_torrent_mapping table: %w", err)
	}
	return nil
}

func (r *MappingRepository) WithTx(ctx context.Context, fn func(repository.Mappings) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if err := fn(&mappings{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type mappings struct {
	q querier
}

func (m *mappings) CreateOrUpdate(ctx context.Context, trackerID, torrentID int64) error {
	_, err := m.q.ExecContext(ctx, `
INSERT INTO download_torrent_mapping (tracker_id, torrent_id)
VALUES (?, ?)
ON CONFLICT(tracker_id) DO UPDATE SET torrent_id=excluded.torrent_id`,
		trackerID,
		torrentID,
	)
	if err != nil {
		return fmt.Errorf("upsert mapping %d->%d: %w", trackerID, torrentID, classify(err))
	}
	return nil
}

func (m *mappings) TorrentID(ctx context.Context, trackerID int64) (int64, error) {
	var torrentID int64
	err := m.q.QueryRowContext(ctx, `SELECT torrent_id FROM download_torrent_mapping WHERE tracker_id=?`, trackerID).Scan(&torrentID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("tracker %d: %w", trackerID, repository.ErrMappingNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query torrent id: %w", err)
	}
	return torrentID, nil
}

// TrackerID returns the lowest tracker ID pointing at torrentID.
func (m *mappings) TrackerID(ctx context.Context, torrentID int64) (int64, error) {
	var trackerID int64
	err := m.q.QueryRowContext(ctx, `
SELECT tracker_id FROM download_torrent_mapping
WHERE torrent_id=?
ORDER BY tracker_id ASC
LIMIT 1`, torrentID).Scan(&trackerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("torrent %d: %w", torrentID, repository.ErrMappingNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query tracker id: %w", err)
	}
	return trackerID, nil
}

func (m *mappings) UpdateTorrentID(ctx context.Context, trackerID, torrentID int64) error {
	res, err := m.q.ExecContext(ctx, `UPDATE download_torrent_mapping SET torrent_id=? WHERE tracker_id=?`, torrentID, trackerID)
	if err != nil {
		return fmt.Errorf("update mapping %d->%d: %w", trackerID, torrentID, classify(err))
	}
	return expectRows(res, fmt.Sprintf("tracker %d", trackerID))
}

// Delete removes every mapping that points at torrentID.
func (m *mappings) Delete(ctx context.Context, torrentID int64) error {
	res, err := m.q.ExecContext(ctx, `DELETE FROM download_torrent_mapping WHERE torrent_id=?`, torrentID)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return expectRows(res, fmt.Sprintf("torrent %d", torrentID))
}

func (m *mappings) List(ctx context.Context) ([]domain.Mapping, error) {
	rows, err := m.q.QueryContext(ctx, `
SELECT tracker_id, torrent_id
FROM download_torrent_mapping
ORDER BY tracker_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	var out []domain.Mapping
	for rows.Next() {
		var mapping domain.Mapping
		if err := rows.Scan(&mapping.TrackerID, &mapping.TorrentID); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, mapping)
	}

	return out, rows.Err()
}

func expectRows(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, repository.ErrMappingNotFound)
	}
	return nil
}

func classify(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqliteConstraint {
		return fmt.Errorf("%w: %v", repository.ErrMappingConflict, err)
	}
	return err
}

var _ repository.MappingRepository = (*MappingRepository)(nil)
