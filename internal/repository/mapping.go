package repository

import (
	"context"
	"errors"

	"cdm-client/internal/domain"
)

var (
	// ErrMappingNotFound is returned when no row matches the requested tracker or torrent ID.
	ErrMappingNotFound = errors.New("mapping not found")
	// ErrMappingConflict is returned when a write would violate a uniqueness constraint.
	ErrMappingConflict = errors.New("mapping conflict")
)

// Mappings are the tracker to torrent ID operations. Every call is atomic on its own.
type Mappings interface {
	CreateOrUpdate(ctx context.Context, trackerID, torrentID int64) error
	TorrentID(ctx context.Context, trackerID int64) (int64, error)
	TrackerID(ctx context.Context, torrentID int64) (int64, error)
	UpdateTorrentID(ctx context.Context, trackerID, torrentID int64) error
	Delete(ctx context.Context, torrentID int64) error
	List(ctx context.Context) ([]domain.Mapping, error)
}

// MappingRepository persists tracker to torrent ID mappings.
type MappingRepository interface {
	Mappings
	Init(ctx context.Context) error
	// WithTx runs fn against a single transaction, committing when fn returns
	// nil and rolling back on error or panic.
	WithTx(ctx context.Context, fn func(Mappings) error) error
}
