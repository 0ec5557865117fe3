package torrentclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"cdm-client/internal/domain"
)

var (
	// ErrNotFound is returned when no torrent carries the requested backend-native ID.
	ErrNotFound = errors.New("torrent not found")
	// ErrAddNotConfirmed is returned when a submitted torrent never became visible on the backend.
	ErrAddNotConfirmed = errors.New("torrent add not confirmed")
	// ErrIDNotResolved is returned when an add went through but the new backend-native ID could not be found.
	ErrIDNotResolved = errors.New("torrent id not resolved")
	// ErrNotTransferable is returned for migration items with neither payload nor magnet link.
	ErrNotTransferable = errors.New("no transferable payload or magnet")
)

// Added describes a torrent created by Client.Add.
type Added struct {
	ID   int64
	Hash string
	Name string
}

// Client is the capability set every torrent backend exposes to the agent.
// IDs are backend-native and only meaningful to the Client that produced them.
type Client interface {
	Status(ctx context.Context) ([]domain.TorrentStatus, error)
	StatusByID(ctx context.Context, id int64) (*domain.TorrentStatus, error)
	Add(ctx context.Context, torrent []byte, downloadDir string) (*Added, error)
	Pause(ctx context.Context, id int64) error
	Resume(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
}

// Migratable extends Client with the listings used to move torrents between backends.
type Migratable interface {
	Client
	Items(ctx context.Context) ([]domain.MigrationItem, error)
	HashIndex(ctx context.Context) (map[string]int64, error)
	AddItem(ctx context.Context, item domain.MigrationItem) (int64, error)
}

type Type string

const (
	TypeTransmission Type = "transmission"
	TypeQBittorrent  Type = "qbittorrent"
)

// Types lists the supported backends.
var Types = []Type{TypeTransmission, TypeQBittorrent}

func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(raw))); t {
	case TypeTransmission, TypeQBittorrent:
		return t, nil
	}
	return "", fmt.Errorf("unknown torrent client type %q (want %s or %s)", raw, TypeTransmission, TypeQBittorrent)
}

// DefaultPort returns the port the backend listens on out of the box.
func DefaultPort(t Type) int {
	if t == TypeTransmission {
		return 9091
	}
	return 8080
}

const DefaultHost = "127.0.0.1"

// Options carries connection parameters for a backend.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	Logger   *logrus.Logger
}

func (o Options) withDefaults(t Type) Options {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Port == 0 {
		o.Port = DefaultPort(t)
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	return o
}

// Endpoint returns host:port after defaults are applied.
func (o Options) Endpoint(t Type) string {
	o = o.withDefaults(t)
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// New connects to the backend selected by t.
func New(ctx context.Context, t Type, opts Options) (Migratable, error) {
	opts = opts.withDefaults(t)
	switch t {
	case TypeTransmission:
		return NewTransmission(ctx, opts)
	case TypeQBittorrent:
		return NewQBittorrent(ctx, opts)
	}
	return nil, fmt.Errorf("unknown torrent client type %q", t)
}
