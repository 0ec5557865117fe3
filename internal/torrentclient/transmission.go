package torrentclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	transmissionrpc "github.com/hekmon/transmissionrpc/v2"
	"github.com/sirupsen/logrus"

	"cdm-client/internal/domain"
)

var transmissionFields = []string{
	"id", "name", "status", "percentDone", "downloadDir", "addedDate",
	"totalSize", "eta", "hashString", "magnetLink", "torrentFile",
}

// transmissionAPI is the subset of *transmissionrpc.Client the adapter relies on.
type transmissionAPI interface {
	TorrentGet(ctx context.Context, fields []string, ids []int64) ([]transmissionrpc.Torrent, error)
	TorrentAdd(ctx context.Context, payload transmissionrpc.TorrentAddPayload) (transmissionrpc.Torrent, error)
	TorrentStartIDs(ctx context.Context, ids []int64) error
	TorrentStopIDs(ctx context.Context, ids []int64) error
	TorrentRemove(ctx context.Context, payload transmissionrpc.TorrentRemovePayload) error
	SessionArgumentsSet(ctx context.Context, payload transmissionrpc.SessionArguments) error
}

// Transmission adapts a Transmission RPC daemon. IDs are the daemon's sequential torrent IDs.
type Transmission struct {
	api    transmissionAPI
	logger *logrus.Logger
}

func NewTransmission(ctx context.Context, opts Options) (*Transmission, error) {
	opts = opts.withDefaults(TypeTransmission)
	api, err := transmissionrpc.New(opts.Host, opts.Username, opts.Password, &transmissionrpc.AdvancedConfig{
		Port: uint16(opts.Port),
	})
	if err != nil {
		return nil, fmt.Errorf("create transmission client: %w", err)
	}
	return newTransmission(ctx, api, opts.Logger)
}

func newTransmission(ctx context.Context, api transmissionAPI, logger *logrus.Logger) (*Transmission, error) {
	if logger == nil {
		logger = logrus.New()
	}
	renamePartial := false
	if err := api.SessionArgumentsSet(ctx, transmissionrpc.SessionArguments{RenamePartialFiles: &renamePartial}); err != nil {
		return nil, fmt.Errorf("configure transmission session: %w", err)
	}
	return &Transmission{api: api, logger: logger}, nil
}

func (t *Transmission) Status(ctx context.Context) ([]domain.TorrentStatus, error) {
	torrents, err := t.api.TorrentGet(ctx, transmissionFields, nil)
	if err != nil {
		return nil, fmt.Errorf("list transmission torrents: %w", err)
	}
	status := make([]domain.TorrentStatus, 0, len(torrents))
	for i := range torrents {
		status = append(status, transmissionStatus(&torrents[i]))
	}
	t.logger.Debugf("retrieved status of %d torrents", len(status))
	return status, nil
}

func (t *Transmission) StatusByID(ctx context.Context, id int64) (*domain.TorrentStatus, error) {
	torrent, err := t.get(ctx, id)
	if err != nil {
		return nil, err
	}
	status := transmissionStatus(torrent)
	return &status, nil
}

func (t *Transmission) get(ctx context.Context, id int64) (*transmissionrpc.Torrent, error) {
	torrents, err := t.api.TorrentGet(ctx, transmissionFields, []int64{id})
	if err != nil {
		return nil, fmt.Errorf("get transmission torrent %d: %w", id, err)
	}
	for i := range torrents {
		if torrents[i].ID != nil && *torrents[i].ID == id {
			return &torrents[i], nil
		}
	}
	return nil, fmt.Errorf("transmission torrent %d: %w", id, ErrNotFound)
}

// Add blocks until the daemon acknowledges the torrent, so the returned ID is final.
func (t *Transmission) Add(ctx context.Context, torrent []byte, downloadDir string) (*Added, error) {
	meta := base64.StdEncoding.EncodeToString(torrent)
	return t.add(ctx, transmissionrpc.TorrentAddPayload{MetaInfo: &meta}, downloadDir)
}

func (t *Transmission) add(ctx context.Context, payload transmissionrpc.TorrentAddPayload, downloadDir string) (*Added, error) {
	if downloadDir != "" {
		payload.DownloadDir = &downloadDir
	}
	created, err := t.api.TorrentAdd(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("add transmission torrent: %w", err)
	}
	if created.ID == nil {
		return nil, ErrIDNotResolved
	}
	added := &Added{ID: *created.ID, Hash: NormalizeHash(deref(created.HashString)), Name: deref(created.Name)}
	t.logger.WithField("torrent_id", added.ID).Infof("added torrent %s to %s", added.Name, downloadDir)
	return added, nil
}

func (t *Transmission) Pause(ctx context.Context, id int64) error {
	if err := t.api.TorrentStopIDs(ctx, []int64{id}); err != nil {
		return fmt.Errorf("stop transmission torrent %d: %w", id, err)
	}
	return nil
}

func (t *Transmission) Resume(ctx context.Context, id int64) error {
	if err := t.api.TorrentStartIDs(ctx, []int64{id}); err != nil {
		return fmt.Errorf("start transmission torrent %d: %w", id, err)
	}
	return nil
}

// Remove deletes the torrent together with its downloaded data.
func (t *Transmission) Remove(ctx context.Context, id int64) error {
	err := t.api.TorrentRemove(ctx, transmissionrpc.TorrentRemovePayload{
		IDs:             []int64{id},
		DeleteLocalData: true,
	})
	if err != nil {
		return fmt.Errorf("remove transmission torrent %d: %w", id, err)
	}
	return nil
}

func (t *Transmission) Items(ctx context.Context) ([]domain.MigrationItem, error) {
	torrents, err := t.api.TorrentGet(ctx, transmissionFields, nil)
	if err != nil {
		return nil, fmt.Errorf("list transmission torrents: %w", err)
	}
	items := make([]domain.MigrationItem, 0, len(torrents))
	for i := range torrents {
		torrent := &torrents[i]
		if torrent.ID == nil || torrent.HashString == nil {
			continue
		}
		item := domain.MigrationItem{
			SourceID:    *torrent.ID,
			Hash:        NormalizeHash(*torrent.HashString),
			Name:        deref(torrent.Name),
			DownloadDir: deref(torrent.DownloadDir),
			MagnetLink:  deref(torrent.MagnetLink),
		}
		var info *PayloadInfo
		item.Payload, info = t.readTorrentFile(deref(torrent.TorrentFile), item.Hash)
		if item.MagnetLink == "" && info != nil {
			item.MagnetLink = info.Magnet
		}
		items = append(items, item)
	}
	return items, nil
}

// readTorrentFile returns the daemon's stored .torrent when it is reachable from
// this host and describes the expected hash.
func (t *Transmission) readTorrentFile(path, hash string) ([]byte, *PayloadInfo) {
	if path == "" {
		return nil, nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		t.logger.WithField("hash", hash).Debugf("torrent file %s not readable: %v", path, err)
		return nil, nil
	}
	info, err := InspectPayload(payload)
	if err != nil || info.Hash != hash {
		t.logger.WithField("hash", hash).Debugf("torrent file %s does not match", path)
		return nil, nil
	}
	return payload, info
}

func (t *Transmission) HashIndex(ctx context.Context) (map[string]int64, error) {
	torrents, err := t.api.TorrentGet(ctx, []string{"id", "hashString"}, nil)
	if err != nil {
		return nil, fmt.Errorf("list transmission torrents: %w", err)
	}
	index := make(map[string]int64, len(torrents))
	for _, torrent := range torrents {
		if torrent.ID == nil || torrent.HashString == nil {
			continue
		}
		index[NormalizeHash(*torrent.HashString)] = *torrent.ID
	}
	return index, nil
}

// AddItem adds a migration item, preferring the raw payload over the magnet link.
func (t *Transmission) AddItem(ctx context.Context, item domain.MigrationItem) (int64, error) {
	var (
		added *Added
		err   error
	)
	switch {
	case len(item.Payload) > 0:
		added, err = t.Add(ctx, item.Payload, item.DownloadDir)
	case item.MagnetLink != "":
		link := item.MagnetLink
		added, err = t.add(ctx, transmissionrpc.TorrentAddPayload{Filename: &link}, item.DownloadDir)
	default:
		return 0, ErrNotTransferable
	}
	if err != nil {
		return 0, err
	}
	return added.ID, nil
}

func transmissionStatus(t *transmissionrpc.Torrent) domain.TorrentStatus {
	status := domain.TorrentStatus{
		ID:          derefInt(t.ID),
		Name:        deref(t.Name),
		Status:      domain.StatusUnknown,
		DownloadDir: deref(t.DownloadDir),
	}
	if t.Status != nil {
		status.Status = mapTransmissionStatus(*t.Status)
	}
	if t.PercentDone != nil {
		status.Progress = int(*t.PercentDone * 100)
	}
	if t.AddedDate != nil {
		status.AddedDate = float64(t.AddedDate.Unix())
	}
	if t.TotalSize != nil {
		status.TotalSize = int64(*t.TotalSize) / 8
	}
	if t.Eta != nil && *t.Eta >= 0 {
		eta := *t.Eta
		status.ETA = &eta
	}
	return status
}

var transmissionStatusMap = map[transmissionrpc.TorrentStatus]domain.Status{
	transmissionrpc.TorrentStatusStopped:      domain.StatusStopped,
	transmissionrpc.TorrentStatusCheckWait:    domain.StatusChecking,
	transmissionrpc.TorrentStatusCheck:        domain.StatusChecking,
	transmissionrpc.TorrentStatusDownloadWait: domain.StatusDownloadPending,
	transmissionrpc.TorrentStatusDownload:     domain.StatusDownloading,
	transmissionrpc.TorrentStatusSeedWait:     domain.StatusSeeding,
	transmissionrpc.TorrentStatusSeed:         domain.StatusSeeding,
}

func mapTransmissionStatus(s transmissionrpc.TorrentStatus) domain.Status {
	if mapped, ok := transmissionStatusMap[s]; ok {
		return mapped
	}
	return domain.StatusUnknown
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

var _ Migratable = (*Transmission)(nil)
