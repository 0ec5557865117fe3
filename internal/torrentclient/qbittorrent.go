package torrentclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/go-qbittorrent"
	"github.com/sirupsen/logrus"

	"cdm-client/internal/domain"
)

const (
	addPollAttempts = 20
	addPollInterval = 500 * time.Millisecond

	// qBittorrent reports 8640000 (100 days) for an unknown ETA.
	qbittorrentInfiniteETA = 8640000

	defaultQBittorrentUsername = "admin"
	defaultQBittorrentPassword = "adminadmin"
)

// qbittorrentAPI is the subset of *qbittorrent.Client the adapter relies on.
type qbittorrentAPI interface {
	GetTorrentsCtx(ctx context.Context, o qbittorrent.TorrentFilterOptions) ([]qbittorrent.Torrent, error)
	AddTorrentFromMemoryCtx(ctx context.Context, buf []byte, options map[string]string) error
	AddTorrentFromUrlCtx(ctx context.Context, url string, options map[string]string) error
	PauseCtx(ctx context.Context, hashes []string) error
	ResumeCtx(ctx context.Context, hashes []string) error
	DeleteTorrentsCtx(ctx context.Context, hashes []string, deleteFiles bool) error
	ExportTorrentCtx(ctx context.Context, hash string) ([]byte, error)
}

// QBittorrent adapts the qBittorrent Web API. Torrents are addressed by content
// hash there, so the adapter exposes SyntheticID values and resolves them by
// scanning the torrent list.
type QBittorrent struct {
	api          qbittorrentAPI
	logger       *logrus.Logger
	pollAttempts int
	pollInterval time.Duration
}

func NewQBittorrent(ctx context.Context, opts Options) (*QBittorrent, error) {
	opts = opts.withDefaults(TypeQBittorrent)
	if opts.Username == "" && opts.Password == "" {
		opts.Username = defaultQBittorrentUsername
		opts.Password = defaultQBittorrentPassword
	}
	host := opts.Host
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	client := qbittorrent.NewClient(qbittorrent.Config{
		Host:     fmt.Sprintf("%s:%d", host, opts.Port),
		Username: opts.Username,
		Password: opts.Password,
	})
	if err := client.LoginCtx(ctx); err != nil {
		return nil, fmt.Errorf("qbittorrent login: %w", err)
	}
	return newQBittorrent(client, opts.Logger), nil
}

func newQBittorrent(api qbittorrentAPI, logger *logrus.Logger) *QBittorrent {
	if logger == nil {
		logger = logrus.New()
	}
	return &QBittorrent{
		api:          api,
		logger:       logger,
		pollAttempts: addPollAttempts,
		pollInterval: addPollInterval,
	}
}

func (q *QBittorrent) list(ctx context.Context) ([]qbittorrent.Torrent, error) {
	torrents, err := q.api.GetTorrentsCtx(ctx, qbittorrent.TorrentFilterOptions{Sort: "added_on"})
	if err != nil {
		return nil, fmt.Errorf("list qbittorrent torrents: %w", err)
	}
	return torrents, nil
}

func (q *QBittorrent) Status(ctx context.Context) ([]domain.TorrentStatus, error) {
	torrents, err := q.list(ctx)
	if err != nil {
		return nil, err
	}
	status := make([]domain.TorrentStatus, 0, len(torrents))
	for i := range torrents {
		status = append(status, qbittorrentStatus(&torrents[i]))
	}
	q.logger.Debugf("retrieved status of %d torrents", len(status))
	return status, nil
}

func (q *QBittorrent) StatusByID(ctx context.Context, id int64) (*domain.TorrentStatus, error) {
	torrent, err := q.byID(ctx, id)
	if err != nil {
		return nil, err
	}
	status := qbittorrentStatus(torrent)
	return &status, nil
}

func (q *QBittorrent) byID(ctx context.Context, id int64) (*qbittorrent.Torrent, error) {
	torrents, err := q.list(ctx)
	if err != nil {
		return nil, err
	}
	for i := range torrents {
		if SyntheticID(torrents[i].Hash) == id {
			return &torrents[i], nil
		}
	}
	return nil, fmt.Errorf("qbittorrent torrent %d: %w", id, ErrNotFound)
}

// Add submits the payload and waits for the torrent list to change. The Web API
// does not report what it created, so the torrent matching the payload hash is
// taken when visible, otherwise the most recently added one.
func (q *QBittorrent) Add(ctx context.Context, torrent []byte, downloadDir string) (*Added, error) {
	var hash string
	if info, err := InspectPayload(torrent); err == nil {
		hash = info.Hash
	} else {
		q.logger.Warnf("inspect torrent payload: %v", err)
	}

	before, err := q.list(ctx)
	if err != nil {
		return nil, err
	}
	if existing := findHash(before, hash); existing != nil {
		q.logger.WithField("hash", hash).Infof("torrent %s already present", existing.Name)
		return qbittorrentAdded(existing), nil
	}

	options := map[string]string{"sequentialDownload": "true"}
	if downloadDir != "" {
		options["savepath"] = downloadDir
	}
	if err := q.api.AddTorrentFromMemoryCtx(ctx, torrent, options); err != nil {
		return nil, fmt.Errorf("add qbittorrent torrent: %w", err)
	}

	after, err := q.waitForChange(ctx, hashSet(before))
	if err != nil {
		return nil, err
	}
	created := findHash(after, hash)
	if created == nil {
		created = latest(after)
	}
	if created == nil {
		return nil, ErrAddNotConfirmed
	}
	q.logger.WithField("hash", created.Hash).Infof("added torrent %s to %s", created.Name, downloadDir)
	return qbittorrentAdded(created), nil
}

// waitForChange polls until the set of hashes differs from before.
func (q *QBittorrent) waitForChange(ctx context.Context, before map[string]struct{}) ([]qbittorrent.Torrent, error) {
	return q.poll(ctx, func(torrents []qbittorrent.Torrent) bool {
		if len(torrents) != len(before) {
			return true
		}
		for i := range torrents {
			if _, ok := before[NormalizeHash(torrents[i].Hash)]; !ok {
				return true
			}
		}
		return false
	}, ErrAddNotConfirmed)
}

func (q *QBittorrent) waitForHash(ctx context.Context, hash string) ([]qbittorrent.Torrent, error) {
	return q.poll(ctx, func(torrents []qbittorrent.Torrent) bool {
		return findHash(torrents, hash) != nil
	}, ErrIDNotResolved)
}

func (q *QBittorrent) poll(ctx context.Context, done func([]qbittorrent.Torrent) bool, exhausted error) ([]qbittorrent.Torrent, error) {
	for attempt := 0; attempt < q.pollAttempts; attempt++ {
		torrents, err := q.list(ctx)
		if err != nil {
			return nil, err
		}
		if done(torrents) {
			return torrents, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
	return nil, exhausted
}

func (q *QBittorrent) Pause(ctx context.Context, id int64) error {
	torrent, err := q.byID(ctx, id)
	if err != nil {
		return err
	}
	if err := q.api.PauseCtx(ctx, []string{torrent.Hash}); err != nil {
		return fmt.Errorf("pause qbittorrent torrent %s: %w", torrent.Hash, err)
	}
	return nil
}

func (q *QBittorrent) Resume(ctx context.Context, id int64) error {
	torrent, err := q.byID(ctx, id)
	if err != nil {
		return err
	}
	if err := q.api.ResumeCtx(ctx, []string{torrent.Hash}); err != nil {
		return fmt.Errorf("resume qbittorrent torrent %s: %w", torrent.Hash, err)
	}
	return nil
}

// Remove deletes the torrent together with its downloaded data.
func (q *QBittorrent) Remove(ctx context.Context, id int64) error {
	torrent, err := q.byID(ctx, id)
	if err != nil {
		return err
	}
	if err := q.api.DeleteTorrentsCtx(ctx, []string{torrent.Hash}, true); err != nil {
		return fmt.Errorf("delete qbittorrent torrent %s: %w", torrent.Hash, err)
	}
	return nil
}

func (q *QBittorrent) Items(ctx context.Context) ([]domain.MigrationItem, error) {
	torrents, err := q.list(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]domain.MigrationItem, 0, len(torrents))
	for _, torrent := range torrents {
		hash := NormalizeHash(torrent.Hash)
		item := domain.MigrationItem{
			SourceID:    SyntheticID(hash),
			Hash:        hash,
			Name:        torrent.Name,
			DownloadDir: torrent.SavePath,
			MagnetLink:  torrent.MagnetURI,
		}
		payload, err := q.api.ExportTorrentCtx(ctx, hash)
		if err != nil {
			q.logger.WithField("hash", hash).Debugf("export torrent: %v", err)
		} else {
			item.Payload = payload
		}
		if item.MagnetLink == "" && len(item.Payload) > 0 {
			if info, err := InspectPayload(item.Payload); err == nil {
				item.MagnetLink = info.Magnet
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func (q *QBittorrent) HashIndex(ctx context.Context) (map[string]int64, error) {
	torrents, err := q.list(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int64, len(torrents))
	for _, torrent := range torrents {
		hash := NormalizeHash(torrent.Hash)
		index[hash] = SyntheticID(hash)
	}
	return index, nil
}

// AddItem adds a migration item, preferring the raw payload over the magnet
// link, and returns the synthetic ID of the item's hash once it is visible.
func (q *QBittorrent) AddItem(ctx context.Context, item domain.MigrationItem) (int64, error) {
	switch {
	case len(item.Payload) > 0:
		added, err := q.Add(ctx, item.Payload, item.DownloadDir)
		if errors.Is(err, ErrAddNotConfirmed) {
			return 0, fmt.Errorf("%w: %v", ErrIDNotResolved, err)
		}
		if err != nil {
			return 0, err
		}
		if added.Hash == item.Hash {
			return added.ID, nil
		}
	case item.MagnetLink != "":
		options := map[string]string{}
		if item.DownloadDir != "" {
			options["savepath"] = item.DownloadDir
		}
		if err := q.api.AddTorrentFromUrlCtx(ctx, item.MagnetLink, options); err != nil {
			return 0, fmt.Errorf("add qbittorrent magnet: %w", err)
		}
		// the daemon lists the torrent under the magnet's own hash
		if hash, err := MagnetHash(item.MagnetLink); err == nil && hash != item.Hash {
			q.logger.WithField("hash", item.Hash).Warnf("magnet carries hash %s", hash)
			item.Hash = hash
		}
	default:
		return 0, ErrNotTransferable
	}

	if _, err := q.waitForHash(ctx, item.Hash); err != nil {
		return 0, err
	}
	return SyntheticID(item.Hash), nil
}

func qbittorrentStatus(t *qbittorrent.Torrent) domain.TorrentStatus {
	status := domain.TorrentStatus{
		ID:          SyntheticID(t.Hash),
		Name:        t.Name,
		Status:      mapQBittorrentState(t.State),
		Progress:    int(t.Progress * 100),
		DownloadDir: t.SavePath,
		AddedDate:   float64(t.AddedOn),
		TotalSize:   t.Size,
	}
	if t.ETA >= 0 && t.ETA < qbittorrentInfiniteETA {
		eta := t.ETA
		status.ETA = &eta
	}
	return status
}

var qbittorrentStateMap = map[qbittorrent.TorrentState]domain.Status{
	qbittorrent.TorrentStateError:              domain.StatusStopped,
	qbittorrent.TorrentStateMissingFiles:       domain.StatusStopped,
	qbittorrent.TorrentStateUploading:          domain.StatusSeeding,
	qbittorrent.TorrentStatePausedUp:           domain.StatusStopped,
	qbittorrent.TorrentState("stoppedUP"):      domain.StatusStopped,
	qbittorrent.TorrentStateQueuedUp:           domain.StatusStopped,
	qbittorrent.TorrentStateStalledUp:          domain.StatusSeeding,
	qbittorrent.TorrentStateCheckingUp:         domain.StatusChecking,
	qbittorrent.TorrentStateForcedUp:           domain.StatusSeeding,
	qbittorrent.TorrentStateAllocating:         domain.StatusChecking,
	qbittorrent.TorrentStateDownloading:        domain.StatusDownloading,
	qbittorrent.TorrentStateMetaDl:             domain.StatusDownloading,
	qbittorrent.TorrentState("forcedMetaDL"):   domain.StatusDownloading,
	qbittorrent.TorrentStatePausedDl:           domain.StatusStopped,
	qbittorrent.TorrentState("stoppedDL"):      domain.StatusStopped,
	qbittorrent.TorrentStateQueuedDl:           domain.StatusDownloadPending,
	qbittorrent.TorrentStateForcedDl:           domain.StatusDownloading,
	qbittorrent.TorrentStateStalledDl:          domain.StatusStopped,
	qbittorrent.TorrentStateCheckingDl:         domain.StatusChecking,
	qbittorrent.TorrentStateCheckingResumeData: domain.StatusChecking,
	qbittorrent.TorrentStateMoving:             domain.StatusChecking,
	qbittorrent.TorrentStateUnknown:            domain.StatusUnknown,
}

func mapQBittorrentState(state qbittorrent.TorrentState) domain.Status {
	if mapped, ok := qbittorrentStateMap[state]; ok {
		return mapped
	}
	return domain.StatusUnknown
}

func qbittorrentAdded(t *qbittorrent.Torrent) *Added {
	hash := NormalizeHash(t.Hash)
	return &Added{ID: SyntheticID(hash), Hash: hash, Name: t.Name}
}

func findHash(torrents []qbittorrent.Torrent, hash string) *qbittorrent.Torrent {
	if hash == "" {
		return nil
	}
	for i := range torrents {
		if NormalizeHash(torrents[i].Hash) == hash {
			return &torrents[i]
		}
	}
	return nil
}

func latest(torrents []qbittorrent.Torrent) *qbittorrent.Torrent {
	var newest *qbittorrent.Torrent
	for i := range torrents {
		if newest == nil || torrents[i].AddedOn >= newest.AddedOn {
			newest = &torrents[i]
		}
	}
	return newest
}

func hashSet(torrents []qbittorrent.Torrent) map[string]struct{} {
	set := make(map[string]struct{}, len(torrents))
	for i := range torrents {
		set[NormalizeHash(torrents[i].Hash)] = struct{}{}
	}
	return set
}

var _ Migratable = (*QBittorrent)(nil)
