package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cdm-client/internal/domain"
	"cdm-client/internal/repository"
	"cdm-client/internal/torrentclient"
)

// Archiver stores a copy of a .torrent payload before it is handed to the target.
type Archiver interface {
	ArchiveTorrent(ctx context.Context, hash string, payload []byte) (string, error)
}

// Migrator copies every torrent of Source into Target and repoints the tracker
// mappings at the new IDs. Nothing is ever removed from Source.
type Migrator struct {
	Source     torrentclient.Migratable
	Target     torrentclient.Migratable
	TargetType torrentclient.Type
	// Mappings is not touched during a dry run and may be nil then.
	Mappings repository.MappingRepository
	Archive  Archiver
	DryRun   bool
	Logger   *logrus.Logger
	Out      io.Writer
}

type run struct {
	*Migrator
	log      *logrus.Entry
	report   *Report
	index    map[string]int64
	trackers map[int64][]int64
}

// Run migrates all source items once. The returned error covers failures that
// stop the whole run; per-item failures are only recorded in the report.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	if m.Logger == nil {
		m.Logger = logrus.New()
	}
	if m.Out == nil {
		m.Out = os.Stdout
	}
	r := &run{
		Migrator: m,
		log:      m.Logger.WithField("run", uuid.NewString()),
		report:   &Report{DryRun: m.DryRun},
	}
	r.log.Infof("migrating to %s (dry run: %t)", m.TargetType, m.DryRun)

	items, err := m.Source.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source torrents: %w", err)
	}
	r.index, err = m.Target.HashIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("index target torrents: %w", err)
	}
	if !m.DryRun {
		if r.trackers, err = r.loadTrackers(ctx); err != nil {
			return nil, err
		}
	}
	r.log.Infof("%d source torrents, %d already on target", len(items), len(r.index))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return r.report, err
		}
		r.migrate(ctx, item)
	}
	return r.report, nil
}

// loadTrackers snapshots the mapping table as source ID -> tracker IDs so a row
// repointed during this run is never matched again by another item.
func (r *run) loadTrackers(ctx context.Context) (map[int64][]int64, error) {
	trackers := map[int64][]int64{}
	if r.Mappings == nil {
		return trackers, nil
	}
	mappings, err := r.Mappings.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}
	for _, m := range mappings {
		trackers[m.TorrentID] = append(trackers[m.TorrentID], m.TrackerID)
	}
	return trackers, nil
}

func (r *run) migrate(ctx context.Context, item domain.MigrationItem) {
	log := r.log.WithField("hash", item.Hash)
	stats := &r.report.Stats

	if targetID, ok := r.index[item.Hash]; ok {
		stats.SkippedDuplicate++
		log.Debugf("%s already on target as %d", item.Name, targetID)
		if r.DryRun {
			return
		}
		if err := r.reconcile(ctx, item.SourceID, targetID); err != nil {
			log.Errorf("reconcile duplicate: %v", err)
			stats.FailedDBUpdate++
			r.report.fail(item, "duplicate mapping update failed")
		}
		return
	}

	if !item.Transferable() {
		stats.FailedAdd++
		r.report.fail(item, "no transferable payload or magnet")
		return
	}

	if r.DryRun {
		fmt.Fprintf(r.Out, "DRY-RUN migrate: %s %s -> %s path=%s\n", item.Name, item.Hash, r.TargetType, item.DownloadDir)
		return
	}

	r.archive(ctx, log, item)

	targetID, err := r.Target.AddItem(ctx, item)
	if errors.Is(err, torrentclient.ErrIDNotResolved) {
		log.Warnf("add %s: %v", item.Name, err)
		stats.FailedLookup++
		r.report.fail(item, "added but target id lookup failed")
		return
	}
	if err != nil {
		log.Errorf("add %s: %v", item.Name, err)
		stats.FailedAdd++
		r.report.fail(item, fmt.Sprintf("add failed: %v", err))
		return
	}

	r.index[item.Hash] = targetID
	stats.Migrated++
	log.Infof("migrated %s: %d -> %d", item.Name, item.SourceID, targetID)

	if err := r.reconcile(ctx, item.SourceID, targetID); err != nil {
		log.Errorf("reconcile: %v", err)
		stats.FailedDBUpdate++
		r.report.fail(item, fmt.Sprintf("mapping update failed %d->%d", item.SourceID, targetID))
	}
}

// reconcile repoints every tracker that pointed at sourceID to targetID.
// Having no tracker for the source torrent is not an error.
func (r *run) reconcile(ctx context.Context, sourceID, targetID int64) error {
	trackers := r.trackers[sourceID]
	if len(trackers) == 0 || r.Mappings == nil {
		return nil
	}
	err := r.Mappings.WithTx(ctx, func(m repository.Mappings) error {
		for _, trackerID := range trackers {
			r.log.Debugf("source_id=%d, target_id=%d, tracker_id=%d", sourceID, targetID, trackerID)
			if err := m.UpdateTorrentID(ctx, trackerID, targetID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	delete(r.trackers, sourceID)
	return nil
}

func (r *run) archive(ctx context.Context, log *logrus.Entry, item domain.MigrationItem) {
	if r.Archive == nil || len(item.Payload) == 0 {
		return
	}
	location, err := r.Archive.ArchiveTorrent(ctx, item.Hash, item.Payload)
	if err != nil {
		log.Warnf("archive torrent: %v", err)
		return
	}
	log.Debugf("archived to %s", location)
}
