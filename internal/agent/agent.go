package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cdm-client/internal/domain"
	"cdm-client/internal/remote"
	"cdm-client/internal/repository"
	"cdm-client/internal/torrentclient"
)

// OrderServer is the remote side of the agent.
type OrderServer interface {
	PushStatus(ctx context.Context, status []domain.TorrentStatus) error
	FetchOrder(ctx context.Context) (*remote.Order, error)
	DownloadTorrent(ctx context.Context, trackerID int64) ([]byte, error)
}

type Config struct {
	Interval time.Duration
	Logger   *logrus.Logger
}

// Agent pushes torrent status to the order server and executes what it orders.
type Agent struct {
	cfg      Config
	client   torrentclient.Client
	mappings repository.MappingRepository
	server   OrderServer

	mu        sync.RWMutex
	snapshot  []domain.TorrentStatus
	lastCycle time.Time
}

func New(cfg Config, client torrentclient.Client, mappings repository.MappingRepository, server OrderServer) *Agent {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Agent{
		cfg:      cfg,
		client:   client,
		mappings: mappings,
		server:   server,
	}
}

// Run executes cycles until ctx is cancelled. A failed cycle never stops the loop.
func (a *Agent) Run(ctx context.Context) {
	a.cfg.Logger.Infof("agent started, interval %s", a.cfg.Interval)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			a.cfg.Logger.Info("agent stopped")
			return
		case <-timer.C:
		}

		if err := a.RunCycle(ctx); err != nil && ctx.Err() == nil {
			a.cfg.Logger.Errorf("cycle failed: %v", err)
		}
		timer.Reset(a.cfg.Interval)
	}
}

// RunCycle performs one push, pull and execute round.
func (a *Agent) RunCycle(ctx context.Context) error {
	start := time.Now()
	log := a.cfg.Logger.WithField("cycle", uuid.NewString())

	err := a.cycle(ctx, log)

	CycleDuration.Observe(time.Since(start).Seconds())
	CyclesTotal.WithLabelValues(result(err)).Inc()
	a.mu.Lock()
	a.lastCycle = start
	a.mu.Unlock()
	return err
}

func (a *Agent) cycle(ctx context.Context, log *logrus.Entry) error {
	if err := a.pushCurrentStatus(ctx); err != nil {
		return err
	}

	order, err := a.server.FetchOrder(ctx)
	if err != nil {
		return fmt.Errorf("fetch order: %w", err)
	}
	if order.Empty() {
		log.Debug("nothing ordered")
		return nil
	}

	for _, trackerID := range order.TrackerIDs() {
		if err := a.addFile(ctx, log, trackerID, order.Files[trackerID]); err != nil {
			log.WithField("tracker_id", trackerID).Errorf("add ordered file: %v", err)
		}
	}

	if len(order.Instructions) == 0 {
		return nil
	}
	for _, instruction := range order.Instructions {
		err := a.execute(ctx, log, instruction)
		InstructionsTotal.WithLabelValues(string(instruction.Action), result(err)).Inc()
		if err != nil {
			log.Errorf("instruction %s: %v", instruction.Action, err)
		}
	}
	return a.pushCurrentStatus(ctx)
}

// Status returns the client's status enriched with tracker IDs.
func (a *Agent) Status(ctx context.Context) ([]domain.TorrentStatus, error) {
	status, err := a.client.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("get client status: %w", err)
	}

	mappings, err := a.mappings.List(ctx)
	if err != nil {
		a.cfg.Logger.Warnf("list mappings: %v", err)
		return status, nil
	}
	trackers := make(map[int64]int64, len(mappings))
	for _, m := range mappings {
		if _, ok := trackers[m.TorrentID]; !ok {
			trackers[m.TorrentID] = m.TrackerID
		}
	}
	for i := range status {
		if trackerID, ok := trackers[status[i].ID]; ok {
			status[i].TrackerID = &trackerID
		}
	}
	return status, nil
}

func (a *Agent) pushCurrentStatus(ctx context.Context) error {
	status, err := a.Status(ctx)
	if err != nil {
		return err
	}
	if err := a.push(ctx, status); err != nil {
		return err
	}

	Torrents.Set(float64(len(status)))
	a.mu.Lock()
	a.snapshot = status
	a.mu.Unlock()
	return nil
}

func (a *Agent) push(ctx context.Context, status []domain.TorrentStatus) error {
	err := a.server.PushStatus(ctx, status)
	StatusPushesTotal.WithLabelValues(result(err)).Inc()
	if err != nil {
		return fmt.Errorf("push status: %w", err)
	}
	return nil
}

func (a *Agent) addFile(ctx context.Context, log *logrus.Entry, trackerID int64, dir string) (err error) {
	defer func() { TorrentsAddedTotal.WithLabelValues(result(err)).Inc() }()

	payload, err := a.server.DownloadTorrent(ctx, trackerID)
	if err != nil {
		return fmt.Errorf("download torrent: %w", err)
	}
	added, err := a.client.Add(ctx, payload, dir)
	if err != nil {
		return err
	}

	log = log.WithFields(logrus.Fields{"tracker_id": trackerID, "torrent_id": added.ID})
	log.Infof("downloading torrent %s to %s", added.Name, dir)
	if err := a.mappings.CreateOrUpdate(ctx, trackerID, added.ID); err != nil {
		log.Errorf("record mapping: %v", err)
	}
	return nil
}

func (a *Agent) execute(ctx context.Context, log *logrus.Entry, instruction remote.Instruction) error {
	log.Infof("received instruction %s", instruction.Action)
	switch instruction.Action {
	case remote.ActionStop, remote.ActionStart, remote.ActionDelete:
	default:
		log.Warnf("unknown instruction action: %s", instruction.Action)
		return nil
	}
	if instruction.TorrentID == nil {
		return errors.New("instruction without torrent_id")
	}

	id := *instruction.TorrentID
	log = log.WithField("torrent_id", id)
	switch instruction.Action {
	case remote.ActionStop:
		if err := a.client.Pause(ctx, id); err != nil {
			return err
		}
		log.Info("stopped torrent")
	case remote.ActionStart:
		if err := a.client.Resume(ctx, id); err != nil {
			return err
		}
		log.Info("started torrent")
	case remote.ActionDelete:
		return a.delete(ctx, log, id)
	}
	return nil
}

// delete removes a torrent and its data. The deletion snapshot is pushed both
// before and after the mapping row is dropped.
func (a *Agent) delete(ctx context.Context, log *logrus.Entry, id int64) error {
	status, err := a.client.StatusByID(ctx, id)
	if errors.Is(err, torrentclient.ErrNotFound) {
		log.Warn("torrent to delete is already gone")
		a.deleteMapping(ctx, log, id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("capture deletion status: %w", err)
	}
	status.MarkDeleted()
	if trackerID, err := a.mappings.TrackerID(ctx, id); err == nil {
		status.TrackerID = &trackerID
	}

	if err := a.client.Remove(ctx, id); err != nil {
		return err
	}
	snapshot := []domain.TorrentStatus{*status}
	if err := a.push(ctx, snapshot); err != nil {
		log.Warnf("first deletion push: %v", err)
	}
	a.deleteMapping(ctx, log, id)
	if err := a.push(ctx, snapshot); err != nil {
		return err
	}
	log.Info("removed torrent and data")
	return nil
}

func (a *Agent) deleteMapping(ctx context.Context, log *logrus.Entry, id int64) {
	if err := a.mappings.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrMappingNotFound) {
			log.Debug("no mapping to delete")
			return
		}
		log.Errorf("delete mapping: %v", err)
	}
}

// Snapshot returns the last status pushed and when the last cycle started.
func (a *Agent) Snapshot() ([]domain.TorrentStatus, time.Time) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.TorrentStatus, len(a.snapshot))
	copy(out, a.snapshot)
	return out, a.lastCycle
}
