package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdm-client/internal/domain"
	"cdm-client/internal/remote"
	"cdm-client/internal/repository"
	"cdm-client/internal/repository/sqlite"
	"cdm-client/internal/torrentclient"
)

type fakeClient struct {
	torrents []domain.TorrentStatus
	nextID   int64

	added   []string
	paused  []int64
	resumed []int64
	removed []int64
	addErr  error
}

func (f *fakeClient) Status(context.Context) ([]domain.TorrentStatus, error) {
	return append([]domain.TorrentStatus(nil), f.torrents...), nil
}

func (f *fakeClient) StatusByID(_ context.Context, id int64) (*domain.TorrentStatus, error) {
	for _, s := range f.torrents {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, torrentclient.ErrNotFound
}

func (f *fakeClient) Add(_ context.Context, torrent []byte, dir string) (*torrentclient.Added, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.nextID++
	f.added = append(f.added, dir)
	f.torrents = append(f.torrents, domain.TorrentStatus{ID: f.nextID, Name: string(torrent), Status: domain.StatusDownloading, DownloadDir: dir})
	return &torrentclient.Added{ID: f.nextID, Name: string(torrent)}, nil
}

func (f *fakeClient) Pause(_ context.Context, id int64) error {
	f.paused = append(f.paused, id)
	return nil
}

func (f *fakeClient) Resume(_ context.Context, id int64) error {
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeClient) Remove(_ context.Context, id int64) error {
	f.removed = append(f.removed, id)
	kept := f.torrents[:0]
	for _, s := range f.torrents {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	f.torrents = kept
	return nil
}

type fakeServer struct {
	mu       sync.Mutex
	order    *remote.Order
	payloads map[int64][]byte
	pushErr  error
	pushes   [][]domain.TorrentStatus
	fetches  int
}

func (f *fakeServer) PushStatus(_ context.Context, status []domain.TorrentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, status)
	return nil
}

func (f *fakeServer) FetchOrder(context.Context) (*remote.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.order == nil {
		return &remote.Order{}, nil
	}
	order := f.order
	f.order = nil
	return order, nil
}

func (f *fakeServer) DownloadTorrent(_ context.Context, trackerID int64) ([]byte, error) {
	payload, ok := f.payloads[trackerID]
	if !ok {
		return nil, fmt.Errorf("tracker %d: %w", trackerID, remote.ErrUnexpectedStatus)
	}
	return payload, nil
}

func newTestAgent(t *testing.T, client *fakeClient, server *fakeServer) (*Agent, repository.MappingRepository) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "cdm_client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewMappingRepository(db)
	require.NoError(t, repo.Init(context.Background()))

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return New(Config{Interval: time.Millisecond, Logger: logger}, client, repo, server), repo
}

func torrentID(v int64) *int64 {
	return &v
}

func TestCycleAddsOrderedFiles(t *testing.T) {
	client := &fakeClient{nextID: 40}
	server := &fakeServer{
		order:    &remote.Order{Files: map[int64]string{5: "/downloads/five", 2: "/downloads/two"}},
		payloads: map[int64][]byte{2: []byte("two"), 5: []byte("five")},
	}
	a, repo := newTestAgent(t, client, server)
	ctx := context.Background()

	require.NoError(t, a.RunCycle(ctx))

	assert.Equal(t, []string{"/downloads/two", "/downloads/five"}, client.added)
	got, err := repo.TorrentID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(41), got)
	got, err = repo.TorrentID(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	// no instructions, so only the opening push
	assert.Len(t, server.pushes, 1)

	require.NoError(t, a.RunCycle(ctx))
	require.Len(t, server.pushes, 2)
	for _, s := range server.pushes[1] {
		require.NotNil(t, s.TrackerID)
	}
}

func TestCycleWithEmptyOrder(t *testing.T) {
	client := &fakeClient{torrents: []domain.TorrentStatus{{ID: 1, Status: domain.StatusSeeding}}}
	server := &fakeServer{order: &remote.Order{Files: map[int64]string{}}}
	a, _ := newTestAgent(t, client, server)

	require.NoError(t, a.RunCycle(context.Background()))

	assert.Equal(t, 1, server.fetches)
	assert.Len(t, server.pushes, 1)
	assert.Empty(t, client.added)
}

func TestCycleSkipsFailedFile(t *testing.T) {
	client := &fakeClient{}
	server := &fakeServer{
		order:    &remote.Order{Files: map[int64]string{1: "/missing", 2: "/ok"}},
		payloads: map[int64][]byte{2: []byte("ok")},
	}
	a, repo := newTestAgent(t, client, server)
	ctx := context.Background()

	require.NoError(t, a.RunCycle(ctx))

	_, err := repo.TorrentID(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrMappingNotFound)
	_, err = repo.TorrentID(ctx, 2)
	assert.NoError(t, err)
}

func TestCycleDeleteInstruction(t *testing.T) {
	client := &fakeClient{torrents: []domain.TorrentStatus{
		{ID: 3, Name: "gone", Status: domain.StatusSeeding},
		{ID: 4, Name: "stays", Status: domain.StatusSeeding},
	}}
	server := &fakeServer{order: &remote.Order{Instructions: []remote.Instruction{
		{Action: remote.ActionDelete, TorrentID: torrentID(3)},
	}}}
	a, repo := newTestAgent(t, client, server)
	ctx := context.Background()
	require.NoError(t, repo.CreateOrUpdate(ctx, 9, 3))

	require.NoError(t, a.RunCycle(ctx))

	assert.Equal(t, []int64{3}, client.removed)
	_, err := repo.TrackerID(ctx, 3)
	assert.ErrorIs(t, err, repository.ErrMappingNotFound)

	// opening push, deletion pushed twice, closing push
	require.Len(t, server.pushes, 4)
	for _, push := range server.pushes[1:3] {
		require.Len(t, push, 1)
		assert.Equal(t, int64(3), push[0].ID)
		require.NotNil(t, push[0].IsDeleted)
		assert.True(t, *push[0].IsDeleted)
		require.NotNil(t, push[0].TrackerID)
		assert.Equal(t, int64(9), *push[0].TrackerID)
	}
	require.Len(t, server.pushes[3], 1)
	assert.Equal(t, int64(4), server.pushes[3][0].ID)

	snapshot, last := a.Snapshot()
	assert.Len(t, snapshot, 1)
	assert.False(t, last.IsZero())
}

func TestCycleControlInstructions(t *testing.T) {
	client := &fakeClient{torrents: []domain.TorrentStatus{{ID: 1}, {ID: 2}}}
	server := &fakeServer{order: &remote.Order{Instructions: []remote.Instruction{
		{Action: remote.ActionStop, TorrentID: torrentID(1)},
		{Action: "reboot"},
		{Action: remote.ActionStart},
		{Action: remote.ActionStart, TorrentID: torrentID(2)},
	}}}
	a, _ := newTestAgent(t, client, server)

	require.NoError(t, a.RunCycle(context.Background()))

	assert.Equal(t, []int64{1}, client.paused)
	assert.Equal(t, []int64{2}, client.resumed)
	assert.Len(t, server.pushes, 2)
}

func TestCycleDeleteOfVanishedTorrent(t *testing.T) {
	client := &fakeClient{}
	server := &fakeServer{order: &remote.Order{Instructions: []remote.Instruction{
		{Action: remote.ActionDelete, TorrentID: torrentID(8)},
	}}}
	a, repo := newTestAgent(t, client, server)
	ctx := context.Background()
	require.NoError(t, repo.CreateOrUpdate(ctx, 1, 8))

	require.NoError(t, a.RunCycle(ctx))

	assert.Empty(t, client.removed)
	_, err := repo.TorrentID(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrMappingNotFound)
}

func TestCycleFailsWhenPushFails(t *testing.T) {
	server := &fakeServer{pushErr: errors.New("connection refused")}
	a, _ := newTestAgent(t, &fakeClient{}, server)

	err := a.RunCycle(context.Background())
	assert.Error(t, err)
	assert.Zero(t, server.fetches)
}

func TestRunKeepsGoingAfterFailures(t *testing.T) {
	server := &fakeServer{pushErr: errors.New("connection refused")}
	a, _ := newTestAgent(t, &fakeClient{}, server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, last := a.Snapshot()
		return !last.IsZero() && time.Since(last) < time.Second
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	_, err := reg.Gather()
	require.NoError(t, err)
}
