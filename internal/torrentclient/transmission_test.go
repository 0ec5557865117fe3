package torrentclient

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	transmissionrpc "github.com/hekmon/transmissionrpc/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdm-client/internal/domain"
)

type fakeTransmission struct {
	torrents []transmissionrpc.Torrent
	nextID   int64

	session  *transmissionrpc.SessionArguments
	added    []transmissionrpc.TorrentAddPayload
	started  []int64
	stopped  []int64
	removed  []transmissionrpc.TorrentRemovePayload
	getCalls int
}

func (f *fakeTransmission) TorrentGet(_ context.Context, _ []string, ids []int64) ([]transmissionrpc.Torrent, error) {
	f.getCalls++
	if ids == nil {
		return f.torrents, nil
	}
	var out []transmissionrpc.Torrent
	for _, torrent := range f.torrents {
		for _, id := range ids {
			if torrent.ID != nil && *torrent.ID == id {
				out = append(out, torrent)
			}
		}
	}
	return out, nil
}

func (f *fakeTransmission) TorrentAdd(_ context.Context, payload transmissionrpc.TorrentAddPayload) (transmissionrpc.Torrent, error) {
	f.added = append(f.added, payload)
	f.nextID++
	return transmissionrpc.Torrent{ID: ptr(f.nextID), Name: ptr("added"), HashString: ptr(hashA)}, nil
}

func (f *fakeTransmission) TorrentStartIDs(_ context.Context, ids []int64) error {
	f.started = append(f.started, ids...)
	return nil
}

func (f *fakeTransmission) TorrentStopIDs(_ context.Context, ids []int64) error {
	f.stopped = append(f.stopped, ids...)
	return nil
}

func (f *fakeTransmission) TorrentRemove(_ context.Context, payload transmissionrpc.TorrentRemovePayload) error {
	f.removed = append(f.removed, payload)
	return nil
}

func (f *fakeTransmission) SessionArgumentsSet(_ context.Context, payload transmissionrpc.SessionArguments) error {
	f.session = &payload
	return nil
}

func newTestTransmission(t *testing.T, api *fakeTransmission) *Transmission {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	tr, err := newTransmission(context.Background(), api, logger)
	require.NoError(t, err)
	return tr
}

func TestMapTransmissionStatus(t *testing.T) {
	tests := []struct {
		status transmissionrpc.TorrentStatus
		want   domain.Status
	}{
		{transmissionrpc.TorrentStatusStopped, domain.StatusStopped},
		{transmissionrpc.TorrentStatusCheckWait, domain.StatusChecking},
		{transmissionrpc.TorrentStatusCheck, domain.StatusChecking},
		{transmissionrpc.TorrentStatusDownloadWait, domain.StatusDownloadPending},
		{transmissionrpc.TorrentStatusDownload, domain.StatusDownloading},
		{transmissionrpc.TorrentStatusSeedWait, domain.StatusSeeding},
		{transmissionrpc.TorrentStatusSeed, domain.StatusSeeding},
		{transmissionrpc.TorrentStatus(42), domain.StatusUnknown},
		{transmissionrpc.TorrentStatus(-1), domain.StatusUnknown},
	}

	for _, tt := range tests {
		got := mapTransmissionStatus(tt.status)
		assert.Equal(t, tt.want, got, "status %d", tt.status)
		assert.True(t, got.Valid())
	}
}

func TestTransmissionDisablesPartialFileRename(t *testing.T) {
	api := &fakeTransmission{}
	newTestTransmission(t, api)

	require.NotNil(t, api.session)
	require.NotNil(t, api.session.RenamePartialFiles)
	assert.False(t, *api.session.RenamePartialFiles)
}

func TestTransmissionStatus(t *testing.T) {
	added := time.Unix(1700000000, 0)
	api := &fakeTransmission{torrents: []transmissionrpc.Torrent{
		{
			ID:          ptr(int64(3)),
			Name:        ptr("linux.iso"),
			Status:      ptr(transmissionrpc.TorrentStatusDownload),
			PercentDone: ptr(0.456),
			DownloadDir: ptr("/data"),
			AddedDate:   &added,
			Eta:         ptr(int64(90)),
		},
		{
			ID:          ptr(int64(4)),
			Name:        ptr("done.iso"),
			Status:      ptr(transmissionrpc.TorrentStatusSeed),
			PercentDone: ptr(1.0),
			Eta:         ptr(int64(-1)),
		},
	}}
	tr := newTestTransmission(t, api)

	status, err := tr.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status, 2)

	assert.Equal(t, int64(3), status[0].ID)
	assert.Equal(t, domain.StatusDownloading, status[0].Status)
	assert.Equal(t, 45, status[0].Progress)
	assert.Equal(t, float64(1700000000), status[0].AddedDate)
	require.NotNil(t, status[0].ETA)
	assert.Equal(t, int64(90), *status[0].ETA)

	assert.Equal(t, domain.StatusSeeding, status[1].Status)
	assert.Equal(t, 100, status[1].Progress)
	assert.Nil(t, status[1].ETA)
}

func TestTransmissionStatusByIDNotFound(t *testing.T) {
	tr := newTestTransmission(t, &fakeTransmission{})

	_, err := tr.StatusByID(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransmissionControl(t *testing.T) {
	api := &fakeTransmission{}
	tr := newTestTransmission(t, api)
	ctx := context.Background()

	require.NoError(t, tr.Pause(ctx, 5))
	require.NoError(t, tr.Resume(ctx, 6))
	require.NoError(t, tr.Remove(ctx, 7))

	assert.Equal(t, []int64{5}, api.stopped)
	assert.Equal(t, []int64{6}, api.started)
	require.Len(t, api.removed, 1)
	assert.Equal(t, []int64{7}, api.removed[0].IDs)
	assert.True(t, api.removed[0].DeleteLocalData)
}

func TestTransmissionAdd(t *testing.T) {
	api := &fakeTransmission{nextID: 10}
	tr := newTestTransmission(t, api)

	added, err := tr.Add(context.Background(), []byte("payload"), "/downloads")
	require.NoError(t, err)
	assert.Equal(t, int64(11), added.ID)

	require.Len(t, api.added, 1)
	require.NotNil(t, api.added[0].MetaInfo)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("payload")), *api.added[0].MetaInfo)
	assert.Equal(t, "/downloads", *api.added[0].DownloadDir)
}

func TestTransmissionAddItemPrefersPayload(t *testing.T) {
	api := &fakeTransmission{}
	tr := newTestTransmission(t, api)

	id, err := tr.AddItem(context.Background(), domain.MigrationItem{
		Hash:       hashA,
		MagnetLink: "magnet:?xt=urn:btih:" + hashA,
		Payload:    []byte("payload"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	require.Len(t, api.added, 1)
	assert.NotNil(t, api.added[0].MetaInfo)
	assert.Nil(t, api.added[0].Filename)

	_, err = tr.AddItem(context.Background(), domain.MigrationItem{Hash: hashB, MagnetLink: "magnet:?xt=urn:btih:" + hashB})
	require.NoError(t, err)
	require.Len(t, api.added, 2)
	require.NotNil(t, api.added[1].Filename)
	assert.Nil(t, api.added[1].MetaInfo)
}

func TestTransmissionItems(t *testing.T) {
	payload, hash := makeTorrent(t, "kept.iso")
	dir := t.TempDir()
	good := filepath.Join(dir, "good.torrent")
	require.NoError(t, os.WriteFile(good, payload, 0o644))

	api := &fakeTransmission{torrents: []transmissionrpc.Torrent{
		{ID: ptr(int64(1)), HashString: ptr(hash), Name: ptr("kept.iso"), DownloadDir: ptr("/a"), TorrentFile: ptr(good)},
		{ID: ptr(int64(2)), HashString: ptr(hashB), Name: ptr("B"), MagnetLink: ptr("magnet:?xt=urn:btih:" + hashB), TorrentFile: ptr(good)},
		{ID: ptr(int64(3)), HashString: ptr("CCCC"), TorrentFile: ptr(filepath.Join(dir, "missing.torrent"))},
	}}
	tr := newTestTransmission(t, api)

	items, err := tr.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, payload, items[0].Payload)
	assert.Equal(t, "/a", items[0].DownloadDir)
	magnetHash, err := MagnetHash(items[0].MagnetLink)
	require.NoError(t, err, "magnet link is derived from the stored .torrent")
	assert.Equal(t, hash, magnetHash)
	assert.Equal(t, "magnet:?xt=urn:btih:"+hashB, items[1].MagnetLink)
	assert.Nil(t, items[1].Payload, "payload of another torrent must not be used")
	assert.True(t, items[1].Transferable())
	assert.Equal(t, "cccc", items[2].Hash)
	assert.False(t, items[2].Transferable())

	index, err := tr.HashIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{hash: 1, hashB: 2, "cccc": 3}, index)
}
