package domain

// Mapping associates a tracker ID issued by the order server with the
// backend-native ID of the torrent currently representing it.
type Mapping struct {
	TrackerID int64 `json:"tracker_id"`
	TorrentID int64 `json:"torrent_id"`
}
