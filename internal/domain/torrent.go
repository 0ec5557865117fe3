package domain

type Status string

const (
	StatusDownloading     Status = "downloading"
	StatusSeeding         Status = "seeding"
	StatusStopped         Status = "stopped"
	StatusChecking        Status = "checking"
	StatusDownloadPending Status = "download pending"
	StatusUnknown         Status = "unknown"
)

// Valid reports whether s belongs to the normalized status set.
func (s Status) Valid() bool {
	switch s {
	case StatusDownloading, StatusSeeding, StatusStopped, StatusChecking, StatusDownloadPending, StatusUnknown:
		return true
	}
	return false
}

// TorrentStatus is the backend independent view of a torrent pushed to the order server.
type TorrentStatus struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Status      Status  `json:"status"`
	Progress    int     `json:"progress"`
	DownloadDir string  `json:"downloadDir"`
	AddedDate   float64 `json:"addedDate"`
	TotalSize   int64   `json:"totalSize"`
	ETA         *int64  `json:"eta"`
	TrackerID   *int64  `json:"tracker_id,omitempty"`
	IsDeleted   *bool   `json:"is_deleted,omitempty"`
}

// MarkDeleted flags the snapshot as a deletion event.
func (s *TorrentStatus) MarkDeleted() {
	deleted := true
	s.IsDeleted = &deleted
}
