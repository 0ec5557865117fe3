package domain

import "fmt"

// MigrationItem is a source torrent normalized for transfer to another backend.
type MigrationItem struct {
	SourceID    int64
	Hash        string
	Name        string
	DownloadDir string
	MagnetLink  string
	Payload     []byte
}

// Transferable reports whether the item carries something a target backend can add.
func (i MigrationItem) Transferable() bool {
	return len(i.Payload) > 0 || i.MagnetLink != ""
}

func (i MigrationItem) String() string {
	return fmt.Sprintf("%s (%s)", i.Name, i.Hash)
}

// MigrationStats accumulates per-run counters.
type MigrationStats struct {
	Migrated         int
	SkippedDuplicate int
	FailedAdd        int
	FailedLookup     int
	FailedDBUpdate   int
	SourceRemoved    int
}

func (s MigrationStats) Failures() int {
	return s.FailedAdd + s.FailedLookup + s.FailedDBUpdate
}
