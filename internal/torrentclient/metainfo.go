package torrentclient

import (
	"bytes"
	"fmt"

	"github.com/anacrolix/torrent/metainfo"
)

// PayloadInfo is what can be learned from raw .torrent bytes without a backend.
type PayloadInfo struct {
	Hash   string
	Name   string
	Magnet string
}

// InspectPayload decodes a .torrent payload.
func InspectPayload(payload []byte) (*PayloadInfo, error) {
	mi, err := metainfo.Load(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decode torrent: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("decode torrent info: %w", err)
	}
	hash := mi.HashInfoBytes()
	return &PayloadInfo{
		Hash:   NormalizeHash(hash.HexString()),
		Name:   info.BestName(),
		Magnet: mi.Magnet(&hash, &info).String(),
	}, nil
}

// MagnetHash extracts the info hash from a magnet link.
func MagnetHash(link string) (string, error) {
	m, err := metainfo.ParseMagnetUri(link)
	if err != nil {
		return "", fmt.Errorf("parse magnet: %w", err)
	}
	return NormalizeHash(m.InfoHash.HexString()), nil
}
