package torrentclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticID(t *testing.T) {
	tests := []struct {
		name string
		hash string
		want int64
	}{
		{name: "lowercase", hash: "aaaa1111bbbb2222cccc3333dddd4444eeee5555", want: 0xaaaa1111},
		{name: "uppercase", hash: "AAAA1111BBBB2222CCCC3333DDDD4444EEEE5555", want: 0xaaaa1111},
		{name: "max prefix", hash: "ffffffff00000000000000000000000000000000", want: 0xffffffff},
		{name: "invalid", hash: "zzzz", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SyntheticID(tt.hash))
		})
	}
}

func TestParseType(t *testing.T) {
	typ, err := ParseType(" Transmission ")
	require.NoError(t, err)
	assert.Equal(t, TypeTransmission, typ)

	typ, err = ParseType("qbittorrent")
	require.NoError(t, err)
	assert.Equal(t, TypeQBittorrent, typ)

	_, err = ParseType("deluge")
	assert.Error(t, err)
}

func TestOptionsEndpoint(t *testing.T) {
	assert.Equal(t, "127.0.0.1:9091", Options{}.Endpoint(TypeTransmission))
	assert.Equal(t, "127.0.0.1:8080", Options{}.Endpoint(TypeQBittorrent))
	assert.Equal(t, "seedbox:9000", Options{Host: "seedbox", Port: 9000}.Endpoint(TypeQBittorrent))
}

func TestInspectPayload(t *testing.T) {
	payload, hash := makeTorrent(t, "ubuntu.iso")

	info, err := InspectPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, hash, info.Hash)
	assert.Equal(t, "ubuntu.iso", info.Name)

	magnetHash, err := MagnetHash(info.Magnet)
	require.NoError(t, err)
	assert.Equal(t, hash, magnetHash)

	_, err = InspectPayload([]byte("not a torrent"))
	assert.Error(t, err)
}
