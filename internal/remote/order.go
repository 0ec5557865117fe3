package remote

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

type Action string

const (
	ActionStop   Action = "stop"
	ActionStart  Action = "start"
	ActionDelete Action = "delete"
)

// Instruction is one control action addressed to a backend-native torrent ID.
// TorrentID is nil when the server sent no usable torrent_id.
type Instruction struct {
	Action    Action
	TorrentID *int64
}

// Order is the work the server has queued for this agent.
type Order struct {
	// Files maps tracker IDs to the directory the torrent must be saved in.
	Files        map[int64]string
	Instructions []Instruction
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var raw struct {
		Files        map[string]string            `json:"files"`
		Instructions []map[string]json.RawMessage `json:"instructions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	o.Files = make(map[int64]string, len(raw.Files))
	for key, path := range raw.Files {
		trackerID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("tracker id %q: %w", key, err)
		}
		o.Files[trackerID] = path
	}

	o.Instructions = o.Instructions[:0]
	for _, entry := range raw.Instructions {
		actions := make([]string, 0, len(entry))
		for action := range entry {
			actions = append(actions, action)
		}
		sort.Strings(actions)

		for _, action := range actions {
			var params struct {
				TorrentID *int64 `json:"torrent_id"`
			}
			// unknown actions may carry any shape
			_ = json.Unmarshal(entry[action], &params)
			o.Instructions = append(o.Instructions, Instruction{Action: Action(action), TorrentID: params.TorrentID})
		}
	}
	return nil
}

// TrackerIDs returns the file keys in ascending order.
func (o *Order) TrackerIDs() []int64 {
	ids := make([]int64, 0, len(o.Files))
	for id := range o.Files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (o *Order) Empty() bool {
	return len(o.Files) == 0 && len(o.Instructions) == 0
}
