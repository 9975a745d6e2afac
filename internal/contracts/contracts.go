package contracts

import "time"

// ChangeEvent is the row change published by the Postgres store and consumed
// by the JetStream realtime feed.
type ChangeEvent struct {
	EventID    string         `json:"event_id"`
	Kind       string         `json:"kind"`
	Table      string         `json:"table"`
	Old        map[string]any `json:"old,omitempty"`
	New        map[string]any `json:"new,omitempty"`
	CommitTime time.Time      `json:"commit_time"`
	ShardID    int            `json:"shard_id"`
}
