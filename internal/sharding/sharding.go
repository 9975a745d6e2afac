package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of change-feed partitions.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a scope value.
func GetShardID(scope string) int {
	checksum := crc32.ChecksumIEEE([]byte(scope))
	return int(checksum % ShardCount)
}

// ChangeSubject returns the NATS subject for changes of table rows within scope.
// Format: app.change.{table}.{shard_id}
func ChangeSubject(table, scope string) string {
	return fmt.Sprintf("app.change.%s.%d", table, GetShardID(scope))
}

// TableSubject matches every change subject of table.
func TableSubject(table string) string {
	return fmt.Sprintf("app.change.%s.*", table)
}
