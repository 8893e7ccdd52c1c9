package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SnapshotKey returns the cache key for an exam's session snapshot
func (r *CacheKeyStruct) SnapshotKey(examID string) string {
	return fmt.Sprintf("session:exam:%s:snapshot", examID)
}

// SnapshotIndexKey returns the cache key of the set holding every exam id with a snapshot
func (r *CacheKeyStruct) SnapshotIndexKey() string {
	return "session:snapshots"
}

var CacheKey = NewCacheKeyStruct()
