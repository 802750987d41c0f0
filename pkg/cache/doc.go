// Package cache provides a read-through rule cache in front of a
// store.Store.
//
// The in-process tier is an expirable LRU. An optional Redis tier is
// shared between nodes. Entries are JSON encoded in both tiers, so cached
// values are never aliased between callers.
package cache
