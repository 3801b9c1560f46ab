// Package storage persists show history and bus values across restarts.
//
// It supports:
//   - Event history appends (function runs, flashes, removals)
//   - Bus values, restored into the registry at startup
package storage
