package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jittakal/kafcsvconnect/pkg/connector"
)

// Keys of the source partition and source offset maps attached to records.
const (
	SourcePartitionKey = "path"
	SourceOffsetKey    = "offset"
)

// SourcePartition returns the source partition identifying the file at path.
func SourcePartition(path string) map[string]string {
	return map[string]string{SourcePartitionKey: path}
}

// OffsetCache remembers, per file path, the index of the last line that was
// already turned into records. Entries are loaded lazily from the offset
// store, once per path, and never evicted.
//
// OffsetCache is not safe for concurrent use.
type OffsetCache struct {
	store   connector.OffsetReader
	offsets map[string]int64
}

// NewOffsetCache creates an empty cache backed by store.
func NewOffsetCache(store connector.OffsetReader) *OffsetCache {
	return &OffsetCache{
		store:   store,
		offsets: make(map[string]int64),
	}
}

// LoadIfNeeded loads the stored offset of path unless it is cached already.
// A path without a stored offset caches 0.
func (c *OffsetCache) LoadIfNeeded(ctx context.Context, path string) error {
	if _, ok := c.offsets[path]; ok {
		return nil
	}

	stored, found, err := c.store.Offset(ctx, SourcePartition(path))
	if err != nil {
		return fmt.Errorf("failed to load offset of %s: %w", path, err)
	}

	var offset int64
	if found {
		offset, err = parseOffset(stored[SourceOffsetKey])
		if err != nil {
			return fmt.Errorf("invalid offset stored for %s: %w", path, err)
		}
	}

	c.offsets[path] = offset
	return nil
}

// Get returns the cached line index of path, 0 when nothing was loaded.
func (c *OffsetCache) Get(path string) int64 {
	return c.offsets[path]
}

// parseOffset accepts the numeric shapes an offset takes after a round trip
// through the host runtime's offset storage.
func parseOffset(v any) (int64, error) {
	var offset int64
	switch val := v.(type) {
	case nil:
		return 0, nil
	case int:
		offset = int64(val)
	case int32:
		offset = int64(val)
	case int64:
		offset = val
	case float64:
		offset = int64(val)
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return 0, err
		}
		offset = n
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, err
		}
		offset = n
	default:
		return 0, fmt.Errorf("unexpected offset type %T", v)
	}

	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}
	return offset, nil
}
