package opt

import (
	"encoding/json"

	"github.com/golang/snappy"

	"github.com/brilang/go-bril/bril"
	"github.com/brilang/go-bril/brildb"
	"github.com/brilang/go-bril/common"
	"github.com/brilang/go-bril/common/lru"
	"github.com/brilang/go-bril/log"
	"github.com/brilang/go-bril/metrics"
)

var (
	cacheHitMeter     = metrics.NewRegisteredMeter("opt/cache/hit", nil)
	cacheMissMeter    = metrics.NewRegisteredMeter("opt/cache/miss", nil)
	cacheCorruptMeter = metrics.NewRegisteredMeter("opt/cache/corrupt", nil)
)

// cacheKeyPrefix namespaces cache entries in the backing store.
var cacheKeyPrefix = []byte("f")

// CacheKey identifies one (function, pipeline) pair: the hash covers the
// function's serialized body and the ordered pass names, so a changed pipeline
// never resurrects stale artifacts.
func CacheKey(fn *bril.Function, passes []Pass) (common.Hash, error) {
	data, err := json.Marshal(fn)
	if err != nil {
		return common.Hash{}, err
	}
	names := make([]byte, 0, 64)
	for _, p := range passes {
		names = append(names, p.Name...)
		names = append(names, 0)
	}
	return bril.HashBytes(data, names), nil
}

// Cache holds optimized function bodies keyed by CacheKey, in a fixed-size
// memory layer over an optional persistent one. Both layers store the same
// representation, snappy-compressed JSON; entries are decoded and revalidated
// on every hit so a corrupt store degrades to misses, never to bad output.
type Cache struct {
	mem  *lru.Cache[common.Hash, []byte]
	disk brildb.KeyValueStore
}

// NewCache creates a cache holding up to entries function bodies in memory,
// spilling to disk when it is non-nil.
func NewCache(entries int, disk brildb.KeyValueStore) *Cache {
	return &Cache{
		mem:  lru.NewCache[common.Hash, []byte](entries),
		disk: disk,
	}
}

// Get returns the cached function for key, or nil. Disk hits are promoted
// into the memory layer; undecodable entries are dropped from both.
func (c *Cache) Get(key common.Hash) *bril.Function {
	blob, ok := c.mem.Get(key)
	if !ok && c.disk != nil {
		var err error
		blob, err = c.disk.Get(diskKey(key))
		if err != nil {
			cacheMissMeter.Mark(1)
			return nil
		}
		c.mem.Add(key, blob)
	}
	if blob == nil {
		cacheMissMeter.Mark(1)
		return nil
	}
	fn, err := decodeEntry(blob)
	if err != nil {
		log.Warn("Dropping corrupt cache entry", "key", key, "err", err)
		cacheCorruptMeter.Mark(1)
		c.remove(key)
		return nil
	}
	cacheHitMeter.Mark(1)
	return fn
}

// Put stores fn under key in both layers.
func (c *Cache) Put(key common.Hash, fn *bril.Function) error {
	data, err := json.Marshal(fn)
	if err != nil {
		return err
	}
	blob := snappy.Encode(nil, data)
	c.mem.Add(key, blob)
	if c.disk != nil {
		return c.disk.Put(diskKey(key), blob)
	}
	return nil
}

// Purge drops the memory layer. The disk layer, if any, is left alone.
func (c *Cache) Purge() {
	c.mem.Purge()
}

func (c *Cache) remove(key common.Hash) {
	c.mem.Remove(key)
	if c.disk != nil {
		if err := c.disk.Delete(diskKey(key)); err != nil {
			log.Debug("Failed to delete cache entry", "key", key, "err", err)
		}
	}
}

func diskKey(key common.Hash) []byte {
	return append(cacheKeyPrefix, key.Bytes()...)
}

// InspectCache tallies the artifact entries persisted in disk.
func InspectCache(disk brildb.KeyValueStore) (entries int, size common.StorageSize, err error) {
	it := disk.NewIterator(cacheKeyPrefix, nil)
	defer it.Release()

	for it.Next() {
		entries++
		size += common.StorageSize(len(it.Key()) + len(it.Value()))
	}
	return entries, size, it.Error()
}

// PurgeDisk deletes every artifact entry persisted in disk, returning the
// number of removed entries.
func PurgeDisk(disk brildb.KeyValueStore) (int, error) {
	batch := disk.NewBatch()
	it := disk.NewIterator(cacheKeyPrefix, nil)
	defer it.Release()

	removed := 0
	for it.Next() {
		if err := batch.Delete(common.CopyBytes(it.Key())); err != nil {
			return removed, err
		}
		removed++
		if batch.ValueSize() > brildb.IdealBatchSize {
			if err := batch.Write(); err != nil {
				return removed, err
			}
			batch.Reset()
		}
	}
	if err := it.Error(); err != nil {
		return removed, err
	}
	return removed, batch.Write()
}

// decodeEntry decompresses, decodes and revalidates one stored entry.
func decodeEntry(blob []byte) (*bril.Function, error) {
	data, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, err
	}
	fn := new(bril.Function)
	if err := json.Unmarshal(data, fn); err != nil {
		return nil, err
	}
	if err := bril.ValidateFunction(fn); err != nil {
		return nil, err
	}
	return fn, nil
}
