// Package pebbledb implements the key-value database layer based on pebble.
package pebbledb

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/brilang/go-bril/brildb"
	"github.com/brilang/go-bril/log"
	"github.com/brilang/go-bril/metrics"
)

// metricsGatheringInterval specifies the interval to retrieve pebble database
// compaction and write-stall stats to report to the user.
const metricsGatheringInterval = 3 * time.Second

// Database is a persistent key-value store based on the pebble storage engine.
// Apart from basic data storage functionality it also supports batch writes and
// iterating over the keyspace in binary-alphabetical order.
type Database struct {
	fn string     // filename for reporting
	db *pebble.DB // Underlying pebble storage engine

	compTimeMeter      *metrics.Meter // Meter for measuring the total time spent in database compaction
	writeDelayNMeter   *metrics.Meter // Meter for measuring the write delay number due to database compaction
	writeDelayMeter    *metrics.Meter // Meter for measuring the write delay duration due to database compaction
	diskSizeGauge      *metrics.Gauge // Gauge for tracking the size of all the levels in the database
	level0CompGauge    *metrics.Gauge // Gauge for tracking the number of table compaction in level0
	nonlevel0CompGauge *metrics.Gauge // Gauge for tracking the number of table compaction in non0 level

	quitLock sync.Mutex      // Mutex protecting the quit channel and the closed flag
	quitChan chan chan error // Quit channel to stop the metrics collection before closing the database
	closed   bool            // keep track of whether we're Closed

	activeComp    int          // Current number of active compactions
	compStartTime time.Time    // The start time of the earliest currently-active compaction
	compTime      atomic.Int64 // Total time spent in compaction in ns

	level0Comp    atomic.Uint32 // Total number of level-zero compactions
	nonLevel0Comp atomic.Uint32 // Total number of non level-zero compactions

	writeDelayStartTime time.Time    // The start time of the latest write stall
	writeDelayCount     atomic.Int64 // Total number of write stall counts
	writeDelayTime      atomic.Int64 // Total time spent in write stalls

	log log.Logger // Contextual logger tracking the database path
}

func (d *Database) onCompactionBegin(info pebble.CompactionInfo) {
	if d.activeComp == 0 {
		d.compStartTime = time.Now()
	}
	l0 := info.Input[0]
	if l0.Level == 0 {
		d.level0Comp.Add(1)
	} else {
		d.nonLevel0Comp.Add(1)
	}
	d.activeComp++
}

func (d *Database) onCompactionEnd(info pebble.CompactionInfo) {
	if d.activeComp == 1 {
		d.compTime.Add(int64(time.Since(d.compStartTime)))
	} else if d.activeComp == 0 {
		panic("should not happen")
	}
	d.activeComp--
}

func (d *Database) onWriteStallBegin(b pebble.WriteStallBeginInfo) {
	d.writeDelayStartTime = time.Now()
	d.writeDelayCount.Add(1)
}

func (d *Database) onWriteStallEnd() {
	d.writeDelayTime.Add(int64(time.Since(d.writeDelayStartTime)))
}

// New returns a wrapped pebble database. The namespace is the prefix that the
// metrics reporting should use for surfacing internal stats.
func New(file string, cache int, handles int, namespace string, readonly bool) (*Database, error) {
	if namespace == "" {
		namespace = "brildb/pebble/"
	}
	db := &Database{
		fn:       file,
		log:      log.New("database", file),
		quitChan: make(chan chan error),
	}
	opt := &pebble.Options{
		MaxOpenFiles: handles,
		ReadOnly:     readonly,
		EventListener: &pebble.EventListener{
			CompactionBegin: db.onCompactionBegin,
			CompactionEnd:   db.onCompactionEnd,
			WriteStallBegin: db.onWriteStallBegin,
			WriteStallEnd:   db.onWriteStallEnd,
		},
	}
	if cache > 0 {
		opt.Cache = pebble.NewCache(int64(cache) * 1024 * 1024)
	}
	inner, err := pebble.Open(file, opt)
	if err != nil {
		return nil, err
	}
	db.db = inner

	db.compTimeMeter = metrics.NewRegisteredMeter(namespace+"compact/time", nil)
	db.writeDelayMeter = metrics.NewRegisteredMeter(namespace+"compact/writedelay/duration", nil)
	db.writeDelayNMeter = metrics.NewRegisteredMeter(namespace+"compact/writedelay/counter", nil)
	db.diskSizeGauge = metrics.NewRegisteredGauge(namespace+"disk/size", nil)
	db.level0CompGauge = metrics.NewRegisteredGauge(namespace+"compact/level0", nil)
	db.nonlevel0CompGauge = metrics.NewRegisteredGauge(namespace+"compact/nonlevel0", nil)

	go db.meter(metricsGatheringInterval)
	return db, nil
}

// Close stops the metrics collection, flushes any pending data to disk and
// closes all io accesses to the underlying key-value store.
func (d *Database) Close() error {
	d.quitLock.Lock()
	defer d.quitLock.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.quitChan != nil {
		errc := make(chan error)
		d.quitChan <- errc
		if err := <-errc; err != nil {
			d.log.Error("Metrics collection failed", "err", err)
		}
		d.quitChan = nil
	}
	return d.db.Close()
}

// Has retrieves if a key is present in the key-value store.
func (d *Database) Has(key []byte) (bool, error) {
	defer brildb.GetTimer.UpdateSince(time.Now())
	_, closer, err := d.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := closer.Close(); err != nil {
		return false, err
	}
	return true, nil
}

// Get retrieves the given key if it's present in the key-value store. The
// returned slice is a copy: pebble's is only valid until the closer is
// closed.
func (d *Database) Get(key []byte) ([]byte, error) {
	defer brildb.GetTimer.UpdateSince(time.Now())
	dat, closer, err := d.db.Get(key)
	if err != nil {
		return nil, err
	}
	ret := make([]byte, len(dat))
	copy(ret, dat)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Put inserts the given value into the key-value store.
func (d *Database) Put(key []byte, value []byte) error {
	defer brildb.PutTimer.UpdateSince(time.Now())
	return d.db.Set(key, value, pebble.NoSync)
}

// Delete removes the key from the key-value store.
func (d *Database) Delete(key []byte) error {
	defer brildb.DeleteTimer.UpdateSince(time.Now())
	return d.db.Delete(key, nil)
}

// NewBatch creates a write-only key-value store that buffers changes to its
// host database until a final write is called.
func (d *Database) NewBatch() brildb.Batch {
	return &batch{
		db: d.db,
		b:  d.db.NewBatch(),
	}
}

// NewIterator creates a binary-alphabetical iterator over a subset of database
// content with a particular key prefix, starting at a particular initial key
// (or after, if it does not exist).
func (d *Database) NewIterator(prefix []byte, start []byte) brildb.Iterator {
	return &pebbleIterator{iter: d.db.NewIter(bytesPrefixIterOptions(prefix, start))}
}

// bytesPrefixIterOptions returns iterator bounds covering all keys with the
// given prefix, from start (within the prefix) onward.
func bytesPrefixIterOptions(prefix []byte, start []byte) *pebble.IterOptions {
	var limit []byte
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i]
		if c < 0xff {
			limit = make([]byte, i+1)
			copy(limit, prefix)
			limit[i] = c + 1
			break
		}
	}
	return &pebble.IterOptions{
		LowerBound: append(prefix, start...),
		UpperBound: limit,
	}
}

// pebbleIterator adapts pebble's iterator, which starts positioned before
// nothing, to the brildb contract where the first Next lands on the first
// pair.
type pebbleIterator struct {
	iter  *pebble.Iterator
	moved bool
}

// Next moves the iterator to the next key/value pair. It returns whether the
// iterator is exhausted.
func (it *pebbleIterator) Next() bool {
	if !it.moved {
		it.moved = true
		return it.iter.First()
	}
	return it.iter.Next()
}

// Error returns any accumulated error.
func (it *pebbleIterator) Error() error {
	return it.iter.Error()
}

// Key returns the key of the current key/value pair, or nil if done.
func (it *pebbleIterator) Key() []byte {
	return it.iter.Key()
}

// Value returns the value of the current key/value pair, or nil if done.
func (it *pebbleIterator) Value() []byte {
	return it.iter.Value()
}

// Release releases associated resources.
func (it *pebbleIterator) Release() {
	it.iter.Close()
}

// Stat returns a particular internal stat of the database.
func (d *Database) Stat(property string) (string, error) {
	return "", errors.New("unknown property")
}

// Compact flattens the underlying data store for the given key range. In
// essence, deleted and overwritten versions are discarded, and the data is
// rearranged to reduce the cost of operations needed to access them.
//
// A nil start is treated as a key before all keys in the data store; a nil
// limit is treated as a key after all keys in the data store. If both are nil
// then it will compact the entire data store.
func (d *Database) Compact(start []byte, limit []byte) error {
	return d.db.Compact(start, limit, false)
}

// Path returns the path to the database directory.
func (d *Database) Path() string {
	return d.fn
}

// meter periodically retrieves internal pebble counters and reports them to
// the metrics subsystem. It stops when Close hands it an error channel.
func (d *Database) meter(refresh time.Duration) {
	timer := time.NewTimer(refresh)
	defer timer.Stop()

	// Deltas are reported against the previous gathering round.
	var (
		compTimes        [2]int64
		writeDelayTimes  [2]int64
		writeDelayCounts [2]int64
	)
	for i := 1; ; i++ {
		compTimes[i%2] = d.compTime.Load()
		writeDelayTimes[i%2] = d.writeDelayTime.Load()
		writeDelayCounts[i%2] = d.writeDelayCount.Load()

		d.compTimeMeter.Mark(compTimes[i%2] - compTimes[(i-1)%2])
		d.writeDelayMeter.Mark(writeDelayTimes[i%2] - writeDelayTimes[(i-1)%2])
		d.writeDelayNMeter.Mark(writeDelayCounts[i%2] - writeDelayCounts[(i-1)%2])

		stats := d.db.Metrics()
		d.diskSizeGauge.Update(int64(stats.DiskSpaceUsage()))
		d.level0CompGauge.Update(int64(d.level0Comp.Load()))
		d.nonlevel0CompGauge.Update(int64(d.nonLevel0Comp.Load()))

		select {
		case errc := <-d.quitChan:
			// Quit requested, stop hammering the database
			errc <- nil
			return
		case <-timer.C:
			timer.Reset(refresh)
		}
	}
}

// batch is a write-only pebble batch that commits changes to its host database
// when Write is called. A batch cannot be used concurrently.
type batch struct {
	db   *pebble.DB
	b    *pebble.Batch
	size int
}

// Put inserts the given value into the batch for later committing.
func (b *batch) Put(key, value []byte) error {
	if err := b.b.Set(key, value, nil); err != nil {
		return err
	}
	b.size += len(key) + len(value)
	return nil
}

// Delete inserts the key removal into the batch for later committing.
func (b *batch) Delete(key []byte) error {
	if err := b.b.Delete(key, nil); err != nil {
		return err
	}
	b.size += len(key)
	return nil
}

// ValueSize retrieves the amount of data queued up for writing.
func (b *batch) ValueSize() int {
	return b.size
}

// Write flushes any accumulated data to disk.
func (b *batch) Write() error {
	defer brildb.BatchWriteTimer.UpdateSince(time.Now())
	return b.db.Apply(b.b, pebble.NoSync)
}

// Reset resets the batch for reuse.
func (b *batch) Reset() {
	b.b.Reset()
	b.size = 0
}

// Replay replays the batch contents.
func (b *batch) Replay(w brildb.KeyValueWriter) error {
	reader := b.b.Reader()
	for {
		if len(reader) == 0 {
			return nil
		}
		kind, key, value, ok := reader.Next()
		if !ok {
			return fmt.Errorf("batch corrupted")
		}
		switch kind {
		case pebble.InternalKeyKindDelete:
			if err := w.Delete(key); err != nil {
				return err
			}
		case pebble.InternalKeyKindSet:
			if err := w.Put(key, value); err != nil {
				return err
			}
		}
	}
}
