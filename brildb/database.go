// Package brildb defines the key-value store interfaces the optimization
// artifact cache persists through. Backends wrap a concrete engine (pebble,
// bbolt, or an in-memory map for tests) behind the same narrow surface:
// point reads and writes, buffered batches, and ordered iteration over a key
// prefix.
package brildb

import "io"

// IdealBatchSize is the size at which callers should flush a batch and start
// a new one.
const IdealBatchSize = 100 * 1024

// KeyValueReader wraps the Has and Get method of a backing data store.
type KeyValueReader interface {
	// Has retrieves if a key is present in the key-value data store.
	Has(key []byte) (bool, error)

	// Get retrieves the given key if it's present in the key-value data store.
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter wraps the Put method of a backing data store.
type KeyValueWriter interface {
	// Put inserts the given value into the key-value data store.
	Put(key []byte, value []byte) error

	// Delete removes the key from the key-value data store.
	Delete(key []byte) error
}

// KeyValueStater wraps the Stat method of a backing data store.
type KeyValueStater interface {
	// Stat returns a particular internal stat of the database.
	Stat(property string) (string, error)
}

// Compacter wraps the Compact method of a backing data store.
type Compacter interface {
	// Compact flattens the underlying data store for the given key range. In
	// essence, deleted and overwritten versions are discarded, and the data is
	// rearranged to reduce the cost of operations needed to access them.
	//
	// A nil start is treated as a key before all keys in the data store; a nil
	// limit is treated as a key after all keys in the data store. If both are
	// nil then it will compact the entire data store.
	Compact(start []byte, limit []byte) error
}

// Batch is a write-only database that commits changes to its host database
// when Write is called. A batch cannot be used concurrently.
type Batch interface {
	KeyValueWriter

	// ValueSize retrieves the amount of data queued up for writing.
	ValueSize() int

	// Write flushes any accumulated data to disk.
	Write() error

	// Reset resets the batch for reuse.
	Reset()

	// Replay replays the batch contents.
	Replay(w KeyValueWriter) error
}

// Batcher wraps the NewBatch method of a backing data store.
type Batcher interface {
	// NewBatch creates a write-only database that buffers changes to its host
	// db until a final write is called.
	NewBatch() Batch
}

// Iterator iterates over a database's key/value pairs in ascending key order.
// An iterator starts before the first pair; Next advances it and reports
// whether a pair is available. Key and Value are only valid until the next
// call to Next, and an iterator must be released after use.
type Iterator interface {
	// Next moves the iterator to the next key/value pair. It returns whether
	// the iterator is exhausted.
	Next() bool

	// Error returns any accumulated error. Exhausting all the key/value pairs
	// is not considered to be an error.
	Error() error

	// Key returns the key of the current key/value pair, or nil if done.
	Key() []byte

	// Value returns the value of the current key/value pair, or nil if done.
	Value() []byte

	// Release releases associated resources. Release should always succeed and
	// can be called multiple times without causing error.
	Release()
}

// Iteratee wraps the NewIterator method of a backing data store.
type Iteratee interface {
	// NewIterator creates a binary-alphabetical iterator over a subset of
	// database content with a particular key prefix, starting at a particular
	// initial key (or after, if it does not exist).
	NewIterator(prefix []byte, start []byte) Iterator
}

// KeyValueStore is the full set of operations a cache backend provides.
type KeyValueStore interface {
	KeyValueReader
	KeyValueWriter
	Batcher
	Iteratee
	KeyValueStater
	Compacter
	io.Closer
}
