// Package bboltdb implements the key-value database layer based on the bbolt
// storage engine. All entries live in a single bucket; reads run in view
// transactions, writes in update transactions, and batches are buffered and
// committed through one coalescing transaction.
package bboltdb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/etcd-io/bbolt"
	"github.com/pkg/errors"

	"github.com/brilang/go-bril/brildb"
	"github.com/brilang/go-bril/common"
	"github.com/brilang/go-bril/log"
)

// bucketName is the single bucket all entries are stored under.
var bucketName = []byte("brildb")

// errNotFound is returned when a requested key has no entry.
var errNotFound = errors.New("not found")

// Database is a persistent key-value store based on the bbolt storage engine.
type Database struct {
	fn     string    // filename for reporting
	db     *bbolt.DB // Underlying bbolt storage engine
	closed bool

	log log.Logger // Contextual logger tracking the database path
}

// New opens (creating if necessary) a bbolt database under file. Ephemeral
// stores skip fsync on commit; they lose durability, not consistency.
func New(file string, readonly bool, ephemeral bool) (*Database, error) {
	options := &bbolt.Options{
		Timeout:  0,
		ReadOnly: readonly,
		NoSync:   ephemeral,
	}
	fullpath := filepath.Join(file, "bbolt.db")
	if err := os.MkdirAll(filepath.Dir(fullpath), 0755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}
	inner, err := bbolt.Open(fullpath, 0600, options)
	if err != nil {
		return nil, errors.Wrap(err, "open bbolt database")
	}
	if !readonly {
		err = inner.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketName)
			return err
		})
		if err != nil {
			inner.Close()
			return nil, errors.Wrap(err, "create default bucket")
		}
	}
	return &Database{
		fn:  file,
		db:  inner,
		log: log.New("database", file),
	}, nil
}

// Close closes the database file.
func (d *Database) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// Has checks if the given key exists in the database.
func (d *Database) Has(key []byte) (bool, error) {
	var exists bool
	err := d.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket != nil && bucket.Get(key) != nil {
			exists = true
		}
		return nil
	})
	return exists, err
}

// Get retrieves the value corresponding to the specified key from the
// database. The value is copied out before the transaction ends; bbolt's own
// slice is only valid inside it.
func (d *Database) Get(key []byte) ([]byte, error) {
	defer brildb.GetTimer.UpdateSince(time.Now())
	var result []byte
	err := d.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return errNotFound
		}
		val := bucket.Get(key)
		if val == nil {
			return errNotFound
		}
		result = common.CopyBytes(val)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Put adds the given value under the specified key to the database.
func (d *Database) Put(key []byte, value []byte) error {
	defer brildb.PutTimer.UpdateSince(time.Now())
	return d.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return errors.New("bucket does not exist")
		}
		return bucket.Put(key, value)
	})
}

// Delete removes the specified key from the database.
func (d *Database) Delete(key []byte) error {
	defer brildb.DeleteTimer.UpdateSince(time.Now())
	return d.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return errors.New("bucket does not exist")
		}
		return bucket.Delete(key)
	})
}

// DeleteRange deletes all of the keys (and values) in the range [start, end)
// (inclusive on start, exclusive on end).
func (d *Database) DeleteRange(start, end []byte) error {
	return d.db.Batch(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return errors.New("bucket does not exist")
		}
		cursor := bucket.Cursor()
		for k, _ := cursor.Seek(start); k != nil && bytes.Compare(k, end) < 0; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stat returns a particular internal stat of the database.
func (d *Database) Stat(property string) (string, error) {
	return fmt.Sprintf("%+v", d.db.Stats()), nil
}

// Compact is a no-op: bbolt reclaims space through its freelist and has no
// range compaction.
func (d *Database) Compact(start []byte, limit []byte) error {
	return nil
}

// Path returns the path to the database directory.
func (d *Database) Path() string {
	return d.fn
}

// NewIterator returns a new iterator over the keys with the given prefix,
// starting at start (within the prefix). The iterator pins a read transaction
// until released.
func (d *Database) NewIterator(prefix []byte, start []byte) brildb.Iterator {
	tx, err := d.db.Begin(false)
	if err != nil {
		return &iterator{err: err}
	}
	bucket := tx.Bucket(bucketName)
	if bucket == nil {
		tx.Rollback()
		return &iterator{}
	}
	return &iterator{
		tx:     tx,
		cursor: bucket.Cursor(),
		prefix: prefix,
		seek:   append(append([]byte{}, prefix...), start...),
	}
}

// iterator walks a bbolt cursor under the brildb contract: it starts before
// the first pair and the first Next positions it.
type iterator struct {
	tx     *bbolt.Tx
	cursor *bbolt.Cursor
	prefix []byte
	seek   []byte
	key    []byte
	value  []byte
	moved  bool
	err    error
}

// Next moves the iterator to the next key/value pair. It returns whether the
// iterator is exhausted.
func (it *iterator) Next() bool {
	if it.cursor == nil {
		return false
	}
	if !it.moved {
		it.moved = true
		it.key, it.value = it.cursor.Seek(it.seek)
	} else {
		it.key, it.value = it.cursor.Next()
	}
	if it.key != nil && !bytes.HasPrefix(it.key, it.prefix) {
		it.key, it.value = nil, nil
	}
	return it.key != nil
}

// Error returns any accumulated error.
func (it *iterator) Error() error {
	return it.err
}

// Key returns the key of the current key/value pair, or nil if done.
func (it *iterator) Key() []byte {
	return it.key
}

// Value returns the value of the current key/value pair, or nil if done.
func (it *iterator) Value() []byte {
	return it.value
}

// Release releases associated resources.
func (it *iterator) Release() {
	if it.tx != nil {
		_ = it.tx.Rollback()
		it.tx = nil
	}
	it.cursor, it.key, it.value = nil, nil, nil
}

// operation is one queued batch entry.
type operation struct {
	key   []byte
	value []byte
	del   bool
}

// batch is a write-only batch that commits changes to its host database when
// Write is called. A batch cannot be used concurrently.
type batch struct {
	db   *Database
	ops  []operation
	size int
}

// NewBatch creates a write-only key-value store that buffers changes to its
// host database until a final write is called.
func (d *Database) NewBatch() brildb.Batch {
	return &batch{db: d}
}

// Put inserts the given value into the batch for later committing.
func (b *batch) Put(key, value []byte) error {
	b.ops = append(b.ops, operation{key: common.CopyBytes(key), value: common.CopyBytes(value)})
	b.size += len(key) + len(value)
	return nil
}

// Delete inserts the key removal into the batch for later committing.
func (b *batch) Delete(key []byte) error {
	b.ops = append(b.ops, operation{key: common.CopyBytes(key), del: true})
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
	return b.db.db.Batch(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return errors.New("bucket does not exist")
		}
		for _, op := range b.ops {
			if op.del {
				if err := bucket.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reset resets the batch for reuse.
func (b *batch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}

// Replay replays the batch contents.
func (b *batch) Replay(w brildb.KeyValueWriter) error {
	for _, op := range b.ops {
		if op.del {
			if err := w.Delete(op.key); err != nil {
				return err
			}
			continue
		}
		if err := w.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}
