// Package dbtest exercises the brildb contract against any backend. Every
// store implementation runs this one suite so iterator bounds, batch and
// deletion semantics cannot drift apart between engines.
package dbtest

import (
	"bytes"
	"testing"

	"github.com/brilang/go-bril/brildb"
)

// TestDatabaseSuite runs a suite of tests against a KeyValueStore database
// implementation. New must return an empty, ready store; the suite closes
// every store it opens.
func TestDatabaseSuite(t *testing.T, New func() brildb.KeyValueStore) {
	t.Run("Iterator", func(t *testing.T) {
		tests := []struct {
			content map[string]string
			prefix  string
			start   string
			order   []string
		}{
			// Empty databases should be iterable
			{map[string]string{}, "", "", nil},
			{map[string]string{}, "non-existent-prefix", "", nil},
			// Single-item databases should be iterable
			{map[string]string{"key": "val"}, "", "", []string{"key"}},
			{map[string]string{"key": "val"}, "k", "", []string{"key"}},
			{map[string]string{"key": "val"}, "l", "", nil},
			// Multi-item databases should be fully iterable
			{
				map[string]string{"k1": "v1", "k5": "v5", "k2": "v2", "k4": "v4", "k3": "v3"},
				"", "",
				[]string{"k1", "k2", "k3", "k4", "k5"},
			},
			// Multi-item databases should be prefix-iterable
			{
				map[string]string{
					"ka1": "va1", "ka5": "va5", "ka2": "va2", "ka4": "va4", "ka3": "va3",
					"kb1": "vb1", "kb5": "vb5", "kb2": "vb2", "kb4": "vb4", "kb3": "vb3",
				},
				"ka", "",
				[]string{"ka1", "ka2", "ka3", "ka4", "ka5"},
			},
			{
				map[string]string{
					"ka1": "va1", "ka5": "va5", "ka2": "va2", "ka4": "va4", "ka3": "va3",
				},
				"kc", "",
				nil,
			},
			// Prefix-iteration should start at the given key, within the prefix
			{
				map[string]string{
					"ka1": "va1", "ka5": "va5", "ka2": "va2", "ka4": "va4", "ka3": "va3",
					"kb1": "vb1", "kb5": "vb5", "kb2": "vb2", "kb4": "vb4", "kb3": "vb3",
				},
				"ka", "3",
				[]string{"ka3", "ka4", "ka5"},
			},
			{
				map[string]string{
					"ka1": "va1", "ka5": "va5", "ka2": "va2", "ka4": "va4", "ka3": "va3",
				},
				"", "ka4",
				[]string{"ka4", "ka5"},
			},
		}
		for i, tt := range tests {
			db := New()
			for key, val := range tt.content {
				if err := db.Put([]byte(key), []byte(val)); err != nil {
					t.Fatalf("test %d: failed to insert item %s:%s: %v", i, key, val, err)
				}
			}
			it := db.NewIterator([]byte(tt.prefix), []byte(tt.start))
			idx := 0
			for it.Next() {
				if idx >= len(tt.order) {
					t.Errorf("test %d: prefix=%q more items than expected: idx=%d key=%q", i, tt.prefix, idx, it.Key())
					break
				}
				if !bytes.Equal(it.Key(), []byte(tt.order[idx])) {
					t.Errorf("test %d: item %d: key mismatch: have %s, want %s", i, idx, it.Key(), tt.order[idx])
				}
				if !bytes.Equal(it.Value(), []byte(tt.content[tt.order[idx]])) {
					t.Errorf("test %d: item %d: value mismatch: have %s, want %s", i, idx, it.Value(), tt.content[tt.order[idx]])
				}
				idx++
			}
			if idx != len(tt.order) {
				t.Errorf("test %d: iteration stopped early: have %d items, want %d", i, idx, len(tt.order))
			}
			if err := it.Error(); err != nil {
				t.Errorf("test %d: iteration failed: %v", i, err)
			}
			it.Release()
			db.Close()
		}
	})

	t.Run("KeyValueOperations", func(t *testing.T) {
		db := New()
		defer db.Close()

		key := []byte("foo")
		if got, err := db.Has(key); err != nil {
			t.Fatalf("has failed: %v", err)
		} else if got {
			t.Errorf("wrong value: %t", got)
		}
		value := []byte("hello world")
		if err := db.Put(key, value); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		if got, err := db.Has(key); err != nil {
			t.Fatalf("has failed: %v", err)
		} else if !got {
			t.Errorf("wrong value: %t", got)
		}
		if got, err := db.Get(key); err != nil {
			t.Fatalf("get failed: %v", err)
		} else if !bytes.Equal(got, value) {
			t.Errorf("wrong value: %q", got)
		}
		if err := db.Delete(key); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if got, err := db.Has(key); err != nil {
			t.Fatalf("has failed: %v", err)
		} else if got {
			t.Errorf("wrong value: %t", got)
		}
	})

	t.Run("Batch", func(t *testing.T) {
		db := New()
		defer db.Close()

		b := db.NewBatch()
		for _, k := range []string{"1", "2", "3", "4"} {
			if err := b.Put([]byte(k), []byte("v"+k)); err != nil {
				t.Fatalf("put failed: %v", err)
			}
		}
		if has, err := db.Has([]byte("1")); err != nil {
			t.Fatalf("has failed: %v", err)
		} else if has {
			t.Error("db contains element before batch write")
		}
		if err := b.Write(); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		for _, k := range []string{"1", "2", "3", "4"} {
			if has, err := db.Has([]byte(k)); err != nil {
				t.Fatalf("has failed: %v", err)
			} else if !has {
				t.Errorf("db missing element %q after batch write", k)
			}
		}
		b.Reset()
		// Mix deletes into the next batch
		if err := b.Delete([]byte("1")); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if err := b.Put([]byte("5"), []byte("v5")); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		if err := b.Delete([]byte("2")); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if err := b.Write(); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		for k, want := range map[string]bool{"1": false, "2": false, "3": true, "4": true, "5": true} {
			if has, err := db.Has([]byte(k)); err != nil {
				t.Fatalf("has failed: %v", err)
			} else if has != want {
				t.Errorf("key %q: have %t, want %t", k, has, want)
			}
		}
	})

	t.Run("BatchReplay", func(t *testing.T) {
		db := New()
		defer db.Close()

		want := map[string]string{"1": "a", "3": "c"}
		b := db.NewBatch()
		for _, k := range []string{"1", "2", "3"} {
			if err := b.Put([]byte(k), []byte(string(rune('a'+k[0]-'1')))); err != nil {
				t.Fatalf("put failed: %v", err)
			}
		}
		if err := b.Delete([]byte("2")); err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		other := New()
		defer other.Close()
		if err := b.Replay(other); err != nil {
			t.Fatalf("replay failed: %v", err)
		}
		for k, v := range want {
			if got, err := other.Get([]byte(k)); err != nil {
				t.Fatalf("get %q failed: %v", k, err)
			} else if !bytes.Equal(got, []byte(v)) {
				t.Errorf("key %q: have %q, want %q", k, got, v)
			}
		}
		if has, err := other.Has([]byte("2")); err != nil {
			t.Fatalf("has failed: %v", err)
		} else if has {
			t.Error("replayed delete did not apply")
		}
	})
}
