package hcache

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("headers")

// boltBackend stores records json-encoded in a single bucket.
type boltBackend struct {
	db *bolt.DB
}

func openBolt(path string) (backend, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		xerr := db.Close()
		pkglog.Check(xerr, "closing bolt database")
		return nil, err
	}
	return &boltBackend{db}, nil
}

func (b *boltBackend) get(ctx context.Context, key string) (r Record, ok bool, rerr error) {
	rerr = b.db.View(func(tx *bolt.Tx) error {
		buf := tx.Bucket(boltBucket).Get([]byte(key))
		if buf == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(buf, &r)
	})
	return
}

func (b *boltBackend) put(ctx context.Context, r Record) error {
	buf, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(r.Key), buf)
	})
}

func (b *boltBackend) remove(ctx context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
}

func (b *boltBackend) list(ctx context.Context, fn func(r Record) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				pkglog.Debugx("skipping bad bolt record", err)
				return nil
			}
			return fn(r)
		})
	})
}

func (b *boltBackend) close() error {
	return b.db.Close()
}
