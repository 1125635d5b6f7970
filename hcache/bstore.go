package hcache

import (
	"context"
	"time"

	"github.com/mjl-/bstore"

	"github.com/muacore/mua/muavar"
)

type bstoreBackend struct {
	db *bstore.DB
}

func openBstore(ctx context.Context, path string) (backend, error) {
	log := pkglog.WithContext(ctx)
	opts := bstore.Options{Timeout: 5 * time.Second, Perm: 0600, RegisterLogger: muavar.RegisterLogger(path, log.Logger)}
	db, err := bstore.Open(ctx, path, &opts, Record{})
	if err != nil {
		return nil, err
	}
	return &bstoreBackend{db}, nil
}

func (b *bstoreBackend) get(ctx context.Context, key string) (Record, bool, error) {
	r := Record{Key: key}
	err := b.db.Get(ctx, &r)
	if err == bstore.ErrAbsent {
		return Record{}, false, nil
	}
	return r, err == nil, err
}

func (b *bstoreBackend) put(ctx context.Context, r Record) error {
	return b.db.Write(ctx, func(tx *bstore.Tx) error {
		x := Record{Key: r.Key}
		err := tx.Get(&x)
		if err == bstore.ErrAbsent {
			return tx.Insert(&r)
		} else if err != nil {
			return err
		}
		return tx.Update(&r)
	})
}

func (b *bstoreBackend) remove(ctx context.Context, key string) error {
	err := b.db.Delete(ctx, &Record{Key: key})
	if err == bstore.ErrAbsent {
		return nil
	}
	return err
}

func (b *bstoreBackend) list(ctx context.Context, fn func(r Record) error) error {
	return bstore.QueryDB[Record](ctx, b.db).ForEach(fn)
}

func (b *bstoreBackend) close() error {
	return b.db.Close()
}
