package hcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mua-"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

func testEmails() []*email.Email {
	e := email.New()
	e.Env = email.NewEnvelope()
	e.Env.From = address.List{address.New("Alice", "alice@x")}
	e.Env.Subject = "hi"
	e.Env.RealSubj = "hi"
	e.Env.MessageID = "<1@x>"
	e.Body = email.NewBody()
	e.Body.Disposition = mime.DispInline
	e.Body.Params = mime.ParamList{{Attribute: "charset", Value: "utf-8"}}
	e.Body.HdrOffset = 37
	e.Body.Offset = 70
	e.Body.Length = 6
	e.Read = true
	e.DateSent = 978343200
	e.Received = 978343200
	e.Lines = 2
	return []*email.Email{e}
}

func TestCache(t *testing.T) {
	for _, backend := range []string{"bstore", "bolt", "sqlite"} {
		for _, compress := range []bool{false, true} {
			t.Run(backend, func(t *testing.T) {
				dir := t.TempDir()
				c := mua.Default()
				c.Static.HeaderCache = filepath.Join(dir, "hcache.db")
				c.Static.HeaderCacheBackend = backend
				c.Static.HeaderCacheCompress = compress

				hc, err := Open(ctxbg, c)
				tcheck(t, err, "open")
				defer hc.Close()

				mbox := filepath.Join(dir, "mbox")
				err = os.WriteFile(mbox, []byte("From x\n"), 0600)
				tcheck(t, err, "write mbox")
				fi, err := os.Stat(mbox)
				tcheck(t, err, "stat")

				_, ok := hc.Fetch(ctxbg, mbox, fi.Size(), fi.ModTime())
				tcompare(t, ok, false)

				err = hc.Store(ctxbg, mbox, fi.Size(), fi.ModTime(), testEmails())
				tcheck(t, err, "store")
				// Replacing an entry works too.
				err = hc.Store(ctxbg, mbox, fi.Size(), fi.ModTime(), testEmails())
				tcheck(t, err, "store again")

				l, ok := hc.Fetch(ctxbg, mbox, fi.Size(), fi.ModTime())
				tcompare(t, ok, true)
				tcompare(t, len(l), 1)
				e := l[0]
				tcompare(t, e.Env.Subject, "hi")
				tcompare(t, e.Env.From[0].Mailbox, "alice@x")
				tcompare(t, e.Body.Params, mime.ParamList{{Attribute: "charset", Value: "utf-8"}})
				tcompare(t, e.Body.Offset, int64(70))
				tcompare(t, e.Body.Length, int64(6))
				tcompare(t, e.Read, true)
				tcompare(t, e.Lines, 2)

				// Changed file, stale entry.
				_, ok = hc.Fetch(ctxbg, mbox, fi.Size()+1, fi.ModTime())
				tcompare(t, ok, false)
				_, ok = hc.Fetch(ctxbg, mbox, fi.Size(), fi.ModTime().Add(time.Second))
				tcompare(t, ok, false)

				st, err := hc.Stats(ctxbg)
				tcheck(t, err, "stats")
				tcompare(t, st.Entries, 1)
				tcompare(t, st.Stale, 0)

				err = os.WriteFile(mbox, []byte("From x\nFrom y\n"), 0600)
				tcheck(t, err, "rewrite mbox")
				n, err := hc.Purge(ctxbg)
				tcheck(t, err, "purge")
				tcompare(t, n, 1)
				st, err = hc.Stats(ctxbg)
				tcheck(t, err, "stats")
				tcompare(t, st.Entries, 0)

				err = hc.Delete(ctxbg, mbox)
				tcheck(t, err, "delete absent")
			})
		}
	}
}

func TestDisabled(t *testing.T) {
	c := mua.Default()
	hc, err := Open(ctxbg, c)
	tcheck(t, err, "open")
	if hc != nil {
		t.Fatalf("got cache without configured path")
	}
	_, ok := hc.Fetch(ctxbg, "/nonexistent", 0, time.Time{})
	tcompare(t, ok, false)
	tcheck(t, hc.Store(ctxbg, "/nonexistent", 0, time.Time{}, nil), "store")
	tcheck(t, hc.Close(), "close")

	c.Static.HeaderCache = filepath.Join(t.TempDir(), "x.db")
	c.Static.HeaderCacheBackend = "bogus"
	_, err = Open(ctxbg, c)
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("got err %v, expected ErrBackend", err)
	}
}
