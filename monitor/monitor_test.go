package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/muacore/mua/config"
	_ "github.com/muacore/mua/mbox"
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
		t.Fatalf("got %#v, expected %#v", got, exp)
	}
}

const message = "From alice@example.org Mon Jan  1 10:00:00 2001\nFrom: alice@example.org\nSubject: hi\n\nhello\n\n"

func TestMonitor(t *testing.T) {
	static := config.Default()
	static.Tmpdir = t.TempDir()
	c, err := mua.New(static)
	tcheck(t, err, "config")

	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox")
	tcheck(t, os.WriteFile(inbox, []byte(message), 0600), "write mailbox")
	lists := filepath.Join(dir, "lists")

	m, err := New(c)
	tcheck(t, err, "new monitor")
	defer m.Close()
	m.Delay = 10 * time.Millisecond

	ch, err := m.Add(ctxbg, inbox)
	tcheck(t, err, "add inbox")
	tcompare(t, ch.Total, 1)
	tcompare(t, ch.Unread, 1)
	tcompare(t, ch.Changed, true)

	// Missing mailbox in a watched directory.
	ch, err = m.Add(ctxbg, lists)
	tcheck(t, err, "add missing mailbox")
	tcompare(t, ch.Total, 0)
	tcompare(t, m.Paths(), []string{inbox, lists})

	// Unchanged file.
	ch, err = m.Check(ctxbg, inbox)
	tcheck(t, err, "check")
	tcompare(t, ch.Changed, false)

	_, err = m.Check(ctxbg, filepath.Join(dir, "other"))
	tcompare(t, errors.Is(err, ErrNotWatched), true)

	ctx, cancel := context.WithCancel(ctxbg)
	defer cancel()
	changes := make(chan Change, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, func(ch Change) {
			changes <- ch
		})
	}()

	// Give the file times a chance to differ.
	time.Sleep(20 * time.Millisecond)
	f, err := os.OpenFile(inbox, os.O_WRONLY|os.O_APPEND, 0600)
	tcheck(t, err, "open mailbox")
	_, err = f.Write([]byte(message))
	tcheck(t, err, "append message")
	tcheck(t, f.Close(), "close mailbox")

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ch := <-changes:
			if ch.Path != inbox {
				t.Fatalf("change for unexpected mailbox %s", ch.Path)
			}
			if ch.Total != 2 {
				continue
			}
		case <-timeout:
			t.Fatalf("no change reported")
		}
		break
	}

	tcheck(t, m.Remove(lists), "remove")
	tcompare(t, errors.Is(m.Remove(lists), ErrNotWatched), true)
	tcompare(t, m.Paths(), []string{inbox})

	cancel()
	err = <-done
	tcompare(t, errors.Is(err, context.Canceled), true)
}
