package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	gombox "github.com/emersion/go-mbox"
	"github.com/gofrs/flock"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/config"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/hcache"
	"github.com/muacore/mua/mailbox"
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

func testConfig(t *testing.T, fn func(c *config.Static)) *mua.Config {
	t.Helper()
	static := config.Default()
	static.Tmpdir = t.TempDir()
	static.LockRetries = 1
	if fn != nil {
		fn(&static)
	}
	c, err := mua.New(static)
	tcheck(t, err, "config")
	return c
}

func init() {
	lockRetryDelay = 10 * time.Millisecond
}

func writeBox(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "box")
	err := os.WriteFile(p, []byte(content), 0600)
	tcheck(t, err, "write mailbox")
	return p
}

func openBox(t *testing.T, c *mua.Config, path string, flags mailbox.OpenFlags) (*mailbox.Mailbox, mailbox.Store) {
	t.Helper()
	m, s, err := mailbox.Open(ctxbg, c, path, flags, nil)
	tcheck(t, err, "open mailbox")
	t.Cleanup(func() {
		s.Close(m)
	})
	return m, s
}

func subjects(m *mailbox.Mailbox) []string {
	var l []string
	for _, e := range m.Emails {
		l = append(l, e.Env.Subject)
	}
	return l
}

// msg returns an mbox message with correct Content-Length and Lines, so a
// rewrite during sync produces the same bytes.
func msg(from, subject, body string) string {
	return fmt.Sprintf("From %s Mon Jan  1 10:00:00 2001\nFrom: %s\nSubject: %s\nContent-Length: %d\nLines: %d\n\n%s\n", from, from, subject, len(body), strings.Count(body, "\n"), body)
}

// checkOffsets verifies each message starts with a separator at its offset
// and the body at its body offset.
func checkOffsets(t *testing.T, path string, m *mailbox.Mailbox, sep string) {
	t.Helper()
	buf, err := os.ReadFile(path)
	tcheck(t, err, "read mailbox")
	for i, e := range m.Emails {
		if !strings.HasPrefix(string(buf[e.Offset:]), sep) {
			t.Fatalf("message %d: no %q at offset %d", i, sep, e.Offset)
		}
		if e.Body.Offset+e.Body.Length > int64(len(buf)) {
			t.Fatalf("message %d: body beyond end of file", i)
		}
		if i+1 < len(m.Emails) && e.Body.Offset+e.Body.Length > m.Emails[i+1].Offset {
			t.Fatalf("message %d overlaps next message", i)
		}
	}
}

func TestParse(t *testing.T) {
	c := testConfig(t, nil)
	const content = "From alice@x Mon Jan 1 10:00:00 2001\nFrom: alice@x\nSubject: hi\n\nhello\n\nFrom bob@y Mon Jan 1 11:00:00 2001\nFrom: bob@y\nSubject: re\n\nyo\n\n"
	p := writeBox(t, content)

	typ, err := mailbox.Probe(c, p)
	tcheck(t, err, "probe")
	tcompare(t, typ, mailbox.TypeMbox)

	m, _ := openBox(t, c, p, 0)
	tcompare(t, m.MsgCount(), 2)
	tcompare(t, subjects(m), []string{"hi", "re"})
	tcompare(t, m.Emails[0].Body.Length, int64(6))
	tcompare(t, m.Emails[1].Body.Length, int64(3))
	for _, e := range m.Emails {
		tcompare(t, e.Changed, false)
	}
	tcompare(t, m.Changed, false)
	tcompare(t, m.New, 2)
	tcompare(t, m.VCount(), 2)
	tcompare(t, m.Emails[1].Env.From[0].Mailbox, "bob@y")
	tcompare(t, m.Emails[1].Env.ReturnPath[0].Mailbox, "bob@y")
	tcompare(t, m.Emails[0].Offset, int64(0))
	tcompare(t, m.Emails[1].Offset, int64(strings.Index(content, "From bob")))
	checkOffsets(t, p, m, "From ")

	if l := m.BySubject("re"); len(l) != 1 || l[0] != m.Emails[1] {
		t.Fatalf("subject index: got %v", l)
	}
}

func TestParseContentLength(t *testing.T) {
	c := testConfig(t, nil)

	// Body contains an unquoted From line, the content length keeps it in
	// the first message.
	body := "line\nFrom the start\n"
	content := msg("a@x", "one", body) + msg("b@x", "two", "x\n")
	p := writeBox(t, content)
	m, _ := openBox(t, c, p, 0)
	tcompare(t, subjects(m), []string{"one", "two"})
	tcompare(t, m.Emails[0].Body.Length, int64(len(body)))
	tcompare(t, m.Emails[0].Lines, 2)

	// A wrong content length is ignored.
	content = strings.Replace(msg("a@x", "one", "abc\n"), "Content-Length: 4", "Content-Length: 2", 1) + msg("b@x", "two", "x\n")
	p = writeBox(t, content)
	m, _ = openBox(t, c, p, 0)
	tcompare(t, subjects(m), []string{"one", "two"})
	tcompare(t, m.Emails[0].Body.Length, int64(4))
}

func TestSyncCompact(t *testing.T) {
	c := testConfig(t, nil)
	msgs := []string{
		msg("a@x", "one", strings.Repeat("a", 30)+"\n"),
		msg("b@x", "two", strings.Repeat("b", 130)+"\n"),
		msg("c@x", "three", strings.Repeat("c", 230)+"\n"),
	}
	p := writeBox(t, strings.Join(msgs, ""))

	m, s := openBox(t, c, p, 0)
	tcompare(t, m.MsgCount(), 3)
	offsets := []int64{m.Emails[0].Offset, m.Emails[1].Offset, m.Emails[2].Offset}

	m.Emails[1].SetFlag(email.FlagDeleted, true)
	m.UpdateCounts()
	tcompare(t, m.Changed, true)

	r, err := s.Sync(ctxbg, c, m)
	tcheck(t, err, "sync")
	tcompare(t, r, mailbox.CheckNoChange)

	fi, err := os.Stat(p)
	tcheck(t, err, "stat")
	tcompare(t, fi.Size(), int64(len(msgs[0])+len(msgs[2])))
	tcompare(t, m.Size, fi.Size())
	tcompare(t, m.MsgCount(), 2)
	tcompare(t, subjects(m), []string{"one", "three"})
	tcompare(t, m.Emails[0].Offset, offsets[0])
	tcompare(t, m.Emails[1].Offset, offsets[1])
	tcompare(t, m.Emails[1].Index, 1)
	tcompare(t, m.Changed, false)
	checkOffsets(t, p, m, "From ")

	buf, err := os.ReadFile(p)
	tcheck(t, err, "read")
	e := m.Emails[1]
	tcompare(t, string(buf[e.Body.Offset:e.Body.Offset+e.Body.Length]), strings.Repeat("c", 230)+"\n")

	// The file reads back the same.
	m2, _ := openBox(t, c, p, mailbox.OpenReadOnly)
	tcompare(t, subjects(m2), []string{"one", "three"})
	tcompare(t, m2.Emails[1].Offset, m.Emails[1].Offset)
}

func TestSyncFlags(t *testing.T) {
	c := testConfig(t, nil)
	p := writeBox(t, msg("a@x", "one", "1\n")+msg("b@x", "two", "2\n"))

	m, s := openBox(t, c, p, 0)
	m.Emails[0].SetFlag(email.FlagRead, true)
	m.Emails[1].SetFlag(email.FlagFlagged, true)
	m.Emails[1].SetFlag(email.FlagReplied, true)
	m.UpdateCounts()
	_, err := s.Sync(ctxbg, c, m)
	tcheck(t, err, "sync")
	checkOffsets(t, p, m, "From ")

	buf, err := os.ReadFile(p)
	tcheck(t, err, "read")
	if !strings.Contains(string(buf), "Status: RO\n") || !strings.Contains(string(buf), "X-Status: AF\n") {
		t.Fatalf("flags not written:\n%s", buf)
	}

	m2, _ := openBox(t, c, p, mailbox.OpenReadOnly)
	tcompare(t, m2.Emails[0].Read, true)
	tcompare(t, m2.Emails[1].Flagged, true)
	tcompare(t, m2.Emails[1].Replied, true)
	tcompare(t, m2.Emails[1].Body.Length, int64(2))
}

func TestSyncReadOnly(t *testing.T) {
	c := testConfig(t, nil)
	p := writeBox(t, msg("a@x", "one", "1\n"))
	m, s := openBox(t, c, p, mailbox.OpenReadOnly)
	m.Emails[0].SetFlag(email.FlagDeleted, true)
	_, err := s.Sync(ctxbg, c, m)
	if !errors.Is(err, mailbox.ErrReadOnly) {
		t.Fatalf("got %v, expected ErrReadOnly", err)
	}
}

func TestSyncRecovery(t *testing.T) {
	c := testConfig(t, nil)
	content := msg("a@x", "one", "1\n") + msg("b@x", "two", "2\n") + msg("c@x", "three", "3\n")
	p := writeBox(t, content)
	m, s := openBox(t, c, p, 0)
	off := m.Emails[1].Body.Offset
	m.Emails[1].SetFlag(email.FlagDeleted, true)

	// Same size, but the second message no longer starts where expected.
	err := os.WriteFile(p, []byte(strings.Replace(content, "From b@x", "Xrom b@x", 1)), 0600)
	tcheck(t, err, "rewrite mailbox")

	_, err = s.Sync(ctxbg, c, m)
	path, ok := IsRecovery(err)
	if !ok {
		t.Fatalf("got %v, expected recovery error", err)
	}
	if !errors.Is(err, mailbox.ErrIO) {
		t.Fatalf("recovery error does not wrap ErrIO: %v", err)
	}
	tcompare(t, filepath.Dir(path), c.Static.Tmpdir)
	buf, err := os.ReadFile(path)
	tcheck(t, err, "read recovery file")
	tcompare(t, strings.Contains(string(buf), "Subject: three"), true)
	tcompare(t, m.Emails[1].Body.Offset, off)
	tcompare(t, m.MsgCount(), 3)
}

func TestMMDF(t *testing.T) {
	c := testConfig(t, nil)
	content := MMDFSep + "From: a@x\nSubject: one\n\nbody one\n" + MMDFSep +
		MMDFSep + "From b@x Mon Jan  1 10:00:00 2001\nFrom: b@x\nSubject: two\n\nbody two\nmore\n" + MMDFSep +
		MMDFSep + "From: c@x\nSubject: three\n\nx\n" + MMDFSep
	p := writeBox(t, content)

	typ, err := mailbox.Probe(c, p)
	tcheck(t, err, "probe")
	tcompare(t, typ, mailbox.TypeMMDF)

	m, s := openBox(t, c, p, 0)
	tcompare(t, subjects(m), []string{"one", "two", "three"})
	tcompare(t, m.Emails[0].Body.Length, int64(len("body one\n")))
	tcompare(t, m.Emails[1].Body.Length, int64(len("body two\nmore\n")))
	tcompare(t, m.Emails[1].Lines, 2)
	tcompare(t, m.Emails[1].Env.ReturnPath[0].Mailbox, "b@x")
	tcompare(t, m.Emails[0].Offset, int64(len(MMDFSep)))

	m.Emails[1].SetFlag(email.FlagDeleted, true)
	_, err = s.Sync(ctxbg, c, m)
	tcheck(t, err, "sync")
	tcompare(t, subjects(m), []string{"one", "three"})

	buf, err := os.ReadFile(p)
	tcheck(t, err, "read")
	e := m.Emails[1]
	tcompare(t, string(buf[e.Offset-int64(len(MMDFSep)):e.Offset]), MMDFSep)
	tcompare(t, string(buf[e.Body.Offset:e.Body.Offset+e.Body.Length]), "x\n")
	tcompare(t, strings.HasSuffix(string(buf), "x\n"+MMDFSep), true)

	m2, _ := openBox(t, c, p, mailbox.OpenReadOnly)
	tcompare(t, subjects(m2), []string{"one", "three"})
}

func TestMMDFCorrupt(t *testing.T) {
	c := testConfig(t, nil)
	p := writeBox(t, MMDFSep+"Subject: one\n\nx\n"+MMDFSep+"garbage\n")
	_, _, err := mailbox.Open(ctxbg, c, p, 0, nil)
	if !errors.Is(err, mailbox.ErrFormat) {
		t.Fatalf("got %v, expected ErrFormat", err)
	}
}

func TestAppend(t *testing.T) {
	for _, typ := range []string{"mbox", "mmdf"} {
		t.Run(typ, func(t *testing.T) {
			c := testConfig(t, func(c *config.Static) {
				c.MboxType = typ
			})
			p := filepath.Join(t.TempDir(), "sub", "sent")

			m, s, err := mailbox.Open(ctxbg, c, p, mailbox.OpenAppend, nil)
			tcheck(t, err, "open for append")
			e := email.New()
			e.Env = email.NewEnvelope()
			e.Env.From = address.List{address.New("Alice", "alice@x")}
			e.Received = time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local).Unix()
			err = s.AppendMessage(ctxbg, c, m, e, strings.NewReader("From: alice@x\nSubject: one\n\nhello\nFrom here\n"))
			tcheck(t, err, "append")
			err = s.AppendMessage(ctxbg, c, m, nil, strings.NewReader("From: bob@x\nSubject: two\n\nno newline"))
			tcheck(t, err, "append")
			tcheck(t, s.Close(m), "close")

			m2, _ := openBox(t, c, p, mailbox.OpenReadOnly)
			tcompare(t, m2.Type.String(), typ)
			tcompare(t, subjects(m2), []string{"one", "two"})
			tcompare(t, m2.Emails[0].Env.ReturnPath[0].Mailbox, "alice@x")
			tcompare(t, m2.Emails[0].Received, e.Received)
			checkOffsets(t, p, m2, "From ")

			if typ != "mbox" {
				return
			}
			buf, err := os.ReadFile(p)
			tcheck(t, err, "read")
			tcompare(t, strings.Contains(string(buf), "\n>From here\n"), true)

			// Other mbox readers see the same messages.
			f, err := os.Open(p)
			tcheck(t, err, "open")
			defer f.Close()
			r := gombox.NewReader(f)
			n := 0
			for {
				mr, err := r.NextMessage()
				if err == io.EOF {
					break
				}
				tcheck(t, err, "next message")
				_, err = io.ReadAll(mr)
				tcheck(t, err, "read message")
				n++
			}
			tcompare(t, n, 2)
		})
	}
}

func TestCheck(t *testing.T) {
	c := testConfig(t, nil)
	one := msg("a@x", "one", "1\n")
	two := msg("b@x", "two", "2\n")
	p := writeBox(t, one+two)
	m, s := openBox(t, c, p, 0)

	r, err := s.Check(ctxbg, c, m)
	tcheck(t, err, "check")
	tcompare(t, r, mailbox.CheckNoChange)

	// Appended message.
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0)
	tcheck(t, err, "open")
	_, err = f.WriteString(msg("c@x", "three", "3\n"))
	tcheck(t, err, "append")
	tcheck(t, f.Close(), "close")

	r, err = s.Check(ctxbg, c, m)
	tcheck(t, err, "check")
	tcompare(t, r, mailbox.CheckNewMail)
	tcompare(t, subjects(m), []string{"one", "two", "three"})
	tcompare(t, m.Emails[2].Index, 2)
	tcompare(t, m.New, 3)
	checkOffsets(t, p, m, "From ")

	// Another program removes the first message. Flags changed in memory
	// are kept for the messages still present.
	m.Emails[1].SetFlag(email.FlagFlagged, true)
	m.Emails[2].SetFlag(email.FlagTagged, true)
	err = os.WriteFile(p, []byte(two+msg("c@x", "three", "3\n")), 0600)
	tcheck(t, err, "rewrite")

	r, err = s.Check(ctxbg, c, m)
	tcheck(t, err, "check")
	tcompare(t, r, mailbox.CheckReopened)
	tcompare(t, subjects(m), []string{"two", "three"})
	tcompare(t, m.Emails[0].Flagged, true)
	tcompare(t, m.Emails[1].Tagged, true)
	tcompare(t, m.Flagged, 1)
	checkOffsets(t, p, m, "From ")

	// Sync writes the carried flag.
	_, err = s.Sync(ctxbg, c, m)
	tcheck(t, err, "sync")
	buf, err := os.ReadFile(p)
	tcheck(t, err, "read")
	tcompare(t, strings.Contains(string(buf), "X-Status: F\n"), true)
}

func TestLocked(t *testing.T) {
	c := testConfig(t, nil)
	p := writeBox(t, msg("a@x", "one", "1\n"))

	l := flock.New(p)
	ok, err := l.TryLock()
	tcheck(t, err, "lock")
	tcompare(t, ok, true)
	defer l.Close()

	// Opening still works, but read-only.
	m, s := openBox(t, c, p, 0)
	tcompare(t, m.ReadOnly, true)
	tcompare(t, m.MsgCount(), 1)

	_, _, err = mailbox.Open(ctxbg, c, p, mailbox.OpenAppend, nil)
	if !errors.Is(err, mailbox.ErrLocked) {
		t.Fatalf("got %v, expected ErrLocked", err)
	}

	tcheck(t, l.Unlock(), "unlock")
	m2, s2, err := mailbox.Open(ctxbg, c, p, mailbox.OpenAppend, nil)
	tcheck(t, err, "open for append")
	tcheck(t, s2.Close(m2), "close")
	tcheck(t, s.Close(m), "close")
}

func TestCheckStats(t *testing.T) {
	c := testConfig(t, func(c *config.Static) {
		c.CheckMboxSize = true
	})
	p := writeBox(t, msg("a@x", "one", "1\n")+strings.Replace(msg("b@x", "two", "2\n"), "Subject:", "Status: RO\nSubject:", 1))

	m := mailbox.New(p, mailbox.TypeMbox)
	hasNew, err := Mbox.CheckStats(ctxbg, c, m)
	tcheck(t, err, "check stats")
	tcompare(t, hasNew, true)
	tcompare(t, m.Total, 2)
	tcompare(t, m.Unread, 1)
	tcompare(t, m.New, 1)
	tcompare(t, m.MsgCount(), 0)
	tcompare(t, m.Peek, false)

	// Unchanged file is not parsed again.
	checked := m.StatsChecked
	_, err = Mbox.CheckStats(ctxbg, c, m)
	tcheck(t, err, "check stats")
	tcompare(t, m.StatsChecked, checked)

	_, err = Mbox.CheckStats(ctxbg, c, mailbox.New(filepath.Join(t.TempDir(), "absent"), mailbox.TypeMbox))
	tcheck(t, err, "check stats of missing mailbox")
}

type countingCache struct {
	*hcache.Cache
	hits int
}

func (cc *countingCache) Fetch(ctx context.Context, path string, size int64, mtime time.Time) ([]*email.Email, bool) {
	l, ok := cc.Cache.Fetch(ctx, path, size, mtime)
	if ok {
		cc.hits++
	}
	return l, ok
}

func TestHeaderCache(t *testing.T) {
	c := testConfig(t, func(c *config.Static) {
		c.HeaderCache = filepath.Join(t.TempDir(), "hcache.db")
	})
	hc, err := hcache.Open(ctxbg, c)
	tcheck(t, err, "open header cache")
	defer hc.Close()
	cc := &countingCache{Cache: hc}

	p := writeBox(t, msg("a@x", "one", "1\n")+msg("b@x", "two", "2\n"))
	m, s, err := mailbox.Open(ctxbg, c, p, mailbox.OpenReadOnly, cc)
	tcheck(t, err, "open")
	tcompare(t, cc.hits, 0)
	tcheck(t, s.Close(m), "close")

	m, s, err = mailbox.Open(ctxbg, c, p, mailbox.OpenReadOnly, cc)
	tcheck(t, err, "open again")
	tcompare(t, cc.hits, 1)
	tcompare(t, subjects(m), []string{"one", "two"})
	checkOffsets(t, p, m, "From ")
	tcheck(t, s.Close(m), "close")
}

func TestHeaderCacheUnsyncedFlags(t *testing.T) {
	c := testConfig(t, func(c *config.Static) {
		c.HeaderCache = filepath.Join(t.TempDir(), "hcache.db")
	})
	hc, err := hcache.Open(ctxbg, c)
	tcheck(t, err, "open header cache")
	defer hc.Close()

	p := writeBox(t, msg("a@x", "one", "1\n")+msg("b@x", "two", "2\n"))
	m, s, err := mailbox.Open(ctxbg, c, p, 0, hc)
	tcheck(t, err, "open")
	m.Emails[0].SetFlag(email.FlagRead, true)

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0)
	tcheck(t, err, "open")
	_, err = f.WriteString(msg("c@x", "three", "3\n"))
	tcheck(t, err, "append")
	tcheck(t, f.Close(), "close")

	r, err := s.Check(ctxbg, c, m)
	tcheck(t, err, "check")
	tcompare(t, r, mailbox.CheckNewMail)
	tcompare(t, m.Changed, true)
	// Closed without sync, the flag change is dropped.
	tcheck(t, s.Close(m), "close")

	m, s, err = mailbox.Open(ctxbg, c, p, mailbox.OpenReadOnly, hc)
	tcheck(t, err, "open again")
	defer s.Close(m)
	tcompare(t, subjects(m), []string{"one", "two", "three"})
	tcompare(t, m.Emails[0].Read, false)
	tcompare(t, m.Unread, 3)
}
