// Package mbox implements mailbox.Store for mbox and MMDF mailbox files.
//
// An mbox file is a concatenation of messages, each preceded by a "From "
// separator line and followed by a blank line. MMDF files instead wrap each
// message in lines of four ^A characters.
//
// Files are locked with advisory locks: shared while parsing and exclusive
// while appending or rewriting. The whole file is parsed on open, and on
// later checks only appended messages are parsed. When another program
// rewrote the file, it is parsed again and the flags of the messages in
// memory are carried over to their counterparts.
package mbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/metrics"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/parse"
)

var pkglog = mlog.New("mbox", nil)

// MMDFSep is the line before and after each message in an MMDF file.
const MMDFSep = "\x01\x01\x01\x01\n"

// Delay between attempts to acquire a lock.
var lockRetryDelay = time.Second

// Store is a mailbox.Store for mbox or MMDF files.
type Store struct {
	typ mailbox.Type
}

var (
	Mbox = Store{mailbox.TypeMbox}
	MMDF = Store{mailbox.TypeMMDF}
)

func init() {
	mailbox.Register(Mbox)
	mailbox.Register(MMDF)
}

// data is kept in Mailbox.Data while the mailbox is open.
type data struct {
	f      *os.File
	lock   *flock.Flock
	locked bool
}

func boxData(m *mailbox.Mailbox) (*data, error) {
	d, ok := m.Data.(*data)
	if !ok || d.f == nil {
		return nil, fmt.Errorf("%w: mailbox %s is not open", mailbox.ErrIO, m.Path)
	}
	return d, nil
}

func (s Store) Type() mailbox.Type {
	return s.typ
}

func (s Store) Probe(head []byte) bool {
	head = []byte(strings.TrimLeft(string(head), "\r\n"))
	switch s.typ {
	case mailbox.TypeMbox:
		return strings.HasPrefix(string(head), "From ")
	case mailbox.TypeMMDF:
		return strings.HasPrefix(string(head), MMDFSep)
	}
	return false
}

// PaddingSize returns the number of bytes written around each message in
// addition to the message itself.
func (s Store) PaddingSize() int {
	if s.typ == mailbox.TypeMMDF {
		return 2 * len(MMDFSep)
	}
	return 1
}

// separator returns whether the file has a message separator at offset off.
// For mbox, only the start of the "From " line is checked.
func (s Store) separator(f io.ReaderAt, off int64) bool {
	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, off); err != nil {
		return false
	}
	if s.typ == mailbox.TypeMMDF {
		return string(buf) == MMDFSep
	}
	return string(buf) == "From "
}

// lock acquires an advisory lock on the mailbox file. With retry, the
// configured number of additional attempts is made, a second apart.
func (s Store) lock(ctx context.Context, c *mua.Config, m *mailbox.Mailbox, d *data, excl, retry bool) error {
	if d.locked {
		return nil
	}
	log := pkglog.WithContext(ctx)
	if d.lock == nil {
		d.lock = flock.New(m.Path)
	}
	retries := 0
	if retry {
		retries = c.Static.LockRetries
	}
	for i := 0; ; i++ {
		var ok bool
		var err error
		if excl {
			ok, err = d.lock.TryLock()
		} else {
			ok, err = d.lock.TryRLock()
		}
		if err != nil {
			return fmt.Errorf("%w: locking %s: %v", mailbox.ErrIO, m.Path, err)
		}
		if ok {
			d.locked = true
			return nil
		}
		if i >= retries {
			return fmt.Errorf("%w: %s", mailbox.ErrLocked, m.Path)
		}
		log.Info("waiting for mailbox lock", slog.String("path", m.Path), slog.Int("attempt", i+1), slog.Bool("exclusive", excl))
		if mua.Sleep(ctx, lockRetryDelay) {
			return ctx.Err()
		}
	}
}

func (s Store) unlock(d *data) {
	if !d.locked {
		return
	}
	err := d.lock.Unlock()
	pkglog.Check(err, "unlocking mailbox")
	d.locked = false
}

// Open opens and parses the mailbox file, or opens it for appending if
// m.Append is set. A mailbox that cannot be opened for writing, or cannot be
// locked, is opened read-only.
func (s Store) Open(ctx context.Context, c *mua.Config, m *mailbox.Mailbox) (rerr error) {
	if m.Append {
		return s.openAppend(ctx, c, m)
	}

	start := time.Now()
	defer func() {
		metrics.MailboxObserve(ctx, "open", s.typ, rerr, start)
	}()
	log := pkglog.WithContext(ctx).With(slog.String("path", m.Path))

	d := &data{}
	if !m.ReadOnly {
		f, err := os.OpenFile(m.Path, os.O_RDWR, 0)
		if err == nil {
			d.f = f
		} else {
			log.Debugx("opening mailbox for writing, trying read-only", err)
		}
	}
	if d.f == nil {
		f, err := os.Open(m.Path)
		if err != nil {
			return fmt.Errorf("%w: %v", mailbox.ErrIO, err)
		}
		d.f = f
		m.ReadOnly = true
	}
	m.Data = d
	defer func() {
		if rerr != nil {
			xerr := s.Close(m)
			log.Check(xerr, "closing mailbox after error")
		}
	}()

	if err := s.lock(ctx, c, m, d, false, true); errors.Is(err, mailbox.ErrLocked) {
		log.Info("cannot lock mailbox, opening read-only")
		m.ReadOnly = true
	} else if err != nil {
		return err
	}
	defer s.unlock(d)

	fi, err := d.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}
	m.Atime = fileAtime(fi)

	cached := false
	if m.Cache != nil {
		if l, ok := m.Cache.Fetch(ctx, m.Path, fi.Size(), fi.ModTime()); ok {
			for _, e := range l {
				m.Add(e)
			}
			m.Size = fi.Size()
			m.Mtime = fi.ModTime()
			cached = true
		}
	}
	if !cached {
		if _, err := s.parse(ctx, c, m, d.f, 0); err != nil {
			m.Free()
			return err
		}
		if m.Cache != nil {
			err := m.Cache.Store(ctx, m.Path, m.Size, m.Mtime, m.Emails)
			log.Check(err, "storing messages in header cache")
		}
	}
	metrics.MailboxParsed(s.typ, m.MsgCount(), cached)

	m.UpdateCounts()
	m.UpdateView(nil)
	s.touch(m)
	return nil
}

// touch sets the access time of the file to now, marking new mail as seen,
// or restores it when peeking.
func (s Store) touch(m *mailbox.Mailbox) {
	atime := time.Now()
	if m.Peek {
		atime = m.Atime
	}
	err := os.Chtimes(m.Path, atime, m.Mtime)
	if err != nil {
		pkglog.Debugx("setting mailbox access time", err, slog.String("path", m.Path))
	}
}

// openAppend opens the mailbox file for appending, creating it and its
// directory if needed, and keeps an exclusive lock until Close.
func (s Store) openAppend(ctx context.Context, c *mua.Config, m *mailbox.Mailbox) error {
	if err := os.MkdirAll(filepath.Dir(m.Path), 0700); err != nil {
		return fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}
	f, err := os.OpenFile(m.Path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}
	d := &data{f: f}
	m.Data = d
	if err := s.lock(ctx, c, m, d, true, true); err != nil {
		xerr := s.Close(m)
		pkglog.Check(xerr, "closing mailbox after lock failure")
		return err
	}
	return nil
}

// AppendMessage writes the message read from r to the end of the mailbox.
// For mbox, a "From " line is added unless r starts with one, and body
// lines starting with "From " are quoted. The file is synced before
// returning.
func (s Store) AppendMessage(ctx context.Context, c *mua.Config, m *mailbox.Mailbox, e *email.Email, r io.Reader) (rerr error) {
	d, err := boxData(m)
	if err != nil {
		return err
	} else if !m.Append {
		return fmt.Errorf("%w: mailbox not opened for appending", mailbox.ErrIO)
	}
	start := time.Now()
	defer func() {
		metrics.MailboxObserve(ctx, "append", s.typ, rerr, start)
	}()

	bw := bufio.NewWriter(d.f)
	br := bufio.NewReader(r)
	write := func(s string) {
		if err == nil {
			_, err = bw.WriteString(s)
		}
	}

	if s.typ == mailbox.TypeMMDF {
		write(MMDFSep)
	}

	line, rderr := br.ReadString('\n')
	if rderr != nil && rderr != io.EOF {
		return fmt.Errorf("reading message: %w", rderr)
	}
	if _, _, ok := parse.IsFrom(line); !ok {
		write(parse.FromLine(envelopeSender(c, e), receivedTime(e)))
	}
	last := line
	for line != "" {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		write(line)
		last = line
		line, rderr = br.ReadString('\n')
		if rderr != nil && rderr != io.EOF {
			return fmt.Errorf("reading message: %w", rderr)
		}
		if s.typ == mailbox.TypeMbox && strings.HasPrefix(line, "From ") {
			line = ">" + line
		}
	}
	if last != "" && !strings.HasSuffix(last, "\n") {
		write("\n")
	}
	if s.typ == mailbox.TypeMMDF {
		write(MMDFSep)
	} else {
		write("\n")
	}
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = d.f.Sync()
	}
	if err != nil {
		return fmt.Errorf("%w: writing message: %v", mailbox.ErrIO, err)
	}
	return nil
}

// envelopeSender returns the address for the "From " line of e.
func envelopeSender(c *mua.Config, e *email.Email) string {
	if e != nil && e.Env != nil {
		for _, l := range []address.List{e.Env.ReturnPath, e.Env.Sender, e.Env.From} {
			if len(l) > 0 && l[0].Mailbox != "" {
				return l[0].Mailbox
			}
		}
	}
	return c.User.Username
}

func receivedTime(e *email.Email) time.Time {
	if e != nil && e.Received != 0 {
		return time.Unix(e.Received, 0)
	}
	return time.Now()
}

// Close releases the lock and closes the file.
func (s Store) Close(m *mailbox.Mailbox) error {
	d, ok := m.Data.(*data)
	if !ok {
		return nil
	}
	m.Data = nil
	s.unlock(d)
	var err error
	if d.lock != nil {
		err = d.lock.Close()
	}
	if d.f != nil {
		if xerr := d.f.Close(); err == nil {
			err = xerr
		}
	}
	return err
}
