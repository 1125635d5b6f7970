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
	"time"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/metrics"
	"github.com/muacore/mua/msgcopy"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/muaio"
)

// RecoveryError is returned when the mailbox file may have been damaged while
// writing it. The messages that were being written are kept at Path.
type RecoveryError struct {
	Path string
	Err  error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("writing mailbox failed, messages saved to %s: %v", e.Path, e.Err)
}

func (e *RecoveryError) Unwrap() error {
	return e.Err
}

type countWriter struct {
	w io.Writer
	n int64
}

func (w *countWriter) Write(buf []byte) (int, error) {
	n, err := w.w.Write(buf)
	w.n += int64(n)
	return n, err
}

// offsets of a message before a sync, restored if writing fails.
type offsets struct {
	hdr, body, length int64
	lines             int
}

// Sync writes changed messages back to the file and removes deleted
// messages. Only the file from the first changed message onwards is
// rewritten: the messages after it are written to a temporary file that is
// then copied over the tail of the mailbox.
func (s Store) Sync(ctx context.Context, c *mua.Config, m *mailbox.Mailbox) (r mailbox.CheckResult, rerr error) {
	start := time.Now()
	defer func() {
		metrics.MailboxObserve(ctx, "sync", s.typ, rerr, start)
	}()
	log := pkglog.WithContext(ctx).With(slog.String("path", m.Path))

	d, err := boxData(m)
	if err != nil {
		return mailbox.CheckNoChange, err
	}
	if m.ReadOnly {
		return mailbox.CheckNoChange, mailbox.ErrReadOnly
	}

	if err := s.lock(ctx, c, m, d, true, true); err != nil {
		return mailbox.CheckNoChange, err
	}
	defer s.unlock(d)

	// Changes by other programs must be seen by the user first.
	if r, err := s.check(ctx, c, m, d); err != nil {
		return mailbox.CheckNoChange, err
	} else if r != mailbox.CheckNoChange {
		return r, nil
	}

	first := -1
	for i, e := range m.Emails {
		if e.Deleted || e.Changed || e.AttachDel {
			first = i
			break
		}
	}
	if first < 0 {
		log.Debug("no changes to sync")
		return mailbox.CheckNoChange, nil
	}

	cutoff := m.Emails[first].Offset
	if s.typ == mailbox.TypeMMDF {
		cutoff -= int64(len(MMDFSep))
	}

	// Pre-sync offsets of the messages that will move.
	old := make([]offsets, len(m.Emails)-first)
	for i, e := range m.Emails[first:] {
		old[i] = offsets{e.Body.HdrOffset, e.Body.Offset, e.Body.Length, e.Lines}
	}
	restore := func() {
		for i, e := range m.Emails[first:] {
			e.Offset = old[i].hdr
			e.Body.HdrOffset = old[i].hdr
			e.Body.Offset = old[i].body
			e.Body.Length = old[i].length
			e.Lines = old[i].lines
		}
	}

	tmp, err := os.CreateTemp(c.Static.Tmpdir, "mua-sync-*")
	if err != nil {
		return mailbox.CheckNoChange, fmt.Errorf("%w: creating temporary file: %v", mailbox.ErrIO, err)
	}
	tmpPath := tmp.Name()
	removeTmp := true
	defer func() {
		err := tmp.Close()
		log.Check(err, "closing temporary file")
		if removeTmp {
			err := os.Remove(tmpPath)
			log.Check(err, "removing temporary file")
		}
	}()

	// New positions, applied once the file has been written.
	type position struct {
		e         *email.Email
		hdr, body int64
	}
	var moved []position

	bw := bufio.NewWriter(tmp)
	cw := &countWriter{w: bw}
	write := func(s string) error {
		_, err := io.WriteString(cw, s)
		return err
	}
	for _, e := range m.Emails[first:] {
		if err := ctx.Err(); err != nil {
			restore()
			return mailbox.CheckNoChange, err
		}
		if e.Deleted {
			continue
		}
		if s.typ == mailbox.TypeMMDF {
			if err := write(MMDFSep); err != nil {
				restore()
				return mailbox.CheckNoChange, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
			}
		}
		hdr := cw.n + cutoff
		err := msgcopy.CopyMessage(c, d.f, e, cw, 0, msgcopy.HFrom|msgcopy.HUpdate|msgcopy.HUpdateLen, msgcopy.CopyOpts{})
		if err != nil {
			restore()
			return mailbox.CheckNoChange, fmt.Errorf("%w: copying message: %v", mailbox.ErrIO, err)
		}
		moved = append(moved, position{e, hdr, cw.n - e.Body.Length + cutoff})
		e.Body.Parts.Free()
		e.Body.Parts = nil

		sep := "\n"
		if s.typ == mailbox.TypeMMDF {
			sep = MMDFSep
		}
		if err := write(sep); err != nil {
			restore()
			return mailbox.CheckNoChange, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
		}
	}
	err = bw.Flush()
	if err == nil {
		err = tmp.Sync()
	}
	if err != nil {
		restore()
		return mailbox.CheckNoChange, fmt.Errorf("%w: writing temporary file: %v", mailbox.ErrIO, err)
	}

	fi, err := d.f.Stat()
	if err != nil {
		restore()
		return mailbox.CheckNoChange, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}
	hasNew := m.New > 0

	// From here on the mailbox file is modified. On failure, the temporary
	// file is kept so the messages can be recovered.
	fail := func(err error) (mailbox.CheckResult, error) {
		restore()
		removeTmp = false
		path := recoveryPath(c)
		if xerr := os.Rename(tmpPath, path); xerr == nil {
			xerr := muaio.SyncDir(filepath.Dir(path))
			log.Check(xerr, "syncing recovery directory")
		} else if xerr := muaio.LinkOrCopy(log, path, tmpPath, nil, true); xerr != nil {
			log.Errorx("keeping temporary file for recovery", xerr, slog.String("tmppath", tmpPath))
			path = tmpPath
		} else {
			removeTmp = true
		}
		log.Error("writing mailbox failed, messages kept for recovery", slog.Any("err", err), slog.String("recovery", path))
		return mailbox.CheckNoChange, &RecoveryError{path, fmt.Errorf("%w: %v", mailbox.ErrIO, err)}
	}

	if !s.separator(d.f, cutoff) {
		// The file no longer looks like we left it, don't overwrite.
		return fail(fmt.Errorf("%w: no message separator at offset %d", mailbox.ErrFormat, cutoff))
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}
	n, err := muaio.CopyFile(io.NewOffsetWriter(d.f, cutoff), tmp)
	if err != nil {
		return fail(err)
	}
	if n != cw.n {
		return fail(fmt.Errorf("copied %d bytes, expected %d", n, cw.n))
	}
	if err := d.f.Truncate(cutoff + n); err != nil {
		return fail(err)
	}
	if err := d.f.Sync(); err != nil {
		return fail(err)
	}

	// Keep new mail marked as new for other programs checking the access
	// time.
	atime := fileAtime(fi)
	if hasNew && !atime.Before(fi.ModTime()) {
		atime = fi.ModTime().Add(-time.Second)
	}
	err = os.Chtimes(m.Path, atime, fi.ModTime())
	log.Check(err, "restoring mailbox times")

	for _, p := range moved {
		p.e.Offset = p.hdr
		p.e.Body.HdrOffset = p.hdr
		p.e.Body.Offset = p.body
	}

	var emails []*email.Email
	removed := 0
	for _, e := range m.Emails {
		if e.Deleted {
			removed++
			e.Free()
			continue
		}
		e.Changed = false
		e.AttachDel = false
		if e.Env != nil {
			e.Env.Changed = 0
		}
		emails = append(emails, e)
	}
	m.Emails = emails
	m.Renumber()
	m.RebuildIndexes()
	m.UpdateCounts()
	m.UpdateView(nil)

	if fi, err := d.f.Stat(); err != nil {
		log.Errorx("stat after sync", err)
	} else {
		m.Size = fi.Size()
		m.Mtime = fi.ModTime()
	}
	if m.Cache != nil {
		err := m.Cache.Store(ctx, m.Path, m.Size, m.Mtime, m.Emails)
		log.Check(err, "storing messages in header cache")
	}
	log.Info("mailbox synced", slog.Int("removed", removed), slog.Int("rewritten", len(moved)), slog.Int64("size", m.Size))
	return mailbox.CheckNoChange, nil
}

// recoveryPath returns the path for keeping messages after a failed sync.
func recoveryPath(c *mua.Config) string {
	dir := c.Static.Tmpdir
	if dir == "" {
		dir = os.TempDir()
	}
	name := fmt.Sprintf("mua.%s-%s-%d", c.User.Username, c.Hostname(), os.Getpid())
	return filepath.Join(dir, filepath.Base(name))
}

// IsRecovery returns the recovery path if err is a RecoveryError.
func IsRecovery(err error) (string, bool) {
	var rerr *RecoveryError
	if errors.As(err, &rerr) {
		return rerr.Path, true
	}
	return "", false
}
