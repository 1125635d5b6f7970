package mbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/metrics"
	"github.com/muacore/mua/mua-"
)

// Check looks for changes to the file by other programs. Appended messages
// are parsed and added. When the file was otherwise modified, it is parsed
// again and flags of messages in memory are carried over.
func (s Store) Check(ctx context.Context, c *mua.Config, m *mailbox.Mailbox) (r mailbox.CheckResult, rerr error) {
	start := time.Now()
	defer func() {
		metrics.MailboxObserve(ctx, "check", s.typ, rerr, start)
		if rerr == nil {
			metrics.MailboxCheckInc(r)
		}
	}()
	d, err := boxData(m)
	if err != nil {
		return mailbox.CheckNoChange, err
	}
	return s.check(ctx, c, m, d)
}

// check is Check for callers that may already hold the lock.
func (s Store) check(ctx context.Context, c *mua.Config, m *mailbox.Mailbox, d *data) (mailbox.CheckResult, error) {
	log := pkglog.WithContext(ctx).With(slog.String("path", m.Path))

	fi, err := os.Stat(m.Path)
	if err != nil {
		return mailbox.CheckNoChange, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}
	if fi.ModTime().Equal(m.Mtime) && fi.Size() == m.Size {
		return mailbox.CheckNoChange, nil
	}
	if fi.Size() == m.Size {
		// Only the modification time changed, e.g. by another reader
		// restoring the access time.
		m.Mtime = fi.ModTime()
		return mailbox.CheckNoChange, nil
	}

	if fi.Size() > m.Size {
		// Another program may be in the middle of appending, don't wait for
		// the lock.
		wasLocked := d.locked
		if err := s.lock(ctx, c, m, d, false, false); err != nil {
			return mailbox.CheckNoChange, err
		}
		if !wasLocked {
			defer s.unlock(d)
		}

		// Mail was appended if a separator starts where the file used to
		// end.
		off := m.Size
		if s.typ == mailbox.TypeMbox {
			// The blank line ending the last message is followed by the
			// separator.
			if !s.separator(d.f, off) && s.separator(d.f, off+1) {
				off++
			}
		}
		if s.separator(d.f, off) {
			n, err := s.parse(ctx, c, m, d.f, off)
			if err != nil {
				return mailbox.CheckNoChange, err
			}
			log.Debug("new messages in mailbox", slog.Int("count", n))
			m.UpdateCounts()
			m.UpdateView(nil)
			// Flags changed in memory must only reach the cache through sync.
			if m.Cache != nil && !m.Changed {
				err := m.Cache.Store(ctx, m.Path, m.Size, m.Mtime, m.Emails)
				log.Check(err, "storing messages in header cache")
			}
			return mailbox.CheckNewMail, nil
		}
		log.Debug("mailbox grew without separator at previous end, reopening", slog.Int64("oldsize", m.Size), slog.Int64("size", fi.Size()))
	} else {
		log.Debug("mailbox shrunk, reopening", slog.Int64("oldsize", m.Size), slog.Int64("size", fi.Size()))
	}
	return s.reopen(ctx, c, m, d)
}

// reopen parses the file again after it was modified by another program. Flags
// changed in memory are carried over to messages that are found again. It
// returns CheckReopened if messages were matched or went missing, CheckNewMail
// otherwise.
func (s Store) reopen(ctx context.Context, c *mua.Config, m *mailbox.Mailbox, d *data) (mailbox.CheckResult, error) {
	log := pkglog.WithContext(ctx).With(slog.String("path", m.Path))

	wasLocked := d.locked
	if err := s.lock(ctx, c, m, d, false, true); err != nil {
		return mailbox.CheckNoChange, err
	}
	if !wasLocked {
		defer s.unlock(d)
	}

	old := m.Emails
	m.Emails = nil
	m.V2R = nil
	m.ClearIndexes()
	if m.ReadOnly {
		// No changes can be written, so there is nothing to carry over.
		for _, e := range old {
			e.Free()
		}
		old = nil
	}

	if _, err := s.parse(ctx, c, m, d.f, 0); err != nil {
		for _, e := range old {
			e.Free()
		}
		m.Free()
		return mailbox.CheckNoChange, err
	}

	changed := false
	for i, e := range m.Emails {
		j := findOld(old, i, e)
		if j < 0 {
			continue
		}
		o := old[j]
		old[j] = nil
		changed = true
		carryFlags(o, e)
		o.Free()
	}

	msgMod := false
	for _, o := range old {
		if o != nil {
			msgMod = true
			o.Free()
		}
	}

	m.UpdateCounts()
	m.UpdateView(nil)
	if m.Cache != nil && !m.Changed {
		err := m.Cache.Store(ctx, m.Path, m.Size, m.Mtime, m.Emails)
		log.Check(err, "storing messages in header cache")
	}
	log.Info("mailbox reopened", slog.Int("messages", m.MsgCount()), slog.Bool("modified", msgMod))
	if changed || msgMod {
		return mailbox.CheckReopened, nil
	}
	return mailbox.CheckNewMail, nil
}

// findOld returns the index of the message in old matching e, starting at
// position i since most messages keep their position, then trying the
// messages before it.
func findOld(old []*email.Email, i int, e *email.Email) int {
	for j := i; j < len(old); j++ {
		if old[j] != nil && old[j].CmpStrict(e) {
			return j
		}
	}
	for j := 0; j < i && j < len(old); j++ {
		if old[j] != nil && old[j].CmpStrict(e) {
			return j
		}
	}
	return -1
}

// carryFlags copies flags from the message before a reopen. Flags read from
// the file win unless they were changed in memory. Deletion and tagging only
// exist in memory.
func carryFlags(o, e *email.Email) {
	if o.Changed {
		e.SetFlag(email.FlagFlagged, o.Flagged)
		e.SetFlag(email.FlagReplied, o.Replied)
		e.SetFlag(email.FlagOld, o.Old)
		e.SetFlag(email.FlagRead, o.Read)
	}
	e.SetFlag(email.FlagDeleted, o.Deleted)
	e.SetFlag(email.FlagPurge, o.Purge)
	e.SetFlag(email.FlagTagged, o.Tagged)
}

// CheckStats returns whether the mailbox file has new mail. With
// CheckMboxSize, a grown file means new mail. Otherwise the file was modified
// after it was last read. When the file changed since the counts in m were
// last refreshed, it is parsed read-only to update them.
func (s Store) CheckStats(ctx context.Context, c *mua.Config, m *mailbox.Mailbox) (bool, error) {
	fi, err := os.Stat(m.Path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("%w: %v", mailbox.ErrIO, err)
	}

	var hasNew bool
	if c.Static.CheckMboxSize {
		hasNew = fi.Size() > m.Size
		if !hasNew {
			m.Size = fi.Size()
		}
	} else {
		hasNew = fi.ModTime().After(fileAtime(fi)) && fi.Size() > 0
	}

	if fi.ModTime().After(m.StatsChecked) {
		if err := s.refreshStats(ctx, c, m); err != nil {
			return hasNew, err
		}
	}
	return hasNew || m.New > 0, nil
}

// refreshStats parses the file into a temporary read-only mailbox that
// restores the access time, and copies the counts to m.
func (s Store) refreshStats(ctx context.Context, c *mua.Config, m *mailbox.Mailbox) error {
	tmp := mailbox.New(m.Path, s.typ)
	tmp.ReadOnly = true
	tmp.Peek = true
	tmp.Cache = m.Cache
	if err := s.Open(ctx, c, tmp); err != nil {
		return err
	}
	m.Total = tmp.Total
	m.Unread = tmp.Unread
	m.New = tmp.New
	m.Flagged = tmp.Flagged
	m.Deleted = tmp.Deleted
	m.Tagged = tmp.Tagged
	err := s.Close(tmp)
	pkglog.Check(err, "closing mailbox after counting", slog.String("path", m.Path))
	tmp.Free()
	m.StatsChecked = time.Now()
	return nil
}
