// Package mailbox holds the in-memory view of an opened mailbox: its messages
// in file order, the view of visible messages, and lookup indexes by
// Message-ID, subject and label. Storage formats implement Store and register
// themselves with Register.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mlog"
)

var pkglog = mlog.New("mailbox", nil)

var (
	ErrIO          = errors.New("mailbox i/o error")
	ErrLocked      = errors.New("mailbox is locked")
	ErrReadOnly    = errors.New("mailbox is read-only")
	ErrFormat      = errors.New("invalid mailbox format")
	ErrUnknownType = errors.New("unknown mailbox type")
)

// Type is the storage format of a mailbox.
type Type int

const (
	TypeUnknown Type = iota
	TypeMbox
	TypeMMDF
)

func (t Type) String() string {
	switch t {
	case TypeMbox:
		return "mbox"
	case TypeMMDF:
		return "mmdf"
	}
	return "unknown"
}

// ParseType returns the type named s, case insensitive.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "mbox", "":
		return TypeMbox, nil
	case "mmdf":
		return TypeMMDF, nil
	}
	return TypeUnknown, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// CheckResult is the outcome of checking a mailbox for external changes.
type CheckResult int

const (
	CheckNoChange CheckResult = iota
	CheckNewMail              // Messages were appended and parsed.
	CheckReopened             // File was rewritten, the messages were reparsed.
)

func (r CheckResult) String() string {
	switch r {
	case CheckNewMail:
		return "newmail"
	case CheckReopened:
		return "reopened"
	}
	return "nochange"
}

// Mailbox is an opened mailbox with its messages.
type Mailbox struct {
	Type Type
	Path string

	// File state when last parsed or synced, for detecting changes.
	Size  int64
	Mtime time.Time
	Atime time.Time

	ReadOnly bool
	Verbose  bool // Log progress for long operations.
	Peek     bool // Preserve the access time when reading.
	Append   bool // Opened only for appending.

	// Messages in file order. Index of each message is its position.
	Emails []*email.Email
	// Positions in Emails of the visible messages, in display order.
	V2R []int

	Changed bool // Some message needs to be written on sync.

	// Counts, updated by UpdateCounts.
	Total   int
	Unread  int
	New     int
	Flagged int
	Deleted int
	Tagged  int

	// Consulted when parsing, may be nil.
	Cache HeaderCache

	// When the counts were last refreshed by a store's CheckStats.
	StatsChecked time.Time

	// Driver specific data.
	Data any

	idIndex    map[string]*email.Email
	subjIndex  map[string][]*email.Email
	labelIndex map[string]int
}

// HeaderCache stores parsed messages of mailbox files, see package hcache.
type HeaderCache interface {
	Fetch(ctx context.Context, path string, size int64, mtime time.Time) ([]*email.Email, bool)
	Store(ctx context.Context, path string, size int64, mtime time.Time, emails []*email.Email) error
}

// New returns an empty mailbox for path.
func New(path string, typ Type) *Mailbox {
	return &Mailbox{Path: path, Type: typ}
}

// MsgCount returns the number of messages.
func (m *Mailbox) MsgCount() int {
	return len(m.Emails)
}

// VCount returns the number of visible messages.
func (m *Mailbox) VCount() int {
	return len(m.V2R)
}

// Add appends e to the mailbox, setting its index and adding it to the
// indexes.
func (m *Mailbox) Add(e *email.Email) {
	e.Index = len(m.Emails)
	e.MsgNo = e.Index + 1
	m.Emails = append(m.Emails, e)
	m.indexAdd(e)
}

// Free releases all messages and clears the indexes.
func (m *Mailbox) Free() {
	for _, e := range m.Emails {
		e.Free()
	}
	m.Emails = nil
	m.V2R = nil
	m.ClearIndexes()
}

// Renumber sets the index of each message to its position.
func (m *Mailbox) Renumber() {
	for i, e := range m.Emails {
		e.Index = i
		e.MsgNo = i + 1
	}
}

// ClearIndexes empties the lookup indexes.
func (m *Mailbox) ClearIndexes() {
	m.idIndex = nil
	m.subjIndex = nil
	m.labelIndex = nil
}

// RebuildIndexes recreates the lookup indexes from the messages.
func (m *Mailbox) RebuildIndexes() {
	m.ClearIndexes()
	for _, e := range m.Emails {
		m.indexAdd(e)
	}
}

func (m *Mailbox) indexAdd(e *email.Email) {
	if e.Env == nil {
		return
	}
	if e.Env.MessageID != "" {
		if m.idIndex == nil {
			m.idIndex = map[string]*email.Email{}
		}
		m.idIndex[e.Env.MessageID] = e
	}
	if e.Env.RealSubj != "" {
		if m.subjIndex == nil {
			m.subjIndex = map[string][]*email.Email{}
		}
		k := normalizeSubject(e.Env.RealSubj)
		m.subjIndex[k] = append(m.subjIndex[k], e)
	}
	if e.Env.XLabel != "" {
		m.LabelAdd(e.Env.XLabel)
	}
}

func normalizeSubject(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ByMessageID returns the message with Message-ID id.
func (m *Mailbox) ByMessageID(id string) *email.Email {
	return m.idIndex[id]
}

// BySubject returns the messages with subject s after removing reply
// prefixes.
func (m *Mailbox) BySubject(s string) []*email.Email {
	return m.subjIndex[normalizeSubject(s)]
}

// LabelAdd increases the use count of label.
func (m *Mailbox) LabelAdd(label string) {
	if m.labelIndex == nil {
		m.labelIndex = map[string]int{}
	}
	m.labelIndex[label]++
}

// LabelRemove decreases the use count of label.
func (m *Mailbox) LabelRemove(label string) {
	if n := m.labelIndex[label]; n <= 1 {
		delete(m.labelIndex, label)
	} else {
		m.labelIndex[label] = n - 1
	}
}

// Labels returns the labels in use with their counts.
func (m *Mailbox) Labels() map[string]int {
	return m.labelIndex
}

// SetLabel changes the X-Label of e, keeping the label index up to date. It
// returns whether the label changed.
func (m *Mailbox) SetLabel(e *email.Email, label string) bool {
	if e.Env.XLabel == label {
		return false
	}
	if e.Env.XLabel != "" {
		m.LabelRemove(e.Env.XLabel)
	}
	e.Env.XLabel = label
	if label != "" {
		m.LabelAdd(label)
	}
	e.Env.Changed |= email.ChangedXLabel
	e.Changed = true
	m.Changed = true
	e.NotifyChange()
	return true
}

// UpdateCounts recomputes the message counts and the changed state.
func (m *Mailbox) UpdateCounts() {
	m.Unread, m.New, m.Flagged, m.Deleted, m.Tagged = 0, 0, 0, 0, 0
	m.Total = len(m.Emails)
	m.Changed = false
	for _, e := range m.Emails {
		if !e.Read {
			m.Unread++
			if !e.Old {
				m.New++
			}
		}
		if e.Flagged {
			m.Flagged++
		}
		if e.Deleted {
			m.Deleted++
		}
		if e.Tagged {
			m.Tagged++
		}
		if e.Changed || e.Deleted || e.AttachDel {
			m.Changed = true
		}
	}
}

// UpdateView recomputes V2R from the visible messages in order, setting the
// virtual number of each message.
func (m *Mailbox) UpdateView(order []*email.Email) {
	if order == nil {
		order = m.Emails
	}
	m.V2R = m.V2R[:0]
	for _, e := range order {
		if e.Visible {
			e.VNum = len(m.V2R)
			m.V2R = append(m.V2R, e.Index)
		} else {
			e.VNum = -1
		}
	}
}

// Visible returns the message at virtual position vnum.
func (m *Mailbox) Visible(vnum int) *email.Email {
	if vnum < 0 || vnum >= len(m.V2R) {
		return nil
	}
	return m.Emails[m.V2R[vnum]]
}
