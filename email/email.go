package email

import (
	"sync/atomic"
	"time"
)

// Security is a bitmask with the cryptographic state of a message.
type Security uint16

const (
	SecEncrypt    Security = 1 << iota // Encrypted.
	SecSign                            // Signed.
	SecGoodSign                        // Signature verified.
	SecBadSign                         // Signature did not verify.
	SecPartSign                        // Only some parts are signed.
	SecSignOpaque                      // Opaque signature.
	SecAutocrypt                       // Autocrypt protected.
	SecOppEncrypt                      // Opportunistic encryption.
	SecInline                          // Inline PGP.
	AppPGP                             // PGP application.
	AppSMIME                           // S/MIME application.
)

// EventType is the kind of notification sent to observers of an Email.
type EventType int

const (
	EventDelete EventType = iota // Email is being freed.
	EventChange                  // Flags or envelope changed.
)

// Observer is called with notifications about an Email.
type Observer func(ev EventType, e *Email)

var sequence atomic.Int64

// Email is a message handle: parsed headers, the MIME tree, flags and
// mailbox bookkeeping.
type Email struct {
	Env  *Envelope
	Body *Body

	MIME bool // Has a MIME-Version header.

	Read       bool
	Old        bool
	Replied    bool
	Flagged    bool
	Deleted    bool
	Tagged     bool
	Purge      bool // Skip the trash folder when deleting.
	Expired    bool // Expires date has passed.
	Superseded bool // Replaced by a message with Supersedes.
	Collapsed  bool // Thread is collapsed.
	Visible    bool // Shown in the current limit.
	Changed    bool // Flags or headers need to be written on sync.
	AttachDel  bool // Attachments marked for deletion.
	Active     bool // Present on the last check, for mailbox reopen.
	Matched    bool // Result of the last limit/tag pattern.
	Trash      bool // Deleted in a mailbox with a trash folder.
	Recip      bool // Recipient state was computed.

	Security Security

	DateSent  int64 // Unix time, UTC.
	Received  int64 // Unix time, UTC.
	ZHours    int   // Timezone offset of the Date header.
	ZMinutes  int
	ZOccident bool // Timezone is west of UTC.

	Score int
	Lines int

	MsgNo    int   // Number as assigned by the store, 1-based.
	Index    int   // Position in the mailbox, the unsorted order.
	VNum     int   // Position in the limited view, -1 when not visible.
	Sequence int64 // Creation order, for stable sorting.

	Offset int64 // Start of the message, including separator, in the mailbox file.

	Thread *Thread

	// Driver specific data, released with EDataFree.
	EData     any
	EDataFree func(edata any)

	Tags Tags

	observers []Observer
}

// New returns a new Email with a unique sequence number.
func New() *Email {
	return &Email{
		Visible:  true,
		VNum:     -1,
		Sequence: sequence.Add(1),
	}
}

// Observe registers o for notifications about e.
func (e *Email) Observe(o Observer) {
	e.observers = append(e.observers, o)
}

func (e *Email) notify(ev EventType) {
	for _, o := range e.observers {
		o(ev, e)
	}
}

// NotifyChange tells observers the flags or envelope changed.
func (e *Email) NotifyChange() {
	e.notify(EventChange)
}

// Free notifies observers of the deletion, then releases the envelope, the
// MIME tree and driver data.
func (e *Email) Free() {
	if e == nil {
		return
	}
	e.notify(EventDelete)
	e.observers = nil
	if e.EData != nil && e.EDataFree != nil {
		e.EDataFree(e.EData)
	}
	e.EData = nil
	e.EDataFree = nil
	e.Env = nil
	e.Body.Free()
	e.Body = nil
	e.Thread = nil
	e.Tags = nil
}

// Size returns the size of the message content as used for sorting and
// patterns: headers not included.
func (e *Email) Size() int64 {
	if e.Body == nil {
		return 0
	}
	return e.Body.Length
}

// SetFlag sets one of the user flags and marks the message changed when the
// value differs. It returns whether something changed.
func (e *Email) SetFlag(f Flag, v bool) bool {
	var p *bool
	switch f {
	case FlagRead:
		p = &e.Read
	case FlagOld:
		p = &e.Old
	case FlagReplied:
		p = &e.Replied
	case FlagFlagged:
		p = &e.Flagged
	case FlagDeleted:
		p = &e.Deleted
	case FlagTagged:
		p = &e.Tagged
	case FlagPurge:
		p = &e.Purge
	default:
		return false
	}
	if *p == v {
		return false
	}
	*p = v
	if f == FlagRead && v {
		e.Old = false
	}
	if f != FlagTagged {
		e.Changed = true
	}
	e.notify(EventChange)
	return true
}

// Flag is a user settable message flag.
type Flag int

const (
	FlagRead Flag = iota
	FlagOld
	FlagReplied
	FlagFlagged
	FlagDeleted
	FlagTagged
	FlagPurge
)

// IsNew returns whether the message is neither read nor old.
func (e *Email) IsNew() bool {
	return !e.Read && !e.Old
}

// Zone returns the timezone of the Date header.
func (e *Email) Zone() *time.Location {
	offset := e.ZHours*3600 + e.ZMinutes*60
	if e.ZOccident {
		offset = -offset
	}
	return time.FixedZone("", offset)
}

// CmpStrict returns whether two messages are the same for the purpose of
// correlating them after a mailbox reopen: subject, from, dates, zone,
// content length and lines.
func (e *Email) CmpStrict(o *Email) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Received == o.Received &&
		e.DateSent == o.DateSent &&
		e.Size() == o.Size() &&
		e.Lines == o.Lines &&
		e.ZHours == o.ZHours &&
		e.ZMinutes == o.ZMinutes &&
		e.ZOccident == o.ZOccident &&
		e.MIME == o.MIME &&
		e.Env.CmpStrict(o.Env) &&
		e.Body.CmpStrict(o.Body)
}
