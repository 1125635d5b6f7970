// Package email holds the in-memory representation of a message: the
// Envelope with the parsed header values, the tree of Body parts, and the
// Email handle with flags and mailbox bookkeeping.
package email

import (
	"regexp"
	"strings"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/rfc2047"
)

// Changed records which canonical Envelope fields were modified after parsing,
// so a mailbox sync knows to rewrite the headers.
type Changed uint8

const (
	ChangedIRT     Changed = 1 << iota // In-Reply-To.
	ChangedRefs                        // References.
	ChangedXLabel                      // X-Label.
	ChangedSubject                     // Subject.
)

// Envelope is the collection of header values of a message.
type Envelope struct {
	ReturnPath     address.List
	From           address.List
	To             address.List
	Cc             address.List
	Bcc            address.List
	Sender         address.List
	ReplyTo        address.List
	MailFollowupTo address.List
	XOriginalTo    address.List

	// Mailing list URLs, from List-Post, List-Subscribe and List-Unsubscribe.
	ListPost        string
	ListSubscribe   string
	ListUnsubscribe string

	Subject string
	// Subject without reply prefixes as matched by the reply regexp. A
	// substring of Subject.
	RealSubj string
	DispSubj string // Subject as displayed, set by the index.

	MessageID    string
	Supersedes   string
	Date         string
	XLabel       string
	Organization string
	Newsgroups   string
	Xref         string
	FollowupTo   string
	XCommentTo   string

	// Message-IDs, most recent ancestor first.
	References []string
	InReplyTo  []string

	// Headers not otherwise recognized, as "Name: value".
	UserHdrs []string

	Spam string // Spam tag, from the spam rules.

	Autocrypt       []Autocrypt
	AutocryptGossip []Autocrypt

	Changed Changed
}

// Autocrypt is a parsed Autocrypt or Autocrypt-Gossip header.
type Autocrypt struct {
	Addr          string
	PreferEncrypt bool
	Keydata       string
	Invalid       bool // Unknown critical attribute or missing addr/keydata.
}

// NewEnvelope returns an empty Envelope.
func NewEnvelope() *Envelope {
	return &Envelope{}
}

// SetSubject sets the subject and the real subject with reply prefixes
// matched by replyRegex removed.
func (env *Envelope) SetSubject(subj string, replyRegex *regexp.Regexp) {
	env.Subject = subj
	env.DispSubj = ""
	env.RealSubj = subj
	if replyRegex == nil || subj == "" {
		return
	}
	if loc := replyRegex.FindStringIndex(subj); loc != nil && loc[0] == 0 {
		env.RealSubj = subj[loc[1]:]
	}
}

// Merge copies fields of extra that are empty in base into base.
func (env *Envelope) Merge(extra *Envelope) {
	if extra == nil {
		return
	}
	mergeList := func(base *address.List, x address.List) {
		if len(*base) == 0 {
			*base = x.Copy(false)
		}
	}
	mergeList(&env.ReturnPath, extra.ReturnPath)
	mergeList(&env.From, extra.From)
	mergeList(&env.To, extra.To)
	mergeList(&env.Cc, extra.Cc)
	mergeList(&env.Bcc, extra.Bcc)
	mergeList(&env.Sender, extra.Sender)
	mergeList(&env.ReplyTo, extra.ReplyTo)
	mergeList(&env.MailFollowupTo, extra.MailFollowupTo)
	mergeList(&env.XOriginalTo, extra.XOriginalTo)

	mergeStr := func(base *string, x string) {
		if *base == "" {
			*base = x
		}
	}
	mergeStr(&env.ListPost, extra.ListPost)
	mergeStr(&env.ListSubscribe, extra.ListSubscribe)
	mergeStr(&env.ListUnsubscribe, extra.ListUnsubscribe)
	if env.Subject == "" {
		env.Subject = extra.Subject
		env.RealSubj = extra.RealSubj
		env.DispSubj = extra.DispSubj
	}
	mergeStr(&env.MessageID, extra.MessageID)
	mergeStr(&env.Supersedes, extra.Supersedes)
	mergeStr(&env.Date, extra.Date)
	mergeStr(&env.XLabel, extra.XLabel)
	mergeStr(&env.Organization, extra.Organization)
	mergeStr(&env.Newsgroups, extra.Newsgroups)
	mergeStr(&env.Xref, extra.Xref)
	mergeStr(&env.FollowupTo, extra.FollowupTo)
	mergeStr(&env.XCommentTo, extra.XCommentTo)
	mergeStr(&env.Spam, extra.Spam)

	if len(env.References) == 0 {
		env.References = append([]string(nil), extra.References...)
	}
	if len(env.InReplyTo) == 0 {
		env.InReplyTo = append([]string(nil), extra.InReplyTo...)
	}
	if len(env.UserHdrs) == 0 {
		env.UserHdrs = append([]string(nil), extra.UserHdrs...)
	}
}

// Copy returns a deep copy.
func (env *Envelope) Copy() *Envelope {
	n := &Envelope{}
	n.Merge(env)
	n.Autocrypt = append([]Autocrypt(nil), env.Autocrypt...)
	n.AutocryptGossip = append([]Autocrypt(nil), env.AutocryptGossip...)
	n.Changed = env.Changed
	return n
}

// CmpStrict returns whether the message identity of two envelopes is the
// same: message-id, subject, references and the addresses.
func (env *Envelope) CmpStrict(o *Envelope) bool {
	if env == nil || o == nil {
		return env == o
	}
	return env.MessageID == o.MessageID &&
		env.Subject == o.Subject &&
		equalStrings(env.References, o.References) &&
		env.From.Equal(o.From) &&
		env.Sender.Equal(o.Sender) &&
		env.ReplyTo.Equal(o.ReplyTo) &&
		env.To.Equal(o.To) &&
		env.Cc.Equal(o.Cc) &&
		env.ReturnPath.Equal(o.ReturnPath)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (env *Envelope) lists() []*address.List {
	return []*address.List{&env.ReturnPath, &env.From, &env.To, &env.Cc, &env.Bcc, &env.Sender, &env.ReplyTo, &env.MailFollowupTo, &env.XOriginalTo}
}

// ToIntl converts the domains of all addresses to their IDNA A-label form.
// Addresses that cannot be converted are returned.
func (env *Envelope) ToIntl() (failed []string) {
	for _, l := range env.lists() {
		failed = append(failed, l.ToIntl()...)
	}
	return failed
}

// ToLocal converts the domains of all addresses to their unicode form.
func (env *Envelope) ToLocal() {
	for _, l := range env.lists() {
		l.ToLocal()
	}
}

// DecodeRFC2047 decodes encoded words in the address display names, subject
// and free-form headers. Undeclared 8-bit text is interpreted with the
// assumed charsets.
func (env *Envelope) DecodeRFC2047(assumed []string, replyRegex *regexp.Regexp) {
	for _, l := range env.lists() {
		rfc2047.DecodeAddrList(*l, assumed)
	}
	env.XLabel = rfc2047.Decode(env.XLabel, assumed)
	env.Organization = rfc2047.Decode(env.Organization, assumed)
	if env.Subject != "" {
		env.SetSubject(rfc2047.Decode(env.Subject, assumed), replyRegex)
	}
	for i, h := range env.UserHdrs {
		env.UserHdrs[i] = rfc2047.Decode(h, assumed)
	}
}

// EncodeRFC2047 encodes non-ASCII text in the address display names, subject
// and free-form headers for sending.
func (env *Envelope) EncodeRFC2047(charsets []string, replyRegex *regexp.Regexp) {
	tags := []struct {
		l   *address.List
		tag string
	}{
		{&env.ReturnPath, "Return-Path"},
		{&env.From, "From"},
		{&env.To, "To"},
		{&env.Cc, "Cc"},
		{&env.Bcc, "Bcc"},
		{&env.Sender, "Sender"},
		{&env.ReplyTo, "Reply-To"},
		{&env.MailFollowupTo, "Mail-Followup-To"},
		{&env.XOriginalTo, "X-Original-To"},
	}
	for _, t := range tags {
		rfc2047.EncodeAddrList(*t.l, t.tag, charsets)
	}
	if env.XLabel != "" {
		env.XLabel = rfc2047.Encode(env.XLabel, "", len("X-Label: "), charsets)
	}
	if env.Subject != "" {
		env.SetSubject(rfc2047.Encode(env.Subject, "", len("Subject: "), charsets), replyRegex)
	}
	for i, h := range env.UserHdrs {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		value = strings.TrimLeft(value, " \t")
		env.UserHdrs[i] = name + ": " + rfc2047.Encode(value, "", len(name)+2, charsets)
	}
}
