// Package pattern compiles and evaluates message patterns, as used for
// limiting, tagging, hooks and scoring.
//
// A pattern is a sequence of terms, joined by AND unless separated by "|".
// A term is "~X" followed by an argument for most letters X, optionally
// prefixed with "!" for negation and "^" to require all addresses of an
// address term to match. With "=" instead of "~", the argument is a plain
// substring instead of a regular expression, and with "%" it names an address
// group. Terms can be grouped with parentheses, "~(...)" matches messages in
// threads with a matching message, "~<(...)" messages whose parent matches
// and "~>(...)" messages with a matching child.
//
// Example: "~f alice (~s hi | ~s hello)".
package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/mlog"
)

var pkglog = mlog.New("pattern", nil)

var (
	ErrSyntax      = errors.New("pattern syntax error")
	ErrEmpty       = errors.New("empty pattern")
	ErrUnsupported = errors.New("pattern not supported in this mode")
)

// Op is the operation of a pattern node.
type Op int

const (
	OpAnd Op = iota + 1
	OpOr
	OpThread   // ~(...)
	OpParent   // ~<(...)
	OpChildren // ~>(...)

	OpAll
	OpExpired
	OpSuperseded
	OpFlag
	OpTag
	OpNew
	OpUnread
	OpReplied
	OpOld
	OpRead
	OpDeleted
	OpMessage // Message number range.
	OpDate
	OpDateReceived
	OpBody
	OpHeader
	OpWholeMsg
	OpServerSearch
	OpSender
	OpFrom
	OpTo
	OpCc
	OpBcc
	OpRecipient
	OpAddress
	OpSubject
	OpID
	OpIDExternal
	OpScore
	OpSize
	OpReference
	OpXLabel
	OpDriverTags
	OpHormel // Spam tag.
	OpNewsgroups
	OpList
	OpSubscribedList
	OpPersonalRecip
	OpPersonalFrom
	OpCollapsed
	OpCryptSign
	OpCryptVerified
	OpCryptEncrypt
	OpPGPKey
	OpDuplicated
	OpUnreferenced
	OpBroken
	OpMimeAttach
	OpMimeType
)

// CompileFlags change how patterns are compiled.
type CompileFlags int

const (
	// FullMsg allows terms that need the message content, ~b ~B ~h ~M.
	FullMsg CompileFlags = 1 << iota
	// Dynamic makes date ranges relative to the time of matching instead
	// of compilation, for patterns kept in hooks and scores.
	Dynamic
	// SendMode makes content terms search a message being composed.
	SendMode
)

type argKind int

const (
	argNone argKind = iota
	argRegexp
	argDate
	argRange
	argMessageRange
	argQuery
)

type term struct {
	op    Op
	flags CompileFlags // Required compile flags, if any.
	arg   argKind
	desc  string
}

// Terms by letter.
var terms = map[byte]term{
	'A': {OpAll, 0, argNone, "all messages"},
	'b': {OpBody, FullMsg | SendMode, argRegexp, "messages whose body matches EXPR"},
	'B': {OpWholeMsg, FullMsg | SendMode, argRegexp, "messages whose body or headers match EXPR"},
	'c': {OpCc, 0, argRegexp, "messages whose Cc header matches EXPR"},
	'C': {OpRecipient, 0, argRegexp, "messages whose recipient matches EXPR"},
	'd': {OpDate, 0, argDate, "messages sent in DATERANGE"},
	'D': {OpDeleted, 0, argNone, "deleted messages"},
	'e': {OpSender, 0, argRegexp, "messages whose Sender header matches EXPR"},
	'E': {OpExpired, 0, argNone, "expired messages"},
	'f': {OpFrom, 0, argRegexp, "messages whose From header matches EXPR"},
	'F': {OpFlag, 0, argNone, "flagged messages"},
	'g': {OpCryptSign, 0, argNone, "cryptographically signed messages"},
	'G': {OpCryptEncrypt, 0, argNone, "cryptographically encrypted messages"},
	'h': {OpHeader, FullMsg | SendMode, argRegexp, "messages whose header matches EXPR"},
	'H': {OpHormel, 0, argRegexp, "messages whose spam tag matches EXPR"},
	'i': {OpID, 0, argRegexp, "messages whose Message-ID matches EXPR"},
	'I': {OpIDExternal, 0, argQuery, "messages whose Message-ID is returned by the external search command"},
	'k': {OpPGPKey, 0, argNone, "messages which contain a PGP key"},
	'K': {OpBcc, 0, argRegexp, "messages whose Bcc header matches EXPR"},
	'l': {OpList, 0, argNone, "messages addressed to known mailing lists"},
	'L': {OpAddress, 0, argRegexp, "messages whose From, Sender, To or Cc matches EXPR"},
	'm': {OpMessage, 0, argMessageRange, "messages whose number is in RANGE"},
	'M': {OpMimeType, FullMsg, argRegexp, "messages with a Content-Type matching EXPR"},
	'n': {OpScore, 0, argRange, "messages whose score is in RANGE"},
	'N': {OpNew, 0, argNone, "new messages"},
	'O': {OpOld, 0, argNone, "old messages"},
	'p': {OpPersonalRecip, 0, argNone, "messages addressed to you"},
	'P': {OpPersonalFrom, 0, argNone, "messages from you"},
	'Q': {OpReplied, 0, argNone, "messages which have been replied to"},
	'r': {OpDateReceived, 0, argDate, "messages received in DATERANGE"},
	'R': {OpRead, 0, argNone, "already read messages"},
	's': {OpSubject, 0, argRegexp, "messages whose Subject header matches EXPR"},
	'S': {OpSuperseded, 0, argNone, "superseded messages"},
	't': {OpTo, 0, argRegexp, "messages whose To header matches EXPR"},
	'T': {OpTag, 0, argNone, "tagged messages"},
	'u': {OpSubscribedList, 0, argNone, "messages addressed to subscribed mailing lists"},
	'U': {OpUnread, 0, argNone, "unread messages"},
	'v': {OpCollapsed, 0, argNone, "messages in collapsed threads"},
	'V': {OpCryptVerified, 0, argNone, "cryptographically verified messages"},
	'w': {OpNewsgroups, 0, argRegexp, "newsgroups matching EXPR"},
	'x': {OpReference, 0, argRegexp, "messages whose References header matches EXPR"},
	'X': {OpMimeAttach, 0, argRange, "messages with RANGE attachments"},
	'y': {OpXLabel, 0, argRegexp, "messages whose X-Label header matches EXPR"},
	'Y': {OpDriverTags, 0, argRegexp, "messages whose tags match EXPR"},
	'z': {OpSize, 0, argRange, "messages whose size is in RANGE"},
	'=': {OpDuplicated, 0, argNone, "duplicated messages"},
	'$': {OpUnreferenced, 0, argNone, "unreferenced messages"},
	'#': {OpBroken, 0, argNone, "broken threads"},
	'/': {OpServerSearch, 0, argRegexp, "server-side search for STRING"},
}

// letter returns the letter of a term op, or 0.
func letter(op Op) byte {
	for c, t := range terms {
		if t.op == op {
			return c
		}
	}
	return 0
}

// MaxRange is the upper bound of open ranges like "~n 5-".
const MaxRange = -1

// Pattern is a compiled pattern node: a term, or an operation on Children.
type Pattern struct {
	Op      Op
	Not     bool // Negate the outcome.
	AllAddr bool // All addresses must match, instead of any.

	StringMatch bool // Substring instead of regular expression.
	IgnoreCase  bool // For StringMatch, set when the argument is all lower case.
	GroupMatch  bool // Argument is an address group name.
	SendMode    bool
	Dynamic     bool // Date range evaluated at match time from Str.

	Min, Max int64 // Ranges, Max may be MaxRange.

	Str   string         // Argument for StringMatch, GroupMatch and Dynamic.
	Regex *regexp.Regexp // Argument otherwise.
	IDs   []string       // Message-IDs for ~I.

	Children []*Pattern
}

// match matches s against the argument of a term.
func (p *Pattern) match(groups address.Groups, s string) bool {
	switch {
	case p.Op == OpIDExternal:
		for _, id := range p.IDs {
			if id == s {
				return true
			}
		}
		return false
	case p.StringMatch:
		if p.IgnoreCase {
			return strings.Contains(strings.ToLower(s), p.Str)
		}
		return strings.Contains(s, p.Str)
	case p.GroupMatch:
		return groups != nil && groups.Match(p.Str, s)
	case p.Regex != nil:
		return p.Regex.MatchString(s)
	}
	return false
}

// String returns the pattern in its compiled structure, for debugging.
func (p *Pattern) String() string {
	var b strings.Builder
	p.write(&b)
	return b.String()
}

func (p *Pattern) write(b *strings.Builder) {
	if p.Not {
		b.WriteByte('!')
	}
	if p.AllAddr {
		b.WriteByte('^')
	}
	writeChildren := func(sep string) {
		b.WriteByte('(')
		for i, c := range p.Children {
			if i > 0 {
				b.WriteString(sep)
			}
			c.write(b)
		}
		b.WriteByte(')')
	}
	switch p.Op {
	case OpAnd:
		writeChildren(" ")
		return
	case OpOr:
		writeChildren(" | ")
		return
	case OpThread:
		b.WriteByte('~')
		writeChildren(" ")
		return
	case OpParent:
		b.WriteString("~<")
		writeChildren(" ")
		return
	case OpChildren:
		b.WriteString("~>")
		writeChildren(" ")
		return
	}
	switch {
	case p.StringMatch:
		b.WriteByte('=')
	case p.GroupMatch:
		b.WriteByte('%')
	default:
		b.WriteByte('~')
	}
	b.WriteByte(letter(p.Op))
	switch {
	case p.StringMatch || p.GroupMatch || p.Dynamic:
		fmt.Fprintf(b, " %q", p.Str)
	case p.Regex != nil:
		fmt.Fprintf(b, " %q", p.Regex.String())
	case p.Op == OpIDExternal:
		fmt.Fprintf(b, " %d ids", len(p.IDs))
	case terms[letter(p.Op)].arg != argNone:
		fmt.Fprintf(b, " %d-%d", p.Min, p.Max)
	}
}

// NeedsMessage returns whether evaluating p reads message content.
func (p *Pattern) NeedsMessage() bool {
	switch p.Op {
	case OpMimeType, OpMimeAttach, OpBody, OpHeader, OpWholeMsg:
		return true
	case OpAnd, OpOr:
		for _, c := range p.Children {
			if c.NeedsMessage() {
				return true
			}
		}
	}
	return false
}
