package pattern

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/handler"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/msgcopy"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/parse"
	"github.com/muacore/mua/sendlib"
)

// PassphraseChecker is implemented by crypto providers that need a
// passphrase to decrypt. Encrypted messages are not searched without one.
type PassphraseChecker interface {
	ValidPassphrase(sec email.Security) bool
}

// Matcher evaluates patterns against messages.
type Matcher struct {
	Config *mua.Config

	// Mailbox of the messages, may be nil.
	Mailbox *mailbox.Mailbox
	// Contents of the mailbox file, for body, header and MIME terms. Without
	// it these terms do not match.
	In io.ReaderAt

	// For decrypting during thorough body searches, may be nil.
	Crypto handler.Crypto

	// Address terms also match the display name.
	FullAddress bool

	// Time for dynamic date ranges, time.Now if nil.
	Now func() time.Time
}

type cacheValue uint8

const (
	cacheUnset cacheValue = iota
	cacheFalse
	cacheTrue
)

func (v *cacheValue) get(fn func() bool) bool {
	if *v == cacheUnset {
		if fn() {
			*v = cacheTrue
		} else {
			*v = cacheFalse
		}
	}
	return *v == cacheTrue
}

// Cache holds outcomes of the address-set terms ~l, ~u, ~p and ~P for one
// message, in their "all addresses" and "any address" forms. A Cache must
// only be used for a single message.
type Cache struct {
	listAll, listOne           cacheValue
	subAll, subOne             cacheValue
	persRecipAll, persRecipOne cacheValue
	persFromAll, persFromOne   cacheValue
}

func (m *Matcher) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Match evaluates p against e. Cache may be nil.
func (m *Matcher) Match(ctx context.Context, p *Pattern, e *email.Email, cache *Cache) bool {
	return p.Not != m.eval(ctx, p, e, cache)
}

func inRange(v, min, max int64) bool {
	return v >= min && (max == MaxRange || v <= max)
}

// eval evaluates p without its negation.
func (m *Matcher) eval(ctx context.Context, p *Pattern, e *email.Email, cache *Cache) bool {
	env := e.Env
	if env == nil {
		env = &email.Envelope{}
	}
	c := m.Config

	switch p.Op {
	case OpAnd:
		for _, cp := range p.Children {
			if !m.Match(ctx, cp, e, cache) {
				return false
			}
		}
		return true
	case OpOr:
		for _, cp := range p.Children {
			if m.Match(ctx, cp, e, cache) {
				return true
			}
		}
		return false
	case OpThread:
		return m.threadComplete(ctx, p.Children[0], e.Thread, true, true, true, true)
	case OpParent:
		t := e.Thread
		if t == nil || t.Parent == nil || t.Parent.Message == nil {
			return false
		}
		return m.Match(ctx, p.Children[0], t.Parent.Message, nil)
	case OpChildren:
		if e.Thread == nil {
			return false
		}
		for t := e.Thread.Child; t != nil; t = t.Next {
			if t.Message != nil && m.Match(ctx, p.Children[0], t.Message, nil) {
				return true
			}
		}
		return false

	case OpAll:
		return true
	case OpExpired:
		return e.Expired
	case OpSuperseded:
		return e.Superseded
	case OpFlag:
		return e.Flagged
	case OpTag:
		return e.Tagged
	case OpNew:
		return !e.Old && !e.Read
	case OpUnread:
		return !e.Read
	case OpReplied:
		return e.Replied
	case OpOld:
		return e.Old && !e.Read
	case OpRead:
		return e.Read
	case OpDeleted:
		return e.Deleted
	case OpMessage:
		return inRange(int64(e.MsgNo), p.Min, p.Max)
	case OpDate:
		min, max := m.dates(p)
		return e.DateSent >= min && e.DateSent <= max
	case OpDateReceived:
		min, max := m.dates(p)
		return e.Received >= min && e.Received <= max

	case OpBody, OpHeader, OpWholeMsg:
		return m.search(ctx, p, e)
	case OpServerSearch:
		// Only remote stores evaluate server searches.
		pkglog.Debug("server side search not supported for mailbox files")
		return false

	case OpSender:
		return m.matchAddrs(p, env.Sender)
	case OpFrom:
		return m.matchAddrs(p, env.From)
	case OpTo:
		return m.matchAddrs(p, env.To)
	case OpCc:
		return m.matchAddrs(p, env.Cc)
	case OpBcc:
		return m.matchAddrs(p, env.Bcc)
	case OpAddress:
		return m.matchAddrs(p, env.From, env.Sender, env.To, env.Cc, env.Bcc)
	case OpRecipient:
		return m.matchAddrs(p, env.To, env.Cc, env.Bcc)

	case OpSubject:
		return env.Subject != "" && p.match(c.Groups, env.Subject)
	case OpID, OpIDExternal:
		return env.MessageID != "" && p.match(c.Groups, env.MessageID)
	case OpScore:
		return inRange(int64(e.Score), p.Min, p.Max)
	case OpSize:
		return inRange(e.Size(), p.Min, p.Max)
	case OpReference:
		for _, l := range [][]string{env.References, env.InReplyTo} {
			for _, id := range l {
				if p.match(c.Groups, id) {
					return true
				}
			}
		}
		return false
	case OpXLabel:
		return env.XLabel != "" && p.match(c.Groups, env.XLabel)
	case OpDriverTags:
		for _, t := range e.Tags {
			if p.match(c.Groups, t.Name) {
				return true
			}
		}
		return false
	case OpHormel:
		return env.Spam != "" && p.match(c.Groups, env.Spam)
	case OpNewsgroups:
		return env.Newsgroups != "" && p.match(c.Groups, env.Newsgroups)

	case OpList:
		fn := func() bool { return matchAny(p.AllAddr, c.Lists.IsMailList, env.To, env.Cc) }
		if cache == nil {
			return fn()
		}
		if p.AllAddr {
			return cache.listAll.get(fn)
		}
		return cache.listOne.get(fn)
	case OpSubscribedList:
		fn := func() bool { return matchAny(p.AllAddr, c.Lists.IsSubscribed, env.To, env.Cc) }
		if cache == nil {
			return fn()
		}
		if p.AllAddr {
			return cache.subAll.get(fn)
		}
		return cache.subOne.get(fn)
	case OpPersonalRecip:
		fn := func() bool { return matchAny(p.AllAddr, c.User.IsUser, env.To, env.Cc, env.Bcc) }
		if cache == nil {
			return fn()
		}
		if p.AllAddr {
			return cache.persRecipAll.get(fn)
		}
		return cache.persRecipOne.get(fn)
	case OpPersonalFrom:
		fn := func() bool { return matchAny(p.AllAddr, c.User.IsUser, env.From) }
		if cache == nil {
			return fn()
		}
		if p.AllAddr {
			return cache.persFromAll.get(fn)
		}
		return cache.persFromOne.get(fn)

	case OpCollapsed:
		return e.Collapsed && e.Thread != nil && len(e.Thread.Messages()) > 1
	case OpCryptSign:
		return e.Security&email.SecSign != 0
	case OpCryptVerified:
		return e.Security&email.SecGoodSign != 0
	case OpCryptEncrypt:
		return e.Security&email.SecEncrypt != 0
	case OpPGPKey:
		found := false
		e.Body.Walk(func(b *email.Body) bool {
			found = found || (b.Type == mime.TypeApplication && strings.EqualFold(b.Subtype, "pgp-keys"))
			return !found
		})
		return found

	case OpDuplicated:
		return e.Thread != nil && e.Thread.DuplicateThread
	case OpUnreferenced:
		return e.Thread != nil && e.Thread.Child == nil
	case OpBroken:
		return e.Thread != nil && e.Thread.FakeThread

	case OpMimeAttach:
		if !m.parseMIME(ctx, e) {
			return false
		}
		return inRange(int64(countAttachments(e.Body)), p.Min, p.Max)
	case OpMimeType:
		if !m.parseMIME(ctx, e) {
			return false
		}
		found := false
		e.Body.Walk(func(b *email.Body) bool {
			found = found || p.match(c.Groups, b.MimeType())
			return !found
		})
		return found
	}
	pkglog.Error("unknown pattern op", slog.Int("op", int(p.Op)))
	return false
}

// dates returns the range of a date term, recomputed for dynamic ranges.
func (m *Matcher) dates(p *Pattern) (int64, int64) {
	if !p.Dynamic {
		return p.Min, p.Max
	}
	min, max, err := dateRange(p.Str, m.now())
	if err != nil {
		pkglog.Debugx("evaluating dynamic date range", err, slog.String("range", p.Str))
		return p.Min, p.Max
	}
	return min.Unix(), max.Unix()
}

// threadComplete matches p against the messages in the thread of t, walking
// in the allowed directions.
func (m *Matcher) threadComplete(ctx context.Context, p *Pattern, t *email.Thread, left, up, right, down bool) bool {
	if t == nil {
		return false
	}
	if t.Message != nil && m.Match(ctx, p, t.Message, nil) {
		return true
	}
	if up && m.threadComplete(ctx, p, t.Parent, true, true, true, false) {
		return true
	}
	if right && t.Parent != nil && m.threadComplete(ctx, p, t.Next, false, false, true, true) {
		return true
	}
	if left && t.Parent != nil && m.threadComplete(ctx, p, t.Prev, true, false, false, true) {
		return true
	}
	if down && m.threadComplete(ctx, p, t.Child, true, false, true, true) {
		return true
	}
	return false
}

// matchAddrs matches the mailboxes, and with FullAddress display names, of
// the address lists. With AllAddr all addresses must match, otherwise any.
func (m *Matcher) matchAddrs(p *Pattern, lists ...address.List) bool {
	for _, l := range lists {
		for _, a := range l {
			matched := (a.Mailbox != "" && p.match(m.Config.Groups, a.Mailbox)) ||
				(m.FullAddress && a.Personal != "" && p.match(m.Config.Groups, a.Personal))
			if p.AllAddr != matched {
				return !p.AllAddr
			}
		}
	}
	return p.AllAddr
}

func matchAny(all bool, pred func(a *address.Address) bool, lists ...address.List) bool {
	for _, l := range lists {
		for _, a := range l {
			if all != pred(a) {
				return !all
			}
		}
	}
	return all
}

func (m *Matcher) parseMIME(ctx context.Context, e *email.Email) bool {
	if e.Body == nil {
		return false
	}
	if e.Body.Filename != "" && e.Body.Parts == nil && (e.Body.IsMultipart() || e.Body.IsMessage()) {
		// Composed messages have their parts in memory.
		return true
	}
	if m.In == nil {
		return e.Body.Parts != nil || !(e.Body.IsMultipart() || e.Body.IsMessage())
	}
	if err := parse.ParseMIMEMessage(ctx, m.Config, m.In, e); err != nil {
		pkglog.WithContext(ctx).Debugx("parsing mime structure for pattern", err)
		return false
	}
	return true
}

// countAttachments counts the parts of a message shown as attachments: every
// leaf part except the first inline text part of the message.
func countAttachments(b *email.Body) int {
	n := 0
	first := true
	var walk func(b *email.Body)
	walk = func(b *email.Body) {
		for ; b != nil; b = b.Next {
			if b.IsMultipart() && b.Parts != nil {
				if strings.EqualFold(b.Subtype, "alternative") {
					// One of the alternatives is shown.
					if first {
						first = false
					} else {
						n++
					}
					continue
				}
				walk(b.Parts)
				continue
			}
			if first && b.Type == mime.TypeText && b.Disposition != mime.DispAttach {
				first = false
				continue
			}
			first = false
			n++
		}
	}
	if b != nil && b.IsMultipart() {
		walk(b.Parts)
	} else if b != nil && (b.Type != mime.TypeText || b.Disposition == mime.DispAttach) {
		n = 1
	}
	return n
}

// search matches a regular expression or string against the header and/or
// body of a message.
func (m *Matcher) search(ctx context.Context, p *Pattern, e *email.Email) bool {
	if e.Body == nil {
		return false
	}
	needsHead := p.Op == OpHeader || p.Op == OpWholeMsg
	needsBody := p.Op == OpBody || p.Op == OpWholeMsg

	if p.SendMode {
		return m.searchComposed(p, e, needsHead, needsBody)
	}
	if m.In == nil {
		return false
	}
	log := pkglog.WithContext(ctx)
	c := m.Config

	var head, body []byte
	if c.Static.NoThoroughSearch {
		if needsHead {
			head = make([]byte, e.Body.Offset-e.Offset)
			if _, err := m.In.ReadAt(head, e.Offset); err != nil && err != io.EOF {
				log.Debugx("reading message header", err)
				return false
			}
		}
		if needsBody && e.Body.Length > 0 {
			body = make([]byte, e.Body.Length)
			if _, err := m.In.ReadAt(body, e.Body.Offset); err != nil && err != io.EOF {
				log.Debugx("reading message body", err)
				return false
			}
		}
	} else {
		if needsHead {
			var buf bytes.Buffer
			if err := msgcopy.CopyHeader(c, m.In, &buf, e.Offset, e.Body.Offset, msgcopy.HFrom|msgcopy.HDecode, msgcopy.CopyOpts{}); err != nil {
				log.Debugx("decoding message header", err)
				return false
			}
			head = buf.Bytes()
		}
		if needsBody {
			if !m.parseMIME(ctx, e) {
				return false
			}
			if e.Security&email.SecEncrypt != 0 {
				if pc, ok := m.Crypto.(PassphraseChecker); ok && !pc.ValidPassphrase(e.Security) {
					return false
				}
			}
			var buf bytes.Buffer
			st := handler.NewState(ctx, c, m.In, &buf, handler.CharConv)
			st.Crypto = m.Crypto
			if err := handler.BodyHandler(st, e.Body); err != nil {
				log.Debugx("decoding message body", err)
				if ctx.Err() != nil {
					return false
				}
			}
			body = buf.Bytes()
		}
	}

	if p.Op == OpHeader {
		return searchHeader(p, c, head)
	}
	return searchLines(p, c, head) || searchLines(p, c, body)
}

// searchComposed searches a message being composed: the header as it would
// be written and the content in the body file.
func (m *Matcher) searchComposed(p *Pattern, e *email.Email, needsHead, needsBody bool) bool {
	if e.Body.Filename == "" {
		return false
	}
	c := m.Config
	if needsHead && e.Env != nil {
		var buf bytes.Buffer
		if err := sendlib.WriteHeader(c, &buf, e.Env, e.Body, sendlib.HeaderOpts{Mode: sendlib.ModePostpone}); err != nil {
			pkglog.Debugx("writing header for search", err)
		} else if searchLines(p, c, buf.Bytes()) {
			return true
		}
	}
	if needsBody {
		buf, err := os.ReadFile(e.Body.Filename)
		if err != nil {
			pkglog.Debugx("reading body for search", err, slog.String("path", e.Body.Filename))
			return false
		}
		return searchLines(p, c, buf)
	}
	return false
}

func searchLines(p *Pattern, c *mua.Config, buf []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(buf))
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		if p.match(c.Groups, scanner.Text()) {
			return true
		}
	}
	return false
}

// searchHeader matches each header field, with continuation lines joined.
func searchHeader(p *Pattern, c *mua.Config, buf []byte) bool {
	var field string
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line != "" && (line[0] == ' ' || line[0] == '\t') && field != "" {
			field += " " + strings.TrimLeft(line, " \t")
			continue
		}
		if field != "" && p.match(c.Groups, field) {
			return true
		}
		field = line
	}
	return field != "" && p.match(c.Groups, field)
}
