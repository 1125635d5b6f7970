// Package parse reads messages into the email data model: header fields into
// an Envelope, MIME headers into Body parts, and multipart and message/rfc822
// structure into a tree of parts with byte offsets into the message file.
//
// Parsing is lenient. Malformed parts are degraded to text/plain and parsing
// continues, problems are logged at debug level.
package parse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/muaio"
	"github.com/muacore/mua/rfc2047"
)

// ErrParse is logged for recovered problems, and returned when a message
// cannot be parsed at all.
var ErrParse = errors.New("parse error")

// Content-Length values above this are not trusted.
const contentTooBig = 1 << 30

func isWSP(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// ReadLine reads a logical header line, joining continuation lines with a
// single space. Trailing whitespace is removed. An empty line is returned at
// the end of the header, after consuming the blank line. A line starting with
// whitespace where a field is expected also ends the header. At end of file,
// io.EOF is returned if nothing was read.
func ReadLine(s *muaio.Stream) (string, error) {
	var b strings.Builder
	for {
		buf, err := s.ReadLine()
		if err == io.EOF {
			if b.Len() == 0 {
				return "", io.EOF
			}
			break
		} else if err != nil {
			return "", err
		}
		if b.Len() == 0 && isWSP(buf[0]) {
			return "", nil
		}
		line := strings.TrimRight(string(buf), " \t\r\n")
		b.WriteString(line)
		if buf[len(buf)-1] != '\n' {
			break
		}
		if p := s.Peek(1); len(p) == 0 || (p[0] != ' ' && p[0] != '\t') {
			break
		}
		for {
			p := s.Peek(1)
			if len(p) == 0 || (p[0] != ' ' && p[0] != '\t') {
				break
			}
			if _, err := s.ReadByte(); err != nil {
				return "", err
			}
		}
		b.WriteByte(' ')
	}
	return b.String(), nil
}

// ReadHeader parses a message header from s. If e is not nil, MIME headers are
// stored in e.Body (created with defaults when nil), and dates, flags and
// offsets are set on e.
//
// With userHdrs, unrecognized headers are kept in the Envelope's UserHdrs,
// and with weed the configured ignore lists are applied to them.
//
// Reading stops at the blank line ending the header, or before the first line
// that is not a header field, leaving s at the start of the body.
func ReadHeader(ctx context.Context, c *mua.Config, s *muaio.Stream, e *email.Email, userHdrs, weed bool) (*email.Envelope, error) {
	env := email.NewEnvelope()

	if e != nil && e.Body == nil {
		e.Body = email.NewBody()
		e.Body.Length = -1
		e.Body.Disposition = mime.DispInline
	}

	for {
		if err := ctx.Err(); err != nil {
			return env, err
		}
		start := s.Offset()
		line, err := ReadLine(s)
		if err == io.EOF || err == nil && line == "" {
			break
		} else if err != nil {
			return env, fmt.Errorf("reading header: %w", err)
		}

		i := strings.IndexAny(line, ": \t")
		if i < 0 || line[i] != ':' {
			// Some bogus MTAs quote the original From line.
			if strings.HasPrefix(line, ">From ") {
				continue
			}
			if _, t, ok := IsFrom(line); ok {
				if e != nil && e.Received == 0 {
					e.Received = t
				}
				continue
			}
			if err := s.SeekTo(start); err != nil {
				return env, fmt.Errorf("seek to end of header: %w", err)
			}
			break
		}
		name := line[:i]

		checkSpam(c, env, line)

		body := strings.TrimLeft(line[i+1:], " \t\r\n")
		if body == "" {
			continue
		}
		ParseLine(c, env, e, name, body, userHdrs, weed, true)
	}

	if e != nil {
		e.Body.HdrOffset = e.Offset
		e.Body.Offset = s.Offset()

		env.DecodeRFC2047(c.Static.AssumedCharset, c.ReplyRegex)

		if e.Received < 0 {
			pkglog.Debug("resetting invalid received time to 0")
			e.Received = 0
		}
		if e.DateSent <= 0 {
			e.DateSent = e.Received
		}
	}
	return env, nil
}

// checkSpam applies the spam rules to a header line.
func checkSpam(c *mua.Config, env *email.Envelope, line string) {
	tag, ok := c.Spam.Match(line)
	if !ok || c.NoSpam.Match(line) {
		return
	}
	if env.Spam != "" && tag != "" {
		if c.Static.SpamSeparator != "" {
			env.Spam += c.Static.SpamSeparator + tag
		} else {
			env.Spam = tag
		}
	} else if env.Spam == "" {
		env.Spam = tag
	}
}

// ParseLine processes one header field with name and non-empty body. It
// returns whether the field was recognized. Fields for the message body (the
// Content-* fields) and the message flags are only processed when e is set.
func ParseLine(c *mua.Config, env *email.Envelope, e *email.Email, name, body string, userHdrs, weed, do2047 bool) bool {
	matched := true
	switch strings.ToLower(name) {
	case "apparently-to", "to":
		env.To = append(env.To, address.Parse(body)...)
	case "apparently-from", "from":
		env.From = append(env.From, address.Parse(body)...)
	case "autocrypt":
		env.Autocrypt = append(env.Autocrypt, parseAutocrypt(c, body))
	case "autocrypt-gossip":
		env.AutocryptGossip = append(env.AutocryptGossip, parseAutocrypt(c, body))
	case "bcc":
		env.Bcc = append(env.Bcc, address.Parse(body)...)
	case "cc":
		env.Cc = append(env.Cc, address.Parse(body)...)
	case "content-type":
		if e != nil {
			ParseContentType(c, body, e.Body)
		}
	case "content-language":
		if e != nil {
			e.Body.Language = body
		}
	case "content-transfer-encoding":
		if e != nil {
			e.Body.Encoding = checkEncoding(body)
		}
	case "content-length":
		if e != nil {
			e.Body.Length = parseContentLength(body)
		}
	case "content-description":
		if e != nil {
			e.Body.Description = rfc2047.Decode(body, c.Static.AssumedCharset)
		}
	case "content-disposition":
		if e != nil {
			parseContentDisposition(c, body, e.Body)
		}
	case "date":
		env.Date = body
		if e != nil {
			t, tz, ok := ParseDate(body)
			if ok && t > 0 {
				e.DateSent = t
				e.ZHours = tz.Hours
				e.ZMinutes = tz.Minutes
				e.ZOccident = tz.Occident
			} else {
				e.DateSent = -1
			}
		}
	case "expires":
		matched = false
		if e != nil {
			if t, _, ok := ParseDate(body); ok && t < time.Now().Unix() {
				e.Expired = true
			}
		}
	case "followup-to":
		if env.FollowupTo == "" {
			env.FollowupTo = strings.TrimSpace(body)
		}
	case "in-reply-to":
		env.InReplyTo = ParseReferences(filterHeaderValue(body))
	case "lines":
		if e != nil {
			n, err := strconv.Atoi(strings.TrimSpace(body))
			if err != nil || n < 0 {
				n = 0
			}
			e.Lines = n
		}
	case "list-post":
		// RFC 2369
		if !strings.HasPrefix(strings.TrimSpace(body), "NO") {
			if mailto := firstMailto(body); mailto != "" {
				env.ListPost = mailto
				if c.Static.AutoSubscribe {
					c.Lists.AutoSubscribe(mailto)
				}
			}
		}
	case "list-subscribe":
		if mailto := firstMailto(body); mailto != "" {
			env.ListSubscribe = mailto
		}
	case "list-unsubscribe":
		if mailto := firstMailto(body); mailto != "" {
			env.ListUnsubscribe = mailto
		}
	case "mime-version":
		if e != nil {
			e.MIME = true
		}
	case "message-id":
		// A new Message-ID is added when composing.
		env.MessageID, _ = ExtractMessageID(body)
	case "mail-reply-to":
		env.ReplyTo = address.Parse(body)
	case "mail-followup-to":
		env.MailFollowupTo = append(env.MailFollowupTo, address.Parse(body)...)
	case "newsgroups":
		env.Newsgroups = strings.TrimSpace(body)
	case "organization":
		// Only shown, not matched.
		matched = false
		if env.Organization == "" && !strings.EqualFold(body, "unknown") {
			env.Organization = body
		}
	case "references":
		env.References = ParseReferences(body)
	case "reply-to":
		env.ReplyTo = append(env.ReplyTo, address.Parse(body)...)
	case "return-path":
		env.ReturnPath = append(env.ReturnPath, address.Parse(body)...)
	case "received":
		matched = false
		if e != nil && e.Received == 0 {
			if i := strings.LastIndexByte(body, ';'); i >= 0 {
				if t, _, ok := ParseDate(strings.TrimLeft(body[i+1:], " \t")); ok {
					e.Received = t
				} else {
					e.Received = -1
				}
			}
		}
	case "subject":
		if env.Subject == "" {
			env.SetSubject(body, c.ReplyRegex)
		}
	case "sender":
		env.Sender = append(env.Sender, address.Parse(body)...)
	case "status":
		if e != nil {
			for _, ch := range body {
				switch ch {
				case 'O':
					e.Old = true
				case 'R':
					e.Read = true
				case 'r':
					e.Replied = true
				}
			}
		}
	case "supersedes", "supercedes":
		matched = false
		if e != nil {
			env.Supersedes = body
		}
	case "x-status":
		if e != nil {
			for _, ch := range body {
				switch ch {
				case 'A':
					e.Replied = true
				case 'D':
					e.Deleted = true
				case 'F':
					e.Flagged = true
				}
			}
		}
	case "x-label":
		env.XLabel = body
	case "x-comment-to":
		if env.XCommentTo == "" {
			env.XCommentTo = body
		}
	case "xref":
		if env.Xref == "" {
			env.Xref = body
		}
	case "x-original-to":
		env.XOriginalTo = append(env.XOriginalTo, address.Parse(body)...)
	default:
		matched = false
	}

	if !matched && userHdrs {
		h := name + ": " + body
		if !weed || c.Static.NoWeed || !c.Weeded(h) {
			if do2047 {
				h = rfc2047.Decode(h, c.Static.AssumedCharset)
			}
			env.UserHdrs = append(env.UserHdrs, h)
		}
	}
	return matched
}

func parseContentLength(s string) int64 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 63)
	if err != nil {
		pkglog.Debug("bad content-length", slog.String("value", s))
		return -1
	}
	return int64(min(n, contentTooBig))
}

// checkEncoding returns the transfer encoding of a header value, using the
// first token.
func checkEncoding(s string) mime.Encoding {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t;("); i >= 0 {
		s = s[:i]
	}
	return mime.ParseEncoding(s)
}

// firstMailto returns the first mailto URL in angle brackets in an RFC 2369
// header value.
func firstMailto(s string) string {
	for {
		i := strings.IndexByte(s, '<')
		if i < 0 {
			return ""
		}
		s = s[i+1:]
		j := strings.IndexByte(s, '>')
		if j < 0 {
			return ""
		}
		u := strings.TrimSpace(s[:j])
		if len(u) > 7 && strings.EqualFold(u[:7], "mailto:") {
			return u
		}
		s = s[j+1:]
		k := strings.IndexByte(s, ',')
		if k < 0 {
			return ""
		}
		s = s[k:]
	}
}

// filterHeaderValue replaces newlines in a value from the command line or a
// URL, preventing header injection.
func filterHeaderValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}

// filterHeaderName replaces characters not allowed in header field names.
func filterHeaderName(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 33 || r > 126 || r == ':' {
			return '?'
		}
		return r
	}, s)
}
