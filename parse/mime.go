package parse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/muacore/mua/charset"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/muaio"
	"github.com/muacore/mua/rfc2047"
	"github.com/muacore/mua/rfc2231"
)

// Limits for nesting of parts and number of parts in a message.
const (
	MaxDepth = 100
	MaxParts = 5000
)

// ParseParameters parses the "; attr=value" parameters of a Content-Type or
// Content-Disposition value, starting after the first ";", and decodes RFC
// 2231 values. With allowValueSpaces, unquoted values can contain spaces, as
// used by Autocrypt keydata.
func ParseParameters(c *mua.Config, s string, allowValueSpaces bool) mime.ParamList {
	var pl mime.ParamList
	assumed := len(c.Static.AssumedCharset) > 0

	for s != "" {
		i := strings.IndexAny(s, "=;")
		if i < 0 {
			pkglog.Debug("malformed parameter", slog.String("param", s))
			break
		}
		if s[i] == ';' {
			pkglog.Debug("parameter without value", slog.String("param", s))
			s = s[i:]
		} else {
			attr := strings.TrimRight(s[:i], " \t\r\n")
			if attr == "" {
				pkglog.Debug("missing attribute", slog.String("param", s))
			}

			var b strings.Builder
			s = s[i:]
			for {
				s = strings.TrimLeft(s[1:], " \t\r\n")
				if strings.HasPrefix(s, "\"") {
					ascii := true
					j := 1
					for ; j < len(s); j++ {
						ch := s[j]
						// In iso-2022 non-ASCII state, '"' is part of a character.
						if assumed && ch == 0x1b {
							ascii = j+2 < len(s) && s[j+1] == '(' && (s[j+2] == 'B' || s[j+2] == 'J')
						}
						if ascii && ch == '"' {
							break
						}
						if ch == '\\' && j+1 < len(s) {
							j++
							b.WriteByte(s[j])
						} else if ch != '\\' {
							b.WriteByte(ch)
						}
					}
					if j < len(s) {
						j++
					}
					s = s[j:]
				} else {
					j := strings.IndexAny(s, " ;")
					if j < 0 {
						j = len(s)
					}
					b.WriteString(s[:j])
					s = s[j:]
				}
				if !allowValueSpaces || !strings.HasPrefix(s, " ") {
					break
				}
			}
			if attr != "" {
				pl = append(pl, mime.Param{Attribute: attr, Value: b.String()})
			}
		}

		// Next parameter.
		if !strings.HasPrefix(s, ";") {
			j := strings.IndexByte(s, ';')
			if j < 0 {
				break
			}
			s = s[j:]
		}
		for strings.HasPrefix(s, ";") {
			s = strings.TrimLeft(s[1:], " \t\r\n")
		}
	}

	return rfc2231.Decode(pl, rfc2231.DecodeOpts{RFC2047: !c.Static.NoRFC2047Parameters, Assumed: c.Static.AssumedCharset})
}

// ParseContentType parses a Content-Type value into b, replacing its type and
// parameters.
func ParseContentType(c *mua.Config, s string, b *email.Body) {
	b.Subtype = ""
	b.Params = nil

	if i := strings.IndexByte(s, ';'); i >= 0 {
		b.Params = ParseParameters(c, strings.TrimLeft(s[i+1:], " \t\r\n"), false)
		s = s[:i]

		// Pre-RFC 1521 name parameter, Content-Disposition filename has precedence.
		if name := b.Params.Value("name"); name != "" && b.DFilename == "" {
			b.DFilename = name
		}
		if conv := b.Params.Value("conversions"); conv != "" {
			b.Encoding = checkEncoding(conv)
		}
	}

	if i := strings.IndexByte(s, '/'); i >= 0 {
		sub := s[i+1:]
		if j := strings.IndexAny(sub, " \t\r\n;"); j >= 0 {
			sub = sub[:j]
		}
		b.Subtype = strings.ToLower(sub)
		s = s[:i]
	}
	s = strings.TrimSpace(s)

	b.Type = mime.ParseType(s)
	if strings.EqualFold(s, "x-sun-attachment") {
		b.Subtype = "x-sun-attachment"
	}
	b.XType = ""
	if b.Type == mime.TypeOther {
		b.XType = strings.ToLower(s)
	}

	if b.Subtype == "" {
		// Old non-MIME mailers send just a major type.
		switch b.Type {
		case mime.TypeText:
			b.Subtype = "plain"
		case mime.TypeAudio:
			b.Subtype = "basic"
		case mime.TypeMessage:
			b.Subtype = "rfc822"
		case mime.TypeOther:
			b.Type = mime.TypeApplication
			b.Subtype = "x-" + strings.ToLower(s)
			b.XType = ""
		default:
			b.Subtype = "x-unknown"
		}
	}

	if b.Type == mime.TypeText {
		if cs, ok := b.Params.Get("charset"); ok {
			// Outlook repeats "charset=" in the value.
			if len(cs) >= 8 && strings.EqualFold(cs[:8], "charset=") {
				b.Params.Set("charset", cs[8:])
			}
		} else {
			b.Params.Set("charset", charset.Default(c.Static.AssumedCharset))
		}
	}
}

func parseContentDisposition(c *mua.Config, s string, b *email.Body) {
	ls := strings.ToLower(s)
	switch {
	case strings.HasPrefix(ls, "inline"):
		b.Disposition = mime.DispInline
	case strings.HasPrefix(ls, "form-data"):
		b.Disposition = mime.DispFormData
	default:
		b.Disposition = mime.DispAttach
	}

	if i := strings.IndexByte(s, ';'); i >= 0 {
		pl := ParseParameters(c, strings.TrimLeft(s[i+1:], " \t\r\n"), false)
		if v, ok := pl.Get("filename"); ok {
			b.DFilename = v
		}
		if v, ok := pl.Get("name"); ok {
			b.FormName = v
		}
	}
}

// ReadMimeHeader reads the header of a MIME part, only interpreting the
// Content-* fields and some Sun compatibility fields. Other recognized fields,
// e.g. protected headers, are stored in the part's MimeHeaders. The part's
// Offset is set to the start of its content.
func ReadMimeHeader(c *mua.Config, s *muaio.Stream, digest bool) (*email.Body, error) {
	b := email.NewBody()
	b.HdrOffset = s.Offset()
	b.Encoding = mime.Enc7bit
	b.Type = mime.TypeText
	b.Subtype = ""
	if digest {
		b.Type = mime.TypeMessage
	}
	b.Disposition = mime.DispInline

	env := email.NewEnvelope()
	matched := false
	for {
		line, err := ReadLine(s)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			if line != "" {
				pkglog.Debug("bogus mime header", slog.String("line", line))
			}
			break
		}
		value = strings.TrimLeft(value, " \t\r\n")
		if value == "" {
			pkglog.Debug("skipping empty header field", slog.String("name", name))
			continue
		}

		lname := strings.ToLower(name)
		if field, ok := strings.CutPrefix(lname, "content-"); ok {
			switch field {
			case "type":
				ParseContentType(c, value, b)
			case "language":
				b.Language = value
			case "transfer-encoding":
				b.Encoding = checkEncoding(value)
			case "disposition":
				parseContentDisposition(c, value, b)
			case "description":
				b.Description = rfc2047.Decode(value, c.Static.AssumedCharset)
			case "id":
				id := value
				if len(id) > 2 {
					id = strings.TrimPrefix(id, "<")
					id = strings.TrimSuffix(id, ">")
				}
				b.ContentID = id
			}
		} else if field, ok := strings.CutPrefix(lname, "x-sun-"); ok {
			switch field {
			case "data-type":
				ParseContentType(c, value, b)
			case "encoding-info":
				b.Encoding = checkEncoding(value)
			case "content-lines":
				b.Params.Set("content-lines", value)
			case "data-description":
				b.Description = rfc2047.Decode(value, c.Static.AssumedCharset)
			}
		} else if ParseLine(c, env, nil, name, value, false, false, false) {
			matched = true
		}
	}
	b.Offset = s.Offset()
	if b.Subtype == "" {
		switch b.Type {
		case mime.TypeText:
			b.Subtype = "plain"
		case mime.TypeMessage:
			b.Subtype = "rfc822"
		}
	}
	if matched {
		env.DecodeRFC2047(c.Static.AssumedCharset, c.ReplyRegex)
		b.MimeHeaders = env
	}
	return b, nil
}

// partParser carries state through a recursive parse of a MIME tree.
type partParser struct {
	ctx   context.Context
	c     *mua.Config
	s     *muaio.Stream
	parts int // Number of parts seen, limited to MaxParts.
}

// ParsePart parses the structure of b, a multipart or message part whose
// offset and length are set, adding its children.
func ParsePart(ctx context.Context, c *mua.Config, s *muaio.Stream, b *email.Body) error {
	p := &partParser{ctx: ctx, c: c, s: s}
	return p.part(b, 0)
}

// ParseMultipart parses the parts of a multipart body starting at the current
// offset of s, up to endOff.
func ParseMultipart(ctx context.Context, c *mua.Config, s *muaio.Stream, boundary string, endOff int64, digest bool) (*email.Body, error) {
	p := &partParser{ctx: ctx, c: c, s: s}
	return p.multipart(boundary, endOff, digest, 0)
}

// ParseRFC822Message parses the message/rfc822 part b, setting its embedded
// Email. The stream must be at the start of the content of b.
func ParseRFC822Message(ctx context.Context, c *mua.Config, s *muaio.Stream, b *email.Body) (*email.Body, error) {
	p := &partParser{ctx: ctx, c: c, s: s}
	return p.message(b, 0)
}

func (p *partParser) part(b *email.Body, depth int) error {
	if depth >= MaxDepth {
		pkglog.Debug("mime nesting too deep, not parsing further", slog.Int("depth", depth))
		return nil
	}
	if err := p.ctx.Err(); err != nil {
		return err
	}

	switch b.Type {
	case mime.TypeMultipart:
		var bound string
		if b.Subtype == "x-sun-attachment" {
			bound = "--------"
		} else {
			bound = b.Params.Value("boundary")
		}
		if err := p.s.SeekTo(b.Offset); err != nil {
			return fmt.Errorf("seek to multipart: %w", err)
		}
		parts, err := p.multipart(bound, b.Offset+b.Length, b.Subtype == "digest", depth)
		if err != nil {
			return err
		}
		b.Parts = parts

	case mime.TypeMessage:
		if b.Subtype == "" {
			return nil
		}
		if err := p.s.SeekTo(b.Offset); err != nil {
			return fmt.Errorf("seek to message: %w", err)
		}
		if b.IsMessage() {
			msg, err := p.message(b, depth)
			if err != nil {
				return err
			}
			b.Parts = msg
		} else if b.Subtype == "external-body" {
			h, err := ReadMimeHeader(p.c, p.s, false)
			if err != nil {
				return err
			}
			b.Parts = h
		} else {
			return nil
		}

	default:
		return nil
	}

	if b.Parts == nil {
		pkglog.Debugx("no parts in container, treating as text/plain", ErrParse, slog.String("type", b.MimeType()))
		b.Type = mime.TypeText
		b.Subtype = "plain"
	}
	return nil
}

func (p *partParser) multipart(boundary string, endOff int64, digest bool, depth int) (*email.Body, error) {
	if boundary == "" {
		pkglog.Debugx("multipart without boundary parameter", ErrParse)
		return nil, nil
	}

	var head, last *email.Body
	final := false
	blen := len(boundary)
	for p.s.Offset() < endOff {
		if err := p.ctx.Err(); err != nil {
			return nil, err
		}
		buf, err := p.s.ReadLine()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		n := int64(len(buf))
		var crlf int64
		if n > 1 && buf[n-2] == '\r' {
			crlf = 1
		}
		if len(buf) < 2+blen || buf[0] != '-' || buf[1] != '-' || string(buf[2:2+blen]) != boundary {
			continue
		}

		if last != nil {
			last.Length = p.s.Offset() - last.Offset - n - 1 - crlf
			if last.Parts != nil && last.Parts.Length == 0 {
				last.Parts.Length = p.s.Offset() - last.Parts.Offset - n - 1 - crlf
			}
			// An empty body can give a negative length.
			last.Length = max(last.Length, 0)
		}

		rest := strings.TrimRight(string(buf[2+blen:]), " \t\r\n")
		if rest == "--" {
			final = true
			break
		} else if rest != "" {
			continue
		}

		nb, err := ReadMimeHeader(p.c, p.s, digest)
		if err != nil {
			return nil, err
		}
		if cl := nb.Params.Value("content-lines"); cl != "" {
			lines, _ := strconv.Atoi(cl)
			for ; lines > 0; lines-- {
				if p.s.Offset() >= endOff {
					break
				}
				if _, err := p.s.ReadLine(); err != nil {
					break
				}
			}
		}
		// Bad end boundaries of attachments.
		if nb.Offset > endOff {
			pkglog.Debugx("part header beyond end of multipart, dropping part", ErrParse)
			break
		}
		if head == nil {
			head = nb
		} else {
			last.Next = nb
		}
		last = nb

		p.parts++
		if p.parts >= MaxParts {
			pkglog.Debug("too many parts, not parsing further")
			break
		}
	}

	if last != nil && last.Length == 0 && !final {
		last.Length = endOff - last.Offset
	}

	for b := head; b != nil; b = b.Next {
		if err := p.part(b, depth+1); err != nil {
			return head, err
		}
	}
	return head, nil
}

func (p *partParser) message(parent *email.Body, depth int) (*email.Body, error) {
	e := email.New()
	e.Offset = p.s.Offset()
	env, err := ReadHeader(p.ctx, p.c, p.s, e, false, false)
	if err != nil {
		return nil, err
	}
	e.Env = env
	parent.Email = e
	msg := e.Body

	// Content-Length of the embedded message is not trusted.
	msg.Length = max(parent.Length-(msg.Offset-parent.Offset), 0)

	if err := p.part(msg, depth+1); err != nil {
		return msg, err
	}
	return msg, nil
}

// ParseMessage parses a complete message from f, starting at its current
// offset up to the end of the file, including the MIME structure.
func ParseMessage(ctx context.Context, c *mua.Config, f io.ReadSeeker) (*email.Email, error) {
	s, err := muaio.NewStream(f)
	if err != nil {
		return nil, err
	}
	start := s.Offset()
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("determining size: %w", err)
	}
	if err := s.SeekTo(start); err != nil {
		return nil, err
	}

	e := email.New()
	e.Offset = start
	env, err := ReadHeader(ctx, c, s, e, true, false)
	if err != nil {
		return nil, err
	}
	e.Env = env
	e.Body.Length = size - e.Body.Offset
	if err := ParsePart(ctx, c, s, e.Body); err != nil {
		return e, err
	}
	return e, nil
}

// ParseMIMEMessage parses the MIME structure of e from the mailbox file in,
// if it was not parsed yet. Messages from a mailbox only have their header
// parsed until their content is needed.
func ParseMIMEMessage(ctx context.Context, c *mua.Config, in io.ReaderAt, e *email.Email) error {
	b := e.Body
	if b == nil || b.Parts != nil || (b.Type != mime.TypeMultipart && b.Type != mime.TypeMessage) {
		return nil
	}
	s, err := muaio.NewStream(io.NewSectionReader(in, 0, b.Offset+b.Length))
	if err != nil {
		return err
	}
	err = ParsePart(ctx, c, s, b)
	if err != nil && errors.Is(err, ErrParse) {
		pkglog.Debugx("parsing mime structure", err)
		return nil
	}
	return err
}
