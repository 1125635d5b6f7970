// Package msgcopy copies messages between mailbox files, rewriting headers:
// updating status and length fields, weeding, decoding, reordering and
// prefixing for quoting.
package msgcopy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/charset"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/message"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/rfc2047"
)

var pkglog = mlog.New("msgcopy", nil)

// HeaderFlags influence how headers are copied.
type HeaderFlags uint32

const (
	HUpdate         HeaderFlags = 1 << iota // Write new Status and X-Status.
	HWeed                                   // Leave out ignored headers.
	HDecode                                 // Decode RFC 2047 words and addresses.
	HXmit                                   // Leave out Status, Content-Length and Lines for transmission.
	HFrom                                   // Keep the "From " separator line.
	HPrefix                                 // Quote each line with the prefix.
	HNoStatus                               // Leave out Status and X-Status.
	HReorder                                // Order headers by the header order list.
	HNoLen                                  // Leave out Content-Length and Lines.
	HUpdateLen                              // Write new Content-Length and Lines.
	HTxtPlain                               // Add MIME headers for a decoded text/plain message.
	HNoNewline                              // Do not write the blank line ending the header.
	HMime                                   // Leave out MIME-Version and content type/encoding.
	HUpdateIRT                              // Write a new In-Reply-To.
	HUpdateRefs                             // Write new References.
	HDisplay                                // Output is for display.
	HUpdateLabel                            // Write a new X-Label.
	HUpdateSubject                          // Write a new Subject.
	HWeedDelivered                          // Leave out Delivered-To.
	HForceFrom                              // Keep the "From " line even when weeding.
	HNoQFrom                                // Leave out ">From " lines.
)

// ErrCopy is returned for failed copies, wrapping the underlying error.
var ErrCopy = errors.New("copying message")

// CopyOpts hold the settings for copying headers.
type CopyOpts struct {
	Prefix      string
	WrapLen     int
	HeaderOrder []string // Header name prefixes for HReorder.

	// Decode writes the decoded body of the message for MDecode, quoting
	// with prefix. Set by the handler package.
	Decode func(out io.Writer, prefix string) error
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// skip returns whether a header line is left out for flags that do not
// depend on weeding.
func skip(line string, flags HeaderFlags) bool {
	if flags&(HUpdate|HXmit|HNoStatus) != 0 && (hasPrefixFold(line, "Status:") || hasPrefixFold(line, "X-Status:")) {
		return true
	}
	if flags&(HUpdateLen|HXmit|HNoLen) != 0 && (hasPrefixFold(line, "Content-Length:") || hasPrefixFold(line, "Lines:")) {
		return true
	}
	if flags&HUpdateRefs != 0 && hasPrefixFold(line, "References:") {
		return true
	}
	if flags&HUpdateIRT != 0 && hasPrefixFold(line, "In-Reply-To:") {
		return true
	}
	if flags&HUpdateLabel != 0 && hasPrefixFold(line, "X-Label:") {
		return true
	}
	if flags&HUpdateSubject != 0 && hasPrefixFold(line, "Subject:") {
		return true
	}
	return false
}

// CopyHeader copies the header lines of in between start and end to out.
func CopyHeader(c *mua.Config, in io.ReaderAt, out io.Writer, start, end int64, flags HeaderFlags, opts CopyOpts) error {
	if start < 0 {
		return fmt.Errorf("%w: negative header offset", ErrCopy)
	}
	br := bufio.NewReader(io.NewSectionReader(in, start, end-start))

	if flags&(HReorder|HWeed|HMime|HDecode|HPrefix|HWeedDelivered) == 0 {
		return copyHeaderPlain(br, out, flags)
	}

	// Headers are collected per position in the header order, the last slot
	// for fields not in the order list.
	slots := make([]string, len(opts.HeaderOrder)+1)
	x := len(opts.HeaderOrder)
	var cur strings.Builder
	pending := false
	from := false
	flush := func() {
		if !pending {
			return
		}
		s := cur.String()
		if flags&HDecode != 0 {
			s = decodeHeader(c, s)
			if strings.HasSuffix(s, "\r\n") {
				s = s[:len(s)-2] + "\n"
			}
		}
		slots[x] += s
		cur.Reset()
		pending = false
	}

	ignore := false
	for {
		line, err := br.ReadString('\n')
		if line == "" && err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: reading header: %v", ErrCopy, err)
			}
			break
		}
		if line[0] != ' ' && line[0] != '\t' {
			flush()
			ignore = true
			thisIsFrom := false
			if !from && strings.HasPrefix(line, "From ") {
				if flags&HFrom == 0 {
					continue
				}
				thisIsFrom = true
				from = true
			} else if line == "\n" || line == "\r\n" {
				break
			}

			// A kept From line takes precedence over weeding.
			if !(flags&HFrom != 0 && flags&HForceFrom != 0 && thisIsFrom) && flags&HWeed != 0 && c.Weeded(line) {
				continue
			}
			if flags&HWeedDelivered != 0 && hasPrefixFold(line, "Delivered-To:") {
				continue
			}
			if skip(line, flags) {
				continue
			}
			if flags&HMime != 0 {
				if hasPrefixFold(line, "mime-version:") {
					continue
				}
				if hasPrefixFold(line, "content-") && (hasPrefixFold(line[8:], "transfer-encoding:") || hasPrefixFold(line[8:], "type:")) {
					continue
				}
			}

			x = len(opts.HeaderOrder)
			if flags&HReorder != 0 {
				matchLen := 0
				for i, h := range opts.HeaderOrder {
					if hasPrefixFold(line, h) && len(h) > matchLen {
						x = i
						matchLen = len(h)
					}
				}
			}
			ignore = false
		}
		if !ignore {
			cur.WriteString(line)
			pending = true
		}
		if err != nil {
			break
		}
	}
	flush()

	hopts := message.HeaderOpts{
		Display: flags&HDisplay != 0,
		WrapLen: wrapCols(c, opts.WrapLen),
	}
	if flags&HPrefix != 0 {
		hopts.Prefix = opts.Prefix
	}
	for _, s := range slots {
		if s == "" {
			continue
		}
		var err error
		if flags&(HDecode|HPrefix) != 0 {
			err = message.WriteHeader(out, "", s, hopts)
		} else {
			_, err = io.WriteString(out, s)
		}
		if err != nil {
			return fmt.Errorf("%w: writing header: %v", ErrCopy, err)
		}
	}
	return nil
}

func wrapCols(c *mua.Config, width int) int {
	wrap := c.Static.Wrap
	if wrap < 0 {
		if width > -wrap {
			return width + wrap
		}
		return width
	}
	if wrap > 0 && (width <= 0 || wrap < width) {
		return wrap
	}
	return width
}

func copyHeaderPlain(br *bufio.Reader, out io.Writer, flags HeaderFlags) error {
	from := false
	ignore := false
	for {
		line, err := br.ReadString('\n')
		if line == "" && err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: reading header: %v", ErrCopy, err)
			}
			return nil
		}
		if line[0] != ' ' && line[0] != '\t' {
			ignore = true
			if !from && strings.HasPrefix(line, "From ") {
				if flags&HFrom == 0 {
					continue
				}
				from = true
			} else if flags&HNoQFrom != 0 && hasPrefixFold(line, ">From ") {
				continue
			} else if line == "\n" || line == "\r\n" {
				return nil
			}
			if skip(line, flags) {
				continue
			}
			ignore = false
		}
		if !ignore {
			if _, err := io.WriteString(out, line); err != nil {
				return fmt.Errorf("%w: writing header: %v", ErrCopy, err)
			}
		}
		if err != nil {
			return nil
		}
	}
}

var addressHeaders = []string{"bcc:", "cc:", "from:", "mail-followup-to:", "return-path:", "reply-to:", "sender:", "to:"}

// decodeHeader decodes a raw header field for display: address fields are
// parsed and rewritten with decoded display names, other fields have their
// encoded words decoded.
func decodeHeader(c *mua.Config, s string) string {
	for _, h := range addressHeaders {
		if !hasPrefixFold(s, h) {
			continue
		}
		l := address.Parse(s[len(h):])
		if len(l) == 0 {
			break
		}
		l.ToLocal()
		rfc2047.DecodeAddrList(l, c.Static.AssumedCharset)
		name := s[:len(h)-1]
		if h == "return-path:" {
			if len(l) > 0 && l[0].Mailbox != "" {
				return name + ": <" + l[0].Mailbox + ">\n"
			}
			return s
		}
		return l.WriteHeader(name)
	}
	return rfc2047.Decode(s, c.Static.AssumedCharset)
}

// CopyEmailHeader copies the header of e from in to out, writing updated
// fields according to flags and the changes recorded in e.
func CopyEmailHeader(c *mua.Config, in io.ReaderAt, e *email.Email, out io.Writer, flags HeaderFlags, opts CopyOpts) error {
	env := e.Env
	if env != nil {
		if env.Changed&email.ChangedIRT != 0 {
			flags |= HUpdateIRT
		}
		if env.Changed&email.ChangedRefs != 0 {
			flags |= HUpdateRefs
		}
		if env.Changed&email.ChangedXLabel != 0 {
			flags |= HUpdateLabel
		}
		if env.Changed&email.ChangedSubject != 0 {
			flags |= HUpdateSubject
		}
	}

	if err := CopyHeader(c, in, out, e.Offset, e.Body.Offset, flags, opts); err != nil {
		return err
	}

	var b strings.Builder
	if flags&HTxtPlain != 0 {
		cs := charset.Canonical(c.Static.Charset)
		if cs == "" {
			cs = "us-ascii"
		}
		if mime.NeedsQuote(cs) {
			cs = `"` + cs + `"`
		}
		b.WriteString("MIME-Version: 1.0\n")
		b.WriteString("Content-Transfer-Encoding: 8bit\n")
		b.WriteString("Content-Type: text/plain; charset=" + cs + "\n")
	}

	if flags&HUpdateIRT != 0 && env != nil && len(env.InReplyTo) > 0 {
		b.WriteString("In-Reply-To:")
		for _, id := range env.InReplyTo {
			b.WriteString(" " + id)
		}
		b.WriteString("\n")
	}
	if flags&HUpdateRefs != 0 && env != nil && len(env.References) > 0 {
		b.WriteString("References:")
		if err := message.WriteReferences(&b, env.References, 0); err != nil {
			return err
		}
		b.WriteString("\n")
	}

	if flags&HUpdate != 0 && flags&HNoStatus == 0 {
		if e.Old || e.Read {
			b.WriteString("Status: ")
			if e.Read {
				b.WriteString("RO")
			} else {
				b.WriteString("O")
			}
			b.WriteString("\n")
		}
		if e.Flagged || e.Replied {
			b.WriteString("X-Status: ")
			if e.Replied {
				b.WriteString("A")
			}
			if e.Flagged {
				b.WriteString("F")
			}
			b.WriteString("\n")
		}
	}

	if flags&HUpdateLen != 0 && flags&HNoLen == 0 {
		fmt.Fprintf(&b, "Content-Length: %d\n", e.Body.Length)
		if e.Lines != 0 || e.Body.Length == 0 {
			fmt.Fprintf(&b, "Lines: %d\n", e.Lines)
		}
	}

	weed := !c.Static.NoWeed
	if tags := e.Tags.Get(); tags != "" && !(weed && c.Weeded("tags:")) {
		b.WriteString("Tags: " + tags + "\n")
	}
	if _, err := io.WriteString(out, b.String()); err != nil {
		return fmt.Errorf("%w: writing header: %v", ErrCopy, err)
	}

	hopts := message.HeaderOpts{
		Display: flags&HDisplay != 0,
		WrapLen: wrapCols(c, opts.WrapLen),
	}
	if flags&HPrefix != 0 {
		hopts.Prefix = opts.Prefix
	}
	updated := func(tag, value string) error {
		if flags&HDecode == 0 {
			value = rfc2047.Encode(value, "", len(tag)+1, c.SendCharsets())
		}
		if err := message.WriteHeader(out, tag, value, hopts); err != nil {
			return fmt.Errorf("%w: writing %s: %v", ErrCopy, tag, err)
		}
		return nil
	}
	if flags&HUpdateLabel != 0 && env != nil && env.XLabel != "" {
		if err := updated("X-Label", env.XLabel); err != nil {
			return err
		}
	}
	if flags&HUpdateSubject != 0 && env != nil && env.Subject != "" {
		if err := updated("Subject", env.Subject); err != nil {
			return err
		}
	}

	if flags&HNoNewline == 0 {
		s := "\n"
		if flags&HPrefix != 0 {
			s = opts.Prefix + s
		}
		if _, err := io.WriteString(out, s); err != nil {
			return fmt.Errorf("%w: writing header: %v", ErrCopy, err)
		}
	}
	return nil
}
