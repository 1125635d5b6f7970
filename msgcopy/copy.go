package msgcopy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/message"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/muaio"
	"github.com/muacore/mua/parse"
)

// MessageFlags influence how a message body is copied.
type MessageFlags uint32

const (
	MNoHeader     MessageFlags = 1 << iota // Leave out the header.
	MPrefix                                // Quote the message.
	MDecode                                // Decode the message body.
	MDisplay                               // Output is for display.
	MUpdate                                // Update the message offsets to the copy.
	MWeed                                  // Weed headers when decoding.
	MCharConv                              // Convert text to the local charset.
	MPrinting                              // Output is for printing.
	MReplying                              // Quoting for a reply.
	MVerify                                // Verify signatures.
	MDecodeCrypt                           // Decrypt encrypted parts.
)

// offsetWriter tracks the offset in the destination file while writing.
type offsetWriter struct {
	w   io.Writer
	off int64
}

func (w *offsetWriter) Write(buf []byte) (int, error) {
	n, err := w.w.Write(buf)
	w.off += int64(n)
	return n, err
}

func newOffsetWriter(w io.Writer) *offsetWriter {
	switch x := w.(type) {
	case *offsetWriter:
		return x
	case *message.Writer:
		return &offsetWriter{w, x.Size}
	case io.Seeker:
		off, err := x.Seek(0, io.SeekCurrent)
		if err == nil {
			return &offsetWriter{w, off}
		}
	}
	return &offsetWriter{w: w}
}

// cursor reads sequentially from an io.ReaderAt.
type cursor struct {
	r   io.ReaderAt
	off int64
}

// copyTo copies from the current offset up to end.
func (c *cursor) copyTo(w io.Writer, end int64) error {
	if end < c.off {
		return fmt.Errorf("%w: offset %d before current offset %d", ErrCopy, end, c.off)
	}
	n, err := io.Copy(w, io.NewSectionReader(c.r, c.off, end-c.off))
	c.off += n
	if err == nil && c.off != end {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return fmt.Errorf("%w: copying bytes: %v", ErrCopy, err)
	}
	return nil
}

// deletedHeader is written in place of the content of a deleted attachment,
// before its original part header.
func deletedHeader(quotedDate string, length int64) string {
	return fmt.Sprintf("Content-Type: message/external-body; access-type=x-mutt-deleted;\n\texpiration=%s; length=%d\n\n", quotedDate, length)
}

// countDeleteLines returns the number of lines removed by deleting the
// attachments marked deleted in b, adjusting length for the replacement
// headers.
func countDeleteLines(r io.ReaderAt, b *email.Body, length *int64, quotedDate string) (int, error) {
	if !b.Deleted {
		n := 0
		for p := b.Parts; p != nil; p = p.Next {
			x, err := countDeleteLines(r, p, length, quotedDate)
			if err != nil {
				return 0, err
			}
			n += x
		}
		return n, nil
	}

	br := bufio.NewReader(muaio.Section(r, b.Offset, b.Length))
	lines := 0
	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return 0, fmt.Errorf("%w: counting lines: %v", ErrCopy, err)
		}
		if c == '\n' {
			lines++
		}
	}
	*length += int64(len(deletedHeader(quotedDate, b.Length))) - b.Length
	return lines - 3, nil
}

// copyDeleteAttach copies the body of b, replacing deleted attachments with
// an external body reference.
func copyDeleteAttach(b *email.Body, in *cursor, out io.Writer, quotedDate string) error {
	for p := b.Parts; p != nil; p = p.Next {
		if !p.Deleted && p.Parts == nil {
			continue
		}
		if err := in.copyTo(out, p.HdrOffset); err != nil {
			return err
		}
		if !p.Deleted {
			if err := copyDeleteAttach(p, in, out, quotedDate); err != nil {
				return err
			}
			continue
		}
		if _, err := io.WriteString(out, deletedHeader(quotedDate, p.Length)); err != nil {
			return fmt.Errorf("%w: writing deleted part: %v", ErrCopy, err)
		}
		// The original part headers follow the replacement header.
		if err := in.copyTo(out, p.Offset); err != nil {
			return err
		}
		in.off = p.Offset + p.Length
	}
	return in.copyTo(out, b.Offset+b.Length)
}

// deletedDate is the expiration date for deleted attachments, in quotes.
func deletedDate(now time.Time) string {
	return `"` + parse.FormatDate(now) + `"`
}

// CopyMessage copies message e read from in to out. Attachments marked for
// deletion are replaced when the lengths are updated. For MDecode, the body
// is written by opts.Decode. With MUpdate, the offsets in e are changed to
// those of the copy.
func CopyMessage(c *mua.Config, in io.ReaderAt, e *email.Email, out io.Writer, mflags MessageFlags, hflags HeaderFlags, opts CopyOpts) error {
	log := pkglog.With(slog.Int64("offset", e.Offset))
	body := e.Body
	if body == nil {
		return fmt.Errorf("%w: message without body", ErrCopy)
	}
	ow := newOffsetWriter(out)

	if mflags&MPrefix != 0 && opts.Prefix == "" {
		if c.Static.TextFlowed {
			opts.Prefix = ">"
		} else {
			opts.Prefix = c.Static.IndentString
		}
	}

	newOffset := int64(-1)
	if mflags&MNoHeader == 0 {
		if mflags&MPrefix != 0 {
			hflags |= HPrefix
		} else if e.AttachDel && hflags&HUpdateLen != 0 {
			return copyDeleted(c, in, e, ow, hflags, opts, log)
		}

		if err := CopyEmailHeader(c, in, e, ow, hflags, opts); err != nil {
			return err
		}
		newOffset = ow.off
	}

	switch {
	case mflags&MDecode != 0:
		if opts.Decode == nil {
			return fmt.Errorf("%w: no decoder for message", ErrCopy)
		}
		if err := opts.Decode(ow, opts.Prefix); err != nil {
			return err
		}

	case mflags&MPrefix != 0 && !c.Static.TextFlowed:
		br := bufio.NewReader(muaio.Section(in, body.Offset, body.Length))
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				if !strings.HasSuffix(line, "\n") {
					line += "\n"
				}
				if _, werr := io.WriteString(ow, opts.Prefix+line); werr != nil {
					return fmt.Errorf("%w: writing body: %v", ErrCopy, werr)
				}
			}
			if errors.Is(err, io.EOF) {
				break
			} else if err != nil {
				return fmt.Errorf("%w: reading body: %v", ErrCopy, err)
			}
		}

	default:
		cur := &cursor{in, body.Offset}
		if err := cur.copyTo(ow, body.Offset+body.Length); err != nil {
			return err
		}
	}

	if mflags&MUpdate != 0 && newOffset >= 0 {
		body.Offset = newOffset
		body.Parts.Free()
		body.Parts = nil
	}
	return nil
}

func copyDeleted(c *mua.Config, in io.ReaderAt, e *email.Email, ow *offsetWriter, hflags HeaderFlags, opts CopyOpts, log mlog.Log) error {
	body := e.Body
	date := deletedDate(time.Now())
	newLength := body.Length
	del, err := countDeleteLines(in, body, &newLength, date)
	if err != nil {
		return err
	}
	newLines := e.Lines - del

	// The lengths of the copy are written here instead.
	if err := CopyEmailHeader(c, in, e, ow, hflags|HNoLen|HNoNewline, opts); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Content-Length: %d\n", newLength)
	if newLines > 0 {
		fmt.Fprintf(&b, "Lines: %d\n", newLines)
	} else {
		newLines = 0
	}
	b.WriteString("\n")
	if _, err := io.WriteString(ow, b.String()); err != nil {
		return fmt.Errorf("%w: writing header: %v", ErrCopy, err)
	}
	newOffset := ow.off

	cur := &cursor{in, body.Offset}
	if err := copyDeleteAttach(body, cur, ow, date); err != nil {
		return err
	}
	log.Debug("copied message without deleted attachments", slog.Int("lines", del), slog.Int64("length", newLength))

	e.AttachDel = false
	e.Lines = newLines
	body.Offset = newOffset
	body.Length = newLength
	body.Parts.Free()
	body.Parts = nil
	return nil
}
