// Package flowed implements RFC 3676 format=flowed text: reflowing for
// display and quoting, and space-stuffing of composed text.
package flowed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
)

var pkglog = mlog.New("flowed", nil)

// Max is the line width that replies in format=flowed are wrapped at, and
// the fallback width for deeply quoted text.
const Max = 72

// Options influence how flowed text is written.
type Options struct {
	Width       int    // Screen width when displaying, 80 otherwise.
	Display     bool   // Output is for the screen.
	Replying    bool   // Output is quoted text for a reply.
	Prefix      string // Quote prefix for replies to non-flowed text, e.g. "> ".
	TextFlowed  bool   // Replies are written as format=flowed.
	SpaceQuotes bool   // Put a space after each quote marker.
	ReflowWrap  int    // Maximum width, negative for relative to Width.
}

// NewOptions returns the options from the configuration for displaying
// (replying false) or quoting text.
func NewOptions(c *mua.Config, width int, replying bool) Options {
	o := Options{
		Width:       width,
		Display:     !replying,
		Replying:    replying,
		TextFlowed:  c.Static.TextFlowed,
		SpaceQuotes: !c.Static.NoReflowSpaceQuotes,
		ReflowWrap:  c.Static.ReflowWrap,
	}
	if replying {
		o.Prefix = c.Static.IndentString
	}
	return o
}

// IsFlowed returns whether b is a text/plain part with format=flowed.
func IsFlowed(b *email.Body) bool {
	return b != nil && b.Type == mime.TypeText && strings.EqualFold(b.Subtype, "plain") && strings.EqualFold(b.Params.Value("format"), "flowed")
}

// WrapCols returns the number of columns to wrap at for a screen width and
// wrap setting. A negative wrap is relative to the width.
func WrapCols(width, wrap int) int {
	if wrap < 0 {
		if width > -wrap {
			return width + wrap
		}
		return width
	}
	if wrap > 0 && wrap < width {
		return wrap
	}
	return width
}

type writer struct {
	o      Options
	w      *bufio.Writer
	width  int
	spaces int
	delsp  bool
}

func (fw *writer) spaceQuotes() bool {
	if fw.o.TextFlowed && fw.o.Replying {
		return false
	}
	return fw.o.SpaceQuotes
}

func (fw *writer) quoteSuffix(ql int) bool {
	if fw.o.Replying || fw.spaceQuotes() {
		return false
	}
	if ql == 0 && fw.o.Prefix == "" {
		return false
	}
	// The prefix adds its own space.
	if !fw.o.TextFlowed && ql == 0 && fw.o.Prefix != "" {
		return false
	}
	return true
}

// indent writes the quote markers and returns their width.
func (fw *writer) indent(ql int, suffix bool) int {
	wid := 0
	if fw.o.Prefix != "" {
		// Flowed replies to flowed text quote with '>', other replies
		// with the configured prefix.
		if fw.o.TextFlowed {
			ql++
		} else {
			fw.w.WriteString(fw.o.Prefix)
			wid = runewidth.StringWidth(fw.o.Prefix)
		}
	}
	sq := fw.spaceQuotes()
	for i := 0; i < ql; i++ {
		fw.w.WriteByte('>')
		if sq {
			fw.w.WriteByte(' ')
		}
	}
	n := ql + wid
	if sq {
		n += ql
	}
	if suffix {
		fw.w.WriteByte(' ')
		n++
	}
	return n
}

func (fw *writer) flush() {
	if fw.width > 0 {
		fw.w.WriteByte('\n')
		fw.width = 0
	}
	fw.spaces = 0
}

// quoteWidth returns the width available for text at quote level ql.
func (fw *writer) quoteWidth(ql int) int {
	screen := 80
	if fw.o.Display && fw.o.Width > 0 {
		screen = fw.o.Width
	}
	width := WrapCols(screen, fw.o.ReflowWrap)
	if fw.o.TextFlowed && fw.o.Replying {
		width = min(width, Max)
		ql++
	}
	if fw.spaceQuotes() {
		width -= 2 * ql
	} else {
		width -= ql
	}
	if fw.quoteSuffix(ql) {
		width--
	}
	if width <= 0 {
		width = Max
	}
	return width
}

func (fw *writer) flowedLine(line string, ql int, term bool) {
	if line == "" {
		fw.flush()
		fw.indent(ql, false)
		fw.w.WriteByte('\n')
		return
	}

	width := fw.quoteWidth(ql)
	last := line[len(line)-1]
	words := 0
	for _, word := range strings.Split(line, " ") {
		if word == "" {
			fw.spaces++
			continue
		}
		if words > 0 {
			fw.spaces++
		}
		w := runewidth.StringWidth(word)
		// The first word always goes on the line. Long words with DelSp=yes
		// and a single trailing space are left for the pager to break.
		longDelSp := fw.spaces == 0 && fw.delsp && last != ' '
		if !longDelSp && w < width && w+fw.width+fw.spaces > width {
			// Trailing spaces are only kept for flowed replies.
			if fw.o.TextFlowed {
				fw.w.WriteString(strings.Repeat(" ", fw.spaces))
			}
			fw.w.WriteByte('\n')
			fw.width = 0
			fw.spaces = 0
			words = 0
		}
		if words == 0 && fw.width == 0 {
			fw.width = fw.indent(ql, fw.quoteSuffix(ql))
		}
		fw.width += w + fw.spaces
		fw.w.WriteString(strings.Repeat(" ", fw.spaces))
		fw.spaces = 0
		fw.w.WriteString(word)
		words++
	}
	if term {
		fw.flush()
	}
}

func (fw *writer) fixedLine(line string, ql int) {
	fw.indent(ql, fw.quoteSuffix(ql))
	fw.w.WriteString(line)
	fw.w.WriteByte('\n')
	fw.width = 0
	fw.spaces = 0
}

func quoteLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '>' {
		n++
	}
	return n
}

// Decode reads format=flowed text from r and writes it reflowed to w. Params
// are the Content-Type parameters of the part, for DelSp. The context is
// checked for each line, cancellation returns its error.
func Decode(ctx context.Context, r io.Reader, w io.Writer, params mime.ParamList, o Options) error {
	log := pkglog.WithContext(ctx)

	fw := &writer{o: o, w: bufio.NewWriter(w)}
	var delsp bool
	if v, ok := params.Get("delsp"); ok {
		delsp = strings.EqualFold(v, "yes")
		fw.delsp = true
	}

	br := bufio.NewReader(r)
	quotelevel := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading flowed text: %w", err)
		}
		if buf == "" && err != nil {
			break
		}
		buf = strings.TrimRight(buf, "\r\n")

		ql := quoteLevel(buf)
		// A changing quote level ends a paragraph, RFC 3676 section 4.5.
		if ql != quotelevel {
			fw.flush()
		}
		quotelevel = ql
		off := ql

		// Remove the sender's space-stuffing.
		if off < len(buf) && buf[off] == ' ' {
			off++
		}

		sigsep := buf[off:] == "-- "
		fixed := len(buf) == off || buf[len(buf)-1] != ' ' || sigsep
		if fixed && (fw.width == 0 || len(buf) == 0) || sigsep {
			fw.flush()
			fw.fixedLine(buf[off:], quotelevel)
			continue
		}

		if delsp && !fixed {
			buf = buf[:len(buf)-1]
		}
		fw.flowedLine(buf[off:], quotelevel, fixed)
		if err != nil {
			break
		}
	}
	fw.flush()
	log.Debug("flowed text decoded", slog.Bool("delsp", delsp))
	return fw.w.Flush()
}
