// Package message writes header fields: folding long values at whitespace,
// prefixing for quoting, and making messages suitable for SMTP transport.
package message

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/muacore/mua/mlog"
)

var pkglog = mlog.New("message", nil)

// MaxLine is the maximum length of a line in a message, excluding CRLF.
const MaxLine = 998

// HeaderWriter helps create headers, folding to the next line when it would
// become too large. Used for References and parameter lists.
type HeaderWriter struct {
	b        *strings.Builder
	lineLen  int
	nonfirst bool
	Width    int // Zero means 78.
}

func (w *HeaderWriter) width() int {
	if w.Width > 0 {
		return w.Width
	}
	return 78
}

// Addf formats the string and calls Add.
func (w *HeaderWriter) Addf(separator string, format string, args ...any) {
	w.Add(separator, fmt.Sprintf(format, args...))
}

// Add adds texts, each separated by separator. Individual elements in text are
// not wrapped. A fold starts the next line with a tab.
func (w *HeaderWriter) Add(separator string, texts ...string) {
	if w.b == nil {
		w.b = &strings.Builder{}
	}
	for _, text := range texts {
		n := len(text)
		if w.nonfirst && w.lineLen > 1 && w.lineLen+len(separator)+n > w.width() {
			w.b.WriteString(strings.TrimRight(separator, " "))
			w.b.WriteString("\n\t")
			w.lineLen = 1
		} else if w.nonfirst && separator != "" {
			w.b.WriteString(separator)
			w.lineLen += len(separator)
		}
		w.b.WriteString(text)
		w.lineLen += len(text)
		w.nonfirst = true
	}
}

// Newline starts a new continuation line.
func (w *HeaderWriter) Newline() {
	if w.b == nil {
		w.b = &strings.Builder{}
	}
	w.b.WriteString("\n\t")
	w.lineLen = 1
	w.nonfirst = true
}

// String returns the header in string form, ending with \n.
func (w *HeaderWriter) String() string {
	if w.b == nil {
		return "\n"
	}
	return w.b.String() + "\n"
}

// HeaderOpts control how WriteHeader writes a field.
type HeaderOpts struct {
	Prefix   string // Written at the start of each line, for quoting.
	WrapLen  int    // Column to fold at when displaying. Zero means 78.
	Display  bool   // For display: widths in cells, folds with tabs, no forced breaks.
	NoUnfold bool   // Keep original folding when displaying.

	// Column to fold at when not displaying, must be between 78 and 998 to be
	// used.
	WrapHeaders int
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) WriteString(s string) {
	if ew.err == nil {
		_, ew.err = io.WriteString(ew.w, s)
	}
}

func (ew *errWriter) WriteByte(c byte) {
	ew.WriteString(string([]byte{c}))
}

// Unfold removes line breaks followed by whitespace, replacing them with a
// single space.
func Unfold(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' && i+2 < len(s) && s[i+1] == '\n' && (s[i+2] == ' ' || s[i+2] == '\t') {
			b.WriteByte(' ')
			i += 2
			continue
		}
		if s[i] == '\n' && i+1 < len(s) && (s[i+1] == ' ' || s[i+1] == '\t') {
			b.WriteByte(' ')
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// findWord returns the offset after the next word, including its leading
// whitespace.
func findWord(s string) int {
	i := 0
	for i < len(s) && strings.IndexByte(" \t\n", s[i]) >= 0 {
		i++
	}
	for i < len(s) && strings.IndexByte(" \t\n", s[i]) < 0 {
		i++
	}
	return i
}

// textWidth returns the width of s when written at column col. When
// displaying, the number of cells with tabs expanded, otherwise bytes.
func textWidth(s string, col int, display bool) int {
	if !display {
		return len(s)
	}
	w := 0
	for _, c := range s {
		switch c {
		case '\t':
			w += 8 - (col+w)%8
		case '\n':
			// Width restarts on the next line.
			col = -w
		default:
			w += runewidth.RuneWidth(c)
		}
	}
	return w
}

// printValue writes value, prefixing continuation lines. When not displaying,
// words longer than MaxLine are broken forcefully.
func printValue(ew *errWriter, prefix, value string, display bool, col int) {
	for i := 0; i < len(value); i++ {
		c := value[i]
		ew.WriteByte(c)
		col++
		if !display && col >= MaxLine {
			ew.WriteString("\n ")
			col = 1
		}
		if c == '\n' {
			if i+1 < len(value) && prefix != "" {
				ew.WriteString(prefix)
			}
			// For display, folding whitespace becomes a single tab.
			if display && i+1 < len(value) && (value[i+1] == ' ' || value[i+1] == '\t') {
				for i+1 < len(value) && (value[i+1] == ' ' || value[i+1] == '\t') {
					i++
				}
				ew.WriteByte('\t')
			}
		}
	}
}

// foldHeader writes "tag: value", folding value before words that would
// cross wraplen. Encoded words are never preceded by a fold.
func foldHeader(ew *errWriter, tag, value, prefix string, wraplen int, display bool) {
	if value == "" {
		return
	}
	col := len(prefix)
	if tag != "" {
		ew.WriteString(prefix + tag + ": ")
		col += len(tag) + 2
	}

	var word string
	first := true
	p := value
	for p != "" {
		n := findWord(p)
		word = p[:n]
		next := p[n:]

		w := textWidth(word, col, display)
		enc := strings.HasPrefix(word, "=?")
		fold := false
		if !first && !enc && col > 0 && col+w >= wraplen {
			col = len(prefix)
			fold = true
			ew.WriteString("\n" + prefix)
		}

		if display && fold {
			trimmed := strings.TrimLeft(word, " \t")
			col -= len(word) - len(trimmed)
			ew.WriteByte('\t')
			printValue(ew, prefix, trimmed, display, col)
			col += 8
		} else {
			printValue(ew, prefix, word, display, col)
		}
		col += w

		// Trailing whitespace before a newline is dropped.
		sp := strings.TrimLeft(next, " \t")
		if strings.HasPrefix(sp, "\n") {
			if len(sp) == 1 {
				break
			}
			next = sp
			col = 0
		}
		p = next
		first = false
	}
	if col > 0 && !strings.HasSuffix(word, "\n") {
		ew.WriteByte('\n')
	}
}

// writeOneLine writes a single header field from a raw, possibly folded
// "Name: value" text. Short enough fields are written as is when not
// displaying, as is an mbox "From " line.
func writeOneLine(ew *errWriter, pfxw, maxw, wraplen int, prefix, raw string, display bool) {
	colon := strings.IndexByte(raw, ':')
	if colon < 0 {
		pkglog.Debug("header not in name: value form", slog.String("header", raw))
		return
	}
	shortEnough := pfxw+maxw <= wraplen
	isFrom := len(raw) > 5 && strings.EqualFold(raw[:5], "from ")

	if !display && (shortEnough || isFrom) {
		ew.WriteString(prefix)
		printValue(ew, prefix, raw, display, len(prefix))
		return
	}
	tag := ""
	value := raw
	if !isFrom {
		tag = raw[:colon]
		value = strings.TrimLeft(raw[colon+1:], " \t")
	}
	foldHeader(ew, tag, value, prefix, wraplen, display)
}

// WriteHeader writes a header field to w. If tag is empty, value is a
// complete, possibly multi-field "Name: value\n" text. Long values are
// folded at whitespace.
func WriteHeader(w io.Writer, tag, value string, opts HeaderOpts) error {
	ew := &errWriter{w: w}
	display := opts.Display
	if !display || !opts.NoUnfold {
		value = Unfold(value)
	}

	wraplen := opts.WrapLen
	if !display {
		if opts.WrapHeaders < 78 || opts.WrapHeaders > MaxLine {
			wraplen = 78
		} else {
			wraplen = opts.WrapHeaders
		}
	} else if wraplen <= 0 {
		wraplen = 78
	}

	pfxw := runewidth.StringWidth(opts.Prefix)
	if tag != "" {
		if !display && runewidth.StringWidth(tag)+2+pfxw+runewidth.StringWidth(value) <= wraplen {
			ew.WriteString(opts.Prefix + tag + ": " + value + "\n")
			return ew.err
		}
		foldHeader(ew, tag, value, opts.Prefix, wraplen, display)
		return ew.err
	}

	// Multiple fields, each a line plus continuation lines.
	start := 0
	maxw := 0
	line := 0
	for i := 0; i < len(value); i++ {
		if value[i] != '\n' {
			continue
		}
		maxw = max(maxw, textWidth(value[line:i], 0, display))
		line = i + 1
		if i+1 < len(value) && (value[i+1] == ' ' || value[i+1] == '\t') {
			continue
		}
		writeOneLine(ew, pfxw, maxw, wraplen, opts.Prefix, value[start:i+1], display)
		start = i + 1
		maxw = 0
	}
	if start < len(value) {
		maxw = max(maxw, textWidth(value[line:], 0, display))
		writeOneLine(ew, pfxw, maxw, wraplen, opts.Prefix, value[start:], display)
	}
	return ew.err
}

// WriteReferences writes message-ids of refs, which are most recent first,
// in oldest first order, each on its own folded line. If trim is > 0, only
// the trim most recent ids are written.
func WriteReferences(w io.Writer, refs []string, trim int) error {
	n := len(refs)
	if trim > 0 {
		n = min(n, trim)
	}
	var b strings.Builder
	for i := n - 1; i >= 0; i-- {
		b.WriteString(" " + refs[i])
		if i > 0 {
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
