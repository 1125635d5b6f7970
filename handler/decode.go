package handler

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"github.com/muacore/mua/charset"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/muaio"
)

// crlfReader removes carriage returns before newlines.
type crlfReader struct {
	r *bufio.Reader
}

func (cr *crlfReader) Read(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		if n > 0 && cr.r.Buffered() == 0 {
			break
		}
		c, err := cr.r.ReadByte()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}
		if c == '\r' {
			if next, err := cr.r.Peek(1); err == nil && next[0] == '\n' {
				continue
			}
		}
		buf[n] = c
		n++
	}
	return n, nil
}

// lineReader produces output by decoding its input line by line.
type lineReader struct {
	br     *bufio.Reader
	buf    bytes.Buffer
	decode func(line string, out *bytes.Buffer) (done bool)
	done   bool
}

func (lr *lineReader) Read(buf []byte) (int, error) {
	for lr.buf.Len() == 0 {
		if lr.done {
			return 0, io.EOF
		}
		line, err := lr.br.ReadString('\n')
		if line != "" && lr.decode(line, &lr.buf) {
			lr.done = true
		}
		if err == io.EOF {
			lr.done = true
		} else if err != nil {
			return 0, err
		}
	}
	return lr.buf.Read(buf)
}

// qpDecodeLine decodes a quoted-printable line. Malformed escapes are kept
// as is.
func qpDecodeLine(line string, out *bytes.Buffer) bool {
	last := byte(0)
	if strings.HasSuffix(line, "\n") {
		last = '\n'
	}
	// Trailing whitespace is added by transports and not part of the data.
	line = strings.TrimRight(line, " \t\r\n")

	soft := false
	for i := 0; i < len(line); {
		c := line[i]
		if c != '=' {
			out.WriteByte(c)
			i++
			continue
		}
		if i+1 == len(line) {
			soft = true
			break
		}
		if i+2 < len(line) {
			h1 := mime.HexVal(line[i+1])
			h2 := mime.HexVal(line[i+2])
			if h1 >= 0 && h2 >= 0 {
				out.WriteByte(byte(h1<<4 | h2))
				i += 3
				continue
			}
		}
		out.WriteByte(c)
		i++
	}
	if !soft && last == '\n' {
		out.WriteByte('\n')
	}
	return false
}

func uuDecodeByte(c byte) byte {
	if c == '`' {
		return 0
	}
	return (c - ' ') & 0x3f
}

// newUUDecoder returns a reader for the data between the "begin" and "end"
// lines of uuencoded input.
func newUUDecoder(r io.Reader) io.Reader {
	begun := false
	return &lineReader{
		br: bufio.NewReader(r),
		decode: func(line string, out *bytes.Buffer) bool {
			if !begun {
				begun = strings.HasPrefix(line, "begin ")
				return false
			}
			if strings.HasPrefix(line, "end") {
				return true
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				return false
			}
			n := int(uuDecodeByte(line[0]))
			p := line[1:]
			for c := 0; c < n && len(p) > 0; {
				for l := uint(2); l <= 6 && len(p) > 1; l += 2 {
					out.WriteByte(uuDecodeByte(p[0])<<l | uuDecodeByte(p[1])>>(6-l))
					p = p[1:]
					c++
					if c == n {
						break
					}
				}
				if len(p) > 0 {
					p = p[1:]
				}
			}
			return false
		},
	}
}

// base64Filter passes only characters of the base64 alphabet, dropping
// padding so concatenated base64 data decodes.
type base64Filter struct {
	r io.Reader
}

func (f *base64Filter) Read(buf []byte) (int, error) {
	for {
		n, err := f.r.Read(buf)
		o := 0
		for _, c := range buf[:n] {
			if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '/' {
				buf[o] = c
				o++
			}
		}
		if o > 0 || err != nil {
			return o, err
		}
	}
}

// lenientReader ends the stream on corrupt base64 input, logging the error.
type lenientReader struct {
	r io.Reader
}

func (lr lenientReader) Read(buf []byte) (int, error) {
	n, err := lr.r.Read(buf)
	var cerr base64.CorruptInputError
	if errors.As(err, &cerr) {
		pkglog.Debugx("corrupt base64 data, stopping", err)
		err = io.EOF
	}
	return n, err
}

// NewDecoder returns a reader with the content of r decoded from the
// transfer encoding. For text, CRLF line endings become LF.
func NewDecoder(r io.Reader, enc mime.Encoding, text bool) io.Reader {
	switch enc {
	case mime.EncQuotedPrintable:
		return &lineReader{br: bufio.NewReader(r), decode: qpDecodeLine}
	case mime.EncBase64:
		d := io.Reader(lenientReader{base64.NewDecoder(base64.RawStdEncoding, &base64Filter{r})})
		if text {
			d = &crlfReader{bufio.NewReader(d)}
		}
		return d
	case mime.EncUUencoded:
		return newUUDecoder(r)
	}
	if text {
		return &crlfReader{bufio.NewReader(r)}
	}
	return r
}

// bodyCharset returns the charset of a text part, the assumed charset when
// not labeled.
func (s *State) bodyCharset(b *email.Body) string {
	if cs := b.Params.Value("charset"); cs != "" {
		return cs
	}
	if s.Config != nil {
		return charset.Default(s.Config.Static.AssumedCharset)
	}
	return "us-ascii"
}

// localCharset is the charset text is converted to.
func (s *State) localCharset() string {
	if s.Config != nil && s.Config.Static.Charset != "" {
		return s.Config.Static.Charset
	}
	return "utf-8"
}

// convert returns a reader converting text in charset from to the local
// charset.
func (s *State) convert(r io.Reader, from string) io.Reader {
	to := s.localCharset()
	if charset.Equal(from, to) {
		return r
	}
	if !charset.Known(from) {
		s.log().Debug("unknown charset, not converting", slog.String("charset", from))
		return r
	}
	r = charset.NewReader(from, r)
	enc, err := charset.Lookup(to)
	if err != nil || enc == nil {
		return r
	}
	return transform.NewReader(r, encoding.ReplaceUnsupported(enc.NewEncoder()))
}

// reader returns the decoded content of b. Text is converted to the local
// charset with CharConv set, unless the part is not to be converted.
func (s *State) reader(b *email.Body) io.Reader {
	text := b.IsText()
	r := NewDecoder(muaio.Section(s.In, b.Offset, b.Length), b.Encoding, text)
	if text && s.Flags&CharConv != 0 && !b.NoConv {
		r = s.convert(r, s.bodyCharset(b))
	}
	return r
}

// rawWriter writes to the State without prefixing.
type rawWriter struct {
	s *State
}

func (w rawWriter) Write(buf []byte) (int, error) {
	w.s.Puts(string(buf))
	if w.s.err != nil {
		return 0, w.s.err
	}
	return len(buf), nil
}

// ctxReader fails reads once the context of the State is canceled.
type ctxReader struct {
	s *State
	r io.Reader
}

func (cr ctxReader) Read(buf []byte) (int, error) {
	if err := cr.s.ctxErr(); err != nil {
		return 0, err
	}
	return cr.r.Read(buf)
}

// DecodeAttachment writes the decoded content of b to s. Text is prefixed
// and converted to the local charset with CharConv set.
func DecodeAttachment(s *State, b *email.Body) error {
	r := ctxReader{s, s.reader(b)}
	var w io.Writer = rawWriter{s}
	if b.IsText() && s.Prefix != "" {
		s.SetPrefix()
		w = s
	}
	_, err := io.Copy(w, r)
	if err == nil {
		err = s.err
	}
	return err
}
