package sendlib

import (
	"bufio"
	"context"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"github.com/muacore/mua/charset"
	"github.com/muacore/mua/message"
	"github.com/muacore/mua/muaio"
)

const hexDigits = "0123456789ABCDEF"

// qpMaxLine is the maximum length of an encoded quoted-printable line,
// excluding the newline.
const qpMaxLine = 76

// EncodeQuoted writes r quoted-printable encoded to w. With text set, line
// endings are kept and trailing whitespace is encoded. Lines starting with
// "From" or consisting of a single dot are encoded so mbox and SMTP handling
// cannot alter them.
func EncodeQuoted(w io.Writer, r io.Reader, text bool) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	line := make([]byte, 0, qpMaxLine+8)

	// writeTrailing writes line, encoding its final whitespace character.
	writeTrailing := func() {
		n := len(line)
		ws := line[n-1]
		bw.Write(line[:n-1])
		if n < qpMaxLine-2 {
			bw.Write([]byte{'=', hexDigits[ws>>4], hexDigits[ws&0xf]})
		} else {
			bw.Write([]byte{'=', '\n', '=', hexDigits[ws>>4], hexDigits[ws&0xf]})
		}
	}

	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}

		if n := len(line); n == qpMaxLine && (!text || c != '\n') {
			if line[n-3] == '=' {
				// Keep the escape sequence together on the next line.
				bw.Write(line[:n-3])
				bw.WriteString("=\n")
				line = append(line[:0], line[n-3:]...)
			} else {
				save := line[n-1]
				bw.Write(line[:n-1])
				bw.WriteString("=\n")
				line = append(line[:0], save)
			}
		}

		switch {
		case len(line) == 4 && string(line) == "From":
			line = append(line[:0], "=46rom"...)
		case len(line) == 4 && string(line) == "from":
			line = append(line[:0], "=66rom"...)
		case len(line) == 1 && line[0] == '.':
			line = append(line[:0], "=2E"...)
		}

		switch {
		case c == '\n' && text:
			if n := len(line); n > 0 && (line[n-1] == ' ' || line[n-1] == '\t') {
				writeTrailing()
			} else {
				bw.Write(line)
			}
			bw.WriteByte('\n')
			line = line[:0]
		case c != '\t' && (c < 32 || c > 126 || c == '='):
			if len(line) > qpMaxLine-3 {
				bw.Write(line)
				bw.WriteString("=\n")
				line = line[:0]
			}
			line = append(line, '=', hexDigits[c>>4], hexDigits[c&0xf])
		default:
			// Wrapping happens on the next character, when it is known
			// whether it ends the line.
			line = append(line, c)
		}
	}

	if n := len(line); n > 0 {
		if line[n-1] == ' ' || line[n-1] == '\t' {
			writeTrailing()
		} else {
			bw.Write(line)
		}
	}
	return bw.Flush()
}

// EncodeBase64 writes r base64 encoded to w, on lines of 72 characters. With
// text set, bare newlines are encoded as CRLF.
func EncodeBase64(w io.Writer, r io.Reader, text bool) error {
	bw := muaio.Base64Writer(w)
	var dst io.Writer = bw
	if text {
		dst = message.NewWriter(bw, true)
	}
	if _, err := io.Copy(dst, r); err != nil {
		return err
	}
	return bw.Close()
}

// convertReader returns a reader with the text of r converted from charset
// from to charset to. Characters that cannot be represented are replaced.
// Without a from charset, r is returned unchanged.
func convertReader(r io.Reader, from, to string) io.Reader {
	if from == "" || to == "" || charset.Equal(from, to) {
		return r
	}
	if !charset.Known(from) || !charset.Known(to) {
		pkglog.Debug("unknown charset, not converting")
		return r
	}
	r = charset.NewReader(from, r)
	enc, err := charset.Lookup(to)
	if err != nil || enc == nil {
		return r
	}
	return transform.NewReader(r, encoding.ReplaceUnsupported(enc.NewEncoder()))
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr ctxReader) Read(buf []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(buf)
}
