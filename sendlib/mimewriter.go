package sendlib

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/rfc2231"
)

// quoteParam returns value as written in a parameter: as is, or as quoted
// string if it has MIME special characters.
func quoteParam(value string) string {
	if !strings.ContainsAny(value, mime.Specials) {
		return value
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, c := range []byte(value) {
		if c == '\\' || c == '"' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

// paramWriter writes "; attr=value" parameters, folding to keep lines
// within 76 characters.
type paramWriter struct {
	w   io.Writer
	len int // Approximate length of the current line.
}

func (pw *paramWriter) write(attr, value string) {
	n := len(value) + len(attr) + 1
	sep := "; "
	if pw.len+n+2 > 76 {
		sep = ";\n\t"
		pw.len = n + 1
	} else {
		pw.len += n + 1
	}
	_, err := fmt.Fprintf(pw.w, "%s%s=%s", sep, attr, value)
	xcheckf(err, "writing parameter")
}

// WriteMimeHeader writes the Content-* headers of b. The blank line ending
// the header is not written.
func WriteMimeHeader(c *mua.Config, w io.Writer, b *email.Body) (rerr error) {
	defer recoverWrite(&rerr)
	xwriteMimeHeader(c, w, b)
	return nil
}

func xwriteMimeHeader(c *mua.Config, w io.Writer, b *email.Body) {
	xprintf := func(format string, args ...any) {
		_, err := fmt.Fprintf(w, format, args...)
		xcheckf(err, "writing mime header")
	}

	charsets := c.SendCharsets()
	typ := b.Type.String()
	if b.Type == mime.TypeOther && b.XType != "" {
		typ = b.XType
	}
	xprintf("Content-Type: %s/%s", typ, b.Subtype)
	pw := &paramWriter{w: w, len: 25 + len(b.Subtype)}
	for _, p := range b.Params {
		if p.Attribute == "" {
			continue
		}
		for _, cont := range rfc2231.Encode(p.Attribute, p.Value, charsets) {
			v := quoteParam(cont.Value)
			// Some mail readers require a quoted boundary.
			if strings.EqualFold(cont.Attribute, "boundary") && v == cont.Value {
				v = `"` + cont.Value + `"`
			}
			pw.write(cont.Attribute, v)
		}
	}
	xprintf("\n")

	if b.ContentID != "" {
		xprintf("Content-ID: <%s>\n", b.ContentID)
	}
	if b.Language != "" {
		xprintf("Content-Language: %s\n", b.Language)
	}
	if b.Description != "" {
		xprintf("Content-Description: %s\n", b.Description)
	}

	if b.Disposition != mime.DispNone {
		disp := b.Disposition.String()
		xprintf("Content-Disposition: %s", disp)
		if b.UseDisp && (b.Disposition != mime.DispInline || b.DFilename != "") {
			fn := b.DFilename
			if fn == "" {
				fn = b.Filename
			}
			if fn != "" {
				fn = fn[strings.LastIndexByte(fn, '/')+1:]
				pw := &paramWriter{w: w, len: 21 + len(disp)}
				for _, cont := range rfc2231.Encode("filename", fn, charsets) {
					pw.write(cont.Attribute, quoteParam(cont.Value))
				}
			}
		}
		xprintf("\n")
	}

	if b.Encoding != mime.Enc7bit {
		xprintf("Content-Transfer-Encoding: %s\n", b.Encoding)
	}

	if c.Static.ProtectedHeadersWrite && b.MimeHeaders != nil {
		xwriteHeader(c, w, b.MimeHeaders, nil, HeaderOpts{Mode: ModeMIME})
	}
}

// WriteMimeBody writes the content of b, transfer encoded, and for
// multiparts the content of all subparts with their headers. Text parts are
// converted from the charset of their file to their charset parameter,
// unless NoConv is set.
func WriteMimeBody(ctx context.Context, c *mua.Config, w io.Writer, b *email.Body) error {
	log := pkglog.WithContext(ctx)

	if b.Type == mime.TypeMultipart {
		boundary := b.Params.Value("boundary")
		if boundary == "" {
			return ErrNoBoundary
		}
		for p := b.Parts; p != nil; p = p.Next {
			if _, err := fmt.Fprintf(w, "\n--%s\n", boundary); err != nil {
				return fmt.Errorf("%w: %v", ErrWrite, err)
			}
			if err := WriteMimeHeader(c, w, p); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return fmt.Errorf("%w: %v", ErrWrite, err)
			}
			if err := WriteMimeBody(ctx, c, w, p); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "\n--%s--\n", boundary); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
		return nil
	}

	// Control part of multipart/encrypted.
	if b.Type == mime.TypeApplication && strings.EqualFold(b.Subtype, "pgp-encrypted") && b.Filename == "" {
		if _, err := io.WriteString(w, "Version: 1\n"); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
		return nil
	}

	f, err := os.Open(b.Filename)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrContent, err)
	}
	defer func() {
		err := f.Close()
		log.Check(err, "closing part file")
	}()

	var r io.Reader = ctxReader{ctx, f}
	text := b.Type == mime.TypeText
	if text && !b.NoConv {
		from := b.Charset
		r = convertReader(r, from, b.GetCharset())
	}
	// Inline PGP data is text too.
	asText := text || b.Type == mime.TypeApplication && strings.EqualFold(b.Subtype, "pgp")

	switch {
	case b.Encoding == mime.EncQuotedPrintable:
		err = EncodeQuoted(w, r, asText)
	case b.Encoding == mime.EncBase64:
		err = EncodeBase64(w, r, asText)
	default:
		_, err = io.Copy(w, r)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debugx("writing part body", err, slog.String("file", b.Filename))
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// GenerateBoundary sets a new random boundary parameter.
func GenerateBoundary(params *mime.ParamList) {
	r := mua.NewRand()
	buf := make([]byte, 12)
	r.Read(buf)
	params.Set("boundary", base64.RawURLEncoding.EncodeToString(buf))
}

// tempFile creates a temporary file in the configured temporary directory.
func tempFile(c *mua.Config, pattern string) (*os.File, error) {
	dir := c.Static.Tmpdir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("creating temporary file: %w", err)
	}
	return f, nil
}

// removeTemp closes and removes a temporary file after a failure.
func removeTemp(f *os.File) {
	err := f.Close()
	pkglog.Check(err, "closing temporary file")
	err = os.Remove(f.Name())
	pkglog.Check(err, "removing temporary file", slog.String("path", filepath.Base(f.Name())))
}
