// Package charset canonicalizes character set names and converts text
// between character sets and UTF-8.
//
// Text is kept in UTF-8 in memory. Conversion happens when reading message
// data labeled with another charset, and when writing outgoing messages.
package charset

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/muacore/mua/mlog"
)

var pkglog = mlog.New("charset", nil)

var (
	ErrUnknown = errors.New("charset: unknown character set")
	ErrLossy   = errors.New("charset: text cannot be converted without loss")
)

// Replacement is written in place of bytes that cannot be decoded.
const Replacement = "�"

var preferred = map[string]string{
	"ansi_x3.4-1968": "us-ascii", "iso-ir-6": "us-ascii", "iso_646.irv:1991": "us-ascii",
	"ascii": "us-ascii", "iso646-us": "us-ascii", "us": "us-ascii", "ibm367": "us-ascii",
	"cp367": "us-ascii", "csascii": "us-ascii", "646": "us-ascii",

	"csiso2022kr": "iso-2022-kr", "cseuckr": "euc-kr", "csiso2022jp": "iso-2022-jp",
	"csiso2022jp2": "iso-2022-jp-2",

	"iso_8859-1:1987": "iso-8859-1", "iso-ir-100": "iso-8859-1", "iso_8859-1": "iso-8859-1",
	"latin1": "iso-8859-1", "l1": "iso-8859-1", "ibm819": "iso-8859-1", "cp819": "iso-8859-1",
	"csisolatin1": "iso-8859-1",

	"iso_8859-2:1987": "iso-8859-2", "iso-ir-101": "iso-8859-2", "iso_8859-2": "iso-8859-2",
	"latin2": "iso-8859-2", "l2": "iso-8859-2", "csisolatin2": "iso-8859-2",

	"iso_8859-3:1988": "iso-8859-3", "iso-ir-109": "iso-8859-3", "iso_8859-3": "iso-8859-3",
	"latin3": "iso-8859-3", "l3": "iso-8859-3", "csisolatin3": "iso-8859-3",

	"iso_8859-4:1988": "iso-8859-4", "iso-ir-110": "iso-8859-4", "iso_8859-4": "iso-8859-4",
	"latin4": "iso-8859-4", "l4": "iso-8859-4", "csisolatin4": "iso-8859-4",

	"iso_8859-6:1987": "iso-8859-6", "iso-ir-127": "iso-8859-6", "iso_8859-6": "iso-8859-6",
	"ecma-114": "iso-8859-6", "asmo-708": "iso-8859-6", "arabic": "iso-8859-6",
	"csisolatinarabic": "iso-8859-6",

	"iso_8859-7:1987": "iso-8859-7", "iso-ir-126": "iso-8859-7", "iso_8859-7": "iso-8859-7",
	"elot_928": "iso-8859-7", "ecma-118": "iso-8859-7", "greek": "iso-8859-7",
	"greek8": "iso-8859-7", "csisolatingreek": "iso-8859-7",

	"iso_8859-8:1988": "iso-8859-8", "iso-ir-138": "iso-8859-8", "iso_8859-8": "iso-8859-8",
	"hebrew": "iso-8859-8", "csisolatinhebrew": "iso-8859-8",

	"iso_8859-5:1988": "iso-8859-5", "iso-ir-144": "iso-8859-5", "iso_8859-5": "iso-8859-5",
	"cyrillic": "iso-8859-5", "csisolatincyrillic": "iso-8859-5",

	"iso_8859-9:1989": "iso-8859-9", "iso-ir-148": "iso-8859-9", "iso_8859-9": "iso-8859-9",
	"latin5": "iso-8859-9", "l5": "iso-8859-9", "csisolatin5": "iso-8859-9",

	"iso_8859-10:1992": "iso-8859-10", "iso-ir-157": "iso-8859-10", "latin6": "iso-8859-10",
	"l6": "iso-8859-10", "csisolatin6": "iso-8859-10",

	"iso_8859-13": "iso-8859-13", "iso-ir-179": "iso-8859-13", "latin7": "iso-8859-13", "l7": "iso-8859-13",
	"iso_8859-14": "iso-8859-14", "latin8": "iso-8859-14", "l8": "iso-8859-14",
	"iso_8859-15": "iso-8859-15", "latin9": "iso-8859-15", "latin0": "iso-8859-15",
	"iso_8859-16": "iso-8859-16", "latin10": "iso-8859-16",

	"cskoi8r": "koi8-r", "ms_kanji": "Shift_JIS", "csshiftjis": "Shift_JIS",
	"cseucpkdfmtjapanese": "euc-jp", "csgb2312": "gb2312", "csbig5": "big5",
	"eucjp": "euc-jp", "pck": "Shift_JIS", "ko_kr-euc": "euc-kr", "zh_tw-big5": "big5",
	"sjis": "Shift_JIS", "euc-jp-ms": "eucJP-ms",
}

// Canonical returns the preferred MIME name for a charset name. Common
// misspellings like "8859-1" and "iso8859-1" are fixed. An extension after a
// slash, as in "utf-8//TRANSLIT", is kept.
func Canonical(name string) string {
	in, ext, hasExt := strings.Cut(name, "/")
	var canon string
	lin := strings.ToLower(in)
	switch {
	case lin == "utf-8" || lin == "utf8":
		canon = "utf-8"
	default:
		scratch := in
		switch {
		case strings.HasPrefix(lin, "8859") && !strings.HasPrefix(lin, "8859-"):
			scratch = "iso-8859-" + in[4:]
		case strings.HasPrefix(lin, "8859-"):
			scratch = "iso-8859-" + in[5:]
		case strings.HasPrefix(lin, "iso8859") && !strings.HasPrefix(lin, "iso8859-"):
			scratch = "iso_8859-" + in[7:]
		case strings.HasPrefix(lin, "iso8859-"):
			scratch = "iso_8859-" + in[8:]
		}
		if p, ok := preferred[strings.ToLower(scratch)]; ok {
			canon = p
		} else {
			canon = strings.ToLower(scratch)
		}
	}
	if hasExt && ext != "" {
		canon += "/" + ext
	}
	return canon
}

// Equal returns whether charset name cs1 (possibly user input) is the same
// as cs2, which is assumed to be canonical already.
func Equal(cs1, cs2 string) bool {
	if cs1 == "" || cs2 == "" {
		return false
	}
	c := Canonical(cs1)
	n := min(len(c), len(cs2))
	return strings.EqualFold(c[:n], cs2[:n])
}

// IsUTF8 returns whether cs is UTF-8.
func IsUTF8(cs string) bool {
	return Equal(cs, "utf-8")
}

// IsASCII returns whether cs is US-ASCII.
func IsASCII(cs string) bool {
	return Equal(cs, "us-ascii")
}

// Default returns the first assumed charset, or us-ascii.
func Default(assumed []string) string {
	if len(assumed) > 0 {
		return assumed[0]
	}
	return "us-ascii"
}

// asciiEncoding decodes bytes >= 0x80 to the replacement character and
// refuses to encode non-ASCII.
type asciiEncoding struct{}

func (asciiEncoding) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: asciiDecoder{}}
}

func (asciiEncoding) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: asciiEncoder{}}
}

type asciiDecoder struct{ transform.NopResetter }

func (asciiDecoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c < 0x80 {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = c
			nDst++
		} else {
			if nDst+len(Replacement) > len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			nDst += copy(dst[nDst:], Replacement)
		}
		nSrc++
	}
	return nDst, nSrc, nil
}

type asciiEncoder struct{ transform.NopResetter }

func (asciiEncoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		if c >= 0x80 {
			return nDst, nSrc, ErrLossy
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = c
		nDst++
		nSrc++
	}
	return nDst, nSrc, nil
}

// Lookup returns the encoding for a charset name. UTF-8 returns a nil
// encoding with nil error, as no conversion is needed.
func Lookup(cs string) (encoding.Encoding, error) {
	c := Canonical(cs)
	if i := strings.IndexByte(c, '/'); i >= 0 {
		c = c[:i]
	}
	switch c {
	case "utf-8", "":
		return nil, nil
	case "us-ascii":
		return asciiEncoding{}, nil
	}
	enc, _ := ianaindex.MIME.Encoding(c)
	if enc == nil {
		enc, _ = ianaindex.IANA.Encoding(c)
	}
	if enc == nil {
		enc, _ = htmlindex.Get(c)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, cs)
	}
	return enc, nil
}

// Known returns whether cs is a character set that can be converted.
func Known(cs string) bool {
	_, err := Lookup(cs)
	return err == nil
}

// Decode converts data in charset cs to UTF-8. Invalid input is replaced by
// the replacement character and results in ErrLossy, along with the decoded
// text.
func Decode(data []byte, cs string) (string, error) {
	enc, err := Lookup(cs)
	if err != nil {
		return string(data), err
	}
	if enc == nil {
		if utf8.Valid(data) {
			return string(data), nil
		}
		return strings.ToValidUTF8(string(data), Replacement), ErrLossy
	}
	s, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return string(data), fmt.Errorf("decoding %s: %w", cs, err)
	}
	r := string(s)
	if strings.Contains(r, Replacement) && !strings.Contains(string(data), Replacement) {
		return r, ErrLossy
	}
	return r, nil
}

// Encode converts UTF-8 text s to charset cs. If s cannot be represented,
// ErrLossy is returned.
func Encode(s string, cs string) ([]byte, error) {
	enc, err := Lookup(cs)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		if !utf8.ValidString(s) {
			return nil, ErrLossy
		}
		return []byte(s), nil
	}
	buf, _, err := transform.Bytes(enc.NewEncoder(), []byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: encoding to %s: %v", ErrLossy, cs, err)
	}
	return buf, nil
}

// EncodeLossy is like Encode, but replaces characters that cannot be
// represented with a question mark.
func EncodeLossy(s string, cs string) []byte {
	enc, err := Lookup(cs)
	if err != nil || enc == nil {
		return []byte(s)
	}
	var b []byte
	for _, r := range s {
		buf, err := Encode(string(r), cs)
		if err != nil {
			b = append(b, '?')
		} else {
			b = append(b, buf...)
		}
	}
	return b
}

// Check returns whether s can be converted to cs without loss.
func Check(s string, cs string) bool {
	_, err := Encode(s, cs)
	return err == nil
}

// Choose returns the first charset in charsets that can represent s without
// loss, in canonical form, with the encoded text.
func Choose(s string, charsets []string) (string, []byte, bool) {
	for _, cs := range charsets {
		buf, err := Encode(s, cs)
		if err == nil {
			return Canonical(cs), buf, true
		}
	}
	return "", nil, false
}

// DecodeNonMIME converts header text that was sent without RFC 2047 encoding.
// Each assumed charset is tried in order. If all fail, the text is decoded
// with the first, replacing invalid bytes. Valid UTF-8 is returned as is.
func DecodeNonMIME(s string, assumed []string) string {
	if utf8.ValidString(s) {
		return s
	}
	for _, cs := range assumed {
		if r, err := Decode([]byte(s), cs); err == nil {
			return r
		}
	}
	r, err := Decode([]byte(s), Default(assumed))
	if err != nil {
		pkglog.Debugx("decoding non-mime header text", err)
	}
	return r
}

// NewReader returns a reader that converts from cs to UTF-8. Unknown
// charsets and UTF-8 return r itself.
func NewReader(cs string, r io.Reader) io.Reader {
	enc, err := Lookup(cs)
	if err != nil || enc == nil {
		return r
	}
	return enc.NewDecoder().Reader(r)
}

// NewWriter returns a writer that converts UTF-8 to cs, replacing characters
// that cannot be represented.
func NewWriter(cs string, w io.Writer) io.Writer {
	enc, err := Lookup(cs)
	if err != nil || enc == nil {
		return w
	}
	return encoding.ReplaceUnsupported(enc.NewEncoder()).Writer(w)
}
