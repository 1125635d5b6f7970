// Package rfc2047 encodes and decodes "encoded words" in message headers, as
// specified in RFC 2047.
package rfc2047

import (
	"encoding/base64"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/charset"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mlog"
)

var pkglog = mlog.New("rfc2047", nil)

// Limits for the length of a single encoded word.
const (
	WordMax = 75
	WordMin = 9 // len("=?.?.?.?=")
)

var encodedWordRegexp = regexp.MustCompile(`=\?([^\[\]()<>@,;:\\"/?. =]+)\?([qQbB])\?([^?]+)\?=`)

func hspace(c byte) bool {
	return c == ' ' || c == '\t'
}

func continuation(c byte) bool {
	return c&0xc0 == 0x80
}

// block is the result of trying to fit text in one encoded word.
type block struct {
	wlen int  // Length of the encoded word.
	b64  bool // Use B encoding instead of Q.
}

type encoder struct {
	tocode string
	raw    bool // Input is not UTF-8, bytes are used as is.
}

func (e encoder) convert(d string) ([]byte, bool) {
	if e.raw {
		return []byte(d), true
	}
	buf, err := charset.Encode(d, e.tocode)
	return buf, err == nil
}

// try returns 0 and the encoded-word parameters if d fits in a single
// encoded word. Otherwise it returns an upper bound on the number of bytes
// that could fit.
func (e encoder) try(d string) (int, block) {
	buf, ok := e.convert(d)
	room := WordMax - WordMin + 1 - len(e.tocode)
	if !ok || len(buf) > room {
		return len(d), block{}
	}

	count := 0
	for _, c := range buf {
		if c >= 0x7f || c < 0x20 || c == '_' || c != ' ' && strings.IndexByte(mime.Specials, c) >= 0 {
			count++
		}
	}
	n := WordMin - 2 + len(e.tocode)
	lenB := n + (len(buf)+2)/3*4
	lenQ := n + len(buf) + 2*count
	if strings.EqualFold(e.tocode, "iso-2022-jp") {
		lenQ = WordMax + 1
	}
	if lenB < lenQ && lenB <= WordMax {
		return 0, block{lenB, true}
	} else if lenQ <= WordMax {
		return 0, block{lenQ, false}
	}
	return len(d), block{}
}

// word returns d as a single encoded word.
func (e encoder) word(d string, blk block) string {
	buf, _ := e.convert(d)
	var b strings.Builder
	b.WriteString("=?")
	b.WriteString(e.tocode)
	if blk.b64 {
		b.WriteString("?B?")
		b.WriteString(base64.StdEncoding.EncodeToString(buf))
	} else {
		const hex = "0123456789ABCDEF"
		b.WriteString("?Q?")
		for _, c := range buf {
			switch {
			case c == ' ':
				b.WriteByte('_')
			case c >= 0x7f || c < 0x20 || c == '_' || strings.IndexByte(mime.Specials, c) >= 0:
				b.WriteByte('=')
				b.WriteByte(hex[c>>4])
				b.WriteByte(hex[c&0x0f])
			default:
				b.WriteByte(c)
			}
		}
	}
	b.WriteString("?=")
	return b.String()
}

// choose returns how many bytes of d fit in one encoded word starting at
// column col.
func (e encoder) choose(d string, col int) (int, block) {
	n := len(d)
	for {
		nn, blk := e.try(d[:n])
		if nn == 0 && (col+blk.wlen <= WordMax+1 || n <= 1) {
			return n, blk
		}
		if nn != 0 {
			n = nn
		}
		n--
		if n <= 0 {
			n = 1
			_, blk = e.try(d[:1])
			return n, blk
		}
		if !e.raw {
			for n > 1 && continuation(d[n]) {
				n--
			}
		}
	}
}

// Encode returns s with the parts that need it replaced by encoded words. Text
// needs encoding if it has non-ASCII characters or looks like an encoded word.
// If specials is not empty, the encoded region is widened to include those
// characters, e.g. address specials in display names. The charset is the
// first of charsets that can represent s, with utf-8 as fallback. Col is the
// column at which s starts, used to keep lines within limits. Multiple
// encoded words are separated by a folding "\n\t".
func Encode(s, specials string, col int, charsets []string) string {
	if len(charsets) == 0 {
		charsets = []string{"utf-8"}
	}
	u := s
	ulen := len(u)

	// Find the first and last bytes that must be encoded.
	t0, t1 := -1, -1
	s0, s1 := -1, -1
	for t := 0; t < ulen; t++ {
		c := u[t]
		if c&0x80 != 0 || c == '=' && t+1 < ulen && u[t+1] == '?' && (t == 0 || hspace(u[t-1])) {
			if t0 < 0 {
				t0 = t
			}
			t1 = t
		} else if specials != "" && strings.IndexByte(specials, c) >= 0 {
			if s0 < 0 {
				s0 = t
			}
			s1 = t
		}
	}
	if t0 < 0 {
		return s
	}
	if s0 >= 0 && s0 < t0 {
		t0 = s0
	}
	if s1 > t1 {
		t1 = s1
	}

	e := encoder{}
	if !utf8.ValidString(u) {
		e.raw = true
		e.tocode = "unknown-8bit"
	} else if cs, _, ok := charset.Choose(u, charsets); ok {
		e.tocode = cs
	} else {
		e.tocode = "utf-8"
	}

	// Start encoding early enough for the first word to fit on the line.
	if t := WordMax + 1 - col - WordMin; t < t0 {
		t0 = max(t, 0)
	}

	// Move the start back to a word boundary.
	for ; t0 > 0; t0-- {
		if !hspace(u[t0-1]) {
			continue
		}
		t := t0 + 1
		if !e.raw {
			for t < ulen && continuation(u[t]) {
				t++
			}
		}
		if nn, blk := e.try(u[t0:t]); nn == 0 && col+t0+blk.wlen <= WordMax+1 {
			break
		}
	}

	// Move the end forward to a word boundary.
	for ; t1 < ulen; t1++ {
		if !hspace(u[t1]) {
			continue
		}
		t := t1 - 1
		if !e.raw {
			for t > 0 && continuation(u[t]) {
				t--
			}
		}
		if nn, blk := e.try(u[t:t1]); nn == 0 && 1+blk.wlen+(ulen-t1) <= WordMax+1 {
			break
		}
	}

	// Encode region [t0,t1).
	var b strings.Builder
	b.WriteString(u[:t0])
	col += t0
	t := t0
	var blk block
	for {
		var n int
		n, blk = e.choose(u[t:t1], col)
		if n == t1-t {
			// See if the remaining ASCII fits too.
			if col+blk.wlen+(ulen-t1) <= WordMax+1 {
				break
			}
			n = t1 - t - 1
			if !e.raw {
				for n > 0 && continuation(u[t+n]) {
					n--
				}
			}
			if n == 0 {
				// Only a single character to encode, with too much text after
				// it. Add the next word to the region.
				for t1++; t1 < ulen && !hspace(u[t1]); t1++ {
				}
				continue
			}
			n, blk = e.choose(u[t:t+n], col)
		}
		b.WriteString(e.word(u[t:t+n], blk))
		b.WriteString("\n\t")
		col = 1
		t += n
	}
	b.WriteString(e.word(u[t:t1], blk))
	b.WriteString(u[t1:])
	return b.String()
}

// decodeWord decodes the text of an encoded word. It returns false for
// invalid base64.
func decodeWord(text string, b64 bool) ([]byte, bool) {
	if b64 {
		buf, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			// Be lenient about missing padding.
			buf, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(text, "="))
			if err != nil {
				return nil, false
			}
		}
		return buf, true
	}
	var buf []byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '_' {
			buf = append(buf, ' ')
		} else if c == '=' && i+2 < len(text) && mime.HexVal(text[i+1]) >= 0 && mime.HexVal(text[i+2]) >= 0 {
			buf = append(buf, byte(mime.HexVal(text[i+1])<<4|mime.HexVal(text[i+2])))
			i += 2
		} else {
			buf = append(buf, c)
		}
	}
	return buf, true
}

// filterUnprintable replaces non-printable characters with a question mark.
func filterUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsPrint(r) || r == ' ' {
			return r
		}
		return '?'
	}, s)
}

func isLWS(s string) bool {
	return strings.Trim(s, " \t\r\n") == ""
}

// Decode returns s with encoded words decoded to UTF-8. Adjacent encoded
// words separated only by white space are joined without the white space.
// Consecutive words in the same charset are decoded together, so multibyte
// characters split over words are handled. Text outside encoded words is
// decoded with the assumed charsets when it is not UTF-8. If an encoded word
// is invalid, s is returned unchanged.
func Decode(s string, assumed []string) string {
	orig := s
	var b strings.Builder
	var prev []byte
	var prevCharset string

	finalize := func() {
		if len(prev) == 0 {
			return
		}
		cs := prevCharset
		// RFC 2231 language suffix, e.g. "utf-8*en".
		if i := strings.IndexByte(cs, '*'); i >= 0 {
			cs = cs[:i]
		}
		r, err := charset.Decode(prev, cs)
		if err != nil {
			pkglog.Debugx("decoding encoded word", err, slog.String("charset", cs))
		}
		b.WriteString(filterUnprintable(r))
		prev = nil
	}

	for len(s) > 0 {
		m := encodedWordRegexp.FindStringSubmatchIndex(s)
		if m == nil {
			finalize()
			b.WriteString(decodeHole(s, assumed))
			break
		}
		if m[0] > 0 {
			hole := s[:m[0]]
			if !isLWS(hole) {
				finalize()
				b.WriteString(decodeHole(hole, assumed))
			}
		}
		cs := s[m[2]:m[3]]
		b64 := s[m[4]] == 'b' || s[m[4]] == 'B'
		buf, ok := decodeWord(s[m[6]:m[7]], b64)
		if !ok {
			pkglog.Debug("invalid encoded word, leaving text as is")
			return orig
		}
		if len(prev) > 0 && !strings.EqualFold(prevCharset, cs) {
			finalize()
		}
		prev = append(prev, buf...)
		prevCharset = cs
		s = s[m[1]:]
	}
	finalize()
	return b.String()
}

func decodeHole(s string, assumed []string) string {
	if len(assumed) > 0 {
		return charset.DecodeNonMIME(s, assumed)
	}
	return s
}

// DecodeAddrList decodes encoded words in display names and group names.
func DecodeAddrList(l address.List, assumed []string) {
	for _, a := range l {
		if a.Personal != "" && (strings.Contains(a.Personal, "=?") || len(assumed) > 0) {
			a.Personal = Decode(a.Personal, assumed)
		} else if a.Group && strings.Contains(a.Mailbox, "=?") {
			a.Mailbox = Decode(a.Mailbox, assumed)
		}
	}
}

// EncodeAddrList encodes display names and group names that need it, for use
// in header tag. An empty tag starts at column 32.
func EncodeAddrList(l address.List, tag string, charsets []string) {
	col := 32
	if tag != "" {
		col = len(tag) + 2
	}
	for _, a := range l {
		if a.Personal != "" {
			a.Personal = Encode(a.Personal, address.Specials, col, charsets)
		} else if a.Group && a.Mailbox != "" {
			a.Mailbox = Encode(a.Mailbox, address.Specials, col, charsets)
		}
	}
}
