// Package rfc2231 decodes and encodes MIME parameter values with charset
// information and continuations, as specified in RFC 2231.
//
// A value can be split over several parameters ("name*0", "name*1", ...), and
// pieces marked with a trailing "*" are percent-encoded, with the first piece
// carrying a "charset'language'" prefix.
package rfc2231

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/muacore/mua/charset"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/rfc2047"
)

var pkglog = mlog.New("rfc2231", nil)

// DecodeOpts configures decoding of values that are not RFC 2231 encoded.
type DecodeOpts struct {
	// Decode RFC 2047 encoded words in plain values. Forbidden by RFC 2047,
	// but sent by some software.
	RFC2047 bool

	// Charsets for plain values that are not UTF-8.
	Assumed []string
}

type piece struct {
	attr    string
	value   string
	index   int
	encoded bool
}

// splitCharset splits "charset'language'value" and returns the charset and
// value.
func splitCharset(s string) (string, string) {
	cs, rest, ok := strings.Cut(s, "'")
	if !ok {
		return "", s
	}
	if _, v, ok := strings.Cut(rest, "'"); ok {
		return cs, v
	}
	return cs, rest
}

// percentDecode decodes %XX sequences. Invalid sequences are kept.
func percentDecode(s string) []byte {
	var buf []byte
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && mime.HexVal(s[i+1]) >= 0 && mime.HexVal(s[i+2]) >= 0 {
			buf = append(buf, byte(mime.HexVal(s[i+1])<<4|mime.HexVal(s[i+2])))
			i += 2
			continue
		}
		buf = append(buf, s[i])
	}
	return buf
}

// convert decodes buf from cs to UTF-8 in NFC, replacing unprintable
// characters.
func convert(buf []byte, cs string) string {
	if cs == "" {
		cs = "us-ascii"
		if utf8.Valid(buf) {
			cs = "utf-8"
		}
	}
	s, err := charset.Decode(buf, cs)
	if err != nil {
		pkglog.Debugx("converting parameter value", err, slog.String("charset", cs))
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == ' ' {
			return r
		}
		return '?'
	}, s)
	return norm.NFC.String(s)
}

// Decode returns the parameters with RFC 2231 encoding and continuations
// resolved. Attribute names are lower cased. Joined continuations are placed
// before the other parameters. Parameters with an empty attribute are
// dropped.
func Decode(pl mime.ParamList, opts DecodeOpts) mime.ParamList {
	var out mime.ParamList
	var pieces []piece

	for _, p := range pl {
		attr := strings.ToLower(p.Attribute)
		name, rest, star := strings.Cut(attr, "*")
		switch {
		case !star:
			v := p.Value
			if opts.RFC2047 && strings.Contains(v, "=?") {
				v = rfc2047.Decode(v, opts.Assumed)
			} else if len(opts.Assumed) > 0 {
				v = charset.DecodeNonMIME(v, opts.Assumed)
			}
			out = append(out, mime.Param{Attribute: attr, Value: v})
		case rest == "":
			// name*=charset'lang'value
			cs, v := splitCharset(p.Value)
			out = append(out, mime.Param{Attribute: name, Value: convert(percentDecode(v), cs)})
		default:
			// name*N=value or name*N*=value
			digits := strings.TrimRight(rest, "*")
			encoded := strings.HasSuffix(rest, "*")
			index, err := strconv.Atoi(digits)
			if err != nil {
				index = math.MaxInt32
			}
			pieces = append(pieces, piece{name, p.Value, index, encoded})
		}
	}

	sort.SliceStable(pieces, func(i, j int) bool {
		if pieces[i].attr != pieces[j].attr {
			return pieces[i].attr < pieces[j].attr
		}
		return pieces[i].index < pieces[j].index
	})

	var joined mime.ParamList
	for i := 0; i < len(pieces); {
		start := i
		first := pieces[i]
		var cs string
		var buf []byte
		for ; i < len(pieces) && pieces[i].attr == first.attr; i++ {
			p := pieces[i]
			v := p.value
			if i == start && first.encoded {
				cs, v = splitCharset(v)
			}
			if first.encoded && p.encoded {
				buf = append(buf, percentDecode(v)...)
			} else {
				buf = append(buf, v...)
			}
		}
		var value string
		if first.encoded {
			value = convert(buf, cs)
		} else {
			value = string(buf)
		}
		joined = append(joined, mime.Param{Attribute: first.attr, Value: value})
	}

	result := append(joined, out...)
	clean := result[:0]
	for _, p := range result {
		if p.Attribute != "" {
			clean = append(clean, p)
		}
	}
	return clean
}

func needsPercent(c byte) bool {
	return c < 0x20 || c >= 0x7f || strings.IndexByte(mime.Specials, c) >= 0 || strings.IndexByte("*'%", c) >= 0
}

// MaxLine is the line length that encoded parameters are sized for.
const MaxLine = 78

// Encode returns the parameters for attribute with value. If value has
// control or non-ASCII characters, it is converted to the first of charsets
// that can represent it and percent-encoded. Long values are split into
// numbered continuations that fit on a line of MaxLine characters.
func Encode(attribute, value string, charsets []string) mime.ParamList {
	if value == "" {
		return mime.ParamList{{Attribute: attribute, Value: ""}}
	}

	encode := false
	for i := 0; i < len(value); i++ {
		if value[i] < 0x20 || value[i] >= 0x7f {
			encode = true
			break
		}
	}

	src := []byte(value)
	var cs string
	if encode {
		var buf []byte
		var ok bool
		cs, buf, ok = charset.Choose(value, charsets)
		if ok {
			src = buf
		} else if utf8.ValidString(value) {
			cs = "utf-8"
		} else {
			cs = "unknown-8bit"
		}
	}

	// Size of the value when written.
	destLen := 0
	addQuotes := false
	if encode {
		destLen = len(cs) + 2
	}
	for _, c := range src {
		destLen++
		if encode {
			if needsPercent(c) {
				destLen += 2
			}
		} else {
			if strings.IndexByte(mime.Specials, c) >= 0 {
				addQuotes = true
			}
			if c == '\\' || c == '"' {
				destLen++
			}
		}
	}

	maxLen := MaxLine - 1 - len(attribute) - 1 - 1
	if encode {
		maxLen--
	}
	if addQuotes {
		maxLen -= 2
	}
	maxLen = max(maxLen, 30)
	split := destLen > maxLen
	if split {
		// Room for "*N".
		maxLen -= 4
	}

	var l mime.ParamList
	var cur strings.Builder
	curLen := 0
	if encode {
		cur.WriteString(cs + "''")
		curLen = cur.Len()
	}
	n := 0
	for i := 0; i < len(src); {
		attr := attribute
		if split {
			attr += fmt.Sprintf("*%d", n)
			n++
		}
		if encode {
			attr += "*"
		}
		for ; i < len(src) && (!split || curLen < maxLen); i++ {
			c := src[i]
			if encode {
				if needsPercent(c) {
					fmt.Fprintf(&cur, "%%%02X", c)
					curLen += 3
				} else {
					cur.WriteByte(c)
					curLen++
				}
			} else {
				cur.WriteByte(c)
				curLen++
				if c == '\\' || c == '"' {
					curLen++
				}
			}
		}
		l = append(l, mime.Param{Attribute: attr, Value: cur.String()})
		cur.Reset()
		curLen = 0
	}
	return l
}
