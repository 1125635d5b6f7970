package rfc2231

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/muacore/mua/mime"
)

func tdiff(t *testing.T, got, exp any) {
	t.Helper()
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("mismatch (-exp +got):\n%s", diff)
	}
}

var sendCharsets = []string{"us-ascii", "iso-8859-1", "utf-8"}

func TestDecode(t *testing.T) {
	// Continuation with percent-encoded UTF-8.
	pl := mime.ParamList{
		{"filename*0*", "utf-8''%e4%b8%ad%e6%96%87"},
		{"filename*1*", "%e6%a1%a3"},
	}
	tdiff(t, Decode(pl, DecodeOpts{}), mime.ParamList{{"filename", "中文档"}})

	// Single encoded value.
	pl = mime.ParamList{{"Title*", "iso-8859-1'en'caf%E9%20time"}, {"charset", "us-ascii"}}
	tdiff(t, Decode(pl, DecodeOpts{}), mime.ParamList{{"title", "café time"}, {"charset", "us-ascii"}})

	// Unencoded continuation, out of order, with a mixed encoded piece.
	pl = mime.ParamList{
		{"name*1", "world"},
		{"x", "y"},
		{"name*0", "hello "},
		{"url*0*", "us-ascii''a%20b"},
		{"url*1", "%20c"},
	}
	tdiff(t, Decode(pl, DecodeOpts{}), mime.ParamList{
		{"name", "hello world"},
		{"url", "a b%20c"},
		{"x", "y"},
	})

	// Huge index does not overflow.
	pl = mime.ParamList{{"a*99999999999999999999", "z"}, {"a*0", "y"}}
	tdiff(t, Decode(pl, DecodeOpts{}), mime.ParamList{{"a", "yz"}})

	// Empty attribute is dropped.
	pl = mime.ParamList{{"*0", "junk"}, {"b", "c"}}
	tdiff(t, Decode(pl, DecodeOpts{}), mime.ParamList{{"b", "c"}})

	// RFC 2047 in parameters, only when enabled.
	pl = mime.ParamList{{"name", "=?utf-8?Q?caf=C3=A9?="}}
	tdiff(t, Decode(pl, DecodeOpts{}), pl)
	tdiff(t, Decode(pl, DecodeOpts{RFC2047: true}), mime.ParamList{{"name", "café"}})

	// Assumed charset for raw 8-bit values.
	pl = mime.ParamList{{"name", "caf\xe9"}}
	tdiff(t, Decode(pl, DecodeOpts{Assumed: []string{"iso-8859-1"}}), mime.ParamList{{"name", "café"}})
}

func TestEncode(t *testing.T) {
	tdiff(t, Encode("filename", "report.pdf", sendCharsets), mime.ParamList{{"filename", "report.pdf"}})
	tdiff(t, Encode("filename", "café.txt", sendCharsets), mime.ParamList{{"filename*", "iso-8859-1''caf%E9%2Etxt"}})

	long := strings.Repeat("abcdefghij", 12)
	l := Encode("filename", long, sendCharsets)
	if len(l) < 2 {
		t.Fatalf("expected continuations, got %v", l)
	}
	tdiff(t, l[0].Attribute, "filename*0")
	tdiff(t, l[1].Attribute, "filename*1")
	for _, p := range l {
		if n := 1 + len(p.Attribute) + 1 + len(p.Value) + 1; n > MaxLine {
			t.Fatalf("line too long for %v: %d", p, n)
		}
	}
}

func TestRoundtrip(t *testing.T) {
	for _, v := range []string{
		"simple",
		"with space; and specials",
		"中文档.pdf",
		strings.Repeat("ü", 300),
		strings.Repeat("long name ", 50) + "€",
		strings.Repeat("x", 16*1024),
	} {
		got := Decode(Encode("FileName", v, sendCharsets), DecodeOpts{})
		tdiff(t, got, mime.ParamList{{"filename", v}})
	}
}
