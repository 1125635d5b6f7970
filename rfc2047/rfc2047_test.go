package rfc2047

import (
	"strings"
	"testing"

	"github.com/muacore/mua/address"
)

func tcompare[T comparable](t *testing.T, got, exp T) {
	t.Helper()
	if got != exp {
		t.Fatalf("got %v, expected %v", got, exp)
	}
}

var sendCharsets = []string{"us-ascii", "iso-8859-1", "utf-8"}

func TestDecode(t *testing.T) {
	test := func(s, exp string) {
		t.Helper()
		tcompare(t, Decode(s, nil), exp)
	}

	test("=?utf-8?B?SGVsbG8=?= =?utf-8?B?IHdvcmxk?=", "Hello world")
	test("plain text", "plain text")
	test("=?iso-8859-1?q?caf=E9?=", "café")
	test("Re: =?iso-8859-1?Q?caf=E9?= time", "Re: café time")
	test("=?utf-8?Q?a_b?=\n\t=?utf-8?Q?_c?=", "a b c")
	test("=?UTF-8*en?Q?lang?=", "lang")
	// Multibyte character split over two words.
	test("=?utf-8?B?5Lit?= =?utf-8?Q?=E6=96?= =?utf-8?Q?=87?=", "中文")
	// Different charsets are decoded separately.
	test("=?iso-8859-1?Q?=E9?= =?utf-8?Q?=C3=A9?=", "éé")
	// Invalid base64 leaves the input unchanged.
	test("x =?utf-8?B?!!!?= y", "x =?utf-8?B?!!!?= y")
	// Not an encoded word.
	test("=?utf-8?X?abc?=", "=?utf-8?X?abc?=")
	test("=?utf-8?Q?tab=09?=", "tab?")
}

func TestDecodeAssumed(t *testing.T) {
	tcompare(t, Decode("caf\xe9 =?utf-8?Q?ok?=", []string{"iso-8859-1"}), "café ok")
}

func TestEncode(t *testing.T) {
	tcompare(t, Encode("plain ascii", "", 9, sendCharsets), "plain ascii")
	tcompare(t, Encode("Grüße aus Köln", "", 9, sendCharsets), "=?iso-8859-1?Q?Gr=FC=DFe_aus_K=F6ln?=")
	tcompare(t, Encode("中文", "", 9, sendCharsets), "=?utf-8?B?5Lit5paH?=")
	// Text looking like an encoded word is encoded.
	enc := Encode("=?x?Q?y?=", "", 9, sendCharsets)
	tcompare(t, Decode(enc, nil), "=?x?Q?y?=")
	if !strings.HasPrefix(enc, "=?us-ascii?") {
		t.Fatalf("unexpected encoding %q", enc)
	}
}

func TestEncodeRoundtrip(t *testing.T) {
	for _, s := range []string{
		"Grüße aus Köln, und viele Grüße zurück an alle die sich noch an mich erinnern",
		strings.Repeat("ü", 100),
		"ascii prefix that is quite long before the " + strings.Repeat("中文档", 20) + " and a suffix",
		"Ünïcödé at start",
		"at end: ÿ",
	} {
		enc := Encode(s, "", 9, sendCharsets)
		for _, line := range strings.Split(enc, "\n\t") {
			for _, w := range strings.Fields(line) {
				if strings.HasPrefix(w, "=?") && len(w) > WordMax {
					t.Fatalf("encoded word too long: %q (%d)", w, len(w))
				}
			}
		}
		tcompare(t, Decode(enc, nil), s)
	}
}

func TestAddrList(t *testing.T) {
	l := address.Parse(`"Jörg, Müller" <joerg@example.org>, friends: a@x;`)
	EncodeAddrList(l, "To", sendCharsets)
	if !strings.HasPrefix(l[0].Personal, "=?iso-8859-1?B?") {
		t.Fatalf("unexpected encoding %q", l[0].Personal)
	}
	tcompare(t, l[1].Mailbox, "friends")

	DecodeAddrList(l, nil)
	tcompare(t, l[0].Personal, "Jörg, Müller")

	l = address.Parse("=?utf-8?Q?gr=C3=BCppe?=: b@y;")
	DecodeAddrList(l, nil)
	tcompare(t, l[0].Mailbox, "grüppe")
}
