package parse

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/config"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/muaio"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got %#v, expected %#v", got, exp)
	}
}

func testConfig(t *testing.T, fn func(c *config.Static)) *mua.Config {
	t.Helper()
	static := config.Default()
	if fn != nil {
		fn(&static)
	}
	c, err := mua.New(static)
	tcheck(t, err, "config")
	return c
}

func stream(t *testing.T, s string) *muaio.Stream {
	t.Helper()
	st, err := muaio.NewStream(strings.NewReader(s))
	tcheck(t, err, "new stream")
	return st
}

func parseMsg(t *testing.T, c *mua.Config, s string) *email.Email {
	t.Helper()
	e, err := ParseMessage(ctxbg, c, strings.NewReader(s))
	tcheck(t, err, "parse message")
	return e
}

func TestReadLine(t *testing.T) {
	s := stream(t, "Subject: hello  \r\n\t  world\r\n  again\r\nTo: x\r\n\r\nbody\r\n")
	line, err := ReadLine(s)
	tcheck(t, err, "readline")
	tcompare(t, line, "Subject: hello world again")
	line, err = ReadLine(s)
	tcheck(t, err, "readline")
	tcompare(t, line, "To: x")
	line, err = ReadLine(s)
	tcheck(t, err, "readline")
	tcompare(t, line, "")
	tcompare(t, s.Offset(), int64(len("Subject: hello  \r\n\t  world\r\n  again\r\nTo: x\r\n\r\n")))

	s = stream(t, "")
	_, err = ReadLine(s)
	tcompare(t, err, io.EOF)
}

func TestReadHeader(t *testing.T) {
	c := testConfig(t, func(c *config.Static) {
		c.Spam = []config.SpamRule{{Pattern: `^X-Spam-Score: ([0-9.]+)`, Template: "%1"}, {Pattern: `^X-Spam-Flag: (yes)`, Template: "%1"}}
	})
	msg := "From alice@x Mon Jan  1 10:00:00 2001\n" +
		"From: Alice <alice@example.org>\n" +
		"To: bob@example.org,\n carol@example.org\n" +
		"Subject: Re: =?utf-8?B?SGVsbG8=?= =?utf-8?B?IHdvcmxk?=\n" +
		"Date: Tue, 2 Jan 2001 10:00:00 +0100\n" +
		"Message-ID: <m1@example.org>\n" +
		"In-Reply-To: <p@example.org>\n" +
		"References: <a@example.org> <b@ex\n ample.org>\n" +
		"Status: RO\n" +
		"X-Status: AF\n" +
		"Lines: 3\n" +
		"X-Spam-Score: 5.5\n" +
		"X-Spam-Flag: yes\n" +
		"List-Post: <http://example.org/post>, <mailto:list@example.org>\n" +
		"X-Custom: custom value\n" +
		"\n" +
		"body\n"
	s := stream(t, msg)
	e := email.New()
	env, err := ReadHeader(ctxbg, c, s, e, true, false)
	tcheck(t, err, "read header")
	e.Env = env

	tcompare(t, env.From[0].Personal, "Alice")
	tcompare(t, env.From[0].Mailbox, "alice@example.org")
	tcompare(t, len(env.To), 2)
	tcompare(t, env.Subject, "Re: Hello world")
	tcompare(t, env.RealSubj, "Hello world")
	tcompare(t, env.MessageID, "<m1@example.org>")
	tcompare(t, env.InReplyTo, []string{"<p@example.org>"})
	tcompare(t, env.References, []string{"<b@example.org>", "<a@example.org>"})
	tcompare(t, env.Spam, "5.5,yes")
	tcompare(t, env.ListPost, "mailto:list@example.org")
	tcompare(t, env.UserHdrs, []string{"X-Spam-Score: 5.5", "X-Spam-Flag: yes", "X-Custom: custom value"})
	tcompare(t, e.Read, true)
	tcompare(t, e.Old, true)
	tcompare(t, e.Replied, true)
	tcompare(t, e.Flagged, true)
	tcompare(t, e.Lines, 3)
	tcompare(t, e.DateSent, time.Date(2001, 1, 2, 9, 0, 0, 0, time.UTC).Unix())
	tcompare(t, e.ZHours, 1)
	tcompare(t, e.ZOccident, false)
	if e.Received == 0 {
		t.Fatalf("received not set from separator")
	}
	tcompare(t, e.Body.Offset, int64(strings.Index(msg, "body\n")))
	tcompare(t, e.Body.Type, mime.TypeText)
	tcompare(t, e.Body.Subtype, "plain")
	tcompare(t, e.Body.Disposition, mime.DispInline)
}

func TestReadHeaderWeed(t *testing.T) {
	c := testConfig(t, nil)
	s := stream(t, "X-Mailer: test\nX-Other: x\n\n")
	env, err := ReadHeader(ctxbg, c, s, nil, true, true)
	tcheck(t, err, "read header")
	tcompare(t, env.UserHdrs, []string{"X-Mailer: test"})
}

func TestReadHeaderNonHeader(t *testing.T) {
	// A line that is not a header ends the header, the stream is left at its start.
	c := testConfig(t, nil)
	s := stream(t, "Subject: x\nnot a header line\n")
	e := email.New()
	env, err := ReadHeader(ctxbg, c, s, e, false, false)
	tcheck(t, err, "read header")
	tcompare(t, env.Subject, "x")
	tcompare(t, e.Body.Offset, int64(len("Subject: x\n")))
}

func TestReadHeaderCancel(t *testing.T) {
	c := testConfig(t, nil)
	ctx, cancel := context.WithCancel(ctxbg)
	cancel()
	_, err := ReadHeader(ctx, c, stream(t, "Subject: x\n\n"), nil, false, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, expected context.Canceled", err)
	}
}

func TestContentType(t *testing.T) {
	c := testConfig(t, nil)
	b := email.NewBody()
	ParseContentType(c, `text/HTML; charset="charset=UTF-8"; name=page.html`, b)
	tcompare(t, b.Type, mime.TypeText)
	tcompare(t, b.Subtype, "html")
	tcompare(t, b.Params.Value("charset"), "UTF-8")
	tcompare(t, b.DFilename, "page.html")

	b = email.NewBody()
	ParseContentType(c, "text", b)
	tcompare(t, b.Subtype, "plain")
	tcompare(t, b.Params.Value("charset"), "us-ascii")

	b = email.NewBody()
	ParseContentType(c, "foo", b)
	tcompare(t, b.Type, mime.TypeApplication)
	tcompare(t, b.Subtype, "x-foo")

	b = email.NewBody()
	ParseContentType(c, "chemical/x-pdb", b)
	tcompare(t, b.Type, mime.TypeOther)
	tcompare(t, b.XType, "chemical")
	tcompare(t, b.MimeType(), "chemical/x-pdb")

	c = testConfig(t, func(c *config.Static) { c.AssumedCharset = []string{"iso-8859-1"} })
	b = email.NewBody()
	ParseContentType(c, "text/plain", b)
	tcompare(t, b.Params.Value("charset"), "iso-8859-1")
}

func TestParameters(t *testing.T) {
	c := testConfig(t, nil)
	pl := ParseParameters(c, `a=1; b="quoted \"value\""; ;c ; d=x y`, false)
	tcompare(t, pl.Value("a"), "1")
	tcompare(t, pl.Value("b"), `quoted "value"`)
	tcompare(t, pl.Value("d"), "x")

	pl = ParseParameters(c, "addr=a@x; keydata=abc def ghi", true)
	tcompare(t, pl.Value("keydata"), "abcdefghi")
}

func TestRFC2231Continuation(t *testing.T) {
	c := testConfig(t, nil)
	msg := "Content-Type: application/octet-stream\n" +
		"Content-Disposition: attachment;\n" +
		"  filename*0*=utf-8''%e4%b8%ad%e6%96%87;\n" +
		"  filename*1*=%e6%a1%a3\n" +
		"\n" +
		"data\n"
	e := parseMsg(t, c, msg)
	tcompare(t, e.Body.DFilename, "中文档")
	tcompare(t, e.Body.Disposition, mime.DispAttach)
}

func TestContentLength(t *testing.T) {
	tcompare(t, parseContentLength("100"), int64(100))
	tcompare(t, parseContentLength("-5"), int64(-1))
	tcompare(t, parseContentLength("x"), int64(-1))
	tcompare(t, parseContentLength("99999999999"), int64(1<<30))
}

const multipartMsg = "From: a@x\n" +
	"MIME-Version: 1.0\n" +
	"Content-Type: multipart/mixed; boundary=\"XX\"\n" +
	"\n" +
	"preamble\n" +
	"--XX\n" +
	"Content-Type: text/plain; charset=utf-8\n" +
	"\n" +
	"hello\n" +
	"--XX\n" +
	"Content-Type: message/rfc822\n" +
	"Content-Description: =?utf-8?Q?inner_m=C3=A9ssage?=\n" +
	"\n" +
	"Subject: inner\n" +
	"Content-Type: text/plain\n" +
	"\n" +
	"inner body\n" +
	"--XX--\n" +
	"epilogue\n"

func TestMultipart(t *testing.T) {
	c := testConfig(t, nil)
	e := parseMsg(t, c, multipartMsg)
	tcompare(t, e.MIME, true)
	b := e.Body
	tcompare(t, b.Type, mime.TypeMultipart)
	parts := b.Children()
	tcompare(t, len(parts), 2)

	p0 := parts[0]
	tcompare(t, p0.Params.Value("charset"), "utf-8")
	tcompare(t, multipartMsg[p0.Offset:p0.Offset+p0.Length], "hello")
	if !(p0.HdrOffset <= p0.Offset) {
		t.Fatalf("bad offsets %d %d", p0.HdrOffset, p0.Offset)
	}

	p1 := parts[1]
	tcompare(t, p1.Description, "inner méssage")
	tcompare(t, p1.Email != nil, true)
	tcompare(t, p1.Email.Env.Subject, "inner")
	inner := p1.Parts
	tcompare(t, inner == p1.Email.Body, true)
	tcompare(t, multipartMsg[inner.Offset:inner.Offset+inner.Length], "inner body")
}

func TestMultipartNoFinal(t *testing.T) {
	c := testConfig(t, nil)
	msg := "Content-Type: multipart/mixed; boundary=b\n\n--b\n\none\n--b\n\ntwo\n"
	e := parseMsg(t, c, msg)
	parts := e.Body.Children()
	tcompare(t, len(parts), 2)
	last := parts[1]
	tcompare(t, last.Length, e.Body.Offset+e.Body.Length-last.Offset)
}

func TestMultipartNoBoundary(t *testing.T) {
	c := testConfig(t, nil)
	e := parseMsg(t, c, "Content-Type: multipart/mixed\n\n--b\n\none\n")
	tcompare(t, e.Body.Type, mime.TypeText)
	tcompare(t, e.Body.Subtype, "plain")
	tcompare(t, e.Body.Parts == nil, true)
}

func TestMultipartCRLF(t *testing.T) {
	c := testConfig(t, nil)
	msg := "Content-Type: multipart/alternative; boundary=b\r\n\r\n--b\r\nContent-Type: text/plain\r\n\r\none\r\n--b--\r\n"
	e := parseMsg(t, c, msg)
	p := e.Body.Parts
	tcompare(t, msg[p.Offset:p.Offset+p.Length], "one")
}

func TestDigest(t *testing.T) {
	c := testConfig(t, nil)
	msg := "Content-Type: multipart/digest; boundary=d\n\n--d\n\nSubject: one\n\nbody one\n--d--\n"
	e := parseMsg(t, c, msg)
	p := e.Body.Parts
	tcompare(t, p.Type, mime.TypeMessage)
	tcompare(t, p.Subtype, "rfc822")
	tcompare(t, p.Email.Env.Subject, "one")
}

func TestDepthLimit(t *testing.T) {
	c := testConfig(t, nil)
	var b strings.Builder
	b.WriteString("Content-Type: message/rfc822\n\n")
	for i := 0; i < MaxDepth+10; i++ {
		b.WriteString("Content-Type: message/rfc822\n\n")
	}
	b.WriteString("body\n")
	e := parseMsg(t, c, b.String())
	depth := 0
	for p := e.Body; p != nil; p = p.Parts {
		depth++
	}
	if depth > MaxDepth+1 {
		t.Fatalf("nesting depth %d beyond limit", depth)
	}
}

func TestMimeHeaders(t *testing.T) {
	c := testConfig(t, nil)
	s := stream(t, "Content-Type: text/plain\nSubject: protected\nContent-ID: <cid@x>\n\nbody")
	b, err := ReadMimeHeader(c, s, false)
	tcheck(t, err, "read mime header")
	tcompare(t, b.MimeHeaders.Subject, "protected")
	tcompare(t, b.ContentID, "cid@x")
	tcompare(t, b.Offset, int64(len("Content-Type: text/plain\nSubject: protected\nContent-ID: <cid@x>\n\n")))
}

func TestMessageID(t *testing.T) {
	id, n := ExtractMessageID("  <a@b> <c@d>")
	tcompare(t, id, "<a@b>")
	tcompare(t, n, 7)
	id, _ = ExtractMessageID("no id")
	tcompare(t, id, "")
	id, _ = ExtractMessageID("<x <y@z>")
	tcompare(t, id, "<y@z>")

	tcompare(t, ParseReferences("<1@x> <2@x>\t<3@x>"), []string{"<3@x>", "<2@x>", "<1@x>"})
}

func TestMailto(t *testing.T) {
	c := testConfig(t, nil)
	env := email.NewEnvelope()
	body, ok := ParseMailto(c, env, "mailto:list@example.org?subject=hello%20there&cc=x@example.org&bcc=secret@example.org&body=text%0Aline")
	tcompare(t, ok, true)
	tcompare(t, body, "text\nline")
	tcompare(t, env.To[0].Mailbox, "list@example.org")
	tcompare(t, env.Subject, "hello there")
	tcompare(t, env.Cc[0].Mailbox, "x@example.org")
	tcompare(t, len(env.Bcc), 0)

	_, ok = ParseMailto(c, email.NewEnvelope(), "mailto://host/x")
	tcompare(t, ok, false)
	_, ok = ParseMailto(c, email.NewEnvelope(), "http:x")
	tcompare(t, ok, false)
}

func TestAutoSubscribe(t *testing.T) {
	c := testConfig(t, func(c *config.Static) { c.AutoSubscribe = true })
	_, err := ReadHeader(ctxbg, c, stream(t, "List-Post: <mailto:dev@lists.example.org>\n\n"), nil, false, false)
	tcheck(t, err, "read header")
	tcompare(t, c.Lists.IsSubscribed(&address.Address{Mailbox: "dev@lists.example.org"}), true)
}

func TestAutocrypt(t *testing.T) {
	c := testConfig(t, nil)
	env, err := ReadHeader(ctxbg, c, stream(t, "Autocrypt: addr=a@x; prefer-encrypt=mutual; keydata=AAA\n BBB\nAutocrypt: addr=a@x; crit=1; keydata=x\n\n"), nil, false, false)
	tcheck(t, err, "read header")
	tcompare(t, env.Autocrypt, []email.Autocrypt{
		{Addr: "a@x", PreferEncrypt: true, Keydata: "AAABBB"},
		{Invalid: true, Addr: "a@x"},
	})
}

func TestDate(t *testing.T) {
	tm, tz, ok := ParseDate("Mon, 2 Jan 2006 15:04:05 -0700")
	tcompare(t, ok, true)
	tcompare(t, tm, time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC).Unix())
	tcompare(t, tz, TZ{7, 0, true})

	tm, tz, ok = ParseDate("2 Jan 06 15:04 PST")
	tcompare(t, ok, true)
	tcompare(t, tm, time.Date(2006, 1, 2, 23, 4, 0, 0, time.UTC).Unix())
	tcompare(t, tz, TZ{8, 0, true})

	_, _, ok = ParseDate("Mon, 32 Jan 2006 15:04:05")
	tcompare(t, ok, false)
	_, _, ok = ParseDate("garbage")
	tcompare(t, ok, false)

	tcompare(t, FormatDate(time.Date(2006, 1, 2, 15, 4, 5, 0, time.FixedZone("", -7*3600))), "Mon, 2 Jan 2006 15:04:05 -0700")
}

func TestIsFrom(t *testing.T) {
	rp, tm, ok := IsFrom("From alice@x Mon Jan  1 10:00:00 2001\n")
	tcompare(t, ok, true)
	tcompare(t, rp, "alice@x")
	tcompare(t, tm, time.Date(2001, 1, 1, 10, 0, 0, 0, time.Local).Unix())

	rp, _, ok = IsFrom("From \"a b\"@x Tue Feb 2 01:02 PST 1999")
	tcompare(t, ok, true)
	tcompare(t, rp, "\"a b\"@x")

	_, _, ok = IsFrom("From Mon Jan  1 10:00:00 2001")
	tcompare(t, ok, true)

	_, _, ok = IsFrom("From the desk of someone")
	tcompare(t, ok, false)
	_, _, ok = IsFrom(">From alice@x Mon Jan  1 10:00:00 2001")
	tcompare(t, ok, false)

	tcompare(t, FromLine("a@x", time.Date(2001, 1, 1, 10, 0, 0, 0, time.UTC)), "From a@x Mon Jan  1 10:00:00 2001\n")
}
