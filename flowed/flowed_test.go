package flowed

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mua-"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp string) {
	t.Helper()
	if got != exp {
		t.Fatalf("got %q, expected %q", got, exp)
	}
}

func TestDecode(t *testing.T) {
	test := func(in string, params mime.ParamList, o Options, exp string) {
		t.Helper()
		var b bytes.Buffer
		err := Decode(ctxbg, strings.NewReader(in), &b, params, o)
		tcheck(t, err, "decode")
		tcompare(t, b.String(), exp)
	}

	display := Options{Width: 20, Display: true}
	test(">>hello \n>>world \n", nil, display, ">> hello world\n")
	test("aaaa bbbb cccc dddd eeee \nffff\n", nil, display, "aaaa bbbb cccc dddd\neeee ffff\n")

	spaced := Options{Width: 80, Display: true, SpaceQuotes: true}
	test(">>hello \n>>world\n", nil, spaced, "> > hello world\n")

	// DelSp joins words, the signature separator stays a fixed line.
	delsp := mime.ParamList{{Attribute: "delsp", Value: "yes"}}
	test("abc \ndef\n-- \nsig\n", delsp, display, "abcdef\n-- \nsig\n")

	// Space-stuffing of the sender is removed.
	test(" From me \nthere\n", nil, display, "From me there\n")

	// CRLF input.
	test("one \r\ntwo\r\n", nil, display, "one two\n")

	// Quote level changes end a paragraph.
	test(">a \nb\n", nil, display, "> a\nb\n")

	reply := Options{Replying: true, TextFlowed: true, Prefix: "> "}
	test("hello \nworld\n", nil, reply, ">hello world\n")
}

func TestDecodeCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(ctxbg)
	cancel()
	var b bytes.Buffer
	err := Decode(ctx, strings.NewReader("a \nb\n"), &b, nil, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got err %v, expected context.Canceled", err)
	}
}

func TestOptions(t *testing.T) {
	c := mua.Default()
	o := NewOptions(c, 100, false)
	if !o.Display || o.Replying || !o.SpaceQuotes || o.Prefix != "" || o.ReflowWrap != 78 {
		t.Fatalf("display options %#v", o)
	}
	o = NewOptions(c, 100, true)
	if o.Display || !o.Replying || o.Prefix != "> " {
		t.Fatalf("reply options %#v", o)
	}

	if WrapCols(80, 0) != 80 || WrapCols(80, 72) != 72 || WrapCols(60, 72) != 60 || WrapCols(80, -10) != 70 || WrapCols(5, -10) != 5 {
		t.Fatalf("wrapcols")
	}
}

func TestStuff(t *testing.T) {
	const text = "From x\n hi\nplain\nFromage\n"
	var stuffed, unstuffed bytes.Buffer
	err := Stuff(strings.NewReader(text), &stuffed)
	tcheck(t, err, "stuff")
	tcompare(t, stuffed.String(), " From x\n  hi\nplain\nFromage\n")
	err = Unstuff(&stuffed, &unstuffed)
	tcheck(t, err, "unstuff")
	tcompare(t, unstuffed.String(), text)
}

func TestStuffEmail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "body.txt")
	err := os.WriteFile(path, []byte("From me\nhello"), 0600)
	tcheck(t, err, "write")
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	err = os.Chtimes(path, mtime, mtime)
	tcheck(t, err, "chtimes")

	e := email.New()
	e.Body = email.NewBody()
	e.Body.Filename = path

	// Not flowed, untouched.
	err = StuffEmail(e)
	tcheck(t, err, "stuff")
	buf, _ := os.ReadFile(path)
	tcompare(t, string(buf), "From me\nhello")

	e.Body.Params.Set("format", "flowed")
	err = StuffEmail(e)
	tcheck(t, err, "stuff")
	buf, _ = os.ReadFile(path)
	tcompare(t, string(buf), " From me\nhello\n")
	fi, err := os.Stat(path)
	tcheck(t, err, "stat")
	if !fi.ModTime().Equal(mtime) {
		t.Fatalf("mtime changed to %v", fi.ModTime())
	}

	err = UnstuffEmail(e)
	tcheck(t, err, "unstuff")
	buf, _ = os.ReadFile(path)
	tcompare(t, string(buf), "From me\nhello\n")

	err = StuffAttachment(nil, path)
	tcheck(t, err, "stuff attachment")
	err = UnstuffAttachment(e.Body, path)
	tcheck(t, err, "unstuff attachment")
	buf, _ = os.ReadFile(path)
	tcompare(t, string(buf), "From me\nhello\n")
}
