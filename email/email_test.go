package email

import (
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/mime"
)

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got %#v, expected %#v", got, exp)
	}
}

func TestSubject(t *testing.T) {
	re := regexp.MustCompile(`(?i)^((re|aw|sv)(\[[0-9]+\])*:[ \t]*)*`)
	env := NewEnvelope()
	env.SetSubject("Re: Aw: hello", re)
	tcompare(t, env.RealSubj, "hello")
	env.SetSubject("Re: ", re)
	tcompare(t, env.RealSubj, "")
	env.SetSubject("hello", re)
	tcompare(t, env.RealSubj, "hello")
}

func TestEnvelopeMerge(t *testing.T) {
	base := &Envelope{Subject: "s", MessageID: "<a@x>"}
	extra := &Envelope{
		Subject:    "other",
		From:       address.List{{Mailbox: "a@x"}},
		References: []string{"<b@x>"},
	}
	base.Merge(extra)
	tcompare(t, base.Subject, "s")
	tcompare(t, base.From[0].Mailbox, "a@x")
	tcompare(t, base.References, []string{"<b@x>"})

	c := base.Copy()
	tcompare(t, c.CmpStrict(base), true)
	c.From[0].Mailbox = "changed@x"
	tcompare(t, base.From[0].Mailbox, "a@x")
	tcompare(t, c.CmpStrict(base), false)
}

func TestEnvelopeRFC2047(t *testing.T) {
	env := &Envelope{
		From:     address.List{{Personal: "Jörg", Mailbox: "j@x"}},
		UserHdrs: []string{"X-Note: grüße"},
	}
	env.SetSubject("Re: café", nil)
	charsets := []string{"us-ascii", "iso-8859-1", "utf-8"}
	env.EncodeRFC2047(charsets, nil)
	if env.Subject == "Re: café" || env.From[0].Personal == "Jörg" {
		t.Fatalf("not encoded: %q %q", env.Subject, env.From[0].Personal)
	}
	re := regexp.MustCompile(`(?i)^(re: )*`)
	env.DecodeRFC2047(nil, re)
	tcompare(t, env.Subject, "Re: café")
	tcompare(t, env.RealSubj, "café")
	tcompare(t, env.From[0].Personal, "Jörg")
	tcompare(t, env.UserHdrs, []string{"X-Note: grüße"})
}

func TestBody(t *testing.T) {
	b := NewBody()
	tcompare(t, b.Disposition, mime.DispAttach)
	tcompare(t, b.UseDisp, true)
	tcompare(t, b.GetCharset(), "us-ascii")
	b.Params.Set("charset", "UTF8")
	tcompare(t, b.GetCharset(), "utf-8")
	tcompare(t, b.MimeType(), "text/plain")

	o := NewBody()
	o.Params.Set("charset", "UTF8")
	tcompare(t, b.CmpStrict(o), true)
	o.Length = 10
	tcompare(t, b.CmpStrict(o), false)

	img := NewBody()
	img.Type = mime.TypeImage
	img.Subtype = "png"
	tcompare(t, img.GetCharset(), "")
}

func TestFree(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "attach")
	if err := os.WriteFile(p, []byte("x"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	root := NewBody()
	root.Type = mime.TypeMultipart
	root.Subtype = "mixed"
	a := NewBody()
	a.Filename = p
	a.Unlink = true
	root.AppendPart(a)

	msg := NewBody()
	msg.Type = mime.TypeMessage
	msg.Subtype = "rfc822"
	inner := New()
	inner.Env = NewEnvelope()
	inner.Body = NewBody()
	msg.Parts = inner.Body
	msg.Email = inner
	root.AppendPart(msg)
	tcompare(t, len(root.Children()), 2)

	var events []EventType
	inner.Observe(func(ev EventType, e *Email) {
		events = append(events, ev)
	})

	e := New()
	e.Body = root
	e.Free()
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("attachment file not removed: %v", err)
	}
	tcompare(t, events, []EventType{EventDelete})
	tcompare(t, inner.Body == nil, true)
}

func TestEmail(t *testing.T) {
	e1 := New()
	e2 := New()
	if e2.Sequence <= e1.Sequence {
		t.Fatalf("sequence not increasing")
	}
	tcompare(t, e1.IsNew(), true)
	tcompare(t, e1.SetFlag(FlagRead, true), true)
	tcompare(t, e1.SetFlag(FlagRead, true), false)
	tcompare(t, e1.Changed, true)
	e2.SetFlag(FlagTagged, true)
	tcompare(t, e2.Changed, false)

	e1.ZHours = 5
	e1.ZMinutes = 30
	e1.ZOccident = true
	_, off := (e1.Zone()).Zone()
	tcompare(t, off, -(5*3600 + 30*60))
}

func TestTags(t *testing.T) {
	var tags Tags
	changed := tags.Replace("inbox unread inbox signed", map[string]string{"inbox": "i"}, []string{"signed"})
	tcompare(t, changed, true)
	tcompare(t, tags.Get(), "inbox unread")
	tcompare(t, tags.GetWithHidden(), "inbox unread signed")
	tcompare(t, tags.GetTransformed(), "i unread")
	tcompare(t, tags.GetTransformedFor("unread"), "unread")
	tcompare(t, tags.Has("signed"), true)
	tcompare(t, tags.Replace("inbox unread signed", nil, []string{"signed"}), false)
}

func TestThread(t *testing.T) {
	root := &Thread{}
	a := &Thread{Message: New()}
	b := &Thread{Message: New()}
	a.Insert(root)
	b.Insert(root)
	tcompare(t, root.Child, b)
	tcompare(t, b.Next, a)
	tcompare(t, len(root.Messages()), 2)
	tcompare(t, a.Root(), root)
	tcompare(t, a.IsDescendant(root), true)
	b.Unlink()
	tcompare(t, root.Child, a)
	tcompare(t, a.Prev == nil, true)
	tcompare(t, b.IsDescendant(root), false)
}
