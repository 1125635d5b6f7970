package mua

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/config"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got %v, expected %v", got, exp)
	}
}

func TestConfig(t *testing.T) {
	static := config.Default()
	static.Hostname = "mail.example.org"
	static.MailLists = []string{`^list@example\.org$`}
	static.Subscribe = []string{`^sub@example\.org$`}
	static.Spam = []config.SpamRule{{Pattern: `^X-Spam-Score: ([0-9.]+)`, Template: "%1"}}
	static.FromAddress = "Me <me@example.org>"
	c, err := New(static)
	tcheck(t, err, "new config")

	tcompare(t, c.Lists.IsMailList(&address.Address{Mailbox: "list@example.org"}), true)
	tcompare(t, c.Lists.IsMailList(&address.Address{Mailbox: "sub@example.org"}), true)
	tcompare(t, c.Lists.IsSubscribed(&address.Address{Mailbox: "sub@example.org"}), true)
	tcompare(t, c.Lists.IsSubscribed(&address.Address{Mailbox: "list@example.org"}), false)

	tag, ok := c.Spam.Match("X-Spam-Score: 5.5")
	tcompare(t, ok, true)
	tcompare(t, tag, "5.5")

	tcompare(t, c.Weeded("Received: from x"), true)
	tcompare(t, c.Weeded("Subject: hi"), false)
	tcompare(t, c.MailToAllowed("Subject"), true)
	tcompare(t, c.MailToAllowed("bcc"), false)

	from := c.From()
	tcompare(t, from.Mailbox, "me@example.org")
	tcompare(t, from.Personal, "Me")

	tcompare(t, c.ReplyRegex.FindString("Re: Aw: hi"), "Re: Aw: ")

	static.Spam = []config.SpamRule{{Pattern: `(`}}
	_, err = New(static)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("got err %v, expected ErrConfig", err)
	}
}

func TestMessageID(t *testing.T) {
	c := Default()
	c.Static.Hostname = "host.example"
	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	id := c.MessageIDGen(now)
	if !regexp.MustCompile(`^<20240304050607\.[a-z2-7]{12}@host\.example>$`).MatchString(id) {
		t.Fatalf("bad message-id %q", id)
	}
	if id == c.MessageIDGen(now) {
		t.Fatalf("message-ids not unique")
	}
}

func TestSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tcompare(t, Sleep(ctx, time.Hour), true)
	tcompare(t, Sleep(context.Background(), time.Millisecond), false)

	r := NewRand()
	s := RandBase32(r, 20)
	tcompare(t, len(s), 20)
	tcompare(t, strings.Trim(s, base32Chars), "")
	if Cid() == Cid() {
		t.Fatalf("cids not unique")
	}
}

func TestExpandMailbox(t *testing.T) {
	static := config.Default()
	static.Folder = "/mail/"
	static.Spool = "/var/mail/me"
	c, err := New(static)
	tcheck(t, err, "new config")

	tcompare(t, c.ExpandMailbox("=lists/go"), "/mail/lists/go")
	tcompare(t, c.ExpandMailbox("+sent"), "/mail/sent")
	tcompare(t, c.ExpandMailbox("!"), "/var/mail/me")
	tcompare(t, c.ExpandMailbox("/tmp/box"), "/tmp/box")
	tcompare(t, c.ExpandMailbox(""), "")

	c.Static.Spool = ""
	tcompare(t, c.ExpandMailbox("!"), "")
}
