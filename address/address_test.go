package address

import (
	"reflect"
	"testing"
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
		t.Fatalf("got %#v, expected %#v", got, exp)
	}
}

func TestParse(t *testing.T) {
	test := func(s string, exp List) {
		t.Helper()
		l, err := ParseStrict(s)
		tcheck(t, err, "parse")
		tcompare(t, l, exp)
	}

	test("alice@example.org", List{{Mailbox: "alice@example.org"}})
	test("Alice <alice@example.org>", List{{Personal: "Alice", Mailbox: "alice@example.org"}})
	test(`"Doe, John" <john@example.org>, bob@example.org`, List{
		{Personal: "Doe, John", Mailbox: "john@example.org"},
		{Mailbox: "bob@example.org"},
	})
	test("bob@example.org (Bob Smith)", List{{Personal: "Bob Smith", Mailbox: "bob@example.org"}})
	test("Alice <alice@example.org> (work)", List{{Personal: "Alice", Mailbox: "alice@example.org"}})
	test("friends: a@x, b@y;, c@z", List{
		{Mailbox: "friends", Group: true},
		{Mailbox: "a@x"},
		{Mailbox: "b@y"},
		{},
		{Mailbox: "c@z"},
	})
	test("undisclosed-recipients:;", List{{Mailbox: "undisclosed-recipients", Group: true}, {}})
	test("<>", List{{Mailbox: "@"}})
	test("<@route.example:user@example.org>", List{{Mailbox: "@route.example:user@example.org"}})
	test("", nil)

	_, err := ParseStrict("Alice <alice@example.org")
	if err == nil {
		t.Fatalf("missing error for unterminated angle address")
	}
	if l := Parse(`"unterminated <a@x>`); l != nil {
		t.Fatalf("expected empty list for malformed input, got %v", l)
	}
}

func TestParse2(t *testing.T) {
	l := Parse2("a@x b@y")
	tcompare(t, l.Mailboxes(), []string{"a@x", "b@y"})
	l = Parse2("A <a@x>")
	tcompare(t, l, List{{Personal: "A", Mailbox: "a@x"}})
}

func TestWrite(t *testing.T) {
	l := Parse(`"Doe, John" <john@example.org>, bob@example.org, friends: a@x;`)
	tcompare(t, l.String(), `"Doe, John" <john@example.org>, bob@example.org, friends: a@x;`)
	tcompare(t, l.Write(true), `Doe, John <john@example.org>, bob@example.org, friends: a@x;`)

	tcompare(t, (&Address{Personal: `Say "hi"`, Mailbox: "x@y"}).String(), `"Say \"hi\"" <x@y>`)
	tcompare(t, (&Address{Mailbox: "@"}).String(), "<>")

	var long List
	for _, s := range []string{"aaaaaaaaaaaaaaaa@example.org", "bbbbbbbbbbbbbbbbbb@example.org", "cccccccccccccccccc@example.org"} {
		long = append(long, New("", s))
	}
	tcompare(t, long.WriteHeader("To"), "To: aaaaaaaaaaaaaaaa@example.org, bbbbbbbbbbbbbbbbbb@example.org,\n\tcccccccccccccccccc@example.org\n")
}

func TestDedupe(t *testing.T) {
	l := Parse("a@x, A@X, b@y, a@x")
	l.Dedupe()
	tcompare(t, l.Mailboxes(), []string{"a@x", "b@y"})
	l.Dedupe()
	tcompare(t, l.Mailboxes(), []string{"a@x", "b@y"})

	l = Parse("a@x, b@y, c@z")
	l.RemoveXrefs(Parse("B@Y"))
	tcompare(t, l.Mailboxes(), []string{"a@x", "c@z"})

	tcompare(t, l.Remove("A@x"), true)
	tcompare(t, l.Mailboxes(), []string{"c@z"})
}

func TestMisc(t *testing.T) {
	l := Parse("grp: a@x;, b")
	tcompare(t, l.CountRecips(), 2)
	l.Qualify("example.org")
	tcompare(t, l.Mailboxes(), []string{"a@x", "b@example.org"})
	tcompare(t, l.Copy(true).Equal(l), true)

	empty := Parse("grp:;, c@z")
	tcompare(t, empty.Copy(true).Mailboxes(), []string{"c@z"})
	tcompare(t, len(empty.Copy(true)), 2)

	tcompare(t, ValidMsgID("<a@b>"), true)
	tcompare(t, ValidMsgID("a@b"), false)
	tcompare(t, ValidMsgID("<ab>"), false)
}

func TestIDNA(t *testing.T) {
	l := List{New("", "user@bücher.example")}
	failed := l.ToIntl()
	tcompare(t, len(failed), 0)
	tcompare(t, l[0].Mailbox, "user@xn--bcher-kva.example")
	l.ToLocal()
	tcompare(t, l[0].Mailbox, "user@bücher.example")
}

func TestLists(t *testing.T) {
	var ls Lists
	tcheck(t, ls.MailLists.Add(`@lists\.example\.org$`), "add")
	tcheck(t, ls.UnMailLists.Add(`^announce@`), "add")

	tcompare(t, ls.IsMailList(New("", "dev@lists.example.org")), true)
	tcompare(t, ls.IsMailList(New("", "announce@lists.example.org")), false)
	tcompare(t, ls.IsSubscribed(New("", "dev@lists.example.org")), false)

	ls.AutoSubscribe("mailto:golang-nuts@googlegroups.com?subject=help")
	tcompare(t, ls.IsSubscribed(New("", "golang-nuts@googlegroups.com")), true)
	tcompare(t, ls.IsMailList(New("", "Golang-Nuts@googlegroups.com")), true)
	// Dots are literal.
	tcompare(t, ls.IsSubscribed(New("", "golang-nuts@googlegroupsXcom")), false)

	n := len(ls.Subscribed)
	ls.AutoSubscribe("mailto:golang-nuts@googlegroups.com?subject=help")
	tcompare(t, len(ls.Subscribed), n)

	a, sub := ls.FirstList(Parse("x@y"), Parse("dev@lists.example.org, golang-nuts@googlegroups.com"))
	tcompare(t, a.Mailbox, "golang-nuts@googlegroups.com")
	tcompare(t, sub, true)
}

func TestUser(t *testing.T) {
	u := User{Username: "mjl", Hostname: "host.example.org", From: New("", "me@example.org")}
	tcheck(t, u.Alternates.Add(`@example\.net$`), "add")
	tcheck(t, u.UnAlternates.Add(`^list@`), "add")
	tcompare(t, u.IsUser(New("", "mjl@host")), true)
	tcompare(t, u.IsUser(New("", "ME@example.org")), true)
	tcompare(t, u.IsUser(New("", "x@example.net")), true)
	tcompare(t, u.IsUser(New("", "list@example.net")), false)
	tcompare(t, u.HasUser(Parse("a@b, x@example.net")), true)
}

func TestGroups(t *testing.T) {
	g := Groups{}
	tcheck(t, g.Add("work", Parse("boss@example.org"), `@corp\.example$`), "add")
	tcompare(t, g.Match("work", "BOSS@example.org"), true)
	tcompare(t, g.Match("work", "x@corp.example"), true)
	tcompare(t, g.Match("work", "x@example.com"), false)
	tcompare(t, g.Names(), []string{"work"})
	g.Remove("*")
	tcompare(t, g.Match("work", "boss@example.org"), false)
}
