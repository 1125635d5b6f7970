package pattern

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/config"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/parse"
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

func message(from, subject string) *email.Email {
	e := email.New()
	e.Env = email.NewEnvelope()
	e.Env.From = address.List{address.New("", from)}
	e.Env.Subject = subject
	return e
}

func TestCompile(t *testing.T) {
	c := testConfig(t, nil)

	compile := func(s string, flags CompileFlags) string {
		t.Helper()
		p, err := Compile(ctxbg, c, s, Options{Flags: flags})
		tcheck(t, err, "compile "+s)
		return p.String()
	}
	tcompare(t, compile("~f alice (~s hi | ~s hello)", 0), `(~f "(?i)(?m)alice" (~s "(?i)(?m)hi" | ~s "(?i)(?m)hello"))`)
	tcompare(t, compile("~f alice AND (~s hi OR ~s hello)", 0), `(~f "(?i)(?m)alice" (~s "(?i)(?m)hi" | ~s "(?i)(?m)hello"))`)
	// Implicit and binds stronger than or.
	tcompare(t, compile("~F | ~N ~D", 0), "((~F | ~N) ~D)")
	tcompare(t, compile("~F ~N | ~D", 0), "((~F ~N) | ~D)")
	tcompare(t, compile("!~F ^~c Bob", 0), `(!~F ^~c "(?m)Bob")`)
	tcompare(t, compile("=s Hello", 0), `=s "Hello"`)
	tcompare(t, compile("%f friends", 0), `%f "friends"`)
	tcompare(t, compile(`~s 'a b'`, 0), `~s "(?i)(?m)a b"`)
	tcompare(t, compile(`~s a\ b`, 0), `~s "(?i)(?m)a b"`)
	tcompare(t, compile("~(~F)", 0), "~(~F)")
	tcompare(t, compile("!~<(~F) ~>(~N)", 0), "(!~<(~F) ~>(~N))")
	tcompare(t, compile("~b x", FullMsg), `~b "(?i)(?m)x"`)

	bad := []struct {
		s   string
		err error
	}{
		{"", ErrEmpty},
		{"   ", ErrEmpty},
		{"~", ErrSyntax},
		{"~j", ErrSyntax},
		{"~f", ErrSyntax},
		{"(~F", ErrSyntax},
		{"~(~F", ErrSyntax},
		{"| ~F", ErrSyntax},
		{"~s 'x", ErrSyntax},
		{"~s (", ErrSyntax},
		{"bogus", ErrSyntax},
		{"~b x", ErrUnsupported},
		{"~M text", ErrUnsupported},
		{"~I x", ErrSyntax},
	}
	for _, b := range bad {
		_, err := Compile(ctxbg, c, b.s, Options{})
		if !errors.Is(err, b.err) {
			t.Fatalf("compiling %q: got err %v, expected %v", b.s, err, b.err)
		}
	}
}

func TestRanges(t *testing.T) {
	c := testConfig(t, nil)

	check := func(s string, min, max int64) {
		t.Helper()
		p, err := Compile(ctxbg, c, s, Options{MsgCount: 10, Current: 4})
		tcheck(t, err, "compile "+s)
		tcompare(t, [2]int64{p.Min, p.Max}, [2]int64{min, max})
	}
	check("~n 5", 5, 5)
	check("~n 5-10", 5, 10)
	check("~n -10", 0, 10)
	check("~n 5-", 5, MaxRange)
	check("~n <5", 0, 4)
	check("~n >5", 6, MaxRange)
	check("~z 2K-1M", 2048, 1024*1024)
	check(`~X "1-2"`, 1, 2)

	check("~m 3", 3, 3)
	check("~m 3-5", 3, 5)
	check("~m 3,5", 3, 5)
	check("~m 5-3", 3, 5)
	check("~m <3", 1, 2)
	check("~m >3", 4, 10)
	check("~m ^-.", 1, 4)
	check("~m .-$", 4, 10)
	check("~m -5", 1, 5)
	check("~m 7-", 7, 10)

	_, err := Compile(ctxbg, c, "~m .", Options{})
	tcompare(t, errors.Is(err, ErrSyntax), true)
	_, err = Compile(ctxbg, c, "~n x", Options{})
	tcompare(t, errors.Is(err, ErrSyntax), true)
}

func TestDateRange(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.Local)
	day := func(y, m, d, h, min, s int) time.Time {
		return time.Date(y, time.Month(m), d, h, min, s, 0, time.Local)
	}
	epoch := day(1970, 1, 2, 0, 0, 0)
	end := day(2037, 12, 31, 23, 59, 59)

	check := func(s string, min, max time.Time) {
		t.Helper()
		gmin, gmax, err := dateRange(s, now)
		tcheck(t, err, "date range "+s)
		if !gmin.Equal(min) || !gmax.Equal(max) {
			t.Fatalf("date range %q: got %v - %v, expected %v - %v", s, gmin, gmax, min, max)
		}
	}
	check("<3d", day(2024, 3, 12, 23, 59, 59), end)
	check(">3d", epoch, day(2024, 3, 12, 23, 59, 59))
	check("=3d", day(2024, 3, 12, 0, 0, 0), day(2024, 3, 12, 23, 59, 59))
	check("<2H", day(2024, 3, 15, 10, 0, 0), end)
	check("1/3/2024", day(2024, 3, 1, 0, 0, 0), day(2024, 3, 1, 23, 59, 59))
	check("20240301", day(2024, 3, 1, 0, 0, 0), day(2024, 3, 1, 23, 59, 59))
	check("1/3/24", day(2024, 3, 1, 0, 0, 0), day(2024, 3, 1, 23, 59, 59))
	check("1/3/99", day(1999, 3, 1, 0, 0, 0), day(1999, 3, 1, 23, 59, 59))
	check("1/3", day(2024, 3, 1, 0, 0, 0), day(2024, 3, 1, 23, 59, 59))
	check("1/3/2024-", day(2024, 3, 1, 0, 0, 0), end)
	check("-20240310", epoch, day(2024, 3, 10, 23, 59, 59))
	check("20240301-20240310", day(2024, 3, 1, 0, 0, 0), day(2024, 3, 10, 23, 59, 59))
	// Reversed dates are swapped.
	check("20240310-20240301", day(2024, 3, 1, 0, 0, 0), day(2024, 3, 10, 23, 59, 59))
	check("1/3/2024*1w", day(2024, 2, 23, 0, 0, 0), day(2024, 3, 8, 23, 59, 59))
	check("1/3/2024+2d", day(2024, 3, 1, 0, 0, 0), day(2024, 3, 3, 23, 59, 59))

	for _, s := range []string{"32/1/2024", "1/13/2024", "20241301", "1/3/2024 x", "1/3/2024+2q"} {
		_, _, err := dateRange(s, now)
		if !errors.Is(err, ErrSyntax) {
			t.Fatalf("date range %q: got err %v, expected syntax error", s, err)
		}
	}
}

func TestMatch(t *testing.T) {
	c := testConfig(t, func(c *config.Static) {
		c.MailLists = []string{"^list@"}
		c.Subscribe = []string{"^sub@"}
		c.Alternates = []string{"^me@example\\.org$"}
		c.Groups = map[string][]string{"friends": {"^bob@"}}
	})
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.Local)
	matcher := &Matcher{Config: c, Now: func() time.Time { return now }}

	e1 := message("alice@example.org", "hello world")
	e1.Env.To = address.List{address.New("", "list@example.org"), address.New("", "me@example.org")}
	e1.DateSent = now.Add(-24 * time.Hour).Unix()
	e1.Score = 10
	e1.MsgNo = 1
	e1.Flagged = true
	e1.Tags = []email.Tag{{Name: "work"}}

	e2 := message("alice@example.org", "hi there")
	e2.Env.To = address.List{address.New("", "sub@example.org")}
	e2.Env.References = []string{"<1@x>"}
	e2.DateSent = now.Add(-10 * 24 * time.Hour).Unix()
	e2.MsgNo = 2
	e2.Read = true

	e3 := message("alice@example.org", "greetings")
	e3.Env.From[0].Personal = "Alice Liddell"
	e3.Env.Spam = "spam 5.0"
	e3.MsgNo = 3
	e3.Old = true

	e4 := message("Bob <bob@example.org>", "hello")
	e4.Env.From = address.List{address.New("Bob", "bob@example.org")}
	e4.Env.To = address.List{address.New("", "me@example.org")}
	e4.Env.Cc = address.List{address.New("", "other@example.org")}
	e4.MsgNo = 4
	e4.Deleted = true

	all := []*email.Email{e1, e2, e3, e4}

	match := func(s string) []int {
		t.Helper()
		p, err := Compile(ctxbg, c, s, Options{Now: now, MsgCount: len(all)})
		tcheck(t, err, "compile "+s)
		var l []int
		for _, e := range all {
			if matcher.Match(ctxbg, p, e, &Cache{}) {
				l = append(l, e.MsgNo)
			}
		}
		return l
	}

	tcompare(t, match("~f alice (~s hi | ~s hello)"), []int{1, 2})
	tcompare(t, match("~f alice AND (~s hi OR ~s hello)"), []int{1, 2})
	tcompare(t, match("~s hello"), []int{1, 4})
	tcompare(t, match("!~s hello"), []int{2, 3})
	tcompare(t, match("=s ello"), []int{1, 4})
	tcompare(t, match("=s Hello"), []int(nil))
	tcompare(t, match("%f friends"), []int{4})
	tcompare(t, match("~A"), []int{1, 2, 3, 4})
	tcompare(t, match("~F"), []int{1})
	tcompare(t, match("~R"), []int{2})
	tcompare(t, match("~U"), []int{1, 3, 4})
	tcompare(t, match("~N"), []int{1, 4})
	tcompare(t, match("~O"), []int{3})
	tcompare(t, match("~D"), []int{4})
	tcompare(t, match("~m 2-3"), []int{2, 3})
	tcompare(t, match("~n 5-"), []int{1})
	tcompare(t, match("~d <3d"), []int{1})
	tcompare(t, match("~d >3d"), []int{2})
	tcompare(t, match("~x 1@x"), []int{2})
	tcompare(t, match("~H spam"), []int{3})
	tcompare(t, match("~Y work"), []int{1})

	// Addresses and lists.
	tcompare(t, match("~t me@"), []int{1, 4})
	tcompare(t, match("~c other"), []int{4})
	tcompare(t, match("~C other"), []int{4})
	tcompare(t, match("~L bob"), []int{4})
	// An empty address list matches when all addresses must match.
	tcompare(t, match("^~C example"), []int{1, 2, 3, 4})
	tcompare(t, match("^~t me@"), []int{3, 4})
	tcompare(t, match("~l"), []int{1, 2})
	tcompare(t, match("~u"), []int{2})
	tcompare(t, match("~p"), []int{1, 4})
	tcompare(t, match("^~p"), []int{3})
	tcompare(t, match("~P"), []int(nil))
	// Display names only with FullAddress.
	tcompare(t, match("~f liddell"), []int(nil))
	matcher.FullAddress = true
	tcompare(t, match("~f liddell"), []int{3})
	matcher.FullAddress = false

	// Dynamic date ranges follow the time of matching.
	p, err := Compile(ctxbg, c, "~d <3d", Options{Flags: Dynamic, Now: now})
	tcheck(t, err, "compile")
	tcompare(t, matcher.Match(ctxbg, p, e1, nil), true)
	matcher.Now = func() time.Time { return now.Add(7 * 24 * time.Hour) }
	tcompare(t, matcher.Match(ctxbg, p, e1, nil), false)
}

func TestNegation(t *testing.T) {
	c := testConfig(t, nil)
	matcher := &Matcher{Config: c}

	nothing := email.New()
	nothing.Env = nil
	nothing.Body = nil
	e := message("alice@example.org", "hello")
	e.Read = true
	msgs := []*email.Email{nothing, e}

	patterns := []string{
		"~s hello",
		"~f alice ~R",
		"~f bob | ~R",
		"~b hello",
		"~h subject",
		"~M text",
		"~X 1",
		"~(~F)",
		"~<(~A)",
		"~k",
		"^~t x",
		"~=",
	}
	for _, s := range patterns {
		p, err := Compile(ctxbg, c, s, Options{Flags: FullMsg})
		tcheck(t, err, "compile")
		np, err := Compile(ctxbg, c, "!("+s+")", Options{Flags: FullMsg})
		tcheck(t, err, "compile negated")
		for i, e := range msgs {
			if matcher.Match(ctxbg, p, e, nil) == matcher.Match(ctxbg, np, e, nil) {
				t.Fatalf("pattern %q and its negation agree on message %d", s, i)
			}
		}
	}
}

func TestThreads(t *testing.T) {
	c := testConfig(t, nil)
	matcher := &Matcher{Config: c}

	// root - child1 - grandchild, root - child2
	root := message("a@x", "root")
	child1 := message("b@x", "child1")
	child1.Flagged = true
	child2 := message("c@x", "child2")
	grand := message("d@x", "grandchild")

	troot := &email.Thread{Message: root}
	tchild1 := &email.Thread{Message: child1, Parent: troot}
	tchild2 := &email.Thread{Message: child2, Parent: troot, Prev: tchild1}
	tchild1.Next = tchild2
	troot.Child = tchild1
	tgrand := &email.Thread{Message: grand, Parent: tchild1}
	tchild1.Child = tgrand
	root.Thread, child1.Thread, child2.Thread, grand.Thread = troot, tchild1, tchild2, tgrand
	other := message("e@x", "alone")
	other.Thread = &email.Thread{Message: other}

	all := []*email.Email{root, child1, child2, grand, other}
	match := func(s string) []string {
		t.Helper()
		p := MustCompile(c, s, 0)
		var l []string
		for _, e := range all {
			if matcher.Match(ctxbg, p, e, nil) {
				l = append(l, e.Env.Subject)
			}
		}
		return l
	}
	tcompare(t, match("~(~F)"), []string{"root", "child1", "child2", "grandchild"})
	tcompare(t, match("~<(~F)"), []string{"grandchild"})
	tcompare(t, match("~>(~F)"), []string{"root"})
	tcompare(t, match("~>(~s grand)"), []string{"child1"})
	tcompare(t, match("~$"), []string{"child2", "grandchild", "alone"})
}

const plainMsg = "From: alice@example.org\r\n" +
	"To: bob@example.org\r\n" +
	"Subject: lunch\r\n" +
	" plans\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Meet at the caf=C3=A9 at noon.\r\n"

const mixedMsg = "From: alice@example.org\r\n" +
	"Subject: report\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=x\r\n" +
	"\r\n" +
	"--x\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"See attached.\r\n" +
	"--x\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=report.pdf\r\n" +
	"\r\n" +
	"pdf\r\n" +
	"--x--\r\n"

func TestSearch(t *testing.T) {
	c := testConfig(t, nil)

	search := func(c *mua.Config, msg, s string) bool {
		t.Helper()
		r := strings.NewReader(msg)
		e, err := parse.ParseMessage(ctxbg, c, r)
		tcheck(t, err, "parse message")
		matcher := &Matcher{Config: c, In: strings.NewReader(msg)}
		return matcher.Match(ctxbg, MustCompile(c, s, FullMsg), e, nil)
	}

	tcompare(t, search(c, plainMsg, "~b noon"), true)
	tcompare(t, search(c, plainMsg, "~b café"), true)
	tcompare(t, search(c, plainMsg, "~b lunch"), false)
	tcompare(t, search(c, plainMsg, "~h noon"), false)
	// Folded header fields are joined.
	tcompare(t, search(c, plainMsg, "~h '^subject: lunch plans$'"), true)
	tcompare(t, search(c, plainMsg, "~B lunch"), true)
	tcompare(t, search(c, plainMsg, "~B noon"), true)

	// Without decoding, the raw encoded text is searched.
	raw := testConfig(t, func(c *config.Static) {
		c.NoThoroughSearch = true
	})
	tcompare(t, search(raw, plainMsg, "~b café"), false)
	tcompare(t, search(raw, plainMsg, "~b 'caf=C3'"), true)

	tcompare(t, search(c, mixedMsg, "~X 1"), true)
	tcompare(t, search(c, mixedMsg, "~X 2-"), false)
	tcompare(t, search(c, mixedMsg, "~M application/pdf"), true)
	tcompare(t, search(c, mixedMsg, "~M image/"), false)
	tcompare(t, search(c, mixedMsg, "~b attached"), true)
	tcompare(t, search(c, plainMsg, "~X 0"), true)

	// Without message contents, content terms do not match.
	e := message("alice@example.org", "x")
	matcher := &Matcher{Config: c}
	tcompare(t, matcher.Match(ctxbg, MustCompile(c, "~b x", FullMsg), e, nil), false)
}

func TestCompileCache(t *testing.T) {
	c := testConfig(t, nil)
	cc, err := NewCompileCache(c, 10)
	tcheck(t, err, "new cache")

	p1, err := cc.Compile(ctxbg, "~f alice", Options{})
	tcheck(t, err, "compile")
	p2, err := cc.Compile(ctxbg, "~f alice", Options{})
	tcheck(t, err, "compile")
	tcompare(t, p1 == p2, true)
	tcompare(t, cc.Len(), 1)

	// Not cached: message ranges and fixed date ranges.
	_, err = cc.Compile(ctxbg, "~m 1-2", Options{})
	tcheck(t, err, "compile")
	_, err = cc.Compile(ctxbg, "~f x ~d <1d", Options{})
	tcheck(t, err, "compile")
	tcompare(t, cc.Len(), 1)
	_, err = cc.Compile(ctxbg, "~d <1d", Options{Flags: Dynamic})
	tcheck(t, err, "compile")
	tcompare(t, cc.Len(), 2)

	_, err = cc.Compile(ctxbg, "~j", Options{})
	tcompare(t, errors.Is(err, ErrSyntax), true)
}
