package thread

import (
	"reflect"
	"testing"

	"github.com/muacore/mua/config"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mua-"
)

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
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return c
}

func mkemail(c *mua.Config, id, subject string, date int64, refs ...string) *email.Email {
	e := email.New()
	e.Env = email.NewEnvelope()
	e.Env.MessageID = id
	e.Env.SetSubject(subject, c.ReplyRegex)
	e.Env.References = refs
	e.DateSent = date
	return e
}

func ids(l []*email.Email) []string {
	var r []string
	for _, e := range l {
		r = append(r, e.Env.MessageID)
	}
	return r
}

func TestBuild(t *testing.T) {
	c := testConfig(t, nil)

	a := mkemail(c, "<a@x>", "hello", 1)
	b := mkemail(c, "<b@x>", "Re: hello", 2, "<a@x>")
	// Parent of d is missing.
	d := mkemail(c, "<d@x>", "Re: other", 4, "<missing@x>", "<a@x>")
	e := mkemail(c, "<e@x>", "Re: hello", 3, "<b@x>", "<a@x>")
	// Reply without references, found by subject.
	f := mkemail(c, "<f@x>", "Re: lone", 6)
	g := mkemail(c, "<g@x>", "lone", 5)
	// Duplicate message-id.
	h := mkemail(c, "<a@x>", "hello", 7)

	tree := Build(c, []*email.Email{a, b, d, e, f, g, h})
	tcompare(t, len(tree.Roots), 2)
	tcompare(t, ids(tree.Messages()), []string{"<a@x>", "<a@x>", "<b@x>", "<e@x>", "<d@x>", "<g@x>", "<f@x>"})

	tcompare(t, Parent(b), a)
	tcompare(t, Parent(e), b)
	tcompare(t, Parent(d), a)
	tcompare(t, d.Thread.Parent.Message == nil, true)
	tcompare(t, tree.ByMessageID("<missing@x>") == d.Thread.Parent, true)
	tcompare(t, ids(Children(a)), []string{"<a@x>", "<b@x>", "<d@x>"})
	tcompare(t, h.Thread.DuplicateThread, true)
	tcompare(t, f.Thread.FakeThread, true)
	tcompare(t, Parent(f), g)
	tcompare(t, Depth(e.Thread), 2)
	tcompare(t, len(Thread(e)), 5)

	// Sorting siblings by date, newest first.
	tree.Sort(func(x, y *email.Email) int {
		return int(y.DateSent - x.DateSent)
	})
	tcompare(t, ids(tree.Messages()), []string{"<g@x>", "<f@x>", "<a@x>", "<a@x>", "<d@x>", "<b@x>", "<e@x>"})
}

func TestStrict(t *testing.T) {
	c := testConfig(t, func(c *config.Static) {
		c.StrictThreads = true
		c.NoDuplicateThreads = true
	})
	g := mkemail(c, "<g@x>", "lone", 1)
	f := mkemail(c, "<f@x>", "Re: lone", 2)
	h := mkemail(c, "<g@x>", "lone", 3)
	tree := Build(c, []*email.Email{g, f, h})
	tcompare(t, len(tree.Roots), 3)
	tcompare(t, f.Thread.FakeThread, false)
	tcompare(t, h.Thread.DuplicateThread, false)

	// In-Reply-To is preferred over References.
	r := mkemail(c, "<r@x>", "Re: lone", 4, "<f@x>")
	r.Env.InReplyTo = []string{"<g@x>"}
	tree = Build(c, []*email.Email{g, f, r})
	tcompare(t, Parent(r), g)
	tcompare(t, Parent(g), (*email.Email)(nil))
}
