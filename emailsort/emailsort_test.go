package emailsort

import (
	"errors"
	"reflect"
	"testing"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/config"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mua-"
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

func testMailbox(t *testing.T) (*mua.Config, *mailbox.Mailbox) {
	t.Helper()
	c, err := mua.New(config.Default())
	tcheck(t, err, "config")
	m := mailbox.New("test", mailbox.TypeMbox)

	add := func(id, from, subject string, date int64, score int, spam string, refs ...string) {
		e := email.New()
		e.Env = email.NewEnvelope()
		e.Env.MessageID = id
		e.Env.From = address.List{address.New("", from)}
		e.Env.SetSubject(subject, c.ReplyRegex)
		e.Env.References = refs
		e.Env.Spam = spam
		e.DateSent = date
		e.Score = score
		m.Add(e)
	}
	add("<1@x>", "carol@x", "beta", 30, 5, "")
	add("<2@x>", "alice@x", "Re: alpha", 20, 10, "2.5", "<3@x>")
	add("<3@x>", "Bob@x", "alpha", 10, 5, "10")
	add("<4@x>", "alice@x", "gamma", 20, 0, "")
	m.UpdateView(nil)
	return c, m
}

func visible(m *mailbox.Mailbox) []string {
	var l []string
	for i := 0; i < m.VCount(); i++ {
		l = append(l, m.Visible(i).Env.MessageID)
	}
	return l
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("reverse-date-received")
	tcheck(t, err, "parse")
	tcompare(t, o, Order{KeyReceived, true})
	tcompare(t, o.String(), "reverse-date-received")

	o, err = ParseOrder("mailbox-order")
	tcheck(t, err, "parse")
	tcompare(t, o, Order{Key: KeyUnsorted})

	_, err = ParseOrder("bogus")
	tcompare(t, errors.Is(err, ErrOrder), true)
}

func TestSort(t *testing.T) {
	c, m := testMailbox(t)

	sort := func(primary, aux string) []string {
		t.Helper()
		p, err := ParseOrder(primary)
		tcheck(t, err, "parse primary")
		a, err := ParseOrder(aux)
		tcheck(t, err, "parse aux")
		Sort(c, m, p, a)
		return visible(m)
	}

	// Equal dates fall back to mailbox order.
	tcompare(t, sort("date", "unsorted"), []string{"<3@x>", "<2@x>", "<4@x>", "<1@x>"})
	// Idempotent.
	tcompare(t, sort("date", "unsorted"), []string{"<3@x>", "<2@x>", "<4@x>", "<1@x>"})
	tcompare(t, sort("reverse-date", "unsorted"), []string{"<1@x>", "<2@x>", "<4@x>", "<3@x>"})
	// Highest score first, ties by date.
	tcompare(t, sort("score", "date"), []string{"<2@x>", "<3@x>", "<1@x>", "<4@x>"})
	// Case insensitive names.
	tcompare(t, sort("from", "reverse-date"), []string{"<2@x>", "<4@x>", "<3@x>", "<1@x>"})
	// Reply prefixes are ignored.
	tcompare(t, sort("subject", "date"), []string{"<3@x>", "<2@x>", "<1@x>", "<4@x>"})
	// Tagged messages first, numerically.
	tcompare(t, sort("spam", "unsorted"), []string{"<2@x>", "<3@x>", "<1@x>", "<4@x>"})
	tcompare(t, sort("unsorted", "date"), []string{"<1@x>", "<2@x>", "<3@x>", "<4@x>"})

	// Threads: roots by date, the reply below its parent.
	tree := Sort(c, m, Order{Key: KeyThreads}, Order{Key: KeyDate})
	tcompare(t, tree != nil, true)
	tcompare(t, visible(m), []string{"<3@x>", "<2@x>", "<4@x>", "<1@x>"})

	// Hidden messages are not in the view.
	m.Emails[0].Visible = false
	sort("date", "unsorted")
	tcompare(t, m.VCount(), 3)
	tcompare(t, m.Emails[0].VNum, -1)
}

func TestOrders(t *testing.T) {
	c, _ := testMailbox(t)
	c.Static.Sort = "reverse-score"
	c.Static.SortAux = "threads"
	_, _, err := Orders(c)
	tcompare(t, errors.Is(err, ErrOrder), true)

	c.Static.SortAux = "subject"
	p, a, err := Orders(c)
	tcheck(t, err, "orders")
	tcompare(t, p, Order{KeyScore, true})
	tcompare(t, a, Order{Key: KeySubject})
}
