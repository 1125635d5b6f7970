package score

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/config"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/pattern"
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

func TestLoad(t *testing.T) {
	c := testConfig(t, func(c *config.Static) {
		c.Scores = []string{"~f boss@ 50", "~s 'weekly report' -10", "~A =1"}
	})
	s, err := Load(ctxbg, c)
	tcheck(t, err, "load")
	tcompare(t, s.NeedRescore(), true)
	rules := s.Rules()
	tcompare(t, len(rules), 3)
	tcompare(t, rules[1].Pattern, "~s 'weekly report'")
	tcompare(t, rules[1].Value, -10)
	tcompare(t, rules[2].Exact, true)
	tcompare(t, rules[2].String(), "~A =1")

	for _, bad := range []string{"~f boss@", "~f boss@ x", "~j 1"} {
		c.Static.Scores = []string{bad}
		_, err := Load(ctxbg, c)
		if err == nil {
			t.Fatalf("loading %q: expected error", bad)
		}
	}
	c.Static.Scores = []string{"~f boss@ x"}
	_, err = Load(ctxbg, c)
	tcompare(t, errors.Is(err, ErrSyntax), true)
}

func TestExecute(t *testing.T) {
	s := New(testConfig(t, nil))
	ok, err := s.Execute(ctxbg, "score '~f alice' 10")
	tcompare(t, ok, true)
	tcheck(t, err, "score")
	ok, err = s.Execute(ctxbg, "score '~f bob' 5")
	tcheck(t, err, "score")

	// Same pattern changes the value.
	_, err = s.Execute(ctxbg, "score '~f alice' =20")
	tcheck(t, err, "score")
	tcompare(t, s.Rules(), []Rule{
		{Pattern: "~f alice", Value: 20, Exact: true, pat: s.rules[0].pat},
		{Pattern: "~f bob", Value: 5, pat: s.rules[1].pat},
	})

	ok, err = s.Execute(ctxbg, "unscore '~f alice'")
	tcompare(t, ok, true)
	tcheck(t, err, "unscore")
	tcompare(t, len(s.Rules()), 1)
	_, err = s.Execute(ctxbg, "unscore *")
	tcheck(t, err, "unscore")
	tcompare(t, len(s.Rules()), 0)

	_, err = s.Execute(ctxbg, "score x")
	tcompare(t, errors.Is(err, ErrSyntax), true)
	_, err = s.Execute(ctxbg, "unscore")
	tcompare(t, errors.Is(err, ErrSyntax), true)
	ok, err = s.Execute(ctxbg, "set x")
	tcompare(t, ok, false)
	tcompare(t, err, nil)
}

func TestScoreMessage(t *testing.T) {
	c := testConfig(t, func(c *config.Static) {
		c.ScoreThresholdFlag = 100
	})
	// Zero in a config file means the default.
	c.Static.ScoreThresholdRead = 0
	s := New(c)
	add := func(pat, v string) {
		t.Helper()
		tcheck(t, s.Add(ctxbg, pat, v), "add")
	}
	add("~f boss@", "50")
	add("~s urgent", "60")
	add("~f spam@", "-9999")
	add("~s stop", "=7")
	add("~A", "-20")
	m := &pattern.Matcher{Config: c}

	score := func(e *email.Email) int {
		t.Helper()
		s.ScoreMessage(ctxbg, m, e)
		return e.Score
	}

	e := message("boss@example.org", "hi")
	tcompare(t, score(e), 30)
	tcompare(t, e.Read || e.Flagged || e.Deleted, false)

	e = message("boss@example.org", "urgent")
	tcompare(t, score(e), 90)
	e = message("boss@example.org", "urgent!!")
	e.Score = 1000
	tcompare(t, score(e), 90)

	// Saturating values stop evaluation, negative scores become zero.
	e = message("spam@example.org", "stop")
	tcompare(t, score(e), 0)
	tcompare(t, e.Read, true)
	tcompare(t, e.Changed, true)

	e = message("boss@example.org", "stop")
	tcompare(t, score(e), 7)

	e = message("alice@example.org", "hi")
	tcompare(t, score(e), 0)
	tcompare(t, e.Read, true)

	add("~s urgent", "80")
	e = message("boss@example.org", "urgent")
	tcompare(t, score(e), 110)
	tcompare(t, e.Flagged, true)
	tcompare(t, e.Deleted, false)
}

func TestRescore(t *testing.T) {
	c := testConfig(t, func(c *config.Static) {
		c.Sort = "reverse-score"
	})
	s := New(c)
	m := &pattern.Matcher{Config: c}
	mb := mailbox.New("/tmp/inbox", mailbox.TypeMbox)
	mb.Add(message("boss@example.org", "a"))
	mb.Add(message("alice@example.org", "b"))

	tcompare(t, s.Rescore(ctxbg, m, mb), false)
	tcheck(t, s.Add(ctxbg, "~f boss@", "9999"), "add")
	tcompare(t, s.Rescore(ctxbg, m, mb), true)
	tcompare(t, mb.Emails[0].Score, 9999)
	tcompare(t, mb.Emails[0].Flagged, true)
	tcompare(t, mb.Flagged, 1)
	tcompare(t, s.NeedRescore(), false)
	tcompare(t, s.Rescore(ctxbg, m, mb), false)

	c.Static.NoScore = true
	s.Invalidate()
	tcompare(t, s.Rescore(ctxbg, m, mb), false)
	tcompare(t, s.NeedRescore(), true)
}
