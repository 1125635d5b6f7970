package rx

import (
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
	if got != exp {
		t.Fatalf("got %v, expected %v", got, exp)
	}
}

func TestList(t *testing.T) {
	var l List
	tcheck(t, l.Add(`^list@example\.org$`), "add")
	tcheck(t, l.Add(`^list@example\.org$`), "add duplicate")
	tcompare(t, len(l), 1)
	tcompare(t, l.Match("LIST@example.org"), true)
	tcompare(t, l.Match("other@example.org"), false)
	tcompare(t, l.Match(""), false)
	if err := l.Add("("); err == nil {
		t.Fatalf("expected error for bad regexp")
	}
	tcompare(t, l.Remove("*"), true)
	tcompare(t, len(l), 0)
}

func TestCompile(t *testing.T) {
	re, err := Compile("hello")
	tcheck(t, err, "compile")
	tcompare(t, re.MatchString("HELLO"), true)
	re, err = Compile("Hello")
	tcheck(t, err, "compile")
	tcompare(t, re.MatchString("hello"), false)
}

func TestReplaceList(t *testing.T) {
	var l ReplaceList
	tcheck(t, l.Add(`^X-Spam-Score: ([0-9.]+) \((.*)\)`, "%1 %2!"), "add")
	s, ok := l.Match("X-Spam-Score: 5.1 (bad)")
	tcompare(t, ok, true)
	tcompare(t, s, "5.1 bad!")
	_, ok = l.Match("Subject: x")
	tcompare(t, ok, false)
	if err := l.Add("^x", "%1"); err == nil {
		t.Fatalf("expected error for missing submatch")
	}
}

func TestPrefixList(t *testing.T) {
	var l PrefixList
	l.Add("X-")
	tcompare(t, l.Match("x-mailer"), true)
	tcompare(t, l.Match("subject"), false)
	l.Add("*")
	tcompare(t, l.Match("subject"), true)
	l.Remove("*")
	tcompare(t, len(l), 0)
}
