package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/muacore/mua/config"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/score"
	"github.com/muacore/mua/send"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func TestExecutor(t *testing.T) {
	static := config.Default()
	static.Tmpdir = t.TempDir()
	c, err := mua.New(static)
	tcheck(t, err, "config")

	ctx := context.Background()
	x := &executor{scorer: score.New(c), headers: &send.UserHeaders{}}
	tcheck(t, x.Execute(ctx, "score ~A 10"), "score command")
	if n := len(x.scorer.Rules()); n != 1 {
		t.Fatalf("got %d score rules, expected 1", n)
	}
	tcheck(t, x.Execute(ctx, "my_hdr X-Mailer: mua"), "my_hdr command")
	if l := x.headers.Lines(); len(l) != 1 || l[0] != "X-Mailer: mua" {
		t.Fatalf("got headers %v", l)
	}
	if err := x.Execute(ctx, "set foo=bar"); err == nil {
		t.Fatalf("unknown command without hooks did not fail")
	}
	if err := x.Execute(ctx, "score ~A"); err == nil {
		t.Fatalf("bad score command did not fail")
	}
}

func TestStatusFlag(t *testing.T) {
	e := email.New()
	check := func(exp string) {
		t.Helper()
		if got := statusFlag(e); got != exp {
			t.Fatalf("got flag %q, expected %q", got, exp)
		}
	}
	check("N")
	e.Old = true
	check("O")
	e.Read = true
	check(" ")
	e.Replied = true
	check("r")
	e.Flagged = true
	check("!")
	e.Tagged = true
	check("*")
	e.Deleted = true
	check("D")
}

func TestReadInput(t *testing.T) {
	p := filepath.Join(t.TempDir(), "msg")
	tcheck(t, os.WriteFile(p, []byte("Subject: test\n\nbody\n"), 0600), "write")
	if s := string(readInput([]string{p})); s != "Subject: test\n\nbody\n" {
		t.Fatalf("got %q", s)
	}
}
