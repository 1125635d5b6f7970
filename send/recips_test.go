package send

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/config"
	"github.com/muacore/mua/email"
)

func TestFetchRecips(t *testing.T) {
	c := testConfig(t, func(s *config.Static) {
		s.MailLists = []string{`dev@lists\.example\.org`}
		s.IgnoreListReplyTo = true
	})

	test := func(in *email.Envelope, flags Flags, expTo, expCc []string) {
		t.Helper()
		out := email.NewEnvelope()
		FetchRecips(c, out, in, flags)
		FixReplyRecipients(c, out)
		tcompare(t, out.To.Mailboxes(), expTo)
		tcompare(t, out.Cc.Mailboxes(), expCc)
	}

	in := envelope(c, "alice@example.org", "me@example.org, bob@example.org", "carol@example.org", "x", "")
	test(in, Reply, []string{"alice@example.org"}, nil)
	test(in, GroupReply, []string{"alice@example.org"}, []string{"bob@example.org", "carol@example.org"})
	test(in, GroupChatReply, []string{"alice@example.org", "bob@example.org"}, []string{"carol@example.org"})
	test(in, ToSender, []string{"alice@example.org"}, nil)

	// Reply-To wins over From.
	in = envelope(c, "alice@example.org", "me@example.org", "", "x", "")
	in.ReplyTo = address.Parse("alice-work@example.org")
	test(in, Reply, []string{"alice-work@example.org"}, nil)

	// Reply-To set by a mailing list is ignored.
	in = envelope(c, "alice@example.org", "dev@lists.example.org", "", "x", "")
	in.ReplyTo = address.Parse("dev@lists.example.org")
	test(in, Reply, []string{"alice@example.org"}, nil)
	test(in, ListReply, []string{"dev@lists.example.org"}, nil)

	// Mail-Followup-To is honored for group replies.
	in = envelope(c, "alice@example.org", "dev@lists.example.org", "me@example.org", "x", "")
	in.MailFollowupTo = address.Parse("dev@lists.example.org")
	test(in, GroupReply, []string{"dev@lists.example.org"}, nil)
	test(in, Reply, []string{"alice@example.org"}, nil)

	// A reply to our own message goes to its recipients.
	in = envelope(c, "me@example.org", "bob@example.org", "", "x", "")
	test(in, Reply, []string{"bob@example.org"}, nil)

	// Only the user is left: the user is kept.
	in = envelope(c, "alice@example.org", "me@example.org", "", "x", "")
	in.ReplyTo = address.Parse("me@example.org")
	test(in, Reply, []string{"me@example.org"}, nil)
}

func TestReferences(t *testing.T) {
	c := testConfig(t, nil)
	orig := envelope(c, "alice@example.org", "me@example.org", "", "hello", "<2@example.org>")
	orig.References = []string{"<1@example.org>", "<0@example.org>"}

	env := email.NewEnvelope()
	MakeReferenceHeaders(env, []*email.Envelope{orig})
	tcompare(t, env.InReplyTo, []string{"<2@example.org>"})
	tcompare(t, env.References, []string{"<2@example.org>", "<1@example.org>", "<0@example.org>"})

	other := envelope(c, "bob@example.org", "me@example.org", "", "hello", "<3@example.org>")
	env = email.NewEnvelope()
	MakeReferenceHeaders(env, []*email.Envelope{orig, other})
	tcompare(t, env.InReplyTo, []string{"<3@example.org>", "<2@example.org>"})
	tcompare(t, env.References, []string(nil))
}

func TestEnvelopeDefaults(t *testing.T) {
	c := testConfig(t, nil)
	orig := email.New()
	orig.Env = envelope(c, "alice@example.org", "me@example.org", "", "Re: hello", "<1@example.org>")

	env := email.NewEnvelope()
	err := EnvelopeDefaults(c, env, []*email.Email{orig}, Reply)
	tcheck(t, err, "reply defaults")
	tcompare(t, env.Subject, "Re: hello")

	noSubject := email.New()
	noSubject.Env = envelope(c, "alice@example.org", "me@example.org", "", "", "<4@example.org>")
	env = email.NewEnvelope()
	err = EnvelopeDefaults(c, env, []*email.Email{noSubject}, Reply)
	tcheck(t, err, "reply defaults")
	tcompare(t, env.Subject, "Re: your mail")

	env = email.NewEnvelope()
	env.SetSubject("mine", c.ReplyRegex)
	err = EnvelopeDefaults(c, env, []*email.Email{orig}, Reply)
	tcheck(t, err, "reply defaults")
	tcompare(t, env.Subject, "mine")

	env = email.NewEnvelope()
	err = EnvelopeDefaults(c, env, []*email.Email{orig}, Forward)
	tcheck(t, err, "forward defaults")
	tcompare(t, len(env.To), 0)
	if !strings.Contains(env.Subject, "hello") {
		t.Fatalf("forward subject %q does not contain original subject", env.Subject)
	}
}

func TestSetFollowupTo(t *testing.T) {
	c := testConfig(t, func(s *config.Static) {
		s.MailLists = []string{`dev@lists\.example\.org`}
		s.Subscribe = []string{`announce@lists\.example\.org`}
	})

	// Not a list message.
	env := envelope(c, "me@example.org", "bob@example.org", "", "x", "")
	SetFollowupTo(c, env)
	tcompare(t, len(env.MailFollowupTo), 0)

	// Not subscribed: replies should reach us too.
	env = envelope(c, "me@example.org", "dev@lists.example.org", "bob@example.org", "x", "")
	SetFollowupTo(c, env)
	tcompare(t, env.MailFollowupTo.Mailboxes(), []string{"me@example.org", "dev@lists.example.org", "bob@example.org"})

	// Subscribed: the list is enough.
	env = envelope(c, "me@example.org", "announce@lists.example.org", "bob@example.org, me@example.org", "x", "")
	SetFollowupTo(c, env)
	tcompare(t, env.MailFollowupTo.Mailboxes(), []string{"announce@lists.example.org", "bob@example.org"})

	// An existing header is kept.
	env = envelope(c, "me@example.org", "dev@lists.example.org", "", "x", "")
	env.MailFollowupTo = address.Parse("other@example.org")
	SetFollowupTo(c, env)
	tcompare(t, env.MailFollowupTo.Mailboxes(), []string{"other@example.org"})
}

func TestUserHeaders(t *testing.T) {
	h := &UserHeaders{}
	tcheck(t, h.Add("X-Foo: bar"), "add")
	tcheck(t, h.Add("x-foo: baz"), "add")
	tcheck(t, h.Add("Organization: Example"), "add")
	tcompare(t, h.Lines(), []string{"x-foo: baz", "Organization: Example"})
	tcompare(t, errors.Is(h.Add("no colon"), ErrSyntax), true)
	tcompare(t, errors.Is(h.Add("bad name: x"), ErrSyntax), true)

	ok, err := h.Execute(ctxbg, "unmy_hdr X-Foo:")
	tcheck(t, err, "unmy_hdr")
	tcompare(t, ok, true)
	tcompare(t, h.Lines(), []string{"Organization: Example"})
	ok, err = h.Execute(ctxbg, "my_hdr Message-ID: <custom@example.org>")
	tcheck(t, err, "my_hdr")
	tcompare(t, ok, true)
	ok, _ = h.Execute(ctxbg, "set foo=bar")
	tcompare(t, ok, false)
	_, err = h.Execute(ctxbg, "unmy_hdr")
	tcompare(t, errors.Is(err, ErrSyntax), true)

	tcheck(t, h.Add("Subject: ignored"), "add")
	tcheck(t, h.Add("Cc: carol@example.org"), "add")
	env := email.NewEnvelope()
	h.ApplyRecips(env)
	h.Apply(env)
	tcompare(t, env.Cc.Mailboxes(), []string{"carol@example.org"})
	tcompare(t, env.MessageID, "<custom@example.org>")
	tcompare(t, env.Subject, "")
	tcompare(t, env.UserHdrs, []string{"Organization: Example"})

	h.Remove("*")
	tcompare(t, len(h.Lines()), 0)
}

func TestParseQueryOutput(t *testing.T) {
	out := "Searching database... 2 entries\nalice@example.org\tAlice\tfriend\nnot a result\nbob@example.org\tBob\t\textra\n"
	msg, results, err := ParseQueryOutput(strings.NewReader(out))
	tcheck(t, err, "parse")
	tcompare(t, msg, "Searching database... 2 entries")
	tcompare(t, len(results), 2)
	tcompare(t, results[0].Addr.Mailboxes(), []string{"alice@example.org"})
	tcompare(t, results[0].Name, "Alice")
	tcompare(t, results[0].Comment, "friend")
	tcompare(t, results[1].Comment, "")
	tcompare(t, results[1].Other, "extra")

	msg, results, err = ParseQueryOutput(strings.NewReader(""))
	tcheck(t, err, "parse empty")
	tcompare(t, msg, "")
	tcompare(t, len(results), 0)
}

func TestQuery(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("needs a shell")
	}
	script := filepath.Join(t.TempDir(), "query")
	err := os.WriteFile(script, []byte("#!/bin/sh\nif [ \"$1\" = \"fail\" ]; then echo 'database locked'; exit 1; fi\necho \"Looking for $1\"\nprintf '%s@example.org\\t%s\\tcontact\\n' \"$1\" \"$1\"\n"), 0700)
	tcheck(t, err, "write script")

	c := testConfig(t, nil)
	_, _, err = Query(ctxbg, c, "x")
	tcompare(t, errors.Is(err, ErrQuery), true)

	c = testConfig(t, func(s *config.Static) {
		s.QueryCommand = script + " %s"
	})
	msg, results, err := Query(context.Background(), c, "alice")
	tcheck(t, err, "query")
	tcompare(t, msg, "Looking for alice")
	tcompare(t, len(results), 1)
	tcompare(t, results[0].Addr.Mailboxes(), []string{"alice@example.org"})

	msg, _, err = Query(ctxbg, c, "fail")
	tcompare(t, errors.Is(err, ErrQuery), true)
	tcompare(t, msg, "database locked")
}

func TestTempAttachments(t *testing.T) {
	dir := t.TempDir()
	ro := filepath.Join(dir, "readonly.pdf")
	tcheck(t, os.WriteFile(ro, []byte("x"), 0400), "write file")
	rw := filepath.Join(dir, "doc.txt")
	tcheck(t, os.WriteFile(rw, []byte("y"), 0600), "write file")

	var ta TempAttachments
	ta.Add(ro)
	ta.Add(rw)
	ta.Add(filepath.Join(dir, "gone"))
	tcompare(t, ta.Len(), 3)
	tcheck(t, ta.Cleanup(), "cleanup")
	tcompare(t, ta.Len(), 0)
	for _, p := range []string{ro, rw} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("file %s not removed: %v", p, err)
		}
	}
}
