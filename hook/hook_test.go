package hook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
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
	static.Folder = "/mail"
	static.Spool = "/var/mail/me"
	static.Alternates = []string{`^me@example\.org$`}
	if fn != nil {
		fn(&static)
	}
	c, err := mua.New(static)
	tcheck(t, err, "config")
	return c
}

// recorder is an Executor keeping the commands it ran.
type recorder struct {
	cmds []string
	fail string
}

func (r *recorder) Execute(ctx context.Context, cmd string) error {
	r.cmds = append(r.cmds, cmd)
	if cmd == r.fail {
		return errors.New("command failed")
	}
	return nil
}

func message(from, to, subject string) *email.Email {
	e := email.New()
	e.Env = email.NewEnvelope()
	e.Env.From = address.List{address.New("", from)}
	if to != "" {
		e.Env.To = address.List{address.New("", to)}
	}
	e.Env.Subject = subject
	return e
}

func TestParse(t *testing.T) {
	c := testConfig(t, nil)
	r := New(c, nil)

	parse := func(line string) {
		t.Helper()
		tcheck(t, r.Parse(ctxbg, line), "parse "+line)
	}
	parse(`folder-hook =lists set sort=threads`)
	parse(`folder-hook -noregex /tmp/a.b 'set x'`)
	parse(`send-hook '~t list@example.org' 'my_hdr X-List: yes'`)
	parse(`save-hook alice =friends`)
	parse(`fcc-save-hook '~f boss@' +work/%u`)
	parse(`startup-hook 'echo start'`)
	parse(`crypt-hook Alice@ 0x1234`)

	hooks := r.Hooks(Folder)
	tcompare(t, len(hooks), 2)
	tcompare(t, hooks[0].Pattern, `/mail/lists`)
	tcompare(t, hooks[0].Command, "set sort=threads")
	tcompare(t, hooks[1].Pattern, `/tmp/a\.b`)

	// Plain strings use the default hook pattern.
	save := r.Hooks(Save)
	tcompare(t, save[0].Pattern, `~f "alice" !~P | (~P ~C "alice")`)
	tcompare(t, save[0].Command, "/mail/friends")
	tcompare(t, save[1].Command, "/mail/work/%u")
	tcompare(t, len(r.Hooks(Fcc)), 1)

	// Duplicates are folded, single-command hooks get the new command.
	parse(`send-hook '~t list@example.org' 'my_hdr X-List: yes'`)
	parse(`send-hook '~t list@example.org' 'my_hdr X-Other: yes'`)
	tcompare(t, len(r.Hooks(Send)), 2)
	parse(`save-hook alice =pals`)
	tcompare(t, len(r.Hooks(Save)), 2)
	tcompare(t, r.Hooks(Save)[0].Command, "/mail/pals")
	parse(`startup-hook 'echo start'`)
	tcompare(t, len(r.Hooks(Startup)), 1)

	bad := []struct {
		line string
		err  error
	}{
		{"bogus-hook x y", ErrUnknown},
		{"send-hook x", ErrSyntax},
		{"save-hook x a b", ErrSyntax},
		{"folder-hook ^ 'set x'", ErrSyntax},
		{"folder-hook -noregex", ErrSyntax},
		{"folder-hook '(' x", ErrSyntax},
		{"send-hook '~j' x", pattern.ErrSyntax},
		{"open-hook x 'gzip -d'", ErrSyntax},
		{"charset-hook x", ErrSyntax},
		{"send-hook 'unterminated x", ErrSyntax},
	}
	for _, b := range bad {
		err := r.Parse(ctxbg, b.line)
		if !errors.Is(err, b.err) {
			t.Fatalf("parsing %q: got err %v, expected %v", b.line, err, b.err)
		}
	}

	// The spool shortcut must expand to something.
	c.Static.Spool = ""
	err := r.Parse(ctxbg, "folder-hook ! 'set x'")
	tcompare(t, errors.Is(err, ErrSyntax), true)

	r.CurrentFolder = "/mail/inbox"
	parse("folder-hook ^ 'set y'")
	tcompare(t, r.Hooks(Folder)[2].Pattern, `/mail/inbox`)

	parse("open-hook '\\.gz$' 'gzip -cd %f > %t'")
	cmd, ok := r.FindHook(Open, "/mail/old.gz")
	tcompare(t, ok, true)
	tcompare(t, cmd, "gzip -cd %f > %t")
	_, ok = r.FindHook(Open, "/mail/old")
	tcompare(t, ok, false)

	tcompare(t, r.CryptHook(address.New("", "alice@example.org")), []string{"0x1234"})

	parse("charset-hook x-unknown iso-8859-1")
	cs, ok := r.Lookup("X-Unknown")
	tcompare(t, ok, true)
	tcompare(t, cs, "iso-8859-1")
}

func TestCheckSimple(t *testing.T) {
	def := config.DefaultHook
	tcompare(t, checkSimple("~f x", def), "~f x")
	tcompare(t, checkSimple("!~N", def), "!~N")
	tcompare(t, checkSimple(".", def), "~A")
	tcompare(t, checkSimple("new", def), "~N")
	tcompare(t, checkSimple(`a"b`, def), `~f "a\"b" !~P | (~P ~C "a\"b")`)
	tcompare(t, checkSimple(`a\~b`, def), `~f "a\\~b" !~P | (~P ~C "a\\~b")`)
}

func TestFolderHook(t *testing.T) {
	c := testConfig(t, nil)
	rec := &recorder{}
	r := New(c, rec)
	tcheck(t, r.Parse(ctxbg, "folder-hook . 'set a'"), "parse")
	tcheck(t, r.Parse(ctxbg, "folder-hook =lists 'set b'"), "parse")
	tcheck(t, r.Parse(ctxbg, "folder-hook '!=lists' 'set c'"), "parse")
	tcheck(t, r.Parse(ctxbg, "folder-hook work 'set d'"), "parse")

	tcheck(t, r.FolderHook(ctxbg, "/mail/lists/go", ""), "folder hook")
	tcompare(t, rec.cmds, []string{"set a", "set b"})

	rec.cmds = nil
	tcheck(t, r.FolderHook(ctxbg, "/mail/inbox", "work"), "folder hook")
	tcompare(t, rec.cmds, []string{"set a", "set c", "set d"})

	// A failing command stops further hooks.
	rec.cmds = nil
	rec.fail = "set a"
	err := r.FolderHook(ctxbg, "/mail/inbox", "")
	tcompare(t, err != nil, true)
	tcompare(t, rec.cmds, []string{"set a"})
}

func TestReentrancy(t *testing.T) {
	c := testConfig(t, nil)
	rec := &recorder{}
	r := New(c, rec)
	tcheck(t, r.Parse(ctxbg, "folder-hook . 'unhook folder-hook'"), "parse")
	tcheck(t, r.Parse(ctxbg, "folder-hook . 'unhook *'"), "parse")
	tcheck(t, r.Parse(ctxbg, "folder-hook . 'unhook send-hook'"), "parse")
	tcheck(t, r.Parse(ctxbg, "send-hook . 'my_hdr X: y'"), "parse")

	// A hook cannot remove hooks of its own type, nor all hooks.
	err := r.FolderHook(ctxbg, "/mail/inbox", "")
	tcompare(t, errors.Is(err, ErrActive), true)
	tcompare(t, len(r.Hooks(Folder)), 3)

	tcheck(t, r.Unhook("folder-hook"), "unhook")
	tcheck(t, r.Parse(ctxbg, "folder-hook . 'unhook send-hook'"), "parse")
	tcheck(t, r.FolderHook(ctxbg, "/mail/inbox", ""), "folder hook")
	tcompare(t, len(r.Hooks(Send)), 0)

	// Outside of hooks, everything can be removed.
	tcheck(t, r.Execute(ctxbg, "unhook *"), "unhook")
	tcompare(t, len(r.Hooks(^Type(0))), 0)

	err = r.Unhook("bogus-hook")
	tcompare(t, errors.Is(err, ErrUnknown), true)

	// Commands without executor.
	r = New(c, nil)
	err = r.Execute(ctxbg, "set x")
	tcompare(t, errors.Is(err, ErrCommand), true)
}

func TestMessageHook(t *testing.T) {
	c := testConfig(t, nil)
	rec := &recorder{}
	r := New(c, rec)
	tcheck(t, r.Parse(ctxbg, "send-hook . 'my_hdr X-Default: 1'"), "parse")
	tcheck(t, r.Parse(ctxbg, "send-hook '~t list@' 'my_hdr X-List: 1'"), "parse")
	tcheck(t, r.Parse(ctxbg, "send-hook '!~t list@' 'my_hdr X-Private: 1'"), "parse")
	tcheck(t, r.Parse(ctxbg, "message-hook '~s urgent' 'set pager_stop'"), "parse")
	matcher := &pattern.Matcher{Config: c}

	tcheck(t, r.MessageHook(ctxbg, matcher, message("me@example.org", "list@example.org", "hi"), Send), "send hook")
	tcompare(t, rec.cmds, []string{"my_hdr X-Default: 1", "my_hdr X-List: 1"})

	rec.cmds = nil
	tcheck(t, r.MessageHook(ctxbg, matcher, message("me@example.org", "bob@example.org", "urgent"), Send|Message), "hooks")
	tcompare(t, rec.cmds, []string{"my_hdr X-Default: 1", "my_hdr X-Private: 1", "set pager_stop"})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	c := testConfig(t, func(c *config.Static) {
		c.Folder = dir
		c.Record = "=sent"
	})
	r := New(c, nil)
	tcheck(t, r.Parse(ctxbg, "save-hook '~f boss@' =work/%u"), "parse")
	tcheck(t, r.Parse(ctxbg, "fcc-hook '~t list@' =lists"), "parse")
	m := mailbox.New(filepath.Join(dir, "inbox"), mailbox.TypeMbox)
	matcher := &pattern.Matcher{Config: c, Mailbox: m}

	tcompare(t, r.DefaultSave(ctxbg, matcher, message("boss@example.org", "", "x")), dir+"/work/boss")
	tcompare(t, r.DefaultSave(ctxbg, matcher, message("Alice@Example.org", "", "x")), dir+"/alice")
	// Messages from the user are saved by recipient.
	tcompare(t, r.DefaultSave(ctxbg, matcher, message("me@example.org", "bob@example.org", "x")), dir+"/bob")
	e := message("carol@example.org", "", "x")
	e.Env.ReplyTo = address.List{address.New("", "dave@example.org")}
	tcompare(t, r.DefaultSave(ctxbg, matcher, e), dir+"/dave")

	tcompare(t, r.SelectFcc(ctxbg, matcher, message("me@example.org", "list@example.org", "x")), dir+"/lists")
	tcompare(t, r.SelectFcc(ctxbg, matcher, message("me@example.org", "bob@example.org", "x")), dir+"/sent")

	// With SaveName, only an existing mailbox for the recipient is used.
	c.Static.SaveName = true
	tcompare(t, r.SelectFcc(ctxbg, matcher, message("me@example.org", "bob@example.org", "x")), dir+"/sent")
	err := os.WriteFile(filepath.Join(dir, "bob"), nil, 0600)
	tcheck(t, err, "create mailbox")
	tcompare(t, r.SelectFcc(ctxbg, matcher, message("me@example.org", "bob@example.org", "x")), dir+"/bob")
	c.Static.SaveName = false
	c.Static.ForceName = true
	tcompare(t, r.SelectFcc(ctxbg, matcher, message("me@example.org", "carol@example.org", "x")), dir+"/carol")
}

func TestIndexFormat(t *testing.T) {
	c := testConfig(t, nil)
	r := New(c, nil)
	tcheck(t, r.Parse(ctxbg, "index-format-hook date '~d <1d' '%[%H:%M]'"), "parse")
	tcheck(t, r.Parse(ctxbg, "index-format-hook date '~A' '%[%Y-%m-%d]'"), "parse")
	matcher := &pattern.Matcher{Config: c}

	format, ok := r.IndexFormat(ctxbg, matcher, "date", message("a@x", "", "x"))
	tcompare(t, ok, true)
	tcompare(t, format, "%[%Y-%m-%d]")
	_, ok = r.IndexFormat(ctxbg, matcher, "other", message("a@x", "", "x"))
	tcompare(t, ok, false)

	// Index format hooks cannot remove themselves.
	r.current = IndexFormat
	err := r.Unhook("index-format-hook")
	tcompare(t, errors.Is(err, ErrActive), true)
	r.current = 0
	tcheck(t, r.Unhook("index-format-hook"), "unhook")
	tcompare(t, len(r.Hooks(IndexFormat)), 0)
}

func TestExpand(t *testing.T) {
	c := testConfig(t, func(c *config.Static) {
		c.MailLists = []string{"^golang-nuts@"}
	})
	m := mailbox.New("/mail/inbox", mailbox.TypeMbox)
	e := message("alice.smith@example.org", "golang-nuts@example.org", "generics")
	e.Env.From[0].Personal = "Alice Smith"
	e.Env.MessageID = "<1@x>"
	e.MsgNo = 7
	e.Score = 3

	tcompare(t, Expand(c, "%a %n %v %u", m, e), "alice.smith@example.org Alice Smith Alice alice.smith")
	tcompare(t, Expand(c, "%b/%C/%N/%i", m, e), "inbox/7/3/<1@x>")
	tcompare(t, Expand(c, "%L: %s", m, e), "To golang-nuts: generics")
	tcompare(t, Expand(c, "[%-6.3s][%6s]", m, e), "[gen   ][generics]")
	tcompare(t, Expand(c, "[%4C]", m, e), "[   7]")
	tcompare(t, Expand(c, "100%% %q %", m, e), "100% %q %")

	me := message("me@example.org", "bob@example.org", "x")
	tcompare(t, Expand(c, "%F", m, me), "To bob@example.org")
}
