package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"golang.org/x/term"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/send"
	"github.com/muacore/mua/sendlib"
)

// runEditor starts $VISUAL or $EDITOR on path, with the terminal of the
// process.
func runEditor(ctx context.Context, path string) error {
	editor := envString("VISUAL", envString("EDITOR", "vi"))
	args, err := shellquote.Split(editor)
	if err != nil || len(args) == 0 {
		return fmt.Errorf("parsing editor command %q: %v", editor, err)
	}
	cmd := exec.CommandContext(ctx, args[0], append(args[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// composeFlags are the message flags shared by send and postpone.
type composeFlags struct {
	subject string
	cc      string
	bcc     string
	attach  []string
	fcc     string
	batch   bool
}

func (f *composeFlags) register(c *cmd) {
	c.flag.StringVar(&f.subject, "s", "", "subject")
	c.flag.StringVar(&f.cc, "c", "", "cc addresses")
	c.flag.StringVar(&f.bcc, "b", "", "bcc addresses")
	c.flag.Func("a", "file to attach, can be repeated", func(s string) error {
		f.attach = append(f.attach, s)
		return nil
	})
	c.flag.StringVar(&f.fcc, "fcc", "", "mailbox to save a copy in, instead of the configured or hook-selected one")
	c.flag.BoolVar(&f.batch, "batch", false, "read the body from standard input and do not start an editor")
}

// compose builds a message from the flags, with the body read from standard
// input in batch mode or when it is not a terminal. The body and its file are
// registered in temp, to be removed after sending.
func (f *composeFlags) compose(ctx context.Context, mc *mua.Config, to []string, temp *send.TempAttachments) (*email.Email, bool) {
	batch := f.batch || !term.IsTerminal(int(os.Stdin.Fd()))

	tmp, err := os.CreateTemp(mc.Static.Tmpdir, "mua-body-*.txt")
	xcheckf(err, "creating body file")
	temp.Add(tmp.Name())
	if batch {
		_, err = io.Copy(tmp, os.Stdin)
		xcheckf(err, "reading body")
	}
	xcheckf(tmp.Close(), "writing body file")

	e := email.New()
	env := email.NewEnvelope()
	env.To = address.Parse(strings.Join(to, ", "))
	env.Cc = address.Parse(f.cc)
	env.Bcc = address.Parse(f.bcc)
	if f.subject != "" {
		env.SetSubject(f.subject, mc.ReplyRegex)
	}
	e.Env = env

	b := email.NewBody()
	b.Type = mime.TypeText
	b.Subtype = "plain"
	b.Disposition = mime.DispInline
	b.Filename = tmp.Name()
	e.Body = b
	last := b
	for _, path := range f.attach {
		a, err := sendlib.MakeFileAttach(ctx, mc, path)
		xcheckf(err, "attaching %s", path)
		last.Next = a
		last = a
	}
	return e, batch
}

// openCurrent opens the mailbox with the message replied to or bounced. The
// returned file is the mailbox file, for reading message contents.
func openCurrent(ctx context.Context, mc *mua.Config, path string, msgno int) (*mailbox.Mailbox, *os.File, *email.Email, func()) {
	m, _, close := openMailbox(ctx, mc, path, mailbox.OpenReadOnly|mailbox.OpenPeek)
	if msgno < 1 || msgno > len(m.Emails) {
		close()
		log.Fatalf("no message %d in %s, mailbox has %d messages", msgno, m.Path, len(m.Emails))
	}
	f, err := os.Open(m.Path)
	if err != nil {
		close()
		xcheckf(err, "opening mailbox file")
	}
	return m, f, m.Emails[msgno-1], func() {
		f.Close()
		close()
	}
}

func mustSender(ctx context.Context, mc *mua.Config) *send.Sender {
	x := mustLoadHooks(ctx, mc)
	s, err := send.NewSender(mc, x.hooks)
	xcheckf(err, "initializing sender")
	s.Headers = x.headers
	s.Editor = runEditor
	return s
}

func cmdSend(c *cmd) {
	c.params = "[-s subject] [-c cc] [-b bcc] [-a file ...] [-fcc mailbox] [-batch] [-in mailbox -reply msgno [-group | -list]] [address ...]"
	c.help = `Compose and send a message.

The body is read from standard input with -batch or when it is not a terminal.
Otherwise an editor is started, from $VISUAL or $EDITOR. Send hooks and the
configured headers are applied, and the message is delivered with sendmail or
SMTP, depending on the configuration. A copy is saved in the fcc mailbox.

With -reply, the message is a reply to the message with that number in the
mailbox given with -in. Recipients, subject and references are taken from the
message replied to.
`
	var f composeFlags
	f.register(c)
	var in string
	var reply int
	var group, list bool
	c.flag.StringVar(&in, "in", "", "mailbox with the message replied to")
	c.flag.IntVar(&reply, "reply", 0, "number of the message replied to")
	c.flag.BoolVar(&group, "group", false, "reply to all recipients")
	c.flag.BoolVar(&list, "list", false, "reply to the mailing list")
	args := c.Parse()
	if (reply == 0) != (in == "") || group && list {
		c.Usage()
	}

	mc := mustLoadConfig()
	ctx := cmdContext()
	s := mustSender(ctx, mc)

	var flags send.Flags
	var cur []*email.Email
	if reply > 0 {
		m, mf, orig, close := openCurrent(ctx, mc, in, reply)
		defer close()
		s.Mailbox = m
		s.In = mf
		cur = []*email.Email{orig}
		switch {
		case group:
			flags |= send.GroupReply
		case list:
			flags |= send.ListReply
		default:
			flags |= send.Reply
		}
	} else if len(args) == 0 {
		c.Usage()
	}

	var temp send.TempAttachments
	defer func() {
		err := temp.Cleanup()
		c.log.Check(err, "removing temporary files")
	}()
	e, batch := f.compose(ctx, mc, args, &temp)
	if batch {
		flags |= send.Batch
	}
	status, err := s.Send(ctx, flags, e, cur, f.fcc)
	if errors.Is(err, send.ErrUnmodified) {
		fmt.Fprintln(os.Stderr, "message not modified, not sent")
		os.Exit(1)
	}
	xcheckf(err, "sending message")
	fmt.Printf("message %s\n", status)
}

func cmdBounce(c *cmd) {
	c.params = "mailbox msgno address ..."
	c.help = `Bounce a message to other recipients.

The message is redelivered unchanged, with Resent-From, Resent-To, Resent-Date
and Resent-Message-ID headers added.
`
	args := c.Parse()
	if len(args) < 3 {
		c.Usage()
	}
	var msgno int
	_, err := fmt.Sscanf(args[1], "%d", &msgno)
	xcheckf(err, "parsing message number")

	mc := mustLoadConfig()
	ctx := cmdContext()
	s := mustSender(ctx, mc)
	_, mf, e, close := openCurrent(ctx, mc, args[0], msgno)
	defer close()
	to, err := address.ParseStrict(strings.Join(args[2:], ", "))
	xcheckf(err, "parsing addresses")
	status, err := s.Bounce(ctx, mf, e, to)
	xcheckf(err, "bouncing message")
	fmt.Printf("message %s\n", status)
}

func cmdPostpone(c *cmd) {
	c.params = "[-s subject] [-c cc] [-b bcc] [-a file ...] [-fcc mailbox] [-batch] [address ...]"
	c.help = `Compose a message and save it as a draft in the postponed mailbox.

The draft can be completed and sent later with "mua recall".
`
	var f composeFlags
	f.register(c)
	args := c.Parse()

	mc := mustLoadConfig()
	ctx := cmdContext()
	s := mustSender(ctx, mc)

	var temp send.TempAttachments
	defer func() {
		err := temp.Cleanup()
		c.log.Check(err, "removing temporary files")
	}()
	e, batch := f.compose(ctx, mc, args, &temp)
	if !batch {
		xcheckf(runEditor(ctx, e.Body.Filename), "editing message")
	}
	err := s.Postpone(ctx, e, nil, f.fcc)
	xcheckf(err, "postponing message")
	fmt.Println("message postponed")
}

func cmdRecall(c *cmd) {
	c.params = "[-index n] [-send] [-in mailbox]"
	c.help = `Recall a postponed message.

Without -index and with multiple postponed messages, the messages are listed.
The recalled message is removed from the postponed mailbox and printed, or sent
with -send. With -in, the message replied to is looked up in that mailbox, so
it is marked as replied after sending.
`
	var index int
	var sendIt bool
	var in string
	c.flag.IntVar(&index, "index", 0, "number of the postponed message to recall")
	c.flag.BoolVar(&sendIt, "send", false, "send the recalled message without editing")
	c.flag.StringVar(&in, "in", "", "mailbox with messages replied to")
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	mc := mustLoadConfig()
	ctx := cmdContext()
	s := mustSender(ctx, mc)

	var cur *mailbox.Mailbox
	if in != "" {
		m, _, close := openMailbox(ctx, mc, in, mailbox.OpenReadOnly|mailbox.OpenPeek)
		defer close()
		cur = m
		s.Mailbox = m
	}

	r, err := s.Recall(ctx, cur, index-1)
	if errors.Is(err, send.ErrSelect) {
		l, err := send.ListPostponed(ctx, mc)
		xcheckf(err, "listing postponed messages")
		for i, e := range l {
			var to, subject string
			if e.Env != nil {
				to = e.Env.To.Write(true)
				subject = e.Env.Subject
			}
			fmt.Printf("%3d %s %-30s %s\n", i+1, time.Unix(e.DateSent, 0).Local().Format("Jan 02"), to, subject)
		}
		return
	}
	xcheckf(err, "recalling message")
	var temp send.TempAttachments
	defer func() {
		err := temp.Cleanup()
		c.log.Check(err, "removing temporary files")
	}()
	r.Email.Body.Walk(func(b *email.Body) bool {
		if b.Filename != "" && b.Unlink {
			temp.Add(b.Filename)
		}
		return true
	})

	if sendIt {
		var replied []*email.Email
		if r.ReplyTo != nil {
			replied = []*email.Email{r.ReplyTo}
		}
		status, err := s.Send(ctx, r.Flags|send.Batch, r.Email, replied, r.Fcc)
		xcheckf(err, "sending message")
		fmt.Printf("message %s\n", status)
		return
	}

	env := r.Email.Env
	fmt.Printf("To: %s\n", env.To.Write(true))
	if len(env.Cc) > 0 {
		fmt.Printf("Cc: %s\n", env.Cc.Write(true))
	}
	fmt.Printf("Subject: %s\n", env.Subject)
	if r.Fcc != "" {
		fmt.Printf("Fcc: %s\n", r.Fcc)
	}
	for _, h := range env.UserHdrs {
		fmt.Println(h)
	}
	fmt.Println()
	for b := r.Email.Body; b != nil; b = b.Next {
		if b.Type != mime.TypeText || b.Filename == "" {
			fmt.Printf("[-- %s %s --]\n", b.MimeType(), b.DFilename)
			continue
		}
		buf, err := os.ReadFile(b.Filename)
		xcheckf(err, "reading body")
		os.Stdout.Write(buf)
	}
}

func cmdQuery(c *cmd) {
	c.params = "query"
	c.help = `Look up addresses with the configured query command.

The command prints a message on the first line, followed by lines with
tab-separated address, name and comment.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	mc := mustLoadConfig()
	if mc.Static.QueryCommand == "" {
		log.Fatalf("no query command configured")
	}
	msg, l, err := send.Query(cmdContext(), mc, strings.Join(args, " "))
	xcheckf(err, "running query")
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	for _, r := range l {
		fmt.Printf("%s\t%s\t%s\n", r.Addr.Write(false), r.Name, r.Comment)
	}
}
