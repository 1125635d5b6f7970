package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/emailsort"
	"github.com/muacore/mua/hcache"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/parse"
	"github.com/muacore/mua/pattern"
	"github.com/muacore/mua/thread"
)

// openMailbox opens the mailbox at path, using the header cache if
// configured. The returned function closes the mailbox and the cache.
func openMailbox(ctx context.Context, c *mua.Config, path string, flags mailbox.OpenFlags) (*mailbox.Mailbox, mailbox.Store, func()) {
	path = c.ExpandMailbox(path)
	cache, err := hcache.Open(ctx, c)
	xcheckf(err, "opening header cache")
	var hc mailbox.HeaderCache
	if cache != nil {
		hc = cache
	}
	m, store, err := mailbox.Open(ctx, c, path, flags, hc)
	if err != nil {
		cache.Close()
		xcheckf(err, "opening mailbox %s", path)
	}
	return m, store, func() {
		err := store.Close(m)
		xcheckf(err, "closing mailbox")
		err = cache.Close()
		xcheckf(err, "closing header cache")
	}
}

// termWidth returns the width of the terminal on stdout, or 80.
func termWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

func statusFlag(e *email.Email) string {
	switch {
	case e.Deleted:
		return "D"
	case e.Tagged:
		return "*"
	case e.Flagged:
		return "!"
	case e.Replied:
		return "r"
	case !e.Read && !e.Old:
		return "N"
	case !e.Read:
		return "O"
	}
	return " "
}

// matchMailbox marks the messages of m that match pat visible, and returns
// the number of matches.
func matchMailbox(ctx context.Context, c *mua.Config, m *mailbox.Mailbox, pat string) int {
	p, err := pattern.Compile(ctx, c, pat, pattern.Options{Flags: pattern.FullMsg, MsgCount: len(m.Emails), Mailbox: m.Path})
	xcheckf(err, "compiling pattern")

	matcher := &pattern.Matcher{Config: c, Mailbox: m}
	if p.NeedsMessage() {
		f, err := os.Open(m.Path)
		xcheckf(err, "opening mailbox file")
		defer f.Close()
		matcher.In = f
	}
	var n int
	for _, e := range m.Emails {
		var cache pattern.Cache
		e.Visible = matcher.Match(ctx, p, e, &cache)
		if e.Visible {
			n++
		}
	}
	return n
}

func cmdMboxList(c *cmd) {
	c.params = "[-sort order] [-pattern pattern] mailbox"
	c.help = `List the messages of a mailbox.

The sort order is a sort key like "date", "from", "subject", "score", "size" or
"threads", prefixed with "reverse-" for descending order. Without -sort, the
configured sort order is used. With -pattern, only matching messages are
listed, see "mua pattern test".
`
	var sortOrder, pat string
	c.flag.StringVar(&sortOrder, "sort", "", "sort order")
	c.flag.StringVar(&pat, "pattern", "", "only list messages matching pattern")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	mc := mustLoadConfig()
	ctx := cmdContext()
	m, _, close := openMailbox(ctx, mc, args[0], mailbox.OpenReadOnly|mailbox.OpenPeek)
	defer close()

	primary, aux, err := emailsort.Orders(mc)
	xcheckf(err, "sort order from config")
	if sortOrder != "" {
		primary, err = emailsort.ParseOrder(sortOrder)
		xcheckf(err, "parsing sort order")
	}
	if pat != "" {
		matchMailbox(ctx, mc, m, pat)
	}
	tree := emailsort.Sort(mc, m, primary, aux)
	printIndex(m, tree != nil)
}

// printIndex prints the visible messages of m, one per line, cut at the
// terminal width. With threaded set, subjects are indented by thread depth.
func printIndex(m *mailbox.Mailbox, threaded bool) {
	width := termWidth()
	for i := 0; i < m.VCount(); i++ {
		e := m.Visible(i)
		env := e.Env
		if env == nil {
			env = email.NewEnvelope()
		}
		from := ""
		if len(env.From) > 0 {
			from = env.From[0].Personal
			if from == "" {
				from = env.From[0].Mailbox
			}
		}
		subject := env.Subject
		if threaded && e.Thread != nil {
			subject = strings.Repeat("  ", thread.Depth(e.Thread)) + subject
		}
		date := time.Unix(e.DateSent, 0).Local().Format("Jan 02")
		line := fmt.Sprintf("%4d %s %s %s %s", e.MsgNo, statusFlag(e), date, runewidth.FillRight(runewidth.Truncate(from, 20, "…"), 20), subject)
		fmt.Println(runewidth.Truncate(line, width, ""))
	}
}

func cmdMboxCheck(c *cmd) {
	c.params = "[-wait duration] mailbox"
	c.help = `Open a mailbox, wait, and check it for changes by other programs.

New messages appended by another program are parsed. When the file was
rewritten, the mailbox is reopened. The result and the message counts are
printed.
`
	wait := 10 * time.Second
	c.flag.DurationVar(&wait, "wait", wait, "time to wait before checking")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	mc := mustLoadConfig()
	ctx := cmdContext()
	m, store, close := openMailbox(ctx, mc, args[0], mailbox.OpenReadOnly|mailbox.OpenPeek)
	defer close()
	fmt.Printf("%d messages, waiting %s\n", len(m.Emails), wait)
	time.Sleep(wait)
	result, err := store.Check(ctx, mc, m)
	xcheckf(err, "checking mailbox")
	m.UpdateCounts()
	fmt.Printf("%s: %d messages, %d unread, %d new\n", result, m.Total, m.Unread, m.New)
}

func cmdMboxSync(c *cmd) {
	c.params = "[-delete pattern] [-read pattern] [-flag pattern] mailbox"
	c.help = `Change flags of messages and write the changes to the mailbox.

Messages matching the -delete pattern are removed from the mailbox. Messages
matching -read are marked as read, and -flag as flagged. The mailbox is not
written if another program changed it.
`
	var del, read, flagPat string
	c.flag.StringVar(&del, "delete", "", "delete messages matching pattern")
	c.flag.StringVar(&read, "read", "", "mark messages matching pattern as read")
	c.flag.StringVar(&flagPat, "flag", "", "flag messages matching pattern")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	mc := mustLoadConfig()
	ctx := cmdContext()
	m, store, close := openMailbox(ctx, mc, args[0], 0)
	defer close()
	if m.ReadOnly {
		log.Fatalf("mailbox is read-only")
	}

	var changed, deleted int
	for _, x := range []struct {
		pat  string
		flag email.Flag
	}{
		{del, email.FlagDeleted},
		{read, email.FlagRead},
		{flagPat, email.FlagFlagged},
	} {
		if x.pat == "" {
			continue
		}
		matchMailbox(ctx, mc, m, x.pat)
		for _, e := range m.Emails {
			if e.Visible && e.SetFlag(x.flag, true) {
				changed++
				if x.flag == email.FlagDeleted {
					deleted++
				}
			}
		}
	}
	if changed > 0 {
		m.Changed = true
	}
	result, err := store.Sync(ctx, mc, m)
	xcheckf(err, "syncing mailbox")
	if result != mailbox.CheckNoChange {
		log.Fatalf("mailbox changed by another program (%s), not written", result)
	}
	fmt.Printf("%d messages changed, %d deleted, %d remaining\n", changed, deleted, len(m.Emails))
}

func cmdMboxAppend(c *cmd) {
	c.params = "mailbox [message-file]"
	c.help = `Append a message to a mailbox.

The message is read from the file, or from standard input. The mailbox is
created if it does not exist.
`
	var read bool
	c.flag.BoolVar(&read, "read", false, "mark the message as read")
	args := c.Parse()
	if len(args) != 1 && len(args) != 2 {
		c.Usage()
	}

	buf := readInput(args[1:])

	mc := mustLoadConfig()
	ctx := cmdContext()
	e, err := parse.ParseMessage(ctx, mc, bytes.NewReader(buf))
	xcheckf(err, "parsing message")
	e.Received = time.Now().Unix()
	e.Read = read

	m, store, close := openMailbox(ctx, mc, args[0], mailbox.OpenAppend)
	defer close()
	err = store.AppendMessage(ctx, mc, m, e, bytes.NewReader(buf))
	xcheckf(err, "appending message")
}

func cmdMboxStats(c *cmd) {
	c.params = "mailbox ..."
	c.help = `Print message counts of mailboxes.

The mailboxes are checked concurrently.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	mc := mustLoadConfig()
	type stats struct {
		m      *mailbox.Mailbox
		size   int64
		hasNew bool
	}
	results := make([]stats, len(args))
	g, ctx := errgroup.WithContext(cmdContext())
	g.SetLimit(4)
	for i, arg := range args {
		g.Go(func() error {
			path := mc.ExpandMailbox(arg)
			typ, err := mailbox.Probe(mc, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			store, err := mailbox.StoreFor(typ)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			m := mailbox.New(path, typ)
			hasNew, err := store.CheckStats(ctx, mc, m)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			var size int64
			if fi, err := os.Stat(path); err == nil {
				size = fi.Size()
			}
			results[i] = stats{m, size, hasNew}
			return nil
		})
	}
	xcheckf(g.Wait(), "checking mailboxes")

	fmt.Printf("%-30s %10s %7s %7s %7s %7s %s\n", "Mailbox", "Size", "Total", "Unread", "New", "Flagged", "")
	for _, r := range results {
		flag := ""
		if r.hasNew {
			flag = "new mail"
		}
		fmt.Printf("%-30s %10s %7d %7d %7d %7d %s\n", r.m.Path, humanize.Bytes(uint64(r.size)), r.m.Total, r.m.Unread, r.m.New, r.m.Flagged, flag)
	}
}
