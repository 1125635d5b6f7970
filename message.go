package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/emailsort"
	"github.com/muacore/mua/flowed"
	"github.com/muacore/mua/handler"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/muaio"
	"github.com/muacore/mua/parse"
	"github.com/muacore/mua/pattern"
	"github.com/muacore/mua/rfc2047"
	"github.com/muacore/mua/score"
)

// Maximum size of a message read by commands.
const maxMessageSize = 256 * 1024 * 1024

// readInput reads the file named by args[0], or standard input without args.
func readInput(args []string) []byte {
	var r io.Reader = os.Stdin
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		xcheckf(err, "opening input")
		defer f.Close()
		r = f
	}
	buf, err := io.ReadAll(&muaio.LimitReader{R: r, Limit: maxMessageSize})
	xcheckf(err, "reading input")
	return buf
}

func cmdParse(c *cmd) {
	c.params = "[-body] [message-file]"
	c.help = `Parse a message and print its envelope and MIME structure.

The message is read from the file, or from standard input. With -body, the
decoded body is printed as it would be displayed.
`
	var body bool
	c.flag.BoolVar(&body, "body", false, "print the decoded body")
	args := c.Parse()
	if len(args) > 1 {
		c.Usage()
	}

	buf := readInput(args)
	mc := mustLoadConfig()
	ctx := cmdContext()
	e, err := parse.ParseMessage(ctx, mc, bytes.NewReader(buf))
	xcheckf(err, "parsing message")

	env := e.Env
	for _, h := range []struct {
		name string
		l    address.List
	}{
		{"Return-Path", env.ReturnPath},
		{"From", env.From},
		{"Sender", env.Sender},
		{"Reply-To", env.ReplyTo},
		{"To", env.To},
		{"Cc", env.Cc},
		{"Bcc", env.Bcc},
		{"Mail-Followup-To", env.MailFollowupTo},
	} {
		if len(h.l) > 0 {
			fmt.Printf("%s: %s\n", h.name, h.l.Write(true))
		}
	}
	for _, h := range [][2]string{
		{"Subject", env.Subject},
		{"Date", env.Date},
		{"Message-ID", env.MessageID},
		{"In-Reply-To", strings.Join(env.InReplyTo, " ")},
		{"References", strings.Join(env.References, " ")},
		{"List-Post", env.ListPost},
		{"X-Label", env.XLabel},
		{"Organization", env.Organization},
	} {
		if h[1] != "" {
			fmt.Printf("%s: %s\n", h[0], h[1])
		}
	}
	for _, h := range env.UserHdrs {
		fmt.Println(h)
	}
	fmt.Printf("\nsize %s, %d lines, security %v\n\n", humanize.Bytes(uint64(len(buf))), e.Lines, e.Security)
	printBodyTree(e.Body, 0)

	if body {
		fmt.Println()
		s := handler.NewState(ctx, mc, bytes.NewReader(buf), os.Stdout, handler.Display|handler.CharConv|handler.Weed)
		s.WrapLen = termWidth()
		err := handler.BodyHandler(s, e.Body)
		xcheckf(err, "decoding body")
		xcheckf(s.Err(), "writing body")
	}
}

func printBodyTree(b *email.Body, depth int) {
	for ; b != nil; b = b.Next {
		var attrs []string
		if b.Disposition != mime.DispInline {
			attrs = append(attrs, b.Disposition.String())
		}
		if b.Encoding != mime.Enc7bit {
			attrs = append(attrs, b.Encoding.String())
		}
		if cs := b.Params.Value("charset"); cs != "" {
			attrs = append(attrs, "charset="+cs)
		}
		if b.DFilename != "" {
			attrs = append(attrs, "filename="+b.DFilename)
		}
		size := "?"
		if b.Length >= 0 {
			size = humanize.Bytes(uint64(b.Length))
		}
		fmt.Printf("%s%s (%s) %s\n", strings.Repeat("  ", depth), b.MimeType(), size, strings.Join(attrs, " "))
		if b.Parts != nil {
			printBodyTree(b.Parts, depth+1)
		}
	}
}

func cmdFlowed(c *cmd) {
	c.params = "[-delsp] [-quote] [file]"
	c.help = `Reformat format=flowed text for display, or for quoting in a reply.

The text is read from the file, or from standard input. Paragraphs are
reflowed to the terminal width, or the configured reflow width.
`
	var delsp, quote bool
	c.flag.BoolVar(&delsp, "delsp", false, "text has the delsp=yes parameter")
	c.flag.BoolVar(&quote, "quote", false, "format as quoted text for a reply")
	args := c.Parse()
	if len(args) > 1 {
		c.Usage()
	}

	buf := readInput(args)
	mc := mustLoadConfig()
	var params mime.ParamList
	params.Set("format", "flowed")
	if delsp {
		params.Set("delsp", "yes")
	}
	o := flowed.NewOptions(mc, termWidth(), quote)
	out := bufio.NewWriter(os.Stdout)
	err := flowed.Decode(cmdContext(), bytes.NewReader(buf), out, params, o)
	xcheckf(err, "decoding flowed text")
	xcheckf(out.Flush(), "writing output")
}

func cmdRFC2047Encode(c *cmd) {
	c.params = "[-charset charset ...] [-specials chars] [-col n] text"
	c.help = `Encode text as RFC 2047 encoded-words for use in a header.

Without -charset, the configured send charsets are tried in order.
`
	var charsets, specials string
	var col int
	c.flag.StringVar(&charsets, "charset", "", "comma-separated charsets to try")
	c.flag.StringVar(&specials, "specials", "", "characters that must be encoded, e.g. address specials")
	c.flag.IntVar(&col, "col", 0, "column at which the text starts in the header line")
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	mc := mustLoadConfig()
	l := mc.SendCharsets()
	if charsets != "" {
		l = strings.Split(charsets, ",")
	}
	fmt.Println(rfc2047.Encode(strings.Join(args, " "), specials, col, l))
}

func cmdRFC2047Decode(c *cmd) {
	c.params = "[-assumed charset,...] text"
	c.help = `Decode RFC 2047 encoded-words in header text.

Raw 8-bit text is converted from the assumed charsets, or the configured ones.
`
	var assumed string
	c.flag.StringVar(&assumed, "assumed", "", "comma-separated charsets assumed for unlabeled 8-bit text")
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	mc := mustLoadConfig()
	l := mc.Static.AssumedCharset
	if assumed != "" {
		l = strings.Split(assumed, ",")
	}
	fmt.Println(rfc2047.Decode(strings.Join(args, " "), l))
}

func cmdPatternTest(c *cmd) {
	c.params = "[-count] pattern mailbox"
	c.help = `Print the messages of a mailbox matching a pattern.

Patterns consist of terms like "~f alice" (from), "~s subject", "~b body", "~N"
(new), "~d <1w" (date), combined with "!" (not), "|" (or) and parentheses. A
pattern without "~" searches the configured simple search.
`
	var count bool
	c.flag.BoolVar(&count, "count", false, "only print the number of matching messages")
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}

	mc := mustLoadConfig()
	ctx := cmdContext()
	m, _, close := openMailbox(ctx, mc, args[1], mailbox.OpenReadOnly|mailbox.OpenPeek)
	defer close()
	n := matchMailbox(ctx, mc, m, args[0])
	if count {
		fmt.Println(n)
		return
	}
	primary, aux, err := emailsort.Orders(mc)
	xcheckf(err, "sort order from config")
	tree := emailsort.Sort(mc, m, primary, aux)
	printIndex(m, tree != nil)
}

func cmdScore(c *cmd) {
	c.params = "[-rules file] [-v] mailbox"
	c.help = `Score the messages of a mailbox and print the scores.

The configured score rules are applied, followed by "score" and "unscore"
commands from the rules file, one per line. Scores at or above the configured
thresholds mark messages as deleted, read or flagged in the output.
`
	var rules string
	var verbose bool
	c.flag.StringVar(&rules, "rules", "", "file with score commands")
	c.flag.BoolVar(&verbose, "v", false, "print the rules")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	mc := mustLoadConfig()
	ctx := cmdContext()
	scorer, err := score.Load(ctx, mc)
	xcheckf(err, "loading scores")
	if rules != "" {
		f, err := os.Open(rules)
		xcheckf(err, "opening rules")
		scanner := bufio.NewScanner(f)
		for lineno := 1; scanner.Scan(); lineno++ {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			ok, err := scorer.Execute(ctx, line)
			if !ok {
				log.Fatalf("%s:%d: not a score command", rules, lineno)
			}
			xcheckf(err, "%s:%d", rules, lineno)
		}
		xcheckf(scanner.Err(), "reading rules")
		f.Close()
	}
	if verbose {
		for _, r := range scorer.Rules() {
			fmt.Println(r)
		}
		fmt.Println()
	}

	m, _, close := openMailbox(ctx, mc, args[0], mailbox.OpenReadOnly|mailbox.OpenPeek)
	defer close()
	f, err := os.Open(m.Path)
	xcheckf(err, "opening mailbox file")
	defer f.Close()
	matcher := &pattern.Matcher{Config: mc, Mailbox: m, In: f}
	scorer.Rescore(ctx, matcher, m)

	l := slices.Clone(m.Emails)
	slices.SortStableFunc(l, func(a, b *email.Email) int {
		return b.Score - a.Score
	})
	for _, e := range l {
		subject := ""
		if e.Env != nil {
			subject = e.Env.Subject
		}
		fmt.Printf("%6d %4d %s %s\n", e.Score, e.MsgNo, statusFlag(e), subject)
	}
}
