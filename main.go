package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/muacore/mua/config"
	"github.com/muacore/mua/hook"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/muavar"
	"github.com/muacore/mua/score"
	"github.com/muacore/mua/send"

	_ "github.com/muacore/mua/mbox"
)

func envString(k, def string) string {
	s := os.Getenv(k)
	if s == "" {
		return def
	}
	return s
}

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"version", cmdVersion},
	{"help", cmdHelp},
	{"config describe", cmdConfigDescribe},
	{"config test", cmdConfigTest},
	{"parse", cmdParse},
	{"mbox list", cmdMboxList},
	{"mbox check", cmdMboxCheck},
	{"mbox sync", cmdMboxSync},
	{"mbox append", cmdMboxAppend},
	{"mbox stats", cmdMboxStats},
	{"flowed", cmdFlowed},
	{"rfc2047 encode", cmdRFC2047Encode},
	{"rfc2047 decode", cmdRFC2047Decode},
	{"pattern test", cmdPatternTest},
	{"score", cmdScore},
	{"send", cmdSend},
	{"bounce", cmdBounce},
	{"postpone", cmdPostpone},
	{"recall", cmdRecall},
	{"query", cmdQuery},
	{"watch", cmdWatch},
	{"hcache stats", cmdHcacheStats},
	{"hcache purge", cmdHcachePurge},

	// Not listed.
	{"helpall", cmdHelpall},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		c := cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn}
		cmds = append(cmds, c)
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	unlisted bool   // If set, command is not listed until at least some words are matched from command.
	params   string // Arguments to command. Multiple lines possible.
	help     string // Additional explanation. First line is synopsis, the rest is only printed for an explicit help/usage for that command.
	args     []string

	log mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information, we just run the command but cause this
	// panic after the command has registered its flags and set its params and help
	// information. This is then caught and that info printed.
	if c._gather {
		panic("gather")
	}

	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("mua "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		x := recover()
		// panic generated by Parse.
		if x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "mua " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) printUsage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
}

func (c *cmd) Usage() {
	c.printUsage()
	os.Exit(2)
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = `Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	prefix := func(l, pre []string) bool {
		if len(pre) > len(l) {
			return false
		}
		return slices.Equal(pre, l[:len(pre)])
	}

	var partial []cmd
	for _, c := range cmds {
		if slices.Equal(c.words, args) {
			c.gather()
			fmt.Print(c.makeUsage())
			if c.help != "" {
				fmt.Print("\n" + c.help + "\n")
			}
			return
		} else if prefix(c.words, args) {
			partial = append(partial, c)
		}
	}
	if len(partial) == 0 {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", strings.Join(args, " "))
		os.Exit(2)
	}
	for _, c := range partial {
		c.gather()
		line := "mua " + strings.Join(c.words, " ")
		fmt.Printf("%s\n", line)
		if c.help != "" {
			fmt.Printf("\t%s\n", strings.Split(c.help, "\n")[0])
		}
	}
}

func cmdHelpall(c *cmd) {
	c.unlisted = true
	c.help = `Print all detailed usage and help information for all listed commands.

Used to generate documentation.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	n := 0
	for _, c := range cmds {
		c.gather()
		if c.unlisted {
			continue
		}
		if n > 0 {
			fmt.Fprintf(os.Stderr, "\n")
		}
		n++

		fmt.Fprintf(os.Stderr, "# mua %s\n\n", strings.Join(c.words, " "))
		if c.help != "" {
			fmt.Fprintln(os.Stderr, c.help+"\n")
		}
		s := c.makeUsage()
		s = "\t" + strings.ReplaceAll(s, "\n", "\n\t")
		fmt.Fprintln(os.Stderr, s)
	}
}

func usage(l []cmd, unlisted bool) {
	var lines []string
	if !unlisted {
		lines = append(lines, "mua [-config mua.conf] [-loglevel level] ...")
	}
	for _, c := range l {
		c.gather()
		if c.unlisted && !unlisted {
			continue
		}
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"mua"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

var (
	configPath string
	loglevel   string // Empty means the level from the config file, or error.
)

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mua", "mua.conf")
	}
	return "mua.conf"
}

// mustLoadConfig loads the configuration file. A missing file at the default
// location gives the default configuration. A log level from the command line
// overrides the configured levels.
func mustLoadConfig() *mua.Config {
	c, err := mua.Load(configPath)
	if err != nil && errors.Is(err, fs.ErrNotExist) && configPath == defaultConfigPath() {
		c = mua.Default()
	} else {
		xcheckf(err, "loading config")
	}
	if loglevel != "" {
		level, ok := mlog.Levels[loglevel]
		if !ok {
			log.Fatalf("unknown loglevel %q", loglevel)
		}
		c.Log[""] = level
	}
	c.ApplyLogLevels()
	return c
}

// executor runs configuration commands for hooks: score and my_hdr commands
// are handled by the scorer and the user headers, others are hook commands.
type executor struct {
	scorer  *score.Scorer
	headers *send.UserHeaders
	hooks   *hook.Registry
}

func (x *executor) Execute(ctx context.Context, line string) error {
	if x.scorer != nil {
		if ok, err := x.scorer.Execute(ctx, line); ok {
			return err
		}
	}
	if x.headers != nil {
		if ok, err := x.headers.Execute(ctx, line); ok {
			return err
		}
	}
	if x.hooks != nil {
		return x.hooks.Execute(ctx, line)
	}
	return fmt.Errorf("unknown command %q", line)
}

// mustLoadHooks loads the scores, user headers and hooks of c. The hooks run
// score, my_hdr and hook commands.
func mustLoadHooks(ctx context.Context, c *mua.Config) *executor {
	x := &executor{}
	var err error
	x.scorer, err = score.Load(ctx, c)
	xcheckf(err, "loading scores")
	x.headers, err = send.LoadUserHeaders(c)
	xcheckf(err, "loading user headers")
	x.hooks, err = hook.Load(ctx, c, x)
	xcheckf(err, "loading hooks")
	return x
}

func main() {
	log.SetFlags(0)

	flag.StringVar(&configPath, "config", envString("MUACONF", defaultConfigPath()), "configuration file, defaults to $MUACONF with a fallback to mua/mua.conf in the user config directory")
	flag.StringVar(&loglevel, "loglevel", "", "if non-empty, this log level is used instead of the configured level")

	var cpuprofile, memprofile, tracefile string
	flag.StringVar(&cpuprofile, "cpuprof", "", "store cpu profile to file")
	flag.StringVar(&memprofile, "memprof", "", "store mem profile to file")
	flag.StringVar(&tracefile, "trace", "", "store execution trace to file")

	flag.Usage = func() { usage(cmds, false) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage(cmds, false)
	}

	defer startProfiling(cpuprofile, memprofile, tracefile)()

	if loglevel != "" {
		if _, ok := mlog.Levels[loglevel]; !ok {
			log.Fatalf("unknown loglevel %q", loglevel)
		}
	}

	var partial []cmd
next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				if i > 0 {
					partial = append(partial, c)
				}
				continue next
			}
		}
		c.flag = flag.NewFlagSet("mua "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.New(strings.Join(c.words, ""), nil)
		c.fn(&c)
		return
	}
	if len(partial) > 0 {
		usage(partial, true)
	}
	usage(cmds, false)
}

// cmdContext returns a context with a new cid for the log lines of a command.
func cmdContext() context.Context {
	return context.WithValue(context.Background(), mlog.CidKey, mua.Cid())
}

func xcheckf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Fatalf("%s: %s", msg, err)
}

func cmdVersion(c *cmd) {
	c.help = "Prints this mua version."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Println(muavar.Version)
}

func cmdConfigTest(c *cmd) {
	c.help = `Parses and validates the configuration file.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed. The scores, user headers and hooks are checked too.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	static, err := config.Load(configPath)
	xcheckf(err, "parsing config")
	mc, err := mua.New(static)
	xcheckf(err, "compiling config")
	mustLoadHooks(cmdContext(), mc)
	fmt.Println("config OK")
}

func cmdConfigDescribe(c *cmd) {
	c.params = ">mua.conf"
	c.help = `Prints an annotated empty configuration for use as mua.conf.

All fields are optional, the defaults are used for missing fields.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	err := config.Describe(os.Stdout)
	xcheckf(err, "describing config")
}
