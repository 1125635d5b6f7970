// Package hook keeps the registry of hooks: commands run when opening a
// mailbox, when reading, sending or saving matching messages, at startup and
// shutdown, and lookups like the default save mailbox of a message.
//
// Hooks are configured as command lines, e.g.:
//
//	folder-hook =lists 'set sort=threads'
//	send-hook '~t list@example.org' 'my_hdr X-List: yes'
//	save-hook '~f boss@' =work
//	fcc-hook alice =friends
//
// Commands of hooks are run by an Executor, except hook and unhook commands,
// which change the registry itself. A Registry is not safe for concurrent
// use, hooks run to completion before the next starts.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/pattern"
)

var pkglog = mlog.New("hook", nil)

var (
	ErrSyntax  = errors.New("hook: syntax error")
	ErrUnknown = errors.New("hook: unknown hook type")
	ErrActive  = errors.New("hook: cannot delete hooks from within a hook of the same type")
	ErrCommand = errors.New("hook: unknown command")
)

// Type is a hook type. Some hook commands register for multiple types.
type Type uint32

const (
	Folder Type = 1 << iota
	Mbox
	Send
	Fcc
	Save
	Charset
	Iconv
	Message
	Crypt
	Account
	Reply
	Send2
	Open
	Append
	Close
	Timeout
	Startup
	Shutdown
	IndexFormat

	// Hooks without pattern.
	global = Timeout | Startup | Shutdown
	// Hooks with a message pattern instead of a regular expression.
	patternHooks = Send | Send2 | Save | Fcc | Message | Reply
	// Hooks that may have multiple commands for the same pattern.
	multiHooks = Folder | Send | Send2 | Message | Account | Reply | Crypt | Timeout | Startup | Shutdown
	// Hooks whose command is the rest of the line.
	spaceHooks = Folder | Send | Send2 | Account | Reply
	// Hooks whose command is a mailbox.
	mailboxHooks = Mbox | Save | Fcc
	// Compressed mailbox hooks, with a command that has %f and %t.
	compressHooks = Open | Append | Close
)

var hookNames = []struct {
	name string
	typ  Type
}{
	{"account-hook", Account},
	{"append-hook", Append},
	{"charset-hook", Charset},
	{"close-hook", Close},
	{"crypt-hook", Crypt},
	{"fcc-hook", Fcc},
	{"fcc-save-hook", Fcc | Save},
	{"folder-hook", Folder},
	{"iconv-hook", Iconv},
	{"index-format-hook", IndexFormat},
	{"mbox-hook", Mbox},
	{"message-hook", Message},
	{"open-hook", Open},
	{"pgp-hook", Crypt},
	{"reply-hook", Reply},
	{"save-hook", Save},
	{"send-hook", Send},
	{"send2-hook", Send2},
	{"shutdown-hook", Shutdown},
	{"startup-hook", Startup},
	{"timeout-hook", Timeout},
}

// ParseType returns the type of a hook command name like "send-hook".
func ParseType(name string) (Type, error) {
	for _, h := range hookNames {
		if strings.EqualFold(h.name, name) {
			return h.typ, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknown, name)
}

func (t Type) String() string {
	for _, h := range hookNames {
		if h.typ == t {
			return h.name
		}
	}
	return fmt.Sprintf("hook(%#x)", uint32(t))
}

// Hook is a registered hook.
type Hook struct {
	Type    Type
	Pattern string // After expansion of mailbox shortcuts and simple patterns.
	Not     bool   // Run when the pattern does not match.
	Command string

	regex *regexp.Regexp   // For hooks matching strings.
	pat   *pattern.Pattern // For hooks matching messages.
}

// Executor runs the commands of hooks.
type Executor interface {
	Execute(ctx context.Context, cmd string) error
}

// ExecFunc is an Executor calling a function.
type ExecFunc func(ctx context.Context, cmd string) error

func (f ExecFunc) Execute(ctx context.Context, cmd string) error {
	return f(ctx, cmd)
}

// Registry holds the configured hooks.
type Registry struct {
	Config *mua.Config
	Exec   Executor

	// Path of the open mailbox, for the ^ shortcut.
	CurrentFolder string

	hooks    []*Hook
	idxfmt   map[string][]*Hook
	charsets map[string]string
	iconv    map[string]string
	patterns *pattern.CompileCache

	// Type of the hook being run, zero when none.
	current   Type
	inAccount bool
}

// New returns an empty registry. Commands other than hook commands are run
// by exec, which may be nil.
func New(c *mua.Config, exec Executor) *Registry {
	// Only fails for a non-positive size.
	patterns, _ := pattern.NewCompileCache(c, 256)
	return &Registry{
		Config:   c,
		Exec:     exec,
		idxfmt:   map[string][]*Hook{},
		charsets: map[string]string{},
		iconv:    map[string]string{},
		patterns: patterns,
	}
}

// Load registers the hooks configured in c.Static.Hooks.
func Load(ctx context.Context, c *mua.Config, exec Executor) (*Registry, error) {
	r := New(c, exec)
	for _, line := range c.Static.Hooks {
		if err := r.Parse(ctx, line); err != nil {
			return nil, fmt.Errorf("hook %q: %w", line, err)
		}
	}
	return r, nil
}

// Hooks returns the hooks registered for any of the types in typ, in order
// of registration.
func (r *Registry) Hooks(typ Type) []*Hook {
	var l []*Hook
	for _, h := range r.hooks {
		if h.Type&typ != 0 {
			l = append(l, h)
		}
	}
	for _, name := range sortedKeys(r.idxfmt) {
		if typ&IndexFormat != 0 {
			l = append(l, r.idxfmt[name]...)
		}
	}
	return l
}

// Execute runs a command line. Hook and unhook commands change the registry,
// other commands are passed to the Executor.
func (r *Registry) Execute(ctx context.Context, line string) error {
	name, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	if name == "unhook" || strings.HasSuffix(name, "-hook") {
		return r.Parse(ctx, line)
	}
	if r.Exec == nil {
		return fmt.Errorf("%w: %q", ErrCommand, name)
	}
	return r.Exec.Execute(ctx, line)
}

// Parse registers the hook of a command line like "send-hook pattern
// command", or removes hooks for an unhook command.
func (r *Registry) Parse(ctx context.Context, line string) error {
	args, err := shellquote.Split(line)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: empty command", ErrSyntax)
	}
	name, args := args[0], args[1:]
	if name == "unhook" {
		return r.Unhook(args...)
	}
	typ, err := ParseType(name)
	if err != nil {
		return err
	}
	log := pkglog.WithContext(ctx)
	switch typ {
	case Charset, Iconv:
		err = r.parseCharset(typ, args)
	case IndexFormat:
		err = r.parseIndexFormat(ctx, args)
	default:
		err = r.parseHook(ctx, typ, args)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Debug("hook registered", slog.String("hook", name), slog.Any("args", args))
	return nil
}

func (r *Registry) parseCharset(typ Type, args []string) error {
	if len(args) < 2 || args[0] == "" || args[1] == "" {
		return fmt.Errorf("%w: too few arguments", ErrSyntax)
	}
	if len(args) > 2 {
		return fmt.Errorf("%w: too many arguments", ErrSyntax)
	}
	m := r.charsets
	if typ == Iconv {
		m = r.iconv
	}
	m[strings.ToLower(args[0])] = args[1]
	return nil
}

// expandRegex expands the mailbox shortcuts of a folder or mbox hook
// pattern. The expanded mailbox path is quoted so it matches literally.
func (r *Registry) expandRegex(s string, useRegex bool) (string, error) {
	if s == "" {
		return s, nil
	}
	var prefix, rest string
	switch {
	case s[0] == '^':
		if r.CurrentFolder == "" {
			return "", fmt.Errorf("%w: current mailbox shortcut '^' is unset", ErrSyntax)
		}
		prefix, rest = r.CurrentFolder, s[1:]
	case s[0] == '=' || s[0] == '+':
		prefix = r.Config.ExpandMailbox(s[:1])
		rest = s[1:]
	case s == "!":
		prefix = r.Config.ExpandMailbox("!")
	case s[0] == '~':
		prefix = r.Config.ExpandMailbox(s)
	default:
		return s, nil
	}
	if !useRegex {
		return prefix + rest, nil
	}
	return regexp.QuoteMeta(prefix) + rest, nil
}

func sortedKeys(m map[string][]*Hook) []string {
	l := make([]string, 0, len(m))
	for k := range m {
		l = append(l, k)
	}
	sort.Strings(l)
	return l
}

// checkSimple turns a plain string hook pattern into a pattern with the
// default hook pattern, and abbreviations like "all" into their pattern.
func checkSimple(s, defaultHook string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '~', '=', '%':
			return s
		}
	}
	simple := map[string]string{
		"all": "~A", ".": "~A", "^": "~A",
		"del": "~D", "flag": "~F", "new": "~N", "old": "~O",
		"repl": "~Q", "read": "~R", "tag": "~T", "unread": "~U",
	}
	if p, ok := simple[strings.ToLower(s)]; ok {
		return p
	}
	quoted := `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
	return strings.ReplaceAll(defaultHook, "%s", quoted)
}

// validCompressCommand returns whether cmd has the source and target
// placeholders.
func validCompressCommand(cmd string) bool {
	return strings.Contains(cmd, "%f") && strings.Contains(cmd, "%t")
}

func (r *Registry) compilePattern(ctx context.Context, typ Type, s string) (*pattern.Pattern, error) {
	flags := pattern.Dynamic
	switch {
	case typ&Send2 != 0:
		flags |= pattern.SendMode
	case typ&(Send|Fcc) != 0:
	default:
		flags |= pattern.FullMsg
	}
	return r.patterns.Compile(ctx, s, pattern.Options{Flags: flags})
}

func (r *Registry) parseHook(ctx context.Context, typ Type, args []string) error {
	var pat string
	var not bool
	useRegex := true
	if typ&global == 0 {
		if len(args) > 0 && strings.HasPrefix(args[0], "!") {
			not = true
			if args[0] == "!" {
				args = args[1:]
			} else {
				args[0] = strings.TrimLeft(args[0][1:], " \t")
			}
		}
		if len(args) > 0 && typ&(Folder|Mbox) != 0 && args[0] == "-noregex" {
			useRegex = false
			args = args[1:]
		}
		if len(args) < 2 {
			return fmt.Errorf("%w: too few arguments", ErrSyntax)
		}
		pat, args = args[0], args[1:]
	}

	var cmd string
	switch {
	case len(args) == 0:
	case typ&spaceHooks != 0:
		cmd = strings.Join(args, " ")
	case len(args) > 1:
		return fmt.Errorf("%w: too many arguments", ErrSyntax)
	default:
		cmd = args[0]
	}
	if cmd == "" {
		return fmt.Errorf("%w: too few arguments", ErrSyntax)
	}

	switch {
	case typ&(Folder|Mbox) != 0:
		expanded, err := r.expandRegex(pat, useRegex)
		if err != nil {
			return err
		}
		if expanded == "" && pat != "" {
			return fmt.Errorf("%w: mailbox shortcut expanded to empty regex", ErrSyntax)
		}
		if useRegex {
			pat = expanded
		} else {
			pat = regexp.QuoteMeta(expanded)
		}
	case typ&compressHooks != 0:
		if !validCompressCommand(cmd) {
			return fmt.Errorf("%w: badly formatted command string", ErrSyntax)
		}
	case typ&(global|Account|Crypt) == 0:
		pat = checkSimple(pat, r.Config.Static.DefaultHook)
	}
	if typ&mailboxHooks != 0 {
		cmd = r.Config.ExpandMailbox(cmd)
	}

	for _, h := range r.hooks {
		if typ&global != 0 {
			if h.Type == typ && h.Command == cmd {
				return nil
			}
		} else if h.Type == typ && h.Not == not && h.Pattern == pat {
			if typ&multiHooks != 0 {
				if h.Command == cmd {
					return nil
				}
			} else {
				// One command per pattern, the order of hooks is kept.
				h.Command = cmd
				return nil
			}
		}
	}

	h := &Hook{Type: typ, Pattern: pat, Not: not, Command: cmd}
	switch {
	case typ&patternHooks != 0:
		p, err := r.compilePattern(ctx, typ, pat)
		if err != nil {
			return err
		}
		h.pat = p
	case typ&global == 0:
		expr := pat
		if typ&Crypt != 0 {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		h.regex = re
	}
	r.hooks = append(r.hooks, h)
	return nil
}

// parseIndexFormat parses "name [!]pattern format".
func (r *Registry) parseIndexFormat(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("%w: too few arguments", ErrSyntax)
	}
	name, pat, format := args[0], args[1], args[2]
	if len(args) > 3 {
		return fmt.Errorf("%w: too many arguments", ErrSyntax)
	}
	not := false
	if strings.HasPrefix(pat, "!") {
		not = true
		pat = strings.TrimLeft(pat[1:], " \t")
	}
	pat = checkSimple(pat, r.Config.Static.DefaultHook)
	for _, h := range r.idxfmt[name] {
		if h.Not == not && h.Pattern == pat {
			h.Command = format
			return nil
		}
	}
	p, err := r.compilePattern(ctx, IndexFormat, pat)
	if err != nil {
		return err
	}
	r.idxfmt[name] = append(r.idxfmt[name], &Hook{Type: IndexFormat, Pattern: pat, Not: not, Command: format, pat: p})
	return nil
}

// Unhook removes the hooks of the named types, or all hooks for "*". Hooks
// of the type being run cannot be removed.
func (r *Registry) Unhook(names ...string) error {
	for _, name := range names {
		if name == "*" {
			if r.current != 0 {
				return fmt.Errorf("%w: unhook * from within a hook", ErrActive)
			}
			r.hooks = nil
			r.idxfmt = map[string][]*Hook{}
			r.charsets = map[string]string{}
			r.iconv = map[string]string{}
			continue
		}
		typ, err := ParseType(name)
		if err != nil {
			return err
		}
		if typ&(Charset|Iconv) != 0 {
			r.charsets = map[string]string{}
			r.iconv = map[string]string{}
			continue
		}
		if r.current == typ {
			return fmt.Errorf("%w: %s", ErrActive, name)
		}
		if typ == IndexFormat {
			r.idxfmt = map[string][]*Hook{}
			continue
		}
		var l []*Hook
		for _, h := range r.hooks {
			if h.Type != typ {
				l = append(l, h)
			}
		}
		r.hooks = l
	}
	return nil
}

// Lookup returns the charset for an alias registered with charset-hook.
func (r *Registry) Lookup(alias string) (string, bool) {
	cs, ok := r.charsets[strings.ToLower(alias)]
	return cs, ok
}

// IconvLookup returns the charset name for the converter registered with
// iconv-hook.
func (r *Registry) IconvLookup(charset string) (string, bool) {
	cs, ok := r.iconv[strings.ToLower(charset)]
	return cs, ok
}
