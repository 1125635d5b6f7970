// Package mua holds the runtime configuration that is passed explicitly to the
// parser, pattern, hook, sort and send code: the options from the
// configuration file together with the compiled regular expression lists and
// mutable state like the auto-subscribed mailing lists.
package mua

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"regexp"
	"strings"
	"sync"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/config"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/rx"
)

var pkglog = mlog.New("mua", nil)

// Config as used in the code, a processed version of what is in the config
// file.
type Config struct {
	Static config.Static // As read from the file, with defaults filled in.

	logMutex sync.Mutex
	Log      map[string]slog.Level

	ReplyRegex *regexp.Regexp

	// Header weeding, lower case header name prefixes.
	Ignore   rx.PrefixList
	UnIgnore rx.PrefixList

	MailToAllow rx.PrefixList

	Lists  address.Lists
	User   address.User
	Groups address.Groups

	Spam   rx.ReplaceList
	NoSpam rx.List

	TagTransforms map[string]string
}

// Load reads the configuration file at path and returns the runtime
// configuration.
func Load(path string) (*Config, error) {
	static, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(static)
}

// Default returns a runtime configuration with all defaults.
func Default() *Config {
	c, err := New(config.Default())
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return c
}

// New compiles static into a runtime configuration.
func New(static config.Static) (*Config, error) {
	c := &Config{Static: static}

	var err error
	c.ReplyRegex, err = rx.Compile(static.ReplyRegex)
	if err != nil {
		return nil, fmt.Errorf("%w: ReplyRegex: %v", ErrConfig, err)
	}

	for _, s := range static.Ignore {
		c.Ignore.Add(s)
	}
	for _, s := range static.UnIgnore {
		c.UnIgnore.Add(s)
	}
	for _, s := range static.MailToAllow {
		c.MailToAllow.Add(s)
	}

	addAll := func(name string, l *rx.List, exprs []string) {
		for _, s := range exprs {
			if err == nil {
				if xerr := l.Add(s); xerr != nil {
					err = fmt.Errorf("%w: %s: %v", ErrConfig, name, xerr)
				}
			}
		}
	}
	addAll("MailLists", &c.Lists.MailLists, static.MailLists)
	addAll("UnMailLists", &c.Lists.UnMailLists, static.UnMailLists)
	// Subscribed lists are mailing lists too.
	addAll("Subscribe", &c.Lists.Subscribed, static.Subscribe)
	addAll("Subscribe", &c.Lists.MailLists, static.Subscribe)
	addAll("UnSubscribe", &c.Lists.UnSubscribed, static.UnSubscribe)
	addAll("Alternates", &c.User.Alternates, static.Alternates)
	addAll("UnAlternates", &c.User.UnAlternates, static.UnAlternates)
	addAll("NoSpam", &c.NoSpam, static.NoSpam)
	if err != nil {
		return nil, err
	}
	for _, r := range static.Spam {
		if err := c.Spam.Add(r.Pattern, r.Template); err != nil {
			return nil, fmt.Errorf("%w: Spam: %v", ErrConfig, err)
		}
	}

	c.Groups = address.Groups{}
	for name, exprs := range static.Groups {
		if err := c.Groups.Add(name, nil, exprs...); err != nil {
			return nil, fmt.Errorf("%w: Groups %s: %v", ErrConfig, name, err)
		}
	}

	c.User.Hostname = static.Hostname
	if u, err := user.Current(); err == nil {
		c.User.Username = u.Username
	} else if s := os.Getenv("USER"); s != "" {
		c.User.Username = s
	}
	if static.FromAddress != "" {
		l := address.Parse(static.FromAddress)
		if len(l) == 0 {
			return nil, fmt.Errorf("%w: FromAddress: cannot parse %q", ErrConfig, static.FromAddress)
		}
		c.User.From = l[0]
		if c.User.From.Personal == "" {
			c.User.From.Personal = static.RealName
		}
	}

	c.TagTransforms = static.TagTransforms
	if c.TagTransforms == nil {
		c.TagTransforms = map[string]string{}
	}

	c.Log = map[string]slog.Level{}
	c.Log[""] = mlog.Levels[static.LogLevel]
	for pkg, lvl := range static.PackageLogLevels {
		c.Log[pkg] = mlog.Levels[lvl]
	}
	return c, nil
}

// ApplyLogLevels makes the configured log levels active.
func (c *Config) ApplyLogLevels() {
	c.logMutex.Lock()
	defer c.logMutex.Unlock()
	mlog.SetConfig(c.Log)
}

// LogLevelSet changes the log level for pkg, the empty pkg being the default.
func (c *Config) LogLevelSet(log mlog.Log, pkg string, level slog.Level) {
	c.logMutex.Lock()
	defer c.logMutex.Unlock()
	l := map[string]slog.Level{}
	for k, v := range c.Log {
		l[k] = v
	}
	l[pkg] = level
	c.Log = l
	log.Debug("log level changed", slog.String("pkg", pkg), slog.Any("level", mlog.LevelStrings[level]))
	mlog.SetConfig(c.Log)
}

// Weeded returns whether header (a name, or "name: value" line) is hidden by
// the ignore lists.
func (c *Config) Weeded(header string) bool {
	return c.Ignore.Match(header) && !c.UnIgnore.Match(header)
}

// MailToAllowed returns whether a mailto URL may set header field.
func (c *Config) MailToAllowed(field string) bool {
	field = strings.ToLower(field)
	for _, s := range c.MailToAllow {
		if s == "*" || s == field {
			return true
		}
	}
	return false
}

// SendCharsets returns the charsets to try for outgoing text.
func (c *Config) SendCharsets() []string {
	return c.Static.SendCharset
}

// Hostname returns the host name for message-ids and unqualified addresses.
func (c *Config) Hostname() string {
	return c.Static.Hostname
}

// From returns the configured From address, or an address made of the user
// name and host name.
func (c *Config) From() *address.Address {
	if c.User.From != nil {
		return c.User.From.Copy()
	}
	if c.User.Username == "" {
		return nil
	}
	mb := c.User.Username
	if !c.Static.HiddenHost && c.Hostname() != "" {
		mb += "@" + c.Hostname()
	}
	return &address.Address{Personal: c.Static.RealName, Mailbox: mb}
}

// ExpandMailbox expands the mailbox shortcuts at the start of p: "=" and "+"
// for the folder directory, "!" for the spool mailbox and "~" for the home
// directory.
func (c *Config) ExpandMailbox(p string) string {
	switch {
	case p == "":
		return p
	case p[0] == '=' || p[0] == '+':
		folder := config.ExpandPath(c.Static.Folder)
		if folder == "" {
			return p[1:]
		}
		return strings.TrimSuffix(folder, "/") + "/" + p[1:]
	case p == "!":
		return config.ExpandPath(c.Static.Spool)
	}
	return config.ExpandPath(p)
}
