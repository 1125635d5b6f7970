package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mjl-/sconf"
)

// Defaults for options where the zero value is not the default.
var (
	DefaultSendCharset = []string{"us-ascii", "iso-8859-1", "utf-8"}
	DefaultUnIgnore    = []string{"from:", "subject:", "to:", "cc:", "date:", "x-mailer:", "x-url:", "user-agent:"}
	DefaultMailToAllow = []string{"body", "cc", "in-reply-to", "references", "subject"}
	DefaultReplyRegex  = `^((re|aw|sv)(\[[0-9]+\])*:[ \t]*)*`
	DefaultSendmail    = "/usr/sbin/sendmail -oem -oi"
	DefaultHook        = "~f %s !~P | (~P ~C %s)"
)

// Default returns a configuration with all defaults filled in.
func Default() Static {
	var c Static
	c.fill()
	return c
}

// fill sets defaults for fields that are empty.
func (c *Static) fill() {
	if c.LogLevel == "" {
		c.LogLevel = "error"
	}
	if c.Tmpdir == "" {
		c.Tmpdir = os.TempDir()
	}
	if c.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			c.Hostname = h
		} else {
			c.Hostname = "localhost"
		}
	}
	if c.Charset == "" {
		c.Charset = "utf-8"
	}
	if len(c.SendCharset) == 0 {
		c.SendCharset = DefaultSendCharset
	}
	if c.ReflowWrap == 0 {
		c.ReflowWrap = 78
	}
	if c.IndentString == "" {
		c.IndentString = "> "
	}
	if len(c.Ignore) == 0 {
		c.Ignore = []string{"*"}
	}
	if len(c.UnIgnore) == 0 {
		c.UnIgnore = DefaultUnIgnore
	}
	if len(c.MailToAllow) == 0 {
		c.MailToAllow = DefaultMailToAllow
	}
	if c.SpamSeparator == "" {
		c.SpamSeparator = ","
	}
	if c.ReplyRegex == "" {
		c.ReplyRegex = DefaultReplyRegex
	}
	if c.Folder == "" {
		c.Folder = "~/Mail"
	}
	if c.Spool == "" {
		c.Spool = os.Getenv("MAIL")
	}
	if c.DefaultHook == "" {
		c.DefaultHook = DefaultHook
	}
	if c.MboxType == "" {
		c.MboxType = "mbox"
	}
	if c.LockRetries == 0 {
		c.LockRetries = 5
	}
	if c.Sort == "" {
		c.Sort = "date"
	}
	if c.SortAux == "" {
		c.SortAux = "date"
	}
	if c.ScoreThresholdDelete == 0 {
		c.ScoreThresholdDelete = -1
	}
	if c.ScoreThresholdRead == 0 {
		c.ScoreThresholdRead = -1
	}
	if c.ScoreThresholdFlag == 0 {
		c.ScoreThresholdFlag = 9999
	}
	if c.Sendmail == "" {
		c.Sendmail = DefaultSendmail
	}
	if c.ForwardFormat == "" {
		c.ForwardFormat = "[%a: %s]"
	}
	if c.EmptySubject == "" {
		c.EmptySubject = "Re: your mail"
	}
	if c.Postponed == "" {
		c.Postponed = "~/postponed"
	}
	if c.AbortUnmodified == "" {
		c.AbortUnmodified = "yes"
	}
	if c.ProtectedHeadersSubject == "" {
		c.ProtectedHeadersSubject = "..."
	}
	if c.HeaderCacheBackend == "" {
		c.HeaderCacheBackend = "bstore"
	}
}

// Load parses the configuration file at path and fills in defaults. Paths in
// the file are expanded relative to the home directory.
func Load(path string) (Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return Static{}, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a configuration in sconf format from r, fills in defaults and
// checks the values.
func Parse(r io.Reader) (Static, error) {
	var c Static
	if err := sconf.Parse(r, &c); err != nil {
		return Static{}, fmt.Errorf("parsing config: %w", err)
	}
	c.fill()
	if errs := c.Check(); len(errs) > 0 {
		var msgs []string
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return Static{}, fmt.Errorf("invalid config:\n\t%s", strings.Join(msgs, "\n\t"))
	}
	return c, nil
}

// Check returns all problems found in the configuration.
func (c *Static) Check() (errs []error) {
	addErrorf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	checkRegexps := func(name string, l []string) {
		for _, s := range l {
			if _, err := regexp.Compile(s); err != nil {
				addErrorf("%s: invalid regular expression %q: %v", name, s, err)
			}
		}
	}
	checkRegexps("MailLists", c.MailLists)
	checkRegexps("UnMailLists", c.UnMailLists)
	checkRegexps("Subscribe", c.Subscribe)
	checkRegexps("UnSubscribe", c.UnSubscribe)
	checkRegexps("Alternates", c.Alternates)
	checkRegexps("UnAlternates", c.UnAlternates)
	checkRegexps("NoSpam", c.NoSpam)
	checkRegexps("ReplyRegex", []string{c.ReplyRegex})
	for _, r := range c.Spam {
		checkRegexps("Spam", []string{r.Pattern})
	}
	for name, l := range c.Groups {
		checkRegexps("Groups "+name, l)
	}
	if _, ok := Levels[c.LogLevel]; !ok {
		addErrorf("LogLevel: unknown level %q", c.LogLevel)
	}
	for pkg, lvl := range c.PackageLogLevels {
		if _, ok := Levels[lvl]; !ok {
			addErrorf("PackageLogLevels: unknown level %q for package %q", lvl, pkg)
		}
	}
	switch c.MboxType {
	case "mbox", "mmdf":
	default:
		addErrorf("MboxType: must be mbox or mmdf, not %q", c.MboxType)
	}
	switch c.HeaderCacheBackend {
	case "bstore", "bolt", "sqlite":
	default:
		addErrorf("HeaderCacheBackend: must be bstore, bolt or sqlite, not %q", c.HeaderCacheBackend)
	}
	switch c.AbortUnmodified {
	case "yes", "no":
	default:
		addErrorf("AbortUnmodified: must be yes or no, not %q", c.AbortUnmodified)
	}
	return errs
}

// Levels are the valid log level names.
var Levels = map[string]bool{
	"print": true, "fatal": true, "error": true, "info": true, "debug": true,
	"trace": true, "traceauth": true, "tracedata": true,
}

// Describe writes the annotated configuration file format to w.
func Describe(w io.Writer) error {
	c := Default()
	c.Hostname = "host.example"
	c.Tmpdir = "/tmp"
	return sconf.Describe(w, &c)
}

// Write writes c in sconf format to w.
func Write(w io.Writer, c Static) error {
	var b bytes.Buffer
	if err := sconf.Write(&b, &c); err != nil {
		return err
	}
	_, err := w.Write(b.Bytes())
	return err
}

// ExpandPath replaces a leading ~ with the home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
