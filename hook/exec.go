package hook

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/pattern"
)

// run executes the command of a matching hook while typ is the current hook
// type.
func (r *Registry) run(ctx context.Context, typ Type, h *Hook, match string) error {
	log := pkglog.WithContext(ctx)
	log.Debug("hook matches", slog.String("hook", typ.String()), slog.String("pattern", h.Pattern), slog.String("match", match), slog.String("command", h.Command))
	prev := r.current
	r.current = typ
	defer func() {
		r.current = prev
	}()
	return r.Execute(ctx, h.Command)
}

func (h *Hook) matchString(s string) bool {
	return s != "" && h.regex != nil && h.regex.MatchString(s) != h.Not
}

func (h *Hook) matchMessage(ctx context.Context, m *pattern.Matcher, e *email.Email, cache *pattern.Cache) bool {
	return h.pat != nil && m.Match(ctx, h.pat, e, cache) != h.Not
}

// FolderHook runs the folder hooks matching the path or description of a
// mailbox that is being opened. It stops at the first failing command.
func (r *Registry) FolderHook(ctx context.Context, path, desc string) error {
	if path == "" && desc == "" {
		return nil
	}
	for _, h := range r.Hooks(Folder) {
		match := path
		if !h.matchString(path) {
			if !h.matchString(desc) {
				continue
			}
			match = desc
		}
		if err := r.run(ctx, Folder, h, match); err != nil {
			return err
		}
	}
	return nil
}

// FindHook returns the command of the first hook of one of the types in typ
// whose regular expression matches s. Used for mbox hooks and the commands
// of compressed mailboxes.
func (r *Registry) FindHook(typ Type, s string) (string, bool) {
	for _, h := range r.Hooks(typ) {
		if h.matchString(s) {
			return h.Command, true
		}
	}
	return "", false
}

// MessageHook runs the hooks of type typ whose pattern matches e, e.g. the
// message, send or reply hooks. It stops at the first failing command.
func (r *Registry) MessageHook(ctx context.Context, m *pattern.Matcher, e *email.Email, typ Type) error {
	cache := &pattern.Cache{}
	for _, h := range r.Hooks(typ) {
		if !h.matchMessage(ctx, m, e, cache) {
			continue
		}
		var id string
		if e.Env != nil {
			id = e.Env.MessageID
		}
		if err := r.run(ctx, typ, h, id); err != nil {
			return err
		}
		// Commands can change the outcome of patterns.
		cache = &pattern.Cache{}
	}
	return nil
}

// addrHook returns the expanded command of the first hook of type typ that
// matches e.
func (r *Registry) addrHook(ctx context.Context, m *pattern.Matcher, e *email.Email, typ Type) (string, bool) {
	cache := &pattern.Cache{}
	for _, h := range r.Hooks(typ) {
		if h.matchMessage(ctx, m, e, cache) {
			return Expand(r.Config, h.Command, m.Mailbox, e), true
		}
	}
	return "", false
}

// safePath returns a mailbox name made from an address: lower case, without
// domain unless SaveAddress is set, and without path separators and spaces.
func (r *Registry) safePath(a *address.Address) string {
	s := strings.ToLower(a.Mailbox)
	if !r.Config.Static.SaveAddress {
		if i := strings.IndexByte(s, '@'); i >= 0 {
			s = s[:i]
		}
	}
	return strings.Map(func(c rune) rune {
		if c == '/' || c == ' ' || c == '\t' {
			return '_'
		}
		return c
	}, s)
}

func first(l address.List) *address.Address {
	for _, a := range l {
		if a.Mailbox != "" && !a.Group {
			return a
		}
	}
	return nil
}

// DefaultSave returns the mailbox a message is saved to by default: the
// result of the first matching save hook, or a mailbox named after the
// correspondent.
func (r *Registry) DefaultSave(ctx context.Context, m *pattern.Matcher, e *email.Email) string {
	if path, ok := r.addrHook(ctx, m, e, Save); ok {
		return path
	}
	env := e.Env
	if env == nil {
		return ""
	}
	from := first(env.From)
	fromMe := from != nil && r.Config.User.IsUser(from)
	var a *address.Address
	switch {
	case !fromMe && first(env.ReplyTo) != nil:
		a = first(env.ReplyTo)
	case !fromMe && from != nil:
		a = from
	case first(env.To) != nil:
		a = first(env.To)
	case first(env.Cc) != nil:
		a = first(env.Cc)
	default:
		return ""
	}
	return r.Config.ExpandMailbox("=" + r.safePath(a))
}

// SelectFcc returns the mailbox a copy of an outgoing message is saved to:
// the result of the first matching fcc hook, a mailbox named after the
// recipient with SaveName or ForceName, or the Record mailbox.
func (r *Registry) SelectFcc(ctx context.Context, m *pattern.Matcher, e *email.Email) string {
	if path, ok := r.addrHook(ctx, m, e, Fcc); ok {
		return path
	}
	record := r.Config.ExpandMailbox(r.Config.Static.Record)
	static := r.Config.Static
	if !static.SaveName && !static.ForceName || e.Env == nil {
		return record
	}
	a := first(e.Env.To)
	if a == nil {
		a = first(e.Env.Cc)
	}
	if a == nil {
		a = first(e.Env.Bcc)
	}
	if a == nil {
		return record
	}
	path := r.Config.ExpandMailbox("=" + r.safePath(a))
	if !static.ForceName {
		if _, err := os.Stat(path); err != nil {
			return record
		}
	}
	return path
}

// CryptHook returns the keys configured for an address with crypt-hook.
func (r *Registry) CryptHook(a *address.Address) []string {
	var l []string
	for _, h := range r.Hooks(Crypt) {
		if h.matchString(a.Mailbox) {
			l = append(l, h.Command)
		}
	}
	return l
}

// AccountHook runs the account hooks matching a URL. Account hooks running
// commands that open URLs are not run recursively.
func (r *Registry) AccountHook(ctx context.Context, url string) error {
	if r.inAccount {
		return nil
	}
	for _, h := range r.Hooks(Account) {
		if !h.matchString(url) {
			continue
		}
		r.inAccount = true
		err := r.run(ctx, Account, h, url)
		r.inAccount = false
		if err != nil {
			return err
		}
	}
	return nil
}

// GlobalHook runs the startup, shutdown or timeout hooks. The hooks are
// independent: all are run, and the errors are returned joined.
func (r *Registry) GlobalHook(ctx context.Context, typ Type) error {
	var errs []error
	for _, h := range r.Hooks(typ & global) {
		if err := r.run(ctx, typ, h, ""); err != nil {
			pkglog.WithContext(ctx).Errorx("running hook", err, slog.String("hook", typ.String()), slog.String("command", h.Command))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IndexFormat returns the format string of the first index-format-hook with
// name whose pattern matches e.
func (r *Registry) IndexFormat(ctx context.Context, m *pattern.Matcher, name string, e *email.Email) (string, bool) {
	l := r.idxfmt[name]
	if len(l) == 0 {
		return "", false
	}
	prev := r.current
	r.current = IndexFormat
	defer func() {
		r.current = prev
	}()
	cache := &pattern.Cache{}
	for _, h := range l {
		if h.matchMessage(ctx, m, e, cache) {
			return h.Command, true
		}
	}
	return "", false
}
