package address

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/muacore/mua/rx"
)

// Lists classifies addresses as mailing lists. Subscribed lists are also
// mailing lists.
type Lists struct {
	sync.Mutex
	MailLists    rx.List
	UnMailLists  rx.List
	Subscribed   rx.List
	UnSubscribed rx.List

	// List-Post URLs already processed by AutoSubscribe.
	seen *lru.Cache[string, struct{}]
}

// IsMailList returns whether a is a known mailing list address.
func (l *Lists) IsMailList(a *Address) bool {
	if a == nil || a.Mailbox == "" {
		return false
	}
	l.Lock()
	defer l.Unlock()
	return !l.UnMailLists.Match(a.Mailbox) && l.MailLists.Match(a.Mailbox)
}

// IsSubscribed returns whether a is a subscribed mailing list address.
func (l *Lists) IsSubscribed(a *Address) bool {
	if a == nil || a.Mailbox == "" {
		return false
	}
	l.Lock()
	defer l.Unlock()
	return !l.UnMailLists.Match(a.Mailbox) && !l.UnSubscribed.Match(a.Mailbox) && l.Subscribed.Match(a.Mailbox)
}

// FirstList returns the first address in any of the address lists that is a
// mailing list, and whether it is subscribed. A subscribed list is preferred.
func (l *Lists) FirstList(lists ...List) (*Address, bool) {
	var first *Address
	for _, al := range lists {
		for _, a := range al {
			if l.IsSubscribed(a) {
				return a, true
			}
			if first == nil && l.IsMailList(a) {
				first = a
			}
		}
	}
	return first, false
}

// AutoSubscribe registers the list address of a List-Post mailto URL as a
// subscribed mailing list, unless it is excluded by the UnMailLists or
// UnSubscribed lists. Each URL is processed once.
func (l *Lists) AutoSubscribe(mailto string) {
	if mailto == "" {
		return
	}
	key := strings.ToLower(mailto)

	l.Lock()
	defer l.Unlock()
	if l.seen == nil {
		l.seen, _ = lru.New[string, struct{}](200)
	}
	if ok, _ := l.seen.ContainsOrAdd(key, struct{}{}); ok {
		return
	}

	to := mailtoRecipients(mailto)
	if len(to) == 0 || to[0].Mailbox == "" {
		return
	}
	mb := to[0].Mailbox
	if l.Subscribed.Match(mb) || l.UnMailLists.Match(mb) || l.UnSubscribed.Match(mb) {
		return
	}
	expr := "^" + regexp.QuoteMeta(mb) + "$"
	if err := l.MailLists.Add(expr); err != nil {
		pkglog.Errorx("adding auto-subscribed mailing list", err)
		return
	}
	if err := l.Subscribed.Add(expr); err != nil {
		pkglog.Errorx("adding auto-subscribed mailing list", err)
		return
	}
	pkglog.Debug("auto-subscribed to mailing list")
}

// mailtoRecipients returns the addresses in the path of a mailto URL.
func mailtoRecipients(s string) List {
	u, err := url.Parse(s)
	if err != nil || !strings.EqualFold(u.Scheme, "mailto") || u.Host != "" {
		return nil
	}
	path := u.Opaque
	if path == "" {
		path = u.Path
	}
	p, err := url.PathUnescape(path)
	if err != nil {
		return nil
	}
	return Parse(p)
}

// User recognizes the addresses of the user.
type User struct {
	Username     string // Local login name.
	Hostname     string
	From         *Address
	Alternates   rx.List
	UnAlternates rx.List
}

// IsUser returns whether a is one of the user's addresses.
func (u *User) IsUser(a *Address) bool {
	if a == nil || a.Mailbox == "" {
		return false
	}
	mb := a.Mailbox
	if u.Username != "" {
		if strings.EqualFold(mb, u.Username) {
			return true
		}
		if u.Hostname != "" {
			if strings.EqualFold(mb, u.Username+"@"+u.Hostname) {
				return true
			}
			if short, _, ok := strings.Cut(u.Hostname, "."); ok && strings.EqualFold(mb, u.Username+"@"+short) {
				return true
			}
		}
	}
	if u.From != nil && strings.EqualFold(mb, u.From.Mailbox) {
		return true
	}
	if u.UnAlternates.Match(mb) {
		return false
	}
	return u.Alternates.Match(mb)
}

// HasUser returns whether any address in l is the user.
func (u *User) HasUser(l List) bool {
	for _, a := range l {
		if u.IsUser(a) {
			return true
		}
	}
	return false
}
