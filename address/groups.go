package address

import (
	"sort"
	"strings"

	"github.com/muacore/mua/rx"
)

// Group is a named set of addresses, given explicitly or by regular
// expressions.
type Group struct {
	Name  string
	Addrs List
	Rx    rx.List
}

// Groups holds the named address groups, referenced in patterns with %.
type Groups map[string]*Group

// Add adds addresses and expressions to group name, creating it if needed.
func (g Groups) Add(name string, addrs List, exprs ...string) error {
	grp := g[name]
	if grp == nil {
		grp = &Group{Name: name}
		g[name] = grp
	}
	for _, a := range addrs {
		if a.Group || a.Mailbox == "" || grp.Addrs.Search(a) {
			continue
		}
		grp.Addrs = append(grp.Addrs, a.Copy())
	}
	for _, e := range exprs {
		if err := grp.Rx.Add(e); err != nil {
			return err
		}
	}
	return nil
}

// Remove removes a group, or all groups for "*".
func (g Groups) Remove(name string) {
	if name == "*" {
		for k := range g {
			delete(g, k)
		}
		return
	}
	delete(g, name)
}

// Names returns the sorted group names.
func (g Groups) Names() []string {
	var l []string
	for k := range g {
		l = append(l, k)
	}
	sort.Strings(l)
	return l
}

// Match returns whether mailbox is a member of group name.
func (g Groups) Match(name, mailbox string) bool {
	grp := g[name]
	if grp == nil || mailbox == "" {
		return false
	}
	if grp.Rx.Match(mailbox) {
		return true
	}
	for _, a := range grp.Addrs {
		if strings.EqualFold(a.Mailbox, mailbox) {
			return true
		}
	}
	return false
}
