// Package address parses, compares and writes RFC 5322 address lists, and
// classifies addresses as mailing lists or members of named groups.
package address

import (
	"strings"
)

// Address is a single mailbox, the start of a named group, or a group
// terminator.
//
// A group start has Group set and the group display name in Mailbox. The
// members follow, and the group ends with an Address without Mailbox and
// Personal.
type Address struct {
	Personal string // Display name, possibly still RFC 2047 encoded after parsing.
	Mailbox  string // addr-spec, "localpart@domain".
	Group    bool   // Start of a group, Mailbox holds the group name.

	Intl        bool // Mailbox is in IDNA A-label form.
	IntlChecked bool // Intl has been determined.
}

// List is an ordered address list. Duplicates are allowed until Dedupe.
type List []*Address

// New returns a new Address.
func New(personal, mailbox string) *Address {
	return &Address{Personal: personal, Mailbox: mailbox}
}

// Copy returns a copy of a.
func (a *Address) Copy() *Address {
	if a == nil {
		return nil
	}
	na := *a
	return &na
}

// IsGroupEnd returns whether a terminates a group.
func (a *Address) IsGroupEnd() bool {
	return !a.Group && a.Mailbox == "" && a.Personal == ""
}

// Cmp returns whether a and b have the same mailbox, ignoring case.
func Cmp(a, b *Address) bool {
	if a == nil || b == nil || a.Mailbox == "" || b.Mailbox == "" {
		return false
	}
	return strings.EqualFold(a.Mailbox, b.Mailbox)
}

// Copy returns a deep copy of l. With prune, group starts that are directly
// followed by the group end (empty groups) are left out.
func (l List) Copy(prune bool) List {
	var nl List
	for i, a := range l {
		if prune && a.Group && (i+1 == len(l) || l[i+1].Mailbox == "") {
			continue
		}
		nl = append(nl, a.Copy())
	}
	return nl
}

// Equal returns whether l and o have identical mailboxes and display names in
// the same order.
func (l List) Equal(o List) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		if l[i].Mailbox != o[i].Mailbox || l[i].Personal != o[i].Personal {
			return false
		}
	}
	return true
}

// CountRecips returns the number of addresses that are recipients, i.e. not
// group starts or ends.
func (l List) CountRecips() int {
	n := 0
	for _, a := range l {
		if a.Mailbox != "" && !a.Group {
			n++
		}
	}
	return n
}

// Search returns whether l contains an address with the mailbox of needle.
func (l List) Search(needle *Address) bool {
	for _, a := range l {
		if Cmp(needle, a) {
			return true
		}
	}
	return false
}

// Remove removes all addresses with mailbox, ignoring case. It returns whether
// anything was removed.
func (l *List) Remove(mailbox string) bool {
	if mailbox == "" {
		return false
	}
	removed := false
	nl := (*l)[:0]
	for _, a := range *l {
		if strings.EqualFold(a.Mailbox, mailbox) {
			removed = true
			continue
		}
		nl = append(nl, a)
	}
	*l = nl
	return removed
}

// Dedupe removes later addresses whose mailbox equals that of an earlier
// address, ignoring ASCII case.
func (l *List) Dedupe() {
	seen := map[string]bool{}
	nl := (*l)[:0]
	for _, a := range *l {
		if a.Mailbox != "" && !a.Group {
			k := strings.ToLower(a.Mailbox)
			if seen[k] {
				pkglog.Debug("removing duplicate address")
				continue
			}
			seen[k] = true
		}
		nl = append(nl, a)
	}
	*l = nl
}

// RemoveXrefs removes addresses from l that are present in ref.
func (l *List) RemoveXrefs(ref List) {
	nl := (*l)[:0]
	for _, b := range *l {
		if ref.Search(b) {
			continue
		}
		nl = append(nl, b)
	}
	*l = nl
}

// Qualify adds @host to mailboxes without a domain.
func (l List) Qualify(host string) {
	if host == "" {
		return
	}
	for _, a := range l {
		if !a.Group && a.Mailbox != "" && !strings.Contains(a.Mailbox, "@") {
			a.Mailbox += "@" + host
		}
	}
}

// Mailboxes returns the mailboxes of all recipient addresses.
func (l List) Mailboxes() []string {
	var r []string
	for _, a := range l {
		if a.Mailbox != "" && !a.Group {
			r = append(r, a.Mailbox)
		}
	}
	return r
}

// ValidMsgID returns whether msgid looks like "<local@domain>", with only
// ASCII.
func ValidMsgID(msgid string) bool {
	if len(msgid) < 5 || msgid[0] != '<' || msgid[len(msgid)-1] != '>' {
		return false
	}
	if !strings.Contains(msgid, "@") {
		return false
	}
	for i := 0; i < len(msgid); i++ {
		if msgid[i] > 127 {
			return false
		}
	}
	return true
}
