package address

import (
	"strings"

	"golang.org/x/net/idna"
)

func splitMailbox(mailbox string) (local, domain string, ok bool) {
	i := strings.LastIndexByte(mailbox, '@')
	if i < 0 {
		return "", "", false
	}
	return mailbox[:i], mailbox[i+1:], true
}

// ToIntl converts the domains of all addresses to IDNA A-labels, for use on
// the wire. Addresses that cannot be converted are left alone. It returns the
// mailboxes that failed conversion.
func (l List) ToIntl() (failed []string) {
	for _, a := range l {
		if a.Group || a.Mailbox == "" || a.IntlChecked && a.Intl {
			continue
		}
		local, domain, ok := splitMailbox(a.Mailbox)
		if !ok {
			continue
		}
		ascii, err := idna.Lookup.ToASCII(domain)
		if err != nil {
			pkglog.Debugx("converting domain to idna", err)
			failed = append(failed, a.Mailbox)
			continue
		}
		a.Mailbox = local + "@" + ascii
		a.Intl = true
		a.IntlChecked = true
	}
	return failed
}

// ToLocal converts A-label domains to their unicode form, for display.
func (l List) ToLocal() {
	for _, a := range l {
		if a.Group || a.Mailbox == "" || a.IntlChecked && !a.Intl {
			continue
		}
		local, domain, ok := splitMailbox(a.Mailbox)
		if !ok {
			continue
		}
		u, err := idna.Display.ToUnicode(domain)
		if err != nil {
			pkglog.Debugx("converting domain from idna", err)
			continue
		}
		a.Mailbox = local + "@" + u
		a.Intl = false
		a.IntlChecked = true
	}
}
