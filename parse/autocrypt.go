package parse

import (
	"strings"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mua-"
)

// parseAutocrypt parses an Autocrypt header. Keydata is folded over lines
// without continuations, so values may contain spaces.
func parseAutocrypt(c *mua.Config, s string) email.Autocrypt {
	var ac email.Autocrypt
	pl := ParseParameters(c, s, true)
	if len(pl) == 0 {
		ac.Invalid = true
		return ac
	}
	for _, p := range pl {
		switch strings.ToLower(p.Attribute) {
		case "addr":
			if ac.Addr != "" {
				ac.Invalid = true
				return ac
			}
			ac.Addr = p.Value
		case "prefer-encrypt":
			ac.PreferEncrypt = strings.EqualFold(p.Value, "mutual")
		case "keydata":
			if ac.Keydata != "" {
				ac.Invalid = true
				return ac
			}
			ac.Keydata = p.Value
		default:
			// Unknown attributes are critical unless they start with an underscore.
			if !strings.HasPrefix(p.Attribute, "_") {
				ac.Invalid = true
				return ac
			}
		}
	}
	if ac.Addr == "" || ac.Keydata == "" {
		ac.Invalid = true
	}
	return ac
}
