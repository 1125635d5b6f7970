package address

import (
	"fmt"
	"io"
	"strings"
)

// needsQuote returns whether a display name must be quoted.
func needsQuote(s string) bool {
	return strings.ContainsAny(s, Specials)
}

// quote returns s as a quoted string.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

// write returns the address in header form. With display, display names are
// not quoted.
func (a *Address) write(display bool) string {
	var b strings.Builder
	if a.Personal != "" {
		if !display && needsQuote(a.Personal) {
			b.WriteString(quote(a.Personal))
		} else {
			b.WriteString(a.Personal)
		}
		b.WriteByte(' ')
	}
	angle := a.Personal != "" || strings.HasPrefix(a.Mailbox, "@")
	if angle {
		b.WriteByte('<')
	}
	if a.Mailbox != "" {
		if a.Mailbox != "@" {
			b.WriteString(a.Mailbox)
		}
		if angle {
			b.WriteByte('>')
		}
		if a.Group {
			b.WriteString(": ")
		}
	} else {
		if angle {
			b.WriteByte('>')
		}
		b.WriteByte(';')
	}
	return b.String()
}

// String returns a in the form used in headers.
func (a *Address) String() string {
	return a.write(false)
}

// ForDisplay returns a with unquoted display name, for showing to users.
func (a *Address) ForDisplay() string {
	return a.write(true)
}

// String returns the list on a single line, addresses separated by ", ".
func (l List) String() string {
	return l.Write(false)
}

// Write returns the list on a single line. With display, display names are
// not quoted.
func (l List) Write(display bool) string {
	var b strings.Builder
	for i, a := range l {
		b.WriteString(a.write(display))
		// No separator after a group start, or before a group end.
		if a.Group || i+1 == len(l) || l[i+1].IsGroupEnd() {
			continue
		}
		b.WriteString(", ")
	}
	return b.String()
}

// MaxCols is the column at which address headers are folded.
const MaxCols = 74

// WriteHeader returns "Header: addresses\n", folded before MaxCols columns.
// Folding happens between addresses, continuation lines start with a tab.
func (l List) WriteHeader(header string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString(": ")
	col := len(header) + 2
	sep := false
	for i, a := range l {
		s := a.write(false)
		if sep {
			if col+1+len(s) > MaxCols {
				b.WriteString("\n\t")
				col = 8
			} else {
				b.WriteByte(' ')
				col++
			}
		}
		b.WriteString(s)
		col += len(s)
		sep = false
		if !a.Group && i+1 < len(l) && !l[i+1].IsGroupEnd() {
			b.WriteByte(',')
			col++
			sep = true
		}
	}
	b.WriteByte('\n')
	return b.String()
}

// WriteFile writes the header line from WriteHeader to w. Nothing is written
// for an empty list.
func (l List) WriteFile(w io.Writer, header string) error {
	if len(l) == 0 {
		return nil
	}
	if _, err := io.WriteString(w, l.WriteHeader(header)); err != nil {
		return fmt.Errorf("writing %s header: %w", header, err)
	}
	return nil
}
