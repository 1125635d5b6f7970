// Package rx implements the lists of regular expressions used for address
// classification, spam tagging and header weeding.
package rx

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Compile compiles a regular expression. If the expression has no upper case
// letters, matching is case-insensitive.
func Compile(s string) (*regexp.Regexp, error) {
	if IsLower(s) {
		return regexp.Compile("(?i)" + s)
	}
	return regexp.Compile(s)
}

// CompileFold compiles a regular expression that always matches
// case-insensitively.
func CompileFold(s string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + s)
}

// IsLower returns whether s has no upper case letters.
func IsLower(s string) bool {
	for _, c := range s {
		if unicode.IsUpper(c) {
			return false
		}
	}
	return true
}

// Regex is a compiled expression with its source text.
type Regex struct {
	Pattern string
	Regexp  *regexp.Regexp
}

// List is an ordered list of regular expressions.
type List []Regex

// Add compiles s case-insensitively and appends it, unless an expression with
// the same text is already present.
func (l *List) Add(s string) error {
	for _, r := range *l {
		if strings.EqualFold(r.Pattern, s) {
			return nil
		}
	}
	re, err := CompileFold(s)
	if err != nil {
		return fmt.Errorf("compiling %q: %w", s, err)
	}
	*l = append(*l, Regex{s, re})
	return nil
}

// Remove removes the expression with text s. A text of "*" clears the list.
// Remove returns whether anything was removed.
func (l *List) Remove(s string) bool {
	if s == "*" {
		n := len(*l)
		*l = nil
		return n > 0
	}
	for i, r := range *l {
		if strings.EqualFold(r.Pattern, s) {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return true
		}
	}
	return false
}

// Match returns whether any expression matches s.
func (l List) Match(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range l {
		if r.Regexp.MatchString(s) {
			return true
		}
	}
	return false
}

// Replace is an expression with a template. The template can reference
// submatches with %1 to %9.
type Replace struct {
	Regex
	Template string
	nmatch   int
}

// ReplaceList is an ordered list of expressions with templates, used for
// classifying spam.
type ReplaceList []Replace

// Add adds or replaces the template for expression s.
func (l *ReplaceList) Add(s, template string) error {
	re, err := CompileFold(s)
	if err != nil {
		return fmt.Errorf("compiling %q: %w", s, err)
	}
	nmatch := 0
	for i := 0; i+1 < len(template); i++ {
		if template[i] == '%' && template[i+1] >= '0' && template[i+1] <= '9' {
			n, _ := strconv.Atoi(template[i+1 : i+2])
			if n > nmatch {
				nmatch = n
			}
		}
	}
	if nmatch > re.NumSubexp() {
		return fmt.Errorf("template %q references more submatches than %q has", template, s)
	}
	for i, r := range *l {
		if strings.EqualFold(r.Pattern, s) {
			(*l)[i].Template = template
			(*l)[i].nmatch = nmatch
			return nil
		}
	}
	*l = append(*l, Replace{Regex{s, re}, template, nmatch})
	return nil
}

// Remove removes expression s, or all when s is "*".
func (l *ReplaceList) Remove(s string) bool {
	if s == "*" {
		n := len(*l)
		*l = nil
		return n > 0
	}
	for i, r := range *l {
		if strings.EqualFold(r.Pattern, s) {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return true
		}
	}
	return false
}

// Match returns the expanded template of the first matching expression.
func (l ReplaceList) Match(s string) (string, bool) {
	for _, r := range l {
		m := r.Regexp.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		var b strings.Builder
		t := r.Template
		for i := 0; i < len(t); i++ {
			if t[i] == '%' && i+1 < len(t) && t[i+1] >= '0' && t[i+1] <= '9' {
				n := int(t[i+1] - '0')
				if n < len(m) {
					b.WriteString(m[n])
				}
				i++
				continue
			}
			b.WriteByte(t[i])
		}
		return b.String(), true
	}
	return "", false
}

// PrefixList is a list of lower case prefixes, with "*" matching everything.
// Used for the ignore and unignore lists of header names.
type PrefixList []string

// Add adds prefix s. Adding "*" is kept as a single entry.
func (l *PrefixList) Add(s string) {
	s = strings.ToLower(s)
	for _, p := range *l {
		if p == s {
			return
		}
	}
	*l = append(*l, s)
}

// Remove removes prefix s. A value of "*" clears the list.
func (l *PrefixList) Remove(s string) {
	s = strings.ToLower(s)
	if s == "*" {
		*l = nil
		return
	}
	for i, p := range *l {
		if p == s {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return
		}
	}
}

// Match returns whether s starts with one of the prefixes, case-insensitively.
func (l PrefixList) Match(s string) bool {
	for _, p := range l {
		if p == "*" || len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			return true
		}
	}
	return false
}
