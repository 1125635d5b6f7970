package email

import (
	"strings"
)

// Tag is a driver tag of a message, e.g. a notmuch or IMAP keyword.
type Tag struct {
	Name        string
	Transformed string // Display form, from the tag transforms.
	Hidden      bool
}

// Tags is the ordered list of tags of a message.
type Tags []Tag

// Get returns the visible tag names separated by a space.
func (t Tags) Get() string {
	return t.join(false, false)
}

// GetWithHidden returns all tag names separated by a space.
func (t Tags) GetWithHidden() string {
	return t.join(true, false)
}

// GetTransformed returns the visible tags in display form.
func (t Tags) GetTransformed() string {
	return t.join(false, true)
}

// GetTransformedFor returns the display form of tag name, or the empty string
// if the message does not have the tag.
func (t Tags) GetTransformedFor(name string) string {
	for _, tag := range t {
		if tag.Name == name {
			if tag.Transformed != "" {
				return tag.Transformed
			}
			return tag.Name
		}
	}
	return ""
}

func (t Tags) join(hidden, transformed bool) string {
	var l []string
	for _, tag := range t {
		if tag.Hidden && !hidden {
			continue
		}
		s := tag.Name
		if transformed && tag.Transformed != "" {
			s = tag.Transformed
		}
		l = append(l, s)
	}
	return strings.Join(l, " ")
}

// Replace sets the tags from s, a space separated list. It returns whether the
// tags changed.
func (t *Tags) Replace(s string, transforms map[string]string, hiddenTags []string) bool {
	old := t.GetWithHidden()
	*t = nil
	for _, name := range strings.Fields(s) {
		t.add(name, transforms, hiddenTags)
	}
	return old != t.GetWithHidden()
}

func (t *Tags) add(name string, transforms map[string]string, hiddenTags []string) {
	for _, tag := range *t {
		if tag.Name == name {
			return
		}
	}
	tag := Tag{Name: name, Transformed: transforms[name]}
	for _, h := range hiddenTags {
		if h == name {
			tag.Hidden = true
		}
	}
	*t = append(*t, tag)
}

// Has returns whether name is one of the tags.
func (t Tags) Has(name string) bool {
	for _, tag := range t {
		if tag.Name == name {
			return true
		}
	}
	return false
}
