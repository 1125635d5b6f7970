package mime

import (
	"strings"
)

// Param is a content-type or content-disposition parameter.
type Param struct {
	Attribute string
	Value     string
}

// ParamList is an ordered list of parameters. After RFC 2231 decoding, there
// is at most one parameter per lower case attribute.
type ParamList []Param

// Get returns the value for attr, compared case-insensitively.
func (l ParamList) Get(attr string) (string, bool) {
	for _, p := range l {
		if strings.EqualFold(p.Attribute, attr) {
			return p.Value, true
		}
	}
	return "", false
}

// Value returns the value for attr, or the empty string.
func (l ParamList) Value(attr string) string {
	v, _ := l.Get(attr)
	return v
}

// Set replaces the value of an existing attr, or prepends a new parameter.
func (l *ParamList) Set(attr, value string) {
	for i, p := range *l {
		if strings.EqualFold(p.Attribute, attr) {
			(*l)[i].Value = value
			return
		}
	}
	*l = append(ParamList{{attr, value}}, *l...)
}

// Delete removes attr.
func (l *ParamList) Delete(attr string) {
	nl := (*l)[:0]
	for _, p := range *l {
		if !strings.EqualFold(p.Attribute, attr) {
			nl = append(nl, p)
		}
	}
	*l = nl
}

// Equal returns whether l and o have the same parameters in the same order,
// with attributes compared case-insensitively and values exactly.
func (l ParamList) Equal(o ParamList) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		if !strings.EqualFold(l[i].Attribute, o[i].Attribute) || l[i].Value != o[i].Value {
			return false
		}
	}
	return true
}

// Copy returns a copy of l.
func (l ParamList) Copy() ParamList {
	if l == nil {
		return nil
	}
	return append(ParamList{}, l...)
}
