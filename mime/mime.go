// Package mime has the MIME content type, transfer encoding and disposition
// enumerations, and content-type parameter lists.
package mime

import (
	"strings"
)

// Type is the primary content type of a body part.
type Type int

const (
	TypeOther Type = iota
	TypeAudio
	TypeApplication
	TypeImage
	TypeMessage
	TypeModel
	TypeMultipart
	TypeText
	TypeVideo
	TypeAny // Matches any type, only for lookups.
)

var typeNames = []string{"x-unknown", "audio", "application", "image", "message", "model", "multipart", "text", "video", "*"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "x-unknown"
	}
	return typeNames[t]
}

// ParseType returns the type for a primary type name. Unknown names return
// TypeOther.
func ParseType(s string) Type {
	s = strings.ToLower(s)
	switch {
	case s == "text":
		return TypeText
	case s == "multipart":
		return TypeMultipart
	case s == "x-sun-attachment":
		return TypeMultipart
	case s == "application":
		return TypeApplication
	case s == "message":
		return TypeMessage
	case s == "image":
		return TypeImage
	case s == "audio":
		return TypeAudio
	case s == "video":
		return TypeVideo
	case s == "model":
		return TypeModel
	case s == "*" || s == ".*":
		return TypeAny
	}
	return TypeOther
}

// Encoding is a content transfer encoding.
type Encoding int

const (
	EncOther Encoding = iota
	Enc7bit
	Enc8bit
	EncQuotedPrintable
	EncBase64
	EncBinary
	EncUUencoded
)

var encodingNames = []string{"x-unknown", "7bit", "8bit", "quoted-printable", "base64", "binary", "x-uuencoded"}

func (e Encoding) String() string {
	if e < 0 || int(e) >= len(encodingNames) {
		return "x-unknown"
	}
	return encodingNames[e]
}

// ParseEncoding returns the encoding for a Content-Transfer-Encoding value.
func ParseEncoding(s string) Encoding {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "7bit":
		return Enc7bit
	case "8bit":
		return Enc8bit
	case "binary":
		return EncBinary
	case "quoted-printable":
		return EncQuotedPrintable
	case "base64":
		return EncBase64
	case "x-uuencode", "x-uuencoded", "uuencode":
		return EncUUencoded
	}
	return EncOther
}

// Disposition is a content disposition.
type Disposition int

const (
	DispInline Disposition = iota
	DispAttach
	DispFormData
	DispNone // No preference.
)

func (d Disposition) String() string {
	switch d {
	case DispInline:
		return "inline"
	case DispAttach:
		return "attachment"
	case DispFormData:
		return "form-data"
	}
	return ""
}

// Specials are the characters that must be quoted in parameter values, RFC
// 2045 tspecials plus space and tab.
const Specials = "@.,;:<>[]\\\"()?/= \t"

// NeedsQuote returns whether s must be written as a quoted string in a
// structured header.
func NeedsQuote(s string) bool {
	return s == "" || strings.ContainsAny(s, Specials)
}

// Hex maps ASCII bytes to their hexadecimal value, and -1 for other bytes.
var Hex [128]int8

func init() {
	for i := range Hex {
		Hex[i] = -1
	}
	for c := '0'; c <= '9'; c++ {
		Hex[c] = int8(c - '0')
	}
	for c := 'a'; c <= 'f'; c++ {
		Hex[c] = int8(c - 'a' + 10)
		Hex[c-'a'+'A'] = int8(c - 'a' + 10)
	}
}

// HexVal returns the value of hexadecimal digit c, or -1.
func HexVal(c byte) int {
	if c >= 128 {
		return -1
	}
	return int(Hex[c])
}

// IsText returns whether the type and subtype are text that can be shown
// directly.
func IsText(t Type, subtype string) bool {
	if t == TypeText {
		return true
	}
	if t == TypeMessage {
		return strings.EqualFold(subtype, "delivery-status")
	}
	if t == TypeApplication {
		return strings.EqualFold(subtype, "pgp-keys")
	}
	return false
}

// IsMessage returns whether t/subtype contains an embedded message.
func IsMessage(t Type, subtype string) bool {
	if t != TypeMessage {
		return false
	}
	s := strings.ToLower(subtype)
	return s == "rfc822" || s == "news" || s == "global"
}
