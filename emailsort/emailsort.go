// Package emailsort orders the messages of a mailbox for display.
//
// An order is a primary and an auxiliary comparison, with the position in the
// mailbox as final tie breaker so the order is total and sorting is stable.
// Messages stay in file order in the mailbox, sorting only changes the view.
package emailsort

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/muacore/mua/address"
	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
	"github.com/muacore/mua/thread"
)

var pkglog = mlog.New("emailsort", nil)

var ErrOrder = errors.New("unknown sort order")

// Key is a property messages are compared by.
type Key int

const (
	KeyDate Key = iota
	KeyReceived
	KeyFrom
	KeyTo
	KeySubject
	KeyLabel
	KeyScore
	KeySize
	KeySpam
	KeyUnsorted
	KeyThreads // Thread tree, siblings ordered by the auxiliary order.
)

var keyNames = map[string]Key{
	"date":          KeyDate,
	"date-sent":     KeyDate,
	"date-received": KeyReceived,
	"from":          KeyFrom,
	"to":            KeyTo,
	"subject":       KeySubject,
	"label":         KeyLabel,
	"score":         KeyScore,
	"size":          KeySize,
	"spam":          KeySpam,
	"unsorted":      KeyUnsorted,
	"mailbox-order": KeyUnsorted,
	"threads":       KeyThreads,
}

func (k Key) String() string {
	for s, kk := range keyNames {
		if kk == k && s != "date-sent" && s != "mailbox-order" {
			return s
		}
	}
	return "key" + strconv.Itoa(int(k))
}

// Order is a Key with direction.
type Order struct {
	Key     Key
	Reverse bool
}

func (o Order) String() string {
	if o.Reverse {
		return "reverse-" + o.Key.String()
	}
	return o.Key.String()
}

// ParseOrder parses an order like "date" or "reverse-score".
func ParseOrder(s string) (Order, error) {
	var o Order
	name := strings.ToLower(strings.TrimSpace(s))
	if t, ok := strings.CutPrefix(name, "reverse-"); ok {
		o.Reverse = true
		name = t
	}
	k, ok := keyNames[name]
	if !ok {
		return Order{}, fmt.Errorf("%w: %q", ErrOrder, s)
	}
	o.Key = k
	return o, nil
}

func sign[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// name returns the display name of the first address, or its mailbox.
func name(l address.List) string {
	if len(l) == 0 || l[0] == nil {
		return ""
	}
	if l[0].Personal != "" {
		return l[0].Personal
	}
	return l[0].Mailbox
}

func env(e *email.Email) *email.Envelope {
	if e.Env == nil {
		return &email.Envelope{}
	}
	return e.Env
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// compareSpam orders messages with a spam tag before those without.
// Numeric tags compare as numbers, ties and non-numeric tags lexically.
func compareSpam(a, b *email.Email) int {
	as, bs := env(a).Spam, env(b).Spam
	switch {
	case as != "" && bs == "":
		return -1
	case as == "" && bs != "":
		return 1
	case as == "" && bs == "":
		return 0
	}
	af, arest, aok := leadingFloat(as)
	bf, brest, bok := leadingFloat(bs)
	if !aok || !bok {
		return strings.Compare(arest, brest)
	}
	if r := sign(af, bf); r != 0 {
		return r
	}
	return strings.Compare(arest, brest)
}

// leadingFloat parses the longest numeric prefix of s, returning the
// remainder. Without a numeric prefix, s is returned as remainder.
func leadingFloat(s string) (float64, string, bool) {
	t := strings.TrimLeft(s, " \t")
	for n := len(t); n > 0; n-- {
		if f, err := strconv.ParseFloat(t[:n], 64); err == nil {
			return f, t[n:], true
		}
	}
	return 0, s, false
}

// compareLabel orders messages with an X-Label before those without.
func compareLabel(a, b *email.Email) int {
	al, bl := env(a).XLabel, env(b).XLabel
	switch {
	case al != "" && bl == "":
		return -1
	case al == "" && bl != "":
		return 1
	}
	return compareFold(al, bl)
}

func compareSubject(a, b *email.Email) int {
	as, bs := env(a).RealSubj, env(b).RealSubj
	switch {
	case as == "" && bs == "":
		return sign(a.DateSent, b.DateSent)
	case as == "":
		return -1
	case bs == "":
		return 1
	}
	return compareFold(as, bs)
}

// Unsorted compares by position in the mailbox, then by creation order.
func Unsorted(a, b *email.Email) int {
	if r := sign(a.Index, b.Index); r != 0 {
		return r
	}
	return sign(a.Sequence, b.Sequence)
}

// Compare compares a and b by o alone.
func (o Order) Compare(a, b *email.Email) int {
	var r int
	switch o.Key {
	case KeyDate, KeyThreads:
		r = sign(a.DateSent, b.DateSent)
	case KeyReceived:
		r = sign(a.Received, b.Received)
	case KeyFrom:
		r = compareFold(name(env(a).From), name(env(b).From))
	case KeyTo:
		r = compareFold(name(env(a).To), name(env(b).To))
	case KeySubject:
		r = compareSubject(a, b)
	case KeyLabel:
		r = compareLabel(a, b)
	case KeyScore:
		// Highest score first.
		r = sign(b.Score, a.Score)
	case KeySize:
		r = sign(a.Size(), b.Size())
	case KeySpam:
		r = compareSpam(a, b)
	case KeyUnsorted:
		r = Unsorted(a, b)
	}
	if o.Reverse {
		return -r
	}
	return r
}

// Compose returns the comparison by primary, then aux, then mailbox
// position.
func Compose(primary, aux Order) func(a, b *email.Email) int {
	return func(a, b *email.Email) int {
		if r := primary.Compare(a, b); r != 0 {
			return r
		}
		if r := aux.Compare(a, b); r != 0 {
			return r
		}
		return Unsorted(a, b)
	}
}

// Orders returns the configured primary and auxiliary order.
func Orders(c *mua.Config) (primary, aux Order, err error) {
	primary, err = ParseOrder(c.Static.Sort)
	if err != nil {
		return
	}
	aux, err = ParseOrder(c.Static.SortAux)
	if err == nil && aux.Key == KeyThreads {
		err = fmt.Errorf("%w: threads cannot be the auxiliary order", ErrOrder)
	}
	return
}

// Sort orders the visible messages of m by primary and aux and updates the
// view of m. For KeyThreads, the messages are threaded and the thread tree is
// returned, with siblings ordered by aux.
func Sort(c *mua.Config, m *mailbox.Mailbox, primary, aux Order) *thread.Tree {
	var tree *thread.Tree
	var order []*email.Email
	if primary.Key == KeyThreads {
		tree = thread.Build(c, m.Emails)
		cmp := Compose(aux, Order{Key: KeyDate})
		if primary.Reverse {
			tree.Sort(func(a, b *email.Email) int { return -cmp(a, b) })
		} else {
			tree.Sort(cmp)
		}
		order = tree.Messages()
	} else {
		order = slices.Clone(m.Emails)
		slices.SortStableFunc(order, Compose(primary, aux))
	}
	m.UpdateView(order)
	pkglog.Debug("mailbox sorted", slog.String("path", m.Path), slog.Any("order", primary), slog.Any("aux", aux), slog.Int("visible", m.VCount()))
	return tree
}
