// Package thread builds the thread forest of a mailbox from the Message-ID,
// In-Reply-To and References headers of its messages.
//
// Missing parents are represented by placeholder nodes without message.
// Without StrictThreads, replies whose parent cannot be found by reference
// are attached to an earlier message with the same subject, and marked as a
// fake thread.
package thread

import (
	"log/slog"
	"slices"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
)

var pkglog = mlog.New("thread", nil)

// Tree is the thread forest of a set of messages.
type Tree struct {
	Roots []*email.Thread

	byID map[string]*email.Thread
}

// Build threads emails and sets the Thread of each message. Threads of a
// previous build are discarded.
func Build(c *mua.Config, emails []*email.Email) *Tree {
	t := &Tree{byID: map[string]*email.Thread{}}

	// Use a temporary top node so attached and dangling nodes can be told
	// apart.
	top := &email.Thread{}

	for _, e := range emails {
		e.Thread = nil
		id := ""
		if e.Env != nil {
			id = e.Env.MessageID
		}
		n := t.byID[id]
		if id != "" && n != nil && n.Message == nil {
			n.Message = e
			e.Thread = n
			continue
		}
		nn := &email.Thread{Message: e}
		e.Thread = nn
		if id == "" {
			continue
		}
		if n != nil && !c.Static.NoDuplicateThreads {
			if n.DuplicateThread {
				n = n.Parent
			}
			appendChild(n, nn)
			nn.DuplicateThread = true
			continue
		}
		if n == nil {
			t.byID[id] = nn
		}
	}

	for _, e := range emails {
		n := e.Thread
		if n.Parent != nil {
			// Duplicates are already placed.
			continue
		}
		for _, ref := range parentRefs(e.Env) {
			p := t.byID[ref]
			if p == nil {
				p = &email.Thread{}
				t.byID[ref] = p
			} else if p.DuplicateThread {
				p = p.Parent
			}
			if p.IsDescendant(n) {
				// No loops.
				continue
			}
			if n.Parent != nil {
				n.Unlink()
			}
			appendChild(p, n)
			n = p
			if n.Message != nil || (n.Parent != nil && n.Parent != top) {
				break
			}
		}
		if n.Parent == nil {
			appendChild(top, n)
		}
	}

	for n := top.Child; n != nil; n = n.Next {
		t.Roots = append(t.Roots, n)
	}
	for _, n := range t.Roots {
		n.Parent = nil
		n.Prev = nil
		n.Next = nil
	}
	t.pruneRoots()

	if !c.Static.StrictThreads {
		t.pseudoThreads()
	}
	pkglog.Debug("threads built", slog.Int("messages", len(emails)), slog.Int("threads", len(t.Roots)))
	return t
}

// parentRefs returns the message-ids of the ancestors of a message, the
// parent first. The first In-Reply-To is preferred, followed by the
// References. Some mailers put the parent in In-Reply-To and only the older
// ancestors in References.
func parentRefs(env *email.Envelope) []string {
	if env == nil {
		return nil
	}
	if len(env.InReplyTo) == 0 {
		return env.References
	}
	if len(env.References) == 0 {
		return env.InReplyTo
	}
	l := []string{env.InReplyTo[0]}
	for _, r := range env.References {
		if r != l[0] {
			l = append(l, r)
		}
	}
	return l
}

// appendChild adds n as the last child of parent.
func appendChild(parent, n *email.Thread) {
	n.Parent = parent
	n.Next = nil
	if parent.Child == nil {
		n.Prev = nil
		parent.Child = n
		return
	}
	last := parent.Child
	for last.Next != nil {
		last = last.Next
	}
	last.Next = n
	n.Prev = last
}

// pruneRoots removes placeholder roots without children, and replaces
// placeholder roots with a single child by that child.
func (t *Tree) pruneRoots() {
	var roots []*email.Thread
	for _, n := range t.Roots {
		if n.Message == nil && n.Child == nil {
			continue
		}
		if n.Message == nil && n.Child.Next == nil {
			c := n.Child
			c.Parent = nil
			c.Prev = nil
			n.Child = nil
			n = c
		}
		roots = append(roots, n)
	}
	t.Roots = roots
}

// firstMessage returns the first message in the subtree of n.
func firstMessage(n *email.Thread) *email.Email {
	for n != nil && n.Message == nil {
		n = n.Child
	}
	if n == nil {
		return nil
	}
	return n.Message
}

// pseudoThreads attaches root replies to the most recent earlier message with
// the same real subject.
func (t *Tree) pseudoThreads() {
	bySubject := map[string][]*email.Thread{}
	for _, r := range t.Roots {
		r.Walk(func(n *email.Thread) {
			if n.Message == nil || n.Message.Env == nil || n.Message.Env.RealSubj == "" {
				return
			}
			// Only messages that start a subject are interesting parents.
			if p := n.Parent; p != nil && p.Message != nil && p.Message.Env != nil && p.Message.Env.RealSubj == n.Message.Env.RealSubj {
				return
			}
			bySubject[n.Message.Env.RealSubj] = append(bySubject[n.Message.Env.RealSubj], n)
		})
	}

	var roots []*email.Thread
	for _, r := range t.Roots {
		m := firstMessage(r)
		if m == nil || m.Env == nil || m.Env.RealSubj == "" || m.Env.RealSubj == m.Env.Subject {
			roots = append(roots, r)
			continue
		}
		var best *email.Thread
		for _, cand := range bySubject[m.Env.RealSubj] {
			cm := cand.Message
			if cand == r || cand.FakeThread || cand.IsDescendant(r) || cm.DateSent > m.DateSent {
				continue
			}
			if best == nil || best.Message.DateSent < cm.DateSent {
				best = cand
			}
		}
		if best == nil {
			roots = append(roots, r)
			continue
		}
		r.FakeThread = true
		appendChild(best, r)
		best.SortChildren = true
	}
	t.Roots = roots
}

// Sort orders the roots and the children of each node by cmp applied to the
// first message of each subtree.
func (t *Tree) Sort(cmp func(a, b *email.Email) int) {
	key := func(n *email.Thread) *email.Email {
		if n.SortThreadKey == nil {
			n.SortThreadKey = firstMessage(n)
		}
		return n.SortThreadKey
	}
	less := func(a, b *email.Thread) int {
		ka, kb := key(a), key(b)
		if ka == nil || kb == nil {
			return 0
		}
		return cmp(ka, kb)
	}
	slices.SortStableFunc(t.Roots, less)
	for _, r := range t.Roots {
		r.Walk(func(n *email.Thread) {
			if n.Child == nil || n.Child.Next == nil {
				n.SortChildren = false
				return
			}
			var l []*email.Thread
			for c := n.Child; c != nil; c = c.Next {
				l = append(l, c)
			}
			slices.SortStableFunc(l, less)
			n.Child = nil
			for _, c := range l {
				appendChild(n, c)
			}
			n.SortChildren = false
		})
	}
}

// Messages returns the messages in display order: each thread depth first,
// threads in the order of the roots.
func (t *Tree) Messages() []*email.Email {
	var l []*email.Email
	for _, r := range t.Roots {
		l = append(l, r.Messages()...)
	}
	return l
}

// ByMessageID returns the node for a message-id, possibly a placeholder.
func (t *Tree) ByMessageID(id string) *email.Thread {
	return t.byID[id]
}

// Depth returns the number of ancestors of n.
func Depth(n *email.Thread) int {
	d := 0
	for ; n.Parent != nil; n = n.Parent {
		d++
	}
	return d
}

// Parent returns the nearest ancestor of e that has a message.
func Parent(e *email.Email) *email.Email {
	if e.Thread == nil {
		return nil
	}
	for n := e.Thread.Parent; n != nil; n = n.Parent {
		if n.Message != nil {
			return n.Message
		}
	}
	return nil
}

// Children returns the messages directly below e, looking through
// placeholders.
func Children(e *email.Email) []*email.Email {
	if e.Thread == nil {
		return nil
	}
	var l []*email.Email
	var walk func(n *email.Thread)
	walk = func(n *email.Thread) {
		for c := n.Child; c != nil; c = c.Next {
			if c.Message != nil {
				l = append(l, c.Message)
			} else {
				walk(c)
			}
		}
	}
	walk(e.Thread)
	return l
}

// Thread returns all messages in the thread of e.
func Thread(e *email.Email) []*email.Email {
	if e.Thread == nil {
		return []*email.Email{e}
	}
	return e.Thread.Root().Messages()
}
