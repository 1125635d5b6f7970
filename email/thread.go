package email

// Thread is a node in the thread tree of a mailbox. Threads reference
// messages but do not own them.
type Thread struct {
	Parent *Thread
	Child  *Thread // First child.
	Next   *Thread
	Prev   *Thread

	Message *Email // Nil for a placeholder of a missing parent.

	// Messages whose sort keys order this subtree among its siblings.
	SortThreadKey *Email
	SortAuxKey    *Email

	FakeThread      bool // Parent found by subject, not by references.
	DuplicateThread bool // Message-ID seen before.
	SortChildren    bool // Children need sorting.
	CheckSubject    bool // Subject differs from the parent's.
	Visible         bool
	Deep            bool // Has visible descendants that are not direct children.
	SubtreeVisible  int  // 0: none visible, 1: some hidden, 2: all visible.
}

// Root returns the top of the tree containing t.
func (t *Thread) Root() *Thread {
	for t.Parent != nil {
		t = t.Parent
	}
	return t
}

// Walk calls fn for t and all its descendants, depth first.
func (t *Thread) Walk(fn func(n *Thread)) {
	if t == nil {
		return
	}
	fn(t)
	for c := t.Child; c != nil; c = c.Next {
		c.Walk(fn)
	}
}

// Messages returns the messages in the subtree of t, depth first.
func (t *Thread) Messages() []*Email {
	var l []*Email
	t.Walk(func(n *Thread) {
		if n.Message != nil {
			l = append(l, n.Message)
		}
	})
	return l
}

// Unlink removes t from its siblings and parent.
func (t *Thread) Unlink() {
	if t.Prev != nil {
		t.Prev.Next = t.Next
	} else if t.Parent != nil {
		t.Parent.Child = t.Next
	}
	if t.Next != nil {
		t.Next.Prev = t.Prev
	}
	t.Parent = nil
	t.Next = nil
	t.Prev = nil
}

// Insert makes t the first child of parent.
func (t *Thread) Insert(parent *Thread) {
	t.Parent = parent
	t.Prev = nil
	t.Next = parent.Child
	if parent.Child != nil {
		parent.Child.Prev = t
	}
	parent.Child = t
}

// IsDescendant returns whether t is a descendant of anc, or anc itself.
func (t *Thread) IsDescendant(anc *Thread) bool {
	for ; t != nil; t = t.Parent {
		if t == anc {
			return true
		}
	}
	return false
}
