package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mua-"
)

// OpenFlags influence how a mailbox is opened.
type OpenFlags int

const (
	OpenReadOnly OpenFlags = 1 << iota
	OpenPeek                // Restore the access time after reading.
	OpenAppend              // Only append messages, do not parse.
	OpenVerbose
)

// Store is a mailbox storage format.
type Store interface {
	Type() Type

	// Probe returns whether the start of a file is in this format.
	Probe(head []byte) bool

	// Open parses the mailbox file into m, or prepares it for appending.
	Open(ctx context.Context, c *mua.Config, m *Mailbox) error

	// Check detects changes by other programs, parsing new messages or
	// reparsing the file.
	Check(ctx context.Context, c *mua.Config, m *Mailbox) (CheckResult, error)

	// Sync writes changed flags and headers to the file and removes
	// deleted messages. If other programs changed the file, nothing is
	// written and the result of the check is returned.
	Sync(ctx context.Context, c *mua.Config, m *Mailbox) (CheckResult, error)

	// AppendMessage writes a new message to a mailbox opened for
	// appending. Content is read from r and the envelope sender and time of
	// e are used for the separator.
	AppendMessage(ctx context.Context, c *mua.Config, m *Mailbox, e *email.Email, r io.Reader) error

	// CheckStats returns whether the mailbox file at the path of m has new
	// mail, refreshing the counts of m when the file changed. The mailbox
	// must not be open.
	CheckStats(ctx context.Context, c *mua.Config, m *Mailbox) (bool, error)

	// Close releases locks and files.
	Close(m *Mailbox) error
}

var (
	storesMu sync.Mutex
	stores   = map[Type]Store{}
)

// Register makes a store available for its type.
func Register(s Store) {
	storesMu.Lock()
	defer storesMu.Unlock()
	stores[s.Type()] = s
}

// StoreFor returns the registered store for t.
func StoreFor(t Type) (Store, error) {
	storesMu.Lock()
	defer storesMu.Unlock()
	s, ok := stores[t]
	if !ok {
		return nil, fmt.Errorf("%w: no store for %s", ErrUnknownType, t)
	}
	return s, nil
}

// Probe returns the type of the mailbox file at path. An empty or missing
// file has the configured default type.
func Probe(c *mua.Config, path string) (Type, error) {
	def, err := ParseType(c.Static.MboxType)
	if err != nil {
		return TypeUnknown, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return def, nil
	} else if err != nil {
		return TypeUnknown, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer func() {
		err := f.Close()
		pkglog.Check(err, "closing mailbox after probe")
	}()
	head := make([]byte, 64)
	n, err := io.ReadFull(f, head)
	if n == 0 {
		return def, nil
	} else if err != nil && err != io.ErrUnexpectedEOF {
		return TypeUnknown, fmt.Errorf("%w: %v", ErrIO, err)
	}
	head = head[:n]

	storesMu.Lock()
	defer storesMu.Unlock()
	for _, t := range []Type{TypeMbox, TypeMMDF} {
		if s, ok := stores[t]; ok && s.Probe(head) {
			return t, nil
		}
	}
	// Some files start with blank lines before the first separator.
	if len(bytes.TrimLeft(head, "\r\n")) == 0 {
		return def, nil
	}
	return TypeUnknown, fmt.Errorf("%w: %s", ErrFormat, path)
}

// Open probes the type of the mailbox at path and opens it with the
// registered store. The header cache hc is optional.
func Open(ctx context.Context, c *mua.Config, path string, flags OpenFlags, hc HeaderCache) (*Mailbox, Store, error) {
	typ, err := Probe(c, path)
	if err != nil {
		return nil, nil, err
	}
	s, err := StoreFor(typ)
	if err != nil {
		return nil, nil, err
	}
	m := New(path, typ)
	m.ReadOnly = flags&OpenReadOnly != 0
	m.Peek = flags&OpenPeek != 0
	m.Append = flags&OpenAppend != 0
	m.Verbose = flags&OpenVerbose != 0
	m.Cache = hc
	if err := s.Open(ctx, c, m); err != nil {
		return nil, nil, err
	}
	pkglog.Debug("mailbox opened", slog.String("path", path), slog.Any("type", typ), slog.Int("messages", m.MsgCount()), slog.Bool("readonly", m.ReadOnly))
	return m, s, nil
}
