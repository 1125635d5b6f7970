// Package hcache caches the parsed message list of mailbox files, so opening
// a large unchanged mailbox does not require parsing it again.
//
// Entries are keyed by a hash of the mailbox path and are only used when the
// size and modification time of the file still match. Entries are stored in
// one of three backends: a bstore database (default), a raw bolt database, or
// an sqlite database.
package hcache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/muacore/mua/email"
	"github.com/muacore/mua/mime"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
)

var pkglog = mlog.New("hcache", nil)

var ErrBackend = errors.New("unknown header cache backend")

// Format version of the serialized entries. Entries with another version are
// ignored.
const version = 1

// Record is a cache entry as stored by the backends.
type Record struct {
	Key   string // Hex blake2b-256 of Path.
	Path  string
	Size  int64
	Mtime int64 // Unix nanoseconds.
	Data  []byte
}

type backend interface {
	get(ctx context.Context, key string) (Record, bool, error)
	put(ctx context.Context, r Record) error
	remove(ctx context.Context, key string) error
	list(ctx context.Context, fn func(r Record) error) error
	close() error
}

// Cache is an opened header cache.
type Cache struct {
	be       backend
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// Open opens the header cache configured in c. If no cache is configured, a
// nil Cache is returned, on which all operations are no-ops.
func Open(ctx context.Context, c *mua.Config) (*Cache, error) {
	path := c.Static.HeaderCache
	if path == "" {
		return nil, nil
	}
	var be backend
	var err error
	switch c.Static.HeaderCacheBackend {
	case "", "bstore":
		be, err = openBstore(ctx, path)
	case "bolt":
		be, err = openBolt(path)
	case "sqlite":
		be, err = openSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrBackend, c.Static.HeaderCacheBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening header cache: %w", err)
	}

	hc := &Cache{be: be, compress: c.Static.HeaderCacheCompress}
	hc.dec, err = zstd.NewReader(nil)
	if err == nil && hc.compress {
		hc.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	}
	if err != nil {
		xerr := be.close()
		pkglog.Check(xerr, "closing header cache")
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return hc, nil
}

// Close closes the backend database.
func (hc *Cache) Close() error {
	if hc == nil {
		return nil
	}
	if hc.enc != nil {
		hc.enc.Close()
	}
	hc.dec.Close()
	return hc.be.close()
}

func key(path string) string {
	sum := blake2b.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

// Fetch returns the cached messages for the mailbox file at path, if the
// cached size and modification time match.
func (hc *Cache) Fetch(ctx context.Context, path string, size int64, mtime time.Time) ([]*email.Email, bool) {
	if hc == nil {
		return nil, false
	}
	log := pkglog.WithContext(ctx).With(slog.String("path", path))
	r, ok, err := hc.be.get(ctx, key(path))
	if err != nil {
		log.Errorx("fetching from header cache", err)
		return nil, false
	} else if !ok {
		return nil, false
	}
	if r.Path != path || r.Size != size || r.Mtime != mtime.UnixNano() {
		log.Debug("header cache entry is stale")
		return nil, false
	}
	l, err := hc.decode(r.Data)
	if err != nil {
		log.Infox("decoding header cache entry", err)
		return nil, false
	}
	return l, true
}

// Store saves the messages of the mailbox file at path.
func (hc *Cache) Store(ctx context.Context, path string, size int64, mtime time.Time, emails []*email.Email) error {
	if hc == nil {
		return nil
	}
	data, err := hc.encode(emails)
	if err != nil {
		return err
	}
	r := Record{key(path), path, size, mtime.UnixNano(), data}
	if err := hc.be.put(ctx, r); err != nil {
		return fmt.Errorf("storing in header cache: %w", err)
	}
	return nil
}

// Delete removes the entry for path.
func (hc *Cache) Delete(ctx context.Context, path string) error {
	if hc == nil {
		return nil
	}
	return hc.be.remove(ctx, key(path))
}

// Stats are counts about the entries in the cache.
type Stats struct {
	Entries int
	Bytes   int64
	Stale   int // Mailbox file changed or removed.
}

// Stats returns counts over all entries.
func (hc *Cache) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if hc == nil {
		return st, nil
	}
	err := hc.be.list(ctx, func(r Record) error {
		st.Entries++
		st.Bytes += int64(len(r.Data))
		if stale(r) {
			st.Stale++
		}
		return nil
	})
	return st, err
}

// Purge removes entries for mailbox files that changed or no longer exist. It
// returns the number of removed entries.
func (hc *Cache) Purge(ctx context.Context) (int, error) {
	if hc == nil {
		return 0, nil
	}
	var keys []string
	err := hc.be.list(ctx, func(r Record) error {
		if stale(r) {
			keys = append(keys, r.Key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := hc.be.remove(ctx, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func stale(r Record) bool {
	fi, err := os.Stat(r.Path)
	return err != nil || fi.Size() != r.Size || fi.ModTime().UnixNano() != r.Mtime
}

// entry is the serialized form of the message list.
type entry struct {
	Version int
	Emails  []cachedEmail
}

type cachedEmail struct {
	Env       *email.Envelope
	Body      cachedBody
	MIME      bool `json:",omitempty"`
	Read      bool `json:",omitempty"`
	Old       bool `json:",omitempty"`
	Replied   bool `json:",omitempty"`
	Flagged   bool `json:",omitempty"`
	Security  email.Security
	DateSent  int64
	Received  int64
	ZHours    int  `json:",omitempty"`
	ZMinutes  int  `json:",omitempty"`
	ZOccident bool `json:",omitempty"`
	Lines     int
	Offset    int64
	Tags      []string `json:",omitempty"`
}

type cachedBody struct {
	Type        mime.Type
	Subtype     string
	XType       string `json:",omitempty"`
	Encoding    mime.Encoding
	Disposition mime.Disposition
	Params      mime.ParamList `json:",omitempty"`
	HdrOffset   int64
	Offset      int64
	Length      int64
	DFilename   string `json:",omitempty"`
	Description string `json:",omitempty"`
	Language    string `json:",omitempty"`
	ContentID   string `json:",omitempty"`
}

// compressed entries start with the zstd frame magic, json entries with '{'.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func (hc *Cache) encode(emails []*email.Email) ([]byte, error) {
	ent := entry{Version: version, Emails: make([]cachedEmail, 0, len(emails))}
	for _, e := range emails {
		if e.Body == nil {
			return nil, fmt.Errorf("message at offset %d without body", e.Offset)
		}
		b := e.Body
		ce := cachedEmail{
			Env: e.Env,
			Body: cachedBody{
				b.Type, b.Subtype, b.XType, b.Encoding, b.Disposition, b.Params,
				b.HdrOffset, b.Offset, b.Length, b.DFilename, b.Description, b.Language, b.ContentID,
			},
			MIME:      e.MIME,
			Read:      e.Read,
			Old:       e.Old,
			Replied:   e.Replied,
			Flagged:   e.Flagged,
			Security:  e.Security,
			DateSent:  e.DateSent,
			Received:  e.Received,
			ZHours:    e.ZHours,
			ZMinutes:  e.ZMinutes,
			ZOccident: e.ZOccident,
			Lines:     e.Lines,
			Offset:    e.Offset,
		}
		for _, t := range e.Tags {
			ce.Tags = append(ce.Tags, t.Name)
		}
		ent.Emails = append(ent.Emails, ce)
	}
	buf, err := json.Marshal(ent)
	if err != nil {
		return nil, fmt.Errorf("marshal header cache entry: %w", err)
	}
	if hc.enc != nil {
		buf = hc.enc.EncodeAll(buf, nil)
	}
	return buf, nil
}

func (hc *Cache) decode(buf []byte) ([]*email.Email, error) {
	if len(buf) >= 4 && string(buf[:4]) == string(zstdMagic) {
		var err error
		buf, err = hc.dec.DecodeAll(buf, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
	}
	var ent entry
	if err := json.Unmarshal(buf, &ent); err != nil {
		return nil, err
	}
	if ent.Version != version {
		return nil, fmt.Errorf("entry has version %d, expected %d", ent.Version, version)
	}
	l := make([]*email.Email, 0, len(ent.Emails))
	for _, ce := range ent.Emails {
		e := email.New()
		e.Env = ce.Env
		if e.Env == nil {
			e.Env = email.NewEnvelope()
		}
		cb := ce.Body
		b := email.NewBody()
		b.Type, b.Subtype, b.XType = cb.Type, cb.Subtype, cb.XType
		b.Encoding, b.Disposition, b.Params = cb.Encoding, cb.Disposition, cb.Params
		b.HdrOffset, b.Offset, b.Length = cb.HdrOffset, cb.Offset, cb.Length
		b.DFilename, b.Description, b.Language, b.ContentID = cb.DFilename, cb.Description, cb.Language, cb.ContentID
		e.Body = b
		e.MIME = ce.MIME
		e.Read, e.Old, e.Replied, e.Flagged = ce.Read, ce.Old, ce.Replied, ce.Flagged
		e.Security = ce.Security
		e.DateSent, e.Received = ce.DateSent, ce.Received
		e.ZHours, e.ZMinutes, e.ZOccident = ce.ZHours, ce.ZMinutes, ce.ZOccident
		e.Lines = ce.Lines
		e.Offset = ce.Offset
		for _, t := range ce.Tags {
			e.Tags = append(e.Tags, email.Tag{Name: t})
		}
		l = append(l, e)
	}
	return l, nil
}
