package send

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// TempAttachments are files written for attachments, for example when
// viewing or forwarding them. They are removed by Cleanup, also when they
// were made read-only.
type TempAttachments struct {
	sync.Mutex
	paths []string
}

// Add registers a file for removal.
func (t *TempAttachments) Add(path string) {
	t.Lock()
	defer t.Unlock()
	t.paths = append(t.paths, path)
}

// Len returns the number of registered files.
func (t *TempAttachments) Len() int {
	t.Lock()
	defer t.Unlock()
	return len(t.paths)
}

// Cleanup makes the files writable for their owner and removes them.
// Files that no longer exist are ignored.
func (t *TempAttachments) Cleanup() error {
	t.Lock()
	paths := t.paths
	t.paths = nil
	t.Unlock()

	var errs []error
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil {
			if err := os.Chmod(p, fi.Mode().Perm()|0200); err != nil {
				pkglog.Debugx("making temporary attachment writable", err, slog.String("path", p))
			}
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
