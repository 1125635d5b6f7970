package muaio

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/muacore/mua/mlog"
)

func tcheckf(t *testing.T, err error, format string, args ...any) {
	if err != nil {
		t.Helper()
		t.Fatalf("%s: %s", fmt.Sprintf(format, args...), err)
	}
}

func TestLinkOrCopy(t *testing.T) {
	log := mlog.New("linkorcopy", nil)

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	err := os.WriteFile(src, []byte("test"), 0600)
	tcheckf(t, err, "creating test file")

	dst := filepath.Join(dir, "dst.txt")
	err = LinkOrCopy(log, dst, src, nil, false)
	tcheckf(t, err, "linking file")
	err = os.Remove(dst)
	tcheckf(t, err, "remove dst")

	err = LinkOrCopy(log, filepath.Join(dir, "bogus/dst.txt"), src, nil, false)
	if err == nil || !os.IsNotExist(err) {
		t.Fatalf("expected is not exist, got %v", err)
	}

	// Copy based on open file, likely to other file system.
	f, err := os.Open(src)
	tcheckf(t, err, "open")
	defer f.Close()
	dst = filepath.Join(os.TempDir(), fmt.Sprintf("linkorcopytest-%d.txt", os.Getpid()))
	err = LinkOrCopy(log, dst, src, f, true)
	tcheckf(t, err, "copy file from reader")
	buf, err := os.ReadFile(dst)
	tcheckf(t, err, "read copy")
	if string(buf) != "test" {
		t.Fatalf("copied data %q", buf)
	}
	err = os.Remove(dst)
	tcheckf(t, err, "removing dst")
}
