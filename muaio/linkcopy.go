package muaio

import (
	"fmt"
	"io"
	"os"

	"github.com/muacore/mua/mlog"
)

// LinkOrCopy attempts to make a hardlink dst. If that fails, it will try to do a
// regular file copy. If srcReaderOpt is not nil, it will be used for reading. If
// sync is true and the file is copied, Sync is called on the file after writing to
// ensure the file is written on disk. If dst was created and an error occurred,
// it is removed.
//
// Used to preserve the partially rewritten copy of a mailbox after a failed
// sync, where a rename can cross file systems.
func LinkOrCopy(log mlog.Log, dst, src string, srcReaderOpt io.Reader, sync bool) (rerr error) {
	err := os.Link(src, dst)
	if err == nil {
		return nil
	} else if os.IsNotExist(err) {
		// Either src doesn't exist or the dst directory doesn't exist. A copy would fail too.
		return err
	}

	if srcReaderOpt == nil {
		sf, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("open source file: %w", err)
		}
		defer func() {
			err := sf.Close()
			log.Check(err, "closing copied source file")
		}()
		srcReaderOpt = sf
	}

	df, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer func() {
		if df != nil {
			err = os.Remove(dst)
			log.Check(err, "removing partial destination file")
			err = df.Close()
			log.Check(err, "closing partial destination file")
		}
	}()

	if _, err := io.Copy(df, srcReaderOpt); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if sync {
		if err := df.Sync(); err != nil {
			return fmt.Errorf("sync destination: %w", err)
		}
	}
	err = df.Close()
	df = nil
	if err != nil {
		err := os.Remove(dst)
		log.Check(err, "removing partial destination file")
		return err
	}
	return nil
}

// CopyFile copies src to the already opened dst, starting at the current
// offsets of both. Used by the sync protocol to copy a rewritten tail back
// into the mailbox file.
func CopyFile(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	return io.CopyBuffer(dst, src, buf)
}
