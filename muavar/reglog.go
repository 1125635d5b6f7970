package muavar

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"testing"
)

var skipRegisterLogging = testing.Testing()

// RegisterLogger should be used as parameter to bstore.Options.RegisterLogger
// when opening a header cache database.
//
// Under test, nil is returned when the database file does not exist yet, so
// freshly created caches don't log every registered type.
func RegisterLogger(path string, log *slog.Logger) *slog.Logger {
	if !skipRegisterLogging {
		return log
	}
	if _, err := os.Stat(path); err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return log
}
