// Package mlog provides logging with log levels and fields.
//
// Each log level has a function to log with and without error.
// Each such function takes a varargs list of attributes (key value pairs) to log.
// Variable data should be in attributes. Logging strings themselves should be
// constant, for easier log processing.
//
// The log levels can be configured per originating package, e.g. parse, mbox,
// send. The configuration is application-global, so each Log instance uses the
// same log levels.
//
// Print* should be used for lines that always should be printed, regardless of
// configured log levels. Useful for startup logging and subcommands.
//
// Fatal* stops the program. Its log text is always printed.
package mlog

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logfmt enables output in logfmt format, instead of the more human-readable
// default.
var Logfmt bool

// Levels. Print and Fatal are always printed.
const (
	LevelPrint     slog.Level = 12
	LevelFatal     slog.Level = 10
	LevelError     slog.Level = slog.LevelError
	LevelInfo      slog.Level = slog.LevelInfo
	LevelDebug     slog.Level = slog.LevelDebug
	LevelTrace     slog.Level = -8
	LevelTraceauth slog.Level = -9
	LevelTracedata slog.Level = -10
)

var LevelStrings = map[slog.Level]string{
	LevelPrint:     "print",
	LevelFatal:     "fatal",
	LevelError:     "error",
	LevelInfo:      "info",
	LevelDebug:     "debug",
	LevelTrace:     "trace",
	LevelTraceauth: "traceauth",
	LevelTracedata: "tracedata",
}

var Levels = map[string]slog.Level{
	"print":     LevelPrint,
	"fatal":     LevelFatal,
	"error":     LevelError,
	"info":      LevelInfo,
	"debug":     LevelDebug,
	"trace":     LevelTrace,
	"traceauth": LevelTraceauth,
	"tracedata": LevelTracedata,
}

// Holds a map[string]slog.Level, mapping a package (field pkg in logs) to a log
// level. The empty string is the default/fallback log level.
var config atomic.Value

func init() {
	config.Store(map[string]slog.Level{"": LevelError})
}

// SetConfig atomically sets the new log levels used by all Log instances.
func SetConfig(c map[string]slog.Level) {
	config.Store(c)
}

// Config returns the current log level configuration.
func Config() map[string]slog.Level {
	return config.Load().(map[string]slog.Level)
}

type key string

// CidKey can be used with context.WithValue to store a "cid" in a context, for logging.
var CidKey key = "cid"

// Log wraps a slog.Logger, providing convenience functions.
type Log struct {
	*slog.Logger
}

// New returns a Log that adds a "pkg" attribute. If logger is nil, a new
// Logger is created with a handler that writes to stderr, honoring the
// configured log levels.
func New(pkg string, logger *slog.Logger) Log {
	if logger == nil {
		logger = slog.New(&handler{w: os.Stderr})
	}
	return Log{logger}.WithPkg(pkg)
}

// WithCid adds an attribute "cid".
// Also see WithContext.
func (l Log) WithCid(cid int64) Log {
	return l.With(slog.Int64("cid", cid))
}

// WithContext adds cid from context, if present. Context are often passed to
// functions, especially between packages, to pass a "cid" for an operation. At
// the start of a function (especially if exported) a variable "log" is often
// instantiated from a package-level logger, with WithContext for its cid.
func (l Log) WithContext(ctx context.Context) Log {
	cidv := ctx.Value(CidKey)
	if cidv == nil {
		return l
	}
	cid := cidv.(int64)
	return l.WithCid(cid)
}

// With adds attributes to to each logged line.
func (l Log) With(attrs ...slog.Attr) Log {
	return Log{slog.New(l.Logger.Handler().WithAttrs(attrs))}
}

// WithPkg ensures pkg is added as attribute to logged lines. If the handler is
// an mlog handler, pkg is only added if not already the last added package.
func (l Log) WithPkg(pkg string) Log {
	h := l.Logger.Handler()
	if ph, ok := h.(*handler); ok {
		if len(ph.pkgs) > 0 && ph.pkgs[len(ph.pkgs)-1] == pkg {
			return l
		}
		return Log{slog.New(ph.WithPkg(pkg))}
	}
	return Log{slog.New(h.WithAttrs([]slog.Attr{slog.String("pkg", pkg)}))}
}

// WithFunc sets fn to be called for additional attributes. Fn is only called
// when the line is logged.
func (l Log) WithFunc(fn func() []slog.Attr) Log {
	h := l.Logger.Handler()
	if ph, ok := h.(*handler); ok {
		return Log{slog.New(ph.WithFunc(fn))}
	}
	return l
}

func (l Log) Fatal(msg string, attrs ...slog.Attr) { l.Fatalx(msg, nil, attrs...) }

func (l Log) Fatalx(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelFatal, msg, err, attrs...)
	os.Exit(1)
}

func (l Log) Print(msg string, attrs ...slog.Attr) {
	l.Logx(LevelPrint, msg, nil, attrs...)
}

func (l Log) Printx(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelPrint, msg, err, attrs...)
}

// Check logs an error if err is not nil. Intended for logging errors that are
// good to know, but would not influence program flow, e.g. when closing files.
func (l Log) Check(err error, msg string, attrs ...slog.Attr) {
	if err != nil {
		l.Errorx(msg, err, attrs...)
	}
}

func (l Log) Debug(msg string, attrs ...slog.Attr) {
	l.Logx(LevelDebug, msg, nil, attrs...)
}

func (l Log) Debugx(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelDebug, msg, err, attrs...)
}

func (l Log) Info(msg string, attrs ...slog.Attr) {
	l.Logx(LevelInfo, msg, nil, attrs...)
}

func (l Log) Infox(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelInfo, msg, err, attrs...)
}

func (l Log) Error(msg string, attrs ...slog.Attr) {
	l.Logx(LevelError, msg, nil, attrs...)
}

func (l Log) Errorx(msg string, err error, attrs ...slog.Attr) {
	l.Logx(LevelError, msg, err, attrs...)
}

// Trace logs at trace level, for protocol transcripts. Traceauth and tracedata
// levels replace the text if the configured level does not include them.
func (l Log) Trace(level slog.Level, prefix string, data []byte) {
	h := l.Logger.Handler()
	ph, ok := h.(*handler)
	if !ok {
		if !h.Enabled(context.Background(), level) {
			return
		}
		msg := prefix + string(data)
		r := slog.NewRecord(time.Now(), level, msg, 0)
		h.Handle(context.Background(), r)
		return
	}
	filterLevel, _ := ph.configMatch(level)
	if filterLevel > LevelTrace {
		return
	}

	var msg string
	if hideData, hideAuth := traceLevel(filterLevel, level); hideData {
		msg = prefix + "..."
	} else if hideAuth {
		msg = prefix + "***"
	} else {
		msg = prefix + string(data)
	}
	r := slog.NewRecord(time.Time{}, LevelTrace, msg, 0)
	ph.write(LevelTrace, r)
}

func traceLevel(level, dataLevel slog.Level) (hideData, hideAuth bool) {
	hideData = dataLevel == LevelTracedata && level > LevelTracedata
	hideAuth = dataLevel == LevelTraceauth && level > LevelTraceauth
	return
}

func (l Log) Logx(level slog.Level, msg string, err error, attrs ...slog.Attr) {
	if !l.Logger.Enabled(context.Background(), level) {
		return
	}
	if err != nil {
		attrs = append([]slog.Attr{errAttr(err)}, attrs...)
	}
	l.Logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func errAttr(err error) slog.Attr {
	return slog.Any("err", err)
}

// handler writes to an io.Writer, filtering on the configured levels of the
// package in the most recent pkg attribute.
type handler struct {
	w     io.Writer
	pkgs  []string
	attrs []slog.Attr
	group string
	fn    func() []slog.Attr
}

var _ slog.Handler = (*handler)(nil)

var writeMutex sync.Mutex

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	_, ok := h.configMatch(level)
	return ok
}

func (h *handler) configMatch(level slog.Level) (slog.Level, bool) {
	c := config.Load().(map[string]slog.Level)
	for i := len(h.pkgs) - 1; i >= 0; i-- {
		if l, ok := c[h.pkgs[i]]; ok {
			return l, level >= LevelFatal || level >= l
		}
	}
	l, ok := c[""]
	if !ok {
		l = LevelError
	}
	return l, level >= LevelFatal || level >= l
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	l, ok := h.configMatch(r.Level)
	if !ok {
		return nil
	}
	if hideData, hideAuth := traceLevel(l, r.Level); hideData {
		r.Message = "..."
	} else if hideAuth {
		r.Message = "***"
	}
	if r.Level < LevelTrace {
		r.Level = LevelTrace
	}
	h.write(r.Level, r)
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	if h.group != "" {
		attrs = []slog.Attr{{Key: h.group, Value: slog.GroupValue(attrs...)}}
	}
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	nh.group = name
	return &nh
}

func (h *handler) WithPkg(pkg string) *handler {
	nh := *h
	nh.pkgs = append(append([]string{}, h.pkgs...), pkg)
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), slog.String("pkg", pkg))
	return &nh
}

func (h *handler) WithFunc(fn func() []slog.Attr) *handler {
	nh := *h
	nh.fn = fn
	return &nh
}

func (h *handler) write(level slog.Level, r slog.Record) {
	// We build up a buffer so we can do a single atomic write of the data.
	// Otherwise partial log lines may interleave.
	b := &bytes.Buffer{}

	var attrs []slog.Attr
	var errv string
	add := func(a slog.Attr) bool {
		if a.Key == "err" && errv == "" {
			if err, ok := a.Value.Any().(error); ok && err != nil {
				errv = err.Error()
				return true
			}
		}
		attrs = append(attrs, a)
		return true
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(add)
	if h.fn != nil {
		for _, a := range h.fn() {
			add(a)
		}
	}

	lstr := LevelStrings[level]
	if lstr == "" {
		lstr = level.String()
	}
	if Logfmt {
		fmt.Fprintf(b, "l=%s m=%s", lstr, logfmtValue(r.Message))
		if errv != "" {
			fmt.Fprintf(b, " err=%s", logfmtValue(errv))
		}
		for _, a := range attrs {
			fmt.Fprintf(b, " %s=%s", a.Key, logfmtValue(stringValue(a.Key == "cid", false, a.Value.Any())))
		}
	} else {
		fmt.Fprintf(b, "%s: %s", lstr, r.Message)
		if errv != "" {
			fmt.Fprintf(b, ": %s", errv)
		}
		if len(attrs) > 0 {
			b.WriteString(" (")
			for i, a := range attrs {
				if i > 0 {
					b.WriteString("; ")
				}
				fmt.Fprintf(b, "%s: %s", a.Key, logfmtValue(stringValue(a.Key == "cid", false, a.Value.Any())))
			}
			b.WriteString(")")
		}
	}
	b.WriteString("\n")

	writeMutex.Lock()
	defer writeMutex.Unlock()
	h.w.Write(b.Bytes())
}

// escape logfmt string if required, otherwise return original string.
func logfmtValue(s string) string {
	for _, c := range s {
		if c == '"' || c == '\\' || c <= ' ' || c == '=' || c >= 0x7f {
			return fmt.Sprintf("%q", s)
		}
	}
	return s
}

func stringValue(iscid, nested bool, v any) string {
	// Handle some common types first.
	if v == nil {
		return ""
	}
	switch r := v.(type) {
	case string:
		return r
	case int:
		return strconv.Itoa(r)
	case int64:
		if iscid {
			return fmt.Sprintf("%x", v)
		}
		return strconv.FormatInt(r, 10)
	case bool:
		if r {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case []byte:
		return base64.RawURLEncoding.EncodeToString(r)
	case []string:
		if nested && len(r) == 0 {
			// Drop field from logging.
			return ""
		}
		return "[" + strings.Join(r, ",") + "]"
	case error:
		return r.Error()
	case time.Time:
		return r.Format(time.RFC3339)
	case slog.Value:
		return stringValue(iscid, nested, r.Any())
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return ""
	}

	if r, ok := v.(fmt.Stringer); ok {
		return r.String()
	}

	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
		return stringValue(iscid, nested, rv.Interface())
	}
	if rv.Kind() == reflect.Slice {
		n := rv.Len()
		if nested && n == 0 {
			// Drop field.
			return ""
		}
		b := &strings.Builder{}
		b.WriteString("[")
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteString(";")
			}
			b.WriteString(stringValue(false, true, rv.Index(i).Interface()))
		}
		b.WriteString("]")
		return b.String()
	} else if rv.Kind() != reflect.Struct {
		return fmt.Sprintf("%v", v)
	}
	n := rv.NumField()
	t := rv.Type()
	b := &strings.Builder{}
	first := true
	for i := 0; i < n; i++ {
		fv := rv.Field(i)
		if !t.Field(i).IsExported() {
			continue
		}
		if fv.Kind() == reflect.Struct || fv.Kind() == reflect.Ptr || fv.Kind() == reflect.Interface {
			// Don't recurse.
			continue
		}
		vs := stringValue(false, true, fv.Interface())
		if vs == "" {
			continue
		}
		if !first {
			b.WriteByte(' ')
		}
		first = false
		k := strings.ToLower(t.Field(i).Name)
		b.WriteString(k + "=" + logfmtValue(vs))
	}
	return b.String()
}

type errWriter struct {
	log   Log
	level slog.Level
	msg   string
}

func (w *errWriter) Write(buf []byte) (int, error) {
	err := errors.New(strings.TrimSpace(string(buf)))
	w.log.Logx(w.level, w.msg, err)
	return len(buf), nil
}

// ErrWriter returns a writer that turns each write into a logging call on "log"
// with given "level" and "msg" and the written content as an error.
// Used for the captured output of child processes such as sendmail.
func ErrWriter(log Log, level slog.Level, msg string) io.Writer {
	return &errWriter{log, level, msg}
}
