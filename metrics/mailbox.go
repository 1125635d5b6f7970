// Package metrics has prometheus metric variables/functions.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/mlog"
)

var pkglog = mlog.New("metrics", nil)

var (
	metricMailboxOp = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mua_mailbox_operation_duration_seconds",
			Help:    "Mailbox open, check and sync operations.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 30},
		},
		[]string{
			"op",   // open, check, sync, append
			"type", // mbox, mmdf
			"result",
		},
	)
	metricMailboxMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mua_mailbox_messages_parsed_total",
			Help: "Messages parsed from mailbox files.",
		},
		[]string{
			"type",
			"cached", // yes when read from the header cache
		},
	)
	metricMailboxCheck = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mua_mailbox_check_total",
			Help: "Results of checking mailboxes for changes.",
		},
		[]string{
			"result", // nochange, newmail, reopened
		},
	)
)

// Result returns the result label for err.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, mailbox.ErrLocked):
		return "locked"
	case errors.Is(err, mailbox.ErrIO), errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return "ioerror"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// MailboxObserve tracks the duration and result of a mailbox operation, and
// logs the result.
func MailboxObserve(ctx context.Context, op string, typ mailbox.Type, err error, start time.Time) {
	log := pkglog.WithContext(ctx)
	result := Result(err)
	metricMailboxOp.WithLabelValues(op, typ.String(), result).Observe(float64(time.Since(start)) / float64(time.Second))
	log.Debugx("mailbox operation", err, slog.String("op", op), slog.Any("type", typ), slog.String("result", result), slog.Duration("duration", time.Since(start)))
}

// MailboxParsed counts parsed messages.
func MailboxParsed(typ mailbox.Type, n int, cached bool) {
	c := "no"
	if cached {
		c = "yes"
	}
	metricMailboxMessages.WithLabelValues(typ.String(), c).Add(float64(n))
}

func MailboxCheckInc(r mailbox.CheckResult) {
	metricMailboxCheck.WithLabelValues(r.String()).Inc()
}

var metricMonitorCheck = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mua_monitor_check_total",
		Help: "Mailbox checks by the monitor after file changes or polling.",
	},
	[]string{
		"trigger", // event, poll
		"result",  // newmail, nochange, error
	},
)

// MonitorCheckInc counts a check of a monitored mailbox.
func MonitorCheckInc(trigger string, newMail bool, err error) {
	result := "nochange"
	if err != nil {
		result = "error"
	} else if newMail {
		result = "newmail"
	}
	metricMonitorCheck.WithLabelValues(trigger, result).Inc()
}
