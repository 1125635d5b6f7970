package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/muacore/mua/monitor"
)

var metricWatchMessages = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "mua_watch_mailbox_messages",
		Help: "Number of messages in watched mailboxes, by state.",
	},
	[]string{
		"mailbox",
		"state", // total, unread, new, flagged, deleted
	},
)

var metricWatchNewMail = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mua_watch_newmail_total",
		Help: "Number of times new mail was seen in a watched mailbox.",
	},
	[]string{
		"mailbox",
	},
)

// watchObserve sets the gauges for the mailbox of ch.
func watchObserve(ch monitor.Change) {
	for state, n := range map[string]int{
		"total":   ch.Total,
		"unread":  ch.Unread,
		"new":     ch.New,
		"flagged": ch.Flagged,
		"deleted": ch.Deleted,
	} {
		metricWatchMessages.WithLabelValues(ch.Path, state).Set(float64(n))
	}
	if ch.NewMail && ch.Changed {
		metricWatchNewMail.WithLabelValues(ch.Path).Inc()
	}
}

