package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricPanic = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mua_panic_total",
		Help: "Number of unhandled panics, by package.",
	},
	[]string{
		"pkg",
	},
)

type Panic string

const (
	Ctl     Panic = "ctl"
	Monitor Panic = "monitor"
	Send    Panic = "send"
	Hook    Panic = "hook"
)

func PanicInc(name Panic) {
	metricPanic.WithLabelValues(string(name)).Inc()
}
