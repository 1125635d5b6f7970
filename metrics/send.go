package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSend = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mua_send_total",
			Help: "Messages handed to a mail transport.",
		},
		[]string{
			"transport", // sendmail, smtp
			"result",    // ok, mtaerror, tempfail, error, canceled
		},
	)
	metricSMTPAuth = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mua_smtp_authentication_total",
			Help: "SMTP authentication attempts and results.",
		},
		[]string{
			"mechanism", // plain, login, none
			"result",    // ok, badcreds, error
		},
	)
)

func SendInc(transport, result string) {
	metricSend.WithLabelValues(transport, result).Inc()
}

func SMTPAuthInc(mechanism, result string) {
	metricSMTPAuth.WithLabelValues(mechanism, result).Inc()
}
