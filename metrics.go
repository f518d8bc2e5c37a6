package scorecard

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	backupPushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scorecard",
		Name:      "backup_pushes_total",
		Help:      "Remote backup pushes by result.",
	}, []string{"result"})

	sendRecoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scorecard",
		Name:      "send_recoveries_total",
		Help:      "Ambiguous send failures by reconciled outcome.",
	}, []string{"outcome"})

	redeemAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scorecard",
		Name:      "auto_redeem_total",
		Help:      "Tokens found in inbound messages by redeem result.",
	}, []string{"result"})

	roundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scorecard",
		Name:      "round_events_total",
		Help:      "Inbound round events by how they were applied.",
	}, []string{"result"})
)

// Collectors lists the metrics to register with a prometheus registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{backupPushes, sendRecoveries, redeemAttempts, roundEvents}
}
