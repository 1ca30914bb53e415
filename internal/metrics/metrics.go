// Package metrics declares the Prometheus collectors of the message store.
//
// Collectors are package-level so the store can update them without plumbing
// a registry through every call. Register wires them into a registry; the CLI
// does this when a metrics address is configured.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values for AppendsTotal and ReadMessagesTotal.
const (
	Ok         = "ok"
	Conflict   = "conflict"
	Idempotent = "idempotent"
	Fail       = "fail"
	Forwards   = "forwards"
	Backwards  = "backwards"
)

var (
	AppendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlstream_appends_total",
		Help: "Cumulative number of append calls by result.",
	}, []string{"result"})
	AppendMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlstream_append_messages_total",
		Help: "Cumulative number of messages durably appended.",
	})
	AppendDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sqlstream_append_duration_seconds",
		Help:    "Duration of append calls, including conflicts.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	ReadMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlstream_read_messages_total",
		Help: "Cumulative number of messages returned by range reads.",
	}, []string{"direction"})
	ChangeSignalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlstream_change_signals_total",
		Help: "Cumulative number of change signals broadcast to subscribers.",
	})
)

// Collectors returns every collector declared by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		AppendsTotal,
		AppendMessagesTotal,
		AppendDurationSeconds,
		ReadMessagesTotal,
		ChangeSignalsTotal,
	}
}

// Register adds the collectors to reg. Collectors already registered with
// reg are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
