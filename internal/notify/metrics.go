package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	watchEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nativesecrets_watch_events_total",
		Help: "Metadata change events observed by the store watch.",
	})

	watchReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nativesecrets_watch_reconnects_total",
		Help: "Times the metadata watch stream failed and was re-established.",
	})
)

func init() {
	prometheus.MustRegister(watchEvents, watchReconnects)
}
