package actor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	dispatched prometheus.Counter
	dropped    prometheus.Counter
	released   prometheus.Counter
	endless    prometheus.Counter
	sleeping   prometheus.Gauge
	ready      prometheus.GaugeFunc
	actors     prometheus.GaugeFunc
}

func newMetrics(s *System) *metrics {
	labels := prometheus.Labels{"harbor": strconv.Itoa(s.cfg.Harbor)}
	return &metrics{
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ma",
			Subsystem:   "actor",
			Name:        "messages_dispatched_total",
			Help:        "Messages handed to actor callbacks.",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ma",
			Subsystem:   "actor",
			Name:        "messages_dropped_total",
			Help:        "Messages dropped because the destination is gone.",
			ConstLabels: labels,
		}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ma",
			Subsystem:   "actor",
			Name:        "actors_released_total",
			Help:        "Actors whose last reference was released.",
			ConstLabels: labels,
		}),
		endless: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ma",
			Subsystem:   "actor",
			Name:        "endless_detected_total",
			Help:        "Messages flagged by the monitor as running too long.",
			ConstLabels: labels,
		}),
		sleeping: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ma",
			Subsystem:   "scheduler",
			Name:        "sleeping_workers",
			Help:        "Workers waiting for the ready queue.",
			ConstLabels: labels,
		}),
		ready: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "ma",
			Subsystem:   "scheduler",
			Name:        "ready_mailboxes",
			Help:        "Approximate number of mailboxes in the ready queue.",
			ConstLabels: labels,
		}, func() float64 {
			return float64(s.ready.Len())
		}),
		actors: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "ma",
			Subsystem:   "actor",
			Name:        "alive",
			Help:        "Actors currently alive.",
			ConstLabels: labels,
		}, func() float64 {
			return float64(s.Total())
		}),
	}
}

func (m *metrics) register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.dispatched, m.dropped, m.released, m.endless, m.sleeping, m.ready, m.actors} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
