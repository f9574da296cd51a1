package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	worldCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_count",
		Help: "The number of worlds.",
	})

	worldCountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "world_count_total",
		Help: "The total number of worlds.",
	})

	objectCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "object_count",
		Help: "The number of objects registered in spatial indexes.",
	})
)

func instrumentWorldAdded() {
	worldCount.Inc()
	worldCountTotal.Inc()
}

func instrumentWorldRemoved() {
	worldCount.Dec()
}

func instrumentObjectAdded() {
	objectCount.Inc()
}

func instrumentObjectRemoved() {
	objectCount.Dec()
}
