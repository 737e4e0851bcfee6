// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ddpsync

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	collectiveCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syncmetrics",
			Subsystem: "collective",
			Name:      "calls_total",
			Help:      "Number of synchronization calls, by operation and Syncer state.",
		},
		[]string{"op", "state"},
	)

	collectiveErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "syncmetrics",
			Subsystem: "collective",
			Name:      "errors_total",
			Help:      "Number of failed synchronization calls, by operation.",
		},
		[]string{"op"},
	)

	collectiveSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "syncmetrics",
			Subsystem: "collective",
			Name:      "seconds",
			Help:      "Time spent in active synchronization calls, including waiting for the other peers.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"op"},
	)
)

// RegisterMetrics registers the synchronization metrics with reg (e.g. prometheus.DefaultRegisterer).
// Metrics are collected whether or not they are registered.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{collectiveCalls, collectiveErrors, collectiveSeconds} {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "registering ddpsync metrics")
		}
	}
	return nil
}
