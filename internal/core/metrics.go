package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ota_firmware_checks_total",
		Help: "Number of device firmware check-ins.",
	})

	metricOffersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ota_update_offers_total",
		Help: "Number of update offers handed to devices.",
	})

	metricTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ota_status_transitions_total",
		Help: "Number of applied update attempt status transitions.",
	}, []string{"status"})

	metricRejectedTransitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ota_rejected_transitions_total",
		Help: "Number of rejected (illegal) status transitions.",
	})

	metricEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ota_events_total",
		Help: "Number of audit events recorded, by type.",
	}, []string{"type"})

	metricAuditFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ota_audit_write_failures_total",
		Help: "Number of audit event writes that failed.",
	})
)
