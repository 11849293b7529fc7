package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Бизнес-метрики govote.
var (
	// ballotsTotal — попытки подачи бюллетеня по исходу.
	ballotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govote_ballots_total",
			Help: "Попытки подачи бюллетеня по исходу",
		},
		[]string{"result"},
	)

	// credentialsIssuedTotal — выданные credentials по пути выдачи.
	credentialsIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govote_credentials_issued_total",
			Help: "Выданные credentials по пути выдачи (member, bulk)",
		},
		[]string{"source"},
	)

	// transitionsTotal — выполненные действия жизненного цикла.
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govote_lifecycle_transitions_total",
			Help: "Выполненные действия жизненного цикла выборов",
		},
		[]string{"action"},
	)

	// auditWriteFailuresTotal — ошибки записи аудита в транзакции.
	auditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "govote_audit_write_failures_total",
		Help: "Ошибки записи в журнал аудита внутри бизнес-транзакции",
	})

	// auditOutboxTotal — исход обработки записей outbox аудита.
	auditOutboxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govote_audit_outbox_total",
			Help: "Записи outbox аудита по исходу (recovered, dropped)",
		},
		[]string{"result"},
	)
)
