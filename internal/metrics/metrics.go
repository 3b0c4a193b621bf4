package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsIssued counts issued session handles per strategy.
	SessionsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_sessions_issued_total",
		Help: "Session handles issued, by strategy.",
	}, []string{"strategy"})

	// ValidationsAccepted counts tokens that validated successfully.
	ValidationsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_validations_accepted_total",
		Help: "Token validations that succeeded.",
	})

	// ValidationsRejected counts rejections by reason.
	ValidationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_validations_rejected_total",
		Help: "Token validations rejected, by reason.",
	}, []string{"reason"})

	// RecordsWritten counts attendance facts stored.
	RecordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_records_written_total",
		Help: "Attendance records written.",
	})

	// RecordsDuplicate counts idempotent repeat submissions.
	RecordsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_records_duplicate_total",
		Help: "Attendance submissions answered as already recorded.",
	})

	// MailsSent counts notification outcomes.
	MailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_mails_total",
		Help: "Notification mails attempted, by outcome.",
	}, []string{"outcome"})
)
