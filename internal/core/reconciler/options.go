package reconciler

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"voxio-chat/internal/ports"
)

// Metrics принимает наблюдения о работе Reconciler.
type Metrics interface {
	ObserveMerge(outcome MergeOutcome)
	ObserveFailure(op string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveMerge(MergeOutcome) {}
func (nopMetrics) ObserveFailure(string)     {}

type nopNotifier struct{}

func (nopNotifier) NotifyFailure(string, error) {}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithNotifier устанавливает получателя пользовательских уведомлений об ошибках.
func WithNotifier(n ports.Notifier) Option {
	return func(r *Reconciler) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithAttachmentStore включает отправку вложений.
func WithAttachmentStore(s ports.AttachmentStore) Option {
	return func(r *Reconciler) {
		r.attachments = s
	}
}

// WithMetrics устанавливает приемник метрик.
func WithMetrics(m Metrics) Option {
	return func(r *Reconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithClientIDGenerator подменяет генератор ключей идемпотентности.
func WithClientIDGenerator(gen func() string) Option {
	return func(r *Reconciler) {
		if gen != nil {
			r.newClientID = gen
		}
	}
}

func defaultClientID() string {
	return uuid.NewString()
}
