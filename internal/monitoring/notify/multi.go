package notify

import (
	"context"

	monitoringapp "solar-fleet/internal/monitoring/application"
)

// MultiNotifier dispatches alert events to multiple notifiers.
type MultiNotifier struct {
	notifiers []monitoringapp.AlertNotifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil notifiers are skipped.
func NewMultiNotifier(notifiers ...monitoringapp.AlertNotifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, notifier := range notifiers {
		if notifier != nil {
			m.notifiers = append(m.notifiers, notifier)
		}
	}
	return m
}

// Add appends a notifier.
func (m *MultiNotifier) Add(notifier monitoringapp.AlertNotifier) {
	if m == nil || notifier == nil {
		return
	}
	m.notifiers = append(m.notifiers, notifier)
}

// Len returns the number of notifiers.
func (m *MultiNotifier) Len() int {
	if m == nil {
		return 0
	}
	return len(m.notifiers)
}

// Notify forwards events to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, event monitoringapp.AlertEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		notifier.Notify(ctx, event)
	}
}
