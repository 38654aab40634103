package notify

import (
	"context"

	alerts "terrarium-cloud/internal/alerts/domain"
	"terrarium-cloud/internal/alerts/application"
)

// MultiNotifier dispatches alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []application.Notifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...application.Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards the record to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, record alerts.AlertRecord) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, record)
		}
	}
}
