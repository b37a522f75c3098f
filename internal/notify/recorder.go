package notify

import (
	"context"
	"sync"

	"paycore/internal/domain"
)

// Recorder captures notifications and alerts in memory. Test double.
type Recorder struct {
	mu            sync.Mutex
	notifications []string
	alerts        []Alert
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SendPaymentNotification(ctx context.Context, p *domain.Payment, recipient string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, p.ReferenceNumber)
	return nil
}

func (r *Recorder) SendAlert(ctx context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

// Notifications returns the references notified so far.
func (r *Recorder) Notifications() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notifications...)
}

// Alerts returns the alerts captured so far.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

// AlertsOfKind filters captured alerts by kind.
func (r *Recorder) AlertsOfKind(kind string) []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Alert
	for _, a := range r.alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}
