package echoconsole

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trezcool/masomo/console/core/auth"
	"github.com/trezcool/masomo/console/core/realtime"
)

const maxAlerts = 50

type Alert struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// AlertBox queues user-visible notifications until a page or /api/alerts drains them.
type AlertBox struct {
	mu     sync.Mutex
	alerts []Alert
}

var _ auth.Alerter = (*AlertBox)(nil)

func NewAlertBox() *AlertBox {
	return &AlertBox{}
}

func (b *AlertBox) Success(_ context.Context, msg string) {
	b.Push("success", msg)
}

func (b *AlertBox) Error(_ context.Context, msg string) {
	b.Push("error", msg)
}

func (b *AlertBox) Push(level, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = append(b.alerts, Alert{Level: level, Message: msg, At: time.Now().UTC()})
	if len(b.alerts) > maxAlerts {
		b.alerts = b.alerts[len(b.alerts)-maxAlerts:]
	}
}

// Drain returns the queued alerts and empties the box.
func (b *AlertBox) Drain() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.alerts
	b.alerts = nil
	return out
}

// PresentEvent turns a realtime event into an alert.
func (b *AlertBox) PresentEvent(evt realtime.Event) {
	switch p := evt.Payload.(type) {
	case realtime.SessionForceEnded:
		b.Push("warning", forceEndedMessage(p))
	default:
		b.Push("info", string(evt.Kind))
	}
}

func forceEndedMessage(p realtime.SessionForceEnded) string {
	msg := fmt.Sprintf("%s's session was ended", p.StudentName)
	if p.GradeName != "" {
		msg = fmt.Sprintf("%s (%s)'s session was ended", p.StudentName, p.GradeName)
	}
	if p.Reason != "" {
		msg += ": " + p.Reason
	}
	return msg
}
