// README: Push delivery contract and fan-out across live sessions and device push.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"rideflow/internal/metrics"
	"rideflow/internal/types"
)

var (
	ErrNoSession = errors.New("recipient has no live session")
	ErrNoDevice  = errors.New("recipient has no registered device")
)

type Notifier interface {
	Notify(ctx context.Context, recipient types.ID, event string, payload any) error
}

// Envelope is the wire shape of every pushed event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type channel struct {
	name     string
	notifier Notifier
}

// Multi delivers through every channel and succeeds when at least one did.
type Multi struct {
	channels []channel
	log      *slog.Logger
}

func NewMulti(logger *slog.Logger) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{log: logger.With("component", "notify")}
}

// Add registers a channel. Nil notifiers are ignored.
func (m *Multi) Add(name string, n Notifier) *Multi {
	if n != nil {
		m.channels = append(m.channels, channel{name: name, notifier: n})
	}
	return m
}

func (m *Multi) Notify(ctx context.Context, recipient types.ID, event string, payload any) error {
	var errs []error
	delivered := false
	for _, ch := range m.channels {
		err := ch.notifier.Notify(ctx, recipient, event, payload)
		if err == nil {
			delivered = true
			continue
		}
		if !errors.Is(err, ErrNoSession) && !errors.Is(err, ErrNoDevice) {
			metrics.NotifyFailures.WithLabelValues(ch.name).Inc()
			m.log.Debug("channel delivery failed", "channel", ch.name, "recipient", recipient, "event", event, "err", err)
		}
		errs = append(errs, err)
	}
	if delivered {
		return nil
	}
	return errors.Join(errs...)
}
