// Package alerts delivers rule-match notifications over webhook and email
// transports. Delivery is per-recipient; one failed recipient never masks
// another's success.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
)

// Alert is a rendered notification bound for one recipient.
type Alert struct {
	SubmissionID string `json:"submissionId"`
	TenantID     string `json:"tenantId"`
	Urgency      string `json:"urgency"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	// Recipient is a webhook URL or an email address depending on channel.
	Recipient string `json:"recipient"`
}

// Notifier sends one alert over a single transport channel.
type Notifier interface {
	Channel() string
	Send(ctx context.Context, alert Alert) error
}

// DeliveryResult records the outcome for one recipient.
type DeliveryResult struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher routes alerts to notifiers by channel name.
type Dispatcher struct {
	notifiers map[string]Notifier
	logger    *slog.Logger
}

func NewDispatcher(logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	byChannel := make(map[string]Notifier, len(notifiers))
	for _, n := range notifiers {
		byChannel[n.Channel()] = n
	}
	return &Dispatcher{notifiers: byChannel, logger: logger}
}

// Dispatch sends the alert to every recipient on the named channel and
// returns one result per recipient. An unknown channel is an error for
// all of its recipients, not a panic.
func (d *Dispatcher) Dispatch(ctx context.Context, channel string, recipients []string, alert Alert) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(recipients))
	notifier, ok := d.notifiers[channel]
	for _, recipient := range recipients {
		res := DeliveryResult{Channel: channel, Recipient: recipient}
		if !ok {
			res.Error = fmt.Sprintf("unknown alert channel: %s", channel)
			results = append(results, res)
			continue
		}
		a := alert
		a.Recipient = recipient
		if err := notifier.Send(ctx, a); err != nil {
			d.logger.Warn("alert delivery failed",
				"channel", channel, "recipient", recipient, "error", err)
			res.Error = err.Error()
		} else {
			res.Delivered = true
		}
		results = append(results, res)
	}
	return results
}

// Channels lists the configured transport channels.
func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		out = append(out, name)
	}
	return out
}
