// Package notify is the outbound messaging boundary. Delivery is best
// effort: the broadcast loop isolates every recipient and only counts
// failures, it never raises them back into the committed operation.
package notify

import (
	"context"
	"time"

	"resqlink.org/internal/obs"
)

// Gateway sends a single message to a single recipient address.
type Gateway interface {
	Send(ctx context.Context, recipient, text string) error
}

// Fanout delivers text to every recipient, continuing past individual
// failures, and returns how many sends succeeded.
func Fanout(ctx context.Context, gw Gateway, recipients []string, text string) int {
	sent := 0
	for _, recipient := range recipients {
		if recipient == "" {
			continue
		}
		if err := gw.Send(ctx, recipient, text); err != nil {
			obs.CountBroadcastRecipient("failed")
			obs.LogRequest(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "warn",
				"msg":   "broadcast_send_failed",
				"error": err.Error(),
			})
			continue
		}
		obs.CountBroadcastRecipient("sent")
		sent++
	}
	return sent
}

// LogGateway writes outbound messages to the service log instead of a real
// SMS provider. It is the default wiring for environments without one.
type LogGateway struct{}

func (LogGateway) Send(ctx context.Context, recipient, text string) error {
	obs.LogRequest(map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     "info",
		"msg":       "broadcast_message",
		"recipient": recipient,
		"text":      text,
	})
	return nil
}
