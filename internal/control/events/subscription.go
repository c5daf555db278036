// Package events implements the Event Subscription Hub (spec §4.9):
// long-lived subscriptions to remote devices' event endpoints, renewed
// ahead of their timeout, resubscribed with exponential backoff on loss,
// and callback payloads validated and forwarded as typed events.
package events

import (
	"context"
	"time"
)

// DeviceEventClient is the narrow capability the hub drives to establish
// and maintain one device's event subscription (spec §6-style external
// collaborator boundary).
type DeviceEventClient interface {
	// Subscribe registers callbackURL with the device's event endpoint,
	// returning the subscription id the device assigned and the timeout
	// it granted.
	Subscribe(ctx context.Context, deviceID, callbackURL string) (subscriptionID string, timeout time.Duration, err error)
	// Renew extends subscriptionID, returning the new timeout.
	Renew(ctx context.Context, subscriptionID string) (timeout time.Duration, err error)
	// Unsubscribe tears down subscriptionID. Errors are logged, not fatal
	// — the hub is tearing the subscription down regardless.
	Unsubscribe(ctx context.Context, subscriptionID string) error
}

// Event is one decoded callback, forwarded on the hub's internal bus
// after its subscription id has been validated.
type Event struct {
	DeviceID string
	Vars     map[string]string
	Raw      []byte
	Received time.Time
}

// subscription is the hub's bookkeeping for one device's active (or
// backing-off) subscription.
type subscription struct {
	deviceID    string
	callbackURL string
	id          string
	expiresAt   time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}
