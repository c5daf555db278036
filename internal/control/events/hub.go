package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coissac/pmomusic/internal/core"
)

// RenewMargin is how far ahead of a granted timeout the hub renews a
// subscription (spec §4.9: "renews before the timeout's safety margin
// (60s)").
const RenewMargin = 60 * time.Second

// BackoffStart and BackoffCap bound the resubscribe retry delay on
// subscription loss (spec §4.9: "backoff starting at 5s and doubling to a
// cap of 60s").
const (
	BackoffStart = 5 * time.Second
	BackoffCap   = 60 * time.Second
)

// Hub maintains one long-lived subscription per registered device,
// renewing each ahead of its timeout and resubscribing with backoff on
// loss, forwarding validated callbacks as typed Events.
type Hub struct {
	client  DeviceEventClient
	secret  []byte
	publish func(Event)

	renewMargin, backoffStart, backoffCap time.Duration

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewHub returns a Hub driving client, signing callback tokens with
// secret, and forwarding decoded events to publish.
func NewHub(client DeviceEventClient, secret []byte, publish func(Event)) *Hub {
	return &Hub{
		client:       client,
		secret:       secret,
		publish:      publish,
		renewMargin:  RenewMargin,
		backoffStart: BackoffStart,
		backoffCap:   BackoffCap,
		subs:         make(map[string]*subscription),
	}
}

// signToken produces the callback token for a given subscription id, for
// embedding in the callback URL the device is told to POST events to.
func (h *Hub) signToken(subscriptionID string) string {
	return signCallbackToken(h.secret, subscriptionID)
}

// Subscribe establishes a new subscription to deviceID's event endpoint
// at callbackURL and starts its renewal loop. Registering an id already
// present tears down the old subscription first.
func (h *Hub) Subscribe(ctx context.Context, deviceID, callbackURL string) error {
	h.Unregister(deviceID)

	subID, timeout, err := h.client.Subscribe(ctx, deviceID, callbackURL)
	if err != nil {
		return fmt.Errorf("events: subscribe %s: %w", deviceID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		deviceID:    deviceID,
		callbackURL: callbackURL,
		id:          subID,
		expiresAt:   time.Now().Add(timeout),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[deviceID] = sub
	h.mu.Unlock()

	go h.run(runCtx, sub)
	return nil
}

// Unregister tears down deviceID's subscription gracefully (spec §4.9:
// "subscriptions for devices that disappear from the registry are torn
// down gracefully"). A no-op if deviceID has no active subscription.
func (h *Hub) Unregister(deviceID string) {
	h.mu.Lock()
	sub, ok := h.subs[deviceID]
	if ok {
		delete(h.subs, deviceID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	sub.cancel()
	<-sub.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.client.Unsubscribe(ctx, sub.id); err != nil {
		slog.Warn("events: unsubscribe failed during teardown", "device", deviceID, "subscription", sub.id, "error", err)
	}
}

// Token returns the signed callback token for deviceID's current
// subscription, for embedding in the callback URL registered with the
// device.
func (h *Hub) Token(deviceID string) (string, error) {
	h.mu.Lock()
	sub, ok := h.subs[deviceID]
	h.mu.Unlock()
	if !ok {
		return "", core.ErrNotFound
	}
	return h.signToken(sub.id), nil
}

// HandleCallback validates an incoming callback's subscription id and
// token against deviceID's active subscription, decodes vars, and
// forwards the Event to the hub's publish function. Returns an error
// (without publishing) if the subscription id doesn't match or the token
// fails verification.
func (h *Hub) HandleCallback(deviceID, subscriptionID, token string, vars map[string]string, raw []byte) error {
	h.mu.Lock()
	sub, ok := h.subs[deviceID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("events: callback for unknown device %s: %w", deviceID, core.ErrNotFound)
	}
	if sub.id != subscriptionID {
		return fmt.Errorf("events: callback subscription id mismatch for %s: %w", deviceID, core.ErrConflict)
	}
	if !verifyCallbackToken(h.secret, sub.id, token) {
		return fmt.Errorf("events: callback token invalid for %s", deviceID)
	}

	h.publish(Event{DeviceID: deviceID, Vars: vars, Raw: raw, Received: time.Now()})
	return nil
}

// run is the per-subscription renewal loop: sleep until RenewMargin
// before expiry, renew, and on failure fall into a backoff-and-resubscribe
// loop until the device comes back or the subscription is torn down.
func (h *Hub) run(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	for {
		h.mu.Lock()
		wait := time.Until(sub.expiresAt.Add(-h.renewMargin))
		h.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if ctx.Err() != nil {
			return
		}

		timeout, err := h.client.Renew(ctx, sub.id)
		if err == nil {
			h.mu.Lock()
			sub.expiresAt = time.Now().Add(timeout)
			h.mu.Unlock()
			continue
		}

		slog.Warn("events: renewal failed, resubscribing with backoff", "device", sub.deviceID, "error", err)
		if !h.resubscribeWithBackoff(ctx, sub) {
			return
		}
	}
}

func (h *Hub) resubscribeWithBackoff(ctx context.Context, sub *subscription) bool {
	backoff := h.backoffStart
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		newID, timeout, err := h.client.Subscribe(ctx, sub.deviceID, sub.callbackURL)
		if err == nil {
			h.mu.Lock()
			sub.id = newID
			sub.expiresAt = time.Now().Add(timeout)
			h.mu.Unlock()
			slog.Info("events: resubscribed after loss", "device", sub.deviceID, "subscription", newID)
			return true
		}

		backoff *= 2
		if backoff > h.backoffCap {
			backoff = h.backoffCap
		}
	}
}
