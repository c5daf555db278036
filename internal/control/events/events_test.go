package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coissac/pmomusic/internal/core"
)

// fakeClient is an in-memory DeviceEventClient double that can be told to
// fail the next N Subscribe or Renew calls, to exercise backoff.
type fakeClient struct {
	mu sync.Mutex

	nextID        int
	subscribeFail int
	renewFail     int
	subscribeLog  []string
	issuedIDs     []string
	renewLog      []string
	unsubLog      []string
	grant         time.Duration
}

func newFakeClient(grant time.Duration) *fakeClient {
	return &fakeClient{grant: grant}
}

func (f *fakeClient) Subscribe(_ context.Context, deviceID, callbackURL string) (string, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeFail > 0 {
		f.subscribeFail--
		return "", 0, fmt.Errorf("device unreachable")
	}
	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.subscribeLog = append(f.subscribeLog, fmt.Sprintf("%s/%s->%s", deviceID, callbackURL, id))
	f.issuedIDs = append(f.issuedIDs, id)
	return id, f.grant, nil
}

func (f *fakeClient) Renew(_ context.Context, subscriptionID string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renewFail > 0 {
		f.renewFail--
		return 0, fmt.Errorf("renew refused")
	}
	f.renewLog = append(f.renewLog, subscriptionID)
	return f.grant, nil
}

func (f *fakeClient) Unsubscribe(_ context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubLog = append(f.unsubLog, subscriptionID)
	return nil
}

func (f *fakeClient) renewCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.renewLog)
}

func (f *fakeClient) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribeLog)
}

func (f *fakeClient) lastIssuedID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issuedIDs[len(f.issuedIDs)-1]
}

func newTestHub(client DeviceEventClient, publish func(Event)) *Hub {
	h := NewHub(client, []byte("test-secret"), publish)
	h.renewMargin = 20 * time.Millisecond
	h.backoffStart = 10 * time.Millisecond
	h.backoffCap = 40 * time.Millisecond
	return h
}

func TestSubscribeStartsRenewalLoopAheadOfExpiry(t *testing.T) {
	client := newFakeClient(30 * time.Millisecond)
	h := newTestHub(client, func(Event) {})

	require.NoError(t, h.Subscribe(context.Background(), "dev-1", "http://cb/dev-1"))
	require.Eventually(t, func() bool { return client.renewCount() >= 1 }, time.Second, time.Millisecond)

	h.Unregister("dev-1")
}

func TestRenewFailureTriggersBackoffThenResubscribe(t *testing.T) {
	client := newFakeClient(30 * time.Millisecond)
	client.renewFail = 2 // first two renewal attempts fail, backoff resubscribes

	h := newTestHub(client, func(Event) {})
	require.NoError(t, h.Subscribe(context.Background(), "dev-1", "http://cb/dev-1"))

	require.Eventually(t, func() bool { return client.subscribeCount() >= 2 }, time.Second, time.Millisecond)
	h.Unregister("dev-1")
}

func TestUnregisterTearsDownGracefully(t *testing.T) {
	client := newFakeClient(time.Hour)
	h := newTestHub(client, func(Event) {})

	require.NoError(t, h.Subscribe(context.Background(), "dev-1", "http://cb/dev-1"))
	h.Unregister("dev-1")

	assert.Len(t, client.unsubLog, 1)
	_, err := h.Token("dev-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUnregisterOfUnknownDeviceIsNoop(t *testing.T) {
	client := newFakeClient(time.Hour)
	h := newTestHub(client, func(Event) {})
	h.Unregister("never-subscribed")
	assert.Empty(t, client.unsubLog)
}

func TestHandleCallbackDeliversValidEvent(t *testing.T) {
	client := newFakeClient(time.Hour)
	var received []Event
	h := newTestHub(client, func(e Event) { received = append(received, e) })

	require.NoError(t, h.Subscribe(context.Background(), "dev-1", "http://cb/dev-1"))
	token, err := h.Token("dev-1")
	require.NoError(t, err)

	subID := client.lastIssuedID()
	err = h.HandleCallback("dev-1", subID, token, map[string]string{"Volume": "10"}, []byte("<payload/>"))
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, "dev-1", received[0].DeviceID)
	assert.Equal(t, "10", received[0].Vars["Volume"])

	h.Unregister("dev-1")
}

func TestHandleCallbackRejectsWrongToken(t *testing.T) {
	client := newFakeClient(time.Hour)
	var received []Event
	h := newTestHub(client, func(e Event) { received = append(received, e) })

	require.NoError(t, h.Subscribe(context.Background(), "dev-1", "http://cb/dev-1"))
	subID := client.lastIssuedID()

	err := h.HandleCallback("dev-1", subID, "not-the-right-token", nil, nil)
	assert.Error(t, err)
	assert.Empty(t, received)

	h.Unregister("dev-1")
}

func TestHandleCallbackRejectsStaleSubscriptionID(t *testing.T) {
	client := newFakeClient(time.Hour)
	var received []Event
	h := newTestHub(client, func(e Event) { received = append(received, e) })

	require.NoError(t, h.Subscribe(context.Background(), "dev-1", "http://cb/dev-1"))
	token, err := h.Token("dev-1")
	require.NoError(t, err)

	err = h.HandleCallback("dev-1", "sub-999", token, nil, nil)
	assert.Error(t, err)
	assert.Empty(t, received)

	h.Unregister("dev-1")
}

func TestHandleCallbackRejectsUnknownDevice(t *testing.T) {
	client := newFakeClient(time.Hour)
	h := newTestHub(client, func(Event) {})

	err := h.HandleCallback("never-subscribed", "sub-1", "irrelevant", nil, nil)
	assert.Error(t, err)
}

func TestResubscribeReplacesSubscriptionID(t *testing.T) {
	client := newFakeClient(30 * time.Millisecond)
	client.renewFail = 1

	h := newTestHub(client, func(Event) {})
	require.NoError(t, h.Subscribe(context.Background(), "dev-1", "http://cb/dev-1"))

	firstToken, err := h.Token("dev-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return client.subscribeCount() >= 2 }, time.Second, time.Millisecond)

	secondToken, err := h.Token("dev-1")
	require.NoError(t, err)
	assert.NotEqual(t, firstToken, secondToken, "a new subscription id must yield a different signed token")

	h.Unregister("dev-1")
}
