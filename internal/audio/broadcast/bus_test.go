package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coissac/pmomusic/internal/core"
)

func TestCapacityForLeadFloor(t *testing.T) {
	assert.Equal(t, 100, CapacityForLead(0))
	assert.Equal(t, 100, CapacityForLead(1))
	assert.Equal(t, 200, CapacityForLead(10))
}

func TestSendRecvBasic(t *testing.T) {
	sender, receiver := New[string]("test", 16)
	ctx := context.Background()

	n, err := sender.Send(ctx, "hello", 0, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pkt, err := receiver.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", pkt.Payload)
	assert.Equal(t, uint64(0), pkt.Epoch)
}

func TestTryRecvEmpty(t *testing.T) {
	_, receiver := New[string]("test", 16)
	_, err := receiver.TryRecv()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	sender, receiver := New[int]("test", 16)
	ctx := context.Background()

	_, err := sender.Send(ctx, 42, 0, 0.05)
	require.NoError(t, err)
	sender.Close()

	pkt, err := receiver.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, pkt.Payload)

	_, err = receiver.Recv(ctx)
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestLaggedReceiverIsReportedOnce(t *testing.T) {
	sender, receiver := New[int]("test", 2)
	SetExpiryGrace(10 * time.Millisecond)
	defer SetExpiryGrace(50 * time.Millisecond)
	ctx := context.Background()

	slow := sender.Subscribe()

	// Each packet expires after ~1ms of audio; the fast receiver drains
	// every send immediately, but the slow one never reads at all, so
	// pruneConsumed (pinned at the slow cursor's never-advancing position)
	// cannot be what frees the buffer — only TTL expiry can. Sleeping past
	// both the expiry and the bus's purge throttle (20ms) between sends
	// makes purgeExpired deterministically evict the previous entry before
	// the next Send, advancing headSeq past the slow cursor's position.
	// Timestamps follow wall-clock time since the first send, so each packet
	// is fresh when sent and no Send is rejected as already expired.
	const rounds = 5
	start := time.Now()
	for i := 0; i < rounds; i++ {
		ts := time.Since(start).Seconds()
		_, err := sender.Send(ctx, i, ts, 0.001)
		require.NoError(t, err)
		_, err = receiver.Recv(ctx)
		require.NoError(t, err)
		time.Sleep(25 * time.Millisecond)
	}

	_, err := slow.TryRecv()
	var lagged *core.Lagged
	require.ErrorAs(t, err, &lagged, "a receiver that never read past expired entries must observe Lagged")
	assert.Greater(t, lagged.Skipped, uint64(0))

	// The docstring's "reported once" half: having fast-forwarded the
	// cursor to headSeq on the first Lagged, a second call must not report
	// the same lag again.
	_, err = slow.TryRecv()
	assert.False(t, errors.As(err, new(*core.Lagged)), "lag must not be reported twice for the same gap")
}

func TestEpochIncrementsOnTopZeroRestart(t *testing.T) {
	sender, receiver := New[int]("test", 16)
	ctx := context.Background()

	_, err := sender.Send(ctx, 1, 0, 0.05)
	require.NoError(t, err)
	pkt, err := receiver.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pkt.Epoch)

	// A later TopZeroSync-equivalent send (timestamp 0, nonzero duration)
	// restarts the epoch.
	_, err = sender.Send(ctx, 2, 0, 0.05)
	require.NoError(t, err)
	pkt, err = receiver.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pkt.Epoch)
}

func TestReceiverCloseReleasesCursor(t *testing.T) {
	sender, receiver := New[int]("test", 2)
	ctx := context.Background()

	other := sender.Subscribe()
	_, err := sender.Send(ctx, 1, 0, 0.05)
	require.NoError(t, err)

	other.Close()
	assert.Equal(t, 1, sender.ReceiverCount())

	_, err = receiver.Recv(ctx)
	require.NoError(t, err)
}
