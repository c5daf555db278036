// Package broadcast implements the Timed Broadcast Bus (spec §4.2): a
// bounded, TTL-aware fan-out channel that lets one producer feed many
// independent, possibly-slow consumers without any consumer blocking the
// producer or each other.
//
// It is a close port of the Rust original's timed_broadcast module, kept
// close enough that the two should be read side by side: the same capacity
// formula, the same 20ms purge throttle, the same 50ms expiry grace window,
// and the same epoch-on-TopZero restart logic. Where the Rust side leans on
// tokio::sync::Notify and Weak<T>, this port uses a small close-and-replace
// channel notifier (the standard Go idiom for "wake everyone currently
// waiting") and the standard library's weak package for receiver cursors —
// a receiver that is dropped without calling Close is still forgotten once
// the garbage collector reclaims it, exactly like the Rust Weak upgrade
// failing.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/coissac/pmomusic/internal/core"
)

// topZeroEpsilon is the tolerance used to detect a zero audio timestamp.
const topZeroEpsilon = 1e-9

// DefaultMaxLeadTime is the default amount of audio, in seconds, a bus
// should be able to buffer ahead of the slowest consumer before a producer
// blocks. Mirrors DEFAULT_BROADCAST_MAX_LEAD_TIME.
const DefaultMaxLeadTime = 0.5

// purgeThrottle bounds how often purgeExpired actually scans the buffer.
const purgeThrottle = 20 * time.Millisecond

// expiryGrace is how far past its computed expiry a packet may still be
// accepted before Send rejects it outright. Exposed as a variable (not a
// literal) per the decision recorded in the expanded design notes: the
// grace window is a tunable, not a hardcoded constant.
var expiryGrace = 50 * time.Millisecond

// SetExpiryGrace overrides the default expiry grace window. Intended for
// tests and for deployments tuning the tradeoff between tolerating jittery
// producers and carrying stale audio.
func SetExpiryGrace(d time.Duration) { expiryGrace = d }

// ErrEmpty is returned by TryRecv when no packet is currently available and
// the bus is not closed.
var ErrEmpty = errors.New("pmomusic: no packet available")

// CapacityForLead estimates the slot count needed to buffer maxLeadTime
// seconds of audio, assuming roughly 20 chunks/second (50ms chunks), with a
// floor of 100 slots. Mirrors calculate_broadcast_capacity.
func CapacityForLead(maxLeadTime float64) int {
	const estimatedItemsPerSecond = 20.0
	capacity := int(maxLeadTime * estimatedItemsPerSecond)
	if capacity < 100 {
		return 100
	}
	return capacity
}

// TimedPacket is what a Receiver gets back from Recv/TryRecv: the payload
// plus the timing metadata it was sent with.
type TimedPacket[T any] struct {
	Payload        T
	AudioTimestamp float64
	Epoch          uint64
}

type entry[T any] struct {
	seq            uint64
	expiresAt      time.Time
	payload        T
	audioTimestamp float64
	epoch          uint64
}

// cursor tracks one receiver's read position. The bus only ever holds a
// weak.Pointer to it; the owning Receiver holds the only strong reference.
type cursor struct {
	nextSeq atomic.Uint64
}

// notifier is a "wake everyone currently waiting" signal: callers select on
// the channel returned by wait(); broadcast() closes it and swaps in a
// fresh one so future waiters block again.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	old := n.ch
	n.ch = make(chan struct{})
	n.mu.Unlock()
	close(old)
}

type state[T any] struct {
	name string

	buffer  []entry[T]
	headSeq uint64
	nextSeq uint64
	closed  bool

	epoch          uint64
	epochStart     time.Time
	lastSegmentEnd *time.Time
	initialized    bool

	lastPurge time.Time
	cursors   []weak.Pointer[cursor]
}

func newState[T any](name string) *state[T] {
	now := time.Now()
	return &state[T]{name: name, epochStart: now, lastPurge: now}
}

// purgeExpired drops entries from the front of the buffer whose expiry has
// passed, throttled to at most once per purgeThrottle window. Returns true
// if anything was purged.
func (s *state[T]) purgeExpired(now time.Time) bool {
	if now.Sub(s.lastPurge) < purgeThrottle {
		return false
	}
	s.lastPurge = now

	purged := 0
	for len(s.buffer) > 0 && !s.buffer[0].expiresAt.After(now) {
		e := s.buffer[0]
		s.buffer = s.buffer[1:]
		s.headSeq++
		purged++
		slog.Debug("broadcast bus purged expired packet",
			"bus", s.name, "seq", e.seq, "epoch", e.epoch, "delta", now.Sub(e.expiresAt))
	}
	if purged > 0 {
		slog.Debug("broadcast bus purge summary", "bus", s.name, "count", purged, "head_seq", s.headSeq)
		return true
	}
	return false
}

// pruneConsumed drops entries every live receiver has already read past,
// recovering slots without waiting for TTL expiry. Receivers that have been
// garbage collected without calling Close are dropped from the cursor list
// here, matching the Rust side's Weak::upgrade failing.
func (s *state[T]) pruneConsumed() bool {
	minNext := s.nextSeq
	hasCursor := false
	live := s.cursors[:0]
	for _, wp := range s.cursors {
		c := wp.Value()
		if c == nil {
			continue
		}
		pos := c.nextSeq.Load()
		if pos < minNext {
			minNext = pos
		}
		hasCursor = true
		live = append(live, wp)
	}
	s.cursors = live

	if !hasCursor {
		return false
	}
	if minNext <= s.headSeq {
		return false
	}
	removable := int(minNext - s.headSeq)
	if removable > len(s.buffer) {
		removable = len(s.buffer)
	}
	if removable == 0 {
		return false
	}
	for i := 0; i < removable; i++ {
		e := s.buffer[i]
		slog.Debug("broadcast bus pruned consumed packet", "bus", s.name, "seq", e.seq, "epoch", e.epoch)
	}
	s.buffer = s.buffer[removable:]
	s.headSeq += uint64(removable)
	return true
}

// Bus owns the shared state a Sender and its Receivers operate on.
type Bus[T any] struct {
	mu    sync.Mutex
	state *state[T]

	capacity int

	senderCount   atomic.Int64
	receiverCount atomic.Int64

	dataNotify  *notifier
	spaceNotify *notifier
}

// New creates a timed broadcast bus with the given name (used only in log
// lines) and slot capacity. capacity must be > 0; use CapacityForLead to
// derive one from a desired lead time.
func New[T any](name string, capacity int) (*Sender[T], *Receiver[T]) {
	if capacity <= 0 {
		panic("broadcast: capacity must be > 0")
	}
	bus := &Bus[T]{
		state:       newState[T](name),
		capacity:    capacity,
		dataNotify:  newNotifier(),
		spaceNotify: newNotifier(),
	}
	bus.senderCount.Store(1)

	c := &cursor{}
	bus.state.cursors = append(bus.state.cursors, weak.Make(c))
	bus.receiverCount.Store(1)

	sender := &Sender[T]{bus: bus}
	receiver := &Receiver[T]{bus: bus, cursor: c}
	return sender, receiver
}

// Sender is the producer side of a Bus.
type Sender[T any] struct {
	bus *Bus[T]
}

// Clone returns a new Sender handle sharing the same bus, incrementing the
// sender count so Close only closes the bus once every clone is closed.
func (s *Sender[T]) Clone() *Sender[T] {
	s.bus.senderCount.Add(1)
	return &Sender[T]{bus: s.bus}
}

// Send broadcasts a payload tagged with its audio timestamp and the
// duration of audio it represents, blocking until a slot is free or ctx is
// done. It returns the number of receivers that were subscribed at the
// moment of insertion, or an error if the bus is closed or the packet has
// already expired by more than the grace window.
func (s *Sender[T]) Send(ctx context.Context, payload T, audioTimestamp, segmentDuration float64) (int, error) {
	st := s.bus.state
	for {
		var waitDeadline *time.Time

		s.bus.mu.Lock()
		if st.closed {
			s.bus.mu.Unlock()
			return 0, core.ErrClosed
		}

		now := time.Now()
		if len(st.buffer) > 0 {
			consumed := st.pruneConsumed()
			expired := st.purgeExpired(now)
			if consumed || expired {
				s.bus.spaceNotify.broadcast()
			}
		}

		isTopZero := absf(audioTimestamp) < topZeroEpsilon && segmentDuration >= topZeroEpsilon
		isZeroHeader := absf(audioTimestamp) < topZeroEpsilon && segmentDuration < topZeroEpsilon

		if len(st.buffer) < s.bus.capacity {
			if !st.initialized {
				if !isTopZero && segmentDuration >= topZeroEpsilon {
					slog.Warn("broadcast bus first packet has non-zero timestamp, treating as epoch start anyway",
						"bus", st.name, "timestamp_ms", audioTimestamp*1000, "duration_ms", segmentDuration*1000)
				}
				st.epochStart = now
				st.epoch = 0
				st.initialized = true
				slog.Info("broadcast bus initialized", "bus", st.name, "epoch", 0)
			} else if isTopZero || isZeroHeader {
				base := now
				if st.lastSegmentEnd != nil && st.lastSegmentEnd.After(base) {
					base = *st.lastSegmentEnd
				}
				st.epochStart = base
				st.epoch++
				slog.Info("broadcast bus new epoch", "bus", st.name, "epoch", st.epoch,
					"continuous", st.lastSegmentEnd != nil, "duration_ms", segmentDuration*1000)
			}

			expiresAt := st.epochStart.Add(time.Duration((audioTimestamp + segmentDuration) * float64(time.Second)))

			isFirstPacket := st.nextSeq == 0
			if !isFirstPacket && !isTopZero && !isZeroHeader && !expiresAt.After(now) {
				if now.Sub(expiresAt) > expiryGrace {
					s.bus.mu.Unlock()
					slog.Warn("broadcast bus rejecting already expired packet",
						"bus", st.name, "timestamp", audioTimestamp, "epoch", st.epoch,
						"delta", now.Sub(expiresAt))
					return 0, core.ErrExpired
				}
			}

			e := entry[T]{
				seq:            st.nextSeq,
				expiresAt:      expiresAt,
				payload:        payload,
				audioTimestamp: audioTimestamp,
				epoch:          st.epoch,
			}
			st.nextSeq++
			st.buffer = append(st.buffer, e)

			if segmentDuration >= topZeroEpsilon {
				if st.lastSegmentEnd == nil || expiresAt.After(*st.lastSegmentEnd) {
					st.lastSegmentEnd = &expiresAt
				}
			}

			receivers := int(s.bus.receiverCount.Load())
			s.bus.mu.Unlock()
			s.bus.dataNotify.broadcast()
			return receivers, nil
		}

		if len(st.buffer) > 0 {
			d := st.buffer[0].expiresAt
			waitDeadline = &d
		}
		s.bus.mu.Unlock()

		waitCh := s.bus.spaceNotify.wait()
		if waitDeadline != nil {
			timer := time.NewTimer(time.Until(*waitDeadline))
			select {
			case <-waitCh:
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return 0, ctx.Err()
			}
			timer.Stop()
		} else {
			select {
			case <-waitCh:
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}
}

// Subscribe creates a new Receiver starting from the bus's current head.
func (s *Sender[T]) Subscribe() *Receiver[T] {
	s.bus.mu.Lock()
	nextSeq := s.bus.state.nextSeq
	c := &cursor{}
	c.nextSeq.Store(nextSeq)
	s.bus.state.cursors = append(s.bus.state.cursors, weak.Make(c))
	s.bus.state.pruneConsumed()
	s.bus.mu.Unlock()

	s.bus.receiverCount.Add(1)
	return &Receiver[T]{bus: s.bus, cursor: c, nextSeq: nextSeq}
}

// ReceiverCount returns the number of receivers currently subscribed.
func (s *Sender[T]) ReceiverCount() int {
	return int(s.bus.receiverCount.Load())
}

// Close shuts the bus down: pending receivers observe ErrClosed once the
// buffer drains.
func (s *Sender[T]) Close() {
	s.bus.mu.Lock()
	already := s.bus.state.closed
	s.bus.state.closed = true
	s.bus.mu.Unlock()
	if !already {
		s.bus.dataNotify.broadcast()
		s.bus.spaceNotify.broadcast()
	}
}

// Receiver is the consumer side of a Bus. Each Receiver has its own read
// cursor; a slow receiver only affects itself, via Lagged errors, never the
// producer or other receivers.
type Receiver[T any] struct {
	bus     *Bus[T]
	cursor  *cursor
	nextSeq uint64
}

func (r *Receiver[T]) tryRecvLocked(st *state[T]) (TimedPacket[T], error) {
	if st.closed && len(st.buffer) == 0 {
		var zero TimedPacket[T]
		return zero, core.ErrClosed
	}

	now := time.Now()
	if st.purgeExpired(now) {
		r.bus.spaceNotify.broadcast()
	}

	if r.nextSeq < st.headSeq {
		skipped := st.headSeq - r.nextSeq
		r.nextSeq = st.headSeq
		var zero TimedPacket[T]
		return zero, &core.Lagged{Skipped: skipped}
	}

	offset := r.nextSeq - st.headSeq
	if offset < uint64(len(st.buffer)) {
		e := st.buffer[offset]
		packet := TimedPacket[T]{Payload: e.payload, AudioTimestamp: e.audioTimestamp, Epoch: e.epoch}
		r.nextSeq++
		r.cursor.nextSeq.Store(r.nextSeq)
		if st.pruneConsumed() {
			r.bus.spaceNotify.broadcast()
		}
		return packet, nil
	}

	var zero TimedPacket[T]
	if st.closed {
		return zero, core.ErrClosed
	}
	return zero, ErrEmpty
}

// TryRecv returns the next packet without blocking. It returns ErrEmpty if
// none is available yet, a *core.Lagged if packets were purged out from
// under this receiver's cursor, or ErrClosed once the bus is drained.
func (r *Receiver[T]) TryRecv() (TimedPacket[T], error) {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	return r.tryRecvLocked(r.bus.state)
}

// Recv blocks until a packet is available, the bus closes, or ctx is done.
func (r *Receiver[T]) Recv(ctx context.Context) (TimedPacket[T], error) {
	for {
		packet, err := r.TryRecv()
		switch {
		case err == nil:
			return packet, nil
		case errors.Is(err, ErrEmpty):
			select {
			case <-r.bus.dataNotify.wait():
			case <-ctx.Done():
				var zero TimedPacket[T]
				return zero, ctx.Err()
			}
		default:
			return packet, err
		}
	}
}

// Clone creates an independent receiver sharing this one's current read
// position.
func (r *Receiver[T]) Clone() *Receiver[T] {
	r.bus.receiverCount.Add(1)
	c := &cursor{}
	c.nextSeq.Store(r.nextSeq)

	r.bus.mu.Lock()
	r.bus.state.cursors = append(r.bus.state.cursors, weak.Make(c))
	r.bus.mu.Unlock()

	return &Receiver[T]{bus: r.bus, cursor: c, nextSeq: r.nextSeq}
}

// Close releases this receiver's cursor immediately, rather than waiting
// for garbage collection to drop the weak reference. Callers that can
// deterministically detect disconnection (an HTTP handler returning, a
// pipeline node shutting down) should always call Close.
func (r *Receiver[T]) Close() {
	r.cursor.nextSeq.Store(r.nextSeq)
	r.bus.mu.Lock()
	live := r.bus.state.cursors[:0]
	for _, wp := range r.bus.state.cursors {
		if wp.Value() != r.cursor {
			live = append(live, wp)
		}
	}
	r.bus.state.cursors = live
	pruned := r.bus.state.pruneConsumed()
	r.bus.mu.Unlock()
	if pruned {
		r.bus.spaceNotify.broadcast()
	}
	if r.bus.receiverCount.Add(-1) == 0 {
		r.bus.spaceNotify.broadcast()
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
