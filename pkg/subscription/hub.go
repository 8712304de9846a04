// Package subscription fans push notifications for watched vault accounts
// out to registered listeners and channel streams.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"fluxsdk/pkg/vault"
)

var ErrHubClosed = errors.New("subscription hub closed")

// DefaultQueueSize bounds the raw notifications waiting for one address's
// listeners. When full, the oldest waiting notification is dropped.
const DefaultQueueSize = 256

// SubscriptionID identifies one listener registration.
type SubscriptionID uint64

// Update is a decoded push notification.
type Update struct {
	Address solana.PublicKey
	State   *vault.VaultState
	Slot    uint64
}

// Listener handles an update. A returned error or a panic is logged and does
// not affect other listeners.
type Listener func(Update) error

type listenerEntry struct {
	id SubscriptionID
	fn Listener
}

type queuedUpdate struct {
	data []byte
	slot uint64
}

// topic is the state of one watched address. Its own goroutine drains queue,
// so a slow listener only holds up updates for this address.
type topic struct {
	address     solana.PublicKey
	transportID uint64
	listeners   []listenerEntry // guarded by Hub.mu

	qmu   sync.Mutex
	queue []queuedUpdate
	wake  chan struct{}
	quit  chan struct{}
}

func newTopic(address solana.PublicKey) *topic {
	return &topic{
		address: address,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
}

// Hub keeps one transport subscription per address and dispatches every
// decoded update to that address's listeners in registration order. Each
// address is delivered on its own goroutine in transport order.
type Hub struct {
	notifier  Notifier
	logger    *zap.Logger
	onUpdate  func(Update)
	queueSize int

	opMu    sync.Mutex // serializes Subscribe/Unsubscribe/Close
	mu      sync.RWMutex
	nextID  SubscriptionID
	topics  map[solana.PublicKey]*topic
	owners  map[SubscriptionID]solana.PublicKey
	streams map[SubscriptionID]*stream
	closed  bool
}

type HubOption func(*Hub)

func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithOnUpdate registers a hook run for every decoded update before any
// listener. The runtime uses it to refresh its cache.
func WithOnUpdate(fn func(Update)) HubOption {
	return func(h *Hub) { h.onUpdate = fn }
}

// WithQueueSize sets how many notifications may wait per address.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func NewHub(notifier Notifier, opts ...HubOption) *Hub {
	h := &Hub{
		notifier:  notifier,
		logger:    zap.NewNop(),
		queueSize: DefaultQueueSize,
		nextID:    1,
		topics:   make(map[solana.PublicKey]*topic),
		owners:   make(map[SubscriptionID]solana.PublicKey),
		streams:  make(map[SubscriptionID]*stream),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers listener for address, opening a transport
// subscription if this is the first listener for it.
func (h *Hub) Subscribe(address solana.PublicKey, listener Listener) (SubscriptionID, error) {
	if listener == nil {
		return 0, fmt.Errorf("nil listener")
	}

	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, ErrHubClosed
	}
	id := h.nextID
	h.nextID++
	t, exists := h.topics[address]
	if !exists {
		t = newTopic(address)
		h.topics[address] = t
		go h.run(t)
	}
	t.listeners = append(t.listeners, listenerEntry{id: id, fn: listener})
	h.owners[id] = address
	h.mu.Unlock()

	if exists {
		return id, nil
	}

	transportID, err := h.notifier.SubscribeAccount(address, h.dispatch)
	if err != nil {
		h.mu.Lock()
		delete(h.topics, address)
		delete(h.owners, id)
		h.mu.Unlock()
		close(t.quit)
		return 0, fmt.Errorf("subscribe %s: %w", address, err)
	}

	h.mu.Lock()
	t.transportID = transportID
	h.mu.Unlock()

	h.logger.Debug("watching account",
		zap.String("address", address.String()),
		zap.Uint64("transport_id", transportID),
	)
	return id, nil
}

// Unsubscribe removes a listener or stream. The transport subscription is
// released with the last listener for its address.
func (h *Hub) Unsubscribe(id SubscriptionID) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	return h.unsubscribeLocked(id)
}

func (h *Hub) unsubscribeLocked(id SubscriptionID) error {
	h.mu.Lock()
	address, exists := h.owners[id]
	if !exists {
		h.mu.Unlock()
		return fmt.Errorf("subscription not found: %d", id)
	}
	delete(h.owners, id)
	s := h.streams[id]
	delete(h.streams, id)

	t := h.topics[address]
	kept := t.listeners[:0:0]
	for _, l := range t.listeners {
		if l.id != id {
			kept = append(kept, l)
		}
	}
	t.listeners = kept
	release := len(kept) == 0
	if release {
		delete(h.topics, address)
	}
	h.mu.Unlock()

	if s != nil {
		s.close()
	}
	if !release {
		return nil
	}
	close(t.quit)
	if err := h.notifier.Unsubscribe(t.transportID); err != nil {
		h.logger.Warn("failed to release transport subscription",
			zap.String("address", address.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Stream returns a channel of updates for address. Sends block when the
// buffer is full, which stalls delivery for that address only until the
// consumer catches up; meanwhile notifications queue up to the hub's queue
// size. The channel is closed on Unsubscribe, ctx cancellation or Close.
func (h *Hub) Stream(ctx context.Context, address solana.PublicKey, buffer int) (<-chan Update, SubscriptionID, error) {
	if buffer < 0 {
		buffer = 0
	}
	s := &stream{ch: make(chan Update, buffer), done: make(chan struct{})}

	id, err := h.Subscribe(address, s.send)
	if err != nil {
		return nil, 0, err
	}

	h.mu.Lock()
	_, live := h.owners[id]
	if live {
		h.streams[id] = s
	}
	h.mu.Unlock()
	if !live {
		s.close()
		return s.ch, id, nil
	}

	go func() {
		select {
		case <-ctx.Done():
			if err := h.Unsubscribe(id); err != nil {
				h.logger.Debug("stream already released", zap.Uint64("subscription_id", uint64(id)))
			}
		case <-s.done:
		}
	}()
	return s.ch, id, nil
}

// Close releases every subscription and closes all streams. Later calls to
// Subscribe fail with ErrHubClosed.
func (h *Hub) Close() error {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.Lock()
	h.closed = true
	ids := make([]SubscriptionID, 0, len(h.owners))
	for id := range h.owners {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := h.unsubscribeLocked(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Watched returns the number of addresses with at least one listener.
func (h *Hub) Watched() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// dispatch is the transport handler. It only queues the notification, so
// the transport's read loop never waits on listeners.
func (h *Hub) dispatch(address solana.PublicKey, data []byte, slot uint64) {
	h.mu.RLock()
	t := h.topics[address]
	h.mu.RUnlock()
	if t == nil {
		return
	}

	t.qmu.Lock()
	if len(t.queue) >= h.queueSize {
		h.logger.Warn("update queue full, dropping oldest",
			zap.String("address", address.String()),
			zap.Uint64("dropped_slot", t.queue[0].slot),
		)
		t.queue = t.queue[1:]
	}
	t.queue = append(t.queue, queuedUpdate{data: data, slot: slot})
	t.qmu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// run delivers t's queued notifications in order until t is released.
func (h *Hub) run(t *topic) {
	for {
		select {
		case <-t.quit:
			return
		case <-t.wake:
		}
		for {
			t.qmu.Lock()
			if len(t.queue) == 0 {
				t.qmu.Unlock()
				break
			}
			next := t.queue[0]
			t.queue = t.queue[1:]
			t.qmu.Unlock()

			select {
			case <-t.quit:
				return
			default:
			}
			h.deliver(t, next)
		}
	}
}

// deliver decodes once and fans out in registration order.
func (h *Hub) deliver(t *topic, n queuedUpdate) {
	state, err := vault.Decode(t.address, n.data)
	if err != nil {
		h.logger.Warn("dropping undecodable update",
			zap.String("address", t.address.String()),
			zap.Uint64("slot", n.slot),
			zap.Error(err),
		)
		return
	}
	update := Update{Address: t.address, State: state.WithSlot(n.slot), Slot: n.slot}

	h.mu.RLock()
	listeners := append([]listenerEntry(nil), t.listeners...)
	h.mu.RUnlock()

	if h.onUpdate != nil {
		h.safeCall(t.address, 0, func(u Update) error {
			h.onUpdate(u)
			return nil
		}, update)
	}
	for _, l := range listeners {
		h.safeCall(t.address, l.id, l.fn, update)
	}
}

func (h *Hub) safeCall(address solana.PublicKey, id SubscriptionID, fn Listener, update Update) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("listener panicked",
				zap.String("address", address.String()),
				zap.Uint64("subscription_id", uint64(id)),
				zap.Any("panic", r),
			)
		}
	}()
	if err := fn(update); err != nil {
		h.logger.Warn("listener failed",
			zap.String("address", address.String()),
			zap.Uint64("subscription_id", uint64(id)),
			zap.Error(err),
		)
	}
}

type stream struct {
	ch     chan Update
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func (s *stream) send(u Update) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	select {
	case s.ch <- u:
	case <-s.done:
	}
	return nil
}

// close unblocks pending senders before closing the channel.
func (s *stream) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
