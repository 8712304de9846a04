package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"fluxsdk/pkg/vault"
)

type fakeNotifier struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]AccountUpdateHandler
	byAddr   map[solana.PublicKey]uint64
	released []uint64
	failNext error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		nextID:   100,
		handlers: make(map[uint64]AccountUpdateHandler),
		byAddr:   make(map[solana.PublicKey]uint64),
	}
}

func (f *fakeNotifier) SubscribeAccount(address solana.PublicKey, handler AccountUpdateHandler) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return 0, err
	}
	f.nextID++
	f.handlers[f.nextID] = handler
	f.byAddr[address] = f.nextID
	return f.nextID, nil
}

func (f *fakeNotifier) Unsubscribe(id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, id)
	f.released = append(f.released, id)
	return nil
}

func (f *fakeNotifier) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeNotifier) handler(t *testing.T, address solana.PublicKey) AccountUpdateHandler {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[f.byAddr[address]]
	f.mu.Unlock()
	require.True(t, ok, "no transport subscription for %s", address)
	return h
}

func (f *fakeNotifier) push(t *testing.T, address solana.PublicKey, data []byte, slot uint64) {
	t.Helper()
	f.handler(t, address)(address, data, slot)
}

func vaultBytes(t *testing.T, assets uint64) []byte {
	t.Helper()
	data, err := vault.Encode(&vault.VaultState{TotalAssets: assets, Liabilities: assets / 2})
	require.NoError(t, err)
	return data
}

var (
	addrA = solana.MustPublicKeyFromBase58("FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH")
	addrB = solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
)

func recv(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("update not delivered")
		return Update{}
	}
}

func TestHubListenerIsolation(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	n := newFakeNotifier()
	h := NewHub(n, WithHubLogger(zap.New(core)))
	defer h.Close()

	var order []string
	_, err := h.Subscribe(addrA, func(Update) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	require.NoError(t, err)
	_, err = h.Subscribe(addrA, func(Update) error {
		order = append(order, "second")
		panic("listener bug")
	})
	require.NoError(t, err)

	got := make(chan Update, 1)
	_, err = h.Subscribe(addrA, func(u Update) error {
		order = append(order, "third")
		got <- u
		return nil
	})
	require.NoError(t, err)

	bCalls := make(chan Update, 1)
	_, err = h.Subscribe(addrB, func(u Update) error {
		bCalls <- u
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, n.subscriptions(), "one transport subscription per address")

	n.push(t, addrA, vaultBytes(t, 1_000), 42)

	u := recv(t, got)
	assert.Equal(t, []string{"first", "second", "third"}, order)
	require.NotNil(t, u.State)
	assert.Equal(t, uint64(1_000), u.State.TotalAssets)
	assert.Equal(t, uint64(42), u.Slot)
	assert.Equal(t, uint64(42), u.State.Slot)
	assert.Equal(t, addrA, u.State.Address)
	assert.Empty(t, bCalls)

	assert.Equal(t, 1, logs.FilterMessage("listener failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("listener panicked").Len())
}

func TestHubDropsUndecodableUpdate(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	n := newFakeNotifier()
	h := NewHub(n, WithHubLogger(zap.New(core)))
	defer h.Close()

	got := make(chan Update, 2)
	_, err := h.Subscribe(addrA, func(u Update) error {
		got <- u
		return nil
	})
	require.NoError(t, err)

	n.push(t, addrA, []byte{1, 2, 3}, 1)
	n.push(t, addrA, vaultBytes(t, 5), 2)

	// the valid update arrives first, so the bad one was skipped
	assert.Equal(t, uint64(2), recv(t, got).Slot)
	assert.Empty(t, got)
	assert.Equal(t, 1, logs.FilterMessage("dropping undecodable update").Len())
}

func TestHubOnUpdateRunsFirst(t *testing.T) {
	n := newFakeNotifier()
	var seen []string
	h := NewHub(n, WithOnUpdate(func(u Update) {
		seen = append(seen, "hook")
	}))
	defer h.Close()

	done := make(chan Update, 1)
	_, err := h.Subscribe(addrA, func(u Update) error {
		seen = append(seen, "listener")
		done <- u
		return nil
	})
	require.NoError(t, err)

	n.push(t, addrA, vaultBytes(t, 10), 1)
	recv(t, done)
	assert.Equal(t, []string{"hook", "listener"}, seen)
}

func TestHubPreservesOrderPerAddress(t *testing.T) {
	n := newFakeNotifier()
	h := NewHub(n)
	defer h.Close()

	got := make(chan Update, 50)
	_, err := h.Subscribe(addrA, func(u Update) error {
		got <- u
		return nil
	})
	require.NoError(t, err)

	for slot := uint64(1); slot <= 50; slot++ {
		n.push(t, addrA, vaultBytes(t, slot), slot)
	}
	for slot := uint64(1); slot <= 50; slot++ {
		assert.Equal(t, slot, recv(t, got).Slot)
	}
}

func TestHubStalledStreamDoesNotBlockOtherAddresses(t *testing.T) {
	n := newFakeNotifier()
	h := NewHub(n)
	defer h.Close()

	// nobody reads this unbuffered stream
	_, _, err := h.Stream(context.Background(), addrA, 0)
	require.NoError(t, err)

	got := make(chan Update, 1)
	_, err = h.Subscribe(addrB, func(u Update) error {
		got <- u
		return nil
	})
	require.NoError(t, err)

	deliverA, deliverB := n.handler(t, addrA), n.handler(t, addrB)
	first, second, third := vaultBytes(t, 1), vaultBytes(t, 2), vaultBytes(t, 3)
	returned := make(chan struct{})
	go func() {
		deliverA(addrA, first, 1)
		deliverA(addrA, second, 2)
		deliverB(addrB, third, 3)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("transport handler blocked on a stalled stream")
	}
	assert.Equal(t, addrB, recv(t, got).Address)
}

func TestHubQueueDropsOldest(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	n := newFakeNotifier()
	h := NewHub(n, WithQueueSize(2), WithHubLogger(zap.New(core)))
	defer h.Close()

	ch, _, err := h.Stream(context.Background(), addrA, 0)
	require.NoError(t, err)

	n.push(t, addrA, vaultBytes(t, 1), 1)
	// wait until update 1 is taken off the queue and blocked on the stream
	require.Eventually(t, func() bool {
		h.mu.RLock()
		tp := h.topics[addrA]
		h.mu.RUnlock()
		tp.qmu.Lock()
		defer tp.qmu.Unlock()
		return len(tp.queue) == 0
	}, time.Second, time.Millisecond)

	for slot := uint64(2); slot <= 5; slot++ {
		n.push(t, addrA, vaultBytes(t, slot), slot)
	}

	assert.Equal(t, uint64(1), recv(t, ch).Slot)
	assert.Equal(t, uint64(4), recv(t, ch).Slot)
	assert.Equal(t, uint64(5), recv(t, ch).Slot)
	assert.Equal(t, 2, logs.FilterMessage("update queue full, dropping oldest").Len())
}

func TestHubUnsubscribeReleasesTransport(t *testing.T) {
	n := newFakeNotifier()
	h := NewHub(n)

	noop := func(Update) error { return nil }
	id1, err := h.Subscribe(addrA, noop)
	require.NoError(t, err)
	id2, err := h.Subscribe(addrA, noop)
	require.NoError(t, err)

	require.NoError(t, h.Unsubscribe(id1))
	assert.Equal(t, 1, n.subscriptions())
	assert.Equal(t, 1, h.Watched())

	require.NoError(t, h.Unsubscribe(id2))
	assert.Zero(t, n.subscriptions())
	assert.Zero(t, h.Watched())

	assert.Error(t, h.Unsubscribe(id2))
}

func TestHubSubscribeTransportFailure(t *testing.T) {
	n := newFakeNotifier()
	n.failNext = errors.New("socket closed")
	h := NewHub(n)

	_, err := h.Subscribe(addrA, func(Update) error { return nil })
	require.Error(t, err)
	assert.Zero(t, h.Watched())

	_, err = h.Subscribe(addrA, func(Update) error { return nil })
	assert.NoError(t, err)
}

func TestHubStream(t *testing.T) {
	n := newFakeNotifier()
	h := NewHub(n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, id, err := h.Stream(ctx, addrA, 4)
	require.NoError(t, err)

	n.push(t, addrA, vaultBytes(t, 1), 1)
	n.push(t, addrA, vaultBytes(t, 2), 2)

	first := <-ch
	second := <-ch
	assert.Equal(t, uint64(1), first.State.TotalAssets)
	assert.Equal(t, uint64(2), second.State.TotalAssets)

	require.NoError(t, h.Unsubscribe(id))
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, n.subscriptions())
}

func TestHubStreamClosedOnContextCancel(t *testing.T) {
	n := newFakeNotifier()
	h := NewHub(n)

	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := h.Stream(ctx, addrA, 0)
	require.NoError(t, err)

	// an unbuffered stream with no reader holds its delivery until cancelled
	n.push(t, addrA, vaultBytes(t, 1), 1)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return n.subscriptions() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.Watched())
}

func TestHubClose(t *testing.T) {
	n := newFakeNotifier()
	h := NewHub(n)

	ch, _, err := h.Stream(context.Background(), addrA, 1)
	require.NoError(t, err)
	_, err = h.Subscribe(addrB, func(Update) error { return nil })
	require.NoError(t, err)

	require.NoError(t, h.Close())
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, n.subscriptions())

	_, err = h.Subscribe(addrA, func(Update) error { return nil })
	assert.ErrorIs(t, err, ErrHubClosed)
}
