// Package sdk is the client runtime: cached, retried reads of vault program
// accounts, push subscriptions that keep the cache current, and transaction
// builders preconfigured with the client's compute budget.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"fluxsdk/pkg"
	"fluxsdk/pkg/cache"
	"fluxsdk/pkg/retry"
	"fluxsdk/pkg/sol"
	"fluxsdk/pkg/subscription"
	"fluxsdk/pkg/txbuilder"
	"fluxsdk/pkg/vault"
)

// ErrNoNotifier is returned by subscription calls on a client built without
// a push transport.
var ErrNoNotifier = errors.New("client has no notification transport")

// maxParallelReads bounds GetMultipleVaults fan-out.
const maxParallelReads = 8

// Client owns its caches and subscription hub; independent clients share
// nothing.
type Client struct {
	fetcher  sol.AccountFetcher
	notifier subscription.Notifier
	hub      *subscription.Hub

	vaults   *cache.Store[*vault.VaultState]
	profiles *cache.Store[*vault.UserProfile]
	cacheTTL time.Duration

	clock    clock.Clock
	logger   *zap.Logger
	defaults requestOptions
	backoff  time.Duration
	coalesce bool
	inflight singleflight.Group

	programID        solana.PublicKey
	computeUnitLimit uint32
	priorityFee      uint64

	closers []io.Closer
}

// New returns a client reading through fetcher. The fetcher is also used
// for Simulate and Send when it implements the txbuilder interfaces.
func New(fetcher sol.AccountFetcher, opts ...Option) *Client {
	c := &Client{
		fetcher:          fetcher,
		cacheTTL:         DefaultCacheTTL,
		clock:            clock.New(),
		logger:           zap.NewNop(),
		defaults:         defaultRequestOptions(),
		backoff:          retry.DefaultBase,
		programID:        pkg.FluxCoreProgramID,
		computeUnitLimit: txbuilder.DefaultComputeUnitLimit,
		priorityFee:      txbuilder.DefaultPriorityFee,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.vaults = cache.New[*vault.VaultState](cache.WithTTL(c.cacheTTL), cache.WithClock(c.clock))
	c.profiles = cache.New[*vault.UserProfile](cache.WithTTL(c.cacheTTL), cache.WithClock(c.clock))

	if c.notifier != nil {
		c.hub = subscription.NewHub(c.notifier,
			subscription.WithHubLogger(c.logger),
			subscription.WithOnUpdate(c.supersede),
		)
	}
	return c
}

// GetVaultState returns the decoded vault at address. With caching enabled a
// fresh cached record is returned without a remote call; otherwise the
// account is fetched and decoded under the retry policy and the result
// replaces the cache entry.
func (c *Client) GetVaultState(ctx context.Context, address solana.PublicKey, opts ...RequestOption) (*vault.VaultState, error) {
	return load(ctx, c, c.vaults, cache.Key(cache.KindVault, address), c.requestOptions(opts), func(ctx context.Context) (*vault.VaultState, error) {
		data, slot, err := c.fetcher.FetchAccount(ctx, address)
		if err != nil {
			return nil, err
		}
		state, err := vault.Decode(address, data)
		if err != nil {
			return nil, err
		}
		return state.WithSlot(slot), nil
	})
}

// GetUserProfile is GetVaultState for user profile accounts.
func (c *Client) GetUserProfile(ctx context.Context, address solana.PublicKey, opts ...RequestOption) (*vault.UserProfile, error) {
	return load(ctx, c, c.profiles, cache.Key(cache.KindUserProfile, address), c.requestOptions(opts), func(ctx context.Context) (*vault.UserProfile, error) {
		data, _, err := c.fetcher.FetchAccount(ctx, address)
		if err != nil {
			return nil, err
		}
		return vault.DecodeUserProfile(address, data)
	})
}

// GetMultipleVaults reads addresses with caching enabled. Cache misses are
// read in getMultipleAccounts batches when the remote supports it and one by
// one otherwise, or when a batch keeps failing. The result is index-aligned
// with addresses; missing or failed reads are nil and logged.
func (c *Client) GetMultipleVaults(ctx context.Context, addresses []solana.PublicKey, opts ...RequestOption) []*vault.VaultState {
	ro := c.requestOptions(append([]RequestOption{WithCache(true)}, opts...))
	results := make([]*vault.VaultState, len(addresses))

	var misses []int
	for i, address := range addresses {
		if ro.useCache {
			if state, ok := c.vaults.Get(cache.Key(cache.KindVault, address)); ok {
				results[i] = state
				continue
			}
		}
		misses = append(misses, i)
	}

	batcher, ok := c.fetcher.(sol.BatchFetcher)
	if !ok {
		c.readEach(ctx, addresses, misses, results, ro)
		return results
	}
	for start := 0; start < len(misses); start += sol.MaxBatchSize {
		chunk := misses[start:min(start+sol.MaxBatchSize, len(misses))]
		if err := c.readBatch(ctx, batcher, addresses, chunk, results, ro); err != nil {
			c.logger.Warn("batch read failed, reading individually",
				zap.Int("accounts", len(chunk)),
				zap.Error(err),
			)
			c.readEach(ctx, addresses, chunk, results, ro)
		}
	}
	return results
}

type accountBatch struct {
	data [][]byte
	slot uint64
}

func (c *Client) readBatch(ctx context.Context, batcher sol.BatchFetcher, addresses []solana.PublicKey, chunk []int, results []*vault.VaultState, ro requestOptions) error {
	keys := make([]solana.PublicKey, len(chunk))
	for j, i := range chunk {
		keys[j] = addresses[i]
	}

	batch, err := retry.Do(ctx, c.executor(ro, "vault_batch"), func(ctx context.Context) (accountBatch, error) {
		data, slot, err := batcher.FetchAccounts(ctx, keys)
		if err != nil {
			return accountBatch{}, err
		}
		if len(data) != len(keys) {
			return accountBatch{}, fmt.Errorf("batch returned %d accounts for %d addresses", len(data), len(keys))
		}
		return accountBatch{data: data, slot: slot}, nil
	})
	if err != nil {
		return err
	}

	for j, i := range chunk {
		address := addresses[i]
		if batch.data[j] == nil {
			c.logger.Warn("vault read failed", zap.String("address", address.String()), zap.Error(pkg.ErrNotFound))
			continue
		}
		state, err := vault.Decode(address, batch.data[j])
		if err != nil {
			c.logger.Warn("vault read failed", zap.String("address", address.String()), zap.Error(err))
			continue
		}
		state = state.WithSlot(batch.slot)
		c.vaults.Put(cache.Key(cache.KindVault, address), state)
		results[i] = state
	}
	return nil
}

// readEach reads the given indexes concurrently, bypassing the cache.
func (c *Client) readEach(ctx context.Context, addresses []solana.PublicKey, indexes []int, results []*vault.VaultState, ro requestOptions) {
	var g errgroup.Group
	g.SetLimit(maxParallelReads)
	for _, i := range indexes {
		address := addresses[i]
		g.Go(func() error {
			state, err := c.GetVaultState(ctx, address,
				WithMaxRetries(ro.maxRetries),
				WithTimeout(ro.timeout),
				WithCache(false),
			)
			if err != nil {
				c.logger.Warn("vault read failed",
					zap.String("address", address.String()),
					zap.Error(err),
				)
				return nil
			}
			results[i] = state
			return nil
		})
	}
	_ = g.Wait()
}

// SubscribeVaultUpdates calls callback with every decoded push for address.
// Each push also replaces the cached record.
func (c *Client) SubscribeVaultUpdates(address solana.PublicKey, callback func(*vault.VaultState)) (subscription.SubscriptionID, error) {
	if c.hub == nil {
		return 0, ErrNoNotifier
	}
	if callback == nil {
		return 0, fmt.Errorf("nil callback")
	}
	return c.hub.Subscribe(address, func(u subscription.Update) error {
		callback(u.State)
		return nil
	})
}

// StreamVaultUpdates is SubscribeVaultUpdates as a channel, closed when ctx
// is done or the subscription is released.
func (c *Client) StreamVaultUpdates(ctx context.Context, address solana.PublicKey) (<-chan subscription.Update, subscription.SubscriptionID, error) {
	if c.hub == nil {
		return nil, 0, ErrNoNotifier
	}
	return c.hub.Stream(ctx, address, StreamBuffer)
}

func (c *Client) Unsubscribe(id subscription.SubscriptionID) error {
	if c.hub == nil {
		return ErrNoNotifier
	}
	return c.hub.Unsubscribe(id)
}

// NewTransactionBuilder returns a builder for payer using the client's
// program id and compute budget.
func (c *Client) NewTransactionBuilder(payer solana.PublicKey) *txbuilder.Builder {
	return txbuilder.New(payer, defaultBuilderOptions(c)...).
		SetComputeBudget(c.computeUnitLimit).
		SetPriorityFee(c.priorityFee)
}

// Simulate dry-runs the builder's transaction through the client's remote.
func (c *Client) Simulate(ctx context.Context, b *txbuilder.Builder) (*txbuilder.SimulationResult, error) {
	sim, ok := c.fetcher.(txbuilder.Simulator)
	if !ok {
		return nil, fmt.Errorf("remote %T cannot simulate transactions", c.fetcher)
	}
	return b.Simulate(ctx, sim)
}

// Send signs and submits the builder's transaction through the client's remote.
func (c *Client) Send(ctx context.Context, b *txbuilder.Builder, signer txbuilder.Signer) (solana.Signature, error) {
	sender, ok := c.fetcher.(txbuilder.Sender)
	if !ok {
		return solana.Signature{}, fmt.Errorf("remote %T cannot send transactions", c.fetcher)
	}
	return b.Send(ctx, sender, signer)
}

// CachedVault returns the cached record for address if it is still fresh.
func (c *Client) CachedVault(address solana.PublicKey) (*vault.VaultState, bool) {
	return c.vaults.Get(cache.Key(cache.KindVault, address))
}

// Close releases all subscriptions and the transports the client owns.
func (c *Client) Close() error {
	var errs []error
	if c.hub != nil {
		if err := c.hub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) supersede(u subscription.Update) {
	c.vaults.Put(cache.Key(cache.KindVault, u.Address), u.State)
}

func (c *Client) requestOptions(opts []RequestOption) requestOptions {
	ro := c.defaults
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

func (c *Client) executor(ro requestOptions, key string) retry.Executor {
	return retry.Executor{
		MaxRetries: ro.maxRetries,
		Timeout:    ro.timeout,
		Base:       c.backoff,
		Clock:      c.clock,
		Logger:     c.logger.With(zap.String("key", key)),
	}
}

func load[V any](ctx context.Context, c *Client, store *cache.Store[V], key string, ro requestOptions, fetch retry.Operation[V]) (V, error) {
	if ro.useCache {
		if v, ok := store.Get(key); ok {
			return v, nil
		}
	}

	fetchAndStore := func() (V, error) {
		v, err := retry.Do(ctx, c.executor(ro, key), fetch)
		if err != nil {
			return v, err
		}
		store.Put(key, v)
		return v, nil
	}

	if !c.coalesce {
		return fetchAndStore()
	}
	shared, err, _ := c.inflight.Do(key, func() (interface{}, error) {
		return fetchAndStore()
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return shared.(V), nil
}
