package sdk

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"fluxsdk/pkg/config"
	"fluxsdk/pkg/sol"
	"fluxsdk/pkg/subscription"
)

// Dial builds a client from cfg: an RPC pool over the configured endpoints
// and, when a websocket endpoint is known, a push transport. The client
// owns both and releases them in Close.
func Dial(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := sol.NewRPCPool(ctx, cfg.RPC.Endpoints, cfg.RPC.JitoEndpoint, cfg.RPC.RateLimit,
		sol.WithCommitment(rpc.CommitmentType(cfg.RPC.Commitment)),
		sol.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc pool: %w", err)
	}

	opts := []Option{
		WithLogger(logger),
		WithCacheTTL(cfg.Cache.TTL),
		WithCoalescing(cfg.Request.Coalesce),
		WithRequestDefaults(cfg.Request.MaxRetries, cfg.Request.Timeout, cfg.Request.UseCache),
		WithBackoff(cfg.Request.Backoff),
		WithProgramID(cfg.ProgramID()),
		WithComputeBudget(cfg.Transaction.ComputeUnitLimit, cfg.Transaction.PriorityFee),
	}

	var ws *subscription.WebSocketClient
	if endpoint := cfg.WebSocketEndpoint(); endpoint != "" {
		ws, err = subscription.NewWebSocketClient(ctx, endpoint,
			subscription.WithLogger(logger),
			subscription.WithCommitment(cfg.RPC.Commitment),
		)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("websocket %s: %w", endpoint, err)
		}
		opts = append(opts, WithNotifier(ws))
	}

	client := New(pool, opts...)
	client.closers = append(client.closers, pool)
	if ws != nil {
		client.closers = append(client.closers, ws)
	}
	logger.Info("flux client ready",
		zap.Int("rpc_endpoints", pool.Size()),
		zap.Bool("subscriptions", ws != nil),
	)
	return client, nil
}
