// Package sol adapts the ledger's JSON-RPC API to the narrow read, simulate
// and send surfaces the runtime depends on.
package sol

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fluxsdk/pkg"
)

// AccountFetcher reads raw account bytes and the slot they were observed at.
type AccountFetcher interface {
	FetchAccount(ctx context.Context, address solana.PublicKey) ([]byte, uint64, error)
}

// MaxBatchSize is the most accounts one getMultipleAccounts request may name.
const MaxBatchSize = 100

// BatchFetcher reads up to MaxBatchSize accounts in one request. Missing
// accounts have nil data at their index.
type BatchFetcher interface {
	FetchAccounts(ctx context.Context, addresses []solana.PublicKey) ([][]byte, uint64, error)
}

// Client wraps an rpc.Client rate limited per endpoint.
type Client struct {
	RpcClient  *rpc.Client
	JitoClient *JitoSender
	endpoint   string
	commitment rpc.CommitmentType
	logger     *zap.Logger
}

type Option func(*Client)

// WithCommitment sets the read and simulation commitment, "confirmed" by default.
func WithCommitment(commitment rpc.CommitmentType) Option {
	return func(c *Client) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient connects to endpoint, limiting requests to reqLimitPerSecond
// (no limit when it is not positive). A non-empty jitoRpc enables bundle
// submission through JitoClient.
func NewClient(ctx context.Context, endpoint string, jitoRpc string, reqLimitPerSecond int, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("empty rpc endpoint")
	}

	var rpcClient *rpc.Client
	if reqLimitPerSecond > 0 {
		rpcClient = rpc.NewWithCustomRPCClient(rpc.NewWithLimiter(endpoint, rate.Limit(reqLimitPerSecond), reqLimitPerSecond))
	} else {
		rpcClient = rpc.New(endpoint)
	}

	c := &Client{
		RpcClient:  rpcClient,
		endpoint:   endpoint,
		commitment: rpc.CommitmentConfirmed,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if jitoRpc != "" {
		c.JitoClient = NewJitoSender(jitoRpc, "", c.logger)
	}
	return c, nil
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) GetAccountInfoWithOpts(ctx context.Context, address solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return c.RpcClient.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
	})
}

func (c *Client) GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
	return c.RpcClient.GetMultipleAccountsWithOpts(ctx, accounts, &rpc.GetMultipleAccountsOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
	})
}

// FetchAccount returns the account's data and context slot. A missing
// account is reported as pkg.ErrNotFound.
func (c *Client) FetchAccount(ctx context.Context, address solana.PublicKey) ([]byte, uint64, error) {
	resp, err := c.GetAccountInfoWithOpts(ctx, address)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, 0, fmt.Errorf("%s: %w", address, pkg.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	if resp == nil || resp.Value == nil {
		return nil, 0, fmt.Errorf("%s: %w", address, pkg.ErrNotFound)
	}
	return resp.Value.Data.GetBinary(), resp.Context.Slot, nil
}

// FetchAccounts reads several accounts in one request. Missing accounts have
// nil data at their index.
func (c *Client) FetchAccounts(ctx context.Context, addresses []solana.PublicKey) ([][]byte, uint64, error) {
	if len(addresses) > MaxBatchSize {
		return nil, 0, fmt.Errorf("%d accounts requested, at most %d per batch", len(addresses), MaxBatchSize)
	}
	resp, err := c.GetMultipleAccountsWithOpts(ctx, addresses)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get %d accounts: %w", len(addresses), err)
	}
	out := make([][]byte, len(addresses))
	for i, acc := range resp.Value {
		if i >= len(out) {
			break
		}
		if acc != nil {
			out[i] = acc.Data.GetBinary()
		}
	}
	return out, resp.Context.Slot, nil
}

func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	resp, err := c.RpcClient.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return resp.Value.Blockhash, nil
}

// SimulateTransaction runs tx without signature verification.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResult, error) {
	resp, err := c.RpcClient.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  false,
		Commitment: c.commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to simulate transaction: %w", err)
	}
	return resp.Value, nil
}

func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.RpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	c.logger.Info("transaction sent",
		zap.String("signature", sig.String()),
		zap.String("endpoint", c.endpoint),
	)
	return sig, nil
}

func (c *Client) Close() error {
	return c.RpcClient.Close()
}
