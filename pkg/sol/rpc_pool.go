package sol

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCPool spreads requests over several endpoints in round-robin order.
// Successive retries of the same read therefore hit different endpoints.
type RPCPool struct {
	clients []*Client
	index   uint64
}

// NewRPCPool creates one rate-limited client per endpoint.
func NewRPCPool(ctx context.Context, endpoints []string, jitoRpc string, reqLimitPerSecond int, opts ...Option) (*RPCPool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no rpc endpoints configured")
	}

	pool := &RPCPool{clients: make([]*Client, 0, len(endpoints))}
	for _, endpoint := range endpoints {
		client, err := NewClient(ctx, endpoint, jitoRpc, reqLimitPerSecond, opts...)
		if err != nil {
			return nil, err
		}
		pool.clients = append(pool.clients, client)
	}
	return pool, nil
}

// GetClient returns the next client in round-robin order.
func (p *RPCPool) GetClient() *Client {
	if len(p.clients) == 1 {
		return p.clients[0]
	}
	idx := atomic.AddUint64(&p.index, 1) % uint64(len(p.clients))
	return p.clients[idx]
}

func (p *RPCPool) GetAllClients() []*Client {
	return p.clients
}

func (p *RPCPool) Size() int {
	return len(p.clients)
}

func (p *RPCPool) FetchAccount(ctx context.Context, address solana.PublicKey) ([]byte, uint64, error) {
	return p.GetClient().FetchAccount(ctx, address)
}

func (p *RPCPool) FetchAccounts(ctx context.Context, addresses []solana.PublicKey) ([][]byte, uint64, error) {
	return p.GetClient().FetchAccounts(ctx, addresses)
}

func (p *RPCPool) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return p.GetClient().LatestBlockhash(ctx)
}

func (p *RPCPool) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResult, error) {
	return p.GetClient().SimulateTransaction(ctx, tx)
}

func (p *RPCPool) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return p.GetClient().SendTransaction(ctx, tx)
}

// Jito returns the first bundle sender configured in the pool, if any.
func (p *RPCPool) Jito() *JitoSender {
	for _, c := range p.clients {
		if c.JitoClient != nil {
			return c.JitoClient
		}
	}
	return nil
}

func (p *RPCPool) Close() error {
	var errs []error
	for _, c := range p.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
