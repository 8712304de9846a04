package sol

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/gagliardetto/solana-go"
	jitorpc "github.com/jito-labs/jito-go-rpc"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// MaxBundleSize is the block engine's limit on transactions per bundle.
const MaxBundleSize = 5

// bundleClient is the subset of the block engine client JitoSender uses.
type bundleClient interface {
	SendBundle(params [][]string) (json.RawMessage, error)
	GetTipAccounts() (json.RawMessage, error)
}

// JitoSender submits signed transactions as an atomic bundle to a block
// engine. Bundles need a tip transfer to one of TipAccounts to be considered.
type JitoSender struct {
	client bundleClient
	logger *zap.Logger
}

func NewJitoSender(endpoint, uuid string, logger *zap.Logger) *JitoSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JitoSender{
		client: jitorpc.NewJitoJsonRpcClient(endpoint, uuid),
		logger: logger,
	}
}

// TipAccounts lists the block engine's tip receivers.
func (j *JitoSender) TipAccounts(ctx context.Context) ([]solana.PublicKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := j.client.GetTipAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to get tip accounts: %w", err)
	}
	var addresses []string
	if err := json.Unmarshal(raw, &addresses); err != nil {
		return nil, fmt.Errorf("failed to parse tip accounts: %w", err)
	}
	out := make([]solana.PublicKey, 0, len(addresses))
	for _, a := range addresses {
		pk, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return nil, fmt.Errorf("invalid tip account %q: %w", a, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

// RandomTipAccount picks one tip receiver to spread write locks.
func (j *JitoSender) RandomTipAccount(ctx context.Context) (solana.PublicKey, error) {
	accounts, err := j.TipAccounts(ctx)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if len(accounts) == 0 {
		return solana.PublicKey{}, fmt.Errorf("block engine returned no tip accounts")
	}
	return accounts[rand.Intn(len(accounts))], nil
}

// SendBundle submits signed transactions in order and returns the bundle id.
func (j *JitoSender) SendBundle(ctx context.Context, txs ...*solana.Transaction) (string, error) {
	if len(txs) == 0 || len(txs) > MaxBundleSize {
		return "", fmt.Errorf("bundle must hold 1 to %d transactions, got %d", MaxBundleSize, len(txs))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	encoded := make([]string, 0, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("failed to serialize transaction %d: %w", i, err)
		}
		encoded = append(encoded, base58.Encode(raw))
	}

	resp, err := j.client.SendBundle([][]string{encoded})
	if err != nil {
		return "", fmt.Errorf("failed to send bundle: %w", err)
	}
	var bundleID string
	if err := json.Unmarshal(resp, &bundleID); err != nil {
		return "", fmt.Errorf("failed to parse bundle id: %w", err)
	}

	j.logger.Info("bundle submitted",
		zap.String("bundle_id", bundleID),
		zap.Int("transactions", len(txs)),
	)
	return bundleID, nil
}
