package txbuilder

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"fluxsdk/pkg"
)

// TransactionRequest is a built, unsigned instruction sequence. It is never
// modified after Build returns it.
type TransactionRequest struct {
	Payer            solana.PublicKey
	ComputeUnitLimit uint32
	PriorityFee      uint64
	Instructions     []solana.Instruction
}

// Transaction assembles the request against a recent blockhash.
func (r *TransactionRequest) Transaction(blockhash solana.Hash) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(r.Instructions, blockhash, solana.TransactionPayer(r.Payer))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble transaction: %w", err)
	}
	return tx, nil
}

// BlockhashSource supplies the blockhash a transaction is assembled with.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

type Simulator interface {
	BlockhashSource
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResult, error)
}

type Sender interface {
	BlockhashSource
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Signer returns the private key for a required signer, or nil if unknown.
type Signer = func(key solana.PublicKey) *solana.PrivateKey

// SimulationResult is the outcome of a dry run. Err carries the raw
// transaction error; ProgramError is set when it maps to a program error.
type SimulationResult struct {
	UnitsConsumed uint64
	Logs          []string
	Err           interface{}
	ProgramError  *pkg.ProgramError
}

func (r *SimulationResult) Failed() bool { return r.Err != nil }

// Error returns nil for a successful simulation, the program error when one
// was recognized, and a generic error otherwise.
func (r *SimulationResult) Error() error {
	switch {
	case r.Err == nil:
		return nil
	case r.ProgramError != nil:
		return r.ProgramError
	default:
		return fmt.Errorf("simulation failed: %v", r.Err)
	}
}

// Simulate builds the transaction, fills in the payer and a fresh blockhash
// and runs it through sim without signatures.
func (b *Builder) Simulate(ctx context.Context, sim Simulator) (*SimulationResult, error) {
	req, err := b.Build()
	if err != nil {
		return nil, err
	}
	hash, err := sim.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := req.Transaction(hash)
	if err != nil {
		return nil, err
	}

	res, err := sim.SimulateTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("empty simulation result")
	}

	out := &SimulationResult{Logs: res.Logs, Err: res.Err}
	if res.UnitsConsumed != nil {
		out.UnitsConsumed = *res.UnitsConsumed
	}
	if res.Err != nil {
		out.ProgramError = pkg.ParseProgramError(res.Err, res.Logs)
	}
	return out, nil
}

// Send builds, signs with signer and submits the transaction. Program
// rejections reported by preflight come back as *pkg.ProgramError.
func (b *Builder) Send(ctx context.Context, sender Sender, signer Signer) (solana.Signature, error) {
	tx, err := b.Signed(ctx, sender, signer)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := sender.SendTransaction(ctx, tx)
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			if programErr := pkg.ParseProgramError(rpcErr.Data, nil); programErr != nil {
				return solana.Signature{}, programErr
			}
		}
		return solana.Signature{}, err
	}
	return sig, nil
}

// Signed builds the transaction against a fresh blockhash and signs it.
func (b *Builder) Signed(ctx context.Context, source BlockhashSource, signer Signer) (*solana.Transaction, error) {
	if signer == nil {
		return nil, fmt.Errorf("no signer: %w", pkg.ErrInsufficientResources)
	}
	req, err := b.Build()
	if err != nil {
		return nil, err
	}
	hash, err := source.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := req.Transaction(hash)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Sign(signer); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}
