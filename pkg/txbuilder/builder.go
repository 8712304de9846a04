// Package txbuilder assembles vault program transactions: a compute budget
// prefix followed by program steps in the order they were added.
package txbuilder

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"fluxsdk/pkg"
)

const (
	DefaultComputeUnitLimit uint32 = 200_000
	// DefaultPriorityFee is in micro-lamports per compute unit.
	DefaultPriorityFee uint64 = 1000
)

// Builder collects steps for one transaction. Setters and steps return the
// builder so calls chain; the first validation error is kept and returned by
// Build.
type Builder struct {
	payer            solana.PublicKey
	programID        solana.PublicKey
	computeUnitLimit uint32
	priorityFee      uint64
	steps            []solana.Instruction
	err              error
	logger           *zap.Logger
}

type Option func(*Builder)

// WithProgramID targets a different deployment of the vault program.
func WithProgramID(id solana.PublicKey) Option {
	return func(b *Builder) { b.programID = id }
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New returns a builder paying fees from payer, which also signs as the
// authority of every program step unless a step names another one.
func New(payer solana.PublicKey, opts ...Option) *Builder {
	b := &Builder{
		payer:            payer,
		programID:        pkg.FluxCoreProgramID,
		computeUnitLimit: DefaultComputeUnitLimit,
		priorityFee:      DefaultPriorityFee,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) SetComputeBudget(units uint32) *Builder {
	b.computeUnitLimit = units
	return b
}

func (b *Builder) SetPriorityFee(microLamports uint64) *Builder {
	b.priorityFee = microLamports
	return b
}

func (b *Builder) Payer() solana.PublicKey { return b.payer }

// Err returns the first step validation error, if any.
func (b *Builder) Err() error { return b.err }

// Len is the number of steps added so far, compute budget excluded.
func (b *Builder) Len() int { return len(b.steps) }

// AddInstruction appends an arbitrary instruction, e.g. a bundle tip.
func (b *Builder) AddInstruction(inst solana.Instruction) *Builder {
	if inst == nil {
		return b.fail(fmt.Errorf("nil instruction: %w", pkg.ErrInsufficientResources))
	}
	return b.push("custom", inst)
}

// FetchAccounts are the accounts of fetch_assets. Authority defaults to
// the payer.
type FetchAccounts struct {
	Vault         solana.PublicKey
	Authority     solana.PublicKey
	OracleFeed    solana.PublicKey
	HistoryBuffer solana.PublicKey
}

// AddFetchStep deposits amount into the vault.
func (b *Builder) AddFetchStep(accounts FetchAccounts, amount uint64) *Builder {
	authority := b.authority(accounts.Authority)
	if err := requireAccounts(InstructionFetchAssets,
		named{"vault", accounts.Vault},
		named{"authority", authority},
		named{"oracle_feed", accounts.OracleFeed},
		named{"history_buffer", accounts.HistoryBuffer},
	); err != nil {
		return b.fail(err)
	}
	if amount == 0 {
		return b.fail(fmt.Errorf("%s: amount must be positive: %w", InstructionFetchAssets, pkg.ErrInsufficientResources))
	}

	return b.push(InstructionFetchAssets, &ProgramInstruction{
		Name:    InstructionFetchAssets,
		Program: b.programID,
		Args:    []interface{}{amount},
		AccountMetaSlice: solana.AccountMetaSlice{
			solana.NewAccountMeta(accounts.Vault, true, false),
			solana.NewAccountMeta(authority, true, true),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
			solana.NewAccountMeta(accounts.OracleFeed, false, false),
			solana.NewAccountMeta(accounts.HistoryBuffer, false, false),
		},
	})
}

// LiquidationAccounts are the accounts of liquidate_position. Liquidator
// defaults to the payer.
type LiquidationAccounts struct {
	Vault                  solana.PublicKey
	TokenIn                solana.PublicKey // collateral source
	TokenOut               solana.PublicKey // debt asset destination
	LiquidatorTokenAccount solana.PublicKey
	Liquidator             solana.PublicKey
	PriceFeedCollateral    solana.PublicKey
	PriceFeedDebt          solana.PublicKey
}

// AddLiquidationStep liquidates an unhealthy vault through the aggregator.
func (b *Builder) AddLiquidationStep(accounts LiquidationAccounts) *Builder {
	liquidator := b.authority(accounts.Liquidator)
	if err := requireAccounts(InstructionLiquidatePosition,
		named{"vault", accounts.Vault},
		named{"token_in", accounts.TokenIn},
		named{"token_out", accounts.TokenOut},
		named{"liquidator_token_account", accounts.LiquidatorTokenAccount},
		named{"authority", liquidator},
		named{"price_feed_collateral", accounts.PriceFeedCollateral},
		named{"price_feed_debt", accounts.PriceFeedDebt},
	); err != nil {
		return b.fail(err)
	}

	return b.push(InstructionLiquidatePosition, &ProgramInstruction{
		Name:    InstructionLiquidatePosition,
		Program: b.programID,
		AccountMetaSlice: solana.AccountMetaSlice{
			solana.NewAccountMeta(accounts.Vault, true, false),
			solana.NewAccountMeta(pkg.JupiterAggregatorV6, false, false),
			solana.NewAccountMeta(accounts.TokenIn, true, false),
			solana.NewAccountMeta(accounts.TokenOut, true, false),
			solana.NewAccountMeta(accounts.LiquidatorTokenAccount, true, false),
			solana.NewAccountMeta(liquidator, false, true),
			solana.NewAccountMeta(pkg.TokenProgramID, false, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
			solana.NewAccountMeta(accounts.PriceFeedCollateral, false, false),
			solana.NewAccountMeta(accounts.PriceFeedDebt, false, false),
		},
	})
}

// AddTransferStep moves lamports from the payer with the system program.
func (b *Builder) AddTransferStep(recipient solana.PublicKey, lamports uint64) *Builder {
	if err := requireAccounts("transfer", named{"payer", b.payer}, named{"recipient", recipient}); err != nil {
		return b.fail(err)
	}
	return b.push("transfer", system.NewTransferInstruction(lamports, b.payer, recipient).Build())
}

// SecureTransferAccounts are the accounts of xfer_funds. Authority defaults
// to the payer.
type SecureTransferAccounts struct {
	UserProfile       solana.PublicKey
	Authority         solana.PublicKey
	Recipient         solana.PublicKey
	BlacklistRegistry solana.PublicKey
}

// AddSecureTransferStep transfers through the program's compliance checks.
func (b *Builder) AddSecureTransferStep(accounts SecureTransferAccounts, amount uint64) *Builder {
	authority := b.authority(accounts.Authority)
	if err := requireAccounts(InstructionXferFunds,
		named{"user_profile", accounts.UserProfile},
		named{"authority", authority},
		named{"recipient", accounts.Recipient},
		named{"blacklist_registry", accounts.BlacklistRegistry},
	); err != nil {
		return b.fail(err)
	}
	if amount == 0 {
		return b.fail(fmt.Errorf("%s: amount must be positive: %w", InstructionXferFunds, pkg.ErrInsufficientResources))
	}

	return b.push(InstructionXferFunds, &ProgramInstruction{
		Name:    InstructionXferFunds,
		Program: b.programID,
		Args:    []interface{}{amount},
		AccountMetaSlice: solana.AccountMetaSlice{
			solana.NewAccountMeta(accounts.UserProfile, true, false),
			solana.NewAccountMeta(authority, true, true),
			solana.NewAccountMeta(accounts.Recipient, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
			solana.NewAccountMeta(accounts.BlacklistRegistry, false, false),
		},
	})
}

// AddUnloadStep moves vault assets to the incinerator program.
func (b *Builder) AddUnloadStep(vault solana.PublicKey) *Builder {
	if err := requireAccounts(InstructionUnloadVault, named{"vault", vault}, named{"authority", b.payer}); err != nil {
		return b.fail(err)
	}
	return b.push(InstructionUnloadVault, &ProgramInstruction{
		Name:    InstructionUnloadVault,
		Program: b.programID,
		AccountMetaSlice: solana.AccountMetaSlice{
			solana.NewAccountMeta(vault, true, false),
			solana.NewAccountMeta(pkg.FluxIncineratorProgramID, false, false),
			solana.NewAccountMeta(b.payer, false, true),
		},
	})
}

// AddUpdateConfigStep sets the vault's risk factor. The payer must be the
// vault authority or the program rejects the call.
func (b *Builder) AddUpdateConfigStep(vault solana.PublicKey, riskFactor uint16) *Builder {
	return b.adminStep(InstructionUpdateConfig, vault, riskFactor)
}

func (b *Builder) AddFreezeStep(vault solana.PublicKey) *Builder {
	return b.adminStep(InstructionEmergencyFreeze, vault)
}

func (b *Builder) AddUnfreezeStep(vault solana.PublicKey) *Builder {
	return b.adminStep(InstructionEmergencyUnfreeze, vault)
}

func (b *Builder) adminStep(name string, vault solana.PublicKey, args ...interface{}) *Builder {
	if err := requireAccounts(name, named{"vault", vault}, named{"authority", b.payer}); err != nil {
		return b.fail(err)
	}
	return b.push(name, &ProgramInstruction{
		Name:    name,
		Program: b.programID,
		Args:    args,
		AccountMetaSlice: solana.AccountMetaSlice{
			solana.NewAccountMeta(vault, true, false),
			solana.NewAccountMeta(b.payer, false, true),
		},
	})
}

// Build returns a new request holding the compute limit, the compute price
// and then every step in insertion order. It does not change the builder,
// so it may be called again after more steps are added.
func (b *Builder) Build() (*TransactionRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.payer.IsZero() {
		return nil, fmt.Errorf("fee payer not set: %w", pkg.ErrInsufficientResources)
	}

	instructions := make([]solana.Instruction, 0, len(b.steps)+2)
	instructions = append(instructions,
		computebudget.NewSetComputeUnitLimitInstruction(b.computeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(b.priorityFee).Build(),
	)
	instructions = append(instructions, b.steps...)

	return &TransactionRequest{
		Payer:            b.payer,
		ComputeUnitLimit: b.computeUnitLimit,
		PriorityFee:      b.priorityFee,
		Instructions:     instructions,
	}, nil
}

func (b *Builder) authority(override solana.PublicKey) solana.PublicKey {
	if override.IsZero() {
		return b.payer
	}
	return override
}

func (b *Builder) push(name string, inst solana.Instruction) *Builder {
	if b.err != nil {
		return b
	}
	b.logger.Debug("adding step", zap.String("step", name), zap.Int("index", len(b.steps)))
	b.steps = append(b.steps, inst)
	return b
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
		b.logger.Warn("invalid step", zap.Error(err))
	}
	return b
}

type named struct {
	name string
	key  solana.PublicKey
}

func requireAccounts(step string, accounts ...named) error {
	for _, a := range accounts {
		if a.key.IsZero() {
			return fmt.Errorf("%s: missing account %s: %w", step, a.name, pkg.ErrInsufficientResources)
		}
	}
	return nil
}
