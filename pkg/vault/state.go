package vault

import (
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"

	"fluxsdk/pkg"
	"fluxsdk/pkg/anchor"
)

const (
	// LayoutVersion identifies the account layout this decoder understands.
	LayoutVersion = 1

	// VaultAccountSize is the full serialized size of a Vault account.
	VaultAccountSize = 8 + 32 + 8 + 8 + 8 + 1 + 2 + 2 + 32 + 1 + 16 + 8 + 2 + 2 + 2 + 2 + 2 + 128
)

// VaultDiscriminator prefixes every Vault account.
var VaultDiscriminator = anchor.AccountDiscriminator("Vault")

// VaultState is the decoded Vault account. A value is never mutated after
// decoding; newer reads or pushes replace it.
type VaultState struct {
	Address   solana.PublicKey
	Authority solana.PublicKey

	TotalAssets     uint64
	Liabilities     uint64
	CollateralRatio uint16 // basis points, 15000 = 150%
	RiskFactor      uint16 // basis points
	LastUpdate      time.Time
	IsFrozen        bool

	InterestAccumulator uint128.Uint128 // WAD-scaled
	PerformanceFee      uint16          // basis points

	Bump               uint8
	OracleConfig       solana.PublicKey
	LastFeeCollection  time.Time
	ManagementFee      uint16
	FlashLoanFee       uint16
	LiquidationPenalty uint16
	LiquidationBonus   uint16

	// Slot is the context slot the bytes were read at, zero when unknown.
	Slot uint64
}

// vaultLayout mirrors the on-chain field order for borsh decoding.
type vaultLayout struct {
	Discriminator       [8]uint8
	Authority           solana.PublicKey
	TotalAssets         uint64
	TotalLiabilities    uint64
	LastUpdate          int64
	Bump                uint8
	CollateralRatio     uint16
	RiskFactor          uint16
	OracleConfig        solana.PublicKey
	IsFrozen            bool
	InterestAccumulator uint128.Uint128
	LastFeeCollection   int64
	PerformanceFeeRate  uint16
	ManagementFeeRate   uint16
	FlashLoanFeeRate    uint16
	LiquidationPenalty  uint16
	LiquidationBonus    uint16
	Reserved            [128]uint8
}

// Decode parses raw Vault account bytes. Data with a foreign discriminator or
// the wrong length is rejected with *pkg.DecodeError rather than guessed at.
func Decode(address solana.PublicKey, data []byte) (*VaultState, error) {
	if len(data) < VaultAccountSize {
		return nil, &pkg.DecodeError{
			Account: address.String(),
			Reason:  fmt.Sprintf("data too short: expected %d bytes, got %d", VaultAccountSize, len(data)),
		}
	}
	if !VaultDiscriminator.Matches(data) {
		return nil, &pkg.DecodeError{
			Account: address.String(),
			Reason:  fmt.Sprintf("unknown discriminator %x", data[:anchor.DiscriminatorSize]),
		}
	}

	var layout vaultLayout
	if err := bin.NewBorshDecoder(data[:VaultAccountSize]).Decode(&layout); err != nil {
		return nil, &pkg.DecodeError{Account: address.String(), Reason: err.Error()}
	}

	return &VaultState{
		Address:             address,
		Authority:           layout.Authority,
		TotalAssets:         layout.TotalAssets,
		Liabilities:         layout.TotalLiabilities,
		CollateralRatio:     layout.CollateralRatio,
		RiskFactor:          layout.RiskFactor,
		LastUpdate:          time.Unix(layout.LastUpdate, 0).UTC(),
		IsFrozen:            layout.IsFrozen,
		InterestAccumulator: layout.InterestAccumulator,
		PerformanceFee:      layout.PerformanceFeeRate,
		Bump:                layout.Bump,
		OracleConfig:        layout.OracleConfig,
		LastFeeCollection:   time.Unix(layout.LastFeeCollection, 0).UTC(),
		ManagementFee:       layout.ManagementFeeRate,
		FlashLoanFee:        layout.FlashLoanFeeRate,
		LiquidationPenalty:  layout.LiquidationPenalty,
		LiquidationBonus:    layout.LiquidationBonus,
	}, nil
}

// Encode serializes v back into the account layout. The client never writes
// accounts; this exists for fixtures and local simulation.
func Encode(v *VaultState) ([]byte, error) {
	layout := vaultLayout{
		Discriminator:       VaultDiscriminator,
		Authority:           v.Authority,
		TotalAssets:         v.TotalAssets,
		TotalLiabilities:    v.Liabilities,
		LastUpdate:          v.LastUpdate.Unix(),
		Bump:                v.Bump,
		CollateralRatio:     v.CollateralRatio,
		RiskFactor:          v.RiskFactor,
		OracleConfig:        v.OracleConfig,
		IsFrozen:            v.IsFrozen,
		InterestAccumulator: v.InterestAccumulator,
		LastFeeCollection:   v.LastFeeCollection.Unix(),
		PerformanceFeeRate:  v.PerformanceFee,
		ManagementFeeRate:   v.ManagementFee,
		FlashLoanFeeRate:    v.FlashLoanFee,
		LiquidationPenalty:  v.LiquidationPenalty,
		LiquidationBonus:    v.LiquidationBonus,
	}
	buf, err := bin.MarshalBorsh(&layout)
	if err != nil {
		return nil, fmt.Errorf("encode vault: %w", err)
	}
	return buf, nil
}

// WithSlot returns a copy of v tagged with the slot it was observed at.
func (v VaultState) WithSlot(slot uint64) *VaultState {
	v.Slot = slot
	return &v
}
