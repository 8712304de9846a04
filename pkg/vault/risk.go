package vault

import (
	"fmt"
	stdmath "math"
	"math/big"
	"time"

	"cosmossdk.io/math"

	"fluxsdk/pkg"
	"fluxsdk/pkg/wad"
)

// Constants used by the program's risk engine.
const (
	BpsDenominator          = 10_000
	HealthThresholdBps      = 8_500 // 85% LTV used by calculate_health_factor
	BaseLTVBps              = 8_000 // 80% before risk adjustment
	LiquidationThresholdBps = 10_000
	InterestRatePerSecond   = 5
	InterestRateScale       = 1_000_000_000
)

var u128Max = math.NewIntFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)))

// checked mirrors u128 checked_mul/checked_div: it fails instead of wrapping.
func checked(v math.Int) (math.Int, error) {
	if v.IsNegative() || v.GT(u128Max) {
		return math.ZeroInt(), pkg.ErrArithmetic
	}
	return v, nil
}

// truncU64 mirrors a Rust `as u64` cast of a u128.
func truncU64(v math.Int) uint64 {
	mask := new(big.Int).SetUint64(stdmath.MaxUint64)
	return new(big.Int).And(v.BigInt(), mask).Uint64()
}

// HealthFactor mirrors Vault::calculate_health_factor: collateral value times
// the 85% threshold over liabilities, in basis points of the oracle price.
func (v VaultState) HealthFactor(oraclePrice uint64) (uint64, error) {
	if v.Liabilities == 0 {
		return stdmath.MaxUint64, nil
	}
	num, err := checked(math.NewIntFromUint64(v.TotalAssets).Mul(math.NewIntFromUint64(oraclePrice)))
	if err != nil {
		return 0, err
	}
	if num, err = checked(num.MulRaw(HealthThresholdBps)); err != nil {
		return 0, err
	}
	den, err := checked(math.NewIntFromUint64(v.Liabilities).MulRaw(BpsDenominator))
	if err != nil {
		return 0, err
	}
	return truncU64(num.Quo(den)), nil
}

// LiquidationHealthFactor mirrors the liquidation handler's risk-adjusted
// health factor, scaled by 10000 (10000 = 1.0).
func (v VaultState) LiquidationHealthFactor(collateralPrice, debtPrice uint64) (uint64, error) {
	if v.Liabilities == 0 {
		return stdmath.MaxUint64, nil
	}
	colVal, err := checked(math.NewIntFromUint64(v.TotalAssets).Mul(math.NewIntFromUint64(collateralPrice)))
	if err != nil {
		return 0, err
	}
	adjustedLTV := int64(BaseLTVBps) - int64(v.RiskFactor)
	if adjustedLTV < 0 {
		adjustedLTV = 0
	}
	weighted, err := checked(colVal.MulRaw(adjustedLTV))
	if err != nil {
		return 0, err
	}
	weighted = weighted.QuoRaw(BpsDenominator)

	debtVal, err := checked(math.NewIntFromUint64(v.Liabilities).Mul(math.NewIntFromUint64(debtPrice)))
	if err != nil {
		return 0, err
	}
	if debtVal.IsZero() {
		return 0, pkg.ErrArithmetic
	}
	scaled, err := checked(weighted.MulRaw(BpsDenominator))
	if err != nil {
		return 0, err
	}
	return truncU64(scaled.Quo(debtVal)), nil
}

// Liquidatable reports whether liquidate_position would accept this vault at
// the given prices. Frozen vaults are never liquidatable.
func (v VaultState) Liquidatable(collateralPrice, debtPrice uint64) (bool, error) {
	if v.IsFrozen {
		return false, nil
	}
	hf, err := v.LiquidationHealthFactor(collateralPrice, debtPrice)
	if err != nil {
		return false, err
	}
	return hf < LiquidationThresholdBps, nil
}

// MaxRepayAmount is the most debt a single liquidation may repay (50%).
func (v VaultState) MaxRepayAmount() uint64 {
	return v.Liabilities / 2
}

// LiquidationBonusAmount is the bonus paid to a liquidator for repaying
// MaxRepayAmount.
func (v VaultState) LiquidationBonusAmount() uint64 {
	bonus := math.NewIntFromUint64(v.MaxRepayAmount()).Mul(math.NewIntFromUint64(uint64(v.LiquidationBonus))).QuoRaw(BpsDenominator)
	return bonus.Uint64()
}

// AccrueInterest projects the program's simple-interest accrual to now and
// returns the resulting state and the interest added. v is left untouched.
func (v VaultState) AccrueInterest(now time.Time) (*VaultState, uint64, error) {
	delta := now.Unix() - v.LastUpdate.Unix()
	if delta <= 0 {
		return &v, 0, nil
	}
	interest := math.NewIntFromUint64(v.Liabilities).
		MulRaw(InterestRatePerSecond).
		Mul(math.NewIntFromUint64(uint64(delta))).
		QuoRaw(InterestRateScale)
	if _, err := checked(interest); err != nil {
		return nil, 0, err
	}

	acc, err := checked(wad.FromU128(v.InterestAccumulator).Add(interest))
	if err != nil {
		return nil, 0, err
	}
	liabilities := math.NewIntFromUint64(v.Liabilities).Add(interest)
	if !liabilities.IsUint64() {
		return nil, 0, fmt.Errorf("liabilities overflow: %w", pkg.ErrArithmetic)
	}

	next := v
	next.InterestAccumulator, err = wad.ToU128(acc)
	if err != nil {
		return nil, 0, err
	}
	next.Liabilities = liabilities.Uint64()
	next.LastUpdate = time.Unix(now.Unix(), 0).UTC()
	return &next, interest.Uint64(), nil
}

// ValidateCollateral mirrors Vault::validate_collateral.
func (v VaultState) ValidateCollateral(minRatio uint16) bool {
	if v.Liabilities == 0 {
		return true
	}
	ratio := math.NewIntFromUint64(v.TotalAssets).MulRaw(BpsDenominator).Quo(math.NewIntFromUint64(v.Liabilities))
	return ratio.GTE(math.NewInt(int64(minRatio)))
}

func (v VaultState) IsSolvent() bool {
	return v.TotalAssets >= v.Liabilities
}

// UtilizationBps is liabilities over assets in basis points, zero for an
// empty vault.
func (v VaultState) UtilizationBps() uint64 {
	if v.TotalAssets == 0 {
		return 0
	}
	return math.NewIntFromUint64(v.Liabilities).MulRaw(BpsDenominator).Quo(math.NewIntFromUint64(v.TotalAssets)).Uint64()
}

// HealthFactorWad computes collateral value × threshold ÷ debt value in WAD
// form. Values are in a common quote unit; thresholdBps is the liquidation
// threshold in basis points.
func HealthFactorWad(collateralValue, debtValue math.Int, thresholdBps uint64) (math.Int, error) {
	weighted := wad.Mul(collateralValue, wad.BpsToWad(thresholdBps))
	return wad.Div(weighted, debtValue)
}
