package vault

import (
	"strconv"
	"time"

	"fluxsdk/pkg/wad"
)

// Summary is the JSON view of a vault served by the tools. Token amounts are
// strings so JavaScript clients do not lose precision.
type Summary struct {
	Address             string    `json:"address"`
	Authority           string    `json:"authority"`
	TotalAssets         string    `json:"totalAssets"`
	Liabilities         string    `json:"liabilities"`
	CollateralRatioBps  uint16    `json:"collateralRatioBps"`
	RiskFactorBps       uint16    `json:"riskFactorBps"`
	PerformanceFeeBps   uint16    `json:"performanceFeeBps"`
	IsFrozen            bool      `json:"isFrozen"`
	InterestAccumulator string    `json:"interestAccumulator"`
	InterestIndex       float64   `json:"interestIndex"`
	UtilizationBps      uint64    `json:"utilizationBps"`
	Solvent             bool      `json:"solvent"`
	LastUpdate          time.Time `json:"lastUpdate"`
	Slot                uint64    `json:"slot,omitempty"`
	HealthFactor        *uint64   `json:"healthFactor,omitempty"`
}

// Summarize builds the JSON view. A non-zero oraclePrice adds the health
// factor at that price; an overflowing health factor is left out.
func (v VaultState) Summarize(oraclePrice uint64) Summary {
	s := Summary{
		Address:             v.Address.String(),
		Authority:           v.Authority.String(),
		TotalAssets:         strconv.FormatUint(v.TotalAssets, 10),
		Liabilities:         strconv.FormatUint(v.Liabilities, 10),
		CollateralRatioBps:  v.CollateralRatio,
		RiskFactorBps:       v.RiskFactor,
		PerformanceFeeBps:   v.PerformanceFee,
		IsFrozen:            v.IsFrozen,
		InterestAccumulator: v.InterestAccumulator.String(),
		InterestIndex:       wad.FromWad(wad.FromU128(v.InterestAccumulator)),
		UtilizationBps:      v.UtilizationBps(),
		Solvent:             v.IsSolvent(),
		LastUpdate:          v.LastUpdate,
		Slot:                v.Slot,
	}
	if oraclePrice > 0 {
		if hf, err := v.HealthFactor(oraclePrice); err == nil {
			s.HealthFactor = &hf
		}
	}
	return s
}
