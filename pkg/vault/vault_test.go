package vault

import (
	"errors"
	stdmath "math"
	"testing"
	"time"

	"cosmossdk.io/math"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"fluxsdk/pkg"
	"fluxsdk/pkg/wad"
)

func sampleVault() *VaultState {
	return &VaultState{
		Authority:           solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"),
		TotalAssets:         150_000_000_000,
		Liabilities:         80_000_000_000,
		CollateralRatio:     18_750,
		RiskFactor:          350,
		LastUpdate:          time.Unix(1_700_000_000, 0).UTC(),
		InterestAccumulator: uint128.From64(34_928_374_928_374),
		PerformanceFee:      500,
		Bump:                254,
		LastFeeCollection:   time.Unix(1_699_999_000, 0).UTC(),
		ManagementFee:       200,
		FlashLoanFee:        9,
		LiquidationPenalty:  300,
		LiquidationBonus:    500,
	}
}

func TestDecodeVault(t *testing.T) {
	addr := solana.MustPublicKeyFromBase58("FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH")
	want := sampleVault()

	data, err := Encode(want)
	require.NoError(t, err)
	require.Len(t, data, VaultAccountSize)

	got, err := Decode(addr, data)
	require.NoError(t, err)
	assert.Equal(t, addr, got.Address)
	assert.Equal(t, want.Authority, got.Authority)
	assert.Equal(t, uint64(150_000_000_000), got.TotalAssets)
	assert.Equal(t, uint64(80_000_000_000), got.Liabilities)
	assert.Equal(t, uint16(18_750), got.CollateralRatio)
	assert.Equal(t, uint16(350), got.RiskFactor)
	assert.Equal(t, want.LastUpdate, got.LastUpdate)
	assert.False(t, got.IsFrozen)
	assert.Equal(t, "34928374928374", got.InterestAccumulator.String())
	assert.Equal(t, uint16(500), got.PerformanceFee)
	assert.Equal(t, uint16(500), got.LiquidationBonus)
}

func TestDecodeVaultFieldOffsets(t *testing.T) {
	data, err := Encode(sampleVault())
	require.NoError(t, err)

	// total_assets sits right after the discriminator and authority.
	assert.Equal(t, byte(0x00), data[40])
	data[40] = 0x01
	got, err := Decode(solana.PublicKey{}, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(150_000_000_001), got.TotalAssets)

	// is_frozen is the single byte after oracle_config.
	data[101] = 1
	got, err = Decode(solana.PublicKey{}, data)
	require.NoError(t, err)
	assert.True(t, got.IsFrozen)
}

func TestDecodeVaultRejects(t *testing.T) {
	data, err := Encode(sampleVault())
	require.NoError(t, err)

	_, err = Decode(solana.PublicKey{}, data[:100])
	var decodeErr *pkg.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Contains(t, decodeErr.Reason, "too short")

	bad := append([]byte(nil), data...)
	bad[0] ^= 0xff
	_, err = Decode(solana.PublicKey{}, bad)
	require.True(t, errors.As(err, &decodeErr))
	assert.Contains(t, decodeErr.Reason, "discriminator")
	assert.True(t, pkg.IsPermanent(err))
}

func TestHealthFactor(t *testing.T) {
	v := sampleVault()
	hf, err := v.HealthFactor(150_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(239_062_500), hf)

	empty := *v
	empty.Liabilities = 0
	hf, err = empty.HealthFactor(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(stdmath.MaxUint64), hf)

	huge := *v
	huge.TotalAssets = stdmath.MaxUint64
	_, err = huge.HealthFactor(stdmath.MaxUint64)
	assert.ErrorIs(t, err, pkg.ErrArithmetic)
}

func TestLiquidation(t *testing.T) {
	v := sampleVault()
	hf, err := v.LiquidationHealthFactor(150_000_000, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_151_562), hf)

	ok, err := v.Liquidatable(150_000_000, 1_000_000)
	require.NoError(t, err)
	assert.False(t, ok)

	crashed := *v
	crashed.TotalAssets = 100_000_000_000
	hf, err = crashed.LiquidationHealthFactor(1_000_000, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_562), hf)
	ok, err = crashed.Liquidatable(1_000_000, 1_000_000)
	require.NoError(t, err)
	assert.True(t, ok)

	crashed.IsFrozen = true
	ok, err = crashed.Liquidatable(1_000_000, 1_000_000)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = v.LiquidationHealthFactor(1, 0)
	assert.ErrorIs(t, err, pkg.ErrArithmetic)

	assert.Equal(t, uint64(40_000_000_000), v.MaxRepayAmount())
	assert.Equal(t, uint64(2_000_000_000), v.LiquidationBonusAmount())
}

func TestAccrueInterest(t *testing.T) {
	v := sampleVault()
	next, interest, err := v.AccrueInterest(v.LastUpdate.Add(100 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint64(40), interest)
	assert.Equal(t, uint64(80_000_000_040), next.Liabilities)
	assert.Equal(t, "34928374928414", next.InterestAccumulator.String())
	assert.Equal(t, v.LastUpdate.Add(100*time.Second), next.LastUpdate)

	// Original value is unchanged.
	assert.Equal(t, uint64(80_000_000_000), v.Liabilities)

	same, interest, err := v.AccrueInterest(v.LastUpdate)
	require.NoError(t, err)
	assert.Zero(t, interest)
	assert.Equal(t, v.Liabilities, same.Liabilities)
}

func TestCollateralAndUtilization(t *testing.T) {
	v := sampleVault()
	assert.True(t, v.ValidateCollateral(15_000))
	assert.False(t, v.ValidateCollateral(20_000))
	assert.True(t, v.IsSolvent())
	assert.Equal(t, uint64(5_333), v.UtilizationBps())

	empty := VaultState{}
	assert.True(t, empty.ValidateCollateral(stdmath.MaxUint16))
	assert.Zero(t, empty.UtilizationBps())
}

func TestHealthFactorWad(t *testing.T) {
	hf, err := HealthFactorWad(math.NewInt(100_000), math.NewInt(5_000), 8_000)
	require.NoError(t, err)
	assert.True(t, hf.Equal(wad.ToWad(16)), "got %s", hf)

	_, err = HealthFactorWad(math.NewInt(1), math.ZeroInt(), 8_000)
	assert.ErrorIs(t, err, wad.ErrDivByZero)
}

func encodeProfile(t *testing.T, l profileLayout) []byte {
	t.Helper()
	l.Discriminator = UserProfileDiscriminator
	data, err := bin.MarshalBorsh(&l)
	require.NoError(t, err)
	require.Len(t, data, UserProfileAccountSize)
	return data
}

func TestDecodeUserProfile(t *testing.T) {
	l := profileLayout{
		ReputationScore:       90,
		TotalBorrowedLifetime: 2_000_000_000_000,
		LastActiveTimestamp:   1_700_000_000,
		Role:                  uint8(RolePremium),
		HistoryIdx:            2,
		KYCVerified:           true,
		CountryCode:           [2]uint8{'C', 'H'},
	}
	l.ActionHistory[0] = actionLayout{ActionType: uint8(ActionDeposit), Amount: 10}
	l.ActionHistory[1] = actionLayout{ActionType: uint8(ActionBorrow), Amount: 20}

	p, err := DecodeUserProfile(solana.PublicKey{}, encodeProfile(t, l))
	require.NoError(t, err)
	assert.Equal(t, RolePremium, p.Role)
	assert.Equal(t, "CH", p.CountryCode)
	assert.True(t, p.EligibleForPremium())

	recent := p.RecentActions()
	require.Len(t, recent, 2)
	assert.Equal(t, ActionBorrow, recent[0].Type)
	assert.Equal(t, ActionDeposit, recent[1].Type)

	now := time.Unix(1_700_000_100, 0)
	assert.NoError(t, p.TransferAllowed(50_000_000_000, now))
	assert.ErrorIs(t, p.TransferAllowed(1, time.Unix(1_700_000_010, 0)), pkg.ErrPolicyRejected)
}

func TestUserProfileCompliance(t *testing.T) {
	l := profileLayout{LastActiveTimestamp: 0}
	p, err := DecodeUserProfile(solana.PublicKey{}, encodeProfile(t, l))
	require.NoError(t, err)

	now := time.Unix(1_000, 0)
	var programErr *pkg.ProgramError
	err = p.TransferAllowed(20_000_000_000, now)
	require.True(t, errors.As(err, &programErr))
	assert.Equal(t, "TransferLimitExceeded", programErr.Name)

	p.AMLFlagged = true
	err = p.TransferAllowed(1, now)
	require.True(t, errors.As(err, &programErr))
	assert.Equal(t, pkg.CodeAccountFlagged, programErr.Code)
}

func TestDecodeUserProfileRejectsBadVariant(t *testing.T) {
	data := encodeProfile(t, profileLayout{Role: 9})
	_, err := DecodeUserProfile(solana.PublicKey{}, data)
	var decodeErr *pkg.DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestSummarize(t *testing.T) {
	v := sampleVault()
	v.Address = solana.MustPublicKeyFromBase58("FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH")
	v.InterestAccumulator = uint128.From64(1_500_000_000_000_000_000)

	s := v.Summarize(0)
	assert.Equal(t, "150000000000", s.TotalAssets)
	assert.Equal(t, "80000000000", s.Liabilities)
	assert.Equal(t, "1500000000000000000", s.InterestAccumulator)
	assert.InDelta(t, 1.5, s.InterestIndex, 1e-9)
	assert.Equal(t, uint64(5_333), s.UtilizationBps)
	assert.True(t, s.Solvent)
	assert.Nil(t, s.HealthFactor)

	s = v.Summarize(150_000_000)
	require.NotNil(t, s.HealthFactor)
	assert.Equal(t, uint64(239_062_500), *s.HealthFactor)
}
