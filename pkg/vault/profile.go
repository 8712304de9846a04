package vault

import (
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"fluxsdk/pkg"
	"fluxsdk/pkg/anchor"
)

const (
	historyLen = 50

	UserProfileAccountSize = 8 + 32 + 1 + 4 + 8 + 8 + 2 + 8 + 1 + historyLen*(1+8+8+8) + 1 + 1 + 1 + 2 + 1
)

var UserProfileDiscriminator = anchor.AccountDiscriminator("UserProfile")

type UserRole uint8

const (
	RoleStandard UserRole = iota
	RolePremium
	RoleInstitutional
	RoleAuditor
	RoleBlacklisted
)

func (r UserRole) String() string {
	switch r {
	case RoleStandard:
		return "standard"
	case RolePremium:
		return "premium"
	case RoleInstitutional:
		return "institutional"
	case RoleAuditor:
		return "auditor"
	case RoleBlacklisted:
		return "blacklisted"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

type ActionType uint8

const (
	ActionNone ActionType = iota
	ActionDeposit
	ActionWithdraw
	ActionBorrow
	ActionRepay
	ActionLiquidated
)

type UserAction struct {
	Type      ActionType
	Amount    uint64
	Timestamp int64
	TxHash    [8]uint8
}

// UserProfile holds per-user compliance and lending history.
type UserProfile struct {
	Address               solana.PublicKey
	Owner                 solana.PublicKey
	ReputationScore       uint8
	ActiveLoans           uint32
	TotalBorrowedLifetime uint64
	TotalRepaidLifetime   uint64
	LiquidationCount      uint16
	LastActive            time.Time
	Role                  UserRole
	History               [historyLen]UserAction
	HistoryIndex          uint8
	KYCVerified           bool
	AMLFlagged            bool
	CountryCode           string
	Bump                  uint8
}

type profileLayout struct {
	Discriminator         [8]uint8
	Owner                 solana.PublicKey
	ReputationScore       uint8
	ActiveLoans           uint32
	TotalBorrowedLifetime uint64
	TotalRepaidLifetime   uint64
	LiquidationCount      uint16
	LastActiveTimestamp   int64
	Role                  uint8
	ActionHistory         [historyLen]actionLayout
	HistoryIdx            uint8
	KYCVerified           bool
	AMLFlagged            bool
	CountryCode           [2]uint8
	Bump                  uint8
}

type actionLayout struct {
	ActionType      uint8
	Amount          uint64
	Timestamp       int64
	TxSignatureHash [8]uint8
}

func DecodeUserProfile(address solana.PublicKey, data []byte) (*UserProfile, error) {
	if len(data) < UserProfileAccountSize {
		return nil, &pkg.DecodeError{
			Account: address.String(),
			Reason:  fmt.Sprintf("data too short: expected %d bytes, got %d", UserProfileAccountSize, len(data)),
		}
	}
	if !UserProfileDiscriminator.Matches(data) {
		return nil, &pkg.DecodeError{
			Account: address.String(),
			Reason:  fmt.Sprintf("unknown discriminator %x", data[:anchor.DiscriminatorSize]),
		}
	}

	var layout profileLayout
	if err := bin.NewBorshDecoder(data[:UserProfileAccountSize]).Decode(&layout); err != nil {
		return nil, &pkg.DecodeError{Account: address.String(), Reason: err.Error()}
	}
	if layout.Role > uint8(RoleBlacklisted) {
		return nil, &pkg.DecodeError{Account: address.String(), Reason: fmt.Sprintf("unknown role variant %d", layout.Role)}
	}
	if layout.HistoryIdx >= historyLen {
		return nil, &pkg.DecodeError{Account: address.String(), Reason: fmt.Sprintf("history index %d out of range", layout.HistoryIdx)}
	}

	p := &UserProfile{
		Address:               address,
		Owner:                 layout.Owner,
		ReputationScore:       layout.ReputationScore,
		ActiveLoans:           layout.ActiveLoans,
		TotalBorrowedLifetime: layout.TotalBorrowedLifetime,
		TotalRepaidLifetime:   layout.TotalRepaidLifetime,
		LiquidationCount:      layout.LiquidationCount,
		LastActive:            time.Unix(layout.LastActiveTimestamp, 0).UTC(),
		Role:                  UserRole(layout.Role),
		HistoryIndex:          layout.HistoryIdx,
		KYCVerified:           layout.KYCVerified,
		AMLFlagged:            layout.AMLFlagged,
		CountryCode:           string(layout.CountryCode[:]),
		Bump:                  layout.Bump,
	}
	for i, a := range layout.ActionHistory {
		if a.ActionType > uint8(ActionLiquidated) {
			return nil, &pkg.DecodeError{Account: address.String(), Reason: fmt.Sprintf("unknown action variant %d at %d", a.ActionType, i)}
		}
		p.History[i] = UserAction{
			Type:      ActionType(a.ActionType),
			Amount:    a.Amount,
			Timestamp: a.Timestamp,
			TxHash:    a.TxSignatureHash,
		}
	}
	return p, nil
}

// RecentActions returns recorded actions newest first, skipping empty slots.
func (p *UserProfile) RecentActions() []UserAction {
	out := make([]UserAction, 0, historyLen)
	for i := 0; i < historyLen; i++ {
		idx := (int(p.HistoryIndex) - 1 - i + historyLen) % historyLen
		if p.History[idx].Type == ActionNone {
			continue
		}
		out = append(out, p.History[idx])
	}
	return out
}

// EligibleForPremium mirrors the program's premium check: reputation above 80
// and more than 1000 SOL borrowed over the account's lifetime.
func (p *UserProfile) EligibleForPremium() bool {
	return p.ReputationScore > 80 && p.TotalBorrowedLifetime > 1_000_000_000_000
}

// TransferAllowed predicts whether xfer_funds would pass its compliance
// checks, returning the program error it would raise otherwise.
func (p *UserProfile) TransferAllowed(amount uint64, now time.Time) error {
	if p.AMLFlagged {
		return pkg.NewProgramError(pkg.CodeAccountFlagged)
	}
	if !p.KYCVerified && amount > unverifiedTransferLimit {
		return pkg.NewProgramError(pkg.CodeTransferLimitExceeded)
	}
	if now.Unix()-p.LastActive.Unix() < transferCooldownSeconds {
		return pkg.NewProgramError(pkg.CodeRateLimitExceeded)
	}
	return nil
}

const (
	unverifiedTransferLimit = 10_000_000_000 // 10 SOL
	transferCooldownSeconds = 30
)
