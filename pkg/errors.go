package pkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	// ErrNotFound is returned when an address holds no remote state.
	ErrNotFound = errors.New("account not found")

	// ErrTimeout is returned when a single attempt exceeds its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrMaxRetriesExceeded marks the terminal error of an exhausted retry loop.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrInsufficientResources is returned at build or send time when a step
	// is missing required accounts or arguments.
	ErrInsufficientResources = errors.New("insufficient resources")

	// ErrArithmetic mirrors the program's overflow/underflow error for
	// client-side projections of on-chain math.
	ErrArithmetic = errors.New("invalid arithmetic operation")

	// ErrUnauthorized and ErrPolicyRejected classify program errors. They are
	// never produced locally, only matched against *ProgramError.
	ErrUnauthorized   = errors.New("unauthorized")
	ErrPolicyRejected = errors.New("rejected by program policy")
)

// DecodeError reports malformed or unexpected account bytes.
type DecodeError struct {
	Account string
	Reason  string
}

func (e *DecodeError) Error() string {
	if e.Account == "" {
		return fmt.Sprintf("decode error: %s", e.Reason)
	}
	return fmt.Sprintf("decode error for %s: %s", e.Account, e.Reason)
}

// MaxRetriesError wraps the last error seen before the retry bound ran out.
type MaxRetriesError struct {
	Attempts int
	Err      error
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrMaxRetriesExceeded, e.Attempts, e.Err)
}

func (e *MaxRetriesError) Unwrap() error { return e.Err }

func (e *MaxRetriesError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}

// ProgramErrorKind groups program error codes by how a caller should react.
type ProgramErrorKind int

const (
	ProgramFailure ProgramErrorKind = iota
	ProgramUnauthorized
	ProgramPolicyRejected
)

// ProgramError is an error raised by the on-chain program and surfaced as is.
type ProgramError struct {
	Code    uint32
	Name    string
	Message string
	Kind    ProgramErrorKind
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("program error %d (%s): %s", e.Code, e.Name, e.Message)
}

func (e *ProgramError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == ProgramUnauthorized
	case ErrPolicyRejected:
		return e.Kind == ProgramPolicyRejected
	}
	return false
}

// Anchor numbers custom errors from 6000 in declaration order.
const programErrorOffset = 6000

const (
	CodeInsufficientLiquidity uint32 = programErrorOffset + iota
	CodeUnauthorizedAccess
	CodeArithmeticError
	CodeInvalidAmount
	CodeSlippageExceeded
	CodeVaultHealthy
	CodeVaultFrozen
	CodeStaleOraclePrice
	CodeHealthFactorCheckFailed
	CodeAccountFlagged
	CodeTransferLimitExceeded
	CodeRateLimitExceeded
	CodeUserBlacklisted
	CodeLowReputation
	CodeInvalidRiskFactor
	CodeConfigCooldown
	CodeProtocolPaused
	CodeNotImplemented
)

var programErrors = []struct {
	name string
	msg  string
	kind ProgramErrorKind
}{
	{"InsufficientLiquidity", "Insufficient liquidity in vault", ProgramFailure},
	{"UnauthorizedAccess", "Unauthorized access to Flux Vault", ProgramUnauthorized},
	{"ArithmeticError", "Invalid arithmetic operation (Overflow/Underflow)", ProgramFailure},
	{"InvalidAmount", "Invalid amount specified", ProgramFailure},
	{"SlippageExceeded", "Slippage tolerance exceeded during liquidation", ProgramFailure},
	{"VaultHealthy", "Vault is currently healthy, liquidation rejected", ProgramPolicyRejected},
	{"VaultFrozen", "Vault is frozen due to emergency", ProgramPolicyRejected},
	{"StaleOraclePrice", "Oracle price data is stale or invalid", ProgramFailure},
	{"HealthFactorCheckFailed", "Health factor calculation failed", ProgramFailure},
	{"AccountFlagged", "Account has been flagged for AML review", ProgramPolicyRejected},
	{"TransferLimitExceeded", "Transfer limit exceeded for unverified account", ProgramPolicyRejected},
	{"RateLimitExceeded", "Rate limit exceeded, please try again later", ProgramPolicyRejected},
	{"UserBlacklisted", "User is blacklisted", ProgramPolicyRejected},
	{"LowReputation", "Insufficient reputation score for this action", ProgramPolicyRejected},
	{"InvalidRiskFactor", "Invalid risk factor configuration", ProgramFailure},
	{"ConfigCooldown", "Configuration update cooldown active", ProgramPolicyRejected},
	{"ProtocolPaused", "Protocol paused by administrator", ProgramPolicyRejected},
	{"NotImplemented", "Feature not yet implemented", ProgramFailure},
}

// NewProgramError maps a custom error code to its program definition.
// Codes outside the known range keep their number with an empty name.
func NewProgramError(code uint32) *ProgramError {
	idx := int(code) - programErrorOffset
	if idx < 0 || idx >= len(programErrors) {
		return &ProgramError{Code: code, Name: "Unknown", Message: "unrecognized program error"}
	}
	def := programErrors[idx]
	return &ProgramError{Code: code, Name: def.name, Message: def.msg, Kind: def.kind}
}

var (
	customCodeRe  = regexp.MustCompile(`"Custom":\s*(\d+)`)
	anchorErrorRe = regexp.MustCompile(`Error Number: (\d+)`)
)

// ParseProgramError extracts a program error from a transaction error value
// (as returned by simulate/send) or, failing that, from Anchor log lines.
// It returns nil when neither carries a custom error code.
func ParseProgramError(txErr interface{}, logs []string) *ProgramError {
	if txErr != nil {
		raw, err := json.Marshal(txErr)
		if err == nil {
			if m := customCodeRe.FindSubmatch(raw); m != nil {
				if code, err := strconv.ParseUint(string(m[1]), 10, 32); err == nil {
					return NewProgramError(uint32(code))
				}
			}
		}
	}
	for _, line := range logs {
		if m := anchorErrorRe.FindStringSubmatch(line); m != nil {
			if code, err := strconv.ParseUint(m[1], 10, 32); err == nil {
				return NewProgramError(uint32(code))
			}
		}
	}
	return nil
}

// IsPermanent reports whether retrying err cannot change the outcome.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var decodeErr *DecodeError
	var programErr *ProgramError
	switch {
	case errors.As(err, &decodeErr),
		errors.As(err, &programErr),
		errors.Is(err, ErrInsufficientResources),
		errors.Is(err, ErrNotFound):
		return true
	}
	return false
}
