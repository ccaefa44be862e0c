package account

import (
	"context"
	"time"
)

// Store describes persistence operations required by the account
// lifecycle. Single-use token semantics depend on the implementation
// making each redeem operation an atomic read-modify-write.
type Store interface {
	Create(ctx context.Context, a *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	// FindByIdentifier matches a normalized email or username.
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)
	// SuperTenant returns the single parentless admin account.
	SuperTenant(ctx context.Context) (*Account, error)
	ListPending(ctx context.Context) ([]*Account, error)
	ListStaff(ctx context.Context, tenantID string) ([]*Account, error)
	// Approve flips is_approved exactly once. ErrAlreadyApproved when the
	// account exists but was approved before, ErrNotFound otherwise.
	Approve(ctx context.Context, id string, now time.Time) error
	// DeletePending removes a not-yet-approved account. ErrInvalidState
	// when the account is already approved.
	DeletePending(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// CreateApprovalToken persists tok and supersedes any prior unredeemed
	// approval tokens for the same account.
	CreateApprovalToken(ctx context.Context, tok *ApprovalToken) error
	// RedeemApprovalToken marks the matching unused, unexpired token used
	// and approves its account in one atomic unit. Two concurrent calls
	// for the same token yield exactly one success.
	RedeemApprovalToken(ctx context.Context, tokenHash string, now time.Time) (accountID string, err error)

	CreatePasswordResetToken(ctx context.Context, tok *PasswordResetToken) error
	// RedeemPasswordResetToken updates the account credential and marks the
	// token used atomically. ErrTokenExpired / ErrTokenUsed / ErrInvalidToken
	// discriminate internally; callers collapse them.
	RedeemPasswordResetToken(ctx context.Context, tokenHash, email, passwordHash string, now time.Time) error
}
