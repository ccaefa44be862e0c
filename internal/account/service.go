package account

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"hireline.io/internal/ids"
	"hireline.io/internal/obs"
)

const (
	defaultApprovalTTL = time.Hour
	defaultResetTTL    = time.Hour
)

// Notification kinds understood by the email dispatcher.
const (
	NoticeApprovalRequest = "approval_request"
	NoticeAccountApproved = "account_approved"
	NoticePasswordReset   = "password_reset"
)

// Notification is handed to the out-of-band email dispatcher.
type Notification struct {
	Recipient string
	Kind      string
	Data      map[string]string
}

// Notifier delivers notifications. Failures are logged by the service and
// never surfaced, so a mail outage cannot block lifecycle progress.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Service orchestrates signup, approval, rejection, staff creation and
// the single-use token lifecycles.
type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time

	approvalTTL      time.Duration
	resetTTL         time.Duration
	staffAutoApprove bool
	baseURL          string
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithApprovalTokenTTL configures approval token lifetime.
func WithApprovalTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.approvalTTL = ttl
		}
	}
}

// WithResetTokenTTL configures password reset token lifetime.
func WithResetTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithStaffAutoApprove sets whether staff accounts start approved. The two
// historical persistence paths disagreed on this; it is an explicit
// deployment choice here.
func WithStaffAutoApprove(v bool) Option {
	return func(s *Service) { s.staffAutoApprove = v }
}

// WithBaseURL sets the public base URL embedded into emailed links.
func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimSuffix(u, "/") }
}

// NewService constructs the lifecycle service.
func NewService(store Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:            store,
		notifier:         notifier,
		now:              time.Now,
		approvalTTL:      defaultApprovalTTL,
		resetTTL:         defaultResetTTL,
		staffAutoApprove: true,
		baseURL:          "http://localhost:8080",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignupInput carries tenant self-registration fields.
type SignupInput struct {
	CompanyName string `json:"company_name"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

// Signup registers a new tenant admin in the pending-approval state, links
// it under the super-tenant and issues a single-use approval token. The
// very first account bootstraps the operator tenant and starts approved.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Account, error) {
	companyName := strings.TrimSpace(in.CompanyName)
	email := normalize(in.Email)
	username := normalize(in.Username)
	if companyName == "" || email == "" || username == "" {
		return nil, fmt.Errorf("%w: company name, email and username are required", ErrInvalidArgument)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidArgument)
	}
	if len(in.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidArgument, MinPasswordLength)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	acct := &Account{
		ID:           ids.New(),
		CompanyName:  companyName,
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         RoleAdmin,
		CreatedAt:    now,
	}

	super, err := s.store.SuperTenant(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		// Bootstrap: no operator exists yet, this account becomes the
		// super-tenant and needs nobody's approval.
		acct.IsApproved = true
		acct.ApprovedAt = &now
	case err != nil:
		return nil, err
	default:
		acct.ParentAccountID = &super.ID
	}

	if err := s.store.Create(ctx, acct); err != nil {
		if super != nil || !errors.Is(err, ErrConflict) {
			return nil, err
		}
		// Lost the bootstrap race: another signup became the operator
		// between the lookup and the insert. Re-link under the winner as
		// a regular pending tenant.
		super, err = s.store.SuperTenant(ctx)
		if errors.Is(err, ErrNotFound) {
			// No operator appeared after all, so the collision was on
			// email or username.
			return nil, ErrConflict
		}
		if err != nil {
			return nil, err
		}
		acct.IsApproved = false
		acct.ApprovedAt = nil
		acct.ParentAccountID = &super.ID
		if err := s.store.Create(ctx, acct); err != nil {
			return nil, err
		}
	}

	if super != nil {
		value, err := NewTokenValue()
		if err != nil {
			return nil, err
		}
		tok := &ApprovalToken{
			ID:          ids.New(),
			AccountID:   acct.ID,
			TokenHash:   HashTokenValue(value),
			TargetEmail: acct.Email,
			ExpiresAt:   now.Add(s.approvalTTL),
			CreatedAt:   now,
		}
		if err := s.store.CreateApprovalToken(ctx, tok); err != nil {
			// A pending account without an actionable token would block
			// this email and username forever; undo the signup so the
			// caller can retry it whole.
			if delErr := s.store.DeletePending(ctx, acct.ID); delErr != nil {
				obs.LogEvent(map[string]any{
					"ts":         s.now().UTC().Format(time.RFC3339Nano),
					"level":      "warn",
					"msg":        "orphaned pending account after token issue failure",
					"account_id": acct.ID,
					"error":      delErr.Error(),
				})
			}
			return nil, err
		}
		s.notify(ctx, Notification{
			Recipient: super.Email,
			Kind:      NoticeApprovalRequest,
			Data: map[string]string{
				"company_name": acct.CompanyName,
				"email":        acct.Email,
				"approve_url":  s.baseURL + "/v1/approve?token=" + url.QueryEscape(value),
			},
		})
	}
	return acct, nil
}

// Login verifies credentials for an email or username identifier. Admin
// accounts that are still pending approval are rejected explicitly.
func (s *Service) Login(ctx context.Context, identifier, password string) (*Account, error) {
	identifier = normalize(identifier)
	if identifier == "" || password == "" {
		return nil, ErrUnauthenticated
	}
	acct, err := s.store.FindByIdentifier(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if err := VerifyPassword(acct.PasswordHash, password); err != nil {
		return nil, ErrUnauthenticated
	}
	if acct.Role == RoleAdmin && !acct.IsApproved {
		return nil, ErrPendingApproval
	}
	return acct, nil
}

// StaffInput carries staff-account creation fields.
type StaffInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// CreateStaff creates a recruiter or partner account inside the acting
// admin's tenant. The staff approval default is a deployment choice.
func (s *Service) CreateStaff(ctx context.Context, actorID string, in StaffInput) (*Account, error) {
	actor, err := s.store.FindByID(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	if !in.Role.Staff() {
		return nil, fmt.Errorf("%w: role must be recruiter or partner", ErrInvalidArgument)
	}
	email := normalize(in.Email)
	username := normalize(in.Username)
	if email == "" || username == "" {
		return nil, fmt.Errorf("%w: email and username are required", ErrInvalidArgument)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidArgument)
	}
	if len(in.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidArgument, MinPasswordLength)
	}

	tenantID, err := actor.TenantID()
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	acct := &Account{
		ID:              ids.New(),
		CompanyName:     actor.CompanyName,
		Email:           email,
		Username:        username,
		PasswordHash:    hash,
		Role:            in.Role,
		ParentAccountID: &tenantID,
		IsApproved:      s.staffAutoApprove,
		CreatedBy:       &actor.ID,
		CreatedAt:       now,
	}
	if s.staffAutoApprove {
		acct.ApprovedAt = &now
	}
	if err := s.store.Create(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Approve marks a pending account approved. Super-tenant only.
func (s *Service) Approve(ctx context.Context, actorID, targetID string) (*Account, error) {
	if err := s.requireSuperTenant(ctx, actorID); err != nil {
		return nil, err
	}
	if err := s.store.Approve(ctx, targetID, s.now().UTC()); err != nil {
		return nil, err
	}
	target, err := s.store.FindByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, Notification{
		Recipient: target.Email,
		Kind:      NoticeAccountApproved,
		Data:      map[string]string{"company_name": target.CompanyName},
	})
	return target, nil
}

// Reject deletes a not-yet-approved account. Super-tenant only; approved
// tenants are never silently deleted.
func (s *Service) Reject(ctx context.Context, actorID, targetID string) error {
	if err := s.requireSuperTenant(ctx, actorID); err != nil {
		return err
	}
	return s.store.DeletePending(ctx, targetID)
}

// ApproveByToken redeems an emailed approval token. No caller
// authentication: correctness rests on token unguessability and the
// store's single-use enforcement.
func (s *Service) ApproveByToken(ctx context.Context, tokenValue string) (*Account, error) {
	tokenValue = strings.TrimSpace(tokenValue)
	if tokenValue == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidArgument)
	}
	accountID, err := s.store.RedeemApprovalToken(ctx, HashTokenValue(tokenValue), s.now().UTC())
	if err != nil {
		return nil, err
	}
	acct, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, Notification{
		Recipient: acct.Email,
		Kind:      NoticeAccountApproved,
		Data:      map[string]string{"company_name": acct.CompanyName},
	})
	return acct, nil
}

// RequestPasswordReset issues a reset token when the email matches an
// account. The result is indistinguishable either way so the endpoint
// cannot be used to enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalize(email)
	if email == "" {
		return nil
	}
	acct, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	value, err := NewTokenValue()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	tok := &PasswordResetToken{
		ID:        ids.New(),
		AccountID: acct.ID,
		TokenHash: HashTokenValue(value),
		Email:     acct.Email,
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	if err := s.store.CreatePasswordResetToken(ctx, tok); err != nil {
		return err
	}
	s.notify(ctx, Notification{
		Recipient: acct.Email,
		Kind:      NoticePasswordReset,
		Data: map[string]string{
			"token":     value,
			"reset_url": s.baseURL + "/reset-password?token=" + url.QueryEscape(value),
		},
	})
	return nil
}

// ResetPassword redeems a reset token and updates the credential in the
// same atomic unit.
func (s *Service) ResetPassword(ctx context.Context, email, tokenValue, newPassword string) error {
	email = normalize(email)
	tokenValue = strings.TrimSpace(tokenValue)
	if email == "" || tokenValue == "" {
		return ErrInvalidToken
	}
	if len(newPassword) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidArgument, MinPasswordLength)
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.store.RedeemPasswordResetToken(ctx, HashTokenValue(tokenValue), email, hash, s.now().UTC())
}

// ListPending returns admin accounts awaiting approval. Super-tenant only.
func (s *Service) ListPending(ctx context.Context, actorID string) ([]*Account, error) {
	if err := s.requireSuperTenant(ctx, actorID); err != nil {
		return nil, err
	}
	return s.store.ListPending(ctx)
}

// ListStaff returns the acting admin's staff accounts.
func (s *Service) ListStaff(ctx context.Context, actorID string) ([]*Account, error) {
	actor, err := s.store.FindByID(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	tenantID, err := actor.TenantID()
	if err != nil {
		return nil, err
	}
	return s.store.ListStaff(ctx, tenantID)
}

// Get loads one account by id.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.store.FindByID(ctx, id)
}

func (s *Service) requireSuperTenant(ctx context.Context, actorID string) error {
	actor, err := s.store.FindByID(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		return ErrUnauthenticated
	}
	if err != nil {
		return err
	}
	if !actor.IsSuperTenant() {
		return ErrForbidden
	}
	return nil
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, n); err != nil {
		obs.LogEvent(map[string]any{
			"ts":        s.now().UTC().Format(time.RFC3339Nano),
			"level":     "warn",
			"msg":       "notification dispatch failed",
			"kind":      n.Kind,
			"recipient": n.Recipient,
			"error":     err.Error(),
		})
	}
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
