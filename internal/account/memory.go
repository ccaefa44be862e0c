package account

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"hireline.io/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. Used by
// HTTP tests and local development without a database.
type InMemory struct {
	mu       sync.Mutex
	accounts map[string]*Account
	approval map[string]*ApprovalToken      // keyed by token hash
	reset    map[string]*PasswordResetToken // keyed by token hash
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts: make(map[string]*Account),
		approval: make(map[string]*ApprovalToken),
		reset:    make(map[string]*PasswordResetToken),
	}
}

func cloneAccount(a *Account) *Account {
	out := *a
	if a.ParentAccountID != nil {
		v := *a.ParentAccountID
		out.ParentAccountID = &v
	}
	if a.CreatedBy != nil {
		v := *a.CreatedBy
		out.CreatedBy = &v
	}
	if a.ApprovedAt != nil {
		v := *a.ApprovedAt
		out.ApprovedAt = &v
	}
	return &out
}

func (s *InMemory) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Email, a.Email) || strings.EqualFold(existing.Username, a.Username) {
			return ErrConflict
		}
	}
	// At most one parentless admin, same contract as the partial unique
	// index on the Postgres side.
	if a.Role == RoleAdmin && (a.ParentAccountID == nil || *a.ParentAccountID == "") {
		for _, existing := range s.accounts {
			if existing.Role == RoleAdmin && (existing.ParentAccountID == nil || *existing.ParentAccountID == "") {
				return ErrConflict
			}
		}
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	s.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(a), nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			return cloneAccount(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) FindByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, identifier) || strings.EqualFold(a.Username, identifier) {
			return cloneAccount(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) SuperTenant(ctx context.Context) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Role == RoleAdmin && (a.ParentAccountID == nil || *a.ParentAccountID == "") {
			return cloneAccount(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) ListPending(ctx context.Context) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*Account
	for _, a := range s.accounts {
		if a.Role == RoleAdmin && !a.IsApproved {
			res = append(res, cloneAccount(a))
		}
	}
	sortByCreatedAt(res)
	return res, nil
}

func (s *InMemory) ListStaff(ctx context.Context, tenantID string) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*Account
	for _, a := range s.accounts {
		if a.Role.Staff() && a.ParentAccountID != nil && *a.ParentAccountID == tenantID {
			res = append(res, cloneAccount(a))
		}
	}
	sortByCreatedAt(res)
	return res, nil
}

func sortByCreatedAt(accounts []*Account) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
}

func (s *InMemory) Approve(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if a.IsApproved {
		return ErrAlreadyApproved
	}
	a.IsApproved = true
	t := now
	a.ApprovedAt = &t
	return nil
}

func (s *InMemory) DeletePending(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if a.IsApproved {
		return ErrInvalidState
	}
	delete(s.accounts, id)
	return nil
}

func (s *InMemory) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = passwordHash
	return nil
}

func (s *InMemory) CreateApprovalToken(ctx context.Context, tok *ApprovalToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.approval {
		if existing.AccountID == tok.AccountID && !existing.Used {
			existing.Used = true
			t := tok.CreatedAt
			existing.UsedAt = &t
		}
	}
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	cp := *tok
	s.approval[tok.TokenHash] = &cp
	return nil
}

func (s *InMemory) RedeemApprovalToken(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.approval[tokenHash]
	if !ok || tok.Used || !now.Before(tok.ExpiresAt) {
		return "", ErrInvalidToken
	}
	tok.Used = true
	t := now
	tok.UsedAt = &t
	if a, ok := s.accounts[tok.AccountID]; ok && !a.IsApproved {
		a.IsApproved = true
		at := now
		a.ApprovedAt = &at
	}
	return tok.AccountID, nil
}

func (s *InMemory) CreatePasswordResetToken(ctx context.Context, tok *PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reset {
		if existing.AccountID == tok.AccountID && !existing.Used {
			existing.Used = true
		}
	}
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	cp := *tok
	s.reset[tok.TokenHash] = &cp
	return nil
}

func (s *InMemory) RedeemPasswordResetToken(ctx context.Context, tokenHash, email, passwordHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.reset[tokenHash]
	if !ok || !strings.EqualFold(tok.Email, email) {
		return ErrInvalidToken
	}
	if now.After(tok.ExpiresAt) {
		return ErrTokenExpired
	}
	if tok.Used {
		return ErrTokenUsed
	}
	a, ok := s.accounts[tok.AccountID]
	if !ok {
		return ErrNotFound
	}
	tok.Used = true
	a.PasswordHash = passwordHash
	return nil
}

// ResetTokenCount reports outstanding reset tokens; test hook.
func (s *InMemory) ResetTokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tok := range s.reset {
		if !tok.Used {
			n++
		}
	}
	return n
}
