package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"hireline.io/internal/ids"
	"hireline.io/internal/store/pg"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL through the resilient data
// access layer.
type PGStore struct {
	db *pg.DB
}

func NewPGStore(db *pg.DB) *PGStore {
	return &PGStore{db: db}
}

const accountColumns = `id, company_name, email, username, password_hash, role, parent_account_id, is_approved, created_by, created_at, approved_at`

func scanAccount(scan func(dest ...any) error) (*Account, error) {
	var a Account
	err := scan(
		&a.ID, &a.CompanyName, &a.Email, &a.Username, &a.PasswordHash,
		&a.Role, &a.ParentAccountID, &a.IsApproved, &a.CreatedBy,
		&a.CreatedAt, &a.ApprovedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *PGStore) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	_, err := s.db.Exec(ctx,
		`insert into accounts(id, company_name, email, username, password_hash, role, parent_account_id, is_approved, created_by, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.CompanyName, a.Email, a.Username, a.PasswordHash,
		a.Role, a.ParentAccountID, a.IsApproved, a.CreatedBy, a.CreatedAt,
	)
	if pg.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*Account, error) {
	return s.findOne(ctx, `select `+accountColumns+` from accounts where id=$1`, id)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return s.findOne(ctx, `select `+accountColumns+` from accounts where lower(email)=lower($1)`, email)
}

func (s *PGStore) FindByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	return s.findOne(ctx,
		`select `+accountColumns+` from accounts where lower(email)=lower($1) or lower(username)=lower($1)`,
		identifier)
}

func (s *PGStore) SuperTenant(ctx context.Context) (*Account, error) {
	return s.findOne(ctx,
		`select `+accountColumns+` from accounts where role='admin' and parent_account_id is null`)
}

func (s *PGStore) findOne(ctx context.Context, query string, args ...any) (*Account, error) {
	var out *Account
	err := s.db.Retry(ctx, func(ctx context.Context) error {
		var scanErr error
		out, scanErr = scanAccount(s.db.Std().QueryRowContext(ctx, query, args...).Scan)
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGStore) ListPending(ctx context.Context) ([]*Account, error) {
	return s.list(ctx,
		`select `+accountColumns+` from accounts where is_approved=false and role='admin' order by created_at asc`)
}

func (s *PGStore) ListStaff(ctx context.Context, tenantID string) ([]*Account, error) {
	return s.list(ctx,
		`select `+accountColumns+` from accounts where parent_account_id=$1 and role in ('recruiter','partner') order by created_at asc`,
		tenantID)
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]*Account, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Account
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *PGStore) Approve(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.Exec(ctx,
		`update accounts set is_approved=true, approved_at=$2 where id=$1 and is_approved=false`,
		id, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	// Nothing updated: either absent or approved before.
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyApproved
}

func (s *PGStore) DeletePending(ctx context.Context, id string) error {
	res, err := s.db.Exec(ctx,
		`delete from accounts where id=$1 and is_approved=false`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	return ErrInvalidState
}

func (s *PGStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.Exec(ctx,
		`update accounts set password_hash=$2 where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CreateApprovalToken(ctx context.Context, tok *ApprovalToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		// Supersede prior unredeemed tokens so at most one stays actionable.
		if _, err := tx.ExecContext(ctx,
			`update approval_tokens set used=true, used_at=$2 where account_id=$1 and used=false`,
			tok.AccountID, tok.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`insert into approval_tokens(id, account_id, token_hash, target_email, expires_at, used, created_at)
			 values($1,$2,$3,$4,$5,false,$6)`,
			tok.ID, tok.AccountID, tok.TokenHash, tok.TargetEmail, tok.ExpiresAt, tok.CreatedAt)
		return err
	})
}

func (s *PGStore) RedeemApprovalToken(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var accountID string
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		// CAS on the token row: of two concurrent redemptions exactly one
		// sees used=false.
		err := tx.QueryRowContext(ctx,
			`update approval_tokens set used=true, used_at=$2
			 where token_hash=$1 and used=false and expires_at > $2
			 returning account_id`,
			tokenHash, now).Scan(&accountID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`update accounts set is_approved=true, approved_at=$2 where id=$1 and is_approved=false`,
			accountID, now)
		return err
	})
	if err != nil {
		return "", err
	}
	return accountID, nil
}

func (s *PGStore) CreatePasswordResetToken(ctx context.Context, tok *PasswordResetToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`update password_reset_tokens set used=true where account_id=$1 and used=false`,
			tok.AccountID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`insert into password_reset_tokens(id, account_id, token_hash, email, expires_at, used, created_at)
			 values($1,$2,$3,$4,$5,false,$6)`,
			tok.ID, tok.AccountID, tok.TokenHash, tok.Email, tok.ExpiresAt, tok.CreatedAt)
		return err
	})
}

func (s *PGStore) RedeemPasswordResetToken(ctx context.Context, tokenHash, email, passwordHash string, now time.Time) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var (
			tokenID   string
			accountID string
			used      bool
			expiresAt time.Time
		)
		err := tx.QueryRowContext(ctx,
			`select id, account_id, used, expires_at from password_reset_tokens
			 where token_hash=$1 and lower(email)=lower($2) for update`,
			tokenHash, email).Scan(&tokenID, &accountID, &used, &expiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		// Expiry wins over used: a stale token always reads as expired.
		if now.After(expiresAt) {
			return ErrTokenExpired
		}
		if used {
			return ErrTokenUsed
		}
		if _, err := tx.ExecContext(ctx,
			`update password_reset_tokens set used=true where id=$1`, tokenID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`update accounts set password_hash=$2 where id=$1`, accountID, passwordHash)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
