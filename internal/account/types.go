package account

import "time"

// Role is the closed set of account roles. There is no policy engine
// behind it: an admin owns a tenant, recruiters and partners work inside
// their parent admin's tenant.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleRecruiter Role = "recruiter"
	RolePartner   Role = "partner"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleRecruiter, RolePartner:
		return true
	}
	return false
}

// Staff reports whether r is a subordinate (non-admin) role.
func (r Role) Staff() bool {
	return r == RoleRecruiter || r == RolePartner
}

// Account represents a tenant or staff identity.
type Account struct {
	ID              string     `json:"id"`
	CompanyName     string     `json:"company_name"`
	Email           string     `json:"email"`
	Username        string     `json:"username"`
	PasswordHash    string     `json:"-"`
	Role            Role       `json:"role"`
	ParentAccountID *string    `json:"parent_account_id,omitempty"`
	IsApproved      bool       `json:"is_approved"`
	CreatedBy       *string    `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
}

// ApprovalToken gates an account's transition into the approved state.
// Only the one-way hash of the emailed value is ever persisted.
type ApprovalToken struct {
	ID          string
	AccountID   string
	TokenHash   string
	TargetEmail string
	ExpiresAt   time.Time
	Used        bool
	CreatedAt   time.Time
	UsedAt      *time.Time
}

// PasswordResetToken gates a credential change. Hash-only persistence,
// same as ApprovalToken.
type PasswordResetToken struct {
	ID        string
	AccountID string
	TokenHash string
	Email     string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}
