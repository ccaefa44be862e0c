package account

import "fmt"

// ResolveTenant maps a role and parent linkage to the tenant scope used by
// every data query. Admins own their own scope; staff inherit the parent
// admin's. A staff account without a parent is unreachable under correct
// lifecycle rules, so it fails closed instead of silently self-scoping.
func ResolveTenant(role Role, id string, parentID *string) (string, error) {
	switch role {
	case RoleAdmin:
		return id, nil
	case RoleRecruiter, RolePartner:
		if parentID == nil || *parentID == "" {
			return "", fmt.Errorf("%w: staff account %s has no parent tenant", ErrInvalidState, id)
		}
		return *parentID, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidState, role)
	}
}

// TenantID resolves the account's data scope.
func (a *Account) TenantID() (string, error) {
	return ResolveTenant(a.Role, a.ID, a.ParentAccountID)
}

// IsSuperTenant reports whether a is the single parentless admin. This
// predicate is the sole authorization gate for approval, rejection and
// cross-tenant listing.
func (a *Account) IsSuperTenant() bool {
	return a.Role == RoleAdmin && (a.ParentAccountID == nil || *a.ParentAccountID == "")
}
