package httpapi

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"hireline.io/internal/account"
	"hireline.io/internal/audit"
	"hireline.io/internal/store/pg"
)

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var in account.SignupInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.accounts.Signup(r.Context(), in)
	if err != nil {
		handleAccountError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "account_signup", map[string]any{
		"target_account_id": acct.ID,
		"company_name":      acct.CompanyName,
		"approved":          acct.IsApproved,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"account": acct})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var in loginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.accounts.Login(r.Context(), in.Identifier, in.Password)
	if err != nil {
		handleAccountError(w, r, err)
		return
	}
	credential, expiresAt, err := a.sessions.Issue(acct)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	audit.LogEvent(r.Context(), "login", map[string]any{
		"target_account_id": acct.ID,
		"role":              string(acct.Role),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      credential,
		"expires_at": expiresAt,
		"account":    acct,
	})
}

// handleApproveByToken serves the single-use link emailed to the operator.
// It answers HTML because the click comes from a mail client, not an API
// consumer.
func (a *API) handleApproveByToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	tokenValue := strings.TrimSpace(r.URL.Query().Get("token"))
	if tokenValue == "" {
		writeHTML(w, http.StatusBadRequest, "Approval link malformed",
			"The approval link is missing its token. Use the link from the notification email.")
		return
	}
	acct, err := a.accounts.ApproveByToken(r.Context(), tokenValue)
	switch {
	case err == nil:
	case errors.Is(err, account.ErrInvalidArgument):
		writeHTML(w, http.StatusBadRequest, "Approval link malformed",
			"The approval link is missing its token. Use the link from the notification email.")
		return
	case errors.Is(err, account.ErrInvalidToken),
		errors.Is(err, account.ErrTokenUsed),
		errors.Is(err, account.ErrTokenExpired):
		// One message for absent, expired and used tokens.
		writeHTML(w, http.StatusGone, "Approval link no longer valid",
			"This approval link is invalid, expired or already used.")
		return
	case errors.Is(err, pg.ErrUnavailable):
		writeHTML(w, http.StatusServiceUnavailable, "Temporarily unavailable",
			"The service is temporarily unavailable. Try the link again shortly.")
		return
	default:
		writeHTML(w, http.StatusInternalServerError, "Something went wrong",
			"The approval could not be completed.")
		return
	}
	audit.LogEvent(r.Context(), "account_approved_by_token", map[string]any{
		"target_account_id": acct.ID,
	})
	writeHTML(w, http.StatusOK, "Account approved",
		fmt.Sprintf("The account for %s is now active and has been notified.", html.EscapeString(acct.CompanyName)))
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var in forgotPasswordRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.RequestPasswordReset(r.Context(), in.Email); err != nil {
		handleAccountError(w, r, err)
		return
	}
	// Identical response whether or not the email matched an account.
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "if the address is registered, a reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var in resetPasswordRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.ResetPassword(r.Context(), in.Email, in.Token, in.NewPassword); err != nil {
		handleAccountError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "password_reset", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "password updated",
	})
}

func (a *API) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	pending, err := a.accounts.ListPending(r.Context(), claims.AccountID())
	if err != nil {
		handleAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": pending,
		"count":    len(pending),
	})
}

// handleAccountScoped routes /v1/accounts/{id}/approve and
// /v1/accounts/{id}/reject.
func (a *API) handleAccountScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/accounts/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	targetID, action := parts[0], parts[1]

	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	switch action {
	case "approve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		acct, err := a.accounts.Approve(r.Context(), claims.AccountID(), targetID)
		if err != nil {
			handleAccountError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "account_approved", map[string]any{
			"target_account_id": acct.ID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"account": acct})
	case "reject":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if err := a.accounts.Reject(r.Context(), claims.AccountID(), targetID); err != nil {
			handleAccountError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "account_rejected", map[string]any{
			"target_account_id": targetID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) handleRecruiters(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var in account.StaffInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if in.Role == "" {
			in.Role = account.RoleRecruiter
		}
		acct, err := a.accounts.CreateStaff(r.Context(), claims.AccountID(), in)
		if err != nil {
			handleAccountError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "staff_created", map[string]any{
			"target_account_id": acct.ID,
			"role":              string(acct.Role),
		})
		writeJSON(w, http.StatusCreated, map[string]any{"account": acct})
	case http.MethodGet:
		staff, err := a.accounts.ListStaff(r.Context(), claims.AccountID())
		if err != nil {
			handleAccountError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": staff,
			"count":    len(staff),
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func writeHTML(w http.ResponseWriter, code int, title, detail string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body>
<h1>%s</h1>
<p>%s</p>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(title), detail)
}
