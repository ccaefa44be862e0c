package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"hireline.io/internal/account"
	"hireline.io/internal/store/pg"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// tokenFailureMessage is deliberately identical for absent, expired and
// used tokens so redemption gives no oracle to a guesser.
const tokenFailureMessage = "invalid or expired token"

func handleAccountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, account.ErrInvalidArgument):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrConflict):
		writeError(w, r, http.StatusConflict, "email or username already in use")
	case errors.Is(err, account.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, account.ErrPendingApproval):
		writeError(w, r, http.StatusForbidden, "account pending approval")
	case errors.Is(err, account.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "insufficient role")
	case errors.Is(err, account.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "account not found")
	case errors.Is(err, account.ErrAlreadyApproved):
		writeError(w, r, http.StatusConflict, "account already approved")
	case errors.Is(err, account.ErrInvalidState):
		writeError(w, r, http.StatusConflict, "operation not valid for this account state")
	case errors.Is(err, account.ErrInvalidToken),
		errors.Is(err, account.ErrTokenUsed),
		errors.Is(err, account.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, tokenFailureMessage)
	case errors.Is(err, pg.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
