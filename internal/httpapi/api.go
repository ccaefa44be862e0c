package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"hireline.io/internal/account"
	"hireline.io/internal/obs"
	"hireline.io/internal/session"
)

// ReadyProbe checks readiness (database ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	accounts   *account.Service
	sessions   *session.Issuer

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, accounts *account.Service, sessions *session.Issuer) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		accounts:   accounts,
		sessions:   sessions,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// identity & lifecycle
	a.mux.HandleFunc("/v1/signup", a.handleSignup)
	a.mux.HandleFunc("/v1/login", a.handleLogin)
	a.mux.HandleFunc("/v1/approve", a.handleApproveByToken)
	a.mux.HandleFunc("/v1/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/v1/reset-password", a.handleResetPassword)
	a.mux.HandleFunc("/v1/pending-approvals", a.handlePendingApprovals)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountScoped)
	a.mux.HandleFunc("/v1/recruiters", a.handleRecruiters)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the per-IP limiter settings.
func (a *API) SetRateLimit(burst, perSec int) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSec > 0 {
		a.ratePerSec = perSec
	}
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

// --- ops handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "hireline-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "hireline-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
