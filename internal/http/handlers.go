package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/acarlson/user-account-service/internal/circuitbreaker"
	"github.com/acarlson/user-account-service/internal/degraded"
	"github.com/acarlson/user-account-service/internal/idle"
	"github.com/acarlson/user-account-service/internal/lifecycle"
	"github.com/acarlson/user-account-service/internal/models"
	"github.com/acarlson/user-account-service/internal/observability"
	"github.com/acarlson/user-account-service/internal/overload"
	"github.com/acarlson/user-account-service/internal/service"
	"github.com/acarlson/user-account-service/internal/session"
	"github.com/acarlson/user-account-service/internal/store"
	"github.com/acarlson/user-account-service/internal/traffic"
	"github.com/acarlson/user-account-service/internal/validation"
)

// maxBodyBytes caps profile documents accepted on signup and update.
const maxBodyBytes = 64 * 1024

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	RateLimitBurst         int // 0 when rate limiter disabled
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	DegradedRetryInitial   time.Duration
	DegradedRetryMax       time.Duration
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	StartTime              time.Time
	// StorePing, when set, is called to check datastore reachability.
	StorePing func(ctx context.Context) error
	// SessionPing, when set, is called to check session backend reachability.
	// Used when the backend is memcached.
	SessionPing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	accounts         *service.AccountService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	rateLimiter      *rate.Limiter
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	accounts *service.AccountService,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	rateLimiter *rate.Limiter,
) *Handler {
	return &Handler{
		accounts:     accounts,
		healthConfig: healthConfig,
		logger:       logger,
		rateLimiter:  rateLimiter,
	}
}

// GetBase handles GET /. Anonymous callers get the greeting; a valid session
// gets the logged-in user's profile.
func (h *Handler) GetBase(w http.ResponseWriter, r *http.Request) {
	rec, ok := SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, []string{"Hello World"})
		return
	}
	idle.RecordRequest()
	user, err := h.accounts.Profile(r.Context(), rec.Username)
	if err != nil {
		// Session outlived the account; treat as anonymous.
		if errors.Is(err, store.ErrUserNotFound) {
			writeJSON(w, http.StatusOK, []string{"Hello World"})
			return
		}
		degraded.RecordError()
		writeServiceError(w, r, err)
		return
	}
	degraded.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username": user.Name,
		"data":     rawOrNull(user.Data),
	})
}

// PostUser handles POST /user (signup). Credentials come from form/query
// params; an optional JSON body becomes the profile document.
func (h *Handler) PostUser(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	var data json.RawMessage
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err == nil && len(body) > 0 {
			data = body
		}
	}

	idle.RecordRequest()
	user, err := h.accounts.Signup(r.Context(), username, password, data)
	if err != nil {
		h.writeSignupError(w, r, err)
		return
	}
	degraded.RecordSuccess()
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "Successfully signed up new user: " + user.Name,
	})
}

func (h *Handler) writeSignupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrUserExists):
		writeError(w, r, http.StatusConflict, "USER_EXISTS", "username is already registered")
	case errors.Is(err, validation.ErrUsernameEmpty),
		errors.Is(err, validation.ErrUsernameTooShort),
		errors.Is(err, validation.ErrUsernameTooLong),
		errors.Is(err, validation.ErrUsernameInvalidChars):
		writeError(w, r, http.StatusBadRequest, "INVALID_USERNAME", err.Error())
	case errors.Is(err, validation.ErrPasswordTooShort),
		errors.Is(err, validation.ErrPasswordTooLong):
		writeError(w, r, http.StatusBadRequest, "INVALID_PASSWORD", err.Error())
	case errors.Is(err, service.ErrInvalidData):
		writeError(w, r, http.StatusBadRequest, "INVALID_DATA", err.Error())
	default:
		degraded.RecordError()
		writeServiceError(w, r, err)
	}
}

// GetCurrentUser handles GET /user. Returns the session user's profile data,
// or an empty object for anonymous callers.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	rec, ok := SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	idle.RecordRequest()
	user, err := h.accounts.Profile(r.Context(), rec.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeJSON(w, http.StatusOK, map[string]interface{}{})
			return
		}
		degraded.RecordError()
		writeServiceError(w, r, err)
		return
	}
	degraded.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username": user.Name,
		"data":     rawOrNull(user.Data),
	})
}

// authorizeUser checks that the request carries a session for the named user.
// Writes the error response and returns false when it does not.
func (h *Handler) authorizeUser(w http.ResponseWriter, r *http.Request, username string) bool {
	rec, ok := SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "login required")
		return false
	}
	if rec.Username != service.NormalizeUsername(username) {
		writeError(w, r, http.StatusForbidden, "FORBIDDEN", "session does not match requested user")
		return false
	}
	return true
}

// GetUser handles GET /user/{username}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	if !h.authorizeUser(w, r, username) {
		return
	}
	idle.RecordRequest()
	user, err := h.accounts.Profile(r.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, r, http.StatusNotFound, "USER_NOT_FOUND", "no such user")
			return
		}
		degraded.RecordError()
		writeServiceError(w, r, err)
		return
	}
	degraded.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username": user.Name,
		"data":     rawOrNull(user.Data),
	})
}

// PutUser handles PUT /user/{username}. The request body replaces the stored
// profile document.
func (h *Handler) PutUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	if !h.authorizeUser(w, r, username) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DATA", "could not read request body")
		return
	}
	idle.RecordRequest()
	if err := h.accounts.UpdateData(r.Context(), username, body); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidData):
			writeError(w, r, http.StatusBadRequest, "INVALID_DATA", err.Error())
		case errors.Is(err, store.ErrUserNotFound):
			writeError(w, r, http.StatusNotFound, "USER_NOT_FOUND", "no such user")
		default:
			degraded.RecordError()
			writeServiceError(w, r, err)
		}
		return
	}
	degraded.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Successfully updated user: " + service.NormalizeUsername(username),
	})
}

// DeleteUser handles DELETE /user/{username}. Removes the account and ends the
// session that authorized it.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	if !h.authorizeUser(w, r, username) {
		return
	}
	idle.RecordRequest()
	if err := h.accounts.DeleteAccount(r.Context(), username, session.IDFromRequest(r)); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, r, http.StatusNotFound, "USER_NOT_FOUND", "no such user")
			return
		}
		degraded.RecordError()
		writeServiceError(w, r, err)
		return
	}
	degraded.RecordSuccess()
	http.SetCookie(w, session.ExpiredCookie())
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Successfully removed user: " + service.NormalizeUsername(username),
	})
}

// PostLogin handles POST /login. Credentials come from form/query params.
func (h *Handler) PostLogin(w http.ResponseWriter, r *http.Request) {
	creds := models.Credentials{
		Username: r.FormValue("username"),
		Password: r.FormValue("password"),
	}
	idle.RecordRequest()
	id, user, err := h.accounts.Login(r.Context(), creds)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "username or password is incorrect")
			return
		}
		degraded.RecordError()
		writeServiceError(w, r, err)
		return
	}
	degraded.RecordSuccess()
	http.SetCookie(w, h.accounts.Sessions().NewCookie(id))
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Login successful for user: " + user.Name,
	})
}

// PostLogout handles POST /logout. Idempotent; always clears the cookie.
func (h *Handler) PostLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), session.IDFromRequest(r)); err != nil {
		degraded.RecordError()
		writeServiceError(w, r, err)
		return
	}
	http.SetCookie(w, session.ExpiredCookie())
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// rawOrNull returns the raw JSON document or nil so empty profiles encode as
// null instead of an empty string.
func rawOrNull(data json.RawMessage) interface{} {
	if len(data) == 0 {
		return nil
	}
	return data
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "store_unreachable" {
		checks["store"] = "unhealthy"
	} else {
		checks["store"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.SessionPing != nil {
		if h.healthConfig.SessionPing() == nil {
			checks["sessions"] = "healthy"
		} else {
			checks["sessions"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "user-account-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus determines the current health status by evaluating
// conditions in priority order: shutting-down > store unreachable >
// overloaded > idle > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.StorePing != nil {
		if err := h.healthConfig.StorePing(ctx); err != nil {
			return healthResult{"degraded", http.StatusServiceUnavailable, "store_unreachable"}
		}
	}
	threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
	if float64(overload.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	if h.healthConfig.IdleWindow > 0 && h.healthConfig.MinimumLifespan > 0 && time.Since(h.healthConfig.StartTime) >= h.healthConfig.MinimumLifespan {
		if idle.RequestCount(h.healthConfig.IdleWindow) < h.healthConfig.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := degraded.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError writes a 503 for datastore failures, including an open
// circuit breaker. Logs the underlying error at DEBUG level if a logger is in
// the request context.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		writeError(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Datastore temporarily unavailable")
	} else {
		writeError(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Unable to serve account request")
	}
	degraded.NotifyDegraded()
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("store error", zap.Error(err))
	}
}

// GetTestStatus handles GET /test. Returns current simulated state.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errs, _ := degraded.ErrorRate(window)

	cfg := make(map[string]interface{})
	if h.healthConfig != nil {
		overloadThreshold := 0
		if h.healthConfig.RateLimitRPS > 0 {
			overloadThreshold = int(float64(h.healthConfig.RateLimitRPS) *
				h.healthConfig.OverloadWindow.Seconds() *
				float64(h.healthConfig.OverloadThresholdPct) / 100)
		}
		cfg["rate_limit_rps"] = h.healthConfig.RateLimitRPS
		cfg["rate_limit_burst"] = h.healthConfig.RateLimitBurst
		cfg["overload_threshold"] = overloadThreshold
		cfg["overload_window_seconds"] = h.healthConfig.OverloadWindow.Seconds()
		cfg["degraded_error_pct"] = h.healthConfig.DegradedErrorPct
	}

	resp := map[string]interface{}{
		"total_requests_in_window":  overload.RequestCount(window),
		"denied_requests_in_window": overload.DenialCount(window),
		"errors_in_window":          errs,
		"window_length":             window.String(),
		"auto_clear":                !degraded.IsRecoveryDisabled(),
		"config":                    cfg,
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostTestAction handles POST /test/{action} for load, error, reset, shutdown,
// prevent_clear, fail_clear, clear.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "load":
		h.postTestLoad(w, r)
	case "error":
		h.postTestError(w, r)
	case "reset":
		h.postTestReset(w, r)
	case "shutdown":
		h.postTestShutdown(w, r)
	case "prevent_clear":
		h.postTestPreventClear(w, r)
	case "fail_clear":
		h.postTestFailClear(w, r)
	case "clear":
		h.postTestClear(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

// postTestLoad simulates load by recording the specified number of requests,
// respecting rate limits if configured.
func (h *Handler) postTestLoad(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		body.Count = 10
	}
	var accepted, denied int
	if h.rateLimiter != nil {
		for i := 0; i < body.Count; i++ {
			if h.rateLimiter.Allow() {
				traffic.RecordSuccess()
				idle.RecordRequest()
				accepted++
			} else {
				overload.RecordDenial()
				observability.RateLimitDeniedTotal.Inc()
				denied++
			}
		}
	} else {
		traffic.RecordSuccessN(body.Count)
		for i := 0; i < body.Count; i++ {
			idle.RecordRequest()
		}
		accepted = body.Count
	}
	result := h.computeHealthStatus(r.Context())
	msg := "Recorded " + strconv.Itoa(accepted) + " accepted"
	if denied > 0 {
		msg += ", " + strconv.Itoa(denied) + " denied"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"action":   "load",
		"message":  msg,
		"state":    result.status,
		"accepted": accepted,
		"denied":   denied,
	})
}

// postTestError simulates errors by recording the specified number of error events.
func (h *Handler) postTestError(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		body.Count = 1
	}
	traffic.RecordErrorN(body.Count)
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errs, total := degraded.ErrorRate(window)
	pct := 0
	if total > 0 {
		pct = errs * 100 / total
	}
	result := h.computeHealthStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"action":         "error",
		"message":        "Recorded " + strconv.Itoa(body.Count) + " errors",
		"state":          result.status,
		"error_rate_pct": pct,
	})
}

// postTestReset clears all simulated state for test cleanup.
func (h *Handler) postTestReset(w http.ResponseWriter, r *http.Request) {
	overload.Reset()
	degraded.Reset()
	idle.Reset()
	degraded.ClearRecoveryOverrides()
	lifecycle.SetShuttingDown(false)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "reset",
		"message": "All simulated state cleared",
	})
}

// postTestShutdown sets the shutdown flag; health reports shutting-down after this.
func (h *Handler) postTestShutdown(w http.ResponseWriter, r *http.Request) {
	lifecycle.SetShuttingDown(true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "shutdown",
		"message": "Shutting-down flag set",
	})
}

// postTestPreventClear disables automatic recovery clearing for degraded state testing.
func (h *Handler) postTestPreventClear(w http.ResponseWriter, r *http.Request) {
	degraded.SetRecoveryDisabled(true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "prevent_clear",
		"message": "Auto-recovery disabled",
	})
}

// postTestFailClear simulates a failed recovery attempt and advances the
// recovery delay sequence. If the sequence is exhausted, sets shutting-down.
func (h *Handler) postTestFailClear(w http.ResponseWriter, r *http.Request) {
	degraded.SetForceFailNextAttempt(true)
	resp := map[string]interface{}{
		"ok":      true,
		"action":  "fail_clear",
		"message": "Simulated failed recovery attempt",
	}
	if h.healthConfig != nil && h.healthConfig.DegradedRetryInitial > 0 && h.healthConfig.DegradedRetryMax >= h.healthConfig.DegradedRetryInitial {
		if d, ok := degraded.GetAndAdvanceNextRecoveryDelay(h.healthConfig.DegradedRetryInitial, h.healthConfig.DegradedRetryMax); ok {
			resp["next_recovery"] = d.String()
		} else {
			resp["next_recovery"] = "shutting-down"
			lifecycle.SetShuttingDown(true)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// postTestClear forces successful recovery by clearing degraded state and overrides.
func (h *Handler) postTestClear(w http.ResponseWriter, r *http.Request) {
	degraded.Reset()
	degraded.ClearRecoveryOverrides()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "clear",
		"message": "Recovery forced successful",
	})
}
