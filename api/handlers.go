/*
handlers.go - HTTP API handlers for the cash register

PURPOSE:
  Exposes cash.Register via REST. Handles HTTP request/response and JSON
  serialization; every decision is delegated to the register.

ENDPOINTS:
  Register (X-Company-ID required):
    GET    /api/register/status                   Current session
    POST   /api/register/open                     Open with float
    POST   /api/register/supply                   Add cash
    POST   /api/register/withdraw                 Remove cash
    POST   /api/register/close                    Close session
    GET    /api/register/history?from=&to=        Daily summaries
    GET    /api/register/sessions                 Cached session list
    GET    /api/register/sessions/{id}/entries    Movements
    GET    /api/register/sessions/{id}/at/{n}     Session after n entries

  Admin (X-Company-ID required):
    POST   /api/admin/rebuild                     Regenerate summary cache
    GET    /api/admin/verify                      Report cache drift

  Other:
    GET    /api/health
    GET    /api/companies                         Companies with activity
    GET    /api/scenarios                         Demo scenarios
    POST   /api/scenarios/load                    Load a demo scenario

ERROR HANDLING:
  The register returns typed errors; statusFor maps their cash.ErrorCode:
  - 400: invalid_amount, invalid_range, tenant_required, invalid_request
  - 404: not_found, unknown_scenario
  - 409: invalid_transition, conflict
  - 422: insufficient_balance
  - 503: storage_unavailable
  - 500: internal

SECURITY NOTE:
  X-Company-ID is trusted as sent. Authentication belongs in front of this
  service.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/cashbox/cash"
	"github.com/warp/cashbox/logger"
)

// CompanyHeader carries the tenant on every register call.
const CompanyHeader = "X-Company-ID"

// DefaultHistoryDays is the history window when no range is given.
const DefaultHistoryDays = 7

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Register *cash.Register

	// Store, when set, is pinged by /api/health.
	Store Pinger

	now func() time.Time
}

// NewHandler creates a new handler around the register.
func NewHandler(reg *cash.Register) *Handler {
	return &Handler{
		Register: reg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type companyKey struct{}

// RequireCompany rejects requests without X-Company-ID and stores the
// tenant in the request context.
func RequireCompany(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		company := r.Header.Get(CompanyHeader)
		if company == "" {
			writeFailure(w, fmt.Errorf("%w: missing %s header", cash.ErrTenantRequired, CompanyHeader))
			return
		}
		ctx := context.WithValue(r.Context(), companyKey{}, cash.TenantID(company))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func companyFrom(r *http.Request) cash.TenantID {
	t, _ := r.Context().Value(companyKey{}).(cash.TenantID)
	return t
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness, and store reachability when a Pinger is set.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeFailure(w, &cash.StorageError{Op: "ping", Err: err})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "healthy"})
}

// =============================================================================
// COMMANDS
// =============================================================================

// OpenSession opens the register with a starting float.
// POST /api/register/open
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	h.amountCommand(w, r, cash.KindOpen)
}

// Supply adds cash to the open session.
// POST /api/register/supply
func (h *Handler) Supply(w http.ResponseWriter, r *http.Request) {
	h.amountCommand(w, r, cash.KindSupply)
}

// Withdraw removes cash from the open session.
// POST /api/register/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.amountCommand(w, r, cash.KindWithdraw)
}

func (h *Handler) amountCommand(w http.ResponseWriter, r *http.Request, kind cash.EntryKind) {
	var req CommandRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	amount, err := req.Amount.Decimal()
	if err != nil {
		writeFailure(w, err)
		return
	}
	h.execute(w, r, cash.Command{Kind: kind, Amount: amount, Notes: req.Notes})
}

// CloseSession closes the open session.
// POST /api/register/close
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	h.execute(w, r, cash.CloseCommand(req.Notes))
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, cmd cash.Command) {
	s, err := h.Register.Execute(r.Context(), companyFrom(r), cmd)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{OK: true, Session: toSessionDTO(s)})
}

// =============================================================================
// QUERIES
// =============================================================================

// GetStatus returns the current session.
// GET /api/register/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.Register.Status(r.Context(), companyFrom(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{OK: true, Session: toSessionDTO(s)})
}

// GetHistory returns daily summaries. Both bounds are optional YYYY-MM-DD
// days; the default is the last DefaultHistoryDays days.
// GET /api/register/history?from=2025-03-01&to=2025-03-07
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	rng, err := h.parseRange(r)
	if err != nil {
		writeFailure(w, err)
		return
	}

	days, err := h.Register.History(r.Context(), companyFrom(r), rng)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		OK:   true,
		From: rng.From.Format("2006-01-02"),
		To:   rng.To.Format("2006-01-02"),
		Days: toDailySummaryDTOs(days),
	})
}

func (h *Handler) parseRange(r *http.Request) (cash.DateRange, error) {
	q := r.URL.Query()
	rng := cash.LastDays(h.now(), DefaultHistoryDays)

	if v := q.Get("to"); v != "" {
		to, err := cash.ParseDay(v)
		if err != nil {
			return cash.DateRange{}, fmt.Errorf("%w: bad to %q (use YYYY-MM-DD)", cash.ErrInvalidRange, v)
		}
		rng = cash.LastDays(to, DefaultHistoryDays)
	}
	if v := q.Get("from"); v != "" {
		from, err := cash.ParseDay(v)
		if err != nil {
			return cash.DateRange{}, fmt.Errorf("%w: bad from %q (use YYYY-MM-DD)", cash.ErrInvalidRange, v)
		}
		rng.From = from
	}
	return rng, nil
}

// ListSessions returns the cached session summaries, newest first.
// GET /api/register/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Register.Sessions(r.Context(), companyFrom(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionsResponse{OK: true, Sessions: toSessionDTOs(sessions)})
}

// GetEntries returns a session's movements. The id "current" means the
// latest session.
// GET /api/register/sessions/{id}/entries
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	id := sessionParam(r)
	entries, err := h.Register.Entries(r.Context(), companyFrom(r), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EntriesResponse{OK: true, SessionID: string(id), Entries: toEntryDTOs(entries)})
}

// GetSessionAt reconstructs a session after its first n entries.
// GET /api/register/sessions/{id}/at/{n}
func (h *Handler) GetSessionAt(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 0 {
		writeFailure(w, fmt.Errorf("%w: entry count must be a non-negative integer", errInvalidRequest))
		return
	}
	s, err := h.Register.SessionAt(r.Context(), companyFrom(r), sessionParam(r), n)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{OK: true, Session: toSessionDTO(s)})
}

func sessionParam(r *http.Request) cash.SessionID {
	id := chi.URLParam(r, "id")
	if id == "current" {
		return ""
	}
	return cash.SessionID(id)
}

// ListCompanies returns every company with register activity.
// GET /api/companies
func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Register.Tenants(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	companies := make([]string, 0, len(tenants))
	for _, t := range tenants {
		companies = append(companies, string(t))
	}
	writeJSON(w, http.StatusOK, TenantsResponse{OK: true, Companies: companies})
}

// =============================================================================
// ADMIN
// =============================================================================

// Rebuild regenerates the company's session summaries from the ledger.
// POST /api/admin/rebuild
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	n, err := h.Register.Rebuild(r.Context(), companyFrom(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	logger.Info("session summaries rebuilt", logger.Fields{"tenant": companyFrom(r), "sessions": n})
	writeJSON(w, http.StatusOK, RebuildResponse{OK: true, Rebuilt: n})
}

// Verify compares the summary cache against the ledger.
// GET /api/admin/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.Register.Verify(r.Context(), companyFrom(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{OK: true, Clean: len(drifts) == 0, Drifts: toDriftDTOs(drifts)})
}

// =============================================================================
// HELPERS
// =============================================================================

var (
	errInvalidRequest  = errors.New("invalid request")
	errUnknownScenario = errors.New("unknown scenario")
)

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		var amountErr *cash.AmountError
		if errors.As(err, &amountErr) {
			return amountErr
		}
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

// codeFor extends cash.CodeOf with the HTTP-only failures.
func codeFor(err error) cash.ErrorCode {
	switch {
	case errors.Is(err, errInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, errUnknownScenario):
		return CodeUnknownScenario
	}
	return cash.CodeOf(err)
}

func statusFor(code cash.ErrorCode) int {
	switch code {
	case cash.CodeInvalidAmount, cash.CodeInvalidRange, cash.CodeTenantRequired, CodeInvalidRequest:
		return http.StatusBadRequest
	case cash.CodeNotFound, CodeUnknownScenario:
		return http.StatusNotFound
	case cash.CodeInvalidTransition, cash.CodeConflict:
		return http.StatusConflict
	case cash.CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case cash.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeFailure(w http.ResponseWriter, err error) {
	code := codeFor(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", err, logger.Fields{"code": code})
	}
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: err.Error()}})
}
