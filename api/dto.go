/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the cash
  package types from the wire contract.

ENVELOPE:
  Every response carries "ok". Successes add their payload under a named
  key ("session", "entries", "days", ...). Failures carry
  {"ok": false, "error": {"code": "...", "message": "..."}} where code is a
  cash.ErrorCode or one of the HTTP-only codes below.

AMOUNTS:
  Request amounts accept JSON numbers or strings ("12.50"). Responses always
  render decimals as strings so no precision is lost in JavaScript clients.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cashbox/cash"
)

// HTTP-only error codes.
const (
	CodeInvalidRequest  cash.ErrorCode = "invalid_request"
	CodeUnknownScenario cash.ErrorCode = "unknown_scenario"
)

// =============================================================================
// REQUESTS
// =============================================================================

// AmountInput is a decimal that may arrive as a JSON number or string.
// Parsing is deferred so bad input surfaces as invalid_amount, not as a
// malformed body.
type AmountInput struct {
	Raw string
}

func (a *AmountInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		a.Raw = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return &cash.AmountError{Input: string(data), Reason: "not a number"}
		}
		a.Raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return &cash.AmountError{Input: string(data), Reason: "not a number"}
	}
	a.Raw = n.String()
	return nil
}

// Decimal validates and parses the amount.
func (a AmountInput) Decimal() (decimal.Decimal, error) {
	return cash.ParseAmount(a.Raw)
}

// CommandRequest is the body of open, supply and withdraw.
type CommandRequest struct {
	Amount AmountInput `json:"amount"`
	Notes  string      `json:"notes"`
}

// CloseRequest is the body of close.
type CloseRequest struct {
	Notes string `json:"notes"`
}

// LoadScenarioRequest is the request to load a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string   `json:"scenario_id"`
	Companies  []string `json:"companies,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type SessionDTO struct {
	ID             string  `json:"id,omitempty"`
	CompanyID      string  `json:"company_id"`
	Status         string  `json:"status"`
	OpenedAt       *string `json:"opened_at,omitempty"`
	ClosedAt       *string `json:"closed_at,omitempty"`
	Balance        string  `json:"balance"`
	OpeningAmount  string  `json:"opening_amount"`
	TotalSupplied  string  `json:"total_supplied"`
	TotalWithdrawn string  `json:"total_withdrawn"`
	EntryCount     int     `json:"entry_count"`
	LastEntryAt    *string `json:"last_entry_at,omitempty"`
	OpenNotes      string  `json:"open_notes,omitempty"`
	CloseNotes     string  `json:"close_notes,omitempty"`
}

type EntryDTO struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Amount    string `json:"amount"`
	Delta     string `json:"delta"`
	Notes     string `json:"notes,omitempty"`
	Timestamp string `json:"timestamp"`
	Seq       int64  `json:"seq"`
}

type DailySummaryDTO struct {
	Date           string       `json:"date"`
	SessionCount   int          `json:"session_count"`
	TotalOpening   string       `json:"total_opening"`
	TotalSupplied  string       `json:"total_supplied"`
	TotalWithdrawn string       `json:"total_withdrawn"`
	ClosingBalance string       `json:"closing_balance"`
	Sessions       []SessionDTO `json:"sessions"`
}

type DriftDTO struct {
	SessionID string      `json:"session_id"`
	Reason    string      `json:"reason"`
	Cached    *SessionDTO `json:"cached,omitempty"`
	Ledger    *SessionDTO `json:"ledger,omitempty"`
}

type SessionResponse struct {
	OK      bool       `json:"ok"`
	Session SessionDTO `json:"session"`
}

type SessionsResponse struct {
	OK       bool         `json:"ok"`
	Sessions []SessionDTO `json:"sessions"`
}

type EntriesResponse struct {
	OK        bool       `json:"ok"`
	SessionID string     `json:"session_id,omitempty"`
	Entries   []EntryDTO `json:"entries"`
}

type HistoryResponse struct {
	OK   bool              `json:"ok"`
	From string            `json:"from"`
	To   string            `json:"to"`
	Days []DailySummaryDTO `json:"days"`
}

type RebuildResponse struct {
	OK      bool `json:"ok"`
	Rebuilt int  `json:"rebuilt"`
}

type VerifyResponse struct {
	OK     bool       `json:"ok"`
	Clean  bool       `json:"clean"`
	Drifts []DriftDTO `json:"drifts"`
}

type TenantsResponse struct {
	OK        bool     `json:"ok"`
	Companies []string `json:"companies"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Companies   []string `json:"companies"`
}

type CompanyResultDTO struct {
	CompanyID string     `json:"company_id"`
	Session   SessionDTO `json:"session"`
	Applied   int        `json:"applied"`
	Rejected  int        `json:"rejected"`
}

type LoadScenarioResponse struct {
	OK         bool               `json:"ok"`
	ScenarioID string             `json:"scenario_id"`
	Companies  []CompanyResultDTO `json:"companies"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	Code    cash.ErrorCode `json:"code"`
	Message string         `json:"message"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	OK    bool      `json:"ok"`
	Error ErrorBody `json:"error"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

const timeLayout = time.RFC3339Nano

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func toSessionDTO(s cash.Session) SessionDTO {
	status := s.Status
	if status == "" {
		status = cash.StatusClosed
	}
	last := s.LastEntryAt
	return SessionDTO{
		ID:             string(s.ID),
		CompanyID:      string(s.TenantID),
		Status:         string(status),
		OpenedAt:       formatTime(s.OpenedAt),
		ClosedAt:       formatTime(s.ClosedAt),
		Balance:        s.Balance.String(),
		OpeningAmount:  s.OpeningAmount.String(),
		TotalSupplied:  s.TotalSupplied.String(),
		TotalWithdrawn: s.TotalWithdrawn.String(),
		EntryCount:     s.EntryCount,
		LastEntryAt:    formatTime(&last),
		OpenNotes:      s.OpenNotes,
		CloseNotes:     s.CloseNotes,
	}
}

func toSessionDTOs(sessions []cash.Session) []SessionDTO {
	dtos := make([]SessionDTO, 0, len(sessions))
	for _, s := range sessions {
		dtos = append(dtos, toSessionDTO(s))
	}
	return dtos
}

func toEntryDTOs(entries []cash.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, EntryDTO{
			ID:        string(e.ID),
			SessionID: string(e.SessionID),
			Kind:      string(e.Kind),
			Amount:    e.Amount.String(),
			Delta:     e.Delta().String(),
			Notes:     e.Notes,
			Timestamp: e.Timestamp.UTC().Format(timeLayout),
			Seq:       e.Seq,
		})
	}
	return dtos
}

func toDailySummaryDTOs(days []cash.DailySummary) []DailySummaryDTO {
	dtos := make([]DailySummaryDTO, 0, len(days))
	for _, d := range days {
		dtos = append(dtos, DailySummaryDTO{
			Date:           d.Date.Format("2006-01-02"),
			SessionCount:   d.SessionCount,
			TotalOpening:   d.TotalOpening.String(),
			TotalSupplied:  d.TotalSupplied.String(),
			TotalWithdrawn: d.TotalWithdrawn.String(),
			ClosingBalance: d.ClosingBalance.String(),
			Sessions:       toSessionDTOs(d.Sessions),
		})
	}
	return dtos
}

func toDriftDTOs(drifts []cash.Drift) []DriftDTO {
	dtos := make([]DriftDTO, 0, len(drifts))
	for _, d := range drifts {
		dto := DriftDTO{SessionID: string(d.SessionID), Reason: d.Reason}
		if d.Cached != nil {
			c := toSessionDTO(*d.Cached)
			dto.Cached = &c
		}
		if d.Ledger != nil {
			l := toSessionDTO(*d.Ledger)
			dto.Ledger = &l
		}
		dtos = append(dtos, dto)
	}
	return dtos
}
