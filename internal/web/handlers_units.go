package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/core"
)

func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	org, err := s.service.CreateOrganization(r.Context(), req.Name)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, org)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationID string `json:"organizationId"`
		Name           string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	p, err := s.service.CreateProject(r.Context(), req.OrganizationID, req.Name)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}

type transactionRequest struct {
	TxnType       core.TxnType    `json:"txnType"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    string          `json:"occurredAt"`
	PaymentMethod string          `json:"paymentMethod"`
	CreatedBy     string          `json:"createdBy"`
	Note          string          `json:"note"`
}

// handleRecordTransaction appends a manual ledger entry. amount may be a
// JSON number or string; occurredAt is RFC 3339 or YYYY-MM-DD in the ledger
// zone and defaults to now.
func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	at, err := parseOccurredAt(req.OccurredAt, s.service.LedgerLocation())
	if err != nil {
		respondError(w, r, err)
		return
	}

	txn, err := s.service.RecordTransaction(r.Context(), core.RecordTransactionInput{
		UnitID:        chi.URLParam(r, "id"),
		TxnType:       req.TxnType,
		Amount:        req.Amount,
		OccurredAt:    at,
		PaymentMethod: req.PaymentMethod,
		CreatedBy:     req.CreatedBy,
		Note:          req.Note,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, txn)
}

func parseOccurredAt(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, loc); err == nil {
		return t, nil
	}
	return time.Time{}, badRequest("invalid date %q for occurredAt", raw)
}

func (s *Server) handleAttachFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName string `json:"fileName"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	f, err := s.service.AttachFile(r.Context(), chi.URLParam(r, "id"), req.FileName)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, f)
}
