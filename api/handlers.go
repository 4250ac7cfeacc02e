/*
handlers.go - HTTP handlers for the account ledger API

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response and
  JSON serialization, delegates everything else to the engine. No
  business rule lives here.

ENDPOINTS:
  POST   /api/accounts                  Create account
  GET    /api/accounts                  List accounts
  GET    /api/accounts/{key}            Get account
  PATCH  /api/accounts/{key}/deposit    Deposit into account
  PATCH  /api/accounts/{key}/transfer   Transfer to another account
  GET    /api/accounts/{key}/deposits   Deposit history, time ascending
  GET    /api/accounts/{key}/transfers  Outgoing transfer history

ERROR HANDLING:
  Engine failures are mapped by kind:
  - 400: invalid document, invalid amounts, same-account transfer
  - 404: unknown account key
  - 409: duplicate document, concurrent update conflict
  - 500: everything else
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/brim/ledger-engine/ledger"
)

// Handler holds the dependencies for the HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Log    *zap.Logger
}

// NewHandler creates a handler around engine.
func NewHandler(engine *ledger.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Engine: engine, Log: log}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	account, err := h.Engine.CreateAccount(r.Context(), req.Name, req.Document)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAccountResponse(account))
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Engine.ListAccounts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, newAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	account, err := h.Engine.FindAccount(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

// =============================================================================
// MUTATION HANDLERS
// =============================================================================

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	account, err := h.Engine.Deposit(r.Context(), key, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	originKey := chi.URLParam(r, "key")

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	account, err := h.Engine.Transfer(r.Context(), originKey, req.TargetAccountKey, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

// =============================================================================
// HISTORY HANDLERS
// =============================================================================

func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	deposits, err := h.Engine.ListDeposits(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]DepositResponse, 0, len(deposits))
	for _, d := range deposits {
		out = append(out, newDepositResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	transfers, err := h.Engine.ListTransfers(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]TransferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, newTransferResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.Log.Error("internal error", zap.Error(err))
		writeJSON(w, status, ErrorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func statusForError(err error) int {
	switch {
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsConflict(err):
		return http.StatusConflict
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
