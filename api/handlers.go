/*
handlers.go - HTTP API handlers for the point-of-sale ledgers

PURPOSE:
  Exposes the cash register, stock and loyalty ledgers plus reconciliation
  over JSON. Handlers parse and validate the request, call exactly one
  ledger operation and serialize its result. No balance arithmetic happens
  here.

ENDPOINTS:
  Registers:
    POST   /api/registers/{registerID}/sessions   Open a session
    GET    /api/registers/{registerID}/session    Current open session
    GET    /api/sessions/{id}                     Session account
    POST   /api/sessions/{id}/sales               Record a sale
    POST   /api/sessions/{id}/withdrawals         Take cash out of the drawer
    POST   /api/sessions/{id}/deposits            Put cash into the drawer
    POST   /api/sessions/{id}/close               Count and close

  Inventory:
    GET    /api/items                             List stock items
    POST   /api/items                             Create a stock account
    GET    /api/items/{id}                        Item with thresholds
    GET    /api/items/{id}/availability?quantity= Can the quantity be taken
    POST   /api/items/{id}/movements              Relative stock movement
    POST   /api/items/{id}/counts                 Physical count (adjustment)

  Loyalty:
    POST   /api/members                           Enroll
    GET    /api/members/{id}                      Balances and tier
    GET    /api/members/{id}/tier                 Tier details
    POST   /api/members/{id}/earn                 Earn on a purchase
    POST   /api/members/{id}/redeem               Redeem points
    POST   /api/members/{id}/redeem-cashback      Redeem cashback
    POST   /api/members/{id}/expire               Expire points

  Accounts and reconciliation:
    GET    /api/accounts/{id}/entries?since=      Transaction log
    GET    /api/accounts/{id}/verify              Replay one account
    POST   /api/reconciliation/verify             Replay many accounts
    GET    /api/reconciliation/low-stock          Report on stored minimums
    POST   /api/reconciliation/low-stock          Report with explicit thresholds

ERROR HANDLING:
  Ledger errors map to statuses in one place (statusFor):
  - 400: validation errors, invalid amount or kind
  - 404: account not found
  - 409: closed, already open, duplicate key, out of order, lost race
  - 422: insufficient balance
  - 503: account lock not obtained
  - 500: storage and invariant failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/pos-ledger/cash"
	"github.com/warp/pos-ledger/inventory"
	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/logging"
	"github.com/warp/pos-ledger/loyalty"
	"github.com/warp/pos-ledger/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Ledger
	Registers *cash.Ledger
	Stock     *inventory.Ledger
	Loyalty   *loyalty.Ledger
	Engine    *reconcile.Engine

	validate *validator.Validate
}

// NewHandler creates a handler over the ledgers.
func NewHandler(core *ledger.Ledger, registers *cash.Ledger, stock *inventory.Ledger, members *loyalty.Ledger, engine *reconcile.Engine) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Ledger:    core,
		Registers: registers,
		Stock:     stock,
		Loyalty:   members,
		Engine:    engine,
		validate:  v,
	}
}

// =============================================================================
// REGISTER HANDLERS
// =============================================================================

// OpenSession starts a register session with its float.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Registers.Open(r.Context(), cash.OpenInput{
		SessionID:  ledger.AccountID(req.SessionID),
		RegisterID: chi.URLParam(r, "registerID"),
		Initial:    *req.Initial,
		Actor:      req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Failed to open session", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(res))
}

// GetOpenSession returns the open session of a register.
func (h *Handler) GetOpenSession(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Registers.OpenSession(r.Context(), chi.URLParam(r, "registerID"))
	if err != nil {
		h.fail(w, r, "No open session", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Registers.Session(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, r, "Session not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// RecordSale records a payment taken at the register.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Registers.RecordSale(r.Context(), cash.Sale{
		SessionID:      accountID(r),
		Amount:         *req.Amount,
		PaymentMethod:  req.PaymentMethod,
		Reference:      req.Reference.toLedger(),
		Actor:          req.Actor,
		IdempotencyKey: req.IdempotencyKey,
	})
	h.writeResult(w, r, "Failed to record sale", res, err)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req CashMovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Registers.Withdraw(r.Context(), cashMovement(r, req))
	h.writeResult(w, r, "Failed to withdraw", res, err)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req CashMovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Registers.Deposit(r.Context(), cashMovement(r, req))
	h.writeResult(w, r, "Failed to deposit", res, err)
}

func cashMovement(r *http.Request, req CashMovementRequest) cash.Movement {
	return cash.Movement{
		SessionID:      accountID(r),
		Amount:         *req.Amount,
		Reason:         req.Reason,
		Actor:          req.Actor,
		IdempotencyKey: req.IdempotencyKey,
	}
}

// CloseSession counts the drawer and closes the session through the
// reconciliation engine so the close is published and measured.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	var req CloseSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	summary, err := h.Engine.CloseRegister(r.Context(), cash.CloseInput{
		SessionID: accountID(r),
		Declared:  *req.Declared,
		Notes:     req.Notes,
		Actor:     req.Actor,
	})
	if err != nil {
		h.fail(w, r, "Failed to close session", err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryDTO{Summary: summary, Methods: summary.Methods()})
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Stock.Items(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list items", err)
		return
	}
	if items == nil {
		items = []inventory.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateItem opens the stock account of a product.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	acct, err := h.Stock.Stock(r.Context(), inventory.StockInput{
		ItemID:    ledger.AccountID(req.ItemID),
		ProductID: req.ProductID,
		Unit:      req.Unit,
		Min:       req.Min,
		Max:       req.Max,
	})
	if err != nil {
		h.fail(w, r, "Failed to create item", err)
		return
	}
	writeJSON(w, http.StatusCreated, inventory.ItemOf(acct))
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Stock.Item(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, r, "Item not found", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// CheckAvailability answers whether ?quantity= can be taken right now.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	requested, err := decimal.NewFromString(r.URL.Query().Get("quantity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quantity", err)
		return
	}
	id := accountID(r)
	ok, err := h.Stock.CheckAvailability(r.Context(), id, requested)
	if err != nil {
		h.fail(w, r, "Failed to check availability", err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityDTO{ItemID: string(id), Requested: requested, Available: ok})
}

func (h *Handler) MoveStock(w http.ResponseWriter, r *http.Request) {
	var req StockMovementRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Stock.Move(r.Context(), inventory.Movement{
		ItemID:         accountID(r),
		Kind:           ledger.Kind(req.Kind),
		Quantity:       *req.Quantity,
		Actor:          req.Actor,
		Reference:      req.Reference.toLedger(),
		IdempotencyKey: req.IdempotencyKey,
		Notes:          req.Notes,
	})
	h.writeResult(w, r, "Failed to move stock", res, err)
}

// CountStock records a physical count as an absolute adjustment.
func (h *Handler) CountStock(w http.ResponseWriter, r *http.Request) {
	var req StockCountRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Stock.Adjust(r.Context(), accountID(r), *req.Counted, req.Reason, req.Actor)
	h.writeResult(w, r, "Failed to record count", res, err)
}

// =============================================================================
// LOYALTY HANDLERS
// =============================================================================

func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.Loyalty.Enroll(r.Context(), loyalty.EnrollInput{
		MemberID:   ledger.AccountID(req.MemberID),
		CustomerID: req.CustomerID,
	})
	if err != nil {
		h.fail(w, r, "Failed to enroll member", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.Loyalty.Member(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, r, "Member not found", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	tier, err := h.Loyalty.Tier(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, r, "Member not found", err)
		return
	}
	writeJSON(w, http.StatusOK, TierDTO{Name: tier.Name, MinSpent: tier.MinSpent, Multiplier: tier.Multiplier})
}

// Earn credits points and cashback for a purchase. Goes through the engine
// so a tier change is published.
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	var req EarnRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Engine.Earn(r.Context(), loyalty.EarnInput{
		MemberID:       accountID(r),
		Purchase:       *req.Purchase,
		Actor:          req.Actor,
		Reference:      req.Reference.toLedger(),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.fail(w, r, "Failed to earn", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEarnDTO(res))
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	h.spend(w, r, "Failed to redeem points", h.Loyalty.Redeem)
}

func (h *Handler) RedeemCashback(w http.ResponseWriter, r *http.Request) {
	h.spend(w, r, "Failed to redeem cashback", h.Loyalty.RedeemCashback)
}

func (h *Handler) Expire(w http.ResponseWriter, r *http.Request) {
	h.spend(w, r, "Failed to expire points", h.Loyalty.Expire)
}

type spendFunc func(ctx context.Context, s loyalty.Spend) (ledger.Result, error)

func (h *Handler) spend(w http.ResponseWriter, r *http.Request, message string, op spendFunc) {
	var req SpendRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := op(r.Context(), loyalty.Spend{
		MemberID:       accountID(r),
		Amount:         *req.Amount,
		Actor:          req.Actor,
		Reference:      req.Reference.toLedger(),
		IdempotencyKey: req.IdempotencyKey,
		Notes:          req.Notes,
	})
	h.writeResult(w, r, message, res, err)
}

// =============================================================================
// ACCOUNT AND RECONCILIATION HANDLERS
// =============================================================================

// GetEntries returns an account's log from ?since= (RFC 3339) onwards.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since, want RFC 3339", err)
			return
		}
		since = t
	}

	dtos := []EntryDTO{}
	for e, err := range h.Ledger.EntriesSince(r.Context(), accountID(r), since) {
		if err != nil {
			h.fail(w, r, "Failed to read entries", err)
			return
		}
		dtos = append(dtos, toEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	reports, err := h.Engine.Verify(r.Context(), accountID(r))
	if err != nil {
		h.fail(w, r, "Failed to verify account", err)
		return
	}
	writeJSON(w, http.StatusOK, toVerifyReportDTO(reports[0]))
}

// VerifyAccounts replays the listed accounts, or all accounts when the
// list is empty.
func (h *Handler) VerifyAccounts(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	ids := make([]ledger.AccountID, len(req.AccountIDs))
	for i, id := range req.AccountIDs {
		ids[i] = ledger.AccountID(id)
	}

	reports, err := h.Engine.Verify(r.Context(), ids...)
	if err != nil {
		h.fail(w, r, "Failed to verify accounts", err)
		return
	}
	dtos := make([]VerifyReportDTO, len(reports))
	for i, rep := range reports {
		dtos[i] = toVerifyReportDTO(rep)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LowStock reports items below their threshold. POST bodies may override
// thresholds per item; GET uses stored minimums only.
func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	var req LowStockRequest
	if r.Method == http.MethodPost && !h.decode(w, r, &req) {
		return
	}
	thresholds := make(reconcile.Thresholds, len(req.Thresholds))
	for id, t := range req.Thresholds {
		thresholds[ledger.AccountID(id)] = t
	}

	report, err := h.Engine.LowStock(r.Context(), thresholds)
	if err != nil {
		h.fail(w, r, "Failed to build low-stock report", err)
		return
	}
	if report == nil {
		report = []reconcile.LowStockItem{}
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

func accountID(r *http.Request) ledger.AccountID {
	return ledger.AccountID(chi.URLParam(r, "id"))
}

// decode reads and validates a JSON body. On failure it writes the 400
// response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = validationMessage(fe)
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "validation", Fields: fields})
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "max":
		return "Value is too long (max: " + fe.Param() + ")"
	case "oneof":
		return "Must be one of: " + fe.Param()
	default:
		return "Invalid value"
	}
}

func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, message string, res ledger.Result, err error) {
	if err != nil {
		h.fail(w, r, message, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(res))
}

// fail maps a ledger error to its status. Server-side failures are logged
// with the request logger; client errors are not.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Msg(message)
	}

	resp := ErrorResponse{Error: message, Code: ledger.Reason(err), Details: err.Error()}
	var dup *ledger.DuplicateEntryError
	if errors.As(err, &dup) {
		writeJSON(w, status, struct {
			ErrorResponse
			Entry EntryDTO `json:"entry"`
		}{resp, toEntryDTO(dup.Entry)})
		return
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrAccountClosed),
		errors.Is(err, ledger.ErrAlreadyOpen),
		errors.Is(err, ledger.ErrAccountExists),
		errors.Is(err, ledger.ErrDuplicateIdempotencyKey),
		errors.Is(err, ledger.ErrOutOfOrderEntry),
		errors.Is(err, ledger.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrLockNotObtained):
		return http.StatusServiceUnavailable
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "bad_request"}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
