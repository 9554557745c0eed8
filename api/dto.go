/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the wire format: field names are snake_case, amounts
  are decimal strings, and internal fields (versions, raw postings) are only
  exposed where an auditor needs them.

NAMING CONVENTION:
  - *DTO:     Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Amounts are pointers so
  "required" can tell a missing amount from zero. Sign and precision rules
  are left to the ledger, which owns them.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/pos-ledger/cash"
	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/loyalty"
)

// =============================================================================
// SHARED
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ReferenceDTO points at the order, invoice or purchase order behind an entry.
type ReferenceDTO struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

func (r *ReferenceDTO) toLedger() *ledger.Reference {
	if r == nil {
		return nil
	}
	return &ledger.Reference{Type: r.Type, ID: r.ID}
}

// AccountDTO is the generic view of any ledger account.
type AccountDTO struct {
	ID          string                     `json:"id"`
	Type        string                     `json:"type"`
	OwnerID     string                     `json:"owner_id"`
	State       string                     `json:"state"`
	Balances    map[string]decimal.Decimal `json:"balances"`
	Attributes  map[string]string          `json:"attributes,omitempty"`
	Version     int64                      `json:"version"`
	LastEntryAt *time.Time                 `json:"last_entry_at,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
}

func toAccountDTO(a ledger.Account) AccountDTO {
	dto := AccountDTO{
		ID:         string(a.ID),
		Type:       string(a.Type),
		OwnerID:    a.OwnerID,
		State:      string(a.State),
		Balances:   make(map[string]decimal.Decimal, len(a.Balances)),
		Attributes: a.Attributes,
		Version:    a.Version,
		CreatedAt:  a.CreatedAt,
	}
	for k, v := range a.Balances {
		dto.Balances[string(k)] = v
	}
	if !a.LastEntryAt.IsZero() {
		t := a.LastEntryAt
		dto.LastEntryAt = &t
	}
	return dto
}

// EntryDTO is one transaction log record.
type EntryDTO struct {
	ID             int64             `json:"id"`
	AccountID      string            `json:"account_id"`
	Kind           string            `json:"kind"`
	Postings       []ledger.Posting  `json:"postings"`
	Actor          string            `json:"actor"`
	Reference      *ledger.Reference `json:"reference,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:             int64(e.ID),
		AccountID:      string(e.AccountID),
		Kind:           string(e.Kind),
		Postings:       e.Postings,
		Actor:          e.Actor,
		Reference:      e.Reference,
		IdempotencyKey: e.IdempotencyKey,
		Notes:          e.Notes,
		Metadata:       e.Metadata,
		ExpiresAt:      e.ExpiresAt,
		CreatedAt:      e.CreatedAt,
	}
}

// ResultDTO is returned by every operation that appends an entry.
type ResultDTO struct {
	Entry   EntryDTO   `json:"entry"`
	Account AccountDTO `json:"account"`
}

func toResultDTO(r ledger.Result) ResultDTO {
	return ResultDTO{Entry: toEntryDTO(r.Entry), Account: toAccountDTO(r.Account)}
}

// =============================================================================
// CASH REGISTER
// =============================================================================

type OpenSessionRequest struct {
	SessionID string           `json:"session_id"`
	Initial   *decimal.Decimal `json:"initial_amount" validate:"required"`
	Actor     string           `json:"actor" validate:"required"`
}

type SaleRequest struct {
	Amount         *decimal.Decimal `json:"amount" validate:"required"`
	PaymentMethod  string           `json:"payment_method" validate:"required,max=32"`
	Actor          string           `json:"actor" validate:"required"`
	Reference      *ReferenceDTO    `json:"reference" validate:"omitempty"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
}

type CashMovementRequest struct {
	Amount         *decimal.Decimal `json:"amount" validate:"required"`
	Reason         string           `json:"reason" validate:"required"`
	Actor          string           `json:"actor" validate:"required"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
}

type CloseSessionRequest struct {
	Declared *decimal.Decimal `json:"declared_amount" validate:"required"`
	Notes    string           `json:"notes"`
	Actor    string           `json:"actor" validate:"required"`
}

// SummaryDTO is cash.Summary plus the sorted method list.
type SummaryDTO struct {
	cash.Summary
	Methods []string `json:"payment_methods"`
}

// =============================================================================
// INVENTORY
// =============================================================================

type CreateItemRequest struct {
	ItemID    string           `json:"item_id"`
	ProductID string           `json:"product_id" validate:"required"`
	Unit      string           `json:"unit" validate:"max=16"`
	Min       *decimal.Decimal `json:"min_quantity"`
	Max       *decimal.Decimal `json:"max_quantity"`
}

type StockMovementRequest struct {
	Kind           string           `json:"kind" validate:"required,oneof=inbound outbound sale purchase production waste"`
	Quantity       *decimal.Decimal `json:"quantity" validate:"required"`
	Actor          string           `json:"actor" validate:"required"`
	Reference      *ReferenceDTO    `json:"reference" validate:"omitempty"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
	Notes          string           `json:"notes"`
}

type StockCountRequest struct {
	Counted *decimal.Decimal `json:"counted" validate:"required"`
	Reason  string           `json:"reason" validate:"required"`
	Actor   string           `json:"actor" validate:"required"`
}

type AvailabilityDTO struct {
	ItemID    string          `json:"item_id"`
	Requested decimal.Decimal `json:"requested"`
	Available bool            `json:"available"`
}

// LowStockRequest overrides the stored minimum per item.
type LowStockRequest struct {
	Thresholds map[string]decimal.Decimal `json:"thresholds"`
}

// =============================================================================
// LOYALTY
// =============================================================================

type EnrollRequest struct {
	MemberID   string `json:"member_id"`
	CustomerID string `json:"customer_id" validate:"required"`
}

type EarnRequest struct {
	Purchase       *decimal.Decimal `json:"purchase_amount" validate:"required"`
	Actor          string           `json:"actor" validate:"required"`
	Reference      *ReferenceDTO    `json:"reference" validate:"omitempty"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
}

// SpendRequest is used by redeem, redeem-cashback and expire.
type SpendRequest struct {
	Amount         *decimal.Decimal `json:"amount" validate:"required"`
	Actor          string           `json:"actor" validate:"required"`
	Reference      *ReferenceDTO    `json:"reference" validate:"omitempty"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
	Notes          string           `json:"notes"`
}

type EarnDTO struct {
	ResultDTO
	Points       decimal.Decimal `json:"points_earned"`
	Cashback     decimal.Decimal `json:"cashback_earned"`
	PreviousTier string          `json:"previous_tier"`
	Tier         string          `json:"tier"`
	TierChanged  bool            `json:"tier_changed"`
	ExpiresAt    *time.Time      `json:"points_expire_at,omitempty"`
}

func toEarnDTO(r loyalty.EarnResult) EarnDTO {
	return EarnDTO{
		ResultDTO:    toResultDTO(r.Result),
		Points:       r.Points,
		Cashback:     r.Cashback,
		PreviousTier: r.PreviousTier,
		Tier:         r.Tier,
		TierChanged:  r.TierChanged(),
		ExpiresAt:    r.ExpiresAt,
	}
}

type TierDTO struct {
	Name       string          `json:"name"`
	MinSpent   decimal.Decimal `json:"min_spent"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type VerifyRequest struct {
	AccountIDs []string `json:"account_ids"`
}

type DiscrepancyDTO struct {
	Kind     string          `json:"kind"`
	EntryID  int64           `json:"entry_id,omitempty"`
	Balance  string          `json:"balance,omitempty"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
}

type VerifyReportDTO struct {
	AccountID     string           `json:"account_id"`
	Entries       int              `json:"entries"`
	OK            bool             `json:"ok"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies"`
}

func toVerifyReportDTO(r ledger.VerifyReport) VerifyReportDTO {
	dto := VerifyReportDTO{
		AccountID:     string(r.AccountID),
		Entries:       r.Entries,
		OK:            r.OK(),
		Discrepancies: make([]DiscrepancyDTO, 0, len(r.Discrepancies)),
	}
	for _, d := range r.Discrepancies {
		dto.Discrepancies = append(dto.Discrepancies, DiscrepancyDTO{
			Kind:     string(d.Kind),
			EntryID:  int64(d.EntryID),
			Balance:  string(d.Balance),
			Expected: d.Expected,
			Actual:   d.Actual,
		})
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ScenarioResultDTO lists the accounts a scenario created.
type ScenarioResultDTO struct {
	Scenario ScenarioDTO `json:"scenario"`
	Accounts []string    `json:"account_ids"`
}
