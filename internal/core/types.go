package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ImportStatus is the lifecycle state of an ImportLog.
type ImportStatus string

const (
	StatusDiffed     ImportStatus = "diffed"
	StatusConfirmed  ImportStatus = "confirmed"
	StatusRolledBack ImportStatus = "rolled_back"
)

// ActionType classifies how a source row compares to existing state.
type ActionType string

const (
	ActionNew       ActionType = "NEW"
	ActionChanged   ActionType = "CHANGED"
	ActionUnchanged ActionType = "UNCHANGED"
	ActionError     ActionType = "ERROR"
)

// UnitStatus is the sale state derived from a unit's raw status text.
type UnitStatus string

const (
	UnitAvailable               UnitStatus = "available"
	UnitSubscribed              UnitStatus = "subscribed"
	UnitSigned                  UnitStatus = "signed"
	UnitMortgageOffsetCompleted UnitStatus = "mortgage_offset_completed"
)

// TxnType is the kind of a ledger transaction.
type TxnType string

const (
	TxnAdjustment  TxnType = "adjustment"
	TxnRefund      TxnType = "refund"
	TxnDeposit     TxnType = "deposit"
	TxnDownPayment TxnType = "down_payment"
	TxnInstallment TxnType = "installment"
	TxnFullPayment TxnType = "full_payment"
)

// Valid reports whether t is a known transaction type.
func (t TxnType) Valid() bool {
	switch t {
	case TxnAdjustment, TxnRefund, TxnDeposit, TxnDownPayment, TxnInstallment, TxnFullPayment:
		return true
	}
	return false
}

// CounterpartyRole is the role a counterparty plays for a unit.
type CounterpartyRole string

const (
	RoleGeneralContractor CounterpartyRole = "general_contractor"
	RoleSubcontractor     CounterpartyRole = "subcontractor"
)

// EntityUnit is the entity type recorded on unit rows and audits.
const EntityUnit = "unit"

// Standard field names used in diff row data.
const (
	FieldProject               = "project"
	FieldPropertyType          = "property_type"
	FieldUnitCode              = "unit_code"
	FieldCustomerName          = "customer_name"
	FieldRenameStatusRaw       = "rename_status_raw"
	FieldSaleStatus            = "sale_status"
	FieldSubscribeDate         = "subscribe_date"
	FieldSignDate              = "sign_date"
	FieldAreaM2                = "area_m2"
	FieldDealPricePerM2        = "deal_price_per_m2"
	FieldDealPrice             = "deal_price"
	FieldPaymentMethod         = "payment_method"
	FieldActualReceived        = "actual_received"
	FieldReceiptRatioInput     = "receipt_ratio_input"
	FieldUndeliveredAmount     = "undelivered_amount"
	FieldUndeliveredNote       = "undelivered_note"
	FieldInternalExternal      = "internal_external"
	FieldConstructionUnit      = "construction_unit"
	FieldGeneralContractorUnit = "general_contractor_unit"
	FieldSubcontractorUnit     = "subcontractor_unit"
	FieldPhone                 = "phone"
	FieldIDCard                = "id_card"
	FieldAddress               = "address"
)

// FieldDiff is the before/after pair of one changed field.
type FieldDiff struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// DiffRow is one row produced by the diff service.
type DiffRow struct {
	RowNo        int                  `json:"rowNo"`
	ActionType   ActionType           `json:"actionType"`
	BusinessKey  string               `json:"businessKey"`
	EntityType   string               `json:"entityType"`
	BeforeData   RowData              `json:"beforeData"`
	AfterData    RowData              `json:"afterData"`
	FieldDiffs   map[string]FieldDiff `json:"fieldDiffs"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
}

// RowSummary counts diff rows by action.
type RowSummary struct {
	TotalRows     int `json:"totalRows"`
	NewRows       int `json:"newRows"`
	ChangedRows   int `json:"changedRows"`
	UnchangedRows int `json:"unchangedRows"`
	ErrorRows     int `json:"errorRows"`
}

// Bag returns the counts keyed the way they are stored in the summary bag.
func (s RowSummary) Bag() map[string]any {
	return map[string]any{
		"totalRows":     s.TotalRows,
		"newRows":       s.NewRows,
		"changedRows":   s.ChangedRows,
		"unchangedRows": s.UnchangedRows,
		"errorRows":     s.ErrorRows,
	}
}

// SummarizeRows counts rows by action type.
func SummarizeRows(rows []DiffRow) RowSummary {
	s := RowSummary{TotalRows: len(rows)}
	for _, r := range rows {
		switch r.ActionType {
		case ActionNew:
			s.NewRows++
		case ActionChanged:
			s.ChangedRows++
		case ActionUnchanged:
			s.UnchangedRows++
		case ActionError:
			s.ErrorRows++
		}
	}
	return s
}

// ImportLog is the envelope of one diff-apply lifecycle.
type ImportLog struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organizationId"`
	ProjectID      string            `json:"projectId"`
	SourceFileName string            `json:"sourceFileName"`
	SourceFileHash string            `json:"sourceFileHash"`
	Status         ImportStatus      `json:"status"`
	Counts         RowSummary        `json:"counts"`
	HeaderMapping  map[string]string `json:"headerMapping"`
	Summary        map[string]any    `json:"summary"`
	CreatedBy      string            `json:"createdBy,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	ConfirmedAt    *time.Time        `json:"confirmedAt,omitempty"`
	RolledBackAt   *time.Time        `json:"rolledBackAt,omitempty"`
}

// ImportLogRow is a persisted diff row. It is never modified after creation.
type ImportLogRow struct {
	ImportLogID string `json:"importLogId"`
	DiffRow
}

// ImportChangeAudit records what happened to one field of one row during
// commit. Entries are append-only.
type ImportChangeAudit struct {
	ID           string    `json:"id"`
	ImportLogID  string    `json:"importLogId"`
	RowNo        int       `json:"rowNo"`
	EntityType   string    `json:"entityType"`
	BusinessKey  string    `json:"businessKey,omitempty"`
	FieldName    string    `json:"fieldName"`
	BeforeValue  any       `json:"beforeValue"`
	AfterValue   any       `json:"afterValue"`
	Applied      bool      `json:"applied"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Organization owns projects. Its name is used when an internal unit's
// construction unit has to be inferred.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Project groups units. OrganizationName is filled on reads.
type Project struct {
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organizationId"`
	OrganizationName string    `json:"organizationName,omitempty"`
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Unit is a sale unit, unique by (ProjectID, UnitCode).
type Unit struct {
	ID                string              `json:"id"`
	ProjectID         string              `json:"projectId"`
	UnitCode          string              `json:"unitCode"`
	PropertyType      string              `json:"propertyType,omitempty"`
	Area              decimal.NullDecimal `json:"area"`
	DealPrice         decimal.NullDecimal `json:"dealPrice"`
	Status            UnitStatus          `json:"status"`
	SaleStatusRaw     string              `json:"saleStatusRaw,omitempty"`
	InternalExternal  string              `json:"internalExternal,omitempty"`
	CurrentCustomerID string              `json:"currentCustomerId,omitempty"`
	Attrs             Attributes          `json:"dynamicAttrs"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// Customer is deduplicated by exact name; the first one created wins.
type Customer struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone,omitempty"`
	Address      string    `json:"address,omitempty"`
	IDCardMasked string    `json:"idCardMasked,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Transaction is an immutable ledger entry. Amount is always positive; the
// direction is carried by TxnType.
type Transaction struct {
	ID                string          `json:"id"`
	UnitID            string          `json:"unitId"`
	TxnType           TxnType         `json:"txnType"`
	OccurredAt        time.Time       `json:"occurredAt"`
	Amount            decimal.Decimal `json:"amount"`
	PaymentMethod     string          `json:"paymentMethod,omitempty"`
	SourceImportLogID string          `json:"sourceImportLogId,omitempty"`
	CreatedBy         string          `json:"createdBy,omitempty"`
	Note              string          `json:"note,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Counterparty is a named external organization.
type Counterparty struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// UnitCounterparty binds a counterparty to a unit in a role.
type UnitCounterparty struct {
	UnitID           string           `json:"unitId"`
	CounterpartyID   string           `json:"counterpartyId"`
	CounterpartyName string           `json:"counterpartyName,omitempty"`
	Role             CounterpartyRole `json:"role"`
}

// UnitFile is a document linked to a unit.
type UnitFile struct {
	ID        string    `json:"id"`
	UnitID    string    `json:"unitId"`
	FileName  string    `json:"fileName"`
	CreatedAt time.Time `json:"createdAt"`
}

// UnitSnapshot is the per-unit "before" row handed to the diff service.
type UnitSnapshot struct {
	ProjectName      string
	UnitCode         string
	PropertyType     string
	Area             decimal.NullDecimal
	DealPrice        decimal.NullDecimal
	SaleStatusRaw    string
	InternalExternal string
	CustomerName     string
	LatestAmount     decimal.NullDecimal
	LatestMethod     string
	LatestOccurredAt *time.Time
}
