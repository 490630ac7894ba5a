package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PreviewRow is the denormalized, read-only view of one unit touched by an
// import. Derived fields carry provenance and basis. Phone and id card
// numbers are masked.
type PreviewRow struct {
	ProjectName      string              `json:"project_name"`
	UnitCode         string              `json:"unit_code"`
	PropertyType     string              `json:"property_type"`
	AreaM2           decimal.NullDecimal `json:"area_m2"`
	DealPrice        decimal.NullDecimal `json:"deal_price"`
	Status           UnitStatus          `json:"status"`
	StatusDisplay    string              `json:"status_display"`
	StatusBasis      string              `json:"status_basis"`
	SaleStatusRaw    string              `json:"sale_status_raw"`
	InternalExternal string              `json:"internal_external"`

	ConstructionUnit      DerivedValue `json:"construction_unit"`
	GeneralContractorUnit DerivedValue `json:"general_contractor_unit"`
	SubcontractorUnit     DerivedValue `json:"subcontractor_unit"`
	SubscribeDate         DerivedValue `json:"subscribe_date"`
	SignDate              DerivedValue `json:"sign_date"`
	RenameStatus          DerivedValue `json:"rename_status"`
	RenameFlag            *bool        `json:"rename_flag"`
	ReceiptRatio          DerivedValue `json:"receipt_ratio"`
	ContactPhone          DerivedValue `json:"contact_phone"`
	ContactAddress        DerivedValue `json:"contact_address"`

	CustomerName         string              `json:"customer_name"`
	Phone                string              `json:"phone"`
	IDCardMasked         string              `json:"id_card_masked,omitempty"`
	ActualReceivedLatest decimal.NullDecimal `json:"actual_received_latest"`
	TotalReceived        decimal.Decimal     `json:"total_received"`
	TransactionCount     int                 `json:"transaction_count"`

	LastTxnType       TxnType             `json:"last_txn_type,omitempty"`
	LastTxnOccurredAt *time.Time          `json:"last_txn_occurred_at"`
	LastTxnAmount     decimal.NullDecimal `json:"last_txn_amount"`
	LastPaymentMethod string              `json:"last_payment_method"`

	LastImportLogID     string    `json:"last_import_log_id"`
	LastUpdateSource    string    `json:"last_update_source"`
	LastUpdateFileName  string    `json:"last_update_file_name"`
	LastUpdateSessionID string    `json:"last_update_session_id,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// GetCommittedPreview projects the current state of every unit named by the
// import's NEW and CHANGED rows that still exists, ordered by unit code.
// Values the unit does not hold are inferred at read time from its
// counterparties, customer and ledger.
func (s *Service) GetCommittedPreview(ctx context.Context, importLogID string) ([]PreviewRow, error) {
	var out []PreviewRow
	err := s.store.Read(ctx, func(tx Tx) error {
		var err error
		out, err = s.committedPreview(ctx, tx, importLogID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("committed preview: %w", err)
	}
	return out, nil
}

func (s *Service) committedPreview(ctx context.Context, tx Tx, importLogID string) ([]PreviewRow, error) {
	il, err := tx.GetImportLog(ctx, importLogID)
	if err != nil {
		return nil, err
	}
	project, err := tx.GetProject(ctx, il.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	rows, err := tx.ListImportLogRows(ctx, importLogID)
	if err != nil {
		return nil, fmt.Errorf("load rows: %w", err)
	}

	units, err := tx.ListUnitsByCodes(ctx, il.ProjectID, affectedUnitCodes(rows))
	if err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].UnitCode < units[j].UnitCode })

	out := make([]PreviewRow, 0, len(units))
	for _, u := range units {
		row, err := s.previewUnit(ctx, tx, project, u)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func affectedUnitCodes(rows []ImportLogRow) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, r := range rows {
		if r.ActionType != ActionNew && r.ActionType != ActionChanged {
			continue
		}
		code := r.AfterData.String(FieldUnitCode)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (s *Service) previewUnit(ctx context.Context, tx Tx, project Project, u Unit) (PreviewRow, error) {
	var customer *Customer
	if u.CurrentCustomerID != "" {
		c, err := tx.GetCustomer(ctx, u.CurrentCustomerID)
		switch {
		case err == nil:
			customer = &c
		case !errors.Is(err, ErrNotFound):
			return PreviewRow{}, fmt.Errorf("load customer: %w", err)
		}
	}
	txns, err := tx.ListTransactionsByUnit(ctx, u.ID)
	if err != nil {
		return PreviewRow{}, fmt.Errorf("load transactions: %w", err)
	}
	bindings, err := tx.ListUnitCounterparties(ctx, u.ID)
	if err != nil {
		return PreviewRow{}, fmt.Errorf("load counterparties: %w", err)
	}
	ledger := summarizeLedger(txns)

	row := PreviewRow{
		ProjectName:         project.Name,
		UnitCode:            u.UnitCode,
		PropertyType:        u.PropertyType,
		AreaM2:              u.Area,
		DealPrice:           u.DealPrice,
		Status:              u.Status,
		StatusDisplay:       u.Status.Display(),
		StatusBasis:         StatusBasis(u.SaleStatusRaw),
		SaleStatusRaw:       u.SaleStatusRaw,
		InternalExternal:    u.InternalExternal,
		RenameFlag:          u.Attrs.RenameFlag,
		TotalReceived:       ledger.TotalReceived,
		TransactionCount:    ledger.Count,
		LastImportLogID:     u.Attrs.LastImportLogID,
		LastUpdateSource:    u.Attrs.LastUpdateSource,
		LastUpdateFileName:  u.Attrs.LastUpdateFileName,
		LastUpdateSessionID: u.Attrs.LastUpdateSessionID,
		UpdatedAt:           u.UpdatedAt,
	}
	if customer != nil {
		row.CustomerName = customer.Name
		row.Phone = MaskPhone(customer.Phone)
		row.IDCardMasked = customer.IDCardMasked
	}
	if latest := ledger.Latest; latest != nil {
		at := latest.OccurredAt.In(s.loc)
		row.LastTxnType = latest.TxnType
		row.LastTxnOccurredAt = &at
		row.LastTxnAmount = decimal.NewNullDecimal(latest.Amount)
		row.LastPaymentMethod = latest.PaymentMethod
		if latest.TxnType != TxnRefund {
			row.ActualReceivedLatest = decimal.NewNullDecimal(latest.Amount)
		}
	}

	stored := func(key string) DerivedValue {
		v, _ := u.Attrs.Get(key)
		if v.Source == "" {
			v.Source = SourceMissing
		}
		return v
	}

	row.ConstructionUnit = stored(DerivedConstructionUnit)
	if !row.ConstructionUnit.Known() && isInternal(u.InternalExternal) && project.OrganizationName != "" {
		row.ConstructionUnit = DerivedValue{
			Value:  project.OrganizationName,
			Source: SourceInferredInternal,
			Basis:  "内部房源，取本组织名称",
		}
	}
	row.GeneralContractorUnit = inferFromBindings(stored(DerivedGeneralContractorUnit), bindings, RoleGeneralContractor)
	row.SubcontractorUnit = inferFromBindings(stored(DerivedSubcontractorUnit), bindings, RoleSubcontractor)

	row.SubscribeDate = stored(DerivedSubscribeDate)
	row.SignDate = stored(DerivedSignDate)
	if first := ledger.Earliest; first != nil {
		date := first.OccurredAt.In(s.loc).Format(time.DateOnly)
		basis := "最早交易日期"
		if !row.SignDate.Known() && u.Status == UnitSigned {
			row.SignDate = DerivedValue{Value: date, Source: SourceInferredTxn, Basis: basis}
		}
		if !row.SubscribeDate.Known() && (u.Status == UnitSubscribed || u.Status == UnitSigned) {
			row.SubscribeDate = DerivedValue{Value: date, Source: SourceInferredTxn, Basis: basis}
		}
	}

	row.RenameStatus = stored(DerivedRenameStatus)

	row.ReceiptRatio = stored(DerivedReceiptRatio)
	if !row.ReceiptRatio.Known() && ledger.Count > 0 && u.DealPrice.Valid && u.DealPrice.Decimal.IsPositive() {
		row.ReceiptRatio = DerivedValue{
			Value:  formatRatio(ledger.TotalReceived.Div(u.DealPrice.Decimal)),
			Source: SourceInferredTxn,
			Basis:  "累计实收 / 成交总价",
		}
	}

	row.ContactPhone = stored(DerivedContactPhone)
	row.ContactAddress = stored(DerivedContactAddress)
	if customer != nil {
		if !row.ContactPhone.Known() && customer.Phone != "" {
			row.ContactPhone = DerivedValue{Value: customer.Phone, Source: SourceInferredRelation, Basis: "客户档案电话"}
		}
		if !row.ContactAddress.Known() && customer.Address != "" {
			row.ContactAddress = DerivedValue{Value: customer.Address, Source: SourceInferredRelation, Basis: "客户档案地址"}
		}
	}
	row.ContactPhone.Value = MaskPhone(row.ContactPhone.Value)

	return row, nil
}

func inferFromBindings(v DerivedValue, bindings []UnitCounterparty, role CounterpartyRole) DerivedValue {
	if v.Known() {
		return v
	}
	if name := boundCounterparty(bindings, role); name != "" {
		return DerivedValue{
			Value:  name,
			Source: SourceInferredRelation,
			Basis:  "房源关联单位（" + string(role) + "）",
		}
	}
	return v
}
