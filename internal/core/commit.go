package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/logging"
)

// RowResult is what commit did with one row.
type RowResult string

const (
	RowApplied RowResult = "applied"
	RowSkipped RowResult = "skipped"
	RowIgnored RowResult = "ignored"
)

// RowOutcome is the per-row record accumulated during commit.
type RowOutcome struct {
	RowNo      int        `json:"rowNo"`
	ActionType ActionType `json:"actionType"`
	UnitCode   string     `json:"unitCode,omitempty"`
	Result     RowResult  `json:"result"`
	Error      string     `json:"error,omitempty"`
}

// CommitResult reports what a commit applied. IgnoredRows counts UNCHANGED
// and ERROR rows, which are neither committed nor skipped.
type CommitResult struct {
	ImportLogID        string       `json:"importLogId"`
	Status             ImportStatus `json:"status"`
	CommittedRows      int          `json:"committedRows"`
	PreciseUpdatedRows int          `json:"preciseUpdatedRows"`
	AuditedFields      int          `json:"auditedFields"`
	SkippedRows        int          `json:"skippedRows"`
	IgnoredRows        int          `json:"ignoredRows"`
	Rows               []RowOutcome `json:"rows,omitempty"`
}

// Commit applies a diffed import to units, customers, counterparties and the
// ledger in one transaction, then marks it confirmed.
//
// Rows that cannot be applied are recorded as failed audits and counted as
// skipped; they do not fail the commit. Any storage error aborts the whole
// transaction and nothing is written.
func (s *Service) Commit(ctx context.Context, importLogID, actorID string) (CommitResult, error) {
	log := logging.ForImport(ctx, importLogID)
	actorID = firstNonEmpty(actorID, ActorIDFromContext(ctx))

	var result CommitResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		il, err := tx.LockImportLog(ctx, importLogID)
		if err != nil {
			return err
		}
		if err := requireStatus(il, "commit", StatusDiffed); err != nil {
			return err
		}
		project, err := tx.GetProject(ctx, il.ProjectID)
		if err != nil {
			return fmt.Errorf("load project: %w", err)
		}
		rows, err := tx.ListImportLogRows(ctx, importLogID)
		if err != nil {
			return fmt.Errorf("load rows: %w", err)
		}

		log.Info("commit started", "rows", len(rows), "project_id", il.ProjectID)

		c := &committer{
			svc:       s,
			tx:        tx,
			il:        il,
			project:   project,
			actorID:   actorID,
			sessionID: SessionIDFromContext(ctx),
			now:       s.now(),
			log:       log,
		}
		for _, row := range rows {
			if err := c.apply(ctx, row); err != nil {
				return fmt.Errorf("row %d: %w", row.RowNo, err)
			}
		}

		if len(c.audits) > 0 {
			if err := tx.InsertAudits(ctx, c.audits); err != nil {
				return fmt.Errorf("insert audits: %w", err)
			}
		}

		summary := map[string]any{
			"committed_rows":       c.res.CommittedRows,
			"precise_updated_rows": c.res.PreciseUpdatedRows,
			"audited_fields":       c.res.AuditedFields,
			"skipped_rows":         c.res.SkippedRows,
			"committed_at":         c.now.UTC().Format(time.RFC3339),
		}
		if err := tx.AdvanceImportLog(ctx, importLogID, StatusDiffed, StatusConfirmed, summary, c.now); err != nil {
			return fmt.Errorf("confirm import: %w", err)
		}

		result = c.res
		result.ImportLogID = importLogID
		result.Status = StatusConfirmed
		return nil
	})
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit import %s: %w", importLogID, err)
	}

	log.Info("commit completed",
		"committed_rows", result.CommittedRows,
		"precise_updated_rows", result.PreciseUpdatedRows,
		"audited_fields", result.AuditedFields,
		"skipped_rows", result.SkippedRows,
		"ignored_rows", result.IgnoredRows,
	)
	return result, nil
}

// committer carries the state of one commit transaction.
type committer struct {
	svc       *Service
	tx        Tx
	il        ImportLog
	project   Project
	actorID   string
	sessionID string
	now       time.Time
	log       *slog.Logger

	audits []ImportChangeAudit
	res    CommitResult
}

func (c *committer) apply(ctx context.Context, row ImportLogRow) error {
	switch row.ActionType {
	case ActionUnchanged, ActionError:
		c.res.IgnoredRows++
		c.res.Rows = append(c.res.Rows, RowOutcome{RowNo: row.RowNo, ActionType: row.ActionType, Result: RowIgnored})
		return nil
	}

	c.res.AuditedFields += len(row.FieldDiffs)

	if row.ActionType != ActionNew && row.ActionType != ActionChanged {
		c.skip(row, "", fmt.Sprintf("unsupported action type %q", row.ActionType))
		return nil
	}

	after := row.AfterData
	unitCode := after.String(FieldUnitCode)
	if unitCode == "" {
		c.skip(row, "", errMissingUnitCode)
		return nil
	}

	customer, err := c.resolveCustomer(ctx, after)
	if err != nil {
		return err
	}

	var (
		unit    Unit
		updated bool
	)
	if row.ActionType == ActionNew {
		unit, err = c.upsertUnit(ctx, unitCode, after, customer)
		if err != nil {
			return err
		}
	} else {
		unit, err = c.tx.LockUnitByCode(ctx, c.project.ID, unitCode)
		if errors.Is(err, ErrNotFound) {
			c.skip(row, unitCode, errChangedUnitAbsent)
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock unit %s: %w", unitCode, err)
		}
		updated = applyChangedColumns(&unit, row.FieldDiffs, after, customer)
	}

	if err := c.bindCounterparties(ctx, unit.ID, after); err != nil {
		return err
	}
	bindings, err := c.tx.ListUnitCounterparties(ctx, unit.ID)
	if err != nil {
		return fmt.Errorf("list counterparties: %w", err)
	}

	incoming := deriveAttributes(deriveContext{
		after:            after,
		organizationName: c.project.OrganizationName,
		internalExternal: unit.InternalExternal,
		dealPrice:        unit.DealPrice,
		bindings:         bindings,
		customer:         customer,
	})
	incoming.LastImportLogID = c.il.ID
	incoming.LastUpdateSource = UpdateSourceExcelImport
	incoming.LastUpdateFileName = c.il.SourceFileName
	incoming.LastUpdateSessionID = c.sessionID

	unit.Attrs = unit.Attrs.Merge(incoming)
	unit.UpdatedAt = c.now
	if err := c.tx.UpdateUnit(ctx, &unit); err != nil {
		return fmt.Errorf("update unit %s: %w", unitCode, err)
	}

	if err := c.writeLedger(ctx, row, unit.ID); err != nil {
		return err
	}

	c.audits = append(c.audits, c.svc.rowAudits(c.il.ID, row, true, "")...)
	c.res.CommittedRows++
	if updated {
		c.res.PreciseUpdatedRows++
	}
	c.res.Rows = append(c.res.Rows, RowOutcome{
		RowNo:      row.RowNo,
		ActionType: row.ActionType,
		UnitCode:   unitCode,
		Result:     RowApplied,
	})
	return nil
}

func (c *committer) skip(row ImportLogRow, unitCode, reason string) {
	c.res.SkippedRows++
	c.audits = append(c.audits, c.svc.rowAudits(c.il.ID, row, false, reason)...)
	c.res.Rows = append(c.res.Rows, RowOutcome{
		RowNo:      row.RowNo,
		ActionType: row.ActionType,
		UnitCode:   unitCode,
		Result:     RowSkipped,
		Error:      reason,
	})
	c.log.Warn("row skipped", "row_no", row.RowNo, "unit_code", unitCode, "reason", reason)
}

// resolveCustomer finds the oldest customer with the row's exact name or
// creates one. Existing customers are never modified.
func (c *committer) resolveCustomer(ctx context.Context, after RowData) (*Customer, error) {
	name := after.String(FieldCustomerName)
	if name == "" {
		return nil, nil
	}
	existing, err := c.tx.FindCustomerByName(ctx, name)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find customer: %w", err)
	}

	cust := &Customer{
		ID:           c.svc.newID(),
		Name:         name,
		Phone:        NormalizePhone(after.String(FieldPhone), c.svc.phoneRegion),
		Address:      after.String(FieldAddress),
		IDCardMasked: MaskIDCard(after.String(FieldIDCard)),
		CreatedAt:    c.now,
	}
	if err := c.tx.InsertCustomer(ctx, cust); err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}
	return cust, nil
}

// upsertUnit handles NEW rows. A unit that already exists, including one
// inserted concurrently by another import, is updated in place.
func (c *committer) upsertUnit(ctx context.Context, unitCode string, after RowData, customer *Customer) (Unit, error) {
	unit, err := c.tx.LockUnitByCode(ctx, c.project.ID, unitCode)
	if err == nil {
		applyNewColumns(&unit, after, customer)
		return unit, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Unit{}, fmt.Errorf("lock unit %s: %w", unitCode, err)
	}

	unit = Unit{
		ID:        c.svc.newID(),
		ProjectID: c.project.ID,
		UnitCode:  unitCode,
		Attrs:     Attributes{CreatedImportLogID: c.il.ID, LastImportLogID: c.il.ID},
		CreatedAt: c.now,
		UpdatedAt: c.now,
	}
	applyNewColumns(&unit, after, customer)

	inserted, err := c.tx.InsertUnit(ctx, &unit)
	if err != nil {
		return Unit{}, fmt.Errorf("insert unit %s: %w", unitCode, err)
	}
	if inserted {
		return unit, nil
	}

	unit, err = c.tx.LockUnitByCode(ctx, c.project.ID, unitCode)
	if err != nil {
		return Unit{}, fmt.Errorf("lock unit %s: %w", unitCode, err)
	}
	applyNewColumns(&unit, after, customer)
	return unit, nil
}

const defaultPropertyType = "住宅"

// applyNewColumns overwrites status, raw sale status and property type, and
// fills the optional columns only where the unit has no value yet.
func applyNewColumns(u *Unit, after RowData, customer *Customer) {
	u.PropertyType = firstNonEmpty(after.String(FieldPropertyType), defaultPropertyType)
	raw := after.String(FieldSaleStatus)
	u.SaleStatusRaw = raw
	u.Status = ClassifySaleStatus(raw)

	if !u.Area.Valid {
		u.Area = after.NullDecimal(FieldAreaM2)
	}
	if !u.DealPrice.Valid {
		u.DealPrice = after.NullDecimal(FieldDealPrice)
	}
	if u.InternalExternal == "" {
		u.InternalExternal = after.String(FieldInternalExternal)
	}
	if u.CurrentCustomerID == "" && customer != nil {
		u.CurrentCustomerID = customer.ID
	}
}

// customerFields are the diff keys that re-point a unit at its row customer.
var customerFields = []string{FieldCustomerName, FieldPhone, FieldAddress, FieldIDCard}

// attributeFields feed the derived attribute bag rather than a column.
var attributeFields = map[string]bool{
	FieldConstructionUnit:      true,
	FieldGeneralContractorUnit: true,
	FieldSubcontractorUnit:     true,
	FieldSubscribeDate:         true,
	FieldSignDate:              true,
	FieldRenameStatusRaw:       true,
	FieldReceiptRatioInput:     true,
}

// applyChangedColumns updates only the columns named by diffs and reports
// whether anything on the unit was written.
func applyChangedColumns(u *Unit, diffs map[string]FieldDiff, after RowData, customer *Customer) bool {
	updated := false
	if _, ok := diffs[FieldPropertyType]; ok {
		u.PropertyType = firstNonEmpty(after.String(FieldPropertyType), defaultPropertyType)
		updated = true
	}
	if _, ok := diffs[FieldAreaM2]; ok {
		u.Area = after.NullDecimal(FieldAreaM2)
		updated = true
	}
	if _, ok := diffs[FieldDealPrice]; ok {
		u.DealPrice = after.NullDecimal(FieldDealPrice)
		updated = true
	}
	if _, ok := diffs[FieldInternalExternal]; ok {
		u.InternalExternal = after.String(FieldInternalExternal)
		updated = true
	}
	if _, ok := diffs[FieldSaleStatus]; ok {
		raw := after.String(FieldSaleStatus)
		u.SaleStatusRaw = raw
		u.Status = ClassifySaleStatus(raw)
		updated = true
	}
	if customer != nil {
		for _, f := range customerFields {
			if _, ok := diffs[f]; ok {
				u.CurrentCustomerID = customer.ID
				updated = true
				break
			}
		}
	}
	for f := range diffs {
		if attributeFields[f] {
			updated = true
			break
		}
	}
	return updated
}

func (c *committer) bindCounterparties(ctx context.Context, unitID string, after RowData) error {
	for _, b := range []struct {
		field string
		role  CounterpartyRole
	}{
		{FieldGeneralContractorUnit, RoleGeneralContractor},
		{FieldSubcontractorUnit, RoleSubcontractor},
	} {
		name := after.String(b.field)
		if name == "" {
			continue
		}
		cp, err := c.tx.UpsertCounterparty(ctx, name)
		if err != nil {
			return fmt.Errorf("upsert counterparty %q: %w", name, err)
		}
		if err := c.tx.BindCounterparty(ctx, unitID, cp.ID, b.role); err != nil {
			return fmt.Errorf("bind counterparty %q: %w", name, err)
		}
	}
	return nil
}

// writeLedger appends the transaction a row implies: the received amount of
// a NEW row, or the received-amount delta of a CHANGED row.
func (c *committer) writeLedger(ctx context.Context, row ImportLogRow, unitID string) error {
	after := row.AfterData
	txn := Transaction{
		ID:                c.svc.newID(),
		UnitID:            unitID,
		OccurredAt:        occurredAt(after, c.svc.loc, c.now),
		PaymentMethod:     after.String(FieldPaymentMethod),
		SourceImportLogID: c.il.ID,
		CreatedBy:         c.actorID,
		CreatedAt:         c.now,
	}

	switch row.ActionType {
	case ActionNew:
		received, ok := after.Decimal(FieldActualReceived)
		if !ok || !received.IsPositive() {
			return nil
		}
		txn.TxnType = TxnAdjustment
		txn.Amount = received
		txn.Note = newRowNote(row.RowNo)
	case ActionChanged:
		fd, ok := row.FieldDiffs[FieldActualReceived]
		if !ok {
			return nil
		}
		delta := receivedDelta(fd)
		t, amount, ok := deltaTransaction(delta)
		if !ok {
			return nil
		}
		txn.TxnType = t
		txn.Amount = amount
		txn.Note = deltaNote(t, row.RowNo, delta)
	default:
		return nil
	}

	if err := c.tx.InsertTransaction(ctx, &txn); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}
