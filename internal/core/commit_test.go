package core_test

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/core"
)

// ============================================================================
// End to end
// ============================================================================

func TestCommitAndRollback_NewUnitWithReceipt(t *testing.T) {
	h := newHarness(t)

	id := h.importRows(newRow(2, "A1-1002", core.RowData{
		core.FieldCustomerName:   "张三",
		core.FieldPhone:          "13812345678",
		core.FieldSaleStatus:     "已签约",
		core.FieldSignDate:       "2024-03-15",
		core.FieldDealPrice:      1000000,
		core.FieldActualReceived: 200000,
		core.FieldPaymentMethod:  "按揭",
	}))

	res := h.commit(id)
	assert.Equal(t, core.StatusConfirmed, res.Status)
	assert.Equal(t, 1, res.CommittedRows)
	assert.Equal(t, 0, res.SkippedRows)
	assert.Equal(t, 8, res.AuditedFields)
	assert.Equal(t, core.StatusConfirmed, h.status(id))

	unit := h.mustUnit("A1-1002")
	assert.Equal(t, core.UnitSigned, unit.Status)
	assert.Equal(t, "住宅", unit.PropertyType)
	assert.Equal(t, id, unit.Attrs.CreatedImportLogID)
	assert.Equal(t, id, unit.Attrs.LastImportLogID)
	assert.Equal(t, core.UpdateSourceExcelImport, unit.Attrs.LastUpdateSource)
	assert.Equal(t, "units.xlsx", unit.Attrs.LastUpdateFileName)
	assert.NotEmpty(t, unit.CurrentCustomerID)

	txns := h.transactions(unit.ID)
	require.Len(t, txns, 1)
	txn := txns[0]
	assert.Equal(t, core.TxnAdjustment, txn.TxnType)
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(200000)))
	assert.Equal(t, id, txn.SourceImportLogID)
	assert.Equal(t, "Import commit row 2", txn.Note)
	assert.Equal(t, "按揭", txn.PaymentMethod)
	assert.Equal(t, "alice", txn.CreatedBy)
	assert.True(t, txn.OccurredAt.Equal(time.Date(2024, 3, 14, 16, 0, 0, 0, time.UTC)), "sign date at Shanghai midnight, got %s", txn.OccurredAt)

	audits, err := h.svc.GetAudits(h.ctx, id)
	require.NoError(t, err)
	require.Len(t, audits, 8)
	fields := make([]string, len(audits))
	for i, a := range audits {
		fields[i] = a.FieldName
		assert.True(t, a.Applied)
		assert.Equal(t, "Riverside|A1-1002", a.BusinessKey)
		assert.Equal(t, core.EntityUnit, a.EntityType)
	}
	assert.True(t, sort.StringsAreSorted(fields))

	rb, err := h.svc.Rollback(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRolledBack, rb.Status)
	assert.EqualValues(t, 1, rb.RollbackDeletedTransactions)
	assert.Equal(t, 1, rb.RollbackDeletedUnits)
	assert.Empty(t, rb.KeptUnits)

	_, ok := h.unit("A1-1002")
	assert.False(t, ok)

	il, err := h.svc.GetImportLog(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRolledBack, il.Status)
	assert.NotNil(t, il.ConfirmedAt)
	assert.NotNil(t, il.RolledBackAt)
	assert.EqualValues(t, 1, il.Summary["committed_rows"])
	assert.EqualValues(t, 1, il.Summary["rollback_deleted_units"])
	assert.EqualValues(t, 1, il.Summary["newRows"])

	_, err = h.svc.Rollback(h.ctx, id)
	assert.ErrorIs(t, err, core.ErrStateConflict)
}

// ============================================================================
// Status machine
// ============================================================================

func TestCommit_StatusMachine(t *testing.T) {
	h := newHarness(t)
	id := h.importRows(newRow(2, "A1-1001", nil))

	_, err := h.svc.Rollback(h.ctx, id)
	require.ErrorIs(t, err, core.ErrStateConflict)
	var conflict *core.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, core.StatusConfirmed, conflict.Required)
	assert.Equal(t, core.StatusDiffed, conflict.Current)
	assert.Contains(t, err.Error(), `requires status "confirmed"`)

	h.commit(id)

	_, err = h.svc.Commit(h.ctx, id, "bob")
	require.ErrorIs(t, err, core.ErrStateConflict)
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, core.StatusDiffed, conflict.Required)

	_, err = h.svc.Rollback(h.ctx, id)
	require.NoError(t, err)

	_, err = h.svc.Commit(h.ctx, id, "bob")
	assert.ErrorIs(t, err, core.ErrStateConflict)
	_, err = h.svc.Rollback(h.ctx, id)
	assert.ErrorIs(t, err, core.ErrStateConflict)

	_, err = h.svc.Commit(h.ctx, "missing", "bob")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCommit_ConcurrentCallsApplyOnce(t *testing.T) {
	h := newHarness(t)
	id := h.importRows(newRow(2, "A1-1001", core.RowData{core.FieldActualReceived: 1000}))

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Commit(h.ctx, id, "alice")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, core.ErrStateConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)
	assert.Len(t, h.transactions(h.mustUnit("A1-1001").ID), 1)
}

// ============================================================================
// Row handling
// ============================================================================

func TestCommit_UnchangedAndErrorRowsHaveNoEffect(t *testing.T) {
	h := newHarness(t)
	id, res := h.commitRows(
		core.DiffRow{
			RowNo: 2, ActionType: core.ActionUnchanged, BusinessKey: "Riverside|A1-1001",
			AfterData: core.RowData{
				core.FieldUnitCode: "A1-1001", core.FieldActualReceived: 500, core.FieldCustomerName: "张三",
			},
			FieldDiffs: map[string]core.FieldDiff{core.FieldActualReceived: {Before: 0, After: 500}},
		},
		core.DiffRow{
			RowNo: 3, ActionType: core.ActionError, ErrorMessage: "unit code unreadable",
			AfterData:  core.RowData{core.FieldUnitCode: "A1-1002", core.FieldCustomerName: "李四"},
			FieldDiffs: map[string]core.FieldDiff{core.FieldDealPrice: {After: 1}},
		},
	)

	assert.Equal(t, 0, res.CommittedRows)
	assert.Equal(t, 0, res.SkippedRows)
	assert.Equal(t, 0, res.AuditedFields)
	assert.Equal(t, 2, res.IgnoredRows)
	_, ok := h.unit("A1-1001")
	assert.False(t, ok)
	_, ok = h.unit("A1-1002")
	assert.False(t, ok)

	audits, err := h.svc.GetAudits(h.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, audits)

	for _, name := range []string{"张三", "李四"} {
		err := h.store.Read(h.ctx, func(tx core.Tx) error {
			_, err := tx.FindCustomerByName(h.ctx, name)
			return err
		})
		assert.ErrorIs(t, err, core.ErrNotFound, "customer %s", name)
	}
}

func TestCommit_MissingUnitCode(t *testing.T) {
	h := newHarness(t)
	id, res := h.commitRows(
		core.DiffRow{RowNo: 2, ActionType: core.ActionNew, AfterData: core.RowData{}},
		core.DiffRow{
			RowNo: 3, ActionType: core.ActionNew,
			AfterData: core.RowData{core.FieldDealPrice: 100, core.FieldAreaM2: 90},
			FieldDiffs: map[string]core.FieldDiff{
				core.FieldDealPrice: {After: 100},
				core.FieldAreaM2:    {After: 90},
			},
		},
	)

	assert.Equal(t, 2, res.SkippedRows)
	assert.Equal(t, 0, res.CommittedRows)
	assert.Equal(t, 2, res.AuditedFields)
	assert.Equal(t, core.StatusConfirmed, h.status(id))

	audits, err := h.svc.GetAudits(h.ctx, id)
	require.NoError(t, err)
	require.Len(t, audits, 3)

	assert.Equal(t, 2, audits[0].RowNo)
	assert.Equal(t, core.FieldUnitCode, audits[0].FieldName)
	assert.False(t, audits[0].Applied)
	assert.Equal(t, "Missing unit_code", audits[0].ErrorMessage)

	assert.Equal(t, []string{core.FieldAreaM2, core.FieldDealPrice}, []string{audits[1].FieldName, audits[2].FieldName})
	for _, a := range audits[1:] {
		assert.Equal(t, 3, a.RowNo)
		assert.False(t, a.Applied)
		assert.Equal(t, "Missing unit_code", a.ErrorMessage)
	}
}

func TestCommit_ChangedRowForMissingUnitIsSkipped(t *testing.T) {
	h := newHarness(t)
	id, res := h.commitRows(changedRow(2, "Z9-9999", nil, map[string]core.FieldDiff{
		core.FieldDealPrice: {Before: 100, After: 200},
	}))

	assert.Equal(t, 1, res.SkippedRows)
	assert.Equal(t, 1, res.AuditedFields)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, core.RowSkipped, res.Rows[0].Result)

	audits, err := h.svc.GetAudits(h.ctx, id)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.False(t, audits[0].Applied)
	assert.Equal(t, "CHANGED row cannot be applied because unit does not exist", audits[0].ErrorMessage)
	assert.EqualValues(t, 100, audits[0].BeforeValue)
	assert.EqualValues(t, 200, audits[0].AfterValue)

	_, ok := h.unit("Z9-9999")
	assert.False(t, ok)
}

func TestCommit_UnknownActionTypeIsSkipped(t *testing.T) {
	h := newHarness(t)
	_, res := h.commitRows(core.DiffRow{
		RowNo: 2, ActionType: "DELETE",
		AfterData:  core.RowData{core.FieldUnitCode: "A1-1001"},
		FieldDiffs: map[string]core.FieldDiff{core.FieldUnitCode: {Before: "A1-1001"}},
	})
	assert.Equal(t, 1, res.SkippedRows)
	assert.Equal(t, 0, res.CommittedRows)
}

func TestCommit_NewRowForExistingUnitUpdatesInPlace(t *testing.T) {
	h := newHarness(t)
	first, _ := h.commitRows(newRow(2, "A1-1001", core.RowData{
		core.FieldDealPrice:        800000,
		core.FieldInternalExternal: "外部",
		core.FieldSaleStatus:       "已认购",
	}))
	second, res := h.commitRows(newRow(2, "A1-1001", core.RowData{
		core.FieldDealPrice:      900000,
		core.FieldSaleStatus:     "已签约",
		core.FieldPropertyType:   "商铺",
		core.FieldActualReceived: 50000,
	}))
	assert.Equal(t, 1, res.CommittedRows)

	u := h.mustUnit("A1-1001")
	assert.Equal(t, core.UnitSigned, u.Status)
	assert.Equal(t, "商铺", u.PropertyType)
	assert.True(t, u.DealPrice.Decimal.Equal(decimal.NewFromInt(800000)), "existing deal price is kept")
	assert.Equal(t, "外部", u.InternalExternal)
	assert.Equal(t, first, u.Attrs.CreatedImportLogID)
	assert.Equal(t, second, u.Attrs.LastImportLogID)
}

func TestCommit_CustomerDedupeByName(t *testing.T) {
	h := newHarness(t)
	h.commitRows(
		newRow(2, "A1-1001", core.RowData{core.FieldCustomerName: "李四", core.FieldPhone: "13912345678"}),
		newRow(3, "A1-1002", core.RowData{core.FieldCustomerName: "李四", core.FieldPhone: "13700000000"}),
	)

	a, b := h.mustUnit("A1-1001"), h.mustUnit("A1-1002")
	require.NotEmpty(t, a.CurrentCustomerID)
	assert.Equal(t, a.CurrentCustomerID, b.CurrentCustomerID)

	require.NoError(t, h.store.Read(h.ctx, func(tx core.Tx) error {
		c, err := tx.GetCustomer(h.ctx, a.CurrentCustomerID)
		require.NoError(t, err)
		assert.Equal(t, "+8613912345678", c.Phone)
		return nil
	}))
}

func TestCommit_RecordsSessionID(t *testing.T) {
	h := newHarness(t)
	id := h.importRows(newRow(2, "A1-1001", nil))

	_, err := h.svc.Commit(core.ContextWithSessionID(h.ctx, "sess-42"), id, "alice")
	require.NoError(t, err)
	assert.Equal(t, "sess-42", h.mustUnit("A1-1001").Attrs.LastUpdateSessionID)
}

// ============================================================================
// Ledger
// ============================================================================

func TestCommit_ReceivedAmountDelta(t *testing.T) {
	h := newHarness(t)
	h.commitRows(newRow(2, "A1-1001", core.RowData{core.FieldActualReceived: 100}))
	unitID := h.mustUnit("A1-1001").ID

	step := func(before, after any) []core.Transaction {
		t.Helper()
		h.commitRows(changedRow(2, "A1-1001", nil, map[string]core.FieldDiff{
			core.FieldActualReceived: {Before: before, After: after},
		}))
		return h.transactions(unitID)
	}

	txns := step(100, 250)
	require.Len(t, txns, 2)
	adj, ok := findByNote(txns, "Import adjustment row 2, delta=150")
	require.True(t, ok)
	assert.Equal(t, core.TxnAdjustment, adj.TxnType)
	assert.True(t, adj.Amount.Equal(decimal.NewFromInt(150)))

	txns = step(250, 100)
	require.Len(t, txns, 3)
	refund, ok := findByNote(txns, "Import refund row 2, delta=-150")
	require.True(t, ok)
	assert.Equal(t, core.TxnRefund, refund.TxnType)
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(150)), "refund amount is the magnitude")

	txns = step(100, 100)
	assert.Len(t, txns, 3, "equal amounts write nothing")

	h.commitRows(changedRow(2, "A1-1001", core.RowData{core.FieldActualReceived: 999}, map[string]core.FieldDiff{
		core.FieldDealPrice: {Before: 1, After: 2},
	}))
	assert.Len(t, h.transactions(unitID), 3, "received amount outside fieldDiffs writes nothing")
}

func findByNote(txns []core.Transaction, note string) (core.Transaction, bool) {
	for _, t := range txns {
		if t.Note == note {
			return t, true
		}
	}
	return core.Transaction{}, false
}

func TestCommit_NewRowWithoutPositiveReceiptWritesNoTransaction(t *testing.T) {
	h := newHarness(t)
	h.commitRows(
		newRow(2, "A1-1001", core.RowData{core.FieldActualReceived: 0}),
		newRow(3, "A1-1002", core.RowData{core.FieldActualReceived: "(100)"}),
		newRow(4, "A1-1003", nil),
	)
	for _, code := range []string{"A1-1001", "A1-1002", "A1-1003"} {
		assert.Empty(t, h.transactions(h.mustUnit(code).ID), code)
	}
}

// ============================================================================
// Write surface
// ============================================================================

type columnSpec struct {
	field  string
	values []any
	read   func(core.Unit) string
}

var columnSpecs = []columnSpec{
	{core.FieldPropertyType, []any{"住宅", "商铺", "车位", "公寓"}, func(u core.Unit) string { return u.PropertyType }},
	{core.FieldAreaM2, []any{88.5, 120, 66.25, 143}, func(u core.Unit) string { return u.Area.Decimal.String() }},
	{core.FieldDealPrice, []any{800000, 1250000.5, 990000, 2000000}, func(u core.Unit) string { return u.DealPrice.Decimal.String() }},
	{core.FieldInternalExternal, []any{"内部", "外部", "内部认购"}, func(u core.Unit) string { return u.InternalExternal }},
	{core.FieldSaleStatus, []any{"已认购", "已签约", "工抵完成", "待售"}, func(u core.Unit) string { return u.SaleStatusRaw + "/" + string(u.Status) }},
}

func TestCommit_ChangedRowsWriteOnlyDiffedColumns(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(20240601))

	h.commitRows(newRow(2, "A1-1001", core.RowData{
		core.FieldPropertyType:     "住宅",
		core.FieldAreaM2:           100,
		core.FieldDealPrice:        1000000,
		core.FieldInternalExternal: "外部",
		core.FieldSaleStatus:       "已认购",
	}))

	for iter := 0; iter < 40; iter++ {
		before := h.mustUnit("A1-1001")

		after := core.RowData{}
		diffs := map[string]core.FieldDiff{}
		chosen := map[string]bool{}
		for _, spec := range columnSpecs {
			v := spec.values[rng.Intn(len(spec.values))]
			// every column carries a value in the target snapshot; only the
			// flagged ones may be written
			after[spec.field] = v
			if rng.Intn(2) == 0 {
				chosen[spec.field] = true
				diffs[spec.field] = core.FieldDiff{Before: "prev", After: v}
			}
		}

		_, res := h.commitRows(changedRow(2, "A1-1001", after, diffs))
		require.Equal(t, 1, res.CommittedRows, "iteration %d", iter)
		if len(diffs) == 0 {
			assert.Equal(t, 0, res.PreciseUpdatedRows)
		} else {
			assert.Equal(t, 1, res.PreciseUpdatedRows)
		}

		got := h.mustUnit("A1-1001")
		for _, spec := range columnSpecs {
			if chosen[spec.field] {
				want := expectedColumn(spec, after[spec.field])
				assert.Equal(t, want, spec.read(got), "iteration %d: %s should be written", iter, spec.field)
			} else {
				assert.Equal(t, spec.read(before), spec.read(got), "iteration %d: %s must be untouched", iter, spec.field)
			}
		}
	}
}

func expectedColumn(spec columnSpec, v any) string {
	switch spec.field {
	case core.FieldAreaM2, core.FieldDealPrice:
		switch x := v.(type) {
		case int:
			return decimal.NewFromInt(int64(x)).String()
		case float64:
			return decimal.NewFromFloat(x).String()
		}
	case core.FieldSaleStatus:
		raw := v.(string)
		return raw + "/" + string(core.ClassifySaleStatus(raw))
	}
	return fmt.Sprint(v)
}

// ============================================================================
// Derived attributes
// ============================================================================

func TestCommit_DerivedAttributesAndCounterparties(t *testing.T) {
	h := newHarness(t)
	h.commitRows(newRow(2, "A1-1001", core.RowData{
		core.FieldInternalExternal:      "内部",
		core.FieldGeneralContractorUnit: "中建三局",
		core.FieldSubscribeDate:         "2024-01-10",
		core.FieldRenameStatusRaw:       "已更名",
		core.FieldDealPrice:             1000000,
		core.FieldActualReceived:        300000,
	}))

	u := h.mustUnit("A1-1001")
	get := func(key string) core.DerivedValue {
		v, ok := u.Attrs.Get(key)
		require.True(t, ok, key)
		return v
	}
	assert.Equal(t, core.DerivedValue{Value: "Acme 集团", Source: core.SourceInferredInternal, Basis: "内部房源，取本组织名称"}, get(core.DerivedConstructionUnit))
	assert.Equal(t, core.SourceImported, get(core.DerivedGeneralContractorUnit).Source)
	assert.Equal(t, core.SourceInferredInternal, get(core.DerivedSubcontractorUnit).Source)
	assert.Equal(t, "2024-01-10", get(core.DerivedSubscribeDate).Value)
	assert.Equal(t, core.SourceMissing, get(core.DerivedSignDate).Source)
	assert.Equal(t, core.DerivedValue{Value: "0.3", Source: core.SourceInferredTxn, Basis: "实收金额 / 成交总价"}, get(core.DerivedReceiptRatio))
	require.NotNil(t, u.Attrs.RenameFlag)
	assert.True(t, *u.Attrs.RenameFlag)

	// a later row without the contractor column keeps the imported value
	// and the binding made by the first import
	h.commitRows(changedRow(2, "A1-1001", nil, map[string]core.FieldDiff{
		core.FieldSaleStatus: {Before: "", After: "已签约"},
	}))
	u = h.mustUnit("A1-1001")
	gc, _ := u.Attrs.Get(core.DerivedGeneralContractorUnit)
	assert.Equal(t, core.DerivedValue{Value: "中建三局", Source: core.SourceImported, Basis: "导入列 general_contractor_unit"}, gc)

	require.NoError(t, h.store.Read(h.ctx, func(tx core.Tx) error {
		bindings, err := tx.ListUnitCounterparties(h.ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, bindings, 1)
		assert.Equal(t, core.RoleGeneralContractor, bindings[0].Role)
		return nil
	}))
}

// ============================================================================
// Atomicity
// ============================================================================

func TestCommit_StorageFailureLeavesNoPartialEffect(t *testing.T) {
	h := newHarness(t)
	id := h.importRows(newRow(2, "A1-1001", core.RowData{core.FieldActualReceived: 100}))

	broken := h.newService(failingStore{h.store})
	_, err := broken.Commit(h.ctx, id, "alice")
	require.ErrorIs(t, err, errInjected)

	assert.Equal(t, core.StatusDiffed, h.status(id))
	_, ok := h.unit("A1-1001")
	assert.False(t, ok)

	// the same import still commits cleanly afterwards
	res := h.commit(id)
	assert.Equal(t, 1, res.CommittedRows)
}
