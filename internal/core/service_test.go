package core_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/config"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/core"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/logging"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/store/memory"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

// harness wires a Service to the in-memory store and a stub differ that
// returns whatever rows the test queued.
type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *memory.Store
	svc     *core.Service
	org     core.Organization
	project core.Project

	mu      sync.Mutex
	rows    []core.DiffRow
	lastReq core.DiffRequest
	diffErr error
}

func testImportConfig(t *testing.T) config.ImportConfig {
	return config.ImportConfig{
		MaxFileSize:        1 << 20,
		UploadDir:          t.TempDir(),
		MaxConcurrentDiffs: 2,
		DiffWaitTime:       time.Second,
		LedgerTimezone:     "Asia/Shanghai",
		PhoneRegion:        "CN",
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), store: memory.New()}
	h.svc = h.newService(h.store)

	var err error
	h.org, err = h.svc.CreateOrganization(h.ctx, "Acme 集团")
	require.NoError(t, err)
	h.project, err = h.svc.CreateProject(h.ctx, h.org.ID, "Riverside")
	require.NoError(t, err)
	return h
}

func (h *harness) newService(store core.Store) *core.Service {
	h.t.Helper()
	svc, err := core.NewService(store, core.DifferFunc(h.diff), testImportConfig(h.t))
	require.NoError(h.t, err)
	svc.SetClock(func() time.Time { return fixedNow })
	return svc
}

func (h *harness) diff(_ context.Context, req core.DiffRequest) (core.DiffResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastReq = req
	if h.diffErr != nil {
		return core.DiffResult{}, h.diffErr
	}
	return core.DiffResult{
		HeaderMapping: map[string]string{"房号": core.FieldUnitCode},
		Rows:          h.rows,
	}, nil
}

func (h *harness) queue(rows ...core.DiffRow) {
	h.mu.Lock()
	h.rows = rows
	h.mu.Unlock()
}

// importRows creates a diffed import holding rows.
func (h *harness) importRows(rows ...core.DiffRow) string {
	h.t.Helper()
	h.queue(rows...)
	res, err := h.svc.CreateImportAndDiff(h.ctx, core.CreateImportInput{
		ProjectID: h.project.ID,
		FileName:  "units.xlsx",
		File:      strings.NewReader("xlsx-bytes"),
		CreatedBy: "alice",
	})
	require.NoError(h.t, err)
	return res.ImportLogID
}

func (h *harness) commit(importLogID string) core.CommitResult {
	h.t.Helper()
	res, err := h.svc.Commit(h.ctx, importLogID, "alice")
	require.NoError(h.t, err)
	return res
}

// commitRows imports and commits rows in one step.
func (h *harness) commitRows(rows ...core.DiffRow) (string, core.CommitResult) {
	h.t.Helper()
	id := h.importRows(rows...)
	return id, h.commit(id)
}

func (h *harness) unit(code string) (core.Unit, bool) {
	h.t.Helper()
	var units []core.Unit
	require.NoError(h.t, h.store.Read(h.ctx, func(tx core.Tx) error {
		var err error
		units, err = tx.ListUnitsByCodes(h.ctx, h.project.ID, []string{code})
		return err
	}))
	if len(units) == 0 {
		return core.Unit{}, false
	}
	return units[0], true
}

func (h *harness) mustUnit(code string) core.Unit {
	h.t.Helper()
	u, ok := h.unit(code)
	require.True(h.t, ok, "unit %s should exist", code)
	return u
}

func (h *harness) transactions(unitID string) []core.Transaction {
	h.t.Helper()
	var txns []core.Transaction
	require.NoError(h.t, h.store.Read(h.ctx, func(tx core.Tx) error {
		var err error
		txns, err = tx.ListTransactionsByUnit(h.ctx, unitID)
		return err
	}))
	return txns
}

func (h *harness) status(importLogID string) core.ImportStatus {
	h.t.Helper()
	il, err := h.svc.GetImportLog(h.ctx, importLogID)
	require.NoError(h.t, err)
	return il.Status
}

// ============================================================================
// Row builders
// ============================================================================

// newRow builds a NEW row whose field diffs are every field of after.
func newRow(rowNo int, code string, after core.RowData) core.DiffRow {
	data := core.RowData{core.FieldUnitCode: code}
	for k, v := range after {
		data[k] = v
	}
	diffs := make(map[string]core.FieldDiff, len(data))
	for k, v := range data {
		diffs[k] = core.FieldDiff{Before: nil, After: v}
	}
	return core.DiffRow{
		RowNo:       rowNo,
		ActionType:  core.ActionNew,
		BusinessKey: "Riverside|" + code,
		EntityType:  core.EntityUnit,
		AfterData:   data,
		FieldDiffs:  diffs,
	}
}

// changedRow builds a CHANGED row. after is the full target snapshot and
// diffs names the fields the diff service flagged.
func changedRow(rowNo int, code string, after core.RowData, diffs map[string]core.FieldDiff) core.DiffRow {
	data := core.RowData{core.FieldUnitCode: code}
	for k, v := range after {
		data[k] = v
	}
	for k, d := range diffs {
		if _, ok := data[k]; !ok {
			data[k] = d.After
		}
	}
	return core.DiffRow{
		RowNo:       rowNo,
		ActionType:  core.ActionChanged,
		BusinessKey: "Riverside|" + code,
		EntityType:  core.EntityUnit,
		BeforeData:  core.RowData{core.FieldUnitCode: code},
		AfterData:   data,
		FieldDiffs:  diffs,
	}
}

// failingStore wraps a store and fails audit inserts, the last write of a
// commit before the status change.
type failingStore struct {
	core.Store
}

var errInjected = errors.New("injected storage failure")

func (s failingStore) WithTx(ctx context.Context, fn func(tx core.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx core.Tx) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct {
	core.Tx
}

func (failingTx) InsertAudits(context.Context, []core.ImportChangeAudit) error {
	return errInjected
}

// ============================================================================
// Construction
// ============================================================================

func TestNewService_LedgerTimezone(t *testing.T) {
	tests := []struct {
		name       string
		zone       string
		wantOffset int
		wantWarn   bool
	}{
		{"configured zone", "Asia/Shanghai", 8 * 3600, false},
		{"utc", "UTC", 0, false},
		{"unset uses utc+8", "", 8 * 3600, false},
		{"unknown zone falls back with warning", "Mars/Olympus", 8 * 3600, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			prev := slog.Default()
			slog.SetDefault(logging.New(&logs, "info", "json"))
			t.Cleanup(func() { slog.SetDefault(prev) })

			cfg := testImportConfig(t)
			cfg.LedgerTimezone = tt.zone
			svc, err := core.NewService(memory.New(), core.DifferFunc(func(context.Context, core.DiffRequest) (core.DiffResult, error) {
				return core.DiffResult{}, nil
			}), cfg)
			require.NoError(t, err)

			_, offset := time.Date(2024, 1, 15, 12, 0, 0, 0, svc.LedgerLocation()).Zone()
			assert.Equal(t, tt.wantOffset, offset)

			if tt.wantWarn {
				assert.Contains(t, logs.String(), "ledger timezone unavailable")
				assert.Contains(t, logs.String(), tt.zone)
			} else {
				assert.NotContains(t, logs.String(), "ledger timezone unavailable")
			}
		})
	}
}
