package core

import (
	"context"
	"errors"
	"time"
)

// ErrDiffUnavailable marks failures to reach the diff service or to read its
// answer. Differ implementations wrap it.
var ErrDiffUnavailable = errors.New("diff service unavailable")

// DiffRequest is what the diff service needs to compare a spreadsheet with
// the current state of a project.
type DiffRequest struct {
	FilePath              string            `json:"filePath"`
	ExistingRows          []map[string]any  `json:"existingRows"`
	HeaderMappingOverride map[string]string `json:"headerMappingOverride,omitempty"`
}

// DiffResult is the diff service's answer.
type DiffResult struct {
	HeaderMapping map[string]string `json:"headerMapping"`
	Rows          []DiffRow         `json:"rows"`
	Summary       RowSummary        `json:"summary"`
}

// Differ computes row-level diffs. It is called once per import, outside any
// transaction.
type Differ interface {
	Diff(ctx context.Context, req DiffRequest) (DiffResult, error)
}

// DifferFunc adapts a function to Differ.
type DifferFunc func(ctx context.Context, req DiffRequest) (DiffResult, error)

// Diff calls f.
func (f DifferFunc) Diff(ctx context.Context, req DiffRequest) (DiffResult, error) {
	return f(ctx, req)
}

// snapshotRows converts unit snapshots to the row shape the diff service
// expects.
func snapshotRows(snaps []UnitSnapshot, loc *time.Location) []map[string]any {
	rows := make([]map[string]any, 0, len(snaps))
	for _, s := range snaps {
		row := map[string]any{
			FieldProject:          s.ProjectName,
			FieldUnitCode:         s.UnitCode,
			FieldPropertyType:     nullableString(s.PropertyType),
			FieldAreaM2:           nullableDecimal(s.Area),
			FieldDealPrice:        nullableDecimal(s.DealPrice),
			FieldSaleStatus:       nullableString(s.SaleStatusRaw),
			FieldInternalExternal: nullableString(s.InternalExternal),
			FieldCustomerName:     nullableString(s.CustomerName),
			FieldActualReceived:   nullableDecimal(s.LatestAmount),
			FieldPaymentMethod:    nullableString(s.LatestMethod),
			FieldSignDate:         nil,
		}
		if s.LatestOccurredAt != nil {
			row[FieldSignDate] = s.LatestOccurredAt.In(loc).Format(time.DateOnly)
		}
		rows = append(rows, row)
	}
	return rows
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
